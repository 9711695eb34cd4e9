package compiler

import (
	"fmt"
	"os"
	"path/filepath"
)

// Preprocessor resolves include directives against a search path and
// produces one linear token stream, as if every included file had been
// textually pasted at its directive. Each token keeps the position of the
// file it was really lexed from.
type Preprocessor struct {
	includeDirs []string
	// active include chain by absolute path; an include that is already on
	// the chain can never terminate, so it is rejected.
	chain []string
}

// NewPreprocessor returns a preprocessor searching dirs, in order, after
// the including file's own directory.
func NewPreprocessor(dirs []string) *Preprocessor {
	return &Preprocessor{includeDirs: dirs}
}

// Tokenize reads and tokenizes the file at path, splicing every
// `include "name";` directive in place. Files are opened one at a time and
// closed before the next opens; a file included twice is spliced twice.
func (pp *Preprocessor) Tokenize(path string) ([]Token, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, diagAt(KindResolve, Pos{File: path}, "cannot resolve path: %v", err)
	}
	for _, active := range pp.chain {
		if active == abs {
			return nil, diagAt(KindResolve, Pos{File: path}, "circular include of %q", path)
		}
	}

	src, err := os.ReadFile(path)
	if err != nil {
		return nil, diagAt(KindResolve, Pos{File: path}, "cannot read file: %v", err)
	}

	tokens, err := Lex(string(src), path)
	if err != nil {
		return nil, err
	}

	pp.chain = append(pp.chain, abs)
	defer func() { pp.chain = pp.chain[:len(pp.chain)-1] }()

	var out []Token
	i := 0
	for i < len(tokens) {
		tok := tokens[i]
		if tok.Type != INCLUDE {
			if tok.Type == EOF {
				// Drop the inner EOF; the outermost caller re-adds one.
				i++
				continue
			}
			out = append(out, tok)
			i++
			continue
		}

		// include "name" ;
		if i+1 >= len(tokens) || tokens[i+1].Type != STRING {
			return nil, diagAt(KindParse, tok.Pos, "include expects a string literal")
		}
		name := tokens[i+1].Lexeme
		i += 2
		if i < len(tokens) && tokens[i].Type == SEMICOLON {
			i++
		} else {
			return nil, diagAt(KindParse, tok.Pos, "missing ';' after include")
		}

		resolved, err := pp.resolve(name, filepath.Dir(path))
		if err != nil {
			return nil, diagAt(KindResolve, tok.Pos, "%v", err)
		}
		included, err := pp.Tokenize(resolved)
		if err != nil {
			return nil, err
		}
		out = append(out, included...)
	}

	if len(pp.chain) == 1 {
		// Outermost file: terminate the spliced stream.
		var last Pos
		if n := len(tokens); n > 0 {
			last = tokens[n-1].Pos
		}
		out = append(out, Token{Type: EOF, Pos: last})
	}
	return out, nil
}

// resolve searches for name relative to the including file's directory,
// then each include directory in order. The first match wins.
func (pp *Preprocessor) resolve(name, fromDir string) (string, error) {
	dirs := append([]string{fromDir}, pp.includeDirs...)
	for _, dir := range dirs {
		candidate := filepath.Join(dir, name)
		if st, err := os.Stat(candidate); err == nil && !st.IsDir() {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("cannot find include %q (searched %d directories)", name, len(dirs))
}
