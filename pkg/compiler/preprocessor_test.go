package compiler

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func tokenTypes(tokens []Token) []TokenType {
	out := make([]TokenType, len(tokens))
	for i, tk := range tokens {
		out[i] = tk.Type
	}
	return out
}

func TestPreprocessorSplicesInclude(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "lib.coh", "const A := 1;\n")
	main := writeFile(t, dir, "main.cow", "include \"lib.coh\";\nvar x: uint8;\n")

	tokens, err := NewPreprocessor(nil).Tokenize(main)
	if err != nil {
		t.Fatal(err)
	}
	want := []TokenType{CONST, IDENTIFIER, ASSIGN, NUMBER, SEMICOLON, VAR, IDENTIFIER, COLON, IDENTIFIER, SEMICOLON, EOF}
	got := tokenTypes(tokens)
	if len(got) != len(want) {
		t.Fatalf("token stream = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("token %d = %s, want %s", i, got[i], want[i])
		}
	}
	// The included tokens keep their true origin.
	if filepath.Base(tokens[0].Pos.File) != "lib.coh" {
		t.Errorf("included token origin = %q, want lib.coh", tokens[0].Pos.File)
	}
	if filepath.Base(tokens[5].Pos.File) != "main.cow" {
		t.Errorf("main token origin = %q, want main.cow", tokens[5].Pos.File)
	}
}

func TestPreprocessorSearchOrder(t *testing.T) {
	srcDir := t.TempDir()
	incA := t.TempDir()
	incB := t.TempDir()
	// The same header in both include dirs; the first -I wins when it is
	// not found beside the including file.
	writeFile(t, incA, "h.coh", "const FROM_A := 1;\n")
	writeFile(t, incB, "h.coh", "const FROM_B := 1;\n")
	main := writeFile(t, srcDir, "main.cow", "include \"h.coh\";\n")

	tokens, err := NewPreprocessor([]string{incA, incB}).Tokenize(main)
	if err != nil {
		t.Fatal(err)
	}
	if tokens[1].Lexeme != "FROM_A" {
		t.Errorf("resolved %q, want FROM_A", tokens[1].Lexeme)
	}

	// The including file's own directory is searched first.
	writeFile(t, srcDir, "h.coh", "const LOCAL := 1;\n")
	tokens, err = NewPreprocessor([]string{incA, incB}).Tokenize(main)
	if err != nil {
		t.Fatal(err)
	}
	if tokens[1].Lexeme != "LOCAL" {
		t.Errorf("resolved %q, want LOCAL", tokens[1].Lexeme)
	}
}

func TestPreprocessorRepeatedIncludeIsUnconditional(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "h.coh", "var v: uint8;\n")
	main := writeFile(t, dir, "main.cow", "include \"h.coh\";\ninclude \"h.coh\";\n")

	tokens, err := NewPreprocessor(nil).Tokenize(main)
	if err != nil {
		t.Fatal(err)
	}
	count := 0
	for _, tk := range tokens {
		if tk.Type == VAR {
			count++
		}
	}
	if count != 2 {
		t.Errorf("included file spliced %d times, want 2", count)
	}
}

func TestPreprocessorNestedIncludes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "inner.coh", "const I := 1;\n")
	writeFile(t, dir, "outer.coh", "include \"inner.coh\";\nconst O := 2;\n")
	main := writeFile(t, dir, "main.cow", "include \"outer.coh\";\nconst M := 3;\n")

	tokens, err := NewPreprocessor(nil).Tokenize(main)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, tk := range tokens {
		if tk.Type == IDENTIFIER {
			names = append(names, tk.Lexeme)
		}
	}
	want := []string{"I", "O", "M"}
	if len(names) != len(want) {
		t.Fatalf("constants = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("constants = %v, want %v", names, want)
		}
	}
}

func TestPreprocessorMissingIncludeIsFatal(t *testing.T) {
	dir := t.TempDir()
	main := writeFile(t, dir, "main.cow", "include \"nope.coh\";\n")
	_, err := NewPreprocessor(nil).Tokenize(main)
	if err == nil {
		t.Fatal("expected an error for a missing include")
	}
	d, ok := err.(*Diag)
	if !ok || d.Kind != KindResolve {
		t.Errorf("error = %v, want a resolve diagnostic", err)
	}
}

func TestPreprocessorCircularIncludeIsFatal(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.coh", "include \"b.coh\";\n")
	writeFile(t, dir, "b.coh", "include \"a.coh\";\n")
	main := writeFile(t, dir, "main.cow", "include \"a.coh\";\n")
	if _, err := NewPreprocessor(nil).Tokenize(main); err == nil {
		t.Fatal("expected an error for a circular include")
	}
}
