package compiler

import (
	"io"

	"ucow/pkg/asm"
)

// Options is the invocation surface of the core: include search path, the
// optimization toggle, and the optimizer's change-log writer.
type Options struct {
	IncludeDirs []string
	Optimize    bool
	OptDebug    io.Writer // optimizer change log; nil disables it
}

// Compile runs the whole pipeline over the file at path and returns the
// peepholed assembly text. On failure the returned Diagnostics carry every
// collected diagnostic; the first error in a pass aborts the pipeline.
func Compile(path string, opts Options) (string, *Diagnostics) {
	ds := &Diagnostics{}
	tokens, err := NewPreprocessor(opts.IncludeDirs).Tokenize(path)
	if err != nil {
		ds.Add(err)
		return "", ds
	}
	return compileTokens(tokens, opts, ds)
}

// CompileSource compiles source text directly, without include resolution.
// name is used for positions only.
func CompileSource(src, name string, opts Options) (string, *Diagnostics) {
	ds := &Diagnostics{}
	tokens, err := Lex(src, name)
	if err != nil {
		ds.Add(err)
		return "", ds
	}
	return compileTokens(tokens, opts, ds)
}

func compileTokens(tokens []Token, opts Options, ds *Diagnostics) (string, *Diagnostics) {
	prog, err := Parse(tokens)
	if err != nil {
		ds.Add(err)
		return "", ds
	}

	an := NewAnalyzer()
	if err := an.Analyze(prog); err != nil {
		ds.Add(err)
		return "", ds
	}

	if opts.Optimize {
		NewOptimizer(an, opts.OptDebug).Run(prog)
	}

	text, err := Generate(prog, an)
	if err != nil {
		ds.Add(err)
		return "", ds
	}

	return asm.Peephole(text), ds
}
