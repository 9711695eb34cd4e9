// ucow compiles Cowgol source files to 8080 assembly text for the
// downstream macro assembler.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/davecgh/go-spew/spew"
	"github.com/logrusorgru/aurora"
	"github.com/xyproto/env/v2"

	"ucow/pkg/compiler"
)

// includeList collects repeated -I flags.
type includeList []string

func (l *includeList) String() string { return strings.Join(*l, ":") }

func (l *includeList) Set(value string) error {
	*l = append(*l, value)
	return nil
}

func main() {
	os.Exit(run())
}

func run() int {
	var includes includeList
	output := flag.String("o", "", "output .mac assembly file (default: input with .mac suffix)")
	optimize := flag.Bool("O", true, "run the AST optimizer")
	optDebug := flag.Bool("dopt", false, "log the optimizer's changes to stderr")
	dumpTokens := flag.Bool("tokens", false, "dump tokens and exit")
	dumpAST := flag.Bool("ast", false, "dump the AST and exit")
	flag.Var(&includes, "I", "add an include search path (repeatable)")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: ucow [flags] input.cow")
		flag.PrintDefaults()
		return 2
	}
	input := flag.Arg(0)

	// UCOW_INCLUDE supplies colon-separated default search paths after any
	// explicit -I directories.
	if extra := env.Str("UCOW_INCLUDE"); extra != "" {
		for _, dir := range strings.Split(extra, ":") {
			if dir != "" {
				includes = append(includes, dir)
			}
		}
	}

	if *dumpTokens {
		tokens, err := compiler.NewPreprocessor(includes).Tokenize(input)
		if err != nil {
			fmt.Fprintln(os.Stderr, aurora.Red(err.Error()))
			return 1
		}
		for _, tok := range tokens {
			fmt.Println(tok)
		}
		return 0
	}

	if *dumpAST {
		tokens, err := compiler.NewPreprocessor(includes).Tokenize(input)
		if err != nil {
			fmt.Fprintln(os.Stderr, aurora.Red(err.Error()))
			return 1
		}
		prog, err := compiler.Parse(tokens)
		if err != nil {
			fmt.Fprintln(os.Stderr, aurora.Red(err.Error()))
			return 1
		}
		spew.Dump(prog)
		return 0
	}

	opts := compiler.Options{IncludeDirs: includes, Optimize: *optimize}
	if *optDebug {
		opts.OptDebug = os.Stderr
	}

	text, diags := compiler.Compile(input, opts)
	for _, d := range diags.User {
		fmt.Fprintln(os.Stderr, aurora.Red(d.Error()))
	}
	for _, d := range diags.Internal {
		fmt.Fprintln(os.Stderr, aurora.Magenta(d.Error()))
	}
	if !diags.Empty() {
		return 1
	}

	outPath := *output
	if outPath == "" {
		ext := filepath.Ext(input)
		outPath = strings.TrimSuffix(input, ext) + ".mac"
	}
	if err := os.WriteFile(outPath, []byte(text), 0o644); err != nil {
		fmt.Fprintln(os.Stderr, aurora.Red(err.Error()))
		return 1
	}
	fmt.Printf("Wrote %s\n", outPath)
	return 0
}
