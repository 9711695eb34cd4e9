package compiler

import (
	"path/filepath"
	"strings"
	"testing"

	"ucow/pkg/asm"
)

func TestCompileFileWithIncludes(t *testing.T) {
	dir := t.TempDir()
	libDir := t.TempDir()
	writeFile(t, libDir, "cowgol.coh", `@decl sub print(s: [uint8]) @extern("print");`+"\n")
	main := writeFile(t, dir, "hello.cow", `include "cowgol.coh";
print("Hello\n");
`)

	text, ds := Compile(main, Options{IncludeDirs: []string{libDir}, Optimize: true})
	if !ds.Empty() {
		t.Fatalf("compile failed: %v %v", ds.User, ds.Internal)
	}
	if !strings.Contains(text, "CALL\tprint") {
		t.Error("missing call to print")
	}
	if !strings.Contains(text, "72,101,108,108,111,10,0") {
		t.Error("missing Hello string data")
	}
}

func TestCompileMissingFile(t *testing.T) {
	_, ds := Compile(filepath.Join(t.TempDir(), "nope.cow"), Options{})
	if len(ds.User) == 0 {
		t.Fatal("expected a diagnostic for a missing input file")
	}
	if ds.User[0].Kind != KindResolve {
		t.Errorf("kind = %s, want resolve", ds.User[0].Kind)
	}
}

func TestCompileDiagnosticKinds(t *testing.T) {
	tests := []struct {
		name string
		src  string
		kind DiagKind
	}{
		{"LexError", "var $;", KindLex},
		{"ParseError", "var x: uint8", KindParse},
		{"ResolveError", "x := 1;", KindResolve},
		{"TypeError", "var a: uint8;\nvar b: uint16;\nb := a + b;", KindType},
		{"SemanticError", "break;", KindSemantic},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ds := CompileSource(tt.src, "test.cow", Options{})
			if len(ds.User) == 0 {
				t.Fatal("expected a diagnostic")
			}
			if ds.User[0].Kind != tt.kind {
				t.Errorf("kind = %s, want %s (%v)", ds.User[0].Kind, tt.kind, ds.User[0])
			}
			if len(ds.Internal) != 0 {
				t.Errorf("user error leaked into the internal channel: %v", ds.Internal)
			}
		})
	}
}

// TestCompileDiagnosticPositions checks positions survive include
// splicing: an error inside an included file names that file.
func TestCompileDiagnosticPositions(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "bad.coh", "var x: nosuchtype;\n")
	main := writeFile(t, dir, "main.cow", `include "bad.coh";`+"\n")

	_, ds := Compile(main, Options{})
	if len(ds.User) == 0 {
		t.Fatal("expected a diagnostic")
	}
	d := ds.User[0]
	if filepath.Base(d.Pos.File) != "bad.coh" {
		t.Errorf("diagnostic names %q, want bad.coh", d.Pos.File)
	}
	if d.Pos.Line != 1 {
		t.Errorf("line = %d, want 1", d.Pos.Line)
	}
}

// TestCompileOptimizationPreservesOutputShape compiles the same program
// with and without optimization; both must produce complete, framed
// assembly referencing the same externals.
func TestCompileOptimizationPreservesOutputShape(t *testing.T) {
	src := `@decl sub print_i16(n: int16) @extern("print_i16");
var i: uint8;
var total: int16;
i := 0;
total := 0;
while i < 10 loop
    total := total + (i as int16);
    i := i + 1;
end loop;
print_i16(total);
`
	for _, opt := range []bool{true, false} {
		text, ds := CompileSource(src, "test.cow", Options{Optimize: opt})
		if !ds.Empty() {
			t.Fatalf("optimize=%v failed: %v %v", opt, ds.User, ds.Internal)
		}
		for _, want := range []string{".8080", "_main:", "CALL\tprint_i16", "END"} {
			if !strings.Contains(text, want) {
				t.Errorf("optimize=%v output missing %q", opt, want)
			}
		}
	}
}

func TestCompileOptimizerChangeLog(t *testing.T) {
	var log strings.Builder
	_, ds := CompileSource("var x: int16;\nx := 10 + 3;", "test.cow",
		Options{Optimize: true, OptDebug: &log})
	if !ds.Empty() {
		t.Fatalf("compile failed: %v", ds.User)
	}
	if !strings.Contains(log.String(), "fold") {
		t.Errorf("change log missing the fold pass: %q", log.String())
	}
}

func TestCompileOutputIsPeepholeFixpoint(t *testing.T) {
	src := `@decl sub print(s: [uint8]) @extern("print");
var i: uint8;
i := 0;
while i < 3 loop
    print("x");
    i := i + 1;
end loop;
`
	text, ds := CompileSource(src, "test.cow", Options{Optimize: true})
	if !ds.Empty() {
		t.Fatalf("compile failed: %v", ds.User)
	}
	// Re-running the peephole pass over the final output changes nothing.
	if again := asm.Peephole(text); again != text {
		t.Error("emitted text is not a peephole fixpoint")
	}
}
