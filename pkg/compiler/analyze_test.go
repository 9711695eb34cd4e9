package compiler

import (
	"strings"
	"testing"
)

func analyzeSrc(t *testing.T, src string) (*Program, *Analyzer) {
	t.Helper()
	prog := parseSrc(t, src)
	an := NewAnalyzer()
	if err := an.Analyze(prog); err != nil {
		t.Fatalf("analyze: %v", err)
	}
	return prog, an
}

func analyzeErr(t *testing.T, src string, kind DiagKind, fragment string) {
	t.Helper()
	prog := parseSrc(t, src)
	an := NewAnalyzer()
	err := an.Analyze(prog)
	if err == nil {
		t.Fatalf("expected an analysis error for %q", src)
	}
	d, ok := err.(*Diag)
	if !ok {
		t.Fatalf("error %v is not a diagnostic", err)
	}
	if d.Kind != kind {
		t.Errorf("diagnostic kind = %s, want %s (%v)", d.Kind, kind, err)
	}
	if fragment != "" && !strings.Contains(d.Msg, fragment) {
		t.Errorf("diagnostic %q does not mention %q", d.Msg, fragment)
	}
}

func TestAnalyzeExplicitWideningOk(t *testing.T) {
	analyzeSrc(t, `
var a: uint8;
var b: uint16;
var c: uint16;
c := (a as uint16) + b;
c := b + c;
`)
}

func TestAnalyzeMismatchedOperands(t *testing.T) {
	analyzeErr(t, `
var a: uint8;
var b: uint16;
b := a + b;
`, KindType, "no implicit conversions")
}

func TestAnalyzeShiftCountMustBeUint8(t *testing.T) {
	analyzeErr(t, `
var a: uint16;
var n: uint16;
a := a << n;
`, KindType, "shift count")
}

func TestAnalyzeShiftCountLiteralOk(t *testing.T) {
	analyzeSrc(t, `
var a: uint16;
a := a << 2;
`)
}

func TestAnalyzeAddressOfScalarRejected(t *testing.T) {
	analyzeErr(t, `
var x: uint8;
var p: [uint8];
p := &x;
`, KindType, "record field")
}

func TestAnalyzeAddressOfRecordFieldOk(t *testing.T) {
	_, an := analyzeSrc(t, `
record Point is
    x: int16;
    y: int16;
end record;
var pt: Point;
var p: [int16];
p := &pt.y;
`)
	_ = an
}

func TestAnalyzeUndeclared(t *testing.T) {
	analyzeErr(t, "x := 1;", KindResolve, "undeclared")
}

func TestAnalyzeDuplicateDeclaration(t *testing.T) {
	analyzeErr(t, "var x: uint8; var x: uint8;", KindResolve, "duplicate")
}

func TestAnalyzeInferenceFromBareLiteralRejected(t *testing.T) {
	analyzeErr(t, "var x := 10;", KindType, "bare integer literal")
}

func TestAnalyzeInferenceFromTypedExpr(t *testing.T) {
	_, an := analyzeSrc(t, `
var a: uint16 := 7;
var b := a;
`)
	sym, ok := an.Symbols().Lookup("b")
	if !ok || !typesEqual(sym.Type, TypeUint16) {
		t.Errorf("inferred type = %v, want uint16", sym.Type)
	}
}

func TestAnalyzeComparisonOutsideConditional(t *testing.T) {
	analyzeErr(t, `
var a: uint8;
var b: uint8;
a := b == a;
`, KindSemantic, "conditional")
}

func TestAnalyzeConditionMustBeComparison(t *testing.T) {
	analyzeErr(t, `
var a: uint8;
if a then
end if;
`, KindSemantic, "comparison")
}

func TestAnalyzeLogicalOnlyInConditions(t *testing.T) {
	analyzeSrc(t, `
var a: uint8;
if a == 1 and a != 2 then
end if;
while not (a == 0) loop
    a := a - 1;
end loop;
`)
}

func TestAnalyzeRecursionRejected(t *testing.T) {
	analyzeErr(t, `
@decl sub b();
sub a() is
    b();
end sub;
@impl sub b() is
    a();
end sub;
`, KindSemantic, "recursive")
}

func TestAnalyzeSelfRecursionRejected(t *testing.T) {
	analyzeErr(t, `
@decl sub f();
@impl sub f() is
    f();
end sub;
`, KindSemantic, "recursive")
}

func TestAnalyzeForwardOneWayOk(t *testing.T) {
	analyzeSrc(t, `
@decl sub b(n: uint8): (r: uint8);
sub a(): (r: uint8) is
    r := b(1);
end sub;
@impl sub b(n: uint8): (r: uint8) is
    r := n;
end sub;
`)
}

func TestAnalyzeImplWithoutDeclRejected(t *testing.T) {
	analyzeErr(t, "@impl sub f() is end sub;", KindSemantic, "@decl")
}

func TestAnalyzeDeclWithoutImplRejected(t *testing.T) {
	analyzeErr(t, "@decl sub f();", KindSemantic, "never implemented")
}

func TestAnalyzeExternDeclNeedsNoImpl(t *testing.T) {
	analyzeSrc(t, `@decl sub print(s: [uint8]) @extern("print");`)
}

func TestAnalyzeImplSignatureMustMatch(t *testing.T) {
	analyzeErr(t, `
@decl sub f(n: uint8);
@impl sub f(n: uint16) is end sub;
`, KindType, "signature")
}

func TestAnalyzeDeclNamesAuthoritative(t *testing.T) {
	// The body refers to the @decl's parameter name, not the @impl's.
	analyzeSrc(t, `
@decl sub f(value: uint8): (r: uint8);
@impl sub f(v: uint8): (r: uint8) is
    r := value;
end sub;
`)
}

func TestAnalyzeConstantCycleRejected(t *testing.T) {
	// Constants evaluate eagerly in declaration order, so a cycle shows
	// up as a reference to a not-yet-bound name.
	analyzeErr(t, "const A := A + 1;", KindResolve, "undeclared")
}

func TestAnalyzeConstantFoldingAtDeclaration(t *testing.T) {
	prog, _ := analyzeSrc(t, "const N := 3 * 4 + 1;")
	c := prog.Stmts[0].(*ConstDecl)
	if c.Value != 13 {
		t.Errorf("const N = %d, want 13", c.Value)
	}
}

func TestAnalyzeNonConstantConstRejected(t *testing.T) {
	analyzeErr(t, `
var x: uint8;
const N := x;
`, KindSemantic, "not a constant")
}

func TestAnalyzeRecordLayout(t *testing.T) {
	prog, _ := analyzeSrc(t, `
record Point is
    x: int16;
    y: int16;
end record;
record Point3D: Point is
    z: int16;
end record;
record Regs is
    a @at(0): uint8;
    hl @at(0): uint16;
    next: uint8;
end record;
`)
	point := prog.Stmts[0].(*RecordDecl).Typ
	if point.Size != 4 {
		t.Errorf("Point size = %d, want 4", point.Size)
	}
	p3d := prog.Stmts[1].(*RecordDecl).Typ
	z, _ := p3d.Field("z")
	if z.Offset != 4 {
		t.Errorf("Point3D.z offset = %d, want 4", z.Offset)
	}
	if p3d.Size != 6 {
		t.Errorf("Point3D size = %d, want 6", p3d.Size)
	}
	x, ok := p3d.Field("x")
	if !ok || x.Offset != 0 {
		t.Errorf("inherited x offset = %d, want 0", x.Offset)
	}

	regs := prog.Stmts[2].(*RecordDecl).Typ
	hl, _ := regs.Field("hl")
	if hl.Offset != 0 {
		t.Errorf("overlapping @at field hl at %d, want 0", hl.Offset)
	}
	// The implicit field resumes after the highest occupied byte.
	next, _ := regs.Field("next")
	if next.Offset != 2 {
		t.Errorf("field after @at at %d, want 2", next.Offset)
	}
	if regs.Size != 3 {
		t.Errorf("Regs size = %d, want 3", regs.Size)
	}
}

// TestRecordLayoutLaw checks @bytesof R == max over fields of
// offset(f)+bytesof(type(f)) for a spread of record shapes.
func TestRecordLayoutLaw(t *testing.T) {
	prog, _ := analyzeSrc(t, `
record A is
    a: uint8;
    b: uint32;
    c: uint16;
end record;
record B: A is
    d: uint8[5];
end record;
record C is
    lo @at(0): uint8;
    hi @at(1): uint8;
    word @at(0): uint16;
end record;
`)
	for _, stmt := range prog.Stmts {
		rec := stmt.(*RecordDecl).Typ
		max := 0
		for _, f := range rec.Fields {
			if end := f.Offset + TypeSize(f.Type); end > max {
				max = end
			}
		}
		if rec.Size != max {
			t.Errorf("record %s size %d != layout law %d", rec.Name, rec.Size, max)
		}
	}
}

func TestAnalyzeArrayIndexType(t *testing.T) {
	// A 300-element array indexes with uint16; uint8 is too narrow.
	analyzeErr(t, `
var big: uint8[300];
var i: uint8;
big[i] := 0;
`, KindType, "index")
}

func TestAnalyzeArrayIndexNaturalType(t *testing.T) {
	analyzeSrc(t, `
var small: uint8[10];
var i: uint8;
small[i] := 0;
var big: uint8[300];
var j: uint16;
big[j] := 0;
`)
}

func TestAnalyzeArrayExtentInference(t *testing.T) {
	_, an := analyzeSrc(t, "var tbl: uint8[] := {1, 2, 3};")
	sym, _ := an.Symbols().Lookup("tbl")
	arr := resolveAlias(sym.Type).(*ArrayType)
	if arr.Count != 3 {
		t.Errorf("inferred extent = %d, want 3", arr.Count)
	}
}

func TestAnalyzeCastRules(t *testing.T) {
	analyzeSrc(t, `
var a: uint8;
var b: uint16;
var p: [uint8];
var q: [uint16];
var n: intptr;
b := a as uint16;
a := b as uint8;
n := p as intptr;
p := n as [uint8];
q := p as [uint16];
`)
	analyzeErr(t, `
record R is x: uint8; end record;
var r: R;
var b: uint16;
b := r as uint16;
`, KindType, "cast")
}

func TestAnalyzePointerStepsAndArithmetic(t *testing.T) {
	prog, _ := analyzeSrc(t, `
record Point is
    x: int16;
    y: int16;
end record;
var p: [Point];
p := @next p;
p := @prev p;
var q: [uint8];
q := q + 3;
`)
	_ = prog
}

func TestAnalyzeInterfaces(t *testing.T) {
	analyzeSrc(t, `
interface Handler(n: uint8): (r: uint8);
sub double(n: uint8): (r: uint8) implements Handler is
    r := n + n;
end sub;
var h: Handler := double;
var out: uint8;
out := h(21);
`)
}

func TestAnalyzeInterfaceRequiresImplements(t *testing.T) {
	analyzeErr(t, `
interface Handler(n: uint8): (r: uint8);
sub double(n: uint8): (r: uint8) is
    r := n + n;
end sub;
var h: Handler := double;
`, KindType, "implement")
}

func TestAnalyzeInterfaceSignatureMismatch(t *testing.T) {
	analyzeErr(t, `
interface Handler(n: uint8): (r: uint8);
sub wrong(n: uint16): (r: uint8) implements Handler is
    r := 0;
end sub;
`, KindType, "interface")
}

func TestAnalyzeNestedSubCapture(t *testing.T) {
	analyzeSrc(t, `
sub outer() is
    var captured: uint8;
    sub inner() is
        captured := 1;
    end sub;
    inner();
end sub;
`)
}

func TestAnalyzeMultiAssignArity(t *testing.T) {
	analyzeErr(t, `
sub divmod(a: uint16, b: uint16): (q: uint16, r: uint16) is
    q := a / b;
    r := a % b;
end sub;
var q: uint16;
(q) := divmod(10, 3);
`, KindType, "returns 2")
}

func TestAnalyzeBreakOutsideLoop(t *testing.T) {
	analyzeErr(t, "break;", KindSemantic, "break")
}

// TestEveryExpressionTyped walks the AST after analysis and asserts the
// invariant that every expression node carries a resolved type.
func TestEveryExpressionTyped(t *testing.T) {
	prog, _ := analyzeSrc(t, `
const N := 4;
record Point is
    x: int16;
    y: int16;
end record;
var pt: Point;
var arr: uint8[10];
var i: uint8;
var total: uint16;
sub add(a: uint16, b: uint16): (sum: uint16) is
    sum := a + b;
end sub;
pt.x := 5;
i := 0;
while i < 10 loop
    arr[i] := i;
    i := i + 1;
end loop;
total := add(pt.x as uint16, @bytesof Point);
if total != 0 and i == 10 then
    total := total + N;
end if;
`)
	var check func(e Expr)
	check = func(e Expr) {
		rewriteExpr(e, func(x Expr) Expr {
			if x.Type() == nil {
				t.Errorf("expression %s (%T) at %s has no resolved type", x, x, x.Position())
			}
			return x
		})
	}
	var walk func(stmts []Stmt)
	walk = func(stmts []Stmt) {
		for _, s := range stmts {
			switch st := s.(type) {
			case *VarDecl:
				if st.Init != nil {
					check(st.Init)
				}
			case *AssignStmt:
				check(st.Target)
				check(st.Value)
			case *ExprStmt:
				check(st.Expr)
			case *IfStmt:
				check(st.Cond)
				walk(st.Then)
				for _, ei := range st.Elseifs {
					check(ei.Cond)
					walk(ei.Body)
				}
				walk(st.Else)
			case *WhileStmt:
				check(st.Cond)
				walk(st.Body)
			case *LoopStmt:
				walk(st.Body)
			case *SubDecl:
				walk(st.Body)
			case *CaseStmt:
				check(st.Expr)
				for _, arm := range st.Arms {
					for _, v := range arm.Values {
						check(v)
					}
					walk(arm.Body)
				}
				walk(st.Else)
			}
		}
	}
	walk(prog.Stmts)
}
