package asm

import (
	"reflect"
	"testing"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Ins
	}{
		{"Bare", "\tRET", Ins{Op: "RET"}},
		{"Operand", "\tJMP\t_main", Ins{Op: "JMP", Operands: []string{"_main"}}},
		{"TwoOperands", "\tMVI\tA,5", Ins{Op: "MVI", Operands: []string{"A", "5"}}},
		{"Label", "_main:", Ins{Label: "_main"}},
		{"LabelWithOp", "str1:\tDB\t72,0", Ins{Label: "str1", Op: "DB", Operands: []string{"72", "0"}}},
		{"Comment", "; Generated by ucow", Ins{Comment: "Generated by ucow"}},
		{"OpWithComment", "\tRET\t; done", Ins{Op: "RET", Comment: "done"}},
		{"EQU", "v_f_x\tEQU\t_workspace+0", Ins{Label: "v_f_x", Op: "EQU", Operands: []string{"_workspace+0"}}},
		{"LowercaseOp", "\tmov\ta,b", Ins{Op: "MOV", Operands: []string{"a", "b"}}},
		{"QuotedOperand", "\tINCLUDE\t'runtime.mac'", Ins{Op: "INCLUDE", Operands: []string{"'runtime.mac'"}}},
		{"Blank", "", Ins{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseLine(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("parseLine(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestRenderRoundTrip(t *testing.T) {
	text := "; Generated by ucow\n\n\t.8080\n\n_main:\n\tLXI\tH,5\n\tSHLD\tv_x\n\tJMP\t0\n\nv_f_x\tEQU\t_workspace+0\n\tEND\n"
	lines := Parse(text)
	if Render(lines) != text {
		t.Errorf("render round trip changed the text:\n%q\n%q", text, Render(lines))
	}
}

func TestPeepholePushPopPair(t *testing.T) {
	in := "\tPUSH\tH\n\tPOP\tH\n\tRET\n"
	out := Peephole(in)
	if want := "\tRET\n"; out != want {
		t.Errorf("got %q, want %q", out, want)
	}
}

func TestPeepholeMovSameRegister(t *testing.T) {
	out := Peephole("\tMOV\tA,A\n\tRET\n")
	if want := "\tRET\n"; out != want {
		t.Errorf("got %q, want %q", out, want)
	}
}

func TestPeepholeXchgPair(t *testing.T) {
	out := Peephole("\tXCHG\n\tXCHG\n\tRET\n")
	if want := "\tRET\n"; out != want {
		t.Errorf("got %q, want %q", out, want)
	}
}

func TestPeepholeInxDcxCancel(t *testing.T) {
	out := Peephole("\tINX\tH\n\tDCX\tH\n\tRET\n")
	if want := "\tRET\n"; out != want {
		t.Errorf("got %q, want %q", out, want)
	}
}

func TestPeepholeMviZeroBecomesXra(t *testing.T) {
	out := Peephole("\tMVI\tA,0\n\tSTA\tv_x\n\tRET\n")
	if want := "\tXRA\tA\n\tSTA\tv_x\n\tRET\n"; out != want {
		t.Errorf("got %q, want %q", out, want)
	}
}

// TestPeepholeMviZeroFlagSensitive pins that the XRA rewrite is withheld
// when a later instruction reads the flags the rewrite would clobber.
func TestPeepholeMviZeroFlagSensitive(t *testing.T) {
	in := "\tCPI\t5\n\tMVI\tA,0\n\tJZ\tL1\n\tRET\nL1:\n\tRET\n"
	out := Peephole(in)
	if out != in {
		t.Errorf("flag-sensitive rewrite fired:\n%q", out)
	}
}

func TestPeepholeCallRetBecomesJmp(t *testing.T) {
	out := Peephole("\tCALL\tfoo\n\tRET\n")
	if want := "\tJMP\tfoo\n"; out != want {
		t.Errorf("got %q, want %q", out, want)
	}
}

func TestPeepholeCallRetKeepsLabeledRet(t *testing.T) {
	in := "\tCALL\tfoo\nexit:\tRET\n"
	out := Peephole(in)
	if out != in {
		t.Errorf("labeled RET was merged away: %q", out)
	}
}

func TestPeepholeSmallDadBecomesInx(t *testing.T) {
	out := Peephole("\tLXI\tD,2\n\tDAD\tD\n\tRET\n")
	if want := "\tINX\tH\n\tINX\tH\n\tRET\n"; out != want {
		t.Errorf("got %q, want %q", out, want)
	}
}

// The DAD-to-INX rewrite stops writing the carry flag, so it is withheld
// when a carry-reading jump follows.
func TestPeepholeSmallDadFlagSensitive(t *testing.T) {
	in := "\tLXI\tD,1\n\tDAD\tD\n\tJC\tL1\n\tRET\nL1:\n\tRET\n"
	out := Peephole(in)
	if out != in {
		t.Errorf("carry-sensitive rewrite fired:\n%q", out)
	}
}

func TestPeepholeIndexIdiom(t *testing.T) {
	in := "\tPUSH\tH\n\tLXI\tH,v_arr\n\tPOP\tD\n\tDAD\tD\n\tRET\n"
	out := Peephole(in)
	if want := "\tLXI\tD,v_arr\n\tDAD\tD\n\tRET\n"; out != want {
		t.Errorf("got %q, want %q", out, want)
	}
}

func TestPeepholeIncrementInMemory(t *testing.T) {
	// A and HL are both dead afterwards: the in-memory increment wins.
	in := "\tLDA\tv_i\n\tINR\tA\n\tSTA\tv_i\n\tLDA\tv_x\n\tLXI\tH,5\n\tRET\n"
	out := Peephole(in)
	if want := "\tLXI\tH,v_i\n\tINR\tM\n\tLDA\tv_x\n\tLXI\tH,5\n\tRET\n"; out != want {
		t.Errorf("got %q, want %q", out, want)
	}
}

func TestPeepholeIncrementKeepsLiveA(t *testing.T) {
	// A is consumed right after: the three-instruction form must stay.
	in := "\tLDA\tv_i\n\tINR\tA\n\tSTA\tv_i\n\tMOV\tB,A\n\tRET\n"
	out := Peephole(in)
	if out != in {
		t.Errorf("rewrite clobbered a live A:\n%q", out)
	}
}

func TestPeepholeLxiZeroTest(t *testing.T) {
	// HL is rebuilt right after, so the XRA A shortcut is safe.
	in := "\tLXI\tH,0\n\tMOV\tA,L\n\tORA\tH\n\tLXI\tH,7\n\tRET\n"
	out := Peephole(in)
	if want := "\tXRA\tA\n\tLXI\tH,7\n\tRET\n"; out != want {
		t.Errorf("got %q, want %q", out, want)
	}
}

func TestPeepholeLxiZeroTestKeepsLiveHL(t *testing.T) {
	in := "\tLXI\tH,0\n\tMOV\tA,L\n\tORA\tH\n\tSHLD\tv_x\n\tRET\n"
	out := Peephole(in)
	if out != in {
		t.Errorf("rewrite dropped a live HL:\n%q", out)
	}
}

func TestTrackerRemovesRedundantLoad(t *testing.T) {
	in := "\tLDA\tv_x\n\tMOV\tB,A\n\tLDA\tv_x\n\tRET\n"
	out := Peephole(in)
	if want := "\tLDA\tv_x\n\tMOV\tB,A\n\tRET\n"; out != want {
		t.Errorf("got %q, want %q", out, want)
	}
}

func TestTrackerLoadAfterStore(t *testing.T) {
	// STA leaves A holding the variable; the reload is redundant.
	in := "\tSTA\tv_x\n\tLDA\tv_x\n\tRET\n"
	out := Peephole(in)
	if want := "\tSTA\tv_x\n\tRET\n"; out != want {
		t.Errorf("got %q, want %q", out, want)
	}
}

func TestTrackerRemovesRedundantLhld(t *testing.T) {
	in := "\tLHLD\tv_p\n\tMOV\tA,B\n\tLHLD\tv_p\n\tRET\n"
	out := Peephole(in)
	if want := "\tLHLD\tv_p\n\tMOV\tA,B\n\tRET\n"; out != want {
		t.Errorf("got %q, want %q", out, want)
	}
}

func TestTrackerInvalidatedByCall(t *testing.T) {
	in := "\tLDA\tv_x\n\tCALL\tfoo\n\tLDA\tv_x\n\tRET\n"
	out := Peephole(in)
	if out != in {
		t.Errorf("load after CALL was removed:\n%q", out)
	}
}

func TestTrackerInvalidatedByLabel(t *testing.T) {
	in := "\tLDA\tv_x\nL1:\n\tLDA\tv_x\n\tRET\n"
	out := Peephole(in)
	if out != in {
		t.Errorf("load after label was removed:\n%q", out)
	}
}

func TestTrackerInvalidatedByIndirectStore(t *testing.T) {
	in := "\tLDA\tv_x\n\tSTAX\tD\n\tLDA\tv_x\n\tRET\n"
	out := Peephole(in)
	if out != in {
		t.Errorf("load after indirect store was removed:\n%q", out)
	}
}

// TestPeepholeFixpoint pins the law that re-running the pass on its own
// output yields the same text.
func TestPeepholeFixpoint(t *testing.T) {
	in := "_main:\n\tPUSH\tH\n\tPOP\tH\n\tMVI\tA,0\n\tSTA\tv_x\n\tLDA\tv_x\n\tCALL\tfoo\n\tRET\n"
	once := Peephole(in)
	twice := Peephole(once)
	if once != twice {
		t.Errorf("not a fixpoint:\nonce:  %q\ntwice: %q", once, twice)
	}
}
