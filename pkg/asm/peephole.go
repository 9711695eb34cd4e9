package asm

// Peephole scans the instruction stream with a sliding window and rewrites
// until no rule fires, then runs the register tracker. The result is a
// fixpoint: running Peephole on its own output returns it unchanged.
func Peephole(text string) string {
	lines := Parse(text)
	for {
		rewritten, changed := rewriteOnce(lines)
		rewritten, tracked := trackRegisters(rewritten)
		lines = rewritten
		if !changed && !tracked {
			break
		}
	}
	return Render(dropEmpty(lines))
}

// at returns the instruction at index i; ok is false past the end.
func at(lines []Ins, i int) (Ins, bool) {
	if i < 0 || i >= len(lines) {
		return Ins{}, false
	}
	return lines[i], true
}

// isOp matches mnemonic and exact operands.
func isOp(ins Ins, op string, operands ...string) bool {
	if ins.Op != op || len(ins.Operands) != len(operands) {
		return false
	}
	for i, want := range operands {
		if ins.Operands[i] != want {
			return false
		}
	}
	return true
}

// bare reports an instruction with no label riding on it; windows must not
// delete an instruction that carries a jump target.
func bare(ins Ins) bool { return ins.Label == "" }

// rewriteOnce applies every window rule left to right, once.
func rewriteOnce(lines []Ins) ([]Ins, bool) {
	changed := false
	var out []Ins

	// drop deletes an instruction but keeps any label or comment riding
	// on it, so jump targets survive.
	drop := func(ins Ins) {
		if ins.Label != "" || ins.Comment != "" {
			out = append(out, keepLabel(ins))
		}
	}

	i := 0
	for i < len(lines) {
		ins := lines[i]
		next, hasNext := at(lines, i+1)

		// PUSH rp / POP rp of the same pair, adjacent: both vanish.
		if hasNext && ins.Op == "PUSH" && next.Op == "POP" && bare(next) &&
			len(ins.Operands) == 1 && len(next.Operands) == 1 &&
			ins.Operands[0] == next.Operands[0] {
			drop(ins)
			i += 2
			changed = true
			continue
		}

		// MOV r,r of the same register is a no-op.
		if ins.Op == "MOV" && len(ins.Operands) == 2 && ins.Operands[0] == ins.Operands[1] {
			drop(ins)
			i++
			changed = true
			continue
		}

		// XCHG / XCHG cancels.
		if hasNext && isOp(ins, "XCHG") && isOp(next, "XCHG") && bare(next) {
			drop(ins)
			i += 2
			changed = true
			continue
		}

		// INX H / DCX H (either order) cancels.
		if hasNext && bare(next) &&
			((isOp(ins, "INX", "H") && isOp(next, "DCX", "H")) ||
				(isOp(ins, "DCX", "H") && isOp(next, "INX", "H"))) {
			drop(ins)
			i += 2
			changed = true
			continue
		}

		// MVI A,0 becomes XRA A when nothing reads the flags first.
		// XRA writes flags where MVI does not, so the rule is
		// flag-sensitive.
		if isOp(ins, "MVI", "A", "0") && !flagsReadBeforeWrite(lines, i) {
			out = append(out, Ins{Label: ins.Label, Op: "XRA", Operands: []string{"A"}, Comment: ins.Comment})
			i++
			changed = true
			continue
		}

		// LXI H,0 / MOV A,L / ORA H computes A=0 and tests it; XRA A does
		// the same when HL itself is dead afterwards.
		if hasNext {
			third, hasThird := at(lines, i+2)
			if hasThird && isOp(ins, "LXI", "H", "0") &&
				isOp(next, "MOV", "A", "L") && bare(next) &&
				isOp(third, "ORA", "H") && bare(third) &&
				hlDeadAfter(lines, i+2) {
				out = append(out, Ins{Label: ins.Label, Op: "XRA", Operands: []string{"A"}})
				i += 3
				changed = true
				continue
			}
		}

		// CALL x / RET tail position becomes JMP x.
		if hasNext && ins.Op == "CALL" && isOp(next, "RET") && bare(next) {
			out = append(out, Ins{Label: ins.Label, Op: "JMP", Operands: ins.Operands, Comment: ins.Comment})
			i += 2
			changed = true
			continue
		}

		// LXI D,k / DAD D for k in 1..3 becomes k INX H. INX leaves carry
		// alone where DAD writes it, so the rule is flag-sensitive.
		if hasNext && ins.Op == "LXI" && len(ins.Operands) == 2 && ins.Operands[0] == "D" &&
			isOp(next, "DAD", "D") && bare(next) &&
			(ins.Operands[1] == "1" || ins.Operands[1] == "2" || ins.Operands[1] == "3") &&
			!flagsReadBeforeWrite(lines, i+1) {
			n := int(ins.Operands[1][0] - '0')
			first := Ins{Label: ins.Label, Op: "INX", Operands: []string{"H"}, Comment: ins.Comment}
			out = append(out, first)
			for k := 1; k < n; k++ {
				out = append(out, Ins{Op: "INX", Operands: []string{"H"}})
			}
			i += 2
			changed = true
			continue
		}

		// The array-index idiom PUSH H / LXI H,addr / POP D / DAD D loads
		// the base straight into DE instead.
		if hasNext {
			third, hasThird := at(lines, i+2)
			fourth, hasFourth := at(lines, i+3)
			if hasThird && hasFourth &&
				isOp(ins, "PUSH", "H") &&
				next.Op == "LXI" && len(next.Operands) == 2 && next.Operands[0] == "H" && bare(next) &&
				isOp(third, "POP", "D") && bare(third) &&
				isOp(fourth, "DAD", "D") && bare(fourth) {
				out = append(out, Ins{Label: ins.Label, Op: "LXI", Operands: []string{"D", next.Operands[1]}})
				out = append(out, Ins{Op: "DAD", Operands: []string{"D"}})
				i += 4
				changed = true
				continue
			}
		}

		// LDA v / INR A / STA v becomes LXI H,v / INR M when neither A nor
		// HL is needed afterwards (the rewrite changes both).
		if hasNext && ins.Op == "LDA" && len(ins.Operands) == 1 {
			third, hasThird := at(lines, i+2)
			if hasThird &&
				isOp(next, "INR", "A") && bare(next) &&
				third.Op == "STA" && bare(third) &&
				len(third.Operands) == 1 && third.Operands[0] == ins.Operands[0] &&
				aDeadAfter(lines, i+2) && hlDeadAfter(lines, i+2) {
				out = append(out, Ins{Label: ins.Label, Op: "LXI", Operands: []string{"H", ins.Operands[0]}, Comment: ins.Comment})
				out = append(out, Ins{Op: "INR", Operands: []string{"M"}})
				i += 3
				changed = true
				continue
			}
		}

		out = append(out, ins)
		i++
	}
	return out, changed
}

// keepLabel preserves a deleted instruction's label (and any comment) on a
// bare line so jump targets survive the rewrite.
func keepLabel(ins Ins) Ins {
	return Ins{Label: ins.Label, Comment: ins.Comment}
}

// dropEmpty removes label-less, op-less, comment-less filler left behind
// by deletions.
func dropEmpty(lines []Ins) []Ins {
	out := lines[:0]
	blank := 0
	for _, ins := range lines {
		if ins.Label == "" && ins.Op == "" && ins.Comment == "" {
			blank++
			if blank > 1 {
				continue
			}
		} else {
			blank = 0
		}
		out = append(out, ins)
	}
	return out
}
