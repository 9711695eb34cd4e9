package compiler

import "fmt"

// Expression code generation. Results land in HL (16-bit) or A (8-bit);
// binary operators compute the left subtree, push, compute the right
// subtree, pop, combine.

// loadVar loads sym into target, consulting the register tracker first.
func (cg *CodeGen) loadVar(sym *Symbol, target string) {
	label := cg.varLabel(sym)
	if TypeSize(sym.Type) == 1 {
		if cg.reg.a != sym {
			cg.emit("LDA\t%s", label)
			cg.reg.setA(sym)
		}
		if target == "HL" {
			cg.emit("MOV\tL,A")
			cg.emit("MVI\tH,0")
			cg.reg.hl = nil
		}
		return
	}
	if cg.reg.hl != sym {
		cg.emit("LHLD\t%s", label)
		cg.reg.setHL(sym)
	}
	if target == "A" {
		cg.emit("MOV\tA,L")
		cg.reg.a = nil
	}
}

// genExpr evaluates e into target ("A" or "HL").
func (cg *CodeGen) genExpr(e Expr, target string) error {
	switch t := e.(type) {
	case *NumberLit:
		if target == "A" {
			cg.emit("MVI\tA,%d", uint8(t.Value))
			cg.reg.a = nil
		} else {
			cg.emit("LXI\tH,%d", uint16(t.Value))
			cg.reg.hl = nil
		}
		return nil

	case *StringLit:
		cg.emit("LXI\tH,%s", cg.stringLabel(t.Value))
		cg.reg.hl = nil
		return nil

	case *NilLit:
		if target == "A" {
			cg.emit("XRA\tA")
			cg.reg.a = nil
		} else {
			cg.emit("LXI\tH,0")
			cg.reg.hl = nil
		}
		return nil

	case *VarRef:
		return cg.genVarRef(t, target)

	case *slotRead:
		if TypeSize(t.Typ) == 1 {
			cg.emit("LDA\t%s", t.label)
			cg.reg.a = nil
			if target == "HL" {
				cg.emit("MOV\tL,A")
				cg.emit("MVI\tH,0")
				cg.reg.hl = nil
			}
		} else {
			cg.emit("LHLD\t%s", t.label)
			cg.reg.hl = nil
			if target == "A" {
				cg.emit("MOV\tA,L")
				cg.reg.a = nil
			}
		}
		return nil

	case *MemberExpr, *IndexExpr:
		if err := cg.genAddress(e); err != nil {
			return err
		}
		cg.loadThroughHL(e.Type(), target)
		return nil

	case *DerefExpr:
		if err := cg.genExpr(t.Ptr, "HL"); err != nil {
			return err
		}
		cg.loadThroughHL(t.Typ, target)
		return nil

	case *AddrExpr:
		if err := cg.genAddress(t.Operand); err != nil {
			return err
		}
		if target == "A" {
			cg.emit("MOV\tA,L")
			cg.reg.a = nil
		}
		return nil

	case *UnaryExpr:
		return cg.genUnary(t, target)

	case *BinaryExpr:
		return cg.genBinary(t, target)

	case *CastExpr:
		return cg.genCast(t, target)

	case *CallExpr:
		if err := cg.genCall(t, target); err != nil {
			return err
		}
		// A runtime-provided callee returns in HL only; slot-based callees
		// leave a byte result in A as well.
		externCallee := t.Sub != nil && t.Sub.Body == nil && t.Sub.Extern != ""
		if target == "A" && (TypeSize(t.Typ) > 1 || externCallee) {
			cg.emit("MOV\tA,L")
			cg.reg.a = nil
		}
		return nil

	case *NextExpr:
		return cg.genPointerStep(t.Ptr, t.Typ, 1, target)

	case *PrevExpr:
		return cg.genPointerStep(t.Ptr, t.Typ, -1, target)

	case *SizeofExpr:
		arr, ok := resolveAlias(t.Arg.Type()).(*ArrayType)
		if !ok {
			return internalf(t.At, "@sizeof of non-array reached codegen")
		}
		return cg.genExpr(litNode(int64(arr.Count), t), target)

	case *BytesofExpr:
		return cg.genExpr(litNode(bytesofValue(t), t), target)

	case *CompareExpr, *LogicalExpr, *NotExpr:
		return internalf(e.Position(), "comparison reached value context in codegen")
	}
	return internalf(e.Position(), "unhandled expression %T in codegen", e)
}

// bytesofValue computes @bytesof for a value expression or a type name.
func bytesofValue(t *BytesofExpr) int64 {
	if ref, ok := t.Arg.(*VarRef); ok && ref.Sym != nil && ref.Sym.Kind == SymType {
		return int64(TypeSize(ref.Sym.Type))
	}
	return int64(TypeSize(t.Arg.Type()))
}

func (cg *CodeGen) genVarRef(t *VarRef, target string) error {
	sym := t.Sym
	if sym == nil {
		return internalf(t.At, "unresolved reference %q in codegen", t.Name)
	}
	switch sym.Kind {
	case SymVar:
		// An array or record name evaluates to its address.
		switch resolveAlias(sym.Type).(type) {
		case *ArrayType, *RecordType:
			cg.emit("LXI\tH,%s", cg.varLabel(sym))
			cg.reg.hl = nil
			return nil
		}
		cg.loadVar(sym, target)
		return nil
	case SymConst:
		if target == "A" {
			cg.emit("MVI\tA,%d", uint8(sym.Value))
			cg.reg.a = nil
		} else {
			cg.emit("LXI\tH,%d", uint16(sym.Value))
			cg.reg.hl = nil
		}
		return nil
	case SymSub:
		// A subroutine reference is its address, for interface stores.
		cg.emit("LXI\tH,%s", subLabel(sym.Sub))
		cg.reg.hl = nil
		return nil
	}
	return internalf(t.At, "%q (%s) used as a value", t.Name, sym.Kind)
}

// loadThroughHL loads the value at address HL.
func (cg *CodeGen) loadThroughHL(t Type, target string) {
	if TypeSize(t) == 1 {
		cg.emit("MOV\tA,M")
		cg.reg.a = nil
		if target == "HL" {
			cg.emit("MOV\tL,A")
			cg.emit("MVI\tH,0")
			cg.reg.hl = nil
		}
		return
	}
	cg.emit("MOV\tE,M")
	cg.emit("INX\tH")
	cg.emit("MOV\tD,M")
	cg.emit("XCHG")
	cg.reg.hl = nil
	if target == "A" {
		cg.emit("MOV\tA,L")
		cg.reg.a = nil
	}
}

// genAddress computes the address of a location expression into HL.
func (cg *CodeGen) genAddress(e Expr) error {
	switch t := e.(type) {
	case *VarRef:
		if t.Sym == nil {
			return internalf(t.At, "unresolved reference %q in codegen", t.Name)
		}
		cg.emit("LXI\tH,%s", cg.varLabel(t.Sym))
		cg.reg.hl = nil
		return nil

	case *DerefExpr:
		return cg.genExpr(t.Ptr, "HL")

	case *MemberExpr:
		// Through a pointer the base is the pointer's value; otherwise it
		// is the record's storage address.
		recType := t.Record.Type()
		if _, isPtr := isPtrType(recType); isPtr {
			if err := cg.genExpr(t.Record, "HL"); err != nil {
				return err
			}
		} else if err := cg.genAddress(t.Record); err != nil {
			return err
		}
		if t.Info.Offset > 0 {
			if t.Info.Offset <= 3 {
				for i := 0; i < t.Info.Offset; i++ {
					cg.emit("INX\tH")
				}
			} else {
				cg.emit("LXI\tD,%d", t.Info.Offset)
				cg.emit("DAD\tD")
			}
		}
		cg.reg.hl = nil
		return nil

	case *IndexExpr:
		arr, ok := resolveAlias(t.Array.Type()).(*ArrayType)
		if !ok {
			return internalf(t.At, "index of non-array reached codegen")
		}
		elemSize := TypeSize(arr.Elem)

		if err := cg.genExpr(t.Index, "HL"); err != nil {
			return err
		}
		if elemSize > 1 {
			if err := cg.genMulConst16(elemSize); err != nil {
				return err
			}
		}
		cg.emit("PUSH\tH")
		if ref, isRef := t.Array.(*VarRef); isRef && ref.Sym != nil {
			cg.emit("LXI\tH,%s", cg.varLabel(ref.Sym))
		} else if err := cg.genExpr(t.Array, "HL"); err != nil {
			return err
		}
		cg.emit("POP\tD")
		cg.emit("DAD\tD")
		cg.reg.hl = nil
		return nil
	}
	return internalf(e.Position(), "expression %T has no address", e)
}

func (cg *CodeGen) genUnary(t *UnaryExpr, target string) error {
	byteWide := TypeSize(t.Typ) == 1
	want := "HL"
	if byteWide {
		want = "A"
	}
	if err := cg.genExpr(t.Operand, want); err != nil {
		return err
	}
	switch t.Op {
	case MINUS:
		if byteWide {
			cg.emit("CMA")
			cg.emit("INR\tA")
			cg.reg.a = nil
		} else {
			cg.emit("MOV\tA,L")
			cg.emit("CMA")
			cg.emit("MOV\tL,A")
			cg.emit("MOV\tA,H")
			cg.emit("CMA")
			cg.emit("MOV\tH,A")
			cg.emit("INX\tH")
			cg.reg.reset()
		}
	case TILDE:
		if byteWide {
			cg.emit("CMA")
			cg.reg.a = nil
		} else {
			cg.emit("MOV\tA,L")
			cg.emit("CMA")
			cg.emit("MOV\tL,A")
			cg.emit("MOV\tA,H")
			cg.emit("CMA")
			cg.emit("MOV\tH,A")
			cg.reg.reset()
		}
	default:
		return internalf(t.At, "unhandled unary operator")
	}
	return cg.moveResult(byteWide, target)
}

func (cg *CodeGen) moveResult(byteWide bool, target string) error {
	if byteWide && target == "HL" {
		cg.emit("MOV\tL,A")
		cg.emit("MVI\tH,0")
		cg.reg.hl = nil
	} else if !byteWide && target == "A" {
		cg.emit("MOV\tA,L")
		cg.reg.a = nil
	}
	return nil
}

func (cg *CodeGen) genCast(t *CastExpr, target string) error {
	fromSize := TypeSize(t.Expr.Type())
	toSize := TypeSize(t.Typ)
	switch {
	case toSize == 1:
		// Narrowing keeps the low byte.
		if err := cg.genExpr(t.Expr, "A"); err != nil {
			return err
		}
		return cg.moveResult(true, target)
	case fromSize == 1:
		src := resolveAlias(t.Expr.Type())
		if it, ok := src.(*IntType); ok && it.Signed {
			// Sign extension of an int8.
			if err := cg.genExpr(t.Expr, "A"); err != nil {
				return err
			}
			cg.emit("MOV\tL,A")
			cg.emit("RLC")
			cg.emit("SBB\tA")
			cg.emit("MOV\tH,A")
			cg.reg.reset()
			return cg.moveResult(false, target)
		}
		if err := cg.genExpr(t.Expr, "HL"); err != nil {
			return err
		}
		return cg.moveResult(false, target)
	default:
		if err := cg.genExpr(t.Expr, "HL"); err != nil {
			return err
		}
		return cg.moveResult(false, target)
	}
}

func (cg *CodeGen) genPointerStep(ptr Expr, ptrType Type, direction int, target string) error {
	if err := cg.genExpr(ptr, "HL"); err != nil {
		return err
	}
	pt, ok := isPtrType(ptrType)
	if !ok {
		return internalf(ptr.Position(), "@next/@prev of non-pointer reached codegen")
	}
	size := TypeSize(pt.Target)
	switch {
	case size == 1 && direction > 0:
		cg.emit("INX\tH")
	case size == 1:
		cg.emit("DCX\tH")
	case direction > 0:
		cg.emit("LXI\tD,%d", size)
		cg.emit("DAD\tD")
	default:
		cg.emit("LXI\tD,%d", uint16(-size))
		cg.emit("DAD\tD")
	}
	cg.reg.hl = nil
	return cg.moveResult(false, target)
}

//  Binary operators

func (cg *CodeGen) genBinary(t *BinaryExpr, target string) error {
	byteWide := TypeSize(t.Typ) == 1

	// Constant right operands get cheaper sequences.
	if lit, ok := t.Right.(*NumberLit); ok {
		if done, err := cg.genBinaryConstRight(t, lit, byteWide, target); done || err != nil {
			return err
		}
	}

	if byteWide {
		if err := cg.genExpr(t.Left, "A"); err != nil {
			return err
		}
		cg.emit("PUSH\tPSW")
		if err := cg.genExpr(t.Right, "A"); err != nil {
			return err
		}
		cg.emit("MOV\tB,A")
		cg.emit("POP\tPSW")
		cg.reg.reset()
		switch t.Op {
		case PLUS:
			cg.emit("ADD\tB")
		case MINUS:
			cg.emit("SUB\tB")
		case AMPERSAND:
			cg.emit("ANA\tB")
		case PIPE:
			cg.emit("ORA\tB")
		case CARET:
			cg.emit("XRA\tB")
		case STAR:
			cg.emit("CALL\t_mul8")
		case SLASH:
			cg.emit("CALL\t%s", cg.divideHelper8(t.Typ))
		case PERCENT:
			cg.emit("CALL\t%s", cg.moduloHelper8(t.Typ))
		case SHL_OP:
			cg.emit("CALL\t_shl8")
		case SHR_OP:
			cg.emit("CALL\t_shr8")
		default:
			return internalf(t.At, "unhandled byte operator")
		}
		return cg.moveResult(true, target)
	}

	// 16-bit: left in HL, pushed; right in HL, swapped to DE; combine.
	if err := cg.genExpr(t.Left, "HL"); err != nil {
		return err
	}
	cg.emit("PUSH\tH")
	if err := cg.genExpr(t.Right, "HL"); err != nil {
		return err
	}
	cg.emit("XCHG")
	cg.emit("POP\tH")
	cg.reg.reset()
	switch t.Op {
	case PLUS:
		cg.emit("DAD\tD")
	case MINUS:
		cg.emit("MOV\tA,L")
		cg.emit("SUB\tE")
		cg.emit("MOV\tL,A")
		cg.emit("MOV\tA,H")
		cg.emit("SBB\tD")
		cg.emit("MOV\tH,A")
	case AMPERSAND:
		cg.emitPairwise("ANA")
	case PIPE:
		cg.emitPairwise("ORA")
	case CARET:
		cg.emitPairwise("XRA")
	case STAR:
		cg.emit("CALL\t_mul16")
	case SLASH:
		cg.emit("CALL\t%s", cg.divideHelper16(t.Typ))
	case PERCENT:
		cg.emit("CALL\t%s", cg.moduloHelper16(t.Typ))
	case SHL_OP:
		cg.emit("CALL\t_shl16")
	case SHR_OP:
		cg.emit("CALL\t_shr16")
	default:
		return internalf(t.At, "unhandled word operator")
	}
	return cg.moveResult(false, target)
}

func (cg *CodeGen) emitPairwise(op string) {
	cg.emit("MOV\tA,L")
	cg.emit("%s\tE", op)
	cg.emit("MOV\tL,A")
	cg.emit("MOV\tA,H")
	cg.emit("%s\tD", op)
	cg.emit("MOV\tH,A")
}

func (cg *CodeGen) divideHelper8(t Type) string {
	if isUnsigned(t) {
		return "_div8"
	}
	return "_divs8"
}

func (cg *CodeGen) moduloHelper8(t Type) string {
	if isUnsigned(t) {
		return "_mod8"
	}
	return "_mods8"
}

func (cg *CodeGen) divideHelper16(t Type) string {
	if isUnsigned(t) {
		return "_div16"
	}
	return "_divs16"
}

func (cg *CodeGen) moduloHelper16(t Type) string {
	if isUnsigned(t) {
		return "_mod16"
	}
	return "_mods16"
}

// genBinaryConstRight handles the operator/immediate shapes that are
// cheaper than the generic push/pop pattern. Returns done=false to fall
// back.
func (cg *CodeGen) genBinaryConstRight(t *BinaryExpr, lit *NumberLit, byteWide bool, target string) (bool, error) {
	switch t.Op {
	case PLUS, MINUS:
		if _, isPtr := isPtrType(t.Typ); isPtr || !byteWide {
			if err := cg.genExpr(t.Left, "HL"); err != nil {
				return true, err
			}
			delta := lit.Value
			if t.Op == MINUS {
				delta = -delta
			}
			switch {
			case delta >= 1 && delta <= 3:
				for i := int64(0); i < delta; i++ {
					cg.emit("INX\tH")
				}
			case delta <= -1 && delta >= -3:
				for i := delta; i < 0; i++ {
					cg.emit("DCX\tH")
				}
			default:
				cg.emit("LXI\tD,%d", uint16(delta))
				cg.emit("DAD\tD")
			}
			cg.reg.hl = nil
			return true, cg.moveResult(false, target)
		}
		if byteWide {
			if err := cg.genExpr(t.Left, "A"); err != nil {
				return true, err
			}
			switch {
			case t.Op == PLUS && lit.Value == 1:
				cg.emit("INR\tA")
			case t.Op == MINUS && lit.Value == 1:
				cg.emit("DCR\tA")
			case t.Op == PLUS:
				cg.emit("ADI\t%d", uint8(lit.Value))
			default:
				cg.emit("SUI\t%d", uint8(lit.Value))
			}
			cg.reg.a = nil
			return true, cg.moveResult(true, target)
		}

	case STAR:
		if k, ok := powerOfTwo(lit.Value); ok {
			if byteWide {
				if err := cg.genExpr(t.Left, "A"); err != nil {
					return true, err
				}
				for i := 0; i < k; i++ {
					cg.emit("ADD\tA")
				}
				cg.reg.a = nil
				return true, cg.moveResult(true, target)
			}
			if err := cg.genExpr(t.Left, "HL"); err != nil {
				return true, err
			}
			for i := 0; i < k; i++ {
				cg.emit("DAD\tH")
			}
			cg.reg.hl = nil
			return true, cg.moveResult(false, target)
		}
		// Shift-and-add beats the runtime helper for sparse constants.
		if !byteWide && popCount(uint16(lit.Value)) == 2 {
			if err := cg.genExpr(t.Left, "HL"); err != nil {
				return true, err
			}
			if err := cg.genShiftAddMul(uint16(lit.Value)); err != nil {
				return true, err
			}
			return true, cg.moveResult(false, target)
		}

	case SHL_OP:
		if lit.Value >= 0 && lit.Value <= 15 {
			k := int(lit.Value)
			if byteWide {
				if err := cg.genExpr(t.Left, "A"); err != nil {
					return true, err
				}
				for i := 0; i < k; i++ {
					cg.emit("ADD\tA")
				}
				cg.reg.a = nil
				return true, cg.moveResult(true, target)
			}
			if err := cg.genExpr(t.Left, "HL"); err != nil {
				return true, err
			}
			for i := 0; i < k; i++ {
				cg.emit("DAD\tH")
			}
			cg.reg.hl = nil
			return true, cg.moveResult(false, target)
		}

	case SHR_OP:
		if byteWide && lit.Value >= 0 && lit.Value <= 7 && isUnsigned(t.Left.Type()) {
			if err := cg.genExpr(t.Left, "A"); err != nil {
				return true, err
			}
			for i := int64(0); i < lit.Value; i++ {
				cg.emit("ORA\tA") // clear carry
				cg.emit("RAR")
			}
			cg.reg.a = nil
			return true, cg.moveResult(true, target)
		}
	}
	return false, nil
}

func popCount(v uint16) int {
	n := 0
	for v != 0 {
		v &= v - 1
		n++
	}
	return n
}

// genShiftAddMul multiplies HL by a two-bit constant using shifts and one
// add: for c = 2^a + 2^b (a > b), HL = ((x<<b)) + ((x<<b)<<(a-b)).
func (cg *CodeGen) genShiftAddMul(c uint16) error {
	var bits []int
	for i := 0; i < 16; i++ {
		if c&(1<<i) != 0 {
			bits = append(bits, i)
		}
	}
	if len(bits) != 2 {
		return internalf(Pos{}, "shift-add multiply on constant with %d bits", len(bits))
	}
	low, high := bits[0], bits[1]
	for i := 0; i < low; i++ {
		cg.emit("DAD\tH")
	}
	cg.emit("PUSH\tH")
	for i := low; i < high; i++ {
		cg.emit("DAD\tH")
	}
	cg.emit("POP\tD")
	cg.emit("DAD\tD")
	cg.reg.reset()
	return nil
}

// genMulConst16 multiplies HL by a constant (array strides).
func (cg *CodeGen) genMulConst16(c int) error {
	if k, ok := powerOfTwo(int64(c)); ok {
		for i := 0; i < k; i++ {
			cg.emit("DAD\tH")
		}
		cg.reg.hl = nil
		return nil
	}
	if popCount(uint16(c)) == 2 {
		return cg.genShiftAddMul(uint16(c))
	}
	cg.emit("LXI\tD,%d", c)
	cg.emit("CALL\t_mul16")
	cg.reg.reset()
	return nil
}

//  Conditions

// genCondJump emits a jump to target taken when cond's truth equals
// jumpIfTrue. Comparisons feed the jump directly and never materialize a
// boolean; and/or short-circuit straight to the consuming branch target.
func (cg *CodeGen) genCondJump(cond Expr, target string, jumpIfTrue bool) error {
	switch c := cond.(type) {
	case *NumberLit:
		truth := c.Value != 0
		if truth == jumpIfTrue {
			cg.emit("JMP\t%s", target)
		}
		return nil

	case *NotExpr:
		return cg.genCondJump(c.Operand, target, !jumpIfTrue)

	case *LogicalExpr:
		if c.Op == AND {
			if jumpIfTrue {
				// Jump to target only when both are true.
				skip := cg.newLabel("and")
				if err := cg.genCondJump(c.Left, skip, false); err != nil {
					return err
				}
				if err := cg.genCondJump(c.Right, target, true); err != nil {
					return err
				}
				cg.label(skip)
				return nil
			}
			// Jump to target when either is false.
			if err := cg.genCondJump(c.Left, target, false); err != nil {
				return err
			}
			return cg.genCondJump(c.Right, target, false)
		}
		// OR
		if jumpIfTrue {
			if err := cg.genCondJump(c.Left, target, true); err != nil {
				return err
			}
			return cg.genCondJump(c.Right, target, true)
		}
		skip := cg.newLabel("or")
		if err := cg.genCondJump(c.Left, skip, true); err != nil {
			return err
		}
		if err := cg.genCondJump(c.Right, target, false); err != nil {
			return err
		}
		cg.label(skip)
		return nil

	case *CompareExpr:
		return cg.genCompareJump(c, target, jumpIfTrue)
	}
	return internalf(cond.Position(), "unexpected condition %T in codegen", cond)
}

// genCompareJump evaluates a comparison and emits the conditional jumps.
func (cg *CodeGen) genCompareJump(c *CompareExpr, target string, jumpIfTrue bool) error {
	byteWide := TypeSize(c.Left.Type()) == 1

	if byteWide {
		if lit, ok := c.Right.(*NumberLit); ok && lit.Value >= 0 && lit.Value <= 255 {
			// Immediate byte compare.
			if err := cg.genExpr(c.Left, "A"); err != nil {
				return err
			}
			cg.emit("CPI\t%d", uint8(lit.Value))
			return cg.emitFlagJump(c.Op, target, jumpIfTrue)
		}
		if err := cg.genExpr(c.Left, "A"); err != nil {
			return err
		}
		cg.emit("PUSH\tPSW")
		if err := cg.genExpr(c.Right, "A"); err != nil {
			return err
		}
		cg.emit("MOV\tB,A")
		cg.emit("POP\tPSW")
		cg.emit("CMP\tB")
		cg.reg.reset()
		return cg.emitFlagJump(c.Op, target, jumpIfTrue)
	}

	// 16-bit subtract-and-test pattern.
	if err := cg.genExpr(c.Left, "HL"); err != nil {
		return err
	}
	cg.emit("PUSH\tH")
	if err := cg.genExpr(c.Right, "HL"); err != nil {
		return err
	}
	cg.emit("XCHG")
	cg.emit("POP\tH")
	cg.reg.reset()
	low := cg.newLabel("cmp")
	cg.emit("MOV\tA,H")
	cg.emit("CMP\tD")
	cg.emit("JNZ\t%s", low)
	cg.emit("MOV\tA,L")
	cg.emit("CMP\tE")
	cg.label(low)
	return cg.emitFlagJump(c.Op, target, jumpIfTrue)
}

// emitFlagJump turns the Z/CY flags left by a compare into control flow.
// Flag meanings: Z set when equal; CY set when left < right (unsigned).
func (cg *CodeGen) emitFlagJump(op TokenType, target string, jumpIfTrue bool) error {
	if !jumpIfTrue {
		op = negatedCompare[op]
	}
	switch op {
	case EQUALS:
		cg.emit("JZ\t%s", target)
	case NOT_EQ:
		cg.emit("JNZ\t%s", target)
	case LESS:
		cg.emit("JC\t%s", target)
	case GREATER_EQ:
		cg.emit("JNC\t%s", target)
	case GREATER:
		skip := cg.newLabel("gt")
		cg.emit("JZ\t%s", skip)
		cg.emit("JNC\t%s", target)
		cg.label(skip)
	case LESS_EQ:
		cg.emit("JZ\t%s", target)
		cg.emit("JC\t%s", target)
	default:
		return internalf(Pos{}, "unknown comparison operator in codegen")
	}
	return nil
}

//  Calls

// genCall emits a direct call (arguments in the callee's static slots), an
// indirect interface call (arguments in the interface's slots, jump
// through the stored address), or an external-runtime call (register
// convention: HL, then DE, then BC).
func (cg *CodeGen) genCall(call *CallExpr, target string) error {
	switch {
	case call.Sub != nil && cg.inlined[call.Sub]:
		return cg.genBody(call.Sub.Body)

	case call.Sub != nil && call.Sub.Extern != "" && call.Sub.Flavor == SubForwardDecl && call.Sub.Body == nil:
		return cg.genExternCall(call)

	case call.Sub != nil:
		info := cg.an.Info(call.Sub)
		for i, arg := range call.Args {
			slot := info.Locals[i]
			if err := cg.storeToSlot(arg, cg.varLabel(slot), info.Params[i].Type); err != nil {
				return err
			}
		}
		cg.emit("CALL\t%s", subLabel(call.Sub))
		cg.reg.reset()
		return nil

	case call.Iface != nil:
		iface := call.Iface
		for i, arg := range call.Args {
			slot := fmt.Sprintf("v_%s_%s", iface.Name, iface.Params[i].Name)
			if err := cg.storeToSlot(arg, slot, iface.Params[i].Type); err != nil {
				return err
			}
		}
		ref, ok := call.Target.(*VarRef)
		if !ok || ref.Sym == nil {
			return internalf(call.At, "indirect call target unresolved")
		}
		cg.emit("LHLD\t%s", cg.varLabel(ref.Sym))
		cg.emit("CALL\t_callhl") // the helper PCHLs into the stored address
		cg.reg.reset()
		return nil
	}
	return internalf(call.At, "call neither direct nor indirect in codegen")
}

func (cg *CodeGen) storeToSlot(arg Expr, slot string, t Type) error {
	if TypeSize(t) == 1 {
		if err := cg.genExpr(arg, "A"); err != nil {
			return err
		}
		cg.emit("STA\t%s", slot)
	} else {
		if err := cg.genExpr(arg, "HL"); err != nil {
			return err
		}
		cg.emit("SHLD\t%s", slot)
	}
	return nil
}

// genExternCall uses the register convention for runtime-provided
// subroutines, whose storage this compiler does not own.
func (cg *CodeGen) genExternCall(call *CallExpr) error {
	switch len(call.Args) {
	case 0:
	case 1:
		if err := cg.genExpr(call.Args[0], "HL"); err != nil {
			return err
		}
	case 2:
		if err := cg.genExpr(call.Args[0], "HL"); err != nil {
			return err
		}
		cg.emit("PUSH\tH")
		if err := cg.genExpr(call.Args[1], "HL"); err != nil {
			return err
		}
		cg.emit("XCHG")
		cg.emit("POP\tH")
	case 3:
		if err := cg.genExpr(call.Args[0], "HL"); err != nil {
			return err
		}
		cg.emit("PUSH\tH")
		if err := cg.genExpr(call.Args[1], "HL"); err != nil {
			return err
		}
		cg.emit("PUSH\tH")
		if err := cg.genExpr(call.Args[2], "HL"); err != nil {
			return err
		}
		cg.emit("MOV\tB,H")
		cg.emit("MOV\tC,L")
		cg.emit("POP\tD")
		cg.emit("POP\tH")
	default:
		return diagAt(KindSemantic, call.At, "external subroutine %q takes at most 3 arguments", call.Sub.Name)
	}
	cg.emit("CALL\t%s", call.Sub.Extern)
	cg.reg.reset()
	return nil
}
