package asm

// The register tracker removes redundant loads: an LDA or LHLD of a value
// the register already holds. It remembers which label most recently
// loaded A and HL and forgets everything at an invalidating instruction:
// a store to the tracked label, a call, or a label (control may join).

type trackState struct {
	a  string // label whose value A holds, "" unknown
	hl string // label whose value HL holds, "" unknown
}

func (t *trackState) reset() { t.a, t.hl = "", "" }

// trackRegisters runs one linear scan and deletes provably redundant
// loads. LDA and LHLD leave the flags alone, so removal is never
// flag-sensitive.
func trackRegisters(lines []Ins) ([]Ins, bool) {
	changed := false
	var state trackState
	var out []Ins

	for _, ins := range lines {
		if ins.Label != "" {
			state.reset()
		}
		switch ins.Op {
		case "LDA":
			if len(ins.Operands) == 1 && ins.Operands[0] == state.a {
				changed = true
				if ins.Label != "" || ins.Comment != "" {
					out = append(out, keepLabel(ins))
				}
				continue
			}
			state.a = operand0(ins)
		case "STA":
			// After the store A still holds the variable.
			state.a = operand0(ins)
			if state.hl == state.a {
				state.hl = ""
			}
		case "LHLD":
			if len(ins.Operands) == 1 && ins.Operands[0] == state.hl {
				changed = true
				if ins.Label != "" || ins.Comment != "" {
					out = append(out, keepLabel(ins))
				}
				continue
			}
			state.hl = operand0(ins)
		case "SHLD":
			state.hl = operand0(ins)
			if state.a == state.hl {
				state.a = ""
			}
		case "CALL", "CZ", "CNZ", "CC", "CNC", "CP", "CM", "CPE", "CPO", "PCHL", "RST":
			state.reset()
		default:
			if writesMemory(ins) {
				// A store through HL or DE may hit any variable.
				state.reset()
			}
			if writesA(ins) || clobbersA(ins) {
				state.a = ""
			}
			if writesHL(ins) || clobbersHL(ins) {
				state.hl = ""
			}
		}
		out = append(out, ins)
	}
	return out, changed
}

func operand0(ins Ins) string {
	if len(ins.Operands) == 1 {
		return ins.Operands[0]
	}
	return ""
}

// writesMemory reports indirect stores whose target label is unknown.
func writesMemory(ins Ins) bool {
	switch ins.Op {
	case "STAX":
		return true
	case "MOV", "MVI", "INR", "DCR":
		return len(ins.Operands) > 0 && ins.Operands[0] == "M"
	}
	return false
}

// clobbersA catches partial or arithmetic modifications writesA misses.
func clobbersA(ins Ins) bool {
	switch ins.Op {
	case "ADD", "ADC", "SUB", "SBB", "ANA", "ORA", "XRA",
		"ADI", "ACI", "SUI", "SBI", "ANI", "ORI", "XRI",
		"INR", "DCR", "CMA", "RLC", "RRC", "RAL", "RAR", "DAA":
		if ins.Op == "INR" || ins.Op == "DCR" {
			return len(ins.Operands) == 1 && ins.Operands[0] == "A"
		}
		return true
	}
	return false
}

// clobbersHL catches modifications of H or L that writesHL misses.
func clobbersHL(ins Ins) bool {
	switch ins.Op {
	case "DAD", "INX", "DCX":
		return ins.Op == "DAD" || (len(ins.Operands) == 1 && ins.Operands[0] == "H")
	case "MOV", "MVI":
		return len(ins.Operands) > 0 && (ins.Operands[0] == "H" || ins.Operands[0] == "L")
	case "INR", "DCR":
		return len(ins.Operands) == 1 && (ins.Operands[0] == "H" || ins.Operands[0] == "L" || ins.Operands[0] == "M")
	}
	return false
}
