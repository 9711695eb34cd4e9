// Package asm models the emitted 8080 instruction stream as structured
// lines, so the peephole rewriter and the register tracker can inspect
// mnemonics and operands instead of raw text.
package asm

import (
	"strings"
)

// Ins is one line of assembly output: an optional label, an optional
// mnemonic with operands, and an optional comment. Directive lines (DB,
// DS, EQU, END and friends) parse the same way.
type Ins struct {
	Label    string
	Op       string // upper-cased mnemonic or directive; "" for blank lines
	Operands []string
	Comment  string
}

// String renders the line back in the canonical emitted form.
func (i Ins) String() string {
	if i.Op == "EQU" {
		return i.Label + "\tEQU\t" + strings.Join(i.Operands, ",")
	}
	var sb strings.Builder
	if i.Label != "" {
		sb.WriteString(i.Label)
		sb.WriteString(":")
	}
	if i.Op != "" {
		sb.WriteString("\t")
		sb.WriteString(i.Op)
		if len(i.Operands) > 0 {
			sb.WriteString("\t")
			sb.WriteString(strings.Join(i.Operands, ","))
		}
	}
	if i.Comment != "" {
		if i.Label != "" || i.Op != "" {
			sb.WriteString("\t")
		}
		sb.WriteString("; ")
		sb.WriteString(i.Comment)
	}
	return sb.String()
}

// Parse splits assembly text into structured lines. The parser accepts
// exactly what the code generator emits plus hand-written @asm content.
func Parse(text string) []Ins {
	var out []Ins
	for _, raw := range strings.Split(text, "\n") {
		out = append(out, parseLine(raw))
	}
	// Drop a trailing blank produced by a final newline.
	if n := len(out); n > 0 && isZeroIns(out[n-1]) {
		out = out[:n-1]
	}
	return out
}

func isZeroIns(i Ins) bool {
	return i.Label == "" && i.Op == "" && len(i.Operands) == 0 && i.Comment == ""
}

func parseLine(raw string) Ins {
	var ins Ins
	line := raw

	if idx := strings.Index(line, ";"); idx >= 0 {
		ins.Comment = strings.TrimSpace(strings.TrimPrefix(line[idx:], ";"))
		line = line[:idx]
	}

	line = strings.TrimRight(line, " \t")
	trimmed := strings.TrimLeft(line, " \t")

	// A label is a leading token ending in ':' with no leading whitespace.
	if len(line) > 0 && line[0] != ' ' && line[0] != '\t' {
		if idx := strings.Index(trimmed, ":"); idx >= 0 {
			ins.Label = trimmed[:idx]
			trimmed = strings.TrimLeft(trimmed[idx+1:], " \t")
		}
	}

	if trimmed == "" {
		return ins
	}

	// EQU lines keep the symbol in the label slot: "name EQU value".
	fields := strings.Fields(trimmed)
	if len(fields) >= 2 && strings.EqualFold(fields[1], "EQU") {
		ins.Label = fields[0]
		ins.Op = "EQU"
		ins.Operands = []string{strings.Join(fields[2:], " ")}
		return ins
	}

	ins.Op = strings.ToUpper(fields[0])
	if len(fields) > 1 {
		rest := strings.Join(fields[1:], " ")
		for _, part := range splitOperands(rest) {
			ins.Operands = append(ins.Operands, strings.TrimSpace(part))
		}
	}
	return ins
}

// splitOperands splits on commas outside quotes, so DB 'a,b',0 survives.
func splitOperands(s string) []string {
	var out []string
	depth := 0
	inQuote := byte(0)
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inQuote != 0:
			if c == inQuote {
				inQuote = 0
			}
		case c == '\'' || c == '"':
			inQuote = c
		case c == '(':
			depth++
		case c == ')':
			depth--
		case c == ',' && depth == 0:
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

// Render joins structured lines back into assembly text.
func Render(lines []Ins) string {
	var sb strings.Builder
	for _, ins := range lines {
		sb.WriteString(ins.String())
		sb.WriteString("\n")
	}
	return sb.String()
}

//  Flag sensitivity metadata

// flagWriters are the mnemonics that set condition flags. DAD writes only
// carry but counts: a rewrite may not assume flags survive it.
var flagWriters = map[string]bool{
	"ADD": true, "ADI": true, "ADC": true, "ACI": true,
	"SUB": true, "SUI": true, "SBB": true, "SBI": true,
	"ANA": true, "ANI": true, "ORA": true, "ORI": true,
	"XRA": true, "XRI": true, "CMP": true, "CPI": true,
	"INR": true, "DCR": true, "DAD": true, "DAA": true,
	"RLC": true, "RRC": true, "RAL": true, "RAR": true,
	"CMC": true, "STC": true,
}

// flagReaders are the mnemonics whose behavior depends on current flags.
var flagReaders = map[string]bool{
	"JZ": true, "JNZ": true, "JC": true, "JNC": true,
	"JP": true, "JM": true, "JPE": true, "JPO": true,
	"RZ": true, "RNZ": true, "RC": true, "RNC": true,
	"RP": true, "RM": true, "RPE": true, "RPO": true,
	"CZ": true, "CNZ": true, "CC": true, "CNC": true,
	"CP": true, "CM": true, "CPE": true, "CPO": true,
	"ADC": true, "ACI": true, "SBB": true, "SBI": true,
	"RAL": true, "RAR": true, "DAA": true, "CMC": true,
	"PUSH": true, // PUSH PSW captures the flags
}

// flagsReadBeforeWrite reports whether any instruction after index i reads
// the flags before something rewrites them. Control transfers and labels
// end the scan: generated code always produces fresh flags (a compare or
// test) before any flag-reading instruction after a join.
func flagsReadBeforeWrite(lines []Ins, i int) bool {
	for j := i + 1; j < len(lines); j++ {
		ins := lines[j]
		if ins.Label != "" {
			return false
		}
		if ins.Op == "" {
			continue
		}
		if flagReaders[ins.Op] {
			if ins.Op == "PUSH" && len(ins.Operands) > 0 && ins.Operands[0] != "PSW" {
				// PUSH of a plain pair ignores flags.
			} else {
				return true
			}
		}
		if flagWriters[ins.Op] {
			return false
		}
		switch ins.Op {
		case "JMP", "RET", "CALL", "PCHL", "END":
			return false
		}
	}
	return false
}

//  Register liveness scans

// readsA reports whether ins consumes the A register.
func readsA(ins Ins) bool {
	op := ins.Op
	switch op {
	case "STA", "STAX", "CMA", "RLC", "RRC", "RAL", "RAR", "DAA",
		"ADI", "ACI", "SUI", "SBI", "ANI", "ORI", "XRI", "CPI",
		"ADD", "ADC", "SUB", "SBB", "ANA", "ORA", "XRA", "CMP":
		return true
	case "MOV":
		return len(ins.Operands) == 2 && ins.Operands[1] == "A"
	case "PUSH":
		return len(ins.Operands) == 1 && ins.Operands[0] == "PSW"
	}
	return false
}

// writesA reports whether ins fully replaces A.
func writesA(ins Ins) bool {
	switch ins.Op {
	case "LDA", "LDAX":
		return true
	case "MVI", "MOV":
		return len(ins.Operands) == 2 && ins.Operands[0] == "A"
	case "POP":
		return len(ins.Operands) == 1 && ins.Operands[0] == "PSW"
	}
	return false
}

// readsHL reports whether ins consumes the HL pair (M is memory at HL).
func readsHL(ins Ins) bool {
	switch ins.Op {
	case "DAD", "XCHG", "SHLD", "PCHL", "SPHL", "XTHL":
		return true
	case "INX", "DCX", "PUSH", "POP":
		return len(ins.Operands) == 1 && ins.Operands[0] == "H" && ins.Op != "POP"
	case "MOV", "MVI", "INR", "DCR", "ADD", "ADC", "SUB", "SBB", "ANA", "ORA", "XRA", "CMP":
		for _, o := range ins.Operands {
			if o == "M" || o == "H" || o == "L" {
				return true
			}
		}
	}
	return false
}

// writesHL reports whether ins fully replaces HL.
func writesHL(ins Ins) bool {
	switch ins.Op {
	case "LHLD", "XCHG", "XTHL":
		return true
	case "LXI", "POP":
		return len(ins.Operands) > 0 && ins.Operands[0] == "H"
	}
	return false
}

// aDeadAfter reports whether A's value is provably unused after index i.
func aDeadAfter(lines []Ins, i int) bool {
	for j := i + 1; j < len(lines); j++ {
		ins := lines[j]
		if ins.Label != "" {
			return false
		}
		if ins.Op == "" {
			continue
		}
		if readsA(ins) {
			return false
		}
		if writesA(ins) {
			return true
		}
		switch ins.Op {
		case "JMP", "RET", "CALL", "PCHL", "END", "JZ", "JNZ", "JC", "JNC":
			return false
		}
	}
	return false
}

// hlDeadAfter reports whether HL's value is provably unused after index i.
func hlDeadAfter(lines []Ins, i int) bool {
	for j := i + 1; j < len(lines); j++ {
		ins := lines[j]
		if ins.Label != "" {
			return false
		}
		if ins.Op == "" {
			continue
		}
		if readsHL(ins) {
			return false
		}
		if writesHL(ins) {
			return true
		}
		switch ins.Op {
		case "JMP", "RET", "CALL", "PCHL", "END", "JZ", "JNZ", "JC", "JNC":
			return false
		}
	}
	return false
}
