package compiler

import (
	"fmt"
	"sort"
	"strings"
)

// CodeGen walks the optimized AST and emits 8080 assembly source text in
// the syntax accepted by the downstream macro assembler. Expressions
// evaluate into HL (16-bit) or A (8-bit); a register tracker suppresses
// redundant reloads.
type CodeGen struct {
	an *Analyzer

	subsOut strings.Builder // subroutine bodies
	mainOut strings.Builder // top-level statements
	cur     *strings.Builder

	data []string // initialized globals and the string pool
	bss  []string // DS reservations and the overlay EQU map

	stringPool  map[string]string // value -> label
	stringOrder []string
	labelSeq    int

	current        *SubDecl
	breakLabels    []string
	continueLabels []string
	nestedQueue    []*SubDecl

	reg regTrack

	callCounts map[*SubDecl]int
	inlined    map[*SubDecl]bool
	bodyCost   map[*SubDecl]int
}

// regTrack remembers which variable most recently loaded A and HL. Scalars
// cannot be aliased through pointers (& is record-field only), so only
// calls, labels and direct stores invalidate entries.
type regTrack struct {
	a  *Symbol
	hl *Symbol
}

func (r *regTrack) reset()          { r.a, r.hl = nil, nil }
func (r *regTrack) setA(s *Symbol)  { r.a = s }
func (r *regTrack) setHL(s *Symbol) { r.hl = s; r.a = nil }

// NewCodeGen builds a generator over the analyzer's tables.
func NewCodeGen(an *Analyzer) *CodeGen {
	return &CodeGen{
		an:         an,
		stringPool: make(map[string]string),
		callCounts: make(map[*SubDecl]int),
		inlined:    make(map[*SubDecl]bool),
		bodyCost:   make(map[*SubDecl]int),
	}
}

// Generate emits the whole program.
func Generate(prog *Program, an *Analyzer) (string, error) {
	return NewCodeGen(an).Generate(prog)
}

//  Emission helpers

func (cg *CodeGen) emit(format string, args ...any) {
	fmt.Fprintf(cg.cur, "\t"+format+"\n", args...)
}

func (cg *CodeGen) label(l string) {
	fmt.Fprintf(cg.cur, "%s:\n", l)
	cg.reg.reset()
}

func (cg *CodeGen) comment(format string, args ...any) {
	fmt.Fprintf(cg.cur, "; "+format+"\n", args...)
}

func (cg *CodeGen) newLabel(prefix string) string {
	cg.labelSeq++
	return fmt.Sprintf("%s%d", prefix, cg.labelSeq)
}

//  Name mangling

var registerNames = map[string]bool{
	"A": true, "B": true, "C": true, "D": true, "E": true,
	"H": true, "L": true, "M": true, "SP": true, "PSW": true,
}

// varLabel mangles a variable label. Source names take a v_ prefix so they
// can never collide with register mnemonics.
func (cg *CodeGen) varLabel(sym *Symbol) string {
	if sym.Label != "" {
		return sym.Label
	}
	if sym.Owner == nil {
		sym.Label = "v_" + sym.Name
	} else {
		sym.Label = "v_" + sym.Owner.Name + "_" + sym.Name
	}
	return sym.Label
}

// subLabel mangles a subroutine label; only register-colliding names are
// prefixed.
func subLabel(sub *SubDecl) string {
	if sub.Extern != "" {
		return sub.Extern
	}
	if registerNames[strings.ToUpper(sub.Name)] {
		return "s_" + sub.Name
	}
	return sub.Name
}

func (cg *CodeGen) stringLabel(value string) string {
	if label, ok := cg.stringPool[value]; ok {
		return label
	}
	label := cg.newLabel("str")
	cg.stringPool[value] = label
	cg.stringOrder = append(cg.stringOrder, value)
	return label
}

//  Program

// Generate lays out storage, emits every subroutine, the main line, the
// data section and the BSS overlay map.
func (cg *CodeGen) Generate(prog *Program) (string, error) {
	cg.countCalls(prog)
	cg.pickInlineCandidates()
	if err := cg.layoutStorage(prog); err != nil {
		return "", err
	}

	// Subroutines first, main-line statements after, as the original
	// emission order has it.
	for _, stmt := range prog.Stmts {
		if sub, ok := stmt.(*SubDecl); ok {
			if sub.Flavor == SubForwardImpl {
				continue // the @decl node carries the checked body
			}
			if err := cg.genSub(sub); err != nil {
				return "", err
			}
		}
	}

	cg.cur = &cg.mainOut
	cg.label("_main")
	for _, stmt := range prog.Stmts {
		switch stmt.(type) {
		case *SubDecl, *RecordDecl, *TypedefDecl, *InterfaceDecl, *ConstDecl:
			continue
		}
		if err := cg.genStmt(stmt); err != nil {
			return "", err
		}
	}
	cg.emit("JMP\t0") // warm boot

	var out strings.Builder
	out.WriteString("; Generated by ucow\n\n")
	out.WriteString("\t.8080\n\n")
	out.WriteString("\tCSEG\n\n")
	out.WriteString("\tJMP\t_main\n\n")
	out.WriteString("\tINCLUDE\t'runtime.mac'\n\n")
	out.WriteString(cg.subsOut.String())
	out.WriteString("\n; Main program\n")
	out.WriteString(cg.mainOut.String())
	out.WriteString("\n; Data segment\n_data:\n")
	for _, line := range cg.data {
		out.WriteString(line + "\n")
	}
	for _, value := range cg.stringOrder {
		label := cg.stringPool[value]
		var bytes []string
		for i := 0; i < len(value); i++ {
			bytes = append(bytes, fmt.Sprintf("%d", value[i]))
		}
		bytes = append(bytes, "0")
		out.WriteString(fmt.Sprintf("%s:\tDB\t%s\n", label, strings.Join(bytes, ",")))
	}
	out.WriteString("\n; Uninitialized storage\n")
	for _, line := range cg.bss {
		out.WriteString(line + "\n")
	}
	out.WriteString("\n\tEND\n")
	return out.String(), nil
}

//  Inlining policy

func (cg *CodeGen) countCalls(prog *Program) {
	for _, sub := range cg.an.Subs() {
		info := cg.an.Info(sub)
		if info == nil {
			continue
		}
		for _, callee := range info.Callees {
			cg.callCounts[callee]++
		}
	}
	// Calls from the top level count too.
	var countBody func(stmts []Stmt)
	countExpr := func(e Expr) {
		rewriteExpr(e, func(x Expr) Expr {
			if call, ok := x.(*CallExpr); ok && call.Sub != nil {
				// Only count when made outside any sub: in-sub calls are
				// already in Callees.
				cg.callCounts[call.Sub]++
			}
			return x
		})
	}
	countBody = func(stmts []Stmt) {
		for _, s := range stmts {
			switch t := s.(type) {
			case *SubDecl:
				// Covered by Callees.
			case *AssignStmt:
				countExpr(t.Value)
			case *ExprStmt:
				countExpr(t.Expr)
			case *MultiAssign:
				countExpr(t.Call)
			case *VarDecl:
				if t.Init != nil {
					countExpr(t.Init)
				}
			case *IfStmt:
				countBody(t.Then)
				for _, ei := range t.Elseifs {
					countBody(ei.Body)
				}
				countBody(t.Else)
			case *WhileStmt:
				countBody(t.Body)
			case *LoopStmt:
				countBody(t.Body)
			case *CaseStmt:
				for _, arm := range t.Arms {
					countBody(arm.Body)
				}
				countBody(t.Else)
			}
		}
	}
	countBody(prog.Stmts)
}

// pickInlineCandidates applies the size heuristic: a candidate has no
// parameters, no returns, no locals, no loops and no early return. A sub
// called exactly once is always inlined; otherwise inline only when
// N*size < size + 3*N + 1, minimizing emitted bytes.
func (cg *CodeGen) pickInlineCandidates() {
	for _, sub := range cg.an.Subs() {
		info := cg.an.Info(sub)
		if sub.Body == nil || sub.Extern != "" || sub.Implements != "" {
			continue
		}
		if len(info.Params) != 0 || len(info.Returns) != 0 || len(info.Locals) != 0 {
			continue
		}
		if len(sub.Nested) != 0 || bodyHasLoopOrReturn(sub.Body) {
			continue
		}
		n := cg.callCounts[sub]
		if n == 0 {
			continue
		}
		size := bodyWeight(sub.Body)
		cg.bodyCost[sub] = size
		if n == 1 || n*size < size+3*n+1 {
			cg.inlined[sub] = true
		}
	}
}

func bodyHasLoopOrReturn(stmts []Stmt) bool {
	found := false
	var walk func([]Stmt)
	walk = func(b []Stmt) {
		for _, s := range b {
			switch t := s.(type) {
			case *WhileStmt, *LoopStmt, *ReturnStmt:
				found = true
			case *IfStmt:
				walk(t.Then)
				for _, ei := range t.Elseifs {
					walk(ei.Body)
				}
				walk(t.Else)
			case *CaseStmt:
				for _, arm := range t.Arms {
					walk(arm.Body)
				}
				walk(t.Else)
			}
		}
	}
	walk(stmts)
	return found
}

// bodyWeight is a crude emitted-size estimate in statements.
func bodyWeight(stmts []Stmt) int {
	n := 0
	var walk func([]Stmt)
	walk = func(b []Stmt) {
		for _, s := range b {
			n++
			switch t := s.(type) {
			case *IfStmt:
				walk(t.Then)
				for _, ei := range t.Elseifs {
					walk(ei.Body)
				}
				walk(t.Else)
			case *CaseStmt:
				for _, arm := range t.Arms {
					walk(arm.Body)
				}
				walk(t.Else)
			}
		}
	}
	walk(stmts)
	return n
}

//  Storage layout

// layoutStorage assigns every variable its stable address. Globals get
// their own labels in data or BSS; locals pack into overlay regions whose
// bases come from the call graph (no recursion means one live activation
// per subroutine). Subroutines reachable through interfaces cannot be
// overlaid and stack after everything else.
func (cg *CodeGen) layoutStorage(prog *Program) error {
	// Globals.
	for _, sym := range cg.an.Symbols().Globals() {
		label := cg.varLabel(sym)
		size := TypeSize(sym.Type)
		if line, ok := cg.constInitializer(sym, label); ok {
			cg.data = append(cg.data, line)
		} else {
			cg.bss = append(cg.bss, fmt.Sprintf("%s:\tDS\t%d", label, size))
		}
	}

	// Per-sub frame sizes and in-frame offsets.
	subs := cg.sortedSubs()
	for _, sub := range subs {
		info := cg.an.Info(sub)
		off := 0
		for _, local := range info.Locals {
			local.Offset = off
			off += TypeSize(local.Type)
		}
		info.FrameSize = off
	}

	// Overlay bases in topological order: a callee's region starts after
	// every caller's.
	callers := make(map[*SubDecl][]*SubDecl)
	for _, sub := range subs {
		for _, callee := range cg.an.Info(sub).Callees {
			callers[callee] = append(callers[callee], sub)
		}
	}
	var baseOf func(sub *SubDecl, seen map[*SubDecl]bool) int
	memo := make(map[*SubDecl]int)
	baseOf = func(sub *SubDecl, seen map[*SubDecl]bool) int {
		if b, ok := memo[sub]; ok {
			return b
		}
		if seen[sub] {
			return 0 // cycle: rejected earlier, defensive here
		}
		seen[sub] = true
		base := 0
		for _, caller := range callers[sub] {
			end := baseOf(caller, seen) + cg.an.Info(caller).FrameSize
			if end > base {
				base = end
			}
		}
		memo[sub] = base
		return base
	}

	totalEnd := 0
	var plain, viaInterface []*SubDecl
	for _, sub := range subs {
		if sub.Implements != "" {
			viaInterface = append(viaInterface, sub)
		} else {
			plain = append(plain, sub)
		}
	}
	for _, sub := range plain {
		info := cg.an.Info(sub)
		info.FrameBase = baseOf(sub, make(map[*SubDecl]bool))
		if end := info.FrameBase + info.FrameSize; end > totalEnd {
			totalEnd = end
		}
	}
	// Interface implementors may be entered from any indirect call site,
	// so their frames never share bytes with anything.
	for _, sub := range viaInterface {
		info := cg.an.Info(sub)
		info.FrameBase = totalEnd
		totalEnd += info.FrameSize
	}

	// Implementors read their parameters and returns from the interface's
	// shared slots, labeled positionally by the interface's own names so
	// every implementor and every indirect call site agree.
	for _, sub := range subs {
		info := cg.an.Info(sub)
		iface := cg.ifaceOf(sub)
		np, nr := len(info.Params), len(info.Returns)
		for i, local := range info.Locals {
			if iface != nil && i < np+nr {
				if i < np {
					local.Label = fmt.Sprintf("v_%s_%s", iface.Name, iface.Params[i].Name)
				} else {
					local.Label = fmt.Sprintf("v_%s_%s", iface.Name, iface.Returns[i-np].Name)
				}
				continue
			}
			local.Label = fmt.Sprintf("v_%s_%s", sub.Name, local.Name)
			cg.bss = append(cg.bss, fmt.Sprintf("%s\tEQU\t_workspace+%d", local.Label, info.FrameBase+local.Offset))
		}
	}

	// Interface slot reservations.
	seenIface := make(map[string]bool)
	for _, sub := range subs {
		iface := cg.ifaceOf(sub)
		if iface == nil || seenIface[iface.Name] {
			continue
		}
		seenIface[iface.Name] = true
		for _, p := range append(append([]Param{}, iface.Params...), iface.Returns...) {
			cg.bss = append(cg.bss, fmt.Sprintf("v_%s_%s:\tDS\t%d", iface.Name, p.Name, TypeSize(p.Type)))
		}
	}

	if totalEnd > 0 {
		cg.bss = append(cg.bss, fmt.Sprintf("_workspace:\tDS\t%d", totalEnd))
	}
	return nil
}

func (cg *CodeGen) ifaceOf(sub *SubDecl) *InterfaceType {
	if sub.Implements == "" {
		return nil
	}
	if sym, ok := cg.an.Symbols().Lookup(sub.Implements); ok {
		if iface, ok := resolveAlias(sym.Type).(*InterfaceType); ok {
			return iface
		}
	}
	return nil
}

func (cg *CodeGen) sortedSubs() []*SubDecl {
	var subs []*SubDecl
	for _, sub := range cg.an.Subs() {
		subs = append(subs, sub)
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].Name < subs[j].Name })
	return subs
}

// constInitializer renders a compile-time initializer as a data directive.
func (cg *CodeGen) constInitializer(sym *Symbol, label string) (string, bool) {
	if sym.Init == nil {
		return "", false
	}
	elemDirective := func(t Type, v int64) []string {
		switch TypeSize(t) {
		case 1:
			return []string{fmt.Sprintf("DB\t%d", uint8(v))}
		case 2:
			return []string{fmt.Sprintf("DW\t%d", uint16(v))}
		case 4:
			return []string{fmt.Sprintf("DW\t%d", uint16(v)), fmt.Sprintf("DW\t%d", uint16(v>>16))}
		}
		return nil
	}
	switch init := sym.Init.(type) {
	case *NumberLit:
		parts := elemDirective(sym.Type, init.Value)
		if parts == nil {
			return "", false
		}
		return fmt.Sprintf("%s:\t%s", label, strings.Join(parts, "\n\t")), true
	case *StringLit:
		return fmt.Sprintf("%s:\tDW\t%s", label, cg.stringLabel(init.Value)), true
	case *InitList:
		arr, ok := resolveAlias(sym.Type).(*ArrayType)
		if !ok {
			return "", false
		}
		var values []string
		for _, elem := range init.Elems {
			lit, ok := elem.(*NumberLit)
			if !ok {
				return "", false
			}
			if TypeSize(arr.Elem) == 1 {
				values = append(values, fmt.Sprintf("%d", uint8(lit.Value)))
			} else {
				values = append(values, fmt.Sprintf("%d", uint16(lit.Value)))
			}
		}
		directive := "DB"
		if TypeSize(arr.Elem) != 1 {
			directive = "DW"
		}
		return fmt.Sprintf("%s:\t%s\t%s", label, directive, strings.Join(values, ",")), true
	}
	return "", false
}

//  Subroutines

func (cg *CodeGen) genSub(sub *SubDecl) error {
	if sub.Body == nil {
		return nil // @extern declaration: the runtime provides it
	}
	if cg.inlined[sub] {
		return nil // expanded at every call site
	}

	cg.cur = &cg.subsOut
	cg.comment("")
	cg.comment("Subroutine %s", sub.Name)
	if sub.Extern != "" {
		cg.emit("PUBLIC\t%s", sub.Extern)
	}
	cg.label(subLabel(sub))

	prev := cg.current
	cg.current = sub
	if err := cg.genBody(sub.Body); err != nil {
		return err
	}
	if err := cg.genEpilogue(sub); err != nil {
		return err
	}
	cg.current = prev

	for len(cg.nestedQueue) > 0 {
		next := cg.nestedQueue[0]
		cg.nestedQueue = cg.nestedQueue[1:]
		if err := cg.genSub(next); err != nil {
			return err
		}
	}
	return nil
}

// genEpilogue loads the first return value and returns.
func (cg *CodeGen) genEpilogue(sub *SubDecl) error {
	info := cg.an.Info(sub)
	if len(info.Returns) > 0 {
		ret := info.Locals[len(info.Params)]
		cg.loadVar(ret, "HL")
	}
	cg.emit("RET")
	cg.reg.reset()
	return nil
}

func (cg *CodeGen) genBody(stmts []Stmt) error {
	for _, stmt := range stmts {
		if err := cg.genStmt(stmt); err != nil {
			return err
		}
	}
	return nil
}

//  Statements

func (cg *CodeGen) genStmt(stmt Stmt) error {
	switch s := stmt.(type) {
	case *VarDecl:
		return cg.genVarDecl(s)
	case *ConstDecl, *TypedefDecl, *RecordDecl, *InterfaceDecl:
		return nil
	case *SubDecl:
		if cg.current != nil {
			cg.nestedQueue = append(cg.nestedQueue, s)
			return nil
		}
		return nil // emitted by the program walk
	case *AssignStmt:
		return cg.genAssign(s)
	case *MultiAssign:
		return cg.genMultiAssign(s)
	case *ExprStmt:
		call, ok := s.Expr.(*CallExpr)
		if !ok {
			return internalf(s.At, "expression statement is not a call")
		}
		return cg.genCall(call, "HL")
	case *IfStmt:
		return cg.genIf(s)
	case *WhileStmt:
		return cg.genWhile(s)
	case *LoopStmt:
		return cg.genLoop(s)
	case *BreakStmt:
		if len(cg.breakLabels) == 0 {
			return internalf(s.At, "break outside loop reached codegen")
		}
		cg.emit("JMP\t%s", cg.breakLabels[len(cg.breakLabels)-1])
		return nil
	case *ContinueStmt:
		if len(cg.continueLabels) == 0 {
			return internalf(s.At, "continue outside loop reached codegen")
		}
		cg.emit("JMP\t%s", cg.continueLabels[len(cg.continueLabels)-1])
		return nil
	case *ReturnStmt:
		if cg.current != nil {
			return cg.genEpilogue(cg.current)
		}
		cg.emit("JMP\t0")
		return nil
	case *CaseStmt:
		return cg.genCase(s)
	case *AsmStmt:
		return cg.genAsm(s)
	}
	return internalf(stmt.Position(), "unhandled statement %T in codegen", stmt)
}

// genVarDecl emits runtime initialization for locals and for globals whose
// initializer is not a compile-time constant.
func (cg *CodeGen) genVarDecl(s *VarDecl) error {
	if s.Init == nil || s.Sym == nil {
		return nil
	}
	if s.Sym.Global() {
		if _, ok := cg.constInitializer(s.Sym, cg.varLabel(s.Sym)); ok {
			return nil // already in the data section
		}
	}
	if list, ok := s.Init.(*InitList); ok {
		return cg.genListInit(s.Sym, list)
	}
	assign := &AssignStmt{Target: tmpRef(s.Sym, s.Init), Value: s.Init}
	assign.At = s.At
	return cg.genAssign(assign)
}

func (cg *CodeGen) genListInit(sym *Symbol, list *InitList) error {
	arr, ok := resolveAlias(sym.Type).(*ArrayType)
	if !ok {
		return internalf(list.At, "list initializer for non-array %s", sym.Name)
	}
	elemSize := TypeSize(arr.Elem)
	label := cg.varLabel(sym)
	offset := 0
	for _, elem := range list.Elems {
		if elemSize == 1 {
			if err := cg.genExpr(elem, "A"); err != nil {
				return err
			}
			cg.emit("STA\t%s+%d", label, offset)
		} else {
			if err := cg.genExpr(elem, "HL"); err != nil {
				return err
			}
			cg.emit("SHLD\t%s+%d", label, offset)
		}
		offset += elemSize
	}
	cg.reg.reset()
	return nil
}

func (cg *CodeGen) genAssign(s *AssignStmt) error {
	switch target := s.Target.(type) {
	case *VarRef:
		sym := target.Sym
		if sym == nil || sym.Kind != SymVar {
			return internalf(s.At, "assignment to unresolved %q", target.Name)
		}
		size := TypeSize(sym.Type)
		if size == 1 {
			if err := cg.genExpr(s.Value, "A"); err != nil {
				return err
			}
			cg.emit("STA\t%s", cg.varLabel(sym))
			cg.reg.setA(sym)
		} else {
			if err := cg.genExpr(s.Value, "HL"); err != nil {
				return err
			}
			cg.emit("SHLD\t%s", cg.varLabel(sym))
			cg.reg.setHL(sym)
		}
		return nil

	case *IndexExpr, *MemberExpr, *DerefExpr:
		if err := cg.genExpr(s.Value, "HL"); err != nil {
			return err
		}
		cg.emit("PUSH\tH")
		if err := cg.genAddress(s.Target); err != nil {
			return err
		}
		cg.emit("XCHG") // DE = address
		cg.emit("POP\tH")
		if TypeSize(s.Target.Type()) == 1 {
			cg.emit("MOV\tA,L")
			cg.emit("STAX\tD")
		} else {
			cg.emit("XCHG")
			cg.emit("MOV\tM,E")
			cg.emit("INX\tH")
			cg.emit("MOV\tM,D")
		}
		cg.reg.reset()
		return nil
	}
	return internalf(s.At, "unassignable target %T", s.Target)
}

func (cg *CodeGen) genMultiAssign(s *MultiAssign) error {
	if err := cg.genCall(s.Call, "HL"); err != nil {
		return err
	}
	// A runtime-provided callee has no slots this compiler owns: its one
	// return value arrives in HL.
	if sub := s.Call.Sub; sub != nil && sub.Body == nil && sub.Extern != "" {
		if len(s.Targets) != 1 {
			return diagAt(KindSemantic, s.At, "external subroutine %q returns one value", sub.Name)
		}
		ref, ok := s.Targets[0].(*VarRef)
		if !ok || ref.Sym == nil {
			return diagAt(KindSemantic, s.At, "external return target must be a variable")
		}
		if TypeSize(ref.Sym.Type) == 1 {
			cg.emit("MOV\tA,L")
			cg.emit("STA\t%s", cg.varLabel(ref.Sym))
			cg.reg.setA(ref.Sym)
		} else {
			cg.emit("SHLD\t%s", cg.varLabel(ref.Sym))
			cg.reg.setHL(ref.Sym)
		}
		return nil
	}
	// Every return value sits in the callee's static slot; copy them out.
	var returns []Param
	var slotLabel func(i int) string
	if s.Call.Sub != nil {
		info := cg.an.Info(s.Call.Sub)
		returns = info.Returns
		slotLabel = func(i int) string {
			return cg.varLabel(info.Locals[len(info.Params)+i])
		}
	} else {
		iface := s.Call.Iface
		returns = iface.Returns
		slotLabel = func(i int) string {
			return fmt.Sprintf("v_%s_%s", iface.Name, iface.Returns[i].Name)
		}
	}
	for i, target := range s.Targets {
		assign := &AssignStmt{Target: target, Value: slotExpr(slotLabel(i), returns[i].Type, s.At)}
		assign.At = s.At
		if err := cg.genAssign(assign); err != nil {
			return err
		}
	}
	return nil
}

// slotRead is a synthetic expression node for reading a raw labeled slot.
type slotRead struct {
	exprBase
	label string
}

func (e *slotRead) String() string { return "<slot " + e.label + ">" }

func slotExpr(label string, t Type, at Pos) Expr {
	e := &slotRead{label: label}
	e.At = at
	e.Typ = t
	return e
}

func (cg *CodeGen) genIf(s *IfStmt) error {
	endLabel := cg.newLabel("endif")
	nextLabel := cg.newLabel("else")
	hasElse := len(s.Elseifs) > 0 || s.Else != nil

	if hasElse {
		if err := cg.genCondJump(s.Cond, nextLabel, false); err != nil {
			return err
		}
	} else {
		if err := cg.genCondJump(s.Cond, endLabel, false); err != nil {
			return err
		}
	}
	if err := cg.genBody(s.Then); err != nil {
		return err
	}
	if hasElse {
		cg.emit("JMP\t%s", endLabel)
	}

	for i, ei := range s.Elseifs {
		cg.label(nextLabel)
		last := i == len(s.Elseifs)-1 && s.Else == nil
		if last {
			nextLabel = endLabel
		} else {
			nextLabel = cg.newLabel("else")
		}
		if err := cg.genCondJump(ei.Cond, nextLabel, false); err != nil {
			return err
		}
		if err := cg.genBody(ei.Body); err != nil {
			return err
		}
		if !last {
			cg.emit("JMP\t%s", endLabel)
		}
	}
	if s.Else != nil {
		cg.label(nextLabel)
		if err := cg.genBody(s.Else); err != nil {
			return err
		}
	}
	cg.label(endLabel)
	return nil
}

func (cg *CodeGen) genWhile(s *WhileStmt) error {
	loopLabel := cg.newLabel("while")
	endLabel := cg.newLabel("endw")
	cg.breakLabels = append(cg.breakLabels, endLabel)
	cg.continueLabels = append(cg.continueLabels, loopLabel)

	cg.label(loopLabel)
	if err := cg.genCondJump(s.Cond, endLabel, false); err != nil {
		return err
	}
	if err := cg.genBody(s.Body); err != nil {
		return err
	}
	cg.emit("JMP\t%s", loopLabel)
	cg.label(endLabel)

	cg.breakLabels = cg.breakLabels[:len(cg.breakLabels)-1]
	cg.continueLabels = cg.continueLabels[:len(cg.continueLabels)-1]
	return nil
}

func (cg *CodeGen) genLoop(s *LoopStmt) error {
	loopLabel := cg.newLabel("loop")
	endLabel := cg.newLabel("endl")
	cg.breakLabels = append(cg.breakLabels, endLabel)
	cg.continueLabels = append(cg.continueLabels, loopLabel)

	cg.label(loopLabel)
	if err := cg.genBody(s.Body); err != nil {
		return err
	}
	cg.emit("JMP\t%s", loopLabel)
	cg.label(endLabel)

	cg.breakLabels = cg.breakLabels[:len(cg.breakLabels)-1]
	cg.continueLabels = cg.continueLabels[:len(cg.continueLabels)-1]
	return nil
}

func (cg *CodeGen) genCase(s *CaseStmt) error {
	endLabel := cg.newLabel("endc")
	byteWide := TypeSize(s.Expr.Type()) == 1

	if byteWide {
		if err := cg.genExpr(s.Expr, "A"); err != nil {
			return err
		}
	} else {
		if err := cg.genExpr(s.Expr, "HL"); err != nil {
			return err
		}
	}

	for _, arm := range s.Arms {
		nextArm := cg.newLabel("when")
		bodyLabel := cg.newLabel("arm")
		for vi, val := range arm.Values {
			lit, ok := val.(*NumberLit)
			if !ok {
				return internalf(s.At, "case arm value did not fold to a constant")
			}
			last := vi == len(arm.Values)-1
			if byteWide {
				cg.emit("CPI\t%d", uint8(lit.Value))
				if last {
					cg.emit("JNZ\t%s", nextArm)
				} else {
					cg.emit("JZ\t%s", bodyLabel)
				}
			} else {
				// 16-bit match: compare HL against the immediate without
				// losing HL for the next arm.
				noMatch := cg.newLabel("cnem")
				cg.emit("MOV\tA,H")
				cg.emit("CPI\t%d", uint8(uint16(lit.Value)>>8))
				cg.emit("JNZ\t%s", noMatch)
				cg.emit("MOV\tA,L")
				cg.emit("CPI\t%d", uint8(lit.Value))
				cg.emit("JZ\t%s", bodyLabel)
				cg.label(noMatch)
				if last {
					cg.emit("JMP\t%s", nextArm)
				}
			}
		}
		cg.label(bodyLabel)
		if err := cg.genBody(arm.Body); err != nil {
			return err
		}
		cg.emit("JMP\t%s", endLabel)
		cg.label(nextArm)
	}
	if s.Else != nil {
		if err := cg.genBody(s.Else); err != nil {
			return err
		}
	}
	cg.label(endLabel)
	return nil
}

// genAsm passes text through verbatim; identifier parts substitute to
// constant values, mangled subroutine labels, or mangled variable labels.
func (cg *CodeGen) genAsm(s *AsmStmt) error {
	var parts []string
	for _, part := range s.Parts {
		if part.Ident == "" {
			parts = append(parts, part.Text)
			continue
		}
		sym := part.Sym
		if sym == nil {
			return internalf(s.At, "@asm identifier %q unresolved at codegen", part.Ident)
		}
		switch sym.Kind {
		case SymConst:
			parts = append(parts, fmt.Sprintf("%d", sym.Value))
		case SymSub:
			parts = append(parts, subLabel(sym.Sub))
		default:
			parts = append(parts, cg.varLabel(sym))
		}
	}
	cg.emit("%s", strings.Join(parts, ""))
	cg.reg.reset()
	return nil
}
