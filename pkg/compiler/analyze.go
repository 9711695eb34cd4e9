package compiler

import "fmt"

// Analyzer resolves names, checks types bottom-up, lays out records,
// folds constants, and verifies the call graph is acyclic. After a
// successful run every expression node carries a non-nil type and every
// name reference is bound to a Symbol.
type Analyzer struct {
	syms  *SymbolTable
	subs  map[string]*SubDecl
	infos map[*SubDecl]*SubInfo

	current   *SubDecl // subroutine whose body is being analyzed
	loopDepth int
}

// NewAnalyzer returns an analyzer over a fresh symbol table.
func NewAnalyzer() *Analyzer {
	return &Analyzer{
		syms:  NewSymbolTable(),
		subs:  make(map[string]*SubDecl),
		infos: make(map[*SubDecl]*SubInfo),
	}
}

// Symbols exposes the finished symbol table to the code generator.
func (a *Analyzer) Symbols() *SymbolTable { return a.syms }

// Info returns the analysis record for sub.
func (a *Analyzer) Info(sub *SubDecl) *SubInfo { return a.infos[sub] }

// Subs returns every analyzed subroutine, keyed by name.
func (a *Analyzer) Subs() map[string]*SubDecl { return a.subs }

// Analyze checks the whole program in declaration order.
func (a *Analyzer) Analyze(prog *Program) error {
	for _, stmt := range prog.Stmts {
		if err := a.checkStmt(stmt); err != nil {
			return err
		}
	}
	if err := a.checkForwardDecls(); err != nil {
		return err
	}
	return a.checkCallGraph()
}

// checkForwardDecls verifies every @decl was implemented or is @extern.
func (a *Analyzer) checkForwardDecls() error {
	for _, sub := range a.subs {
		if sub.Flavor == SubForwardDecl && sub.Body == nil && sub.Extern == "" {
			return diagAt(KindSemantic, sub.At, "forward-declared sub %q is never implemented", sub.Name)
		}
	}
	return nil
}

// checkCallGraph rejects direct or transitive recursion. The language
// forbids it; the static overlay allocator depends on it.
func (a *Analyzer) checkCallGraph() error {
	const (
		unvisited = 0
		active    = 1
		done      = 2
	)
	state := make(map[*SubDecl]int)
	var visit func(sub *SubDecl) error
	visit = func(sub *SubDecl) error {
		switch state[sub] {
		case active:
			return diagAt(KindSemantic, sub.At, "recursive call involving sub %q", sub.Name)
		case done:
			return nil
		}
		state[sub] = active
		if info := a.infos[sub]; info != nil {
			for _, callee := range info.Callees {
				if err := visit(callee); err != nil {
					return err
				}
			}
		}
		state[sub] = done
		return nil
	}
	for _, sub := range a.subs {
		if err := visit(sub); err != nil {
			return err
		}
	}
	return nil
}

//  Statements

func (a *Analyzer) checkStmt(stmt Stmt) error {
	switch s := stmt.(type) {
	case *VarDecl:
		return a.checkVarDecl(s)
	case *ConstDecl:
		return a.checkConstDecl(s)
	case *TypedefDecl:
		return a.checkTypedefDecl(s)
	case *RecordDecl:
		return a.checkRecordDecl(s)
	case *InterfaceDecl:
		return a.checkInterfaceDecl(s)
	case *SubDecl:
		return a.checkSubDecl(s)
	case *AssignStmt:
		return a.checkAssign(s)
	case *MultiAssign:
		return a.checkMultiAssign(s)
	case *ExprStmt:
		call, ok := s.Expr.(*CallExpr)
		if !ok {
			return diagAt(KindSemantic, s.At, "expression statement must be a call")
		}
		_, err := a.checkCall(call, nil, true)
		return err
	case *IfStmt:
		if err := a.checkCond(s.Cond); err != nil {
			return err
		}
		if err := a.checkBody(s.Then); err != nil {
			return err
		}
		for _, ei := range s.Elseifs {
			if err := a.checkCond(ei.Cond); err != nil {
				return err
			}
			if err := a.checkBody(ei.Body); err != nil {
				return err
			}
		}
		return a.checkBody(s.Else)
	case *WhileStmt:
		if err := a.checkCond(s.Cond); err != nil {
			return err
		}
		a.loopDepth++
		err := a.checkBody(s.Body)
		a.loopDepth--
		return err
	case *LoopStmt:
		a.loopDepth++
		err := a.checkBody(s.Body)
		a.loopDepth--
		return err
	case *BreakStmt:
		if a.loopDepth == 0 {
			return diagAt(KindSemantic, s.At, "break outside loop")
		}
		return nil
	case *ContinueStmt:
		if a.loopDepth == 0 {
			return diagAt(KindSemantic, s.At, "continue outside loop")
		}
		return nil
	case *ReturnStmt:
		return nil
	case *CaseStmt:
		return a.checkCase(s)
	case *AsmStmt:
		for i := range s.Parts {
			part := &s.Parts[i]
			if part.Ident == "" {
				continue
			}
			sym, ok := a.syms.Lookup(part.Ident)
			if !ok {
				return diagAt(KindResolve, s.At, "undeclared identifier %q in @asm", part.Ident)
			}
			part.Sym = sym
		}
		return nil
	}
	return internalf(stmt.Position(), "unhandled statement %T", stmt)
}

func (a *Analyzer) checkBody(stmts []Stmt) error {
	for _, stmt := range stmts {
		if err := a.checkStmt(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (a *Analyzer) checkVarDecl(d *VarDecl) error {
	var typ Type
	var err error
	if d.TypeRef != nil {
		typ, err = a.resolveType(d.TypeRef)
		if err != nil {
			return err
		}
	}

	if d.Init != nil {
		if list, ok := d.Init.(*InitList); ok {
			typ, err = a.checkInitList(d, list, typ)
			if err != nil {
				return err
			}
		} else {
			if typ == nil {
				if _, bare := d.Init.(*NumberLit); bare {
					return diagAt(KindType, d.At, "cannot infer a type for %q from a bare integer literal", d.Name)
				}
			}
			initType, err := a.typeExpr(d.Init, typ)
			if err != nil {
				return err
			}
			if typ == nil {
				typ = initType
			} else if !typesEqual(typ, initType) {
				return diagAt(KindType, d.At, "cannot initialize %s %q with %s", typ, d.Name, initType)
			}
		}
	}

	if typ == nil {
		return internalf(d.At, "variable %q has no type after checking", d.Name)
	}
	if arr, ok := resolveAlias(typ).(*ArrayType); ok && arr.Count == 0 {
		return diagAt(KindType, d.At, "array %q needs an extent or an initializer", d.Name)
	}
	sym := &Symbol{Name: d.Name, Kind: SymVar, Type: typ}
	if a.current == nil {
		sym.Init = d.Init
	}
	if err := a.syms.Define(sym, d.At); err != nil {
		return err
	}
	d.Sym = sym
	if a.current != nil {
		info := a.infos[a.current]
		info.Locals = append(info.Locals, sym)
	}
	return nil
}

// checkInitList types an array initializer, inferring the extent when the
// declared type omitted it.
func (a *Analyzer) checkInitList(d *VarDecl, list *InitList, declared Type) (Type, error) {
	if declared == nil {
		return nil, diagAt(KindType, d.At, "initializer list for %q needs a declared array type", d.Name)
	}
	arr, ok := resolveAlias(declared).(*ArrayType)
	if !ok {
		return nil, diagAt(KindType, d.At, "initializer list is only valid for arrays, not %s", declared)
	}
	if arr.Count == 0 {
		// Extent inferred from the initializer.
		arr = &ArrayType{Elem: arr.Elem, Count: len(list.Elems)}
	} else if arr.Count != len(list.Elems) {
		return nil, diagAt(KindType, d.At, "array %q has %d elements but %d initializers", d.Name, arr.Count, len(list.Elems))
	}
	for _, elem := range list.Elems {
		if _, err := a.typeExpr(elem, arr.Elem); err != nil {
			return nil, err
		}
	}
	list.SetType(arr)
	return arr, nil
}

// checkConstDecl folds the constant eagerly. Evaluation happens in
// declaration order, so a dependency cycle surfaces as a reference to a
// name that is not bound yet.
func (a *Analyzer) checkConstDecl(d *ConstDecl) error {
	value, err := a.evalConst(d.Expr)
	if err != nil {
		return err
	}
	d.Value = value
	sym := &Symbol{Name: d.Name, Kind: SymConst, Value: value}
	if err := a.syms.Define(sym, d.At); err != nil {
		return err
	}
	return nil
}

func (a *Analyzer) checkTypedefDecl(d *TypedefDecl) error {
	target, err := a.resolveType(d.TypeRef)
	if err != nil {
		return err
	}
	alias := &AliasType{Name: d.Name, Target: target}
	return a.syms.Define(&Symbol{Name: d.Name, Kind: SymType, Type: alias}, d.At)
}

// checkRecordDecl computes the record layout. Fields without @at occupy
// successive offsets; an implicit field after an @at field resumes after
// the highest byte occupied so far.
func (a *Analyzer) checkRecordDecl(d *RecordDecl) error {
	rec := &RecordType{Name: d.Name}
	if d.BaseName != "" {
		sym, ok := a.syms.Lookup(d.BaseName)
		if !ok || sym.Kind != SymType {
			return diagAt(KindResolve, d.At, "unknown base record %q", d.BaseName)
		}
		base, ok := resolveAlias(sym.Type).(*RecordType)
		if !ok {
			return diagAt(KindType, d.At, "base type %q is not a record", d.BaseName)
		}
		rec.Base = base
		rec.Fields = append(rec.Fields, base.Fields...)
		rec.Size = base.Size
	}

	highWater := rec.Size
	for _, field := range d.Fields {
		if _, dup := rec.Field(field.Name); dup {
			return diagAt(KindResolve, d.At, "duplicate field %q in record %q", field.Name, d.Name)
		}
		ftype, err := a.resolveType(field.TypeRef)
		if err != nil {
			return err
		}
		offset := highWater
		if field.AtExpr != nil {
			at, err := a.evalConst(field.AtExpr)
			if err != nil {
				return err
			}
			if at < 0 {
				return diagAt(KindSemantic, d.At, "@at offset of field %q is negative", field.Name)
			}
			offset = int(at)
		}
		rec.Fields = append(rec.Fields, RecordField{Name: field.Name, Type: ftype, Offset: offset})
		if end := offset + TypeSize(ftype); end > highWater {
			highWater = end
		}
	}
	rec.Size = highWater
	d.Typ = rec
	return a.syms.Define(&Symbol{Name: d.Name, Kind: SymType, Type: rec}, d.At)
}

func (a *Analyzer) checkInterfaceDecl(d *InterfaceDecl) error {
	iface := &InterfaceType{Name: d.Name}
	var err error
	iface.Params, err = a.resolveParams(d.Params)
	if err != nil {
		return err
	}
	iface.Returns, err = a.resolveParams(d.Returns)
	if err != nil {
		return err
	}
	d.Typ = iface
	return a.syms.Define(&Symbol{Name: d.Name, Kind: SymType, Type: iface}, d.At)
}

func (a *Analyzer) resolveParams(decls []ParamDecl) ([]Param, error) {
	var params []Param
	for _, pd := range decls {
		t, err := a.resolveType(pd.Type)
		if err != nil {
			return nil, err
		}
		params = append(params, Param{Name: pd.Name, Type: t})
	}
	return params, nil
}

func (a *Analyzer) checkSubDecl(d *SubDecl) error {
	params, err := a.resolveParams(d.Params)
	if err != nil {
		return err
	}
	returns, err := a.resolveParams(d.Returns)
	if err != nil {
		return err
	}

	switch d.Flavor {
	case SubForwardImpl:
		fwd, ok := a.subs[d.Name]
		if !ok || fwd.Flavor != SubForwardDecl {
			return diagAt(KindSemantic, d.At, "@impl sub %q has no matching @decl", d.Name)
		}
		fwdInfo := a.infos[fwd]
		if !signatureEqual(params, returns, fwdInfo.Params, fwdInfo.Returns) {
			return diagAt(KindType, d.At, "@impl sub %q signature %s does not match @decl %s",
				d.Name, signatureString(params, returns), signatureString(fwdInfo.Params, fwdInfo.Returns))
		}
		// The @decl names are authoritative for the body.
		params = fwdInfo.Params
		returns = fwdInfo.Returns
		fwd.Body = d.Body
		if fwd.Body == nil {
			fwd.Body = []Stmt{} // an empty @impl body still implements the @decl
		}
		fwd.Nested = d.Nested
		d.Info = fwdInfo
		return a.checkSubBody(fwd, fwdInfo, d.Body)

	case SubForwardDecl, SubPlain:
		if _, dup := a.subs[d.Name]; dup {
			return diagAt(KindResolve, d.At, "duplicate declaration of sub %q", d.Name)
		}
		info := &SubInfo{Decl: d, Params: params, Returns: returns}
		a.infos[d] = info
		d.Info = info
		a.subs[d.Name] = d
		sym := &Symbol{Name: d.Name, Kind: SymSub, Sub: d}
		if err := a.syms.Define(sym, d.At); err != nil {
			return err
		}
		if d.Implements != "" {
			if err := a.checkImplements(d, info); err != nil {
				return err
			}
		}
		if d.Flavor == SubForwardDecl {
			return nil
		}
		return a.checkSubBody(d, info, d.Body)
	}
	return internalf(d.At, "unknown sub flavor %d", d.Flavor)
}

func (a *Analyzer) checkImplements(d *SubDecl, info *SubInfo) error {
	sym, ok := a.syms.Lookup(d.Implements)
	if !ok || sym.Kind != SymType {
		return diagAt(KindResolve, d.At, "unknown interface %q", d.Implements)
	}
	iface, ok := resolveAlias(sym.Type).(*InterfaceType)
	if !ok {
		return diagAt(KindType, d.At, "%q is not an interface", d.Implements)
	}
	if !signatureEqual(info.Params, info.Returns, iface.Params, iface.Returns) {
		return diagAt(KindType, d.At, "sub %q does not match interface %q", d.Name, d.Implements)
	}
	return nil
}

func (a *Analyzer) checkSubBody(d *SubDecl, info *SubInfo, body []Stmt) error {
	a.syms.Push(d)
	defer a.syms.Pop()

	for _, p := range info.Params {
		sym := &Symbol{Name: p.Name, Kind: SymVar, Type: p.Type, Pinned: true}
		if err := a.syms.Define(sym, d.At); err != nil {
			return err
		}
		info.Locals = append(info.Locals, sym)
	}
	for _, r := range info.Returns {
		sym := &Symbol{Name: r.Name, Kind: SymVar, Type: r.Type, Pinned: true}
		if err := a.syms.Define(sym, d.At); err != nil {
			return err
		}
		info.Locals = append(info.Locals, sym)
	}

	outer := a.current
	outerLoops := a.loopDepth
	a.current = d
	a.loopDepth = 0
	err := a.checkBody(body)
	a.current = outer
	a.loopDepth = outerLoops
	return err
}

func (a *Analyzer) checkAssign(s *AssignStmt) error {
	targetType, err := a.checkLvalue(s.Target)
	if err != nil {
		return err
	}
	valueType, err := a.typeExpr(s.Value, targetType)
	if err != nil {
		return err
	}
	if !typesEqual(targetType, valueType) {
		return diagAt(KindType, s.At, "cannot assign %s to %s", valueType, targetType)
	}
	return nil
}

func (a *Analyzer) checkMultiAssign(s *MultiAssign) error {
	var targetTypes []Type
	for _, target := range s.Targets {
		t, err := a.checkLvalue(target)
		if err != nil {
			return err
		}
		targetTypes = append(targetTypes, t)
	}
	returns, err := a.checkCall(s.Call, nil, true)
	if err != nil {
		return err
	}
	if len(returns) != len(s.Targets) {
		return diagAt(KindType, s.At, "call returns %d values but %d targets given", len(returns), len(s.Targets))
	}
	for i, r := range returns {
		if !typesEqual(targetTypes[i], r.Type) {
			return diagAt(KindType, s.At, "return %d has type %s, target wants %s", i+1, r.Type, targetTypes[i])
		}
	}
	return nil
}

// checkLvalue types an assignment target and verifies it is addressable.
func (a *Analyzer) checkLvalue(e Expr) (Type, error) {
	switch t := e.(type) {
	case *VarRef:
		sym, ok := a.syms.Lookup(t.Name)
		if !ok {
			return nil, diagAt(KindResolve, t.At, "undeclared identifier %q", t.Name)
		}
		if sym.Kind != SymVar {
			return nil, diagAt(KindType, t.At, "%q is a %s, not assignable", t.Name, sym.Kind)
		}
		t.Sym = sym
		t.SetType(sym.Type)
		return sym.Type, nil
	case *IndexExpr, *MemberExpr, *DerefExpr:
		return a.typeExpr(e, nil)
	}
	return nil, diagAt(KindType, e.Position(), "%s is not assignable", e)
}

func (a *Analyzer) checkCase(s *CaseStmt) error {
	exprType, err := a.typeExpr(s.Expr, nil)
	if err != nil {
		return err
	}
	if !isIntType(exprType) {
		return diagAt(KindType, s.At, "case selector must be an integer, got %s", exprType)
	}
	for _, arm := range s.Arms {
		for _, val := range arm.Values {
			if _, err := a.evalConst(val); err != nil {
				return err
			}
			if _, err := a.typeExpr(val, exprType); err != nil {
				return err
			}
		}
		if err := a.checkBody(arm.Body); err != nil {
			return err
		}
	}
	return a.checkBody(s.Else)
}

//  Conditions

// checkCond types a conditional expression. Comparisons and and/or/not are
// only legal here; anywhere else they are semantic errors.
func (a *Analyzer) checkCond(e Expr) error {
	switch c := e.(type) {
	case *CompareExpr:
		// A literal on the left adopts the other side's type, so type the
		// non-literal operand first.
		first, second := c.Left, c.Right
		if _, leftLit := c.Left.(*NumberLit); leftLit {
			first, second = c.Right, c.Left
		}
		firstType, err := a.typeExpr(first, nil)
		if err != nil {
			return err
		}
		secondType, err := a.typeExpr(second, firstType)
		if err != nil {
			return err
		}
		if !typesEqual(firstType, secondType) {
			return diagAt(KindType, c.At, "comparison operands differ: %s vs %s", firstType, secondType)
		}
		c.SetType(TypeUint8)
		return nil
	case *LogicalExpr:
		if err := a.checkCond(c.Left); err != nil {
			return err
		}
		if err := a.checkCond(c.Right); err != nil {
			return err
		}
		c.SetType(TypeUint8)
		return nil
	case *NotExpr:
		if err := a.checkCond(c.Operand); err != nil {
			return err
		}
		c.SetType(TypeUint8)
		return nil
	case *NumberLit:
		// A folded condition; the optimizer turns these into dead-code
		// decisions.
		c.SetType(TypeUint8)
		return nil
	}
	return diagAt(KindSemantic, e.Position(), "condition must be a comparison")
}

//  Expressions

// typeExpr types e bottom-up. expected guides untyped literals; a literal
// that fits nowhere is an error. The result is never nil on success.
func (a *Analyzer) typeExpr(e Expr, expected Type) (Type, error) {
	switch t := e.(type) {
	case *NumberLit:
		if expected != nil && (isIntType(expected) || isPtr(expected)) {
			if isIntType(expected) && !literalFits(t.Value, resolveAlias(expected).(*IntType)) {
				return nil, diagAt(KindType, t.At, "literal %d does not fit in %s", t.Value, expected)
			}
			t.SetType(expected)
			return expected, nil
		}
		// No context: a free-standing literal defaults to int16.
		t.SetType(TypeInt16)
		return TypeInt16, nil

	case *StringLit:
		st := &PtrType{Target: TypeUint8}
		t.SetType(st)
		return st, nil

	case *NilLit:
		if expected != nil {
			if _, ok := isPtrType(expected); ok {
				t.SetType(expected)
				return expected, nil
			}
			if _, ok := resolveAlias(expected).(*InterfaceType); ok {
				t.SetType(expected)
				return expected, nil
			}
		}
		return nil, diagAt(KindType, t.At, "nil needs pointer context")

	case *VarRef:
		return a.typeVarRef(t, expected)

	case *MemberExpr:
		return a.typeMember(t)

	case *IndexExpr:
		return a.typeIndex(t)

	case *DerefExpr:
		ptrType, err := a.typeExpr(t.Ptr, nil)
		if err != nil {
			return nil, err
		}
		ptr, ok := isPtrType(ptrType)
		if !ok {
			return nil, diagAt(KindType, t.At, "cannot dereference %s", ptrType)
		}
		t.SetType(ptr.Target)
		return ptr.Target, nil

	case *AddrExpr:
		member, ok := t.Operand.(*MemberExpr)
		if !ok {
			return nil, diagAt(KindType, t.At, "& is only legal on a record field")
		}
		fieldType, err := a.typeMember(member)
		if err != nil {
			return nil, err
		}
		pt := &PtrType{Target: fieldType}
		t.SetType(pt)
		return pt, nil

	case *UnaryExpr:
		opType, err := a.typeExpr(t.Operand, expected)
		if err != nil {
			return nil, err
		}
		if !isIntType(opType) {
			return nil, diagAt(KindType, t.At, "unary %s needs an integer, got %s", opText(t.Op), opType)
		}
		t.SetType(opType)
		return opType, nil

	case *BinaryExpr:
		return a.typeBinary(t, expected)

	case *CompareExpr, *LogicalExpr, *NotExpr:
		return nil, diagAt(KindSemantic, e.Position(), "comparison outside conditional context")

	case *CastExpr:
		return a.typeCast(t)

	case *CallExpr:
		returns, err := a.checkCall(t, expected, false)
		if err != nil {
			return nil, err
		}
		return returns[0].Type, nil

	case *SizeofExpr:
		argType, err := a.typeExpr(t.Arg, nil)
		if err != nil {
			return nil, err
		}
		arr, ok := resolveAlias(argType).(*ArrayType)
		if !ok {
			return nil, diagAt(KindType, t.At, "@sizeof needs an array, got %s", argType)
		}
		it := indexTypeOf(arr)
		if expected != nil && isIntType(expected) {
			t.SetType(expected)
			return expected, nil
		}
		t.SetType(it)
		return it, nil

	case *BytesofExpr:
		if _, err := a.bytesofTarget(t); err != nil {
			return nil, err
		}
		if expected != nil && isIntType(expected) {
			t.SetType(expected)
			return expected, nil
		}
		t.SetType(TypeUint16)
		return TypeUint16, nil

	case *NextExpr:
		return a.typePointerStep(t.Ptr, t)

	case *PrevExpr:
		return a.typePointerStep(t.Ptr, t)

	case *InitList:
		return nil, diagAt(KindType, t.At, "initializer list outside variable initializer")
	}
	return nil, internalf(e.Position(), "unhandled expression %T", e)
}

func isPtr(t Type) bool {
	_, ok := isPtrType(t)
	return ok
}

// literalFits checks representability at the declared width.
func literalFits(v int64, t *IntType) bool {
	bits := uint(t.Size * 8)
	if t.Signed {
		min := -(int64(1) << (bits - 1))
		max := int64(1)<<(bits-1) - 1
		return v >= min && v <= max
	}
	// Unsigned slots also accept the 2's-complement bit pattern of a
	// negative literal at the same width.
	max := int64(1)<<bits - 1
	min := -(int64(1) << (bits - 1))
	return v >= min && v <= max
}

func (a *Analyzer) typeVarRef(t *VarRef, expected Type) (Type, error) {
	sym, ok := a.syms.Lookup(t.Name)
	if !ok {
		return nil, diagAt(KindResolve, t.At, "undeclared identifier %q", t.Name)
	}
	t.Sym = sym
	switch sym.Kind {
	case SymVar:
		t.SetType(sym.Type)
		return sym.Type, nil
	case SymConst:
		// A constant behaves like the literal it folded to.
		if expected != nil && isIntType(expected) {
			if !literalFits(sym.Value, resolveAlias(expected).(*IntType)) {
				return nil, diagAt(KindType, t.At, "constant %q (%d) does not fit in %s", t.Name, sym.Value, expected)
			}
			t.SetType(expected)
			return expected, nil
		}
		t.SetType(TypeInt16)
		return TypeInt16, nil
	case SymSub:
		// A bare subroutine reference is only meaningful where an
		// interface value is wanted, and the sub must declare that it
		// implements the interface: its parameters live in the
		// interface's shared slots.
		var iface *InterfaceType
		if expected != nil {
			iface, _ = resolveAlias(expected).(*InterfaceType)
		}
		if iface == nil {
			return nil, diagAt(KindType, t.At, "sub %q referenced outside an interface context", t.Name)
		}
		if sym.Sub.Implements != iface.Name {
			return nil, diagAt(KindType, t.At, "sub %q does not implement interface %q", t.Name, iface.Name)
		}
		info := a.infos[sym.Sub]
		if !signatureEqual(info.Params, info.Returns, iface.Params, iface.Returns) {
			return nil, diagAt(KindType, t.At, "sub %q does not match interface %q", t.Name, iface.Name)
		}
		t.SetType(expected)
		return expected, nil
	case SymType:
		return nil, diagAt(KindType, t.At, "type %q used as a value", t.Name)
	}
	return nil, internalf(t.At, "unknown symbol kind %d", sym.Kind)
}

func (a *Analyzer) typeMember(t *MemberExpr) (Type, error) {
	recType, err := a.typeExpr(t.Record, nil)
	if err != nil {
		return nil, err
	}
	resolved := resolveAlias(recType)
	if ptr, ok := resolved.(*PtrType); ok {
		resolved = resolveAlias(ptr.Target)
	}
	rec, ok := resolved.(*RecordType)
	if !ok {
		return nil, diagAt(KindType, t.At, "field access on non-record %s", recType)
	}
	field, ok := rec.Field(t.Field)
	if !ok {
		return nil, diagAt(KindResolve, t.At, "record %q has no field %q", rec.Name, t.Field)
	}
	t.Info = field
	t.SetType(field.Type)
	return field.Type, nil
}

func (a *Analyzer) typeIndex(t *IndexExpr) (Type, error) {
	arrType, err := a.typeExpr(t.Array, nil)
	if err != nil {
		return nil, err
	}
	arr, ok := resolveAlias(arrType).(*ArrayType)
	if !ok {
		return nil, diagAt(KindType, t.At, "cannot index %s", arrType)
	}
	idxType := indexTypeOf(arr)
	gotIdx, err := a.typeExpr(t.Index, idxType)
	if err != nil {
		return nil, err
	}
	if !typesEqual(gotIdx, idxType) {
		return nil, diagAt(KindType, t.At, "index must be %s, got %s", idxType, gotIdx)
	}
	t.SetType(arr.Elem)
	return arr.Elem, nil
}

func (a *Analyzer) typeBinary(t *BinaryExpr, expected Type) (Type, error) {
	// Pointer arithmetic: p + n / p - n moves by n bytes.
	leftType, err := a.typeExpr(t.Left, expected)
	if err != nil {
		return nil, err
	}
	if _, ok := isPtrType(leftType); ok && (t.Op == PLUS || t.Op == MINUS) {
		if _, err := a.typeExpr(t.Right, TypeIntPtr); err != nil {
			return nil, err
		}
		t.SetType(leftType)
		return leftType, nil
	}
	if !isIntType(leftType) {
		return nil, diagAt(KindType, t.At, "operator %s needs integers, got %s", opText(t.Op), leftType)
	}

	if t.Op == SHL_OP || t.Op == SHR_OP {
		// Shift counts are always uint8.
		rightType, err := a.typeExpr(t.Right, TypeUint8)
		if err != nil {
			return nil, err
		}
		if !typesEqual(rightType, TypeUint8) {
			return nil, diagAt(KindType, t.At, "shift count must be uint8, got %s", rightType)
		}
		t.SetType(leftType)
		return leftType, nil
	}

	rightType, err := a.typeExpr(t.Right, leftType)
	if err != nil {
		return nil, err
	}
	if !typesEqual(leftType, rightType) {
		return nil, diagAt(KindType, t.At, "operand types differ: %s %s %s; no implicit conversions", leftType, opText(t.Op), rightType)
	}
	t.SetType(leftType)
	return leftType, nil
}

func (a *Analyzer) typeCast(t *CastExpr) (Type, error) {
	target, err := a.resolveType(t.Target)
	if err != nil {
		return nil, err
	}
	srcType, err := a.typeExpr(t.Expr, nil)
	if err != nil {
		return nil, err
	}
	srcInt := isIntType(srcType)
	dstInt := isIntType(target)
	_, srcPtr := isPtrType(srcType)
	_, dstPtr := isPtrType(target)
	srcPtrSized := srcInt && resolveAlias(srcType).(*IntType).IsPtrSized
	dstPtrSized := dstInt && resolveAlias(target).(*IntType).IsPtrSized

	legal := (srcInt && dstInt) ||
		(srcPtr && dstPtr) ||
		(srcPtr && dstPtrSized) ||
		(srcPtrSized && dstPtr)
	if !legal {
		return nil, diagAt(KindType, t.At, "cannot cast %s to %s", srcType, target)
	}
	t.SetType(target)
	return target, nil
}

// checkCall resolves a call to a direct subroutine or an interface value
// and type-checks the arguments. asStmt permits calls with any number of
// returns; an expression call must return at least one value.
func (a *Analyzer) checkCall(call *CallExpr, expected Type, asStmt bool) ([]Param, error) {
	ref, ok := call.Target.(*VarRef)
	if !ok {
		return nil, diagAt(KindType, call.At, "call target must be a name")
	}
	sym, found := a.syms.Lookup(ref.Name)
	if !found {
		return nil, diagAt(KindResolve, ref.At, "undeclared identifier %q", ref.Name)
	}
	ref.Sym = sym

	var params, returns []Param
	switch sym.Kind {
	case SymSub:
		call.Sub = sym.Sub
		info := a.infos[sym.Sub]
		params, returns = info.Params, info.Returns
		if a.current != nil {
			cur := a.infos[a.current]
			cur.Callees = append(cur.Callees, sym.Sub)
		}
	case SymVar:
		iface, ok := resolveAlias(sym.Type).(*InterfaceType)
		if !ok {
			return nil, diagAt(KindType, call.At, "%q is not callable", ref.Name)
		}
		call.Iface = iface
		ref.SetType(sym.Type)
		params, returns = iface.Params, iface.Returns
	default:
		return nil, diagAt(KindType, call.At, "%q is not callable", ref.Name)
	}

	if len(call.Args) != len(params) {
		return nil, diagAt(KindType, call.At, "call to %q has %d arguments, wants %d", ref.Name, len(call.Args), len(params))
	}
	for i, arg := range call.Args {
		argType, err := a.typeExpr(arg, params[i].Type)
		if err != nil {
			return nil, err
		}
		if !typesEqual(argType, params[i].Type) {
			return nil, diagAt(KindType, arg.Position(), "argument %d to %q has type %s, wants %s", i+1, ref.Name, argType, params[i].Type)
		}
	}

	if !asStmt {
		if len(returns) == 0 {
			return nil, diagAt(KindType, call.At, "call to %q returns nothing", ref.Name)
		}
		call.SetType(returns[0].Type)
	} else if len(returns) > 0 {
		call.SetType(returns[0].Type)
	} else {
		call.SetType(TypeUint8) // statement call; the value is unused
	}
	return returns, nil
}

func (a *Analyzer) typePointerStep(ptr Expr, node Expr) (Type, error) {
	ptrType, err := a.typeExpr(ptr, nil)
	if err != nil {
		return nil, err
	}
	if _, ok := isPtrType(ptrType); !ok {
		return nil, diagAt(KindType, node.Position(), "@next/@prev need a pointer, got %s", ptrType)
	}
	node.SetType(ptrType)
	return ptrType, nil
}

// bytesofTarget resolves the operand of @bytesof: a value expression or a
// bare type name.
func (a *Analyzer) bytesofTarget(t *BytesofExpr) (Type, error) {
	if ref, ok := t.Arg.(*VarRef); ok {
		if sym, found := a.syms.Lookup(ref.Name); found && sym.Kind == SymType {
			ref.Sym = sym
			ref.SetType(sym.Type)
			return sym.Type, nil
		}
	}
	return a.typeExpr(t.Arg, nil)
}

//  Type resolution

func (a *Analyzer) resolveType(ref TypeExpr) (Type, error) {
	switch t := ref.(type) {
	case *NamedTypeExpr:
		sym, ok := a.syms.Lookup(t.Name)
		if !ok || sym.Kind != SymType {
			return nil, diagAt(KindResolve, t.At, "unknown type %q", t.Name)
		}
		return sym.Type, nil
	case *PtrTypeExpr:
		target, err := a.resolveType(t.Target)
		if err != nil {
			return nil, err
		}
		return &PtrType{Target: target}, nil
	case *ArrayTypeExpr:
		elem, err := a.resolveType(t.Elem)
		if err != nil {
			return nil, err
		}
		if t.Count == nil {
			// Extent inferred later from the initializer; Count 0 marks it.
			return &ArrayType{Elem: elem}, nil
		}
		count, err := a.evalConst(t.Count)
		if err != nil {
			return nil, err
		}
		if count <= 0 {
			return nil, diagAt(KindSemantic, t.At, "array extent must be positive, got %d", count)
		}
		return &ArrayType{Elem: elem, Count: int(count)}, nil
	case *IndexofTypeExpr:
		argType, err := a.typeExpr(t.Arg, nil)
		if err != nil {
			return nil, err
		}
		arr, ok := resolveAlias(argType).(*ArrayType)
		if !ok {
			return nil, diagAt(KindType, t.At, "@indexof needs an array, got %s", argType)
		}
		return indexTypeOf(arr), nil
	}
	return nil, internalf(Pos{}, "unhandled type expression %T", ref)
}

//  Constant evaluation

// evalConst folds a compile-time constant expression. A constant whose
// expression is not resolvable is a fatal error.
func (a *Analyzer) evalConst(e Expr) (int64, error) {
	switch t := e.(type) {
	case *NumberLit:
		return t.Value, nil
	case *VarRef:
		sym, ok := a.syms.Lookup(t.Name)
		if !ok {
			return 0, diagAt(KindResolve, t.At, "undeclared identifier %q in constant expression", t.Name)
		}
		if sym.Kind != SymConst {
			return 0, diagAt(KindSemantic, t.At, "%q is not a constant", t.Name)
		}
		t.Sym = sym
		return sym.Value, nil
	case *UnaryExpr:
		v, err := a.evalConst(t.Operand)
		if err != nil {
			return 0, err
		}
		switch t.Op {
		case MINUS:
			return -v, nil
		case TILDE:
			return ^v, nil
		}
	case *BinaryExpr:
		left, err := a.evalConst(t.Left)
		if err != nil {
			return 0, err
		}
		right, err := a.evalConst(t.Right)
		if err != nil {
			return 0, err
		}
		return applyConstOp(t.Op, left, right, t.At)
	case *SizeofExpr:
		argType, err := a.typeExpr(t.Arg, nil)
		if err != nil {
			return 0, err
		}
		arr, ok := resolveAlias(argType).(*ArrayType)
		if !ok {
			return 0, diagAt(KindType, t.At, "@sizeof needs an array")
		}
		return int64(arr.Count), nil
	case *BytesofExpr:
		target, err := a.bytesofTarget(t)
		if err != nil {
			return 0, err
		}
		return int64(TypeSize(target)), nil
	}
	return 0, diagAt(KindSemantic, e.Position(), "expression is not constant: %s", e)
}

func applyConstOp(op TokenType, left, right int64, pos Pos) (int64, error) {
	switch op {
	case PLUS:
		return left + right, nil
	case MINUS:
		return left - right, nil
	case STAR:
		return left * right, nil
	case SLASH:
		if right == 0 {
			return 0, diagAt(KindSemantic, pos, "division by zero in constant expression")
		}
		return left / right, nil
	case PERCENT:
		if right == 0 {
			return 0, diagAt(KindSemantic, pos, "division by zero in constant expression")
		}
		return left % right, nil
	case AMPERSAND:
		return left & right, nil
	case PIPE:
		return left | right, nil
	case CARET:
		return left ^ right, nil
	case SHL_OP:
		return left << uint(right&63), nil
	case SHR_OP:
		return left >> uint(right&63), nil
	}
	return 0, diagAt(KindSemantic, pos, "operator %s not allowed in constant expression", fmt.Sprint(op))
}
