package compiler

import (
	"fmt"
	"sort"
	"strings"
)

// SymbolKind classifies what a name is bound to.
type SymbolKind int

const (
	SymVar   SymbolKind = iota // variable (global or subroutine-local)
	SymConst                   // compile-time constant
	SymType                    // record, interface, typedef or primitive name
	SymSub                     // subroutine
)

var symbolKindNames = [...]string{
	SymVar:   "var",
	SymConst: "const",
	SymType:  "type",
	SymSub:   "sub",
}

func (k SymbolKind) String() string { return symbolKindNames[k] }

// Symbol is a named entity. Every local variable receives a stable storage
// address (an offset into its owner's overlay region) before code
// generation begins.
type Symbol struct {
	Name string
	Kind SymbolKind
	Type Type

	Value int64    // SymConst: the folded value
	Sub   *SubDecl // SymSub: the declaration

	Owner *SubDecl // owning subroutine; nil for globals
	Init  Expr     // global initializer, for the data section

	// Pinned storage is read outside the AST: parameter slots are written
	// by callers, return slots by the epilogue. Elimination passes must
	// leave their assignments alone.
	Pinned bool

	// Storage, assigned by the code generator.
	Label  string
	Offset int // byte offset inside the owner's overlay region
}

// Global reports whether the symbol lives at file scope.
func (s *Symbol) Global() bool { return s.Owner == nil }

// SubInfo is the analyzer's record for one subroutine: resolved signature,
// locals in declaration order, and direct callees for the call-graph walk.
type SubInfo struct {
	Decl    *SubDecl
	Params  []Param
	Returns []Param
	Locals  []*Symbol // params, returns, then body locals, in order
	Callees []*SubDecl

	// Overlay layout, assigned by the code generator.
	FrameBase int
	FrameSize int
}

// Scope is one level of the lexically nested name space.
type Scope struct {
	parent *Scope
	owner  *SubDecl // subroutine owning this scope; nil at file scope
	names  map[string]*Symbol
	order  []string
}

// SymbolTable is the scope chain for one compilation. It is built during
// semantic analysis and read-only afterwards.
type SymbolTable struct {
	global  *Scope
	current *Scope
}

func NewSymbolTable() *SymbolTable {
	g := &Scope{names: make(map[string]*Symbol)}
	st := &SymbolTable{global: g, current: g}
	for name, t := range primitiveTypes {
		g.names[name] = &Symbol{Name: name, Kind: SymType, Type: t}
		g.order = append(g.order, name)
	}
	return st
}

// Push enters a new scope owned by sub (the current subroutine, or the
// enclosing one for plain blocks).
func (st *SymbolTable) Push(sub *SubDecl) {
	st.current = &Scope{parent: st.current, owner: sub, names: make(map[string]*Symbol)}
}

func (st *SymbolTable) Pop() {
	if st.current.parent == nil {
		panic("Pop on global scope")
	}
	st.current = st.current.parent
}

// Owner is the subroutine owning the current scope, nil at file scope.
func (st *SymbolTable) Owner() *SubDecl { return st.current.owner }

// Define binds name in the current scope. Redeclaration in the same scope
// is a resolution error.
func (st *SymbolTable) Define(sym *Symbol, pos Pos) error {
	if _, exists := st.current.names[sym.Name]; exists {
		return diagAt(KindResolve, pos, "duplicate declaration of %q", sym.Name)
	}
	sym.Owner = st.current.owner
	st.current.names[sym.Name] = sym
	st.current.order = append(st.current.order, sym.Name)
	return nil
}

// Lookup resolves name through the scope chain. Nested subroutines see
// names bound in any enclosing subroutine scope.
func (st *SymbolTable) Lookup(name string) (*Symbol, bool) {
	for sc := st.current; sc != nil; sc = sc.parent {
		if sym, ok := sc.names[name]; ok {
			return sym, true
		}
	}
	return nil, false
}

// Globals returns the file-scope variable symbols in declaration order.
func (st *SymbolTable) Globals() []*Symbol {
	var out []*Symbol
	for _, name := range st.global.order {
		if sym := st.global.names[name]; sym.Kind == SymVar {
			out = append(out, sym)
		}
	}
	return out
}

// String returns a deterministically ordered dump of the global scope.
func (st *SymbolTable) String() string {
	var sb strings.Builder
	names := make([]string, 0, len(st.global.names))
	for name := range st.global.names {
		names = append(names, name)
	}
	sort.Strings(names)
	sb.WriteString("Globals:\n")
	for _, name := range names {
		sym := st.global.names[name]
		if sym.Type != nil {
			fmt.Fprintf(&sb, "  %-20s %s %s\n", name, sym.Kind, sym.Type)
		} else {
			fmt.Fprintf(&sb, "  %-20s %s\n", name, sym.Kind)
		}
	}
	return sb.String()
}
