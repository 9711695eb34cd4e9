package compiler

import (
	"fmt"
	"strings"
)

//  Expression nodes

// Expr is implemented by every node that produces a value. After semantic
// analysis every expression carries a non-nil resolved type.
type Expr interface {
	exprNode()
	Position() Pos
	Type() Type
	SetType(Type)
	String() string
}

// exprBase carries the fields shared by all expression nodes. The optimizer
// must preserve Typ and At when it replaces nodes.
type exprBase struct {
	At  Pos
	Typ Type
}

func (*exprBase) exprNode()        {}
func (b *exprBase) Position() Pos  { return b.At }
func (b *exprBase) Type() Type     { return b.Typ }
func (b *exprBase) SetType(t Type) { b.Typ = t }

// NumberLit is an integer constant. It has no intrinsic width; the analyzer
// assigns the type demanded by context.
type NumberLit struct {
	exprBase
	Value int64
}

func (l *NumberLit) String() string { return fmt.Sprintf("%d", l.Value) }

// StringLit is a string constant; its value is the decoded byte sequence
// without the terminating NUL.
type StringLit struct {
	exprBase
	Value string
}

func (s *StringLit) String() string { return fmt.Sprintf("%q", s.Value) }

// NilLit is the null pointer literal.
type NilLit struct {
	exprBase
}

func (*NilLit) String() string { return "nil" }

// VarRef is a read of a named variable, constant, or subroutine.
type VarRef struct {
	exprBase
	Name string
	Sym  *Symbol // resolved by the analyzer
}

func (v *VarRef) String() string { return v.Name }

// MemberExpr is Record.Field. Record may be a record value or a pointer to
// one; the analyzer records the resolved field.
type MemberExpr struct {
	exprBase
	Record Expr
	Field  string
	Info   RecordField // resolved by the analyzer
}

func (e *MemberExpr) String() string { return fmt.Sprintf("%s.%s", e.Record, e.Field) }

// IndexExpr is Array[Index].
type IndexExpr struct {
	exprBase
	Array Expr
	Index Expr
}

func (e *IndexExpr) String() string { return fmt.Sprintf("%s[%s]", e.Array, e.Index) }

// DerefExpr is [Ptr], a load through a pointer.
type DerefExpr struct {
	exprBase
	Ptr Expr
}

func (e *DerefExpr) String() string { return fmt.Sprintf("[%s]", e.Ptr) }

// AddrExpr is &Operand. Only record member accesses may have their address
// taken; the analyzer enforces this.
type AddrExpr struct {
	exprBase
	Operand Expr
}

func (e *AddrExpr) String() string { return fmt.Sprintf("&%s", e.Operand) }

// UnaryExpr is -Operand or ~Operand.
type UnaryExpr struct {
	exprBase
	Op      TokenType
	Operand Expr
}

func (e *UnaryExpr) String() string { return fmt.Sprintf("(%s %s)", opText(e.Op), e.Operand) }

// BinaryExpr is an arithmetic or bitwise operation: Left Op Right.
type BinaryExpr struct {
	exprBase
	Op    TokenType
	Left  Expr
	Right Expr
}

func (e *BinaryExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", e.Left, opText(e.Op), e.Right)
}

// CompareExpr is Left Op Right for == != < <= > >=. Comparisons are only
// legal in conditional context and never materialize a value.
type CompareExpr struct {
	exprBase
	Op    TokenType
	Left  Expr
	Right Expr
}

func (e *CompareExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", e.Left, opText(e.Op), e.Right)
}

// LogicalExpr is a short-circuit `and` / `or`.
type LogicalExpr struct {
	exprBase
	Op    TokenType
	Left  Expr
	Right Expr
}

func (e *LogicalExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", e.Left, strings.ToLower(e.Op.String()), e.Right)
}

// NotExpr is `not Operand`.
type NotExpr struct {
	exprBase
	Operand Expr
}

func (e *NotExpr) String() string { return fmt.Sprintf("(not %s)", e.Operand) }

// CastExpr is Expr as Target.
type CastExpr struct {
	exprBase
	Target TypeExpr
	Expr   Expr
}

func (e *CastExpr) String() string { return fmt.Sprintf("(%s as %s)", e.Expr, e.Target) }

// CallExpr is Target(Args). When Target names a subroutine the call is
// direct; when it names an interface-typed variable the call goes through
// the stored address.
type CallExpr struct {
	exprBase
	Target Expr
	Args   []Expr

	Sub   *SubDecl       // non-nil for a direct call
	Iface *InterfaceType // non-nil for an indirect call
}

func (e *CallExpr) String() string {
	args := make([]string, len(e.Args))
	for i, a := range e.Args {
		args[i] = a.String()
	}
	return fmt.Sprintf("%s(%s)", e.Target, strings.Join(args, ", "))
}

// SizeofExpr is @sizeof a: the element count of array a.
type SizeofExpr struct {
	exprBase
	Arg Expr
}

func (e *SizeofExpr) String() string { return fmt.Sprintf("@sizeof %s", e.Arg) }

// BytesofExpr is @bytesof x: the byte size of a value's type, or of a
// named type.
type BytesofExpr struct {
	exprBase
	Arg Expr
}

func (e *BytesofExpr) String() string { return fmt.Sprintf("@bytesof %s", e.Arg) }

// NextExpr is @next p: p advanced by the size of its pointee.
type NextExpr struct {
	exprBase
	Ptr Expr
}

func (e *NextExpr) String() string { return fmt.Sprintf("@next %s", e.Ptr) }

// PrevExpr is @prev p: p moved back by the size of its pointee.
type PrevExpr struct {
	exprBase
	Ptr Expr
}

func (e *PrevExpr) String() string { return fmt.Sprintf("@prev %s", e.Ptr) }

// InitList is { e, e, ... }; only legal as a variable initializer.
type InitList struct {
	exprBase
	Elems []Expr
}

func (e *InitList) String() string { return fmt.Sprintf("InitList(len=%d)", len(e.Elems)) }

//  Type expressions (syntactic; resolved to Type by the analyzer)

// TypeExpr is a type as written in source.
type TypeExpr interface {
	typeExprNode()
	String() string
}

// NamedTypeExpr references a primitive, typedef, record or interface name.
type NamedTypeExpr struct {
	At   Pos
	Name string
}

func (*NamedTypeExpr) typeExprNode()    {}
func (t *NamedTypeExpr) String() string { return t.Name }

// PtrTypeExpr is [Target].
type PtrTypeExpr struct {
	At     Pos
	Target TypeExpr
}

func (*PtrTypeExpr) typeExprNode()    {}
func (t *PtrTypeExpr) String() string { return "[" + t.Target.String() + "]" }

// ArrayTypeExpr is Elem[Count]; a nil Count means the extent is inferred
// from the initializer.
type ArrayTypeExpr struct {
	At    Pos
	Elem  TypeExpr
	Count Expr
}

func (*ArrayTypeExpr) typeExprNode() {}
func (t *ArrayTypeExpr) String() string {
	if t.Count == nil {
		return t.Elem.String() + "[]"
	}
	return fmt.Sprintf("%s[%s]", t.Elem, t.Count)
}

// IndexofTypeExpr is @indexof a, usable wherever a type is expected.
type IndexofTypeExpr struct {
	At  Pos
	Arg Expr
}

func (*IndexofTypeExpr) typeExprNode()    {}
func (t *IndexofTypeExpr) String() string { return fmt.Sprintf("@indexof %s", t.Arg) }

//  Statement nodes

// Stmt is implemented by every node that does not produce a value.
type Stmt interface {
	stmtNode()
	Position() Pos
	String() string
}

type stmtBase struct {
	At Pos
}

func (*stmtBase) stmtNode()       {}
func (b *stmtBase) Position() Pos { return b.At }

// ParamDecl is one parameter or return entry of a sub or interface.
type ParamDecl struct {
	Name string
	Type TypeExpr
}

// VarDecl is `var name: type;` or `var name := expr;`. A nil TypeRef means
// the type is inferred from Init.
type VarDecl struct {
	stmtBase
	Name    string
	TypeRef TypeExpr
	Init    Expr
	Sym     *Symbol // resolved by the analyzer
}

func (d *VarDecl) String() string {
	if d.Init != nil {
		return fmt.Sprintf("var %s := %s", d.Name, d.Init)
	}
	return fmt.Sprintf("var %s: %s", d.Name, d.TypeRef)
}

// ConstDecl is `const name := expr;`. Value holds the folded result.
type ConstDecl struct {
	stmtBase
	Name  string
	Expr  Expr
	Value int64
}

func (d *ConstDecl) String() string { return fmt.Sprintf("const %s := %s", d.Name, d.Expr) }

// TypedefDecl is `typedef name is type;`.
type TypedefDecl struct {
	stmtBase
	Name    string
	TypeRef TypeExpr
}

func (d *TypedefDecl) String() string { return fmt.Sprintf("typedef %s is %s", d.Name, d.TypeRef) }

// FieldDecl is one record field as written, before layout.
type FieldDecl struct {
	Name    string
	TypeRef TypeExpr
	AtExpr  Expr // non-nil for @at(n) placement
}

// RecordDecl is `record Name [: Base] is fields end record;`.
type RecordDecl struct {
	stmtBase
	Name     string
	BaseName string // "" for a root record
	Fields   []FieldDecl
	Typ      *RecordType // resolved by the analyzer
}

func (d *RecordDecl) String() string {
	if d.BaseName != "" {
		return fmt.Sprintf("record %s: %s (%d fields)", d.Name, d.BaseName, len(d.Fields))
	}
	return fmt.Sprintf("record %s (%d fields)", d.Name, len(d.Fields))
}

// InterfaceDecl is `interface Name(params): (returns);`.
type InterfaceDecl struct {
	stmtBase
	Name    string
	Params  []ParamDecl
	Returns []ParamDecl
	Typ     *InterfaceType // resolved by the analyzer
}

func (d *InterfaceDecl) String() string { return fmt.Sprintf("interface %s", d.Name) }

// SubFlavor distinguishes plain definitions from the two halves of a
// forward declaration.
type SubFlavor int

const (
	SubPlain SubFlavor = iota
	SubForwardDecl     // @decl sub F(...);
	SubForwardImpl     // @impl sub F is ... end sub;
)

// SubDecl is a subroutine. Nested subroutines appear both in the enclosing
// body (in declaration order) and in the parent's Nested list.
type SubDecl struct {
	stmtBase
	Name       string
	Params     []ParamDecl
	Returns    []ParamDecl
	Body       []Stmt
	Flavor     SubFlavor
	Extern     string // @extern("label"), "" if none
	Implements string // interface name, "" if none
	Parent     *SubDecl
	Nested     []*SubDecl

	Info *SubInfo // resolved by the analyzer
}

func (d *SubDecl) String() string { return fmt.Sprintf("sub %s", d.Name) }

// AssignStmt is Target := Value.
type AssignStmt struct {
	stmtBase
	Target Expr
	Value  Expr
}

func (s *AssignStmt) String() string { return fmt.Sprintf("%s := %s", s.Target, s.Value) }

// MultiAssign is (a, b, ...) := call(...).
type MultiAssign struct {
	stmtBase
	Targets []Expr
	Call    *CallExpr
}

func (s *MultiAssign) String() string {
	targets := make([]string, len(s.Targets))
	for i, t := range s.Targets {
		targets[i] = t.String()
	}
	return fmt.Sprintf("(%s) := %s", strings.Join(targets, ", "), s.Call)
}

// ExprStmt is an expression evaluated for its side effects (a call).
type ExprStmt struct {
	stmtBase
	Expr Expr
}

func (s *ExprStmt) String() string { return s.Expr.String() }

// ElseIf is one elseif arm of an IfStmt.
type ElseIf struct {
	Cond Expr
	Body []Stmt
}

// IfStmt is if/elseif/else.
type IfStmt struct {
	stmtBase
	Cond    Expr
	Then    []Stmt
	Elseifs []ElseIf
	Else    []Stmt
}

func (s *IfStmt) String() string { return fmt.Sprintf("if %s", s.Cond) }

// WhileStmt is `while cond loop body end loop`.
type WhileStmt struct {
	stmtBase
	Cond Expr
	Body []Stmt
}

func (s *WhileStmt) String() string { return fmt.Sprintf("while %s", s.Cond) }

// LoopStmt is the infinite `loop ... end loop`.
type LoopStmt struct {
	stmtBase
	Body []Stmt
}

func (*LoopStmt) String() string { return "loop" }

// BreakStmt exits the innermost loop.
type BreakStmt struct {
	stmtBase
}

func (*BreakStmt) String() string { return "break" }

// ContinueStmt restarts the innermost loop.
type ContinueStmt struct {
	stmtBase
}

func (*ContinueStmt) String() string { return "continue" }

// ReturnStmt returns from the current subroutine; return values are
// assigned to the named return slots before the return.
type ReturnStmt struct {
	stmtBase
}

func (*ReturnStmt) String() string { return "return" }

// WhenArm is one `when v1, v2: body` arm of a case.
type WhenArm struct {
	Values []Expr
	Body   []Stmt
}

// CaseStmt is `case e is when ... when else: ... end case`.
type CaseStmt struct {
	stmtBase
	Expr Expr
	Arms []WhenArm
	Else []Stmt // nil when no `when else` arm
}

func (s *CaseStmt) String() string { return fmt.Sprintf("case %s (%d arms)", s.Expr, len(s.Arms)) }

// AsmPart is one comma-separated piece of an @asm statement: verbatim text
// or an identifier to substitute with its mangled label.
type AsmPart struct {
	Text  string
	Ident string  // non-empty for an identifier part
	Sym   *Symbol // resolved by the analyzer; codegen no longer sees scopes
}

// AsmStmt is `@asm "text", ident, ...;`.
type AsmStmt struct {
	stmtBase
	Parts []AsmPart
}

func (s *AsmStmt) String() string { return fmt.Sprintf("@asm (%d parts)", len(s.Parts)) }

// Program is one compilation unit after include splicing: the top-level
// statements form the main program; declarations may appear interleaved.
type Program struct {
	Stmts []Stmt
}

// opText renders an operator TokenType as source text.
func opText(tt TokenType) string {
	switch tt {
	case PLUS:
		return "+"
	case MINUS:
		return "-"
	case STAR:
		return "*"
	case SLASH:
		return "/"
	case PERCENT:
		return "%"
	case AMPERSAND:
		return "&"
	case PIPE:
		return "|"
	case CARET:
		return "^"
	case TILDE:
		return "~"
	case SHL_OP:
		return "<<"
	case SHR_OP:
		return ">>"
	case EQUALS:
		return "=="
	case NOT_EQ:
		return "!="
	case LESS:
		return "<"
	case LESS_EQ:
		return "<="
	case GREATER:
		return ">"
	case GREATER_EQ:
		return ">="
	}
	return tt.String()
}
