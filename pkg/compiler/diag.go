package compiler

import "fmt"

// DiagKind classifies a diagnostic by the pass that produced it.
type DiagKind int

const (
	KindLex      DiagKind = iota // unrecognized character, malformed literal
	KindParse                    // unexpected token, missing terminator
	KindResolve                  // undeclared identifier, duplicate declaration, bad include
	KindType                     // operand mismatch, illegal conversion, bad cast
	KindSemantic                 // recursive call graph, const cycle, misplaced comparison
	KindInternal                 // compiler invariant violated; never a user error
)

var diagKindNames = [...]string{
	KindLex:      "lex",
	KindParse:    "parse",
	KindResolve:  "resolve",
	KindType:     "type",
	KindSemantic: "semantic",
	KindInternal: "internal",
}

func (k DiagKind) String() string {
	if int(k) >= 0 && int(k) < len(diagKindNames) {
		return diagKindNames[k]
	}
	return fmt.Sprintf("DiagKind(%d)", int(k))
}

// Diag is a single diagnostic with a source position. It implements error
// so pipeline stages can return it directly.
type Diag struct {
	Kind DiagKind
	Pos  Pos
	Msg  string
}

func (d *Diag) Error() string {
	return fmt.Sprintf("%s: %s error: %s", d.Pos, d.Kind, d.Msg)
}

func diagAt(kind DiagKind, pos Pos, format string, args ...any) *Diag {
	return &Diag{Kind: kind, Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

// internalf reports a contradiction inside the compiler itself. These are
// kept apart from user errors so the test harness can assert the compiler
// is sound on any input.
func internalf(pos Pos, format string, args ...any) *Diag {
	return diagAt(KindInternal, pos, format, args...)
}

// Diagnostics accumulates Diags for a pipeline run. The first user error in
// a pass aborts that pass; everything collected so far is reported.
type Diagnostics struct {
	User     []*Diag
	Internal []*Diag
}

// Add files err under the proper channel. Non-Diag errors are recorded as
// internal faults: every expected failure path produces a *Diag.
func (ds *Diagnostics) Add(err error) {
	if err == nil {
		return
	}
	if d, ok := err.(*Diag); ok {
		if d.Kind == KindInternal {
			ds.Internal = append(ds.Internal, d)
		} else {
			ds.User = append(ds.User, d)
		}
		return
	}
	ds.Internal = append(ds.Internal, &Diag{Kind: KindInternal, Msg: err.Error()})
}

// Empty reports whether no diagnostics of either kind were collected.
func (ds *Diagnostics) Empty() bool {
	return len(ds.User) == 0 && len(ds.Internal) == 0
}
