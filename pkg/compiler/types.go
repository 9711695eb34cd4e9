package compiler

import (
	"fmt"
	"strings"
)

// Type is implemented by every Cowgol type. All types have alignment 1;
// identity is canonical after alias resolution.
type Type interface {
	typeNode()
	String() string
}

// IntType is a primitive integer. IsPtrSized marks intptr, which is the
// same width as a pointer but a distinct type.
type IntType struct {
	Name       string
	Size       int // bytes: 1, 2 or 4
	Signed     bool
	IsPtrSized bool
}

func (*IntType) typeNode()        {}
func (t *IntType) String() string { return t.Name }

// The primitive types are singletons; pointer comparison is identity.
var (
	TypeInt8   = &IntType{Name: "int8", Size: 1, Signed: true}
	TypeUint8  = &IntType{Name: "uint8", Size: 1}
	TypeInt16  = &IntType{Name: "int16", Size: 2, Signed: true}
	TypeUint16 = &IntType{Name: "uint16", Size: 2}
	TypeInt32  = &IntType{Name: "int32", Size: 4, Signed: true}
	TypeUint32 = &IntType{Name: "uint32", Size: 4}
	TypeIntPtr = &IntType{Name: "intptr", Size: 2, IsPtrSized: true}
)

var primitiveTypes = map[string]*IntType{
	"int8":   TypeInt8,
	"uint8":  TypeUint8,
	"int16":  TypeInt16,
	"uint16": TypeUint16,
	"int32":  TypeInt32,
	"uint32": TypeUint32,
	"intptr": TypeIntPtr,
}

// PtrType is a pointer to Target, written [Target] in source.
type PtrType struct {
	Target Type
}

func (*PtrType) typeNode()        {}
func (t *PtrType) String() string { return "[" + t.Target.String() + "]" }

// ArrayType is a fixed-extent array. A declared-with-initializer array has
// its Count inferred before layout.
type ArrayType struct {
	Elem  Type
	Count int
}

func (*ArrayType) typeNode() {}
func (t *ArrayType) String() string {
	return fmt.Sprintf("%s[%d]", t.Elem.String(), t.Count)
}

// RecordField is one field of a record, with its resolved byte offset.
type RecordField struct {
	Name   string
	Type   Type
	Offset int
}

// RecordType is an ordered list of named fields. A derived record's Fields
// begin with its base's fields, in order; @at fields may overlap.
type RecordType struct {
	Name   string
	Base   *RecordType // nil for a root record
	Fields []RecordField
	Size   int
}

func (*RecordType) typeNode()        {}
func (t *RecordType) String() string { return t.Name }

// Field finds a field by name, including inherited ones.
func (t *RecordType) Field(name string) (RecordField, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return RecordField{}, false
}

// HasBase reports whether base appears in t's inheritance chain
// (t itself included).
func (t *RecordType) HasBase(base *RecordType) bool {
	for r := t; r != nil; r = r.Base {
		if r == base {
			return true
		}
	}
	return false
}

// Param is one entry of an interface or subroutine signature.
type Param struct {
	Name string
	Type Type
}

// InterfaceType is a function-pointer abstraction: a value of this type
// holds the address of a subroutine with a matching signature.
type InterfaceType struct {
	Name    string
	Params  []Param
	Returns []Param
}

func (*InterfaceType) typeNode()        {}
func (t *InterfaceType) String() string { return t.Name }

// AliasType is a typedef. It compares equal to its target.
type AliasType struct {
	Name   string
	Target Type
}

func (*AliasType) typeNode()        {}
func (t *AliasType) String() string { return t.Name }

// resolveAlias strips typedef layers.
func resolveAlias(t Type) Type {
	for {
		a, ok := t.(*AliasType)
		if !ok {
			return t
		}
		t = a.Target
	}
}

// TypeSize is the byte size of t. Alignment is always 1.
func TypeSize(t Type) int {
	switch t := resolveAlias(t).(type) {
	case *IntType:
		return t.Size
	case *PtrType, *InterfaceType:
		return 2
	case *ArrayType:
		return t.Count * TypeSize(t.Elem)
	case *RecordType:
		return t.Size
	}
	return 0
}

// typesEqual is canonical identity after alias resolution. Records and
// interfaces are nominal; everything else is structural.
func typesEqual(a, b Type) bool {
	a, b = resolveAlias(a), resolveAlias(b)
	switch at := a.(type) {
	case *IntType:
		bt, ok := b.(*IntType)
		return ok && at == bt
	case *PtrType:
		bt, ok := b.(*PtrType)
		return ok && typesEqual(at.Target, bt.Target)
	case *ArrayType:
		bt, ok := b.(*ArrayType)
		return ok && at.Count == bt.Count && typesEqual(at.Elem, bt.Elem)
	case *RecordType:
		bt, ok := b.(*RecordType)
		return ok && at == bt
	case *InterfaceType:
		bt, ok := b.(*InterfaceType)
		return ok && at == bt
	}
	return false
}

// isIntType reports whether t resolves to a primitive integer.
func isIntType(t Type) bool {
	_, ok := resolveAlias(t).(*IntType)
	return ok
}

// isPtrType reports whether t resolves to a pointer.
func isPtrType(t Type) (*PtrType, bool) {
	p, ok := resolveAlias(t).(*PtrType)
	return p, ok
}

// indexTypeOf is the narrowest natural index type for an array: uint8 when
// every valid index fits in a byte, uint16 otherwise.
func indexTypeOf(a *ArrayType) *IntType {
	if a.Count <= 256 {
		return TypeUint8
	}
	return TypeUint16
}

// signatureEqual compares two signatures by parameter and return counts and
// types; names do not participate.
func signatureEqual(ap, ar, bp, br []Param) bool {
	if len(ap) != len(bp) || len(ar) != len(br) {
		return false
	}
	for i := range ap {
		if !typesEqual(ap[i].Type, bp[i].Type) {
			return false
		}
	}
	for i := range ar {
		if !typesEqual(ar[i].Type, br[i].Type) {
			return false
		}
	}
	return true
}

func signatureString(params, returns []Param) string {
	var sb strings.Builder
	sb.WriteByte('(')
	for i, p := range params {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s: %s", p.Name, p.Type)
	}
	sb.WriteByte(')')
	if len(returns) > 0 {
		sb.WriteString(": (")
		for i, r := range returns {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%s: %s", r.Name, r.Type)
		}
		sb.WriteByte(')')
	}
	return sb.String()
}
