// Package schema is the canonical, language-agnostic model of the values that
// cross the bridge: type descriptors, named type sets, operation and channel
// signatures, and the codec that checks JSON values against them.
package schema

import (
	"strconv"
	"strings"
)

// Kind is the shape class of a Type.
type Kind string

const (
	KindBool     Kind = "bool"
	KindInt      Kind = "int"
	KindUint     Kind = "uint"
	KindFloat    Kind = "float"
	KindString   Kind = "string"
	KindBytes    Kind = "bytes"
	KindUnit     Kind = "unit"
	KindSequence Kind = "sequence"
	KindMapping  Kind = "mapping"
	KindOptional Kind = "optional"
	KindUnion    Kind = "union"
	KindRecord   Kind = "record"
	KindRef      Kind = "ref"
)

// DiscriminantKey is the reserved object key carrying a union variant name.
const DiscriminantKey = "type"

// Type describes the shape of a value.
//
// Bits applies to int, uint and float. Elem applies to sequence, mapping
// (value type; keys are always text) and optional. Name applies to ref.
type Type struct {
	Kind     Kind
	Bits     int
	Elem     *Type
	Fields   []Field
	Variants []Variant
	Name     string
}

// Field is a named, typed member of a record or union variant.
type Field struct {
	Name string
	Type *Type
}

// Variant is a named member of a union with its own field set.
type Variant struct {
	Name   string
	Fields []Field
}

func Bool() *Type                  { return &Type{Kind: KindBool} }
func Int(bits int) *Type           { return &Type{Kind: KindInt, Bits: bits} }
func Uint(bits int) *Type          { return &Type{Kind: KindUint, Bits: bits} }
func Float(bits int) *Type         { return &Type{Kind: KindFloat, Bits: bits} }
func String() *Type                { return &Type{Kind: KindString} }
func Bytes() *Type                 { return &Type{Kind: KindBytes} }
func Unit() *Type                  { return &Type{Kind: KindUnit} }
func Seq(elem *Type) *Type         { return &Type{Kind: KindSequence, Elem: elem} }
func Map(elem *Type) *Type         { return &Type{Kind: KindMapping, Elem: elem} }
func Opt(elem *Type) *Type         { return &Type{Kind: KindOptional, Elem: elem} }
func Ref(name string) *Type        { return &Type{Kind: KindRef, Name: name} }
func F(name string, t *Type) Field { return Field{Name: name, Type: t} }

// Record builds a fixed-shape record type. Field order is significant.
func Record(fields ...Field) *Type {
	return &Type{Kind: KindRecord, Fields: fields}
}

// Union builds a tagged union type.
func Union(variants ...Variant) *Type {
	return &Type{Kind: KindUnion, Variants: variants}
}

// V builds a union variant.
func V(name string, fields ...Field) Variant {
	return Variant{Name: name, Fields: fields}
}

// IsPrimitive reports whether t has no nested types.
func (t *Type) IsPrimitive() bool {
	switch t.Kind {
	case KindBool, KindInt, KindUint, KindFloat, KindString, KindBytes, KindUnit:
		return true
	}
	return false
}

// Clone returns a deep copy of t.
func (t *Type) Clone() *Type {
	if t == nil {
		return nil
	}
	c := *t
	c.Elem = t.Elem.Clone()
	c.Fields = cloneFields(t.Fields)
	if t.Variants != nil {
		c.Variants = make([]Variant, len(t.Variants))
		for i, v := range t.Variants {
			c.Variants[i] = Variant{Name: v.Name, Fields: cloneFields(v.Fields)}
		}
	}
	return &c
}

func cloneFields(fields []Field) []Field {
	if fields == nil {
		return nil
	}
	out := make([]Field, len(fields))
	for i, f := range fields {
		out[i] = Field{Name: f.Name, Type: f.Type.Clone()}
	}
	return out
}

// Equal reports structural equality. Refs are equal when their names are.
func (t *Type) Equal(o *Type) bool {
	if t == nil || o == nil {
		return t == o
	}
	return t.String() == o.String()
}

// String returns the canonical type expression, parseable by ParseType.
func (t *Type) String() string {
	var b strings.Builder
	t.write(&b)
	return b.String()
}

func (t *Type) write(b *strings.Builder) {
	if t == nil {
		b.WriteString("<nil>")
		return
	}
	switch t.Kind {
	case KindInt:
		b.WriteString("i" + strconv.Itoa(t.Bits))
	case KindUint:
		b.WriteString("u" + strconv.Itoa(t.Bits))
	case KindFloat:
		b.WriteString("f" + strconv.Itoa(t.Bits))
	case KindBool, KindString, KindBytes, KindUnit:
		b.WriteString(string(t.Kind))
	case KindSequence, KindMapping, KindOptional:
		b.WriteString(string(t.Kind))
		b.WriteByte('<')
		t.Elem.write(b)
		b.WriteByte('>')
	case KindRecord:
		b.WriteString("record")
		writeFields(b, t.Fields)
	case KindUnion:
		b.WriteString("union{")
		for i, v := range t.Variants {
			if i > 0 {
				b.WriteString(" | ")
			}
			writeVariant(b, v)
		}
		b.WriteByte('}')
	case KindRef:
		b.WriteString(t.Name)
	default:
		b.WriteString("<" + string(t.Kind) + ">")
	}
}

func writeVariant(b *strings.Builder, v Variant) {
	b.WriteString(v.Name)
	if len(v.Fields) > 0 {
		writeFields(b, v.Fields)
	}
}

func writeFields(b *strings.Builder, fields []Field) {
	b.WriteByte('{')
	for i, f := range fields {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(f.Name)
		b.WriteString(": ")
		f.Type.write(b)
	}
	b.WriteByte('}')
}

// VariantString renders a single variant the way it appears inside a union.
func VariantString(v Variant) string {
	var b strings.Builder
	writeVariant(&b, v)
	return b.String()
}
