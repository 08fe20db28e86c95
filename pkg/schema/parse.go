package schema

import (
	"fmt"
	"strings"
	"unicode"
)

const parseLogPrefix = "schema:parse"

var primitives = map[string]func() *Type{
	"bool":   Bool,
	"string": String,
	"bytes":  Bytes,
	"unit":   Unit,
	"i8":     func() *Type { return Int(8) },
	"i16":    func() *Type { return Int(16) },
	"i32":    func() *Type { return Int(32) },
	"i64":    func() *Type { return Int(64) },
	"u8":     func() *Type { return Uint(8) },
	"u16":    func() *Type { return Uint(16) },
	"u32":    func() *Type { return Uint(32) },
	"u64":    func() *Type { return Uint(64) },
	"f32":    func() *Type { return Float(32) },
	"f64":    func() *Type { return Float(64) },
}

var containers = map[string]func(*Type) *Type{
	"sequence": Seq,
	"mapping":  Map,
	"optional": Opt,
}

// IsReservedName reports whether name is a keyword of the type expression
// syntax and therefore cannot name a declared type.
func IsReservedName(name string) bool {
	if _, ok := primitives[name]; ok {
		return true
	}
	if _, ok := containers[name]; ok {
		return true
	}
	return name == "record" || name == "union"
}

// ParseType parses a canonical type expression such as
// "sequence<Template>" or "union{NotFound{id: string} | Empty}".
func ParseType(expr string) (*Type, error) {
	p := &parser{src: expr}
	t, err := p.parseType()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, p.errorf("unexpected %q", p.src[p.pos:])
	}
	return t, nil
}

// MustParseType is ParseType that panics on error, for static declarations.
func MustParseType(expr string) *Type {
	t, err := ParseType(expr)
	if err != nil {
		panic(err)
	}
	return t
}

// ParseVariant parses a single union variant such as "NotFound{id: string}".
func ParseVariant(expr string) (Variant, error) {
	p := &parser{src: expr}
	v, err := p.parseVariant()
	if err != nil {
		return Variant{}, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return Variant{}, p.errorf("unexpected %q", p.src[p.pos:])
	}
	return v, nil
}

type parser struct {
	src string
	pos int
}

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("%s - %q at offset %d: %s", parseLogPrefix, p.src, p.pos, fmt.Sprintf(format, args...))
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) && unicode.IsSpace(rune(p.src[p.pos])) {
		p.pos++
	}
}

func (p *parser) peek() byte {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *parser) expect(c byte) error {
	if p.peek() != c {
		if p.pos >= len(p.src) {
			return p.errorf("expected %q, got end of input", c)
		}
		return p.errorf("expected %q, got %q", c, p.src[p.pos])
	}
	p.pos++
	return nil
}

func (p *parser) ident() (string, error) {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.src) {
		c := rune(p.src[p.pos])
		if c == '_' || unicode.IsLetter(c) || (p.pos > start && unicode.IsDigit(c)) {
			p.pos++
			continue
		}
		break
	}
	if start == p.pos {
		return "", p.errorf("expected identifier")
	}
	return p.src[start:p.pos], nil
}

func (p *parser) parseType() (*Type, error) {
	name, err := p.ident()
	if err != nil {
		return nil, err
	}
	if mk, ok := primitives[name]; ok {
		return mk(), nil
	}
	if mk, ok := containers[name]; ok {
		if err := p.expect('<'); err != nil {
			return nil, err
		}
		elem, err := p.parseType()
		if err != nil {
			return nil, err
		}
		if err := p.expect('>'); err != nil {
			return nil, err
		}
		return mk(elem), nil
	}
	switch name {
	case "record":
		fields, err := p.parseFields()
		if err != nil {
			return nil, err
		}
		return Record(fields...), nil
	case "union":
		if err := p.expect('{'); err != nil {
			return nil, err
		}
		var variants []Variant
		for {
			v, err := p.parseVariant()
			if err != nil {
				return nil, err
			}
			variants = append(variants, v)
			if p.peek() != '|' {
				break
			}
			p.pos++
		}
		if err := p.expect('}'); err != nil {
			return nil, err
		}
		return Union(variants...), nil
	}
	return Ref(name), nil
}

func (p *parser) parseVariant() (Variant, error) {
	name, err := p.ident()
	if err != nil {
		return Variant{}, err
	}
	v := Variant{Name: name}
	if p.peek() == '{' {
		v.Fields, err = p.parseFields()
		if err != nil {
			return Variant{}, err
		}
	}
	return v, nil
}

func (p *parser) parseFields() ([]Field, error) {
	if err := p.expect('{'); err != nil {
		return nil, err
	}
	fields := []Field{}
	if p.peek() == '}' {
		p.pos++
		return fields, nil
	}
	for {
		name, err := p.ident()
		if err != nil {
			return nil, err
		}
		if err := p.expect(':'); err != nil {
			return nil, err
		}
		t, err := p.parseType()
		if err != nil {
			return nil, err
		}
		fields = append(fields, F(name, t))
		if p.peek() != ',' {
			break
		}
		p.pos++
	}
	if err := p.expect('}'); err != nil {
		return nil, err
	}
	return fields, nil
}

// FormatFields renders a field list the way records and variants print it,
// without the surrounding braces.
func FormatFields(fields []Field) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = f.Name + ": " + f.Type.String()
	}
	return strings.Join(parts, ", ")
}
