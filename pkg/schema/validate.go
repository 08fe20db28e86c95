package schema

import (
	"regexp"

	"github.com/morezero/command-bridge/pkg/bridgeerr"
)

var (
	fieldNameRegex   = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	variantNameRegex = regexp.MustCompile(`^[A-Z][A-Za-z0-9_]*$`)
)

// Validate checks the structural rules of t: legal widths, unique and
// well-formed field and variant names, no field shadowing the union
// discriminant, and no optional directly wrapping another optional.
// Refs are not resolved here; see TypeSet.Resolve.
func Validate(path string, t *Type) error {
	if t == nil {
		return bridgeerr.AtPath(bridgeerr.InvalidDeclaration, path, "missing type descriptor")
	}
	switch t.Kind {
	case KindBool, KindString, KindBytes, KindUnit:
		return nil
	case KindInt, KindUint:
		switch t.Bits {
		case 8, 16, 32, 64:
			return nil
		}
		return bridgeerr.AtPath(bridgeerr.InvalidDeclaration, path, "integer width %d is not one of 8, 16, 32, 64", t.Bits)
	case KindFloat:
		if t.Bits == 32 || t.Bits == 64 {
			return nil
		}
		return bridgeerr.AtPath(bridgeerr.InvalidDeclaration, path, "float width %d is not one of 32, 64", t.Bits)
	case KindSequence:
		return Validate(path+"[]", t.Elem)
	case KindMapping:
		return Validate(path+"{}", t.Elem)
	case KindOptional:
		if t.Elem != nil && t.Elem.Kind == KindOptional {
			return bridgeerr.AtPath(bridgeerr.InvalidDeclaration, path, "optional<optional<T>> cannot distinguish its absent states")
		}
		if t.Elem != nil && t.Elem.Kind == KindUnit {
			return bridgeerr.AtPath(bridgeerr.InvalidDeclaration, path, "optional<unit> cannot distinguish its absent states")
		}
		return Validate(path, t.Elem)
	case KindRecord:
		return validateFields(path, t.Fields, false)
	case KindUnion:
		if len(t.Variants) == 0 {
			return bridgeerr.AtPath(bridgeerr.InvalidDeclaration, path, "union has no variants")
		}
		seen := make(map[string]bool, len(t.Variants))
		for _, v := range t.Variants {
			if err := ValidateVariant(path, v); err != nil {
				return err
			}
			if seen[v.Name] {
				return bridgeerr.AtPath(bridgeerr.InvalidDeclaration, path, "duplicate variant %q", v.Name)
			}
			seen[v.Name] = true
		}
		return nil
	case KindRef:
		if !typeNameRegex.MatchString(t.Name) {
			return bridgeerr.AtPath(bridgeerr.InvalidDeclaration, path, "ref %q is not a type name", t.Name)
		}
		return nil
	}
	return bridgeerr.AtPath(bridgeerr.InvalidDeclaration, path, "unknown kind %q", t.Kind)
}

// ValidateVariant checks a single union variant, including the reserved
// discriminant key rule.
func ValidateVariant(path string, v Variant) error {
	if !variantNameRegex.MatchString(v.Name) {
		return bridgeerr.AtPath(bridgeerr.InvalidDeclaration, path, "variant name %q must be PascalCase", v.Name)
	}
	return validateFields(path+"."+v.Name, v.Fields, true)
}

func validateFields(path string, fields []Field, inVariant bool) error {
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if !fieldNameRegex.MatchString(f.Name) {
			return bridgeerr.AtPath(bridgeerr.InvalidDeclaration, path, "field name %q is not an identifier", f.Name)
		}
		if inVariant && f.Name == DiscriminantKey {
			return bridgeerr.AtPath(bridgeerr.InvalidDeclaration, path+"."+f.Name, "%q is the reserved discriminant key", DiscriminantKey)
		}
		if seen[f.Name] {
			return bridgeerr.AtPath(bridgeerr.InvalidDeclaration, path, "duplicate field %q", f.Name)
		}
		seen[f.Name] = true
		if err := Validate(path+"."+f.Name, f.Type); err != nil {
			return err
		}
	}
	return nil
}
