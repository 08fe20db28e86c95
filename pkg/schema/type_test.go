package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/morezero/command-bridge/pkg/bridgeerr"
)

func TestParseType_RoundTrip(t *testing.T) {
	exprs := []string{
		"bool",
		"i8",
		"u32",
		"f64",
		"string",
		"bytes",
		"unit",
		"sequence<Template>",
		"mapping<optional<i32>>",
		"record{}",
		"record{id: string, levels: sequence<record{depth: u16, fallback: optional<Template>}>}",
		"union{NotFound{id: string} | IoError{message: string} | Empty}",
		"optional<union{A | B{x: f32}}>",
	}
	for _, expr := range exprs {
		t.Run(expr, func(t *testing.T) {
			parsed, err := ParseType(expr)
			require.NoError(t, err)
			assert.Equal(t, expr, parsed.String())
		})
	}
}

func TestParseType_Builders(t *testing.T) {
	built := Record(
		F("id", String()),
		F("tags", Seq(String())),
		F("owner", Opt(Ref("User"))),
	)
	parsed := MustParseType("record{id: string, tags: sequence<string>, owner: optional<User>}")
	assert.True(t, built.Equal(parsed))
}

func TestParseType_Errors(t *testing.T) {
	bad := []string{
		"",
		"sequence<",
		"sequence<string",
		"record{id string}",
		"union{}",
		"record{a: string,}",
		"string extra",
	}
	for _, expr := range bad {
		t.Run(expr, func(t *testing.T) {
			_, err := ParseType(expr)
			assert.Error(t, err)
		})
	}
}

func TestParseVariant(t *testing.T) {
	v, err := ParseVariant("NotFound{id: string}")
	require.NoError(t, err)
	assert.Equal(t, "NotFound", v.Name)
	require.Len(t, v.Fields, 1)
	assert.Equal(t, "id", v.Fields[0].Name)

	v, err = ParseVariant("Cancelled")
	require.NoError(t, err)
	assert.Empty(t, v.Fields)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		typ     *Type
		wantErr bool
	}{
		{"int width", Int(12), true},
		{"float width", Float(16), true},
		{"ok record", Record(F("a", Int(32)), F("b", Opt(String()))), false},
		{"duplicate field", Record(F("a", Int(32)), F("a", String())), true},
		{"bad field name", Record(F("a-b", Int(32))), true},
		{"reserved discriminant", Union(V("A", F("type", String()))), true},
		{"record may use type field", Record(F("type", String())), false},
		{"duplicate variant", Union(V("A"), V("A")), true},
		{"lowercase variant", Union(V("a")), true},
		{"empty union", Union(), true},
		{"nested optional", Opt(Opt(String())), true},
		{"optional unit", Opt(Unit()), true},
		{"nil element", Seq(nil), true},
		{"nested invalid", Map(Seq(Int(7))), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate("T", tt.typ)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, bridgeerr.ErrInvalidDeclaration))
		})
	}
}

func TestClone_IsDeep(t *testing.T) {
	orig := Record(F("levels", Seq(Union(V("A", F("x", String()))))))
	c := orig.Clone()
	c.Fields[0].Type.Elem.Variants[0].Name = "B"
	assert.Equal(t, "A", orig.Fields[0].Type.Elem.Variants[0].Name)
}
