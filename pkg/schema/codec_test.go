package schema

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type levelDoc struct {
	Depth    uint16       `json:"depth"`
	Fallback *templateDoc `json:"fallback"`
}

type templateDoc struct {
	ID     string     `json:"id"`
	Name   string     `json:"name"`
	Levels []levelDoc `json:"levels"`
}

func TestCodec_RoundTrip(t *testing.T) {
	ts := templateTypes(t)

	tests := []struct {
		name  string
		typ   *Type
		value any
	}{
		{"bool", Bool(), true},
		{"i8 min", Int(8), int64(-128)},
		{"i64 max", Int(64), int64(math.MaxInt64)},
		{"u64 max", Uint(64), uint64(math.MaxUint64)},
		{"f64", Float(64), 3.25},
		{"string", String(), "héllo \"quoted\""},
		{"bytes", Bytes(), []byte{0, 1, 2, 254}},
		{"unit", Unit(), nil},
		{"optional absent", Opt(String()), nil},
		{"optional present", Opt(String()), "x"},
		{"empty sequence", Seq(Int(32)), []any{}},
		{"sequence", Seq(Opt(Int(32))), []any{int64(1), nil, int64(3)}},
		{"mapping", Map(Bool()), map[string]any{"b": true, "a": false}},
		{"record with absent optional", Record(F("a", String()), F("b", Opt(Int(16)))), map[string]any{"a": "x", "b": nil}},
		{"union no fields", Union(V("Empty"), V("Full", F("n", Int(32)))), UnionValue{Variant: "Empty", Fields: map[string]any{}}},
		{"union with fields", Union(V("Empty"), V("Full", F("n", Int(32)))), UnionValue{Variant: "Full", Fields: map[string]any{"n": int64(7)}}},
		{
			"nested union in optional",
			Opt(Union(V("Leaf", F("v", Opt(Union(V("A"), V("B", F("x", String())))))))),
			UnionValue{Variant: "Leaf", Fields: map[string]any{"v": UnionValue{Variant: "B", Fields: map[string]any{"x": "y"}}}},
		},
		{
			"recursive template",
			Ref("Template"),
			map[string]any{
				"id":   "t1",
				"name": "root",
				"levels": []any{
					map[string]any{"depth": uint64(1), "fallback": nil},
					map[string]any{"depth": uint64(2), "fallback": map[string]any{
						"id": "t2", "name": "child", "levels": []any{},
					}},
				},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := Encode(ts, tt.typ, "value", tt.value)
			require.NoError(t, err)
			got, err := Decode(ts, tt.typ, "value", raw)
			require.NoError(t, err)
			assert.Equal(t, tt.value, got)
		})
	}
}

func TestEncode_GoStruct(t *testing.T) {
	ts := templateTypes(t)
	doc := templateDoc{
		ID:   "t1",
		Name: "root",
		Levels: []levelDoc{
			{Depth: 1},
			{Depth: 2, Fallback: &templateDoc{ID: "t2", Name: "child", Levels: []levelDoc{}}},
		},
	}

	raw, err := Encode(ts, Ref("Template"), "template", doc)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"id":"t1","name":"root","levels":[{"depth":1,"fallback":null},{"depth":2,"fallback":{"id":"t2","name":"child","levels":[]}}]}`,
		string(raw))
}

func TestEncode_DeclaredFieldOrder(t *testing.T) {
	typ := Record(F("z", Int(32)), F("a", Int(32)))
	raw, err := Encode(nil, typ, "v", map[string]any{"a": 1, "z": 2})
	require.NoError(t, err)
	assert.Equal(t, `{"z":2,"a":1}`, string(raw))

	u := Union(V("Hit", F("b", String()), F("a", String())))
	raw, err = Encode(nil, u, "v", UnionValue{Variant: "Hit", Fields: map[string]any{"a": "1", "b": "2"}})
	require.NoError(t, err)
	assert.Equal(t, `{"type":"Hit","b":"2","a":"1"}`, string(raw))
}

func TestDecode_Errors(t *testing.T) {
	ts := templateTypes(t)

	tests := []struct {
		name     string
		typ      *Type
		raw      string
		wantPath string
	}{
		{"malformed", String(), `{`, "template"},
		{"trailing", String(), `"a" "b"`, "template"},
		{"wrong primitive", String(), `1`, "template"},
		{"i8 overflow", Int(8), `128`, "template"},
		{"negative uint", Uint(32), `-1`, "template"},
		{"fraction for int", Int(32), `1.5`, "template"},
		{"null for required", Int(32), `null`, "template"},
		{"bad base64", Bytes(), `"!!"`, "template"},
		{"unit not null", Unit(), `0`, "template"},
		{"unknown discriminant", Union(V("A")), `{"type":"C"}`, "template"},
		{"missing discriminant", Union(V("A")), `{}`, "template"},
		{"unknown variant field", Union(V("A")), `{"type":"A","x":1}`, "template.x"},
		{"missing field", Ref("Template"), `{"id":"a","name":"b"}`, "template.levels"},
		{"unknown field", Ref("Template"), `{"id":"a","name":"b","levels":[],"extra":1}`, "template.extra"},
		{
			"deep path",
			Ref("Template"),
			`{"id":"a","name":"b","levels":[{"depth":1,"fallback":null},{"depth":2,"fallback":null},{"depth":3,"fallback":7}]}`,
			"template.levels[2].fallback",
		},
		{"mapping key path", Map(Int(8)), `{"k":1000}`, `template["k"]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(ts, tt.typ, "template", []byte(tt.raw))
			require.Error(t, err)
			var ve *ValueError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tt.wantPath, ve.Path)
		})
	}
}

func TestDecode_OmittedOptionalField(t *testing.T) {
	typ := Record(F("a", String()), F("b", Opt(Int(32))))
	got, err := Decode(nil, typ, "v", []byte(`{"a":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": "x", "b": nil}, got)
}

func TestEncode_RejectsNonFinite(t *testing.T) {
	_, err := Encode(nil, Float(64), "v", math.Inf(1))
	assert.Error(t, err)
	_, err = Encode(nil, Float(32), "v", 1e300)
	assert.Error(t, err)
}

func TestUnionValue_MarshalJSON(t *testing.T) {
	raw, err := UnionValue{Variant: "NotFound", Fields: map[string]any{"id": "x"}}.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"NotFound","id":"x"}`, string(raw))
}
