package schema

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
)

// UnionValue is the canonical in-memory form of a union value.
type UnionValue struct {
	Variant string
	Fields  map[string]any
}

// MarshalJSON renders the discriminated object form.
func (u UnionValue) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(u.Fields)+1)
	for k, v := range u.Fields {
		m[k] = v
	}
	m[DiscriminantKey] = u.Variant
	return json.Marshal(m)
}

// ValueError reports a value that does not match its type. Path locates the
// offending value (e.g. "template.levels[2].fallback").
type ValueError struct {
	Path    string
	Message string
}

func (e *ValueError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return e.Path + ": " + e.Message
}

func valueErrorf(path, format string, args ...any) *ValueError {
	return &ValueError{Path: path, Message: fmt.Sprintf(format, args...)}
}

// Decode parses raw JSON and checks it against t, returning the canonical
// value. root prefixes every reported path.
func Decode(ts *TypeSet, t *Type, root string, raw []byte) (any, error) {
	generic, err := parseJSON(raw)
	if err != nil {
		return nil, &ValueError{Path: root, Message: err.Error()}
	}
	return Normalize(ts, t, root, generic)
}

// Encode checks value against t and renders it as JSON. value may be a
// canonical value or any Go value whose JSON form matches t.
func Encode(ts *TypeSet, t *Type, root string, value any) ([]byte, error) {
	canon, err := Normalize(ts, t, root, value)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := write(&buf, ts, t, canon); err != nil {
		return nil, &ValueError{Path: root, Message: err.Error()}
	}
	return buf.Bytes(), nil
}

func parseJSON(raw []byte) (any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("empty JSON document")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("malformed JSON: %v", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data after JSON value")
	}
	return v, nil
}

// Normalize checks value against t and converts it to the canonical form.
func Normalize(ts *TypeSet, t *Type, path string, value any) (any, error) {
	t, err := ts.deref(t)
	if err != nil {
		return nil, &ValueError{Path: path, Message: err.Error()}
	}
	if t == nil {
		return nil, valueErrorf(path, "missing type descriptor")
	}

	switch t.Kind {
	case KindUnit:
		if value == nil {
			return nil, nil
		}
		return nil, valueErrorf(path, "expected null, got %s", describe(value))
	case KindOptional:
		if isNil(value) {
			return nil, nil
		}
		return Normalize(ts, t.Elem, path, derefValue(value))
	}

	value = derefValue(value)
	if value == nil {
		return nil, valueErrorf(path, "expected %s, got null", t)
	}

	switch t.Kind {
	case KindBool:
		if b, ok := value.(bool); ok {
			return b, nil
		}
	case KindInt:
		return normalizeInt(path, t.Bits, value)
	case KindUint:
		return normalizeUint(path, t.Bits, value)
	case KindFloat:
		return normalizeFloat(path, t.Bits, value)
	case KindString:
		if s, ok := value.(string); ok {
			return s, nil
		}
	case KindBytes:
		switch b := value.(type) {
		case []byte:
			return b, nil
		case string:
			decoded, err := base64.StdEncoding.DecodeString(b)
			if err != nil {
				return nil, valueErrorf(path, "expected base64 text: %v", err)
			}
			return decoded, nil
		}
	case KindSequence:
		return normalizeSequence(ts, t, path, value)
	case KindMapping:
		return normalizeMapping(ts, t, path, value)
	case KindRecord:
		obj, ok, err := asObject(path, value)
		if err != nil || !ok {
			if err == nil && !isGeneric(value) {
				return viaJSON(ts, t, path, value)
			}
			return nil, orMismatch(err, path, t, value)
		}
		return normalizeFields(ts, path, t.Fields, obj, false)
	case KindUnion:
		return normalizeUnion(ts, t, path, value)
	default:
		return nil, valueErrorf(path, "unsupported kind %q", t.Kind)
	}

	if !isGeneric(value) {
		return viaJSON(ts, t, path, value)
	}
	return nil, valueErrorf(path, "expected %s, got %s", t, describe(value))
}

func orMismatch(err error, path string, t *Type, value any) error {
	if err != nil {
		return err
	}
	return valueErrorf(path, "expected %s, got %s", t, describe(value))
}

func normalizeInt(path string, bits int, value any) (any, error) {
	lo, hi := int64(math.MinInt64)>>(64-bits), int64(math.MaxInt64)>>(64-bits)
	var n int64
	switch v := value.(type) {
	case json.Number:
		parsed, err := strconv.ParseInt(v.String(), 10, 64)
		if err != nil {
			return nil, valueErrorf(path, "expected i%d, got %s", bits, v)
		}
		n = parsed
	case float64:
		if v != math.Trunc(v) || v < math.MinInt64 || v >= math.MaxInt64 {
			return nil, valueErrorf(path, "expected i%d, got %v", bits, v)
		}
		n = int64(v)
	default:
		rv := reflect.ValueOf(value)
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			n = rv.Int()
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
			u := rv.Uint()
			if u > math.MaxInt64 {
				return nil, valueErrorf(path, "%d overflows i%d", u, bits)
			}
			n = int64(u)
		default:
			return nil, valueErrorf(path, "expected i%d, got %s", bits, describe(value))
		}
	}
	if n < lo || n > hi {
		return nil, valueErrorf(path, "%d overflows i%d", n, bits)
	}
	return n, nil
}

func normalizeUint(path string, bits int, value any) (any, error) {
	hi := uint64(math.MaxUint64) >> (64 - bits)
	var n uint64
	switch v := value.(type) {
	case json.Number:
		parsed, err := strconv.ParseUint(v.String(), 10, 64)
		if err != nil {
			return nil, valueErrorf(path, "expected u%d, got %s", bits, v)
		}
		n = parsed
	case float64:
		if v != math.Trunc(v) || v < 0 || v >= math.MaxUint64 {
			return nil, valueErrorf(path, "expected u%d, got %v", bits, v)
		}
		n = uint64(v)
	default:
		rv := reflect.ValueOf(value)
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			if rv.Int() < 0 {
				return nil, valueErrorf(path, "%d is negative, expected u%d", rv.Int(), bits)
			}
			n = uint64(rv.Int())
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
			n = rv.Uint()
		default:
			return nil, valueErrorf(path, "expected u%d, got %s", bits, describe(value))
		}
	}
	if n > hi {
		return nil, valueErrorf(path, "%d overflows u%d", n, bits)
	}
	return n, nil
}

func normalizeFloat(path string, bits int, value any) (any, error) {
	var f float64
	switch v := value.(type) {
	case json.Number:
		parsed, err := strconv.ParseFloat(v.String(), 64)
		if err != nil {
			return nil, valueErrorf(path, "expected f%d, got %s", bits, v)
		}
		f = parsed
	default:
		rv := reflect.ValueOf(value)
		switch rv.Kind() {
		case reflect.Float32, reflect.Float64:
			f = rv.Float()
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			f = float64(rv.Int())
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			f = float64(rv.Uint())
		default:
			return nil, valueErrorf(path, "expected f%d, got %s", bits, describe(value))
		}
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, valueErrorf(path, "%v has no JSON representation", f)
	}
	if bits == 32 && math.Abs(f) > math.MaxFloat32 {
		return nil, valueErrorf(path, "%v overflows f32", f)
	}
	return f, nil
}

func normalizeSequence(ts *TypeSet, t *Type, path string, value any) (any, error) {
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, valueErrorf(path, "expected %s, got %s", t, describe(value))
	}
	out := make([]any, rv.Len())
	for i := range out {
		v, err := Normalize(ts, t.Elem, fmt.Sprintf("%s[%d]", path, i), rv.Index(i).Interface())
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func normalizeMapping(ts *TypeSet, t *Type, path string, value any) (any, error) {
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		if rv.Kind() == reflect.Struct {
			return viaJSON(ts, t, path, value)
		}
		return nil, valueErrorf(path, "expected %s, got %s", t, describe(value))
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		key := iter.Key().String()
		v, err := Normalize(ts, t.Elem, fmt.Sprintf("%s[%q]", path, key), iter.Value().Interface())
		if err != nil {
			return nil, err
		}
		out[key] = v
	}
	return out, nil
}

func normalizeUnion(ts *TypeSet, t *Type, path string, value any) (any, error) {
	var (
		name   string
		fields map[string]any
	)
	switch v := value.(type) {
	case UnionValue:
		name, fields = v.Variant, v.Fields
	case *UnionValue:
		name, fields = v.Variant, v.Fields
	case map[string]any:
		tag, ok := v[DiscriminantKey].(string)
		if !ok {
			return nil, valueErrorf(path, "missing %q discriminant", DiscriminantKey)
		}
		name = tag
		fields = make(map[string]any, len(v))
		for k, fv := range v {
			if k != DiscriminantKey {
				fields[k] = fv
			}
		}
	default:
		if !isGeneric(value) {
			return viaJSON(ts, t, path, value)
		}
		return nil, valueErrorf(path, "expected %s, got %s", t, describe(value))
	}

	for _, variant := range t.Variants {
		if variant.Name != name {
			continue
		}
		canon, err := normalizeFields(ts, path, variant.Fields, fields, true)
		if err != nil {
			return nil, err
		}
		return UnionValue{Variant: name, Fields: canon}, nil
	}
	return nil, valueErrorf(path, "unknown discriminant %q", name)
}

func normalizeFields(ts *TypeSet, path string, fields []Field, obj map[string]any, inVariant bool) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	declared := make(map[string]bool, len(fields))
	for _, f := range fields {
		declared[f.Name] = true
		fpath := path + "." + f.Name
		v, present := obj[f.Name]
		if !present {
			if !IsOptional(ts, f.Type) {
				return nil, valueErrorf(fpath, "missing required field")
			}
			out[f.Name] = nil
			continue
		}
		canon, err := Normalize(ts, f.Type, fpath, v)
		if err != nil {
			return nil, err
		}
		out[f.Name] = canon
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !declared[k] && !(inVariant && k == DiscriminantKey) {
			return nil, valueErrorf(path+"."+k, "unknown field")
		}
	}
	return out, nil
}

func asObject(path string, value any) (map[string]any, bool, error) {
	switch v := value.(type) {
	case map[string]any:
		return v, true, nil
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Map {
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false, valueErrorf(path, "object keys must be text")
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = iter.Value().Interface()
		}
		return out, true, nil
	}
	return nil, false, nil
}

// IsOptional reports whether t, after following refs, is an optional.
// Optional record fields may be omitted from the encoded object.
func IsOptional(ts *TypeSet, t *Type) bool {
	t, err := ts.deref(t)
	return err == nil && t != nil && t.Kind == KindOptional
}

// viaJSON normalises an arbitrary Go value (typically a struct with json
// tags) through its JSON form.
func viaJSON(ts *TypeSet, t *Type, path string, value any) (any, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, valueErrorf(path, "cannot encode %s: %v", describe(value), err)
	}
	generic, err := parseJSON(raw)
	if err != nil {
		return nil, &ValueError{Path: path, Message: err.Error()}
	}
	return Normalize(ts, t, path, generic)
}

// isGeneric reports whether v is already one of the shapes encoding/json
// produces, so converting it through JSON again cannot help.
func isGeneric(v any) bool {
	switch v.(type) {
	case nil, bool, string, json.Number, float64, []any, map[string]any, UnionValue, []byte:
		return true
	}
	return false
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

func derefValue(v any) any {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr && !rv.IsNil() {
		if _, ok := v.(*UnionValue); ok {
			return v
		}
		rv = rv.Elem()
		v = rv.Interface()
	}
	if rv.Kind() == reflect.Ptr {
		return nil
	}
	return v
}

func describe(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "text"
	case json.Number, float64:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	return fmt.Sprintf("%T", v)
}

// write renders a canonical value. Records and variants keep declared field
// order; mapping keys are sorted so output is deterministic.
func write(buf *bytes.Buffer, ts *TypeSet, t *Type, v any) error {
	t, err := ts.deref(t)
	if err != nil {
		return err
	}
	if v == nil {
		buf.WriteString("null")
		return nil
	}
	switch t.Kind {
	case KindOptional:
		return write(buf, ts, t.Elem, v)
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.(bool)))
	case KindInt:
		buf.WriteString(strconv.FormatInt(v.(int64), 10))
	case KindUint:
		buf.WriteString(strconv.FormatUint(v.(uint64), 10))
	case KindFloat:
		buf.WriteString(strconv.FormatFloat(v.(float64), 'g', -1, 64))
	case KindString:
		return writeString(buf, v.(string))
	case KindBytes:
		return writeString(buf, base64.StdEncoding.EncodeToString(v.([]byte)))
	case KindSequence:
		buf.WriteByte('[')
		for i, e := range v.([]any) {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := write(buf, ts, t.Elem, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindMapping:
		m := v.(map[string]any)
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := write(buf, ts, t.Elem, m[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case KindRecord:
		buf.WriteByte('{')
		if err := writeObjectFields(buf, ts, t.Fields, v.(map[string]any), false); err != nil {
			return err
		}
		buf.WriteByte('}')
	case KindUnion:
		u := v.(UnionValue)
		buf.WriteByte('{')
		if err := writeString(buf, DiscriminantKey); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := writeString(buf, u.Variant); err != nil {
			return err
		}
		for _, variant := range t.Variants {
			if variant.Name == u.Variant {
				if err := writeObjectFields(buf, ts, variant.Fields, u.Fields, true); err != nil {
					return err
				}
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unsupported kind %q", t.Kind)
	}
	return nil
}

func writeObjectFields(buf *bytes.Buffer, ts *TypeSet, fields []Field, m map[string]any, leadingComma bool) error {
	for i, f := range fields {
		if i > 0 || leadingComma {
			buf.WriteByte(',')
		}
		if err := writeString(buf, f.Name); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := write(buf, ts, f.Type, m[f.Name]); err != nil {
			return err
		}
	}
	return nil
}

func writeString(buf *bytes.Buffer, s string) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	buf.Write(b)
	return nil
}
