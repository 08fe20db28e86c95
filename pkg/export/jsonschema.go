package export

import (
	"encoding/json"
	"math"

	"github.com/morezero/command-bridge/pkg/bridgeerr"
	"github.com/morezero/command-bridge/pkg/schema"
)

// DraftURI identifies the JSON Schema dialect the exporter emits.
const DraftURI = "http://json-schema.org/draft-07/schema#"

// JSONSchema renders a model as a draft-07 JSON Schema document. Named types
// live under "definitions"; operations and events get their own sections
// that reference them.
//
// Unlike TypeScript, every integer width is exportable here: bounds are
// written as explicit minimum and maximum keywords.
type JSONSchema struct {
	Title string
}

// NewJSONSchema returns a JSON Schema exporter with default settings.
func NewJSONSchema() *JSONSchema {
	return &JSONSchema{Title: "command-bridge contract"}
}

func (e *JSONSchema) Target() string   { return "jsonschema" }
func (e *JSONSchema) FileName() string { return "contract.schema.json" }

type object = map[string]any

// Export renders m as an indented JSON document.
func (e *JSONSchema) Export(m *schema.Model) ([]byte, error) {
	if err := m.Resolve(); err != nil {
		return nil, err
	}
	defs, err := e.definitions(m.Types)
	if err != nil {
		return nil, err
	}

	ops := object{}
	for _, op := range m.Operations {
		params, err := jsonObject(m.Types, op.Name+"()", op.Params, "")
		if err != nil {
			return nil, err
		}
		output, err := jsonType(m.Types, op.Name+".output", op.Output)
		if err != nil {
			return nil, err
		}
		var errSchema object
		if op.Error.Text {
			errSchema = object{"type": "string"}
		} else if errSchema, err = jsonType(m.Types, op.Name+".error", schema.Union(op.Error.Variants...)); err != nil {
			return nil, err
		}
		entry := object{"params": params, "output": output, "error": errSchema}
		if op.Description != "" {
			entry["description"] = op.Description
		}
		ops[op.Name] = entry
	}

	events := object{}
	for _, ch := range m.Channels {
		payload, err := jsonType(m.Types, ch.Name+".payload", ch.Payload)
		if err != nil {
			return nil, err
		}
		if ch.Description != "" {
			payload = object{"description": ch.Description, "allOf": []any{payload}}
		}
		events[ch.Name] = payload
	}

	doc := object{
		"$schema":     DraftURI,
		"title":       e.Title,
		"definitions": defs,
		"operations":  ops,
		"events":      events,
	}
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

// TypeSchema renders a standalone document validating values of t. Every
// named type is carried along under "definitions" so refs resolve locally.
func (e *JSONSchema) TypeSchema(types *schema.TypeSet, t *schema.Type) ([]byte, error) {
	if err := types.Resolve("value", t); err != nil {
		return nil, err
	}
	defs, err := e.definitions(types)
	if err != nil {
		return nil, err
	}
	body, err := jsonType(types, "value", t)
	if err != nil {
		return nil, err
	}
	return json.Marshal(object{"$schema": DraftURI, "definitions": defs, "allOf": []any{body}})
}

func (e *JSONSchema) definitions(types *schema.TypeSet) (object, error) {
	defs := object{}
	for _, name := range types.Names() {
		decl, _ := types.Lookup(name)
		s, err := jsonType(types, name, decl)
		if err != nil {
			return nil, err
		}
		defs[name] = s
	}
	return defs, nil
}

func jsonType(types *schema.TypeSet, path string, t *schema.Type) (object, error) {
	switch t.Kind {
	case schema.KindBool:
		return object{"type": "boolean"}, nil
	case schema.KindInt:
		shift := 64 - t.Bits
		return object{"type": "integer", "minimum": int64(math.MinInt64) >> shift, "maximum": int64(math.MaxInt64) >> shift}, nil
	case schema.KindUint:
		return object{"type": "integer", "minimum": 0, "maximum": uint64(math.MaxUint64) >> (64 - t.Bits)}, nil
	case schema.KindFloat:
		return object{"type": "number"}, nil
	case schema.KindString:
		return object{"type": "string"}, nil
	case schema.KindBytes:
		return object{"type": "string", "contentEncoding": "base64"}, nil
	case schema.KindUnit:
		return object{"type": "null"}, nil
	case schema.KindRef:
		return object{"$ref": "#/definitions/" + t.Name}, nil
	case schema.KindSequence:
		items, err := jsonType(types, path+"[]", t.Elem)
		if err != nil {
			return nil, err
		}
		return object{"type": "array", "items": items}, nil
	case schema.KindMapping:
		values, err := jsonType(types, path+"{}", t.Elem)
		if err != nil {
			return nil, err
		}
		return object{"type": "object", "additionalProperties": values}, nil
	case schema.KindOptional:
		elem, err := jsonType(types, path, t.Elem)
		if err != nil {
			return nil, err
		}
		return object{"anyOf": []any{object{"type": "null"}, elem}}, nil
	case schema.KindRecord:
		return jsonObject(types, path, t.Fields, "")
	case schema.KindUnion:
		arms := make([]any, 0, len(t.Variants))
		for _, v := range t.Variants {
			arm, err := jsonObject(types, path+"."+v.Name, v.Fields, v.Name)
			if err != nil {
				return nil, err
			}
			arms = append(arms, arm)
		}
		return object{"oneOf": arms}, nil
	}
	return nil, bridgeerr.AtPath(bridgeerr.InvalidDeclaration, path, "unknown kind %q", t.Kind)
}

func jsonObject(types *schema.TypeSet, path string, fields []schema.Field, tag string) (object, error) {
	props := object{}
	required := []string{}
	if tag != "" {
		props[schema.DiscriminantKey] = object{"const": tag}
		required = append(required, schema.DiscriminantKey)
	}
	for _, f := range fields {
		s, err := jsonType(types, path+"."+f.Name, f.Type)
		if err != nil {
			return nil, err
		}
		props[f.Name] = s
		if !schema.IsOptional(types, f.Type) {
			required = append(required, f.Name)
		}
	}
	out := object{"type": "object", "properties": props, "additionalProperties": false}
	if len(required) > 0 {
		out["required"] = required
	}
	return out, nil
}
