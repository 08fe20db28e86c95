// Package contract versions the exported bridge contract. A Manifest is the
// canonical summary of a model; diffing two manifests tells whether a new
// build breaks existing consumers, which decides the next semantic version.
package contract

import (
	"sort"
	"strings"

	"github.com/morezero/command-bridge/pkg/schema"
)

// OperationEntry is the canonical signature of one operation.
type OperationEntry struct {
	Params []ParamEntry `json:"params"`
	Output string       `json:"output"`
	Error  string       `json:"error"`
}

// ParamEntry is one parameter in declaration order.
type ParamEntry struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Optional bool   `json:"optional,omitempty"`
}

// Manifest maps every exported name to its canonical type expression.
type Manifest struct {
	Operations map[string]OperationEntry `json:"operations"`
	Channels   map[string]string         `json:"channels"`
	Types      map[string]string         `json:"types"`
}

// Summarize builds the manifest of m.
func Summarize(m *schema.Model) *Manifest {
	out := &Manifest{
		Operations: make(map[string]OperationEntry, len(m.Operations)),
		Channels:   make(map[string]string, len(m.Channels)),
		Types:      make(map[string]string),
	}
	for _, name := range m.Types.Names() {
		t, _ := m.Types.Lookup(name)
		out.Types[name] = t.String()
	}
	for _, op := range m.Operations {
		entry := OperationEntry{
			Params: make([]ParamEntry, len(op.Params)),
			Output: op.Output.String(),
			Error:  op.Error.String(),
		}
		for i, p := range op.Params {
			entry.Params[i] = ParamEntry{Name: p.Name, Type: p.Type.String(), Optional: schema.IsOptional(m.Types, p.Type)}
		}
		out.Operations[op.Name] = entry
	}
	for _, ch := range m.Channels {
		out.Channels[ch.Name] = ch.Payload.String()
	}
	return out
}

func (e OperationEntry) paramsString() string {
	parts := make([]string, len(e.Params))
	for i, p := range e.Params {
		parts[i] = p.Name + ": " + p.Type
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
