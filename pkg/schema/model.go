package schema

import "sort"

// ErrorShape is the failure encoding an operation declares: either a closed
// set of structured variants, or a single free-text variant.
type ErrorShape struct {
	Text     bool
	Variants []Variant
}

// String renders the shape as a type expression ("string" for text errors).
func (e ErrorShape) String() string {
	if e.Text {
		return "string"
	}
	return Union(e.Variants...).String()
}

// OperationSig is the exported signature of an operation.
type OperationSig struct {
	Name        string
	Description string
	Params      []Field
	Output      *Type
	Error       ErrorShape
}

// ChannelSig is the exported signature of an event channel.
type ChannelSig struct {
	Name        string
	Description string
	Payload     *Type
}

// Model is everything an exporter needs: named types plus the operation and
// channel signatures that reference them.
type Model struct {
	Types      *TypeSet
	Operations []OperationSig
	Channels   []ChannelSig
}

// NewModel builds a Model with operations and channels in name order.
func NewModel(types *TypeSet, ops []OperationSig, channels []ChannelSig) *Model {
	ops = append([]OperationSig(nil), ops...)
	channels = append([]ChannelSig(nil), channels...)
	sort.Slice(ops, func(i, j int) bool { return ops[i].Name < ops[j].Name })
	sort.Slice(channels, func(i, j int) bool { return channels[i].Name < channels[j].Name })
	if types == nil {
		types = NewTypeSet()
	}
	return &Model{Types: types, Operations: ops, Channels: channels}
}

// Resolve checks that every type reachable from the model is resolvable.
func (m *Model) Resolve() error {
	if err := m.Types.ResolveAll(); err != nil {
		return err
	}
	for _, op := range m.Operations {
		for _, p := range op.Params {
			if err := m.Types.Resolve(op.Name+"("+p.Name+")", p.Type); err != nil {
				return err
			}
		}
		if err := m.Types.Resolve(op.Name+".output", op.Output); err != nil {
			return err
		}
		if !op.Error.Text {
			if err := m.Types.Resolve(op.Name+".error", Union(op.Error.Variants...)); err != nil {
				return err
			}
		}
	}
	for _, ch := range m.Channels {
		if err := m.Types.Resolve(ch.Name+".payload", ch.Payload); err != nil {
			return err
		}
	}
	return nil
}
