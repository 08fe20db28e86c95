package manifest

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/morezero/command-bridge/pkg/bridgeerr"
	"github.com/morezero/command-bridge/pkg/events"
	"github.com/morezero/command-bridge/pkg/registry"
	"github.com/morezero/command-bridge/pkg/schema"
)

const applyLogPrefix = "manifest:apply"

// Compiled is a document with every type expression parsed.
type Compiled struct {
	Types      *schema.TypeSet
	Operations []*registry.Operation
	Channels   []events.Descriptor
}

// Compile parses every expression in doc. Operations come back without
// handlers. Failures are InvalidDeclaration errors located by document path.
func Compile(doc *Document) (*Compiled, error) {
	c := &Compiled{Types: schema.NewTypeSet()}

	for _, td := range doc.Types {
		t, err := parse("types."+td.Name, td.Type)
		if err != nil {
			return nil, err
		}
		if err := c.Types.Define(td.Name, t); err != nil {
			return nil, err
		}
	}

	for _, od := range doc.Operations {
		op := &registry.Operation{Name: od.Name, Description: od.Description}
		for _, pd := range od.Params {
			t, err := parse(od.Name+"("+pd.Name+")", pd.Type)
			if err != nil {
				return nil, err
			}
			op.Params = append(op.Params, schema.F(pd.Name, t))
		}
		out, err := parse(od.Name+".output", od.Output)
		if err != nil {
			return nil, err
		}
		op.Output = out

		switch {
		case od.TextErrors && len(od.Errors) > 0:
			return nil, bridgeerr.AtPath(bridgeerr.InvalidDeclaration, od.Name+".error", "textErrors cannot be combined with errors")
		case od.TextErrors:
			op.Errors = registry.TextErrors()
		default:
			variants := make([]schema.Variant, 0, len(od.Errors))
			for _, expr := range od.Errors {
				v, err := schema.ParseVariant(expr)
				if err != nil {
					return nil, bridgeerr.Wrap(bridgeerr.InvalidDeclaration, od.Name+".error", err)
				}
				variants = append(variants, v)
			}
			op.Errors = registry.Variants(variants...)
		}
		c.Operations = append(c.Operations, op)
	}

	for _, cd := range doc.Channels {
		t, err := parse(cd.Name+".payload", cd.Payload)
		if err != nil {
			return nil, err
		}
		c.Channels = append(c.Channels, events.Descriptor{Channel: cd.Name, Payload: t, Description: cd.Description})
	}
	return c, nil
}

func parse(path, expr string) (*schema.Type, error) {
	t, err := schema.ParseType(expr)
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.InvalidDeclaration, path, err)
	}
	return t, nil
}

// Model returns the exportable model of the document, resolved.
func (c *Compiled) Model() (*schema.Model, error) {
	ops := make([]schema.OperationSig, len(c.Operations))
	for i, op := range c.Operations {
		ops[i] = op.Signature()
	}
	chans := make([]schema.ChannelSig, len(c.Channels))
	for i, d := range c.Channels {
		chans[i] = d.Signature()
	}
	m := schema.NewModel(c.Types, ops, chans)
	if err := m.Resolve(); err != nil {
		return nil, err
	}
	return m, nil
}

// ApplyParams holds parameters for Apply.
type ApplyParams struct {
	Registry *registry.Registry
	Bus      *events.Bus
	// Handlers binds operation names to implementations. Every declared
	// operation needs one, and every handler needs a declaration.
	Handlers map[string]registry.Handler
}

// Apply compiles doc, defines its types in the registry's type set,
// registers its operations and declares its channels. It does not finalize.
func Apply(doc *Document, params ApplyParams) error {
	c, err := Compile(doc)
	if err != nil {
		return err
	}

	declared := make(map[string]bool, len(c.Operations))
	for _, op := range c.Operations {
		declared[op.Name] = true
	}
	var unbound []string
	for name := range params.Handlers {
		if !declared[name] {
			unbound = append(unbound, name)
		}
	}
	if len(unbound) > 0 {
		sort.Strings(unbound)
		return bridgeerr.New(bridgeerr.InvalidDeclaration, "handlers without a declared operation: %v", unbound)
	}

	types := params.Registry.Types()
	for _, name := range c.Types.Names() {
		t, _ := c.Types.Lookup(name)
		if err := types.Define(name, t); err != nil {
			return err
		}
	}

	for _, op := range c.Operations {
		h, ok := params.Handlers[op.Name]
		if !ok {
			return bridgeerr.AtPath(bridgeerr.InvalidDeclaration, op.Name, "no handler bound")
		}
		op.Handler = h
		if err := params.Registry.Register(op); err != nil {
			return err
		}
	}

	if params.Bus != nil {
		for _, d := range c.Channels {
			if err := params.Bus.Declare(d); err != nil {
				return err
			}
		}
	}

	slog.Info(fmt.Sprintf("%s - applied %q: types=%d operations=%d channels=%d",
		applyLogPrefix, doc.Name, len(doc.Types), len(c.Operations), len(c.Channels)))
	return nil
}
