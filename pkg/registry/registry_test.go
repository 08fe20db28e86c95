package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/morezero/command-bridge/pkg/bridgeerr"
	"github.com/morezero/command-bridge/pkg/schema"
)

func noop(context.Context, *Call) (any, error) { return nil, nil }

func templateTypes(t *testing.T) *schema.TypeSet {
	t.Helper()
	ts := schema.NewTypeSet()
	require.NoError(t, ts.Define("Template", schema.MustParseType("record{id: string, name: string}")))
	return ts
}

func listTemplates() *Operation {
	return &Operation{
		Name:   "listTemplates",
		Output: schema.Seq(schema.Ref("Template")),
		Errors: Variants(
			schema.V("NotFound", schema.F("id", schema.String())),
			schema.V("IoError", schema.F("message", schema.String())),
		),
		Handler: noop,
	}
}

func TestRegister_LookupReturnsExactOperation(t *testing.T) {
	reg := NewRegistry(NewRegistryParams{Types: templateTypes(t)})
	ops := []*Operation{
		listTemplates(),
		{Name: "deleteTemplate", Params: []schema.Field{schema.F("id", schema.String())}, Output: schema.Unit(), Errors: TextErrors(), Handler: noop},
	}
	for _, op := range ops {
		require.NoError(t, reg.Register(op))
	}

	// visible before finalize too
	got, err := reg.Lookup("listTemplates")
	require.NoError(t, err)
	assert.Same(t, ops[0], got)

	require.NoError(t, reg.Finalize())
	assert.True(t, reg.Finalized())
	for _, op := range ops {
		got, err := reg.Lookup(op.Name)
		require.NoError(t, err)
		assert.Same(t, op, got)
	}
}

func TestRegister_Duplicate(t *testing.T) {
	reg := NewRegistry(NewRegistryParams{Types: templateTypes(t)})
	require.NoError(t, reg.Register(listTemplates()))

	err := reg.Register(listTemplates())
	require.Error(t, err)
	assert.True(t, errors.Is(err, bridgeerr.ErrDuplicateOperationName))
	assert.True(t, bridgeerr.IsFatal(err))
}

func TestRegister_AfterFinalize(t *testing.T) {
	reg := NewRegistry(NewRegistryParams{Types: templateTypes(t)})
	require.NoError(t, reg.Register(listTemplates()))
	require.NoError(t, reg.Finalize())

	err := reg.Register(&Operation{Name: "other", Output: schema.Unit(), Errors: TextErrors(), Handler: noop})
	assert.True(t, errors.Is(err, bridgeerr.ErrRegistryFrozen))

	// even a duplicate or malformed declaration reports the frozen state
	err = reg.Register(listTemplates())
	assert.True(t, errors.Is(err, bridgeerr.ErrRegistryFrozen))
	err = reg.Register(&Operation{Name: "bad name"})
	assert.True(t, errors.Is(err, bridgeerr.ErrRegistryFrozen))

	// the type set is frozen with the registry
	err = reg.Types().Define("Late", schema.String())
	assert.True(t, errors.Is(err, bridgeerr.ErrRegistryFrozen))
}

func TestRegister_InvalidDeclarations(t *testing.T) {
	tests := []struct {
		name string
		op   *Operation
	}{
		{"nil", nil},
		{"bad name", &Operation{Name: "list-templates", Output: schema.Unit(), Errors: TextErrors(), Handler: noop}},
		{"no handler", &Operation{Name: "a", Output: schema.Unit(), Errors: TextErrors()}},
		{"no output", &Operation{Name: "a", Errors: TextErrors(), Handler: noop}},
		{"no error encoding", &Operation{Name: "a", Output: schema.Unit(), Handler: noop}},
		{"mixed error encodings", &Operation{Name: "a", Output: schema.Unit(), Handler: noop,
			Errors: ErrorSpec{Text: true, List: []schema.Variant{schema.V("Oops")}}}},
		{"duplicate variant", &Operation{Name: "a", Output: schema.Unit(), Handler: noop,
			Errors: Variants(schema.V("Oops"), schema.V("Oops"))}},
		{"variant shadows discriminant", &Operation{Name: "a", Output: schema.Unit(), Handler: noop,
			Errors: Variants(schema.V("Oops", schema.F("type", schema.String())))}},
		{"duplicate param", &Operation{Name: "a", Output: schema.Unit(), Handler: noop, Errors: TextErrors(),
			Params: []schema.Field{schema.F("id", schema.String()), schema.F("id", schema.String())}}},
		{"bad output width", &Operation{Name: "a", Output: schema.Int(24), Handler: noop, Errors: TextErrors()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewRegistry(NewRegistryParams{})
			err := reg.Register(tt.op)
			require.Error(t, err)
			assert.True(t, errors.Is(err, bridgeerr.ErrInvalidDeclaration), err.Error())
		})
	}
}

func TestFinalize_UnresolvedType(t *testing.T) {
	reg := NewRegistry(NewRegistryParams{})
	require.NoError(t, reg.Register(&Operation{
		Name:    "getTemplate",
		Params:  []schema.Field{schema.F("id", schema.String())},
		Output:  schema.Opt(schema.Ref("Template")),
		Errors:  TextErrors(),
		Handler: noop,
	}))

	err := reg.Finalize()
	require.Error(t, err)
	assert.True(t, errors.Is(err, bridgeerr.ErrUnresolvedType))
	assert.Contains(t, err.Error(), "getTemplate.output")
	assert.False(t, reg.Finalized())

	// a failed finalize leaves the registry open so the declaration can be fixed
	require.NoError(t, reg.Types().Define("Template", schema.MustParseType("record{id: string}")))
	require.NoError(t, reg.Finalize())
	require.NoError(t, reg.Finalize())
}

func TestLookup_NotFound(t *testing.T) {
	reg := NewRegistry(NewRegistryParams{Types: templateTypes(t)})
	_, err := reg.Lookup("missing")
	assert.True(t, errors.Is(err, bridgeerr.ErrNotFound))

	require.NoError(t, reg.Finalize())
	_, err = reg.Lookup("missing")
	assert.True(t, errors.Is(err, bridgeerr.ErrNotFound))
	assert.Equal(t, bridgeerr.Recovered, bridgeerr.ClassOf(bridgeerr.CodeOf(err)))
}

func TestLookup_ConcurrentAfterFinalize(t *testing.T) {
	reg := NewRegistry(NewRegistryParams{})
	for i := 0; i < 20; i++ {
		reg.MustRegister(&Operation{Name: fmt.Sprintf("op%d", i), Output: schema.Unit(), Errors: TextErrors(), Handler: noop})
	}
	require.NoError(t, reg.Finalize())

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				op, err := reg.Lookup(fmt.Sprintf("op%d", i%20))
				if assert.NoError(t, err) {
					assert.Equal(t, fmt.Sprintf("op%d", i%20), op.Name)
				}
			}
		}()
	}
	wg.Wait()
}

func TestOperations_SortedAndModel(t *testing.T) {
	reg := NewRegistry(NewRegistryParams{Types: templateTypes(t)})
	reg.MustRegister(listTemplates())
	reg.MustRegister(&Operation{Name: "deleteTemplate", Output: schema.Unit(), Errors: TextErrors(), Handler: noop})

	names := []string{}
	for _, op := range reg.Operations() {
		names = append(names, op.Name)
	}
	assert.Equal(t, []string{"deleteTemplate", "listTemplates"}, names)

	require.NoError(t, reg.Finalize())
	sigs := reg.Signatures()
	require.Len(t, sigs, 2)
	assert.True(t, sigs[0].Error.Text)
	assert.Equal(t, "union{NotFound{id: string} | IoError{message: string}}", sigs[1].Error.String())

	m := reg.Model([]schema.ChannelSig{{Name: "templates:changed", Payload: schema.Ref("Template")}})
	require.NoError(t, m.Resolve())
	assert.Len(t, m.Channels, 1)
}

func TestErrorSpec(t *testing.T) {
	errs := listTemplates().Errors
	assert.Equal(t, []string{"NotFound", "IoError"}, errs.Names())

	v, ok := errs.Variant("IoError")
	require.True(t, ok)
	assert.Equal(t, "message", v.Fields[0].Name)

	_, ok = errs.Variant("Timeout")
	assert.False(t, ok)
	assert.True(t, TextErrors().Shape().Text)
}
