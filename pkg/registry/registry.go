package registry

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/morezero/command-bridge/pkg/bridgeerr"
	"github.com/morezero/command-bridge/pkg/schema"
)

const logPrefix = "registry:registry"

var operationNameRegex = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// Registry maps operation names to their declarations. It is populated at
// startup, then frozen by Finalize; after that it never changes and Lookup
// takes no lock.
type Registry struct {
	mu      sync.Mutex
	types   *schema.TypeSet
	pending map[string]*Operation
	final   atomic.Pointer[catalog]
}

// catalog is the immutable view published by Finalize.
type catalog struct {
	byName map[string]*Operation
	sorted []*Operation
}

// NewRegistryParams holds parameters for NewRegistry.
type NewRegistryParams struct {
	// Types resolves the named types operations refer to. A fresh set is
	// created when nil.
	Types *schema.TypeSet
}

// NewRegistry creates an empty registry.
func NewRegistry(params NewRegistryParams) *Registry {
	types := params.Types
	if types == nil {
		types = schema.NewTypeSet()
	}
	return &Registry{types: types, pending: make(map[string]*Operation)}
}

// Types returns the type set operations resolve against.
func (r *Registry) Types() *schema.TypeSet {
	return r.types
}

// Register adds op. The registry keeps op itself, so Lookup returns the
// same pointer.
func (r *Registry) Register(op *Operation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if op == nil {
		return bridgeerr.New(bridgeerr.InvalidDeclaration, "nil operation")
	}
	if r.final.Load() != nil {
		return bridgeerr.AtPath(bridgeerr.RegistryFrozen, op.Name, "registry is finalized")
	}
	if err := validateOperation(op); err != nil {
		return err
	}
	if _, exists := r.pending[op.Name]; exists {
		return bridgeerr.AtPath(bridgeerr.DuplicateOperationName, op.Name, "operation %q is already registered", op.Name)
	}
	r.pending[op.Name] = op
	slog.Debug(fmt.Sprintf("%s - registered operation=%s params=%d", logPrefix, op.Name, len(op.Params)))
	return nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(op *Operation) {
	if err := r.Register(op); err != nil {
		panic(err)
	}
}

func validateOperation(op *Operation) error {
	if !operationNameRegex.MatchString(op.Name) {
		return bridgeerr.AtPath(bridgeerr.InvalidDeclaration, op.Name, "operation name must be an identifier")
	}
	if op.Handler == nil {
		return bridgeerr.AtPath(bridgeerr.InvalidDeclaration, op.Name, "operation has no handler")
	}
	if err := schema.Validate(op.Name, schema.Record(op.Params...)); err != nil {
		return err
	}
	if op.Output == nil {
		return bridgeerr.AtPath(bridgeerr.InvalidDeclaration, op.Name+".output", "missing output type (use unit for none)")
	}
	if err := schema.Validate(op.Name+".output", op.Output); err != nil {
		return err
	}
	switch {
	case op.Errors.Text && len(op.Errors.List) > 0:
		return bridgeerr.AtPath(bridgeerr.InvalidDeclaration, op.Name+".error", "text errors cannot be mixed with structured variants")
	case !op.Errors.Text && len(op.Errors.List) == 0:
		return bridgeerr.AtPath(bridgeerr.InvalidDeclaration, op.Name+".error", "no error encoding declared")
	case !op.Errors.Text:
		return schema.Validate(op.Name+".error", schema.Union(op.Errors.List...))
	}
	return nil
}

// Finalize resolves every type the operations reference, then freezes the
// registry and its type set. Calling it again after success is a no-op.
func (r *Registry) Finalize() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.final.Load() != nil {
		return nil
	}

	ops := make([]*Operation, 0, len(r.pending))
	for _, op := range r.pending {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i].Name < ops[j].Name })

	sigs := make([]schema.OperationSig, len(ops))
	for i, op := range ops {
		sigs[i] = op.Signature()
	}
	if err := schema.NewModel(r.types, sigs, nil).Resolve(); err != nil {
		slog.Error(fmt.Sprintf("%s - finalize failed: %v", logPrefix, err))
		return err
	}

	byName := make(map[string]*Operation, len(ops))
	for _, op := range ops {
		byName[op.Name] = op
	}
	r.types.Freeze()
	r.final.Store(&catalog{byName: byName, sorted: ops})
	r.pending = nil

	slog.Info(fmt.Sprintf("%s - finalized operations=%d types=%d", logPrefix, len(ops), len(r.types.Names())))
	return nil
}

// Finalized reports whether Finalize has succeeded.
func (r *Registry) Finalized() bool {
	return r.final.Load() != nil
}

// Lookup returns the operation registered under name, or a NotFound error.
func (r *Registry) Lookup(name string) (*Operation, error) {
	if c := r.final.Load(); c != nil {
		if op, ok := c.byName[name]; ok {
			return op, nil
		}
		return nil, notFound(name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c := r.final.Load(); c != nil {
		if op, ok := c.byName[name]; ok {
			return op, nil
		}
	} else if op, ok := r.pending[name]; ok {
		return op, nil
	}
	return nil, notFound(name)
}

func notFound(name string) error {
	return bridgeerr.AtPath(bridgeerr.NotFound, name, "no operation named %q", name)
}

// Operations lists the registered operations in name order.
func (r *Registry) Operations() []*Operation {
	if c := r.final.Load(); c != nil {
		return append([]*Operation(nil), c.sorted...)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	ops := make([]*Operation, 0, len(r.pending))
	for _, op := range r.pending {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i].Name < ops[j].Name })
	return ops
}

// Signatures lists the exportable signatures in name order.
func (r *Registry) Signatures() []schema.OperationSig {
	ops := r.Operations()
	sigs := make([]schema.OperationSig, len(ops))
	for i, op := range ops {
		sigs[i] = op.Signature()
	}
	return sigs
}

// Model combines the registry's operations with channels into the model
// exporters consume.
func (r *Registry) Model(channels []schema.ChannelSig) *schema.Model {
	return schema.NewModel(r.types, r.Signatures(), channels)
}
