package schema

import (
	"regexp"
	"sort"
	"sync"

	"github.com/morezero/command-bridge/pkg/bridgeerr"
)

var typeNameRegex = regexp.MustCompile(`^[A-Z][A-Za-z0-9_]*$`)

// TypeSet holds the named type declarations that refs resolve against.
// It is safe for concurrent use; after Freeze it rejects new declarations.
type TypeSet struct {
	mu     sync.RWMutex
	types  map[string]*Type
	frozen bool
}

// NewTypeSet creates an empty TypeSet.
func NewTypeSet() *TypeSet {
	return &TypeSet{types: make(map[string]*Type)}
}

// Define declares a named type. Names are PascalCase and unique.
func (ts *TypeSet) Define(name string, t *Type) error {
	if !typeNameRegex.MatchString(name) || IsReservedName(name) {
		return bridgeerr.AtPath(bridgeerr.InvalidDeclaration, name, "type names must be PascalCase identifiers")
	}
	if err := Validate(name, t); err != nil {
		return err
	}
	if t.Kind == KindRef {
		return bridgeerr.AtPath(bridgeerr.InvalidDeclaration, name, "type %q cannot alias another named type", name)
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.frozen {
		return bridgeerr.AtPath(bridgeerr.RegistryFrozen, name, "type set is frozen")
	}
	if _, exists := ts.types[name]; exists {
		return bridgeerr.AtPath(bridgeerr.InvalidDeclaration, name, "type %q is already defined", name)
	}
	ts.types[name] = t
	return nil
}

// MustDefine is Define that panics on error, for static declarations.
func (ts *TypeSet) MustDefine(name string, t *Type) {
	if err := ts.Define(name, t); err != nil {
		panic(err)
	}
}

// Lookup returns the declaration of name.
func (ts *TypeSet) Lookup(name string) (*Type, bool) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	t, ok := ts.types[name]
	return t, ok
}

// Names returns all declared names in sorted order.
func (ts *TypeSet) Names() []string {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	names := make([]string, 0, len(ts.types))
	for n := range ts.types {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Freeze rejects all further declarations.
func (ts *TypeSet) Freeze() {
	ts.mu.Lock()
	ts.frozen = true
	ts.mu.Unlock()
}

// Frozen reports whether Freeze has been called.
func (ts *TypeSet) Frozen() bool {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.frozen
}

// Resolve checks that every ref reachable from t names a declared type.
// path names t in the failure (e.g. "listTemplates.output").
func (ts *TypeSet) Resolve(path string, t *Type) error {
	return ts.resolve(path, t, map[string]bool{})
}

// ResolveAll resolves every declared type.
func (ts *TypeSet) ResolveAll() error {
	for _, name := range ts.Names() {
		t, _ := ts.Lookup(name)
		if err := ts.Resolve(name, t); err != nil {
			return err
		}
	}
	return nil
}

func (ts *TypeSet) resolve(path string, t *Type, seen map[string]bool) error {
	if t == nil {
		return bridgeerr.AtPath(bridgeerr.UnresolvedType, path, "missing type descriptor")
	}
	switch t.Kind {
	case KindRef:
		if seen[t.Name] {
			return nil
		}
		decl, ok := ts.Lookup(t.Name)
		if !ok {
			return bridgeerr.AtPath(bridgeerr.UnresolvedType, path, "no type named %q", t.Name)
		}
		seen[t.Name] = true
		return ts.resolve(t.Name, decl, seen)
	case KindSequence:
		return ts.resolve(path+"[]", t.Elem, seen)
	case KindMapping:
		return ts.resolve(path+"{}", t.Elem, seen)
	case KindOptional:
		return ts.resolve(path, t.Elem, seen)
	case KindRecord:
		for _, f := range t.Fields {
			if err := ts.resolve(path+"."+f.Name, f.Type, seen); err != nil {
				return err
			}
		}
	case KindUnion:
		for _, v := range t.Variants {
			for _, f := range v.Fields {
				if err := ts.resolve(path+"."+v.Name+"."+f.Name, f.Type, seen); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// deref follows refs to the underlying declaration.
func (ts *TypeSet) deref(t *Type) (*Type, error) {
	for i := 0; t != nil && t.Kind == KindRef; i++ {
		if ts == nil {
			return nil, bridgeerr.New(bridgeerr.UnresolvedType, "no type set to resolve %q", t.Name)
		}
		decl, ok := ts.Lookup(t.Name)
		if !ok {
			return nil, bridgeerr.New(bridgeerr.UnresolvedType, "no type named %q", t.Name)
		}
		if i > 64 {
			return nil, bridgeerr.New(bridgeerr.UnresolvedType, "ref cycle through %q", t.Name)
		}
		t = decl
	}
	return t, nil
}
