// Package export turns a finalized schema.Model into declaration artifacts
// for consumers written against another type system.
//
// One canonical model feeds every target. Each Exporter is deterministic:
// exporting an unchanged model twice yields byte-identical output.
package export

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/morezero/command-bridge/pkg/bridgeerr"
	"github.com/morezero/command-bridge/pkg/schema"
)

const logPrefix = "export:export"

// Exporter renders a model for one target type system.
type Exporter interface {
	// Target is the short name used on the command line ("ts", "jsonschema").
	Target() string
	// FileName is the default artifact name for this target.
	FileName() string
	Export(m *schema.Model) ([]byte, error)
}

// Targets returns every built-in exporter keyed by target name.
func Targets() map[string]Exporter {
	out := map[string]Exporter{}
	for _, e := range []Exporter{NewTypeScript(), NewJSONSchema()} {
		out[e.Target()] = e
	}
	return out
}

// TargetNames lists the built-in target names in sorted order.
func TargetNames() []string {
	names := make([]string, 0, 2)
	for n := range Targets() {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ForTarget returns the exporter registered under name.
func ForTarget(name string) (Exporter, error) {
	e, ok := Targets()[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%s - unknown export target %q (want one of %s)", logPrefix, name, strings.Join(TargetNames(), ", "))
	}
	return e, nil
}

// nested promotes a leaf failure found inside the composite t to a
// NestedExportFailure carrying the full type path. A failing primitive at
// the root is returned unchanged.
func nested(root string, t *schema.Type, err error) error {
	var be *bridgeerr.Error
	if !errors.As(err, &be) || t.IsPrimitive() || be.Code != bridgeerr.RangeUnsafePrimitive {
		return err
	}
	return &bridgeerr.Error{
		Code:    bridgeerr.NestedExportFailure,
		Path:    be.Path,
		Message: fmt.Sprintf("cannot export %s", root),
		Err:     be,
	}
}

func paramPath(op, param string) string {
	return op + "(" + param + ")"
}
