// Package registry catalogs the operations the bridge exposes: their
// parameter, output and error schemas and the handler behind each one.
package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/morezero/command-bridge/pkg/schema"
)

// Handler runs an operation. It returns the output value, or an error.
//
// For operations with structured errors, a declared failure is returned as
// a *Failure built with Fail; any other error is a fault. For operations
// with text errors, every error's message is the failure text.
type Handler func(ctx context.Context, call *Call) (any, error)

// Operation is a named callable unit with its schema.
type Operation struct {
	Name        string
	Description string
	Params      []schema.Field
	Output      *schema.Type
	Errors      ErrorSpec
	Handler     Handler
}

// Signature returns the exportable signature of op.
func (op *Operation) Signature() schema.OperationSig {
	return schema.OperationSig{
		Name:        op.Name,
		Description: op.Description,
		Params:      op.Params,
		Output:      op.Output,
		Error:       op.Errors.Shape(),
	}
}

// ErrorSpec is the failure encoding an operation declares. An operation
// picks exactly one: a closed set of structured variants, or a single
// free-text variant.
type ErrorSpec struct {
	Text bool
	List []schema.Variant
}

// Variants declares a structured error set.
func Variants(vs ...schema.Variant) ErrorSpec {
	return ErrorSpec{List: vs}
}

// TextErrors declares a single free-text error variant.
func TextErrors() ErrorSpec {
	return ErrorSpec{Text: true}
}

// Shape converts e to its schema form.
func (e ErrorSpec) Shape() schema.ErrorShape {
	return schema.ErrorShape{Text: e.Text, Variants: e.List}
}

// Variant returns the declared variant called name.
func (e ErrorSpec) Variant(name string) (schema.Variant, bool) {
	for _, v := range e.List {
		if v.Name == name {
			return v, true
		}
	}
	return schema.Variant{}, false
}

// Names lists the declared variant names in declaration order.
func (e ErrorSpec) Names() []string {
	names := make([]string, len(e.List))
	for i, v := range e.List {
		names[i] = v.Name
	}
	return names
}

// Failure is a declared error value returned from a handler. Variant names
// one of the operation's declared variants and Fields carries its fields.
// For text-error operations only Text is used.
type Failure struct {
	Variant string
	Fields  map[string]any
	Text    string
}

// Fail builds a structured failure.
func Fail(variant string, fields map[string]any) *Failure {
	if fields == nil {
		fields = map[string]any{}
	}
	return &Failure{Variant: variant, Fields: fields}
}

// Failf builds a free-text failure.
func Failf(format string, args ...any) *Failure {
	return &Failure{Text: fmt.Sprintf(format, args...)}
}

func (f *Failure) Error() string {
	if f.Variant == "" {
		return f.Text
	}
	if len(f.Fields) == 0 {
		return f.Variant
	}
	parts := make([]string, 0, len(f.Fields))
	for k, v := range f.Fields {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	sort.Strings(parts)
	return f.Variant + "{" + strings.Join(parts, ", ") + "}"
}

// Emitter publishes backend events. Handlers use it through Call.Emit to
// report progress without blocking the dispatcher.
type Emitter interface {
	Publish(ctx context.Context, channel string, payload any) error
}

// NoOpEmitter discards every event.
type NoOpEmitter struct{}

func (NoOpEmitter) Publish(context.Context, string, any) error { return nil }
