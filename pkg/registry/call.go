package registry

import (
	"context"
	"encoding/json"
	"fmt"
)

// Call is one invocation of an operation as seen by its handler.
type Call struct {
	Operation string
	RequestID string
	Args      Args
	Emitter   Emitter
}

// Emit publishes an event on channel. It never blocks on the dispatcher.
func (c *Call) Emit(ctx context.Context, channel string, payload any) error {
	if c.Emitter == nil {
		return nil
	}
	return c.Emitter.Publish(ctx, channel, payload)
}

// Args are decoded argument values keyed by parameter name. Values are in
// the canonical form produced by schema.Decode; absent optionals are nil.
type Args struct {
	values map[string]any
}

// NewArgs wraps decoded values.
func NewArgs(values map[string]any) Args {
	if values == nil {
		values = map[string]any{}
	}
	return Args{values: values}
}

// Len returns the number of arguments.
func (a Args) Len() int {
	return len(a.values)
}

// Value returns the raw canonical value of name.
func (a Args) Value(name string) (any, bool) {
	v, ok := a.values[name]
	return v, ok
}

// Present reports whether name was supplied with a non-null value.
func (a Args) Present(name string) bool {
	v, ok := a.values[name]
	return ok && v != nil
}

// String returns a text argument, or "" when absent.
func (a Args) String(name string) string {
	s, _ := a.values[name].(string)
	return s
}

// Bool returns a boolean argument, or false when absent.
func (a Args) Bool(name string) bool {
	b, _ := a.values[name].(bool)
	return b
}

// Int returns a signed integer argument, or 0 when absent.
func (a Args) Int(name string) int64 {
	n, _ := a.values[name].(int64)
	return n
}

// Uint returns an unsigned integer argument, or 0 when absent.
func (a Args) Uint(name string) uint64 {
	n, _ := a.values[name].(uint64)
	return n
}

// Float returns a floating point argument, or 0 when absent.
func (a Args) Float(name string) float64 {
	f, _ := a.values[name].(float64)
	return f
}

// Bytes returns a binary argument, or nil when absent.
func (a Args) Bytes(name string) []byte {
	b, _ := a.values[name].([]byte)
	return b
}

// Bind copies all arguments into dst, a pointer to a struct whose json tags
// name the parameters.
func (a Args) Bind(dst any) error {
	return rebind(a.values, dst)
}

// BindParam copies a single argument into dst.
func (a Args) BindParam(name string, dst any) error {
	v, ok := a.values[name]
	if !ok {
		return fmt.Errorf("%s - no argument %q", logPrefix, name)
	}
	return rebind(v, dst)
}

// MarshalJSON renders the arguments as an object keyed by parameter name.
func (a Args) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.values)
}

func rebind(v any, dst any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%s - encode arguments: %w", logPrefix, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%s - bind arguments: %w", logPrefix, err)
	}
	return nil
}
