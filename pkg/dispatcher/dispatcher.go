package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/morezero/command-bridge/pkg/bridgeerr"
	"github.com/morezero/command-bridge/pkg/metrics"
	"github.com/morezero/command-bridge/pkg/registry"
	"github.com/morezero/command-bridge/pkg/schema"
)

const logPrefix = "dispatcher:dispatch"

// Dispatcher routes invocation requests to registry operations. It keeps no
// state between calls and never serializes them: every Dispatch runs its
// handler independently.
type Dispatcher struct {
	registry *registry.Registry
	emitter  registry.Emitter
	metrics  *metrics.Metrics
}

// NewDispatcherParams holds parameters for NewDispatcher.
type NewDispatcherParams struct {
	Registry *registry.Registry
	// Emitter is handed to handlers for progress events. Optional.
	Emitter registry.Emitter
	// Metrics records outcomes. Optional.
	Metrics *metrics.Metrics
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(params NewDispatcherParams) *Dispatcher {
	emitter := params.Emitter
	if emitter == nil {
		emitter = registry.NoOpEmitter{}
	}
	return &Dispatcher{registry: params.Registry, emitter: emitter, metrics: params.Metrics}
}

type outcome struct {
	value     any
	err       error
	panicked  bool
	recovered any
}

// Dispatch resolves req against the registry, runs the handler and encodes
// the result. Unknown operations, malformed arguments and handler faults are
// all reported inside the returned envelope.
//
// The only error Dispatch returns is the context's: once ctx is done the
// caller has dropped interest, so no envelope is produced. The handler is
// not stopped; it sees the cancelled context and may return early.
func (d *Dispatcher) Dispatch(ctx context.Context, req *InvocationRequest) (*Envelope, error) {
	start := time.Now()
	slog.Debug(fmt.Sprintf("%s - operation=%s id=%s", logPrefix, req.Operation, req.ID))

	op, err := d.registry.Lookup(req.Operation)
	if err != nil {
		d.observe(req.Operation, metrics.StatusFault, start)
		return Fault(req.ID, FaultBody{
			Type:      bridgeerr.NotFound,
			Operation: req.Operation,
			Message:   fmt.Sprintf("unknown operation %q", req.Operation),
		}), nil
	}

	values, err := decodeArgs(d.registry.Types(), op, req.Args)
	if err != nil {
		var ve *schema.ValueError
		body := FaultBody{Type: bridgeerr.ArgumentDecodeError, Operation: op.Name, Message: err.Error()}
		if errors.As(err, &ve) {
			body.Path, body.Message = ve.Path, ve.Message
		}
		slog.Debug(fmt.Sprintf("%s - rejected arguments operation=%s id=%s: %v", logPrefix, op.Name, req.ID, err))
		d.observe(op.Name, metrics.StatusFault, start)
		return Fault(req.ID, body), nil
	}

	if req.Ctx != nil && req.Ctx.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.Ctx.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	call := &registry.Call{
		Operation: op.Name,
		RequestID: req.ID,
		Args:      registry.NewArgs(values),
		Emitter:   d.emitter,
	}

	done := make(chan outcome, 1)
	d.metrics.HandlerStarted()
	go func() {
		out := invoke(ctx, op, call)
		d.metrics.HandlerFinished()
		done <- out
	}()

	var out outcome
	select {
	case out = <-done:
	case <-ctx.Done():
	}
	if ctx.Err() != nil {
		slog.Info(fmt.Sprintf("%s - dropped result operation=%s id=%s: %v", logPrefix, op.Name, req.ID, ctx.Err()))
		d.observe(op.Name, metrics.StatusCancelled, start)
		return nil, ctx.Err()
	}

	env := d.encode(req.ID, op, out)
	switch {
	case env.Fault:
		d.observe(op.Name, metrics.StatusFault, start)
	case env.IsOK():
		d.observe(op.Name, metrics.StatusOK, start)
	default:
		d.observe(op.Name, metrics.StatusError, start)
	}
	return env, nil
}

func (d *Dispatcher) observe(operation, status string, start time.Time) {
	d.metrics.ObserveInvocation(operation, status, time.Since(start))
}

// invoke runs the handler, turning a panic into an outcome.
func invoke(ctx context.Context, op *registry.Operation, call *registry.Call) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error(fmt.Sprintf("%s - handler panicked operation=%s id=%s: %v\n%s",
				logPrefix, op.Name, call.RequestID, r, debug.Stack()))
			out = outcome{panicked: true, recovered: r}
		}
	}()
	value, err := op.Handler(ctx, call)
	return outcome{value: value, err: err}
}

// encode converts a handler outcome to an envelope. Anything the handler
// produced that its declaration does not allow becomes a HandlerFault.
// Encoding runs handler code (MarshalJSON, Error, Unwrap), so a panic here
// is a HandlerFault too.
func (d *Dispatcher) encode(id string, op *registry.Operation, out outcome) (env *Envelope) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error(fmt.Sprintf("%s - encoding panicked operation=%s id=%s: %v\n%s",
				logPrefix, op.Name, id, r, debug.Stack()))
			env = handlerFault(id, op, fmt.Sprintf("encoding result panicked: %v", r))
		}
	}()
	types := d.registry.Types()

	if out.panicked {
		return handlerFault(id, op, fmt.Sprintf("handler panicked: %v", out.recovered))
	}

	if out.err != nil {
		var f *registry.Failure
		isFailure := errors.As(out.err, &f)

		if op.Errors.Text {
			if isFailure && f.Variant != "" {
				return handlerFault(id, op, fmt.Sprintf("text-error operation returned variant %q", f.Variant))
			}
			raw, _ := json.Marshal(out.err.Error())
			return Failed(id, raw)
		}

		if !isFailure || f.Variant == "" {
			return handlerFault(id, op, fmt.Sprintf("undeclared error: %v", out.err))
		}
		if _, declared := op.Errors.Variant(f.Variant); !declared {
			return handlerFault(id, op, fmt.Sprintf("undeclared error variant %q", f.Variant))
		}
		raw, err := schema.Encode(types, schema.Union(op.Errors.List...), op.Name+".error",
			schema.UnionValue{Variant: f.Variant, Fields: f.Fields})
		if err != nil {
			return handlerFault(id, op, fmt.Sprintf("error value does not match its declaration: %v", err))
		}
		return Failed(id, raw)
	}

	raw, err := schema.Encode(types, op.Output, op.Name+".output", out.value)
	if err != nil {
		return handlerFault(id, op, fmt.Sprintf("output does not match its declaration: %v", err))
	}
	return OK(id, raw)
}

func handlerFault(id string, op *registry.Operation, message string) *Envelope {
	slog.Warn(fmt.Sprintf("%s - handler fault operation=%s id=%s: %s", logPrefix, op.Name, id, message))
	return Fault(id, FaultBody{Type: bridgeerr.HandlerFault, Operation: op.Name, Message: message})
}

// decodeArgs checks raw against the operation's parameters and returns the
// canonical values by parameter name. Absent optional parameters are nil.
func decodeArgs(types *schema.TypeSet, op *registry.Operation, raw json.RawMessage) (map[string]any, error) {
	trimmed := bytes.TrimSpace(raw)
	values := make(map[string]any, len(op.Params))

	var supplied map[string]json.RawMessage
	switch {
	case len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")):
		supplied = map[string]json.RawMessage{}
	case trimmed[0] == '[':
		var positional []json.RawMessage
		if err := json.Unmarshal(trimmed, &positional); err != nil {
			return nil, &schema.ValueError{Path: "args", Message: fmt.Sprintf("malformed argument list: %v", err)}
		}
		if len(positional) > len(op.Params) {
			return nil, &schema.ValueError{Path: "args", Message: fmt.Sprintf("expected at most %d arguments, got %d", len(op.Params), len(positional))}
		}
		supplied = make(map[string]json.RawMessage, len(positional))
		for i, v := range positional {
			supplied[op.Params[i].Name] = v
		}
	case trimmed[0] == '{':
		if err := json.Unmarshal(trimmed, &supplied); err != nil {
			return nil, &schema.ValueError{Path: "args", Message: fmt.Sprintf("malformed argument object: %v", err)}
		}
		for name := range supplied {
			if !hasParam(op, name) {
				return nil, &schema.ValueError{Path: name, Message: "unknown parameter"}
			}
		}
	default:
		return nil, &schema.ValueError{Path: "args", Message: "arguments must be a JSON array or object"}
	}

	for _, p := range op.Params {
		v, ok := supplied[p.Name]
		if !ok {
			if !schema.IsOptional(types, p.Type) {
				return nil, &schema.ValueError{Path: p.Name, Message: "missing required argument"}
			}
			values[p.Name] = nil
			continue
		}
		decoded, err := schema.Decode(types, p.Type, p.Name, v)
		if err != nil {
			return nil, err
		}
		values[p.Name] = decoded
	}
	return values, nil
}

func hasParam(op *registry.Operation, name string) bool {
	for _, p := range op.Params {
		if p.Name == name {
			return true
		}
	}
	return false
}
