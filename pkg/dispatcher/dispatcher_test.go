package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/morezero/command-bridge/pkg/bridgeerr"
	"github.com/morezero/command-bridge/pkg/metrics"
	"github.com/morezero/command-bridge/pkg/registry"
	"github.com/morezero/command-bridge/pkg/schema"
)

type level struct {
	Depth    uint16    `json:"depth"`
	Fallback *template `json:"fallback"`
}

type template struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Levels []level `json:"levels"`
}

type fixture struct {
	reg   *registry.Registry
	disp  *Dispatcher
	calls atomic.Int32
}

func templateErrors() registry.ErrorSpec {
	return registry.Variants(
		schema.V("NotFound", schema.F("id", schema.String())),
		schema.V("IoError", schema.F("message", schema.String())),
	)
}

// newFixture registers ops and builds a dispatcher over them. Every handler
// call is counted so tests can assert a handler never ran.
func newFixture(t *testing.T, m *metrics.Metrics, ops ...*registry.Operation) *fixture {
	t.Helper()
	ts := schema.NewTypeSet()
	require.NoError(t, ts.Define("Template", schema.MustParseType("record{id: string, name: string, levels: sequence<Level>}")))
	require.NoError(t, ts.Define("Level", schema.MustParseType("record{depth: u16, fallback: optional<Template>}")))

	f := &fixture{reg: registry.NewRegistry(registry.NewRegistryParams{Types: ts})}
	for _, op := range ops {
		h := op.Handler
		op.Handler = func(ctx context.Context, call *registry.Call) (any, error) {
			f.calls.Add(1)
			return h(ctx, call)
		}
		require.NoError(t, f.reg.Register(op))
	}
	require.NoError(t, f.reg.Finalize())
	f.disp = NewDispatcher(NewDispatcherParams{Registry: f.reg, Metrics: m})
	return f
}

func (f *fixture) dispatch(t *testing.T, op, args string) *Envelope {
	t.Helper()
	env, err := f.disp.Dispatch(context.Background(), &InvocationRequest{ID: "req-1", Operation: op, Args: json.RawMessage(args)})
	require.NoError(t, err)
	require.NotNil(t, env)
	require.NoError(t, env.Validate())
	return env
}

func marshal(t *testing.T, env *Envelope) string {
	t.Helper()
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	return string(raw)
}

func listTemplatesOp(h registry.Handler) *registry.Operation {
	return &registry.Operation{
		Name:    "listTemplates",
		Output:  schema.Seq(schema.Ref("Template")),
		Errors:  templateErrors(),
		Handler: h,
	}
}

func getTemplateOp(h registry.Handler) *registry.Operation {
	return &registry.Operation{
		Name:    "getTemplate",
		Params:  []schema.Field{schema.F("id", schema.String()), schema.F("depth", schema.Opt(schema.Uint(8)))},
		Output:  schema.Ref("Template"),
		Errors:  templateErrors(),
		Handler: h,
	}
}

func TestDispatch_ListTemplatesOK(t *testing.T) {
	f := newFixture(t, nil, listTemplatesOp(func(context.Context, *registry.Call) (any, error) {
		return []template{{ID: "t1", Name: "root", Levels: []level{{Depth: 1}}}}, nil
	}))

	env := f.dispatch(t, "listTemplates", "[]")
	assert.JSONEq(t,
		`{"id":"req-1","status":"ok","data":[{"id":"t1","name":"root","levels":[{"depth":1,"fallback":null}]}]}`,
		marshal(t, env))
}

func TestDispatch_DeclaredError(t *testing.T) {
	f := newFixture(t, nil, listTemplatesOp(func(context.Context, *registry.Call) (any, error) {
		return nil, registry.Fail("NotFound", map[string]any{"id": "x"})
	}))

	env := f.dispatch(t, "listTemplates", "")
	assert.JSONEq(t, `{"id":"req-1","status":"error","error":{"type":"NotFound","id":"x"}}`, marshal(t, env))
	assert.False(t, env.Fault)
	assert.Equal(t, "NotFound", env.ErrorType())
}

func TestDispatch_WrappedDeclaredError(t *testing.T) {
	f := newFixture(t, nil, listTemplatesOp(func(context.Context, *registry.Call) (any, error) {
		return nil, fmt.Errorf("reading store: %w", registry.Fail("IoError", map[string]any{"message": "disk"}))
	}))

	env := f.dispatch(t, "listTemplates", "")
	assert.JSONEq(t, `{"type":"IoError","message":"disk"}`, string(env.Error))
}

func TestDispatch_UnknownOperation(t *testing.T) {
	f := newFixture(t, nil, listTemplatesOp(func(context.Context, *registry.Call) (any, error) {
		return []template{}, nil
	}))

	for _, name := range []string{"missing", "", "ListTemplates"} {
		env := f.dispatch(t, name, "[]")
		require.True(t, env.Fault)
		body, err := env.FaultBody()
		require.NoError(t, err)
		assert.Equal(t, bridgeerr.NotFound, body.Type)
		assert.Equal(t, name, body.Operation)
	}
	assert.Equal(t, int32(0), f.calls.Load())
}

func TestDispatch_ArgumentDecodeError(t *testing.T) {
	save := &registry.Operation{
		Name:    "saveTemplate",
		Params:  []schema.Field{schema.F("template", schema.Ref("Template"))},
		Output:  schema.Unit(),
		Errors:  registry.TextErrors(),
		Handler: func(context.Context, *registry.Call) (any, error) { return nil, nil },
	}
	f := newFixture(t, nil, save, getTemplateOp(func(context.Context, *registry.Call) (any, error) {
		return template{Levels: []level{}}, nil
	}))

	tests := []struct {
		name     string
		op       string
		args     string
		wantPath string
	}{
		{
			"nested field",
			"saveTemplate",
			`{"template":{"id":"a","name":"b","levels":[{"depth":1,"fallback":null},{"depth":2,"fallback":null},{"depth":3,"fallback":"x"}]}}`,
			"template.levels[2].fallback",
		},
		{"missing required field", "saveTemplate", `[{"id":"a","name":"b"}]`, "template.levels"},
		{"missing required argument", "getTemplate", `{}`, "id"},
		{"wrong primitive", "getTemplate", `["a", -1]`, "depth"},
		{"unknown parameter", "getTemplate", `{"id":"a","verbose":true}`, "verbose"},
		{"too many positional", "getTemplate", `["a", 1, 2]`, "args"},
		{"not a tuple", "getTemplate", `"a"`, "args"},
		{"malformed", "getTemplate", `{"id":`, "args"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := f.dispatch(t, tt.op, tt.args)
			require.True(t, env.Fault)
			body, err := env.FaultBody()
			require.NoError(t, err)
			assert.Equal(t, bridgeerr.ArgumentDecodeError, body.Type)
			assert.Equal(t, tt.wantPath, body.Path)
			assert.NotEmpty(t, body.Message)
		})
	}
	assert.Equal(t, int32(0), f.calls.Load())
}

func TestDispatch_PositionalAndNamedArgs(t *testing.T) {
	var mu sync.Mutex
	var seen []registry.Args
	f := newFixture(t, nil, getTemplateOp(func(_ context.Context, call *registry.Call) (any, error) {
		mu.Lock()
		seen = append(seen, call.Args)
		mu.Unlock()
		return template{ID: call.Args.String("id"), Levels: []level{}}, nil
	}))

	for _, args := range []string{`["t1"]`, `["t1", 3]`, `{"id":"t1"}`, `{"id":"t1","depth":3}`, `["t1", null]`} {
		env := f.dispatch(t, "getTemplate", args)
		require.True(t, env.IsOK(), args)
		var got template
		require.NoError(t, env.DecodeData(&got))
		assert.Equal(t, "t1", got.ID)
	}

	require.Len(t, seen, 5)
	assert.False(t, seen[0].Present("depth"))
	assert.Equal(t, uint64(3), seen[1].Uint("depth"))
	assert.False(t, seen[2].Present("depth"))
	assert.Equal(t, uint64(3), seen[3].Uint("depth"))
	assert.False(t, seen[4].Present("depth"))
}

func TestDispatch_HandlerFaults(t *testing.T) {
	tests := []struct {
		name    string
		handler registry.Handler
	}{
		{"panic", func(context.Context, *registry.Call) (any, error) { panic("boom") }},
		{"nil map panic", func(context.Context, *registry.Call) (any, error) {
			var m map[string]int
			m["x"] = 1
			return nil, nil
		}},
		{"undeclared error", func(context.Context, *registry.Call) (any, error) {
			return nil, errors.New("connection reset")
		}},
		{"undeclared variant", func(context.Context, *registry.Call) (any, error) {
			return nil, registry.Fail("Timeout", nil)
		}},
		{"variant fields mismatch", func(context.Context, *registry.Call) (any, error) {
			return nil, registry.Fail("NotFound", map[string]any{"id": 7})
		}},
		{"text failure on structured operation", func(context.Context, *registry.Call) (any, error) {
			return nil, registry.Failf("nope")
		}},
		{"output mismatch", func(context.Context, *registry.Call) (any, error) {
			return map[string]any{"id": "t1"}, nil
		}},
		{"nil output for sequence", func(context.Context, *registry.Call) (any, error) {
			return nil, nil
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil, listTemplatesOp(tt.handler))

			env := f.dispatch(t, "listTemplates", "[]")
			require.True(t, env.Fault)
			body, err := env.FaultBody()
			require.NoError(t, err)
			assert.Equal(t, bridgeerr.HandlerFault, body.Type)
			assert.Equal(t, "listTemplates", body.Operation)
		})
	}
}

type explodingOutput struct{}

func (explodingOutput) MarshalJSON() ([]byte, error) { panic("boom in MarshalJSON") }

type lockedError struct{ owner string }

func (e *lockedError) Error() string { return "locked by " + e.owner }

func TestDispatch_EncodingPanicsAreHandlerFaults(t *testing.T) {
	f := newFixture(t, nil,
		listTemplatesOp(func(context.Context, *registry.Call) (any, error) {
			return explodingOutput{}, nil
		}),
		&registry.Operation{
			Name: "deleteTemplate", Output: schema.Unit(), Errors: registry.TextErrors(),
			Handler: func(context.Context, *registry.Call) (any, error) {
				var err *lockedError
				return nil, err
			},
		},
	)

	for _, op := range []string{"listTemplates", "deleteTemplate"} {
		var env *Envelope
		require.NotPanics(t, func() { env = f.dispatch(t, op, "") }, op)
		require.True(t, env.Fault, op)
		body, err := env.FaultBody()
		require.NoError(t, err)
		assert.Equal(t, bridgeerr.HandlerFault, body.Type, op)
		assert.Contains(t, body.Message, "panicked", op)
	}
}

func TestDispatch_RecoversAndKeepsServing(t *testing.T) {
	f := newFixture(t, nil,
		&registry.Operation{
			Name: "explode", Output: schema.Unit(), Errors: registry.TextErrors(),
			Handler: func(context.Context, *registry.Call) (any, error) { panic("boom") },
		},
		listTemplatesOp(func(context.Context, *registry.Call) (any, error) { return []template{}, nil }),
	)

	for i := 0; i < 3; i++ {
		env := f.dispatch(t, "explode", "")
		assert.Equal(t, "HandlerFault", env.ErrorType())

		env = f.dispatch(t, "listTemplates", "")
		assert.JSONEq(t, `{"id":"req-1","status":"ok","data":[]}`, marshal(t, env))
	}
}

func TestDispatch_TextErrors(t *testing.T) {
	f := newFixture(t, nil,
		&registry.Operation{
			Name: "deleteTemplate", Params: []schema.Field{schema.F("id", schema.String())},
			Output: schema.Unit(), Errors: registry.TextErrors(),
			Handler: func(_ context.Context, call *registry.Call) (any, error) {
				switch call.Args.String("id") {
				case "plain":
					return nil, errors.New("template is locked")
				case "failf":
					return nil, registry.Failf("template %s is locked", "failf")
				case "variant":
					return nil, registry.Fail("NotFound", nil)
				}
				return nil, nil
			},
		},
	)

	env := f.dispatch(t, "deleteTemplate", `["plain"]`)
	assert.JSONEq(t, `{"id":"req-1","status":"error","error":"template is locked"}`, marshal(t, env))
	assert.Equal(t, "", env.ErrorType())

	env = f.dispatch(t, "deleteTemplate", `["failf"]`)
	assert.JSONEq(t, `"template failf is locked"`, string(env.Error))

	env = f.dispatch(t, "deleteTemplate", `["variant"]`)
	assert.True(t, env.Fault)

	env = f.dispatch(t, "deleteTemplate", `["ok"]`)
	assert.JSONEq(t, `{"id":"req-1","status":"ok","data":null}`, marshal(t, env))
}

func TestDispatch_CancelledRequestGetsNoEnvelope(t *testing.T) {
	started := make(chan struct{})
	sawCancel := make(chan struct{})
	f := newFixture(t, nil, listTemplatesOp(func(ctx context.Context, _ *registry.Call) (any, error) {
		close(started)
		<-ctx.Done()
		close(sawCancel)
		return nil, ctx.Err()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	env, err := f.disp.Dispatch(ctx, &InvocationRequest{ID: "c-1", Operation: "listTemplates"})
	assert.Nil(t, env)
	assert.ErrorIs(t, err, context.Canceled)

	select {
	case <-sawCancel:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never observed cancellation")
	}
}

func TestDispatch_RequestTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	f := newFixture(t, nil, listTemplatesOp(func(context.Context, *registry.Call) (any, error) {
		<-release
		return []template{}, nil
	}))

	env, err := f.disp.Dispatch(context.Background(), &InvocationRequest{
		ID: "slow", Operation: "listTemplates", Ctx: &InvocationContext{TimeoutMs: 20},
	})
	assert.Nil(t, env)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDispatch_ConcurrentCallsAreNotSerialized(t *testing.T) {
	const n = 8
	var running sync.WaitGroup
	running.Add(n)
	release := make(chan struct{})

	f := newFixture(t, nil, getTemplateOp(func(_ context.Context, call *registry.Call) (any, error) {
		running.Done()
		<-release
		return template{ID: call.Args.String("id"), Levels: []level{}}, nil
	}))

	// every handler must be running at once before any may return
	go func() {
		running.Wait()
		close(release)
	}()

	var wg sync.WaitGroup
	results := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			env, err := f.disp.Dispatch(ctx, &InvocationRequest{
				ID: fmt.Sprintf("r%d", i), Operation: "getTemplate", Args: json.RawMessage(fmt.Sprintf(`["t%d"]`, i)),
			})
			if assert.NoError(t, err) {
				var got template
				assert.NoError(t, env.DecodeData(&got))
				results[i] = env.ID + "/" + got.ID
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		assert.Equal(t, fmt.Sprintf("r%d/t%d", i, i), results[i])
	}
}

type progressRecorder struct {
	mu     sync.Mutex
	events []any
}

func (p *progressRecorder) Publish(_ context.Context, channel string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, channel, payload)
	return nil
}

func TestDispatch_HandlerEmitsProgress(t *testing.T) {
	rec := &progressRecorder{}
	f := newFixture(t, nil, listTemplatesOp(func(ctx context.Context, call *registry.Call) (any, error) {
		for i := 1; i <= 2; i++ {
			if err := call.Emit(ctx, "templates:progress", i); err != nil {
				return nil, err
			}
		}
		return []template{}, nil
	}))
	f.disp = NewDispatcher(NewDispatcherParams{Registry: f.reg, Emitter: rec})

	f.dispatch(t, "listTemplates", "")
	assert.Equal(t, []any{"templates:progress", 1, "templates:progress", 2}, rec.events)
}

func TestDispatch_RecordsMetrics(t *testing.T) {
	m := metrics.New()
	f := newFixture(t, m, listTemplatesOp(func(context.Context, *registry.Call) (any, error) {
		return []template{}, nil
	}))

	f.dispatch(t, "listTemplates", "")
	f.dispatch(t, "listTemplates", "")
	f.dispatch(t, "nope", "")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, `bridge_dispatch_invocations_total{operation="listTemplates",status="ok"} 2`)
	assert.Contains(t, body, `bridge_dispatch_invocations_total{operation="nope",status="fault"} 1`)
	assert.Contains(t, body, `bridge_dispatch_in_flight 0`)
}
