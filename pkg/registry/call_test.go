package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/morezero/command-bridge/pkg/schema"
)

type recordingEmitter struct {
	channels []string
	payloads []any
}

func (e *recordingEmitter) Publish(_ context.Context, channel string, payload any) error {
	e.channels = append(e.channels, channel)
	e.payloads = append(e.payloads, payload)
	return nil
}

func TestArgs_Accessors(t *testing.T) {
	args := NewArgs(map[string]any{
		"id":      "t1",
		"limit":   int64(10),
		"size":    uint64(7),
		"ratio":   0.5,
		"dry":     true,
		"blob":    []byte("hi"),
		"missing": nil,
	})

	assert.Equal(t, 7, args.Len())
	assert.Equal(t, "t1", args.String("id"))
	assert.Equal(t, int64(10), args.Int("limit"))
	assert.Equal(t, uint64(7), args.Uint("size"))
	assert.Equal(t, 0.5, args.Float("ratio"))
	assert.True(t, args.Bool("dry"))
	assert.Equal(t, []byte("hi"), args.Bytes("blob"))

	assert.False(t, args.Present("missing"))
	assert.False(t, args.Present("nope"))
	assert.True(t, args.Present("id"))
	assert.Equal(t, "", args.String("nope"))
	assert.Equal(t, int64(0), args.Int("id"))
}

func TestArgs_Bind(t *testing.T) {
	args := NewArgs(map[string]any{
		"template":  map[string]any{"id": "t1", "name": "root", "levels": []any{}},
		"overwrite": true,
		"change":    schema.UnionValue{Variant: "Deleted", Fields: map[string]any{"id": "t1"}},
	})

	var in struct {
		Template struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"template"`
		Overwrite bool `json:"overwrite"`
		Change    struct {
			Type string `json:"type"`
			ID   string `json:"id"`
		} `json:"change"`
	}
	require.NoError(t, args.Bind(&in))
	assert.Equal(t, "t1", in.Template.ID)
	assert.Equal(t, "root", in.Template.Name)
	assert.True(t, in.Overwrite)
	assert.Equal(t, "Deleted", in.Change.Type)

	var flag bool
	require.NoError(t, args.BindParam("overwrite", &flag))
	assert.True(t, flag)
	assert.Error(t, args.BindParam("absent", &flag))
}

func TestCall_Emit(t *testing.T) {
	call := &Call{Operation: "renderTemplate"}
	assert.NoError(t, call.Emit(context.Background(), "templates:progress", 1))

	rec := &recordingEmitter{}
	call.Emitter = rec
	require.NoError(t, call.Emit(context.Background(), "templates:progress", 2))
	assert.Equal(t, []string{"templates:progress"}, rec.channels)
	assert.Equal(t, []any{2}, rec.payloads)

	assert.NoError(t, NoOpEmitter{}.Publish(context.Background(), "x:y", nil))
}

func TestFailure_Error(t *testing.T) {
	assert.Equal(t, "NotFound{id=x}", Fail("NotFound", map[string]any{"id": "x"}).Error())
	assert.Equal(t, "Cancelled", Fail("Cancelled", nil).Error())
	assert.NotNil(t, Fail("Cancelled", nil).Fields)
	assert.Equal(t, "disk full", Failf("disk %s", "full").Error())
}
