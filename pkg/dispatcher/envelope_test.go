package dispatcher

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/morezero/command-bridge/pkg/bridgeerr"
)

func TestEnvelope_Validate(t *testing.T) {
	tests := []struct {
		name    string
		env     Envelope
		wantErr bool
	}{
		{"ok", Envelope{Status: StatusOK, Data: json.RawMessage(`[]`)}, false},
		{"ok unit", Envelope{Status: StatusOK, Data: json.RawMessage(`null`)}, false},
		{"error", Envelope{Status: StatusError, Error: json.RawMessage(`"x"`)}, false},
		{"ok without data", Envelope{Status: StatusOK}, true},
		{"ok with error", Envelope{Status: StatusOK, Data: json.RawMessage(`1`), Error: json.RawMessage(`"x"`)}, true},
		{"ok with fault", Envelope{Status: StatusOK, Data: json.RawMessage(`1`), Fault: true}, true},
		{"error without error", Envelope{Status: StatusError}, true},
		{"error with data", Envelope{Status: StatusError, Data: json.RawMessage(`1`), Error: json.RawMessage(`"x"`)}, true},
		{"no status", Envelope{Data: json.RawMessage(`1`)}, true},
		{"unknown status", Envelope{Status: "pending", Data: json.RawMessage(`1`)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.env.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				_, merr := json.Marshal(tt.env)
				assert.Error(t, merr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEnvelope_UnmarshalRejectsInvalid(t *testing.T) {
	for _, raw := range []string{
		`{"status":"ok"}`,
		`{"status":"error","data":1}`,
		`{"status":"ok","data":1,"error":"x"}`,
		`{"data":1}`,
		`[]`,
	} {
		var env Envelope
		assert.Error(t, json.Unmarshal([]byte(raw), &env), raw)
	}
}

func TestEnvelope_UnitOutputRoundTrip(t *testing.T) {
	raw, err := json.Marshal(OK("a", []byte("null")))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"a","status":"ok","data":null}`, string(raw))

	var env Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.True(t, env.IsOK())
	assert.Equal(t, "null", string(env.Data))
}

func TestEnvelope_Fault(t *testing.T) {
	env := Fault("r1", FaultBody{Type: bridgeerr.ArgumentDecodeError, Operation: "getTemplate", Path: "id", Message: "expected string"})

	raw, err := json.Marshal(env)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"id":"r1","status":"error","fault":true,"error":{"type":"ArgumentDecodeError","operation":"getTemplate","path":"id","message":"expected string"}}`,
		string(raw))

	var decoded Envelope
	require.NoError(t, json.Unmarshal(raw, &decoded))
	body, err := decoded.FaultBody()
	require.NoError(t, err)
	assert.Equal(t, "id", body.Path)
	assert.Equal(t, "ArgumentDecodeError", decoded.ErrorType())

	_, err = Failed("r1", []byte(`"x"`)).FaultBody()
	assert.Error(t, err)
	assert.Error(t, decoded.DecodeData(&struct{}{}))
}
