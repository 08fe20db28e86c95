// Package dispatcher routes invocation requests to registered operations and
// encodes every outcome in the canonical Envelope.
package dispatcher

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/morezero/command-bridge/pkg/bridgeerr"
)

const envelopeLogPrefix = "dispatcher:envelope"

// InvocationRequest is one call arriving from the transport. Args is either a
// JSON array (positional, in parameter order) or a JSON object keyed by
// parameter name.
type InvocationRequest struct {
	ID        string             `json:"id"`
	Operation string             `json:"operation"`
	Args      json.RawMessage    `json:"args,omitempty"`
	Ctx       *InvocationContext `json:"ctx,omitempty"`
}

// InvocationContext holds context from the caller.
type InvocationContext struct {
	TenantID      string `json:"tenantId,omitempty"`
	UserID        string `json:"userId,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
	TimeoutMs     int    `json:"timeoutMs,omitempty"`
}

// Status is the envelope discriminant.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// Envelope is the result of every invocation: exactly one of Data (status
// "ok") or Error (status "error") is set. Fault marks errors raised by the
// bridge itself, whose Error is a FaultBody.
type Envelope struct {
	ID     string
	Status Status
	Data   json.RawMessage
	Error  json.RawMessage
	Fault  bool
}

type envelopeJSON struct {
	ID     string          `json:"id,omitempty"`
	Status Status          `json:"status"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`
	Fault  bool            `json:"fault,omitempty"`
}

// FaultBody is the error value of a fault envelope.
type FaultBody struct {
	Type      bridgeerr.Code `json:"type"`
	Operation string         `json:"operation,omitempty"`
	Path      string         `json:"path,omitempty"`
	Message   string         `json:"message"`
}

// OK builds a success envelope around encoded output.
func OK(id string, data []byte) *Envelope {
	return &Envelope{ID: id, Status: StatusOK, Data: data}
}

// Failed builds an envelope around an encoded declared error.
func Failed(id string, errValue []byte) *Envelope {
	return &Envelope{ID: id, Status: StatusError, Error: errValue}
}

// Fault builds a bridge fault envelope.
func Fault(id string, body FaultBody) *Envelope {
	raw, _ := json.Marshal(body)
	return &Envelope{ID: id, Status: StatusError, Error: raw, Fault: true}
}

// Validate checks that exactly one payload matches the discriminant.
func (e *Envelope) Validate() error {
	hasData, hasError := len(bytes.TrimSpace(e.Data)) > 0, len(bytes.TrimSpace(e.Error)) > 0
	switch e.Status {
	case StatusOK:
		if !hasData || hasError || e.Fault {
			return fmt.Errorf("%s - ok envelope must carry data and nothing else", envelopeLogPrefix)
		}
	case StatusError:
		if !hasError || hasData {
			return fmt.Errorf("%s - error envelope must carry error and nothing else", envelopeLogPrefix)
		}
	case "":
		return fmt.Errorf("%s - envelope has no status", envelopeLogPrefix)
	default:
		return fmt.Errorf("%s - unknown envelope status %q", envelopeLogPrefix, e.Status)
	}
	return nil
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(envelopeJSON(e))
}

func (e *Envelope) UnmarshalJSON(b []byte) error {
	var raw envelopeJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("%s - decode envelope: %w", envelopeLogPrefix, err)
	}
	decoded := Envelope(raw)
	if err := decoded.Validate(); err != nil {
		return err
	}
	*e = decoded
	return nil
}

// IsOK reports whether the envelope is a success.
func (e *Envelope) IsOK() bool {
	return e.Status == StatusOK
}

// DecodeData unmarshals the success payload into dst.
func (e *Envelope) DecodeData(dst any) error {
	if !e.IsOK() {
		return fmt.Errorf("%s - envelope is not ok", envelopeLogPrefix)
	}
	return json.Unmarshal(e.Data, dst)
}

// FaultBody decodes the error of a fault envelope.
func (e *Envelope) FaultBody() (*FaultBody, error) {
	if !e.Fault {
		return nil, fmt.Errorf("%s - envelope is not a fault", envelopeLogPrefix)
	}
	var body FaultBody
	if err := json.Unmarshal(e.Error, &body); err != nil {
		return nil, fmt.Errorf("%s - decode fault: %w", envelopeLogPrefix, err)
	}
	return &body, nil
}

// ErrorType returns the discriminant of a structured or fault error, or ""
// for a free-text error.
func (e *Envelope) ErrorType() string {
	var tagged struct {
		Type string `json:"type"`
	}
	if e.Status != StatusError || json.Unmarshal(e.Error, &tagged) != nil {
		return ""
	}
	return tagged.Type
}
