package server

import (
	"context"
	"fmt"
	"log/slog"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/command-bridge/pkg/bridgeerr"
	"github.com/morezero/command-bridge/pkg/commsutil"
	"github.com/morezero/command-bridge/pkg/contract"
	"github.com/morezero/command-bridge/pkg/dispatcher"
)

const transportLogPrefix = "server:transport"

// CancelRequest asks the bridge to cancel an in-flight invocation.
type CancelRequest struct {
	ID string `json:"id"`
}

// CancelResponse reports whether a call with that id was running.
type CancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

// ContractRequest asks for the exported contract. Target defaults to "ts".
// When Constraint is set, Compatible reports whether the served version
// satisfies it (e.g. "^1.2").
type ContractRequest struct {
	Target     string `json:"target,omitempty"`
	Constraint string `json:"constraint,omitempty"`
}

// ContractResponse carries the contract artifact and its version.
type ContractResponse struct {
	Version    string `json:"version"`
	Hash       string `json:"hash"`
	Target     string `json:"target"`
	Artifact   string `json:"artifact,omitempty"`
	Compatible bool   `json:"compatible"`
	Error      string `json:"error,omitempty"`
}

// onInvoke runs each invocation on its own goroutine so concurrent calls are
// never serialized behind the subscription. Once close has flipped ready no
// new call is counted, so calls.Wait is never raced by calls.Add.
func (s *Server) onInvoke(msg *comms.Msg) {
	s.lifecycleMu.Lock()
	if !s.ready.Load() {
		s.lifecycleMu.Unlock()
		return
	}
	s.calls.Add(1)
	s.lifecycleMu.Unlock()
	go func() {
		defer s.calls.Done()
		s.invoke(msg)
	}()
}

func (s *Server) invoke(msg *comms.Msg) {
	var req dispatcher.InvocationRequest
	if err := commsutil.DecodeStrict(msg.Data, &req); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to decode request: %v", transportLogPrefix, err))
		s.respond(msg, dispatcher.Fault("", dispatcher.FaultBody{
			Type:    bridgeerr.ArgumentDecodeError,
			Message: fmt.Sprintf("malformed invocation request: %v", err),
		}))
		return
	}

	// Per-request context with timeout, cancellable by id
	ctx, cancel := context.WithTimeout(s.baseCtx, s.cfg.RequestTimeout)
	defer cancel()
	if req.ID != "" {
		if !s.track(req.ID, cancel) {
			s.respond(msg, dispatcher.Fault(req.ID, dispatcher.FaultBody{
				Type:      bridgeerr.ArgumentDecodeError,
				Operation: req.Operation,
				Message:   fmt.Sprintf("request id %q is already in flight", req.ID),
			}))
			return
		}
		defer s.untrack(req.ID)
	}

	env, err := s.disp.Dispatch(ctx, &req)
	if err != nil {
		// The caller cancelled or timed out; nothing is sent back.
		slog.Info(fmt.Sprintf("%s - no reply for id=%s operation=%s: %v", transportLogPrefix, req.ID, req.Operation, err))
		return
	}
	s.respond(msg, env)
}

func (s *Server) respond(msg *comms.Msg, v any) {
	if msg.Reply == "" {
		return
	}
	data, err := commsutil.EncodePayload(v)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - failed to encode response: %v", transportLogPrefix, err))
		return
	}
	if err := msg.Respond(data); err != nil {
		slog.Warn(fmt.Sprintf("%s - failed to respond on %s: %v", transportLogPrefix, msg.Reply, err))
	}
}

func (s *Server) track(id string, cancel context.CancelFunc) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, exists := s.inflight[id]; exists {
		return false
	}
	s.inflight[id] = cancel
	return true
}

func (s *Server) untrack(id string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, id)
}

// Cancel cancels the in-flight invocation with the given id. It reports
// whether one was running.
func (s *Server) Cancel(id string) bool {
	s.inflightMu.Lock()
	cancel, ok := s.inflight[id]
	s.inflightMu.Unlock()
	if ok {
		cancel()
		slog.Info(fmt.Sprintf("%s - cancelled id=%s", transportLogPrefix, id))
	}
	return ok
}

func (s *Server) onCancel(msg *comms.Msg) {
	var req CancelRequest
	if err := commsutil.DecodePayload(msg.Data, &req); err != nil || req.ID == "" {
		slog.Warn(fmt.Sprintf("%s - ignoring malformed cancel request", transportLogPrefix))
		s.respond(msg, CancelResponse{})
		return
	}
	s.respond(msg, CancelResponse{Cancelled: s.Cancel(req.ID)})
}

func (s *Server) onContract(msg *comms.Msg) {
	var req ContractRequest
	if len(msg.Data) > 0 {
		if err := commsutil.DecodePayload(msg.Data, &req); err != nil {
			s.respond(msg, ContractResponse{Error: fmt.Sprintf("malformed contract request: %v", err)})
			return
		}
	}
	s.respond(msg, s.describeContract(req))
}

func (s *Server) describeContract(req ContractRequest) ContractResponse {
	c := s.contract
	target := req.Target
	if target == "" {
		target = "ts"
	}
	resp := ContractResponse{Version: c.Version, Hash: c.Hash, Target: target, Compatible: true}

	artifact, ok := c.Artifacts[target]
	if !ok {
		resp.Error = fmt.Sprintf("unknown target %q", target)
		return resp
	}
	resp.Artifact = string(artifact)

	if req.Constraint != "" {
		ok, err := contract.Satisfies(c.Version, req.Constraint)
		if err != nil {
			resp.Error = err.Error()
		}
		resp.Compatible = ok
	}
	return resp
}
