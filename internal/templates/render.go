package templates

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"text/template"
	"time"

	"github.com/morezero/command-bridge/pkg/registry"
)

// RenderResult is the output of renderTemplate.
type RenderResult struct {
	ID     string `json:"id"`
	Output string `json:"output"`
	Chunks uint32 `json:"chunks"`
}

// RenderProgress is the payload published on templates:progress.
type RenderProgress struct {
	ID    string `json:"id"`
	Done  uint32 `json:"done"`
	Total uint32 `json:"total"`
}

func parseBody(name, body string) (*template.Template, error) {
	return template.New(name).Option("missingkey=error").Parse(body)
}

// Render handles renderTemplate(id, vars, chunks?). The template is
// executed with vars; if that fails, each level's fallback is tried in
// depth order. The output is then delivered in chunks, one progress event
// per chunk. Render stops between chunks once ctx is done.
func (s *Service) Render(ctx context.Context, call *registry.Call) (any, error) {
	id := call.Args.String("id")
	chunks := uint32(defaultChunks)
	if call.Args.Present("chunks") {
		chunks = uint32(call.Args.Uint("chunks"))
	}
	if chunks == 0 {
		return nil, registry.Failf("chunks must be at least 1")
	}

	var vars map[string]string
	if err := call.Args.BindParam("vars", &vars); err != nil {
		return nil, registry.Failf("bad vars: %v", err)
	}

	t, err := s.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, registry.Failf("template %q not found", id)
	}
	if err != nil {
		return nil, registry.Failf("load %s: %v", id, err)
	}

	output, err := execute(t, vars)
	if err != nil {
		return nil, registry.Failf("render %s: %v", id, err)
	}

	parts := split(output, int(chunks))
	for i := range parts {
		if i > 0 && s.chunkDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.chunkDelay):
			}
		}
		if err := ctx.Err(); err != nil {
			slog.Debug(fmt.Sprintf("%s - render cancelled id=%s done=%d/%d", logPrefix, id, i, chunks))
			return nil, err
		}
		progress := RenderProgress{ID: id, Done: uint32(i + 1), Total: chunks}
		if err := call.Emit(ctx, ChannelProgress, progress); err != nil {
			slog.Warn(fmt.Sprintf("%s - failed to publish %s: %v", logPrefix, ChannelProgress, err))
		}
	}
	return RenderResult{ID: id, Output: output, Chunks: chunks}, nil
}

// execute renders t, walking its fallback chain on failure. The first
// error is the one reported when every level fails.
func execute(t *Template, vars map[string]string) (string, error) {
	out, first := executeBody(t, vars)
	if first == nil {
		return out, nil
	}
	for _, l := range t.Levels {
		if l.Fallback == nil {
			continue
		}
		if out, err := executeBody(l.Fallback, vars); err == nil {
			slog.Debug(fmt.Sprintf("%s - rendered %s with fallback %s at depth %d", logPrefix, t.ID, l.Fallback.ID, l.Depth))
			return out, nil
		}
	}
	return "", first
}

func executeBody(t *Template, vars map[string]string) (string, error) {
	tmpl, err := parseBody(t.ID, t.Body)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// split cuts s into n pieces of near-equal rune length. Pieces may be
// empty when s is shorter than n.
func split(s string, n int) []string {
	runes := []rune(s)
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		lo := len(runes) * i / n
		hi := len(runes) * (i + 1) / n
		parts[i] = string(runes[lo:hi])
	}
	return parts
}
