package templates

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/morezero/command-bridge/pkg/registry"
	"github.com/morezero/command-bridge/pkg/schema"
)

const logPrefix = "templates:service"

// Channels the feature publishes on.
const (
	ChannelChanged  = "templates:changed"
	ChannelProgress = "templates:progress"
)

const defaultChunks = 4

var idRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// Service implements the template operations.
type Service struct {
	store      Store
	chunkDelay time.Duration
	now        func() time.Time
}

// NewServiceParams holds parameters for NewService.
type NewServiceParams struct {
	// Store defaults to a MemoryStore holding Seed().
	Store Store
	// ChunkDelay is slept between rendered chunks of renderTemplate.
	ChunkDelay time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// NewService creates a Service.
func NewService(params NewServiceParams) *Service {
	store := params.Store
	if store == nil {
		store = NewMemoryStore(Seed()...)
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{store: store, chunkDelay: params.ChunkDelay, now: now}
}

// Handlers binds every template operation by name.
func (s *Service) Handlers() map[string]registry.Handler {
	return map[string]registry.Handler{
		"listTemplates":  s.List,
		"getTemplate":    s.Get,
		"saveTemplate":   s.Save,
		"deleteTemplate": s.Delete,
		"renderTemplate": s.Render,
	}
}

// List handles listTemplates(tag?).
func (s *Service) List(ctx context.Context, call *registry.Call) (any, error) {
	all, err := s.store.List(ctx)
	if err != nil {
		return nil, ioError(err)
	}
	if !call.Args.Present("tag") {
		return all, nil
	}
	tag := call.Args.String("tag")
	out := make([]Template, 0, len(all))
	for _, t := range all {
		for _, tt := range t.Tags {
			if tt == tag {
				out = append(out, t)
				break
			}
		}
	}
	return out, nil
}

// Get handles getTemplate(id).
func (s *Service) Get(ctx context.Context, call *registry.Call) (any, error) {
	id := call.Args.String("id")
	t, err := s.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, registry.Fail("NotFound", map[string]any{"id": id})
	}
	if err != nil {
		return nil, ioError(err)
	}
	return *t, nil
}

// Save handles saveTemplate(template). It stamps updatedAt and announces
// the change on templates:changed.
func (s *Service) Save(ctx context.Context, call *registry.Call) (any, error) {
	var t Template
	if err := call.Args.BindParam("template", &t); err != nil {
		return nil, err
	}
	if f := validate(t); f != nil {
		return nil, f
	}

	t.UpdatedAt = s.now().UTC().Format(time.RFC3339)
	if err := s.store.Put(ctx, t); err != nil {
		return nil, ioError(err)
	}
	slog.Info(fmt.Sprintf("%s - saved template id=%s", logPrefix, t.ID))

	s.announce(ctx, call, schema.UnionValue{Variant: "Saved", Fields: map[string]any{"id": t.ID, "name": t.Name}})
	return normalize(t), nil
}

// Delete handles deleteTemplate(id).
func (s *Service) Delete(ctx context.Context, call *registry.Call) (any, error) {
	id := call.Args.String("id")
	err := s.store.Delete(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, registry.Failf("template %q not found", id)
	}
	if err != nil {
		return nil, registry.Failf("delete %s: %v", id, err)
	}
	slog.Info(fmt.Sprintf("%s - deleted template id=%s", logPrefix, id))

	s.announce(ctx, call, schema.UnionValue{Variant: "Deleted", Fields: map[string]any{"id": id}})
	return nil, nil
}

func (s *Service) announce(ctx context.Context, call *registry.Call, change schema.UnionValue) {
	if err := call.Emit(ctx, ChannelChanged, change); err != nil {
		slog.Warn(fmt.Sprintf("%s - failed to publish %s: %v", logPrefix, ChannelChanged, err))
	}
}

func validate(t Template) *registry.Failure {
	if !idRegex.MatchString(t.ID) {
		return invalid("template.id", "id must be lowercase letters, digits and dashes")
	}
	if t.Name == "" {
		return invalid("template.name", "name is required")
	}
	if _, err := parseBody(t.ID, t.Body); err != nil {
		return invalid("template.body", err.Error())
	}
	var last uint16
	for i, l := range t.Levels {
		if l.Depth <= last {
			return invalid(fmt.Sprintf("template.levels[%d].depth", i), "depths must be positive and increasing")
		}
		last = l.Depth
		if l.Fallback != nil && l.Fallback.ID == t.ID {
			return invalid(fmt.Sprintf("template.levels[%d].fallback", i), "a template cannot fall back to itself")
		}
	}
	return nil
}

func invalid(path, message string) *registry.Failure {
	return registry.Fail("Invalid", map[string]any{"path": path, "message": message})
}

func ioError(err error) *registry.Failure {
	return registry.Fail("IoError", map[string]any{"message": err.Error()})
}
