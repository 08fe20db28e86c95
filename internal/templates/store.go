// Package templates is the sample feature served by the bridge: a small
// template library the frontend lists, edits and renders.
package templates

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrNotFound is returned by a Store for an unknown id.
var ErrNotFound = errors.New("template not found")

// Template is a stored template. Levels form a fallback chain: a level may
// point at another template to use when rendering at that depth fails.
type Template struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Body      string   `json:"body"`
	Tags      []string `json:"tags"`
	Levels    []Level  `json:"levels"`
	UpdatedAt string   `json:"updatedAt"`
}

// Level is one step of a template's fallback chain.
type Level struct {
	Depth    uint16    `json:"depth"`
	Fallback *Template `json:"fallback"`
}

// Store persists templates.
type Store interface {
	List(ctx context.Context) ([]Template, error)
	Get(ctx context.Context, id string) (*Template, error)
	Put(ctx context.Context, t Template) error
	Delete(ctx context.Context, id string) error
}

// MemoryStore keeps templates in a map.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]Template
}

// NewMemoryStore creates a store holding seed.
func NewMemoryStore(seed ...Template) *MemoryStore {
	s := &MemoryStore{items: make(map[string]Template, len(seed))}
	for _, t := range seed {
		s.items[t.ID] = normalize(t)
	}
	return s
}

// List returns every template ordered by id.
func (s *MemoryStore) List(ctx context.Context) ([]Template, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Template, 0, len(s.items))
	for _, t := range s.items {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Template, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

func (s *MemoryStore) Put(ctx context.Context, t Template) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[t.ID] = normalize(t)
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return ErrNotFound
	}
	delete(s.items, id)
	return nil
}

// normalize replaces nil slices so a template always encodes as a full
// record, at every fallback depth.
func normalize(t Template) Template {
	if t.Tags == nil {
		t.Tags = []string{}
	}
	levels := make([]Level, len(t.Levels))
	for i, l := range t.Levels {
		levels[i] = l
		if l.Fallback != nil {
			fb := normalize(*l.Fallback)
			levels[i].Fallback = &fb
		}
	}
	t.Levels = levels
	return t
}

// Seed returns the templates a fresh bridge starts with.
func Seed() []Template {
	plain := Template{
		ID:        "plain",
		Name:      "Plain greeting",
		Body:      "Hello {{.name}}.",
		Tags:      []string{"greeting"},
		UpdatedAt: "2024-01-01T00:00:00Z",
	}
	return []Template{
		plain,
		{
			ID:        "welcome",
			Name:      "Welcome letter",
			Body:      "Dear {{.name}},\n\nWelcome to {{.team}}. Your first day is {{.day}}.\n",
			Tags:      []string{"greeting", "onboarding"},
			Levels:    []Level{{Depth: 1, Fallback: &plain}},
			UpdatedAt: "2024-01-01T00:00:00Z",
		},
	}
}
