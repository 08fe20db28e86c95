package contract

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrVersionExists is returned by Save when a snapshot with the same
// version is already recorded.
var ErrVersionExists = errors.New("contract version already recorded")

// Snapshot is one recorded contract version.
type Snapshot struct {
	ID        string
	Version   string
	Hash      string
	Manifest  *Manifest
	Changes   []Change
	CreatedAt time.Time
}

// SnapshotStore persists contract snapshots. Latest returns nil, nil when
// nothing has been recorded.
type SnapshotStore interface {
	Latest(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, s *Snapshot) error
	List(ctx context.Context, limit int) ([]Snapshot, error)
}

// MemoryStore is a SnapshotStore for tests and deployments without a
// database.
type MemoryStore struct {
	mu        sync.Mutex
	snapshots []Snapshot
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Latest(_ context.Context) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.snapshots) == 0 {
		return nil, nil
	}
	s := m.snapshots[len(m.snapshots)-1]
	return &s, nil
}

func (m *MemoryStore) Save(_ context.Context, s *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.snapshots {
		if existing.Version == s.Version {
			return fmt.Errorf("%s - %s: %w", logPrefix, s.Version, ErrVersionExists)
		}
	}
	m.snapshots = append(m.snapshots, *s)
	return nil
}

// List returns up to limit snapshots, newest first. limit <= 0 means all.
func (m *MemoryStore) List(_ context.Context, limit int) ([]Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Snapshot, 0, len(m.snapshots))
	for i := len(m.snapshots) - 1; i >= 0; i-- {
		out = append(out, m.snapshots[i])
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
