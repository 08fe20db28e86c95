package contract

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/morezero/command-bridge/pkg/schema"
)

const logPrefix = "contract:reconcile"

// Result is the outcome of comparing a build's contract with the latest
// recorded one.
type Result struct {
	// Snapshot is the contract of this build. Its ID is empty until saved.
	Snapshot *Snapshot
	// Previous is the latest recorded snapshot, or nil.
	Previous *Snapshot
	Changes  []Change
	// Unchanged is true when the artifact hash matches Previous.
	Unchanged bool
}

// Breaking reports whether this build breaks the previous contract.
func (r *Result) Breaking() bool {
	return Breaking(r.Changes)
}

// Plan compares m and its export artifact against the store without
// writing anything.
func Plan(ctx context.Context, store SnapshotStore, m *schema.Model, artifact []byte) (*Result, error) {
	manifest := Summarize(m)
	hash := Hash(artifact)

	prev, err := store.Latest(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to load latest snapshot: %w", logPrefix, err)
	}

	res := &Result{Previous: prev}
	if prev == nil {
		res.Snapshot = &Snapshot{Version: InitialVersion, Hash: hash, Manifest: manifest}
		return res, nil
	}
	if prev.Hash == hash {
		res.Unchanged = true
		res.Snapshot = prev
		return res, nil
	}

	res.Changes = Diff(prev.Manifest, manifest)
	version, err := NextVersion(prev.Version, res.Changes)
	if err != nil {
		return nil, err
	}
	res.Snapshot = &Snapshot{Version: version, Hash: hash, Manifest: manifest, Changes: res.Changes}
	return res, nil
}

// Reconcile plans and, when the contract changed, records the new snapshot.
func Reconcile(ctx context.Context, store SnapshotStore, m *schema.Model, artifact []byte) (*Result, error) {
	res, err := Plan(ctx, store, m, artifact)
	if err != nil {
		return nil, err
	}
	if res.Unchanged {
		slog.Info(fmt.Sprintf("%s - contract unchanged at %s", logPrefix, res.Snapshot.Version))
		return res, nil
	}

	res.Snapshot.ID = uuid.NewString()
	res.Snapshot.CreatedAt = time.Now().UTC()
	if err := store.Save(ctx, res.Snapshot); err != nil {
		return nil, fmt.Errorf("%s - failed to save snapshot: %w", logPrefix, err)
	}

	for _, c := range res.Changes {
		slog.Info(fmt.Sprintf("%s - %s", logPrefix, c))
	}
	slog.Info(fmt.Sprintf("%s - recorded contract %s hash=%s", logPrefix, res.Snapshot.Version, res.Snapshot.Hash[:12]))
	return res, nil
}
