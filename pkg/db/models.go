package db

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/morezero/command-bridge/pkg/contract"
)

// SnapshotRow represents a row in the contract_snapshots table.
type SnapshotRow struct {
	ID       string
	Version  string
	Hash     string
	Manifest []byte
	Changes  []byte
	Created  time.Time
}

func rowFromSnapshot(s *contract.Snapshot) (*SnapshotRow, error) {
	manifest, err := json.Marshal(s.Manifest)
	if err != nil {
		return nil, fmt.Errorf("%s - encode manifest: %w", repoLogPrefix, err)
	}
	changes := s.Changes
	if changes == nil {
		changes = []contract.Change{}
	}
	changesJSON, err := json.Marshal(changes)
	if err != nil {
		return nil, fmt.Errorf("%s - encode changes: %w", repoLogPrefix, err)
	}
	return &SnapshotRow{
		ID:       s.ID,
		Version:  s.Version,
		Hash:     s.Hash,
		Manifest: manifest,
		Changes:  changesJSON,
		Created:  s.CreatedAt,
	}, nil
}

func (r *SnapshotRow) toSnapshot() (*contract.Snapshot, error) {
	s := &contract.Snapshot{ID: r.ID, Version: r.Version, Hash: r.Hash, CreatedAt: r.Created}
	if err := json.Unmarshal(r.Manifest, &s.Manifest); err != nil {
		return nil, fmt.Errorf("%s - decode manifest of %s: %w", repoLogPrefix, r.Version, err)
	}
	if len(r.Changes) > 0 {
		if err := json.Unmarshal(r.Changes, &s.Changes); err != nil {
			return nil, fmt.Errorf("%s - decode changes of %s: %w", repoLogPrefix, r.Version, err)
		}
	}
	return s, nil
}
