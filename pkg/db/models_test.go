package db

import (
	"testing"
	"time"

	"github.com/morezero/command-bridge/pkg/contract"
)

const modelsTestPrefix = "db:models_test"

func TestSnapshotRow_RoundTrip(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	in := &contract.Snapshot{
		ID:      "5b3c2a0e-8f44-4a51-9d0b-5f8e6f8d6a10",
		Version: "1.1.0",
		Hash:    "abc",
		Manifest: &contract.Manifest{
			Operations: map[string]contract.OperationEntry{
				"listTemplates": {Params: []contract.ParamEntry{}, Output: "sequence<Template>", Error: "string"},
			},
			Channels: map[string]string{"templates:changed": "TemplateChange"},
			Types:    map[string]string{"Template": "record{id: string}"},
		},
		Changes:   []contract.Change{{Subject: contract.SubjectOperation, Kind: contract.Added, Name: "listTemplates"}},
		CreatedAt: created,
	}

	row, err := rowFromSnapshot(in)
	if err != nil {
		t.Fatalf("%s - rowFromSnapshot failed: %v", modelsTestPrefix, err)
	}
	out, err := row.toSnapshot()
	if err != nil {
		t.Fatalf("%s - toSnapshot failed: %v", modelsTestPrefix, err)
	}

	if out.Version != "1.1.0" || out.Hash != "abc" || !out.CreatedAt.Equal(created) {
		t.Errorf("%s - scalar fields not preserved: %+v", modelsTestPrefix, out)
	}
	if out.Manifest.Operations["listTemplates"].Output != "sequence<Template>" {
		t.Errorf("%s - manifest not preserved", modelsTestPrefix)
	}
	if len(out.Changes) != 1 || out.Changes[0].Name != "listTemplates" {
		t.Errorf("%s - changes not preserved: %+v", modelsTestPrefix, out.Changes)
	}
}

func TestSnapshotRow_NilChangesStoredAsEmptyList(t *testing.T) {
	row, err := rowFromSnapshot(&contract.Snapshot{Version: "1.0.0", Manifest: &contract.Manifest{}})
	if err != nil {
		t.Fatalf("%s - rowFromSnapshot failed: %v", modelsTestPrefix, err)
	}
	if string(row.Changes) != "[]" {
		t.Errorf("%s - Changes = %s, want []", modelsTestPrefix, row.Changes)
	}
}

func TestSnapshotRow_CorruptManifest(t *testing.T) {
	row := &SnapshotRow{Version: "1.0.0", Manifest: []byte("{"), Changes: []byte("[]")}
	if _, err := row.toSnapshot(); err == nil {
		t.Errorf("%s - expected error for corrupt manifest", modelsTestPrefix)
	}
}
