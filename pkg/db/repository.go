package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/morezero/command-bridge/pkg/contract"
)

const repoLogPrefix = "db:repository"

// Repository stores contract snapshots in Postgres. It implements
// contract.SnapshotStore.
type Repository struct {
	pool *pgxpool.Pool
}

var _ contract.SnapshotStore = (*Repository)(nil)

// NewRepository creates a new Repository with the given connection pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// uniqueViolation is the Postgres SQLSTATE for a unique constraint failure.
const uniqueViolation = "23505"

const snapshotColumns = `id, version, hash, manifest, changes, created`

// Latest returns the most recent snapshot, or nil when none is recorded.
func (r *Repository) Latest(ctx context.Context) (*contract.Snapshot, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+snapshotColumns+`
		 FROM contract_snapshots
		 ORDER BY created DESC
		 LIMIT 1`)

	var sr SnapshotRow
	err := row.Scan(&sr.ID, &sr.Version, &sr.Hash, &sr.Manifest, &sr.Changes, &sr.Created)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s - Latest failed: %w", repoLogPrefix, err)
	}
	return sr.toSnapshot()
}

// Save records s. Versions are unique; saving an existing version fails.
func (r *Repository) Save(ctx context.Context, s *contract.Snapshot) error {
	slog.Info(fmt.Sprintf("%s - Save version=%s", repoLogPrefix, s.Version))

	row, err := rowFromSnapshot(s)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO contract_snapshots (id, version, hash, manifest, changes, created)
		 VALUES ($1::uuid, $2, $3, $4, $5, $6)`,
		row.ID, row.Version, row.Hash, row.Manifest, row.Changes, row.Created)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%s - %s: %w", repoLogPrefix, s.Version, contract.ErrVersionExists)
	}
	if err != nil {
		return fmt.Errorf("%s - Save failed: %w", repoLogPrefix, err)
	}
	return nil
}

// List returns up to limit snapshots, newest first. limit <= 0 means all.
func (r *Repository) List(ctx context.Context, limit int) ([]contract.Snapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM contract_snapshots ORDER BY created DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s - List failed: %w", repoLogPrefix, err)
	}
	defer rows.Close()

	var out []contract.Snapshot
	for rows.Next() {
		var sr SnapshotRow
		if err := rows.Scan(&sr.ID, &sr.Version, &sr.Hash, &sr.Manifest, &sr.Changes, &sr.Created); err != nil {
			return nil, fmt.Errorf("%s - List scan failed: %w", repoLogPrefix, err)
		}
		s, err := sr.toSnapshot()
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s - List failed: %w", repoLogPrefix, err)
	}
	return out, nil
}
