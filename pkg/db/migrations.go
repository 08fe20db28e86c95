package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const migrationsLogPrefix = "db:migrations"

// ErrDownUnsupported is returned for rollbacks; migrations are forward-only.
var ErrDownUnsupported = errors.New("migrations are forward-only; restore a backup to roll back")

// migrationNameRegex matches "<version>_<name>.sql", e.g. 001_contract_snapshots.sql.
var migrationNameRegex = regexp.MustCompile(`^(\d+)_([a-z0-9_]+)\.sql$`)

// Migration is one forward-only schema step.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// MigrationState reports whether a migration has been applied.
type MigrationState struct {
	Migration
	Applied   bool
	AppliedAt time.Time
}

const createMigrationsTable = `CREATE TABLE IF NOT EXISTS bridge_migrations (
    version  INTEGER PRIMARY KEY,
    name     TEXT NOT NULL,
    applied  TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// LoadMigrations reads the .sql files in dir ordered by numeric version.
// Other files are ignored; a .sql file without a version prefix, or two files
// sharing a version, is an error.
func LoadMigrations(dir string) ([]Migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to read migration dir %s: %w", migrationsLogPrefix, dir, err)
	}

	seen := map[int]string{}
	var out []Migration
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".sql" {
			continue
		}
		m := migrationNameRegex.FindStringSubmatch(e.Name())
		if m == nil {
			return nil, fmt.Errorf("%s - %s: want <version>_<name>.sql", migrationsLogPrefix, e.Name())
		}
		version, _ := strconv.Atoi(m[1])
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("%s - %s and %s share version %d", migrationsLogPrefix, prev, e.Name(), version)
		}
		seen[version] = e.Name()

		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("%s - failed to read %s: %w", migrationsLogPrefix, e.Name(), err)
		}
		out = append(out, Migration{Version: version, Name: m[2], SQL: string(data)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })

	slog.Info(fmt.Sprintf("%s - Loaded %d migrations from %s", migrationsLogPrefix, len(out), dir))
	return out, nil
}

// Pending returns the migrations whose version is not in applied, in order.
func Pending(all []Migration, applied map[int]bool) []Migration {
	var out []Migration
	for _, m := range all {
		if !applied[m.Version] {
			out = append(out, m)
		}
	}
	return out
}

// RunMigrations applies every pending migration, each in its own
// transaction together with its bridge_migrations record. It returns how
// many were applied.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, migrations []Migration) (int, error) {
	if _, err := pool.Exec(ctx, createMigrationsTable); err != nil {
		return 0, fmt.Errorf("%s - failed to create bridge_migrations: %w", migrationsLogPrefix, err)
	}
	states, err := appliedMigrations(ctx, pool)
	if err != nil {
		return 0, err
	}
	applied := make(map[int]bool, len(states))
	for v := range states {
		applied[v] = true
	}

	pending := Pending(migrations, applied)
	slog.Info(fmt.Sprintf("%s - %d of %d migrations pending", migrationsLogPrefix, len(pending), len(migrations)))
	for i, m := range pending {
		if err := applyMigration(ctx, pool, m); err != nil {
			return i, err
		}
		slog.Info(fmt.Sprintf("%s - Applied %03d_%s", migrationsLogPrefix, m.Version, m.Name))
	}
	return len(pending), nil
}

func applyMigration(ctx context.Context, pool *pgxpool.Pool, m Migration) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%s - begin %03d_%s: %w", migrationsLogPrefix, m.Version, m.Name, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, m.SQL); err != nil {
		return fmt.Errorf("%s - migration %03d_%s failed: %w", migrationsLogPrefix, m.Version, m.Name, err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO bridge_migrations (version, name) VALUES ($1, $2)`, m.Version, m.Name); err != nil {
		return fmt.Errorf("%s - record %03d_%s: %w", migrationsLogPrefix, m.Version, m.Name, err)
	}
	return tx.Commit(ctx)
}

// appliedMigrations maps applied versions to their application time. A
// database that never ran RunMigrations has none.
func appliedMigrations(ctx context.Context, pool *pgxpool.Pool) (map[int]time.Time, error) {
	var exists bool
	if err := pool.QueryRow(ctx, `SELECT to_regclass('bridge_migrations') IS NOT NULL`).Scan(&exists); err != nil {
		return nil, fmt.Errorf("%s - failed to check bridge_migrations: %w", migrationsLogPrefix, err)
	}
	out := map[int]time.Time{}
	if !exists {
		return out, nil
	}

	rows, err := pool.Query(ctx, `SELECT version, applied FROM bridge_migrations`)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to list applied migrations: %w", migrationsLogPrefix, err)
	}
	defer rows.Close()
	for rows.Next() {
		var v int
		var at time.Time
		if err := rows.Scan(&v, &at); err != nil {
			return nil, fmt.Errorf("%s - scan applied migration: %w", migrationsLogPrefix, err)
		}
		out[v] = at
	}
	return out, rows.Err()
}

// MigrationStatus reports, for each known migration, whether it is applied.
func MigrationStatus(ctx context.Context, pool *pgxpool.Pool, migrations []Migration) ([]MigrationState, error) {
	applied, err := appliedMigrations(ctx, pool)
	if err != nil {
		return nil, err
	}
	out := make([]MigrationState, len(migrations))
	for i, m := range migrations {
		at, ok := applied[m.Version]
		out[i] = MigrationState{Migration: m, Applied: ok, AppliedAt: at}
	}
	return out, nil
}

// SchemaPresent reports whether the snapshot table exists.
func SchemaPresent(ctx context.Context, pool *pgxpool.Pool) (bool, error) {
	var exists bool
	err := pool.QueryRow(ctx, `SELECT to_regclass('contract_snapshots') IS NOT NULL`).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%s - failed to check schema: %w", migrationsLogPrefix, err)
	}
	return exists, nil
}
