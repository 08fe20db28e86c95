package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

const clearLogPrefix = "db:clear"

// ClearSnapshots truncates contract_snapshots. Schema is preserved; the next
// reconcile records the running contract as a fresh initial version.
func ClearSnapshots(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info(fmt.Sprintf("%s - Clearing contract snapshots", clearLogPrefix))

	if _, err := pool.Exec(ctx, `TRUNCATE TABLE contract_snapshots`); err != nil {
		return fmt.Errorf("%s - truncate failed: %w", clearLogPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Snapshots cleared", clearLogPrefix))
	return nil
}
