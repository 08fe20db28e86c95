// Package main is the entrypoint for the command-bridge (binary name "bridge").
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"time"

	"github.com/morezero/command-bridge/internal/config"
	"github.com/morezero/command-bridge/internal/server"
	"github.com/morezero/command-bridge/pkg/contract"
	"github.com/morezero/command-bridge/pkg/db"
	"github.com/morezero/command-bridge/pkg/export"
	"github.com/morezero/command-bridge/pkg/schema"
)

const usage = `Usage: bridge [command]
       bridge serve                       Start the bridge (COMMS, HTTP, dispatcher).
       bridge export [-target t] [-out f] Write the contract declarations (target ts or jsonschema).
       bridge check                       Validate the contract document and report its version.
       bridge migrate up                  Run database migrations.
       bridge migrate down                Refused: migrations are forward-only.
       bridge migrate status              Show migration status.
       bridge ensure-db [name]            Create database if missing (default name: bridge_test). Uses DATABASE_URL host/user.
       bridge clear                       Delete all recorded contract snapshots; schema is preserved.

Commands:
  serve           (default) Start the command bridge.
  export          Print contract.d.ts (default) or contract.schema.json; -out writes a file instead.
  check           Load and bind the contract; fails when it breaks the latest recorded snapshot.
  migrate up      Run database migrations only.
  migrate down    Not supported; restore a backup to roll back.
  migrate status  Show current migration status.
  ensure-db [name] Create database (e.g. bridge_test) on same host as DATABASE_URL.
  clear           Truncate contract snapshots.

Environment: COMMS_URL, COMMS_EMBEDDED, COMMS_SUBJECT_PREFIX, BRIDGE_CONTRACT_FILE, BRIDGE_HTTP_ADDR,
DATABASE_URL (optional for serve and check), MIGRATION_PATH. See README.
`

func main() {
	args := os.Args[1:]
	cmd := ""
	if len(args) > 0 && args[0] != "" {
		cmd = args[0]
	}

	switch cmd {
	case "export":
		if err := runExport(args[1:], os.Stdout); err != nil {
			log.Fatalf("bridge export: %v", err)
		}
		return
	case "check":
		if err := runCheck(os.Stdout); err != nil {
			log.Fatalf("bridge check: %v", err)
		}
		return
	case "migrate":
		if len(args) < 2 {
			log.Fatalf("bridge migrate: require subcommand (up, down, status)")
		}
		sub := args[1]
		switch sub {
		case "up":
			if err := runMigrateUp(os.Stdout); err != nil {
				log.Fatalf("bridge migrate up: %v", err)
			}
		case "status":
			if err := runMigrateStatus(os.Stdout); err != nil {
				log.Fatalf("bridge migrate status: %v", err)
			}
		case "down":
			if err := runMigrateDown(); err != nil {
				log.Fatalf("bridge migrate down: %v", err)
			}
		default:
			log.Fatalf("bridge migrate: unknown subcommand %q (use up, down, status)", sub)
		}
		return
	case "clear":
		if err := runClear(); err != nil {
			log.Fatalf("bridge clear: %v", err)
		}
		return
	case "ensure-db":
		dbName := "bridge_test"
		if len(args) > 1 && args[1] != "" {
			dbName = args[1]
		}
		if err := runEnsureDB(dbName); err != nil {
			log.Fatalf("bridge ensure-db: %v", err)
		}
		return
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	case "serve", "":
		// serve (explicit or default)
		break
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q.\n%s", cmd, usage)
		os.Exit(1)
	}

	if err := server.Run(); err != nil {
		log.Fatalf("bridge: %v", err)
	}
}

func runExport(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	target := fs.String("target", "ts", "export target: "+fmt.Sprint(export.TargetNames()))
	out := fs.String("out", "", "write to this file instead of stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	exporter, err := export.ForTarget(*target)
	if err != nil {
		return err
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	model, err := server.LoadModel(cfg)
	if err != nil {
		return err
	}
	artifact, err := exporter.Export(model)
	if err != nil {
		return fmt.Errorf("export %s: %w", exporter.Target(), err)
	}

	if *out == "" {
		_, err = stdout.Write(artifact)
		return err
	}
	if err := os.WriteFile(*out, artifact, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", *out, err)
	}
	fmt.Fprintf(stdout, "Wrote %s (%d bytes).\n", *out, len(artifact))
	return nil
}

func runCheck(stdout io.Writer) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	model, err := server.LoadModel(cfg)
	if err != nil {
		return err
	}
	printModel(stdout, model)

	artifact, err := export.NewTypeScript().Export(model)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}

	ctx := context.Background()
	var store contract.SnapshotStore = contract.NewMemoryStore()
	if cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()
		store = db.NewRepository(pool)
	}

	res, err := contract.Plan(ctx, store, model, artifact)
	if err != nil {
		return err
	}
	return printPlan(stdout, res)
}

func printModel(w io.Writer, m *schema.Model) {
	fmt.Fprintf(w, "Operations (%d):\n", len(m.Operations))
	for _, op := range m.Operations {
		fmt.Fprintf(w, "  %s(%s) -> %s ! %s\n", op.Name, schema.FormatFields(op.Params), op.Output, op.Error)
	}
	fmt.Fprintf(w, "Channels (%d):\n", len(m.Channels))
	for _, ch := range m.Channels {
		fmt.Fprintf(w, "  %s: %s\n", ch.Name, ch.Payload)
	}
}

func printPlan(w io.Writer, res *contract.Result) error {
	switch {
	case res.Previous == nil:
		fmt.Fprintf(w, "Contract %s (%s): no previous snapshot.\n", res.Snapshot.Version, res.Snapshot.Hash)
	case res.Unchanged:
		fmt.Fprintf(w, "Contract %s (%s): unchanged.\n", res.Snapshot.Version, res.Snapshot.Hash)
	default:
		fmt.Fprintf(w, "Contract %s -> %s (%s):\n", res.Previous.Version, res.Snapshot.Version, res.Snapshot.Hash)
		for _, ch := range res.Changes {
			fmt.Fprintf(w, "  %s\n", ch)
		}
	}
	if res.Breaking() {
		return errors.New("contract breaks the latest recorded snapshot")
	}
	return nil
}

func runMigrateUp(stdout io.Writer) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	migrations, err := db.LoadMigrations(cfg.MigrationPath)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	n, err := db.RunMigrations(ctx, pool, migrations)
	if err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	fmt.Fprintf(stdout, "Applied %d migrations.\n", n)
	return nil
}

func runMigrateStatus(stdout io.Writer) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	migrations, err := db.LoadMigrations(cfg.MigrationPath)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	states, err := db.MigrationStatus(ctx, pool, migrations)
	if err != nil {
		return fmt.Errorf("migration status: %w", err)
	}
	printMigrationStatus(stdout, states)
	return nil
}

func printMigrationStatus(w io.Writer, states []db.MigrationState) {
	if len(states) == 0 {
		fmt.Fprintln(w, "No migrations found.")
		return
	}
	for _, s := range states {
		status := "pending"
		if s.Applied {
			status = "applied " + s.AppliedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%03d_%s\t%s\n", s.Version, s.Name, status)
	}
}

// Migrations are forward-only; a rollback is a backup restore.
func runMigrateDown() error {
	return db.ErrDownUnsupported
}

func runClear() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	if err := db.ClearSnapshots(ctx, pool); err != nil {
		return fmt.Errorf("clear snapshots: %w", err)
	}
	return nil
}

func runEnsureDB(dbName string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	targetURL, err := databaseURLFor(cfg.DatabaseURL, dbName)
	if err != nil {
		return err
	}
	created, err := db.EnsureDatabase(context.Background(), targetURL)
	if err != nil {
		return err
	}
	if created {
		fmt.Printf("Database %q created.\n", dbName)
	} else {
		fmt.Printf("Database %q already exists.\n", dbName)
	}
	return nil
}

// databaseURLFor swaps the database name of base; the query (e.g. sslmode)
// is kept.
func databaseURLFor(base, dbName string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	u.Path = "/" + dbName
	return u.String(), nil
}
