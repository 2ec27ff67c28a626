package main

import (
	"context"
	"fmt"
	"io"

	"github.com/nerrad567/fleetwatch-core/internal/infrastructure/config"
	"github.com/nerrad567/fleetwatch-core/internal/infrastructure/database"
	"github.com/nerrad567/fleetwatch-core/migrations"
)

// Maintenance actions selected by command line flags.
const (
	actionMigrateDown   = "migrate-down"
	actionMigrateStatus = "migrate-status"
)

// migrate runs a one-off schema action against the configured database and
// reports the result on out. The service itself is not started.
func migrate(ctx context.Context, action string, out io.Writer) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close() //nolint:errcheck // read-mostly maintenance run

	applied, pending, err := db.MigrationStatus(ctx, migrations.FS)
	if err != nil {
		return fmt.Errorf("reading migration status: %w", err)
	}

	switch action {
	case actionMigrateStatus:
		for _, r := range applied {
			fmt.Fprintf(out, "applied  %s  %s\n", r.Version, r.AppliedAt.Format("2006-01-02 15:04:05"))
		}
		for _, m := range pending {
			fmt.Fprintf(out, "pending  %s  %s\n", m.Version, m.Name)
		}
		return nil

	case actionMigrateDown:
		if len(applied) == 0 {
			fmt.Fprintln(out, "no migrations applied")
			return nil
		}
		latest := applied[len(applied)-1]
		if err := db.MigrateDown(ctx, migrations.FS); err != nil {
			return fmt.Errorf("rolling back %s: %w", latest.Version, err)
		}
		fmt.Fprintf(out, "rolled back %s\n", latest.Version)
		return nil

	default:
		return fmt.Errorf("unknown migration action %q", action)
	}
}
