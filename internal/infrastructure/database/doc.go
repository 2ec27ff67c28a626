// Package database provides SQLite connectivity for FleetWatch Core.
//
// This package manages:
//   - Database connection with WAL mode for concurrent access
//   - Schema migrations read from an fs.FS (see the migrations package)
//   - Connection lifecycle and health checks
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{
//	    Path:        cfg.Database.Path,
//	    WALMode:     cfg.Database.WALMode,
//	    BusyTimeout: cfg.Database.BusyTimeout,
//	})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are additive: new columns must be nullable or carry a default,
// and every .up.sql ships with a matching .down.sql.
package database
