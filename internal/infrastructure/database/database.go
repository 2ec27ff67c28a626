package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	dirPermissions  = 0750
	filePermissions = 0600

	// MemoryPath opens a private in-memory database. Nothing is written to
	// disk, so it only suits tests and throwaway runs.
	MemoryPath = ":memory:"

	// pingTimeout bounds the initial ping when ctx has no deadline.
	pingTimeout = 5 * time.Second

	connMaxIdleTime = 30 * time.Minute
)

// DB is the FleetWatch SQLite store: device journal tables and audit logs.
//
// It is opened with a single connection. The journal writer is the only
// heavy writer, and API audit inserts queue behind it instead of failing
// with SQLITE_BUSY.
type DB struct {
	*sql.DB
	path string
	wal  bool
}

// Config maps to the database section of config.yaml.
type Config struct {
	// Path is the database file. Its directory is created on Open.
	// MemoryPath selects an in-memory database.
	Path string

	// WALMode lets readers proceed while the journal is writing.
	WALMode bool

	// BusyTimeout is how long to wait for a lock, in seconds.
	BusyTimeout int
}

// dsn builds the go-sqlite3 connection string for cfg.
// See https://github.com/mattn/go-sqlite3#connection-string
func dsn(cfg Config) string {
	q := url.Values{}
	q.Set("_busy_timeout", fmt.Sprint(cfg.BusyTimeout*1000))
	q.Set("_foreign_keys", "on")
	if cfg.WALMode && cfg.Path != MemoryPath {
		q.Set("_journal_mode", "WAL")
		q.Set("_synchronous", "NORMAL")
	}
	return "file:" + cfg.Path + "?" + q.Encode()
}

// Open opens (creating if needed) the database at cfg.Path and verifies it
// with a ping bounded by ctx. Files are restricted to 0600.
//
// Parameters:
//   - ctx: Context for timeout/cancellation of the initial ping
//   - cfg: Database path, WAL mode and busy timeout
//
// Returns:
//   - *DB: Open database handle
//   - error: If the directory or file cannot be created, or the ping fails
func Open(ctx context.Context, cfg Config) (*DB, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	inMemory := cfg.Path == MemoryPath
	if !inMemory {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), dirPermissions); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite3", dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	// An in-memory database lives only as long as its connection.
	if !inMemory {
		sqlDB.SetConnMaxLifetime(time.Hour)
		sqlDB.SetConnMaxIdleTime(connMaxIdleTime)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, pingTimeout)
		defer cancel()
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("verifying database connection: %w", err)
	}

	if !inMemory {
		_ = os.Chmod(cfg.Path, filePermissions) //nolint:errcheck // best effort on exotic filesystems
	}

	return &DB{DB: sqlDB, path: cfg.Path, wal: cfg.WALMode && !inMemory}, nil
}

// Checkpoint folds the WAL back into the main database file and truncates
// it. It is a no-op when WAL mode is off. Call it after the journal has
// drained so a clean shutdown leaves a single self-contained file.
func (db *DB) Checkpoint(ctx context.Context) error {
	if !db.wal {
		return nil
	}
	if _, err := db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("checkpointing wal: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	if db.DB == nil {
		return nil
	}
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// Path returns the database path as configured.
func (db *DB) Path() string {
	return db.path
}

// HealthCheck runs a trivial query.
func (db *DB) HealthCheck(ctx context.Context) error {
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}
