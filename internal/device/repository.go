package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Repository persists device registrations and their activity.
//
// Writes arrive through the Journal in the order they were applied in memory.
// LoadAll is only used at startup to rebuild the Store.
type Repository interface {
	// SaveDevice inserts or replaces a device's identity and classification.
	// Activity fields on d are ignored.
	SaveDevice(ctx context.Context, d *Device) error

	// DeleteDevice removes a device and all of its activity.
	// Deleting an unknown id is not an error.
	DeleteDevice(ctx context.Context, id string) error

	// AppendFragment appends a log fragment to a device.
	AppendFragment(ctx context.Context, id, fragment string, at time.Time) error

	// AppendIP appends an IP observation to a device.
	AppendIP(ctx context.Context, id string, obs IPObservation) error

	// LoadAll returns every persisted device with its full activity.
	LoadAll(ctx context.Context) ([]Snapshot, error)
}

// Snapshot is a persisted device together with its activity history.
type Snapshot struct {
	Device    Device
	Fragments []string
	IPs       []IPObservation
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection with migrations applied.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// SaveDevice inserts or replaces a device row.
func (r *SQLiteRepository) SaveDevice(ctx context.Context, d *Device) error {
	details, err := json.Marshal(d.Details)
	if err != nil {
		return fmt.Errorf("marshalling details: %w", err)
	}

	query := `
		INSERT INTO devices (id, name, kind, details, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			kind = excluded.kind,
			details = excluded.details,
			updated_at = excluded.updated_at`

	_, err = r.db.ExecContext(ctx, query,
		d.ID,
		d.Name,
		string(d.Kind),
		string(details),
		formatTime(d.CreatedAt),
		formatTime(d.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving device %s: %w", d.ID, err)
	}
	return nil
}

// DeleteDevice removes a device and its activity in one transaction.
func (r *SQLiteRepository) DeleteDevice(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	for _, q := range []string{
		`DELETE FROM log_fragments WHERE device_id = ?`,
		`DELETE FROM ip_observations WHERE device_id = ?`,
		`DELETE FROM devices WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return fmt.Errorf("deleting device %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing delete: %w", err)
	}
	return nil
}

// AppendFragment inserts a fragment row and bumps the device's updated_at.
func (r *SQLiteRepository) AppendFragment(ctx context.Context, id, fragment string, at time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	ts := formatTime(at)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO log_fragments (device_id, fragment, created_at) VALUES (?, ?, ?)`,
		id, fragment, ts,
	); err != nil {
		return fmt.Errorf("appending fragment for %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE devices SET updated_at = ? WHERE id = ?`, ts, id,
	); err != nil {
		return fmt.Errorf("touching device %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing fragment: %w", err)
	}
	return nil
}

// AppendIP inserts an IP observation row and bumps the device's updated_at.
func (r *SQLiteRepository) AppendIP(ctx context.Context, id string, obs IPObservation) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	ts := formatTime(obs.ObservedAt)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO ip_observations (device_id, seq, ip, observed_at) VALUES (?, ?, ?, ?)`,
		id, obs.Seq, obs.IP, ts,
	); err != nil {
		return fmt.Errorf("appending ip for %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE devices SET updated_at = ? WHERE id = ?`, ts, id,
	); err != nil {
		return fmt.Errorf("touching device %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing ip: %w", err)
	}
	return nil
}

// LoadAll reads every device with its fragments and IP observations.
func (r *SQLiteRepository) LoadAll(ctx context.Context) ([]Snapshot, error) {
	snaps, index, err := r.loadDevices(ctx)
	if err != nil {
		return nil, err
	}
	if err := r.loadFragments(ctx, snaps, index); err != nil {
		return nil, err
	}
	if err := r.loadIPs(ctx, snaps, index); err != nil {
		return nil, err
	}
	return snaps, nil
}

func (r *SQLiteRepository) loadDevices(ctx context.Context) ([]Snapshot, map[string]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, kind, details, created_at, updated_at FROM devices ORDER BY id`)
	if err != nil {
		return nil, nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var snaps []Snapshot
	index := make(map[string]int)
	for rows.Next() {
		var (
			d                    Device
			kind, details        string
			createdAt, updatedAt string
		)
		if err := rows.Scan(&d.ID, &d.Name, &kind, &details, &createdAt, &updatedAt); err != nil {
			return nil, nil, fmt.Errorf("scanning device: %w", err)
		}
		d.Kind = Kind(kind)
		if details != "" {
			if err := json.Unmarshal([]byte(details), &d.Details); err != nil {
				return nil, nil, fmt.Errorf("unmarshalling details for %s: %w", d.ID, err)
			}
		}
		if d.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, nil, fmt.Errorf("parsing created_at for %s: %w", d.ID, err)
		}
		if d.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, nil, fmt.Errorf("parsing updated_at for %s: %w", d.ID, err)
		}

		index[d.ID] = len(snaps)
		snaps = append(snaps, Snapshot{Device: d})
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterating devices: %w", err)
	}
	return snaps, index, nil
}

func (r *SQLiteRepository) loadFragments(ctx context.Context, snaps []Snapshot, index map[string]int) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT device_id, fragment FROM log_fragments ORDER BY id`)
	if err != nil {
		return fmt.Errorf("querying fragments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, fragment string
		if err := rows.Scan(&id, &fragment); err != nil {
			return fmt.Errorf("scanning fragment: %w", err)
		}
		if i, ok := index[id]; ok {
			snaps[i].Fragments = append(snaps[i].Fragments, fragment)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating fragments: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) loadIPs(ctx context.Context, snaps []Snapshot, index map[string]int) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT device_id, seq, ip, observed_at FROM ip_observations ORDER BY device_id, seq`)
	if err != nil {
		return fmt.Errorf("querying ip observations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id, observedAt string
			obs            IPObservation
		)
		if err := rows.Scan(&id, &obs.Seq, &obs.IP, &observedAt); err != nil {
			return fmt.Errorf("scanning ip observation: %w", err)
		}
		if obs.ObservedAt, err = parseTime(observedAt); err != nil {
			return fmt.Errorf("parsing observed_at for %s: %w", id, err)
		}
		if i, ok := index[id]; ok {
			snaps[i].IPs = append(snaps[i].IPs, obs)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating ip observations: %w", err)
	}
	return nil
}

// Timestamps keep nanoseconds so a restored history compares equal to the
// one that was written.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
