package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Actions recorded for devices.
const (
	ActionRegister = "register"
	ActionRemove   = "remove"
)

// EntityDevice is the entity type of device audit entries.
const EntityDevice = "device"

// Sources of audited changes.
const (
	SourceAPI       = "api"
	SourceTelemetry = "telemetry"
)

// List page size bounds.
const (
	defaultLimit = 50
	maxLimit     = 200
)

// AuditLog is one audit trail entry.
type AuditLog struct { //nolint:revive // audit.AuditLog reads better than audit.Log at call sites
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
	Source     string         `json:"source"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// DeviceEntry builds an entry for a device action.
func DeviceEntry(action, deviceID, source string, details map[string]any) *AuditLog {
	return &AuditLog{
		Action:     action,
		EntityType: EntityDevice,
		EntityID:   deviceID,
		Source:     source,
		Details:    details,
	}
}

// Filter selects audit logs. Empty fields match everything.
type Filter struct {
	Action     string
	EntityType string
	EntityID   string
	Source     string
	Limit      int // default 50, max 200
	Offset     int
}

// ListResult is one page of audit logs.
type ListResult struct {
	Logs   []AuditLog `json:"logs"`
	Total  int        `json:"total"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
}

// Repository stores and lists audit logs.
type Repository interface {
	Create(ctx context.Context, log *AuditLog) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository keeps audit logs in the audit_logs table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository over db.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts log, filling in ID and CreatedAt when empty.
func (r *SQLiteRepository) Create(ctx context.Context, log *AuditLog) error {
	if log.ID == "" {
		log.ID = "aud-" + uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}

	var details any
	if len(log.Details) > 0 {
		b, err := json.Marshal(log.Details)
		if err != nil {
			return fmt.Errorf("marshalling audit details: %w", err)
		}
		details = string(b)
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_logs (id, action, entity_type, entity_id, user_id, source, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID, log.Action, log.EntityType,
		nullable(log.EntityID), nullable(log.UserID),
		log.Source, details,
		log.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting audit log: %w", err)
	}
	return nil
}

// nullable maps "" to NULL for optional TEXT columns.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns logs matching filter, newest first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	filter = clampFilter(filter)
	where, args := filter.where()

	var total int
	countQuery := "SELECT COUNT(*) FROM audit_logs" + where //nolint:gosec // where holds only ? placeholders
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting audit logs: %w", err)
	}

	query := `SELECT id, action, entity_type, entity_id, user_id, source, details, created_at
		FROM audit_logs` + where + ` ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?` //nolint:gosec // as above
	rows, err := r.db.QueryContext(ctx, query, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("querying audit logs: %w", err)
	}
	defer rows.Close()

	logs := []AuditLog{}
	for rows.Next() {
		log, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit logs: %w", err)
	}

	return &ListResult{Logs: logs, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

func clampFilter(f Filter) Filter {
	if f.Limit <= 0 {
		f.Limit = defaultLimit
	}
	if f.Limit > maxLimit {
		f.Limit = maxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// where builds a parameterised WHERE clause from the non-empty filter fields.
func (f Filter) where() (string, []any) {
	var conds []string
	var args []any
	for _, c := range []struct{ col, val string }{
		{"action", f.Action},
		{"entity_type", f.EntityType},
		{"entity_id", f.EntityID},
		{"source", f.Source},
	} {
		if c.val != "" {
			conds = append(conds, c.col+" = ?")
			args = append(args, c.val)
		}
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanLog(rows *sql.Rows) (AuditLog, error) {
	var (
		log                       AuditLog
		entityID, userID, details sql.NullString
		createdAt                 string
	)
	if err := rows.Scan(&log.ID, &log.Action, &log.EntityType,
		&entityID, &userID, &log.Source, &details, &createdAt); err != nil {
		return AuditLog{}, fmt.Errorf("scanning audit log: %w", err)
	}

	log.EntityID = entityID.String
	log.UserID = userID.String
	if details.Valid && details.String != "" {
		// Malformed details are dropped rather than failing the whole page.
		_ = json.Unmarshal([]byte(details.String), &log.Details) //nolint:errcheck // see above
	}

	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return AuditLog{}, fmt.Errorf("parsing audit log timestamp %q: %w", createdAt, err)
	}
	log.CreatedAt = t
	return log, nil
}
