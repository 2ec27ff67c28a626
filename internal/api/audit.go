package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/fleetwatch-core/internal/audit"
)

// auditChanSize bounds the queue of pending audit writes. Entries beyond it
// are dropped so a slow database never holds up requests.
const auditChanSize = 256

// auditWriteTimeout bounds one audit insert.
const auditWriteTimeout = 5 * time.Second

// auditLog queues an audit entry for a device action taken through the API.
func (s *Server) auditLog(action, deviceID string, details map[string]any) {
	if s.auditCh == nil {
		return
	}

	entry := audit.DeviceEntry(action, deviceID, audit.SourceAPI, details)
	entry.CreatedAt = time.Now().UTC()

	select {
	case s.auditCh <- entry:
	default:
		s.logger.Warn("audit queue full, dropping entry", "action", action, "device_id", deviceID)
	}
}

// drainAuditLog writes queued entries one at a time until ctx is cancelled,
// then writes whatever is still queued.
func (s *Server) drainAuditLog(ctx context.Context) {
	for {
		select {
		case entry := <-s.auditCh:
			s.writeAudit(entry)
		case <-ctx.Done():
			for {
				select {
				case entry := <-s.auditCh:
					s.writeAudit(entry)
				default:
					return
				}
			}
		}
	}
}

func (s *Server) writeAudit(entry *audit.AuditLog) {
	ctx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
	defer cancel()

	if err := s.auditRepo.Create(ctx, entry); err != nil {
		s.logger.Error("audit log write failed",
			"action", entry.Action,
			"device_id", entry.EntityID,
			"error", err,
		)
	}
}

// handleListAuditLogs returns audit entries, newest first.
//
// Query parameters:
//   - action: register or remove
//   - entity_type, entity_id, source: exact matches
//   - limit: page size (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	if s.auditRepo == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "audit trail not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:     q.Get("action"),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		Source:     q.Get("source"),
	}
	for param, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		v := q.Get(param)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			writeBadRequest(w, param+" must be an integer")
			return
		}
		*dst = n
	}

	result, err := s.auditRepo.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing audit logs failed", "error", err)
		writeInternalError(w, "failed to list audit logs")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
