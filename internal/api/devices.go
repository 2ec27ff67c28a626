package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/fleetwatch-core/internal/audit"
	"github.com/nerrad567/fleetwatch-core/internal/device"
)

// deviceSummary is a device without its log body and IP history.
type deviceSummary struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Kind      device.Kind    `json:"kind"`
	Details   device.Details `json:"details"`
	HasLog    bool           `json:"has_log"`
	LogLength int            `json:"log_length"`
	Fragments int            `json:"fragments"`
	IPCount   int            `json:"ip_count"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func summarise(d *device.Device) deviceSummary {
	return deviceSummary{
		ID:        d.ID,
		Name:      d.Name,
		Kind:      d.Kind,
		Details:   d.Details,
		HasLog:    d.HasLog(),
		LogLength: d.LogLength,
		Fragments: d.Fragments,
		IPCount:   len(d.IPs),
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

// registerRequest is the body of POST /devices.
type registerRequest struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	Kind    device.Kind    `json:"kind"`
	Details device.Details `json:"details"`
}

// handleListDevices returns device summaries ordered by id.
//
// Query parameters:
//   - kind: only devices of this kind
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	kind := device.Kind(r.URL.Query().Get("kind"))

	devices := s.registry.ListDevices()
	out := make([]deviceSummary, 0, len(devices))
	for i := range devices {
		if kind != "" && devices[i].Kind != kind {
			continue
		}
		out = append(out, summarise(&devices[i]))
	}

	writeJSON(w, http.StatusOK, map[string]any{"devices": out, "count": len(out)})
}

func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	d, err := s.registry.RegisterDevice(&device.Device{
		ID:      req.ID,
		Name:    req.Name,
		Kind:    req.Kind,
		Details: req.Details,
	})
	if err != nil {
		writeDeviceError(w, err)
		return
	}

	s.auditLog(audit.ActionRegister, d.ID, map[string]any{
		"name": d.Name,
		"kind": string(d.Kind),
	})
	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) handleDeviceStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Stats())
}

// handleGetDevice returns the full device including its log and IP history.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	d, err := s.registry.GetDevice(chi.URLParam(r, "id"))
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleRemoveDevice always answers 204; removing an unknown id is not an error.
func (s *Server) handleRemoveDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.registry.Remove(id) {
		s.auditLog(audit.ActionRemove, id, nil)
	}
	w.WriteHeader(http.StatusNoContent)
}
