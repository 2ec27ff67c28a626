package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/fleetwatch-core/internal/device"
)

type logResponse struct {
	DeviceID string `json:"device_id"`
	HasLog   bool   `json:"has_log"`
	Log      string `json:"log"`
	Length   int    `json:"length"`
}

type appendLogRequest struct {
	Fragment string `json:"fragment"`
}

type ipsResponse struct {
	DeviceID     string                 `json:"device_id"`
	IPs          string                 `json:"ips"`
	Observations []device.IPObservation `json:"observations"`
}

type recordIPRequest struct {
	IP string `json:"ip"`
}

func (s *Server) handleReadLog(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	log, err := s.registry.ReadLog(id)
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, logResponse{
		DeviceID: id,
		HasLog:   log != "",
		Log:      log,
		Length:   len(log),
	})
}

// handleAppendLog appends a fragment and returns the full log.
func (s *Server) handleAppendLog(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req appendLogRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	log, err := s.registry.AppendLog(id, req.Fragment)
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, logResponse{
		DeviceID: id,
		HasLog:   log != "",
		Log:      log,
		Length:   len(log),
	})
}

// handleListIPs returns the recorded IPs concatenated in arrival order.
//
// Query parameters:
//   - sep: separator placed between IPs (default none)
func (s *Server) handleListIPs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ips, err := s.registry.ListIPsDelimited(id, r.URL.Query().Get("sep"))
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	obs, err := s.registry.IPObservations(id)
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	if obs == nil {
		obs = []device.IPObservation{}
	}

	writeJSON(w, http.StatusOK, ipsResponse{DeviceID: id, IPs: ips, Observations: obs})
}

func (s *Server) handleRecordIP(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req recordIPRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	obs, err := s.registry.RecordIP(id, req.IP)
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, obs)
}
