package api

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthCheckTimeout bounds each dependency check on GET /health.
const healthCheckTimeout = 2 * time.Second

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.Post("/", s.handleRegisterDevice)
			r.Get("/stats", s.handleDeviceStats)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Delete("/", s.handleRemoveDevice)
				r.Get("/log", s.handleReadLog)
				r.Post("/log", s.handleAppendLog)
				r.Get("/ips", s.handleListIPs)
				r.Post("/ips", s.handleRecordIP)
			})
		})

		r.Get("/audit", s.handleListAuditLogs)
		r.Get(s.wsPath(), s.handleWebSocket)
	})

	return r
}

// wsPath is the configured WebSocket route under /api/v1, "/ws" by default.
func (s *Server) wsPath() string {
	p := s.wsCfg.Path
	if p == "" {
		return "/ws"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

// handleHealth reports service status and, when configured, each dependency.
// Any failing dependency turns the response into 503 "degraded".
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":  "ok",
		"version": s.version,
		"devices": s.registry.Len(),
	}

	if len(s.checks) > 0 {
		names := make([]string, 0, len(s.checks))
		for name := range s.checks {
			names = append(names, name)
		}
		sort.Strings(names)

		components := make(map[string]string, len(names))
		healthy := true
		for _, name := range names {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			err := s.checks[name].HealthCheck(ctx)
			cancel()
			if err != nil {
				components[name] = err.Error()
				healthy = false
				continue
			}
			components[name] = "ok"
		}
		resp["components"] = components

		if !healthy {
			resp["status"] = "degraded"
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
