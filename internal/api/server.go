package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/fleetwatch-core/internal/audit"
	"github.com/nerrad567/fleetwatch-core/internal/device"
	"github.com/nerrad567/fleetwatch-core/internal/infrastructure/config"
	"github.com/nerrad567/fleetwatch-core/internal/infrastructure/logging"
)

// gracefulShutdownTimeout bounds how long Close waits for in-flight requests.
const gracefulShutdownTimeout = 10 * time.Second

// HealthChecker is implemented by infrastructure clients reported on /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies of the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Logger   *logging.Logger
	Registry *device.Registry

	// AuditRepo enables the audit trail and GET /audit. Optional.
	AuditRepo audit.Repository

	// Hub is used instead of a server-owned hub when set, so the registry
	// can be wired to it before the server starts.
	Hub *Hub

	// Checks are reported by name on GET /health. Optional.
	Checks map[string]HealthChecker

	Version string
}

// Server serves the FleetWatch REST API and event WebSocket.
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	registry  *device.Registry
	auditRepo audit.Repository
	auditCh   chan *audit.AuditLog
	checks    map[string]HealthChecker
	version   string

	server    *http.Server
	hub       *Hub
	ownsHub   bool
	cancel    context.CancelFunc
	auditDone chan struct{}
}

// New creates a server. It does not listen until Start.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("device registry is required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger,
		registry:  deps.Registry,
		auditRepo: deps.AuditRepo,
		checks:    deps.Checks,
		version:   deps.Version,
		hub:       deps.Hub,
	}
	if s.hub == nil {
		s.hub = NewHub(deps.WS, deps.Logger)
		s.ownsHub = true
	}
	if s.auditRepo != nil {
		s.auditCh = make(chan *audit.AuditLog, auditChanSize)
	}
	return s, nil
}

// Hub returns the WebSocket hub events are broadcast through.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the HTTP handler with all routes and middleware.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start listens in the background. Listener errors after startup are logged.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.ownsHub {
		go s.hub.Run(srvCtx)
	}
	if s.auditCh != nil {
		s.auditDone = make(chan struct{})
		go func() {
			defer close(s.auditDone)
			s.drainAuditLog(srvCtx)
		}()
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server listening with TLS", "address", s.server.Addr)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server listening", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close shuts the server down, waiting up to 10 seconds for in-flight
// requests, then flushes queued audit entries.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	err := s.server.Shutdown(ctx)

	if s.cancel != nil {
		s.cancel()
	}
	if s.auditDone != nil {
		<-s.auditDone
	}

	if err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck reports whether the server has been started.
func (s *Server) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("api health check: %w", err)
	}
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
