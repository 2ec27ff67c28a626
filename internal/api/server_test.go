package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/fleetwatch-core/internal/audit"
	"github.com/nerrad567/fleetwatch-core/internal/device"
	"github.com/nerrad567/fleetwatch-core/internal/infrastructure/config"
	"github.com/nerrad567/fleetwatch-core/internal/infrastructure/database"
	"github.com/nerrad567/fleetwatch-core/internal/infrastructure/logging"
	"github.com/nerrad567/fleetwatch-core/migrations"
)

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
}

// testServer creates a server over an empty in-memory registry.
func testServer(t *testing.T, opts ...func(*Deps)) (*Server, *device.Registry) {
	t.Helper()

	registry := device.NewRegistry()
	deps := Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Port:     0,
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		WS:       config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10},
		Logger:   testLogger(),
		Registry: registry,
		Version:  "test",
	}
	for _, opt := range opts {
		opt(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	registry.SetEventSink(srv.Hub())
	return srv, registry
}

// setupAuditRepo returns an audit repository over a migrated temp database.
func setupAuditRepo(t *testing.T) *audit.SQLiteRepository {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{Path: filepath.Join(t.TempDir(), "api.db"), WALMode: true})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return audit.NewSQLiteRepository(db.DB)
}

// do sends a request through the full router and returns the recorder.
func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return v
}

func assertError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", w.Code, status, w.Body.String())
	}
	e := decodeBody[Error](t, w)
	if e.Status != status || e.Code != code || e.Message == "" {
		t.Errorf("error body = %+v, want status %d code %q", e, status, code)
	}
}

// ─── Construction & health ──────────────────────────────────────────

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{Registry: device.NewRegistry()}); err == nil {
		t.Error("New() without logger should fail")
	}
	if _, err := New(Deps{Logger: testLogger()}); err == nil {
		t.Error("New() without registry should fail")
	}
}

func TestHealth(t *testing.T) {
	srv, reg := testServer(t)
	reg.Register("lt-1", "Laptop 1")

	w := do(t, srv, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	resp := decodeBody[map[string]any](t, w)
	if resp["status"] != "ok" || resp["version"] != "test" || resp["devices"] != float64(1) {
		t.Errorf("health = %v", resp)
	}
}

type checkFunc func(ctx context.Context) error

func (f checkFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

func TestHealth_Degraded(t *testing.T) {
	srv, _ := testServer(t, func(d *Deps) {
		d.Checks = map[string]HealthChecker{
			"database": checkFunc(func(context.Context) error { return nil }),
			"mqtt":     checkFunc(func(context.Context) error { return errors.New("not connected") }),
		}
	})

	w := do(t, srv, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}

	resp := decodeBody[map[string]any](t, w)
	if resp["status"] != "degraded" {
		t.Errorf("status = %v", resp["status"])
	}
	components, _ := resp["components"].(map[string]any)
	if components["database"] != "ok" || components["mqtt"] != "not connected" {
		t.Errorf("components = %v", components)
	}
}

func TestServer_HealthCheckBeforeStart(t *testing.T) {
	srv, _ := testServer(t)
	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}
	if err := srv.Close(); err != nil {
		t.Errorf("Close() before Start = %v", err)
	}
}

// ─── Middleware ─────────────────────────────────────────────────────

func TestRequestID(t *testing.T) {
	srv, _ := testServer(t)

	w := do(t, srv, http.MethodGet, "/api/v1/health", "")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID not generated")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want client-123", got)
	}
}

func TestCORS(t *testing.T) {
	srv, _ := testServer(t, func(d *Deps) {
		d.Config.CORS.AllowedOrigins = []string{"https://admin.example"}
	})

	tests := []struct {
		origin    string
		wantAllow string
	}{
		{"https://admin.example", "https://admin.example"},
		{"https://evil.example", ""},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/devices", nil)
		req.Header.Set("Origin", tt.origin)
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, req)

		if w.Code != http.StatusNoContent {
			t.Errorf("preflight status = %d, want 204", w.Code)
		}
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllow {
			t.Errorf("origin %s: Allow-Origin = %q, want %q", tt.origin, got, tt.wantAllow)
		}
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	srv, _ := testServer(t)
	h := srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assertError(t, w, http.StatusInternalServerError, ErrCodeInternal)
}

func TestBodySizeLimit(t *testing.T) {
	srv, _ := testServer(t, func(d *Deps) { d.Config.MaxBodySize = 64 })

	body := `{"id":"lt-1","name":"` + strings.Repeat("x", 100) + `"}`
	w := do(t, srv, http.MethodPost, "/api/v1/devices", body)
	assertError(t, w, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge)
}

// ─── Devices ────────────────────────────────────────────────────────

func TestRegisterDevice(t *testing.T) {
	srv, reg := testServer(t)

	w := do(t, srv, http.MethodPost, "/api/v1/devices",
		`{"id":"lt-1","name":"Laptop 1","kind":"laptop","details":{"laptop":{"owner":"sam"}}}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	got := decodeBody[device.Device](t, w)
	if got.ID != "lt-1" || got.Kind != device.KindLaptop || got.Details.Laptop == nil || got.Details.Laptop.Owner != "sam" {
		t.Errorf("registered = %+v", got)
	}
	if reg.Len() != 1 {
		t.Errorf("registry Len() = %d", reg.Len())
	}
}

func TestRegisterDevice_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"duplicate", `{"id":"lt-1","name":"Again"}`, http.StatusConflict, ErrCodeConflict},
		{"invalid kind", `{"id":"x-1","name":"X","kind":"toaster"}`, http.StatusBadRequest, ErrCodeValidation},
		{"missing id", `{"name":"X"}`, http.StatusBadRequest, ErrCodeValidation},
		{"mismatched details", `{"id":"x-2","name":"X","kind":"mobile","details":{"laptop":{}}}`, http.StatusBadRequest, ErrCodeValidation},
		{"bad json", `{"id":`, http.StatusBadRequest, ErrCodeBadRequest},
		{"unknown field", `{"id":"x-3","name":"X","log":"forged"}`, http.StatusBadRequest, ErrCodeBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, reg := testServer(t)
			reg.Register("lt-1", "Laptop 1")

			w := do(t, srv, http.MethodPost, "/api/v1/devices", tt.body)
			assertError(t, w, tt.wantStatus, tt.wantCode)

			if d, _ := reg.GetDevice("lt-1"); d.Name != "Laptop 1" {
				t.Errorf("existing device modified: %+v", d)
			}
		})
	}
}

func TestListDevices(t *testing.T) {
	srv, reg := testServer(t)
	reg.RegisterDevice(&device.Device{ID: "pc-1", Name: "Desk", Kind: device.KindDesktop})
	reg.Register("lt-1", "Laptop 1")
	reg.AppendLog("lt-1", "hello")
	reg.RecordIP("lt-1", "10.0.0.1")

	type listResp struct {
		Devices []deviceSummary `json:"devices"`
		Count   int             `json:"count"`
	}

	resp := decodeBody[listResp](t, do(t, srv, http.MethodGet, "/api/v1/devices", ""))
	if resp.Count != 2 || resp.Devices[0].ID != "lt-1" || resp.Devices[1].ID != "pc-1" {
		t.Fatalf("list = %+v", resp)
	}
	lt := resp.Devices[0]
	if !lt.HasLog || lt.LogLength != 5 || lt.IPCount != 1 {
		t.Errorf("summary = %+v", lt)
	}

	resp = decodeBody[listResp](t, do(t, srv, http.MethodGet, "/api/v1/devices?kind=desktop", ""))
	if resp.Count != 1 || resp.Devices[0].ID != "pc-1" {
		t.Errorf("filtered list = %+v", resp)
	}
}

func TestGetDevice(t *testing.T) {
	srv, reg := testServer(t)
	reg.Register("lt-1", "Laptop 1")
	reg.AppendLog("lt-1", "ab")

	w := do(t, srv, http.MethodGet, "/api/v1/devices/lt-1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := decodeBody[device.Device](t, w); got.Log != "ab" {
		t.Errorf("Log = %q", got.Log)
	}

	assertError(t, do(t, srv, http.MethodGet, "/api/v1/devices/ghost", ""), http.StatusNotFound, ErrCodeNotFound)
}

func TestRemoveDevice(t *testing.T) {
	srv, reg := testServer(t)
	reg.Register("lt-1", "Laptop 1")

	for i := range 2 {
		w := do(t, srv, http.MethodDelete, "/api/v1/devices/lt-1", "")
		if w.Code != http.StatusNoContent {
			t.Errorf("delete #%d status = %d, want 204", i+1, w.Code)
		}
	}
	assertError(t, do(t, srv, http.MethodGet, "/api/v1/devices/lt-1", ""), http.StatusNotFound, ErrCodeNotFound)
}

func TestDeviceStats(t *testing.T) {
	srv, reg := testServer(t)
	reg.Register("lt-1", "Laptop 1")
	reg.AppendLog("lt-1", "abc")

	stats := decodeBody[device.Stats](t, do(t, srv, http.MethodGet, "/api/v1/devices/stats", ""))
	if stats.TotalDevices != 1 || stats.TotalLogBytes != 3 || stats.ByKind[device.KindLaptop] != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

// ─── Log & IPs ──────────────────────────────────────────────────────

func TestLogEndpoints(t *testing.T) {
	srv, reg := testServer(t)
	reg.Register("lt-1", "Laptop 1")

	resp := decodeBody[logResponse](t, do(t, srv, http.MethodGet, "/api/v1/devices/lt-1/log", ""))
	if resp.HasLog || resp.Log != "" {
		t.Errorf("fresh log = %+v", resp)
	}

	do(t, srv, http.MethodPost, "/api/v1/devices/lt-1/log", `{"fragment":"ab"}`)
	w := do(t, srv, http.MethodPost, "/api/v1/devices/lt-1/log", `{"fragment":"cd"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("append status = %d", w.Code)
	}
	if resp := decodeBody[logResponse](t, w); resp.Log != "abcd" || resp.Length != 4 {
		t.Errorf("append response = %+v", resp)
	}

	resp = decodeBody[logResponse](t, do(t, srv, http.MethodGet, "/api/v1/devices/lt-1/log", ""))
	if !resp.HasLog || resp.Log != "abcd" {
		t.Errorf("read log = %+v", resp)
	}

	assertError(t, do(t, srv, http.MethodPost, "/api/v1/devices/ghost/log", `{"fragment":"x"}`), http.StatusNotFound, ErrCodeNotFound)
	assertError(t, do(t, srv, http.MethodGet, "/api/v1/devices/ghost/log", ""), http.StatusNotFound, ErrCodeNotFound)
}

func TestIPEndpoints(t *testing.T) {
	srv, reg := testServer(t)
	reg.Register("lt-1", "Laptop 1")

	for _, ip := range []string{"192.168.1.1", "10.0.0.2"} {
		w := do(t, srv, http.MethodPost, "/api/v1/devices/lt-1/ips", `{"ip":"`+ip+`"}`)
		if w.Code != http.StatusCreated {
			t.Fatalf("record %s status = %d", ip, w.Code)
		}
	}

	resp := decodeBody[ipsResponse](t, do(t, srv, http.MethodGet, "/api/v1/devices/lt-1/ips", ""))
	if resp.IPs != "192.168.1.110.0.0.2" || len(resp.Observations) != 2 || resp.Observations[1].Seq != 2 {
		t.Errorf("ips = %+v", resp)
	}

	resp = decodeBody[ipsResponse](t, do(t, srv, http.MethodGet, "/api/v1/devices/lt-1/ips?sep=,", ""))
	if resp.IPs != "192.168.1.1,10.0.0.2" {
		t.Errorf("delimited ips = %q", resp.IPs)
	}

	assertError(t, do(t, srv, http.MethodPost, "/api/v1/devices/lt-1/ips", `{"ip":""}`), http.StatusBadRequest, ErrCodeValidation)
	assertError(t, do(t, srv, http.MethodGet, "/api/v1/devices/ghost/ips", ""), http.StatusNotFound, ErrCodeNotFound)
}

func TestIPEndpoints_EmptyHistory(t *testing.T) {
	srv, reg := testServer(t)
	reg.Register("lt-1", "Laptop 1")

	w := do(t, srv, http.MethodGet, "/api/v1/devices/lt-1/ips", "")
	if !bytes.Contains(w.Body.Bytes(), []byte(`"observations":[]`)) {
		t.Errorf("body = %s, want empty observations array", w.Body.String())
	}
}

// ─── Audit ──────────────────────────────────────────────────────────

func TestAuditTrail(t *testing.T) {
	repo := setupAuditRepo(t)
	srv, _ := testServer(t, func(d *Deps) { d.AuditRepo = repo })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.drainAuditLog(ctx)
	}()

	do(t, srv, http.MethodPost, "/api/v1/devices", `{"id":"lt-1","name":"Laptop 1"}`)
	do(t, srv, http.MethodDelete, "/api/v1/devices/lt-1", "")
	do(t, srv, http.MethodDelete, "/api/v1/devices/lt-1", "") // no-op, not audited

	cancel()
	<-done

	result := decodeBody[audit.ListResult](t, do(t, srv, http.MethodGet, "/api/v1/audit?entity_id=lt-1", ""))
	if result.Total != 2 {
		t.Fatalf("Total = %d, want 2", result.Total)
	}
	if result.Logs[0].Action != audit.ActionRemove || result.Logs[1].Action != audit.ActionRegister {
		t.Errorf("actions = %s, %s", result.Logs[0].Action, result.Logs[1].Action)
	}
	if result.Logs[1].Source != audit.SourceAPI {
		t.Errorf("Source = %q", result.Logs[1].Source)
	}

	assertError(t, do(t, srv, http.MethodGet, "/api/v1/audit?limit=abc", ""), http.StatusBadRequest, ErrCodeBadRequest)
}

func TestAuditTrail_NotConfigured(t *testing.T) {
	srv, _ := testServer(t)
	assertError(t, do(t, srv, http.MethodGet, "/api/v1/audit", ""), http.StatusServiceUnavailable, ErrCodeUnavailable)
}

func TestStartClose(t *testing.T) {
	repo := setupAuditRepo(t)
	srv, _ := testServer(t, func(d *Deps) { d.AuditRepo = repo })

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	srv.auditLog(audit.ActionRegister, "lt-1", nil)
	if err := srv.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// Close drains queued entries before returning.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	res, err := repo.List(ctx, audit.Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 1 {
		t.Errorf("audit Total = %d, want 1", res.Total)
	}
}
