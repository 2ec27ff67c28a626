// Package reporting periodically summarises the device registry.
//
// On every tick of reporting.schedule (robfig/cron syntax, e.g. "@every 1m"
// or "*/5 * * * *") the Reporter logs Registry.Stats and writes one
// registry_stats InfluxDB point for the fleet plus one per device kind.
// With a Broadcaster set, the same stats are pushed to WebSocket clients
// subscribed to EventStats.
package reporting

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/robfig/cron/v3"

	"github.com/nerrad567/fleetwatch-core/internal/device"
	"github.com/nerrad567/fleetwatch-core/internal/infrastructure/influxdb"
)

// DefaultSchedule runs the report once a minute.
const DefaultSchedule = "@every 1m"

// EventStats is the channel and event type of broadcast reports.
const EventStats = "registry.stats"

// StatsSource provides registry statistics. *device.Registry implements it.
type StatsSource interface {
	Stats() device.Stats
}

// StatsWriter stores registry statistics. *influxdb.Client implements it.
type StatsWriter interface {
	WriteRegistryStats(s influxdb.RegistryStats)
}

// Broadcaster pushes a payload to live subscribers. *api.Hub implements it.
type Broadcaster interface {
	Broadcast(channel string, payload any)
}

// Logger is the logging interface used by the Reporter.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Reporter runs the stats report on a cron schedule.
type Reporter struct {
	source StatsSource
	writer StatsWriter
	bcast  Broadcaster
	logger Logger
	cron   *cron.Cron

	mu      sync.Mutex
	started bool
	runs    atomic.Int64
}

// New validates schedule and builds a stopped Reporter. writer may be nil
// to only log. An empty schedule uses DefaultSchedule.
func New(schedule string, source StatsSource, writer StatsWriter, logger Logger) (*Reporter, error) {
	if source == nil {
		return nil, fmt.Errorf("stats source is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if schedule == "" {
		schedule = DefaultSchedule
	}

	r := &Reporter{source: source, writer: writer, logger: logger}

	cl := cronLogger{logger}
	r.cron = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := r.cron.AddFunc(schedule, r.RunOnce); err != nil {
		return nil, fmt.Errorf("invalid reporting schedule %q: %w", schedule, err)
	}
	return r, nil
}

// SetBroadcaster sets where each report is pushed. It must be called before
// Start.
func (r *Reporter) SetBroadcaster(b Broadcaster) {
	r.bcast = b
}

// Start begins running the report on schedule. Calling it twice is a no-op.
func (r *Reporter) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true
	r.cron.Start()
}

// Stop stops scheduling and waits for a running report to finish or ctx to
// expire.
func (r *Reporter) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = false
	r.mu.Unlock()

	select {
	case <-r.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for report to finish: %w", ctx.Err())
	}
}

// Runs returns how many reports have completed.
func (r *Reporter) Runs() int64 {
	return r.runs.Load()
}

// RunOnce produces one report immediately.
func (r *Reporter) RunOnce() {
	stats := r.source.Stats()

	byKind := make(map[string]int, len(stats.ByKind))
	for k, n := range stats.ByKind {
		byKind[string(k)] = n
	}

	r.logger.Info("registry stats",
		"devices", stats.TotalDevices,
		"log_bytes", stats.TotalLogBytes,
		"fragments", stats.TotalFragments,
		"ip_observations", stats.TotalIPObservations,
		"by_kind", byKind,
	)

	if r.writer != nil {
		r.writer.WriteRegistryStats(influxdb.RegistryStats{
			Devices:        stats.TotalDevices,
			LogBytes:       stats.TotalLogBytes,
			Fragments:      stats.TotalFragments,
			IPObservations: stats.TotalIPObservations,
			ByKind:         byKind,
		})
	}
	if r.bcast != nil {
		r.bcast.Broadcast(EventStats, stats)
	}
	r.runs.Add(1)
}

// cronLogger adapts Logger to cron.Logger.
type cronLogger struct {
	l Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
