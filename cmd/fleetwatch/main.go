// FleetWatch Core - endpoint device registry and activity aggregation.
//
// This is the main entry point for the FleetWatch Core service. It keeps an
// in-memory registry of laptops, desktops and mobile devices, accumulates
// their activity logs and IP history, and exposes them over:
//   - a REST API with a WebSocket event stream
//   - MQTT telemetry topics (ingest) and event topics (publish)
//   - InfluxDB activity and registry statistics
//
// State is journaled to SQLite and restored on startup.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/fleetwatch-core/internal/api"
	"github.com/nerrad567/fleetwatch-core/internal/audit"
	"github.com/nerrad567/fleetwatch-core/internal/device"
	"github.com/nerrad567/fleetwatch-core/internal/infrastructure/config"
	"github.com/nerrad567/fleetwatch-core/internal/infrastructure/database"
	"github.com/nerrad567/fleetwatch-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/fleetwatch-core/internal/infrastructure/logging"
	"github.com/nerrad567/fleetwatch-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/fleetwatch-core/internal/reporting"
	"github.com/nerrad567/fleetwatch-core/internal/telemetry"
	"github.com/nerrad567/fleetwatch-core/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// shutdownTimeout bounds the reporter's last run and the final WAL checkpoint.
const shutdownTimeout = 5 * time.Second

func main() {
	migrateDown := flag.Bool(actionMigrateDown, false, "Roll back the most recent schema migration and exit")
	migrateStatus := flag.Bool(actionMigrateStatus, false, "Print applied and pending schema migrations and exit")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("fleetwatch %s (commit %s, built %s)\n", version, commit, date)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var err error
	switch {
	case *migrateDown:
		err = migrate(ctx, actionMigrateDown, os.Stdout)
	case *migrateStatus:
		err = migrate(ctx, actionMigrateStatus, os.Stdout)
	default:
		err = run(ctx)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting FleetWatch Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version).With("site", cfg.Site.ID)
	defer func() {
		if closeErr := log.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "closing log output: %v\n", closeErr)
		}
	}()
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
		"output", cfg.Logging.Output,
	)

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		// Runs after the journal has drained.
		cpCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if cpErr := db.Checkpoint(cpCtx); cpErr != nil {
			log.Warn("database checkpoint failed", "error", cpErr)
		}
		cancel()

		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	registry := device.NewRegistry()
	registry.SetLogger(log)

	// Closed after every producer of registry mutations has stopped so the
	// final entries are drained to SQLite before the database closes.
	if cfg.Journal.Enabled {
		journal := device.NewJournal(device.NewSQLiteRepository(db.DB), device.JournalConfig{
			BufferSize:     cfg.Journal.BufferSize,
			EnqueueTimeout: cfg.Journal.EnqueueTimeout,
			WriteTimeout:   cfg.Journal.WriteTimeout,
		})
		journal.SetLogger(log)
		registry.SetJournal(journal)

		if restoreErr := registry.Restore(ctx); restoreErr != nil {
			return fmt.Errorf("restoring device registry: %w", restoreErr)
		}
		journal.Start(ctx)
		defer func() {
			journal.Close()
			stats := journal.Stats()
			log.Info("journal closed",
				"written", stats.Written,
				"dropped", stats.Dropped,
				"failed", stats.Failed,
			)
		}()
	} else {
		log.Warn("journal disabled, device state will not survive a restart")
	}
	log.Info("device registry initialised", "devices", registry.Len())

	auditRepo := audit.NewSQLiteRepository(db.DB)

	influxClient := connectInfluxDB(cfg, log)
	if influxClient != nil {
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
	}

	var mqttClient *mqtt.Client
	if cfg.Telemetry.Enabled || cfg.Telemetry.PublishEvents {
		mqttClient = connectMQTT(cfg, log)
	} else {
		log.Info("telemetry disabled, not connecting to MQTT")
	}
	if mqttClient != nil {
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
	}

	hub := api.NewHub(cfg.WebSocket, log)
	go hub.Run(ctx)

	sinks := device.MultiSink{hub}
	if mqttClient != nil && cfg.Telemetry.PublishEvents {
		publisher := telemetry.NewEventPublisher(mqttClient, mqttClient.Topics(), 0, log)
		defer func() {
			publisher.Close()
			stats := publisher.Stats()
			log.Info("event publisher closed",
				"published", stats.Published,
				"dropped", stats.Dropped,
				"failed", stats.Failed,
			)
		}()
		sinks = append(sinks, publisher)
	}
	registry.SetEventSink(sinks)

	if mqttClient != nil && cfg.Telemetry.Enabled {
		if startErr := startTelemetry(cfg, registry, mqttClient, influxClient, auditRepo, log); startErr != nil {
			return startErr
		}
	}

	checks := map[string]api.HealthChecker{"database": db}
	if mqttClient != nil {
		checks["mqtt"] = mqttClient
	}
	if influxClient != nil {
		checks["influxdb"] = influxClient
	}

	server, err := api.New(api.Deps{
		Config:    cfg.API,
		WS:        cfg.WebSocket,
		Logger:    log,
		Registry:  registry,
		AuditRepo: auditRepo,
		Hub:       hub,
		Checks:    checks,
		Version:   version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if cfg.Reporting.Enabled {
		reporter, repErr := newReporter(cfg, registry, influxClient, log)
		if repErr != nil {
			return repErr
		}
		reporter.SetBroadcaster(hub)
		reporter.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if stopErr := reporter.Stop(stopCtx); stopErr != nil {
				log.Warn("reporter did not stop cleanly", "error", stopErr)
			}
		}()
		log.Info("registry reporting scheduled", "schedule", cfg.Reporting.Schedule)
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: reporter, API server, event
	// publisher, MQTT, InfluxDB, journal, database, log output.

	log.Info("FleetWatch Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses FLEETWATCH_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("FLEETWATCH_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// connectInfluxDB returns nil when InfluxDB is disabled or unreachable.
// Metrics are optional, so a failed connection only degrades the service.
func connectInfluxDB(cfg *config.Config, log *logging.Logger) *influxdb.Client {
	client, err := influxdb.Connect(cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
		return nil
	case err != nil:
		log.Warn("InfluxDB unavailable, metrics disabled", "error", err)
		return nil
	}

	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected",
		"url", cfg.InfluxDB.URL,
		"org", cfg.InfluxDB.Org,
		"bucket", cfg.InfluxDB.Bucket,
	)
	return client
}

// connectMQTT returns nil when the broker cannot be reached at startup.
// The REST API keeps working without telemetry.
func connectMQTT(cfg *config.Config, log *logging.Logger) *mqtt.Client {
	broker := fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port)

	client, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		log.Warn("MQTT unavailable, telemetry disabled", "broker", broker, "error", err)
		return nil
	}

	client.SetLogger(log)
	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", broker,
		"client_id", cfg.MQTT.Broker.ClientID,
	)
	return client
}

// startTelemetry subscribes the registry to endpoint telemetry.
func startTelemetry(
	cfg *config.Config,
	registry *device.Registry,
	mqttClient *mqtt.Client,
	influxClient *influxdb.Client,
	auditRepo audit.Repository,
	log *logging.Logger,
) error {
	deps := telemetry.Deps{
		Config:   cfg.Telemetry,
		Topics:   mqttClient.Topics(),
		QoS:      byte(cfg.MQTT.QoS),
		Registry: registry,
		Audit:    auditRepo,
		Logger:   log,
	}
	// Left unset rather than holding a nil *influxdb.Client.
	if influxClient != nil {
		deps.Metrics = influxClient
	}

	listener, err := telemetry.NewListener(deps)
	if err != nil {
		return fmt.Errorf("creating telemetry listener: %w", err)
	}
	if err := listener.Start(mqttClient); err != nil {
		return fmt.Errorf("starting telemetry listener: %w", err)
	}
	return nil
}

func newReporter(cfg *config.Config, registry *device.Registry, influxClient *influxdb.Client, log *logging.Logger) (*reporting.Reporter, error) {
	var writer reporting.StatsWriter
	if influxClient != nil {
		writer = influxClient
	}
	reporter, err := reporting.New(cfg.Reporting.Schedule, registry, writer, log)
	if err != nil {
		return nil, fmt.Errorf("creating reporter: %w", err)
	}
	return reporter, nil
}
