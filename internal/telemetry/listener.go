package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/nerrad567/fleetwatch-core/internal/audit"
	"github.com/nerrad567/fleetwatch-core/internal/device"
	"github.com/nerrad567/fleetwatch-core/internal/infrastructure/config"
	"github.com/nerrad567/fleetwatch-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/fleetwatch-core/internal/infrastructure/mqtt"
)

// auditTimeout bounds the audit insert made on auto-registration.
const auditTimeout = 5 * time.Second

// Subscriber is the part of mqtt.Client the listener needs.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// ActivityWriter records per-device activity metrics.
type ActivityWriter interface {
	WriteActivity(a influxdb.Activity)
}

// AuditWriter stores audit entries.
type AuditWriter interface {
	Create(ctx context.Context, log *audit.AuditLog) error
}

// Logger is the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Deps holds what a Listener needs. Registry is required; Metrics, Audit
// and Logger are optional.
type Deps struct {
	Config   config.TelemetryConfig
	Topics   mqtt.Topics
	QoS      byte
	Registry *device.Registry
	Metrics  ActivityWriter
	Audit    AuditWriter
	Logger   Logger
}

// Stats counts messages seen by a Listener.
type Stats struct {
	Accepted       int64 `json:"accepted"`
	Rejected       int64 `json:"rejected"`
	AutoRegistered int64 `json:"auto_registered"`
}

// Listener feeds endpoint telemetry from MQTT into the device registry.
//
// Message handling is safe for concurrent use; paho may deliver messages
// for different devices on different goroutines.
type Listener struct {
	cfg      config.TelemetryConfig
	topics   mqtt.Topics
	qos      byte
	registry *device.Registry
	metrics  ActivityWriter
	audit    AuditWriter
	logger   Logger

	accepted       atomic.Int64
	rejected       atomic.Int64
	autoRegistered atomic.Int64
}

type logPayload struct {
	Fragment string `json:"fragment"`
}

type ipPayload struct {
	IP string `json:"ip"`
}

type helloPayload struct {
	Name    string         `json:"name"`
	Kind    device.Kind    `json:"kind"`
	Details device.Details `json:"details"`
}

// NewListener creates a listener. It does not subscribe until Start.
func NewListener(deps Deps) (*Listener, error) {
	if deps.Registry == nil {
		return nil, fmt.Errorf("device registry is required")
	}

	l := &Listener{
		cfg:      deps.Config,
		topics:   deps.Topics,
		qos:      deps.QoS,
		registry: deps.Registry,
		metrics:  deps.Metrics,
		audit:    deps.Audit,
		logger:   deps.Logger,
	}
	if l.logger == nil {
		l.logger = noopLogger{}
	}
	return l, nil
}

// Start subscribes to every endpoint's telemetry channels.
func (l *Listener) Start(sub Subscriber) error {
	topic := l.topics.AllTelemetry()
	if err := sub.Subscribe(topic, l.qos, l.HandleMessage); err != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	l.logger.Info("telemetry listener subscribed", "topic", topic, "auto_register", l.cfg.AutoRegister)
	return nil
}

// Stats returns message counters.
func (l *Listener) Stats() Stats {
	return Stats{
		Accepted:       l.accepted.Load(),
		Rejected:       l.rejected.Load(),
		AutoRegistered: l.autoRegistered.Load(),
	}
}

// HandleMessage applies one telemetry message to the registry.
func (l *Listener) HandleMessage(topic string, payload []byte) error {
	err := l.handle(topic, payload)
	if err != nil {
		l.rejected.Add(1)
		return err
	}
	l.accepted.Add(1)
	return nil
}

func (l *Listener) handle(topic string, payload []byte) error {
	id, channel, ok := l.topics.ParseTelemetry(topic)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}

	switch channel {
	case mqtt.ChannelHello:
		var p helloPayload
		if err := decode(payload, &p); err != nil {
			return err
		}
		return l.handleHello(id, p)

	case mqtt.ChannelLog:
		var p logPayload
		if err := decode(payload, &p); err != nil {
			return err
		}
		return l.handleLog(id, p)

	case mqtt.ChannelIP:
		var p ipPayload
		if err := decode(payload, &p); err != nil {
			return err
		}
		return l.handleIP(id, p)

	default:
		return fmt.Errorf("%w: %s", ErrUnknownChannel, channel)
	}
}

func decode(payload []byte, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %w", ErrBadPayload, err)
	}
	return nil
}

func (l *Listener) handleHello(id string, p helloPayload) error {
	if _, err := l.registry.GetDevice(id); err == nil {
		l.logger.Debug("hello from known device", "device_id", id)
		return nil
	}
	if !l.cfg.AutoRegister {
		l.logger.Warn("hello from unknown device ignored", "device_id", id)
		return fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}

	name := p.Name
	if name == "" {
		name = id
	}
	return l.register(&device.Device{ID: id, Name: name, Kind: p.Kind, Details: p.Details})
}

func (l *Listener) handleLog(id string, p logPayload) error {
	if err := l.ensureDevice(id); err != nil {
		return err
	}
	if _, err := l.registry.AppendLog(id, p.Fragment); err != nil {
		return fmt.Errorf("appending log for %s: %w", id, err)
	}
	l.writeActivity(id)
	return nil
}

func (l *Listener) handleIP(id string, p ipPayload) error {
	if l.cfg.ValidateIPs {
		if _, err := netip.ParseAddr(p.IP); err != nil {
			return fmt.Errorf("%w: %q: %w", device.ErrInvalidIP, p.IP, err)
		}
	}
	if err := l.ensureDevice(id); err != nil {
		return err
	}
	if _, err := l.registry.RecordIP(id, p.IP); err != nil {
		return fmt.Errorf("recording ip for %s: %w", id, err)
	}
	l.writeActivity(id)
	return nil
}

// ensureDevice registers an unknown device when auto-registration is on.
func (l *Listener) ensureDevice(id string) error {
	if _, err := l.registry.GetDevice(id); err == nil {
		return nil
	}
	if !l.cfg.AutoRegister {
		l.logger.Warn("telemetry for unknown device dropped", "device_id", id)
		return fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	return l.register(&device.Device{ID: id, Name: id})
}

func (l *Listener) register(d *device.Device) error {
	created, err := l.registry.RegisterDevice(d)
	if errors.Is(err, device.ErrDeviceExists) {
		// Another message for the same device won the race.
		return nil
	}
	if err != nil {
		return fmt.Errorf("auto-registering %s: %w", d.ID, err)
	}

	l.autoRegistered.Add(1)
	l.logger.Info("device auto-registered", "device_id", created.ID, "kind", created.Kind)

	if l.audit != nil {
		ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
		defer cancel()
		entry := audit.DeviceEntry(audit.ActionRegister, created.ID, audit.SourceTelemetry,
			map[string]any{"name": created.Name, "kind": string(created.Kind)})
		if err := l.audit.Create(ctx, entry); err != nil {
			l.logger.Warn("writing audit entry failed", "device_id", created.ID, "error", err)
		}
	}
	return nil
}

func (l *Listener) writeActivity(id string) {
	if l.metrics == nil {
		return
	}
	d, err := l.registry.GetDevice(id)
	if err != nil {
		// Removed between the update and now; nothing to report.
		return
	}
	l.metrics.WriteActivity(influxdb.Activity{
		DeviceID:       d.ID,
		Kind:           string(d.Kind),
		LogBytes:       d.LogLength,
		Fragments:      d.Fragments,
		IPObservations: len(d.IPs),
	})
}
