package device

import (
	"context"
	"fmt"
	"time"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry is the public entry point for device operations.
//
// It holds no device state of its own: every call delegates to the Store and,
// on success, notifies the optional EventSink. When a Journal is attached the
// Store feeds it every mutation for write-behind persistence.
//
// SetLogger, SetEventSink and SetJournal must be called before the registry
// is shared between goroutines. All other methods are thread-safe.
type Registry struct {
	store   *Store
	journal *Journal
	sink    EventSink
	logger  Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		store:  NewStore(),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// SetEventSink sets the receiver for registry events. Nil disables events.
func (r *Registry) SetEventSink(sink EventSink) {
	r.sink = sink
}

// SetJournal attaches a write-behind journal. Nil detaches it.
func (r *Registry) SetJournal(j *Journal) {
	r.journal = j
	if j == nil {
		r.store.journal = nil
		return
	}
	r.store.journal = func(e Entry) { j.Enqueue(e) }
}

// Restore rebuilds the registry from the journal's repository.
// It should be called once on startup before any other operation.
// Without a journal it does nothing.
func (r *Registry) Restore(ctx context.Context) error {
	if r.journal == nil {
		return nil
	}

	snaps, err := r.journal.repo.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	for _, snap := range snaps {
		if err := r.store.load(snap); err != nil {
			r.logger.Warn("skipping persisted device",
				"device_id", snap.Device.ID,
				"error", err,
			)
		}
	}

	r.logger.Info("device registry restored", "count", r.store.Len())
	return nil
}

// Register creates a device with the default kind.
// Returns ErrDeviceExists if the id is already registered.
func (r *Registry) Register(id, name string) (*Device, error) {
	return r.RegisterDevice(&Device{ID: id, Name: name})
}

// RegisterDevice creates a device with an explicit kind and details.
// Returns ErrDeviceExists if the id is already registered, or a validation
// error wrapping ErrInvalidDevice, ErrInvalidID, ErrInvalidName or ErrInvalidKind.
func (r *Registry) RegisterDevice(d *Device) (*Device, error) {
	view, err := r.store.RegisterDevice(d)
	if err != nil {
		return nil, err
	}

	r.logger.Info("device registered", "device_id", view.ID, "kind", view.Kind)
	r.publish(Event{
		Type:      EventRegistered,
		DeviceID:  view.ID,
		Device:    view.DeepCopy(),
		Timestamp: view.CreatedAt,
	})
	return view, nil
}

// GetDevice returns a view of the device.
// Returns ErrDeviceNotFound if the device does not exist.
// The returned device is a copy; callers can safely modify it.
func (r *Registry) GetDevice(id string) (*Device, error) {
	return r.store.Get(id)
}

// ListDevices returns views of all devices ordered by id.
func (r *Registry) ListDevices() []Device {
	return r.store.List()
}

// Remove deletes a device and its history. Removing an unknown id is not an
// error; the result reports whether anything was removed.
func (r *Registry) Remove(id string) bool {
	if !r.store.Remove(id) {
		return false
	}

	r.logger.Info("device removed", "device_id", id)
	r.publish(Event{
		Type:      EventRemoved,
		DeviceID:  id,
		Timestamp: time.Now().UTC(),
	})
	return true
}

// AppendLog appends fragment to the device's log and returns the full log.
// Returns ErrDeviceNotFound if the device does not exist.
func (r *Registry) AppendLog(id, fragment string) (string, error) {
	full, err := r.store.AppendLog(id, fragment)
	if err != nil {
		return "", err
	}

	if fragment != "" {
		r.logger.Debug("log appended", "device_id", id, "bytes", len(fragment))
		r.publish(Event{
			Type:      EventLogAppended,
			DeviceID:  id,
			Fragment:  fragment,
			LogLength: len(full),
			Timestamp: time.Now().UTC(),
		})
	}
	return full, nil
}

// HasLog reports whether the device's log is non-empty.
// Returns ErrDeviceNotFound if the device does not exist.
func (r *Registry) HasLog(id string) (bool, error) {
	return r.store.HasLog(id)
}

// ReadLog returns the device's full log.
// Returns ErrDeviceNotFound if the device does not exist.
func (r *Registry) ReadLog(id string) (string, error) {
	return r.store.ReadLog(id)
}

// LogLength returns the byte length of the device's log.
// Returns ErrDeviceNotFound if the device does not exist.
func (r *Registry) LogLength(id string) (int, error) {
	return r.store.LogLength(id)
}

// RecordIP appends an IP observation to the device's history.
// Returns ErrInvalidIP for an empty value and ErrDeviceNotFound if the
// device does not exist.
func (r *Registry) RecordIP(id, ip string) (IPObservation, error) {
	obs, err := r.store.RecordIP(id, ip)
	if err != nil {
		return IPObservation{}, err
	}

	r.logger.Debug("ip recorded", "device_id", id, "ip", ip, "seq", obs.Seq)
	ev := obs
	r.publish(Event{
		Type:      EventIPRecorded,
		DeviceID:  id,
		IP:        &ev,
		Timestamp: obs.ObservedAt,
	})
	return obs, nil
}

// ListIPs returns recorded IPs concatenated with no delimiter.
// See Store.ListIPs.
func (r *Registry) ListIPs(id string) (string, error) {
	return r.store.ListIPs(id)
}

// ListIPsDelimited returns recorded IPs joined by sep.
func (r *Registry) ListIPsDelimited(id, sep string) (string, error) {
	return r.store.ListIPsDelimited(id, sep)
}

// IPObservations returns the device's structured IP history.
func (r *Registry) IPObservations(id string) ([]IPObservation, error) {
	return r.store.IPObservations(id)
}

// Len returns the number of registered devices.
func (r *Registry) Len() int {
	return r.store.Len()
}

// Stats returns aggregate registry counters.
func (r *Registry) Stats() Stats {
	return r.store.Stats()
}

func (r *Registry) publish(e Event) {
	if r.sink != nil {
		r.sink.HandleEvent(e)
	}
}
