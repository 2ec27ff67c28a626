package device

import "time"

// EventType names a registry mutation.
type EventType string

// Registry event types.
const (
	EventRegistered  EventType = "device.registered"
	EventRemoved     EventType = "device.removed"
	EventLogAppended EventType = "device.log_appended"
	EventIPRecorded  EventType = "device.ip_recorded"
)

// Event describes a successful registry mutation.
//
// Only the fields relevant to Type are set: Device for registrations,
// Fragment and LogLength for log appends, IP for IP observations.
type Event struct {
	Type      EventType      `json:"type"`
	DeviceID  string         `json:"device_id"`
	Device    *Device        `json:"device,omitempty"`
	Fragment  string         `json:"fragment,omitempty"`
	LogLength int            `json:"log_length,omitempty"`
	IP        *IPObservation `json:"ip,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// EventSink receives registry events.
//
// HandleEvent is called synchronously after the mutation has been applied
// and must not block; sinks that do I/O should queue internally.
type EventSink interface {
	HandleEvent(Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(Event)

// HandleEvent calls f(e).
func (f EventSinkFunc) HandleEvent(e Event) { f(e) }

// MultiSink fans an event out to several sinks in order.
type MultiSink []EventSink

// HandleEvent delivers e to every non-nil sink.
func (m MultiSink) HandleEvent(e Event) {
	for _, s := range m {
		if s != nil {
			s.HandleEvent(e)
		}
	}
}
