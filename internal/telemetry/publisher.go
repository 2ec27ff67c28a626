package telemetry

import (
	"sync"
	"sync/atomic"

	"github.com/nerrad567/fleetwatch-core/internal/device"
	"github.com/nerrad567/fleetwatch-core/internal/infrastructure/mqtt"
)

// defaultPublishBuffer is the number of events held while the broker is slow.
const defaultPublishBuffer = 256

// JSONPublisher is the part of mqtt.Client the event publisher needs.
type JSONPublisher interface {
	PublishJSON(topic string, v any) error
}

// EventPublisher forwards registry events to {prefix}/events/{device_id}.
//
// HandleEvent never blocks the registry: events are queued and published by
// a single goroutine, and dropped with a warning when the queue is full.
type EventPublisher struct {
	pub    JSONPublisher
	topics mqtt.Topics
	logger Logger

	// mu orders sends against close(events).
	mu     sync.RWMutex
	closed bool
	events chan device.Event
	done   chan struct{}

	published atomic.Int64
	dropped   atomic.Int64
	failed    atomic.Int64
}

// PublisherStats counts events handled by an EventPublisher.
type PublisherStats struct {
	Published int64 `json:"published"`
	Dropped   int64 `json:"dropped"`
	Failed    int64 `json:"failed"`
}

// NewEventPublisher starts a publisher with room for buffer queued events.
// A non-positive buffer uses the default.
func NewEventPublisher(pub JSONPublisher, topics mqtt.Topics, buffer int, logger Logger) *EventPublisher {
	if buffer <= 0 {
		buffer = defaultPublishBuffer
	}
	if logger == nil {
		logger = noopLogger{}
	}

	p := &EventPublisher{
		pub:    pub,
		topics: topics,
		logger: logger,
		events: make(chan device.Event, buffer),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

// HandleEvent implements device.EventSink.
func (p *EventPublisher) HandleEvent(e device.Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return
	}
	select {
	case p.events <- e:
	default:
		p.dropped.Add(1)
		p.logger.Warn("event publish queue full, dropping event",
			"type", e.Type, "device_id", e.DeviceID)
	}
}

// Close stops accepting events, publishes what is queued and returns.
func (p *EventPublisher) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.events)
	}
	p.mu.Unlock()
	<-p.done
}

// Stats returns publish counters.
func (p *EventPublisher) Stats() PublisherStats {
	return PublisherStats{
		Published: p.published.Load(),
		Dropped:   p.dropped.Load(),
		Failed:    p.failed.Load(),
	}
}

func (p *EventPublisher) run() {
	defer close(p.done)
	for e := range p.events {
		if err := p.pub.PublishJSON(p.topics.Event(e.DeviceID), e); err != nil {
			p.failed.Add(1)
			p.logger.Warn("publishing event failed", "type", e.Type, "device_id", e.DeviceID, "error", err)
			continue
		}
		p.published.Add(1)
	}
}
