package device

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// EntryKind identifies the repository write an Entry maps to.
type EntryKind uint8

// Journal entry kinds.
const (
	EntrySaveDevice EntryKind = iota + 1
	EntryDeleteDevice
	EntryAppendFragment
	EntryAppendIP
)

// String returns the entry kind name used in log output.
func (k EntryKind) String() string {
	switch k {
	case EntrySaveDevice:
		return "save_device"
	case EntryDeleteDevice:
		return "delete_device"
	case EntryAppendFragment:
		return "append_fragment"
	case EntryAppendIP:
		return "append_ip"
	default:
		return "unknown"
	}
}

// Entry is one mutation waiting to be written to the Repository.
type Entry struct {
	Kind     EntryKind
	DeviceID string
	Device   *Device // EntrySaveDevice
	Fragment string  // EntryAppendFragment
	IP       IPObservation
	At       time.Time
}

// JournalConfig tunes the write-behind queue.
type JournalConfig struct {
	// BufferSize is the number of entries queued before Enqueue waits.
	BufferSize int

	// EnqueueTimeout is how long Enqueue waits for space before dropping.
	EnqueueTimeout time.Duration

	// WriteTimeout bounds each repository write.
	WriteTimeout time.Duration
}

// Default journal settings.
const (
	DefaultJournalBuffer         = 1024
	DefaultJournalEnqueueTimeout = 100 * time.Millisecond
	DefaultJournalWriteTimeout   = 5 * time.Second
)

// Journal writes registry mutations to a Repository in the background.
//
// A single writer goroutine drains a buffered channel, so entries reach the
// repository in the order they were enqueued. Write failures are logged and
// counted; they never affect in-memory state.
//
//	j := device.NewJournal(repo, device.JournalConfig{})
//	j.Start(ctx)
//	defer j.Close()
type Journal struct {
	repo   Repository
	cfg    JournalConfig
	logger Logger

	entries chan Entry
	done    chan struct{}

	mu      sync.RWMutex // guards closed against concurrent Enqueue
	closed  bool
	started atomic.Bool

	written atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// NewJournal creates a journal over repo. Zero config values use defaults.
func NewJournal(repo Repository, cfg JournalConfig) *Journal {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultJournalBuffer
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = DefaultJournalEnqueueTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultJournalWriteTimeout
	}
	return &Journal{
		repo:    repo,
		cfg:     cfg,
		logger:  noopLogger{},
		entries: make(chan Entry, cfg.BufferSize),
		done:    make(chan struct{}),
	}
}

// SetLogger sets the logger for the journal.
func (j *Journal) SetLogger(logger Logger) {
	j.logger = logger
}

// Start launches the writer goroutine. Writes use a context detached from
// ctx's cancellation so Close can drain after shutdown begins.
func (j *Journal) Start(ctx context.Context) {
	if !j.started.CompareAndSwap(false, true) {
		return
	}
	go j.run(context.WithoutCancel(ctx))
}

// Enqueue queues an entry for writing. It waits at most the configured
// enqueue timeout for buffer space and reports whether the entry was queued.
// Dropped entries are logged and counted.
func (j *Journal) Enqueue(e Entry) bool {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.closed {
		j.drop(e, "journal closed")
		return false
	}

	select {
	case j.entries <- e:
		return true
	default:
	}

	timer := time.NewTimer(j.cfg.EnqueueTimeout)
	defer timer.Stop()

	select {
	case j.entries <- e:
		return true
	case <-timer.C:
		j.drop(e, "journal buffer full")
		return false
	}
}

// Close stops accepting entries and waits for queued entries to be written.
func (j *Journal) Close() {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return
	}
	j.closed = true
	close(j.entries)
	j.mu.Unlock()

	if j.started.Load() {
		<-j.done
	}
}

// JournalStats reports journal counters.
type JournalStats struct {
	Written uint64 `json:"written"`
	Dropped uint64 `json:"dropped"`
	Failed  uint64 `json:"failed"`
	Pending int    `json:"pending"`
}

// Stats returns the current journal counters.
func (j *Journal) Stats() JournalStats {
	return JournalStats{
		Written: j.written.Load(),
		Dropped: j.dropped.Load(),
		Failed:  j.failed.Load(),
		Pending: len(j.entries),
	}
}

func (j *Journal) run(ctx context.Context) {
	defer close(j.done)
	for e := range j.entries {
		j.write(ctx, e)
	}
}

func (j *Journal) write(ctx context.Context, e Entry) {
	ctx, cancel := context.WithTimeout(ctx, j.cfg.WriteTimeout)
	defer cancel()

	var err error
	switch e.Kind {
	case EntrySaveDevice:
		err = j.repo.SaveDevice(ctx, e.Device)
	case EntryDeleteDevice:
		err = j.repo.DeleteDevice(ctx, e.DeviceID)
	case EntryAppendFragment:
		err = j.repo.AppendFragment(ctx, e.DeviceID, e.Fragment, e.At)
	case EntryAppendIP:
		err = j.repo.AppendIP(ctx, e.DeviceID, e.IP)
	default:
		j.logger.Warn("unknown journal entry", "kind", e.Kind, "device_id", e.DeviceID)
		return
	}

	if err != nil {
		j.failed.Add(1)
		j.logger.Error("journal write failed",
			"kind", e.Kind.String(),
			"device_id", e.DeviceID,
			"error", err,
		)
		return
	}
	j.written.Add(1)
}

func (j *Journal) drop(e Entry, reason string) {
	j.dropped.Add(1)
	j.logger.Warn("journal entry dropped",
		"reason", reason,
		"kind", e.Kind.String(),
		"device_id", e.DeviceID,
	)
}
