package device

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Store holds per-device state behind a concurrency-safe map.
//
// The map lock guards membership only and is held for lookups, inserts and
// deletes, never while journaling. Mutable device state lives in a record
// with its own mutex, so operations on different devices never wait for each
// other.
//
// All public methods are thread-safe.
type Store struct {
	mu      sync.RWMutex
	records map[string]*record
	now     func() time.Time

	// journal, when set, receives an Entry for every mutation while the
	// mutated record's lock is held, so entries for one device arrive in the
	// order the mutations were applied.
	journal func(Entry)

	// removing holds, per id, a channel closed once the delete entry of an
	// in-flight Remove has been journaled.
	removing map[string]chan struct{}
}

// NewStore creates an empty device store.
func NewStore() *Store {
	return &Store{
		records:  make(map[string]*record),
		removing: make(map[string]chan struct{}),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Register creates a device with the default kind.
// Returns ErrDeviceExists if the id is already registered.
func (s *Store) Register(id, name string) (*Device, error) {
	return s.RegisterDevice(&Device{ID: id, Name: name})
}

// RegisterDevice creates a device from the identity and classification fields
// of d. Activity fields on d are ignored; new devices start with an empty log
// and IP history.
//
// Returns ErrDeviceExists if the id is already registered, leaving the
// existing device untouched.
func (s *Store) RegisterDevice(d *Device) (*Device, error) {
	if d == nil {
		return nil, fmt.Errorf("%w: device is nil", ErrInvalidDevice)
	}
	candidate := d.DeepCopy()
	if candidate.Kind == "" {
		candidate.Kind = DefaultKind
	}
	if err := ValidateDevice(candidate); err != nil {
		return nil, err
	}

	rec := newRecord(candidate, s.now())

	// Lock the record before publishing it so no mutation can be journaled
	// ahead of its registration.
	rec.mu.Lock()
	defer rec.mu.Unlock()

	s.mu.Lock()
	if _, exists := s.records[candidate.ID]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDeviceExists, candidate.ID)
	}
	s.records[candidate.ID] = rec
	pending := s.removing[candidate.ID]
	s.mu.Unlock()

	// A delete of the same id that is still being journaled goes first.
	if pending != nil {
		<-pending
	}

	view := rec.snapshot()
	s.emit(Entry{Kind: EntrySaveDevice, DeviceID: rec.id, Device: view.DeepCopy(), At: rec.createdAt})
	return view, nil
}

// Get returns a view of the device.
// Returns ErrDeviceNotFound if the device does not exist.
func (s *Store) Get(id string) (*Device, error) {
	var view *Device
	err := s.withRecord(id, func(r *record) error {
		view = r.snapshot()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// Remove deletes a device. It is idempotent: removing an absent id is not an
// error. The return value reports whether a device was removed.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	rec, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.records, id)
	done := make(chan struct{})
	s.removing[id] = done
	s.mu.Unlock()

	// Mutations that found the record before the delete are journaled ahead
	// of it; later ones see dead and fail with ErrDeviceNotFound.
	rec.mu.Lock()
	rec.dead = true
	s.emit(Entry{Kind: EntryDeleteDevice, DeviceID: id, At: s.now()})
	rec.mu.Unlock()

	close(done)
	s.mu.Lock()
	if s.removing[id] == done {
		delete(s.removing, id)
	}
	s.mu.Unlock()
	return true
}

// List returns views of all devices ordered by id.
func (s *Store) List() []Device {
	recs := s.recordsSnapshot()

	devices := make([]Device, 0, len(recs))
	for _, r := range recs {
		r.mu.Lock()
		if !r.dead {
			devices = append(devices, *r.snapshot())
		}
		r.mu.Unlock()
	}

	sort.Slice(devices, func(i, j int) bool {
		return devices[i].ID < devices[j].ID
	})
	return devices
}

// Len returns the number of registered devices.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Stats returns aggregate counters across all devices.
func (s *Store) Stats() Stats {
	stats := Stats{ByKind: make(map[Kind]int)}

	for _, r := range s.recordsSnapshot() {
		r.mu.Lock()
		if !r.dead {
			stats.TotalDevices++
			stats.TotalLogBytes += r.log.Len()
			stats.TotalFragments += r.log.Count()
			stats.TotalIPObservations += len(r.ips)
			stats.ByKind[r.kind]++
		}
		r.mu.Unlock()
	}
	return stats
}

// withRecord runs fn with the device's lock held.
// Returns ErrDeviceNotFound if the device is absent or was removed
// while the caller waited for its lock.
func (s *Store) withRecord(id string, fn func(r *record) error) error {
	s.mu.RLock()
	rec, ok := s.records[id]
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.dead {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return fn(rec)
}

func (s *Store) emit(e Entry) {
	if s.journal != nil {
		s.journal(e)
	}
}

// recordsSnapshot copies the record pointers so callers can visit them
// without holding the map lock.
func (s *Store) recordsSnapshot() []*record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := make([]*record, 0, len(s.records))
	for _, r := range s.records {
		recs = append(recs, r)
	}
	return recs
}

// load installs a device with existing activity, replacing any device with
// the same id. It is used when rebuilding state from the journal.
func (s *Store) load(snap Snapshot) error {
	d := snap.Device
	if d.Kind == "" {
		d.Kind = DefaultKind
	}
	if err := ValidateDevice(&d); err != nil {
		return err
	}

	rec := newRecord(&d, d.CreatedAt)
	for _, f := range snap.Fragments {
		rec.log.append(f)
	}
	if len(snap.IPs) > 0 {
		rec.ips = make([]IPObservation, len(snap.IPs))
		copy(rec.ips, snap.IPs)
	}
	if !d.UpdatedAt.IsZero() {
		rec.updatedAt = d.UpdatedAt
	}

	s.mu.Lock()
	if old, ok := s.records[d.ID]; ok {
		old.mu.Lock()
		old.dead = true
		old.mu.Unlock()
	}
	s.records[d.ID] = rec
	s.mu.Unlock()
	return nil
}
