package device

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// MockRepository is a test implementation of Repository.
type MockRepository struct {
	mu        sync.Mutex
	devices   map[string]*Device
	fragments map[string][]string
	ips       map[string][]IPObservation
	ops       []EntryKind
	// For testing error paths
	saveErr error
	loadErr error
}

func NewMockRepository() *MockRepository {
	return &MockRepository{
		devices:   make(map[string]*Device),
		fragments: make(map[string][]string),
		ips:       make(map[string][]IPObservation),
	}
}

func (m *MockRepository) SaveDevice(_ context.Context, d *Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.saveErr != nil {
		return m.saveErr
	}
	m.ops = append(m.ops, EntrySaveDevice)
	m.devices[d.ID] = d.DeepCopy()
	return nil
}

func (m *MockRepository) DeleteDevice(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ops = append(m.ops, EntryDeleteDevice)
	delete(m.devices, id)
	delete(m.fragments, id)
	delete(m.ips, id)
	return nil
}

func (m *MockRepository) AppendFragment(_ context.Context, id, fragment string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ops = append(m.ops, EntryAppendFragment)
	m.fragments[id] = append(m.fragments[id], fragment)
	return nil
}

func (m *MockRepository) AppendIP(_ context.Context, id string, obs IPObservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ops = append(m.ops, EntryAppendIP)
	m.ips[id] = append(m.ips[id], obs)
	return nil
}

func (m *MockRepository) LoadAll(_ context.Context) ([]Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.loadErr != nil {
		return nil, m.loadErr
	}
	snaps := make([]Snapshot, 0, len(m.devices))
	for id, d := range m.devices {
		snaps = append(snaps, Snapshot{
			Device:    *d.DeepCopy(),
			Fragments: append([]string(nil), m.fragments[id]...),
			IPs:       append([]IPObservation(nil), m.ips[id]...),
		})
	}
	return snaps, nil
}

func (m *MockRepository) Ops() []EntryKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]EntryKind(nil), m.ops...)
}

// eventRecorder collects events for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) HandleEvent(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) Types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func TestRegistry_Operations(t *testing.T) {
	reg := NewRegistry()

	if _, err := reg.Register("lt-1", "Finance laptop"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if has, _ := reg.HasLog("lt-1"); has {
		t.Error("HasLog() = true after register")
	}

	_, _ = reg.AppendLog("lt-1", "ab")
	full, err := reg.AppendLog("lt-1", "cd")
	if err != nil {
		t.Fatalf("AppendLog() error = %v", err)
	}
	if full != "abcd" {
		t.Errorf("AppendLog() = %q, want %q", full, "abcd")
	}
	if log, _ := reg.ReadLog("lt-1"); log != "abcd" {
		t.Errorf("ReadLog() = %q, want %q", log, "abcd")
	}
	if n, _ := reg.LogLength("lt-1"); n != 4 {
		t.Errorf("LogLength() = %d, want 4", n)
	}

	_, _ = reg.RecordIP("lt-1", "192.168.1.1")
	_, _ = reg.RecordIP("lt-1", "10.0.0.2")
	if ips, _ := reg.ListIPs("lt-1"); ips != "192.168.1.110.0.0.2" {
		t.Errorf("ListIPs() = %q", ips)
	}
	if ips, _ := reg.ListIPsDelimited("lt-1", " "); ips != "192.168.1.1 10.0.0.2" {
		t.Errorf("ListIPsDelimited() = %q", ips)
	}
	if obs, _ := reg.IPObservations("lt-1"); len(obs) != 2 {
		t.Errorf("IPObservations() len = %d, want 2", len(obs))
	}

	d, err := reg.GetDevice("lt-1")
	if err != nil {
		t.Fatalf("GetDevice() error = %v", err)
	}
	if d.Log != "abcd" || len(d.IPs) != 2 || d.Fragments != 2 {
		t.Errorf("GetDevice() = %+v", d)
	}
	if got := reg.ListDevices(); len(got) != 1 || got[0].ID != "lt-1" {
		t.Errorf("ListDevices() = %+v", got)
	}
	if st := reg.Stats(); st.TotalDevices != 1 || st.TotalLogBytes != 4 || st.TotalIPObservations != 2 {
		t.Errorf("Stats() = %+v", st)
	}

	if !reg.Remove("lt-1") {
		t.Error("Remove() = false")
	}
	if reg.Remove("lt-1") {
		t.Error("Remove() twice = true")
	}
	if reg.Len() != 0 {
		t.Errorf("Len() = %d, want 0", reg.Len())
	}
	if _, err := reg.ReadLog("lt-1"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("ReadLog() after remove error = %v, want ErrDeviceNotFound", err)
	}
}

func TestRegistry_DuplicateRegister(t *testing.T) {
	reg := NewRegistry()
	rec := &eventRecorder{}
	reg.SetEventSink(rec)

	_, _ = reg.Register("lt-1", "Original")
	_, _ = reg.AppendLog("lt-1", "x")

	if _, err := reg.Register("lt-1", "Again"); !errors.Is(err, ErrDeviceExists) {
		t.Fatalf("Register(duplicate) error = %v, want ErrDeviceExists", err)
	}

	d, _ := reg.GetDevice("lt-1")
	if d.Name != "Original" || d.Log != "x" {
		t.Errorf("duplicate register changed state: %+v", d)
	}
	if got := rec.Types(); len(got) != 2 {
		t.Errorf("events = %v, want registered + log_appended only", got)
	}
}

func TestRegistry_Events(t *testing.T) {
	reg := NewRegistry()
	rec := &eventRecorder{}
	reg.SetEventSink(rec)

	_, _ = reg.Register("lt-1", "x")
	_, _ = reg.AppendLog("lt-1", "ab")
	_, _ = reg.AppendLog("lt-1", "")
	_, _ = reg.RecordIP("lt-1", "10.0.0.1")
	_, _ = reg.AppendLog("missing", "x")
	reg.Remove("lt-1")
	reg.Remove("lt-1")

	want := []EventType{EventRegistered, EventLogAppended, EventIPRecorded, EventRemoved}
	got := rec.Types()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.events[0].Device == nil || rec.events[0].Device.ID != "lt-1" {
		t.Errorf("registered event device = %+v", rec.events[0].Device)
	}
	if rec.events[1].Fragment != "ab" || rec.events[1].LogLength != 2 {
		t.Errorf("log event = %+v", rec.events[1])
	}
	if rec.events[2].IP == nil || rec.events[2].IP.Seq != 1 {
		t.Errorf("ip event = %+v", rec.events[2])
	}
}

func TestMultiSink(t *testing.T) {
	a, b := &eventRecorder{}, &eventRecorder{}
	var calls int
	sink := MultiSink{a, nil, b, EventSinkFunc(func(Event) { calls++ })}

	sink.HandleEvent(Event{Type: EventRemoved, DeviceID: "x"})

	if len(a.Types()) != 1 || len(b.Types()) != 1 || calls != 1 {
		t.Errorf("MultiSink delivered a=%d b=%d f=%d", len(a.Types()), len(b.Types()), calls)
	}
}

func TestRegistry_ConcurrentDistinctDevices(t *testing.T) {
	reg := NewRegistry()
	const n = 16

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := reg.Register(id, "x"); err != nil {
				t.Errorf("Register(%s) error = %v", id, err)
				return
			}
			for j := 0; j < 50; j++ {
				if _, err := reg.AppendLog(id, id); err != nil {
					t.Errorf("AppendLog(%s) error = %v", id, err)
				}
				if _, err := reg.RecordIP(id, "10.0.0.1"); err != nil {
					t.Errorf("RecordIP(%s) error = %v", id, err)
				}
			}
		}(deviceID(i))
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		id := deviceID(i)
		length, _ := reg.LogLength(id)
		if length != 50*len(id) {
			t.Errorf("%s log length = %d, want %d", id, length, 50*len(id))
		}
		obs, _ := reg.IPObservations(id)
		if len(obs) != 50 {
			t.Errorf("%s observations = %d, want 50", id, len(obs))
		}
	}
}

func TestRegistry_ConcurrentRemoveAndAppend(t *testing.T) {
	reg := NewRegistry()
	_, _ = reg.Register("lt-1", "x")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_, err := reg.AppendLog("lt-1", "k")
			if err != nil && !errors.Is(err, ErrDeviceNotFound) {
				t.Errorf("AppendLog() unexpected error = %v", err)
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		reg.Remove("lt-1")
	}()
	wg.Wait()

	if _, err := reg.ReadLog("lt-1"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("ReadLog() after remove error = %v", err)
	}
}

func TestRegistry_RestoreWithoutJournal(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Restore(context.Background()); err != nil {
		t.Errorf("Restore() without journal error = %v", err)
	}
}

func TestRegistry_JournalRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewMockRepository()

	reg := NewRegistry()
	j := NewJournal(repo, JournalConfig{})
	reg.SetJournal(j)
	j.Start(ctx)

	_, _ = reg.RegisterDevice(&Device{
		ID: "ph-1", Name: "Courier", Kind: KindMobile,
		Details: Details{Mobile: &MobileDetails{Platform: "ios"}},
	})
	_, _ = reg.AppendLog("ph-1", "ab")
	_, _ = reg.AppendLog("ph-1", "cd")
	_, _ = reg.RecordIP("ph-1", "192.168.1.1")
	_, _ = reg.RecordIP("ph-1", "10.0.0.2")
	_, _ = reg.Register("gone", "x")
	reg.Remove("gone")
	j.Close()

	if st := j.Stats(); st.Written != 7 || st.Dropped != 0 || st.Failed != 0 {
		t.Errorf("journal stats = %+v", st)
	}

	restored := NewRegistry()
	restored.SetJournal(NewJournal(repo, JournalConfig{}))
	if err := restored.Restore(ctx); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}

	if restored.Len() != 1 {
		t.Fatalf("restored Len() = %d, want 1", restored.Len())
	}
	want, _ := reg.GetDevice("ph-1")
	got, err := restored.GetDevice("ph-1")
	if err != nil {
		t.Fatalf("GetDevice() error = %v", err)
	}
	if got.Log != want.Log || got.Kind != KindMobile || got.Details.Mobile.Platform != "ios" {
		t.Errorf("restored device = %+v", got)
	}
	if ips, _ := restored.ListIPs("ph-1"); ips != "192.168.1.110.0.0.2" {
		t.Errorf("restored ListIPs() = %q", ips)
	}

	// Appends continue the restored sequence.
	obs, _ := restored.RecordIP("ph-1", "172.16.0.1")
	if obs.Seq != 3 {
		t.Errorf("Seq after restore = %d, want 3", obs.Seq)
	}
}

func TestRegistry_RestoreLoadError(t *testing.T) {
	repo := NewMockRepository()
	repo.loadErr = errors.New("disk on fire")

	reg := NewRegistry()
	reg.SetJournal(NewJournal(repo, JournalConfig{}))
	if err := reg.Restore(context.Background()); err == nil {
		t.Error("Restore() error = nil, want error")
	}
}

func TestRegistry_RestoreSkipsInvalid(t *testing.T) {
	repo := NewMockRepository()
	repo.devices["ok"] = &Device{ID: "ok", Name: "ok", Kind: KindLaptop}
	repo.devices["bad"] = &Device{ID: "bad", Name: "", Kind: KindLaptop}

	reg := NewRegistry()
	reg.SetJournal(NewJournal(repo, JournalConfig{}))
	if err := reg.Restore(context.Background()); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if reg.Len() != 1 {
		t.Errorf("Len() = %d, want 1", reg.Len())
	}
}
