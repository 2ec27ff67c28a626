package device

import (
	"strings"
	"sync"
	"time"
)

// record is the mutable per-device state held by the Store.
//
// Every field after mu is protected by mu. The id never changes after
// construction and may be read without the lock.
type record struct {
	id string

	mu        sync.Mutex
	name      string
	kind      Kind
	details   Details
	ips       []IPObservation
	log       logBuffer
	createdAt time.Time
	updatedAt time.Time

	// dead is set when the record is removed from the store. Callers that
	// looked the record up before removal observe it and report not found.
	dead bool
}

func newRecord(d *Device, now time.Time) *record {
	return &record{
		id:        d.ID,
		name:      d.Name,
		kind:      d.Kind,
		details:   d.Details.clone(),
		createdAt: now,
		updatedAt: now,
	}
}

// snapshot builds a Device view. Caller must hold r.mu.
func (r *record) snapshot() *Device {
	d := &Device{
		ID:        r.id,
		Name:      r.name,
		Kind:      r.kind,
		Details:   r.details.clone(),
		Log:       r.log.String(),
		LogLength: r.log.Len(),
		Fragments: r.log.Count(),
		CreatedAt: r.createdAt,
		UpdatedAt: r.updatedAt,
	}
	if len(r.ips) > 0 {
		d.IPs = make([]IPObservation, len(r.ips))
		copy(d.IPs, r.ips)
	}
	return d
}

// appendLog appends a fragment and returns the full log. Caller must hold r.mu.
func (r *record) appendLog(fragment string, now time.Time) string {
	if fragment != "" {
		r.log.append(fragment)
		r.updatedAt = now
	}
	return r.log.String()
}

// recordIP appends an observation numbered one past the last one and returns
// it. Caller must hold r.mu.
func (r *record) recordIP(ip string, now time.Time) IPObservation {
	seq := 1
	if n := len(r.ips); n > 0 {
		seq = r.ips[n-1].Seq + 1
	}
	obs := IPObservation{
		IP:         ip,
		Seq:        seq,
		ObservedAt: now,
	}
	r.ips = append(r.ips, obs)
	r.updatedAt = now
	return obs
}

// joinIPs concatenates recorded IPs in order using sep. Caller must hold r.mu.
func (r *record) joinIPs(sep string) string {
	if len(r.ips) == 0 {
		return ""
	}

	size := len(sep) * (len(r.ips) - 1)
	for _, o := range r.ips {
		size += len(o.IP)
	}

	var sb strings.Builder
	sb.Grow(size)
	for i, o := range r.ips {
		if i > 0 {
			sb.WriteString(sep)
		}
		sb.WriteString(o.IP)
	}
	return sb.String()
}
