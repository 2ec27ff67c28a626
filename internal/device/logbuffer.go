package device

import "strings"

// logBuffer is an append-only sequence of log fragments.
//
// Fragments are kept as received and only joined when the full log is read,
// so appends cost one slice append regardless of how large the log has grown.
// The joined string is cached until the next append.
//
// logBuffer is not safe for concurrent use; the owning record serialises access.
type logBuffer struct {
	fragments []string
	length    int
	joined    string
	dirty     bool
}

// append adds a fragment to the end of the log. Empty fragments are ignored.
func (b *logBuffer) append(fragment string) {
	if fragment == "" {
		return
	}
	b.fragments = append(b.fragments, fragment)
	b.length += len(fragment)
	b.dirty = true
}

// String returns the concatenation of all fragments in append order.
func (b *logBuffer) String() string {
	if !b.dirty {
		return b.joined
	}

	var sb strings.Builder
	sb.Grow(b.length)
	for _, f := range b.fragments {
		sb.WriteString(f)
	}
	b.joined = sb.String()
	b.dirty = false
	return b.joined
}

// Len returns the total log length in bytes.
func (b *logBuffer) Len() int {
	return b.length
}

// Count returns the number of fragments appended.
func (b *logBuffer) Count() int {
	return len(b.fragments)
}
