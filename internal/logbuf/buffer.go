// Package logbuf keeps the most recent log records in memory so the HTTP
// facade can serve snapshots and live follows without touching disk.
package logbuf

import (
	"sync"
	"time"
)

// DefaultCapacity is the ring size used by the CLI.
const DefaultCapacity = 1000

// Entry is one captured log record.
type Entry struct {
	Timestamp int64          `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Attrs     map[string]any `json:"attrs,omitempty"`
}

// Buffer is a bounded ring of log entries with live subscribers. Slow
// subscribers lose records rather than block the logger.
type Buffer struct {
	mu      sync.Mutex
	entries []Entry
	start   int
	count   int

	subs    map[int]chan Entry
	nextSub int
}

// New creates a buffer holding up to capacity entries.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		entries: make([]Entry, capacity),
		subs:    make(map[int]chan Entry),
	}
}

// Add appends an entry, evicting the oldest when full, and fans it out.
func (b *Buffer) Add(e Entry) {
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().UnixMilli()
	}

	b.mu.Lock()
	idx := (b.start + b.count) % len(b.entries)
	if b.count == len(b.entries) {
		b.start = (b.start + 1) % len(b.entries)
		b.count--
	}
	b.entries[idx] = e
	b.count++
	subs := make([]chan Entry, 0, len(b.subs))
	for _, ch := range b.subs {
		subs = append(subs, ch)
	}
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- e:
		default: // subscriber lagging, drop
		}
	}
}

// Snapshot returns the newest entries, oldest first, capped at limit
// (0 means everything buffered).
func (b *Buffer) Snapshot(limit int) []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.count
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Entry, 0, n)
	for i := b.count - n; i < b.count; i++ {
		out = append(out, b.entries[(b.start+i)%len(b.entries)])
	}
	return out
}

// Subscribe returns a channel receiving entries added after this call.
// The returned func unsubscribes and closes the channel.
func (b *Buffer) Subscribe() (<-chan Entry, func()) {
	ch := make(chan Entry, 64)

	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = ch
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
		b.mu.Unlock()
	}
}
