// Package logbuf keeps a bounded in-memory ring of request log records for
// the admin surface.
package logbuf

import (
	"sync"
	"time"
)

// Record is one completed request.
type Record struct {
	Timestamp  time.Time `json:"timestamp"`
	SessionID  string    `json:"sessionId"`
	Model      string    `json:"model"`
	StatusCode int       `json:"statusCode"`
	StatusText string    `json:"statusText"`
}

// Ring is a fixed-capacity record buffer. Old records are overwritten.
type Ring struct {
	mu    sync.RWMutex
	buf   []Record
	next  int
	count int
}

// NewRing creates a ring holding up to capacity records.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 512
	}
	return &Ring{buf: make([]Record, capacity)}
}

// Append stores one record, overwriting the oldest when full.
func (r *Ring) Append(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = rec
	r.next = (r.next + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// Page returns records newest-first, skipping offset and returning at most
// limit, plus the total retained count.
func (r *Ring) Page(offset, limit int) ([]Record, int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = 50
	}
	out := make([]Record, 0, limit)
	for i := offset; i < r.count && len(out) < limit; i++ {
		idx := (r.next - 1 - i + 2*len(r.buf)) % len(r.buf)
		out = append(out, r.buf[idx])
	}
	return out, r.count
}
