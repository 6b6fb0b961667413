// Package monitor keeps a bounded in-memory history of recent field readings
// and renders it for the debug pages. Nothing here is persisted.
package monitor

import (
	"context"
	"sync"

	"github.com/banshee-data/helmholtz/internal/coil"
	"github.com/banshee-data/helmholtz/internal/monitoring"
)

// DefaultCapacity is the number of readings kept when NewRecorder is given
// a non-positive capacity.
const DefaultCapacity = 256

// Recorder is a ring buffer of the most recent readings.
type Recorder struct {
	mu    sync.RWMutex
	buf   []coil.Reading
	next  int
	count int
	logf  func(format string, v ...interface{})
}

// NewRecorder returns an empty Recorder holding up to capacity readings.
func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Recorder{
		buf:  make([]coil.Reading, capacity),
		logf: monitoring.Named("monitor"),
	}
}

// Add records a reading, evicting the oldest when full.
func (r *Recorder) Add(reading coil.Reading) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = reading
	r.next = (r.next + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// Len returns the number of readings held.
func (r *Recorder) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Capacity returns the maximum number of readings held.
func (r *Recorder) Capacity() int { return len(r.buf) }

// Recent returns up to n readings, oldest first. n <= 0 returns all of them.
func (r *Recorder) Recent(n int) []coil.Reading {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if n <= 0 || n > r.count {
		n = r.count
	}
	out := make([]coil.Reading, n)
	start := (r.next - n + len(r.buf)) % len(r.buf)
	for i := 0; i < n; i++ {
		out[i] = r.buf[(start+i)%len(r.buf)]
	}
	return out
}

// Run subscribes to hub and records every reading until ctx is done or the
// hub closes.
func (r *Recorder) Run(ctx context.Context, hub *coil.Hub) {
	id, events := hub.Subscribe()
	defer hub.Unsubscribe(id)
	r.logf("recording readings (capacity %d)", len(r.buf))

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if e.Kind == coil.EventReading && e.Reading != nil {
				r.Add(*e.Reading)
			}
		}
	}
}
