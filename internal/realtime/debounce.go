package realtime

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Debouncer keeps at most one pending timer per key. Triggering a key that
// already has a pending timer replaces it, so the callback runs once, one
// window after the last trigger.
type Debouncer struct {
	window  time.Duration
	mu      sync.Mutex
	timers  map[uuid.UUID]*time.Timer
	stopped bool
}

// NewDebouncer creates a debouncer with the given quiet window.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{window: window, timers: make(map[uuid.UUID]*time.Timer)}
}

// Trigger schedules fn for key, cancelling any pending call for the same key.
func (d *Debouncer) Trigger(key uuid.UUID, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if prev, ok := d.timers[key]; ok {
		prev.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(d.window, func() {
		d.mu.Lock()
		if d.timers[key] != t {
			// replaced or cancelled after the timer had already fired
			d.mu.Unlock()
			return
		}
		delete(d.timers, key)
		d.mu.Unlock()
		fn()
	})
	d.timers[key] = t
}

// Cancel drops the pending call for key, if any.
func (d *Debouncer) Cancel(key uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.timers[key]; ok {
		t.Stop()
		delete(d.timers, key)
	}
}

// Pending reports whether key has a scheduled call.
func (d *Debouncer) Pending(key uuid.UUID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.timers[key]
	return ok
}

// Stop cancels every pending call. Later triggers are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	for key, t := range d.timers {
		t.Stop()
		delete(d.timers, key)
	}
}
