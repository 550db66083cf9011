package session

import (
	"sync"
	"time"
)

// coalesceWindow merges follow-up refreshes due within this distance of
// an already pending one.
const coalesceWindow = 50 * time.Millisecond

// refreshSchedule lists the follow-up roster queries after each event kind.
// Track attachment is reported eventually, so one query is not enough.
var refreshSchedule = struct {
	joined  []time.Duration
	changed []time.Duration
	meeting []time.Duration
}{
	joined:  []time.Duration{100 * time.Millisecond, 500 * time.Millisecond},
	changed: []time.Duration{100 * time.Millisecond},
	meeting: []time.Duration{200 * time.Millisecond, 1000 * time.Millisecond},
}

// reconciler runs delayed callbacks for one call. After stop nothing
// scheduled through it runs.
type reconciler struct {
	mu      sync.Mutex
	pending map[*time.Timer]time.Time
	stopped bool
}

func newReconciler() *reconciler {
	return &reconciler{pending: make(map[*time.Timer]time.Time)}
}

// schedule runs fn after each delay, skipping delays that land next to a
// pending run.
func (r *reconciler) schedule(fn func(), delays ...time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}

	now := time.Now()
	for _, d := range delays {
		due := now.Add(d)
		if r.coalesced(due) {
			continue
		}
		var t *time.Timer
		t = time.AfterFunc(d, func() {
			r.mu.Lock()
			delete(r.pending, t)
			stopped := r.stopped
			r.mu.Unlock()
			if !stopped {
				fn()
			}
		})
		r.pending[t] = due
	}
}

// once runs fn after d unless stopped first.
func (r *reconciler) once(d time.Duration, fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		r.mu.Lock()
		delete(r.pending, t)
		stopped := r.stopped
		r.mu.Unlock()
		if !stopped {
			fn()
		}
	})
	// zero due time keeps it out of coalescing
	r.pending[t] = time.Time{}
}

func (r *reconciler) coalesced(due time.Time) bool {
	for _, other := range r.pending {
		if other.IsZero() {
			continue
		}
		diff := due.Sub(other)
		if diff < 0 {
			diff = -diff
		}
		if diff < coalesceWindow {
			return true
		}
	}
	return false
}

// stop cancels every pending callback. Safe to call more than once.
func (r *reconciler) stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	for t := range r.pending {
		t.Stop()
	}
	clear(r.pending)
}

// size reports pending callbacks.
func (r *reconciler) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
