// Package dedup tracks which deal IDs have already triggered a
// notification so repeated observations of the same offer stay silent.
package dedup

import "time"

// pruneThreshold bounds memory growth: once the map exceeds this size,
// entries older than twice the window are dropped.
const pruneThreshold = 100

// Tracker is a process-lifetime map from deal ID to last-notified time.
// It is owned exclusively by the orchestrator and is not safe for
// concurrent use.
type Tracker struct {
	window time.Duration
	now    func() time.Time
	seen   map[string]time.Time
}

// New creates an empty tracker with the given suppression window.
func New(window time.Duration) *Tracker {
	return &Tracker{
		window: window,
		now:    time.Now,
		seen:   make(map[string]time.Time),
	}
}

// NewWithClock is New with an injectable clock for tests.
func NewWithClock(window time.Duration, now func() time.Time) *Tracker {
	t := New(window)
	t.now = now
	return t
}

// ShouldNotify reports whether id is eligible for a notification: either
// never notified, or last notified longer than the window ago.
func (t *Tracker) ShouldNotify(id string) bool {
	last, ok := t.seen[id]
	if !ok {
		return true
	}
	return t.now().Sub(last) >= t.window
}

// MarkNotified records a successful notification for id. Most recent
// write wins.
func (t *Tracker) MarkNotified(id string) {
	t.MarkNotifiedAt(id, t.now())
}

// MarkNotifiedAt records a notification that happened at a known time,
// used when replaying persisted state from a previous run.
func (t *Tracker) MarkNotifiedAt(id string, at time.Time) {
	t.seen[id] = at
	if len(t.seen) > pruneThreshold {
		t.prune()
	}
}

// Window returns the suppression window.
func (t *Tracker) Window() time.Duration {
	return t.window
}

// Len returns the number of tracked IDs, for heartbeat logging.
func (t *Tracker) Len() int {
	return len(t.seen)
}

func (t *Tracker) prune() {
	cutoff := t.now().Add(-2 * t.window)
	for id, at := range t.seen {
		if at.Before(cutoff) {
			delete(t.seen, id)
		}
	}
}
