// Package tracker maintains last-known positions of labeled objects and
// synthesizes predicted detections between remote calls.
package tracker

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"spotter/internal/vision"
)

const (
	// DefaultMaxAge is the staleness window past which entries are no
	// longer surfaced.
	DefaultMaxAge = 5000 * time.Millisecond

	// FreshAge is the age up to which a tracked entry is trusted enough
	// to skip a remote call. Older entries are surfaced as estimated.
	FreshAge = 2000 * time.Millisecond

	// SkipWindow bounds which entries participate in the skip decision
	// and the cache-hit count.
	SkipWindow = 3000 * time.Millisecond

	// minDecayFactor floors the linear confidence decay at 30%.
	minDecayFactor = 0.3
)

// entry is the per-label tracking record.
type entry struct {
	label      string
	x, y       float64
	confidence float64
	lastSeen   time.Time
	trackingID string
}

// Tracker keeps one entry per label. It is mutated only by the session
// orchestrator from within a tick.
type Tracker struct {
	mu      sync.Mutex
	clock   clock.Clock
	entries map[string]*entry
	seq     uint64
}

// New creates a tracker using the wall clock.
func New() *Tracker {
	return NewWithClock(clock.New())
}

// NewWithClock creates a tracker with an injected clock for tests.
func NewWithClock(c clock.Clock) *Tracker {
	return &Tracker{
		clock:   c,
		entries: make(map[string]*entry),
	}
}

// Update upserts the entry for label. A new entry mints a tracking
// identifier from the label and creation time; the identifier survives
// subsequent updates and is unique even if the label reappears after
// eviction. Returns the entry's tracking identifier.
func (t *Tracker) Update(label string, x, y, confidence float64) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	e, ok := t.entries[label]
	if !ok {
		t.seq++
		e = &entry{
			label:      label,
			trackingID: fmt.Sprintf("%s-%d-%d", label, now.UnixMilli(), t.seq),
		}
		t.entries[label] = e
	}

	e.x = x
	e.y = y
	e.confidence = confidence
	e.lastSeen = now
	return e.trackingID
}

// Active returns every entry younger than maxAge, with confidence decayed
// linearly by age (floored at 30% of the base value) and Estimated set for
// entries older than FreshAge. A non-positive maxAge selects DefaultMaxAge.
// Entries past maxAge are evicted.
func (t *Tracker) Active(maxAge time.Duration) []vision.DetectedObject {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	objects := make([]vision.DetectedObject, 0, len(t.entries))
	for label, e := range t.entries {
		age := now.Sub(e.lastSeen)
		if age >= maxAge {
			delete(t.entries, label)
			continue
		}

		decay := 1 - age.Seconds()/maxAge.Seconds()
		if decay < minDecayFactor {
			decay = minDecayFactor
		}

		objects = append(objects, vision.DetectedObject{
			Label:      e.label,
			X:          e.x,
			Y:          e.y,
			Confidence: e.confidence * decay,
			Timestamp:  e.lastSeen,
			Estimated:  age > FreshAge,
			TrackingID: e.trackingID,
		})
	}
	return objects
}

// ShouldSkipDetection reports whether tracked state is fresh enough to skip
// a remote call: at least one entry within SkipWindow, and none of the
// entries within that window older than FreshAge. Merely present-but-stale
// data never justifies a skip.
func (t *Tracker) ShouldSkipDetection() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	found := false
	for _, e := range t.entries {
		age := now.Sub(e.lastSeen)
		if age > SkipWindow {
			continue
		}
		if age > FreshAge {
			return false
		}
		found = true
	}
	return found
}

// CacheHits returns the number of entries active within SkipWindow. Used
// for observability only.
func (t *Tracker) CacheHits() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	count := 0
	for _, e := range t.entries {
		if now.Sub(e.lastSeen) <= SkipWindow {
			count++
		}
	}
	return count
}

// Len returns the number of tracked entries, including stale ones not yet
// evicted by Active.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Reset drops all tracked entries.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make(map[string]*entry)
}
