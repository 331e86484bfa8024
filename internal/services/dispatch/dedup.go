package dispatch

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type plateKey struct {
	cameraID int
	plate    string
}

// Deduplicator suppresses a (camera, plate) pair seen again within a window
// of its last send. A send that failed is forgotten, so the next sighting of
// the pair goes out.
type Deduplicator struct {
	window time.Duration
	clock  clockwork.Clock

	mutex    sync.Mutex
	lastSent map[plateKey]time.Time
}

// NewDeduplicator creates a deduplicator. A window <= 0 allows everything.
func NewDeduplicator(window time.Duration, clock clockwork.Clock) *Deduplicator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Deduplicator{
		window:   window,
		clock:    clock,
		lastSent: make(map[plateKey]time.Time),
	}
}

// Allow reports whether the pair may be sent now. An allowed pair is
// recorded as attempted at the current time.
func (d *Deduplicator) Allow(cameraID int, plate string) bool {
	if d.window <= 0 {
		return true
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()

	now := d.clock.Now()
	key := plateKey{cameraID: cameraID, plate: plate}
	if last, ok := d.lastSent[key]; ok && now.Sub(last) < d.window {
		return false
	}

	d.lastSent[key] = now
	d.prune(now)
	return true
}

// Forget drops the record of a pair, reopening it immediately.
func (d *Deduplicator) Forget(cameraID int, plate string) {
	if d.window <= 0 {
		return
	}
	d.mutex.Lock()
	defer d.mutex.Unlock()
	delete(d.lastSent, plateKey{cameraID: cameraID, plate: plate})
}

// prune forgets pairs whose window has passed.
func (d *Deduplicator) prune(now time.Time) {
	for key, last := range d.lastSent {
		if now.Sub(last) >= d.window {
			delete(d.lastSent, key)
		}
	}
}

// Len is the number of pairs currently inside their window.
func (d *Deduplicator) Len() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return len(d.lastSent)
}
