// Package dispatch delivers detections to the backend: one bounded attempt
// per sighting, local deduplication and outcome fan-out to observers.
package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"aiprocessor/internal/logger"
	"aiprocessor/internal/models"
)

// Submitter sends one sighting to the backend.
type Submitter interface {
	SubmitSighting(ctx context.Context, result models.DetectionResult) error
}

// Outcome is what happened to one detection.
type Outcome struct {
	Result models.DetectionResult
	Status models.SightingStatus
	Err    error
	At     time.Time
}

// Observer is told about every outcome. Observe is called on the worker's
// goroutine and must not block.
type Observer interface {
	Observe(outcome Outcome)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(outcome Outcome)

// Observe calls f(outcome).
func (f ObserverFunc) Observe(outcome Outcome) {
	f(outcome)
}

// Options configures a Dispatcher.
type Options struct {
	Timeout     time.Duration
	DedupWindow time.Duration
	Clock       clockwork.Clock
}

// Stats counts outcomes since start.
type Stats struct {
	Delivered  uint64 `json:"delivered"`
	Dropped    uint64 `json:"dropped"`
	Suppressed uint64 `json:"suppressed"`
}

// Dispatcher is shared by all stream workers and is safe for concurrent use.
type Dispatcher struct {
	submitter Submitter
	timeout   time.Duration
	dedup     *Deduplicator
	clock     clockwork.Clock
	logger    *logger.Logger

	observersMutex sync.RWMutex
	observers      []Observer

	delivered  atomic.Uint64
	dropped    atomic.Uint64
	suppressed atomic.Uint64
}

// NewDispatcher creates a dispatcher. A zero timeout defaults to 5s.
func NewDispatcher(submitter Submitter, opts Options, logger *logger.Logger) *Dispatcher {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Dispatcher{
		submitter: submitter,
		timeout:   timeout,
		dedup:     NewDeduplicator(opts.DedupWindow, clock),
		clock:     clock,
		logger:    logger,
	}
}

// AddObserver registers an observer for every later outcome.
func (d *Dispatcher) AddObserver(observer Observer) {
	d.observersMutex.Lock()
	defer d.observersMutex.Unlock()
	d.observers = append(d.observers, observer)
}

// Dispatch makes at most one delivery attempt for result, bounded by the
// dispatcher timeout. Failures are logged and dropped. A cancelled ctx drops
// the result without contacting the backend.
func (d *Dispatcher) Dispatch(ctx context.Context, result models.DetectionResult) models.SightingStatus {
	if err := ctx.Err(); err != nil {
		d.dropped.Add(1)
		d.notify(Outcome{Result: result, Status: models.SightingDropped, Err: err, At: d.clock.Now()})
		return models.SightingDropped
	}

	if !d.dedup.Allow(result.CameraID, result.PlateText) {
		d.suppressed.Add(1)
		d.logger.Debug("Camera %d: suppressed repeated plate %s", result.CameraID, result.PlateText)
		d.notify(Outcome{Result: result, Status: models.SightingSuppressed, At: d.clock.Now()})
		return models.SightingSuppressed
	}

	submitCtx, cancel := context.WithTimeout(ctx, d.timeout)
	err := d.submitter.SubmitSighting(submitCtx, result)
	cancel()

	if err != nil {
		d.dedup.Forget(result.CameraID, result.PlateText)
		d.dropped.Add(1)
		d.logger.Warning("Camera %d: sighting %s dropped: %v", result.CameraID, result.PlateText, err)
		d.notify(Outcome{Result: result, Status: models.SightingDropped, Err: err, At: d.clock.Now()})
		return models.SightingDropped
	}

	d.delivered.Add(1)
	d.logger.Info("Camera %d: sighting %s delivered (%.2f)", result.CameraID, result.PlateText, result.Confidence)
	d.notify(Outcome{Result: result, Status: models.SightingDelivered, At: d.clock.Now()})
	return models.SightingDelivered
}

// Stats returns the outcome counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Delivered:  d.delivered.Load(),
		Dropped:    d.dropped.Load(),
		Suppressed: d.suppressed.Load(),
	}
}

func (d *Dispatcher) notify(outcome Outcome) {
	d.observersMutex.RLock()
	defer d.observersMutex.RUnlock()

	for _, observer := range d.observers {
		d.safeObserve(observer, outcome)
	}
}

// safeObserve keeps a misbehaving observer from taking the worker down.
func (d *Dispatcher) safeObserve(observer Observer, outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Sighting observer panic: %v", r)
		}
	}()
	observer.Observe(outcome)
}
