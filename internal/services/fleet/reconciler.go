// Package fleet keeps the running stream workers in line with the cameras the
// backend declares active.
package fleet

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"aiprocessor/internal/logger"
	"aiprocessor/internal/models"
)

// CameraSource lists the cameras that should be processed.
type CameraSource interface {
	ListActiveCameras(ctx context.Context) ([]models.Camera, error)
}

// Runner is one camera's worker.
type Runner interface {
	Run(ctx context.Context) error
	State() models.WorkerState
}

// WorkerFactory builds the worker for a camera.
type WorkerFactory func(camera models.Camera) (Runner, error)

// Options tunes a Reconciler.
type Options struct {
	PollInterval time.Duration
	StopGrace    time.Duration
	Clock        clockwork.Clock
}

// CycleResult summarizes one reconciliation cycle.
type CycleResult struct {
	Started []int
	Stopped []int
	Leaked  []int
	Exited  []int
}

type handle struct {
	camera models.Camera
	runner Runner
	cancel context.CancelFunc
	done   chan struct{}
}

func (h *handle) finished() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Reconciler owns the camera-id to worker map. Only the reconciliation
// cycle writes it and cycles never overlap.
type Reconciler struct {
	source       CameraSource
	factory      WorkerFactory
	pollInterval time.Duration
	grace        time.Duration
	clock        clockwork.Clock
	logger       *logger.Logger

	cycleMutex   sync.Mutex
	workersMutex sync.RWMutex
	workers      map[int]*handle

	leaked atomic.Int64
	nudge  chan struct{}
}

// NewReconciler creates a reconciler with no running workers.
func NewReconciler(source CameraSource, factory WorkerFactory, opts Options, logger *logger.Logger) *Reconciler {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = 30 * time.Second
	}
	return &Reconciler{
		source:       source,
		factory:      factory,
		pollInterval: poll,
		grace:        opts.StopGrace,
		clock:        clock,
		logger:       logger,
		workers:      make(map[int]*handle),
		nudge:        make(chan struct{}, 1),
	}
}

// Run reconciles immediately, then every poll interval or when nudged, until
// ctx is cancelled. All workers are stopped before it returns.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := r.clock.NewTicker(r.pollInterval)
	defer ticker.Stop()

	r.logger.Info("Fleet reconciler started, polling every %v", r.pollInterval)
	r.ReconcileOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			r.StopAll()
			r.logger.Info("Fleet reconciler stopped")
			return nil
		case <-ticker.Chan():
			r.ReconcileOnce(ctx)
		case <-r.nudge:
			r.logger.Debug("Reconciliation requested")
			r.ReconcileOnce(ctx)
		}
	}
}

// Nudge asks for an early cycle. Requests made while one is pending coalesce.
func (r *Reconciler) Nudge() {
	select {
	case r.nudge <- struct{}{}:
	default:
	}
}

// ReconcileOnce runs one cycle. When the camera list cannot be fetched the
// running workers are left untouched and the error is returned.
func (r *Reconciler) ReconcileOnce(ctx context.Context) (CycleResult, error) {
	r.cycleMutex.Lock()
	defer r.cycleMutex.Unlock()

	var result CycleResult
	result.Exited = r.reapExited()

	cameras, err := r.source.ListActiveCameras(ctx)
	if err != nil {
		r.logger.Warning("Failed to fetch cameras, keeping %d workers: %v", r.count(), err)
		return result, fmt.Errorf("list cameras: %w", err)
	}

	desired := make(map[int]models.Camera, len(cameras))
	for _, camera := range cameras {
		if !camera.Active {
			continue
		}
		if _, dup := desired[camera.ID]; dup {
			r.logger.Warning("Camera %d listed twice, keeping the first entry", camera.ID)
			continue
		}
		desired[camera.ID] = camera
	}

	r.workersMutex.RLock()
	var toStop []*handle
	for id, h := range r.workers {
		if _, ok := desired[id]; !ok {
			toStop = append(toStop, h)
		}
	}
	var toStart []models.Camera
	for id, camera := range desired {
		if _, ok := r.workers[id]; !ok {
			toStart = append(toStart, camera)
		}
	}
	r.workersMutex.RUnlock()

	slices.SortFunc(toStart, func(a, b models.Camera) int { return a.ID - b.ID })
	for _, camera := range toStart {
		if err := r.start(ctx, camera); err != nil {
			r.logger.Error("Camera %d: failed to start worker: %v", camera.ID, err)
			continue
		}
		result.Started = append(result.Started, camera.ID)
	}

	result.Stopped, result.Leaked = r.stop(toStop)

	if len(result.Started) > 0 || len(result.Stopped) > 0 {
		r.logger.Info("Reconciled: %d started, %d stopped, %d running", len(result.Started), len(result.Stopped), r.count())
	}
	return result, nil
}

// StopAll cancels every worker and waits up to the grace period.
func (r *Reconciler) StopAll() {
	r.cycleMutex.Lock()
	defer r.cycleMutex.Unlock()

	r.workersMutex.RLock()
	all := make([]*handle, 0, len(r.workers))
	for _, h := range r.workers {
		all = append(all, h)
	}
	r.workersMutex.RUnlock()

	stopped, leaked := r.stop(all)
	r.logger.Info("Stopped %d workers (%d leaked)", len(stopped), len(leaked))
}

func (r *Reconciler) start(ctx context.Context, camera models.Camera) error {
	runner, err := r.factory(camera)
	if err != nil {
		return err
	}

	workerCtx, cancel := context.WithCancel(ctx)
	h := &handle{camera: camera, runner: runner, cancel: cancel, done: make(chan struct{})}

	r.workersMutex.Lock()
	r.workers[camera.ID] = h
	r.workersMutex.Unlock()

	go r.run(workerCtx, h)
	return nil
}

func (r *Reconciler) run(ctx context.Context, h *handle) {
	defer close(h.done)
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Camera %d: worker panic: %v", h.camera.ID, rec)
		}
	}()

	if err := h.runner.Run(ctx); err != nil {
		r.logger.Error("Camera %d: worker exited: %v", h.camera.ID, err)
	}
}

// stop cancels all handles first, then waits for them against a single
// grace deadline. Every handle leaves the map.
func (r *Reconciler) stop(handles []*handle) (stopped, leaked []int) {
	if len(handles) == 0 {
		return nil, nil
	}

	for _, h := range handles {
		h.cancel()
	}

	expired := make(chan struct{})
	timer := r.clock.AfterFunc(r.grace, func() { close(expired) })
	defer timer.Stop()

	for _, h := range handles {
		select {
		case <-h.done:
			stopped = append(stopped, h.camera.ID)
		case <-expired:
			leaked = append(leaked, h.camera.ID)
			r.leaked.Add(1)
			r.logger.Error("Camera %d: worker did not stop within %v, abandoning it", h.camera.ID, r.grace)
		}

		r.workersMutex.Lock()
		if r.workers[h.camera.ID] == h {
			delete(r.workers, h.camera.ID)
		}
		r.workersMutex.Unlock()
	}

	slices.Sort(stopped)
	slices.Sort(leaked)
	return stopped, leaked
}

// reapExited forgets workers that ended on their own so the next diff
// restarts them.
func (r *Reconciler) reapExited() []int {
	r.workersMutex.Lock()
	defer r.workersMutex.Unlock()

	var exited []int
	for id, h := range r.workers {
		if h.finished() {
			h.cancel()
			delete(r.workers, id)
			exited = append(exited, id)
			r.logger.Warning("Camera %d: worker had exited, it will be restarted", id)
		}
	}
	slices.Sort(exited)
	return exited
}

func (r *Reconciler) count() int {
	r.workersMutex.RLock()
	defer r.workersMutex.RUnlock()
	return len(r.workers)
}

// Running returns the ids of the current workers in ascending order.
func (r *Reconciler) Running() []int {
	r.workersMutex.RLock()
	defer r.workersMutex.RUnlock()

	ids := make([]int, 0, len(r.workers))
	for id := range r.workers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Workers returns a state snapshot of every running worker.
func (r *Reconciler) Workers() []models.WorkerState {
	r.workersMutex.RLock()
	states := make([]models.WorkerState, 0, len(r.workers))
	for _, h := range r.workers {
		states = append(states, h.runner.State())
	}
	r.workersMutex.RUnlock()

	slices.SortFunc(states, func(a, b models.WorkerState) int { return a.CameraID - b.CameraID })
	return states
}

// Leaked counts workers abandoned after missing their grace period.
func (r *Reconciler) Leaked() int {
	return int(r.leaked.Load())
}
