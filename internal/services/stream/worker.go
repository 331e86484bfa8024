// Package stream runs one camera: capture, detection and dispatch in a
// single cancellable goroutine.
package stream

import (
	"context"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"aiprocessor/internal/logger"
	"aiprocessor/internal/models"
	"aiprocessor/internal/services/capture"
)

// Capture yields frames until its context ends.
type Capture interface {
	Next(ctx context.Context) (models.Frame, error)
	Close() error
	Stats() capture.Stats
}

// Detector finds at most one plate per frame.
type Detector interface {
	Detect(ctx context.Context, frame models.Frame) (models.DetectionResult, bool)
}

// Dispatcher delivers a detection.
type Dispatcher interface {
	Dispatch(ctx context.Context, result models.DetectionResult) models.SightingStatus
}

// Snapshotter stores a plate crop and returns a reference to it.
type Snapshotter interface {
	AddSnapshot(cameraID int, plate string, at time.Time, img image.Image) (string, error)
}

// Options tunes a Worker.
type Options struct {
	// FrameInterval is the minimum capture-time spacing between frames sent
	// to the detector. Closer frames are skipped.
	FrameInterval time.Duration
	Snapshots     Snapshotter
	Clock         clockwork.Clock
}

// Worker processes one camera until its context is cancelled.
type Worker struct {
	camera     models.Camera
	capture    Capture
	detector   Detector
	dispatcher Dispatcher
	snapshots  Snapshotter
	interval   time.Duration
	clock      clockwork.Clock
	logger     *logger.Logger

	startedAt  atomic.Int64
	detections atomic.Uint64
	cancelled  atomic.Bool
	done       chan struct{}
	doneOnce   sync.Once
}

// NewWorker creates a worker. The capture is owned by the worker and closed
// when Run returns.
func NewWorker(camera models.Camera, capture Capture, detector Detector, dispatcher Dispatcher, opts Options, logger *logger.Logger) *Worker {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Worker{
		camera:     camera,
		capture:    capture,
		detector:   detector,
		dispatcher: dispatcher,
		snapshots:  opts.Snapshots,
		interval:   opts.FrameInterval,
		clock:      clock,
		logger:     logger,
		done:       make(chan struct{}),
	}
}

// Run loops until ctx is cancelled, which is reported as a nil error.
// Detection and dispatch problems never end the loop; only a capture that
// gives up (capture.ErrSourceClosed) does.
func (w *Worker) Run(ctx context.Context) error {
	defer w.doneOnce.Do(func() { close(w.done) })
	defer w.capture.Close()

	stop := context.AfterFunc(ctx, func() { w.cancelled.Store(true) })
	defer stop()

	w.startedAt.Store(w.clock.Now().UnixNano())
	w.logger.Info("Camera %d (%s): worker started", w.camera.ID, w.camera.Name)
	defer w.logger.Info("Camera %d: worker stopped", w.camera.ID)

	var lastProcessed time.Time
	for {
		frame, err := w.capture.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// The capture loop retries on its own; anything it returns is final.
			w.logger.Error("Camera %d: capture stopped: %v", w.camera.ID, err)
			return err
		}

		if w.interval > 0 && !lastProcessed.IsZero() && frame.CapturedAt.Sub(lastProcessed) < w.interval {
			continue
		}
		lastProcessed = frame.CapturedAt

		result, ok := w.detect(ctx, frame)
		if !ok {
			continue
		}
		if ctx.Err() != nil {
			return nil
		}

		w.detections.Add(1)
		result.CameraID = w.camera.ID
		w.attachSnapshot(&result)
		w.dispatcher.Dispatch(ctx, result)
	}
}

// detect shields the loop from detector panics.
func (w *Worker) detect(ctx context.Context, frame models.Frame) (result models.DetectionResult, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Camera %d: detector panic: %v", w.camera.ID, r)
			result, ok = models.DetectionResult{}, false
		}
	}()
	return w.detector.Detect(ctx, frame)
}

func (w *Worker) attachSnapshot(result *models.DetectionResult) {
	if w.snapshots == nil || result.Crop == nil {
		return
	}
	ref, err := w.snapshots.AddSnapshot(result.CameraID, result.PlateText, result.DetectedAt, result.Crop)
	if err != nil {
		w.logger.Debug("Camera %d: snapshot skipped: %v", w.camera.ID, err)
		return
	}
	result.ImageRef = ref
}

// Done is closed once Run has returned.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// State returns a snapshot for diagnostics.
func (w *Worker) State() models.WorkerState {
	stats := w.capture.Stats()
	state := models.WorkerState{
		CameraID:                     w.camera.ID,
		CameraName:                   w.camera.Name,
		State:                        stats.State.String(),
		ConsecutiveReconnectAttempts: stats.Attempts,
		LastFrameAt:                  stats.LastFrameAt,
		FramesRead:                   stats.FramesRead,
		Detections:                   w.detections.Load(),
		Cancelled:                    w.cancelled.Load(),
	}
	if started := w.startedAt.Load(); started != 0 {
		state.StartedAt = time.Unix(0, started).UTC()
	}
	return state
}
