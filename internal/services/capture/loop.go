// Package capture keeps a camera stream open, reconnecting with backoff
// whenever opening or reading fails.
package capture

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"

	"aiprocessor/internal/logger"
	"aiprocessor/internal/models"
)

// State of the capture state machine.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateBackoff
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateBackoff:
		return "BACKOFF"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Options configures the reconnect policy.
type Options struct {
	BackoffInitial    time.Duration
	BackoffMax        time.Duration
	BackoffMultiplier float64
	// Jitter is the backoff randomization factor, 0 for exact delays.
	Jitter float64
	Clock  clockwork.Clock
	// OnTransition is called after every state change, on the goroutine
	// calling Next.
	OnTransition func(from, to State)
}

// Stats is a point-in-time view of a loop.
type Stats struct {
	State State
	// Attempts counts failed opens and reads since the last good frame.
	Attempts    int
	LastDelay   time.Duration
	LastError   string
	FramesRead  uint64
	LastFrameAt time.Time
}

// Loop owns one camera source. Next must be called from a single goroutine;
// State, Stats and Close are safe to call from any.
type Loop struct {
	camera models.Camera
	opener Opener
	clock  clockwork.Clock
	policy *backoff.ExponentialBackOff
	notify func(from, to State)
	logger *logger.Logger

	mutex  sync.Mutex
	state  State
	source Source
	stats  Stats
	closed bool
}

// NewLoop creates a loop in the CLOSED state. Nothing is opened until Next.
func NewLoop(camera models.Camera, opener Opener, opts Options, logger *logger.Logger) *Loop {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = opts.BackoffInitial
	policy.MaxInterval = opts.BackoffMax
	policy.Multiplier = opts.BackoffMultiplier
	policy.RandomizationFactor = opts.Jitter
	policy.MaxElapsedTime = 0
	policy.Clock = clock
	if policy.InitialInterval <= 0 {
		policy.InitialInterval = 5 * time.Second
	}
	if policy.MaxInterval < policy.InitialInterval {
		policy.MaxInterval = policy.InitialInterval
	}
	if policy.Multiplier < 1 {
		policy.Multiplier = 1
	}
	policy.Reset()

	return &Loop{
		camera: camera,
		opener: opener,
		clock:  clock,
		policy: policy,
		notify: opts.OnTransition,
		logger: logger,
	}
}

// Next drives the state machine until a frame is read or ctx is done. On
// cancellation the source is released, the loop is left CLOSED and the
// context error is returned.
func (l *Loop) Next(ctx context.Context) (models.Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			l.release()
			l.transition(StateClosed)
			return models.Frame{}, err
		}

		l.mutex.Lock()
		closed, state, source := l.closed, l.state, l.source
		l.mutex.Unlock()
		if closed {
			return models.Frame{}, ErrSourceClosed
		}

		switch state {
		case StateClosed:
			src, err := l.opener.Open(ctx, l.camera.SourceURI)
			if err != nil {
				if ctx.Err() == nil {
					l.fail(fmt.Errorf("open: %w", err))
				}
				continue
			}
			if !l.adopt(src) {
				src.Close()
				return models.Frame{}, ErrSourceClosed
			}
			l.logger.Info("Camera %d: stream opened", l.camera.ID)
			l.transition(StateOpen)

		case StateOpen:
			img, err := source.Read()
			if err == nil && (img == nil || img.Bounds().Empty()) {
				err = ErrReadFailed
			}
			if err != nil {
				l.release()
				l.fail(fmt.Errorf("read: %w", err))
				continue
			}
			return l.deliver(img), nil

		case StateBackoff:
			if err := l.wait(ctx); err != nil {
				continue
			}
			l.transition(StateClosed)
		}
	}
}

// adopt records an opened source unless the loop was closed meanwhile.
func (l *Loop) adopt(src Source) bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if l.closed {
		return false
	}
	l.source = src
	return true
}

// deliver records a good frame and resets the reconnect policy.
func (l *Loop) deliver(img image.Image) models.Frame {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	now := l.clock.Now()
	l.stats.Attempts = 0
	l.stats.LastError = ""
	l.stats.FramesRead++
	l.stats.LastFrameAt = now
	l.policy.Reset()

	return models.Frame{CameraID: l.camera.ID, CapturedAt: now, Image: img}
}

// fail schedules the next backoff delay and enters BACKOFF.
func (l *Loop) fail(err error) {
	l.mutex.Lock()
	l.stats.Attempts++
	l.stats.LastError = err.Error()
	l.stats.LastDelay = l.policy.NextBackOff()
	attempts, delay := l.stats.Attempts, l.stats.LastDelay
	l.mutex.Unlock()

	l.logger.Warning("Camera %d: %v, retrying in %v (attempt %d)", l.camera.ID, err, delay, attempts)
	l.transition(StateBackoff)
}

// wait sleeps for the scheduled delay unless ctx ends first.
func (l *Loop) wait(ctx context.Context) error {
	l.mutex.Lock()
	delay := l.stats.LastDelay
	l.mutex.Unlock()

	timer := l.clock.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.Chan():
		return nil
	}
}

func (l *Loop) transition(to State) {
	l.mutex.Lock()
	from := l.state
	l.state = to
	l.stats.State = to
	l.mutex.Unlock()

	if from != to && l.notify != nil {
		l.notify(from, to)
	}
}

// release closes the current source, if any.
func (l *Loop) release() {
	l.mutex.Lock()
	src := l.source
	l.source = nil
	l.mutex.Unlock()

	if src == nil {
		return
	}
	if err := src.Close(); err != nil {
		l.logger.Debug("Camera %d: closing source: %v", l.camera.ID, err)
	}
}

// Close releases the source and makes further Next calls fail with
// ErrSourceClosed. It must not be called while a Read is in flight on a
// source that forbids concurrent Close.
func (l *Loop) Close() error {
	l.mutex.Lock()
	l.closed = true
	src := l.source
	l.source = nil
	l.mutex.Unlock()

	l.transition(StateClosed)
	if src != nil {
		return src.Close()
	}
	return nil
}

// State returns the current state.
func (l *Loop) State() State {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.state
}

// Stats returns a snapshot of the loop counters.
func (l *Loop) Stats() Stats {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.stats
}
