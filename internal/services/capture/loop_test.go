package capture

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"aiprocessor/internal/logger"
	"aiprocessor/internal/models"
)

type fakeSource struct {
	mu     sync.Mutex
	frames int // frames left before Read fails
	closed bool
	block  chan struct{}
}

func (s *fakeSource) Read() (image.Image, error) {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSourceClosed
	}
	if s.frames == 0 {
		return nil, ErrReadFailed
	}
	s.frames--
	return image.NewRGBA(image.Rect(0, 0, 4, 4)), nil
}

func (s *fakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSource) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// fakeOpener fails the first failures opens, then hands out sources.
type fakeOpener struct {
	mu       sync.Mutex
	failures int
	frames   int
	opens    int
	sources  []*fakeSource
}

func (o *fakeOpener) Open(ctx context.Context, uri string) (Source, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opens++
	if o.failures > 0 {
		o.failures--
		return nil, errors.New("connection refused")
	}
	src := &fakeSource{frames: o.frames}
	o.sources = append(o.sources, src)
	return src, nil
}

type transitionLog struct {
	mu    sync.Mutex
	steps []string
}

func (t *transitionLog) record(from, to State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.steps = append(t.steps, from.String()+">"+to.String())
}

func (t *transitionLog) snapshot() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.steps...)
}

func fastOptions(log *transitionLog) Options {
	return Options{
		BackoffInitial:    time.Millisecond,
		BackoffMax:        2 * time.Millisecond,
		BackoffMultiplier: 2,
		OnTransition:      log.record,
	}
}

func TestLoop_BackoffOncePerOpenFailure(t *testing.T) {
	for _, failures := range []int{0, 1, 2, 5} {
		log := &transitionLog{}
		opener := &fakeOpener{failures: failures, frames: 1}
		loop := NewLoop(models.Camera{ID: 1, SourceURI: "rtsp://cam"}, opener, fastOptions(log), logger.Nop())

		frame, err := loop.Next(context.Background())
		if err != nil {
			t.Fatalf("failures=%d: Next failed: %v", failures, err)
		}
		if frame.CameraID != 1 || frame.Image == nil {
			t.Errorf("failures=%d: unexpected frame %+v", failures, frame)
		}

		var expected []string
		for i := 0; i < failures; i++ {
			expected = append(expected, "CLOSED>BACKOFF", "BACKOFF>CLOSED")
		}
		expected = append(expected, "CLOSED>OPEN")

		steps := log.snapshot()
		if len(steps) != len(expected) {
			t.Fatalf("failures=%d: transitions %v, expected %v", failures, steps, expected)
		}
		for i := range expected {
			if steps[i] != expected[i] {
				t.Errorf("failures=%d: transition %d = %s, expected %s", failures, i, steps[i], expected[i])
			}
		}
		if opener.opens != failures+1 {
			t.Errorf("failures=%d: expected %d opens, got %d", failures, failures+1, opener.opens)
		}
		if loop.State() != StateOpen {
			t.Errorf("failures=%d: expected OPEN, got %s", failures, loop.State())
		}
		loop.Close()
	}
}

func TestLoop_ReadFailureReleasesAndReconnects(t *testing.T) {
	log := &transitionLog{}
	opener := &fakeOpener{frames: 1}
	loop := NewLoop(models.Camera{ID: 2}, opener, fastOptions(log), logger.Nop())
	defer loop.Close()

	if _, err := loop.Next(context.Background()); err != nil {
		t.Fatalf("first Next failed: %v", err)
	}
	if _, err := loop.Next(context.Background()); err != nil {
		t.Fatalf("second Next failed: %v", err)
	}

	if len(opener.sources) != 2 {
		t.Fatalf("Expected a reconnect, got %d sources", len(opener.sources))
	}
	if !opener.sources[0].isClosed() {
		t.Error("First source should be released after read failure")
	}

	steps := log.snapshot()
	expected := []string{"CLOSED>OPEN", "OPEN>BACKOFF", "BACKOFF>CLOSED", "CLOSED>OPEN"}
	if len(steps) != len(expected) {
		t.Fatalf("transitions %v, expected %v", steps, expected)
	}
	for i := range expected {
		if steps[i] != expected[i] {
			t.Errorf("transition %d = %s, expected %s", i, steps[i], expected[i])
		}
	}
}

func TestLoop_AttemptsResetAfterFrame(t *testing.T) {
	opener := &fakeOpener{failures: 3, frames: 5}
	loop := NewLoop(models.Camera{ID: 3}, opener, fastOptions(&transitionLog{}), logger.Nop())
	defer loop.Close()

	if _, err := loop.Next(context.Background()); err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	stats := loop.Stats()
	if stats.Attempts != 0 {
		t.Errorf("Expected attempts reset, got %d", stats.Attempts)
	}
	if stats.FramesRead != 1 {
		t.Errorf("Expected 1 frame read, got %d", stats.FramesRead)
	}
	if stats.LastFrameAt.IsZero() {
		t.Error("Expected LastFrameAt to be set")
	}
}

func TestLoop_ExponentialDelaysWithCap(t *testing.T) {
	clock := clockwork.NewFakeClock()
	opener := &fakeOpener{failures: 4, frames: 1}
	loop := NewLoop(models.Camera{ID: 4}, opener, Options{
		BackoffInitial:    5 * time.Second,
		BackoffMax:        12 * time.Second,
		BackoffMultiplier: 2,
		Clock:             clock,
	}, logger.Nop())
	defer loop.Close()

	done := make(chan error, 1)
	go func() {
		_, err := loop.Next(context.Background())
		done <- err
	}()

	for _, expected := range []time.Duration{5 * time.Second, 10 * time.Second, 12 * time.Second, 12 * time.Second} {
		clock.BlockUntil(1)
		if delay := loop.Stats().LastDelay; delay != expected {
			t.Errorf("Expected delay %v, got %v", expected, delay)
		}
		if loop.State() != StateBackoff {
			t.Errorf("Expected BACKOFF while waiting, got %s", loop.State())
		}
		clock.Advance(expected)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not return after backoffs")
	}
}

func TestLoop_CancelDuringBackoff(t *testing.T) {
	clock := clockwork.NewFakeClock()
	opener := &fakeOpener{failures: 100}
	loop := NewLoop(models.Camera{ID: 5}, opener, Options{
		BackoffInitial:    time.Minute,
		BackoffMax:        time.Minute,
		BackoffMultiplier: 1,
		Clock:             clock,
	}, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := loop.Next(ctx)
		done <- err
	}()

	clock.BlockUntil(1)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not observe cancellation")
	}
	if loop.State() != StateClosed {
		t.Errorf("Expected CLOSED after cancel, got %s", loop.State())
	}
	if opener.opens != 1 {
		t.Errorf("Expected a single open attempt, got %d", opener.opens)
	}
}

func TestLoop_CancelReleasesSource(t *testing.T) {
	opener := &fakeOpener{frames: 10}
	loop := NewLoop(models.Camera{ID: 6}, opener, fastOptions(&transitionLog{}), logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	if _, err := loop.Next(ctx); err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	cancel()

	if _, err := loop.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if !opener.sources[0].isClosed() {
		t.Error("Source should be released on cancellation")
	}
	if loop.State() != StateClosed {
		t.Errorf("Expected CLOSED, got %s", loop.State())
	}
}

func TestLoop_NextAfterClose(t *testing.T) {
	opener := &fakeOpener{frames: 10}
	loop := NewLoop(models.Camera{ID: 7}, opener, fastOptions(&transitionLog{}), logger.Nop())

	if _, err := loop.Next(context.Background()); err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if err := loop.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !opener.sources[0].isClosed() {
		t.Error("Close should release the source")
	}
	if _, err := loop.Next(context.Background()); !errors.Is(err, ErrSourceClosed) {
		t.Errorf("Expected ErrSourceClosed, got %v", err)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateClosed, "CLOSED"},
		{StateOpen, "OPEN"},
		{StateBackoff, "BACKOFF"},
		{State(9), "State(9)"},
	}
	for _, tt := range tests {
		if tt.state.String() != tt.expected {
			t.Errorf("State(%d).String() = %s, expected %s", int(tt.state), tt.state.String(), tt.expected)
		}
	}
}
