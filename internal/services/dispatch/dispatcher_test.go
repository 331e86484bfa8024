package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"aiprocessor/internal/logger"
	"aiprocessor/internal/models"
)

type recordingSubmitter struct {
	mu      sync.Mutex
	calls   []models.DetectionResult
	err     error
	block   bool
	timeout time.Duration
}

func (s *recordingSubmitter) SubmitSighting(ctx context.Context, result models.DetectionResult) error {
	s.mu.Lock()
	s.calls = append(s.calls, result)
	s.mu.Unlock()

	if s.block {
		deadline, _ := ctx.Deadline()
		s.mu.Lock()
		s.timeout = time.Until(deadline)
		s.mu.Unlock()
		<-ctx.Done()
		return ctx.Err()
	}
	return s.err
}

func (s *recordingSubmitter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func sighting(camera int, plate string) models.DetectionResult {
	return models.DetectionResult{CameraID: camera, PlateText: plate, Confidence: 0.9, DetectedAt: time.Now()}
}

func TestDispatcher_Delivers(t *testing.T) {
	submitter := &recordingSubmitter{}
	d := NewDispatcher(submitter, Options{Timeout: time.Second}, logger.Nop())

	var outcomes []Outcome
	d.AddObserver(ObserverFunc(func(o Outcome) { outcomes = append(outcomes, o) }))

	if status := d.Dispatch(context.Background(), sighting(1, "XYZ9876")); status != models.SightingDelivered {
		t.Errorf("Expected delivered, got %s", status)
	}
	if submitter.count() != 1 {
		t.Errorf("Expected one submission, got %d", submitter.count())
	}
	if len(outcomes) != 1 || outcomes[0].Status != models.SightingDelivered || outcomes[0].Err != nil {
		t.Errorf("Unexpected outcomes %+v", outcomes)
	}
	if stats := d.Stats(); stats.Delivered != 1 || stats.Dropped != 0 {
		t.Errorf("Unexpected stats %+v", stats)
	}
}

func TestDispatcher_FailureIsDroppedWithoutRetry(t *testing.T) {
	submitter := &recordingSubmitter{err: errors.New("503 service unavailable")}
	d := NewDispatcher(submitter, Options{Timeout: time.Second}, logger.Nop())

	var outcome Outcome
	d.AddObserver(ObserverFunc(func(o Outcome) { outcome = o }))

	if status := d.Dispatch(context.Background(), sighting(1, "ABC1234")); status != models.SightingDropped {
		t.Errorf("Expected dropped, got %s", status)
	}
	if submitter.count() != 1 {
		t.Errorf("Expected exactly one attempt, got %d", submitter.count())
	}
	if outcome.Err == nil || outcome.Status != models.SightingDropped {
		t.Errorf("Expected dropped outcome with error, got %+v", outcome)
	}
	if d.Stats().Dropped != 1 {
		t.Errorf("Expected dropped count 1, got %d", d.Stats().Dropped)
	}
}

func TestDispatcher_TimeoutBoundsAttempt(t *testing.T) {
	submitter := &recordingSubmitter{block: true}
	d := NewDispatcher(submitter, Options{Timeout: 30 * time.Millisecond}, logger.Nop())

	start := time.Now()
	status := d.Dispatch(context.Background(), sighting(1, "ABC1234"))
	elapsed := time.Since(start)

	if status != models.SightingDropped {
		t.Errorf("Expected dropped, got %s", status)
	}
	if elapsed > time.Second {
		t.Errorf("Dispatch blocked for %v", elapsed)
	}
	if submitter.timeout > 30*time.Millisecond {
		t.Errorf("Deadline %v exceeds timeout", submitter.timeout)
	}
}

func TestDispatcher_CancelledContextSkipsBackend(t *testing.T) {
	submitter := &recordingSubmitter{}
	d := NewDispatcher(submitter, Options{}, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if status := d.Dispatch(ctx, sighting(1, "ABC1234")); status != models.SightingDropped {
		t.Errorf("Expected dropped, got %s", status)
	}
	if submitter.count() != 0 {
		t.Errorf("Expected no submissions, got %d", submitter.count())
	}
}

func TestDispatcher_Dedup(t *testing.T) {
	clock := clockwork.NewFakeClock()
	submitter := &recordingSubmitter{}
	d := NewDispatcher(submitter, Options{Timeout: time.Second, DedupWindow: 5 * time.Second, Clock: clock}, logger.Nop())
	ctx := context.Background()

	steps := []struct {
		advance  time.Duration
		camera   int
		plate    string
		expected models.SightingStatus
	}{
		{0, 1, "ABC1234", models.SightingDelivered},
		{time.Second, 1, "ABC1234", models.SightingSuppressed},
		{0, 2, "ABC1234", models.SightingDelivered},
		{0, 1, "XYZ9876", models.SightingDelivered},
		{3 * time.Second, 1, "ABC1234", models.SightingSuppressed},
		{time.Second, 1, "ABC1234", models.SightingDelivered},
		{4 * time.Second, 1, "ABC1234", models.SightingSuppressed},
	}

	for i, step := range steps {
		clock.Advance(step.advance)
		if status := d.Dispatch(ctx, sighting(step.camera, step.plate)); status != step.expected {
			t.Errorf("step %d: expected %s, got %s", i, step.expected, status)
		}
	}

	if submitter.count() != 4 {
		t.Errorf("Expected 4 submissions, got %d", submitter.count())
	}
	if d.Stats().Suppressed != 3 {
		t.Errorf("Expected 3 suppressed, got %d", d.Stats().Suppressed)
	}
}

func TestDispatcher_DedupReopensAfterFailedSend(t *testing.T) {
	clock := clockwork.NewFakeClock()
	submitter := &recordingSubmitter{err: errors.New("503 Service Unavailable")}
	d := NewDispatcher(submitter, Options{Timeout: time.Second, DedupWindow: 5 * time.Second, Clock: clock}, logger.Nop())
	ctx := context.Background()

	if status := d.Dispatch(ctx, sighting(1, "ABC1234")); status != models.SightingDropped {
		t.Fatalf("Expected dropped while backend is down, got %s", status)
	}

	submitter.err = nil
	clock.Advance(time.Second)
	if status := d.Dispatch(ctx, sighting(1, "ABC1234")); status != models.SightingDelivered {
		t.Errorf("Expected delivery once backend is back, got %s", status)
	}

	clock.Advance(time.Second)
	if status := d.Dispatch(ctx, sighting(1, "ABC1234")); status != models.SightingSuppressed {
		t.Errorf("Expected repeat after delivery to be suppressed, got %s", status)
	}
	if submitter.count() != 2 {
		t.Errorf("Expected 2 submissions, got %d", submitter.count())
	}
}

func TestDispatcher_DedupDisabled(t *testing.T) {
	submitter := &recordingSubmitter{}
	d := NewDispatcher(submitter, Options{DedupWindow: 0}, logger.Nop())

	for i := 0; i < 3; i++ {
		d.Dispatch(context.Background(), sighting(1, "ABC1234"))
	}
	if submitter.count() != 3 {
		t.Errorf("Expected every detection sent, got %d", submitter.count())
	}
}

func TestDispatcher_ObserverPanicIsContained(t *testing.T) {
	d := NewDispatcher(&recordingSubmitter{}, Options{}, logger.Nop())
	called := false
	d.AddObserver(ObserverFunc(func(Outcome) { panic("observer bug") }))
	d.AddObserver(ObserverFunc(func(Outcome) { called = true }))

	if status := d.Dispatch(context.Background(), sighting(1, "ABC1234")); status != models.SightingDelivered {
		t.Errorf("Expected delivered, got %s", status)
	}
	if !called {
		t.Error("Second observer should still run")
	}
}

func TestDeduplicator_PrunesExpired(t *testing.T) {
	clock := clockwork.NewFakeClock()
	dedup := NewDeduplicator(time.Second, clock)

	dedup.Allow(1, "AAA1111")
	dedup.Allow(2, "BBB2222")
	clock.Advance(2 * time.Second)
	dedup.Allow(3, "CCC3333")

	if dedup.Len() != 1 {
		t.Errorf("Expected expired entries pruned, got %d", dedup.Len())
	}
}
