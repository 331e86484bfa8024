// Package journal records dispatch outcomes in the local sighting journal
// and prunes rows past their retention. Rows are for operators only and are
// never re-sent.
package journal

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"aiprocessor/internal/logger"
	"aiprocessor/internal/models"
	"aiprocessor/internal/repository"
	"aiprocessor/internal/services/dispatch"
)

// Journal writes outcomes on its own goroutine so observers never wait on
// the database.
type Journal struct {
	repo      repository.SightingRepository
	retention time.Duration
	clock     clockwork.Clock
	logger    *logger.Logger

	queue   chan models.SightingRecord
	dropped atomic.Uint64
}

// New creates a journal with a queue of queueSize pending records. A
// retention <= 0 keeps rows forever.
func New(repo repository.SightingRepository, retention time.Duration, queueSize int, clock clockwork.Clock, logger *logger.Logger) *Journal {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Journal{
		repo:      repo,
		retention: retention,
		clock:     clock,
		logger:    logger,
		queue:     make(chan models.SightingRecord, queueSize),
	}
}

// Observe queues an outcome; when the queue is full the record is dropped.
func (j *Journal) Observe(outcome dispatch.Outcome) {
	rec := models.SightingRecord{
		CameraID:   outcome.Result.CameraID,
		PlateText:  outcome.Result.PlateText,
		Confidence: outcome.Result.Confidence,
		DetectedAt: outcome.Result.DetectedAt,
		ImageRef:   outcome.Result.ImageRef,
		Status:     outcome.Status,
		RecordedAt: outcome.At,
	}
	if outcome.Err != nil {
		rec.Error = outcome.Err.Error()
	}

	select {
	case j.queue <- rec:
	default:
		if j.dropped.Add(1) == 1 {
			j.logger.Warning("Sighting journal queue full, dropping records")
		}
	}
}

// Run stores queued records and prunes hourly until ctx ends, then drains
// what is left in the queue.
func (j *Journal) Run(ctx context.Context) error {
	j.Prune()

	ticker := j.clock.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.drain()
			return nil
		case rec := <-j.queue:
			j.store(rec)
		case <-ticker.Chan():
			j.Prune()
		}
	}
}

func (j *Journal) drain() {
	for {
		select {
		case rec := <-j.queue:
			j.store(rec)
		default:
			return
		}
	}
}

func (j *Journal) store(rec models.SightingRecord) {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = j.clock.Now()
	}
	if _, err := j.repo.Insert(&rec); err != nil {
		j.logger.Error("Failed to journal sighting: %v", err)
	}
}

// Prune deletes rows older than the retention period.
func (j *Journal) Prune() int64 {
	if j.retention <= 0 {
		return 0
	}
	deleted, err := j.repo.DeleteBefore(j.clock.Now().Add(-j.retention))
	if err != nil {
		j.logger.Error("Failed to prune sighting journal: %v", err)
		return 0
	}
	if deleted > 0 {
		j.logger.Info("Pruned %d journal rows older than %v", deleted, j.retention)
	}
	return deleted
}

// Dropped counts records lost to a full queue.
func (j *Journal) Dropped() uint64 {
	return j.dropped.Load()
}
