package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"aiprocessor/internal/config"
	"aiprocessor/internal/logger"
)

// ErrBufferFull is returned when the snapshot buffer is at its limit.
var ErrBufferFull = errors.New("snapshot buffer full")

type Snapshot struct {
	Filename string
	Data     []byte
}

// SnapshotStore buffers JPEG plate crops in memory and writes them to disk
// on every flush. Buffered snapshots are lost if the process dies.
type SnapshotStore struct {
	imagesDir     string
	bufferLimit   int
	flushInterval time.Duration
	clock         clockwork.Clock
	logger        *logger.Logger

	mu        sync.Mutex
	snapshots []Snapshot
}

func NewSnapshotStore(cfg *config.Config, clock clockwork.Clock, logger *logger.Logger) *SnapshotStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &SnapshotStore{
		imagesDir:     cfg.ImageDirectory,
		bufferLimit:   cfg.ImageBufferLimit,
		flushInterval: cfg.ImageBufferFlushInterval,
		clock:         clock,
		logger:        logger,
		snapshots:     make([]Snapshot, 0, cfg.ImageBufferLimit),
	}
}

// Run flushes on every interval and once more when ctx ends.
func (s *SnapshotStore) Run(ctx context.Context) error {
	interval := s.flushInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.FlushSnapshots()
			return nil
		case <-ticker.Chan():
			s.FlushSnapshots()
		}
	}
}

// AddSnapshot encodes img and queues it. The returned file name is where the
// snapshot will appear under the images directory after the next flush.
func (s *SnapshotStore) AddSnapshot(cameraID int, plate string, at time.Time, img image.Image) (string, error) {
	s.mu.Lock()
	full := len(s.snapshots) >= s.bufferLimit
	s.mu.Unlock()
	if full {
		return "", ErrBufferFull
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}

	filename := fmt.Sprintf("%s_cam%d_%s.jpg", at.UTC().Format("2006-01-02_15-04-05.000"), cameraID, plate)

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.snapshots) >= s.bufferLimit {
		return "", ErrBufferFull
	}
	s.snapshots = append(s.snapshots, Snapshot{Filename: filename, Data: buf.Bytes()})
	s.logger.Debug("Snapshot buffer size: %d/%d", len(s.snapshots), s.bufferLimit)
	return filename, nil
}

// FlushSnapshots writes every buffered snapshot and empties the buffer.
func (s *SnapshotStore) FlushSnapshots() int {
	s.mu.Lock()
	pending := s.snapshots
	s.snapshots = make([]Snapshot, 0, s.bufferLimit)
	s.mu.Unlock()

	if len(pending) == 0 {
		return 0
	}

	if err := os.MkdirAll(s.imagesDir, 0755); err != nil {
		s.logger.Error("Error creating directory: %v", err)
		return 0
	}

	written := 0
	for _, snapshot := range pending {
		fullpath := filepath.Join(s.imagesDir, snapshot.Filename)
		if err := os.WriteFile(fullpath, snapshot.Data, 0644); err != nil {
			s.logger.Error("Error saving snapshot %s: %v", snapshot.Filename, err)
			continue
		}
		written++
	}

	s.logger.Info("Flushed %d snapshots to disk", written)
	return written
}

// Pending is the number of buffered snapshots.
func (s *SnapshotStore) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snapshots)
}
