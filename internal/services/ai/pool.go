package ai

import (
	"context"
	"errors"
	"io"

	"aiprocessor/internal/models"
)

// Pool lends one of several detectors per call so that model instances,
// which are not goroutine-safe, are never shared between cameras at once.
type Pool struct {
	detectors []Detector
	idle      chan Detector
}

// NewPool creates a pool over the given detectors. At least one is required.
func NewPool(detectors ...Detector) (*Pool, error) {
	if len(detectors) == 0 {
		return nil, errors.New("pool needs at least one detector")
	}

	idle := make(chan Detector, len(detectors))
	for _, d := range detectors {
		idle <- d
	}
	return &Pool{detectors: detectors, idle: idle}, nil
}

// Detect borrows a detector for the duration of one frame. A cancelled
// context while waiting yields no detection.
func (p *Pool) Detect(ctx context.Context, frame models.Frame) (models.DetectionResult, bool) {
	var d Detector
	select {
	case d = <-p.idle:
	case <-ctx.Done():
		return models.DetectionResult{}, false
	}
	defer func() { p.idle <- d }()

	return d.Detect(ctx, frame)
}

// Size is the number of detectors in the pool.
func (p *Pool) Size() int {
	return len(p.detectors)
}

// Close releases every detector that holds native resources.
func (p *Pool) Close() error {
	var errs []error
	for _, d := range p.detectors {
		if closer, ok := d.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
