// Package opencv opens camera streams with OpenCV's VideoCapture.
package opencv

import (
	"context"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"

	"aiprocessor/internal/services/capture"
)

// Opener opens any URI the OpenCV FFmpeg backend understands.
type Opener struct{}

// Open connects to uri. VideoCapture cannot be interrupted, so ctx is only
// checked before connecting.
func (Opener) Open(ctx context.Context, uri string) (capture.Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vc, err := gocv.OpenVideoCapture(uri)
	if err != nil {
		return nil, fmt.Errorf("failed to open video capture: %w", err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("video capture is not opened")
	}

	return &Source{capture: vc, mat: gocv.NewMat()}, nil
}

// Source reads frames from one VideoCapture, reusing a single Mat.
type Source struct {
	mutex   sync.Mutex
	capture *gocv.VideoCapture
	mat     gocv.Mat
	closed  bool
}

// Read grabs the next frame and converts it to an image.Image.
func (s *Source) Read() (image.Image, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		return nil, capture.ErrSourceClosed
	}
	if ok := s.capture.Read(&s.mat); !ok || s.mat.Empty() {
		return nil, capture.ErrReadFailed
	}

	img, err := s.mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("failed to convert frame: %w", err)
	}
	return img, nil
}

// Close releases the capture device and frame buffer.
func (s *Source) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.mat.Close()
	return s.capture.Close()
}
