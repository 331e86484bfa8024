package capture

import (
	"context"
	"errors"
	"image"
)

var (
	// ErrReadFailed is returned by a Source when no frame could be read.
	ErrReadFailed = errors.New("frame read failed")
	// ErrSourceClosed is returned when reading from a released source or loop.
	ErrSourceClosed = errors.New("source closed")
)

// Source is an open video stream. Read blocks until the next frame.
type Source interface {
	Read() (image.Image, error)
	Close() error
}

// Opener opens a video source by URI.
type Opener interface {
	Open(ctx context.Context, uri string) (Source, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, uri string) (Source, error)

// Open calls f(ctx, uri).
func (f OpenerFunc) Open(ctx context.Context, uri string) (Source, error) {
	return f(ctx, uri)
}
