package models

import (
	"image"
	"time"
)

// Frame is one decoded picture from a camera source. It lives for a single
// pipeline pass.
type Frame struct {
	CameraID   int
	CapturedAt time.Time
	Image      image.Image
}
