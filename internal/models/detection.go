package models

import (
	"image"
	"time"
)

// DetectionResult is a validated plate reading ready for dispatch.
type DetectionResult struct {
	CameraID   int       `json:"camera_id"`
	PlateText  string    `json:"plate_text"`
	Confidence float64   `json:"confidence"`
	DetectedAt time.Time `json:"detected_at"`
	ImageRef   string    `json:"image_ref,omitempty"`

	// Crop is the plate region the text was read from. Never serialized.
	Crop image.Image `json:"-"`
}
