package models

import "time"

// SightingStatus is the outcome of one dispatch attempt.
type SightingStatus string

const (
	SightingDelivered  SightingStatus = "delivered"
	SightingDropped    SightingStatus = "dropped"
	SightingSuppressed SightingStatus = "suppressed"
)

// SightingRecord is a local journal row describing a dispatch outcome.
type SightingRecord struct {
	ID         int64          `json:"id"`
	CameraID   int            `json:"camera_id"`
	PlateText  string         `json:"plate_text"`
	Confidence float64        `json:"confidence"`
	DetectedAt time.Time      `json:"detected_at"`
	ImageRef   string         `json:"image_ref,omitempty"`
	Status     SightingStatus `json:"status"`
	Error      string         `json:"error,omitempty"`
	RecordedAt time.Time      `json:"recorded_at"`
}
