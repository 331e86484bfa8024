package models

import "time"

// WorkerState is a point-in-time view of one stream worker.
type WorkerState struct {
	CameraID                     int       `json:"camera_id"`
	CameraName                   string    `json:"camera_name"`
	State                        string    `json:"state"`
	ConsecutiveReconnectAttempts int       `json:"consecutive_reconnect_attempts"`
	StartedAt                    time.Time `json:"started_at"`
	LastFrameAt                  time.Time `json:"last_frame_at,omitempty"`
	FramesRead                   uint64    `json:"frames_read"`
	Detections                   uint64    `json:"detections"`
	Cancelled                    bool      `json:"cancelled"`
}
