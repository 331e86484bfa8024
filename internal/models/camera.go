package models

// Camera describes one camera as declared by the backend. Workers hold a
// read-only copy; changes are picked up only when the camera is restarted.
type Camera struct {
	ID        int      `json:"id"`
	Name      string   `json:"name"`
	SourceURI string   `json:"rtsp_url"`
	Active    bool     `json:"is_active"`
	ClientID  int      `json:"client_id"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}
