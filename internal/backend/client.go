// Package backend talks to the administrative backend: the desired camera
// set, its health endpoint and sighting ingestion.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"aiprocessor/internal/config"
	"aiprocessor/internal/models"
)

// APIKeyHeader carries the service credential on every request.
const APIKeyHeader = "X-API-Key"

// StatusError is returned when the backend answers with an unexpected status.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.Path, e.Code)
	}
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// Client is a backend client. It is safe for concurrent use.
type Client struct {
	baseURL        string
	apiKey         string
	camerasPath    string
	sightingsPath  string
	healthPath     string
	requestTimeout time.Duration
	http           *http.Client
}

// NewClient creates a client from the backend settings in cfg. Per-call
// deadlines come from the caller's context; RequestTimeout bounds calls
// whose context has none.
func NewClient(cfg *config.Config) *Client {
	return &Client{
		baseURL:        cfg.BackendURL,
		apiKey:         cfg.APIKey,
		camerasPath:    cfg.CamerasPath,
		sightingsPath:  cfg.SightingsPath,
		healthPath:     cfg.HealthPath,
		requestTimeout: cfg.RequestTimeout,
		http:           &http.Client{},
	}
}

// sightingRequest is the wire form of a sighting.
type sightingRequest struct {
	LicensePlate string  `json:"license_plate"`
	CameraID     int     `json:"camera_id"`
	Confidence   float64 `json:"confidence"`
	Timestamp    string  `json:"timestamp"`
	ImagePath    string  `json:"image_path,omitempty"`
}

// ListActiveCameras returns the cameras the backend wants processed.
// Inactive entries are filtered out even if the backend includes them.
func (c *Client) ListActiveCameras(ctx context.Context) ([]models.Camera, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.do(ctx, http.MethodGet, c.camerasPath, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(http.MethodGet, c.camerasPath, resp)
	}

	var cameras []models.Camera
	if err := json.NewDecoder(resp.Body).Decode(&cameras); err != nil {
		return nil, fmt.Errorf("failed to decode cameras: %w", err)
	}

	active := cameras[:0]
	for _, camera := range cameras {
		if camera.Active {
			active = append(active, camera)
		}
	}
	return active, nil
}

// Health reports whether the backend answers its health endpoint with 2xx.
func (c *Client) Health(ctx context.Context) bool {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.do(ctx, http.MethodGet, c.healthPath, nil)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// SubmitSighting posts one detection. Anything but a 2xx is an error.
func (c *Client) SubmitSighting(ctx context.Context, result models.DetectionResult) error {
	body, err := json.Marshal(sightingRequest{
		LicensePlate: result.PlateText,
		CameraID:     result.CameraID,
		Confidence:   result.Confidence,
		Timestamp:    FormatTimestamp(result.DetectedAt),
		ImagePath:    result.ImageRef,
	})
	if err != nil {
		return fmt.Errorf("failed to encode sighting: %w", err)
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.do(ctx, http.MethodPost, c.sightingsPath, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(http.MethodPost, c.sightingsPath, resp)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// FormatTimestamp renders t in UTC as RFC 3339 with a "Z" suffix.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set(APIKeyHeader, c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || c.requestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.requestTimeout)
}

func statusError(method, path string, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: string(bytes.TrimSpace(snippet))}
}
