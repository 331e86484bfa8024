package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"aiprocessor/internal/backend"
	"aiprocessor/internal/logger"
	"aiprocessor/internal/services/dispatch"
)

const writeWait = 5 * time.Second

// SightingEvent is the live feed message for one dispatch outcome.
type SightingEvent struct {
	Type       string  `json:"type"`
	CameraID   int     `json:"camera_id"`
	PlateText  string  `json:"plate_text"`
	Confidence float64 `json:"confidence"`
	DetectedAt string  `json:"detected_at"`
	Status     string  `json:"status"`
	ImageRef   string  `json:"image_ref,omitempty"`
	Error      string  `json:"error,omitempty"`
}

type HubService struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mutex      sync.RWMutex
	dropped    atomic.Uint64
	logger     *logger.Logger
}

// NewHubService creates a hub whose broadcast queue holds bufferSize messages.
func NewHubService(bufferSize int, logger *logger.Logger) *HubService {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &HubService{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, bufferSize),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		logger:     logger,
	}
}

// Run serves registrations and broadcasts until ctx ends, then closes every
// client.
func (h *HubService) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			h.mutex.Unlock()
			return nil

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("Client connected. Total: %d", total)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			total := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("Client disconnected. Total: %d", total)

		case message := <-h.broadcast:
			h.mutex.Lock()
			for client := range h.clients {
				client.SetWriteDeadline(time.Now().Add(writeWait))
				if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
					h.logger.Warning("Error sending message: %v", err)
					delete(h.clients, client)
					client.Close()
				}
			}
			h.mutex.Unlock()
		}
	}
}

func (h *HubService) Register(ctx context.Context, client *websocket.Conn) {
	select {
	case h.register <- client:
	case <-ctx.Done():
		client.Close()
	}
}

func (h *HubService) Unregister(ctx context.Context, client *websocket.Conn) {
	select {
	case h.unregister <- client:
	case <-ctx.Done():
	}
}

// Broadcast queues message for every client. It never blocks; when the queue
// is full the message is dropped.
func (h *HubService) Broadcast(message []byte) bool {
	select {
	case h.broadcast <- message:
		return true
	default:
		h.dropped.Add(1)
		return false
	}
}

// Observe publishes a dispatch outcome to the live feed.
func (h *HubService) Observe(outcome dispatch.Outcome) {
	event := SightingEvent{
		Type:       "sighting",
		CameraID:   outcome.Result.CameraID,
		PlateText:  outcome.Result.PlateText,
		Confidence: outcome.Result.Confidence,
		DetectedAt: backend.FormatTimestamp(outcome.Result.DetectedAt),
		Status:     string(outcome.Status),
		ImageRef:   outcome.Result.ImageRef,
	}
	if outcome.Err != nil {
		event.Error = outcome.Err.Error()
	}

	message, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("Failed to encode sighting event: %v", err)
		return
	}
	h.Broadcast(message)
}

func (h *HubService) GetClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Dropped counts messages discarded because the queue was full.
func (h *HubService) Dropped() uint64 {
	return h.dropped.Load()
}
