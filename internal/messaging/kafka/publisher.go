// Package kafka mirrors sighting outcomes to a topic and listens for camera
// commands that should trigger an early reconciliation.
package kafka

import (
	"context"
	"encoding/json"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"aiprocessor/internal/backend"
	"aiprocessor/internal/logger"
	"aiprocessor/internal/services/dispatch"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// SightingMessage is the value published for every dispatch outcome.
type SightingMessage struct {
	CameraID     int     `json:"camera_id"`
	LicensePlate string  `json:"license_plate"`
	Confidence   float64 `json:"confidence"`
	Timestamp    string  `json:"timestamp"`
	ImagePath    string  `json:"image_path,omitempty"`
	Status       string  `json:"status"`
	Error        string  `json:"error,omitempty"`
}

// SightingPublisher mirrors outcomes keyed by camera id so a camera's
// sightings stay ordered within one partition. Observe only queues; Run owns
// every call into the writer, which can block on broker metadata.
type SightingPublisher struct {
	writer       messageWriter
	topic        string
	queue        chan kafka.Message
	writeTimeout time.Duration
	logger       *logger.Logger

	dropped atomic.Uint64
}

// NewSightingPublisher creates an async writer for topic with room for
// queueSize pending messages.
func NewSightingPublisher(brokers []string, topic string, queueSize int, logger *logger.Logger) *SightingPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Compression:  kafka.Gzip,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Warning("Failed to publish %d sighting messages: %v", len(messages), err)
			}
		},
	}

	logger.Info("Kafka sighting publisher initialized for topic '%s' with brokers: %v", topic, brokers)
	return newSightingPublisher(writer, topic, queueSize, logger)
}

func newSightingPublisher(writer messageWriter, topic string, queueSize int, logger *logger.Logger) *SightingPublisher {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &SightingPublisher{
		writer:       writer,
		topic:        topic,
		queue:        make(chan kafka.Message, queueSize),
		writeTimeout: 5 * time.Second,
		logger:       logger,
	}
}

// Observe queues one outcome without waiting. When the queue is full the
// message is dropped and counted.
func (p *SightingPublisher) Observe(outcome dispatch.Outcome) {
	msg := SightingMessage{
		CameraID:     outcome.Result.CameraID,
		LicensePlate: outcome.Result.PlateText,
		Confidence:   outcome.Result.Confidence,
		Timestamp:    backend.FormatTimestamp(outcome.Result.DetectedAt),
		ImagePath:    outcome.Result.ImageRef,
		Status:       string(outcome.Status),
	}
	if outcome.Err != nil {
		msg.Error = outcome.Err.Error()
	}

	value, err := json.Marshal(msg)
	if err != nil {
		p.logger.Error("Failed to marshal sighting message: %v", err)
		return
	}

	select {
	case p.queue <- kafka.Message{Key: []byte(strconv.Itoa(msg.CameraID)), Value: value, Time: outcome.At}:
	default:
		if p.dropped.Add(1) == 1 {
			p.logger.Warning("Sighting publish queue full, dropping messages")
		}
	}
}

// Run hands queued messages to the writer until ctx ends, then flushes what
// is left under one write timeout.
func (p *SightingPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), p.writeTimeout)
			defer cancel()
			for {
				select {
				case msg := <-p.queue:
					p.write(flushCtx, msg)
				default:
					return nil
				}
			}
		case msg := <-p.queue:
			writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.writeTimeout)
			p.write(writeCtx, msg)
			cancel()
		}
	}
}

func (p *SightingPublisher) write(ctx context.Context, msg kafka.Message) {
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Warning("Failed to queue sighting message: %v", err)
	}
}

// Dropped counts messages lost to a full queue.
func (p *SightingPublisher) Dropped() uint64 {
	return p.dropped.Load()
}

// Close flushes pending messages and closes the writer.
func (p *SightingPublisher) Close() error {
	if p.writer != nil {
		return p.writer.Close()
	}
	return nil
}
