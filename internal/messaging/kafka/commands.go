package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/segmentio/kafka-go"

	"aiprocessor/internal/logger"
	"aiprocessor/internal/models"
)

// Camera command actions.
const (
	ActionStart = "start"
	ActionStop  = "stop"
)

// Command asks for a camera to be started or stopped.
type Command struct {
	Action string        `json:"action"`
	Camera models.Camera `json:"camera_info"`
}

// Nudger triggers an early reconciliation.
type Nudger interface {
	Nudge()
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// CommandConsumer turns camera commands into reconciliation requests. The
// backend camera list stays the only source of truth; a command just makes
// the next poll happen now.
type CommandConsumer struct {
	reader     messageReader
	nudger     Nudger
	retryDelay time.Duration
	logger     *logger.Logger
}

// NewCommandConsumer creates a consumer group reader for topic.
func NewCommandConsumer(brokers []string, topic, groupID string, nudger Nudger, logger *logger.Logger) *CommandConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		GroupID:  groupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 1 << 20,
		MaxWait:  time.Second,
	})
	return &CommandConsumer{reader: reader, nudger: nudger, retryDelay: 5 * time.Second, logger: logger}
}

// Run consumes until ctx ends. Read errors are logged and retried.
func (c *CommandConsumer) Run(ctx context.Context) error {
	defer c.reader.Close()
	c.logger.Info("Listening for camera commands")

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			c.logger.Warning("Failed to read camera command: %v", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.retryDelay):
			}
			continue
		}

		c.handle(msg.Value)
	}
}

func (c *CommandConsumer) handle(value []byte) {
	cmd, err := decodeCommand(value)
	if err != nil {
		c.logger.Warning("Ignoring camera command: %v", err)
		return
	}
	c.logger.Info("Camera %d: '%s' command received", cmd.Camera.ID, cmd.Action)
	c.nudger.Nudge()
}

func decodeCommand(value []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(value, &cmd); err != nil {
		return Command{}, fmt.Errorf("malformed command: %w", err)
	}
	if cmd.Action != ActionStart && cmd.Action != ActionStop {
		return Command{}, fmt.Errorf("unknown action %q", cmd.Action)
	}
	if cmd.Camera.ID <= 0 {
		return Command{}, errors.New("command without camera id")
	}
	return cmd, nil
}
