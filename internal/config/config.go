package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Backend collaborator
	BackendURL     string
	APIKey         string
	CamerasPath    string
	SightingsPath  string
	HealthPath     string
	RequestTimeout time.Duration // Applies to camera listing and health checks

	// Reconciliation
	PollInterval     time.Duration
	StopGrace        time.Duration
	ReadinessTimeout time.Duration

	// Capture
	BackoffInitial    time.Duration
	BackoffMax        time.Duration
	BackoffMultiplier float64
	FrameInterval     time.Duration // Minimum spacing between processed frames
	RTSPProbeTimeout  time.Duration // 0 disables the DESCRIBE probe

	// Detection
	DetectionThreshold float64
	ProcessingWorkers  int // Number of model instances
	ModelPath          string
	ConfigPath         string
	PlateClassID       int
	OCRLanguage        string

	// Dispatch
	DispatchTimeout time.Duration
	DedupWindow     time.Duration // 0 sends every detection

	// Local diagnostics
	JournalPath              string
	JournalRetention         time.Duration
	ImageDirectory           string // Empty disables plate snapshots
	ImageBufferLimit         int
	ImageBufferFlushInterval time.Duration
	StatusAddr               string
	LogDirectory             string
	LogLevel                 string

	// Kafka
	KafkaBrokers        []string
	SightingsTopic      string
	CameraCommandsTopic string
	KafkaGroupID        string
}

// Load reads an optional env file and the process environment. Missing
// credentials or malformed values are reported together.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}

	p := &parser{}
	cfg := &Config{
		BackendURL:     strings.TrimRight(getEnv("BACKEND_URL", ""), "/"),
		APIKey:         getEnv("API_KEY", ""),
		CamerasPath:    getEnv("CAMERAS_PATH", "/internal/cameras"),
		SightingsPath:  getEnv("SIGHTINGS_PATH", "/internal/sightings"),
		HealthPath:     getEnv("HEALTH_PATH", "/health"),
		RequestTimeout: p.duration("REQUEST_TIMEOUT", 10*time.Second),

		PollInterval:     p.duration("POLL_INTERVAL", 30*time.Second),
		StopGrace:        p.duration("STOP_GRACE", 10*time.Second),
		ReadinessTimeout: p.duration("READINESS_TIMEOUT", 60*time.Second),

		BackoffInitial:    p.duration("BACKOFF_INITIAL", 5*time.Second),
		BackoffMax:        p.duration("BACKOFF_MAX", 60*time.Second),
		BackoffMultiplier: p.number("BACKOFF_MULTIPLIER", 2),
		FrameInterval:     p.duration("FRAME_INTERVAL", 50*time.Millisecond),
		RTSPProbeTimeout:  p.duration("RTSP_PROBE_TIMEOUT", 5*time.Second),

		DetectionThreshold: p.number("DETECTION_THRESHOLD", 0.6),
		ProcessingWorkers:  p.integer("PROCESSING_WORKERS", 2),
		ModelPath:          getEnv("PLATE_MODEL_PATH", filepath.Join(".", "models", "plate_detector.pb")),
		ConfigPath:         getEnv("PLATE_CONFIG_PATH", filepath.Join(".", "models", "plate_detector.pbtxt")),
		PlateClassID:       p.integer("PLATE_CLASS_ID", -1),
		OCRLanguage:        getEnv("OCR_LANGUAGE", "eng"),

		DispatchTimeout: p.duration("DISPATCH_TIMEOUT", 5*time.Second),
		DedupWindow:     p.duration("DEDUP_WINDOW", 5*time.Second),

		JournalPath:              getEnv("JOURNAL_PATH", filepath.Join(".", "data", "sightings.db")),
		JournalRetention:         p.duration("JOURNAL_RETENTION", 72*time.Hour),
		ImageDirectory:           getEnv("SNAPSHOT_DIR", ""),
		ImageBufferLimit:         p.integer("SNAPSHOT_BUFFER_LIMIT", 20),
		ImageBufferFlushInterval: p.duration("SNAPSHOT_FLUSH_INTERVAL", 10*time.Second),
		StatusAddr:               getEnv("STATUS_ADDR", ":8090"),
		LogDirectory:             getEnv("LOG_DIR", filepath.Join(".", "logs")),
		LogLevel:                 getEnv("LOG_LEVEL", "info"),

		KafkaBrokers:        splitList(getEnv("KAFKA_BROKERS", "")),
		SightingsTopic:      getEnv("SIGHTINGS_TOPIC", "plate-sightings"),
		CameraCommandsTopic: getEnv("CAMERA_COMMANDS_TOPIC", "camera-commands"),
		KafkaGroupID:        getEnv("KAFKA_GROUP_ID", "ai-processor"),
	}

	if err := errors.Join(append(p.errs, cfg.Validate())...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values the process cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.BackendURL == "" {
		errs = append(errs, errors.New("BACKEND_URL is required"))
	} else if !strings.HasPrefix(c.BackendURL, "http://") && !strings.HasPrefix(c.BackendURL, "https://") {
		errs = append(errs, fmt.Errorf("BACKEND_URL must be an http(s) address, got %q", c.BackendURL))
	}
	if c.APIKey == "" {
		errs = append(errs, errors.New("API_KEY is required"))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("POLL_INTERVAL must be positive"))
	}
	if c.BackoffInitial <= 0 || c.BackoffMax < c.BackoffInitial {
		errs = append(errs, errors.New("BACKOFF_INITIAL must be positive and not above BACKOFF_MAX"))
	}
	if c.BackoffMultiplier < 1 {
		errs = append(errs, errors.New("BACKOFF_MULTIPLIER must be at least 1"))
	}
	if c.DetectionThreshold <= 0 || c.DetectionThreshold > 1 {
		errs = append(errs, errors.New("DETECTION_THRESHOLD must be within (0,1]"))
	}
	if c.ProcessingWorkers < 1 {
		errs = append(errs, errors.New("PROCESSING_WORKERS must be at least 1"))
	}
	if c.DispatchTimeout <= 0 {
		errs = append(errs, errors.New("DISPATCH_TIMEOUT must be positive"))
	}
	return errors.Join(errs...)
}

// KafkaEnabled reports whether any broker is configured.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parser collects malformed values instead of silently falling back.
type parser struct {
	errs []error
}

func (p *parser) integer(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid integer %q", key, value))
		return defaultValue
	}
	return intValue
}

func (p *parser) number(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid number %q", key, value))
		return defaultValue
	}
	return floatValue
}

// duration accepts Go durations ("1m30s") and plain integers as seconds.
func (p *parser) duration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid duration %q", key, value))
		return defaultValue
	}
	return d
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
