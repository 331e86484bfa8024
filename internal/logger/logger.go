package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"aiprocessor/internal/config"
)

// Logger provides leveled logging (debug/info/warning/error) to per-level
// files and stdout/stderr.
type Logger struct {
	zl     zerolog.Logger
	logDir string
}

// NewLogger creates a Logger and ensures the log directory exists. An empty
// LogDirectory logs to the console only.
func NewLogger(cfg *config.Config) (*Logger, error) {
	level := parseLevel(cfg.LogLevel)

	writer := &levelWriter{
		stdout: zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "2006-01-02 15:04:05"},
		stderr: zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02 15:04:05"},
	}

	if cfg.LogDirectory != "" {
		if err := os.MkdirAll(cfg.LogDirectory, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		for _, name := range []string{"info.log", "warning.log", "error.log"} {
			file, err := openLogFile(filepath.Join(cfg.LogDirectory, name))
			if err != nil {
				return nil, err
			}
			switch name {
			case "info.log":
				writer.info = file
			case "warning.log":
				writer.warning = file
			case "error.log":
				writer.error = file
			}
		}
	}

	zl := zerolog.New(writer).Level(level).With().Timestamp().Logger()
	return &Logger{zl: zl, logDir: cfg.LogDirectory}, nil
}

// parseLevel maps LOG_LEVEL to a zerolog level. "warning" matches the
// warning.log file name; anything unknown means info.
func parseLevel(name string) zerolog.Level {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "warning" {
		name = "warn"
	}
	level, err := zerolog.ParseLevel(name)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

// Nop returns a Logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// openLogFile opens or creates a log file for appending.
func openLogFile(filename string) (*os.File, error) {
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", filename, err)
	}
	return file, nil
}

// With returns a child logger that tags every entry with key=value.
func (l *Logger) With(key string, value interface{}) *Logger {
	return &Logger{zl: l.zl.With().Interface(key, value).Logger(), logDir: l.logDir}
}

// Debug writes a formatted debug-level log entry.
func (l *Logger) Debug(format string, v ...interface{}) {
	l.zl.Debug().Msgf(format, v...)
}

// Info writes a formatted info-level log entry.
func (l *Logger) Info(format string, v ...interface{}) {
	l.zl.Info().Msgf(format, v...)
}

// Warning writes a formatted warning-level log entry.
func (l *Logger) Warning(format string, v ...interface{}) {
	l.zl.Warn().Msgf(format, v...)
}

// Error writes a formatted error-level log entry.
func (l *Logger) Error(format string, v ...interface{}) {
	l.zl.Error().Msgf(format, v...)
}

// LogDirectory is where the per-level files live, empty when console only.
func (l *Logger) LogDirectory() string {
	return l.logDir
}

// levelWriter routes each entry to the console and to the file of its level.
// Debug entries go to the console only.
type levelWriter struct {
	stdout  io.Writer
	stderr  io.Writer
	info    io.Writer
	warning io.Writer
	error   io.Writer
}

func (w *levelWriter) Write(p []byte) (int, error) {
	return w.stdout.Write(p)
}

func (w *levelWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	console, file := w.stdout, io.Writer(nil)
	switch level {
	case zerolog.InfoLevel:
		file = w.info
	case zerolog.WarnLevel:
		file = w.warning
	case zerolog.ErrorLevel, zerolog.FatalLevel, zerolog.PanicLevel:
		console, file = w.stderr, w.error
	}

	if file != nil {
		if _, err := file.Write(p); err != nil {
			return 0, err
		}
	}
	return console.Write(p)
}
