// Package logging provides logging utilities for Skiff.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ParseLogLevel converts a string log level to slog.Level
func ParseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "silent", "none":
		// Return a very high level to effectively disable all logging
		return slog.Level(1000)
	default:
		return slog.LevelInfo
	}
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warning", "error", "silent"}
}

// LogFileName returns the name of the per-invocation log file, keyed by the
// invocation timestamp.
func LogFileName(now time.Time) string {
	return fmt.Sprintf("skiff-%s.log", now.Format("20060102-150405"))
}

// InitLogging initializes logging with the specified log level, writing to
// stderr only.
func InitLogging(logLevel string) {
	initLogging(logLevel, os.Stderr)
}

// InitLoggingWithFile initializes logging with the specified log level,
// writing both to stderr and to an append-only log file in dir. It returns
// the log file path so it can be reported to the operator.
func InitLoggingWithFile(logLevel, dir string) (string, error) {
	path := filepath.Join(dir, LogFileName(time.Now()))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to open log file: %w", err)
	}

	initLogging(logLevel, io.MultiWriter(os.Stderr, f))
	return path, nil
}

func initLogging(logLevel string, w io.Writer) {
	level := ParseLogLevel(logLevel)

	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
	})

	// Tag every record with a per-invocation run ID
	runID := uuid.New().String()[:8]
	logger := slog.New(handler).With("run_id", runID)
	slog.SetDefault(logger)
}

// CLI flag for setting the log level

// LogLevel is a flag for setting the log level
var LogLevel = &logLevelFlag{value: "info", set: false}

type logLevelFlag struct {
	value string
	set   bool
}

func (l *logLevelFlag) Set(value string) error {
	if !slices.Contains(ValidLogLevels(), value) {
		return fmt.Errorf("invalid value '%s'. Allowed values: %s",
			value, strings.Join(ValidLogLevels(), ", "))
	}
	l.value = value
	l.set = true
	return nil
}

func (l *logLevelFlag) String() string {
	return l.value
}

func (l *logLevelFlag) Type() string {
	return fmt.Sprintf("one of [%s]", strings.Join(ValidLogLevels(), "|"))
}

// IsSet returns true if the flag was explicitly set via command line
func (l *logLevelFlag) IsSet() bool {
	return l.set
}
