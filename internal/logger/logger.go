// Package logger configures the process-wide zerolog logger.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var logFile *os.File

// Setup configures the global logger with the given level, writing
// human-readable output to w. Level accepts debug, info, warn and error
// (case-insensitive); the empty string means info.
func Setup(level string, w io.Writer) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}

	console := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	log.Logger = zerolog.New(console).Level(lvl).With().Timestamp().Logger()
	return nil
}

// SetupWithFile behaves like Setup but additionally appends every event,
// as JSON, to the file at path.
func SetupWithFile(level string, w io.Writer, path string) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	// Close any file left open by a previous call.
	if logFile != nil {
		logFile.Close()
	}
	logFile = f

	console := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	log.Logger = zerolog.New(zerolog.MultiLevelWriter(console, f)).Level(lvl).With().Timestamp().Logger()
	return nil
}

// Close closes the log file if one is open.
func Close() {
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}

// ParseLevel converts a string to a zerolog level.
// Returns an error for unknown level strings.
func ParseLevel(s string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return zerolog.InfoLevel, nil
	case "debug":
		return zerolog.DebugLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.InfoLevel, fmt.Errorf("unknown log level %q: valid levels are debug, info, warn, error", s)
	}
}
