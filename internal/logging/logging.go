// Package logging configures the application's slog loggers: a structured
// JSON logger on stdout for machine consumption and a human-readable text
// logger on stderr. File loggers with rotation are available for services
// that keep their own log files.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	structuredLogger    *slog.Logger
	humanReadableLogger *slog.Logger
)

const (
	LevelTrace = slog.Level(-8)
	LevelFatal = slog.Level(12)
)

var levelNames = map[slog.Leveler]string{
	LevelTrace: "TRACE",
	LevelFatal: "FATAL",
}

// replaceLevelNames maps the custom TRACE/FATAL levels to their label.
func replaceLevelNames(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		level := a.Value.Any().(slog.Level)
		if label, ok := levelNames[level]; ok {
			a.Value = slog.StringValue(label)
		}
	}
	return a
}

func newHandlers(structuredOut, humanOut io.Writer, level slog.Level) (structured, human slog.Handler) {
	structured = slog.NewJSONHandler(structuredOut, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceLevelNames,
	})
	human = slog.NewTextHandler(humanOut, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceLevelNames,
	})
	return structured, human
}

// Init initializes the logging system and installs the structured logger as
// the slog default.
func Init() {
	SetOutput(os.Stdout, os.Stderr, slog.LevelInfo)
}

// SetOutput redirects logger output, e.g. for tests.
func SetOutput(structuredOut, humanOut io.Writer, level slog.Level) {
	sh, hh := newHandlers(structuredOut, humanOut, level)
	structuredLogger = slog.New(sh)
	humanReadableLogger = slog.New(hh)
	slog.SetDefault(structuredLogger)
}

// Structured returns the globally configured structured (JSON) logger.
// Returns nil if Init() has not been called.
func Structured() *slog.Logger {
	return structuredLogger
}

// HumanReadable returns the globally configured human-readable logger.
func HumanReadable() *slog.Logger {
	return humanReadableLogger
}

// ForService creates a logger with the 'service' attribute added, using the
// global structured logger as the base. Before Init() it falls back to the
// slog default so constructors are safe to call in any order.
func ForService(serviceName string) *slog.Logger {
	if structuredLogger == nil {
		return slog.Default().With("service", serviceName)
	}
	return structuredLogger.With("service", serviceName)
}

// Debug logs a debug message using the default slog logger.
func Debug(msg string, args ...any) {
	slog.Debug(msg, args...)
}

// Info logs an info message using the default slog logger.
func Info(msg string, args ...any) {
	slog.Info(msg, args...)
}

// Warn logs a warning message using the default slog logger.
func Warn(msg string, args ...any) {
	slog.Warn(msg, args...)
}

// Error logs an error message using the default slog logger.
func Error(msg string, args ...any) {
	slog.Error(msg, args...)
}

// Fatal logs a message at the custom FATAL level and exits.
func Fatal(msg string, args ...any) {
	slog.Log(context.TODO(), LevelFatal, msg, args...)
	os.Exit(1)
}

// Trace logs a message at the custom TRACE level.
func Trace(msg string, args ...any) {
	slog.Log(context.TODO(), LevelTrace, msg, args...)
}

// FileRotation controls rotation of file-backed logs.
type FileRotation struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// DefaultFileRotation is used when the caller passes a zero FileRotation.
var DefaultFileRotation = FileRotation{MaxSizeMB: 100, MaxBackups: 3, MaxAgeDays: 28}

// NewFileLogger creates a slog.Logger writing JSON logs to filePath with
// lumberjack rotation. It returns the logger and a close function for the
// underlying writer.
func NewFileLogger(filePath, serviceName string, level slog.Level, rotation FileRotation) (*slog.Logger, func() error, error) {
	// lumberjack does not create directories
	logDir := filepath.Dir(filePath)
	if logDir != "." {
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory %s: %w", logDir, err)
		}
	}

	if rotation == (FileRotation{}) {
		rotation = DefaultFileRotation
	}

	logWriter := &lumberjack.Logger{
		Filename:   filePath,
		MaxSize:    rotation.MaxSizeMB,
		MaxBackups: rotation.MaxBackups,
		MaxAge:     rotation.MaxAgeDays,
	}

	fileHandler := slog.NewJSONHandler(logWriter, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceLevelNames,
	})

	logger := slog.New(fileHandler).With("service", serviceName)
	return logger, logWriter.Close, nil
}
