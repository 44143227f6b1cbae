// Package logger holds the heap's structured logger.
//
// Output is discarded unless Init is called or GCHEAP_LOG_ALLOC is set in the
// environment, in which case debug records go to stderr.
package logger

import (
	"io"
	"log/slog"
	"os"
)

// L is the global logger instance. It discards all output by default.
var L = newDefault()

// EnvLogAlloc enables stderr debug logging at start-up when set to any value.
const EnvLogAlloc = "GCHEAP_LOG_ALLOC"

// Options configures the logger.
type Options struct {
	Enabled bool       // If false, all logging is discarded
	Writer  io.Writer  // Destination. Default: os.Stderr
	JSON    bool       // JSON records instead of logfmt-style text
	Level   slog.Level // Minimum level. Default: LevelInfo when enabled
}

func newDefault() *slog.Logger {
	if os.Getenv(EnvLogAlloc) != "" {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Init configures logging. Call it once from main() before the heap is built.
func Init(opts Options) {
	if !opts.Enabled {
		L = slog.New(slog.NewTextHandler(io.Discard, nil))
		return
	}
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	level := opts.Level
	if level == 0 {
		level = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	if opts.JSON {
		L = slog.New(slog.NewJSONHandler(w, handlerOpts))
		return
	}
	L = slog.New(slog.NewTextHandler(w, handlerOpts))
}

// Debug logs a debug message with optional key-value pairs.
func Debug(msg string, args ...any) { L.Debug(msg, args...) }

// Info logs an info message with optional key-value pairs.
func Info(msg string, args ...any) { L.Info(msg, args...) }

// Warn logs a warning message with optional key-value pairs.
func Warn(msg string, args ...any) { L.Warn(msg, args...) }

// Error logs an error message with optional key-value pairs.
func Error(msg string, args ...any) { L.Error(msg, args...) }
