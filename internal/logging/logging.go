// Package logging provides structured logging for carelay.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger creates a new structured logger with the specified level and format.
// Supported levels: debug, info, warn, error
// Supported formats: text, json
func NewLogger(level, format string) *slog.Logger {
	return NewLoggerWithWriter(level, format, os.Stderr)
}

// NewLoggerWithWriter creates a new structured logger with a custom writer.
func NewLoggerWithWriter(level, format string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// FileOptions controls where log output goes.
type FileOptions struct {
	// Path is the log file. Empty means stderr, "/dev/stdout" means stdout.
	Path string

	// MaxSizeMB is the size at which the file is rotated.
	MaxSizeMB int

	// MaxBackups is the number of rotated files to keep.
	MaxBackups int

	// MaxAgeDays is how long rotated files are kept.
	MaxAgeDays int
}

// Output returns the writer for the given file options. Regular files are
// rotated; character devices and pipes are opened for appending as-is.
func Output(opts FileOptions) (io.Writer, error) {
	switch opts.Path {
	case "", "/dev/stderr":
		return os.Stderr, nil
	case "/dev/stdout":
		return os.Stdout, nil
	}

	if st, err := os.Stat(opts.Path); err == nil && !st.Mode().IsRegular() {
		if st.IsDir() {
			return nil, fmt.Errorf("log file %s is a directory", opts.Path)
		}
		fp, err := os.OpenFile(opts.Path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		return fp, nil
	}

	return &lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		LocalTime:  true,
		Compress:   true,
	}, nil
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NopLogger returns a logger that discards all output.
func NopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Common attribute keys for consistent logging.
const (
	KeySessionID     = "session_id"
	KeyOrigin        = "origin"
	KeyReplyEndpoint = "reply_endpoint"
	KeyForwardTo     = "forward_to"
	KeyLocalAddr     = "local_addr"
	KeyInterface     = "ifindex"
	KeyResponder     = "responder"
	KeyBytes         = "bytes"
	KeyReplies       = "replies"
	KeyLifetime      = "lifetime"
	KeyIdle          = "idle"
	KeyError         = "error"
	KeyComponent     = "component"
	KeyCount         = "count"
	KeySuppressed    = "suppressed"
	KeyAddress       = "address"
)
