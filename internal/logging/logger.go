// Package logging provides structured logging utilities for the reflection
// sidecar. It wraps the standard library log/slog package, adds an
// ErrorLogger that appends human-readable error records to a daily markdown
// file, and a DebugSink that appends fire-and-forget trace lines when the
// operator has enabled REFLECTION_DEBUG.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/opencode-sh/reflection3/internal/config"
)

// NewLogger constructs a *slog.Logger from the sidecar's own LoggingConfig
// (internal/config) rather than loose parameters, so the resolved level,
// format, and output stay in lockstep with whatever the config loader
// defaulted or validated. Level is debug, info, warn (or warning), or error,
// empty meaning info; Format is json or text, empty meaning json; Output is
// stdout, stderr, or a file path, empty meaning stdout.
//
// When cfg.Output names a file path (anything other than "stdout"/"stderr")
// the file is opened in append+create mode with 0644 permissions. The caller
// is responsible for closing the underlying file when the process exits.
func NewLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	var slogLevel slog.Level
	switch strings.ToLower(strings.TrimSpace(cfg.Level)) {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn", "warning":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	case "info", "":
		slogLevel = slog.LevelInfo
	default:
		return nil, fmt.Errorf("logging: unknown level %q: must be one of debug, info, warn, error", cfg.Level)
	}

	var w io.Writer
	switch strings.ToLower(strings.TrimSpace(cfg.Output)) {
	case "stdout", "":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("logging: opening log file %q: %w", cfg.Output, err)
		}
		w = f
	}

	opts := &slog.HandlerOptions{Level: slogLevel}

	var handler slog.Handler
	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	case "json", "":
		handler = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("logging: unknown format %q: must be json or text", cfg.Format)
	}

	return slog.New(handler), nil
}

// ErrorLogger appends structured error records to a daily markdown file.
// The filename template must contain the literal substring "YYYY-MM-DD" which
// is replaced at write time with the current UTC date, creating one file per
// calendar day.
//
// All public methods are safe for concurrent use.
type ErrorLogger struct {
	// Dir is the directory that will contain the daily log files. It is
	// created (with MkdirAll) on first use if it does not already exist.
	Dir string

	// Filename is the file name template, e.g. "YYYY-MM-DD-errors.md".
	Filename string

	mu sync.Mutex
}

// NewErrorLogger constructs an ErrorLogger. No filesystem I/O is performed
// until Log is called.
func NewErrorLogger(dir, filename string) *ErrorLogger {
	return &ErrorLogger{
		Dir:      dir,
		Filename: filename,
	}
}

// Log appends one error record to today's markdown file. The record format is:
//
//	[HH:MM:SS] Session: <sessionID> | Attempt: <attempt> | Stage: <stage> | Error: <err>
//
// The method creates the directory and file if they do not exist. It is safe
// to call Log from multiple goroutines simultaneously.
func (el *ErrorLogger) Log(sessionID, attempt, stage string, err error) error {
	now := time.Now().UTC()

	date := now.Format("2006-01-02")
	timeStr := now.Format("15:04:05")

	filename := strings.ReplaceAll(el.Filename, "YYYY-MM-DD", date)
	path := filepath.Join(el.Dir, filename)

	line := fmt.Sprintf(
		"[%s] Session: %s | Attempt: %s | Stage: %s | Error: %v\n",
		timeStr, sessionID, attempt, stage, err,
	)

	el.mu.Lock()
	defer el.mu.Unlock()

	if mkErr := os.MkdirAll(el.Dir, 0o755); mkErr != nil {
		return fmt.Errorf("logging: creating error log directory %q: %w", el.Dir, mkErr)
	}

	f, openErr := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if openErr != nil {
		return fmt.Errorf("logging: opening error log file %q: %w", path, openErr)
	}
	defer f.Close()

	if _, writeErr := fmt.Fprint(f, line); writeErr != nil {
		return fmt.Errorf("logging: writing to error log file %q: %w", path, writeErr)
	}

	return nil
}

// DebugSink appends fire-and-forget trace lines to a single file when
// enabled. It never writes to stdout/stderr, so debug tracing cannot
// interleave with the agent's own output streams.
type DebugSink struct {
	path    string
	enabled bool

	mu sync.Mutex
}

// NewDebugSink constructs a DebugSink writing to path. enabled mirrors the
// REFLECTION_DEBUG=1 environment toggle; when false, Log is a no-op.
func NewDebugSink(path string, enabled bool) *DebugSink {
	return &DebugSink{path: path, enabled: enabled}
}

// Enabled reports whether this sink will actually write anything.
func (d *DebugSink) Enabled() bool {
	return d != nil && d.enabled
}

// Log appends "[iso-timestamp] [Reflection3] message" to the sink's file.
// Failures are swallowed: debug tracing must never interrupt reflection.
func (d *DebugSink) Log(message string) {
	if d == nil || !d.enabled {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	dir := filepath.Dir(d.path)
	if dir != "." && dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}

	f, err := os.OpenFile(d.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer f.Close()

	line := fmt.Sprintf("[%s] [Reflection3] %s\n", time.Now().UTC().Format(time.RFC3339), message)
	_, _ = f.WriteString(line)
}
