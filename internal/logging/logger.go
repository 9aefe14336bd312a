// Package logging provides structured logging for taskferry runs.
// It wraps Go's log/slog package to provide leveled, attribute-rich logs
// suitable for both interactive use and post-hoc analysis of a submission.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Log levels supported by the logger
const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// Output formats supported by the logger
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Options configures a Logger.
type Options struct {
	// Level controls which messages are logged: DEBUG, INFO, WARN or ERROR.
	Level string
	// Format selects the output encoding: "text" or "json".
	Format string
	// FilePath, when non-empty, sends output to a size-rotated file instead
	// of stderr.
	FilePath string
	// Rotation configures the file sink. Ignored when FilePath is empty.
	Rotation RotationConfig
}

// Logger provides structured logging with persistent attributes.
// It is safe for concurrent use.
type Logger struct {
	logger *slog.Logger
	sink   *RotatingWriter
	mu     sync.Mutex  // Protects sink operations
	attrs  []slog.Attr // Persistent attributes (run, job, window, component)
}

// New creates a Logger from the given options. With an empty FilePath the
// logger writes to stderr; otherwise it writes to a rotating file sink.
//
// The level option controls which messages are logged:
//   - DEBUG: All messages
//   - INFO: Info, Warn, and Error messages
//   - WARN: Warn and Error messages
//   - ERROR: Only Error messages
func New(opts Options) (*Logger, error) {
	var writer io.Writer = os.Stderr
	var sink *RotatingWriter

	if opts.FilePath != "" {
		rw, err := NewRotatingWriter(opts.FilePath, opts.Rotation)
		if err != nil {
			return nil, fmt.Errorf("failed to open log sink: %w", err)
		}
		writer = rw
		sink = rw
	}

	handlerOpts := &slog.HandlerOptions{
		Level: parseLevel(opts.Level),
	}

	var handler slog.Handler
	if strings.ToLower(opts.Format) == FormatText {
		handler = slog.NewTextHandler(writer, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(writer, handlerOpts)
	}

	return &Logger{
		logger: slog.New(handler),
		sink:   sink,
		attrs:  make([]slog.Attr, 0),
	}, nil
}

// parseLevel converts a string log level to slog.Level.
// Defaults to INFO if the level string is not recognized.
func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithRun returns a new Logger with the run ID added to all log entries.
// This creates a child logger that inherits all existing attributes.
func (l *Logger) WithRun(runID string) *Logger {
	return l.withAttr(slog.String("run_id", runID))
}

// WithJob returns a new Logger with the job ID added to all log entries.
// This creates a child logger that inherits all existing attributes.
func (l *Logger) WithJob(jobID string) *Logger {
	return l.withAttr(slog.String("job_id", jobID))
}

// WithWindow returns a new Logger with the window's offset range added to
// all log entries. This creates a child logger that inherits all existing
// attributes.
func (l *Logger) WithWindow(start, end int) *Logger {
	return l.withAttr(slog.String("window", fmt.Sprintf("[%d,%d)", start, end)))
}

// WithComponent returns a new Logger with the component name added to all
// log entries. Components might include: "submitter", "monitor", "spool", etc.
func (l *Logger) WithComponent(name string) *Logger {
	return l.withAttr(slog.String("component", name))
}

// With returns a new Logger with arbitrary key-value attributes.
// Keys and values are provided as alternating arguments.
// This creates a child logger that inherits all existing attributes.
func (l *Logger) With(args ...any) *Logger {
	if len(args) == 0 {
		return l
	}

	newAttrs := make([]slog.Attr, 0, len(l.attrs)+len(args)/2)
	newAttrs = append(newAttrs, l.attrs...)

	// Convert args to slog.Attr
	for i := 0; i < len(args)-1; i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		newAttrs = append(newAttrs, slog.Any(key, args[i+1]))
	}

	return &Logger{
		logger: l.logger,
		sink:   l.sink,
		attrs:  newAttrs,
	}
}

// withAttr creates a new Logger with an additional attribute.
func (l *Logger) withAttr(attr slog.Attr) *Logger {
	newAttrs := make([]slog.Attr, len(l.attrs)+1)
	copy(newAttrs, l.attrs)
	newAttrs[len(l.attrs)] = attr

	return &Logger{
		logger: l.logger,
		sink:   l.sink,
		attrs:  newAttrs,
	}
}

// Debug logs a message at DEBUG level with optional key-value pairs.
// Keys and values are provided as alternating arguments.
func (l *Logger) Debug(msg string, args ...any) {
	l.log(slog.LevelDebug, msg, args...)
}

// Info logs a message at INFO level with optional key-value pairs.
// Keys and values are provided as alternating arguments.
func (l *Logger) Info(msg string, args ...any) {
	l.log(slog.LevelInfo, msg, args...)
}

// Warn logs a message at WARN level with optional key-value pairs.
// Keys and values are provided as alternating arguments.
func (l *Logger) Warn(msg string, args ...any) {
	l.log(slog.LevelWarn, msg, args...)
}

// Error logs a message at ERROR level with optional key-value pairs.
// Keys and values are provided as alternating arguments.
func (l *Logger) Error(msg string, args ...any) {
	l.log(slog.LevelError, msg, args...)
}

// log is the internal logging method that combines persistent attributes
// with per-call arguments.
func (l *Logger) log(level slog.Level, msg string, args ...any) {
	// Combine persistent attrs with per-call args
	allArgs := make([]any, 0, len(l.attrs)*2+len(args))
	for _, attr := range l.attrs {
		allArgs = append(allArgs, attr.Key, attr.Value.Any())
	}
	allArgs = append(allArgs, args...)

	l.logger.Log(context.Background(), level, msg, allArgs...)
}

// Close flushes and closes the file sink.
// If the logger writes to stderr, this method is a no-op.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sink != nil {
		if err := l.sink.Close(); err != nil {
			return fmt.Errorf("failed to close log sink: %w", err)
		}
		l.sink = nil
	}
	return nil
}

// FilePath returns the path of the file sink, or "" when logging to stderr.
func (l *Logger) FilePath() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sink == nil {
		return ""
	}
	return l.sink.FilePath()
}

// NopLogger returns a Logger that discards all log output.
// Useful for testing or when logging is disabled.
func NopLogger() *Logger {
	return &Logger{
		logger: slog.New(slog.NewJSONHandler(io.Discard, nil)),
		attrs:  make([]slog.Attr, 0),
	}
}

// ParseLevel converts a string level to the corresponding constant.
// Returns LevelInfo if the level string is not recognized.
func ParseLevel(level string) string {
	switch strings.ToUpper(level) {
	case LevelDebug:
		return LevelDebug
	case LevelInfo:
		return LevelInfo
	case LevelWarn:
		return LevelWarn
	case LevelError:
		return LevelError
	default:
		return LevelInfo
	}
}

// ValidLevels returns the list of valid log level strings.
func ValidLevels() []string {
	return []string{LevelDebug, LevelInfo, LevelWarn, LevelError}
}
