// Package logging provides structured logging for taskferry runs.
//
// This package wraps Go's log/slog to provide leveled, attribute-rich logs
// for debugging and post-hoc analysis. It is designed to help troubleshoot
// large submission runs by providing structured, filterable logs that can
// be analyzed after the fact.
//
// # Features
//
//   - Structured logging via slog, in JSON or text format
//   - Configurable log levels (DEBUG, INFO, WARN, ERROR)
//   - Context propagation (run ID, job ID, window range, component)
//   - Log rotation with configurable size limits
//   - Log reading and filtering utilities
//   - Export to JSON, text, or CSV formats
//
// # Thread Safety
//
// All types in this package are safe for concurrent use. The [Logger] type
// uses Go's slog internally which is designed for concurrent access. The
// [RotatingWriter] type uses a mutex to protect file operations during
// rotation. Child loggers created via With* methods share the underlying
// writer safely.
//
// # Basic Usage
//
// Create a logger writing JSON to a rotated file:
//
//	logger, err := logging.New(logging.Options{
//	    Level:    "INFO",
//	    Format:   "json",
//	    FilePath: "/path/to/taskferry.log",
//	    Rotation: logging.DefaultRotationConfig(),
//	})
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	logger.Info("submission started", "tasks", 250, "windows", 3)
//
// # Context Propagation
//
// Create child loggers with persistent context attributes:
//
//	runLogger := logger.WithRun("f3b9...").WithJob("batch-7")
//	windowLogger := runLogger.WithWindow(100, 200)
//
//	// All logs from windowLogger include run_id, job_id and window
//	windowLogger.Warn("request oversized", "slice", 100)
//
// # Testing
//
// For testing, use [NopLogger] to discard all log output:
//
//	func TestSomething(t *testing.T) {
//	    logger := logging.NopLogger()
//	    // Use logger in tests without creating files
//	}
//
// # Reading Logs Back
//
// Read and analyze logs after a run:
//
//	entries, err := logging.ReadEntries("/path/to/taskferry.log")
//	if err != nil {
//	    return err
//	}
//
//	filter := logging.LogFilter{
//	    Level:     "WARN",
//	    Component: "submitter",
//	}
//	filtered := logging.FilterEntries(entries, filter)
//
//	logging.ExportEntries(filtered, "errors.csv", "csv")
package logging
