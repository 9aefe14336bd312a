// Package logging provides structured logging for taskferry runs.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// RotationConfig holds configuration for log rotation.
type RotationConfig struct {
	// MaxSizeMB is the maximum size of a log file in megabytes before
	// rotation. A value of 0 disables rotation.
	MaxSizeMB int
	// MaxBackups is the number of old log files to keep.
	// A value of 0 keeps no backups.
	MaxBackups int
}

// DefaultRotationConfig returns a RotationConfig with sensible defaults.
func DefaultRotationConfig() RotationConfig {
	return RotationConfig{
		MaxSizeMB:  10,
		MaxBackups: 3,
	}
}

// RotatingWriter is an io.Writer that appends to a file and rotates it by
// size. Backups are numbered filePath.1 (newest) through filePath.N
// (oldest). It is safe for concurrent use.
type RotatingWriter struct {
	mu sync.Mutex

	filePath   string
	maxSizeB   int64
	maxBackups int

	file        *os.File
	currentSize int64
}

// NewRotatingWriter creates a RotatingWriter for filePath, creating parent
// directories as needed. With a MaxSizeMB of 0 the writer never rotates.
func NewRotatingWriter(filePath string, config RotationConfig) (*RotatingWriter, error) {
	rw := &RotatingWriter{
		filePath:   filePath,
		maxSizeB:   int64(config.MaxSizeMB) * 1024 * 1024,
		maxBackups: config.MaxBackups,
	}

	if err := rw.open(); err != nil {
		return nil, err
	}

	return rw, nil
}

// open opens the log file for appending and records its current size.
// The caller must hold the mutex.
func (rw *RotatingWriter) open() error {
	if err := os.MkdirAll(filepath.Dir(rw.filePath), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(rw.filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}

	rw.file = file
	rw.currentSize = info.Size()
	return nil
}

// Write implements io.Writer. It rotates the file first when the write
// would push it past the size limit.
func (rw *RotatingWriter) Write(p []byte) (n int, err error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.file == nil {
		return 0, fmt.Errorf("log file is closed")
	}

	if rw.maxSizeB > 0 && rw.currentSize+int64(len(p)) > rw.maxSizeB {
		if err := rw.rotate(); err != nil {
			// Rotation failing must not lose log data; keep writing to the
			// current file and tell operators on stderr.
			fmt.Fprintf(os.Stderr, "Warning: log rotation failed: %v\n", err)
		}
	}

	n, err = rw.file.Write(p)
	rw.currentSize += int64(n)
	return n, err
}

// rotate shifts backups up by one, renames the live file to .1 and opens a
// fresh file. The caller must hold the mutex.
func (rw *RotatingWriter) rotate() error {
	if err := rw.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync log file: %w", err)
	}
	if err := rw.file.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	rw.file = nil

	rw.shiftBackups()

	if err := os.Rename(rw.filePath, rw.backupPath(1)); err != nil {
		// If rename fails, try to reopen the original file
		if openErr := rw.open(); openErr != nil {
			return fmt.Errorf("failed to rename log file and reopen: %w", openErr)
		}
		return fmt.Errorf("failed to rename log file: %w", err)
	}

	return rw.open()
}

// shiftBackups renumbers existing backups, dropping the oldest when the
// backup count is at its limit.
func (rw *RotatingWriter) shiftBackups() {
	if rw.maxBackups <= 0 {
		os.Remove(rw.backupPath(1))
		return
	}

	os.Remove(rw.backupPath(rw.maxBackups))

	for i := rw.maxBackups - 1; i >= 1; i-- {
		oldPath := rw.backupPath(i)
		if _, err := os.Stat(oldPath); err == nil {
			os.Rename(oldPath, rw.backupPath(i+1))
		}
	}
}

// backupPath returns the path for a backup file with the given number.
func (rw *RotatingWriter) backupPath(n int) string {
	return fmt.Sprintf("%s.%d", rw.filePath, n)
}

// Sync flushes any buffered data to the underlying file.
func (rw *RotatingWriter) Sync() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.file == nil {
		return nil
	}

	return rw.file.Sync()
}

// Close syncs and closes the underlying file.
func (rw *RotatingWriter) Close() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.file == nil {
		return nil
	}

	if err := rw.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync log file: %w", err)
	}

	if err := rw.file.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}

	rw.file = nil
	return nil
}

// CurrentSize returns the current size of the log file in bytes.
func (rw *RotatingWriter) CurrentSize() int64 {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.currentSize
}

// FilePath returns the path to the log file.
func (rw *RotatingWriter) FilePath() string {
	return rw.filePath
}
