package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/gobwas/glob"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "submit.max_tasks_per_request")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidLogFormats returns the list of valid log output formats
func ValidLogFormats() []string {
	return []string{"text", "json"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	// Validate Service config
	errors = append(errors, c.validateService()...)

	// Validate Submit config
	errors = append(errors, c.validateSubmit()...)

	// Validate Monitor config
	errors = append(errors, c.validateMonitor()...)

	// Validate Collection config
	errors = append(errors, c.validateCollection()...)

	// Validate Spool config
	errors = append(errors, c.validateSpool()...)

	// Validate TUI config
	errors = append(errors, c.validateTUI()...)

	// Validate Logging config
	errors = append(errors, c.validateLogging()...)

	return errors
}

// validateService validates the ServiceConfig
func (c *Config) validateService() []ValidationError {
	var errors []ValidationError

	// Endpoint is optional at load time (commands that talk to the service
	// require it at the point of use), but when set it must be a usable URL
	if c.Service.Endpoint != "" {
		u, err := url.Parse(c.Service.Endpoint)
		if err != nil {
			errors = append(errors, ValidationError{
				Field:   "service.endpoint",
				Value:   c.Service.Endpoint,
				Message: "must be a valid URL",
			})
		} else if u.Scheme != "http" && u.Scheme != "https" {
			errors = append(errors, ValidationError{
				Field:   "service.endpoint",
				Value:   c.Service.Endpoint,
				Message: "must use the http or https scheme",
			})
		} else if u.Host == "" {
			errors = append(errors, ValidationError{
				Field:   "service.endpoint",
				Value:   c.Service.Endpoint,
				Message: "must include a host",
			})
		}
	}

	// Zero disables the per-request timeout
	if c.Service.TimeoutSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "service.timeout_seconds",
			Value:   c.Service.TimeoutSeconds,
			Message: "must be non-negative",
		})
	}

	return errors
}

// validateSubmit validates the SubmitConfig
func (c *Config) validateSubmit() []ValidationError {
	var errors []ValidationError

	// The ceiling here is a sanity bound on the configured window width;
	// the service's real per-request limit is discovered at runtime
	const maxTasksPerRequestLimit = 1000
	if c.Submit.MaxTasksPerRequest < 1 {
		errors = append(errors, ValidationError{
			Field:   "submit.max_tasks_per_request",
			Value:   c.Submit.MaxTasksPerRequest,
			Message: "must be at least 1",
		})
	} else if c.Submit.MaxTasksPerRequest > maxTasksPerRequestLimit {
		errors = append(errors, ValidationError{
			Field:   "submit.max_tasks_per_request",
			Value:   c.Submit.MaxTasksPerRequest,
			Message: fmt.Sprintf("exceeds maximum of %d", maxTasksPerRequestLimit),
		})
	}

	const maxParallelLimit = 128
	if c.Submit.MaxParallel < 0 {
		errors = append(errors, ValidationError{
			Field:   "submit.max_parallel",
			Value:   c.Submit.MaxParallel,
			Message: "must be non-negative (0 sizes the pool from the CPU count)",
		})
	} else if c.Submit.MaxParallel > maxParallelLimit {
		errors = append(errors, ValidationError{
			Field:   "submit.max_parallel",
			Value:   c.Submit.MaxParallel,
			Message: fmt.Sprintf("exceeds maximum of %d", maxParallelLimit),
		})
	}

	return errors
}

// validateMonitor validates the MonitorConfig
func (c *Config) validateMonitor() []ValidationError {
	var errors []ValidationError

	const maxPollIntervalSeconds = 3600
	if c.Monitor.PollIntervalSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "monitor.poll_interval_seconds",
			Value:   c.Monitor.PollIntervalSeconds,
			Message: "must be at least 1",
		})
	} else if c.Monitor.PollIntervalSeconds > maxPollIntervalSeconds {
		errors = append(errors, ValidationError{
			Field:   "monitor.poll_interval_seconds",
			Value:   c.Monitor.PollIntervalSeconds,
			Message: fmt.Sprintf("exceeds maximum of %d seconds", maxPollIntervalSeconds),
		})
	}

	const maxUnvalidatedThreshold = 1000
	if c.Monitor.UnvalidatedThreshold < 1 {
		errors = append(errors, ValidationError{
			Field:   "monitor.unvalidated_threshold",
			Value:   c.Monitor.UnvalidatedThreshold,
			Message: "must be at least 1",
		})
	} else if c.Monitor.UnvalidatedThreshold > maxUnvalidatedThreshold {
		errors = append(errors, ValidationError{
			Field:   "monitor.unvalidated_threshold",
			Value:   c.Monitor.UnvalidatedThreshold,
			Message: fmt.Sprintf("exceeds maximum of %d", maxUnvalidatedThreshold),
		})
	}

	const maxSnapshotEvery = 10000
	if c.Monitor.SnapshotEvery < 1 {
		errors = append(errors, ValidationError{
			Field:   "monitor.snapshot_every",
			Value:   c.Monitor.SnapshotEvery,
			Message: "must be at least 1",
		})
	} else if c.Monitor.SnapshotEvery > maxSnapshotEvery {
		errors = append(errors, ValidationError{
			Field:   "monitor.snapshot_every",
			Value:   c.Monitor.SnapshotEvery,
			Message: fmt.Sprintf("exceeds maximum of %d", maxSnapshotEvery),
		})
	}

	return errors
}

// validateCollection validates the CollectionConfig
func (c *Config) validateCollection() []ValidationError {
	var errors []ValidationError

	errors = append(errors, validateFilePath(c.Collection.File, "collection.file")...)
	errors = append(errors, validatePatternList(c.Collection.Include, "collection.include")...)
	errors = append(errors, validatePatternList(c.Collection.Exclude, "collection.exclude")...)

	return errors
}

// validateSpool validates the SpoolConfig
func (c *Config) validateSpool() []ValidationError {
	var errors []ValidationError

	errors = append(errors, validateFilePath(c.Spool.Dir, "spool.dir")...)

	// An empty pattern would match nothing the watcher sees
	if c.Spool.Pattern == "" {
		errors = append(errors, ValidationError{
			Field:   "spool.pattern",
			Value:   c.Spool.Pattern,
			Message: "cannot be empty",
		})
	} else if _, err := glob.Compile(c.Spool.Pattern); err != nil {
		errors = append(errors, ValidationError{
			Field:   "spool.pattern",
			Value:   c.Spool.Pattern,
			Message: fmt.Sprintf("invalid glob pattern: %v", err),
		})
	}

	return errors
}

// validateTUI validates the TUIConfig
func (c *Config) validateTUI() []ValidationError {
	var errors []ValidationError

	if c.TUI.MaxFailures < 0 {
		errors = append(errors, ValidationError{
			Field:   "tui.max_failures",
			Value:   c.TUI.MaxFailures,
			Message: "must be non-negative (0 lists every failure)",
		})
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	// Log level must be valid if set
	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	// Log format must be valid if set
	if c.Logging.Format != "" && !slices.Contains(ValidLogFormats(), c.Logging.Format) {
		errors = append(errors, ValidationError{
			Field:   "logging.format",
			Value:   c.Logging.Format,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogFormats(), ", ")),
		})
	}

	errors = append(errors, validateFilePath(c.Logging.File, "logging.file")...)

	// Max size must be positive
	const maxLogSizeMB = 1000
	if c.Logging.MaxSizeMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	} else if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	// Max backups must be non-negative
	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}

// validateFilePath checks a path value for characters and lengths no
// filesystem accepts. An empty path is valid; sections treat empty as unset.
func validateFilePath(path, field string) []ValidationError {
	var errors []ValidationError

	if path == "" {
		return errors
	}

	// Check for null bytes which are invalid in paths
	if strings.ContainsRune(path, '\x00') {
		errors = append(errors, ValidationError{
			Field:   field,
			Value:   path,
			Message: "path contains invalid null character",
		})
	}

	// Reasonable path length limit (most filesystems have limits around 4096)
	const maxPathLength = 4096
	if len(path) > maxPathLength {
		errors = append(errors, ValidationError{
			Field:   field,
			Value:   path,
			Message: fmt.Sprintf("path exceeds maximum length of %d characters", maxPathLength),
		})
	}

	return errors
}

// validatePatternList validates a list of task id glob patterns
func validatePatternList(patterns []string, fieldPrefix string) []ValidationError {
	var errors []ValidationError

	seen := make(map[string]bool)

	for i, pattern := range patterns {
		fieldName := fmt.Sprintf("%s[%d]", fieldPrefix, i)

		// Pattern cannot be empty
		if strings.TrimSpace(pattern) == "" {
			errors = append(errors, ValidationError{
				Field:   fieldName,
				Value:   pattern,
				Message: "pattern cannot be empty",
			})
			continue
		}

		if _, err := glob.Compile(pattern); err != nil {
			errors = append(errors, ValidationError{
				Field:   fieldName,
				Value:   pattern,
				Message: fmt.Sprintf("invalid glob pattern: %v", err),
			})
		}

		if seen[pattern] {
			errors = append(errors, ValidationError{
				Field:   fieldName,
				Value:   pattern,
				Message: "duplicate pattern",
			})
		}
		seen[pattern] = true
	}

	return errors
}
