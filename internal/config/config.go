package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/taskferry/taskferry/internal/monitor"
	"github.com/taskferry/taskferry/internal/submit"
)

// Config represents the complete taskferry configuration
type Config struct {
	Service    ServiceConfig    `mapstructure:"service"`
	Submit     SubmitConfig     `mapstructure:"submit"`
	Monitor    MonitorConfig    `mapstructure:"monitor"`
	Collection CollectionConfig `mapstructure:"collection"`
	Spool      SpoolConfig      `mapstructure:"spool"`
	TUI        TUIConfig        `mapstructure:"tui"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServiceConfig describes the batch service that receives the tasks
type ServiceConfig struct {
	// Endpoint is the base URL of the batch service (e.g. "https://batch.example.com")
	Endpoint string `mapstructure:"endpoint"`
	// JobID is the job all task operations are scoped to
	JobID string `mapstructure:"job_id"`
	// APIKey is the bearer token sent with every request (empty = no auth)
	APIKey string `mapstructure:"api_key"`
	// TimeoutSeconds bounds a single HTTP exchange (0 = no timeout).
	// Submission attempts run as long as the service needs by default.
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// SubmitConfig controls how the task collection is chunked and submitted
type SubmitConfig struct {
	// MaxTasksPerRequest is the per-request task ceiling the windows are cut to (default: 100)
	MaxTasksPerRequest int `mapstructure:"max_tasks_per_request"`
	// MaxParallel caps how many windows are submitted concurrently (0 = min(4*CPU, 32))
	MaxParallel int `mapstructure:"max_parallel"`
}

// MonitorConfig controls the completion watch after submission
type MonitorConfig struct {
	// PollIntervalSeconds is how often completion counts are polled (default: 2)
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds"`
	// UnvalidatedThreshold is how many consecutive unvalidated polls trigger
	// a per-task enumeration probe (default: 10)
	UnvalidatedThreshold int `mapstructure:"unvalidated_threshold"`
	// SnapshotEvery is the diagnostic snapshot cadence in polls (default: 15)
	SnapshotEvery int `mapstructure:"snapshot_every"`
}

// CollectionConfig controls how the task collection file is loaded
type CollectionConfig struct {
	// File is the collection file submitted when no argument is given (default: "tasks.yaml")
	File string `mapstructure:"file"`
	// Include restricts submission to tasks whose ids match any of these glob patterns
	Include []string `mapstructure:"include"`
	// Exclude drops tasks whose ids match any of these glob patterns.
	// Exclusion wins over inclusion.
	Exclude []string `mapstructure:"exclude"`
}

// SpoolConfig controls the spool directory watched by `taskferry watch`
type SpoolConfig struct {
	// Dir is the directory watched for new collection files (empty = spooling off)
	Dir string `mapstructure:"dir"`
	// Pattern is the glob file names must match to be picked up (default: "*.yaml")
	Pattern string `mapstructure:"pattern"`
}

// TUIConfig controls the live progress display
type TUIConfig struct {
	// Enabled shows the live progress display when stdout is a terminal (default: true)
	Enabled bool `mapstructure:"enabled"`
	// MaxFailures caps how many failed tasks are listed in the run summary (0 = all)
	MaxFailures int `mapstructure:"max_failures"`
}

// LoggingConfig controls structured logging behavior
type LoggingConfig struct {
	// Enabled controls whether logging is on (default: true)
	Enabled bool `mapstructure:"enabled"`
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// Format is the log encoding: "text" or "json" (default: "text")
	Format string `mapstructure:"format"`
	// File, when set, sends logs to a size-rotated file instead of stderr
	File string `mapstructure:"file"`
	// MaxSizeMB is the max log file size in megabytes before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of rotated log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			Endpoint:       "",
			JobID:          "",
			APIKey:         "",
			TimeoutSeconds: 0, // No per-attempt deadline
		},
		Submit: SubmitConfig{
			MaxTasksPerRequest: submit.DefaultMaxTasksPerRequest,
			MaxParallel:        0, // Sized from CPU count
		},
		Monitor: MonitorConfig{
			PollIntervalSeconds:  int(monitor.DefaultPollInterval / time.Second),
			UnvalidatedThreshold: monitor.DefaultUnvalidatedThreshold,
			SnapshotEvery:        monitor.DefaultSnapshotEvery,
		},
		Collection: CollectionConfig{
			File:    "tasks.yaml",
			Include: []string{},
			Exclude: []string{},
		},
		Spool: SpoolConfig{
			Dir:     "",
			Pattern: "*.yaml",
		},
		TUI: TUIConfig{
			Enabled:     true,
			MaxFailures: 10,
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			Format:     "text",
			File:       "",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// Timeout returns the per-request timeout as a time.Duration (0 means no timeout)
func (c *ServiceConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// PollInterval returns the poll interval as a time.Duration
func (c *MonitorConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Service defaults
	viper.SetDefault("service.endpoint", defaults.Service.Endpoint)
	viper.SetDefault("service.job_id", defaults.Service.JobID)
	viper.SetDefault("service.api_key", defaults.Service.APIKey)
	viper.SetDefault("service.timeout_seconds", defaults.Service.TimeoutSeconds)

	// Submit defaults
	viper.SetDefault("submit.max_tasks_per_request", defaults.Submit.MaxTasksPerRequest)
	viper.SetDefault("submit.max_parallel", defaults.Submit.MaxParallel)

	// Monitor defaults
	viper.SetDefault("monitor.poll_interval_seconds", defaults.Monitor.PollIntervalSeconds)
	viper.SetDefault("monitor.unvalidated_threshold", defaults.Monitor.UnvalidatedThreshold)
	viper.SetDefault("monitor.snapshot_every", defaults.Monitor.SnapshotEvery)

	// Collection defaults
	viper.SetDefault("collection.file", defaults.Collection.File)
	viper.SetDefault("collection.include", defaults.Collection.Include)
	viper.SetDefault("collection.exclude", defaults.Collection.Exclude)

	// Spool defaults
	viper.SetDefault("spool.dir", defaults.Spool.Dir)
	viper.SetDefault("spool.pattern", defaults.Spool.Pattern)

	// TUI defaults
	viper.SetDefault("tui.enabled", defaults.TUI.Enabled)
	viper.SetDefault("tui.max_failures", defaults.TUI.MaxFailures)

	// Logging defaults
	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.format", defaults.Logging.Format)
	viper.SetDefault("logging.file", defaults.Logging.File)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Validate the configuration
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "taskferry")
	}
	// Fall back to ~/.config/taskferry
	home, err := os.UserHomeDir()
	if err != nil {
		return ".taskferry"
	}
	return filepath.Join(home, ".config", "taskferry")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
