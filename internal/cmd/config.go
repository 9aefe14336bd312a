package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/taskferry/taskferry/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or modify taskferry configuration",
	Long: `View or modify taskferry configuration.

Without arguments, displays the current configuration.
Use subcommands to modify settings or create a config file.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the user's config file.

Keys use dot notation, e.g.:
  taskferry config set service.endpoint https://batch.example.com
  taskferry config set submit.max_tasks_per_request 50
  taskferry config set monitor.poll_interval_seconds 5

Valid keys:
  service.endpoint               - Batch service base URL
  service.job_id                 - Job the tasks belong to
  service.api_key                - Bearer token sent with every request
  service.timeout_seconds        - Per-request timeout (0 = none)
  submit.max_tasks_per_request   - Window width / request ceiling
  submit.max_parallel            - Concurrent windows (0 = from CPU count)
  monitor.poll_interval_seconds  - Seconds between completion polls
  monitor.unvalidated_threshold  - Unvalidated polls before enumerating
  monitor.snapshot_every         - Polls between snapshot log lines
  collection.file                - Default collection file
  spool.dir                      - Spool directory for watch mode
  spool.pattern                  - Glob for spool pickups
  tui.enabled                    - Progress display on a terminal (true/false)
  tui.max_failures               - Rejected tasks listed individually
  logging.enabled                - Structured logging (true/false)
  logging.level                  - debug, info, warn or error
  logging.format                 - text or json
  logging.file                   - Log file path (empty = stderr)
  logging.max_size_mb            - Log size before rotation
  logging.max_backups            - Rotated files to keep`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at ~/.config/taskferry/config.yaml with all available options.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	fmt.Println("Current configuration:")
	fmt.Println()

	// Show where config is being read from
	if viper.ConfigFileUsed() != "" {
		fmt.Printf("Config file: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Printf("Config file: (none - using defaults)\n")
	}
	fmt.Println()

	fmt.Println("service:")
	fmt.Printf("  endpoint: %s\n", cfg.Service.Endpoint)
	fmt.Printf("  job_id: %s\n", cfg.Service.JobID)
	if cfg.Service.APIKey != "" {
		fmt.Printf("  api_key: (set)\n")
	} else {
		fmt.Printf("  api_key: (not set)\n")
	}
	fmt.Printf("  timeout_seconds: %d\n", cfg.Service.TimeoutSeconds)

	fmt.Println("submit:")
	fmt.Printf("  max_tasks_per_request: %d\n", cfg.Submit.MaxTasksPerRequest)
	fmt.Printf("  max_parallel: %d\n", cfg.Submit.MaxParallel)

	fmt.Println("monitor:")
	fmt.Printf("  poll_interval_seconds: %d\n", cfg.Monitor.PollIntervalSeconds)
	fmt.Printf("  unvalidated_threshold: %d\n", cfg.Monitor.UnvalidatedThreshold)
	fmt.Printf("  snapshot_every: %d\n", cfg.Monitor.SnapshotEvery)

	fmt.Println("collection:")
	fmt.Printf("  file: %s\n", cfg.Collection.File)
	fmt.Printf("  include: %v\n", cfg.Collection.Include)
	fmt.Printf("  exclude: %v\n", cfg.Collection.Exclude)

	fmt.Println("spool:")
	fmt.Printf("  dir: %s\n", cfg.Spool.Dir)
	fmt.Printf("  pattern: %s\n", cfg.Spool.Pattern)

	fmt.Println("tui:")
	fmt.Printf("  enabled: %v\n", cfg.TUI.Enabled)
	fmt.Printf("  max_failures: %d\n", cfg.TUI.MaxFailures)

	fmt.Println("logging:")
	fmt.Printf("  enabled: %v\n", cfg.Logging.Enabled)
	fmt.Printf("  level: %s\n", cfg.Logging.Level)
	fmt.Printf("  format: %s\n", cfg.Logging.Format)
	fmt.Printf("  file: %s\n", cfg.Logging.File)
	fmt.Printf("  max_size_mb: %d\n", cfg.Logging.MaxSizeMB)
	fmt.Printf("  max_backups: %d\n", cfg.Logging.MaxBackups)

	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	value := args[1]

	// Validate the key exists
	validKeys := map[string]string{
		"service.endpoint":              "string",
		"service.job_id":                "string",
		"service.api_key":               "string",
		"service.timeout_seconds":       "int",
		"submit.max_tasks_per_request":  "int",
		"submit.max_parallel":           "int",
		"monitor.poll_interval_seconds": "int",
		"monitor.unvalidated_threshold": "int",
		"monitor.snapshot_every":        "int",
		"collection.file":               "string",
		"spool.dir":                     "string",
		"spool.pattern":                 "string",
		"tui.enabled":                   "bool",
		"tui.max_failures":              "int",
		"logging.enabled":               "bool",
		"logging.level":                 "string",
		"logging.format":                "string",
		"logging.file":                  "string",
		"logging.max_size_mb":           "int",
		"logging.max_backups":           "int",
	}

	keyType, ok := validKeys[key]
	if !ok {
		return fmt.Errorf("unknown configuration key: %s\nRun 'taskferry config set --help' to see valid keys", key)
	}

	// Validate the value based on type
	var typedValue any
	switch keyType {
	case "string":
		typedValue = value
	case "bool":
		if value != "true" && value != "false" {
			return fmt.Errorf("invalid value for %s: expected true or false", key)
		}
		typedValue = value == "true"
	case "int":
		intVal, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for %s: expected integer", key)
		}
		typedValue = intVal
	}

	// Set the value in viper, then validate the whole configuration
	// before anything is written
	viper.Set(key, typedValue)
	if _, err := config.Load(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Ensure config directory exists
	configDir := config.ConfigDir()
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Write to config file
	configFile := config.ConfigFile()
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Printf("Set %s = %v\n", key, typedValue)
	fmt.Printf("Config saved to %s\n", configFile)

	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	configDir := config.ConfigDir()
	configFile := config.ConfigFile()

	// Check if config file already exists
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s\nUse 'taskferry config set' to modify values", configFile)
	}

	// Create config directory
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Generate a commented config file
	configContent := `# Taskferry Configuration

# Batch service connection
service:
  # Base URL of the batch service
  endpoint: ""
  # Job the submitted tasks belong to
  job_id: ""
  # Bearer token sent with every request (empty for none)
  api_key: ""
  # Per-request timeout in seconds (0 = no timeout; the adaptive
  # submitter handles slow requests by halving, not by deadline)
  timeout_seconds: 0

# Submission settings
submit:
  # Window width and per-request ceiling
  max_tasks_per_request: 100
  # Concurrent windows (0 sizes the pool from the CPU count)
  max_parallel: 0

# Completion monitoring
monitor:
  # Seconds between polls
  poll_interval_seconds: 2
  # Consecutive unvalidated polls before enumerating task states
  unvalidated_threshold: 10
  # Polls between snapshot log lines
  snapshot_every: 15

# Default collection settings
collection:
  file: tasks.yaml
  # Task id globs; empty include means everything
  include: []
  exclude: []

# Watch mode
spool:
  # Directory observed by 'taskferry watch' (empty disables)
  dir: ""
  pattern: "*.yaml"

# Progress display
tui:
  enabled: true
  # Rejected tasks listed individually before collapsing to a count
  max_failures: 10

# Structured logging
logging:
  enabled: true
  level: info
  format: text
  # Log file path (empty = stderr); rotated by size
  file: ""
  max_size_mb: 10
  max_backups: 3
`

	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Printf("Created config file at %s\n", configFile)
	fmt.Println("Edit this file to customize taskferry's behavior.")

	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	configFile := config.ConfigFile()

	if viper.ConfigFileUsed() != "" {
		fmt.Printf("Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Printf("Default path: %s (not created)\n", configFile)
	}

	// Also show config search paths
	fmt.Println("\nSearch paths:")
	fmt.Printf("  1. %s\n", filepath.Join(config.ConfigDir(), "config.yaml"))
	fmt.Printf("  2. $HOME/.config/taskferry/config.yaml\n")
	fmt.Printf("  3. ./config.yaml (current directory)\n")
	fmt.Println("\nEnvironment variables: TASKFERRY_* (e.g., TASKFERRY_SERVICE_ENDPOINT)")

	return nil
}
