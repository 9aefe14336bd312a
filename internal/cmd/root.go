package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/taskferry/taskferry/internal/batch/rest"
	"github.com/taskferry/taskferry/internal/config"
	"github.com/taskferry/taskferry/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "taskferry",
	Short: "Submit large task collections to a batch service",
	Long: `Taskferry submits a pre-computed task collection to a remote batch
service in bounded windows, adapting to per-request ceilings and
transient failures, then polls the service until every task reaches a
terminal state.`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/taskferry/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath("$HOME/.config/taskferry")
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("TASKFERRY")
	// Replace dots with underscores for nested keys in env vars
	// e.g., TASKFERRY_SERVICE_ENDPOINT for service.endpoint
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}

// newLogger builds the run logger from the logging section. The
// returned close function flushes the rotated file sink, if any.
func newLogger(cfg *config.Config) (*logging.Logger, func(), error) {
	if !cfg.Logging.Enabled {
		return logging.NopLogger(), func() {}, nil
	}

	log, err := logging.New(logging.Options{
		Level:    cfg.Logging.Level,
		Format:   cfg.Logging.Format,
		FilePath: cfg.Logging.File,
		Rotation: logging.RotationConfig{
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logging: %w", err)
	}
	return log, func() { _ = log.Close() }, nil
}

// newService builds the REST client for the configured endpoint. The
// job id defaults to the service section and can be overridden per
// command with --job.
func newService(cfg *config.Config, jobOverride string) (*rest.Client, error) {
	jobID := cfg.Service.JobID
	if jobOverride != "" {
		jobID = jobOverride
	}
	if cfg.Service.Endpoint == "" {
		return nil, fmt.Errorf("service endpoint not configured (set service.endpoint or TASKFERRY_SERVICE_ENDPOINT)")
	}
	if jobID == "" {
		return nil, fmt.Errorf("job id not configured (set service.job_id or pass --job)")
	}

	opts := []rest.Option{}
	if cfg.Service.APIKey != "" {
		opts = append(opts, rest.WithAPIKey(cfg.Service.APIKey))
	}
	if cfg.Service.TimeoutSeconds > 0 {
		opts = append(opts, rest.WithTimeout(cfg.Service.Timeout()))
	}
	return rest.NewClient(cfg.Service.Endpoint, jobID, opts...)
}

// formatRunDuration renders run durations for summaries.
func formatRunDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}
