package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskferry/taskferry/internal/config"
	"github.com/taskferry/taskferry/internal/simulator"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a local batch service simulator",
	Long: `Run an in-memory batch service speaking the same REST surface as the
real thing, for local experiments:

  taskferry serve --auto-complete 3s &
  TASKFERRY_SERVICE_ENDPOINT=http://localhost:8080 \
    taskferry submit tasks.yaml --job demo

Accepted tasks start running immediately and, with --auto-complete,
finish on their own after the given delay.`,
	RunE: runServe,
}

var (
	serveAddr         string
	serveCeiling      int
	serveLatency      time.Duration
	serveAutoComplete time.Duration
	serveAPIKey       string
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "Listen address")
	serveCmd.Flags().IntVar(&serveCeiling, "ceiling", simulator.DefaultMaxTasksPerRequest, "Per-request task ceiling")
	serveCmd.Flags().DurationVar(&serveLatency, "latency", 0, "Added delay per request")
	serveCmd.Flags().DurationVar(&serveAutoComplete, "auto-complete", 5*time.Second, "Delay before accepted tasks complete (0 leaves them running)")
	serveCmd.Flags().StringVar(&serveAPIKey, "api-key", "", "Require this bearer token on every request")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	log, closeLog, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	svc := simulator.NewService(
		simulator.WithMaxTasksPerRequest(serveCeiling),
		simulator.WithAutoComplete(serveAutoComplete),
	)
	server := simulator.NewServer(svc,
		simulator.WithAPIKey(serveAPIKey),
		simulator.WithLatency(serveLatency),
		simulator.WithServerLogger(log),
	)

	httpServer := &http.Server{
		Addr:    serveAddr,
		Handler: server.Handler(),
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	fmt.Printf("Simulator listening on %s (ceiling %d tasks/request)\n", serveAddr, serveCeiling)

	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("simulator server: %w", err)
	}
	return nil
}
