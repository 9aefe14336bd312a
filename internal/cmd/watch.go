package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/taskferry/taskferry/internal/collection"
	"github.com/taskferry/taskferry/internal/config"
	"github.com/taskferry/taskferry/internal/event"
	"github.com/taskferry/taskferry/internal/orchestrator"
	"github.com/taskferry/taskferry/internal/spool"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch a spool directory and submit dropped collections",
	Long: `Watch a spool directory for collection files and submit each one as
its own run. A processed file is renamed with a .done suffix, a file
whose run failed with .failed, so every drop is picked up exactly once.

Runs happen one at a time in drop order. Interrupting waits for the
current run to drain and leaves unprocessed files in place for the
next start.`,
	RunE: runWatch,
}

var (
	watchDir       string
	watchJob       string
	watchNoMonitor bool
)

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringVar(&watchDir, "dir", "", "Spool directory (overrides config)")
	watchCmd.Flags().StringVar(&watchJob, "job", "", "Job ID to submit into (overrides config)")
	watchCmd.Flags().BoolVar(&watchNoMonitor, "no-monitor", false, "Submit only, do not wait for tasks to complete")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	dir := cfg.Spool.Dir
	if watchDir != "" {
		dir = watchDir
	}
	if dir == "" {
		return fmt.Errorf("spool directory not configured (set spool.dir or pass --dir)")
	}

	log, closeLog, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	svc, err := newService(cfg, watchJob)
	if err != nil {
		return err
	}

	bus := event.NewBus()
	orch := orchestrator.New(svc,
		orchestrator.WithLogger(log),
		orchestrator.WithBus(bus),
		orchestrator.WithMaxTasksPerRequest(cfg.Submit.MaxTasksPerRequest),
		orchestrator.WithMaxParallel(cfg.Submit.MaxParallel),
		orchestrator.WithPollInterval(cfg.Monitor.PollInterval()),
		orchestrator.WithUnvalidatedThreshold(cfg.Monitor.UnvalidatedThreshold),
		orchestrator.WithSnapshotEvery(cfg.Monitor.SnapshotEvery),
	)

	run := func(ctx context.Context, path string) error {
		tasks, err := collection.Load(path, cfg.Collection.Include, cfg.Collection.Exclude)
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			return fmt.Errorf("no tasks after filtering")
		}

		report, err := orch.Run(ctx, tasks, !watchNoMonitor)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d accepted, %d rejected, %d requests in %s\n",
			path, len(report.Accepted), len(report.Failed),
			report.Requests, formatRunDuration(report.Duration))
		return nil
	}

	watcher, err := spool.New(dir, cfg.Spool.Pattern, run, spool.WithLogger(log))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		stop()
	}()

	fmt.Printf("Watching %s for %s files (Ctrl+C to stop)\n", dir, cfg.Spool.Pattern)

	if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
