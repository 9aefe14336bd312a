package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/taskferry/taskferry/internal/collection"
	"github.com/taskferry/taskferry/internal/config"
	"github.com/taskferry/taskferry/internal/event"
	"github.com/taskferry/taskferry/internal/orchestrator"
	"github.com/taskferry/taskferry/internal/tui"
)

var submitCmd = &cobra.Command{
	Use:   "submit <collection.yaml>",
	Short: "Submit a task collection and wait for it to complete",
	Long: `Submit every task in a collection file to the configured batch
service, then poll the service until all accepted tasks reach a
terminal state.

The collection is split into bounded windows submitted in parallel.
Rejections the service marks permanent are reported and skipped;
transient server errors are resubmitted until the window settles.

Interrupting a run cancels cleanly: requests already on the wire are
drained, nothing is killed mid-flight.`,
	Args: cobra.ExactArgs(1),
	RunE: runSubmit,
}

var (
	submitJob         string
	submitNoMonitor   bool
	submitMaxParallel int
	submitInclude     []string
	submitExclude     []string
	submitNoTUI       bool
)

func init() {
	rootCmd.AddCommand(submitCmd)

	submitCmd.Flags().StringVar(&submitJob, "job", "", "Job ID to submit into (overrides config)")
	submitCmd.Flags().BoolVar(&submitNoMonitor, "no-monitor", false, "Submit only, do not wait for tasks to complete")
	submitCmd.Flags().IntVar(&submitMaxParallel, "max-parallel", 0, "Concurrent windows (0 sizes the pool from the CPU count)")
	submitCmd.Flags().StringSliceVar(&submitInclude, "include", nil, "Glob of task IDs to submit (repeatable)")
	submitCmd.Flags().StringSliceVar(&submitExclude, "exclude", nil, "Glob of task IDs to skip (repeatable)")
	submitCmd.Flags().BoolVar(&submitNoTUI, "no-tui", false, "Plain log output instead of the progress display")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	include := append(append([]string{}, cfg.Collection.Include...), submitInclude...)
	exclude := append(append([]string{}, cfg.Collection.Exclude...), submitExclude...)

	tasks, err := collection.Load(args[0], include, exclude)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		return fmt.Errorf("collection %s has no tasks after filtering", args[0])
	}

	log, closeLog, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	svc, err := newService(cfg, submitJob)
	if err != nil {
		return err
	}

	maxParallel := cfg.Submit.MaxParallel
	if submitMaxParallel > 0 {
		maxParallel = submitMaxParallel
	}

	bus := event.NewBus()
	orch := orchestrator.New(svc,
		orchestrator.WithLogger(log),
		orchestrator.WithBus(bus),
		orchestrator.WithMaxTasksPerRequest(cfg.Submit.MaxTasksPerRequest),
		orchestrator.WithMaxParallel(maxParallel),
		orchestrator.WithPollInterval(cfg.Monitor.PollInterval()),
		orchestrator.WithUnvalidatedThreshold(cfg.Monitor.UnvalidatedThreshold),
		orchestrator.WithSnapshotEvery(cfg.Monitor.SnapshotEvery),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		// After the first signal cancels the context, restore default
		// handling so a second interrupt exits immediately.
		<-ctx.Done()
		stop()
	}()

	watch := !submitNoMonitor

	if useTUI(cfg) {
		app := tui.New(bus, tui.WithMaxFailures(cfg.TUI.MaxFailures))
		_, err := app.Run(ctx, func(ctx context.Context) (*orchestrator.Report, error) {
			return orch.Run(ctx, tasks, watch)
		})
		return err
	}

	report, err := orch.Run(ctx, tasks, watch)
	if report != nil {
		printReport(report, cfg.TUI.MaxFailures)
	}
	return err
}

// useTUI reports whether the progress display should run: it has to be
// enabled, not overridden by --no-tui, and stdout must be a terminal.
func useTUI(cfg *config.Config) bool {
	if submitNoTUI || !cfg.TUI.Enabled {
		return false
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// printReport writes the plain-output run summary.
func printReport(report *orchestrator.Report, maxFailures int) {
	fmt.Printf("Run %s: %d accepted, %d rejected, %d requests in %s\n",
		report.RunID, len(report.Accepted), len(report.Failed),
		report.Requests, formatRunDuration(report.Duration))

	if report.Halvings > 0 {
		fmt.Printf("Oversized rejections absorbed by halving: %d\n", report.Halvings)
	}
	if report.RetryRounds > 0 {
		fmt.Printf("Server-error retry rounds: %d\n", report.RetryRounds)
	}
	if report.Monitor != nil && report.Monitor.Done() {
		fmt.Printf("All %d tasks completed after %d polls (%s)\n",
			report.Monitor.Total, report.Monitor.Polls,
			formatRunDuration(report.Monitor.Elapsed))
	}

	if len(report.Failed) == 0 {
		return
	}
	fmt.Println("\nRejected tasks:")
	for i, f := range report.Failed {
		if maxFailures > 0 && i >= maxFailures {
			fmt.Printf("  ... and %d more\n", len(report.Failed)-i)
			break
		}
		fmt.Printf("  %s  %s: %s\n", f.TaskID, f.Code, f.Message)
	}
}
