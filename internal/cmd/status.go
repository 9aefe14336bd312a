package cmd

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/taskferry/taskferry/internal/batch"
	"github.com/taskferry/taskferry/internal/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show task counts for the configured job",
	Long: `Query the batch service once and print the task counts for the
configured job. With --list, also enumerate every task and its state.`,
	RunE: runStatus,
}

var (
	statusJob  string
	statusList bool
)

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().StringVar(&statusJob, "job", "", "Job ID to query (overrides config)")
	statusCmd.Flags().BoolVar(&statusList, "list", false, "List every task and its state")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	svc, err := newService(cfg, statusJob)
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	counts, err := svc.TaskCounts(ctx, 0)
	if err != nil {
		return fmt.Errorf("failed to fetch task counts: %w", err)
	}

	fmt.Printf("Job: %s\n\n", svc.JobID())
	fmt.Printf("Active:    %d\n", counts.Active)
	fmt.Printf("Running:   %d\n", counts.Running)
	fmt.Printf("Completed: %d\n", counts.Completed)
	fmt.Printf("Failed:    %d\n", counts.Failed)
	fmt.Printf("Total:     %d\n", counts.Total())
	if !counts.Validated {
		fmt.Println("\nCounts are unvalidated and may lag the true task states.")
	}

	if !statusList {
		return nil
	}

	states, err := svc.ListTaskStates(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tasks: %w", err)
	}

	slices.SortFunc(states, func(a, b batch.TaskState) int {
		return strings.Compare(a.ID, b.ID)
	})

	fmt.Printf("\nTasks (%d):\n", len(states))
	for _, s := range states {
		fmt.Printf("  %-40s %s\n", s.ID, s.State)
	}

	return nil
}
