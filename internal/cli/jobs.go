package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vkaramfilov/milldeck/internal/backend"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs <job-id>",
	Short: "Check the status of an optimization job",
	Long: `Check the status of an optimization job on the backend, and print
its result when it has completed.

Examples:
  milldeck jobs 4bd0a7c1-8a7e-4a3f-9a91-2f6f6f1c2d10`,
	Args: cobra.ExactArgs(1),
	RunE: runJobs,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
}

func runJobs(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	jobID := args[0]

	status, err := client.JobStatus(ctx, jobID)
	if err != nil {
		return fmt.Errorf("job status: %w", err)
	}

	fmt.Printf("Job:    %s\n", jobID)
	fmt.Printf("State:  %s\n", status.Status)
	if status.Error != "" {
		fmt.Printf("Detail: %s\n", status.Error)
	}
	if status.DurationSeconds > 0 {
		fmt.Printf("Took:   %.1fs\n", status.DurationSeconds)
	}

	if status.Status != backend.JobStateCompleted {
		return nil
	}

	result, err := client.JobResult(ctx, jobID)
	if err != nil {
		return fmt.Errorf("job result: %w", err)
	}

	fmt.Printf("\nBest target:  %.3f (feasible=%v, success rate %.0f%%)\n",
		result.BestTarget, result.Feasible, result.SuccessRate*100)
	for id, v := range result.BestMV {
		fmt.Printf("  %-14s %.3f\n", id, v)
	}
	if len(result.BestCV) > 0 {
		fmt.Println("Predicted CVs:")
		for id, v := range result.BestCV {
			fmt.Printf("  %-14s %.3f\n", id, v)
		}
	}
	return nil
}
