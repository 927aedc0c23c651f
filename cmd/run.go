package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run <job-id>",
	Short: "Process a job to completion, chunk by chunk",
	Long:  "Advances the job until it is terminal, resting between chunks. Interrupting leaves the job resumable from its cursor.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initScanEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		job, err := env.Scheduler.Run(ctx, args[0])
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "job %s: %s after %d chunks, %d credits spent\n",
			job.ID, job.Status, job.CurrentChunk, env.Calculator.Spent())
		printCounts(cmd, env, job.ID)
		return nil
	},
}

// printCounts writes the job's review-state tallies to the command output.
func printCounts(cmd *cobra.Command, env *scanEnv, jobID string) {
	counts, err := env.Store.CountOutcomes(cmd.Context(), jobID)
	if err != nil {
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "outcomes: %d pending, %d investigate, %d no_match, %d error\n",
		counts.Pending, counts.Investigate, counts.NoMatch, counts.Error)
}

func init() {
	rootCmd.AddCommand(runCmd)
}
