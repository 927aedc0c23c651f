package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/subletwatch/subletwatch/internal/model"
)

var advanceCmd = &cobra.Command{
	Use:   "advance <job-id>",
	Short: "Process the job's next chunk and move its cursor",
	Long:  "Scans one chunk of properties across all configured platforms, records outcomes, and advances the persisted cursor. Safe to re-run: a replayed chunk upserts the same outcome rows.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initScanEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		job, err := env.Scheduler.AdvanceChunk(ctx, args[0])
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "job %s: %s, chunk %d/%d\n",
			job.ID, job.Status, job.CurrentChunk, job.TotalChunks)
		if job.Status == model.JobStatusCompleted {
			printCounts(cmd, env, job.ID)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(advanceCmd)
}
