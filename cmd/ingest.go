package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/subletwatch/subletwatch/internal/ingest"
	"github.com/subletwatch/subletwatch/internal/model"
)

var ingestContactID string

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>",
	Short: "Extract properties from an upload and queue a scan job",
	Long:  "Reads a property list (.csv, .txt or .xlsx), extracts UK postcodes, de-duplicates them, and creates a pending job ready to advance.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initScanEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		properties, err := extractFile(args[0])
		if err != nil {
			return err
		}
		if len(properties) == 0 {
			return eris.Errorf("no UK postcodes found in %s", args[0])
		}

		job, err := env.Scheduler.CreateJob(ctx, ingestContactID, properties)
		if err != nil {
			return err
		}

		estimate := env.Calculator.EstimateJob(len(properties), env.Platforms)
		zap.L().Info("job queued",
			zap.String("job_id", job.ID),
			zap.Int("properties", len(properties)),
			zap.Int("chunks", job.TotalChunks),
			zap.Int("estimated_credits", estimate),
		)

		fmt.Fprintf(cmd.OutOrStdout(), "job %s: %d properties in %d chunks, ~%d credits\n",
			job.ID, len(properties), job.TotalChunks, estimate)
		return nil
	},
}

func extractFile(path string) ([]model.Property, error) {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return ingest.ExtractPropertiesXLSX(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	content, err := ingest.ReadUpload(f)
	if err != nil {
		return nil, err
	}
	return ingest.ExtractProperties(content), nil
}

func init() {
	ingestCmd.Flags().StringVar(&ingestContactID, "contact", "", "client contact the properties belong to")
	rootCmd.AddCommand(ingestCmd)
}
