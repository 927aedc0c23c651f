package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/subletwatch/subletwatch/internal/model"
	"github.com/subletwatch/subletwatch/internal/store"
)

// -- outcomes --

var outcomesCmd = &cobra.Command{
	Use:   "outcomes <job-id>",
	Short: "List a job's match outcomes",
	Long:  "Lists outcome rows with the detector's evidence and a suggested decision for anything still pending.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		platform, _ := cmd.Flags().GetString("platform")
		state, _ := cmd.Flags().GetString("state")

		outcomes, err := st.ListOutcomes(ctx, store.OutcomeFilter{
			JobID:    args[0],
			Platform: model.Platform(platform),
			Outcome:  model.OutcomeState(state),
		})
		if err != nil {
			return eris.Wrap(err, "outcomes list")
		}

		if len(outcomes) == 0 {
			fmt.Fprintln(os.Stderr, "No outcomes found.")
			return nil
		}

		formatOutcomesList(os.Stdout, outcomes)
		return nil
	},
}

// -- review --

var (
	reviewDecision string
	reviewReviewer string
)

var reviewCmd = &cobra.Command{
	Use:   "review <job-id> <postcode> <platform>",
	Short: "Record a reviewer decision for one outcome",
	Long:  "Moves a pending outcome to investigate or no_match. Decisions are final: a decided outcome cannot be reviewed again.",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("review"); err != nil {
			return err
		}

		platform, ok := model.ParsePlatform(args[2])
		if !ok {
			return eris.Errorf("unknown platform: %s", args[2])
		}
		decision := model.OutcomeState(reviewDecision)
		if !decision.ReviewDecision() {
			return eris.Errorf("decision must be investigate or no_match, got %q", reviewDecision)
		}
		if reviewReviewer == "" {
			return eris.New("--reviewer is required")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		if err := st.ReviewOutcome(ctx, args[0], args[1], platform, decision, reviewReviewer); err != nil {
			return eris.Wrap(err, "review outcome")
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s %s on %s: %s\n", args[0], args[1], platform, decision)
		return nil
	},
}

func init() {
	outcomesCmd.Flags().String("platform", "", "filter by platform (airbnb, spareroom, gumtree)")
	outcomesCmd.Flags().String("state", "", "filter by outcome state (pending, investigate, no_match, error)")

	reviewCmd.Flags().StringVar(&reviewDecision, "decision", "", "reviewer decision: investigate or no_match")
	reviewCmd.Flags().StringVar(&reviewReviewer, "reviewer", "", "reviewer identity recorded with the decision")
	_ = reviewCmd.MarkFlagRequired("decision")

	rootCmd.AddCommand(outcomesCmd)
	rootCmd.AddCommand(reviewCmd)
}

// formatOutcomesList writes a tabular outcome listing to w.
func formatOutcomesList(out io.Writer, outcomes []model.MatchOutcome) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "POSTCODE\tPLATFORM\tSTATE\tFOUND\tMETHOD\tCONF\tSUGGESTED\tREVIEWER")
	for _, o := range outcomes {
		suggested := "-"
		if o.Outcome == model.OutcomePending {
			suggested = string(o.Suggested())
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\t%.1f\t%s\t%s\n",
			o.PropertyPostcode, o.Platform, o.Outcome, o.Found, o.Method,
			o.Confidence, suggested, o.ReviewedBy)
	}
	_ = w.Flush()
}
