package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/lucasnoah/vigil/internal/history"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Browse stored run snapshots",
}

var historyListCmd = &cobra.Command{
	Use:   "list <target>",
	Short: "List runs for a target, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := history.DefaultStore()
		if err != nil {
			return fmt.Errorf("open run history: %w", err)
		}

		snaps, err := store.List(args[0])
		if err != nil {
			return err
		}
		if len(snaps) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "No runs recorded for %s.\n", args[0])
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RUN\tTIME\tVERDICT\tCONFIDENCE\tEXECUTED\tPOLICY")
		for i := len(snaps) - 1; i >= 0; i-- {
			s := snaps[i]
			policyStr := "pass"
			if !s.PolicyEvaluation.Passed {
				policyStr = "fail"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%s\n",
				s.Meta.RunID,
				s.Meta.Timestamp.Format("2006-01-02 15:04:05"),
				s.Verdict.Verdict,
				s.Verdict.Confidence.Level,
				s.ExecutedAttempts(), len(s.Attempts),
				policyStr)
		}
		return w.Flush()
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <target> <run-id>",
	Short: "Show one run's snapshot",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := history.DefaultStore()
		if err != nil {
			return fmt.Errorf("open run history: %w", err)
		}

		snap, err := store.LoadSnapshot(args[0], args[1])
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			data, err := json.MarshalIndent(snap, "", "  ")
			if err != nil {
				return fmt.Errorf("marshal snapshot: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}

		printVerdict(cmd.OutOrStdout(), snap)

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "\nJOURNEY\tOUTCOME\tIMPACT\tDURATION\tFRICTION\tERROR")
		for _, a := range snap.Attempts {
			errStr := a.Error
			if len(errStr) > 50 {
				errStr = errStr[:47] + "..."
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%dms\t%d\t%s\n",
				a.AttemptID, a.Outcome, a.Impact, a.DurationMs, len(a.Friction.Signals), errStr)
		}
		return w.Flush()
	},
}

var historyVerifyCmd = &cobra.Command{
	Use:   "verify <target> <run-id>",
	Short: "Verify the integrity manifest of a run's artifacts",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := history.DefaultStore()
		if err != nil {
			return fmt.Errorf("open run history: %w", err)
		}

		dir := store.RunDir(args[0], args[1])
		mismatches, err := history.VerifyManifest(dir)
		if err != nil {
			return err
		}
		if len(mismatches) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "Manifest clean: all artifacts in %s match.\n", dir)
			return nil
		}

		fmt.Fprintln(cmd.OutOrStdout(), "Artifacts changed since the run was recorded:")
		for _, m := range mismatches {
			fmt.Fprintf(cmd.OutOrStdout(), "  - %s\n", m)
		}
		return fmt.Errorf("%d artifact(s) failed verification", len(mismatches))
	},
}

func init() {
	historyShowCmd.Flags().String("format", "text", "Output format: text or json")
	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyVerifyCmd)
}
