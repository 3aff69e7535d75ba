package cli

import (
	"encoding/json"
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/lucasnoah/vigil/internal/baseline"
	"github.com/lucasnoah/vigil/internal/history"
	"github.com/spf13/cobra"
)

var baselineCmd = &cobra.Command{
	Use:   "baseline",
	Short: "Inspect and reset per-target baselines",
}

var baselineShowCmd = &cobra.Command{
	Use:   "show <target>",
	Short: "Show the stored baseline outcomes for a target",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := baseline.DefaultStore()
		if err != nil {
			return fmt.Errorf("open baseline store: %w", err)
		}

		b, err := store.Load(args[0])
		if err != nil {
			return err
		}
		if b == nil {
			fmt.Fprintf(cmd.OutOrStdout(), "No baseline for %s. One is created on the first run.\n", args[0])
			return nil
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			data, err := json.MarshalIndent(b, "", "  ")
			if err != nil {
				return fmt.Errorf("marshal baseline: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Baseline for %s (run %s, created %s)\n",
			b.Target, b.RunID, b.CreatedAt.Format("2006-01-02 15:04:05"))

		ids := make([]string, 0, len(b.Attempts))
		for id := range b.Attempts {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "JOURNEY\tOUTCOME")
		for _, id := range ids {
			fmt.Fprintf(w, "%s\t%s\n", id, b.Attempts[id])
		}
		return w.Flush()
	},
}

var baselineCreateCmd = &cobra.Command{
	Use:   "create <target> <run-id>",
	Short: "Promote a stored run's outcomes to the baseline",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		hist, err := history.DefaultStore()
		if err != nil {
			return fmt.Errorf("open run history: %w", err)
		}
		snap, err := hist.LoadSnapshot(args[0], args[1])
		if err != nil {
			return err
		}

		store, err := baseline.DefaultStore()
		if err != nil {
			return fmt.Errorf("open baseline store: %w", err)
		}
		b, err := store.CreateFromSnapshot(snap)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Baseline for %s now tracks run %s (%d journeys).\n",
			b.Target, b.RunID, len(b.Attempts))
		return nil
	},
}

var baselineResetCmd = &cobra.Command{
	Use:   "reset <target>",
	Short: "Delete the baseline so the next run re-creates it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := baseline.DefaultStore()
		if err != nil {
			return fmt.Errorf("open baseline store: %w", err)
		}
		if err := store.Reset(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Baseline for %s reset.\n", args[0])
		return nil
	},
}

func init() {
	baselineShowCmd.Flags().String("format", "text", "Output format: text or json")
	baselineCmd.AddCommand(baselineShowCmd)
	baselineCmd.AddCommand(baselineCreateCmd)
	baselineCmd.AddCommand(baselineResetCmd)
}
