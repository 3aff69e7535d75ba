package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/lucasnoah/vigil/internal/history"
	"github.com/lucasnoah/vigil/internal/patterns"
	"github.com/spf13/cobra"
)

var patternsCmd = &cobra.Command{
	Use:   "patterns <target>",
	Short: "Analyze recent runs for recurring behavioral patterns",
	Long: `Looks at the most recent runs for a target and reports multi-run signals
a single run cannot show: journeys that keep getting skipped, recurring
friction, single points of failure, and confidence degradation.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := history.DefaultStore()
		if err != nil {
			return fmt.Errorf("open run history: %w", err)
		}

		window, err := store.Window(args[0], patterns.WindowCap)
		if err != nil {
			return err
		}

		found := patterns.Analyze(window)

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			data, err := json.MarshalIndent(found, "", "  ")
			if err != nil {
				return fmt.Errorf("marshal patterns: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}

		if len(window) < 2 {
			fmt.Fprintf(cmd.OutOrStdout(), "Only %d run(s) recorded for %s; pattern analysis needs at least 2.\n",
				len(window), args[0])
			return nil
		}
		if len(found) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "No patterns across the last %d run(s) for %s.\n",
				len(window), args[0])
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TYPE\tPATH\tCONFIDENCE\tSUMMARY")
		for _, p := range found {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.Type, p.PathName, p.Confidence, p.Summary)
		}
		return w.Flush()
	},
}

func init() {
	patternsCmd.Flags().String("format", "text", "Output format: text or json")
}
