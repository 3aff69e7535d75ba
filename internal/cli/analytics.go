package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/lucasnoah/vigil/internal/analytics"
	"github.com/lucasnoah/vigil/internal/db"
	"github.com/spf13/cobra"
)

var analyticsCmd = &cobra.Command{
	Use:   "analytics",
	Short: "Query run performance analytics",
}

// openDB opens the event log for querying. The caller must invoke cleanup.
func openDB() (*db.DB, func(), error) {
	path, err := db.DefaultDBPath()
	if err != nil {
		return nil, nil, err
	}
	d, err := db.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open event log: %w", err)
	}
	if err := d.Migrate(); err != nil {
		d.Close()
		return nil, nil, fmt.Errorf("migrate event log: %w", err)
	}
	return d, func() { d.Close() }, nil
}

func writeJSON(cmd *cobra.Command, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

var analyticsDurationsCmd = &cobra.Command{
	Use:   "durations <target>",
	Short: "Average and percentile durations per journey",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, cleanup, err := openDB()
		if err != nil {
			return err
		}
		defer cleanup()

		since, _ := cmd.Flags().GetString("since")
		results, err := analytics.QueryAttemptDurations(d, args[0], since)
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			return writeJSON(cmd, results)
		}
		if len(results) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No attempt records found.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "JOURNEY\tCOUNT\tAVG\tP50\tP95")
		for _, r := range results {
			fmt.Fprintf(w, "%s\t%d\t%.0fms\t%.0fms\t%.0fms\n", r.AttemptID, r.Count, r.Avg, r.P50, r.P95)
		}
		return w.Flush()
	},
}

var analyticsRatesCmd = &cobra.Command{
	Use:   "rates <target>",
	Short: "Outcome distribution per journey",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, cleanup, err := openDB()
		if err != nil {
			return err
		}
		defer cleanup()

		since, _ := cmd.Flags().GetString("since")
		results, err := analytics.QueryOutcomeRates(d, args[0], since)
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			return writeJSON(cmd, results)
		}
		if len(results) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No attempt records found.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "JOURNEY\tTOTAL\tSUCCESS\tFRICTION\tFAILURE\tDISCOVERY\tSKIPPED\tAVG RETRIES")
		for _, r := range results {
			fmt.Fprintf(w, "%s\t%d\t%.1f%%\t%.1f%%\t%.1f%%\t%.1f%%\t%.1f%%\t%.2f\n",
				r.AttemptID, r.Total, r.Success, r.Friction, r.Failure, r.Discovery, r.Skipped, r.AvgRetries)
		}
		return w.Flush()
	},
}

var analyticsFlakyCmd = &cobra.Command{
	Use:   "flaky <target>",
	Short: "Journeys that flip between success and failure across runs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, cleanup, err := openDB()
		if err != nil {
			return err
		}
		defer cleanup()

		since, _ := cmd.Flags().GetString("since")
		results, err := analytics.QueryFlakyAttempts(d, args[0], since)
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			return writeJSON(cmd, results)
		}
		if len(results) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No flaky journeys found.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "JOURNEY\tRUNS\tFLIP RATE")
		for _, r := range results {
			fmt.Fprintf(w, "%s\t%d\t%.1f%%\n", r.AttemptID, r.Total, r.FlipRate)
		}
		return w.Flush()
	},
}

var analyticsThroughputCmd = &cobra.Command{
	Use:   "throughput <target>",
	Short: "Run counts per week",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, cleanup, err := openDB()
		if err != nil {
			return err
		}
		defer cleanup()

		since, _ := cmd.Flags().GetString("since")
		results, err := analytics.QueryTargetThroughput(d, args[0], since)
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			return writeJSON(cmd, results)
		}
		if len(results) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No run records found.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "WEEK\tSTARTED\tFINISHED\tABORTED")
		for _, r := range results {
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", r.Period, r.Started, r.Finished, r.Aborted)
		}
		return w.Flush()
	},
}

var analyticsRunDetailCmd = &cobra.Command{
	Use:   "run-detail <run-id>",
	Short: "Full event timeline for one run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, cleanup, err := openDB()
		if err != nil {
			return err
		}
		defer cleanup()

		events, err := analytics.QueryRunDetail(d, args[0])
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			return writeJSON(cmd, events)
		}
		if len(events) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "No events recorded for run %s.\n", args[0])
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tTYPE\tEVENT\tDETAIL")
		for _, e := range events {
			detail := e.Detail
			if len(detail) > 60 {
				detail = detail[:57] + "..."
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Timestamp, e.Type, e.Event, detail)
		}
		return w.Flush()
	},
}

func init() {
	for _, c := range []*cobra.Command{
		analyticsDurationsCmd, analyticsRatesCmd, analyticsFlakyCmd, analyticsThroughputCmd,
	} {
		c.Flags().String("since", "", "Only include events at or after this timestamp (RFC3339)")
		c.Flags().String("format", "text", "Output format: text or json")
		analyticsCmd.AddCommand(c)
	}
	analyticsRunDetailCmd.Flags().String("format", "text", "Output format: text or json")
	analyticsCmd.AddCommand(analyticsRunDetailCmd)
}
