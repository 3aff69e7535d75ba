package cli

import (
	"github.com/spf13/cobra"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var rootCmd = &cobra.Command{
	Use:   "vigil",
	Short: "vigil — deterministic journey monitoring for web applications",
	Long: `vigil runs scripted browser journeys against a web application and turns
what it observed into an evidence-backed verdict: outcomes per journey,
friction signals, baseline drift, policy gates, and multi-run patterns.

All state is stored in ~/.vigil/ (SQLite for events, JSON for snapshots
and baselines). Exit codes follow the policy gate so CI can consume runs
directly.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(baselineCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(patternsCmd)
	rootCmd.AddCommand(analyticsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(dbCmd)
}
