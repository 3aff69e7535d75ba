package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/lucasnoah/vigil/internal/baseline"
	"github.com/lucasnoah/vigil/internal/browser"
	"github.com/lucasnoah/vigil/internal/config"
	"github.com/lucasnoah/vigil/internal/db"
	"github.com/lucasnoah/vigil/internal/engine"
	"github.com/lucasnoah/vigil/internal/history"
	"github.com/lucasnoah/vigil/internal/journey"
	"github.com/lucasnoah/vigil/internal/policy"
	"github.com/spf13/cobra"
)

// ExitError carries the policy exit code to main after the verdict has
// already been printed.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("policy gate failed (exit %d)", e.Code)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run all configured journeys and flows once",
	Long: `Loads the vigil config, launches a headless browser, runs every journey
and flow, and prints the verdict. The process exit code follows the policy
gate: 0 when the policy passes (or no policy is configured), the policy's
exit code otherwise.

Browser launch failure is the only fatal fault; everything downstream of a
running browser resolves to data in the snapshot.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if errs := config.Validate(cfg); len(errs) > 0 {
			for _, e := range errs {
				fmt.Fprintf(cmd.ErrOrStderr(), "config: %s\n", e)
			}
			return fmt.Errorf("config has %d validation error(s)", len(errs))
		}

		reg, err := config.BuildRegistry(cfg)
		if err != nil {
			return fmt.Errorf("build registry: %w", err)
		}

		workers := cfg.Vigil.Concurrency.Workers
		if n, _ := cmd.Flags().GetInt("workers"); n > 0 {
			workers = n
		}
		failFast := cfg.Vigil.Concurrency.FailFast
		if cmd.Flags().Changed("fail-fast") {
			failFast, _ = cmd.Flags().GetBool("fail-fast")
		}

		hist, err := history.DefaultStore()
		if err != nil {
			return fmt.Errorf("open run history: %w", err)
		}
		bases, err := baseline.DefaultStore()
		if err != nil {
			return fmt.Errorf("open baseline store: %w", err)
		}

		// The event log is best-effort; a broken database degrades to a
		// warning, never a failed run.
		var eventLog *db.DB
		if path, dbErr := db.DefaultDBPath(); dbErr == nil {
			d, openErr := db.Open(path)
			if openErr == nil {
				if migErr := d.Migrate(); migErr == nil {
					eventLog = d
					defer d.Close()
				} else {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: event log unavailable: %v\n", migErr)
					d.Close()
				}
			} else {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: event log unavailable: %v\n", openErr)
			}
		}

		headless, _ := cmd.Flags().GetBool("headless")
		execPath, _ := cmd.Flags().GetString("browser-path")
		runtime, err := browser.NewChromeRuntime(cmd.Context(), browser.ChromeOptions{
			Headless: headless,
			ExecPath: execPath,
		})
		if err != nil {
			return fmt.Errorf("launch browser: %w", err)
		}
		defer runtime.Close()

		pool, err := browser.NewPool(runtime, workers)
		if err != nil {
			return fmt.Errorf("create page pool: %w", err)
		}
		defer pool.Close()

		var polDef *policy.Definition
		if cfg.Vigil.Policy != nil {
			polDef = &cfg.Vigil.Policy.Definition
		}

		eng := engine.New(pool, reg, hist, bases, eventLog, engine.Options{
			Target:      cfg.Vigil.Target,
			URL:         cfg.Vigil.URL,
			Workers:     workers,
			FailFast:    failFast,
			Policy:      polDef,
			Friction:    cfg.Vigil.Friction,
			StepTimeout: cfg.StepTimeout(),
			Progress:    cmd.ErrOrStderr(),
		})

		res, err := eng.Run(cmd.Context())
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			data, err := json.MarshalIndent(res.Snapshot, "", "  ")
			if err != nil {
				return fmt.Errorf("marshal snapshot: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
		} else {
			printVerdict(cmd.OutOrStdout(), res.Snapshot)
			fmt.Fprintf(cmd.OutOrStdout(), "\nSnapshot: %s\n",
				hist.RunDir(res.Snapshot.Meta.Target, res.Snapshot.Meta.RunID))
		}

		if res.ExitCode != 0 {
			return &ExitError{Code: res.ExitCode}
		}
		return nil
	},
}

func printVerdict(w io.Writer, snap *journey.RunSnapshot) {
	v := snap.Verdict
	fmt.Fprintf(w, "Run %s on %s\n", snap.Meta.RunID, snap.Meta.Target)
	fmt.Fprintf(w, "Verdict: %s (%s confidence)\n", v.Verdict, v.Confidence.Level)
	fmt.Fprintf(w, "  %s\n", v.Why)

	if len(v.KeyFindings) > 0 {
		fmt.Fprintln(w, "Key findings:")
		for _, f := range v.KeyFindings {
			fmt.Fprintf(w, "  - %s\n", f)
		}
	}
	if len(v.Limits) > 0 {
		fmt.Fprintln(w, "Limits:")
		for _, l := range v.Limits {
			fmt.Fprintf(w, "  - %s\n", l)
		}
	}

	if diff := snap.BaselineDiff; diff != nil {
		if len(diff.Regressions) > 0 {
			fmt.Fprintf(w, "Regressions vs baseline %s:\n", diff.BaselineRunID)
			for _, r := range diff.Regressions {
				fmt.Fprintf(w, "  - %s: %s -> %s\n", r.AttemptID, r.From, r.To)
			}
		}
		if len(diff.Improvements) > 0 {
			fmt.Fprintf(w, "Improvements vs baseline %s:\n", diff.BaselineRunID)
			for _, i := range diff.Improvements {
				fmt.Fprintf(w, "  - %s: %s -> %s\n", i.AttemptID, i.From, i.To)
			}
		}
	}

	fmt.Fprintf(w, "Policy: %s\n", snap.PolicyEvaluation.Summary)
	for _, r := range snap.PolicyEvaluation.Reasons {
		fmt.Fprintf(w, "  - [%s] %s\n", r.Code, r.Message)
	}
}

func init() {
	runCmd.Flags().StringVarP(&configFile, "file", "f", "", "path to vigil config file")
	runCmd.Flags().Int("workers", 0, "Override the configured worker count")
	runCmd.Flags().Bool("fail-fast", false, "Stop dispatching new journeys after any hard failure")
	runCmd.Flags().Bool("headless", true, "Run the browser headless")
	runCmd.Flags().String("browser-path", "", "Path to the browser binary (default: auto-detect)")
	runCmd.Flags().String("format", "text", "Output format: text or json")
}
