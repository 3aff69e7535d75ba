// Package policy applies configured thresholds to the aggregate results of a
// run. Evaluation is a pure function: a PolicyViolation is a data result
// (passed=false), never an error, and reasons come out in a stable order so
// repeated evaluation of identical inputs is byte-identical.
package policy

import (
	"fmt"
	"sort"

	"github.com/lucasnoah/vigil/internal/journey"
)

// Definition declares the thresholds a run must satisfy.
type Definition struct {
	// MaxWarnings caps validator WARN results across all attempts. -1 means
	// no cap.
	MaxWarnings int `yaml:"max_warnings"`
	// MinCoverage is the minimum executed/planned attempt ratio in [0,1].
	MinCoverage float64 `yaml:"min_coverage"`
	// MinEvidenceCompleteness is the minimum evidence score in [0,1].
	MinEvidenceCompleteness float64 `yaml:"min_evidence_completeness"`
	// RequiredEvidence names evidence kinds that must be present
	// (screenshots, network, console, manifest).
	RequiredEvidence []string `yaml:"required_evidence"`
	// FailOnRegression fails the policy when the baseline diff contains any
	// regression.
	FailOnRegression bool `yaml:"fail_on_regression"`
	// FailOnFriction fails the policy when any attempt ended in friction.
	FailOnFriction bool `yaml:"fail_on_friction"`
	// MaxCriticalFailures caps FAILURE outcomes on critical-impact journeys.
	// Zero means any critical failure fails the policy.
	MaxCriticalFailures int `yaml:"max_critical_failures"`
	// Rules are optional custom expressions evaluated against the run
	// summary; each failing rule contributes its code as a reason.
	Rules []Rule `yaml:"rules"`
}

// Rule is one custom boolean expression over the run summary environment.
type Rule struct {
	Code string `yaml:"code"`
	Expr string `yaml:"expr"`
}

// Coverage describes how much of the plan actually executed.
type Coverage struct {
	Planned     int      `json:"planned"`
	Executed    int      `json:"executed"`
	SkipReasons []string `json:"skip_reasons,omitempty"`
}

// Ratio returns executed/planned, 1 for an empty plan.
func (c Coverage) Ratio() float64 {
	if c.Planned == 0 {
		return 1
	}
	return float64(c.Executed) / float64(c.Planned)
}

// Evidence describes which evidence kinds the run produced. The manifest
// flag flips between the two evaluation passes: the policy is evaluated once
// before the integrity manifest exists and once after.
type Evidence struct {
	Screenshots bool `json:"screenshots"`
	Network     bool `json:"network"`
	Console     bool `json:"console"`
	Manifest    bool `json:"manifest"`
}

// Completeness returns the fraction of evidence kinds present.
func (e Evidence) Completeness() float64 {
	kinds := []bool{e.Screenshots, e.Network, e.Console, e.Manifest}
	have := 0
	for _, k := range kinds {
		if k {
			have++
		}
	}
	return float64(have) / float64(len(kinds))
}

func (e Evidence) has(kind string) bool {
	switch kind {
	case "screenshots":
		return e.Screenshots
	case "network":
		return e.Network
	case "console":
		return e.Console
	case "manifest":
		return e.Manifest
	}
	return false
}

// Signals bundles everything the evaluator reads besides the attempt and
// flow results themselves.
type Signals struct {
	Coverage Coverage              `json:"coverage"`
	Evidence Evidence              `json:"evidence"`
	Diff     *journey.BaselineDiff `json:"diff,omitempty"`
}

// Evaluate applies def to the run. It is pure and deterministic; it is
// invoked twice per run by design — once before the integrity manifest is
// written (manifest evidence absent) and once after.
func Evaluate(attempts []journey.AttemptResult, flows []journey.FlowResult, sig Signals, def Definition) journey.PolicyEvaluation {
	var reasons []journey.Reason

	counts := countOutcomes(attempts)
	flowFailures := 0
	for _, f := range flows {
		if f.Outcome.FailureClass() {
			flowFailures++
		}
	}

	if def.MaxWarnings >= 0 {
		warnings := 0
		for _, a := range attempts {
			warnings += len(a.SoftFailures.Warnings)
		}
		if warnings > def.MaxWarnings {
			reasons = append(reasons, journey.Reason{
				Code:    "MAX_WARNINGS_EXCEEDED",
				Message: fmt.Sprintf("%d validator warnings, max %d", warnings, def.MaxWarnings),
			})
		}
	}

	if ratio := sig.Coverage.Ratio(); ratio < def.MinCoverage {
		reasons = append(reasons, journey.Reason{
			Code: "COVERAGE_BELOW_MINIMUM",
			Message: fmt.Sprintf("executed %d of %d planned attempts (%.2f < %.2f)",
				sig.Coverage.Executed, sig.Coverage.Planned, ratio, def.MinCoverage),
		})
	}

	if score := sig.Evidence.Completeness(); score < def.MinEvidenceCompleteness {
		reasons = append(reasons, journey.Reason{
			Code:    "EVIDENCE_INCOMPLETE",
			Message: fmt.Sprintf("evidence completeness %.2f below minimum %.2f", score, def.MinEvidenceCompleteness),
		})
	}

	for _, kind := range def.RequiredEvidence {
		if !sig.Evidence.has(kind) {
			reasons = append(reasons, journey.Reason{
				Code:    "REQUIRED_EVIDENCE_MISSING",
				Message: fmt.Sprintf("required evidence kind %q not present", kind),
			})
		}
	}

	if def.FailOnRegression && sig.Diff != nil && len(sig.Diff.Regressions) > 0 {
		reasons = append(reasons, journey.Reason{
			Code:    "BASELINE_REGRESSION",
			Message: fmt.Sprintf("%d attempt(s) regressed against baseline", len(sig.Diff.Regressions)),
		})
	}

	if def.FailOnFriction && counts.friction > 0 {
		reasons = append(reasons, journey.Reason{
			Code:    "FRICTION_PRESENT",
			Message: fmt.Sprintf("%d attempt(s) completed with friction", counts.friction),
		})
	}

	if counts.criticalFailures > def.MaxCriticalFailures {
		reasons = append(reasons, journey.Reason{
			Code: "CRITICAL_JOURNEY_FAILED",
			Message: fmt.Sprintf("%d critical-impact failure(s), max %d",
				counts.criticalFailures, def.MaxCriticalFailures),
		})
	}

	if flowFailures > 0 {
		reasons = append(reasons, journey.Reason{
			Code:    "FLOW_FAILED",
			Message: fmt.Sprintf("%d curated flow(s) failed", flowFailures),
		})
	}

	reasons = append(reasons, evalRules(def.Rules, ruleEnv(attempts, flows, sig, counts))...)

	// Stable order: code, then message. Required for byte-identical repeat
	// evaluation across the two per-run passes.
	sort.Slice(reasons, func(i, j int) bool {
		if reasons[i].Code != reasons[j].Code {
			return reasons[i].Code < reasons[j].Code
		}
		return reasons[i].Message < reasons[j].Message
	})

	eval := journey.PolicyEvaluation{
		Passed:  len(reasons) == 0,
		Reasons: reasons,
	}
	if eval.Passed {
		eval.ExitCode = 0
		eval.Summary = fmt.Sprintf("policy passed: %d/%d attempts executed", sig.Coverage.Executed, sig.Coverage.Planned)
	} else {
		eval.ExitCode = 1
		eval.Summary = fmt.Sprintf("policy failed with %d reason(s)", len(reasons))
	}
	return eval
}

type outcomeCounts struct {
	failures         int
	friction         int
	criticalFailures int
	successes        int
	skipped          int
}

func countOutcomes(attempts []journey.AttemptResult) outcomeCounts {
	var c outcomeCounts
	for _, a := range attempts {
		switch a.Outcome {
		case journey.OutcomeFailure, journey.OutcomeDiscoveryFailed:
			c.failures++
			if a.Impact == journey.SeverityCritical {
				c.criticalFailures++
			}
		case journey.OutcomeFriction:
			c.friction++
		case journey.OutcomeSuccess:
			c.successes++
		case journey.OutcomeSkipped, journey.OutcomeNotApplicable:
			c.skipped++
		}
	}
	return c
}
