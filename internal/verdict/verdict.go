// Package verdict aggregates attempt and flow outcomes, the policy result,
// and the baseline diff into the single canonical judgment for a run. The
// explanation is assembled from the same counts that drive the state
// transition, so explanation and verdict cannot disagree.
package verdict

import (
	"fmt"

	"github.com/lucasnoah/vigil/internal/journey"
)

// Inputs bundles everything the computer reads. Policy and Diff are nil when
// not available; a nil policy counts as "unset", not as a failure.
type Inputs struct {
	Policy   *journey.PolicyEvaluation
	Diff     *journey.BaselineDiff
	Flows    []journey.FlowResult
	Attempts []journey.AttemptResult
}

// Compute derives the verdict. Identical inputs always produce an identical
// verdict and score.
func Compute(in Inputs) journey.Verdict {
	c := count(in)

	switch {
	case c.executed == 0 && len(in.Flows) == 0:
		return insufficientData(in, c)
	case c.failures == 0 && c.friction == 0 && c.regressions == 0 && policyOK(in.Policy):
		return observed(in, c)
	default:
		return partial(in, c)
	}
}

type counts struct {
	planned     int
	executed    int
	successes   int
	failures    int
	friction    int
	skipped     int
	regressions int
	flowsRun    int
	flowsFailed int
	// worstFailedImpact is the highest market impact among failed attempts.
	worstFailedImpact journey.Severity
}

func count(in Inputs) counts {
	c := counts{planned: len(in.Attempts)}
	for _, a := range in.Attempts {
		switch a.Outcome {
		case journey.OutcomeSuccess:
			c.executed++
			c.successes++
		case journey.OutcomeFriction:
			c.executed++
			c.friction++
		case journey.OutcomeFailure, journey.OutcomeDiscoveryFailed:
			c.executed++
			c.failures++
			if impactRank(a.Impact) > impactRank(c.worstFailedImpact) {
				c.worstFailedImpact = a.Impact
			}
		case journey.OutcomeSkipped, journey.OutcomeNotApplicable:
			c.skipped++
		}
	}
	for _, f := range in.Flows {
		if f.Outcome.Executed() {
			c.flowsRun++
		}
		if f.Outcome.FailureClass() {
			c.flowsFailed++
			c.failures++
		}
	}
	if in.Diff != nil {
		c.regressions = len(in.Diff.Regressions)
	}
	return c
}

func policyOK(p *journey.PolicyEvaluation) bool {
	return p == nil || p.Passed
}

func impactRank(s journey.Severity) int {
	switch s {
	case journey.SeverityCritical:
		return 4
	case journey.SeverityHigh:
		return 3
	case journey.SeverityMedium:
		return 2
	case journey.SeverityLow:
		return 1
	}
	return 0
}

// score derives the deterministic confidence score.
//
// base 0.35 plus 0.5 * executed/planned, +0.10 for a clean run, -0.25 for
// any failure, -0.10 for friction, +0.05 when a baseline comparison exists.
// Clamped to [0,1]. The tiers are empirically tuned; do not "simplify".
func score(in Inputs, c counts) (float64, []string) {
	var reasons []string

	ratio := 1.0
	if c.planned > 0 {
		ratio = float64(c.executed) / float64(c.planned)
	}
	s := 0.35 + 0.5*ratio
	reasons = append(reasons, fmt.Sprintf("executed %d of %d planned attempts", c.executed, c.planned))

	if c.failures == 0 && c.friction == 0 {
		s += 0.10
		reasons = append(reasons, "no failures or friction observed")
	}
	if c.failures > 0 {
		s -= 0.25
		reasons = append(reasons, fmt.Sprintf("%d execution(s) failed", c.failures))
	}
	if c.friction > 0 {
		s -= 0.10
		reasons = append(reasons, fmt.Sprintf("%d execution(s) completed with friction", c.friction))
	}
	if in.Diff != nil {
		s += 0.05
		reasons = append(reasons, "compared against historical baseline")
	}

	if s < 0 {
		s = 0
	}
	if s > 1 {
		s = 1
	}
	return s, reasons
}

func level(s float64) journey.ConfidenceLevel {
	switch {
	case s >= 0.75:
		return journey.ConfidenceHigh
	case s >= 0.45:
		return journey.ConfidenceMedium
	default:
		return journey.ConfidenceLow
	}
}

func confidence(in Inputs, c counts) journey.Confidence {
	s, reasons := score(in, c)
	return journey.Confidence{Level: level(s), Score: s, Reasons: reasons}
}

func insufficientData(in Inputs, c counts) journey.Verdict {
	v := journey.Verdict{
		Verdict: journey.VerdictInsufficientData,
		Confidence: journey.Confidence{
			Level:   journey.ConfidenceLow,
			Score:   0,
			Reasons: []string{"no attempts or flows executed"},
		},
		Why: "nothing executed against the target, so no behavior was observed",
	}
	v.Limits = limits(in, c)
	return v
}

func observed(in Inputs, c counts) journey.Verdict {
	v := journey.Verdict{
		Verdict:    journey.VerdictObserved,
		Confidence: confidence(in, c),
		Why: fmt.Sprintf("%d execution(s) completed with no failures, no friction, and a passing policy",
			c.executed+c.flowsRun),
	}
	v.KeyFindings = findings(in)
	v.Limits = limits(in, c)
	return v
}

func partial(in Inputs, c counts) journey.Verdict {
	why := fmt.Sprintf("%d of %d execution(s) succeeded", c.successes, c.executed)
	switch {
	case c.failures > 0:
		why += fmt.Sprintf("; %d failed", c.failures)
		if c.worstFailedImpact != "" {
			why += fmt.Sprintf(" (highest market impact: %s)", c.worstFailedImpact)
		}
	case c.friction > 0:
		why += fmt.Sprintf("; %d completed with friction", c.friction)
	case c.regressions > 0:
		why += fmt.Sprintf("; %d regressed against baseline", c.regressions)
	case !policyOK(in.Policy):
		why += "; policy evaluation failed"
	}

	v := journey.Verdict{
		Verdict:     journey.VerdictPartial,
		Confidence:  confidence(in, c),
		Why:         why,
		KeyFindings: findings(in),
	}
	v.Limits = limits(in, c)
	return v
}

// findings lists per-execution facts. Only executed attempts contribute:
// skipped and not-applicable attempts must never appear here as positive
// evidence.
func findings(in Inputs) []string {
	var out []string
	for _, a := range in.Attempts {
		if !a.Outcome.Executed() {
			continue
		}
		switch a.Outcome {
		case journey.OutcomeSuccess:
			out = append(out, fmt.Sprintf("journey %s completed successfully", a.AttemptID))
		case journey.OutcomeFriction:
			out = append(out, fmt.Sprintf("journey %s completed with friction: %s", a.AttemptID, firstOr(a.Friction.Reasons, "threshold crossed")))
		case journey.OutcomeFailure:
			out = append(out, fmt.Sprintf("journey %s failed: %s", a.AttemptID, firstOr([]string{a.Error}, "hard step failure")))
		case journey.OutcomeDiscoveryFailed:
			out = append(out, fmt.Sprintf("journey %s could not locate its target elements", a.AttemptID))
		}
	}
	for _, f := range in.Flows {
		if !f.Outcome.Executed() {
			continue
		}
		if f.Outcome.FailureClass() {
			out = append(out, fmt.Sprintf("flow %s failed", f.FlowID))
		} else {
			out = append(out, fmt.Sprintf("flow %s completed", f.FlowID))
		}
	}
	if in.Diff != nil {
		for _, r := range in.Diff.Regressions {
			out = append(out, fmt.Sprintf("regression: %s moved from %s to %s", r.AttemptID, r.From, r.To))
		}
		for _, imp := range in.Diff.Improvements {
			out = append(out, fmt.Sprintf("improvement: %s moved from %s to %s", imp.AttemptID, imp.From, imp.To))
		}
	}
	return out
}

// limits lists what this run could not observe. Skipped and not-applicable
// attempts surface here and only here.
func limits(in Inputs, c counts) []string {
	var out []string
	for _, a := range in.Attempts {
		switch a.Outcome {
		case journey.OutcomeSkipped:
			out = append(out, fmt.Sprintf("journey %s was skipped and contributes no evidence", a.AttemptID))
		case journey.OutcomeNotApplicable:
			out = append(out, fmt.Sprintf("journey %s was not applicable to this target", a.AttemptID))
		}
	}
	if in.Diff == nil {
		out = append(out, "no historical baseline available for comparison")
	}
	if in.Policy == nil {
		out = append(out, "no policy configured; thresholds not enforced")
	}
	return out
}

func firstOr(items []string, fallback string) string {
	for _, s := range items {
		if s != "" {
			return s
		}
	}
	return fallback
}
