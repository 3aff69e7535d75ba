package policy

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"

	"github.com/lucasnoah/vigil/internal/journey"
)

// ruleEnv builds the flat environment custom rule expressions evaluate
// against. All values are plain ints/floats/bools so rules stay simple.
func ruleEnv(attempts []journey.AttemptResult, flows []journey.FlowResult, sig Signals, counts outcomeCounts) map[string]any {
	regressions := 0
	improvements := 0
	if sig.Diff != nil {
		regressions = len(sig.Diff.Regressions)
		improvements = len(sig.Diff.Improvements)
	}
	return map[string]any{
		"attempts":              len(attempts),
		"flows":                 len(flows),
		"executed":              sig.Coverage.Executed,
		"planned":               sig.Coverage.Planned,
		"coverage":              sig.Coverage.Ratio(),
		"successes":             counts.successes,
		"failures":              counts.failures,
		"failures_critical":     counts.criticalFailures,
		"friction":              counts.friction,
		"skipped":               counts.skipped,
		"regressions":           regressions,
		"improvements":          improvements,
		"evidence_completeness": sig.Evidence.Completeness(),
		"has_baseline":          sig.Diff != nil,
	}
}

// evalRules evaluates each custom rule against env. A rule that evaluates to
// false contributes its code as a reason; a rule that does not compile or
// does not yield a bool contributes POLICY_RULE_INVALID instead of aborting.
func evalRules(rules []Rule, env map[string]any) []journey.Reason {
	var reasons []journey.Reason
	for _, rule := range rules {
		cond := strings.TrimSpace(rule.Expr)
		if cond == "" {
			continue
		}
		out, err := expr.Eval(cond, env)
		if err != nil {
			reasons = append(reasons, journey.Reason{
				Code:    "POLICY_RULE_INVALID",
				Message: fmt.Sprintf("rule %s: %v", rule.Code, err),
			})
			continue
		}
		ok, isBool := out.(bool)
		if !isBool {
			reasons = append(reasons, journey.Reason{
				Code:    "POLICY_RULE_INVALID",
				Message: fmt.Sprintf("rule %s: expression must evaluate to bool, got %T", rule.Code, out),
			})
			continue
		}
		if !ok {
			reasons = append(reasons, journey.Reason{
				Code:    rule.Code,
				Message: fmt.Sprintf("rule %q not satisfied", rule.Expr),
			})
		}
	}
	return reasons
}
