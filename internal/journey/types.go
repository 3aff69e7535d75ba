package journey

import "time"

// Outcome classifies what happened to one attempt.
type Outcome string

const (
	OutcomeSuccess         Outcome = "SUCCESS"
	OutcomeFailure         Outcome = "FAILURE"
	OutcomeFriction        Outcome = "FRICTION"
	OutcomeSkipped         Outcome = "SKIPPED"
	OutcomeNotApplicable   Outcome = "NOT_APPLICABLE"
	OutcomeDiscoveryFailed Outcome = "DISCOVERY_FAILED"
)

// Executed reports whether the outcome represents a real execution against
// the target. SKIPPED and NOT_APPLICABLE never count as executions and never
// contribute confidence-positive evidence.
func (o Outcome) Executed() bool {
	switch o {
	case OutcomeSuccess, OutcomeFailure, OutcomeFriction, OutcomeDiscoveryFailed:
		return true
	}
	return false
}

// SuccessClass reports whether the outcome counts as a working journey for
// baseline comparison. Friction is a successful outcome that crossed a
// threshold, so it stays in the success class.
func (o Outcome) SuccessClass() bool {
	return o == OutcomeSuccess || o == OutcomeFriction
}

// FailureClass reports whether the outcome counts as a broken journey for
// baseline comparison.
func (o Outcome) FailureClass() bool {
	return o == OutcomeFailure || o == OutcomeDiscoveryFailed
}

// Severity is the configured market impact of a journey.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// StepStatus is the terminal state of a single step.
type StepStatus string

const (
	StepPending StepStatus = "pending"
	StepSuccess StepStatus = "success"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

// StepResult records what happened when one step ran. It is mutated only by
// the step executor during one attempt and is append-only once finalized.
type StepResult struct {
	ID          string     `json:"id"`
	Status      StepStatus `json:"status"`
	Retries     int        `json:"retries"`
	DurationMs  int64      `json:"duration_ms"`
	Error       string     `json:"error,omitempty"`
	Screenshots []string   `json:"screenshots,omitempty"`
}

// FrictionSignal is emitted once a measured metric crosses a configured
// threshold. Signals are never retracted.
type FrictionSignal struct {
	ID             string  `json:"id"`
	Metric         string  `json:"metric"`
	Threshold      float64 `json:"threshold"`
	ObservedValue  float64 `json:"observed_value"`
	Severity       string  `json:"severity"`
	AffectedStepID string  `json:"affected_step_id"`
}

// FrictionReport groups the friction signals for one attempt.
type FrictionReport struct {
	Signals []FrictionSignal `json:"signals,omitempty"`
	Reasons []string         `json:"reasons,omitempty"`
}

// ValidatorStatus is the result class of one declarative check.
type ValidatorStatus string

const (
	ValidatorPass ValidatorStatus = "PASS"
	ValidatorWarn ValidatorStatus = "WARN"
	ValidatorFail ValidatorStatus = "FAIL"
)

// ValidatorResult is the outcome of one declarative post-condition check.
// FAIL and WARN results are soft failures: they coexist with an otherwise
// successful step sequence and never abort sibling checks.
type ValidatorResult struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Status   ValidatorStatus `json:"status"`
	Message  string          `json:"message"`
	Evidence string          `json:"evidence,omitempty"`
}

// SoftFailures summarizes validator-level failures for one attempt.
type SoftFailures struct {
	HasSoftFailure bool     `json:"has_soft_failure"`
	Failures       []string `json:"failures,omitempty"`
	Warnings       []string `json:"warnings,omitempty"`
}

// SummarizeValidators derives the soft-failure summary from validator results.
func SummarizeValidators(results []ValidatorResult) SoftFailures {
	var sf SoftFailures
	for _, r := range results {
		switch r.Status {
		case ValidatorFail:
			sf.HasSoftFailure = true
			sf.Failures = append(sf.Failures, r.ID)
		case ValidatorWarn:
			sf.HasSoftFailure = true
			sf.Warnings = append(sf.Warnings, r.ID)
		}
	}
	return sf
}

// AttemptResult is the immutable record of one scripted journey attempt.
type AttemptResult struct {
	AttemptID    string            `json:"attempt_id"`
	Outcome      Outcome           `json:"outcome"`
	Impact       Severity          `json:"impact,omitempty"`
	Steps        []StepResult      `json:"steps"`
	Friction     FrictionReport    `json:"friction"`
	Validators   []ValidatorResult `json:"validators,omitempty"`
	SoftFailures SoftFailures      `json:"soft_failures"`
	Error        string            `json:"error,omitempty"`
	DurationMs   int64             `json:"duration_ms"`
}

// FlowResult is the record of one curated fixed-step flow. Flows carry no
// selector fallback and no validators; they exist to exercise the exact
// production path.
type FlowResult struct {
	FlowID     string       `json:"flow_id"`
	Outcome    Outcome      `json:"outcome"`
	Steps      []StepResult `json:"steps"`
	Error      string       `json:"error,omitempty"`
	DurationMs int64        `json:"duration_ms"`
}

// VerdictState is the canonical judgment for one run.
type VerdictState string

const (
	VerdictObserved         VerdictState = "OBSERVED"
	VerdictPartial          VerdictState = "PARTIAL"
	VerdictInsufficientData VerdictState = "INSUFFICIENT_DATA"
)

// ConfidenceLevel buckets a confidence score for display.
type ConfidenceLevel string

const (
	ConfidenceHigh   ConfidenceLevel = "high"
	ConfidenceMedium ConfidenceLevel = "medium"
	ConfidenceLow    ConfidenceLevel = "low"
)

// Confidence is the numeric confidence attached to a verdict.
type Confidence struct {
	Level   ConfidenceLevel `json:"level"`
	Score   float64         `json:"score"`
	Reasons []string        `json:"reasons"`
}

// Verdict is the single canonical judgment for a run, with its explanation.
// The explanation is assembled from the same counts that drove the state
// transition, so explanation and verdict can never disagree.
type Verdict struct {
	Verdict     VerdictState `json:"verdict"`
	Confidence  Confidence   `json:"confidence"`
	Why         string       `json:"why"`
	KeyFindings []string     `json:"key_findings,omitempty"`
	Limits      []string     `json:"limits,omitempty"`
}

// Reason is one stable machine-readable cause inside a policy evaluation.
type Reason struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PolicyEvaluation is the pure result of applying a policy definition to one
// run. Reasons are sorted by code then message so repeated evaluation of
// identical inputs is byte-identical.
type PolicyEvaluation struct {
	Passed   bool     `json:"passed"`
	ExitCode int      `json:"exit_code"`
	Reasons  []Reason `json:"reasons,omitempty"`
	Summary  string   `json:"summary"`
}

// BaselineChange is one per-attempt outcome transition against the baseline.
type BaselineChange struct {
	AttemptID string  `json:"attempt_id"`
	From      Outcome `json:"from"`
	To        Outcome `json:"to"`
}

// BaselineDiff is the comparison of the current run against the last known
// good outcomes for the same target.
type BaselineDiff struct {
	BaselineRunID string           `json:"baseline_run_id,omitempty"`
	Regressions   []BaselineChange `json:"regressions,omitempty"`
	Improvements  []BaselineChange `json:"improvements,omitempty"`
}

// RunMeta identifies one invocation.
type RunMeta struct {
	URL       string    `json:"url"`
	Target    string    `json:"target"`
	RunID     string    `json:"run_id"`
	Timestamp time.Time `json:"timestamp"`
}

// RunSnapshot is the persisted record of one run. It is never mutated after
// write; downstream reporters render it without re-deriving judgment.
type RunSnapshot struct {
	Meta             RunMeta          `json:"meta"`
	Attempts         []AttemptResult  `json:"attempts"`
	Flows            []FlowResult     `json:"flows,omitempty"`
	Verdict          Verdict          `json:"verdict"`
	PolicyEvaluation PolicyEvaluation `json:"policy_evaluation"`
	BaselineDiff     *BaselineDiff    `json:"baseline_diff,omitempty"`
}

// ExecutedAttempts counts attempts whose outcome represents a real execution.
func (s *RunSnapshot) ExecutedAttempts() int {
	n := 0
	for _, a := range s.Attempts {
		if a.Outcome.Executed() {
			n++
		}
	}
	return n
}
