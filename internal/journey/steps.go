package journey

import "time"

// Step is the closed set of scripted interactions. Each kind carries exactly
// the fields it needs; the executor dispatches with an exhaustive type switch
// instead of a type-string default-throw.
type Step interface {
	// StepID returns the step's identifier within its attempt.
	StepID() string
	step()
}

// NavigateStep loads a URL. Relative URLs resolve against the target URL.
type NavigateStep struct {
	ID      string
	URL     string
	Timeout time.Duration
}

// ClickStep clicks the first candidate selector that resolves.
type ClickStep struct {
	ID        string
	Selectors []string
	Timeout   time.Duration
	Optional  bool
}

// TypeStep fills the first candidate selector that resolves with a value.
type TypeStep struct {
	ID        string
	Selectors []string
	Value     string
	Timeout   time.Duration
	Optional  bool
}

// WaitForStep waits until one of the candidate selectors becomes visible.
type WaitForStep struct {
	ID        string
	Selectors []string
	Timeout   time.Duration
	Optional  bool
}

// WaitStep pauses for a fixed duration.
type WaitStep struct {
	ID       string
	Duration time.Duration
}

func (s NavigateStep) StepID() string { return s.ID }
func (s ClickStep) StepID() string    { return s.ID }
func (s TypeStep) StepID() string     { return s.ID }
func (s WaitForStep) StepID() string  { return s.ID }
func (s WaitStep) StepID() string     { return s.ID }

func (NavigateStep) step() {}
func (ClickStep) step()    {}
func (TypeStep) step()     {}
func (WaitForStep) step()  {}
func (WaitStep) step()     {}

// Validator is the closed set of declarative post-condition checks. Each
// check yields PASS/WARN/FAIL independently; one FAIL never aborts siblings.
type Validator interface {
	// ValidatorID returns the check's identifier within its attempt.
	ValidatorID() string
	validator()
}

// ElementVisibleCheck verifies a selector is visible (or absent when
// WantAbsent is set) in the final page state.
type ElementVisibleCheck struct {
	ID         string
	Selector   string
	WantAbsent bool
	// WarnOnly downgrades a failed check to WARN.
	WarnOnly bool
}

// PageTextCheck verifies the final page body contains any of the given
// fragments.
type PageTextCheck struct {
	ID       string
	AnyOf    []string
	WarnOnly bool
}

// HTMLLangCheck verifies the document declares the expected lang attribute.
type HTMLLangCheck struct {
	ID       string
	Want     string
	WarnOnly bool
}

// URLCheck verifies the final URL includes a fragment or matches a pattern.
// Exactly one of Includes or Pattern is set.
type URLCheck struct {
	ID       string
	Includes string
	Pattern  string
	WarnOnly bool
}

// ConsoleCleanCheck verifies no console errors were captured during the
// attempt.
type ConsoleCleanCheck struct {
	ID       string
	WarnOnly bool
}

func (v ElementVisibleCheck) ValidatorID() string { return v.ID }
func (v PageTextCheck) ValidatorID() string       { return v.ID }
func (v HTMLLangCheck) ValidatorID() string       { return v.ID }
func (v URLCheck) ValidatorID() string            { return v.ID }
func (v ConsoleCleanCheck) ValidatorID() string   { return v.ID }

func (ElementVisibleCheck) validator() {}
func (PageTextCheck) validator()       {}
func (HTMLLangCheck) validator()       {}
func (URLCheck) validator()            {}
func (ConsoleCleanCheck) validator()   {}

// AttemptSpec declares one scripted journey: its steps, validators, and
// market impact. Specs are immutable once the registry is built.
type AttemptSpec struct {
	ID         string
	Name       string
	Impact     Severity
	Timeout    time.Duration
	Steps      []Step
	Validators []Validator
}

// FlowSpec declares one curated fixed-step flow. Flow steps carry a single
// selector each and get no fallback tuning.
type FlowSpec struct {
	ID      string
	Name    string
	Timeout time.Duration
	Steps   []Step
}

// Registry is the explicit set of attempts and flows for one run. It is
// built once from config at startup and passed by reference, so tests can
// supply isolated registries without global leakage.
type Registry struct {
	Attempts []AttemptSpec
	Flows    []FlowSpec
}

// Attempt returns the attempt spec with the given ID.
func (r *Registry) Attempt(id string) (AttemptSpec, bool) {
	for _, a := range r.Attempts {
		if a.ID == id {
			return a, true
		}
	}
	return AttemptSpec{}, false
}

// Planned returns the number of planned attempts.
func (r *Registry) Planned() int {
	return len(r.Attempts)
}
