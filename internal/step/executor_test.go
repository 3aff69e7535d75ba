package step

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/lucasnoah/vigil/internal/browser"
	"github.com/lucasnoah/vigil/internal/journey"
)

// fakePage scripts per-selector behavior and lets tests emit page events
// through the attached sink.
type fakePage struct {
	// failSelectors maps a selector to the error every operation on it
	// returns. Selectors not present succeed.
	failSelectors map[string]error
	// failOnce maps a selector to an error returned only on the first try.
	failOnce map[string]error

	before browser.PageState
	after  browser.PageState
	// captures counts CaptureState calls so before/after can differ.
	captures int

	// onClick runs after a successful click, with the sink if attached.
	onClick func(sink browser.EventSink)

	sink     browser.EventSink
	detached bool

	navigations []string
	clicks      []string
	fills       map[string]string
}

func newFakePage() *fakePage {
	return &fakePage{
		failSelectors: map[string]error{},
		failOnce:      map[string]error{},
		fills:         map[string]string{},
	}
}

func (f *fakePage) selErr(selector string) error {
	if err, ok := f.failOnce[selector]; ok {
		delete(f.failOnce, selector)
		return err
	}
	return f.failSelectors[selector]
}

func (f *fakePage) Navigate(_ context.Context, url string, _ time.Duration) error {
	f.navigations = append(f.navigations, url)
	if f.sink != nil {
		f.sink.OnNavigate(url)
	}
	return nil
}

func (f *fakePage) Click(_ context.Context, selector string, _ time.Duration) error {
	if err := f.selErr(selector); err != nil {
		return err
	}
	f.clicks = append(f.clicks, selector)
	if f.onClick != nil {
		f.onClick(f.sink)
	}
	return nil
}

func (f *fakePage) Fill(_ context.Context, selector, value string, _ time.Duration) error {
	if err := f.selErr(selector); err != nil {
		return err
	}
	f.fills[selector] = value
	return nil
}

func (f *fakePage) WaitForSelector(_ context.Context, selector string, _ time.Duration) error {
	return f.selErr(selector)
}

func (f *fakePage) Screenshot(context.Context, string) error { return nil }

func (f *fakePage) AttachSink(sink browser.EventSink) func() {
	f.sink = sink
	return func() {
		f.sink = nil
		f.detached = true
	}
}

func (f *fakePage) CaptureState(context.Context) (browser.PageState, error) {
	f.captures++
	if f.captures == 1 {
		return f.before, nil
	}
	return f.after, nil
}

func (f *fakePage) IsVisible(context.Context, string) (bool, error) { return true, nil }
func (f *fakePage) BodyText(context.Context) (string, error)        { return "welcome back", nil }
func (f *fakePage) Lang(context.Context) (string, error)            { return "en", nil }
func (f *fakePage) URL(context.Context) (string, error)             { return "https://app.test/home", nil }

func newExecutor(t *testing.T, page browser.Page, opts Options) *Executor {
	t.Helper()
	if opts.BaseURL == "" {
		opts.BaseURL = "https://app.test"
	}
	e, err := NewExecutor(page, opts)
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}
	return e
}

func loginSpec() journey.AttemptSpec {
	return journey.AttemptSpec{
		ID:     "login",
		Impact: journey.SeverityCritical,
		Steps: []journey.Step{
			journey.NavigateStep{ID: "open", URL: "/login"},
			journey.TypeStep{ID: "email", Selectors: []string{"#email"}, Value: "a@b.test"},
			journey.ClickStep{ID: "submit", Selectors: []string{"#submit"}},
		},
	}
}

func TestRunStep_SelectorFallbackFirstSuccessWins(t *testing.T) {
	page := newFakePage()
	page.failSelectors["#primary"] = browser.ErrNotFound
	e := newExecutor(t, page, Options{})
	defer e.Close()

	sr, err := e.RunStep(context.Background(), journey.ClickStep{
		ID:        "submit",
		Selectors: []string{"#primary", "#fallback"},
	}, 0)
	if err != nil {
		t.Fatalf("RunStep: %v", err)
	}
	if sr.Status != journey.StepSuccess {
		t.Fatalf("status = %s, want success", sr.Status)
	}
	if sr.Retries != 0 {
		t.Errorf("retries = %d, want 0 (fallback is not a retry)", sr.Retries)
	}
	if len(page.clicks) != 1 || page.clicks[0] != "#fallback" {
		t.Errorf("clicks = %v, want [#fallback]", page.clicks)
	}
}

func TestRunStep_RetriesWholeStepOnce(t *testing.T) {
	page := newFakePage()
	page.failOnce["#submit"] = errors.New("detached node")
	e := newExecutor(t, page, Options{})
	defer e.Close()

	sr, err := e.RunStep(context.Background(), journey.ClickStep{
		ID:        "submit",
		Selectors: []string{"#submit"},
	}, 0)
	if err != nil {
		t.Fatalf("RunStep: %v", err)
	}
	if sr.Status != journey.StepSuccess {
		t.Fatalf("status = %s, want success after retry", sr.Status)
	}
	if sr.Retries != 1 {
		t.Errorf("retries = %d, want 1", sr.Retries)
	}
}

func TestRunStep_OptionalFailureIsSkipped(t *testing.T) {
	page := newFakePage()
	page.failSelectors["#cookie-banner"] = browser.ErrNotFound
	e := newExecutor(t, page, Options{})
	defer e.Close()

	sr, err := e.RunStep(context.Background(), journey.ClickStep{
		ID:        "dismiss-banner",
		Selectors: []string{"#cookie-banner"},
		Optional:  true,
	}, 0)
	if err != nil {
		t.Fatalf("optional failure must not surface an error, got %v", err)
	}
	if sr.Status != journey.StepSkipped {
		t.Errorf("status = %s, want skipped", sr.Status)
	}
	if sr.Error == "" {
		t.Error("skipped step should keep the failure text for the report")
	}
}

func TestRunAttempt_NonOptionalFailureAbortsRemainingSteps(t *testing.T) {
	page := newFakePage()
	page.failSelectors["#email"] = errors.New("input rejected value")
	e := newExecutor(t, page, Options{})

	res := e.RunAttempt(context.Background(), loginSpec())

	if res.Outcome != journey.OutcomeFailure {
		t.Errorf("outcome = %s, want FAILURE", res.Outcome)
	}
	// Steps: navigate ran, type failed, click never ran.
	if len(res.Steps) != 2 {
		t.Fatalf("steps recorded = %d, want 2 (abort after failure)", len(res.Steps))
	}
	if res.Steps[1].Status != journey.StepFailed {
		t.Errorf("failing step status = %s, want failed", res.Steps[1].Status)
	}
	if len(page.clicks) != 0 {
		t.Errorf("click ran after abort: %v", page.clicks)
	}
}

func TestRunAttempt_DiscoveryFailureReclassified(t *testing.T) {
	page := newFakePage()
	page.failSelectors["#email"] = browser.ErrNotFound
	e := newExecutor(t, page, Options{})

	res := e.RunAttempt(context.Background(), loginSpec())

	if res.Outcome != journey.OutcomeDiscoveryFailed {
		t.Errorf("outcome = %s, want DISCOVERY_FAILED", res.Outcome)
	}
	if !res.Outcome.Executed() {
		t.Error("discovery failure still counts as an execution")
	}
	if !res.Outcome.FailureClass() {
		t.Error("discovery failure stays in the failure class for baselines")
	}
}

func TestRunAttempt_NotFoundWithConsoleErrorStaysFailure(t *testing.T) {
	page := newFakePage()
	page.failSelectors["#email"] = browser.ErrNotFound
	e := newExecutor(t, page, Options{})

	// A console error before the failing step is a behavioral negative, so
	// the not-found cannot be explained away as a selector problem.
	page.sink.OnConsole(browser.ConsoleMessage{Type: "error", Text: "boom"})

	res := e.RunAttempt(context.Background(), loginSpec())
	if res.Outcome != journey.OutcomeFailure {
		t.Errorf("outcome = %s, want FAILURE", res.Outcome)
	}
}

func TestRunAttempt_SuccessWithNetworkAndDOMEvidence(t *testing.T) {
	page := newFakePage()
	page.before = browser.PageState{URL: "https://app.test/login", FormPresent: true, FilledFields: 0}
	page.after = browser.PageState{URL: "https://app.test/home", FormPresent: false}
	page.onClick = func(sink browser.EventSink) {
		if sink == nil {
			return
		}
		sink.OnResponse(browser.ResponseEvent{Method: "POST", URL: "https://app.test/api/login", Status: 200})
		sink.OnNavigate("https://app.test/home")
	}
	e := newExecutor(t, page, Options{})

	res := e.RunAttempt(context.Background(), loginSpec())

	if res.Outcome != journey.OutcomeSuccess {
		t.Fatalf("outcome = %s (error %q), want SUCCESS", res.Outcome, res.Error)
	}
	if len(res.Steps) != 3 {
		t.Errorf("steps = %d, want 3", len(res.Steps))
	}
	if !page.detached {
		t.Error("event sink not detached after attempt")
	}
}

func TestRunAttempt_CrossOriginResponseIsNotPositive(t *testing.T) {
	page := newFakePage()
	page.before = browser.PageState{URL: "https://app.test/login", FormPresent: true}
	page.after = browser.PageState{URL: "https://app.test/login", FormPresent: true}
	page.onClick = func(sink browser.EventSink) {
		if sink != nil {
			sink.OnResponse(browser.ResponseEvent{Method: "POST", URL: "https://telemetry.example/beacon", Status: 204})
		}
	}
	e := newExecutor(t, page, Options{})

	res := e.RunAttempt(context.Background(), loginSpec())
	if res.Outcome != journey.OutcomeFailure {
		t.Errorf("outcome = %s, want FAILURE (third-party beacon is not completion evidence)", res.Outcome)
	}
}

func TestRunAttempt_FrictionEscalatesSuccess(t *testing.T) {
	page := newFakePage()
	page.before = browser.PageState{URL: "https://app.test/login", FormPresent: true}
	page.after = browser.PageState{URL: "https://app.test/home", FormPresent: false}
	page.onClick = func(sink browser.EventSink) {
		if sink != nil {
			sink.OnResponse(browser.ResponseEvent{Method: "POST", URL: "https://app.test/api/login", Status: 200})
		}
	}
	// MaxRetries 0 means any retry is friction; the flaky click forces one.
	page.failOnce["#submit"] = errors.New("flaky click")
	e := newExecutor(t, page, Options{Friction: Thresholds{MaxRetries: 0}})

	res := e.RunAttempt(context.Background(), loginSpec())

	if res.Outcome != journey.OutcomeFriction {
		t.Fatalf("outcome = %s, want FRICTION (succeeded but needed a retry)", res.Outcome)
	}
	if len(res.Friction.Signals) == 0 {
		t.Error("friction outcome must carry at least one signal")
	}
	if !res.Outcome.SuccessClass() {
		t.Error("friction stays in the success class for baselines")
	}
}

func TestRunAttempt_ValidatorsAreSoftFailures(t *testing.T) {
	page := newFakePage()
	page.before = browser.PageState{URL: "https://app.test/login", FormPresent: true}
	page.after = browser.PageState{URL: "https://app.test/home", FormPresent: false}
	page.onClick = func(sink browser.EventSink) {
		if sink != nil {
			sink.OnResponse(browser.ResponseEvent{Method: "POST", URL: "https://app.test/api/login", Status: 200})
		}
	}
	spec := loginSpec()
	spec.Validators = []journey.Validator{
		journey.PageTextCheck{ID: "greets", AnyOf: []string{"welcome"}},
		journey.PageTextCheck{ID: "impossible", AnyOf: []string{"no-such-text"}},
	}
	e := newExecutor(t, page, Options{})

	res := e.RunAttempt(context.Background(), spec)

	if res.Outcome != journey.OutcomeSuccess {
		t.Fatalf("outcome = %s, want SUCCESS (validator failures are soft)", res.Outcome)
	}
	if len(res.Validators) != 2 {
		t.Fatalf("validators = %d, want 2", len(res.Validators))
	}
	if !res.SoftFailures.HasSoftFailure {
		t.Error("failing validator must set the soft-failure flag")
	}
	if len(res.SoftFailures.Failures) != 1 || res.SoftFailures.Failures[0] != "impossible" {
		t.Errorf("soft failures = %v, want [impossible]", res.SoftFailures.Failures)
	}
}

func TestRunAttempt_SinkClosedOnEveryExitPath(t *testing.T) {
	page := newFakePage()
	page.failSelectors["#email"] = errors.New("boom")
	e := newExecutor(t, page, Options{})

	e.RunAttempt(context.Background(), loginSpec())

	if !page.detached {
		t.Fatal("failure path must still detach the sink")
	}
	// Late events after close are dropped, not recorded.
	e.events.OnConsole(browser.ConsoleMessage{Type: "error", Text: "late"})
	if got := e.events.ConsoleErrors(); got != 0 {
		t.Errorf("console errors after close = %d, want 0", got)
	}
}

func TestRunFlow_SingleSelectorNoFallback(t *testing.T) {
	page := newFakePage()
	e := newExecutor(t, page, Options{})

	res := e.RunFlow(context.Background(), journey.FlowSpec{
		ID: "checkout-happy-path",
		Steps: []journey.Step{
			journey.NavigateStep{ID: "open", URL: "/checkout"},
			journey.ClickStep{ID: "pay", Selectors: []string{"#pay"}},
		},
	})

	if res.Outcome != journey.OutcomeSuccess {
		t.Fatalf("outcome = %s (error %q), want SUCCESS", res.Outcome, res.Error)
	}
	if res.FlowID != "checkout-happy-path" {
		t.Errorf("flow id = %q", res.FlowID)
	}
	if !page.detached {
		t.Error("flow must detach the sink when done")
	}
}

func TestRunFlow_FailureCarriesStepError(t *testing.T) {
	page := newFakePage()
	page.failSelectors["#pay"] = browser.ErrNotFound
	e := newExecutor(t, page, Options{})

	res := e.RunFlow(context.Background(), journey.FlowSpec{
		ID: "checkout-happy-path",
		Steps: []journey.Step{
			journey.ClickStep{ID: "pay", Selectors: []string{"#pay"}},
		},
	})

	if res.Outcome != journey.OutcomeFailure {
		t.Fatalf("outcome = %s, want FAILURE", res.Outcome)
	}
	if !strings.Contains(res.Error, "element not found") {
		t.Errorf("error = %q, want not-found text", res.Error)
	}
}

func TestEventBuffer_BoundsConsoleAndCountsDrops(t *testing.T) {
	buf := NewEventBuffer(4)
	for i := 0; i < 10; i++ {
		buf.OnConsole(browser.ConsoleMessage{Type: "error", Text: "e"})
	}
	if got := len(buf.Console()); got != 4 {
		t.Errorf("retained = %d, want 4", got)
	}
	if buf.Dropped() != 6 {
		t.Errorf("dropped = %d, want 6", buf.Dropped())
	}
}

func TestEventBuffer_MarkIsolatesActionWindow(t *testing.T) {
	buf := NewEventBuffer(0)
	buf.OnConsole(browser.ConsoleMessage{Type: "error", Text: "before"})
	buf.OnResponse(browser.ResponseEvent{Method: "GET", URL: "https://app.test/", Status: 200})

	m := buf.Mark()
	buf.OnConsole(browser.ConsoleMessage{Type: "error", Text: "after"})
	buf.OnResponse(browser.ResponseEvent{Method: "POST", URL: "https://app.test/api", Status: 201})
	buf.OnNavigate("https://app.test/done")

	if got := buf.ConsoleErrorsSince(m); got != 1 {
		t.Errorf("errors since mark = %d, want 1", got)
	}
	if got := buf.ResponsesSince(m); len(got) != 1 || got[0].Method != "POST" {
		t.Errorf("responses since mark = %v, want the POST only", got)
	}
	if !buf.NavigatedSince(m) {
		t.Error("navigation after mark not reported")
	}
}

func TestDetectFriction_SlowStepAndSeverity(t *testing.T) {
	steps := []journey.StepResult{
		{ID: "fast", DurationMs: 100},
		{ID: "slow", DurationMs: 1500},
		{ID: "very-slow", DurationMs: 5000},
	}
	report := DetectFriction("login", steps, 6600, Thresholds{SlowStepMs: 1000, SlowAttemptMs: 10000, MaxRetries: 3})

	if len(report.Signals) != 2 {
		t.Fatalf("signals = %d, want 2", len(report.Signals))
	}
	if report.Signals[0].Severity != "minor" {
		t.Errorf("1.5x threshold severity = %s, want minor", report.Signals[0].Severity)
	}
	if report.Signals[1].Severity != "major" {
		t.Errorf("5x threshold severity = %s, want major", report.Signals[1].Severity)
	}
	if report.Signals[0].AffectedStepID != "slow" {
		t.Errorf("affected step = %s, want slow", report.Signals[0].AffectedStepID)
	}
}
