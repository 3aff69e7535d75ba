// Package step runs scripted interactions against one page and turns the
// raw signals into attempt results. One Executor serves exactly one attempt
// on one isolated page context.
package step

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/lucasnoah/vigil/internal/browser"
	"github.com/lucasnoah/vigil/internal/journey"
	"github.com/lucasnoah/vigil/internal/outcome"
	"github.com/lucasnoah/vigil/internal/validator"
)

const (
	// maxStepAttempts bounds the whole-step retry: one try plus one retry.
	maxStepAttempts = 2
	// retryDelay is the fixed pause between the try and the retry. No
	// backoff: a second failure propagates.
	retryDelay = 500 * time.Millisecond
)

// Options configures an Executor.
type Options struct {
	// BaseURL resolves relative navigation targets and decides response
	// same-origin classification.
	BaseURL string
	// ScreenshotDir receives step screenshots. Empty disables capture.
	ScreenshotDir string
	// DefaultTimeout is the attempt-level timeout a step without its own
	// timeout inherits.
	DefaultTimeout time.Duration
	// Friction holds the thresholds for friction detection.
	Friction Thresholds
	// Progress receives human-readable progress lines; nil discards them.
	Progress io.Writer
	// ConsoleCapacity bounds the console buffer; 0 uses the default.
	ConsoleCapacity int
}

// Executor runs the steps of one attempt. It owns the attempt's event
// buffer: the buffer opens before the first step and is detached and closed
// on every exit path, including errors.
type Executor struct {
	page    browser.Page
	base    *url.URL
	opts    Options
	events  *EventBuffer
	detach  func()
	started time.Time
}

// NewExecutor prepares an executor for one attempt on one page. Call
// Close when the attempt is done.
func NewExecutor(page browser.Page, opts Options) (*Executor, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url %q: %w", opts.BaseURL, err)
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 15 * time.Second
	}

	e := &Executor{
		page:   page,
		base:   base,
		opts:   opts,
		events: NewEventBuffer(opts.ConsoleCapacity),
	}
	e.detach = page.AttachSink(e.events)
	return e, nil
}

// Close detaches the event sink and closes the buffer. Safe to call more
// than once.
func (e *Executor) Close() {
	if e.detach != nil {
		e.detach()
		e.detach = nil
	}
	e.events.Close()
}

func (e *Executor) logf(format string, args ...any) {
	if e.opts.Progress != nil {
		fmt.Fprintf(e.opts.Progress, format+"\n", args...)
	}
}

// RunAttempt executes one attempt spec end to end: steps, outcome
// evaluation, friction detection, validators. The returned result is final;
// the caller must not mutate it.
func (e *Executor) RunAttempt(ctx context.Context, spec journey.AttemptSpec) journey.AttemptResult {
	defer e.Close()

	res := journey.AttemptResult{AttemptID: spec.ID, Impact: spec.Impact}
	e.started = time.Now()

	var (
		before      browser.PageState
		beforeTaken bool
		actionMark  Mark
		hardErr     error
	)

	for _, st := range spec.Steps {
		if !beforeTaken && isAction(st) {
			if state, err := e.page.CaptureState(ctx); err == nil {
				before = state
			}
			actionMark = e.events.Mark()
			beforeTaken = true
		}

		sr, err := e.RunStep(ctx, st, spec.Timeout)
		res.Steps = append(res.Steps, sr)

		if sr.Status == journey.StepFailed {
			hardErr = err
			break // non-optional failure aborts the remaining steps
		}
	}

	totalMs := time.Since(e.started).Milliseconds()
	res.DurationMs = totalMs

	if !beforeTaken {
		actionMark = e.events.Mark()
	}
	after, _ := e.page.CaptureState(ctx)
	events := e.actionEvents(actionMark)

	if hardErr != nil {
		res.Error = hardErr.Error()
		res.Outcome = journey.OutcomeFailure
		// A discovery miss with no behavioral negative is an element-lookup
		// problem, not evidence the journey is broken. Any console error
		// during the attempt blocks the reclassification.
		if errors.Is(hardErr, browser.ErrNotFound) && e.events.ConsoleErrors() == 0 && len(after.AlertText) <= len(before.AlertText) {
			res.Outcome = journey.OutcomeDiscoveryFailed
		}
		return res
	}

	eval := outcome.Evaluate(pageState(before), pageState(after), events)
	res.Friction = DetectFriction(spec.ID, res.Steps, totalMs, e.opts.Friction)

	switch eval.Status {
	case outcome.StatusSuccess:
		res.Outcome = journey.OutcomeSuccess
		if len(res.Friction.Signals) > 0 {
			res.Outcome = journey.OutcomeFriction
		}
	case outcome.StatusFriction:
		res.Outcome = journey.OutcomeFriction
		res.Friction.Reasons = append(res.Friction.Reasons, eval.Reasons...)
	default:
		res.Outcome = journey.OutcomeFailure
		res.Error = strings.Join(eval.Reasons, "; ")
	}

	// Validators inspect the final page state; their failures are soft and
	// never change the outcome above.
	if len(spec.Validators) > 0 {
		runner := validator.NewRunner(e.page, e.events.ConsoleErrors())
		res.Validators = runner.RunAll(ctx, spec.Validators)
		res.SoftFailures = journey.SummarizeValidators(res.Validators)
	}

	e.logf("attempt %s: %s (%d steps, %dms)", spec.ID, res.Outcome, len(res.Steps), totalMs)
	return res
}

// RunFlow executes one curated fixed-step flow. Flows reuse the same step
// machinery; their specs simply carry one selector per step.
func (e *Executor) RunFlow(ctx context.Context, spec journey.FlowSpec) journey.FlowResult {
	defer e.Close()

	res := journey.FlowResult{FlowID: spec.ID}
	start := time.Now()

	for _, st := range spec.Steps {
		sr, _ := e.RunStep(ctx, st, spec.Timeout)
		res.Steps = append(res.Steps, sr)
		if sr.Status == journey.StepFailed {
			res.Error = sr.Error
			res.Outcome = journey.OutcomeFailure
			res.DurationMs = time.Since(start).Milliseconds()
			return res
		}
	}

	res.Outcome = journey.OutcomeSuccess
	res.DurationMs = time.Since(start).Milliseconds()
	return res
}

// RunStep runs one step with the whole-step retry: each candidate selector
// is tried in order, first success wins; on failure the entire step runs
// once more after a fixed delay. Optional steps that still fail are marked
// skipped and do not abort the attempt. The returned error is the final
// failure, nil on success or skip.
func (e *Executor) RunStep(ctx context.Context, st journey.Step, attemptTimeout time.Duration) (journey.StepResult, error) {
	sr := journey.StepResult{ID: st.StepID(), Status: journey.StepPending}
	start := time.Now()

	var lastErr error
	for attempt := 1; attempt <= maxStepAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(retryDelay):
			case <-ctx.Done():
				lastErr = ctx.Err()
			}
			if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
				break
			}
			sr.Retries++
		}

		lastErr = e.execute(ctx, st, attemptTimeout)
		if lastErr == nil {
			break
		}
	}

	sr.DurationMs = time.Since(start).Milliseconds()

	switch {
	case lastErr == nil:
		sr.Status = journey.StepSuccess
		e.screenshot(ctx, &sr, "ok")
	case optional(st):
		sr.Status = journey.StepSkipped
		sr.Error = lastErr.Error()
		lastErr = nil
	default:
		sr.Status = journey.StepFailed
		sr.Error = lastErr.Error()
		e.screenshot(ctx, &sr, "fail")
	}
	return sr, lastErr
}

// execute dispatches one try of a step. The step union is closed; a new
// kind must be handled here.
func (e *Executor) execute(ctx context.Context, st journey.Step, attemptTimeout time.Duration) error {
	switch s := st.(type) {
	case journey.NavigateStep:
		return e.page.Navigate(ctx, e.resolve(s.URL), e.timeout(s.Timeout, attemptTimeout))
	case journey.ClickStep:
		return e.trySelectors(s.Selectors, func(sel string) error {
			return e.page.Click(ctx, sel, e.timeout(s.Timeout, attemptTimeout))
		})
	case journey.TypeStep:
		return e.trySelectors(s.Selectors, func(sel string) error {
			return e.page.Fill(ctx, sel, s.Value, e.timeout(s.Timeout, attemptTimeout))
		})
	case journey.WaitForStep:
		return e.trySelectors(s.Selectors, func(sel string) error {
			return e.page.WaitForSelector(ctx, sel, e.timeout(s.Timeout, attemptTimeout))
		})
	case journey.WaitStep:
		select {
		case <-time.After(s.Duration):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	default:
		return fmt.Errorf("unhandled step kind %T", st)
	}
}

// trySelectors attempts each candidate in order; the first success wins.
func (e *Executor) trySelectors(selectors []string, op func(string) error) error {
	if len(selectors) == 0 {
		return fmt.Errorf("step has no selectors")
	}
	var lastErr error
	for _, sel := range selectors {
		if lastErr = op(sel); lastErr == nil {
			return nil
		}
	}
	return lastErr
}

func (e *Executor) timeout(stepTimeout, attemptTimeout time.Duration) time.Duration {
	if stepTimeout > 0 {
		return stepTimeout
	}
	if attemptTimeout > 0 {
		return attemptTimeout
	}
	return e.opts.DefaultTimeout
}

func (e *Executor) resolve(raw string) string {
	ref, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return e.base.ResolveReference(ref).String()
}

// screenshot is a side effect on both success and failure paths; it never
// influences the step outcome.
func (e *Executor) screenshot(ctx context.Context, sr *journey.StepResult, suffix string) {
	if e.opts.ScreenshotDir == "" {
		return
	}
	path := filepath.Join(e.opts.ScreenshotDir, fmt.Sprintf("%s-%s.png", sr.ID, suffix))
	if err := e.page.Screenshot(ctx, path); err != nil {
		e.logf("screenshot %s: %v", path, err)
		return
	}
	sr.Screenshots = append(sr.Screenshots, path)
}

func (e *Executor) actionEvents(mark Mark) outcome.Events {
	ev := outcome.Events{
		ConsoleErrors: e.events.ConsoleErrorsSince(mark),
		URLChanged:    e.events.NavigatedSince(mark),
	}
	for _, r := range e.events.ResponsesSince(mark) {
		ev.Responses = append(ev.Responses, outcome.ResponseEvent{
			Method:     r.Method,
			URL:        r.URL,
			Status:     r.Status,
			SameOrigin: e.sameOrigin(r.URL),
		})
	}
	return ev
}

func (e *Executor) sameOrigin(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Host == e.base.Host
}

func isAction(st journey.Step) bool {
	switch st.(type) {
	case journey.ClickStep, journey.TypeStep:
		return true
	}
	return false
}

func optional(st journey.Step) bool {
	switch s := st.(type) {
	case journey.ClickStep:
		return s.Optional
	case journey.TypeStep:
		return s.Optional
	case journey.WaitForStep:
		return s.Optional
	}
	return false
}

func pageState(st browser.PageState) outcome.PageState {
	return outcome.PageState{
		URL:            st.URL,
		FilledFields:   st.FilledFields,
		FormPresent:    st.FormPresent,
		FormDisabled:   st.FormDisabled,
		AlertText:      st.AlertText,
		LiveRegionText: st.LiveRegionText,
		AriaInvalid:    st.AriaInvalid,
	}
}
