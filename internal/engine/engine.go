// Package engine orchestrates one run: it fans attempts out over a bounded
// worker pool, runs curated flows, compares against the baseline, evaluates
// the policy, computes the verdict, and persists the snapshot with its
// integrity manifest. Collaborators are injected so tests can swap in fakes.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/lucasnoah/vigil/internal/baseline"
	"github.com/lucasnoah/vigil/internal/browser"
	"github.com/lucasnoah/vigil/internal/db"
	"github.com/lucasnoah/vigil/internal/history"
	"github.com/lucasnoah/vigil/internal/journey"
	"github.com/lucasnoah/vigil/internal/policy"
	"github.com/lucasnoah/vigil/internal/step"
	"github.com/lucasnoah/vigil/internal/verdict"
)

// Options configures one run.
type Options struct {
	// Target identifies the application under observation; it keys baselines
	// and run history.
	Target string
	// URL is the base URL attempts run against.
	URL string
	// Workers bounds concurrent attempts. Values < 1 mean 1.
	Workers int
	// FailFast stops dispatching new attempts after any failure-class
	// outcome. In-flight attempts complete.
	FailFast bool
	// Policy is optional; nil means no thresholds are enforced.
	Policy *policy.Definition
	// Friction holds the friction-detection thresholds.
	Friction step.Thresholds
	// StepTimeout is the default per-step timeout.
	StepTimeout time.Duration
	// RunID overrides the generated run id; used by tests.
	RunID string
	// Progress receives human-readable progress lines; nil discards them.
	Progress io.Writer
}

// Engine runs the pipeline. All collaborators are injected.
type Engine struct {
	pool      *browser.Pool
	registry  *journey.Registry
	history   *history.Store
	baselines *baseline.Store
	// log is optional; a nil log disables event recording.
	log  *db.DB
	opts Options
}

// New assembles an Engine. log may be nil.
func New(pool *browser.Pool, registry *journey.Registry, hist *history.Store, baselines *baseline.Store, log *db.DB, opts Options) *Engine {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Engine{
		pool:      pool,
		registry:  registry,
		history:   hist,
		baselines: baselines,
		log:       log,
		opts:      opts,
	}
}

func (e *Engine) logf(format string, args ...any) {
	if e.opts.Progress != nil {
		fmt.Fprintf(e.opts.Progress, format+"\n", args...)
	}
}

// event records a run lifecycle event. Logging is best-effort: a failing
// event log never fails the run.
func (e *Engine) event(runID, kind, detail string) {
	if e.log == nil {
		return
	}
	if err := e.log.LogRunEvent(runID, e.opts.Target, kind, detail); err != nil {
		e.logf("event log: %v", err)
	}
}

// Result is what one run produced. ExitCode comes from the post-manifest
// policy evaluation.
type Result struct {
	Snapshot *journey.RunSnapshot
	ExitCode int
}

// Run executes the whole pipeline once. The only fatal fault upstream of
// this call is browser launch failure; in here, every per-attempt fault
// resolves to a data value in the snapshot.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	runID := e.opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	meta := journey.RunMeta{
		URL:       e.opts.URL,
		Target:    e.opts.Target,
		RunID:     runID,
		Timestamp: time.Now().UTC(),
	}
	runDir := e.history.RunDir(e.opts.Target, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}

	e.event(runID, "started", e.opts.URL)
	e.logf("run %s: %d attempts, %d flows, %d workers", runID, len(e.registry.Attempts), len(e.registry.Flows), e.opts.Workers)

	attempts := e.runAttempts(ctx, runDir)
	for _, a := range attempts {
		e.event(runID, "attempt_done", fmt.Sprintf("%s=%s", a.AttemptID, a.Outcome))
		if e.log != nil {
			if err := e.log.LogAttemptEvent(runID, e.opts.Target, a); err != nil {
				e.logf("event log: %v", err)
			}
		}
	}

	flows := e.runFlows(ctx, runDir)
	for _, f := range flows {
		e.event(runID, "flow_done", fmt.Sprintf("%s=%s", f.FlowID, f.Outcome))
	}

	snap := &journey.RunSnapshot{Meta: meta, Attempts: attempts, Flows: flows}

	diff, baselineLimit := e.compareBaseline(runID, snap)
	snap.BaselineDiff = diff

	sig := e.signals(snap, diff, false)

	// First policy pass: the integrity manifest does not exist yet, so
	// manifest evidence is absent. This evaluation is embedded in the
	// snapshot as the run's recorded policy result.
	if e.opts.Policy != nil {
		snap.PolicyEvaluation = policy.Evaluate(snap.Attempts, snap.Flows, sig, *e.opts.Policy)
		e.event(runID, "policy_evaluated", snap.PolicyEvaluation.Summary)
	}

	snap.Verdict = e.computeVerdict(snap, diff, baselineLimit)

	if err := e.history.SaveSnapshot(snap); err != nil {
		e.event(runID, "aborted", err.Error())
		return nil, fmt.Errorf("save snapshot: %w", err)
	}
	e.event(runID, "snapshot_saved", "")

	if _, err := history.WriteManifest(runDir); err != nil {
		// The snapshot is already durable; a failed manifest means the
		// second policy pass sees manifest evidence as absent.
		e.logf("write manifest: %v", err)
	}

	// Second policy pass: identical inputs except the manifest now exists.
	// This evaluation decides the process exit code.
	exitCode := 0
	if e.opts.Policy != nil {
		post := policy.Evaluate(snap.Attempts, snap.Flows, e.signals(snap, diff, manifestExists(runDir)), *e.opts.Policy)
		exitCode = post.ExitCode
		e.event(runID, "policy_evaluated", post.Summary)
	}

	e.event(runID, "finished", string(snap.Verdict.Verdict))
	e.logf("run %s: %s (%s confidence, score %.2f)", runID, snap.Verdict.Verdict, snap.Verdict.Confidence.Level, snap.Verdict.Confidence.Score)

	return &Result{Snapshot: snap, ExitCode: exitCode}, nil
}

// runAttempts executes every registered attempt over the worker pool.
// Results come back in registry order regardless of completion order.
func (e *Engine) runAttempts(ctx context.Context, runDir string) []journey.AttemptResult {
	specs := e.registry.Attempts
	results := make([]journey.AttemptResult, len(specs))

	// stop is the shared fail-fast signal. Workers poll it before starting
	// new work; attempts already in flight run to completion.
	var stop atomic.Bool

	type job struct {
		idx  int
		spec journey.AttemptSpec
	}
	jobs := make(chan job)

	var wg sync.WaitGroup
	for w := 0; w < e.opts.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				if stop.Load() {
					results[j.idx] = skippedAttempt(j.spec, "skipped: run stopped after a hard failure")
					continue
				}
				res := e.runOneAttempt(ctx, runDir, j.spec)
				results[j.idx] = res
				if e.opts.FailFast && res.Outcome.FailureClass() {
					stop.Store(true)
				}
			}
		}()
	}

	for i, spec := range specs {
		jobs <- job{idx: i, spec: spec}
	}
	close(jobs)
	wg.Wait()

	return results
}

func (e *Engine) runOneAttempt(ctx context.Context, runDir string, spec journey.AttemptSpec) journey.AttemptResult {
	page, release, err := e.pool.Acquire(ctx)
	if err != nil {
		return skippedAttempt(spec, fmt.Sprintf("skipped: no browser page available: %v", err))
	}
	defer release()

	shotDir := filepath.Join(runDir, "screenshots", spec.ID)
	if err := os.MkdirAll(shotDir, 0o755); err != nil {
		shotDir = ""
	}

	exec, err := step.NewExecutor(page, step.Options{
		BaseURL:        e.opts.URL,
		ScreenshotDir:  shotDir,
		DefaultTimeout: e.opts.StepTimeout,
		Friction:       e.opts.Friction,
		Progress:       e.opts.Progress,
	})
	if err != nil {
		return skippedAttempt(spec, fmt.Sprintf("skipped: %v", err))
	}
	return exec.RunAttempt(ctx, spec)
}

// runFlows executes curated flows sequentially, each on a fresh page. Flows
// never participate in fail-fast; they are the exact production paths and
// always worth observing.
func (e *Engine) runFlows(ctx context.Context, runDir string) []journey.FlowResult {
	var results []journey.FlowResult
	for _, spec := range e.registry.Flows {
		page, release, err := e.pool.Acquire(ctx)
		if err != nil {
			results = append(results, journey.FlowResult{
				FlowID:  spec.ID,
				Outcome: journey.OutcomeSkipped,
				Error:   fmt.Sprintf("skipped: no browser page available: %v", err),
			})
			continue
		}

		exec, err := step.NewExecutor(page, step.Options{
			BaseURL:        e.opts.URL,
			ScreenshotDir:  filepath.Join(runDir, "screenshots", spec.ID),
			DefaultTimeout: e.opts.StepTimeout,
			Friction:       e.opts.Friction,
			Progress:       e.opts.Progress,
		})
		if err != nil {
			release()
			results = append(results, journey.FlowResult{
				FlowID:  spec.ID,
				Outcome: journey.OutcomeSkipped,
				Error:   fmt.Sprintf("skipped: %v", err),
			})
			continue
		}
		results = append(results, exec.RunFlow(ctx, spec))
		release()
	}
	return results
}

// compareBaseline loads the target's baseline and either compares against it
// or creates it from this run. A corrupt baseline is skipped with a limit
// note; the run keeps going.
func (e *Engine) compareBaseline(runID string, snap *journey.RunSnapshot) (*journey.BaselineDiff, string) {
	base, err := e.baselines.Load(e.opts.Target)
	if err != nil {
		if errors.Is(err, baseline.ErrUnusable) {
			e.logf("baseline for %s is unusable, skipping comparison", e.opts.Target)
			return nil, "existing baseline was unreadable; comparison skipped"
		}
		e.logf("load baseline: %v", err)
		return nil, "baseline could not be loaded; comparison skipped"
	}

	if base == nil {
		// First run for this target: record the baseline, report no diff.
		created, err := e.baselines.CreateFromSnapshot(snap)
		if err != nil {
			e.logf("create baseline: %v", err)
			return nil, "baseline could not be created on first run"
		}
		if err := e.baselines.Save(created); err != nil {
			e.logf("save baseline: %v", err)
			return nil, "baseline could not be saved on first run"
		}
		e.event(runID, "baseline_created", "")
		return nil, ""
	}

	diff := baseline.Compare(base, snap.Attempts)
	e.event(runID, "baseline_compared", fmt.Sprintf("regressions=%d improvements=%d", len(diff.Regressions), len(diff.Improvements)))
	return diff, ""
}

func (e *Engine) computeVerdict(snap *journey.RunSnapshot, diff *journey.BaselineDiff, baselineLimit string) journey.Verdict {
	var pol *journey.PolicyEvaluation
	if e.opts.Policy != nil {
		p := snap.PolicyEvaluation
		pol = &p
	}
	v := verdict.Compute(verdict.Inputs{
		Policy:   pol,
		Diff:     diff,
		Flows:    snap.Flows,
		Attempts: snap.Attempts,
	})
	if baselineLimit != "" {
		v.Limits = append(v.Limits, baselineLimit)
	}
	return v
}

func (e *Engine) signals(snap *journey.RunSnapshot, diff *journey.BaselineDiff, manifest bool) policy.Signals {
	cov := policy.Coverage{Planned: e.registry.Planned(), Executed: snap.ExecutedAttempts()}
	screenshots := false
	for _, a := range snap.Attempts {
		if a.Outcome == journey.OutcomeSkipped && a.Error != "" {
			cov.SkipReasons = append(cov.SkipReasons, a.Error)
		}
		for _, s := range a.Steps {
			if len(s.Screenshots) > 0 {
				screenshots = true
			}
		}
	}

	executedAny := snap.ExecutedAttempts() > 0
	return policy.Signals{
		Coverage: cov,
		Evidence: policy.Evidence{
			Screenshots: screenshots,
			// Network and console capture ride along with every executed
			// attempt; they exist exactly when something ran.
			Network:  executedAny,
			Console:  executedAny,
			Manifest: manifest,
		},
		Diff: diff,
	}
}

func manifestExists(runDir string) bool {
	_, err := os.Stat(filepath.Join(runDir, history.ManifestName))
	return err == nil
}

func skippedAttempt(spec journey.AttemptSpec, reason string) journey.AttemptResult {
	return journey.AttemptResult{
		AttemptID: spec.ID,
		Impact:    spec.Impact,
		Outcome:   journey.OutcomeSkipped,
		Error:     reason,
	}
}
