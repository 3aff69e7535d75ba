// Package patterns scans the historical run snapshots of one target and
// surfaces behavioral signals invisible from any single run. Analysis is
// read-only and recomputed every run; patterns are never persisted as
// mutable state.
package patterns

import (
	"fmt"
	"sort"

	"github.com/lucasnoah/vigil/internal/journey"
)

// PatternType names one of the four detectors.
type PatternType string

const (
	TypeRepeatedSkip          PatternType = "repeated_skipped_attempts"
	TypeRecurringFriction     PatternType = "recurring_friction"
	TypeConfidenceDegradation PatternType = "confidence_degradation"
	TypeSinglePointFailure    PatternType = "single_point_failure"
)

// ConfidenceBucket grades how firmly a pattern is established.
type ConfidenceBucket string

const (
	ConfidenceLow    ConfidenceBucket = "low"
	ConfidenceMedium ConfidenceBucket = "medium"
	ConfidenceHigh   ConfidenceBucket = "high"
)

// Evidence carries the per-pattern measurements.
type Evidence struct {
	Occurrences   int       `json:"occurrences,omitempty"`
	WindowSize    int       `json:"window_size"`
	AvgDurationMs int64     `json:"avg_duration_ms,omitempty"`
	Scores        []float64 `json:"scores,omitempty"`
	RunIDs        []string  `json:"run_ids,omitempty"`
}

// Pattern is one multi-run behavioral signal. Prioritization and truncation
// belong to presentation, not here.
type Pattern struct {
	Type       PatternType      `json:"type"`
	PathName   string           `json:"path_name"`
	Confidence ConfidenceBucket `json:"confidence"`
	Evidence   Evidence         `json:"evidence"`
	Summary    string           `json:"summary"`
}

// WindowCap is the maximum number of prior runs a window may hold.
const WindowCap = 10

// minDegradationDelta is the smallest per-run confidence drop that counts
// toward a degradation streak.
const minDegradationDelta = 0.05

// Analyze runs all four detectors over the window of prior snapshots,
// oldest first. Fewer than two prior runs yields no patterns. Detectors are
// independent and order-insensitive; all may fire at once. The result is
// deterministic: re-analyzing the same window yields the same list.
func Analyze(window []journey.RunSnapshot) []Pattern {
	if len(window) > WindowCap {
		window = window[len(window)-WindowCap:]
	}
	if len(window) < 2 {
		return nil
	}

	var out []Pattern
	out = append(out, detectRepeatedSkips(window)...)
	out = append(out, detectRecurringFriction(window)...)
	out = append(out, detectSinglePointFailures(window)...)
	out = append(out, detectConfidenceDegradation(window)...)

	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].PathName < out[j].PathName
	})
	return out
}

// attemptRuns collects, per attempt ID, the runs in which the attempt ended
// in the given outcome.
func attemptRuns(window []journey.RunSnapshot, outcome journey.Outcome) map[string][]journey.AttemptResult {
	hits := make(map[string][]journey.AttemptResult)
	for _, snap := range window {
		for _, a := range snap.Attempts {
			if a.Outcome == outcome {
				hits[a.AttemptID] = append(hits[a.AttemptID], a)
			}
		}
	}
	return hits
}

func sortedKeys(m map[string][]journey.AttemptResult) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Same attempt SKIPPED in at least 2 runs of the window; 3+ occurrences is
// high confidence.
func detectRepeatedSkips(window []journey.RunSnapshot) []Pattern {
	skips := attemptRuns(window, journey.OutcomeSkipped)

	var out []Pattern
	for _, id := range sortedKeys(skips) {
		n := len(skips[id])
		if n < 2 {
			continue
		}
		conf := ConfidenceMedium
		if n >= 3 {
			conf = ConfidenceHigh
		}
		out = append(out, Pattern{
			Type:       TypeRepeatedSkip,
			PathName:   id,
			Confidence: conf,
			Evidence:   Evidence{Occurrences: n, WindowSize: len(window)},
			Summary:    fmt.Sprintf("%s was skipped in %d of the last %d runs", id, n, len(window)),
		})
	}
	return out
}

// Same attempt FRICTION in at least 2 runs; evidence carries the average
// duration of the frictional executions.
func detectRecurringFriction(window []journey.RunSnapshot) []Pattern {
	friction := attemptRuns(window, journey.OutcomeFriction)

	var out []Pattern
	for _, id := range sortedKeys(friction) {
		runs := friction[id]
		if len(runs) < 2 {
			continue
		}
		var total int64
		for _, a := range runs {
			total += a.DurationMs
		}
		conf := ConfidenceMedium
		if len(runs) >= 3 {
			conf = ConfidenceHigh
		}
		out = append(out, Pattern{
			Type:       TypeRecurringFriction,
			PathName:   id,
			Confidence: conf,
			Evidence: Evidence{
				Occurrences:   len(runs),
				WindowSize:    len(window),
				AvgDurationMs: total / int64(len(runs)),
			},
			Summary: fmt.Sprintf("%s hit friction in %d of the last %d runs", id, len(runs), len(window)),
		})
	}
	return out
}

// One attempt FAILURE in a majority of the window's runs (at least 3, more
// than half) flags it as a single point of failure.
func detectSinglePointFailures(window []journey.RunSnapshot) []Pattern {
	failures := make(map[string]int)
	for _, snap := range window {
		for _, a := range snap.Attempts {
			if a.Outcome == journey.OutcomeFailure {
				failures[a.AttemptID]++
			}
		}
	}

	ids := make([]string, 0, len(failures))
	for id := range failures {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []Pattern
	for _, id := range ids {
		n := failures[id]
		if n < 3 || n*2 <= len(window) {
			continue
		}
		out = append(out, Pattern{
			Type:       TypeSinglePointFailure,
			PathName:   id,
			Confidence: ConfidenceHigh,
			Evidence:   Evidence{Occurrences: n, WindowSize: len(window)},
			Summary:    fmt.Sprintf("%s failed in %d of the last %d runs and is the bottleneck of this target", id, n, len(window)),
		})
	}
	return out
}

// Verdict confidence strictly decreasing across at least 3 consecutive runs,
// each step dropping by at least minDegradationDelta.
func detectConfidenceDegradation(window []journey.RunSnapshot) []Pattern {
	scores := make([]float64, len(window))
	runIDs := make([]string, len(window))
	for i, snap := range window {
		scores[i] = snap.Verdict.Confidence.Score
		runIDs[i] = snap.Meta.RunID
	}

	// Longest streak of consecutive qualifying drops, tracked by run count.
	bestStart, bestLen := 0, 1
	curStart, curLen := 0, 1
	for i := 1; i < len(scores); i++ {
		if scores[i-1]-scores[i] >= minDegradationDelta {
			curLen++
		} else {
			curStart, curLen = i, 1
		}
		if curLen > bestLen {
			bestStart, bestLen = curStart, curLen
		}
	}
	if bestLen < 3 {
		return nil
	}

	conf := ConfidenceMedium
	if bestLen >= 4 {
		conf = ConfidenceHigh
	}
	streak := scores[bestStart : bestStart+bestLen]
	return []Pattern{{
		Type:       TypeConfidenceDegradation,
		PathName:   "run",
		Confidence: conf,
		Evidence: Evidence{
			WindowSize: len(window),
			Scores:     streak,
			RunIDs:     runIDs[bestStart : bestStart+bestLen],
		},
		Summary: fmt.Sprintf("verdict confidence dropped from %.2f to %.2f across %d consecutive runs",
			streak[0], streak[len(streak)-1], bestLen),
	}}
}
