package step

import (
	"fmt"

	"github.com/lucasnoah/vigil/internal/journey"
)

// Thresholds configures friction detection. Zero values disable a metric.
type Thresholds struct {
	SlowStepMs    int64 `yaml:"slow_step_ms"`
	SlowAttemptMs int64 `yaml:"slow_attempt_ms"`
	// MaxRetries is the number of step retries tolerated before the attempt
	// counts as frictional. The executor retries at most once per step, so
	// 0 means any retry is friction.
	MaxRetries int `yaml:"max_retries"`
}

// DetectFriction emits a signal for every metric that crossed its threshold
// during one attempt. Signals are facts about the run; they are emitted once
// and never retracted.
func DetectFriction(attemptID string, steps []journey.StepResult, totalMs int64, th Thresholds) journey.FrictionReport {
	var report journey.FrictionReport

	retries := 0
	for _, s := range steps {
		retries += s.Retries
		if th.SlowStepMs > 0 && s.DurationMs > th.SlowStepMs {
			report.Signals = append(report.Signals, journey.FrictionSignal{
				ID:             fmt.Sprintf("%s/%s/slow-step", attemptID, s.ID),
				Metric:         "step_duration_ms",
				Threshold:      float64(th.SlowStepMs),
				ObservedValue:  float64(s.DurationMs),
				Severity:       severity(float64(s.DurationMs), float64(th.SlowStepMs)),
				AffectedStepID: s.ID,
			})
			report.Reasons = append(report.Reasons,
				fmt.Sprintf("step %s took %dms (threshold %dms)", s.ID, s.DurationMs, th.SlowStepMs))
		}
	}

	if retries > th.MaxRetries {
		report.Signals = append(report.Signals, journey.FrictionSignal{
			ID:            fmt.Sprintf("%s/retries", attemptID),
			Metric:        "step_retries",
			Threshold:     float64(th.MaxRetries),
			ObservedValue: float64(retries),
			Severity:      "minor",
		})
		report.Reasons = append(report.Reasons,
			fmt.Sprintf("%d step retrie(s) needed (threshold %d)", retries, th.MaxRetries))
	}

	if th.SlowAttemptMs > 0 && totalMs > th.SlowAttemptMs {
		report.Signals = append(report.Signals, journey.FrictionSignal{
			ID:            fmt.Sprintf("%s/slow-attempt", attemptID),
			Metric:        "attempt_duration_ms",
			Threshold:     float64(th.SlowAttemptMs),
			ObservedValue: float64(totalMs),
			Severity:      severity(float64(totalMs), float64(th.SlowAttemptMs)),
		})
		report.Reasons = append(report.Reasons,
			fmt.Sprintf("attempt took %dms (threshold %dms)", totalMs, th.SlowAttemptMs))
	}

	return report
}

func severity(observed, threshold float64) string {
	if observed >= 2*threshold {
		return "major"
	}
	return "minor"
}
