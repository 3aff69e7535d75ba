// Package analytics derives aggregate health metrics from the event log.
// Everything here is read-only over the db package's tables.
package analytics

import (
	"database/sql"
	"fmt"
	"math"
	"sort"
)

// DB is the interface for database queries used by analytics.
type DB interface {
	Conn() *sql.DB
}

// AttemptDuration holds duration stats for one journey attempt on a target.
type AttemptDuration struct {
	AttemptID string  `json:"attempt_id"`
	Count     int     `json:"count"`
	Avg       float64 `json:"avg_ms"`
	P50       float64 `json:"p50_ms"`
	P95       float64 `json:"p95_ms"`
}

// QueryAttemptDurations returns average and percentile durations per attempt
// for a target. Only executed attempts contribute; skipped and not-applicable
// outcomes never ran against the target.
func QueryAttemptDurations(database DB, target, since string) ([]AttemptDuration, error) {
	query := `
		SELECT attempt_id, duration_ms
		FROM attempt_events
		WHERE target = ?
		AND outcome IN ('SUCCESS', 'FAILURE', 'FRICTION', 'DISCOVERY_FAILED')`

	args := []interface{}{target}
	if since != "" {
		query += ` AND timestamp >= ?`
		args = append(args, since)
	}

	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query attempt durations: %w", err)
	}
	defer rows.Close()

	durations := make(map[string][]float64)
	for rows.Next() {
		var attemptID string
		var ms int64
		if err := rows.Scan(&attemptID, &ms); err != nil {
			return nil, fmt.Errorf("scan attempt duration: %w", err)
		}
		durations[attemptID] = append(durations[attemptID], float64(ms))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var results []AttemptDuration
	for attemptID, values := range durations {
		sort.Float64s(values)
		results = append(results, AttemptDuration{
			AttemptID: attemptID,
			Count:     len(values),
			Avg:       avg(values),
			P50:       percentile(values, 50),
			P95:       percentile(values, 95),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].AttemptID < results[j].AttemptID
	})
	return results, nil
}

// OutcomeRate holds the outcome distribution for one attempt on a target.
type OutcomeRate struct {
	AttemptID  string  `json:"attempt_id"`
	Total      int     `json:"total"`
	Success    float64 `json:"success_pct"`
	Friction   float64 `json:"friction_pct"`
	Failure    float64 `json:"failure_pct"`
	Discovery  float64 `json:"discovery_failed_pct"`
	Skipped    float64 `json:"skipped_pct"`
	AvgRetries float64 `json:"avg_retries"`
}

// QueryOutcomeRates returns the per-attempt outcome distribution for a target.
func QueryOutcomeRates(database DB, target, since string) ([]OutcomeRate, error) {
	query := `
		SELECT attempt_id,
			COUNT(*) as total,
			SUM(CASE WHEN outcome = 'SUCCESS' THEN 1 ELSE 0 END) as successes,
			SUM(CASE WHEN outcome = 'FRICTION' THEN 1 ELSE 0 END) as friction,
			SUM(CASE WHEN outcome = 'FAILURE' THEN 1 ELSE 0 END) as failures,
			SUM(CASE WHEN outcome = 'DISCOVERY_FAILED' THEN 1 ELSE 0 END) as discovery,
			SUM(CASE WHEN outcome IN ('SKIPPED', 'NOT_APPLICABLE') THEN 1 ELSE 0 END) as skipped,
			AVG(retries) as avg_retries
		FROM attempt_events
		WHERE target = ?`

	args := []interface{}{target}
	if since != "" {
		query += ` AND timestamp >= ?`
		args = append(args, since)
	}
	query += ` GROUP BY attempt_id ORDER BY attempt_id`

	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query outcome rates: %w", err)
	}
	defer rows.Close()

	var results []OutcomeRate
	for rows.Next() {
		var attemptID string
		var total, successes, friction, failures, discovery, skipped int
		var avgRetries sql.NullFloat64
		if err := rows.Scan(&attemptID, &total, &successes, &friction, &failures, &discovery, &skipped, &avgRetries); err != nil {
			return nil, fmt.Errorf("scan outcome rate: %w", err)
		}
		r := OutcomeRate{
			AttemptID: attemptID,
			Total:     total,
			Success:   pct(successes, total),
			Friction:  pct(friction, total),
			Failure:   pct(failures, total),
			Discovery: pct(discovery, total),
			Skipped:   pct(skipped, total),
		}
		if avgRetries.Valid {
			r.AvgRetries = math.Round(avgRetries.Float64*10) / 10
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// TargetThroughput holds run counts for a target grouped by week.
type TargetThroughput struct {
	Period   string `json:"period"`
	Started  int    `json:"started"`
	Finished int    `json:"finished"`
	Aborted  int    `json:"aborted"`
}

// QueryTargetThroughput returns run counts per week for a target, newest
// period first.
func QueryTargetThroughput(database DB, target, since string) ([]TargetThroughput, error) {
	query := `
		SELECT
			strftime('%Y-W%W', timestamp) as period,
			SUM(CASE WHEN event = 'started' THEN 1 ELSE 0 END) as started,
			SUM(CASE WHEN event = 'finished' THEN 1 ELSE 0 END) as finished,
			SUM(CASE WHEN event = 'aborted' THEN 1 ELSE 0 END) as aborted
		FROM run_events
		WHERE target = ?
		AND event IN ('started', 'finished', 'aborted')`

	args := []interface{}{target}
	if since != "" {
		query += ` AND timestamp >= ?`
		args = append(args, since)
	}
	query += ` GROUP BY period ORDER BY period DESC LIMIT 10`

	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query target throughput: %w", err)
	}
	defer rows.Close()

	var results []TargetThroughput
	for rows.Next() {
		var tp TargetThroughput
		if err := rows.Scan(&tp.Period, &tp.Started, &tp.Finished, &tp.Aborted); err != nil {
			return nil, fmt.Errorf("scan throughput: %w", err)
		}
		results = append(results, tp)
	}
	return results, rows.Err()
}

// FlakyAttempt is an attempt whose outcome alternates between classes.
type FlakyAttempt struct {
	AttemptID string  `json:"attempt_id"`
	Total     int     `json:"total"`
	FlipRate  float64 `json:"flip_rate_pct"`
}

// QueryFlakyAttempts returns attempts that moved between the success class
// and the failure class across consecutive runs, highest flip rate first.
// Skipped and not-applicable rows are ignored; they carry no class.
func QueryFlakyAttempts(database DB, target, since string) ([]FlakyAttempt, error) {
	query := `
		SELECT attempt_id, outcome
		FROM attempt_events
		WHERE target = ?
		AND outcome IN ('SUCCESS', 'FAILURE', 'FRICTION', 'DISCOVERY_FAILED')`

	args := []interface{}{target}
	if since != "" {
		query += ` AND timestamp >= ?`
		args = append(args, since)
	}
	query += ` ORDER BY attempt_id, id`

	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query flaky attempts: %w", err)
	}
	defer rows.Close()

	type seq struct {
		total, flips int
		lastClass    string
	}
	attempts := make(map[string]*seq)
	for rows.Next() {
		var attemptID, outcome string
		if err := rows.Scan(&attemptID, &outcome); err != nil {
			return nil, fmt.Errorf("scan flaky attempt: %w", err)
		}
		class := "success"
		if outcome == "FAILURE" || outcome == "DISCOVERY_FAILED" {
			class = "failure"
		}

		s, ok := attempts[attemptID]
		if !ok {
			s = &seq{}
			attempts[attemptID] = s
		}
		s.total++
		if s.lastClass != "" && s.lastClass != class {
			s.flips++
		}
		s.lastClass = class
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var results []FlakyAttempt
	for attemptID, s := range attempts {
		if s.flips == 0 {
			continue
		}
		results = append(results, FlakyAttempt{
			AttemptID: attemptID,
			Total:     s.total,
			FlipRate:  pct(s.flips, s.total-1),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].FlipRate != results[j].FlipRate {
			return results[i].FlipRate > results[j].FlipRate
		}
		return results[i].AttemptID < results[j].AttemptID
	})
	return results, nil
}

// RunEvent holds a single event for the run-detail timeline.
type RunEvent struct {
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Event     string `json:"event"`
	Detail    string `json:"detail,omitempty"`
}

// QueryRunDetail returns the full timeline for one run: lifecycle events and
// attempt records interleaved by timestamp.
func QueryRunDetail(database DB, runID string) ([]RunEvent, error) {
	var results []RunEvent

	reRows, err := database.Conn().Query(
		`SELECT timestamp, event, detail
		 FROM run_events WHERE run_id = ? ORDER BY timestamp, id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query run events: %w", err)
	}
	defer reRows.Close()

	for reRows.Next() {
		var e RunEvent
		var detail sql.NullString
		if err := reRows.Scan(&e.Timestamp, &e.Event, &detail); err != nil {
			return nil, fmt.Errorf("scan run event: %w", err)
		}
		e.Type = "run"
		if detail.Valid {
			e.Detail = detail.String
		}
		results = append(results, e)
	}
	if err := reRows.Err(); err != nil {
		return nil, err
	}

	aeRows, err := database.Conn().Query(
		`SELECT timestamp, attempt_id, outcome, duration_ms, retries, friction_signals, soft_failures
		 FROM attempt_events WHERE run_id = ? ORDER BY timestamp, id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query attempt events: %w", err)
	}
	defer aeRows.Close()

	for aeRows.Next() {
		var ts, attemptID, outcome string
		var durationMs, retries, frictionSignals, softFailures int
		if err := aeRows.Scan(&ts, &attemptID, &outcome, &durationMs, &retries, &frictionSignals, &softFailures); err != nil {
			return nil, fmt.Errorf("scan attempt event: %w", err)
		}

		detail := fmt.Sprintf("%s: %s (%dms)", attemptID, outcome, durationMs)
		if retries > 0 {
			detail += fmt.Sprintf(", %d retries", retries)
		}
		if frictionSignals > 0 {
			detail += fmt.Sprintf(", %d friction signals", frictionSignals)
		}
		if softFailures > 0 {
			detail += fmt.Sprintf(", %d soft failures", softFailures)
		}

		results = append(results, RunEvent{
			Timestamp: ts,
			Type:      "attempt",
			Event:     attemptID,
			Detail:    detail,
		})
	}
	if err := aeRows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Timestamp < results[j].Timestamp
	})

	return results, nil
}

// --- helpers ---

func avg(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return math.Round(sum/float64(len(values))*10) / 10
}

func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := float64(p) / 100.0 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper || upper >= len(sorted) {
		return math.Round(sorted[lower]*10) / 10
	}
	weight := rank - float64(lower)
	return math.Round((sorted[lower]*(1-weight)+sorted[upper]*weight)*10) / 10
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*1000) / 10
}
