package db

import (
	"database/sql"
	"fmt"

	"github.com/lucasnoah/vigil/internal/journey"
)

// RunEvent represents a row in the run_events table.
type RunEvent struct {
	ID        int
	RunID     string
	Target    string
	Event     string
	Detail    string
	Timestamp string
}

// AttemptEvent represents a row in the attempt_events table.
type AttemptEvent struct {
	ID              int
	RunID           string
	Target          string
	AttemptID       string
	Outcome         string
	DurationMs      int
	Retries         int
	FrictionSignals int
	SoftFailures    int
	Error           string
	Timestamp       string
}

// LogRunEvent inserts a run lifecycle event.
func (d *DB) LogRunEvent(runID, target, event, detail string) error {
	_, err := d.conn.Exec(
		`INSERT INTO run_events (run_id, target, event, detail) VALUES (?, ?, ?, ?)`,
		runID, target, event, detail,
	)
	if err != nil {
		return fmt.Errorf("log run event: %w", err)
	}
	return nil
}

// LogAttemptEvent inserts the record of one finished attempt.
func (d *DB) LogAttemptEvent(runID, target string, res journey.AttemptResult) error {
	retries := 0
	for _, s := range res.Steps {
		retries += s.Retries
	}
	soft := len(res.SoftFailures.Failures) + len(res.SoftFailures.Warnings)

	_, err := d.conn.Exec(
		`INSERT INTO attempt_events (run_id, target, attempt_id, outcome, duration_ms, retries, friction_signals, soft_failures, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, target, res.AttemptID, string(res.Outcome), res.DurationMs, retries,
		len(res.Friction.Signals), soft, res.Error,
	)
	if err != nil {
		return fmt.Errorf("log attempt event: %w", err)
	}
	return nil
}

// GetRunHistory returns all run events for a run, ordered by timestamp descending.
func (d *DB) GetRunHistory(runID string) ([]RunEvent, error) {
	rows, err := d.conn.Query(
		`SELECT id, run_id, target, event, detail, timestamp
		 FROM run_events WHERE run_id = ? ORDER BY timestamp DESC, id DESC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("get run history: %w", err)
	}
	defer rows.Close()

	var events []RunEvent
	for rows.Next() {
		var e RunEvent
		var detail sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &e.Target, &e.Event, &detail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan run event: %w", err)
		}
		if detail.Valid {
			e.Detail = detail.String
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetLatestRunEvent returns the most recent event for a run, or nil.
func (d *DB) GetLatestRunEvent(runID string) (*RunEvent, error) {
	row := d.conn.QueryRow(
		`SELECT id, run_id, target, event, detail, timestamp
		 FROM run_events WHERE run_id = ? ORDER BY timestamp DESC, id DESC LIMIT 1`,
		runID,
	)
	var e RunEvent
	var detail sql.NullString
	err := row.Scan(&e.ID, &e.RunID, &e.Target, &e.Event, &detail, &e.Timestamp)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest run event: %w", err)
	}
	if detail.Valid {
		e.Detail = detail.String
	}
	return &e, nil
}

// GetAttemptEvents returns all attempt events for a target and attempt id,
// newest first.
func (d *DB) GetAttemptEvents(target, attemptID string) ([]AttemptEvent, error) {
	rows, err := d.conn.Query(
		`SELECT id, run_id, target, attempt_id, outcome, duration_ms, retries, friction_signals, soft_failures, error, timestamp
		 FROM attempt_events WHERE target = ? AND attempt_id = ? ORDER BY id DESC`,
		target, attemptID,
	)
	if err != nil {
		return nil, fmt.Errorf("get attempt events: %w", err)
	}
	defer rows.Close()
	return scanAttemptEvents(rows)
}

// GetRunAttempts returns the attempt events recorded during one run, in
// insertion order.
func (d *DB) GetRunAttempts(runID string) ([]AttemptEvent, error) {
	rows, err := d.conn.Query(
		`SELECT id, run_id, target, attempt_id, outcome, duration_ms, retries, friction_signals, soft_failures, error, timestamp
		 FROM attempt_events WHERE run_id = ? ORDER BY id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("get run attempts: %w", err)
	}
	defer rows.Close()
	return scanAttemptEvents(rows)
}

func scanAttemptEvents(rows *sql.Rows) ([]AttemptEvent, error) {
	var events []AttemptEvent
	for rows.Next() {
		var e AttemptEvent
		var errText sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &e.Target, &e.AttemptID, &e.Outcome, &e.DurationMs,
			&e.Retries, &e.FrictionSignals, &e.SoftFailures, &errText, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan attempt event: %w", err)
		}
		if errText.Valid {
			e.Error = errText.String
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// ListTargets returns the distinct targets that have attempt events, sorted.
func (d *DB) ListTargets() ([]string, error) {
	rows, err := d.conn.Query(`SELECT DISTINCT target FROM attempt_events ORDER BY target`)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	defer rows.Close()

	var targets []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan target: %w", err)
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}
