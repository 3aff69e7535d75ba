package analytics

import (
	"database/sql"
	"testing"

	"github.com/lucasnoah/vigil/internal/db"
)

func testDB(t *testing.T) *db.DB {
	t.Helper()
	d, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := d.Migrate(); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func exec(t *testing.T, conn *sql.DB, query string, args ...interface{}) {
	t.Helper()
	if _, err := conn.Exec(query, args...); err != nil {
		t.Fatalf("exec %q: %v", query, err)
	}
}

func insertAttempt(t *testing.T, conn *sql.DB, runID, attemptID, outcome string, durationMs, retries int) {
	t.Helper()
	exec(t, conn,
		`INSERT INTO attempt_events (run_id, target, attempt_id, outcome, duration_ms, retries) VALUES (?, 'app.test', ?, ?, ?, ?)`,
		runID, attemptID, outcome, durationMs, retries)
}

// --- QueryAttemptDurations ---

func TestQueryAttemptDurations(t *testing.T) {
	d := testDB(t)
	c := d.Conn()

	insertAttempt(t, c, "r1", "login", "SUCCESS", 1000, 0)
	insertAttempt(t, c, "r2", "login", "SUCCESS", 3000, 0)
	insertAttempt(t, c, "r3", "login", "FAILURE", 2000, 0)
	// Skipped attempts never ran and must not pollute the stats.
	insertAttempt(t, c, "r4", "login", "SKIPPED", 0, 0)

	results, err := QueryAttemptDurations(d, "app.test", "")
	if err != nil {
		t.Fatalf("QueryAttemptDurations: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}

	login := results[0]
	if login.AttemptID != "login" {
		t.Errorf("attempt = %q, want login", login.AttemptID)
	}
	if login.Count != 3 {
		t.Errorf("count = %d, want 3 (skipped excluded)", login.Count)
	}
	if login.Avg != 2000 {
		t.Errorf("avg = %v, want 2000", login.Avg)
	}
	if login.P50 != 2000 {
		t.Errorf("p50 = %v, want 2000", login.P50)
	}
}

func TestQueryAttemptDurationsWrongTarget(t *testing.T) {
	d := testDB(t)
	insertAttempt(t, d.Conn(), "r1", "login", "SUCCESS", 1000, 0)

	results, err := QueryAttemptDurations(d, "other.test", "")
	if err != nil {
		t.Fatalf("QueryAttemptDurations: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results for foreign target, got %d", len(results))
	}
}

// --- QueryOutcomeRates ---

func TestQueryOutcomeRates(t *testing.T) {
	d := testDB(t)
	c := d.Conn()

	insertAttempt(t, c, "r1", "login", "SUCCESS", 1000, 0)
	insertAttempt(t, c, "r2", "login", "SUCCESS", 1000, 1)
	insertAttempt(t, c, "r3", "login", "FRICTION", 1000, 1)
	insertAttempt(t, c, "r4", "login", "FAILURE", 1000, 0)

	results, err := QueryOutcomeRates(d, "app.test", "")
	if err != nil {
		t.Fatalf("QueryOutcomeRates: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}

	r := results[0]
	if r.Total != 4 {
		t.Errorf("total = %d, want 4", r.Total)
	}
	if r.Success != 50.0 {
		t.Errorf("success = %v, want 50.0", r.Success)
	}
	if r.Friction != 25.0 {
		t.Errorf("friction = %v, want 25.0", r.Friction)
	}
	if r.Failure != 25.0 {
		t.Errorf("failure = %v, want 25.0", r.Failure)
	}
	if r.AvgRetries != 0.5 {
		t.Errorf("avg retries = %v, want 0.5", r.AvgRetries)
	}
}

// --- QueryFlakyAttempts ---

func TestQueryFlakyAttempts(t *testing.T) {
	d := testDB(t)
	c := d.Conn()

	// login flips success -> failure -> success: 2 flips over 3 runs.
	insertAttempt(t, c, "r1", "login", "SUCCESS", 1000, 0)
	insertAttempt(t, c, "r2", "login", "FAILURE", 1000, 0)
	insertAttempt(t, c, "r3", "login", "SUCCESS", 1000, 0)
	// checkout is stable.
	insertAttempt(t, c, "r1", "checkout", "SUCCESS", 1000, 0)
	insertAttempt(t, c, "r2", "checkout", "SUCCESS", 1000, 0)
	// Friction stays in the success class, so this is not a flip.
	insertAttempt(t, c, "r1", "signup", "SUCCESS", 1000, 0)
	insertAttempt(t, c, "r2", "signup", "FRICTION", 1000, 0)

	results, err := QueryFlakyAttempts(d, "app.test", "")
	if err != nil {
		t.Fatalf("QueryFlakyAttempts: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected only login to be flaky, got %d results", len(results))
	}
	if results[0].AttemptID != "login" {
		t.Errorf("flaky attempt = %q, want login", results[0].AttemptID)
	}
	if results[0].FlipRate != 100.0 {
		t.Errorf("flip rate = %v, want 100.0 (2 flips over 2 transitions)", results[0].FlipRate)
	}
}

// --- QueryTargetThroughput ---

func TestQueryTargetThroughput(t *testing.T) {
	d := testDB(t)
	c := d.Conn()

	exec(t, c, `INSERT INTO run_events (run_id, target, event, timestamp) VALUES ('r1', 'app.test', 'started', '2024-06-03 10:00:00')`)
	exec(t, c, `INSERT INTO run_events (run_id, target, event, timestamp) VALUES ('r1', 'app.test', 'finished', '2024-06-03 10:05:00')`)
	exec(t, c, `INSERT INTO run_events (run_id, target, event, timestamp) VALUES ('r2', 'app.test', 'started', '2024-06-04 10:00:00')`)
	exec(t, c, `INSERT INTO run_events (run_id, target, event, timestamp) VALUES ('r2', 'app.test', 'aborted', '2024-06-04 10:01:00')`)

	results, err := QueryTargetThroughput(d, "app.test", "")
	if err != nil {
		t.Fatalf("QueryTargetThroughput: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 period, got %d", len(results))
	}
	if results[0].Started != 2 {
		t.Errorf("started = %d, want 2", results[0].Started)
	}
	if results[0].Finished != 1 {
		t.Errorf("finished = %d, want 1", results[0].Finished)
	}
	if results[0].Aborted != 1 {
		t.Errorf("aborted = %d, want 1", results[0].Aborted)
	}
}

// --- QueryRunDetail ---

func TestQueryRunDetailInterleavesTimeline(t *testing.T) {
	d := testDB(t)
	c := d.Conn()

	exec(t, c, `INSERT INTO run_events (run_id, target, event, timestamp) VALUES ('r1', 'app.test', 'started', '2024-06-03 10:00:00')`)
	exec(t, c, `INSERT INTO attempt_events (run_id, target, attempt_id, outcome, duration_ms, retries, friction_signals, timestamp)
	            VALUES ('r1', 'app.test', 'login', 'FRICTION', 4200, 1, 1, '2024-06-03 10:00:30')`)
	exec(t, c, `INSERT INTO run_events (run_id, target, event, timestamp) VALUES ('r1', 'app.test', 'finished', '2024-06-03 10:01:00')`)

	events, err := QueryRunDetail(d, "r1")
	if err != nil {
		t.Fatalf("QueryRunDetail: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Event != "started" || events[2].Event != "finished" {
		t.Errorf("timeline out of order: %+v", events)
	}
	if events[1].Type != "attempt" {
		t.Errorf("middle event type = %s, want attempt", events[1].Type)
	}
}

// --- helpers ---

func TestPercentile(t *testing.T) {
	sorted := []float64{100, 200, 300, 400, 500}
	if got := percentile(sorted, 50); got != 300 {
		t.Errorf("p50 = %v, want 300", got)
	}
	if got := percentile(sorted, 95); got != 480 {
		t.Errorf("p95 = %v, want 480", got)
	}
	if got := percentile(nil, 50); got != 0 {
		t.Errorf("p50 of empty = %v, want 0", got)
	}
}
