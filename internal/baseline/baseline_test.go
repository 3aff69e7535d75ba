package baseline

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lucasnoah/vigil/internal/artifacts"
	"github.com/lucasnoah/vigil/internal/journey"
)

func snapshot(target string, attempts ...journey.AttemptResult) *journey.RunSnapshot {
	return &journey.RunSnapshot{
		Meta: journey.RunMeta{
			Target:    target,
			RunID:     "run-1",
			URL:       "https://shop.example.com",
			Timestamp: time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC),
		},
		Attempts: attempts,
	}
}

func TestCreateFromSnapshot_OnlyExecutedOutcomes(t *testing.T) {
	store := NewStore(t.TempDir())
	snap := snapshot("shop",
		journey.AttemptResult{AttemptID: "login", Outcome: journey.OutcomeSuccess},
		journey.AttemptResult{AttemptID: "newsletter", Outcome: journey.OutcomeSkipped},
	)

	b, err := store.CreateFromSnapshot(snap)
	if err != nil {
		t.Fatalf("CreateFromSnapshot: %v", err)
	}
	if _, ok := b.Attempts["newsletter"]; ok {
		t.Error("skipped attempt must not enter the baseline")
	}
	if b.Attempts["login"] != journey.OutcomeSuccess {
		t.Errorf("login = %s, want SUCCESS", b.Attempts["login"])
	}

	loaded, err := store.Load("shop")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded == nil || loaded.RunID != "run-1" {
		t.Fatalf("loaded = %+v, want run-1 baseline", loaded)
	}
}

func TestLoad_MissingIsNilNotError(t *testing.T) {
	store := NewStore(t.TempDir())
	b, err := store.Load("unknown")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if b != nil {
		t.Fatalf("b = %+v, want nil for missing baseline", b)
	}
}

func TestLoad_CorruptIsUnusable(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "shop.json"), []byte("{truncated"), 0o644); err != nil {
		t.Fatalf("write corrupt baseline: %v", err)
	}

	store := NewStore(dir)
	_, err := store.Load("shop")
	if !errors.Is(err, ErrUnusable) {
		t.Fatalf("err = %v, want ErrUnusable", err)
	}
}

func TestCompare_RegressionsAndImprovements(t *testing.T) {
	b := &Baseline{
		Target: "shop",
		RunID:  "run-1",
		Attempts: map[string]journey.Outcome{
			"login":    journey.OutcomeSuccess,
			"checkout": journey.OutcomeFriction,
			"search":   journey.OutcomeFailure,
			"signup":   journey.OutcomeSuccess,
		},
	}
	attempts := []journey.AttemptResult{
		{AttemptID: "login", Outcome: journey.OutcomeSuccess},          // tie, silent
		{AttemptID: "checkout", Outcome: journey.OutcomeFailure},       // regression
		{AttemptID: "search", Outcome: journey.OutcomeSuccess},         // improvement
		{AttemptID: "signup", Outcome: journey.OutcomeSkipped},         // not a class move, silent
		{AttemptID: "brand-new", Outcome: journey.OutcomeFailure},      // unknown to baseline, silent
	}

	diff := Compare(b, attempts)
	if len(diff.Regressions) != 1 || diff.Regressions[0].AttemptID != "checkout" {
		t.Errorf("regressions = %v, want [checkout]", diff.Regressions)
	}
	if len(diff.Improvements) != 1 || diff.Improvements[0].AttemptID != "search" {
		t.Errorf("improvements = %v, want [search]", diff.Improvements)
	}
	if diff.BaselineRunID != "run-1" {
		t.Errorf("baseline run id = %s, want run-1", diff.BaselineRunID)
	}
}

func TestCompare_DiscoveryFailedIsFailureClass(t *testing.T) {
	b := &Baseline{RunID: "run-1", Attempts: map[string]journey.Outcome{
		"login": journey.OutcomeSuccess,
	}}
	diff := Compare(b, []journey.AttemptResult{
		{AttemptID: "login", Outcome: journey.OutcomeDiscoveryFailed},
	})
	if len(diff.Regressions) != 1 {
		t.Fatalf("regressions = %v, want discovery failure counted", diff.Regressions)
	}
}

func TestSave_AtomicLeavesNoTempDebris(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	b := &Baseline{Target: "shop", RunID: "run-2", Attempts: map[string]journey.Outcome{
		"login": journey.OutcomeSuccess,
	}}
	if err := store.Save(b); err != nil {
		t.Fatalf("Save: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp-") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

// A crash between temp-write and rename must never corrupt the canonical
// file: the canonical path either holds the old content or the new, never a
// truncated write.
func TestSave_CrashMidWritePreservesCanonical(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	good := &Baseline{Target: "shop", RunID: "run-1", Attempts: map[string]journey.Outcome{
		"login": journey.OutcomeSuccess,
	}}
	if err := store.Save(good); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Simulate the crash: a temp file exists but the rename never happened.
	if err := os.WriteFile(filepath.Join(dir, ".tmp-crash"), []byte(`{"target":`), 0o644); err != nil {
		t.Fatalf("write orphan temp: %v", err)
	}

	loaded, err := store.Load("shop")
	if err != nil {
		t.Fatalf("Load after simulated crash: %v", err)
	}
	if loaded.RunID != "run-1" {
		t.Errorf("run id = %s, want run-1 (old content intact)", loaded.RunID)
	}
}

func TestWriteAtomic_ReplacesExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "b.json")
	if err := artifacts.WriteAtomic(path, []byte("one")); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := artifacts.WriteAtomic(path, []byte("two")); err != nil {
		t.Fatalf("second write: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "two" {
		t.Errorf("content = %q, want %q", data, "two")
	}
}
