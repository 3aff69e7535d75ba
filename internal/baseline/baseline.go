// Package baseline persists the last known good per-attempt outcomes for a
// target and computes regressions and improvements against the current run.
package baseline

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/lucasnoah/vigil/internal/artifacts"
	"github.com/lucasnoah/vigil/internal/journey"
)

// Baseline is the last trusted set of per-attempt outcomes for one target.
// It is created on the first run for a target and overwritten only by
// explicit creation, never implicitly during comparison.
type Baseline struct {
	Target    string                     `json:"target"`
	RunID     string                     `json:"run_id"`
	CreatedAt time.Time                  `json:"created_at"`
	Attempts  map[string]journey.Outcome `json:"attempts"`
}

// Store manages baseline files, one per target, under a target-scoped
// directory. Saves go through the atomic write-temp-then-rename discipline
// since every subsequent run for the target reads the canonical file.
type Store struct {
	baseDir string
}

// NewStore creates a Store rooted at baseDir.
func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// DefaultStore returns a Store at ~/.vigil/baselines, creating the directory
// if needed.
func DefaultStore() (*Store, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".vigil", "baselines")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return &Store{baseDir: dir}, nil
}

// Reset removes the baseline for a target so the next run re-creates it.
// A missing baseline is not an error.
func (s *Store) Reset(target string) error {
	if err := os.Remove(s.path(target)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove baseline for %s: %w", target, err)
	}
	return nil
}

func (s *Store) path(target string) string {
	return filepath.Join(s.baseDir, target+".json")
}

// Load reads the baseline for a target. A missing file returns (nil, nil);
// an unreadable or corrupt file returns ErrUnusable so the caller can skip
// comparison, surface a limit, and keep the run going.
func (s *Store) Load(target string) (*Baseline, error) {
	var b Baseline
	if err := artifacts.ReadJSON(s.path(target), &b); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrUnusable, err)
	}
	if b.Attempts == nil {
		return nil, fmt.Errorf("%w: baseline has no attempt map", ErrUnusable)
	}
	return &b, nil
}

// Save writes the baseline atomically.
func (s *Store) Save(b *Baseline) error {
	if b.Target == "" {
		return fmt.Errorf("baseline has no target")
	}
	return artifacts.WriteJSON(s.path(b.Target), b)
}

// CreateFromSnapshot builds a baseline from the executed attempts of a run
// and saves it. Non-executed attempts carry no trusted outcome and are left
// out.
func (s *Store) CreateFromSnapshot(snap *journey.RunSnapshot) (*Baseline, error) {
	b := &Baseline{
		Target:    snap.Meta.Target,
		RunID:     snap.Meta.RunID,
		CreatedAt: snap.Meta.Timestamp,
		Attempts:  make(map[string]journey.Outcome),
	}
	for _, a := range snap.Attempts {
		if a.Outcome.Executed() {
			b.Attempts[a.AttemptID] = a.Outcome
		}
	}
	if err := s.Save(b); err != nil {
		return nil, fmt.Errorf("save baseline for %s: %w", snap.Meta.Target, err)
	}
	return b, nil
}

// ErrUnusable marks a corrupt or unreadable baseline. Comparison is skipped
// and the run continues.
var ErrUnusable = fmt.Errorf("baseline unusable")

// Compare diffs the current attempts against the baseline, per attempt ID.
// A move from the success class to the failure class is a regression, the
// reverse an improvement; everything else is silent. Attempts unknown to the
// baseline are silent too. Output order is stable (attempt ID).
func Compare(b *Baseline, attempts []journey.AttemptResult) *journey.BaselineDiff {
	diff := &journey.BaselineDiff{BaselineRunID: b.RunID}

	sorted := make([]journey.AttemptResult, len(attempts))
	copy(sorted, attempts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].AttemptID < sorted[j].AttemptID })

	for _, a := range sorted {
		last, known := b.Attempts[a.AttemptID]
		if !known {
			continue
		}
		change := journey.BaselineChange{AttemptID: a.AttemptID, From: last, To: a.Outcome}
		switch {
		case last.SuccessClass() && a.Outcome.FailureClass():
			diff.Regressions = append(diff.Regressions, change)
		case last.FailureClass() && a.Outcome.SuccessClass():
			diff.Improvements = append(diff.Improvements, change)
		}
	}
	return diff
}
