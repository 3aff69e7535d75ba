// Package history persists one immutable RunSnapshot per invocation in a
// run-scoped directory and serves historical windows to the pattern
// analyzer.
package history

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/lucasnoah/vigil/internal/artifacts"
	"github.com/lucasnoah/vigil/internal/journey"
)

// Store manages run snapshots on disk.
type Store struct {
	baseDir string // defaults to ~/.vigil/runs
}

// NewStore creates a Store rooted at baseDir.
func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// DefaultStore returns a Store at ~/.vigil/runs, creating the directory if
// needed.
func DefaultStore() (*Store, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".vigil", "runs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return &Store{baseDir: dir}, nil
}

// BaseDir returns the store's root directory.
func (s *Store) BaseDir() string {
	return s.baseDir
}

// RunDir returns the directory for one run of one target.
func (s *Store) RunDir(target, runID string) string {
	return filepath.Join(s.baseDir, target, runID)
}

func (s *Store) snapshotPath(target, runID string) string {
	return filepath.Join(s.RunDir(target, runID), "snapshot.json")
}

// SaveSnapshot writes the snapshot JSON atomically into its run directory.
// Snapshots are never mutated after write; re-saving the same run replaces
// the whole file.
func (s *Store) SaveSnapshot(snap *journey.RunSnapshot) error {
	if snap.Meta.Target == "" || snap.Meta.RunID == "" {
		return fmt.Errorf("snapshot meta is missing target or run id")
	}
	return artifacts.WriteJSON(s.snapshotPath(snap.Meta.Target, snap.Meta.RunID), snap)
}

// LoadSnapshot reads one run's snapshot.
func (s *Store) LoadSnapshot(target, runID string) (*journey.RunSnapshot, error) {
	var snap journey.RunSnapshot
	if err := artifacts.ReadJSON(s.snapshotPath(target, runID), &snap); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("snapshot %s/%s not found", target, runID)
		}
		return nil, err
	}
	return &snap, nil
}

// List returns all snapshots for a target, oldest first. Broken entries are
// skipped rather than failing the listing.
func (s *Store) List(target string) ([]journey.RunSnapshot, error) {
	dir := filepath.Join(s.baseDir, target)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}

	var snaps []journey.RunSnapshot
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		snap, err := s.LoadSnapshot(target, entry.Name())
		if err != nil {
			continue // skip broken entries
		}
		snaps = append(snaps, *snap)
	}

	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].Meta.Timestamp.Before(snaps[j].Meta.Timestamp)
	})
	return snaps, nil
}

// Window returns up to max of the most recent snapshots for a target,
// oldest first. Pass 0 for no cap.
func (s *Store) Window(target string, max int) ([]journey.RunSnapshot, error) {
	snaps, err := s.List(target)
	if err != nil {
		return nil, err
	}
	if max > 0 && len(snaps) > max {
		snaps = snaps[len(snaps)-max:]
	}
	return snaps, nil
}
