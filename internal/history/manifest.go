package history

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/lucasnoah/vigil/internal/artifacts"
)

// ManifestName is the integrity manifest filename inside a run directory.
const ManifestName = "manifest.json"

// Manifest lists a content hash per artifact file in a run directory. It is
// produced after all other artifacts are written, so the manifest itself is
// never listed.
type Manifest struct {
	Algorithm string            `json:"algorithm"`
	Files     map[string]string `json:"files"`
}

// WriteManifest hashes every regular file under dir (except the manifest
// itself and temp debris) and writes the manifest atomically. Paths are
// recorded relative to dir with forward slashes.
func WriteManifest(dir string) (*Manifest, error) {
	m := &Manifest{Algorithm: "sha256", Files: make(map[string]string)}

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == ManifestName {
			return nil
		}
		sum, err := hashFile(path)
		if err != nil {
			return fmt.Errorf("hash %s: %w", rel, err)
		}
		m.Files[rel] = sum
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}

	if err := artifacts.WriteJSON(filepath.Join(dir, ManifestName), m); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}
	return m, nil
}

// VerifyManifest re-hashes the files listed in the manifest and returns the
// relative paths that are missing or whose content changed, sorted.
func VerifyManifest(dir string) ([]string, error) {
	var m Manifest
	if err := artifacts.ReadJSON(filepath.Join(dir, ManifestName), &m); err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var bad []string
	for rel, want := range m.Files {
		got, err := hashFile(filepath.Join(dir, filepath.FromSlash(rel)))
		if err != nil || got != want {
			bad = append(bad, rel)
		}
	}
	sort.Strings(bad)
	return bad, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}
