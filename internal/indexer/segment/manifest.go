package segment

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ManifestName is the file whose content names the published generation.
// Replacing it is the single atomic step of a commit.
const ManifestName = "CURRENT"

// ErrNotDurable reports that the manifest was renamed into place, so the
// generation is published, but the directory entry may not survive a
// crash yet.
var ErrNotDurable = errors.New("manifest published but directory sync failed")

var syncManifestDir = syncDir

// Manifest names the published generation. IndexID is assigned once, when
// the directory is initialised, and carried by every later generation.
type Manifest struct {
	IndexID     string    `json:"index_id,omitempty"`
	Generation  uint64    `json:"generation"`
	Segment     string    `json:"segment"`
	Documents   int       `json:"documents"`
	Terms       int       `json:"terms"`
	Fingerprint string    `json:"fingerprint"`
	CommittedAt time.Time `json:"committed_at"`
}

// ReadManifest returns the manifest of dir. A missing manifest yields an
// error satisfying errors.Is(err, os.ErrNotExist).
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	if m.Segment == "" {
		return nil, fmt.Errorf("parsing manifest: %w", ErrCorrupt)
	}
	return &m, nil
}

// WriteManifest replaces the manifest of dir through write, fsync, rename
// and a directory fsync. An error from the final directory fsync wraps
// ErrNotDurable; any other error means the previous manifest is still in
// place.
func WriteManifest(dir string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling manifest: %w", err)
	}
	finalPath := filepath.Join(dir, ManifestName)
	tmpPath := finalPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp manifest: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing manifest: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("syncing manifest: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing manifest: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("publishing manifest: %w", err)
	}
	if err := syncManifestDir(dir); err != nil {
		return fmt.Errorf("%w: %w", ErrNotDurable, err)
	}
	return nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("opening index directory: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("syncing index directory: %w", err)
	}
	return nil
}
