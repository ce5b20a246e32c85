package segment

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/logger"
)

// LockName is the file flock'ed by the process holding the writer session
// of a directory.
const LockName = "LOCK"

// ErrLocked means another process, or another Store on the same directory,
// holds the writer lock.
var ErrLocked = errors.New("index directory is locked by another writer")

// Store owns the on-disk layout of one index directory: one segment file
// per retained generation plus the CURRENT manifest.
type Store struct {
	dir    string
	writer *Writer
	logger *slog.Logger

	mu sync.Mutex
	id string
}

func NewStore(dir string) *Store {
	return &Store{
		dir:    dir,
		writer: NewWriter(dir),
		logger: logger.WithComponent("segment-store").With("dir", dir),
	}
}

func (s *Store) Dir() string { return s.dir }

// ID returns the identity of the index as recorded in its manifest, or ""
// before the first Load or Init.
func (s *Store) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *Store) setID(id string) {
	s.mu.Lock()
	s.id = id
	s.mu.Unlock()
}

// TryLock takes the directory's writer lock without waiting. It returns
// ErrLocked when the lock is held elsewhere.
func (s *Store) TryLock() (unlock func(), err error) {
	fl := flock.New(filepath.Join(s.dir, LockName))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking index directory: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return s.unlocker(fl), nil
}

func (s *Store) lock() (func(), error) {
	fl := flock.New(filepath.Join(s.dir, LockName))
	if err := fl.Lock(); err != nil {
		return nil, fmt.Errorf("locking index directory: %w", err)
	}
	return s.unlocker(fl), nil
}

func (s *Store) unlocker(fl *flock.Flock) func() {
	return func() {
		if err := fl.Unlock(); err != nil {
			s.logger.Warn("releasing index lock failed", "error", err)
		}
	}
}

// Exists reports whether dir holds a published manifest.
func (s *Store) Exists() (bool, error) {
	_, err := os.Stat(filepath.Join(s.dir, ManifestName))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Init creates the directory and publishes an empty generation-0 snapshot
// under a fresh index id when no manifest exists yet. Concurrent Inits of
// one directory agree on a single id.
func (s *Store) Init() error {
	if ok, err := s.Exists(); err != nil || ok {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating index directory: %w", err)
	}
	unlock, err := s.lock()
	if err != nil {
		return err
	}
	defer unlock()

	ok, err := s.Exists()
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	s.setID(uuid.NewString())
	if _, err := s.Save(index.Empty()); err != nil {
		return fmt.Errorf("initialising empty index: %w", err)
	}
	s.logger.Info("created empty index", "index_id", s.ID())
	return nil
}

// Load reconstructs the snapshot named by the manifest.
func (s *Store) Load() (*index.Snapshot, *Manifest, error) {
	m, err := ReadManifest(s.dir)
	if err != nil {
		return nil, nil, err
	}
	r, err := OpenReader(filepath.Join(s.dir, m.Segment))
	if err != nil {
		return nil, nil, err
	}
	defer r.Close()

	snap, err := r.Snapshot()
	if err != nil {
		return nil, nil, fmt.Errorf("loading segment %s: %w", m.Segment, err)
	}
	if snap.Generation() != m.Generation {
		return nil, nil, fmt.Errorf("%w: segment %s holds generation %d, manifest names %d",
			ErrCorrupt, m.Segment, snap.Generation(), m.Generation)
	}
	if fp := fingerprint(snap); m.Fingerprint != "" && fp != m.Fingerprint {
		return nil, nil, fmt.Errorf("%w: fingerprint mismatch for generation %d", ErrCorrupt, m.Generation)
	}
	s.setID(m.IndexID)
	s.logger.Debug("loaded snapshot",
		"index_id", m.IndexID,
		"generation", m.Generation,
		"documents", snap.DocCount(),
		"terms", snap.TermCount(),
	)
	return snap, m, nil
}

// Save writes snap's segment and then publishes it by replacing the
// manifest. Until the manifest rename succeeds, Load keeps returning the
// previous generation. Once the rename has happened the commit stands: a
// failed directory sync after it is logged and the segment is kept.
// Callers writing from several processes must hold the lock from TryLock.
func (s *Store) Save(snap *index.Snapshot) (*Manifest, error) {
	name, err := s.writer.Write(snap)
	if err != nil {
		return nil, err
	}
	id := s.ID()
	if id == "" {
		if cur, err := ReadManifest(s.dir); err == nil && cur.IndexID != "" {
			id = cur.IndexID
		} else {
			id = uuid.NewString()
		}
		s.setID(id)
	}
	m := &Manifest{
		IndexID:     id,
		Generation:  snap.Generation(),
		Segment:     name,
		Documents:   snap.DocCount(),
		Terms:       snap.TermCount(),
		Fingerprint: fingerprint(snap),
		CommittedAt: time.Now().UTC(),
	}
	if err := WriteManifest(s.dir, m); err != nil {
		if !errors.Is(err, ErrNotDurable) {
			os.Remove(filepath.Join(s.dir, name))
			return nil, err
		}
		s.logger.Warn("generation published without directory sync",
			"generation", m.Generation,
			"error", err,
		)
	}
	return m, nil
}

// Prune removes segment files older than the newest keep generations and
// stray temporary files. The published segment is never removed.
func (s *Store) Prune(keep int) ([]string, error) {
	m, err := ReadManifest(s.dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("listing index directory: %w", err)
	}
	if keep < 1 {
		keep = 1
	}

	var removed []string
	for _, e := range entries {
		name := e.Name()
		var drop bool
		switch {
		case strings.HasSuffix(name, ".tmp"):
			drop = true
		case name == m.Segment:
			drop = false
		default:
			gen, ok := parseGeneration(name)
			drop = ok && (gen > m.Generation || m.Generation-gen >= uint64(keep))
		}
		if !drop {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.dir, name)); err != nil {
			return removed, fmt.Errorf("removing %s: %w", name, err)
		}
		removed = append(removed, name)
	}
	if len(removed) > 0 {
		s.logger.Debug("pruned index files", "files", removed)
	}
	return removed, nil
}

func parseGeneration(name string) (uint64, bool) {
	if !strings.HasPrefix(name, "gen-") || !strings.HasSuffix(name, ".spdx") {
		return 0, false
	}
	gen, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimPrefix(name, "gen-"), ".spdx"), 10, 64)
	if err != nil {
		return 0, false
	}
	return gen, true
}

func fingerprint(snap *index.Snapshot) string {
	return strconv.FormatUint(snap.Fingerprint(), 16)
}
