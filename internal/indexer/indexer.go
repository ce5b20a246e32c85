// Package indexer owns an index directory: it opens the published snapshot,
// serves it to readers through an atomic pointer, and runs the single
// writer session that produces the next generation.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/normalizer"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/status"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/docsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/metrics"
)

// persister publishes snapshots. *segment.Store is the production
// implementation.
type persister interface {
	Save(snap *index.Snapshot) (*segment.Manifest, error)
	Prune(keep int) ([]string, error)
}

// Options tune an Index. Zero values fall back to defaults.
type Options struct {
	// Create initialises a missing or empty directory instead of failing
	// with ErrIndexUnavailable.
	Create     bool
	Normalizer *normalizer.Normalizer
	Sink       status.Sink
	Metrics    *metrics.Metrics
}

// Stats summarises the current snapshot.
type Stats struct {
	Dir              string  `json:"dir"`
	IndexID          string  `json:"index_id"`
	Generation       uint64  `json:"generation"`
	Documents        int     `json:"documents"`
	Terms            int     `json:"terms"`
	AvgContentLength float64 `json:"avg_content_length"`
	Fingerprint      string  `json:"fingerprint"`
	WriterActive     bool    `json:"writer_active"`
}

type Index struct {
	cfg     config.IndexConfig
	store   *segment.Store
	persist persister
	norm    *normalizer.Normalizer
	sink    status.Sink
	metrics *metrics.Metrics
	logger  *slog.Logger

	current   atomic.Pointer[view]
	publishMu sync.Mutex
	writing   atomic.Bool
	unlock    func()
	closed    atomic.Bool
}

// view pairs a published snapshot with the identity of the directory it
// was loaded from.
type view struct {
	snap *index.Snapshot
	id   string
}

// Open loads the index in cfg.Dir. Without opts.Create a directory that does
// not exist or holds no published snapshot yields ErrIndexUnavailable.
func Open(cfg config.IndexConfig, opts Options) (*Index, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.KeepGenerations <= 0 {
		cfg.KeepGenerations = 2
	}
	if opts.Normalizer == nil {
		opts.Normalizer = normalizer.Default()
	}
	if opts.Sink == nil {
		opts.Sink = status.Discard
	}

	store := segment.NewStore(cfg.Dir)
	idx := &Index{
		cfg:     cfg,
		store:   store,
		persist: store,
		norm:    opts.Normalizer,
		sink:    opts.Sink,
		metrics: opts.Metrics,
		logger:  logger.WithComponent("indexer").With("dir", cfg.Dir),
	}

	if opts.Create {
		if err := store.Init(); err != nil {
			return nil, err
		}
	} else {
		ok, err := store.Exists()
		if err != nil {
			return nil, fmt.Errorf("checking index directory: %w", err)
		}
		if !ok {
			return nil, apperrors.Newf(apperrors.ErrIndexUnavailable, http.StatusServiceUnavailable,
				"no index found in %s, index documents first", cfg.Dir)
		}
	}

	snap, m, err := store.Load()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperrors.Newf(apperrors.ErrIndexUnavailable, http.StatusServiceUnavailable,
				"no index found in %s, index documents first", cfg.Dir)
		}
		return nil, fmt.Errorf("loading index: %w", err)
	}
	idx.publish(snap, m.IndexID)

	// Load linguistic resources now rather than on the first document.
	_ = idx.norm.EnsureInitialized()

	idx.logger.Info("index opened",
		"index_id", m.IndexID,
		"generation", m.Generation,
		"documents", snap.DocCount(),
		"terms", snap.TermCount(),
	)
	return idx, nil
}

// Snapshot returns the currently published snapshot. The result stays
// valid and unchanged for as long as the caller holds it.
func (i *Index) Snapshot() (*index.Snapshot, error) {
	if i.closed.Load() {
		return nil, apperrors.New(apperrors.ErrIndexUnavailable, http.StatusServiceUnavailable, "index is closed")
	}
	return i.current.Load().snap, nil
}

// IndexID identifies the directory's index across generations. A directory
// that is wiped and initialised again gets a new id.
func (i *Index) IndexID() string { return i.current.Load().id }

// publish makes snap current unless a newer generation of the same index
// is already published.
func (i *Index) publish(snap *index.Snapshot, id string) bool {
	i.publishMu.Lock()
	defer i.publishMu.Unlock()
	if cur := i.current.Load(); cur != nil && cur.id == id && cur.snap.Generation() >= snap.Generation() {
		return false
	}
	i.current.Store(&view{snap: snap, id: id})
	i.metrics.SnapshotPublished(snap.Generation(), snap.DocCount())
	return true
}

// Refresh loads the generation named by the directory's manifest when it
// differs from the published one, which happens after another process
// commits. It reports whether the published snapshot changed.
func (i *Index) Refresh() (bool, error) {
	if i.closed.Load() {
		return false, apperrors.New(apperrors.ErrIndexUnavailable, http.StatusServiceUnavailable, "index is closed")
	}
	m, err := segment.ReadManifest(i.cfg.Dir)
	if err != nil {
		return false, err
	}
	cur := i.current.Load()
	if m.IndexID == cur.id && m.Generation == cur.snap.Generation() {
		return false, nil
	}
	snap, lm, err := i.store.Load()
	if err != nil {
		return false, fmt.Errorf("reloading index: %w", err)
	}
	changed := i.publish(snap, lm.IndexID)
	if changed {
		i.logger.Info("picked up external commit",
			"index_id", lm.IndexID,
			"generation", lm.Generation,
			"documents", snap.DocCount(),
		)
	}
	return changed, nil
}

// Watch calls Refresh every interval until ctx is done or the index is
// closed.
func (i *Index) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if i.closed.Load() {
				return
			}
			if _, err := i.Refresh(); err != nil {
				i.logger.Warn("refreshing index failed", "error", err)
			}
		}
	}
}

func (i *Index) Normalizer() *normalizer.Normalizer { return i.norm }

func (i *Index) Dir() string { return i.cfg.Dir }

func (i *Index) Stats() (Stats, error) {
	snap, err := i.Snapshot()
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Dir:              i.cfg.Dir,
		IndexID:          i.IndexID(),
		Generation:       snap.Generation(),
		Documents:        snap.DocCount(),
		Terms:            snap.TermCount(),
		AvgContentLength: snap.AvgFieldLength(index.FieldContent),
		Fingerprint:      fmt.Sprintf("%016x", snap.Fingerprint()),
		WriterActive:     i.writing.Load(),
	}, nil
}

// Begin opens a writer session. Only one session may be open per
// directory, across processes: a second caller, here or in another process,
// gets ErrWriterBusy immediately. The session starts from the newest
// generation on disk, so commits made elsewhere are never overwritten.
func (i *Index) Begin(ctx context.Context) (*Writer, error) {
	if i.closed.Load() {
		return nil, apperrors.New(apperrors.ErrIndexUnavailable, http.StatusServiceUnavailable, "index is closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !i.writing.CompareAndSwap(false, true) {
		return nil, apperrors.ErrWriterBusy
	}
	unlock, err := i.store.TryLock()
	if err != nil {
		i.writing.Store(false)
		if errors.Is(err, segment.ErrLocked) {
			return nil, fmt.Errorf("%w: %w", apperrors.ErrWriterBusy, err)
		}
		return nil, err
	}
	i.unlock = unlock
	if _, err := i.Refresh(); err != nil {
		i.release()
		return nil, err
	}
	return newWriter(i, i.current.Load().snap), nil
}

// Update runs fn inside a writer session and commits it. If fn returns an
// error the session is cancelled and the error returned.
func (i *Index) Update(ctx context.Context, fn func(w *Writer) error) (*CommitResult, error) {
	w, err := i.Begin(ctx)
	if err != nil {
		return nil, err
	}
	if err := fn(w); err != nil {
		w.Cancel()
		return nil, err
	}
	return w.Commit(ctx)
}

// Health reports whether the index can serve reads.
func (i *Index) Health(ctx context.Context) error {
	_, err := i.Snapshot()
	return err
}

// Close makes the index unavailable. In-flight searches keep the snapshot
// they already hold.
func (i *Index) Close() error {
	if i.closed.Swap(true) {
		return nil
	}
	i.logger.Info("index closed")
	return nil
}

func (i *Index) release() {
	if i.unlock != nil {
		i.unlock()
		i.unlock = nil
	}
	i.writing.Store(false)
}
