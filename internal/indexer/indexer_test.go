package indexer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/status"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/docsearch/pkg/errors"
)

func testConfig(dir string) config.IndexConfig {
	return config.IndexConfig{Dir: dir, Workers: 4, KeepGenerations: 2}
}

func openTestIndex(t *testing.T, sink status.Sink) *Index {
	t.Helper()
	idx, err := Open(testConfig(filepath.Join(t.TempDir(), "indexdir")), Options{Create: true, Sink: sink})
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func commitDocs(t *testing.T, idx *Index, docs ...Input) *CommitResult {
	t.Helper()
	res, err := idx.Update(context.Background(), func(w *Writer) error {
		return w.AddDocuments(context.Background(), docs)
	})
	require.NoError(t, err)
	return res
}

func TestOpenWithoutCreateOnMissingDirectory(t *testing.T) {
	_, err := Open(testConfig(filepath.Join(t.TempDir(), "never-created")), Options{})
	assert.ErrorIs(t, err, apperrors.ErrIndexUnavailable)
}

func TestOpenCreateStartsEmpty(t *testing.T) {
	idx := openTestIndex(t, nil)
	snap, err := idx.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 0, snap.DocCount())
	assert.Equal(t, uint64(0), snap.Generation())

	// the created directory is now readable without Create
	ro, err := Open(testConfig(idx.Dir()), Options{})
	require.NoError(t, err)
	defer ro.Close()
}

func TestCommitAndReopen(t *testing.T) {
	idx := openTestIndex(t, nil)
	res := commitDocs(t, idx,
		Input{ID: "a.pdf", DisplayName: "a.pdf", Text: "The quick brown fox"},
		Input{ID: "b.pdf", DisplayName: "b.pdf", Text: "Quick quick fox jumps"},
	)
	assert.Equal(t, 2, res.Indexed)
	assert.Equal(t, uint64(1), res.Generation)
	assert.Equal(t, 2, res.TotalDocuments)

	before, _ := idx.Snapshot()
	require.NoError(t, idx.Close())

	reopened, err := Open(testConfig(idx.Dir()), Options{})
	require.NoError(t, err)
	defer reopened.Close()
	after, err := reopened.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, before.Fingerprint(), after.Fingerprint())
	assert.Equal(t, before.Generation(), after.Generation())
}

func TestEmptyTextIsSkipped(t *testing.T) {
	rec := &status.Recorder{}
	idx := openTestIndex(t, rec)
	commitDocs(t, idx, Input{ID: "keep", Text: "some words"})

	w, err := idx.Begin(context.Background())
	require.NoError(t, err)
	err = w.UpdateDocument(context.Background(), "empty.pdf", "empty.pdf", "   ")
	assert.ErrorIs(t, err, apperrors.ErrDocumentSkipped)
	var docErr *apperrors.DocumentError
	require.ErrorAs(t, err, &docErr)
	assert.Equal(t, "empty.pdf", docErr.DocumentID)

	res, err := w.Commit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Indexed)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.TotalDocuments)
	require.Len(t, res.Failures, 1)
	assert.True(t, res.Failures[0].Skipped)

	snap, _ := idx.Snapshot()
	_, ok := snap.Document("empty.pdf")
	assert.False(t, ok)

	warnings := rec.OfKind(status.KindWarning)
	require.NotEmpty(t, warnings)
	assert.Equal(t, "Warning: No text extracted from empty.pdf", warnings[0].Text)
}

func TestSecondWriterIsBusy(t *testing.T) {
	idx := openTestIndex(t, nil)
	w, err := idx.Begin(context.Background())
	require.NoError(t, err)

	_, err = idx.Begin(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrWriterBusy)

	w.Cancel()
	w2, err := idx.Begin(context.Background())
	require.NoError(t, err)
	w2.Cancel()
}

func TestConcurrentBeginAdmitsOneWriter(t *testing.T) {
	idx := openTestIndex(t, nil)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		writers []*Writer
		busy    int
	)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w, err := idx.Begin(context.Background())
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if errors.Is(err, apperrors.ErrWriterBusy) {
					busy++
				}
				return
			}
			writers = append(writers, w)
		}()
	}
	wg.Wait()

	assert.Len(t, writers, 1)
	assert.Equal(t, 15, busy)
	writers[0].Cancel()
}

func openSharedDir(t *testing.T, dir string) *Index {
	t.Helper()
	idx, err := Open(testConfig(dir), Options{Create: true})
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestWriterLockSpansIndexesOnOneDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "indexdir")
	a := openSharedDir(t, dir)
	b := openSharedDir(t, dir)
	assert.Equal(t, a.IndexID(), b.IndexID())

	wa, err := a.Begin(context.Background())
	require.NoError(t, err)
	_, err = b.Begin(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrWriterBusy)
	st, err := b.Stats()
	require.NoError(t, err)
	assert.False(t, st.WriterActive)

	require.NoError(t, wa.UpdateDocument(context.Background(), "a.pdf", "a.pdf", "alpha"))
	_, err = wa.Commit(context.Background())
	require.NoError(t, err)

	wb, err := b.Begin(context.Background())
	require.NoError(t, err)
	wb.Cancel()
}

func TestWriterStartsFromNewestGenerationOnDisk(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "indexdir")
	a := openSharedDir(t, dir)
	b := openSharedDir(t, dir)

	first := commitDocs(t, a, Input{ID: "a.pdf", Text: "alpha"})
	second := commitDocs(t, b, Input{ID: "b.pdf", Text: "beta"})
	assert.Equal(t, uint64(1), first.Generation)
	assert.Equal(t, uint64(2), second.Generation)
	assert.Equal(t, 2, second.TotalDocuments)

	reopened, err := Open(testConfig(dir), Options{})
	require.NoError(t, err)
	defer reopened.Close()
	snap, _ := reopened.Snapshot()
	assert.Equal(t, uint64(2), snap.Generation())
	for _, id := range []string{"a.pdf", "b.pdf"} {
		_, ok := snap.Document(id)
		assert.True(t, ok, id)
	}
}

func TestRefreshPicksUpExternalCommits(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "indexdir")
	writer := openSharedDir(t, dir)
	reader, err := Open(testConfig(dir), Options{})
	require.NoError(t, err)
	defer reader.Close()

	changed, err := reader.Refresh()
	require.NoError(t, err)
	assert.False(t, changed)

	commitDocs(t, writer, Input{ID: "a.pdf", Text: "alpha"})
	held, _ := reader.Snapshot()

	changed, err = reader.Refresh()
	require.NoError(t, err)
	assert.True(t, changed)
	snap, _ := reader.Snapshot()
	assert.Equal(t, uint64(1), snap.Generation())
	_, ok := snap.Document("a.pdf")
	assert.True(t, ok)
	assert.Equal(t, 0, held.DocCount(), "a snapshot already handed out never changes")
}

func TestWatchRefreshesUntilCancelled(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "indexdir")
	writer := openSharedDir(t, dir)
	reader, err := Open(testConfig(dir), Options{})
	require.NoError(t, err)
	defer reader.Close()

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		reader.Watch(ctx, 5*time.Millisecond)
		close(stopped)
	}()

	commitDocs(t, writer, Input{ID: "a.pdf", Text: "alpha"})
	require.Eventually(t, func() bool {
		snap, _ := reader.Snapshot()
		return snap.Generation() == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancellation")
	}
}

func TestUpsertReplaces(t *testing.T) {
	idx := openTestIndex(t, nil)
	commitDocs(t, idx, Input{ID: "doc", Text: "alpha content"})
	commitDocs(t, idx, Input{ID: "doc", Text: "omega content"})

	snap, _ := idx.Snapshot()
	assert.Equal(t, 1, snap.DocCount())
	d, ok := snap.Document("doc")
	require.True(t, ok)
	assert.Equal(t, "omega content", d.Content)
	assert.Nil(t, snap.Postings(index.FieldContent, "alpha"))
}

func TestCancelDiscardsStagedWork(t *testing.T) {
	idx := openTestIndex(t, nil)
	commitDocs(t, idx, Input{ID: "a", Text: "first"})
	before, _ := idx.Snapshot()

	w, err := idx.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, w.UpdateDocument(context.Background(), "b", "b", "second"))
	w.Cancel()
	w.Cancel()

	after, _ := idx.Snapshot()
	assert.Same(t, before, after)
	assert.ErrorIs(t, w.UpdateDocument(context.Background(), "c", "c", "third"), apperrors.ErrWriterClosed)
	_, err = w.Commit(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrWriterClosed)
}

type failingPersister struct{ err error }

func (f failingPersister) Save(*index.Snapshot) (*segment.Manifest, error) { return nil, f.err }
func (f failingPersister) Prune(int) ([]string, error)                     { return nil, nil }

func TestCommitFailureKeepsPreviousSnapshot(t *testing.T) {
	rec := &status.Recorder{}
	idx := openTestIndex(t, rec)
	commitDocs(t, idx, Input{ID: "a", Text: "stable content"})
	before, _ := idx.Snapshot()

	diskFull := errors.New("no space left on device")
	idx.persist = failingPersister{err: diskFull}

	w, err := idx.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, w.UpdateDocument(context.Background(), "b", "b", "never visible"))
	require.NoError(t, w.DeleteDocument("a"))
	_, err = w.Commit(context.Background())

	assert.ErrorIs(t, err, apperrors.ErrCommitFailed)
	assert.ErrorIs(t, err, diskFull)
	after, _ := idx.Snapshot()
	assert.Same(t, before, after)
	assert.NotEmpty(t, rec.OfKind(status.KindError))

	// the session was released and disk still holds the old generation
	idx.persist = idx.store
	w2, err := idx.Begin(context.Background())
	require.NoError(t, err)
	w2.Cancel()

	onDisk, _, err := idx.store.Load()
	require.NoError(t, err)
	assert.Equal(t, before.Fingerprint(), onDisk.Fingerprint())
}

func TestSnapshotIsolation(t *testing.T) {
	idx := openTestIndex(t, nil)
	commitDocs(t, idx, Input{ID: "a", Text: "original words"})
	held, _ := idx.Snapshot()
	fp := held.Fingerprint()

	commitDocs(t, idx, Input{ID: "a", Text: "replaced"}, Input{ID: "b", Text: "new doc"})

	assert.Equal(t, fp, held.Fingerprint())
	assert.Equal(t, 1, held.DocCount())
	current, _ := idx.Snapshot()
	assert.Equal(t, 2, current.DocCount())
}

func TestParallelAndSequentialSessionsAgree(t *testing.T) {
	var docs []Input
	for i := range 40 {
		docs = append(docs, Input{
			ID:   fmt.Sprintf("doc-%02d", i),
			Text: fmt.Sprintf("document number %d talks about topic %d and searching", i, i%5),
		})
	}

	parallel := openTestIndex(t, nil)
	commitDocs(t, parallel, docs...)

	sequential, err := Open(config.IndexConfig{Dir: filepath.Join(t.TempDir(), "seq"), Workers: 1}, Options{Create: true})
	require.NoError(t, err)
	defer sequential.Close()
	_, err = sequential.Update(context.Background(), func(w *Writer) error {
		for i := len(docs) - 1; i >= 0; i-- {
			if err := w.UpdateDocument(context.Background(), docs[i].ID, docs[i].DisplayName, docs[i].Text); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	a, _ := parallel.Snapshot()
	b, _ := sequential.Snapshot()
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
}

func TestDeleteDocument(t *testing.T) {
	idx := openTestIndex(t, nil)
	commitDocs(t, idx, Input{ID: "a", Text: "one"}, Input{ID: "b", Text: "two"})

	res, err := idx.Update(context.Background(), func(w *Writer) error {
		return w.DeleteDocument("a")
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, 1, res.TotalDocuments)

	_, err = idx.Update(context.Background(), func(w *Writer) error {
		return w.DeleteDocument("missing")
	})
	assert.ErrorIs(t, err, apperrors.ErrDocumentNotFound)
}

func TestStatusSummary(t *testing.T) {
	rec := &status.Recorder{}
	idx := openTestIndex(t, rec)
	commitDocs(t, idx,
		Input{ID: "a", Text: "alpha"},
		Input{ID: "b", Text: "beta"},
		Input{ID: "c", Text: ""},
	)

	success := rec.OfKind(status.KindSuccess)
	require.Len(t, success, 1)
	assert.Equal(t, "Indexing complete. Indexed: 2, Errors/Skipped: 1", success[0].Text)
	assert.Len(t, rec.OfKind(status.KindProgress), 3)
}

func TestClosedIndexIsUnavailable(t *testing.T) {
	idx := openTestIndex(t, nil)
	require.NoError(t, idx.Close())

	_, err := idx.Snapshot()
	assert.ErrorIs(t, err, apperrors.ErrIndexUnavailable)
	_, err = idx.Begin(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrIndexUnavailable)
}

func TestStats(t *testing.T) {
	idx := openTestIndex(t, nil)
	commitDocs(t, idx, Input{ID: "a", Text: "one two"})

	st, err := idx.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, st.Documents)
	assert.Equal(t, uint64(1), st.Generation)
	assert.False(t, st.WriterActive)
	assert.Len(t, st.Fingerprint, 16)
	assert.Equal(t, idx.IndexID(), st.IndexID)
	assert.NotEmpty(t, st.IndexID)
}
