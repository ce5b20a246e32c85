package indexer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/normalizer"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/status"
	apperrors "github.com/Adithya-Monish-Kumar-K/docsearch/pkg/errors"
)

// Input is one document handed over by the text-extraction collaborator.
type Input struct {
	ID          string `json:"id" validate:"required,max=4096"`
	DisplayName string `json:"display_name" validate:"max=1024"`
	Text        string `json:"text"`
}

// Failure is a per-document problem recorded during a session.
type Failure struct {
	DocumentID string `json:"document_id"`
	Reason     string `json:"reason"`
	Skipped    bool   `json:"skipped"`
	Err        error  `json:"-"`
}

// CommitResult summarises a committed session.
type CommitResult struct {
	SessionID      string        `json:"session_id"`
	Generation     uint64        `json:"generation"`
	Indexed        int           `json:"indexed"`
	Skipped        int           `json:"skipped"`
	Failed         int           `json:"failed"`
	Deleted        int           `json:"deleted"`
	Failures       []Failure     `json:"failures,omitempty"`
	TotalDocuments int           `json:"total_documents"`
	Duration       time.Duration `json:"duration"`
}

// Writer is one writer session. Documents staged through it are invisible
// to readers until Commit publishes them all at once.
type Writer struct {
	idx     *Index
	id      string
	started time.Time
	emit    *status.Emitter

	mu       sync.Mutex
	builder  *index.Builder
	failures []Failure
	skipped  int
	failed   int
	done     bool

	processed atomic.Int64
}

func newWriter(idx *Index, base *index.Snapshot) *Writer {
	id := uuid.NewString()
	w := &Writer{
		idx:     idx,
		id:      id,
		started: time.Now(),
		emit:    status.NewEmitter(idx.sink, status.OpIndex, id),
		builder: index.NewBuilder(base),
	}
	idx.logger.Debug("writer session opened", "session_id", id, "base_generation", base.Generation())
	return w
}

func (w *Writer) SessionID() string { return w.id }

// UpdateDocument normalizes rawText and stages it as the new version of id.
// Empty text is reported as a skipped document: the returned error wraps
// ErrDocumentSkipped and the session stays usable.
func (w *Writer) UpdateDocument(ctx context.Context, id, displayName, rawText string) error {
	return w.update(ctx, Input{ID: id, DisplayName: displayName, Text: rawText}, 0, 0)
}

func (w *Writer) update(ctx context.Context, in Input, current, total int) error {
	if err := w.checkOpen(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	name := in.DisplayName
	if name == "" {
		name = in.ID
	}
	if total > 0 {
		w.emit.Progress(current, total, in.ID, "Indexing (%d/%d): %s", current, total, name)
	} else {
		w.emit.Progress(0, 0, in.ID, "Indexing: %s", name)
	}

	switch {
	case strings.TrimSpace(in.ID) == "":
		return w.fail(in.ID, false, fmt.Errorf("%w: empty document id", apperrors.ErrInvalidInput))
	case strings.TrimSpace(in.Text) == "":
		w.emit.Document(status.KindWarning, in.ID, "skipped", nil, "Warning: No text extracted from %s", name)
		return w.fail(in.ID, true, apperrors.ErrDocumentSkipped)
	case w.idx.cfg.MaxDocumentBytes > 0 && int64(len(in.Text)) > w.idx.cfg.MaxDocumentBytes:
		return w.fail(in.ID, false, fmt.Errorf("%w: text is %d bytes, limit %d",
			apperrors.ErrInvalidInput, len(in.Text), w.idx.cfg.MaxDocumentBytes))
	}

	seg, warnings := buildSegment(w.idx.norm, in)
	if len(warnings) > 0 {
		w.emit.Document(status.KindWarning, in.ID, "", nil,
			"Warning: %d tokens of %s passed through normalization unprocessed (%s)", len(warnings), name, warnings[0])
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return apperrors.ErrWriterClosed
	}
	w.builder.Add(seg)
	w.idx.metrics.DocumentProcessed("indexed")
	return nil
}

func buildSegment(n *normalizer.Normalizer, in Input) (*index.DocSegment, []normalizer.Warning) {
	content, warnings := n.NormalizeDetailed(in.Text)
	name, nameWarnings := n.NormalizeDetailed(in.DisplayName)
	return index.BuildDocSegment(in.ID, in.DisplayName, in.Text, map[string][]normalizer.Term{
		index.FieldContent: content,
		index.FieldName:    name,
	}), append(warnings, nameWarnings...)
}

// AddDocuments stages inputs using up to cfg.Workers goroutines.
// Per-document failures are recorded in the session and do not stop the
// batch; the returned error is non-nil only when the session itself can
// no longer proceed.
func (w *Writer) AddDocuments(ctx context.Context, inputs []Input) error {
	if err := w.checkOpen(); err != nil {
		return err
	}
	total := len(inputs)
	w.emit.Info("Found %d documents to index.", total)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.idx.cfg.Workers)
	for _, in := range inputs {
		g.Go(func() error {
			n := int(w.processed.Add(1))
			err := w.update(gctx, in, n, total)
			var docErr *apperrors.DocumentError
			if err == nil || errors.As(err, &docErr) {
				return nil
			}
			return err
		})
	}
	return g.Wait()
}

// DeleteDocument stages the removal of id.
func (w *Writer) DeleteDocument(id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return apperrors.ErrWriterClosed
	}
	if !w.builder.Remove(id) {
		err := &apperrors.DocumentError{DocumentID: id, Err: apperrors.ErrDocumentNotFound}
		w.failures = append(w.failures, Failure{DocumentID: id, Reason: err.Err.Error(), Err: err})
		w.failed++
		return err
	}
	w.emit.Document(status.KindInfo, id, "deleted", nil, "Deleting: %s", id)
	w.idx.metrics.DocumentProcessed("deleted")
	return nil
}

func (w *Writer) fail(id string, skipped bool, cause error) error {
	err := &apperrors.DocumentError{DocumentID: id, Err: cause}
	w.mu.Lock()
	w.failures = append(w.failures, Failure{DocumentID: id, Reason: cause.Error(), Skipped: skipped, Err: err})
	if skipped {
		w.skipped++
	} else {
		w.failed++
	}
	w.mu.Unlock()

	if skipped {
		w.idx.metrics.DocumentProcessed("skipped")
	} else {
		w.idx.metrics.DocumentProcessed("failed")
		w.emit.Document(status.KindError, id, "failed", cause, "Error indexing %s: %v", id, cause)
	}
	return err
}

func (w *Writer) checkOpen() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return apperrors.ErrWriterClosed
	}
	return nil
}

// Commit publishes the staged documents as a new snapshot. On failure the
// session is cancelled and the previously published snapshot stays
// current; the error wraps ErrCommitFailed.
func (w *Writer) Commit(ctx context.Context) (*CommitResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return nil, apperrors.ErrWriterClosed
	}
	w.done = true
	defer w.idx.release()

	builder := w.builder
	w.builder = nil
	adds, removes := builder.Pending()
	result := &CommitResult{
		SessionID: w.id,
		Indexed:   adds,
		Deleted:   removes,
		Skipped:   w.skipped,
		Failed:    w.failed,
		Failures:  w.failures,
	}
	commitEmit := status.NewEmitter(w.idx.sink, status.OpCommit, w.id)

	if err := ctx.Err(); err != nil {
		return nil, w.abort(commitEmit, err)
	}

	base := w.idx.current.Load().snap
	if adds == 0 && removes == 0 {
		result.Generation = base.Generation()
		result.TotalDocuments = base.DocCount()
		result.Duration = time.Since(w.started)
		w.idx.metrics.CommitFinished("committed", result.Duration)
		commitEmit.Success("Indexing complete. Indexed: %d, Errors/Skipped: %d", 0, w.skipped+w.failed)
		return result, nil
	}

	commitEmit.Info("Committing %d documents to index...", adds)
	snap, err := build(builder)
	if err != nil {
		return nil, w.abort(commitEmit, err)
	}
	publishStart := time.Now()
	m, err := w.idx.persist.Save(snap)
	if err != nil {
		return nil, w.abort(commitEmit, err)
	}
	w.idx.publish(snap, m.IndexID)
	w.idx.metrics.CommitFinished("committed", time.Since(publishStart))

	if removed, err := w.idx.persist.Prune(w.idx.cfg.KeepGenerations); err != nil {
		w.idx.logger.Warn("pruning old generations failed", "error", err)
	} else if len(removed) > 0 {
		w.idx.logger.Debug("pruned old generations", "files", len(removed))
	}

	result.Generation = snap.Generation()
	result.TotalDocuments = snap.DocCount()
	result.Duration = time.Since(w.started)

	w.idx.logger.Info("snapshot published",
		"session_id", w.id,
		"generation", result.Generation,
		"indexed", result.Indexed,
		"deleted", result.Deleted,
		"skipped", result.Skipped,
		"failed", result.Failed,
		"documents", result.TotalDocuments,
		"duration", result.Duration,
	)
	commitEmit.Success("Indexing complete. Indexed: %d, Errors/Skipped: %d", result.Indexed, result.Skipped+result.Failed)
	return result, nil
}

func build(b *index.Builder) (snap *index.Snapshot, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("building snapshot: %v", r)
		}
	}()
	return b.Build(), nil
}

func (w *Writer) abort(emit *status.Emitter, cause error) error {
	err := &apperrors.CommitError{SessionID: w.id, Err: cause}
	w.idx.metrics.CommitFinished("failed", 0)
	w.idx.logger.Error("commit failed, previous snapshot kept", "session_id", w.id, "error", cause)
	emit.Error(cause, "Fatal indexing error: %v", cause)
	return err
}

// Cancel discards everything staged in the session. It is safe to call at
// any time, including after Commit, in which case it does nothing.
func (w *Writer) Cancel() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return
	}
	w.done = true
	w.builder = nil
	w.idx.release()
	w.idx.metrics.CommitFinished("cancelled", 0)
	w.emit.Document(status.KindInfo, "", "cancelled", nil, "Indexing cancelled; staged documents discarded.")
}
