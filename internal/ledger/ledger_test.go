package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/status"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/database"
)

func openLedger(t *testing.T) *Ledger {
	t.Helper()
	db, err := database.Open(config.LedgerConfig{Driver: database.DriverSQLite, Path: filepath.Join(t.TempDir(), "ledger.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	l, err := New(context.Background(), db, 0)
	require.NoError(t, err)
	return l
}

func outcomes(events []DocumentEvent) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Outcome
	}
	return out
}

func TestRecordSessionLifecycle(t *testing.T) {
	l := openLedger(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	msgs := []status.Message{
		{Kind: status.KindInfo, Op: status.OpIndex, SessionID: "s1", Text: "Found 2 documents to index.", Time: base},
		{Kind: status.KindProgress, Op: status.OpIndex, SessionID: "s1", DocumentID: "a.txt", Text: "Indexing (1/2): a.txt", Time: base.Add(time.Second)},
		{Kind: status.KindError, Op: status.OpIndex, SessionID: "s1", DocumentID: "b.txt", Outcome: "failed", Err: "too big", Time: base.Add(2 * time.Second)},
		{Kind: status.KindSuccess, Op: status.OpCommit, SessionID: "s1", Text: "Indexing complete. Indexed: 1, Errors/Skipped: 1", Time: base.Add(3 * time.Second)},
	}
	for _, m := range msgs {
		require.NoError(t, l.Record(ctx, m))
	}

	s, err := l.Session(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, s.State)
	assert.Equal(t, "Indexing complete. Indexed: 1, Errors/Skipped: 1", s.Message)
	assert.True(t, s.StartedAt.Equal(base))
	require.NotNil(t, s.FinishedAt)
	assert.True(t, s.FinishedAt.Equal(base.Add(3*time.Second)))

	a, err := l.DocumentHistory(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, []string{OutcomeProcessed}, outcomes(a))

	b, err := l.DocumentHistory(ctx, "b.txt")
	require.NoError(t, err)
	require.Len(t, b, 1)
	assert.Equal(t, "failed", b[0].Outcome)
	assert.Equal(t, "too big", b[0].Error)
}

func TestFailedAndCancelledSessions(t *testing.T) {
	l := openLedger(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, l.Record(ctx, status.Message{Kind: status.KindError, Op: status.OpCommit, SessionID: "bad", Err: "disk full", Text: "Fatal indexing error: disk full", Time: now}))
	require.NoError(t, l.Record(ctx, status.Message{Kind: status.KindInfo, Op: status.OpIndex, SessionID: "gone", Outcome: StateCancelled, Time: now.Add(time.Second)}))

	bad, err := l.Session(ctx, "bad")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, bad.State)
	assert.Equal(t, "disk full", bad.Error)

	gone, err := l.Session(ctx, "gone")
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, gone.State)

	sessions, err := l.Sessions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "gone", sessions[0].ID)

	_, err = l.Session(ctx, "missing")
	assert.Error(t, err)
}

func TestEmitIgnoresSearchAndSessionlessMessages(t *testing.T) {
	l := openLedger(t)
	l.Start(context.Background())
	l.Emit(status.Message{Kind: status.KindInfo, Op: status.OpSearch, SessionID: "trace", Text: "Running query: fox"})
	l.Emit(status.Message{Kind: status.KindInfo, Op: status.OpIndex, Text: "no session"})
	l.Close()

	sessions, err := l.Sessions(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestLedgerFollowsIndexerSessions(t *testing.T) {
	l := openLedger(t)
	l.Start(context.Background())

	idx, err := indexer.Open(config.IndexConfig{Dir: filepath.Join(t.TempDir(), "indexdir"), Workers: 2},
		indexer.Options{Create: true, Sink: l})
	require.NoError(t, err)
	defer idx.Close()

	ctx := context.Background()
	res, err := idx.Update(ctx, func(w *indexer.Writer) error {
		return w.AddDocuments(ctx, []indexer.Input{
			{ID: "a.txt", Text: "The quick brown fox"},
			{ID: "empty.txt", Text: "   "},
		})
	})
	require.NoError(t, err)

	w, err := idx.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, w.DeleteDocument("a.txt"))
	w.Cancel()

	_, err = idx.Update(ctx, func(w *indexer.Writer) error { return errors.New("abandon") })
	require.Error(t, err)

	l.Close()

	first, err := l.Session(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, first.State)

	cancelled, err := l.Session(ctx, w.SessionID())
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, cancelled.State)

	history, err := l.DocumentHistory(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, []string{OutcomeProcessed, "deleted"}, outcomes(history))

	empty, err := l.DocumentHistory(ctx, "empty.txt")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{OutcomeProcessed, "skipped"}, outcomes(empty))

	sessions, err := l.Sessions(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, sessions, 3)
	assert.NoError(t, l.Health(ctx))
}
