package consumer

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/docsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/resilience"
)

func openIndex(t *testing.T) *indexer.Index {
	t.Helper()
	idx, err := indexer.Open(config.IndexConfig{Dir: filepath.Join(t.TempDir(), "idx"), Workers: 2}, indexer.Options{Create: true})
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func msg(t *testing.T, offset int64, e Event) kafka.Message {
	t.Helper()
	b, err := json.Marshal(e)
	require.NoError(t, err)
	return kafka.Message{Key: []byte(e.DocumentID), Value: b, Offset: offset}
}

func fastRetry(attempts int) resilience.RetryConfig {
	cfg := DefaultRetry()
	cfg.MaxAttempts = attempts
	cfg.InitialDelay = 10 * time.Millisecond
	cfg.MaxDelay = 20 * time.Millisecond
	return cfg
}

func TestHandleBatchAppliesOneSession(t *testing.T) {
	idx := openIndex(t)
	handle := HandleBatch(idx, fastRetry(1))

	require.NoError(t, handle(context.Background(), []kafka.Message{
		msg(t, 0, Event{DocumentID: "a", DisplayName: "a.txt", Text: "alpha text"}),
		msg(t, 1, Event{DocumentID: "b", DisplayName: "b.txt", Text: "beta text"}),
		{Offset: 2, Value: []byte("{not json")},
		msg(t, 3, Event{DocumentID: "", Text: "no id"}),
		msg(t, 4, Event{DocumentID: "c", Text: "x", Op: "rename"}),
	}))

	snap, err := idx.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), snap.Generation())
	assert.Equal(t, 2, snap.DocCount())

	require.NoError(t, handle(context.Background(), []kafka.Message{
		msg(t, 5, Event{DocumentID: "a", Op: OpDelete}),
		msg(t, 6, Event{DocumentID: "missing", Op: OpDelete}),
	}))
	snap, _ = idx.Snapshot()
	assert.Equal(t, 1, snap.DocCount())
	_, ok := snap.Document("a")
	assert.False(t, ok)
}

func TestLastEventPerDocumentWins(t *testing.T) {
	idx := openIndex(t)
	handle := HandleBatch(idx, fastRetry(1))
	require.NoError(t, handle(context.Background(), []kafka.Message{
		msg(t, 0, Event{DocumentID: "a", Text: "first version"}),
		msg(t, 1, Event{DocumentID: "b", Text: "keep me"}),
		msg(t, 2, Event{DocumentID: "a", Text: "second version"}),
		msg(t, 3, Event{DocumentID: "b", Op: OpDelete}),
	}))

	snap, _ := idx.Snapshot()
	doc, ok := snap.Document("a")
	require.True(t, ok)
	assert.Equal(t, "second version", doc.Content)
	_, ok = snap.Document("b")
	assert.False(t, ok)
}

func TestCollapseKeepsFirstSeenOrder(t *testing.T) {
	got := collapse([]Event{{DocumentID: "x", Text: "1"}, {DocumentID: "y"}, {DocumentID: "x", Text: "2"}})
	require.Len(t, got, 2)
	assert.Equal(t, "x", got[0].DocumentID)
	assert.Equal(t, "2", got[0].Text)
	assert.Equal(t, "y", got[1].DocumentID)
}

func TestBusyWriterIsRetried(t *testing.T) {
	idx := openIndex(t)
	w, err := idx.Begin(context.Background())
	require.NoError(t, err)
	go func() {
		time.Sleep(30 * time.Millisecond)
		w.Cancel()
	}()

	handle := HandleBatch(idx, fastRetry(20))
	require.NoError(t, handle(context.Background(), []kafka.Message{msg(t, 0, Event{DocumentID: "a", Text: "text"})}))
	snap, _ := idx.Snapshot()
	assert.Equal(t, 1, snap.DocCount())
}

func TestBusyWriterExhaustsRetries(t *testing.T) {
	idx := openIndex(t)
	w, err := idx.Begin(context.Background())
	require.NoError(t, err)
	defer w.Cancel()

	handle := HandleBatch(idx, fastRetry(2))
	err = handle(context.Background(), []kafka.Message{msg(t, 0, Event{DocumentID: "a", Text: "text"})})
	assert.ErrorIs(t, err, apperrors.ErrWriterBusy)
}

type queueReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
}

func (q *queueReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	q.mu.Lock()
	if len(q.queue) > 0 {
		m := q.queue[0]
		q.queue = q.queue[1:]
		q.mu.Unlock()
		return m, nil
	}
	q.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (q *queueReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, m := range msgs {
		q.committed = append(q.committed, m.Offset)
	}
	return nil
}

func (q *queueReader) Close() error { return nil }

func (q *queueReader) offsets() []int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]int64(nil), q.committed...)
}

func TestConsumerCommitsOffsetsAfterIndexCommit(t *testing.T) {
	idx := openIndex(t)
	reader := &queueReader{queue: []kafka.Message{
		msg(t, 10, Event{DocumentID: "a", Text: "alpha"}),
		msg(t, 11, Event{DocumentID: "b", Text: "beta"}),
	}}
	ic := New(kafka.NewConsumerWithReader(reader, "document-ingest", 10, 20*time.Millisecond, HandleBatch(idx, fastRetry(1))))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ic.Start(ctx) }()

	require.Eventually(t, func() bool { return len(reader.offsets()) == 2 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	require.NoError(t, ic.Close())

	snap, _ := idx.Snapshot()
	assert.Equal(t, 2, snap.DocCount())
	assert.Equal(t, []int64{10, 11}, reader.offsets())
}
