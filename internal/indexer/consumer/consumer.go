// Package consumer reads document events from Kafka and applies each batch
// to the index in a single writer session. Offsets are committed only after
// the session commits, so a crash replays the batch instead of losing it.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer"
	apperrors "github.com/Adithya-Monish-Kumar-K/docsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/resilience"
)

type Op string

const (
	OpUpsert Op = "upsert"
	OpDelete Op = "delete"
)

// Event is one message on the ingest topic, produced by the text
// extraction side. An empty Op means upsert.
type Event struct {
	DocumentID  string `json:"document_id" validate:"required,max=4096"`
	DisplayName string `json:"display_name" validate:"max=1024"`
	Text        string `json:"text"`
	Op          Op     `json:"op" validate:"omitempty,oneof=upsert delete"`
}

// Updater runs a writer session. *indexer.Index satisfies it.
type Updater interface {
	Update(ctx context.Context, fn func(w *indexer.Writer) error) (*indexer.CommitResult, error)
}

// IndexConsumer wraps a Kafka consumer to drive the indexing pipeline.
type IndexConsumer struct {
	consumer *kafka.Consumer
	logger   *slog.Logger
}

// New creates an IndexConsumer backed by the given Kafka consumer.
func New(kafkaConsumer *kafka.Consumer) *IndexConsumer {
	return &IndexConsumer{
		consumer: kafkaConsumer,
		logger:   logger.WithComponent("index-consumer"),
	}
}

// Start begins consuming Kafka messages. It blocks until ctx is cancelled.
func (ic *IndexConsumer) Start(ctx context.Context) error {
	ic.logger.Info("index consumer starting")
	return ic.consumer.Start(ctx)
}

func (ic *IndexConsumer) Close() error {
	return ic.consumer.Close()
}

// DefaultRetry waits out a writer session held by another caller.
func DefaultRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:  5,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		RetryIf: func(err error) bool {
			return errors.Is(err, apperrors.ErrWriterBusy)
		},
	}
}

// HandleBatch returns a BatchHandler that decodes the batch, keeps the
// last event per document and applies them in one session. Undecodable or
// invalid messages are logged and dropped so they cannot block the
// partition.
func HandleBatch(idx Updater, retry resilience.RetryConfig) kafka.BatchHandler {
	log := logger.WithComponent("index-consumer")
	validate := validator.New()

	return func(ctx context.Context, msgs []kafka.Message) error {
		events := make([]Event, 0, len(msgs))
		for _, msg := range msgs {
			event, err := kafka.DecodeJSON[Event](msg.Value)
			if err == nil {
				err = validate.Struct(event)
			}
			if err != nil {
				log.Error("dropping invalid ingest event",
					"error", err,
					"key", string(msg.Key),
					"offset", msg.Offset,
				)
				continue
			}
			events = append(events, event)
		}
		events = collapse(events)
		if len(events) == 0 {
			return nil
		}

		var result *indexer.CommitResult
		err := resilience.Retry(ctx, "index-batch", retry, func() error {
			var err error
			result, err = idx.Update(ctx, func(w *indexer.Writer) error {
				return apply(ctx, w, events)
			})
			return err
		})
		if err != nil {
			return fmt.Errorf("applying batch of %d events: %w", len(events), err)
		}

		log.Info("batch indexed",
			"session_id", result.SessionID,
			"generation", result.Generation,
			"indexed", result.Indexed,
			"deleted", result.Deleted,
			"skipped", result.Skipped,
			"failed", result.Failed,
		)
		return nil
	}
}

// collapse keeps the last event of each document, in first-seen order.
func collapse(events []Event) []Event {
	last := make(map[string]int, len(events))
	order := make([]string, 0, len(events))
	for i, e := range events {
		if _, seen := last[e.DocumentID]; !seen {
			order = append(order, e.DocumentID)
		}
		last[e.DocumentID] = i
	}
	out := make([]Event, 0, len(order))
	for _, id := range order {
		out = append(out, events[last[id]])
	}
	return out
}

func apply(ctx context.Context, w *indexer.Writer, events []Event) error {
	var upserts []indexer.Input
	for _, e := range events {
		if e.Op == OpDelete {
			var docErr *apperrors.DocumentError
			if err := w.DeleteDocument(e.DocumentID); err != nil && !errors.As(err, &docErr) {
				return err
			}
			continue
		}
		upserts = append(upserts, indexer.Input{ID: e.DocumentID, DisplayName: e.DisplayName, Text: e.Text})
	}
	if len(upserts) == 0 {
		return nil
	}
	return w.AddDocuments(ctx, upserts)
}
