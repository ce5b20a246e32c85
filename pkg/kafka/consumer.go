// Package kafka provides Kafka producer and consumer clients backed by
// segmentio/kafka-go. The producer serialises events as JSON, while the
// consumer hands decoded batches to a pluggable BatchHandler and commits
// offsets only after the handler succeeds.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/logger"
)

// Message is a fetched Kafka record.
type Message = kafka.Message

// BatchHandler processes a batch of messages. Returning an error leaves the
// offsets uncommitted so the batch is redelivered.
type BatchHandler func(ctx context.Context, msgs []Message) error

// MessageReader is the subset of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads messages from a Kafka topic in batches.
type Consumer struct {
	reader       MessageReader
	logger       *slog.Logger
	handler      BatchHandler
	batchSize    int
	batchTimeout time.Duration
	retryDelay   time.Duration
}

// NewConsumer creates a Consumer for the given topic and handler.
func NewConsumer(cfg config.KafkaConfig, topic string, handler BatchHandler) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     cfg.ConsumerGroup,
		MinBytes:    1e3,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})
	return NewConsumerWithReader(r, topic, cfg.BatchSize, cfg.BatchTimeout, handler)
}

func NewConsumerWithReader(r MessageReader, topic string, batchSize int, batchTimeout time.Duration, handler BatchHandler) *Consumer {
	if batchSize <= 0 {
		batchSize = 1
	}
	if batchTimeout <= 0 {
		batchTimeout = time.Second
	}
	return &Consumer{
		reader:       r,
		logger:       logger.WithComponent("kafka-consumer").With("topic", topic),
		handler:      handler,
		batchSize:    batchSize,
		batchTimeout: batchTimeout,
		retryDelay:   time.Second,
	}
}

// Start enters the consume loop until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started", "batch_size", c.batchSize, "batch_timeout", c.batchTimeout)
	for {
		batch, err := c.fetchBatch(ctx)
		if len(batch) == 0 {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping", "reason", ctx.Err())
				return nil
			}
			if err != nil {
				c.logger.Error("failed to fetch message", "error", err)
			}
			continue
		}

		if err := c.process(ctx, batch); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("failed to process batch",
				"count", len(batch),
				"first_offset", batch[0].Offset,
				"error", err,
			)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.retryDelay):
			}
		}
	}
}

// process runs the handler on batch and commits its offsets.
func (c *Consumer) process(ctx context.Context, batch []Message) error {
	if err := c.handler(ctx, batch); err != nil {
		return err
	}
	if err := c.reader.CommitMessages(ctx, batch...); err != nil {
		return fmt.Errorf("committing offsets: %w", err)
	}
	c.logger.Debug("batch committed", "count", len(batch), "last_offset", batch[len(batch)-1].Offset)
	return nil
}

// fetchBatch blocks for the first message, then collects more until the
// batch is full or batchTimeout elapses.
func (c *Consumer) fetchBatch(ctx context.Context) ([]Message, error) {
	first, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}
	batch := []Message{first}

	fillCtx, cancel := context.WithTimeout(ctx, c.batchTimeout)
	defer cancel()
	for len(batch) < c.batchSize {
		msg, err := c.reader.FetchMessage(fillCtx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || fillCtx.Err() != nil {
				break
			}
			return batch, err
		}
		batch = append(batch, msg)
	}
	return batch, nil
}

// Close closes the underlying Kafka reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// DecodeJSON is a generic helper that unmarshals a Kafka message value into T.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("decoding kafka message: %w", err)
	}
	return result, nil
}
