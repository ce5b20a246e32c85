package status

import (
	"context"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/logger"
)

// Publisher is the subset of *kafka.Producer the status publisher needs.
type Publisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// KafkaSink forwards messages to a Kafka topic from a background
// goroutine. Emit never blocks: when the buffer is full the message is
// dropped and a warning logged.
type KafkaSink struct {
	producer Publisher
	eventCh  chan Message
	logger   *slog.Logger
	done     chan struct{}
}

func NewKafkaSink(producer Publisher, bufferSize int) *KafkaSink {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	return &KafkaSink{
		producer: producer,
		eventCh:  make(chan Message, bufferSize),
		logger:   logger.WithComponent("status-publisher"),
		done:     make(chan struct{}),
	}
}

func (k *KafkaSink) Start(ctx context.Context) {
	go func() {
		defer close(k.done)
		for {
			select {
			case m, ok := <-k.eventCh:
				if !ok {
					return
				}
				k.publish(ctx, m)
			case <-ctx.Done():
				k.drainRemaining()
				return
			}
		}
	}()
	k.logger.Info("status publisher started", "buffer_size", cap(k.eventCh))
}

func (k *KafkaSink) Emit(m Message) {
	select {
	case k.eventCh <- m:
	default:
		k.logger.Warn("status message dropped (buffer full)", "op", m.Op)
	}
}

// Close stops accepting messages and waits for the buffer to drain.
func (k *KafkaSink) Close() {
	close(k.eventCh)
	<-k.done
}

func (k *KafkaSink) publish(ctx context.Context, m Message) {
	key := m.SessionID
	if key == "" {
		key = string(m.Op)
	}
	if err := k.producer.Publish(ctx, kafka.Event{Key: key, Value: m}); err != nil {
		k.logger.Error("failed to publish status message", "error", err)
	}
}

func (k *KafkaSink) drainRemaining() {
	for {
		select {
		case m, ok := <-k.eventCh:
			if !ok {
				return
			}
			k.publish(context.Background(), m)
		default:
			return
		}
	}
}
