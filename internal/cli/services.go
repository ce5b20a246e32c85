package cli

import (
	"context"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/status"
)

// cleanups runs registered functions in reverse order.
type cleanups []func()

func (c *cleanups) add(fn func()) { *c = append(*c, fn) }

func (c cleanups) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

// serviceSink assembles the status sinks of a long-running process: the
// structured log, the ledger when configured and the Kafka status topic
// when enabled.
func (a *app) serviceSink(ctx context.Context, done *cleanups) (status.Sink, func(ctx context.Context) error, error) {
	sinks := []status.Sink{status.NewLogSink(slog.Default())}

	l, closeLedger, err := a.openLedger(ctx)
	if err != nil {
		return nil, nil, err
	}
	done.add(closeLedger)
	var ledgerHealth func(ctx context.Context) error
	if l != nil {
		sinks = append(sinks, l)
		ledgerHealth = l.Health
		slog.Info("indexing ledger enabled", "driver", a.cfg.Ledger.Driver)
	}

	if a.cfg.Kafka.StatusEnabled {
		producer := a.producer(a.cfg.Kafka.Topics.IndexStatus)
		ks := status.NewKafkaSink(producer, 0)
		ks.Start(ctx)
		done.add(func() {
			ks.Close()
			producer.Close()
		})
		sinks = append(sinks, ks)
		slog.Info("status messages published to kafka", "topic", a.cfg.Kafka.Topics.IndexStatus)
	}
	return status.Multi(sinks...), ledgerHealth, nil
}
