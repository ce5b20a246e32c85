package cli

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/metrics"
)

func newConsumeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "consume",
		Short: "Index document events from the Kafka ingest topic",
		Long: `Reads upsert and delete events from the ingest topic and applies each
batch in one writer session. Offsets are committed only after the session
commits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var done cleanups
			defer done.run()

			sink, _, err := a.serviceSink(ctx, &done)
			if err != nil {
				return err
			}
			idx, err := a.openIndex(true, sink)
			if err != nil {
				return err
			}
			done.add(func() { idx.Close() })

			if a.cfg.Metrics.Enabled {
				shutdown := metrics.StartServer(a.cfg.Metrics.Port, a.registry)
				done.add(func() { shutdown(context.Background()) })
			}

			kc := kafka.NewConsumer(a.cfg.Kafka, a.cfg.Kafka.Topics.DocumentIngest,
				consumer.HandleBatch(idx, consumer.DefaultRetry()))
			ic := consumer.New(kc)
			done.add(func() { ic.Close() })

			slog.Info("indexer ready, consuming from kafka",
				"topic", a.cfg.Kafka.Topics.DocumentIngest,
				"group", a.cfg.Kafka.ConsumerGroup,
				"index_dir", a.cfg.Index.Dir,
			)
			if err := ic.Start(ctx); err != nil {
				return err
			}
			slog.Info("indexer stopped")
			return nil
		},
	}
}
