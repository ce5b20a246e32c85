package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/kafka"
)

func newPublishCmd(a *app) *cobra.Command {
	var deletes []string
	cmd := &cobra.Command{
		Use:   "publish [file]",
		Short: "Publish documents to the Kafka ingest topic",
		Long: `Reads the same JSON-lines format as "index" and publishes each document
as an upsert event, keyed by document id. --delete publishes removals.
A running "docsearch consume" picks the events up.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var events []kafka.Event
			if len(args) > 0 || len(deletes) == 0 {
				r, closeInput, err := openInput(cmd, args)
				if err != nil {
					return err
				}
				defer closeInput()
				inputs, rejected, err := readInputs(r)
				if err != nil {
					return err
				}
				for _, rej := range rejected {
					fmt.Fprintln(cmd.ErrOrStderr(), rej)
				}
				for _, in := range inputs {
					events = append(events, kafka.Event{Key: in.ID, Value: consumer.Event{
						DocumentID:  in.ID,
						DisplayName: in.DisplayName,
						Text:        in.Text,
						Op:          consumer.OpUpsert,
					}})
				}
			}
			for _, id := range deletes {
				events = append(events, kafka.Event{Key: id, Value: consumer.Event{DocumentID: id, Op: consumer.OpDelete}})
			}

			producer := a.producer(a.cfg.Kafka.Topics.DocumentIngest)
			defer producer.Close()

			size := a.cfg.Kafka.BatchSize
			for start := 0; start < len(events); start += size {
				end := min(start+size, len(events))
				if err := producer.PublishBatch(cmd.Context(), events[start:end]); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Published %d events to %s.\n", len(events), a.cfg.Kafka.Topics.DocumentIngest)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&deletes, "delete", nil, "document ids to delete (repeatable)")
	return cmd
}
