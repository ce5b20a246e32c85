package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/status"
	apperrors "github.com/Adithya-Monish-Kumar-K/docsearch/pkg/errors"
)

func newDeleteCmd(a *app) *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "delete <document-id>...",
		Short: "Remove documents from the index",
		Long:  `Removes the given documents in one writer session. Unknown ids are reported and skipped.`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			l, closeLedger, err := a.openLedger(ctx)
			if err != nil {
				return err
			}
			defer closeLedger()

			term := newTerminalSink(cmd.OutOrStdout(), quiet)
			idx, err := a.openIndex(false, status.Multi(term, sinkOf(l)))
			if err != nil {
				return err
			}
			defer idx.Close()

			res, err := idx.Update(ctx, func(w *indexer.Writer) error {
				for _, id := range args {
					err := w.DeleteDocument(id)
					var docErr *apperrors.DocumentError
					if errors.As(err, &docErr) {
						term.Emit(status.Message{Kind: status.KindWarning, Op: status.OpDelete,
							DocumentID: id, Text: fmt.Sprintf("Warning: %s is not in the index", id)})
						continue
					}
					if err != nil {
						return err
					}
				}
				return nil
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted: %d\n", res.Deleted)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "only print warnings, errors and the summary")
	return cmd
}
