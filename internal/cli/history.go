package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newHistoryCmd(a *app) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "history [document-id]",
		Short: "Show recorded indexing sessions, or the history of one document",
		Long: `Reads the indexing ledger. Without arguments the most recent writer
sessions are listed; with a document id every recorded outcome for that
document is shown, oldest first.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			l, closeLedger, err := a.openLedger(ctx)
			if err != nil {
				return err
			}
			defer closeLedger()
			if l == nil {
				return errNoLedger
			}

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				events, err := l.DocumentHistory(ctx, args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(out, events)
				}
				if len(events) == 0 {
					fmt.Fprintf(out, "No history for %s.\n", args[0])
					return nil
				}
				for _, e := range events {
					fmt.Fprintf(out, "%s  %-9s  session %s", e.RecordedAt.Local().Format(time.DateTime), e.Outcome, e.SessionID)
					if e.Error != "" {
						fmt.Fprintf(out, "  (%s)", e.Error)
					}
					fmt.Fprintln(out)
				}
				return nil
			}

			sessions, err := l.Sessions(ctx, limit)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(out, sessions)
			}
			if len(sessions) == 0 {
				fmt.Fprintln(out, "No sessions recorded.")
				return nil
			}
			for _, s := range sessions {
				fmt.Fprintf(out, "%s  %-9s  %s", s.StartedAt.Local().Format(time.DateTime), s.State, s.ID)
				if s.Message != "" {
					fmt.Fprintf(out, "  %s", s.Message)
				}
				if s.Error != "" {
					fmt.Fprintf(out, "  (%s)", s.Error)
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of sessions to list")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}
