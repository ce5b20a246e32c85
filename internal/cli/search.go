package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/resilience"
)

func newSearchCmd(a *app) *cobra.Command {
	var (
		limit     int
		fragments int
		asJSON    bool
		color     bool
		verbose   bool
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search indexed documents",
		Long: `Runs a query against the current index and prints the best matches
ranked by BM25.

Terms are combined with AND by default; OR, parentheses and name:term
(restricting a term to document names) are supported:

  docsearch search 'whale (harpoon OR lance)'
  docsearch search 'name:moby ishmael'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")

			idx, err := a.openIndex(false, nil)
			if err != nil {
				return err
			}
			defer idx.Close()

			exec := executor.New(idx, a.cfg.Search, executor.Deps{
				Normalizer: idx.Normalizer(),
				Metrics:    a.metrics,
			})
			opts := exec.DefaultOptions()
			if cmd.Flags().Changed("limit") {
				opts.Limit = limit
			}
			if fragments > 0 {
				opts.Highlight.MaxFragments = fragments
			}
			p := newPalette(cmd.OutOrStdout())
			if color {
				opts.Highlight.Formatter = func(s string) string { return p.matchStyle.Render(s) }
			}
			if verbose {
				opts.Sink = newTerminalSink(cmd.ErrOrStderr(), false)
			}

			var res *executor.SearchResult
			err = resilience.WithTimeout(cmd.Context(), a.cfg.Search.Timeout, "search", func(ctx context.Context) error {
				var err error
				res, err = exec.Search(ctx, query, opts)
				return err
			})
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			printResults(cmd.OutOrStdout(), p, res)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum number of results (default from config)")
	cmd.Flags().IntVar(&fragments, "fragments", 0, "snippets per result (default from config)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output results as JSON")
	cmd.Flags().BoolVar(&color, "color", false, "highlight matches with terminal colours instead of brackets")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print search status messages to stderr")
	return cmd
}

func printResults(w io.Writer, p palette, res *executor.SearchResult) {
	if len(res.Results) == 0 {
		fmt.Fprintln(w, "No results found.")
		return
	}
	for i, hit := range res.Results {
		name := hit.DisplayName
		if name == "" {
			name = hit.DocumentID
		}
		fmt.Fprintf(w, "%d. %s %s\n", i+1, p.labelStyle.Render("File:"), name)
		fmt.Fprintf(w, "   %s %s\n", p.labelStyle.Render("Path:"), hit.DocumentID)
		fmt.Fprintf(w, "   %s %.4f\n", p.labelStyle.Render("Score:"), hit.Score)
		for _, s := range hit.Snippets {
			fmt.Fprintf(w, "   %s %s\n", p.labelStyle.Render("Snippet:"), s)
		}
		fmt.Fprintln(w)
	}
	if res.TotalHits > len(res.Results) {
		fmt.Fprintf(w, "Showing %d of %d matching documents.\n", len(res.Results), res.TotalHits)
	}
}
