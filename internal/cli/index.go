package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/status"
	apperrors "github.com/Adithya-Monish-Kumar-K/docsearch/pkg/errors"
)

func newIndexCmd(a *app) *cobra.Command {
	var (
		quiet  bool
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "index [file]",
		Short: "Index documents from a JSON-lines file or stdin",
		Long: `Reads one JSON object per document:

  {"id": "books/moby.pdf", "display_name": "moby.pdf", "text": "Call me Ishmael..."}

Every document is committed in a single writer session, so searches see
either none or all of them. An existing document with the same id is
replaced. With no file, or "-", documents are read from stdin.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, closeInput, err := openInput(cmd, args)
			if err != nil {
				return err
			}
			defer closeInput()

			out := cmd.OutOrStdout()
			if asJSON {
				out = cmd.ErrOrStderr()
			}
			term := newTerminalSink(out, quiet)

			inputs, rejected, err := readInputs(r)
			if err != nil {
				return err
			}
			for _, rej := range rejected {
				term.Emit(status.Message{Kind: status.KindWarning, Op: status.OpIndex, Text: rej})
			}

			ctx := cmd.Context()
			l, closeLedger, err := a.openLedger(ctx)
			if err != nil {
				return err
			}
			defer closeLedger()

			term.Emit(status.Message{Kind: status.KindInfo, Op: status.OpIndex, Text: "Starting indexing..."})
			idx, err := a.openIndex(true, status.Multi(term, sinkOf(l)))
			if err != nil {
				return err
			}
			defer idx.Close()

			res, err := idx.Update(ctx, func(w *indexer.Writer) error {
				return w.AddDocuments(ctx, inputs)
			})
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "only print warnings, errors and the summary")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the commit result as JSON")
	return cmd
}

func openInput(cmd *cobra.Command, args []string) (io.Reader, func(), error) {
	if len(args) == 0 || args[0] == "-" {
		return cmd.InOrStdin(), func() {}, nil
	}
	f, err := os.Open(args[0])
	if err != nil {
		return nil, nil, fmt.Errorf("opening input: %w", err)
	}
	return f, func() { f.Close() }, nil
}

var inputValidator = validator.New()

// readInputs decodes a stream of JSON documents. A malformed stream is an
// error; well-formed records that fail validation are reported as warning
// lines and left out.
func readInputs(r io.Reader) ([]indexer.Input, []string, error) {
	dec := json.NewDecoder(r)
	var (
		inputs   []indexer.Input
		rejected []string
	)
	for n := 1; ; n++ {
		var in indexer.Input
		err := dec.Decode(&in)
		if errors.Is(err, io.EOF) {
			return inputs, rejected, nil
		}
		if err != nil {
			return nil, nil, fmt.Errorf("%w: record %d: %v", apperrors.ErrInvalidInput, n, err)
		}
		if err := inputValidator.Struct(in); err != nil {
			rejected = append(rejected, fmt.Sprintf("Warning: skipping record %d: %v", n, err))
			continue
		}
		inputs = append(inputs, in)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
