package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatsCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show statistics for the current index snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			idx, err := a.openIndex(false, nil)
			if err != nil {
				return err
			}
			defer idx.Close()

			st, err := idx.Stats()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, st)
			}
			fmt.Fprintf(out, "Directory:      %s\n", st.Dir)
			fmt.Fprintf(out, "Index ID:       %s\n", st.IndexID)
			fmt.Fprintf(out, "Generation:     %d\n", st.Generation)
			fmt.Fprintf(out, "Documents:      %d\n", st.Documents)
			fmt.Fprintf(out, "Terms:          %d\n", st.Terms)
			fmt.Fprintf(out, "Avg length:     %.1f\n", st.AvgContentLength)
			fmt.Fprintf(out, "Fingerprint:    %s\n", st.Fingerprint)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}
