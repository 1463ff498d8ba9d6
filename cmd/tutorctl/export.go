package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/p-n-ai/pai-homework/internal/practice"
	"github.com/p-n-ai/pai-homework/internal/report"
)

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <session-id>",
		Short: "Export a practice session as an xlsx report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid session id %q", args[0])
			}
			path, _ := cmd.Flags().GetString("output")
			if path == "" {
				path = fmt.Sprintf("session-%d.xlsx", id)
			}

			ctx := cmd.Context()
			_, stores, err := openStores(ctx, cmd)
			if err != nil {
				return err
			}
			defer stores.Close()

			rep, err := practice.NewScorer(practice.ScorerConfig{Store: stores.Practice}).Report(ctx, id)
			if err != nil {
				return fmt.Errorf("load session: %w", err)
			}

			f, err := os.Create(path)
			if err != nil {
				return fmt.Errorf("create %s: %w", path, err)
			}
			if err := report.NewBuilder(stores.Taxonomy, stores.Practice).Write(ctx, f, rep); err != nil {
				f.Close()
				os.Remove(path)
				return err
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("close %s: %w", path, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d attempts, %d knowledge points)\n", path, len(rep.Attempts), len(rep.Breakdown))
			return nil
		},
	}
	cmd.Flags().StringP("output", "o", "", "Output file (default session-<id>.xlsx)")
	return cmd
}
