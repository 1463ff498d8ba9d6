package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed [yaml-dir]",
		Short: "Load taxonomy seed files into the store",
		Long:  "Loads every *.yaml file under yaml-dir (the built-in seeds when omitted). Existing subjects and knowledge points are kept.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, stores, err := openStores(ctx, cmd)
			if err != nil {
				return err
			}
			defer stores.Close()

			dir := ""
			if len(args) == 1 {
				dir = args[0]
			}
			stats, err := stores.Seed(ctx, dir)
			if err != nil {
				return fmt.Errorf("seed: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Subjects:          %d\n", stats.Subjects)
			fmt.Fprintf(out, "Knowledge points:  %d created, %d existing\n", stats.Created, stats.Existing)
			fmt.Fprintf(out, "Exam points:       %d\n", stats.ExamPoints)
			if stats.SkippedEntries > 0 {
				fmt.Fprintf(out, "Skipped entries:   %d\n", stats.SkippedEntries)
			}
			return nil
		},
	}
}
