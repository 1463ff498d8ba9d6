package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/p-n-ai/pai-homework/internal/classifier"
	"github.com/p-n-ai/pai-homework/internal/taxonomy"
)

func newClassifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classify <text>",
		Short: "Rank knowledge points for a question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			grade, _ := cmd.Flags().GetString("grade")
			subject, _ := cmd.Flags().GetString("subject")
			limit, _ := cmd.Flags().GetInt("limit")

			ctx := cmd.Context()
			cfg, stores, err := openStores(ctx, cmd)
			if err != nil {
				return err
			}
			defer stores.Close()

			// A memory store starts empty.
			if cfg.Store == "memory" {
				if _, err := stores.Seed(ctx, cfg.TaxonomyPath); err != nil {
					return fmt.Errorf("seed: %w", err)
				}
			}

			q := classifier.Query{
				Text:       strings.Join(args, " "),
				GradeLevel: taxonomy.GradeLevel(grade).Canonical(),
				Limit:      limit,
			}
			if subject != "" {
				subj, err := stores.Taxonomy.SubjectByName(ctx, subject)
				if errors.Is(err, taxonomy.ErrNotFound) {
					return fmt.Errorf("unknown subject %q", subject)
				}
				if err != nil {
					return fmt.Errorf("lookup subject: %w", err)
				}
				q.SubjectID = subj.ID
			}

			c := classifier.New(classifier.Config{
				Store:          stores.Taxonomy,
				DefaultSubject: cfg.Classifier.DefaultSubject,
				ResultLimit:    cfg.Classifier.ResultLimit,
			})
			matches, err := c.Classify(ctx, q)
			if err != nil {
				return fmt.Errorf("classify: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(matches) == 0 {
				fmt.Fprintln(out, "No matching knowledge points.")
			}
			for i, m := range matches {
				fmt.Fprintf(out, "%d. %s [%s] score=%d\n", i+1, m.KnowledgePoint.Name, m.KnowledgePoint.GradeLevel, m.Score)
				for _, r := range m.MatchReasons {
					fmt.Fprintf(out, "     - %s\n", r)
				}
			}

			if suggestions := classifier.SuggestNewKnowledgePoints(q.Text); len(suggestions) > 0 {
				fmt.Fprintln(out, "Suggested new knowledge points:")
				for _, s := range suggestions {
					fmt.Fprintf(out, "  * %s [%s]\n", s.Name, s.GradeLevel)
				}
			}
			return nil
		},
	}
	cmd.Flags().String("grade", "", "Grade level, e.g. 初一 or 7")
	cmd.Flags().String("subject", "", "Subject name, e.g. 数学")
	cmd.Flags().Int("limit", 0, "Maximum matches (default TUTOR_CLASSIFIER_RESULT_LIMIT)")
	return cmd
}
