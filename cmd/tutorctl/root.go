package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/p-n-ai/pai-homework/internal/app"
	"github.com/p-n-ai/pai-homework/internal/platform/config"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tutorctl",
		Short:         "Homework tutor administration",
		Long:          "tutorctl manages the knowledge-point taxonomy, runs the classifier offline and exports practice session reports.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("store", "", "Storage backend: postgres or memory (overrides TUTOR_STORE)")
	root.PersistentFlags().String("database-url", "", "PostgreSQL URL (overrides TUTOR_DATABASE_URL)")

	root.AddCommand(newSeedCmd())
	root.AddCommand(newClassifyCmd())
	root.AddCommand(newExportCmd())
	return root
}

// loadConfig reads the environment and applies the persistent flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if s, _ := cmd.Flags().GetString("store"); s != "" {
		cfg.Store = s
	}
	if u, _ := cmd.Flags().GetString("database-url"); u != "" {
		cfg.Database.URL = u
	}
	return cfg, nil
}

func openStores(ctx context.Context, cmd *cobra.Command) (*config.Config, *app.Stores, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	stores, err := app.OpenStores(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open stores: %w", err)
	}
	return cfg, stores, nil
}
