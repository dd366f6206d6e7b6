package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/J3rah/talkai-monorepo-sub002/internal/config"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if !cfg.Store.DatabaseURL.IsSet() {
				return errNoDatabase
			}
			logger, err := initLogger(cfg, false)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			defer func() {
				_ = logger.Sync()
			}()

			s, err := openStore(cmd.Context(), cfg, logger, true)
			if err != nil {
				return err
			}
			s.Close()
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}
