package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/J3rah/talkai-monorepo-sub002/internal/config"
	"github.com/J3rah/talkai-monorepo-sub002/internal/events"
	"github.com/J3rah/talkai-monorepo-sub002/internal/mcp"
)

// newMCPCmd serves the admin tools on stdio. It talks to the backend
// directly and holds no wizard flows.
func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve agent and catalog tools over MCP stdio",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			// stdout carries the protocol
			logger, err := initLogger(cfg, true)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			defer func() {
				_ = logger.Sync()
			}()

			s, err := openStore(ctx, cfg, logger, false)
			if err != nil {
				return err
			}
			defer s.Close()

			_, loader, err := newCatalog(cfg, s, logger)
			if err != nil {
				return err
			}
			bc, err := newBackend(cfg, logger)
			if err != nil {
				return err
			}
			ac, err := newAgent(cfg, bc, events.Nop{}, logger)
			if err != nil {
				return err
			}

			srv, err := mcp.NewServer(&mcp.Config{Name: "talkd", Version: version, Logger: logger}, ac, loader)
			if err != nil {
				return err
			}
			return srv.Run(ctx)
		},
	}
}
