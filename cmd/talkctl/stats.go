package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/J3rah/talkai-monorepo-sub002/internal/analytics"
	"github.com/J3rah/talkai-monorepo-sub002/internal/dashboard"
)

// summaryRequest is the body of POST /api/v1/sessions/summary.
type summaryRequest struct {
	SessionID       string `json:"session_id"`
	DurationSeconds int    `json:"duration_seconds"`
}

func (c *cli) statsCmd() *cobra.Command {
	var (
		duration int
		watch    time.Duration
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "stats <session>",
		Short: "Show the analytics summary of a saved session",
		Long: `Show the completion summary of a saved session: message counts, top
emotions and the emotion trend.

Examples:
  # Print the summary once
  talkctl stats 6f0c... --token $TOKEN

  # Keep a dashboard open and refresh every 5 seconds
  talkctl stats 6f0c... --watch 5s`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID := args[0]
			fetcher := c.summaryFetcher(sessionID, duration)

			if watch > 0 {
				if asJSON {
					return fmt.Errorf("--json cannot be combined with --watch")
				}
				p := tea.NewProgram(
					dashboard.NewModel(fetcher, sessionID, watch),
					tea.WithContext(cmd.Context()),
					tea.WithOutput(cmd.OutOrStdout()),
				)
				_, err := p.Run()
				return err
			}

			s, err := fetcher.Fetch(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), s)
			}
			fmt.Fprintln(cmd.OutOrStdout(), dashboard.Render(s, sessionID))
			return nil
		},
	}
	cmd.Flags().IntVar(&duration, "duration", 0, "session length in seconds to report")
	cmd.Flags().DurationVar(&watch, "watch", 0, "open an interactive dashboard refreshing at this interval")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw summary")
	return cmd
}

func (c *cli) summaryFetcher(sessionID string, duration int) dashboard.Fetcher {
	return dashboard.FetchFunc(func(ctx context.Context) (analytics.Summary, error) {
		bc, err := c.client()
		if err != nil {
			return analytics.Summary{}, err
		}
		var s analytics.Summary
		req := summaryRequest{SessionID: sessionID, DurationSeconds: duration}
		if err := bc.Do(c.ctx(ctx), http.MethodPost, "/api/v1/sessions/summary", nil, req, &s); err != nil {
			return analytics.Summary{}, fmt.Errorf("fetching summary: %w", err)
		}
		return s, nil
	})
}
