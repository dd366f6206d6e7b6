package main

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/J3rah/talkai-monorepo-sub002/internal/agent"
	httpserver "github.com/J3rah/talkai-monorepo-sub002/internal/http"
	"github.com/J3rah/talkai-monorepo-sub002/internal/voice"
)

func (c *cli) healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check talkd server health",
		Long: `Check the health status of the talkd HTTP server.

Examples:
  # Check health
  talkctl health

  # Check health on a different server
  talkctl health --server http://localhost:9000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var h httpserver.HealthResponse
			if err := c.call(cmd, http.MethodGet, "/health", nil, nil, &h); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Server Status: %s\n", h.Status)
			if h.Version != "" {
				fmt.Fprintf(out, "Version:       %s\n", h.Version)
			}
			fmt.Fprintf(out, "Active Flows:  %d\n", h.Flows)
			return nil
		},
	}
}

func (c *cli) voicesCmd() *cobra.Command {
	var trial, asJSON bool
	cmd := &cobra.Command{
		Use:   "voices",
		Short: "List the voice catalog for the caller's tier",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{}
			if trial {
				q.Set("trial", "true")
			}
			var res voice.Result
			if err := c.call(cmd, http.MethodGet, "/api/v1/voices", q, nil, &res); err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), res)
			}
			return printCatalog(cmd, res)
		},
	}
	cmd.Flags().BoolVar(&trial, "trial", false, "load the trial catalog")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw catalog")
	return cmd
}

func printCatalog(cmd *cobra.Command, res voice.Result) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Tier: %s\n", res.Tier)
	if res.Fallback() {
		fmt.Fprintf(out, "Using fallback catalog: %s\n", res.FallbackReason)
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "GROUP\tID\tNAME\tCHARACTER\tTIER")
	for _, g := range res.Groups {
		for _, v := range g.Configurations {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", g.Name, v.ID, v.DisplayName, v.CharacterName, v.Tier)
		}
	}
	return tw.Flush()
}

func (c *cli) agentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Drive the engagement agent admin routes",
		Long: `Drive the engagement agent through talkd's admin routes. The token
must belong to an admin user.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show whether the agent is registered and running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var st agent.Status
			if err := c.call(cmd, http.MethodGet, "/api/v1/admin/agent", nil, nil, &st); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Agent:      %s\n", st.Name)
			fmt.Fprintf(out, "Registered: %s\n", yesNo(st.Registered))
			fmt.Fprintf(out, "Running:    %s\n", yesNo(st.Running))
			return nil
		},
	})

	for _, action := range []string{"start", "stop"} {
		cmd.AddCommand(&cobra.Command{
			Use:   action,
			Short: strings.ToUpper(action[:1]) + action[1:] + " the agent",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				var resp httpserver.ToggleResponse
				if err := c.call(cmd, http.MethodPost, "/api/v1/admin/agent/"+action, nil, nil, &resp); err != nil {
					return err
				}
				msg := resp.Message
				if msg == "" {
					msg = "ok"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Running: %s (%s)\n", yesNo(resp.Running), msg)
				return nil
			},
		})
	}

	var limit int
	activities := &cobra.Command{
		Use:   "activities",
		Short: "List the agent's recent actions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp struct {
				Activities []agent.Activity `json:"activities"`
			}
			if err := c.call(cmd, http.MethodGet, "/api/v1/admin/agent/activities", nil, nil, &resp); err != nil {
				return err
			}
			acts := resp.Activities
			if limit > 0 && len(acts) > limit {
				acts = acts[:limit]
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tMESSAGE")
			for _, a := range acts {
				fmt.Fprintf(tw, "%s\t%s\n", a.CreatedAt.Format("2006-01-02 15:04:05"), a.Message)
			}
			return tw.Flush()
		},
	}
	activities.Flags().IntVar(&limit, "limit", 20, "maximum activities to show (0 for all)")
	cmd.AddCommand(activities)

	var discover bool
	tools := &cobra.Command{
		Use:   "tools",
		Short: "List the agent's tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if discover {
				var d agent.Discovery
				if err := c.call(cmd, http.MethodGet, "/api/v1/admin/agent/discover", nil, nil, &d); err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), d)
			}
			var resp map[string]any
			if err := c.call(cmd, http.MethodGet, "/api/v1/admin/agent/tools", nil, nil, &resp); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
	tools.Flags().BoolVar(&discover, "discover", false, "run tool discovery for the caller instead")
	cmd.AddCommand(tools)

	cmd.AddCommand(&cobra.Command{
		Use:   "test [message...]",
		Short: "Run the agent connection test",
		RunE: func(cmd *cobra.Command, args []string) error {
			var req httpserver.TestRequest
			if len(args) > 0 {
				req.Messages = []agent.ChatMessage{{Role: "user", Content: strings.Join(args, " ")}}
			}
			var resp map[string]any
			if err := c.call(cmd, http.MethodPost, "/api/v1/admin/agent/test", nil, req, &resp); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	})

	return cmd
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
