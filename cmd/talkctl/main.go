// Talkctl is the operator CLI for a running talkd server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/J3rah/talkai-monorepo-sub002/internal/backend"
	"github.com/J3rah/talkai-monorepo-sub002/internal/logging"
)

var version = "dev"

// cli carries the persistent flags to every command.
type cli struct {
	server  string
	token   string
	timeout time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "talkctl",
		Short: "CLI for talkd server operations",
		Long: `talkctl talks to a running talkd server. It checks health, lists the
voice catalog, drives the engagement agent admin routes and shows session
analytics.`,
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&c.server, "server", envOr("TALKCTL_SERVER", "http://localhost:8787"), "talkd server URL")
	root.PersistentFlags().StringVar(&c.token, "token", os.Getenv("TALKCTL_TOKEN"), "access token sent as a bearer token")
	root.PersistentFlags().DurationVar(&c.timeout, "timeout", 30*time.Second, "request timeout")

	root.AddCommand(c.healthCmd(), c.voicesCmd(), c.agentCmd(), c.statsCmd())
	return root
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// client builds a talkd API client from the flags.
func (c *cli) client() (*backend.Client, error) {
	return backend.New(backend.Config{
		BaseURL:   c.server,
		Timeout:   c.timeout,
		RateLimit: 50,
		RateBurst: 10,
		Logger:    logging.NewNop(),
	})
}

// ctx attaches the bearer token.
func (c *cli) ctx(parent context.Context) context.Context {
	return backend.WithAccessToken(parent, c.token)
}

// call runs one request with the flags applied.
func (c *cli) call(cmd *cobra.Command, method, path string, query url.Values, body, out any) error {
	bc, err := c.client()
	if err != nil {
		return err
	}
	if err := bc.Do(c.ctx(cmd.Context()), method, path, query, body, out); err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
