// Talkd is the talkAI session backend.
//
// It serves the session wizard, voice connection bridge and completion
// analytics over HTTP, and the agent admin tools over MCP stdio.
//
// Usage:
//
//	# Start the HTTP server
//	talkd serve
//
//	# Apply database migrations and exit
//	DATABASE_URL=postgres://... talkd migrate
//
//	# Serve MCP tools on stdio
//	talkd mcp
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "talkd",
		Short: "talkAI session backend",
		Long: `talkd runs the talkAI voice session backend: the pre-session wizard,
the voice provider bridge, session analytics and the engagement agent
admin surface.`,
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/talkd/config.yaml)")
	root.AddCommand(newServeCmd(), newMigrateCmd(), newMCPCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "talkd\n")
			fmt.Fprintf(out, "Version:    %s\n", version)
			fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
			fmt.Fprintf(out, "Build Date: %s\n", buildDate)
		},
	}
}
