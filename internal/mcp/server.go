package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/J3rah/talkai-monorepo-sub002/internal/agent"
	"github.com/J3rah/talkai-monorepo-sub002/internal/logging"
	"github.com/J3rah/talkai-monorepo-sub002/internal/voice"
)

// Server exposes the admin agent and the voice catalog as MCP tools.
type Server struct {
	mcp      *mcp.Server
	agent    *agent.Client
	catalog  *voice.Loader
	registry *ToolRegistry
	metrics  *Metrics
	logger   *logging.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the implementation name reported to clients (default "talkd").
	Name    string
	Version string
	Logger  *logging.Logger
}

// DefaultConfig returns the defaults used when NewServer gets nil.
func DefaultConfig() *Config {
	return &Config{
		Name:    "talkd",
		Version: "dev",
		Logger:  logging.NewNop(),
	}
}

// NewServer registers the tools. The agent client is optional; without it
// only the catalog and discovery tools are offered.
func NewServer(cfg *Config, agentClient *agent.Client, catalog *voice.Loader) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	if cfg.Name == "" {
		cfg.Name = "talkd"
	}
	if catalog == nil {
		return nil, errors.New("voice loader is required")
	}

	s := &Server{
		mcp:      mcp.NewServer(&mcp.Implementation{Name: cfg.Name, Version: cfg.Version}, nil),
		agent:    agentClient,
		catalog:  catalog,
		registry: NewToolRegistry(),
		metrics:  NewMetrics(cfg.Logger),
		logger:   cfg.Logger,
	}
	s.registerTools()
	return s, nil
}

// Registry returns the tool metadata index.
func (s *Server) Registry() *ToolRegistry {
	return s.registry
}

// Connect serves one session over t. Run uses it with stdio; tests use
// in-memory transports.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.mcp.Connect(ctx, t, nil)
}

// Run serves on stdio until ctx ends or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info(ctx, "starting MCP server on stdio transport", zap.Int("tools", s.registry.Count()))
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}
