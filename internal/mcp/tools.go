package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/J3rah/talkai-monorepo-sub002/internal/agent"
	"github.com/J3rah/talkai-monorepo-sub002/internal/tier"
)

const (
	defaultActivityLimit = 20
	defaultSearchLimit   = 5
)

// addTool registers h under meta and wraps it with metrics and logging.
func addTool[In, Out any](s *Server, meta ToolMetadata, h mcp.ToolHandlerFor[In, Out]) {
	s.registry.Register(&meta)
	name := meta.Name
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        name,
		Description: meta.Description,
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: meta.ReadOnly},
	}, func(ctx context.Context, req *mcp.CallToolRequest, in In) (*mcp.CallToolResult, Out, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, name)
		res, out, err := h(ctx, req, in)
		s.metrics.DecrementActive(ctx, name)
		s.metrics.RecordInvocation(ctx, name, time.Since(start), err)
		if err != nil {
			s.logger.Warn(ctx, "mcp tool failed", zap.String("tool", name), zap.Error(err))
		}
		return res, out, err
	})
}

// agentError phrases a failed agent action the way the admin panel does.
func agentError(action string, err error) error {
	a := agent.Interpret(action, err)
	if a.Detail != "" {
		return fmt.Errorf("%s (%s)", a.Message, a.Detail)
	}
	return errors.New(a.Message)
}

func (s *Server) registerTools() {
	if s.agent != nil {
		s.registerAgentTools()
	} else {
		s.logger.Info(context.Background(), "agent backend not configured, skipping agent tools")
	}
	s.registerVoiceTools()
	s.registerSearchTools()
}

type emptyInput struct{}

type agentToggleInput struct {
	Running bool `json:"running" jsonschema:"true starts the agent, false stops it"`
}

type agentToggleOutput struct {
	Running bool   `json:"running"`
	Message string `json:"message,omitempty"`
}

type agentActivitiesInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"maximum activities to return (default 20)"`
}

type activity struct {
	Message   string `json:"message"`
	CreatedAt string `json:"created_at"`
}

type agentActivitiesOutput struct {
	Activities []activity `json:"activities"`
	Count      int        `json:"count"`
}

func (s *Server) registerAgentTools() {
	addTool(s, ToolMetadata{
		Name:        "agent_status",
		Description: "Report whether the engagement agent is registered and running",
		Category:    CategoryAgent,
		ReadOnly:    true,
		Keywords:    []string{"running", "health"},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, _ emptyInput) (*mcp.CallToolResult, agent.Status, error) {
		st, err := s.agent.Status(ctx)
		if err != nil {
			return nil, agent.Status{}, agentError("status", err)
		}
		return nil, st, nil
	})

	addTool(s, ToolMetadata{
		Name:        "agent_toggle",
		Description: "Start or stop the engagement agent",
		Category:    CategoryAgent,
		Keywords:    []string{"start", "stop"},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in agentToggleInput) (*mcp.CallToolResult, agentToggleOutput, error) {
		action, toggle := "stop", s.agent.Stop
		if in.Running {
			action, toggle = "start", s.agent.Start
		}
		msg, err := toggle(ctx)
		if err != nil {
			return nil, agentToggleOutput{}, agentError(action, err)
		}
		return nil, agentToggleOutput{Running: in.Running, Message: msg}, nil
	})

	addTool(s, ToolMetadata{
		Name:        "agent_activities",
		Description: "List the engagement agent's recent actions",
		Category:    CategoryAgent,
		ReadOnly:    true,
		Keywords:    []string{"log", "history"},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in agentActivitiesInput) (*mcp.CallToolResult, agentActivitiesOutput, error) {
		acts, err := s.agent.Activities(ctx)
		if err != nil {
			return nil, agentActivitiesOutput{}, agentError("activities", err)
		}
		limit := in.Limit
		if limit <= 0 {
			limit = defaultActivityLimit
		}
		out := agentActivitiesOutput{Activities: make([]activity, 0, min(limit, len(acts)))}
		for _, a := range acts[:min(limit, len(acts))] {
			out.Activities = append(out.Activities, activity{Message: a.Message, CreatedAt: a.CreatedAt.Format(time.RFC3339)})
		}
		out.Count = len(out.Activities)
		return nil, out, nil
	})

	addTool(s, ToolMetadata{
		Name:        "agent_settings",
		Description: "Show the agent's topics, action budget and whether the tool provider key is set",
		Category:    CategoryAgent,
		ReadOnly:    true,
		Keywords:    []string{"topics", "config"},
	}, func(context.Context, *mcp.CallToolRequest, emptyInput) (*mcp.CallToolResult, agent.Settings, error) {
		return nil, s.agent.Settings(), nil
	})
}

type voiceCatalogInput struct {
	Tier  string `json:"tier,omitempty" jsonschema:"subscription tier: calm, centered or grounded (default calm)"`
	Trial bool   `json:"trial,omitempty" jsonschema:"load the trial catalog, which unlocks every tier"`
}

type voiceEntry struct {
	ID               string `json:"id"`
	DisplayName      string `json:"display_name"`
	CharacterName    string `json:"character_name"`
	Tier             string `json:"tier"`
	ProviderConfigID string `json:"provider_config_id"`
}

type voiceCatalogOutput struct {
	Tier           string       `json:"tier"`
	FallbackReason string       `json:"fallback_reason,omitempty"`
	Voices         []voiceEntry `json:"voices"`
}

func (s *Server) registerVoiceTools() {
	addTool(s, ToolMetadata{
		Name:        "voice_catalog",
		Description: "List the voice configurations available to a tier",
		Category:    CategoryVoice,
		ReadOnly:    true,
		Keywords:    []string{"voices", "personas", "tier"},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in voiceCatalogInput) (*mcp.CallToolResult, voiceCatalogOutput, error) {
		res := s.catalog.Load(ctx, tier.Parse(in.Tier), in.Trial)
		out := voiceCatalogOutput{Tier: res.Tier.String(), FallbackReason: res.FallbackReason, Voices: []voiceEntry{}}
		for _, g := range res.Groups {
			for _, v := range g.Configurations {
				out.Voices = append(out.Voices, voiceEntry{
					ID:               v.ID,
					DisplayName:      v.DisplayName,
					CharacterName:    v.CharacterName,
					Tier:             v.Tier.String(),
					ProviderConfigID: v.ProviderConfigID,
				})
			}
		}
		return nil, out, nil
	})
}

type toolSearchInput struct {
	Query    string `json:"query" jsonschema:"name, description or keyword to look for; regular expressions are accepted"`
	Category string `json:"category,omitempty" jsonschema:"restrict to one category: agent, voice or search"`
	Limit    int    `json:"limit,omitempty" jsonschema:"maximum results (default 5)"`
}

type toolMatch struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Score       int    `json:"score"`
}

type toolSearchOutput struct {
	Results    []toolMatch `json:"results"`
	Count      int         `json:"count"`
	TotalTools int         `json:"total_tools"`
}

func (s *Server) registerSearchTools() {
	addTool(s, ToolMetadata{
		Name:        "tool_search",
		Description: "Search the available tools by name, description or keyword",
		Category:    CategorySearch,
		ReadOnly:    true,
	}, func(_ context.Context, _ *mcp.CallToolRequest, in toolSearchInput) (*mcp.CallToolResult, toolSearchOutput, error) {
		if strings.TrimSpace(in.Query) == "" {
			return nil, toolSearchOutput{}, errors.New("query is required")
		}
		limit := in.Limit
		if limit <= 0 {
			limit = defaultSearchLimit
		}
		found := s.registry.Search(in.Query, ToolCategory(in.Category))
		out := toolSearchOutput{Results: []toolMatch{}, TotalTools: s.registry.Count()}
		for _, r := range found[:min(limit, len(found))] {
			out.Results = append(out.Results, toolMatch{
				Name:        r.Tool.Name,
				Description: r.Tool.Description,
				Category:    string(r.Tool.Category),
				Score:       r.Score,
			})
		}
		out.Count = len(out.Results)
		return nil, out, nil
	})
}
