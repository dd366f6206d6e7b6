// Package agent controls the social engagement agent through the backend
// admin routes and turns failures into alerts an operator can act on.
package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/J3rah/talkai-monorepo-sub002/internal/backend"
	"github.com/J3rah/talkai-monorepo-sub002/internal/events"
	"github.com/J3rah/talkai-monorepo-sub002/internal/logging"
)

// DefaultName is the agent managed by the admin surface.
const DefaultName = "x-engagement"

// Caller is the subset of backend.Client the agent needs.
type Caller interface {
	Do(ctx context.Context, method, path string, query url.Values, body, out any) error
}

// Status is the agent's run state.
type Status struct {
	Name       string         `json:"name"`
	Registered bool           `json:"registered"`
	Running    bool           `json:"running"`
	Details    map[string]any `json:"details,omitempty"`
}

// Activity is one action the agent logged.
type Activity struct {
	AgentName string         `json:"agent_name"`
	Message   string         `json:"message"`
	CreatedAt time.Time      `json:"created_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Discovery summarizes the tool discovery call.
type Discovery struct {
	AllTools      int      `json:"all_tools_count"`
	TwitterTools  int      `json:"twitter_tools_count"`
	XTools        int      `json:"x_tools_count"`
	FilteredTools int      `json:"filtered_tools_count"`
	Tools         []any    `json:"tools,omitempty"`
	Errors        []string `json:"errors,omitempty"`
}

// ChatMessage is one turn of a connection test.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Settings is what the admin panel shows about the agent's environment.
type Settings struct {
	Name               string   `json:"name"`
	ComposioConfigured bool     `json:"composio_configured"`
	Topics             []string `json:"topics"`
	MaxActions         int      `json:"max_actions"`
}

// Config configures a Client.
type Config struct {
	Name      string
	Caller    Caller
	Publisher events.Publisher
	Logger    *logging.Logger
	Settings  Settings
}

// Client drives the agent admin routes.
type Client struct {
	name      string
	caller    Caller
	publisher events.Publisher
	logger    *logging.Logger
	settings  Settings
}

// New validates cfg.
func New(cfg Config) (*Client, error) {
	if cfg.Caller == nil {
		return nil, errors.New("backend caller is required")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	if cfg.Publisher == nil {
		cfg.Publisher = events.Nop{}
	}
	cfg.Settings.Name = cfg.Name
	if cfg.Settings.Topics == nil {
		cfg.Settings.Topics = []string{}
	}
	return &Client{
		name:      cfg.Name,
		caller:    cfg.Caller,
		publisher: cfg.Publisher,
		logger:    cfg.Logger,
		settings:  cfg.Settings,
	}, nil
}

// Name returns the managed agent name.
func (c *Client) Name() string { return c.name }

// Settings returns the configured environment summary. The Composio key
// itself is never exposed.
func (c *Client) Settings() Settings {
	s := c.settings
	s.Topics = append([]string(nil), s.Topics...)
	return s
}

// Status finds the agent in GET /api/agents.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var resp struct {
		Agents []map[string]any `json:"agents"`
	}
	if err := c.caller.Do(ctx, http.MethodGet, "/api/agents", nil, nil, &resp); err != nil {
		return Status{}, fmt.Errorf("listing agents: %w", err)
	}
	for _, a := range resp.Agents {
		if name, _ := a["name"].(string); name == c.name {
			running, _ := a["isRunning"].(bool)
			return Status{Name: c.name, Registered: true, Running: running, Details: a}, nil
		}
	}
	return Status{Name: c.name}, nil
}

type toggleResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Start asks the backend to run the agent.
func (c *Client) Start(ctx context.Context) (string, error) {
	return c.toggle(ctx, http.MethodPost, true)
}

// Stop asks the backend to stop the agent.
func (c *Client) Stop(ctx context.Context) (string, error) {
	return c.toggle(ctx, http.MethodDelete, false)
}

func (c *Client) toggle(ctx context.Context, method string, running bool) (string, error) {
	var resp toggleResponse
	err := c.caller.Do(ctx, method, "/api/agents", url.Values{"name": {c.name}},
		map[string]string{"name": c.name}, &resp)
	if err != nil {
		return "", err
	}
	if !resp.Success {
		msg := resp.Error
		if msg == "" {
			msg = resp.Message
		}
		if msg == "" {
			msg = "backend refused the request"
		}
		return "", errors.New(msg)
	}

	c.logger.Info(ctx, "agent toggled", zap.String("agent", c.name), zap.Bool("running", running))
	ev := events.New(events.KindAgentToggled, "", "", map[string]any{"agent": c.name, "running": running})
	if err := c.publisher.PublishAgent(ctx, ev); err != nil {
		c.logger.Warn(ctx, "publishing agent event failed", zap.Error(err))
	}
	return resp.Message, nil
}

// Activities returns the agent's recent actions, newest first as sent.
func (c *Client) Activities(ctx context.Context) ([]Activity, error) {
	var resp struct {
		Activities []Activity `json:"activities"`
	}
	if err := c.caller.Do(ctx, http.MethodGet, "/api/agents/activities", nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("listing activities: %w", err)
	}
	out := make([]Activity, 0, len(resp.Activities))
	for _, a := range resp.Activities {
		if a.AgentName == "" || a.AgentName == c.name {
			out = append(out, a)
		}
	}
	return out, nil
}

// NetworkIssueError is returned when discovery reports a network problem.
type NetworkIssueError struct {
	Suggestion string
}

func (e *NetworkIssueError) Error() string {
	if e.Suggestion == "" {
		return "tool discovery hit a network issue"
	}
	return "tool discovery hit a network issue: " + e.Suggestion
}

// DiscoverTools calls the Composio discovery route for userID.
func (c *Client) DiscoverTools(ctx context.Context, userID string) (Discovery, error) {
	var resp struct {
		Success       bool   `json:"success"`
		NetworkIssues bool   `json:"networkIssues"`
		Suggestion    string `json:"suggestion"`
		Error         string `json:"error"`
		Discovery     struct {
			AllToolsCount      int `json:"allToolsCount"`
			TwitterToolsCount  int `json:"twitterToolsCount"`
			XToolsCount        int `json:"xToolsCount"`
			FilteredToolsCount int `json:"filteredToolsCount"`
		} `json:"discovery"`
		Tools struct {
			Filtered []any `json:"filtered"`
			Twitter  []any `json:"twitter"`
		} `json:"tools"`
		HasErrors bool     `json:"hasErrors"`
		Errors    []string `json:"errors"`
	}
	q := url.Values{}
	if userID != "" {
		q.Set("userId", userID)
	}
	if err := c.caller.Do(ctx, http.MethodGet, "/api/composio/discover-tools", q, nil, &resp); err != nil {
		return Discovery{}, err
	}
	if resp.NetworkIssues {
		return Discovery{}, &NetworkIssueError{Suggestion: resp.Suggestion}
	}
	if !resp.Success {
		if resp.Error != "" {
			return Discovery{}, errors.New(resp.Error)
		}
		return Discovery{}, errors.New("tool discovery failed")
	}

	d := Discovery{
		AllTools:      resp.Discovery.AllToolsCount,
		TwitterTools:  resp.Discovery.TwitterToolsCount,
		XTools:        resp.Discovery.XToolsCount,
		FilteredTools: resp.Discovery.FilteredToolsCount,
		Tools:         resp.Tools.Filtered,
	}
	if len(d.Tools) == 0 {
		d.Tools = resp.Tools.Twitter
	}
	if resp.HasErrors {
		d.Errors = resp.Errors
	}
	return d, nil
}

// Tools lists the Twitter and X toolkits.
func (c *Client) Tools(ctx context.Context) ([]any, error) {
	var resp struct {
		Tools []any `json:"tools"`
	}
	err := c.caller.Do(ctx, http.MethodGet, "/api/composio/tools", url.Values{"toolkits": {"TWITTER,X"}}, nil, &resp)
	if err != nil {
		return nil, fmt.Errorf("listing tools: %w", err)
	}
	if resp.Tools == nil {
		return []any{}, nil
	}
	return resp.Tools, nil
}

// TestConnection sends a chat round trip through the agent.
func (c *Client) TestConnection(ctx context.Context, userID string, messages []ChatMessage) (map[string]any, error) {
	if len(messages) == 0 {
		messages = []ChatMessage{{Role: "user", Content: "Connection test: reply with OK."}}
	}
	var resp map[string]any
	err := c.caller.Do(ctx, http.MethodPost, "/api/agent/chat", nil,
		map[string]any{"userId": userID, "messages": messages}, &resp)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// ParseTopics splits a comma separated topic list.
func ParseTopics(raw string) []string {
	out := []string{}
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

var _ Caller = (*backend.Client)(nil)
