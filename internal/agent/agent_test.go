package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/J3rah/talkai-monorepo-sub002/internal/backend"
	"github.com/J3rah/talkai-monorepo-sub002/internal/events"
	"github.com/J3rah/talkai-monorepo-sub002/internal/logging"
)

type recordingPublisher struct {
	events.Nop
	agent []events.Event
}

func (r *recordingPublisher) PublishAgent(_ context.Context, e events.Event) error {
	r.agent = append(r.agent, e)
	return nil
}

func newTestAgent(t *testing.T, mux *http.ServeMux) (*Client, *recordingPublisher) {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	bc, err := backend.New(backend.Config{BaseURL: srv.URL, Timeout: 2 * time.Second, RateLimit: 1000, RateBurst: 100, Logger: logging.NewNop()})
	require.NoError(t, err)

	pub := &recordingPublisher{}
	c, err := New(Config{Caller: bc, Publisher: pub, Logger: logging.NewNop(), Settings: Settings{
		ComposioConfigured: true,
		Topics:             []string{"mindfulness"},
		MaxActions:         10,
	}})
	require.NoError(t, err)
	return c, pub
}

func TestStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/agents", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"agents":[{"name":"other","isRunning":true},{"name":"x-engagement","isRunning":true,"lastRun":"today"}]}`))
	})
	c, _ := newTestAgent(t, mux)

	st, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, st.Registered)
	assert.True(t, st.Running)
	assert.Equal(t, "today", st.Details["lastRun"])
}

func TestStatus_NotRegistered(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/agents", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"agents":[]}`))
	})
	c, _ := newTestAgent(t, mux)

	st, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.False(t, st.Registered)
	assert.False(t, st.Running)
	assert.Equal(t, DefaultName, st.Name)
}

func TestStartStop(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/agents", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, DefaultName, body["name"])
		_, _ = w.Write([]byte(`{"success":true,"message":"started"}`))
	})
	mux.HandleFunc("DELETE /api/agents", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"message":"agent is busy"}`))
	})
	c, pub := newTestAgent(t, mux)

	msg, err := c.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "started", msg)
	require.Len(t, pub.agent, 1)
	assert.Equal(t, true, pub.agent[0].Data["running"])

	_, err = c.Stop(context.Background())
	assert.EqualError(t, err, "agent is busy")
	assert.Len(t, pub.agent, 1)
}

func TestActivities_FiltersByAgent(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/agents/activities", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"activities":[
			{"agent_name":"x-engagement","message":"liked a post","created_at":"2026-01-02T03:04:05Z"},
			{"agent_name":"other","message":"ignored","created_at":"2026-01-02T03:04:05Z"}
		]}`))
	})
	c, _ := newTestAgent(t, mux)

	acts, err := c.Activities(context.Background())
	require.NoError(t, err)
	require.Len(t, acts, 1)
	assert.Equal(t, "liked a post", acts[0].Message)
	assert.Equal(t, 2026, acts[0].CreatedAt.Year())
}

func TestDiscoverTools(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/composio/discover-tools", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("userId") {
		case "flaky":
			_, _ = w.Write([]byte(`{"networkIssues":true,"suggestion":"retry later"}`))
		default:
			_, _ = w.Write([]byte(`{"success":true,"discovery":{"allToolsCount":40,"twitterToolsCount":12,"xToolsCount":3,"filteredToolsCount":15},
				"tools":{"filtered":[{"name":"TWITTER_POST"}]},"hasErrors":true,"errors":["X toolkit slow"]}`))
		}
	})
	c, _ := newTestAgent(t, mux)

	d, err := c.DiscoverTools(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 40, d.AllTools)
	assert.Equal(t, 15, d.FilteredTools)
	assert.Len(t, d.Tools, 1)
	assert.Equal(t, []string{"X toolkit slow"}, d.Errors)

	_, err = c.DiscoverTools(context.Background(), "flaky")
	var nie *NetworkIssueError
	require.ErrorAs(t, err, &nie)
	assert.Equal(t, AlertNetwork, Interpret("discover", err).Kind)
}

func TestTools(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/composio/tools", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "TWITTER,X", r.URL.Query().Get("toolkits"))
		_, _ = w.Write([]byte(`{"tools":[{"name":"a"},{"name":"b"}]}`))
	})
	c, _ := newTestAgent(t, mux)

	tools, err := c.Tools(context.Background())
	require.NoError(t, err)
	assert.Len(t, tools, 2)
}

func TestTestConnection(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/agent/chat", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			UserID   string        `json:"userId"`
			Messages []ChatMessage `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "admin", body.UserID)
		assert.Len(t, body.Messages, 1)
		_, _ = w.Write([]byte(`{"reply":"OK"}`))
	})
	c, _ := newTestAgent(t, mux)

	resp, err := c.TestConnection(context.Background(), "admin", nil)
	require.NoError(t, err)
	assert.Equal(t, "OK", resp["reply"])
}

func TestSettings(t *testing.T) {
	c, _ := newTestAgent(t, http.NewServeMux())
	s := c.Settings()
	assert.Equal(t, DefaultName, s.Name)
	assert.True(t, s.ComposioConfigured)
	assert.Equal(t, 10, s.MaxActions)

	s.Topics[0] = "changed"
	assert.Equal(t, "mindfulness", c.Settings().Topics[0])
}

func TestInterpret(t *testing.T) {
	tests := []struct {
		err  error
		kind AlertKind
	}{
		{errors.New("read tcp: ECONNRESET"), AlertNetwork},
		{errors.New("connect ETIMEDOUT 1.2.3.4:443"), AlertNetwork},
		{errors.New("getaddrinfo ENOTFOUND api.composio.dev"), AlertNetwork},
		{errors.New("socket hang up"), AlertNetwork},
		{errors.New("unable to verify the first certificate"), AlertNetwork},
		{errors.New("TLS handshake timeout"), AlertNetwork},
		{errors.New("TypeError: fetch failed"), AlertNetwork},
		{errors.New("Network request failed"), AlertNetwork},
		{errors.New("agent is busy"), AlertError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			a := Interpret("start", tt.err)
			assert.Equal(t, tt.kind, a.Kind)
			assert.Equal(t, "start", a.Action)
			if tt.kind == AlertNetwork {
				assert.Equal(t, NetworkMessage, a.Message)
				assert.Equal(t, tt.err.Error(), a.Detail)
			} else {
				assert.Equal(t, tt.err.Error(), a.Message)
			}
		})
	}

	assert.Equal(t, Alert{}, Interpret("noop", nil))
}

func TestParseTopics(t *testing.T) {
	assert.Equal(t, []string{"calm", "sleep"}, ParseTopics(" calm, ,sleep "))
	assert.Equal(t, []string{}, ParseTopics(""))
}
