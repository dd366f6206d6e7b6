package hume

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/J3rah/talkai-monorepo-sub002/internal/bridge"
	"github.com/J3rah/talkai-monorepo-sub002/internal/logging"
	"github.com/J3rah/talkai-monorepo-sub002/internal/store"
)

func newEVIServer(t *testing.T, handler func(r *http.Request, conn *websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v0/evi/chat" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handler(r, conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/v0/evi/chat"
}

func newConnector(t *testing.T, chatURL string, tokens oauth2.TokenSource) *Connector {
	t.Helper()
	c, err := NewConnector(ConnectorConfig{ChatURL: chatURL, Tokens: tokens, Logger: logging.NewNop()})
	require.NoError(t, err)
	return c
}

func writeMetadata(conn *websocket.Conn) {
	_ = conn.WriteJSON(map[string]any{"type": "chat_metadata", "chat_id": "chat-1", "chat_group_id": "group-1"})
}

func TestConnect_SendsConfigAndToken(t *testing.T) {
	got := make(chan [2]string, 1)
	url := newEVIServer(t, func(r *http.Request, conn *websocket.Conn) {
		got <- [2]string{r.URL.Query().Get("config_id"), r.URL.Query().Get("access_token")}
		writeMetadata(conn)
		_, _, _ = conn.ReadMessage()
	})

	c := newConnector(t, url, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "minted"}))
	conn, err := c.Connect(context.Background(), bridge.Request{ConfigID: "cfg-1"})
	require.NoError(t, err)
	defer conn.Close()

	sess, ok := conn.(*Session)
	require.True(t, ok)
	assert.Equal(t, "chat-1", sess.ChatID())
	assert.Equal(t, "group-1", sess.ChatGroupID())
	assert.Equal(t, [2]string{"cfg-1", "minted"}, <-got)
}

func TestConnect_PrefersRequestToken(t *testing.T) {
	got := make(chan string, 1)
	url := newEVIServer(t, func(r *http.Request, conn *websocket.Conn) {
		got <- r.URL.Query().Get("access_token")
		writeMetadata(conn)
		_, _, _ = conn.ReadMessage()
	})

	c := newConnector(t, url, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "minted"}))
	conn, err := c.Connect(context.Background(), bridge.Request{ConfigID: "cfg-1", AccessToken: "given"})
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, "given", <-got)
}

func TestConnect_NoToken(t *testing.T) {
	c := newConnector(t, "ws://127.0.0.1:1/v0/evi/chat", nil)
	_, err := c.Connect(context.Background(), bridge.Request{ConfigID: "cfg-1"})
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestConnect_ErrorFrameFailsHandshake(t *testing.T) {
	url := newEVIServer(t, func(_ *http.Request, conn *websocket.Conn) {
		_ = conn.WriteJSON(map[string]any{"type": "error", "code": "E0101", "slug": "bad_config", "message": "config not found"})
	})

	c := newConnector(t, url, nil)
	_, err := c.Connect(context.Background(), bridge.Request{ConfigID: "missing", AccessToken: "tok"})
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "E0101", pe.Code)
	assert.Equal(t, "config not found", pe.Message)
}

func TestConnect_HonorsDeadline(t *testing.T) {
	url := newEVIServer(t, func(_ *http.Request, conn *websocket.Conn) {
		// never sends chat_metadata
		_, _, _ = conn.ReadMessage()
	})

	c := newConnector(t, url, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.Connect(ctx, bridge.Request{ConfigID: "cfg", AccessToken: "tok"})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestSession_Turns(t *testing.T) {
	url := newEVIServer(t, func(_ *http.Request, conn *websocket.Conn) {
		writeMetadata(conn)
		_ = conn.WriteJSON(map[string]any{
			"type":    "user_message",
			"message": map[string]any{"role": "user", "content": "I feel tense today"},
			"models":  map[string]any{"prosody": map[string]any{"scores": map[string]float64{"Anxiety": 0.7, "Calmness": 0.1}}},
		})
		_ = conn.WriteJSON(map[string]any{"type": "assistant_end"})
		_ = conn.WriteMessage(websocket.TextMessage, []byte("{not json"))
		_ = conn.WriteJSON(map[string]any{
			"type":    "assistant_message",
			"message": map[string]any{"role": "assistant", "content": "Let's breathe together."},
		})
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	})

	c := newConnector(t, url, nil)
	conn, err := c.Connect(context.Background(), bridge.Request{ConfigID: "cfg", AccessToken: "tok"})
	require.NoError(t, err)
	sess := conn.(*Session)

	var turns []Turn
	for turn := range sess.Turns() {
		turns = append(turns, turn)
	}
	require.Len(t, turns, 2)
	assert.Equal(t, store.RoleUser, turns[0].Role)
	assert.Equal(t, "I feel tense today", turns[0].Content)
	assert.InDelta(t, 0.7, turns[0].Emotions["Anxiety"], 1e-9)
	assert.Equal(t, store.RoleAssistant, turns[1].Role)
	assert.Nil(t, turns[1].Emotions)

	<-sess.Done()
	assert.NoError(t, sess.Err())
	assert.NoError(t, sess.Close())
}

func TestSession_ErrorFrameRecorded(t *testing.T) {
	url := newEVIServer(t, func(_ *http.Request, conn *websocket.Conn) {
		writeMetadata(conn)
		_ = conn.WriteJSON(map[string]any{"type": "error", "code": "I0100", "message": "quota exceeded"})
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	})

	c := newConnector(t, url, nil)
	conn, err := c.Connect(context.Background(), bridge.Request{ConfigID: "cfg", AccessToken: "tok"})
	require.NoError(t, err)
	sess := conn.(*Session)

	<-sess.Done()
	var pe *ProviderError
	require.ErrorAs(t, sess.Err(), &pe)
	assert.Equal(t, "quota exceeded", pe.Message)
}

func TestSession_SendTextAndClose(t *testing.T) {
	received := make(chan map[string]string, 1)
	url := newEVIServer(t, func(_ *http.Request, conn *websocket.Conn) {
		writeMetadata(conn)
		var msg map[string]string
		if err := conn.ReadJSON(&msg); err == nil {
			received <- msg
		}
		_, _, _ = conn.ReadMessage()
	})

	c := newConnector(t, url, nil)
	conn, err := c.Connect(context.Background(), bridge.Request{ConfigID: "cfg", AccessToken: "tok"})
	require.NoError(t, err)
	sess := conn.(*Session)

	assert.Error(t, sess.SendText("   "))
	require.NoError(t, sess.SendText("hello"))
	assert.Equal(t, map[string]string{"type": "user_input", "text": "hello"}, <-received)

	require.NoError(t, sess.Close())
	require.NoError(t, sess.Close())
	assert.Error(t, sess.SendText("late"))
	_, open := <-sess.Turns()
	assert.False(t, open)
}

func TestNewConnector_Validation(t *testing.T) {
	_, err := NewConnector(ConnectorConfig{})
	assert.EqualError(t, err, "logger is required")

	_, err = NewConnector(ConnectorConfig{ChatURL: "https://api.hume.ai/v0/evi/chat", Logger: logging.NewNop()})
	assert.Error(t, err)

	c, err := NewConnector(ConnectorConfig{Logger: logging.NewNop()})
	require.NoError(t, err)
	assert.Equal(t, DefaultChatURL, c.chatURL.String())
}

func TestNewTokenSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "key" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "evi-token", "token_type": "Bearer", "expires_in": 1800})
	}))
	defer srv.Close()

	ts, err := NewTokenSource(context.Background(), TokenConfig{APIKey: "key", SecretKey: "secret", TokenURL: srv.URL})
	require.NoError(t, err)
	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "evi-token", tok.AccessToken)

	_, err = NewTokenSource(context.Background(), TokenConfig{APIKey: "key"})
	assert.Error(t, err)
}

type blockingTokens struct {
	release chan struct{}
}

func (b blockingTokens) Token() (*oauth2.Token, error) {
	<-b.release
	return &oauth2.Token{AccessToken: "late"}, nil
}

func TestConnect_TokenFetchHonorsContext(t *testing.T) {
	tokens := blockingTokens{release: make(chan struct{})}
	defer close(tokens.release)
	c := newConnector(t, "ws://127.0.0.1:1/v0/evi/chat", tokens)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := c.Connect(ctx, bridge.Request{ConfigID: "cfg"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}
