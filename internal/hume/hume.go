// Package hume connects to the Hume EVI chat websocket and turns its
// message frames into transcript turns.
package hume

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/J3rah/talkai-monorepo-sub002/internal/bridge"
	"github.com/J3rah/talkai-monorepo-sub002/internal/logging"
)

// DefaultChatURL is the EVI chat endpoint.
const DefaultChatURL = "wss://api.hume.ai/v0/evi/chat"

const (
	metadataTimeout = 15 * time.Second
	closeGrace      = 2 * time.Second
	turnBuffer      = 256
)

// ErrNoToken is returned when a request carries no access token and the
// connector has no token source.
var ErrNoToken = errors.New("hume: access token is required")

// ConnectorConfig configures a Connector.
type ConnectorConfig struct {
	ChatURL string
	// Tokens mints access tokens for requests that carry none.
	Tokens oauth2.TokenSource
	Logger *logging.Logger
	Dialer *websocket.Dialer
}

// Connector dials EVI. It implements bridge.Connector.
type Connector struct {
	chatURL *url.URL
	tokens  oauth2.TokenSource
	logger  *logging.Logger
	dialer  *websocket.Dialer
	metrics *Metrics
}

var _ bridge.Connector = (*Connector)(nil)

// NewConnector validates cfg.
func NewConnector(cfg ConnectorConfig) (*Connector, error) {
	if cfg.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if cfg.ChatURL == "" {
		cfg.ChatURL = DefaultChatURL
	}
	u, err := url.Parse(cfg.ChatURL)
	if err != nil {
		return nil, fmt.Errorf("parsing chat url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("chat url must be ws or wss, got %q", u.Scheme)
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	return &Connector{
		chatURL: u,
		tokens:  cfg.Tokens,
		logger:  cfg.Logger,
		dialer:  cfg.Dialer,
		metrics: NewMetrics(),
	}, nil
}

type tokenResult struct {
	tok *oauth2.Token
	err error
}

// token fetches from the token source but stops waiting when ctx ends.
// oauth2.TokenSource has no context; an abandoned fetch finishes in the
// background and refills the source's cache.
func (c *Connector) token(ctx context.Context) (*oauth2.Token, error) {
	done := make(chan tokenResult, 1)
	go func() {
		tok, err := c.tokens.Token()
		done <- tokenResult{tok: tok, err: err}
	}()
	select {
	case res := <-done:
		return res.tok, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Connect opens the socket and waits for chat_metadata. ctx bounds both the
// dial and the wait.
func (c *Connector) Connect(ctx context.Context, req bridge.Request) (bridge.Connection, error) {
	token := req.AccessToken
	if token == "" {
		if c.tokens == nil {
			return nil, ErrNoToken
		}
		tok, err := c.token(ctx)
		if err != nil {
			c.metrics.DialsTotal.WithLabelValues("token_error").Inc()
			return nil, fmt.Errorf("fetching hume access token: %w", err)
		}
		token = tok.AccessToken
	}

	u := *c.chatURL
	q := u.Query()
	q.Set("config_id", req.ConfigID)
	q.Set("access_token", token)
	u.RawQuery = q.Encode()

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		c.metrics.DialsTotal.WithLabelValues("dial_error").Inc()
		if resp != nil {
			return nil, fmt.Errorf("hume dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("hume dial failed: %w", err)
	}

	deadline := time.Now().Add(metadataTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)
	meta, err := c.awaitMetadata(conn)
	if err != nil {
		c.metrics.DialsTotal.WithLabelValues("handshake_error").Inc()
		_ = conn.Close()
		return nil, err
	}
	_ = conn.SetReadDeadline(time.Time{})

	c.metrics.DialsTotal.WithLabelValues("ok").Inc()
	s := &Session{
		conn:        conn,
		chatID:      meta.ChatID,
		chatGroupID: meta.ChatGroupID,
		logger:      c.logger,
		metrics:     c.metrics,
		turns:       make(chan Turn, turnBuffer),
		closing:     make(chan struct{}),
		done:        make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

func (c *Connector) awaitMetadata(conn *websocket.Conn) (*envelope, error) {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("reading chat metadata: %w", err)
		}
		if mt != websocket.TextMessage {
			continue
		}
		d, err := decodeFrame(data, time.Now())
		if err != nil {
			return nil, err
		}
		c.metrics.FramesTotal.WithLabelValues(d.kind).Inc()
		switch {
		case d.err != nil:
			return nil, d.err
		case d.meta != nil:
			return d.meta, nil
		}
	}
}

// Session is a live EVI chat. It implements bridge.Connection.
type Session struct {
	conn        *websocket.Conn
	chatID      string
	chatGroupID string
	logger      *logging.Logger
	metrics     *Metrics

	writeMu   sync.Mutex
	turns     chan Turn
	closing   chan struct{}
	closeOnce sync.Once
	done      chan struct{}

	errMu sync.Mutex
	err   error
}

// ChatID is the provider's chat id.
func (s *Session) ChatID() string { return s.chatID }

// ChatGroupID is the provider's chat group id.
func (s *Session) ChatGroupID() string { return s.chatGroupID }

// Turns delivers transcript turns in arrival order. It is closed when the
// socket ends.
func (s *Session) Turns() <-chan Turn { return s.turns }

// Done is closed when the read loop exits.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the first error the session saw, if any.
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// SendText sends a typed user message.
func (s *Session) SendText(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("hume: text is empty")
	}
	select {
	case <-s.closing:
		return errors.New("hume: session is closed")
	default:
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(map[string]string{"type": "user_input", "text": text})
}

// Close ends the chat and waits for the read loop to exit.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.closing)
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(closeGrace))
		s.writeMu.Unlock()
		_ = s.conn.Close()
	})
	<-s.done
	return nil
}

func (s *Session) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *Session) readLoop() {
	defer close(s.done)
	defer close(s.turns)

	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.closing:
				return
			default:
			}
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.setErr(err)
				s.logger.Warn(context.Background(), "hume socket closed", zap.String("chat_id", s.chatID), zap.Error(err))
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}

		d, err := decodeFrame(data, time.Now())
		if err != nil {
			s.logger.Warn(context.Background(), "skipping malformed hume frame", zap.Error(err))
			continue
		}
		s.metrics.FramesTotal.WithLabelValues(d.kind).Inc()

		switch {
		case d.err != nil:
			s.setErr(d.err)
			s.logger.Error(context.Background(), "hume reported an error",
				zap.String("chat_id", s.chatID), zap.String("code", d.err.Code), zap.String("error", d.err.Message))
		case d.turn != nil:
			if d.turn.Content == "" {
				continue
			}
			select {
			case s.turns <- *d.turn:
			case <-s.closing:
				return
			}
		}
	}
}
