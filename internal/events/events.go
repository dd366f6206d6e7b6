// Package events publishes session and agent lifecycle events to NATS.
//
// Subjects follow <prefix>.sessions.<user>.<kind> and <prefix>.agent.toggled.
// Payloads are JSON encoded Event values.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/J3rah/talkai-monorepo-sub002/internal/logging"
)

// Event kinds.
const (
	KindSessionStarted = "started"
	KindSessionEnded   = "ended"
	KindFeedbackSaved  = "feedback_saved"
	KindAgentToggled   = "toggled"
)

// Event is a published lifecycle change.
type Event struct {
	ID         string         `json:"id"`
	Kind       string         `json:"kind"`
	UserID     string         `json:"user_id,omitempty"`
	SessionID  string         `json:"session_id,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	Data       map[string]any `json:"data,omitempty"`
}

// New stamps an event with an id and time.
func New(kind, userID, sessionID string, data map[string]any) Event {
	return Event{
		ID:         uuid.NewString(),
		Kind:       kind,
		UserID:     userID,
		SessionID:  sessionID,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}
}

// Publisher sends events.
type Publisher interface {
	// PublishSession sends e on the owning user's session subject.
	PublishSession(ctx context.Context, e Event) error
	// PublishAgent sends e on the agent subject.
	PublishAgent(ctx context.Context, e Event) error
	Close()
}

// Subjects builds subject names under a prefix.
type Subjects struct {
	Prefix string
}

// Session returns <prefix>.sessions.<user>.<kind>. Anonymous users publish
// under "anonymous".
func (s Subjects) Session(userID, kind string) string {
	if userID == "" {
		userID = "anonymous"
	}
	return fmt.Sprintf("%s.sessions.%s.%s", s.Prefix, token(userID), token(kind))
}

// Agent returns <prefix>.agent.<kind>.
func (s Subjects) Agent(kind string) string {
	return fmt.Sprintf("%s.agent.%s", s.Prefix, token(kind))
}

// token keeps a value inside one subject token.
func token(v string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, v)
}

// NATSConfig configures a NATS publisher.
type NATSConfig struct {
	URL           string
	SubjectPrefix string
	Logger        *logging.Logger
}

// NATSPublisher publishes over core NATS.
type NATSPublisher struct {
	nc       *nats.Conn
	subjects Subjects
	logger   *logging.Logger
}

// Connect dials NATS, retrying in the background if the server is down.
func Connect(cfg NATSConfig) (*NATSPublisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("nats url is required")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "talkai"
	}

	logger := cfg.Logger
	nc, err := nats.Connect(cfg.URL,
		nats.Name("talkd"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn(context.Background(), "nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info(context.Background(), "nats reconnected", zap.String("url", c.ConnectedUrlRedacted()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats at %s: %w", cfg.URL, err)
	}
	return &NATSPublisher{nc: nc, subjects: Subjects{Prefix: cfg.SubjectPrefix}, logger: logger}, nil
}

func (p *NATSPublisher) PublishSession(ctx context.Context, e Event) error {
	return p.publish(ctx, p.subjects.Session(e.UserID, e.Kind), e)
}

func (p *NATSPublisher) PublishAgent(ctx context.Context, e Event) error {
	return p.publish(ctx, p.subjects.Agent(e.Kind), e)
}

func (p *NATSPublisher) publish(ctx context.Context, subject string, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	p.logger.Debug(ctx, "event published", zap.String("subject", subject), zap.String("event.id", e.ID))
	return nil
}

const defaultFlushTimeout = 5 * time.Second

// Flush waits until the server has processed every buffered event. A ctx
// without a deadline is bounded by defaultFlushTimeout.
func (p *NATSPublisher) Flush(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultFlushTimeout)
		defer cancel()
	}
	if err := p.nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

// Close drains buffered events and closes the connection.
func (p *NATSPublisher) Close() {
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
	}
}

// Nop discards every event.
type Nop struct{}

func (Nop) PublishSession(context.Context, Event) error { return nil }
func (Nop) PublishAgent(context.Context, Event) error   { return nil }
func (Nop) Close()                                      {}

var (
	_ Publisher = (*NATSPublisher)(nil)
	_ Publisher = Nop{}
)
