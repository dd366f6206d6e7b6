package analytics

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/J3rah/talkai-monorepo-sub002/internal/backend"
	"github.com/J3rah/talkai-monorepo-sub002/internal/events"
	"github.com/J3rah/talkai-monorepo-sub002/internal/logging"
	"github.com/J3rah/talkai-monorepo-sub002/internal/redact"
	"github.com/J3rah/talkai-monorepo-sub002/internal/retry"
	"github.com/J3rah/talkai-monorepo-sub002/internal/store"
	"github.com/J3rah/talkai-monorepo-sub002/internal/tier"
)

const instrumentationName = "github.com/J3rah/talkai-monorepo-sub002/internal/analytics"

var (
	// ErrForbidden is returned when a session belongs to another user.
	ErrForbidden = errors.New("analytics: session belongs to another user")
	// ErrNoFeedback is returned when saving an empty set of notes.
	ErrNoFeedback = errors.New("analytics: no feedback notes to save")
)

// Outcome says which branch a summary took.
type Outcome string

const (
	OutcomeUnpersisted Outcome = "unpersisted"
	OutcomeGated       Outcome = "gated"
	OutcomeNoData      Outcome = "no_data"
	OutcomeComplete    Outcome = "complete"
)

// Completion messages.
const (
	MessageComplete    = "Session complete. Thank you for taking this time for yourself."
	MessageUpgrade     = "Upgrade your plan to see emotion insights from your sessions."
	MessageNoData      = "No conversation data was recorded for this session."
	MessageDetailReady = "Here is how your session went."
)

// FeedbackGenerator turns a transcript into short notes.
type FeedbackGenerator interface {
	GenerateFeedback(ctx context.Context, turns []backend.Turn) ([]string, error)
}

// JournalWriter stores a journal entry and returns its id.
type JournalWriter interface {
	CreateJournalEntry(ctx context.Context, content string) (string, error)
}

// Config configures a Service.
type Config struct {
	Store     store.Store
	Feedback  FeedbackGenerator
	Journal   JournalWriter
	Scrubber  redact.Scrubber
	Publisher events.Publisher
	Logger    *logging.Logger

	ProfileRetry     retry.Policy
	MessageRetry     retry.Policy
	NoSessionDelay   time.Duration
	FeedbackMaxTurns int
}

// DefaultConfig returns the production retry budgets.
func DefaultConfig() Config {
	return Config{
		ProfileRetry:     retry.Policy{Attempts: 3, Delay: 300 * time.Millisecond},
		MessageRetry:     retry.Policy{Attempts: 3, Delay: 1500 * time.Millisecond},
		NoSessionDelay:   time.Second,
		FeedbackMaxTurns: 100,
	}
}

// Request describes a session that just ended. Trial only applies when
// there is no SessionID.
type Request struct {
	UserID          string         `json:"-"`
	Trial           bool           `json:"trial"`
	DurationSeconds int            `json:"duration_seconds"`
	SessionID       string         `json:"session_id,omitempty"`
	Transcript      []backend.Turn `json:"transcript,omitempty"`
}

// Summary is what the completion panel renders.
type Summary struct {
	DurationSeconds int           `json:"duration_seconds"`
	SessionID       string        `json:"session_id,omitempty"`
	Tier            tier.Tier     `json:"tier"`
	Outcome         Outcome       `json:"outcome"`
	UpgradePrompt   bool          `json:"upgrade_prompt"`
	Message         string        `json:"message"`
	Stats           *SessionStats `json:"stats"`
	Feedback        []string      `json:"feedback"`
}

// Service builds summaries and saves feedback.
type Service struct {
	cfg     Config
	logger  *logging.Logger
	tracer  trace.Tracer
	metrics *Metrics
}

// NewService validates cfg. Feedback, Journal, Scrubber and Publisher are
// optional.
func NewService(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if err := cfg.ProfileRetry.Validate(); err != nil {
		return nil, fmt.Errorf("profile retry: %w", err)
	}
	if err := cfg.MessageRetry.Validate(); err != nil {
		return nil, fmt.Errorf("message retry: %w", err)
	}
	if cfg.FeedbackMaxTurns <= 0 {
		cfg.FeedbackMaxTurns = 100
	}
	if cfg.Scrubber == nil {
		cfg.Scrubber = redact.Nop{}
	}
	if cfg.Publisher == nil {
		cfg.Publisher = events.Nop{}
	}
	return &Service{
		cfg:     cfg,
		logger:  cfg.Logger,
		tracer:  otel.Tracer(instrumentationName),
		metrics: NewMetrics(),
	}, nil
}

// Summarize builds the completion panel for req.
func (s *Service) Summarize(ctx context.Context, req Request) (Summary, error) {
	ctx, span := s.tracer.Start(ctx, "analytics.Summarize", trace.WithAttributes(
		attribute.Bool("persisted", req.SessionID != ""),
		attribute.Int("transcript.turns", len(req.Transcript)),
	))
	defer span.End()

	sum := Summary{DurationSeconds: req.DurationSeconds, SessionID: req.SessionID, Feedback: []string{}}

	if req.SessionID == "" {
		if err := sleep(ctx, s.cfg.NoSessionDelay); err != nil {
			return Summary{}, err
		}
		sum.Tier = tier.Effective(tier.Lowest, req.Trial)
		sum.Outcome = OutcomeUnpersisted
		sum.Message = MessageComplete
		sum.Feedback = s.generateFeedback(ctx, req.Transcript)
		return s.done(sum), nil
	}

	// a persisted session is gated on the stored subscription only
	ctx = logging.WithChatSessionID(ctx, req.SessionID)
	sum.Tier = s.ResolveTier(ctx, req.UserID, false)
	if !tier.ShowsAnalytics(sum.Tier) {
		sum.Outcome = OutcomeGated
		sum.UpgradePrompt = true
		sum.Message = MessageUpgrade
		return s.done(sum), nil
	}

	session, err := s.cfg.Store.GetSession(ctx, req.SessionID)
	if err != nil {
		return Summary{}, fmt.Errorf("loading session: %w", err)
	}
	if session.UserID != req.UserID {
		return Summary{}, ErrForbidden
	}

	messages, err := retry.NonEmpty(ctx, s.cfg.MessageRetry, func(ctx context.Context) ([]store.Message, error) {
		return s.cfg.Store.ListMessages(ctx, req.SessionID)
	}, func(attempt int, err error) {
		s.logger.Debug(ctx, "session messages not readable yet", zap.Int("attempt", attempt), zap.Error(err))
	})
	if err != nil {
		if ctx.Err() != nil {
			return Summary{}, ctx.Err()
		}
		if !errors.Is(err, retry.ErrEmpty) {
			s.logger.Warn(ctx, "listing session messages failed", zap.Error(err))
		}
		sum.Outcome = OutcomeNoData
		sum.Message = MessageNoData
		sum.Feedback = s.generateFeedback(ctx, req.Transcript)
		return s.done(sum), nil
	}

	metrics, err := s.cfg.Store.ListEmotionMetrics(ctx, req.SessionID)
	if err != nil {
		s.logger.Warn(ctx, "listing emotion metrics failed", zap.Error(err))
		metrics = nil
	}

	stats := Aggregate(messages, metrics)
	sum.Stats = &stats
	sum.Outcome = OutcomeComplete
	sum.Message = MessageDetailReady

	turns := req.Transcript
	if len(turns) == 0 {
		turns = TurnsFromMessages(messages)
	}
	sum.Feedback = s.generateFeedback(ctx, turns)
	return s.done(sum), nil
}

func (s *Service) done(sum Summary) Summary {
	s.metrics.SummariesTotal.WithLabelValues(string(sum.Outcome)).Inc()
	return sum
}

// ResolveTier reads the profile with retry. Any failure resolves to the
// lowest tier. Trial sessions get the highest tier without a read.
func (s *Service) ResolveTier(ctx context.Context, userID string, trial bool) tier.Tier {
	if trial {
		return tier.Effective(tier.Lowest, true)
	}
	if userID == "" {
		return tier.Lowest
	}
	profile, err := retry.Do(ctx, s.cfg.ProfileRetry, func(ctx context.Context) (store.Profile, error) {
		return s.cfg.Store.GetProfile(ctx, userID)
	}, nil)
	if err != nil {
		s.logger.Warn(ctx, "profile fetch failed, using lowest tier", zap.Error(err))
		return tier.Lowest
	}
	return tier.Effective(tier.Parse(profile.SubscriptionStatus), false)
}

// generateFeedback never fails: any error yields an empty list.
func (s *Service) generateFeedback(ctx context.Context, turns []backend.Turn) []string {
	if s.cfg.Feedback == nil || len(turns) == 0 {
		return []string{}
	}
	if len(turns) > s.cfg.FeedbackMaxTurns {
		turns = turns[len(turns)-s.cfg.FeedbackMaxTurns:]
	}

	contents := make([]string, len(turns))
	for i, t := range turns {
		contents[i] = t.Content
	}
	scrubbed, err := s.cfg.Scrubber.Scrub(contents)
	if err != nil {
		s.logger.Warn(ctx, "transcript scrubbing failed, skipping feedback", zap.Error(err))
		s.metrics.FeedbackTotal.WithLabelValues("scrub_error").Inc()
		return []string{}
	}
	if scrubbed.Findings > 0 {
		s.logger.Info(ctx, "transcript scrubbed before feedback", zap.Int("findings", scrubbed.Findings))
	}
	out := make([]backend.Turn, len(turns))
	for i, t := range turns {
		out[i] = backend.Turn{Role: t.Role, Content: scrubbed.Texts[i]}
	}

	notes, err := s.cfg.Feedback.GenerateFeedback(ctx, out)
	if err != nil {
		s.logger.Warn(ctx, "feedback generation failed", zap.Error(err))
		s.metrics.FeedbackTotal.WithLabelValues("error").Inc()
		return []string{}
	}
	s.metrics.FeedbackTotal.WithLabelValues("ok").Inc()
	if notes == nil {
		return []string{}
	}
	return notes
}

// TurnsFromMessages converts stored rows to transcript turns.
func TurnsFromMessages(messages []store.Message) []backend.Turn {
	out := make([]backend.Turn, 0, len(messages))
	for _, m := range messages {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		out = append(out, backend.Turn{Role: m.Role, Content: m.Content})
	}
	return out
}

// SaveRequest asks to keep feedback notes as a journal entry.
type SaveRequest struct {
	UserID    string   `json:"-"`
	SessionID string   `json:"session_id,omitempty"`
	Notes     []string `json:"notes"`
}

// SaveResult reports the new entry. Linked is false when the entry could
// not be attached to the session; the entry still exists.
type SaveResult struct {
	EntryID string `json:"entry_id"`
	Linked  bool   `json:"linked"`
}

// SaveFeedback creates a journal entry and best-effort links it to the
// session.
func (s *Service) SaveFeedback(ctx context.Context, req SaveRequest) (SaveResult, error) {
	if s.cfg.Journal == nil {
		return SaveResult{}, errors.New("journal writer is not configured")
	}
	content := FormatJournal(req.Notes)
	if content == "" {
		return SaveResult{}, ErrNoFeedback
	}
	if req.SessionID != "" {
		session, err := s.cfg.Store.GetSession(ctx, req.SessionID)
		if err != nil {
			return SaveResult{}, fmt.Errorf("loading session: %w", err)
		}
		if session.UserID != req.UserID {
			return SaveResult{}, ErrForbidden
		}
	}

	id, err := s.cfg.Journal.CreateJournalEntry(ctx, content)
	if err != nil {
		s.metrics.JournalTotal.WithLabelValues("error").Inc()
		return SaveResult{}, fmt.Errorf("creating journal entry: %w", err)
	}
	res := SaveResult{EntryID: id}

	if req.SessionID != "" {
		if err := s.cfg.Store.LinkJournalEntry(ctx, req.SessionID, id); err != nil {
			s.logger.Warn(ctx, "linking journal entry to session failed",
				zap.String("journal_entry.id", id), zap.Error(err))
		} else {
			res.Linked = true
		}
	}
	s.metrics.JournalTotal.WithLabelValues("ok").Inc()

	ev := events.New(events.KindFeedbackSaved, req.UserID, req.SessionID, map[string]any{
		"journal_entry_id": id,
		"linked":           res.Linked,
		"notes":            len(req.Notes),
	})
	if err := s.cfg.Publisher.PublishSession(ctx, ev); err != nil {
		s.logger.Warn(ctx, "publishing feedback event failed", zap.Error(err))
	}
	return res, nil
}

// FormatJournal renders notes as a bulleted entry. Blank notes are dropped.
func FormatJournal(notes []string) string {
	var b strings.Builder
	for _, n := range notes {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if b.Len() == 0 {
			b.WriteString("Session reflections\n\n")
		}
		b.WriteString("- ")
		b.WriteString(n)
		b.WriteString("\n")
	}
	return b.String()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
