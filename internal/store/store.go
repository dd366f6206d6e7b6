// Package store persists profiles, voice configurations and chat sessions.
//
// Two implementations share the Store interface: Postgres for the hosted
// database and Memory for local runs and tests.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/J3rah/talkai-monorepo-sub002/internal/voice"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("store: not found")

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Profile is the per-user row read by tier gating and saved preferences.
type Profile struct {
	ID                 string    `json:"id"`
	SubscriptionStatus string    `json:"subscription_status"`
	VoiceConfigID      string    `json:"voice_config_id,omitempty"`
	TherapistName      string    `json:"therapist_name,omitempty"`
	DataSaving         bool      `json:"data_saving_preference"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// HasPreferences reports whether a previous run saved defaults.
func (p Profile) HasPreferences() bool {
	return p.VoiceConfigID != "" && p.TherapistName != ""
}

// Preferences are the wizard answers kept for the next session.
type Preferences struct {
	VoiceConfigID string
	TherapistName string
	DataSaving    bool
}

// ChatSession is one voice conversation.
type ChatSession struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	VoiceConfigID   string     `json:"voice_config_id"`
	TherapistName   string     `json:"therapist_name"`
	DataSaving      bool       `json:"data_saving"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	DurationSeconds int        `json:"duration_seconds"`
	JournalEntryID  string     `json:"journal_entry_id,omitempty"`
}

// Message is a transcript turn. Emotions holds the prosody scores, keyed by
// label, when the voice provider sent any.
type Message struct {
	ID        string             `json:"id"`
	SessionID string             `json:"session_id"`
	Role      string             `json:"role"`
	Content   string             `json:"content"`
	Emotions  map[string]float64 `json:"emotion_data,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
}

// EmotionMetric is one scored emotion for one message.
type EmotionMetric struct {
	SessionID   string    `json:"session_id"`
	MessageID   string    `json:"message_id"`
	EmotionType string    `json:"emotion_type"`
	Intensity   float64   `json:"intensity"`
	Confidence  float64   `json:"confidence"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store is the persistence boundary.
type Store interface {
	voice.Source

	GetProfile(ctx context.Context, userID string) (Profile, error)
	SavePreferences(ctx context.Context, userID string, prefs Preferences) error

	CreateSession(ctx context.Context, s ChatSession) (ChatSession, error)
	GetSession(ctx context.Context, id string) (ChatSession, error)
	EndSession(ctx context.Context, id string, endedAt time.Time, durationSeconds int) error
	LinkJournalEntry(ctx context.Context, sessionID, entryID string) error

	// AppendMessage stores m and its metrics in one write.
	AppendMessage(ctx context.Context, m Message, metrics []EmotionMetric) (Message, error)
	ListMessages(ctx context.Context, sessionID string) ([]Message, error)
	ListEmotionMetrics(ctx context.Context, sessionID string) ([]EmotionMetric, error)

	Close()
}

// MetricsFromEmotions expands a score map into metric rows. Confidence is
// not reported by the prosody model, so the score doubles as confidence.
func MetricsFromEmotions(m Message) []EmotionMetric {
	if len(m.Emotions) == 0 {
		return nil
	}
	out := make([]EmotionMetric, 0, len(m.Emotions))
	for label, score := range m.Emotions {
		out = append(out, EmotionMetric{
			SessionID:   m.SessionID,
			MessageID:   m.ID,
			EmotionType: label,
			Intensity:   score,
			Confidence:  score,
			CreatedAt:   m.CreatedAt,
		})
	}
	return out
}
