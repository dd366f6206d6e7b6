package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/J3rah/talkai-monorepo-sub002/internal/voice"
)

// Memory is an in-process Store.
type Memory struct {
	mu       sync.RWMutex
	profiles map[string]Profile
	voices   []voice.Configuration
	sessions map[string]ChatSession
	messages map[string][]Message
	metrics  map[string][]EmotionMetric
	now      func() time.Time
}

// NewMemory returns an empty store serving voices as its catalog.
func NewMemory(voices []voice.Configuration) *Memory {
	return &Memory{
		profiles: make(map[string]Profile),
		voices:   append([]voice.Configuration(nil), voices...),
		sessions: make(map[string]ChatSession),
		messages: make(map[string][]Message),
		metrics:  make(map[string][]EmotionMetric),
		now:      time.Now,
	}
}

// PutProfile inserts or replaces a profile.
func (m *Memory) PutProfile(p Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.ID] = p
}

func (m *Memory) ListVoiceConfigurations(ctx context.Context) ([]voice.Configuration, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]voice.Configuration(nil), m.voices...), nil
}

func (m *Memory) GetProfile(ctx context.Context, userID string) (Profile, error) {
	if err := ctx.Err(); err != nil {
		return Profile{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[userID]
	if !ok {
		return Profile{}, fmt.Errorf("profile %s: %w", userID, ErrNotFound)
	}
	return p, nil
}

func (m *Memory) SavePreferences(ctx context.Context, userID string, prefs Preferences) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return fmt.Errorf("profile %s: %w", userID, ErrNotFound)
	}
	p.VoiceConfigID = prefs.VoiceConfigID
	p.TherapistName = prefs.TherapistName
	p.DataSaving = prefs.DataSaving
	p.UpdatedAt = m.now()
	m.profiles[userID] = p
	return nil
}

func (m *Memory) CreateSession(ctx context.Context, s ChatSession) (ChatSession, error) {
	if err := ctx.Err(); err != nil {
		return ChatSession{}, err
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.StartedAt.IsZero() {
		s.StartedAt = m.now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[s.ID]; exists {
		return ChatSession{}, fmt.Errorf("session %s already exists", s.ID)
	}
	m.sessions[s.ID] = s
	return s, nil
}

func (m *Memory) GetSession(ctx context.Context, id string) (ChatSession, error) {
	if err := ctx.Err(); err != nil {
		return ChatSession{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return ChatSession{}, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return s, nil
}

func (m *Memory) EndSession(ctx context.Context, id string, endedAt time.Time, durationSeconds int) error {
	return m.updateSession(ctx, id, func(s *ChatSession) {
		s.EndedAt = &endedAt
		s.DurationSeconds = durationSeconds
	})
}

func (m *Memory) LinkJournalEntry(ctx context.Context, sessionID, entryID string) error {
	return m.updateSession(ctx, sessionID, func(s *ChatSession) {
		s.JournalEntryID = entryID
	})
}

func (m *Memory) updateSession(ctx context.Context, id string, fn func(*ChatSession)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	fn(&s)
	m.sessions[id] = s
	return nil
}

func (m *Memory) AppendMessage(ctx context.Context, msg Message, metrics []EmotionMetric) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = m.now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[msg.SessionID]; !ok {
		return Message{}, fmt.Errorf("session %s: %w", msg.SessionID, ErrNotFound)
	}
	m.messages[msg.SessionID] = append(m.messages[msg.SessionID], msg)
	for _, em := range metrics {
		em.SessionID = msg.SessionID
		em.MessageID = msg.ID
		if em.CreatedAt.IsZero() {
			em.CreatedAt = msg.CreatedAt
		}
		m.metrics[msg.SessionID] = append(m.metrics[msg.SessionID], em)
	}
	return msg, nil
}

func (m *Memory) ListMessages(ctx context.Context, sessionID string) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	out := append([]Message(nil), m.messages[sessionID]...)
	m.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ListEmotionMetrics(ctx context.Context, sessionID string) ([]EmotionMetric, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]EmotionMetric(nil), m.metrics[sessionID]...), nil
}

func (m *Memory) Close() {}

var _ Store = (*Memory)(nil)
