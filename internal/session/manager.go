// Package session holds onboarding flows and their live voice sessions.
//
// A Manager is the typed application-state store: every flow is keyed by
// id and owned by one user, and the handoff from the wizard to the live
// session is an explicit value rather than shared mutable state.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/J3rah/talkai-monorepo-sub002/internal/backend"
	"github.com/J3rah/talkai-monorepo-sub002/internal/bridge"
	"github.com/J3rah/talkai-monorepo-sub002/internal/events"
	"github.com/J3rah/talkai-monorepo-sub002/internal/hume"
	"github.com/J3rah/talkai-monorepo-sub002/internal/logging"
	"github.com/J3rah/talkai-monorepo-sub002/internal/store"
	"github.com/J3rah/talkai-monorepo-sub002/internal/tier"
	"github.com/J3rah/talkai-monorepo-sub002/internal/voice"
	"github.com/J3rah/talkai-monorepo-sub002/internal/wizard"
)

var (
	// ErrNotFound is returned for unknown flows and flows owned by someone else.
	ErrNotFound = errors.New("session: flow not found")
	// ErrTrialRequired is returned when an anonymous caller starts a paid flow.
	ErrTrialRequired = errors.New("session: anonymous flows must be trial sessions")
	// ErrNotConnected is returned by Handoff and End before the flow connected.
	ErrNotConnected = errors.New("session: flow has no live session")
	// ErrNoPreferences is returned when there are no usable saved defaults.
	ErrNoPreferences = errors.New("session: no saved preferences")
	// ErrUnknownVoice is returned when a voice outside the flow's catalog is selected.
	ErrUnknownVoice = errors.New("session: voice not in catalog")
	// ErrManagedEvent is returned when a caller sends a connection event directly.
	ErrManagedEvent = errors.New("session: connection events are issued by Connect")
)

// TierResolver resolves a user's tier. analytics.Service implements it.
type TierResolver interface {
	ResolveTier(ctx context.Context, userID string, trial bool) tier.Tier
}

// CatalogLoader loads the voice catalog. voice.Loader implements it.
type CatalogLoader interface {
	Load(ctx context.Context, userTier tier.Tier, trial bool) voice.Result
}

// TurnSource is a connection that streams transcript turns.
type TurnSource interface {
	Turns() <-chan hume.Turn
}

// Config configures a Manager.
type Config struct {
	Store     store.Store
	Tiers     TierResolver
	Catalog   CatalogLoader
	Connector bridge.Connector
	Publisher events.Publisher
	Logger    *logging.Logger

	ConnectTimeout time.Duration
	// TrialTimeout of zero leaves trial connects without a client deadline.
	TrialTimeout time.Duration
	// IdleTTL of zero disables reaping.
	IdleTTL time.Duration
	Now     func() time.Time
}

// Handoff is what the live session view needs from the wizard.
type Handoff struct {
	FlowID           string    `json:"flow_id"`
	ChatSessionID    string    `json:"chat_session_id,omitempty"`
	ProviderChatID   string    `json:"provider_chat_id,omitempty"`
	VoiceID          string    `json:"voice_id"`
	ProviderConfigID string    `json:"provider_config_id"`
	VoiceName        string    `json:"voice_name"`
	TherapistName    string    `json:"therapist_name"`
	DataSaving       bool      `json:"data_saving"`
	Trial            bool      `json:"trial"`
	StartedAt        time.Time `json:"started_at"`
}

// Snapshot is a read-only copy of a flow.
type Snapshot struct {
	ID         string        `json:"id"`
	Wizard     wizard.View   `json:"wizard"`
	Catalog    voice.Result  `json:"catalog"`
	Connection bridge.Status `json:"connection"`
	View       bridge.View   `json:"view"`
	Handoff    *Handoff      `json:"handoff,omitempty"`
	Turns      int           `json:"turns"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// Ended is the result of End.
type Ended struct {
	Handoff         Handoff        `json:"handoff"`
	DurationSeconds int            `json:"duration_seconds"`
	Transcript      []backend.Turn `json:"transcript"`
}

type flow struct {
	id     string
	userID string

	mu         sync.Mutex
	state      wizard.State
	catalog    voice.Result
	bridge     *bridge.Bridge
	handoff    *Handoff
	transcript []backend.Turn
	recorded   chan struct{}
	ending     bool
	updatedAt  time.Time
}

// Manager owns every flow in the process. Safe for concurrent use.
type Manager struct {
	cfg     Config
	logger  *logging.Logger
	metrics *Metrics
	now     func() time.Time

	mu    sync.Mutex
	flows map[string]*flow
}

// NewManager validates cfg.
func NewManager(cfg Config) (*Manager, error) {
	switch {
	case cfg.Store == nil:
		return nil, errors.New("store is required")
	case cfg.Tiers == nil:
		return nil, errors.New("tier resolver is required")
	case cfg.Catalog == nil:
		return nil, errors.New("catalog loader is required")
	case cfg.Connector == nil:
		return nil, errors.New("connector is required")
	case cfg.Logger == nil:
		return nil, errors.New("logger is required")
	}
	if cfg.ConnectTimeout < 0 || cfg.TrialTimeout < 0 || cfg.IdleTTL < 0 {
		return nil, errors.New("timeouts cannot be negative")
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = bridge.DefaultTimeout
	}
	if cfg.Publisher == nil {
		cfg.Publisher = events.Nop{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		cfg:     cfg,
		logger:  cfg.Logger,
		metrics: NewMetrics(),
		now:     now,
		flows:   make(map[string]*flow),
	}, nil
}

// Create starts a flow for userID. An empty userID is an anonymous caller
// and must be a trial.
func (m *Manager) Create(ctx context.Context, userID string, trial bool) (Snapshot, error) {
	if userID == "" && !trial {
		return Snapshot{}, ErrTrialRequired
	}
	userTier := m.cfg.Tiers.ResolveTier(ctx, userID, trial)
	catalog := m.cfg.Catalog.Load(ctx, userTier, trial)

	f := &flow{
		id:        uuid.NewString(),
		userID:    userID,
		state:     wizard.New(wizard.Context{Tier: catalog.Tier, Trial: trial}),
		catalog:   catalog,
		updatedAt: m.now(),
	}

	m.mu.Lock()
	m.flows[f.id] = f
	m.mu.Unlock()
	m.metrics.FlowsCreated.Inc()
	m.metrics.FlowsActive.Inc()

	m.logger.Info(logging.WithFlowID(ctx, f.id), "onboarding flow created",
		zap.Stringer("tier", catalog.Tier), zap.Bool("trial", trial), zap.Bool("fallback_catalog", catalog.Fallback()))

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot(), nil
}

// Get returns the flow's current snapshot.
func (m *Manager) Get(_ context.Context, userID, id string) (Snapshot, error) {
	f, err := m.lookup(userID, id)
	if err != nil {
		return Snapshot{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot(), nil
}

// Apply feeds a wizard event to the flow. Connection events are rejected;
// use Connect.
func (m *Manager) Apply(ctx context.Context, userID, id string, ev wizard.Event) (Snapshot, wizard.Effect, error) {
	switch ev.(type) {
	case wizard.ConnectStarted, wizard.ConnectSucceeded, wizard.ConnectFailed:
		return Snapshot{}, wizard.EffectNone, ErrManagedEvent
	}
	f, err := m.lookup(userID, id)
	if err != nil {
		return Snapshot{}, wizard.EffectNone, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if sel, ok := ev.(wizard.SelectVoice); ok {
		if _, found := voice.Find(f.catalog.Groups, sel.Voice.ID); !found {
			return f.snapshot(), wizard.EffectNone, fmt.Errorf("%w: %s", ErrUnknownVoice, sel.Voice.ID)
		}
	}
	next, effect, err := wizard.Transition(f.state, ev)
	if err != nil {
		return f.snapshot(), wizard.EffectNone, err
	}
	f.state = next
	f.updatedAt = m.now()
	m.logger.Debug(logging.WithFlowID(ctx, f.id), "wizard transition",
		zap.String("event", wizard.EventName(ev)), zap.Stringer("step", next.Step), zap.Stringer("effect", effect))
	return f.snapshot(), effect, nil
}

// SelectVoice looks voiceID up in the flow's catalog and applies it.
func (m *Manager) SelectVoice(ctx context.Context, userID, id, voiceID string) (Snapshot, wizard.Effect, error) {
	f, err := m.lookup(userID, id)
	if err != nil {
		return Snapshot{}, wizard.EffectNone, err
	}
	f.mu.Lock()
	v, found := voice.Find(f.catalog.Groups, voiceID)
	f.mu.Unlock()
	if !found {
		return Snapshot{}, wizard.EffectNone, fmt.Errorf("%w: %s", ErrUnknownVoice, voiceID)
	}
	return m.Apply(ctx, userID, id, wizard.SelectVoice{Voice: v})
}

// Back moves the flow to its predecessor step.
func (m *Manager) Back(ctx context.Context, userID, id string) (Snapshot, error) {
	snap, _, err := m.Apply(ctx, userID, id, wizard.Back{})
	return snap, err
}

// Refresh re-resolves the tier and catalog, for example after an upgrade.
func (m *Manager) Refresh(ctx context.Context, userID, id string) (Snapshot, error) {
	f, err := m.lookup(userID, id)
	if err != nil {
		return Snapshot{}, err
	}
	f.mu.Lock()
	trial := f.state.Context.Trial
	f.mu.Unlock()

	userTier := m.cfg.Tiers.ResolveTier(ctx, userID, trial)
	catalog := m.cfg.Catalog.Load(ctx, userTier, trial)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state.Terminal() {
		return f.snapshot(), nil
	}
	f.catalog = catalog
	f.state = wizard.Retier(f.state, wizard.Context{Tier: catalog.Tier, Trial: trial})
	f.updatedAt = m.now()
	return f.snapshot(), nil
}

// ApplyDefaults fills the flow from the user's saved preferences and
// connects immediately.
func (m *Manager) ApplyDefaults(ctx context.Context, userID, id string) (Snapshot, error) {
	f, err := m.lookup(userID, id)
	if err != nil {
		return Snapshot{}, err
	}
	f.mu.Lock()
	trial := f.state.Context.Trial
	groups := f.catalog.Groups
	f.mu.Unlock()
	if userID == "" || trial {
		return Snapshot{}, ErrNoPreferences
	}

	profile, err := m.cfg.Store.GetProfile(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return Snapshot{}, ErrNoPreferences
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("reading profile: %w", err)
	}
	if !profile.HasPreferences() {
		return Snapshot{}, ErrNoPreferences
	}
	v, ok := voice.FindByProviderConfigID(groups, profile.VoiceConfigID)
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: saved voice is not available at this tier", ErrNoPreferences)
	}

	_, effect, err := m.Apply(ctx, userID, id, wizard.LoadDefaults{
		Voice:         v,
		TherapistName: profile.TherapistName,
		DataSaving:    profile.DataSaving,
	})
	if err != nil {
		return Snapshot{}, err
	}
	if effect != wizard.EffectConnect {
		return m.Get(ctx, userID, id)
	}
	return m.Connect(ctx, userID, id)
}

// Connect runs one connection attempt for a flow on the ready step. The
// flow lock is not held while dialing. The caller's own credentials never
// reach the voice provider; the connector mints its own token.
func (m *Manager) Connect(ctx context.Context, userID, id string) (Snapshot, error) {
	f, err := m.lookup(userID, id)
	if err != nil {
		return Snapshot{}, err
	}
	ctx = logging.WithFlowID(ctx, f.id)

	f.mu.Lock()
	next, _, err := wizard.Transition(f.state, wizard.ConnectStarted{})
	if err != nil {
		defer f.mu.Unlock()
		return f.snapshot(), err
	}
	if f.bridge == nil {
		b, err := bridge.New(bridge.Config{
			Connector: m.cfg.Connector,
			Logger:    m.logger,
			Timeout:   m.timeoutFor(next.Context.Trial),
		})
		if err != nil {
			defer f.mu.Unlock()
			return f.snapshot(), err
		}
		f.bridge = b
	}
	f.state = next
	f.updatedAt = m.now()
	b := f.bridge
	req := bridge.Request{ConfigID: next.Voice.ProviderConfigID}
	f.mu.Unlock()

	conn, connErr := b.Connect(ctx, req)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.updatedAt = m.now()
	if connErr != nil {
		f.state, _, _ = wizard.Transition(f.state, wizard.ConnectFailed{Reason: connErr.Error()})
		return f.snapshot(), connErr
	}
	next, effect, err := wizard.Transition(f.state, wizard.ConnectSucceeded{})
	if err != nil {
		_ = b.Close()
		return f.snapshot(), err
	}
	f.state = next
	if effect == wizard.EffectSessionStarted {
		m.startSession(ctx, f, conn)
	}
	return f.snapshot(), nil
}

func (m *Manager) timeoutFor(trial bool) time.Duration {
	if trial {
		return m.cfg.TrialTimeout
	}
	return m.cfg.ConnectTimeout
}

// startSession runs once per flow, with f.mu held.
func (m *Manager) startSession(ctx context.Context, f *flow, conn bridge.Connection) {
	ctx = context.WithoutCancel(ctx)
	s := f.state
	h := &Handoff{
		FlowID:           f.id,
		VoiceID:          s.Voice.ID,
		ProviderConfigID: s.Voice.ProviderConfigID,
		VoiceName:        s.Voice.DisplayName,
		TherapistName:    s.TherapistName,
		DataSaving:       s.DataSaving,
		Trial:            s.Context.Trial,
		StartedAt:        m.now(),
	}
	if hs, ok := conn.(*hume.Session); ok {
		h.ProviderChatID = hs.ChatID()
	}

	// trial sessions stay unpersisted, so their summary never reads a profile
	if f.userID != "" && !h.Trial {
		cs, err := m.cfg.Store.CreateSession(ctx, store.ChatSession{
			UserID:        f.userID,
			VoiceConfigID: h.ProviderConfigID,
			TherapistName: h.TherapistName,
			DataSaving:    h.DataSaving,
			StartedAt:     h.StartedAt,
		})
		if err != nil {
			m.logger.Warn(ctx, "creating chat session failed", zap.Error(err))
		} else {
			h.ChatSessionID = cs.ID
			ctx = logging.WithChatSessionID(ctx, cs.ID)
		}
	}
	if f.userID != "" && !h.Trial {
		err := m.cfg.Store.SavePreferences(ctx, f.userID, store.Preferences{
			VoiceConfigID: h.ProviderConfigID,
			TherapistName: h.TherapistName,
			DataSaving:    h.DataSaving,
		})
		if err != nil {
			m.logger.Warn(ctx, "saving preferences failed", zap.Error(err))
		}
	}
	f.handoff = h
	m.metrics.SessionsStarted.Inc()

	if src, ok := conn.(TurnSource); ok {
		f.recorded = make(chan struct{})
		persist := h.DataSaving && h.ChatSessionID != ""
		go m.record(ctx, f, src, h.ChatSessionID, persist)
	}

	ev := events.New(events.KindSessionStarted, f.userID, h.ChatSessionID, map[string]any{
		"flow_id":  f.id,
		"voice_id": h.VoiceID,
		"trial":    h.Trial,
	})
	if err := m.cfg.Publisher.PublishSession(ctx, ev); err != nil {
		m.logger.Warn(ctx, "publishing session started failed", zap.Error(err))
	}
	m.logger.Info(ctx, "live session started", zap.Bool("data_saving", h.DataSaving), zap.Bool("trial", h.Trial))
}

// Handoff returns the live session view of a connected flow.
func (m *Manager) Handoff(_ context.Context, userID, id string) (Handoff, error) {
	f, err := m.lookup(userID, id)
	if err != nil {
		return Handoff{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handoff == nil {
		return Handoff{}, ErrNotConnected
	}
	return *f.handoff, nil
}

// End closes the live session, marks the chat session ended and removes
// the flow. A durationSeconds of zero or less is measured from the start.
func (m *Manager) End(ctx context.Context, userID, id string, durationSeconds int) (Ended, error) {
	f, err := m.lookup(userID, id)
	if err != nil {
		return Ended{}, err
	}
	f.mu.Lock()
	if f.handoff == nil {
		defer f.mu.Unlock()
		return Ended{}, ErrNotConnected
	}
	if f.ending {
		defer f.mu.Unlock()
		return Ended{}, ErrNotFound
	}
	f.ending = true
	f.mu.Unlock()

	return m.finish(ctx, f, durationSeconds), nil
}

// finish tears a flow down. The caller has set f.ending.
func (m *Manager) finish(ctx context.Context, f *flow, durationSeconds int) Ended {
	f.mu.Lock()
	b, recorded := f.bridge, f.recorded
	f.mu.Unlock()

	if b != nil {
		if err := b.Close(); err != nil {
			m.logger.Warn(ctx, "closing voice connection failed", zap.Error(err))
		}
	}
	if recorded != nil {
		select {
		case <-recorded:
		case <-ctx.Done():
		}
	}

	m.mu.Lock()
	if _, ok := m.flows[f.id]; ok {
		delete(m.flows, f.id)
		m.metrics.FlowsActive.Dec()
	}
	m.mu.Unlock()

	f.mu.Lock()
	defer f.mu.Unlock()
	out := Ended{Transcript: append([]backend.Turn{}, f.transcript...)}
	if f.handoff == nil {
		return out
	}
	h := *f.handoff
	out.Handoff = h

	endedAt := m.now()
	if durationSeconds <= 0 {
		durationSeconds = int(endedAt.Sub(h.StartedAt).Seconds())
	}
	out.DurationSeconds = durationSeconds

	ctx = context.WithoutCancel(ctx)
	if h.ChatSessionID != "" {
		ctx = logging.WithChatSessionID(ctx, h.ChatSessionID)
		if err := m.cfg.Store.EndSession(ctx, h.ChatSessionID, endedAt, durationSeconds); err != nil {
			m.logger.Warn(ctx, "marking chat session ended failed", zap.Error(err))
		}
	}
	ev := events.New(events.KindSessionEnded, f.userID, h.ChatSessionID, map[string]any{
		"flow_id":          f.id,
		"duration_seconds": durationSeconds,
		"turns":            len(f.transcript),
	})
	if err := m.cfg.Publisher.PublishSession(ctx, ev); err != nil {
		m.logger.Warn(ctx, "publishing session ended failed", zap.Error(err))
	}
	m.logger.Info(ctx, "live session ended", zap.Int("duration_seconds", durationSeconds), zap.Int("turns", len(f.transcript)))
	return out
}

// Len returns the number of live flows.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.flows)
}

// Close ends every flow.
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	all := make([]*flow, 0, len(m.flows))
	for _, f := range m.flows {
		all = append(all, f)
	}
	m.mu.Unlock()

	for _, f := range all {
		f.mu.Lock()
		skip := f.ending
		f.ending = true
		f.mu.Unlock()
		if !skip {
			m.finish(ctx, f, 0)
		}
	}
}

func (m *Manager) lookup(userID, id string) (*flow, error) {
	m.mu.Lock()
	f, ok := m.flows[id]
	m.mu.Unlock()
	if !ok || f.userID != userID {
		return nil, ErrNotFound
	}
	return f, nil
}

// snapshot copies f. The caller holds f.mu.
func (f *flow) snapshot() Snapshot {
	st := bridge.Status{State: bridge.Idle}
	if f.bridge != nil {
		st = f.bridge.Status()
	}
	snap := Snapshot{
		ID:         f.id,
		Wizard:     f.state.View(),
		Catalog:    f.catalog,
		Connection: st,
		View:       bridge.ViewFor(st.State),
		Turns:      len(f.transcript),
		UpdatedAt:  f.updatedAt,
	}
	if f.handoff != nil {
		h := *f.handoff
		snap.Handoff = &h
	}
	return snap
}
