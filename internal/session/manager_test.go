package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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
	calmVoice     = voice.Configuration{ID: "v-calm", DisplayName: "Willow", Tier: tier.Calm, ProviderConfigID: "hume-calm"}
	groundedVoice = voice.Configuration{ID: "v-grounded", DisplayName: "Atlas", Tier: tier.Grounded, ProviderConfigID: "hume-grounded"}
)

type fixedTiers map[string]tier.Tier

func (f fixedTiers) ResolveTier(_ context.Context, userID string, trial bool) tier.Tier {
	return tier.Effective(f[userID], trial)
}

type staticCatalog struct{}

func (staticCatalog) Load(_ context.Context, userTier tier.Tier, trial bool) voice.Result {
	effective := tier.Effective(userTier, trial)
	return voice.Result{Tier: effective, Groups: voice.GroupByTier([]voice.Configuration{calmVoice, groundedVoice}, effective)}
}

type fakeConn struct {
	turns chan hume.Turn
	once  sync.Once
}

func (c *fakeConn) Turns() <-chan hume.Turn { return c.turns }

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.turns) })
	return nil
}

type fakeConnector struct {
	mu    sync.Mutex
	err   error
	conns []*fakeConn
	reqs  []bridge.Request
}

func (f *fakeConnector) Connect(_ context.Context, req bridge.Request) (bridge.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	c := &fakeConn{turns: make(chan hume.Turn, 16)}
	f.conns = append(f.conns, c)
	return c, nil
}

func (f *fakeConnector) last() *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[len(f.conns)-1]
}

type recordingPublisher struct {
	events.Nop
	mu    sync.Mutex
	kinds []string
}

func (r *recordingPublisher) PublishSession(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, e.Kind)
	return nil
}

func (r *recordingPublisher) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.kinds...)
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	m     *Manager
	store *store.Memory
	conn  *fakeConnector
	pub   *recordingPublisher
	clock *clock
}

func newFixture(t *testing.T, ttl time.Duration) *fixture {
	t.Helper()
	fx := &fixture{
		store: store.NewMemory(nil),
		conn:  &fakeConnector{},
		pub:   &recordingPublisher{},
		clock: &clock{t: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)},
	}
	fx.store.PutProfile(store.Profile{ID: "paid", SubscriptionStatus: "grounded"})
	fx.store.PutProfile(store.Profile{ID: "free", SubscriptionStatus: "calm"})
	m, err := NewManager(Config{
		Store:     fx.store,
		Tiers:     fixedTiers{"paid": tier.Grounded, "free": tier.Calm},
		Catalog:   staticCatalog{},
		Connector: fx.conn,
		Publisher: fx.pub,
		Logger:    logging.NewNop(),
		IdleTTL:   ttl,
		Now:       fx.clock.Now,
	})
	require.NoError(t, err)
	fx.m = m
	return fx
}

// walk drives a flow to the ready step.
func walk(t *testing.T, fx *fixture, user, id, voiceID string) {
	t.Helper()
	ctx := context.Background()
	_, eff, err := fx.m.SelectVoice(ctx, user, id, voiceID)
	require.NoError(t, err)
	assert.Equal(t, wizard.EffectAutoAdvance, eff)

	snap, _, err := fx.m.Apply(ctx, user, id, wizard.SubmitName{Name: "Sam"})
	require.NoError(t, err)
	if snap.Wizard.Step == wizard.StepChooseDataSaving {
		_, _, err = fx.m.Apply(ctx, user, id, wizard.ChooseDataSaving{Save: true})
		require.NoError(t, err)
	}
	snap, _, err = fx.m.Apply(ctx, user, id, wizard.AnswerTerms{Agree: true})
	require.NoError(t, err)
	require.Equal(t, wizard.StepReadyToBegin, snap.Wizard.Step)
}

func TestCreate(t *testing.T) {
	fx := newFixture(t, 0)
	ctx := context.Background()

	snap, err := fx.m.Create(ctx, "paid", false)
	require.NoError(t, err)
	assert.Equal(t, wizard.StepChooseVoice, snap.Wizard.Step)
	assert.Equal(t, tier.Grounded, snap.Catalog.Tier)
	assert.Equal(t, 5, snap.Wizard.TotalSteps)
	assert.Equal(t, bridge.Idle, snap.Connection.State)
	assert.Equal(t, 1, fx.m.Len())

	free, err := fx.m.Create(ctx, "free", false)
	require.NoError(t, err)
	assert.Equal(t, 4, free.Wizard.TotalSteps)

	_, err = fx.m.Create(ctx, "", false)
	assert.ErrorIs(t, err, ErrTrialRequired)

	trial, err := fx.m.Create(ctx, "", true)
	require.NoError(t, err)
	assert.Equal(t, tier.Highest, trial.Catalog.Tier)
}

func TestGet_OwnerOnly(t *testing.T) {
	fx := newFixture(t, 0)
	snap, err := fx.m.Create(context.Background(), "paid", false)
	require.NoError(t, err)

	_, err = fx.m.Get(context.Background(), "free", snap.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = fx.m.Get(context.Background(), "paid", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestApply_RejectsManagedAndForeignVoice(t *testing.T) {
	fx := newFixture(t, 0)
	ctx := context.Background()
	snap, err := fx.m.Create(ctx, "free", false)
	require.NoError(t, err)

	_, _, err = fx.m.Apply(ctx, "free", snap.ID, wizard.ConnectSucceeded{})
	assert.ErrorIs(t, err, ErrManagedEvent)

	// the grounded voice is outside a calm user's catalog
	_, _, err = fx.m.Apply(ctx, "free", snap.ID, wizard.SelectVoice{Voice: groundedVoice})
	assert.ErrorIs(t, err, ErrUnknownVoice)
	_, _, err = fx.m.SelectVoice(ctx, "free", snap.ID, groundedVoice.ID)
	assert.ErrorIs(t, err, ErrUnknownVoice)
}

func TestConnectAndEnd_PersistsTranscript(t *testing.T) {
	fx := newFixture(t, 0)
	ctx := context.Background()
	snap, err := fx.m.Create(ctx, "paid", false)
	require.NoError(t, err)
	walk(t, fx, "paid", snap.ID, groundedVoice.ID)

	snap, err = fx.m.Connect(ctx, "paid", snap.ID)
	require.NoError(t, err)
	assert.Equal(t, wizard.StepConnected, snap.Wizard.Step)
	assert.False(t, snap.Wizard.Visible)
	assert.Equal(t, bridge.Connected, snap.Connection.State)
	assert.True(t, snap.View.ShowLiveSession)
	require.NotNil(t, snap.Handoff)
	assert.Equal(t, "Sam", snap.Handoff.TherapistName)
	assert.Equal(t, "hume-grounded", snap.Handoff.ProviderConfigID)
	assert.True(t, snap.Handoff.DataSaving)
	assert.Equal(t, []bridge.Request{{ConfigID: "hume-grounded"}}, fx.conn.reqs)

	profile, err := fx.store.GetProfile(ctx, "paid")
	require.NoError(t, err)
	assert.Equal(t, "hume-grounded", profile.VoiceConfigID)
	assert.True(t, profile.HasPreferences())

	conn := fx.conn.last()
	conn.turns <- hume.Turn{Role: store.RoleUser, Content: "hello", Emotions: map[string]float64{"Joy": 0.4}, ReceivedAt: fx.clock.Now()}
	conn.turns <- hume.Turn{Role: store.RoleAssistant, Content: "hi there", ReceivedAt: fx.clock.Now().Add(time.Second)}

	handoff, err := fx.m.Handoff(ctx, "paid", snap.ID)
	require.NoError(t, err)

	fx.clock.Advance(90 * time.Second)
	ended, err := fx.m.End(ctx, "paid", snap.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, 90, ended.DurationSeconds)
	require.Len(t, ended.Transcript, 2)
	assert.Equal(t, "hello", ended.Transcript[0].Content)
	assert.Equal(t, 0, fx.m.Len())

	msgs, err := fx.store.ListMessages(ctx, handoff.ChatSessionID)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
	metrics, err := fx.store.ListEmotionMetrics(ctx, handoff.ChatSessionID)
	require.NoError(t, err)
	require.Len(t, metrics, 1)
	assert.Equal(t, "Joy", metrics[0].EmotionType)

	cs, err := fx.store.GetSession(ctx, handoff.ChatSessionID)
	require.NoError(t, err)
	require.NotNil(t, cs.EndedAt)
	assert.Equal(t, 90, cs.DurationSeconds)

	assert.Equal(t, []string{events.KindSessionStarted, events.KindSessionEnded}, fx.pub.seen())

	_, err = fx.m.End(ctx, "paid", snap.ID, 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConnect_NoPersistenceWithoutDataSaving(t *testing.T) {
	fx := newFixture(t, 0)
	ctx := context.Background()
	snap, err := fx.m.Create(ctx, "free", false)
	require.NoError(t, err)
	walk(t, fx, "free", snap.ID, calmVoice.ID)

	snap, err = fx.m.Connect(ctx, "free", snap.ID)
	require.NoError(t, err)
	assert.False(t, snap.Handoff.DataSaving)

	fx.conn.last().turns <- hume.Turn{Role: store.RoleUser, Content: "not saved"}
	ended, err := fx.m.End(ctx, "free", snap.ID, 30)
	require.NoError(t, err)
	assert.Equal(t, 30, ended.DurationSeconds)
	assert.Len(t, ended.Transcript, 1)

	msgs, err := fx.store.ListMessages(ctx, ended.Handoff.ChatSessionID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestConnect_TrialSkipsStoreWrites(t *testing.T) {
	fx := newFixture(t, 0)
	ctx := context.Background()
	snap, err := fx.m.Create(ctx, "", true)
	require.NoError(t, err)
	walk(t, fx, "", snap.ID, groundedVoice.ID)

	snap, err = fx.m.Connect(ctx, "", snap.ID)
	require.NoError(t, err)
	assert.Empty(t, snap.Handoff.ChatSessionID)
	assert.True(t, snap.Handoff.Trial)

	ended, err := fx.m.End(ctx, "", snap.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, ended.Handoff.ChatSessionID)
}

func TestConnect_AuthenticatedTrialIsNotPersisted(t *testing.T) {
	fx := newFixture(t, 0)
	ctx := context.Background()
	snap, err := fx.m.Create(ctx, "free", true)
	require.NoError(t, err)
	assert.Equal(t, tier.Highest, snap.Catalog.Tier)
	walk(t, fx, "free", snap.ID, groundedVoice.ID)

	snap, err = fx.m.Connect(ctx, "free", snap.ID)
	require.NoError(t, err)
	require.NotNil(t, snap.Handoff)
	assert.True(t, snap.Handoff.Trial)
	assert.Empty(t, snap.Handoff.ChatSessionID, "a trial never gets a chat session to summarize")
	assert.Empty(t, fx.conn.reqs[0].AccessToken)

	profile, err := fx.store.GetProfile(ctx, "free")
	require.NoError(t, err)
	assert.False(t, profile.HasPreferences())

	ended, err := fx.m.End(ctx, "free", snap.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, ended.Handoff.ChatSessionID)
}

func TestConnect_FailureThenRetry(t *testing.T) {
	fx := newFixture(t, 0)
	ctx := context.Background()
	snap, err := fx.m.Create(ctx, "paid", false)
	require.NoError(t, err)
	walk(t, fx, "paid", snap.ID, groundedVoice.ID)

	fx.conn.mu.Lock()
	fx.conn.err = errors.New("provider unavailable")
	fx.conn.mu.Unlock()
	snap, err = fx.m.Connect(ctx, "paid", snap.ID)
	require.Error(t, err)
	assert.Equal(t, wizard.StepReadyToBegin, snap.Wizard.Step)
	assert.False(t, snap.Wizard.Connecting)
	assert.Contains(t, snap.Wizard.LastError, "provider unavailable")
	assert.Equal(t, bridge.Failed, snap.Connection.State)
	assert.True(t, snap.View.ShowError)
	assert.Empty(t, fx.pub.seen())

	fx.conn.mu.Lock()
	fx.conn.err = nil
	fx.conn.mu.Unlock()
	snap, err = fx.m.Connect(ctx, "paid", snap.ID)
	require.NoError(t, err)
	assert.Equal(t, wizard.StepConnected, snap.Wizard.Step)
	assert.Len(t, fx.conn.reqs, 2)
}

func TestConnect_NotReady(t *testing.T) {
	fx := newFixture(t, 0)
	snap, err := fx.m.Create(context.Background(), "paid", false)
	require.NoError(t, err)

	_, err = fx.m.Connect(context.Background(), "paid", snap.ID)
	assert.ErrorIs(t, err, wizard.ErrInvalidEvent)
	assert.Empty(t, fx.conn.reqs)

	_, err = fx.m.Handoff(context.Background(), "paid", snap.ID)
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = fx.m.End(context.Background(), "paid", snap.ID, 0)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestApplyDefaults(t *testing.T) {
	fx := newFixture(t, 0)
	ctx := context.Background()
	require.NoError(t, fx.store.SavePreferences(ctx, "paid", store.Preferences{
		VoiceConfigID: "hume-grounded", TherapistName: "Robin", DataSaving: true,
	}))

	snap, err := fx.m.Create(ctx, "paid", false)
	require.NoError(t, err)
	snap, err = fx.m.ApplyDefaults(ctx, "paid", snap.ID)
	require.NoError(t, err)
	assert.Equal(t, wizard.StepConnected, snap.Wizard.Step)
	assert.Equal(t, "Robin", snap.Handoff.TherapistName)
	assert.Equal(t, groundedVoice.ID, snap.Handoff.VoiceID)
}

func TestApplyDefaults_Unavailable(t *testing.T) {
	fx := newFixture(t, 0)
	ctx := context.Background()

	snap, err := fx.m.Create(ctx, "free", false)
	require.NoError(t, err)
	_, err = fx.m.ApplyDefaults(ctx, "free", snap.ID)
	assert.ErrorIs(t, err, ErrNoPreferences)

	// saved voice is above the user's tier
	require.NoError(t, fx.store.SavePreferences(ctx, "free", store.Preferences{
		VoiceConfigID: "hume-grounded", TherapistName: "Robin",
	}))
	_, err = fx.m.ApplyDefaults(ctx, "free", snap.ID)
	assert.ErrorIs(t, err, ErrNoPreferences)

	trial, err := fx.m.Create(ctx, "", true)
	require.NoError(t, err)
	_, err = fx.m.ApplyDefaults(ctx, "", trial.ID)
	assert.ErrorIs(t, err, ErrNoPreferences)
}

func TestBack(t *testing.T) {
	fx := newFixture(t, 0)
	ctx := context.Background()
	snap, err := fx.m.Create(ctx, "paid", false)
	require.NoError(t, err)

	_, err = fx.m.Back(ctx, "paid", snap.ID)
	assert.ErrorIs(t, err, wizard.ErrNoPredecessor)

	_, _, err = fx.m.SelectVoice(ctx, "paid", snap.ID, calmVoice.ID)
	require.NoError(t, err)
	snap, err = fx.m.Back(ctx, "paid", snap.ID)
	require.NoError(t, err)
	assert.Equal(t, wizard.StepChooseVoice, snap.Wizard.Step)
}

func TestRefresh_Retiers(t *testing.T) {
	fx := newFixture(t, 0)
	ctx := context.Background()
	snap, err := fx.m.Create(ctx, "paid", false)
	require.NoError(t, err)
	walkTo := func() {
		_, _, err := fx.m.SelectVoice(ctx, "paid", snap.ID, calmVoice.ID)
		require.NoError(t, err)
		s, _, err := fx.m.Apply(ctx, "paid", snap.ID, wizard.SubmitName{Name: "Sam"})
		require.NoError(t, err)
		require.Equal(t, wizard.StepChooseDataSaving, s.Wizard.Step)
	}
	walkTo()

	// downgrade while on the data-saving step
	fx.m.cfg.Tiers = fixedTiers{"paid": tier.Calm}
	snap, err = fx.m.Refresh(ctx, "paid", snap.ID)
	require.NoError(t, err)
	assert.Equal(t, wizard.StepAcceptTerms, snap.Wizard.Step)
	assert.Equal(t, tier.Calm, snap.Catalog.Tier)
	assert.Equal(t, 4, snap.Wizard.TotalSteps)
}

func TestReap(t *testing.T) {
	fx := newFixture(t, time.Hour)
	ctx := context.Background()

	idle, err := fx.m.Create(ctx, "paid", false)
	require.NoError(t, err)
	live, err := fx.m.Create(ctx, "free", false)
	require.NoError(t, err)
	walk(t, fx, "free", live.ID, calmVoice.ID)
	_, err = fx.m.Connect(ctx, "free", live.ID)
	require.NoError(t, err)

	fx.clock.Advance(30 * time.Minute)
	assert.Zero(t, fx.m.Reap(ctx))

	_, _, err = fx.m.Apply(ctx, "paid", idle.ID, wizard.Back{})
	require.ErrorIs(t, err, wizard.ErrNoPredecessor)

	fx.clock.Advance(45 * time.Minute)
	assert.Equal(t, 2, fx.m.Reap(ctx))
	assert.Zero(t, fx.m.Len())
	assert.Equal(t, []string{events.KindSessionStarted, events.KindSessionEnded}, fx.pub.seen())
}

func TestClose(t *testing.T) {
	fx := newFixture(t, 0)
	ctx := context.Background()
	snap, err := fx.m.Create(ctx, "paid", false)
	require.NoError(t, err)
	walk(t, fx, "paid", snap.ID, groundedVoice.ID)
	_, err = fx.m.Connect(ctx, "paid", snap.ID)
	require.NoError(t, err)
	_, err = fx.m.Create(ctx, "free", false)
	require.NoError(t, err)

	fx.m.Close(ctx)
	assert.Zero(t, fx.m.Len())
}

func TestNewManager_Validation(t *testing.T) {
	_, err := NewManager(Config{})
	assert.EqualError(t, err, "store is required")

	_, err = NewManager(Config{
		Store: store.NewMemory(nil), Tiers: fixedTiers{}, Catalog: staticCatalog{},
		Connector: &fakeConnector{}, Logger: logging.NewNop(), ConnectTimeout: -time.Second,
	})
	assert.Error(t, err)
}
