package voice

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/J3rah/talkai-monorepo-sub002/internal/logging"
	"github.com/J3rah/talkai-monorepo-sub002/internal/tier"
)

type mockSource struct {
	configs []Configuration
	err     error
	delay   time.Duration
	// ignoreCtx makes the source sleep through cancellation.
	ignoreCtx bool
}

func (m *mockSource) ListVoiceConfigurations(ctx context.Context) ([]Configuration, error) {
	if m.delay > 0 {
		if m.ignoreCtx {
			time.Sleep(m.delay)
		} else {
			select {
			case <-time.After(m.delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return m.configs, m.err
}

func storeConfigs() []Configuration {
	return []Configuration{
		{ID: "g1", DisplayName: "Deep", Tier: tier.Grounded, ProviderConfigID: "cfg-g1"},
		{ID: "c1", DisplayName: "Soft", Tier: tier.Calm, ProviderConfigID: "cfg-c1"},
		{ID: "m1", DisplayName: "Steady", Tier: tier.Centered, ProviderConfigID: "cfg-m1"},
		{ID: "c2", DisplayName: "Quiet", Tier: tier.Calm, ProviderConfigID: "cfg-c2"},
		{ID: "broken", DisplayName: "No config", Tier: tier.Calm},
	}
}

func newTestLoader(t *testing.T, src Source, timeout time.Duration) (*Loader, *logging.TestLogger) {
	t.Helper()
	catalog, err := NewCatalog("", nil)
	require.NoError(t, err)
	logger := logging.NewTestLogger()
	l, err := NewLoader(LoaderConfig{Source: src, Catalog: catalog, Timeout: timeout, Logger: logger.Logger})
	require.NoError(t, err)
	return l, logger
}

func TestNewLoader_RequiresDeps(t *testing.T) {
	_, err := NewLoader(LoaderConfig{Logger: logging.NewNop()})
	assert.EqualError(t, err, "catalog is required")

	catalog, err := NewCatalog("", nil)
	require.NoError(t, err)
	_, err = NewLoader(LoaderConfig{Catalog: catalog})
	assert.EqualError(t, err, "logger is required")
}

func TestLoad_StoreGroupsByTier(t *testing.T) {
	src := &mockSource{configs: storeConfigs()}
	l, _ := newTestLoader(t, src, time.Second)

	res := l.Load(context.Background(), tier.Centered, false)

	require.False(t, res.Fallback())
	require.Len(t, res.Groups, 2)
	assert.Equal(t, tier.Calm, res.Groups[0].Tier)
	assert.Equal(t, tier.Centered, res.Groups[1].Tier)
	// source order kept, entries without a provider config dropped
	assert.Equal(t, []string{"c1", "c2"}, ids(res.Groups[0]))

	def, ok := res.Default()
	require.True(t, ok)
	assert.Equal(t, "c1", def.ID)
}

func TestLoad_TrialGetsHighestTier(t *testing.T) {
	src := &mockSource{configs: storeConfigs()}
	l, _ := newTestLoader(t, src, time.Second)

	res := l.Load(context.Background(), tier.Calm, true)
	assert.Equal(t, tier.Grounded, res.Tier)
	assert.Len(t, res.Groups, 3)
}

func TestLoad_FallbackTotality(t *testing.T) {
	sources := map[string]func() Source{
		"error":        func() Source { return &mockSource{err: errors.New("connection refused")} },
		"empty":        func() Source { return &mockSource{} },
		"timeout":      func() Source { return &mockSource{configs: storeConfigs(), delay: 200 * time.Millisecond} },
		"ignores ctx":  func() Source { return &mockSource{configs: storeConfigs(), delay: 200 * time.Millisecond, ignoreCtx: true} },
		"no source":    func() Source { return nil },
		"inaccessible": func() Source { return &mockSource{configs: storeConfigs()[:1]} },
	}

	for name, newSource := range sources {
		for _, userTier := range []tier.Tier{tier.Calm, tier.Centered, tier.Grounded} {
			for _, trial := range []bool{false, true} {
				t.Run(name+"/"+userTier.String(), func(t *testing.T) {
					src := newSource()
					l, _ := newTestLoader(t, src, 30*time.Millisecond)

					res := l.Load(context.Background(), userTier, trial)

					if name == "inaccessible" && (trial || userTier == tier.Grounded) {
						assert.False(t, res.Fallback())
					} else {
						assert.True(t, res.Fallback())
					}
					require.NotEmpty(t, res.Groups)
					_, ok := res.Default()
					assert.True(t, ok, "catalog must always hold a selectable voice")
					for _, g := range res.Groups {
						assert.True(t, tier.CanAccess(res.Tier, g.Tier))
					}
				})
			}
		}
	}
}

func TestLoad_TimeoutIsBounded(t *testing.T) {
	src := &mockSource{configs: storeConfigs(), delay: time.Second, ignoreCtx: true}
	l, logger := newTestLoader(t, src, 20*time.Millisecond)

	start := time.Now()
	res := l.Load(context.Background(), tier.Calm, false)

	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, ReasonTimeout, res.FallbackReason)
	logger.AssertLogged(t, zapcore.WarnLevel, "using fallback")
}

func TestLoad_CountsFallbacks(t *testing.T) {
	l, _ := newTestLoader(t, &mockSource{err: errors.New("boom")}, time.Second)
	counter := l.metrics.FallbacksTotal.WithLabelValues(ReasonError)
	before := testutil.ToFloat64(counter)

	l.Load(context.Background(), tier.Calm, false)

	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestParseCatalog_Embedded(t *testing.T) {
	groups := MustEmbedded()
	require.NotEmpty(t, groups)
	assert.Equal(t, tier.Calm, groups[0].Tier)
	assert.NotEmpty(t, groups[0].Configurations[0].ProviderConfigID)
}

func TestParseCatalog_Rejects(t *testing.T) {
	tests := map[string]string{
		"no lowest tier": `
[[group]]
name = "Grounded"
tier = "grounded"
  [[group.voices]]
  id = "g"
  provider_config_id = "x"
`,
		"missing provider id": `
[[group]]
name = "Calm"
tier = "calm"
  [[group.voices]]
  id = "c"
`,
		"unknown key": `
[[group]]
name = "Calm"
tier = "calm"
colour = "blue"
  [[group.voices]]
  id = "c"
  provider_config_id = "x"
`,
		"not toml": `[[group`,
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(data))
			assert.ErrorIs(t, err, ErrInvalidCatalog)
		})
	}
}

const overrideCatalog = `
[[group]]
name = "House voices"
tier = "calm"
  [[group.voices]]
  id = "house"
  display_name = "House"
  provider_config_id = "cfg-house"
`

func TestCatalog_OverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voices.toml")
	require.NoError(t, os.WriteFile(path, []byte(overrideCatalog), 0600))

	c, err := NewCatalog(path, nil)
	require.NoError(t, err)
	def, ok := Default(c.Groups())
	require.True(t, ok)
	assert.Equal(t, "house", def.ID)
	// voice tier comes from its group
	assert.Equal(t, tier.Calm, def.Tier)
}

func TestCatalog_ReloadKeepsPreviousOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voices.toml")
	require.NoError(t, os.WriteFile(path, []byte(overrideCatalog), 0600))
	c, err := NewCatalog(path, nil)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("[[group"), 0600))
	assert.Error(t, c.Reload())
	def, _ := Default(c.Groups())
	assert.Equal(t, "house", def.ID)
}

func TestCatalog_Watch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voices.toml")
	require.NoError(t, os.WriteFile(path, []byte(overrideCatalog), 0600))
	c, err := NewCatalog(path, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Watch(ctx))

	updated := []byte(`
[[group]]
name = "Calm"
tier = "calm"
  [[group.voices]]
  id = "updated"
  provider_config_id = "cfg-updated"
`)
	require.NoError(t, os.WriteFile(path, updated, 0600))

	assert.Eventually(t, func() bool {
		def, _ := Default(c.Groups())
		return def.ID == "updated"
	}, 2*time.Second, 20*time.Millisecond)
}

func TestFind(t *testing.T) {
	groups := GroupByTier(storeConfigs(), tier.Grounded)
	c, ok := Find(groups, "m1")
	require.True(t, ok)
	assert.Equal(t, "cfg-m1", c.ProviderConfigID)
	_, ok = Find(groups, "broken")
	assert.False(t, ok)
}

func ids(g Group) []string {
	out := make([]string, 0, len(g.Configurations))
	for _, c := range g.Configurations {
		out = append(out, c.ID)
	}
	return out
}
