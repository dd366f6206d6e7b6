package main

import (
	"context"
	"errors"
	"fmt"

	otellog "go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"

	"github.com/J3rah/talkai-monorepo-sub002/internal/agent"
	"github.com/J3rah/talkai-monorepo-sub002/internal/analytics"
	"github.com/J3rah/talkai-monorepo-sub002/internal/auth"
	"github.com/J3rah/talkai-monorepo-sub002/internal/backend"
	"github.com/J3rah/talkai-monorepo-sub002/internal/config"
	"github.com/J3rah/talkai-monorepo-sub002/internal/events"
	httpserver "github.com/J3rah/talkai-monorepo-sub002/internal/http"
	"github.com/J3rah/talkai-monorepo-sub002/internal/hume"
	"github.com/J3rah/talkai-monorepo-sub002/internal/logging"
	"github.com/J3rah/talkai-monorepo-sub002/internal/redact"
	"github.com/J3rah/talkai-monorepo-sub002/internal/retry"
	"github.com/J3rah/talkai-monorepo-sub002/internal/session"
	"github.com/J3rah/talkai-monorepo-sub002/internal/store"
	"github.com/J3rah/talkai-monorepo-sub002/internal/telemetry"
	"github.com/J3rah/talkai-monorepo-sub002/internal/voice"
)

// app holds every long-lived dependency of the server.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	store     store.Store
	publisher events.Publisher
	catalog   *voice.Catalog
	loader    *voice.Loader
	backend   *backend.Client
	analytics *analytics.Service
	agent     *agent.Client
	sessions  *session.Manager
	verifier  *auth.Verifier
}

// initLogger builds the process logger. stderr is used by the stdio
// transport, which owns stdout.
func initLogger(cfg *config.Config, stderr bool) (*logging.Logger, error) {
	lc, err := logging.FromAppConfig(cfg.Log, cfg.Telemetry.Enabled)
	if err != nil {
		return nil, err
	}
	lc.Stderr = stderr
	return logging.NewLogger(lc, otellog.GetLoggerProvider())
}

// initTelemetry starts OTLP export. A failed exporter degrades instead of
// failing startup.
func initTelemetry(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*telemetry.Telemetry, error) {
	tel, err := telemetry.New(ctx, telemetry.FromAppConfig(cfg.Telemetry, version))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	if degraded, derr := tel.Degraded(); degraded {
		logger.Warn(ctx, "telemetry degraded", zap.Error(derr))
	}
	return tel, nil
}

// openStore returns Postgres when a database url is configured and the
// in-memory store otherwise.
func openStore(ctx context.Context, cfg *config.Config, logger *logging.Logger, migrate bool) (store.Store, error) {
	if !cfg.Store.DatabaseURL.IsSet() {
		logger.Warn(ctx, "no database configured, using in-memory store")
		return store.NewMemory(embeddedVoices()), nil
	}
	pg, err := store.NewPostgres(ctx, store.PostgresConfig{
		URL:      cfg.Store.DatabaseURL.Value(),
		MaxConns: cfg.Store.MaxConns,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	if migrate {
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, err
		}
	}
	return pg, nil
}

func embeddedVoices() []voice.Configuration {
	var out []voice.Configuration
	for _, g := range voice.MustEmbedded() {
		out = append(out, g.Configurations...)
	}
	return out
}

func openPublisher(ctx context.Context, cfg *config.Config, logger *logging.Logger) (events.Publisher, error) {
	if cfg.Events.URL == "" {
		return events.Nop{}, nil
	}
	p, err := events.Connect(events.NATSConfig{
		URL:           cfg.Events.URL,
		SubjectPrefix: cfg.Events.SubjectPrefix,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "publishing session events", zap.String("subject_prefix", cfg.Events.SubjectPrefix))
	return p, nil
}

// newCatalog builds the fallback catalog and its loader. The loader reads
// the live catalog from src.
func newCatalog(cfg *config.Config, src voice.Source, logger *logging.Logger) (*voice.Catalog, *voice.Loader, error) {
	catalog, err := voice.NewCatalog(cfg.Voice.CatalogFile, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("loading voice catalog: %w", err)
	}
	loader, err := voice.NewLoader(voice.LoaderConfig{
		Source:  src,
		Catalog: catalog,
		Timeout: cfg.Voice.FetchTimeout.Duration(),
		Logger:  logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return catalog, loader, nil
}

func newBackend(cfg *config.Config, logger *logging.Logger) (*backend.Client, error) {
	return backend.New(backend.Config{
		BaseURL:   cfg.Backend.BaseURL,
		Timeout:   cfg.Backend.Timeout.Duration(),
		RateLimit: cfg.Backend.RateLimit,
		RateBurst: cfg.Backend.RateBurst,
		Logger:    logger,
	})
}

func newAgent(cfg *config.Config, bc *backend.Client, pub events.Publisher, logger *logging.Logger) (*agent.Client, error) {
	return agent.New(agent.Config{
		Name:      cfg.Agent.Name,
		Caller:    bc,
		Publisher: pub,
		Logger:    logger,
		Settings: agent.Settings{
			ComposioConfigured: cfg.Agent.ComposioAPIKey.IsSet(),
			Topics:             cfg.Agent.Topics,
			MaxActions:         cfg.Agent.MaxActions,
		},
	})
}

// newConnector builds the Hume connector. Without an API key pair, only
// requests that carry their own access token can connect.
func newConnector(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*hume.Connector, error) {
	ccfg := hume.ConnectorConfig{ChatURL: cfg.Hume.ChatURL, Logger: logger}
	if cfg.Hume.APIKey.IsSet() && cfg.Hume.SecretKey.IsSet() {
		ts, err := hume.NewTokenSource(ctx, hume.TokenConfig{
			APIKey:    cfg.Hume.APIKey.Value(),
			SecretKey: cfg.Hume.SecretKey.Value(),
			TokenURL:  cfg.Hume.TokenURL,
		})
		if err != nil {
			return nil, err
		}
		ccfg.Tokens = ts
	} else {
		logger.Warn(ctx, "hume credentials not configured, voice connections will fail")
	}
	return hume.NewConnector(ccfg)
}

func newScrubber(cfg *config.Config) (redact.Scrubber, error) {
	return redact.New(redact.Config{
		Enabled: cfg.Analytics.ScrubTranscripts,
		Secrets: true,
		Rules:   redact.DefaultRules(),
	})
}

// newApp wires the server dependencies. The caller must Close the result.
func newApp(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close(ctx)
		}
	}()

	var err error
	if a.store, err = openStore(ctx, cfg, logger, cfg.Store.Migrate); err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if a.publisher, err = openPublisher(ctx, cfg, logger); err != nil {
		return nil, fmt.Errorf("failed to connect events: %w", err)
	}
	if a.catalog, a.loader, err = newCatalog(cfg, a.store, logger); err != nil {
		return nil, err
	}
	if a.backend, err = newBackend(cfg, logger); err != nil {
		return nil, fmt.Errorf("failed to create backend client: %w", err)
	}
	scrubber, err := newScrubber(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build transcript scrubber: %w", err)
	}

	a.analytics, err = analytics.NewService(analytics.Config{
		Store:            a.store,
		Feedback:         a.backend,
		Journal:          a.backend,
		Scrubber:         scrubber,
		Publisher:        a.publisher,
		Logger:           logger,
		ProfileRetry:     retry.Policy{Attempts: cfg.Analytics.ProfileAttempts, Delay: cfg.Analytics.ProfileDelay.Duration()},
		MessageRetry:     retry.Policy{Attempts: cfg.Analytics.MessageAttempts, Delay: cfg.Analytics.MessageDelay.Duration()},
		NoSessionDelay:   cfg.Analytics.NoSessionDelay.Duration(),
		FeedbackMaxTurns: cfg.Analytics.FeedbackMaxTurns,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create analytics service: %w", err)
	}

	if a.agent, err = newAgent(cfg, a.backend, a.publisher, logger); err != nil {
		return nil, fmt.Errorf("failed to create agent client: %w", err)
	}

	connector, err := newConnector(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create voice connector: %w", err)
	}
	a.sessions, err = session.NewManager(session.Config{
		Store:          a.store,
		Tiers:          a.analytics,
		Catalog:        a.loader,
		Connector:      connector,
		Publisher:      a.publisher,
		Logger:         logger,
		ConnectTimeout: cfg.Bridge.ConnectTimeout.Duration(),
		TrialTimeout:   cfg.Bridge.TrialTimeout.Duration(),
		IdleTTL:        cfg.Session.IdleTTL.Duration(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session manager: %w", err)
	}

	a.verifier, err = auth.NewVerifier(auth.Config{
		Secret:         cfg.Auth.JWTSecret.Value(),
		Audience:       cfg.Auth.Audience,
		AllowAnonymous: cfg.Auth.AllowAnonymous,
		AdminUsers:     cfg.Auth.AdminUsers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create token verifier: %w", err)
	}

	ok = true
	return a, nil
}

func (a *app) services() httpserver.Services {
	return httpserver.Services{
		Sessions:  a.sessions,
		Catalog:   a.loader,
		Analytics: a.analytics,
		Agent:     a.agent,
		Verifier:  a.verifier,
	}
}

// Close releases every dependency in reverse order of creation.
func (a *app) Close(ctx context.Context) {
	if a.sessions != nil {
		a.sessions.Close(ctx)
	}
	if a.publisher != nil {
		a.publisher.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
}

var errNoDatabase = errors.New("store database_url is required")
