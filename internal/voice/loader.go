package voice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/J3rah/talkai-monorepo-sub002/internal/logging"
	"github.com/J3rah/talkai-monorepo-sub002/internal/tier"
)

const instrumentationName = "github.com/J3rah/talkai-monorepo-sub002/internal/voice"

// DefaultFetchTimeout bounds the store read.
const DefaultFetchTimeout = 5 * time.Second

// Fallback reasons.
const (
	ReasonError   = "error"
	ReasonTimeout = "timeout"
	ReasonEmpty   = "empty"
)

// Result is a loaded catalog. FallbackReason is empty when the store answered.
type Result struct {
	Tier           tier.Tier `json:"tier"`
	Groups         []Group   `json:"groups"`
	FallbackReason string    `json:"fallback_reason,omitempty"`
}

// Fallback reports whether the fallback catalog was used.
func (r Result) Fallback() bool {
	return r.FallbackReason != ""
}

// Default returns the preselected configuration.
func (r Result) Default() (Configuration, bool) {
	return Default(r.Groups)
}

// LoaderConfig configures a Loader.
type LoaderConfig struct {
	Source  Source
	Catalog *Catalog
	Timeout time.Duration
	Logger  *logging.Logger
}

// Loader reads the catalog for a user's tier.
type Loader struct {
	source  Source
	catalog *Catalog
	timeout time.Duration
	logger  *logging.Logger
	tracer  trace.Tracer
	metrics *Metrics
}

// NewLoader validates cfg. Source may be nil, in which case every load
// uses the fallback.
func NewLoader(cfg LoaderConfig) (*Loader, error) {
	if cfg.Catalog == nil {
		return nil, errors.New("catalog is required")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &Loader{
		source:  cfg.Source,
		catalog: cfg.Catalog,
		timeout: timeout,
		logger:  cfg.Logger,
		tracer:  otel.Tracer(instrumentationName),
		metrics: NewMetrics(),
	}, nil
}

type fetchResult struct {
	configs []Configuration
	err     error
}

// Load returns the groups available to a user at userTier, or to a trial
// session. It never returns an empty catalog and never fails: store errors,
// a read slower than the timeout and an empty read all fall back.
func (l *Loader) Load(ctx context.Context, userTier tier.Tier, trial bool) Result {
	effective := tier.Effective(userTier, trial)
	ctx, span := l.tracer.Start(ctx, "voice.Load", trace.WithAttributes(
		attribute.String("tier", effective.String()),
		attribute.Bool("trial", trial),
	))
	defer span.End()

	groups, reason, err := l.fetch(ctx, effective)
	if reason == "" {
		l.metrics.LoadsTotal.WithLabelValues("store").Inc()
		return Result{Tier: effective, Groups: groups}
	}

	l.metrics.LoadsTotal.WithLabelValues("fallback").Inc()
	l.metrics.FallbacksTotal.WithLabelValues(reason).Inc()
	span.SetAttributes(attribute.String("fallback_reason", reason))
	fields := []zap.Field{zap.String("reason", reason), zap.Stringer("tier", effective)}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	l.logger.Warn(ctx, "voice catalog fetch failed, using fallback", fields...)

	return Result{Tier: effective, Groups: l.fallback(effective), FallbackReason: reason}
}

// fetch runs the store read in its own goroutine so the bound holds even
// for a Source that ignores ctx.
func (l *Loader) fetch(ctx context.Context, effective tier.Tier) ([]Group, string, error) {
	if l.source == nil {
		return nil, ReasonEmpty, nil
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	done := make(chan fetchResult, 1)
	go func() {
		configs, err := l.source.ListVoiceConfigurations(ctx)
		done <- fetchResult{configs: configs, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ReasonTimeout, fmt.Errorf("voice fetch: %w", ctx.Err())
	case res := <-done:
		if res.err != nil {
			if errors.Is(res.err, context.DeadlineExceeded) {
				return nil, ReasonTimeout, res.err
			}
			return nil, ReasonError, res.err
		}
		groups := GroupByTier(res.configs, effective)
		if countConfigurations(groups) == 0 {
			return nil, ReasonEmpty, nil
		}
		return groups, "", nil
	}
}

// fallback returns the accessible part of the fallback catalog. The catalog
// always has a lowest-tier voice, so the result is non-empty.
func (l *Loader) fallback(effective tier.Tier) []Group {
	all := l.catalog.Groups()
	if groups := filterGroups(all, effective); len(groups) > 0 {
		return groups
	}
	return all
}
