package session

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const minReapInterval = time.Minute

// Reap removes flows idle for longer than the TTL. Flows with a connect in
// flight are kept. Live sessions are ended as if the user had left.
func (m *Manager) Reap(ctx context.Context) int {
	if m.cfg.IdleTTL <= 0 {
		return 0
	}
	cutoff := m.now().Add(-m.cfg.IdleTTL)

	m.mu.Lock()
	candidates := make([]*flow, 0)
	for _, f := range m.flows {
		candidates = append(candidates, f)
	}
	m.mu.Unlock()

	reaped := 0
	for _, f := range candidates {
		f.mu.Lock()
		expired := !f.ending && !f.state.Connecting && f.updatedAt.Before(cutoff)
		if expired {
			f.ending = true
		}
		f.mu.Unlock()
		if !expired {
			continue
		}
		m.finish(ctx, f, 0)
		m.metrics.FlowsReaped.Inc()
		reaped++
	}
	if reaped > 0 {
		m.logger.Info(ctx, "reaped idle flows", zap.Int("count", reaped), zap.Duration("ttl", m.cfg.IdleTTL))
	}
	return reaped
}

// Run reaps on a ticker until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	if m.cfg.IdleTTL <= 0 {
		return
	}
	interval := max(m.cfg.IdleTTL/4, minReapInterval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Reap(ctx)
		case <-ctx.Done():
			return
		}
	}
}
