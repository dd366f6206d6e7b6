package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/J3rah/talkai-monorepo-sub002/internal/backend"
	"github.com/J3rah/talkai-monorepo-sub002/internal/store"
)

// record drains src into the flow transcript until the connection closes.
// With persist set, each turn and its emotion scores are also written to
// the chat session. Write failures are logged and the turn is kept in
// memory only.
func (m *Manager) record(ctx context.Context, f *flow, src TurnSource, sessionID string, persist bool) {
	defer close(f.recorded)

	for turn := range src.Turns() {
		f.mu.Lock()
		f.transcript = append(f.transcript, backend.Turn{Role: turn.Role, Content: turn.Content})
		f.updatedAt = m.now()
		f.mu.Unlock()

		if !persist {
			continue
		}
		at := turn.ReceivedAt
		if at.IsZero() {
			at = m.now()
		}
		msg := store.Message{
			SessionID: sessionID,
			Role:      turn.Role,
			Content:   turn.Content,
			Emotions:  turn.Emotions,
			CreatedAt: at.UTC().Truncate(time.Microsecond),
		}
		if _, err := m.cfg.Store.AppendMessage(ctx, msg, store.MetricsFromEmotions(msg)); err != nil {
			m.metrics.RecordFailures.Inc()
			m.logger.Warn(ctx, "persisting transcript turn failed", zap.String("role", turn.Role), zap.Error(err))
		}
	}
}
