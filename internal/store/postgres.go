package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/J3rah/talkai-monorepo-sub002/internal/logging"
	"github.com/J3rah/talkai-monorepo-sub002/internal/tier"
	"github.com/J3rah/talkai-monorepo-sub002/internal/voice"
)

//go:embed migrations/*.sql
var migrations embed.FS

// PostgresConfig configures the pool.
type PostgresConfig struct {
	URL      string
	MaxConns int32
	Logger   *logging.Logger
}

// Postgres is a Store over a pgx pool.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *logging.Logger
}

// NewPostgres opens and pings the pool.
func NewPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	if cfg.URL == "" {
		return nil, errors.New("database url is required")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger is required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("opening pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	cfg.Logger.Info(ctx, "database pool ready",
		zap.String("host", poolCfg.ConnConfig.Host),
		zap.Int32("max_conns", poolCfg.MaxConns))
	return &Postgres{pool: pool, logger: cfg.Logger}, nil
}

// Migrate applies the embedded migrations.
func (p *Postgres) Migrate(ctx context.Context) error {
	sub, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}
	db := stdlib.OpenDBFromPool(p.pool)
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, sub)
	if err != nil {
		return fmt.Errorf("creating migration provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	for _, r := range results {
		p.logger.Info(ctx, "migration applied",
			zap.Int64("version", r.Source.Version),
			zap.Duration("duration", r.Duration))
	}
	return nil
}

func (p *Postgres) ListVoiceConfigurations(ctx context.Context) ([]voice.Configuration, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, display_name, character_name, description, required_tier, COALESCE(hume_config_id, '')
		FROM voice_configurations
		ORDER BY sort_order, display_name`)
	if err != nil {
		return nil, fmt.Errorf("listing voice configurations: %w", err)
	}
	defer rows.Close()

	var out []voice.Configuration
	for rows.Next() {
		var (
			c        voice.Configuration
			required string
		)
		if err := rows.Scan(&c.ID, &c.DisplayName, &c.CharacterName, &c.Description, &required, &c.ProviderConfigID); err != nil {
			return nil, fmt.Errorf("scanning voice configuration: %w", err)
		}
		c.Tier = tier.Parse(required)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *Postgres) GetProfile(ctx context.Context, userID string) (Profile, error) {
	var pr Profile
	err := p.pool.QueryRow(ctx, `
		SELECT id, subscription_status, COALESCE(voice_config_id, ''), COALESCE(therapist_name, ''),
		       data_saving_preference, updated_at
		FROM profiles WHERE id = $1`, userID).
		Scan(&pr.ID, &pr.SubscriptionStatus, &pr.VoiceConfigID, &pr.TherapistName, &pr.DataSaving, &pr.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Profile{}, fmt.Errorf("profile %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return Profile{}, fmt.Errorf("getting profile: %w", err)
	}
	return pr, nil
}

func (p *Postgres) SavePreferences(ctx context.Context, userID string, prefs Preferences) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE profiles
		SET voice_config_id = $2, therapist_name = $3, data_saving_preference = $4, updated_at = now()
		WHERE id = $1`, userID, prefs.VoiceConfigID, prefs.TherapistName, prefs.DataSaving)
	if err != nil {
		return fmt.Errorf("saving preferences: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("profile %s: %w", userID, ErrNotFound)
	}
	return nil
}

func (p *Postgres) CreateSession(ctx context.Context, s ChatSession) (ChatSession, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.StartedAt.IsZero() {
		s.StartedAt = time.Now().UTC()
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO chat_sessions (id, user_id, voice_config_id, therapist_name, data_saving, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		s.ID, s.UserID, s.VoiceConfigID, s.TherapistName, s.DataSaving, s.StartedAt)
	if err != nil {
		return ChatSession{}, fmt.Errorf("creating session: %w", err)
	}
	return s, nil
}

func (p *Postgres) GetSession(ctx context.Context, id string) (ChatSession, error) {
	var (
		s       ChatSession
		journal *string
	)
	err := p.pool.QueryRow(ctx, `
		SELECT id, user_id, voice_config_id, therapist_name, data_saving, started_at, ended_at,
		       duration_seconds, journal_entry_id
		FROM chat_sessions WHERE id = $1`, id).
		Scan(&s.ID, &s.UserID, &s.VoiceConfigID, &s.TherapistName, &s.DataSaving, &s.StartedAt,
			&s.EndedAt, &s.DurationSeconds, &journal)
	if errors.Is(err, pgx.ErrNoRows) {
		return ChatSession{}, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return ChatSession{}, fmt.Errorf("getting session: %w", err)
	}
	if journal != nil {
		s.JournalEntryID = *journal
	}
	return s, nil
}

func (p *Postgres) EndSession(ctx context.Context, id string, endedAt time.Time, durationSeconds int) error {
	return p.execOne(ctx, "ending session", id,
		`UPDATE chat_sessions SET ended_at = $2, duration_seconds = $3 WHERE id = $1`,
		id, endedAt, durationSeconds)
}

func (p *Postgres) LinkJournalEntry(ctx context.Context, sessionID, entryID string) error {
	return p.execOne(ctx, "linking journal entry", sessionID,
		`UPDATE chat_sessions SET journal_entry_id = $2 WHERE id = $1`, sessionID, entryID)
}

func (p *Postgres) execOne(ctx context.Context, op, id, sql string, args ...any) error {
	tag, err := p.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return nil
}

func (p *Postgres) AppendMessage(ctx context.Context, m Message, metrics []EmotionMetric) (Message, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		var emotions any
		if len(m.Emotions) > 0 {
			emotions = m.Emotions
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO chat_messages (id, session_id, role, content, emotion_data, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			m.ID, m.SessionID, m.Role, m.Content, emotions, m.CreatedAt); err != nil {
			return fmt.Errorf("inserting message: %w", err)
		}
		if len(metrics) == 0 {
			return nil
		}

		rows := make([][]any, 0, len(metrics))
		for _, em := range metrics {
			created := em.CreatedAt
			if created.IsZero() {
				created = m.CreatedAt
			}
			rows = append(rows, []any{m.SessionID, m.ID, em.EmotionType, em.Intensity, em.Confidence, created})
		}
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"emotion_metrics"},
			[]string{"session_id", "message_id", "emotion_type", "intensity", "confidence", "created_at"},
			pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("inserting emotion metrics: %w", err)
		}
		return nil
	})
	if err != nil {
		return Message{}, err
	}
	return m, nil
}

func (p *Postgres) ListMessages(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, session_id, role, content, emotion_data, created_at
		FROM chat_messages WHERE session_id = $1
		ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.Emotions, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (p *Postgres) ListEmotionMetrics(ctx context.Context, sessionID string) ([]EmotionMetric, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT session_id, message_id, emotion_type, intensity, confidence, created_at
		FROM emotion_metrics WHERE session_id = $1
		ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing emotion metrics: %w", err)
	}
	defer rows.Close()

	var out []EmotionMetric
	for rows.Next() {
		var em EmotionMetric
		if err := rows.Scan(&em.SessionID, &em.MessageID, &em.EmotionType, &em.Intensity, &em.Confidence, &em.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning emotion metric: %w", err)
		}
		out = append(out, em)
	}
	return out, rows.Err()
}

// Close releases the pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

var _ Store = (*Postgres)(nil)
