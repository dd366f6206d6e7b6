// Package config provides configuration loading for talkd.
//
// Values come from hardcoded defaults, an optional YAML file and environment
// variables, in increasing order of precedence. See Load.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete talkd configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Log       LogConfig       `koanf:"log"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Store     StoreConfig     `koanf:"store"`
	Voice     VoiceConfig     `koanf:"voice"`
	Bridge    BridgeConfig    `koanf:"bridge"`
	Analytics AnalyticsConfig `koanf:"analytics"`
	Backend   BackendConfig   `koanf:"backend"`
	Agent     AgentConfig     `koanf:"agent"`
	Hume      HumeConfig      `koanf:"hume"`
	Events    EventsConfig    `koanf:"events"`
	Auth      AuthConfig      `koanf:"auth"`
	Session   SessionConfig   `koanf:"session"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LogConfig selects the log level and encoder.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig controls OTLP export.
type TelemetryConfig struct {
	Enabled    bool    `koanf:"enabled"`
	Endpoint   string  `koanf:"endpoint"`
	Protocol   string  `koanf:"protocol"`
	Insecure   bool    `koanf:"insecure"`
	SampleRate float64 `koanf:"sample_rate"`
}

// StoreConfig selects the persistence backend. An empty DatabaseURL means
// the in-memory store.
type StoreConfig struct {
	DatabaseURL Secret `koanf:"database_url"`
	MaxConns    int32  `koanf:"max_conns"`
	Migrate     bool   `koanf:"migrate"`
}

// VoiceConfig controls the voice catalog loader.
type VoiceConfig struct {
	FetchTimeout Duration `koanf:"fetch_timeout"`
	// CatalogFile optionally replaces the embedded fallback catalog.
	CatalogFile string `koanf:"catalog_file"`
	WatchFile   bool   `koanf:"watch_file"`
}

// BridgeConfig controls the voice connection bridge.
type BridgeConfig struct {
	ConnectTimeout Duration `koanf:"connect_timeout"`
	// TrialTimeout of zero disables the client deadline for trial sessions.
	TrialTimeout Duration `koanf:"trial_timeout"`
}

// AnalyticsConfig controls the session completion flow.
type AnalyticsConfig struct {
	ProfileAttempts  int      `koanf:"profile_attempts"`
	ProfileDelay     Duration `koanf:"profile_delay"`
	MessageAttempts  int      `koanf:"message_attempts"`
	MessageDelay     Duration `koanf:"message_delay"`
	NoSessionDelay   Duration `koanf:"no_session_delay"`
	FeedbackMaxTurns int      `koanf:"feedback_max_turns"`
	ScrubTranscripts bool     `koanf:"scrub_transcripts"`
}

// BackendConfig points at the sibling web backend.
type BackendConfig struct {
	BaseURL   string   `koanf:"base_url"`
	Timeout   Duration `koanf:"timeout"`
	RateLimit float64  `koanf:"rate_limit"`
	RateBurst int      `koanf:"rate_burst"`
}

// AgentConfig holds the engagement agent admin settings.
type AgentConfig struct {
	Name           string   `koanf:"name"`
	ComposioAPIKey Secret   `koanf:"composio_api_key"`
	Topics         []string `koanf:"topics"`
	MaxActions     int      `koanf:"max_actions"`
}

// HumeConfig holds Hume EVI credentials and endpoints.
type HumeConfig struct {
	APIKey    Secret `koanf:"api_key"`
	SecretKey Secret `koanf:"secret_key"`
	TokenURL  string `koanf:"token_url"`
	ChatURL   string `koanf:"chat_url"`
}

// EventsConfig controls NATS publishing. An empty URL disables it.
type EventsConfig struct {
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// AuthConfig holds Supabase access token verification settings.
type AuthConfig struct {
	JWTSecret Secret `koanf:"jwt_secret"`
	Audience  string `koanf:"audience"`
	// AllowAnonymous lets unauthenticated callers use the trial flow.
	AllowAnonymous bool `koanf:"allow_anonymous"`
	// AdminUsers may call the agent admin routes in addition to tokens
	// whose app_metadata role is "admin".
	AdminUsers []string `koanf:"admin_users"`
}

// SessionConfig controls the in-process flow store.
type SessionConfig struct {
	IdleTTL Duration `koanf:"idle_ttl"`
}

// Defaults returns the hardcoded configuration.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8787,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Endpoint:   "localhost:4317",
			Protocol:   "grpc",
			Insecure:   true,
			SampleRate: 1.0,
		},
		Store: StoreConfig{
			MaxConns: 10,
			Migrate:  true,
		},
		Voice: VoiceConfig{
			FetchTimeout: Duration(5 * time.Second),
		},
		Bridge: BridgeConfig{
			ConnectTimeout: Duration(10 * time.Second),
		},
		Analytics: AnalyticsConfig{
			ProfileAttempts:  3,
			ProfileDelay:     Duration(300 * time.Millisecond),
			MessageAttempts:  3,
			MessageDelay:     Duration(1500 * time.Millisecond),
			NoSessionDelay:   Duration(time.Second),
			FeedbackMaxTurns: 100,
			ScrubTranscripts: true,
		},
		Backend: BackendConfig{
			BaseURL:   "http://localhost:3000",
			Timeout:   Duration(30 * time.Second),
			RateLimit: 5,
			RateBurst: 10,
		},
		Agent: AgentConfig{
			Name:       "x-engagement",
			MaxActions: 10,
		},
		Hume: HumeConfig{
			TokenURL: "https://api.hume.ai/oauth2-cc/token",
			ChatURL:  "wss://api.hume.ai/v0/evi/chat",
		},
		Events: EventsConfig{
			SubjectPrefix: "talkai",
		},
		Auth: AuthConfig{
			Audience:       "authenticated",
			AllowAnonymous: true,
		},
		Session: SessionConfig{
			IdleTTL: Duration(2 * time.Hour),
		},
	}
}

// Validate checks the configuration for values talkd cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("server shutdown timeout must be positive")
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		return fmt.Errorf("log format must be 'json' or 'console', got %q", c.Log.Format)
	}
	if c.Voice.FetchTimeout.Duration() <= 0 {
		return errors.New("voice fetch timeout must be positive")
	}
	if c.Bridge.ConnectTimeout.Duration() <= 0 {
		return errors.New("bridge connect timeout must be positive")
	}
	if c.Analytics.ProfileAttempts < 1 || c.Analytics.MessageAttempts < 1 {
		return errors.New("analytics attempts must be at least 1")
	}
	if c.Analytics.FeedbackMaxTurns < 1 {
		return errors.New("analytics feedback_max_turns must be at least 1")
	}
	if c.Backend.BaseURL == "" {
		return errors.New("backend base_url is required")
	}
	if c.Backend.RateLimit <= 0 || c.Backend.RateBurst < 1 {
		return errors.New("backend rate limit and burst must be positive")
	}
	if c.Agent.Name == "" {
		return errors.New("agent name is required")
	}
	if c.Agent.MaxActions < 0 {
		return fmt.Errorf("agent max_actions cannot be negative: %d", c.Agent.MaxActions)
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return fmt.Errorf("telemetry sample_rate must be between 0 and 1, got %f", c.Telemetry.SampleRate)
	}
	if !c.Auth.AllowAnonymous && !c.Auth.JWTSecret.IsSet() {
		return errors.New("auth jwt_secret is required when anonymous access is disabled")
	}
	return nil
}
