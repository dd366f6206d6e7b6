package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024

	// EnvPrefix prefixes every talkd environment variable.
	EnvPrefix = "TALKD_"
)

// envAliases maps the unprefixed variables shared with the web app onto
// config keys. Prefixed TALKD_ variables win over these.
var envAliases = map[string]string{
	"DATABASE_URL":        "store.database_url",
	"NATS_URL":            "events.url",
	"HUME_API_KEY":        "hume.api_key",
	"HUME_SECRET_KEY":     "hume.secret_key",
	"SUPABASE_JWT_SECRET": "auth.jwt_secret",
	"COMPOSIO_API_KEY":    "agent.composio_api_key",
	"X_AGENT_TOPICS":      "agent.topics",
	"X_AGENT_MAX_ACTIONS": "agent.max_actions",
}

// Load reads configuration with this precedence, highest first:
//
//  1. TALKD_ environment variables (TALKD_SERVER_PORT -> server.port)
//  2. Shared aliases (DATABASE_URL, COMPOSIO_API_KEY, X_AGENT_TOPICS, ...)
//  3. The YAML file at configPath, default ~/.config/talkd/config.yaml
//  4. Defaults()
//
// The YAML file must live under ~/.config/talkd/ or /etc/talkd/, be mode
// 0600 or 0400 and be at most 1MB. A missing file is not an error.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		dir, err := DefaultDir()
		if err != nil {
			return nil, err
		}
		configPath = filepath.Join(dir, "config.yaml")
	}

	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	content, err := readConfigFile(configPath)
	if err != nil {
		return nil, err
	}
	if content != nil {
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.ProviderWithValue("", ".", aliasKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env aliases: %w", err)
	}
	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", prefixedKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Defaults()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// DefaultDir returns ~/.config/talkd.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "talkd"), nil
}

// EnsureConfigDir creates the talkd config directory with 0700 permissions.
func EnsureConfigDir() error {
	dir, err := DefaultDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}
	return nil
}

// aliasKey keeps only the variables in envAliases.
func aliasKey(key, value string) (string, interface{}) {
	mapped, ok := envAliases[key]
	if !ok {
		return "", nil
	}
	return mapped, envValue(mapped, value)
}

// prefixedKey maps TALKD_SECTION_FIELD_NAME to section.field_name.
func prefixedKey(key, value string) (string, interface{}) {
	lower := strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower, value
	}
	mapped := parts[0] + "." + parts[1]
	return mapped, envValue(mapped, value)
}

var listKeys = map[string]bool{
	"agent.topics":     true,
	"auth.admin_users": true,
}

// envValue splits comma-separated list keys.
func envValue(key, value string) interface{} {
	if !listKeys[key] {
		return value
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// readConfigFile returns nil content when the file does not exist. The file
// is validated through the open descriptor.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// validateConfigPath checks the path is inside an allowed directory, after
// resolving symlinks when the path exists.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		resolved = absPath
	}

	userDir, err := DefaultDir()
	if err != nil {
		return err
	}
	for _, dir := range []string{userDir, "/etc/talkd"} {
		if resolved == dir || strings.HasPrefix(resolved, dir+string(filepath.Separator)) {
			return nil
		}
	}
	return fmt.Errorf("config file must be in ~/.config/talkd/ or /etc/talkd/")
}

func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}
