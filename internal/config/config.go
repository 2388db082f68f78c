// Package config loads client settings from ~/.config/rally/config.yaml,
// an optional .env file and RALLY_* environment variables, in that order
// of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	configFile = "config.yaml"
	authFile   = "auth.yaml"

	defaultServerURL     = "http://localhost:8080"
	defaultSyncTimeout   = 30 * time.Second
	defaultProbeInterval = 10 * time.Second
	defaultUndoLimit     = 50
)

// SyncConfig tunes replication.
type SyncConfig struct {
	Timeout       Duration `yaml:"timeout,omitempty"`
	Live          *bool    `yaml:"live,omitempty"` // nil = default true
	PageSize      int      `yaml:"page_size,omitempty"`
	RetryInterval Duration `yaml:"retry_interval,omitempty"`
	ProbeInterval Duration `yaml:"probe_interval,omitempty"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"` // "text" or "json"
}

// Config is the client configuration.
type Config struct {
	ServerURL string     `yaml:"server_url,omitempty"`
	Sync      SyncConfig `yaml:"sync,omitempty"`
	Log       LogConfig  `yaml:"log,omitempty"`
	UndoLimit int        `yaml:"undo_limit,omitempty"`
}

// AuthCredentials is the login state stored next to the config with 0600 perms.
type AuthCredentials struct {
	APIKey    string `yaml:"api_key"`
	UserID    string `yaml:"user_id"`
	Email     string `yaml:"email,omitempty"`
	ServerURL string `yaml:"server_url,omitempty"`
}

// Duration is a time.Duration written as "30s" in YAML.
type Duration time.Duration

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*d = Duration(v)
	return nil
}

// Dir returns the config directory: $RALLY_CONFIG_DIR or ~/.config/rally.
func Dir() (string, error) {
	if v := os.Getenv("RALLY_CONFIG_DIR"); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".config", "rally"), nil
}

// Load reads the config file, loads .env and applies environment overrides.
// A missing file yields defaults.
func Load() (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}
	cfg, err := loadFile()
	if err != nil {
		return nil, err
	}
	applyEnv(cfg)
	return cfg, nil
}

// loadDotEnv reads $RALLY_ENV_FILE or ./.env. Existing variables win.
func loadDotEnv() error {
	path := os.Getenv("RALLY_ENV_FILE")
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func loadFile() (*Config, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	data, err := os.ReadFile(filepath.Join(dir, configFile))
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", configFile, err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("RALLY_SERVER_URL"); v != "" {
		cfg.ServerURL = v
	}
	if d, ok := durationEnv("RALLY_SYNC_TIMEOUT"); ok {
		cfg.Sync.Timeout = Duration(d)
	}
	if d, ok := durationEnv("RALLY_PROBE_INTERVAL"); ok {
		cfg.Sync.ProbeInterval = Duration(d)
	}
	if v := parseBoolEnv("RALLY_SYNC_LIVE"); v != nil {
		cfg.Sync.Live = v
	}
	if v := os.Getenv("RALLY_UNDO_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.UndoLimit = n
		}
	}
	if v := os.Getenv("RALLY_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("RALLY_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// Save writes the config file atomically (temp file + rename).
func Save(cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return writeFile(configFile, data, 0644)
}

func writeFile(name string, data []byte, perm os.FileMode) error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, name+"-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, filepath.Join(dir, name))
}

// ServerURLOrDefault returns the configured server URL.
func (c *Config) ServerURLOrDefault() string {
	if c.ServerURL != "" {
		return strings.TrimRight(c.ServerURL, "/")
	}
	return defaultServerURL
}

func (c *Config) SyncTimeout() time.Duration {
	if c.Sync.Timeout > 0 {
		return time.Duration(c.Sync.Timeout)
	}
	return defaultSyncTimeout
}

func (c *Config) ProbeInterval() time.Duration {
	if c.Sync.ProbeInterval > 0 {
		return time.Duration(c.Sync.ProbeInterval)
	}
	return defaultProbeInterval
}

// LiveSync reports whether channels follow the change feed after catching up.
func (c *Config) LiveSync() bool {
	return c.Sync.Live == nil || *c.Sync.Live
}

func (c *Config) UndoDepth() int {
	if c.UndoLimit > 0 {
		return c.UndoLimit
	}
	return defaultUndoLimit
}

// Logger builds the slog logger described by Log.
func (c *Config) Logger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// LoadAuth reads stored credentials; nil when not logged in.
func LoadAuth() (*AuthCredentials, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, authFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var creds AuthCredentials
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parse %s: %w", authFile, err)
	}
	return &creds, nil
}

// SaveAuth writes credentials with 0600 perms.
func SaveAuth(creds *AuthCredentials) error {
	data, err := yaml.Marshal(creds)
	if err != nil {
		return err
	}
	return writeFile(authFile, data, 0600)
}

// ClearAuth removes stored credentials.
func ClearAuth() error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	err = os.Remove(filepath.Join(dir, authFile))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// APIKey returns the API key.
// Priority: RALLY_AUTH_KEY env > auth.yaml.
func APIKey() string {
	if v := os.Getenv("RALLY_AUTH_KEY"); v != "" {
		return v
	}
	creds, err := LoadAuth()
	if err == nil && creds != nil {
		return creds.APIKey
	}
	return ""
}

func durationEnv(key string) (time.Duration, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}

// parseBoolEnv returns nil if env not set, pointer to bool if set.
func parseBoolEnv(envKey string) *bool {
	switch strings.ToLower(os.Getenv(envKey)) {
	case "1", "true":
		b := true
		return &b
	case "0", "false":
		b := false
		return &b
	}
	return nil
}
