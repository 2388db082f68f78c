package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func setupDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("RALLY_CONFIG_DIR", dir)
	t.Setenv("RALLY_ENV_FILE", filepath.Join(dir, "none.env"))
	for _, k := range []string{"RALLY_SERVER_URL", "RALLY_SYNC_TIMEOUT", "RALLY_PROBE_INTERVAL", "RALLY_SYNC_LIVE",
		"RALLY_UNDO_LIMIT", "RALLY_LOG_LEVEL", "RALLY_LOG_FORMAT", "RALLY_AUTH_KEY"} {
		t.Setenv(k, "")
	}
	return dir
}

func TestLoadDefaults(t *testing.T) {
	setupDir(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.ServerURLOrDefault(); got != defaultServerURL {
		t.Errorf("server url = %q", got)
	}
	if cfg.SyncTimeout() != 30*time.Second {
		t.Errorf("sync timeout = %v", cfg.SyncTimeout())
	}
	if !cfg.LiveSync() {
		t.Error("live sync off by default")
	}
	if cfg.UndoDepth() != 50 {
		t.Errorf("undo depth = %d", cfg.UndoDepth())
	}
}

func TestLoadFile(t *testing.T) {
	dir := setupDir(t)
	data := `server_url: https://sync.example.com/
sync:
  timeout: 45s
  live: false
  probe_interval: 1m
undo_limit: 20
log:
  level: debug
  format: json
`
	if err := os.WriteFile(filepath.Join(dir, configFile), []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServerURLOrDefault() != "https://sync.example.com" {
		t.Errorf("server url = %q", cfg.ServerURLOrDefault())
	}
	if cfg.SyncTimeout() != 45*time.Second || cfg.ProbeInterval() != time.Minute {
		t.Errorf("timeouts = %v, %v", cfg.SyncTimeout(), cfg.ProbeInterval())
	}
	if cfg.LiveSync() {
		t.Error("live sync should be off")
	}
	if cfg.UndoDepth() != 20 {
		t.Errorf("undo depth = %d", cfg.UndoDepth())
	}
	if cfg.Logger() == nil {
		t.Error("nil logger")
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	dir := setupDir(t)
	os.WriteFile(filepath.Join(dir, configFile), []byte("sync:\n  timeout: soon\n"), 0644)
	if _, err := Load(); err == nil {
		t.Fatal("Load accepted an invalid duration")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dir := setupDir(t)
	os.WriteFile(filepath.Join(dir, configFile), []byte("server_url: http://file\nundo_limit: 20\n"), 0644)
	t.Setenv("RALLY_SERVER_URL", "http://env")
	t.Setenv("RALLY_UNDO_LIMIT", "7")
	t.Setenv("RALLY_SYNC_TIMEOUT", "bogus")
	t.Setenv("RALLY_SYNC_LIVE", "0")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ServerURLOrDefault() != "http://env" {
		t.Errorf("server url = %q", cfg.ServerURLOrDefault())
	}
	if cfg.UndoDepth() != 7 {
		t.Errorf("undo depth = %d", cfg.UndoDepth())
	}
	if cfg.SyncTimeout() != 30*time.Second {
		t.Errorf("invalid env duration should fall back, got %v", cfg.SyncTimeout())
	}
	if cfg.LiveSync() {
		t.Error("RALLY_SYNC_LIVE=0 ignored")
	}
}

func TestDotEnv(t *testing.T) {
	dir := setupDir(t)
	envFile := filepath.Join(dir, "test.env")
	os.WriteFile(envFile, []byte("RALLY_LOG_LEVEL=warn\nRALLY_TEST_ONLY=from-file\n"), 0644)
	t.Setenv("RALLY_ENV_FILE", envFile)
	t.Setenv("RALLY_TEST_ONLY", "from-env")
	os.Unsetenv("RALLY_LOG_LEVEL")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("log level = %q, want warn from .env", cfg.Log.Level)
	}
	if got := os.Getenv("RALLY_TEST_ONLY"); got != "from-env" {
		t.Errorf(".env overrode existing variable: %q", got)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	setupDir(t)
	live := false
	in := &Config{ServerURL: "http://x", Sync: SyncConfig{Timeout: Duration(5 * time.Second), Live: &live}}
	if err := Save(in); err != nil {
		t.Fatalf("Save: %v", err)
	}
	out, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if out.ServerURL != "http://x" || out.SyncTimeout() != 5*time.Second || out.LiveSync() {
		t.Errorf("round trip = %+v", out)
	}
}

func TestAuth(t *testing.T) {
	dir := setupDir(t)

	creds, err := LoadAuth()
	if err != nil || creds != nil {
		t.Fatalf("LoadAuth before login = %v, %v", creds, err)
	}
	if APIKey() != "" {
		t.Error("APIKey set before login")
	}

	if err := SaveAuth(&AuthCredentials{APIKey: "rk_123", UserID: "u1"}); err != nil {
		t.Fatalf("SaveAuth: %v", err)
	}
	info, err := os.Stat(filepath.Join(dir, authFile))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("auth perms = %v", info.Mode().Perm())
	}
	if APIKey() != "rk_123" {
		t.Errorf("APIKey = %q", APIKey())
	}

	t.Setenv("RALLY_AUTH_KEY", "rk_env")
	if APIKey() != "rk_env" {
		t.Errorf("env key ignored: %q", APIKey())
	}

	if err := ClearAuth(); err != nil {
		t.Fatal(err)
	}
	if err := ClearAuth(); err != nil {
		t.Errorf("second ClearAuth: %v", err)
	}
}
