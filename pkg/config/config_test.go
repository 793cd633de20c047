package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/samber/mo"

	"github.com/shawkym/matrixsync/pkg/matrix"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func clearMatrixEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"MATRIX_USER", "MATRIX_PASSWORD", "MATRIX_ACCESS_TOKEN", "MATRIX_HOMESERVER"} {
		t.Setenv(key, "")
	}
}

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	if cfg.Version != "1.0" {
		t.Errorf("Expected Version to be '1.0', got %s", cfg.Version)
	}
	if cfg.Homeserver.URL != DefaultHomeserver {
		t.Errorf("Expected homeserver %s, got %s", DefaultHomeserver, cfg.Homeserver.URL)
	}
	if cfg.Sync.TimeoutMs != DefaultSyncTimeoutMs {
		t.Errorf("Expected sync timeout %d, got %d", DefaultSyncTimeoutMs, cfg.Sync.TimeoutMs)
	}
	if cfg.Metrics.Enabled {
		t.Error("Expected metrics to be disabled by default")
	}
	if cfg.Export.Format != FormatJSONL {
		t.Errorf("Expected export format jsonl, got %s", cfg.Export.Format)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:   "defaults",
			mutate: func(c *Config) {},
		},
		{
			name:    "bad homeserver scheme",
			mutate:  func(c *Config) { c.Homeserver.URL = "matrix.org" },
			wantErr: true,
			errMsg:  "homeserver.url",
		},
		{
			name:    "negative timeout",
			mutate:  func(c *Config) { c.Sync.TimeoutMs = -1 },
			wantErr: true,
			errMsg:  "sync.timeout_ms",
		},
		{
			name:    "unknown presence",
			mutate:  func(c *Config) { c.Sync.SetPresence = "busy" },
			wantErr: true,
			errMsg:  "sync.set_presence",
		},
		{
			name:   "known presence",
			mutate: func(c *Config) { c.Sync.SetPresence = "unavailable" },
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "chatty" },
			wantErr: true,
			errMsg:  "invalid logging level",
		},
		{
			name:   "unlimited restarts",
			mutate: func(c *Config) { c.Restart.MaxRestarts = -1 },
		},
		{
			name:    "bad max restarts",
			mutate:  func(c *Config) { c.Restart.MaxRestarts = -2 },
			wantErr: true,
			errMsg:  "restart.max_restarts",
		},
		{
			name:    "negative restart rate",
			mutate:  func(c *Config) { c.Restart.PerMinute = -1 },
			wantErr: true,
			errMsg:  "restart.per_minute",
		},
		{
			name:    "bad export format",
			mutate:  func(c *Config) { c.Export.Format = "csv" },
			wantErr: true,
			errMsg:  "invalid export format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Validate() error = %v, want it to contain %q", err, tt.errMsg)
			}
		})
	}
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	clearMatrixEnv(t)
	path := writeConfig(t, `
homeserver:
  url: https://matrix.example.org
sync:
  filter: "66696p746572"
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Homeserver.URL != "https://matrix.example.org" {
		t.Errorf("homeserver = %s", cfg.Homeserver.URL)
	}
	if cfg.Sync.TimeoutMs != DefaultSyncTimeoutMs {
		t.Errorf("timeout = %d, want default", cfg.Sync.TimeoutMs)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("log level = %s, want info", cfg.Logging.Level)
	}
	if cfg.Metrics.Addr != DefaultMetricsAddr {
		t.Errorf("metrics addr = %s", cfg.Metrics.Addr)
	}
	if cfg.Version != "1.0" {
		t.Errorf("version = %s", cfg.Version)
	}
	if cfg.Restart.MaxRestarts != 0 || cfg.Restart.PerMinute != 2 || cfg.Restart.Burst != 1 {
		t.Errorf("restart = %+v, want disabled with default pacing", cfg.Restart)
	}
	if cfg.Restart.RateLimitedPause() != 30*time.Second {
		t.Errorf("rate limited pause = %v", cfg.Restart.RateLimitedPause())
	}
}

func TestLoadConfigDisplayAndRestart(t *testing.T) {
	clearMatrixEnv(t)
	path := writeConfig(t, `
display:
  event_types: ["m.room.message", "m.room.member"]
  ignore_senders: ["@spammer:example.org"]
  skip_empty: true
restart:
  max_restarts: -1
  per_minute: 0.5
  rate_limited_pause_sec: 120
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if len(cfg.Display.EventTypes) != 2 || cfg.Display.IgnoreSenders[0] != "@spammer:example.org" || !cfg.Display.SkipEmpty {
		t.Errorf("display = %+v", cfg.Display)
	}
	if cfg.Restart.MaxRestarts != -1 || cfg.Restart.PerMinute != 0.5 || cfg.Restart.Burst != 1 {
		t.Errorf("restart = %+v", cfg.Restart)
	}
	if cfg.Restart.RateLimitedPause() != 2*time.Minute {
		t.Errorf("rate limited pause = %v", cfg.Restart.RateLimitedPause())
	}
}

func TestLoadConfigEnvironmentFallbacks(t *testing.T) {
	t.Setenv("MATRIX_USER", "cheeky_monkey")
	t.Setenv("MATRIX_PASSWORD", "the_password")
	t.Setenv("MATRIX_ACCESS_TOKEN", "")
	t.Setenv("MATRIX_HOMESERVER", "http://localhost:8008")

	path := writeConfig(t, "version: \"1.0\"\n")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Auth.User != "cheeky_monkey" || cfg.Auth.Password != "the_password" {
		t.Errorf("credentials not taken from environment: %+v", cfg.Auth)
	}
	if cfg.Homeserver.URL != "http://localhost:8008" {
		t.Errorf("homeserver = %s, want env value", cfg.Homeserver.URL)
	}
}

func TestLoadConfigFileWinsOverEnvironment(t *testing.T) {
	t.Setenv("MATRIX_ACCESS_TOKEN", "from-env")
	path := writeConfig(t, "auth:\n  access_token: from-file\n")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Auth.AccessToken != "from-file" {
		t.Errorf("access token = %s, want from-file", cfg.Auth.AccessToken)
	}
}

func TestLoadConfigKeepsZeroTimeout(t *testing.T) {
	clearMatrixEnv(t)
	path := writeConfig(t, `
homeserver:
  url: https://matrix.example.org
sync:
  timeout_ms: 0
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Sync.TimeoutMs != 0 {
		t.Errorf("timeout = %d, want 0", cfg.Sync.TimeoutMs)
	}
	opts, err := cfg.Sync.Parameters()
	if err != nil {
		t.Fatalf("Parameters() error = %v", err)
	}
	if opts.Timeout != 0 {
		t.Errorf("poll timeout = %s, want 0", opts.Timeout)
	}

	saved := filepath.Join(t.TempDir(), "saved.yaml")
	if err := cfg.SaveConfig(saved); err != nil {
		t.Fatalf("SaveConfig() error = %v", err)
	}
	reloaded, err := LoadConfig(saved)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if reloaded.Sync.TimeoutMs != 0 {
		t.Errorf("reloaded timeout = %d, want 0", reloaded.Sync.TimeoutMs)
	}
}

func TestLoadConfigOrDefaultWithoutFile(t *testing.T) {
	clearMatrixEnv(t)
	t.Setenv("MATRIX_ACCESS_TOKEN", "abc123")

	cfg, err := LoadConfigOrDefault("")
	if err != nil {
		t.Fatalf("LoadConfigOrDefault() error = %v", err)
	}
	if cfg.Homeserver.URL != DefaultHomeserver {
		t.Errorf("homeserver = %s, want %s", cfg.Homeserver.URL, DefaultHomeserver)
	}
	if cfg.Auth.AccessToken != "abc123" {
		t.Errorf("access token = %s, want abc123", cfg.Auth.AccessToken)
	}
	if cfg.Sync.TimeoutMs != DefaultSyncTimeoutMs || cfg.Export.Format != FormatJSONL {
		t.Errorf("defaults not applied: %+v", cfg)
	}

	t.Setenv("MATRIX_HOMESERVER", "ftp://example.org")
	if _, err := LoadConfigOrDefault(""); err == nil {
		t.Error("expected invalid homeserver from environment to be rejected")
	}
}

func TestLoadConfigErrors(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	path := writeConfig(t, "sync: [unbalanced")
	if _, err := LoadConfig(path); err == nil || !strings.Contains(err.Error(), "failed to parse") {
		t.Errorf("expected parse error, got %v", err)
	}

	path = writeConfig(t, "export:\n  format: csv\n")
	if _, err := LoadConfig(path); err == nil || !strings.Contains(err.Error(), "invalid configuration") {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	clearMatrixEnv(t)
	cfg := NewDefaultConfig()
	cfg.Sync.FullState = boolPtr(true)
	cfg.Sync.Rooms = []string{"!a:example.org"}
	cfg.Export.Path = "/tmp/out.jsonl"

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if err := cfg.SaveConfig(path); err != nil {
		t.Fatalf("SaveConfig() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("config permissions = %v, want 0600", info.Mode().Perm())
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if loaded.Sync.FullState == nil || !*loaded.Sync.FullState {
		t.Error("full_state lost in round trip")
	}
	if len(loaded.Sync.Rooms) != 1 || loaded.Export.Path != "/tmp/out.jsonl" {
		t.Errorf("round trip mismatch: %+v", loaded)
	}
}

func TestSyncConfigParameters(t *testing.T) {
	tests := []struct {
		name       string
		sync       SyncConfig
		wantFilter mo.Option[string]
		wantErr    bool
	}{
		{
			name: "timeout only",
			sync: SyncConfig{TimeoutMs: 5000},
		},
		{
			name:       "explicit filter",
			sync:       SyncConfig{Filter: "abc", Rooms: []string{"!ignored:b"}},
			wantFilter: mo.Some("abc"),
		},
		{
			name:       "rooms filter",
			sync:       SyncConfig{Rooms: []string{"!a:b"}, TimelineLimit: 10},
			wantFilter: mo.Some(`{"room":{"rooms":["!a:b"],"timeline":{"limit":10}}}`),
		},
		{
			name:    "bad presence",
			sync:    SyncConfig{SetPresence: "away"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := tt.sync.Parameters()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parameters() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if opts.Timeout != time.Duration(tt.sync.TimeoutMs)*time.Millisecond {
				t.Errorf("timeout = %v", opts.Timeout)
			}
			if opts.Filter != tt.wantFilter {
				t.Errorf("filter = %v, want %v", opts.Filter, tt.wantFilter)
			}
		})
	}
}

func TestSyncConfigParametersOptionals(t *testing.T) {
	opts, err := SyncConfig{FullState: boolPtr(false), SetPresence: "online"}.Parameters()
	if err != nil {
		t.Fatalf("Parameters() error = %v", err)
	}
	if fullState, ok := opts.FullState.Get(); !ok || fullState {
		t.Errorf("full_state = %v, want present false", opts.FullState)
	}
	if presence, ok := opts.SetPresence.Get(); !ok || presence != matrix.SetPresenceOnline {
		t.Errorf("set_presence = %v, want online", opts.SetPresence)
	}

	opts, err = SyncConfig{}.Parameters()
	if err != nil {
		t.Fatalf("Parameters() error = %v", err)
	}
	if opts.FullState.IsPresent() || opts.SetPresence.IsPresent() || opts.Filter.IsPresent() {
		t.Errorf("unset options should be absent: %+v", opts)
	}
}

func TestHomeserverClientConfig(t *testing.T) {
	cc := HomeserverConfig{URL: "https://m.example", APIPath: "/_matrix/client/v3"}.ClientConfig()
	if cc.HomeserverURL != "https://m.example" || cc.APIPath != "/_matrix/client/v3" {
		t.Errorf("unexpected client config: %+v", cc)
	}
}

func TestConfigWatcherReload(t *testing.T) {
	clearMatrixEnv(t)
	path := writeConfig(t, "logging:\n  level: info\n")

	watcher, err := NewConfigWatcher(path)
	if err != nil {
		t.Fatalf("NewConfigWatcher() error = %v", err)
	}

	changed := make(chan [2]string, 1)
	watcher.OnConfigChange(func(oldConfig, newConfig *Config) {
		changed <- [2]string{oldConfig.Logging.Level, newConfig.Logging.Level}
	})

	if err := os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	watcher.handleConfigChange(fsnotify.Event{Name: path, Op: fsnotify.Write})

	select {
	case levels := <-changed:
		if levels != [2]string{"info", "debug"} {
			t.Errorf("callback got %v, want [info debug]", levels)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("callback not invoked")
	}
	if watcher.GetConfig().Logging.Level != "debug" {
		t.Errorf("GetConfig() level = %s, want debug", watcher.GetConfig().Logging.Level)
	}
}

func TestConfigWatcherKeepsConfigOnInvalidReload(t *testing.T) {
	clearMatrixEnv(t)
	path := writeConfig(t, "logging:\n  level: warn\n")

	watcher, err := NewConfigWatcher(path)
	if err != nil {
		t.Fatalf("NewConfigWatcher() error = %v", err)
	}

	if err := os.WriteFile(path, []byte("logging:\n  level: chatty\n"), 0600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	watcher.handleConfigChange(fsnotify.Event{Name: path, Op: fsnotify.Write})

	if watcher.GetConfig().Logging.Level != "warn" {
		t.Errorf("invalid reload replaced config: level = %s", watcher.GetConfig().Logging.Level)
	}
	watcher.StopWatching()
	watcher.StopWatching()
}
