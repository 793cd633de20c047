// Package config provides configuration management for matrixsync.
// It defines the structure for YAML configuration files and handles
// loading, validation, and default value application.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/samber/mo"
	"gopkg.in/yaml.v3"

	"github.com/shawkym/matrixsync/pkg/log"
	"github.com/shawkym/matrixsync/pkg/matrix"
)

const (
	DefaultHomeserver    = "https://matrix.org"
	DefaultSyncTimeoutMs = 30000
	DefaultMetricsAddr   = ":9090"
)

// Export formats accepted in ExportConfig.Format.
const (
	FormatJSONL    = "jsonl"
	FormatMarkdown = "markdown"
)

// Config is the top-level configuration structure for matrixsync.
type Config struct {
	// Version is the configuration file format version
	Version    string           `yaml:"version"`
	Homeserver HomeserverConfig `yaml:"homeserver"`
	Auth       AuthConfig       `yaml:"auth"`
	Sync       SyncConfig       `yaml:"sync"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Export     ExportConfig     `yaml:"export"`
	Display    DisplayConfig    `yaml:"display,omitempty"`
	Restart    RestartConfig    `yaml:"restart"`
}

// HomeserverConfig locates the Matrix client-server API.
type HomeserverConfig struct {
	// URL is the homeserver root (default: https://matrix.org)
	URL string `yaml:"url"`
	// APIPath overrides the client API prefix (default: /_matrix/client/r0)
	APIPath string `yaml:"api_path,omitempty"`
}

// AuthConfig holds credentials. AccessToken wins over User/Password.
// Values may also come from MATRIX_USER, MATRIX_PASSWORD and
// MATRIX_ACCESS_TOKEN.
type AuthConfig struct {
	User        string `yaml:"user,omitempty"`
	Password    string `yaml:"password,omitempty"`
	AccessToken string `yaml:"access_token,omitempty"`
}

// SyncConfig defines the parameters of the sync loop.
type SyncConfig struct {
	// TimeoutMs is the long-poll timeout in milliseconds (default: 30000)
	TimeoutMs int `yaml:"timeout_ms"`
	// Filter is a filter ID or inline JSON filter
	Filter string `yaml:"filter,omitempty"`
	// Rooms restricts the timeline to these room IDs when Filter is empty
	Rooms []string `yaml:"rooms,omitempty"`
	// TimelineLimit caps timeline events per room when Rooms is set (default: 50)
	TimelineLimit int `yaml:"timeline_limit,omitempty"`
	// FullState requests the full room state on the first call
	FullState *bool `yaml:"full_state,omitempty"`
	// SetPresence is one of offline, online, unavailable
	SetPresence string `yaml:"set_presence,omitempty"`
}

// LoggingConfig defines diagnostic and snapshot logging.
type LoggingConfig struct {
	// Level is debug, info, warn or error (default: info)
	Level string `yaml:"level"`
	// Pretty renders diagnostics with the console writer instead of JSON
	Pretty bool `yaml:"pretty"`
	// File receives a plain-text copy of every rendered snapshot
	File string `yaml:"file,omitempty"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// ExportConfig controls the snapshot archive.
type ExportConfig struct {
	// Path of the archive file; empty disables export
	Path string `yaml:"path,omitempty"`
	// Format is jsonl or markdown (default: jsonl)
	Format string `yaml:"format,omitempty"`
}

// DisplayConfig narrows what is printed, archived and shown in the viewer.
// It runs after the server-side filter and never changes the cursor.
type DisplayConfig struct {
	// EventTypes keeps only timeline events of these types; "m.room.*" matches by prefix
	EventTypes []string `yaml:"event_types,omitempty"`
	// IgnoreSenders hides timeline events and invites from these user IDs
	IgnoreSenders []string `yaml:"ignore_senders,omitempty"`
	// SkipEmpty hides snapshots without events
	SkipEmpty bool `yaml:"skip_empty,omitempty"`
}

// RestartConfig controls starting a new stream after one fails. Every
// restart begins again with an initial sync.
type RestartConfig struct {
	// MaxRestarts is the number of restarts allowed; 0 disables, -1 is unlimited
	MaxRestarts int `yaml:"max_restarts"`
	// PerMinute caps the restart rate (default: 2)
	PerMinute float64 `yaml:"per_minute,omitempty"`
	// Burst is the number of restarts allowed back to back (default: 1)
	Burst int `yaml:"burst,omitempty"`
	// RateLimitedPauseSec is the extra wait after an HTTP 429 (default: 30)
	RateLimitedPauseSec int `yaml:"rate_limited_pause_sec,omitempty"`
}

// RateLimitedPause returns RateLimitedPauseSec as a duration.
func (r RestartConfig) RateLimitedPause() time.Duration {
	return time.Duration(r.RateLimitedPauseSec) * time.Second
}

// NewDefaultConfig creates a configuration with sensible defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Version: "1.0",
		Homeserver: HomeserverConfig{
			URL: DefaultHomeserver,
		},
		Sync: SyncConfig{
			TimeoutMs:     DefaultSyncTimeoutMs,
			TimelineLimit: 50,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    DefaultMetricsAddr,
		},
		Export: ExportConfig{
			Format: FormatJSONL,
		},
		Restart: RestartConfig{
			PerMinute:           2,
			Burst:               1,
			RateLimitedPauseSec: 30,
		},
	}
}

// DefaultConfigPath returns ~/.matrixsync/config.yaml.
func DefaultConfigPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, ".matrixsync", "config.yaml")
}

// LoadConfig loads and validates a configuration from a YAML file.
// It applies default values for any missing optional fields.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Seeded so an explicit timeout_ms: 0 survives while a missing key
	// still gets the default.
	config := Config{Sync: SyncConfig{TimeoutMs: DefaultSyncTimeoutMs}}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	config.applyDefaults()

	return &config, nil
}

// LoadConfigOrDefault loads path, or builds the default configuration with
// environment fallbacks applied when path is empty.
func LoadConfigOrDefault(path string) (*Config, error) {
	if path != "" {
		return LoadConfig(path)
	}
	config := &Config{Sync: SyncConfig{TimeoutMs: DefaultSyncTimeoutMs}}
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// SaveConfig writes the configuration to a YAML file.
// The file is created with 0600 permissions since it may hold credentials.
func (c *Config) SaveConfig(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks the values that are set; empty values are filled in by
// defaults afterwards.
func (c *Config) Validate() error {
	if c.Homeserver.URL != "" {
		u, err := url.Parse(c.Homeserver.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("homeserver.url must be an http(s) URL: %q", c.Homeserver.URL)
		}
	}

	if c.Sync.TimeoutMs < 0 {
		return fmt.Errorf("sync.timeout_ms cannot be negative: %d", c.Sync.TimeoutMs)
	}
	if c.Sync.TimelineLimit < 0 {
		return fmt.Errorf("sync.timeline_limit cannot be negative: %d", c.Sync.TimelineLimit)
	}
	if c.Sync.SetPresence != "" {
		if _, err := matrix.ParseSetPresence(c.Sync.SetPresence); err != nil {
			return fmt.Errorf("sync.set_presence: %w", err)
		}
	}

	if _, err := log.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid logging level: %s", c.Logging.Level)
	}

	if c.Restart.MaxRestarts < -1 {
		return fmt.Errorf("restart.max_restarts must be -1 or more: %d", c.Restart.MaxRestarts)
	}
	if c.Restart.PerMinute < 0 || c.Restart.Burst < 0 || c.Restart.RateLimitedPauseSec < 0 {
		return fmt.Errorf("restart.per_minute, restart.burst and restart.rate_limited_pause_sec cannot be negative")
	}

	switch c.Export.Format {
	case "", FormatJSONL, FormatMarkdown:
	default:
		return fmt.Errorf("invalid export format: %s", c.Export.Format)
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.Version == "" {
		c.Version = "1.0"
	}

	if c.Homeserver.URL == "" {
		if env := os.Getenv("MATRIX_HOMESERVER"); env != "" {
			c.Homeserver.URL = env
		} else {
			c.Homeserver.URL = DefaultHomeserver
		}
	}

	if c.Auth.User == "" {
		c.Auth.User = os.Getenv("MATRIX_USER")
	}
	if c.Auth.Password == "" {
		c.Auth.Password = os.Getenv("MATRIX_PASSWORD")
	}
	if c.Auth.AccessToken == "" {
		c.Auth.AccessToken = os.Getenv("MATRIX_ACCESS_TOKEN")
	}

	if c.Sync.TimelineLimit == 0 {
		c.Sync.TimelineLimit = 50
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	if c.Metrics.Addr == "" {
		c.Metrics.Addr = DefaultMetricsAddr
	}

	if c.Export.Format == "" {
		c.Export.Format = FormatJSONL
	}

	if c.Restart.PerMinute == 0 {
		c.Restart.PerMinute = 2
	}
	if c.Restart.Burst == 0 {
		c.Restart.Burst = 1
	}
	if c.Restart.RateLimitedPauseSec == 0 {
		c.Restart.RateLimitedPauseSec = 30
	}
}

// Timeout returns the long-poll timeout as a duration.
func (s SyncConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutMs) * time.Millisecond
}

// Parameters converts the sync section into poll options. An explicit
// Filter wins over Rooms.
func (s SyncConfig) Parameters() (matrix.PollOptions, error) {
	opts := matrix.PollOptions{
		Timeout:   s.Timeout(),
		FullState: mo.PointerToOption(s.FullState),
	}

	switch {
	case s.Filter != "":
		opts.Filter = mo.Some(s.Filter)
	case len(s.Rooms) > 0:
		filter, err := matrix.RoomTimelineFilter(s.Rooms, s.TimelineLimit)
		if err != nil {
			return matrix.PollOptions{}, err
		}
		opts.Filter = mo.Some(filter)
	}

	if s.SetPresence != "" {
		presence, err := matrix.ParseSetPresence(s.SetPresence)
		if err != nil {
			return matrix.PollOptions{}, fmt.Errorf("sync.set_presence: %w", err)
		}
		opts.SetPresence = mo.Some(presence)
	}

	return opts, nil
}

// ClientConfig returns the settings for matrix.NewClient.
func (h HomeserverConfig) ClientConfig() matrix.ClientConfig {
	return matrix.ClientConfig{
		HomeserverURL: h.URL,
		APIPath:       h.APIPath,
	}
}

func boolPtr(v bool) *bool {
	return &v
}
