package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Default config file path.
const DefaultConfigPath = "~/.config/dwell/config.yaml"

// Today modes for the "today" aggregate.
const (
	TodayBounded   = "bounded"
	TodayLastVisit = "last_visit"
)

// Config holds all dwell configuration.
type Config struct {
	Tracking  TrackingConfig  `yaml:"tracking"`
	Badge     BadgeConfig     `yaml:"badge"`
	Storage   StorageConfig   `yaml:"storage"`
	Daemon    DaemonConfig    `yaml:"daemon"`
	Logging   LoggingConfig   `yaml:"logging"`
	Retention RetentionConfig `yaml:"retention"`
}

type TrackingConfig struct {
	ReconcileIntervalSeconds int      `yaml:"reconcile_interval_seconds" env:"DWELL_RECONCILE_INTERVAL_SECONDS"`
	IdleThresholdSeconds     int      `yaml:"idle_threshold_seconds" env:"DWELL_IDLE_THRESHOLD_SECONDS"`
	IdlePollSeconds          int      `yaml:"idle_poll_seconds" env:"DWELL_IDLE_POLL_SECONDS"`
	CommitRetries            int      `yaml:"commit_retries" env:"DWELL_COMMIT_RETRIES"`
	TodayMode                string   `yaml:"today_mode" env:"DWELL_TODAY_MODE"`
	ExcludeDomains           []string `yaml:"exclude_domains" env:"DWELL_EXCLUDE_DOMAINS" envSeparator:","`
	UseDefaultDenylist       bool     `yaml:"use_default_denylist" env:"DWELL_USE_DEFAULT_DENYLIST"`
}

type BadgeConfig struct {
	RefreshSeconds    int `yaml:"refresh_seconds" env:"DWELL_BADGE_REFRESH_SECONDS"`
	MinDisplaySeconds int `yaml:"min_display_seconds" env:"DWELL_BADGE_MIN_DISPLAY_SECONDS"`
}

type StorageConfig struct {
	Path              string `yaml:"path" env:"DWELL_STORAGE_PATH"`
	SQLiteFile        string `yaml:"sqlite_file" env:"DWELL_SQLITE_FILE"`
	SQLiteJournalMode string `yaml:"sqlite_journal_mode" env:"DWELL_SQLITE_JOURNAL_MODE"`
}

type DaemonConfig struct {
	Host           string `yaml:"host" env:"DWELL_HOST"`
	Port           int    `yaml:"port" env:"DWELL_PORT"`
	MaxRequestSize int64  `yaml:"max_request_size" env:"DWELL_MAX_REQUEST_SIZE"`
}

type LoggingConfig struct {
	Level string `yaml:"level" env:"DWELL_LOG_LEVEL"`
	File  string `yaml:"file" env:"DWELL_LOG_FILE"`
	JSON  bool   `yaml:"json" env:"DWELL_LOG_JSON"`
}

type RetentionConfig struct {
	Days               int `yaml:"days" env:"DWELL_RETENTION_DAYS"`
	PruneIntervalHours int `yaml:"prune_interval_hours" env:"DWELL_PRUNE_INTERVAL_HOURS"`
}

// ReconcileInterval is the period of the force-commit tick.
func (t TrackingConfig) ReconcileInterval() time.Duration {
	return time.Duration(t.ReconcileIntervalSeconds) * time.Second
}

// IdleThreshold is how long the host must see no input before it is idle.
func (t TrackingConfig) IdleThreshold() time.Duration {
	return time.Duration(t.IdleThresholdSeconds) * time.Second
}

// IdlePollInterval is how often the idle sampler is consulted.
func (t TrackingConfig) IdlePollInterval() time.Duration {
	return time.Duration(t.IdlePollSeconds) * time.Second
}

// Exclusions returns the configured deny list, plus the built-in one when enabled.
func (t TrackingConfig) Exclusions() []string {
	out := append([]string{}, t.ExcludeDomains...)
	if t.UseDefaultDenylist {
		out = append(out, DefaultDenylistDomains()...)
	}
	return out
}

func (b BadgeConfig) RefreshInterval() time.Duration {
	return time.Duration(b.RefreshSeconds) * time.Second
}

func (b BadgeConfig) MinDisplay() time.Duration {
	return time.Duration(b.MinDisplaySeconds) * time.Second
}

// Addr is the daemon listen address.
func (d DaemonConfig) Addr() string {
	return fmt.Sprintf("%s:%d", d.Host, d.Port)
}

// DBPath resolves the SQLite file location, expanding a leading ~.
func (s StorageConfig) DBPath() (string, error) {
	dir, err := expandPath(s.Path)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, s.SQLiteFile), nil
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	if c.Tracking.ReconcileIntervalSeconds <= 0 {
		return fmt.Errorf("tracking.reconcile_interval_seconds must be positive")
	}
	if c.Tracking.IdleThresholdSeconds < 15 {
		return fmt.Errorf("tracking.idle_threshold_seconds must be at least 15")
	}
	if c.Tracking.IdlePollSeconds <= 0 {
		return fmt.Errorf("tracking.idle_poll_seconds must be positive")
	}
	switch c.Tracking.TodayMode {
	case TodayBounded, TodayLastVisit:
	default:
		return fmt.Errorf("tracking.today_mode must be %q or %q, got %q", TodayBounded, TodayLastVisit, c.Tracking.TodayMode)
	}
	if c.Badge.RefreshSeconds <= 0 {
		return fmt.Errorf("badge.refresh_seconds must be positive")
	}
	if c.Daemon.Port <= 0 || c.Daemon.Port > 65535 {
		return fmt.Errorf("daemon.port out of range: %d", c.Daemon.Port)
	}
	return nil
}

// Load reads a YAML config file at path and merges it with defaults, then
// applies DWELL_* environment overrides.
// Returns an error if the file cannot be read or contains invalid YAML.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// expandPath replaces a leading ~ with the user's home directory.
func expandPath(path string) (string, error) {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// ResolvePath returns path, or the expanded default location when empty.
func ResolvePath(path string) (string, error) {
	if path == "" {
		path = DefaultConfigPath
	}
	return expandPath(path)
}

// LoadOrCreate loads the config from the default path. If the file does
// not exist, it creates the directory structure and writes defaults.
func LoadOrCreate() (*Config, error) {
	path, err := ResolvePath("")
	if err != nil {
		return nil, err
	}
	return LoadOrCreateAt(path)
}

// LoadOrCreateAt loads the config from the given path. If the file does
// not exist, it creates the directory structure and writes defaults.
func LoadOrCreateAt(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()

		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating config directory: %w", err)
		}

		data, err := yaml.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("marshaling default config: %w", err)
		}

		if err := os.WriteFile(path, data, 0644); err != nil {
			return nil, fmt.Errorf("writing default config: %w", err)
		}

		if err := applyEnv(cfg); err != nil {
			return nil, err
		}
		return cfg, cfg.Validate()
	}

	return Load(path)
}
