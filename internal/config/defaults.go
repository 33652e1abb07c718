package config

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Tracking: TrackingConfig{
			ReconcileIntervalSeconds: 30,
			IdleThresholdSeconds:     60,
			IdlePollSeconds:          15,
			CommitRetries:            5,
			TodayMode:                TodayBounded,
			ExcludeDomains:           []string{},
			UseDefaultDenylist:       false,
		},
		Badge: BadgeConfig{
			RefreshSeconds:    5,
			MinDisplaySeconds: 5,
		},
		Storage: StorageConfig{
			Path:              "~/.config/dwell",
			SQLiteFile:        "dwell.db",
			SQLiteJournalMode: "wal",
		},
		Daemon: DaemonConfig{
			Host:           "127.0.0.1",
			Port:           8731,
			MaxRequestSize: 1 << 20,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
			JSON:  false,
		},
		Retention: RetentionConfig{
			Days:               180,
			PruneIntervalHours: 24,
		},
	}
}
