// Boardkeep - Task Management Backend
// Copyright 2026 Boardkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/boardkeep/boardkeep

// Package config provides configuration management for Boardkeep.
//
// Configuration is loaded in layers with clear precedence:
//  1. Built-in defaults
//  2. Optional YAML config file
//  3. Environment variables (highest priority)
package config

import (
	"fmt"
	"path/filepath"
	"time"
)

// Config is the root configuration for the Boardkeep backup service.
type Config struct {
	Logging       LoggingConfig       `koanf:"logging"`
	Database      DatabaseConfig      `koanf:"database"`
	Backup        BackupConfig        `koanf:"backup"`
	Scheduler     SchedulerConfig     `koanf:"scheduler"`
	Notifications NotificationsConfig `koanf:"notifications"`
	Metrics       MetricsConfig       `koanf:"metrics"`
}

// LoggingConfig controls the global zerolog logger.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `koanf:"level"`

	// Format is json or console.
	Format string `koanf:"format"`

	// Caller includes caller file:line in log output.
	Caller bool `koanf:"caller"`
}

// DatabaseConfig controls the SQLite record store.
type DatabaseConfig struct {
	// Path to the SQLite database file.
	Path string `koanf:"path"`

	// BusyTimeout applied to the connection string.
	BusyTimeout time.Duration `koanf:"busy_timeout"`
}

// BackupConfig controls backup creation and storage.
type BackupConfig struct {
	// Dir is the directory where backup archives are written.
	Dir string `koanf:"dir"`

	// VerifyAfterCreate re-reads each backup file and checks its checksum
	// immediately after creation.
	VerifyAfterCreate bool `koanf:"verify_after_create"`

	Compression CompressionConfig `koanf:"compression"`
	Encryption  EncryptionConfig  `koanf:"encryption"`
}

// CompressionConfig controls gzip compression of backup archives.
type CompressionConfig struct {
	Enabled bool `koanf:"enabled"`

	// Level is the gzip compression level (1-9).
	Level int `koanf:"level"`
}

// EncryptionConfig controls at-rest encryption of backup archives.
type EncryptionConfig struct {
	Enabled bool `koanf:"enabled"`

	// Passphrase used for PBKDF2 key derivation. Load from env or a secret
	// manager; never commit it to a config file.
	Passphrase string `koanf:"passphrase"`
}

// SchedulerConfig controls the cron-driven backup scheduler.
type SchedulerConfig struct {
	// Enabled starts the scheduler service at boot.
	Enabled bool `koanf:"enabled"`

	// CleanupInterval is how often retention cleanup runs across schedules.
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
}

// NotificationsConfig controls the pluggable notification sinks.
type NotificationsConfig struct {
	Webhook WebhookConfig  `koanf:"webhook"`
	NATS    NATSSinkConfig `koanf:"nats"`

	// LogEvents mirrors every event to the structured log.
	LogEvents bool `koanf:"log_events"`
}

// WebhookConfig controls the outbound webhook sink.
type WebhookConfig struct {
	// URL is the webhook endpoint; empty disables the sink.
	URL string `koanf:"url"`

	// Timeout for a single delivery attempt.
	Timeout time.Duration `koanf:"timeout"`

	// RatePerSecond caps outbound deliveries; 0 means unlimited.
	RatePerSecond float64 `koanf:"rate_per_second"`

	// Burst for the rate limiter.
	Burst int `koanf:"burst"`
}

// NATSSinkConfig controls the NATS JetStream notification sink.
type NATSSinkConfig struct {
	Enabled bool `koanf:"enabled"`

	// URL of the NATS server.
	URL string `koanf:"url"`

	// Topic events are published to.
	Topic string `koanf:"topic"`

	// MaxReconnects before the connection is abandoned.
	MaxReconnects int `koanf:"max_reconnects"`

	// ReconnectWait between reconnect attempts.
	ReconnectWait time.Duration `koanf:"reconnect_wait"`
}

// MetricsConfig controls the Prometheus metrics listener.
type MetricsConfig struct {
	Enabled bool `koanf:"enabled"`

	// Listen is the host:port the /metrics endpoint binds to.
	Listen string `koanf:"listen"`
}

// defaultConfig returns a Config with all default values applied.
func defaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Database: DatabaseConfig{
			Path:        "/data/boardkeep.db",
			BusyTimeout: 5 * time.Second,
		},
		Backup: BackupConfig{
			Dir:               "/data/backups",
			VerifyAfterCreate: true,
			Compression: CompressionConfig{
				Enabled: true,
				Level:   6,
			},
			Encryption: EncryptionConfig{
				Enabled:    false,
				Passphrase: "",
			},
		},
		Scheduler: SchedulerConfig{
			Enabled:         true,
			CleanupInterval: time.Hour,
		},
		Notifications: NotificationsConfig{
			Webhook: WebhookConfig{
				URL:           "",
				Timeout:       10 * time.Second,
				RatePerSecond: 5,
				Burst:         10,
			},
			NATS: NATSSinkConfig{
				Enabled:       false,
				URL:           "nats://127.0.0.1:4222",
				Topic:         "boardkeep.backup.events",
				MaxReconnects: 10,
				ReconnectWait: 2 * time.Second,
			},
			LogEvents: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Listen:  "127.0.0.1:9465",
		},
	}
}

// Validate checks the configuration for invalid combinations.
// Validation errors are fatal at startup; nothing is half-configured.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Backup.Dir == "" {
		return fmt.Errorf("backup.dir is required")
	}
	if !filepath.IsAbs(c.Backup.Dir) {
		return fmt.Errorf("backup.dir must be an absolute path, got: %s", c.Backup.Dir)
	}

	if c.Backup.Compression.Enabled {
		if c.Backup.Compression.Level < 1 || c.Backup.Compression.Level > 9 {
			return fmt.Errorf("backup.compression.level must be between 1 and 9, got: %d", c.Backup.Compression.Level)
		}
	}

	if c.Backup.Encryption.Enabled && len(c.Backup.Encryption.Passphrase) < 12 {
		return fmt.Errorf("backup.encryption.passphrase must be at least 12 characters when encryption is enabled")
	}

	if c.Scheduler.Enabled && c.Scheduler.CleanupInterval < time.Minute {
		return fmt.Errorf("scheduler.cleanup_interval must be at least 1 minute, got: %s", c.Scheduler.CleanupInterval)
	}

	if c.Notifications.Webhook.URL != "" && c.Notifications.Webhook.Timeout <= 0 {
		return fmt.Errorf("notifications.webhook.timeout must be positive")
	}

	if c.Notifications.NATS.Enabled && c.Notifications.NATS.URL == "" {
		return fmt.Errorf("notifications.nats.url is required when the NATS sink is enabled")
	}

	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		return fmt.Errorf("metrics.listen is required when metrics are enabled")
	}

	return nil
}
