// Boardkeep - Task Management Backend
// Copyright 2026 Boardkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/boardkeep/boardkeep

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order
// of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/boardkeep/config.yaml",
	"/etc/boardkeep/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "BOARDKEEP_CONFIG"

// envPrefix is stripped from environment variables before mapping.
const envPrefix = "BOARDKEEP_"

// Load loads configuration using koanf with layered sources:
//  1. Defaults from the struct provider
//  2. Optional YAML config file
//  3. BOARDKEEP_* environment variables (highest priority)
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file, honoring BOARDKEEP_CONFIG first.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// envTransformFunc maps BOARDKEEP_* environment variables to koanf paths.
// Only known keys are mapped; unknown variables are ignored so stray
// environment state cannot pollute the configuration.
//
// Examples:
//   - BOARDKEEP_BACKUP_DIR            -> backup.dir
//   - BOARDKEEP_DATABASE_PATH         -> database.path
//   - BOARDKEEP_NOTIFY_WEBHOOK_URL    -> notifications.webhook.url
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))

	envMappings := map[string]string{
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",

		"database_path":         "database.path",
		"database_busy_timeout": "database.busy_timeout",

		"backup_dir":                   "backup.dir",
		"backup_verify_after_create":   "backup.verify_after_create",
		"backup_compression_enabled":   "backup.compression.enabled",
		"backup_compression_level":     "backup.compression.level",
		"backup_encryption_enabled":    "backup.encryption.enabled",
		"backup_encryption_passphrase": "backup.encryption.passphrase",

		"scheduler_enabled":          "scheduler.enabled",
		"scheduler_cleanup_interval": "scheduler.cleanup_interval",

		"notify_webhook_url":      "notifications.webhook.url",
		"notify_webhook_timeout":  "notifications.webhook.timeout",
		"notify_webhook_rate":     "notifications.webhook.rate_per_second",
		"notify_webhook_burst":    "notifications.webhook.burst",
		"notify_nats_enabled":     "notifications.nats.enabled",
		"notify_nats_url":         "notifications.nats.url",
		"notify_nats_topic":       "notifications.nats.topic",
		"notify_nats_reconnects":  "notifications.nats.max_reconnects",
		"notify_nats_reconnwait":  "notifications.nats.reconnect_wait",
		"notify_log_events":       "notifications.log_events",

		"metrics_enabled": "metrics.enabled",
		"metrics_listen":  "metrics.listen",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}

	// Unmapped keys are skipped entirely.
	return ""
}
