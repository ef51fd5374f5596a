// ToyGuard - Access Control and Security Audit for Connected Toys
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/toyguard

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
// The first file found will be used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/toyguard/config.yaml",
	"/etc/toyguard/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "TOYGUARD_CONFIG"

// EnvPrefix is the prefix shared by every configuration environment variable.
const EnvPrefix = "TOYGUARD_"

// defaultConfig returns a Config struct with all sensible default values.
// These defaults are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8390,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			IdentityHeader:  "X-User-ID",
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Authz: AuthzConfig{
			CacheSize: 10000,
			CacheTTL:  30 * time.Second,
		},
		Audit: AuditConfig{
			BufferSize:      1000,
			MaxPending:      50000,
			FlushInterval:   60 * time.Second,
			FlushTimeout:    10 * time.Second,
			MaxRetries:      5,
			RetentionDays:   90,
			CleanupInterval: 24 * time.Hour,
		},
		Storage: StorageConfig{
			Path: "", // in-memory
		},
		Detection: DetectionConfig{
			Enabled:       true,
			NotifyTimeout: 10 * time.Second,
			ScanLimit:     5000,
			Webhook: WebhookConfig{
				Enabled:   false,
				RateLimit: 500 * time.Millisecond,
				Timeout:   10 * time.Second,
			},
		},
		Relationships: RelationshipsConfig{
			Backend: BackendMemory,
		},
	}
}

// LoadWithKoanf loads configuration using Koanf v2 with layered sources:
//  1. Defaults: Built-in sensible defaults
//  2. Config File: Optional YAML config file (if exists)
//  3. Environment Variables: Override any mapped setting
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: Load defaults from struct
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: Load config file (optional)
	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: Load environment variables (highest priority)
	// TOYGUARD_HTTP_PORT -> server.port
	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}
	if err := processMapFields(k); err != nil {
		return nil, fmt.Errorf("failed to process map fields: %w", err)
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

// findConfigFile searches for a config file in the default paths.
// Returns the path to the first file found, or empty string if none found.
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

// sliceConfigPaths defines which config paths should be parsed as comma-separated slices
var sliceConfigPaths = []string{
	"server.cors_origins",
}

// processSliceFields converts comma-separated string values to slices for known slice fields.
// Env vars come in as strings, but the config expects slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := splitList(strVal)
		if len(parts) == 0 {
			continue
		}
		if err := k.Set(path, parts); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// mapConfigPaths defines which config paths accept "key=value,key=value" strings.
var mapConfigPaths = []string{
	"detection.webhook.headers",
}

func processMapFields(k *koanf.Koanf) error {
	for _, path := range mapConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		m := make(map[string]any)
		for _, pair := range splitList(strVal) {
			key, val, found := strings.Cut(pair, "=")
			key = strings.TrimSpace(key)
			if !found || key == "" {
				return fmt.Errorf("%s: malformed entry %q, want key=value", path, pair)
			}
			m[key] = strings.TrimSpace(val)
		}
		k.Delete(path)
		if len(m) == 0 {
			continue
		}
		if err := k.Set(path, m); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// envMappings maps environment variable names (without the TOYGUARD_
// prefix, lower-cased) to koanf paths.
var envMappings = map[string]string{
	// Server mappings
	"http_host":           "server.host",
	"http_port":           "server.port",
	"http_read_timeout":   "server.read_timeout",
	"http_write_timeout":  "server.write_timeout",
	"shutdown_timeout":    "server.shutdown_timeout",
	"identity_header":     "server.identity_header",
	"cors_origins":        "server.cors_origins",
	"rate_limit_requests": "server.rate_limit_reqs",
	"rate_limit_window":   "server.rate_limit_window",
	"disable_rate_limit":  "server.rate_limit_disabled",

	// Logging mappings
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",

	// Authorization mappings
	"cache_size":  "authz.cache_size",
	"cache_ttl":   "authz.cache_ttl",
	"policy_file": "authz.policy_file",

	// Audit mappings
	"audit_buffer_size":      "audit.buffer_size",
	"audit_max_pending":      "audit.max_pending",
	"audit_flush_interval":   "audit.flush_interval",
	"audit_flush_timeout":    "audit.flush_timeout",
	"audit_max_retries":      "audit.max_retries",
	"audit_retention_days":   "audit.retention_days",
	"audit_cleanup_interval": "audit.cleanup_interval",

	// Storage mappings
	"storage_path": "storage.path",

	// Detection mappings
	"detection_enabled":        "detection.enabled",
	"detection_notify_timeout": "detection.notify_timeout",
	"detection_scan_limit":     "detection.scan_limit",
	"detection_disable_rules":  "detection.disable_rules",
	"webhook_enabled":          "detection.webhook.enabled",
	"webhook_url":              "detection.webhook.webhook_url",
	"webhook_rate_limit":       "detection.webhook.rate_limit",
	"webhook_timeout":          "detection.webhook.timeout",
	"webhook_headers":          "detection.webhook.headers",

	// Relationship store mappings
	"relationships_backend": "relationships.backend",
	"redis_addr":            "relationships.redis_addr",
}

// envTransformFunc transforms environment variable names to koanf config paths.
//
// Examples:
//   - TOYGUARD_HTTP_PORT -> server.port
//   - TOYGUARD_LOG_LEVEL -> logging.level
//   - TOYGUARD_WEBHOOK_URL -> detection.webhook.webhook_url
//
// Unmapped variables return "" and are skipped, so unrelated TOYGUARD_*
// variables never pollute the config.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	return envMappings[key]
}
