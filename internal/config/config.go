// ToyGuard - Access Control and Security Audit for Connected Toys
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/toyguard

package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/tomtom215/toyguard/internal/audit"
	"github.com/tomtom215/toyguard/internal/authz"
	"github.com/tomtom215/toyguard/internal/detection"
	"github.com/tomtom215/toyguard/internal/logging"
)

// Config holds all application configuration loaded from defaults, an
// optional YAML file and TOYGUARD_* environment variables.
//
// Configuration Loading Order (Koanf v2):
//  1. Defaults: Built-in sensible defaults for all optional settings
//  2. Config File: Optional YAML config file (config.yaml)
//  3. Environment Variables: Override any scalar setting
//
// Seeded users and relationships are only read from the config file.
//
// Config is immutable after Load() and safe for concurrent reads.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Logging       LoggingConfig       `koanf:"logging"`
	Authz         AuthzConfig         `koanf:"authz"`
	Audit         AuditConfig         `koanf:"audit"`
	Storage       StorageConfig       `koanf:"storage"`
	Detection     DetectionConfig     `koanf:"detection"`
	Relationships RelationshipsConfig `koanf:"relationships"`

	// Users are created at startup unless a user with the same id was
	// restored from storage.
	Users []UserSeed `koanf:"users" validate:"dive"`
}

// ServerConfig holds HTTP admin API settings.
//
// Environment Variables:
//   - TOYGUARD_HTTP_HOST: Bind address (default: 0.0.0.0)
//   - TOYGUARD_HTTP_PORT: Listen port (default: 8390)
//   - TOYGUARD_HTTP_READ_TIMEOUT, TOYGUARD_HTTP_WRITE_TIMEOUT (default: 15s)
//   - TOYGUARD_SHUTDOWN_TIMEOUT: Graceful shutdown bound (default: 10s)
//   - TOYGUARD_IDENTITY_HEADER: Header carrying the caller's user id (default: X-User-ID)
//   - TOYGUARD_CORS_ORIGINS: Comma-separated allowed origins
//   - TOYGUARD_RATE_LIMIT_REQUESTS, TOYGUARD_RATE_LIMIT_WINDOW, TOYGUARD_DISABLE_RATE_LIMIT
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              int           `koanf:"port" validate:"min=1,max=65535"`
	ReadTimeout       time.Duration `koanf:"read_timeout" validate:"gt=0"`
	WriteTimeout      time.Duration `koanf:"write_timeout" validate:"gt=0"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
	IdentityHeader    string        `koanf:"identity_header" validate:"required"`
	CORSOrigins       []string      `koanf:"cors_origins"`
	RateLimitReqs     int           `koanf:"rate_limit_reqs" validate:"gte=0"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// LoggingConfig holds logging settings.
//
// Environment Variables:
//   - TOYGUARD_LOG_LEVEL: trace, debug, info, warn, error (default: info)
//   - TOYGUARD_LOG_FORMAT: json, console (default: json)
//   - TOYGUARD_LOG_CALLER: include caller file:line (default: false)
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// LoggerConfig converts to the logging package configuration.
func (l LoggingConfig) LoggerConfig() logging.Config {
	return logging.Config{Level: l.Level, Format: l.Format, Caller: l.Caller, Output: os.Stderr}
}

// AuthzConfig holds access decision settings.
type AuthzConfig struct {
	// CacheSize of zero disables the decision cache.
	CacheSize int           `koanf:"cache_size" validate:"gte=0"`
	CacheTTL  time.Duration `koanf:"cache_ttl" validate:"gte=0"`

	// PolicyFile replaces the built-in role defaults with a CSV policy.
	PolicyFile string `koanf:"policy_file"`
}

// LoadCatalog builds the permission catalog, from PolicyFile when set.
func (a AuthzConfig) LoadCatalog() (*authz.Catalog, error) {
	if a.PolicyFile == "" {
		return authz.NewCatalog()
	}
	data, err := os.ReadFile(a.PolicyFile)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return authz.NewCatalogFromPolicy(string(data))
}

// AuditConfig holds audit trail settings. Zero values take the trail's
// defaults.
type AuditConfig struct {
	BufferSize      int           `koanf:"buffer_size" validate:"gte=0"`
	MaxPending      int           `koanf:"max_pending" validate:"gte=0"`
	FlushInterval   time.Duration `koanf:"flush_interval" validate:"gte=0"`
	FlushTimeout    time.Duration `koanf:"flush_timeout" validate:"gte=0"`
	MaxRetries      int           `koanf:"max_retries" validate:"gte=0"`
	RetentionDays   int           `koanf:"retention_days" validate:"gte=0"`
	CleanupInterval time.Duration `koanf:"cleanup_interval" validate:"gte=0"`
}

// TrailConfig converts to the audit trail configuration.
func (a AuditConfig) TrailConfig() audit.Config {
	cfg := audit.DefaultConfig()
	if a.BufferSize > 0 {
		cfg.BufferSize = a.BufferSize
	}
	if a.MaxPending > 0 {
		cfg.MaxPending = a.MaxPending
	}
	if a.FlushInterval > 0 {
		cfg.FlushInterval = a.FlushInterval
	}
	if a.FlushTimeout > 0 {
		cfg.FlushTimeout = a.FlushTimeout
	}
	cfg.MaxRetries = a.MaxRetries
	cfg.RetentionDays = a.RetentionDays
	if a.CleanupInterval > 0 {
		cfg.CleanupInterval = a.CleanupInterval
	}
	return cfg
}

// StorageConfig selects durable storage. An empty Path keeps audit events
// and user snapshots in memory.
type StorageConfig struct {
	Path string `koanf:"path"`
}

// DetectionConfig holds threat detection settings.
//
// Environment Variables:
//   - TOYGUARD_DETECTION_ENABLED: Enable threat detection (default: true)
//   - TOYGUARD_DETECTION_DISABLE_RULES: Turn off per-event alert rules (default: false)
//   - TOYGUARD_WEBHOOK_URL, TOYGUARD_WEBHOOK_ENABLED, TOYGUARD_WEBHOOK_RATE_LIMIT
//   - TOYGUARD_WEBHOOK_HEADERS: Comma-separated key=value headers (e.g., "Authorization=Bearer xyz,X-Custom=value")
type DetectionConfig struct {
	Enabled       bool          `koanf:"enabled"`
	NotifyTimeout time.Duration `koanf:"notify_timeout" validate:"gte=0"`
	ScanLimit     int           `koanf:"scan_limit" validate:"gte=0"`

	// Patterns replaces the built-in patterns when non-empty.
	Patterns []detection.Pattern `koanf:"patterns"`

	// Rules replaces the built-in per-event alert rules when non-empty.
	Rules        []detection.Rule `koanf:"rules"`
	DisableRules bool             `koanf:"disable_rules"`

	Webhook WebhookConfig `koanf:"webhook"`
}

// DetectorConfig converts to the detector configuration.
func (d DetectionConfig) DetectorConfig() detection.Config {
	rules := d.Rules
	if d.DisableRules {
		rules = []detection.Rule{}
	}
	return detection.Config{
		Patterns:      d.Patterns,
		Rules:         rules,
		NotifyTimeout: d.NotifyTimeout,
		ScanLimit:     d.ScanLimit,
	}
}

// WebhookConfig holds generic webhook alert settings.
type WebhookConfig struct {
	Enabled    bool              `koanf:"enabled"`
	WebhookURL string            `koanf:"webhook_url" validate:"omitempty,url"`
	RateLimit  time.Duration     `koanf:"rate_limit" validate:"gte=0"`
	Timeout    time.Duration     `koanf:"timeout" validate:"gte=0"`
	Headers    map[string]string `koanf:"headers"`
}

// NotifierConfig converts to the webhook notifier configuration.
func (w WebhookConfig) NotifierConfig() detection.WebhookConfig {
	return detection.WebhookConfig{
		WebhookURL: w.WebhookURL,
		Headers:    w.Headers,
		Enabled:    w.Enabled,
		RateLimit:  w.RateLimit,
		Timeout:    w.Timeout,
	}
}

// Relationship backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// RelationshipsConfig selects the family relationship store and seeds it.
type RelationshipsConfig struct {
	Backend   string `koanf:"backend" validate:"oneof=memory redis"`
	RedisAddr string `koanf:"redis_addr" validate:"omitempty,hostname_port"`

	Links             []LinkSeed    `koanf:"links" validate:"dive"`
	EmergencyContacts []ContactSeed `koanf:"emergency_contacts" validate:"dive"`
}

// LinkSeed links a child to a family.
type LinkSeed struct {
	FamilyID string `koanf:"family_id" validate:"required"`
	ChildID  string `koanf:"child_id" validate:"required"`
}

// ContactSeed registers an emergency contact for a child.
type ContactSeed struct {
	UserID  string `koanf:"user_id" validate:"required"`
	ChildID string `koanf:"child_id" validate:"required"`
}

// UserSeed describes a user created at startup.
type UserSeed struct {
	ID              string               `koanf:"id" validate:"required"`
	DisplayName     string               `koanf:"display_name"`
	Role            string               `koanf:"role" validate:"required,role"`
	FamilyID        string               `koanf:"family_id"`
	Age             int                  `koanf:"age" validate:"gte=0"`
	Grants          []string             `koanf:"grants" validate:"dive,permission"`
	Revokes         []string             `koanf:"revokes" validate:"dive,permission"`
	TimeRestriction *TimeRestrictionSeed `koanf:"time_restriction"`
}

// TimeRestrictionSeed is a seeded daily access window.
type TimeRestrictionSeed struct {
	Start             string `koanf:"start" validate:"required,clocktime"`
	End               string `koanf:"end" validate:"required,clocktime"`
	WeekendRestricted bool   `koanf:"weekend_restricted"`
}

// NewUser converts the seed into a directory request.
func (s UserSeed) NewUser() (authz.NewUser, error) {
	role, err := authz.ParseRole(s.Role)
	if err != nil {
		return authz.NewUser{}, fmt.Errorf("user %s: %w", s.ID, err)
	}
	grants, err := parsePermissions(s.Grants)
	if err != nil {
		return authz.NewUser{}, fmt.Errorf("user %s grants: %w", s.ID, err)
	}
	revokes, err := parsePermissions(s.Revokes)
	if err != nil {
		return authz.NewUser{}, fmt.Errorf("user %s revokes: %w", s.ID, err)
	}

	nu := authz.NewUser{
		ID:          s.ID,
		DisplayName: s.DisplayName,
		Role:        role,
		FamilyID:    s.FamilyID,
		Age:         s.Age,
		Grants:      grants,
		Revokes:     revokes,
	}
	if s.TimeRestriction != nil {
		tr, err := authz.NewTimeRestriction(s.TimeRestriction.Start, s.TimeRestriction.End, s.TimeRestriction.WeekendRestricted)
		if err != nil {
			return authz.NewUser{}, fmt.Errorf("user %s time restriction: %w", s.ID, err)
		}
		nu.TimeRestriction = tr
	}
	return nu, nil
}

func parsePermissions(names []string) ([]authz.Permission, error) {
	if len(names) == 0 {
		return nil, nil
	}
	out := make([]authz.Permission, 0, len(names))
	for _, name := range names {
		p, err := authz.ParsePermission(name)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Load reads configuration from all sources. See LoadWithKoanf.
func Load() (*Config, error) {
	return LoadWithKoanf()
}
