// ToyGuard - Access Control and Security Audit for Connected Toys
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/toyguard

package config

import (
	"fmt"

	"github.com/tomtom215/toyguard/internal/authz"
	"github.com/tomtom215/toyguard/internal/validation"
)

// Validate checks that the configuration is complete and that every seeded
// role, permission, clock time and pattern parses.
func (c *Config) Validate() error {
	if err := authz.RegisterValidators(); err != nil {
		return err
	}
	if err := validation.ValidateStruct(c); err != nil {
		return err
	}

	if err := c.validateServer(); err != nil {
		return err
	}

	if err := c.validateDetection(); err != nil {
		return err
	}

	if err := c.validateRelationships(); err != nil {
		return err
	}

	return c.validateUsers()
}

// validateServer checks rate limit settings are usable.
func (c *Config) validateServer() error {
	if c.Server.RateLimitDisabled || c.Server.RateLimitReqs == 0 {
		return nil
	}
	if c.Server.RateLimitWindow <= 0 {
		return fmt.Errorf("server.rate_limit_window must be positive when rate limiting is enabled")
	}
	return nil
}

func (c *Config) validateDetection() error {
	if c.Detection.Webhook.Enabled && c.Detection.Webhook.WebhookURL == "" {
		return fmt.Errorf("detection.webhook.webhook_url is required when the webhook is enabled")
	}

	names := make(map[string]struct{}, len(c.Detection.Patterns))
	for i := range c.Detection.Patterns {
		p := &c.Detection.Patterns[i]
		if err := p.Validate(); err != nil {
			return fmt.Errorf("detection.patterns[%d]: %w", i, err)
		}
		if _, dup := names[p.Name]; dup {
			return fmt.Errorf("detection.patterns[%d]: duplicate pattern %q", i, p.Name)
		}
		names[p.Name] = struct{}{}
	}

	for i := range c.Detection.Rules {
		r := &c.Detection.Rules[i]
		if err := r.Validate(); err != nil {
			return fmt.Errorf("detection.rules[%d]: %w", i, err)
		}
		if _, dup := names[r.Name]; dup {
			return fmt.Errorf("detection.rules[%d]: duplicate name %q", i, r.Name)
		}
		names[r.Name] = struct{}{}
	}
	return nil
}

func (c *Config) validateRelationships() error {
	if c.Relationships.Backend == BackendRedis && c.Relationships.RedisAddr == "" {
		return fmt.Errorf("relationships.redis_addr is required for the redis backend")
	}
	return nil
}

// validateUsers parses every seed and rejects duplicate ids.
func (c *Config) validateUsers() error {
	seen := make(map[string]struct{}, len(c.Users))
	for i, seed := range c.Users {
		if _, dup := seen[seed.ID]; dup {
			return fmt.Errorf("users[%d]: duplicate user id %q", i, seed.ID)
		}
		seen[seed.ID] = struct{}{}

		if _, err := seed.NewUser(); err != nil {
			return fmt.Errorf("users[%d]: %w", i, err)
		}
	}
	return nil
}
