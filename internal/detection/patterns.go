// ToyGuard - Access Control and Security Audit for Connected Toys
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/toyguard

package detection

import (
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/toyguard/internal/audit"
)

// Pattern is a named abuse pattern: Threshold or more Triggers events from
// one actor (or one source, for anonymous events) within Window.
type Pattern struct {
	Name      string            `json:"name" koanf:"name"`
	Triggers  []audit.EventType `json:"triggers" koanf:"triggers"`
	Threshold int               `json:"threshold" koanf:"threshold"`
	Window    time.Duration     `json:"window" koanf:"window"`
	Level     audit.ThreatLevel `json:"level" koanf:"level"`
}

// Built-in pattern names.
const (
	PatternBruteForceLogin      = "brute_force_login"
	PatternSuspiciousDataAccess = "suspicious_data_access"
	PatternUnauthorizedAccess   = "unauthorized_access_pattern"
	PatternChildSafetyConcern   = "child_safety_concern"
)

// DefaultPatterns returns the built-in pattern table.
func DefaultPatterns() []Pattern {
	return []Pattern{
		{
			Name:      PatternBruteForceLogin,
			Triggers:  []audit.EventType{audit.EventLoginFailure},
			Threshold: 5,
			Window:    5 * time.Minute,
			Level:     audit.ThreatHigh,
		},
		{
			Name:      PatternSuspiciousDataAccess,
			Triggers:  []audit.EventType{audit.EventDataAccess},
			Threshold: 100,
			Window:    time.Hour,
			Level:     audit.ThreatMedium,
		},
		{
			Name:      PatternUnauthorizedAccess,
			Triggers:  []audit.EventType{audit.EventUnauthorizedAccess, audit.EventPermissionDenied},
			Threshold: 3,
			Window:    time.Minute,
			Level:     audit.ThreatHigh,
		},
		{
			Name:      PatternChildSafetyConcern,
			Triggers:  []audit.EventType{audit.EventChildInteraction},
			Threshold: 50,
			Window:    time.Hour,
			Level:     audit.ThreatMedium,
		},
	}
}

// Validate checks that the pattern can be evaluated.
func (p *Pattern) Validate() error {
	if p.Name == "" {
		return errors.New("pattern name is required")
	}
	if len(p.Triggers) == 0 {
		return fmt.Errorf("pattern %s: at least one trigger is required", p.Name)
	}
	for _, t := range p.Triggers {
		if !t.Valid() {
			return fmt.Errorf("pattern %s: unknown trigger %q", p.Name, t)
		}
		if t == audit.EventSuspiciousActivity {
			return fmt.Errorf("pattern %s: %s cannot be a trigger", p.Name, t)
		}
	}
	if p.Threshold < 1 {
		return fmt.Errorf("pattern %s: threshold must be at least 1", p.Name)
	}
	if p.Window <= 0 {
		return fmt.Errorf("pattern %s: window must be positive", p.Name)
	}
	if !p.Level.Valid() {
		return fmt.Errorf("pattern %s: unknown threat level %q", p.Name, p.Level)
	}
	return nil
}

func (p *Pattern) matches(t audit.EventType) bool {
	for _, trigger := range p.Triggers {
		if trigger == t {
			return true
		}
	}
	return false
}
