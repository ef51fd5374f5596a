// ToyGuard - Access Control and Security Audit for Connected Toys
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/toyguard

package detection

import (
	"errors"
	"fmt"
	"slices"

	"github.com/tomtom215/toyguard/internal/audit"
)

// Rule alerts on a single event: any event of one of Types (every type when
// Types is empty) logged at one of Levels.
type Rule struct {
	Name   string              `json:"name" koanf:"name"`
	Types  []audit.EventType   `json:"types" koanf:"types"`
	Levels []audit.ThreatLevel `json:"levels" koanf:"levels"`
}

// Built-in rule names.
const (
	RuleCriticalSecurityEvent = "critical_security_event"
	RuleChildSafetyAlert      = "child_safety_alert"
	RuleDataBreachIndicator   = "data_breach_indicator"
)

// DefaultRules returns the built-in rule table.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:   RuleCriticalSecurityEvent,
			Levels: []audit.ThreatLevel{audit.ThreatCritical},
		},
		{
			Name:   RuleChildSafetyAlert,
			Types:  []audit.EventType{audit.EventChildInteraction},
			Levels: []audit.ThreatLevel{audit.ThreatHigh, audit.ThreatCritical},
		},
		{
			Name:   RuleDataBreachIndicator,
			Types:  []audit.EventType{audit.EventUnauthorizedAccess, audit.EventDataAccess},
			Levels: []audit.ThreatLevel{audit.ThreatHigh},
		},
	}
}

// Validate checks that the rule can be evaluated.
func (r *Rule) Validate() error {
	if r.Name == "" {
		return errors.New("rule name is required")
	}
	for _, t := range r.Types {
		if !t.Valid() {
			return fmt.Errorf("rule %s: unknown event type %q", r.Name, t)
		}
		if t == audit.EventSuspiciousActivity {
			return fmt.Errorf("rule %s: %s cannot be matched", r.Name, t)
		}
	}
	if len(r.Levels) == 0 {
		return fmt.Errorf("rule %s: at least one level is required", r.Name)
	}
	for _, l := range r.Levels {
		if !l.Valid() {
			return fmt.Errorf("rule %s: unknown threat level %q", r.Name, l)
		}
	}
	return nil
}

func (r *Rule) matches(e *audit.Event) bool {
	if len(r.Types) > 0 && !slices.Contains(r.Types, e.Type) {
		return false
	}
	return slices.Contains(r.Levels, e.ThreatLevel)
}
