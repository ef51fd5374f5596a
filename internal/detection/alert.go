// ToyGuard - Access Control and Security Audit for Connected Toys
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/toyguard

package detection

import (
	"context"
	"time"

	"github.com/tomtom215/toyguard/internal/audit"
)

// Alert kinds.
const (
	AlertKindPattern = "pattern"
	AlertKindRule    = "rule"
)

// Alert describes one pattern match or one rule match.
type Alert struct {
	// EventID is the id of the suspicious_activity event written for a
	// pattern match, or of the matching event itself for a rule.
	EventID string `json:"event_id"`
	Kind    string `json:"kind"`
	// Pattern names the pattern or rule that matched.
	Pattern           string            `json:"pattern"`
	Level             audit.ThreatLevel `json:"level"`
	ActorID           string            `json:"actor_id,omitempty"`
	Source            string            `json:"source,omitempty"`
	Resource          string            `json:"resource,omitempty"`
	TriggeringEventID string            `json:"triggering_event_id"`
	Count             int               `json:"count"`
	Window            time.Duration     `json:"window"`
	DetectedAt        time.Time         `json:"detected_at"`
}

// AlertSink delivers alerts to an external channel.
type AlertSink interface {
	// Send delivers an alert to the notification channel.
	Send(ctx context.Context, alert Alert) error

	// Name returns the sink name (e.g., "webhook", "log").
	Name() string

	// Enabled returns whether this sink is enabled.
	Enabled() bool
}
