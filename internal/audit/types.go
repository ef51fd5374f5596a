// ToyGuard - Access Control and Security Audit for Connected Toys
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/toyguard

package audit

import (
	"context"
	"fmt"
	"time"
)

// EventType is the closed set of security event types.
type EventType string

const (
	EventLoginSuccess          EventType = "login_success"
	EventLoginFailure          EventType = "login_failure"
	EventUnauthorizedAccess    EventType = "unauthorized_access"
	EventPermissionDenied      EventType = "permission_denied"
	EventDataAccess            EventType = "data_access"
	EventDataModification      EventType = "data_modification"
	EventAudioRecording        EventType = "audio_recording"
	EventChildInteraction      EventType = "child_interaction"
	EventDeviceRegistration    EventType = "device_registration"
	EventFamilyCreation        EventType = "family_creation"
	EventParentalControlChange EventType = "parental_control_change"
	EventRateLimitExceeded     EventType = "rate_limit_exceeded"
	EventSuspiciousActivity    EventType = "suspicious_activity"
	EventTokenIssued           EventType = "token_issued"
	EventTokenRevoked          EventType = "token_revoked"
)

// AllEventTypes lists every event type.
func AllEventTypes() []EventType {
	return []EventType{
		EventLoginSuccess, EventLoginFailure, EventUnauthorizedAccess, EventPermissionDenied,
		EventDataAccess, EventDataModification, EventAudioRecording, EventChildInteraction,
		EventDeviceRegistration, EventFamilyCreation, EventParentalControlChange,
		EventRateLimitExceeded, EventSuspiciousActivity, EventTokenIssued, EventTokenRevoked,
	}
}

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	for _, known := range AllEventTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// ParseEventType validates an event type name.
func ParseEventType(s string) (EventType, error) {
	t := EventType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown event type %q", s)
	}
	return t, nil
}

// ThreatLevel classifies how dangerous an event is.
type ThreatLevel string

const (
	ThreatLow      ThreatLevel = "low"
	ThreatMedium   ThreatLevel = "medium"
	ThreatHigh     ThreatLevel = "high"
	ThreatCritical ThreatLevel = "critical"
)

// Rank orders threat levels from 1 (low) to 4 (critical); unknown is 0.
func (l ThreatLevel) Rank() int {
	switch l {
	case ThreatLow:
		return 1
	case ThreatMedium:
		return 2
	case ThreatHigh:
		return 3
	case ThreatCritical:
		return 4
	default:
		return 0
	}
}

// Valid reports whether l is a known threat level.
func (l ThreatLevel) Valid() bool { return l.Rank() > 0 }

// Event results. Anything other than ResultSuccess counts as failed.
const (
	ResultSuccess  = "success"
	ResultFailure  = "failure"
	ResultDenied   = "denied"
	ResultDetected = "detected"
)

// Compliance standards an event may be relevant to.
const (
	ComplianceCOPPA = "coppa"
	ComplianceGDPR  = "gdpr"
	ComplianceCCPA  = "ccpa"
	ComplianceSOX   = "sox"
)

// Event is one security-relevant occurrence. Events are immutable once
// logged.
type Event struct {
	ID          string         `json:"id"`
	Type        EventType      `json:"type"`
	Timestamp   time.Time      `json:"timestamp"`
	ActorID     string         `json:"actor_id,omitempty"`
	Source      string         `json:"source,omitempty"`
	Resource    string         `json:"resource,omitempty"`
	Action      string         `json:"action,omitempty"`
	Result      string         `json:"result"`
	ThreatLevel ThreatLevel    `json:"threat_level"`
	Details     map[string]any `json:"details,omitempty"`
	Sensitive   bool           `json:"sensitive,omitempty"`
	Compliance  []string       `json:"compliance,omitempty"`
	RiskScore   float64        `json:"risk_score"`
}

// Failed reports whether the event's result is anything but success.
func (e *Event) Failed() bool {
	return e.Result != ResultSuccess
}

// Filter selects events. Zero fields match everything; Start and End are
// inclusive.
type Filter struct {
	ActorID string
	Type    EventType
	Start   time.Time
	End     time.Time
}

// Matches reports whether e passes the filter.
func (f *Filter) Matches(e *Event) bool {
	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if !f.Start.IsZero() && e.Timestamp.Before(f.Start) {
		return false
	}
	if !f.End.IsZero() && e.Timestamp.After(f.End) {
		return false
	}
	return true
}

// Summary aggregates events over a trailing window.
type Summary struct {
	PeriodHours   int                 `json:"period_hours"`
	TotalEvents   int                 `json:"total_events"`
	EventTypes    map[EventType]int   `json:"event_types"`
	ThreatLevels  map[ThreatLevel]int `json:"threat_levels"`
	UniqueUsers   int                 `json:"unique_users"`
	UniqueSources int                 `json:"unique_sources"`
	FailedEvents  int                 `json:"failed_events"`
}

// Store is durable audit storage. Save must be an upsert keyed by event id
// so retried batches do not duplicate events.
type Store interface {
	Save(ctx context.Context, events []Event) error
	// Query returns matching events newest first, at most limit of them.
	Query(ctx context.Context, filter Filter, limit int) ([]Event, error)
	// Delete removes events older than the cutoff and returns how many.
	Delete(ctx context.Context, olderThan time.Time) (int, error)
}

// Observer is called synchronously after each event is appended.
type Observer interface {
	Observe(ctx context.Context, event Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, event Event)

// Observe implements Observer.
func (f ObserverFunc) Observe(ctx context.Context, event Event) { f(ctx, event) }
