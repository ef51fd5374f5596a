// ToyGuard - Access Control and Security Audit for Connected Toys
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/toyguard

package audit

import (
	"time"

	"github.com/google/uuid"
)

// eventNamespace scopes name-based event ids.
var eventNamespace = uuid.MustParse("6f1c2a3e-9b4d-5e7f-8a10-2c3d4e5f6a7b")

// EventID derives the id of an event from its timestamp, type and actor.
// Logging the same occurrence twice yields the same id.
func EventID(ts time.Time, t EventType, actorID string) string {
	if actorID == "" {
		actorID = "anonymous"
	}
	name := ts.UTC().Format(time.RFC3339Nano) + ":" + string(t) + ":" + actorID
	return uuid.NewSHA1(eventNamespace, []byte(name)).String()
}

// AssessThreatLevel returns the default threat level of an event type.
func AssessThreatLevel(t EventType, sensitive bool) ThreatLevel {
	switch t {
	case EventUnauthorizedAccess, EventSuspiciousActivity:
		return ThreatHigh
	case EventLoginFailure, EventPermissionDenied, EventRateLimitExceeded:
		return ThreatMedium
	case EventChildInteraction, EventAudioRecording:
		if sensitive {
			return ThreatMedium
		}
		return ThreatLow
	default:
		return ThreatLow
	}
}

// ComplianceFlags lists the standards an event type is relevant to.
func ComplianceFlags(t EventType) []string {
	switch t {
	case EventChildInteraction, EventDeviceRegistration:
		return []string{ComplianceCOPPA}
	case EventAudioRecording, EventFamilyCreation:
		return []string{ComplianceCOPPA, ComplianceGDPR}
	case EventDataAccess, EventDataModification:
		return []string{ComplianceGDPR, ComplianceCCPA}
	case EventLoginSuccess:
		return []string{ComplianceSOX}
	default:
		return nil
	}
}

var baseRisk = map[EventType]float64{
	EventLoginFailure:       2,
	EventUnauthorizedAccess: 8,
	EventPermissionDenied:   3,
	EventDataAccess:         1,
	EventDataModification:   5,
	EventChildInteraction:   2,
	EventAudioRecording:     3,
	EventSuspiciousActivity: 9,
}

var threatMultiplier = map[ThreatLevel]float64{
	ThreatLow:      1,
	ThreatMedium:   2,
	ThreatHigh:     5,
	ThreatCritical: 10,
}

const maxRiskScore = 10.0

// RiskScore rates an event from 0 to 10.
func RiskScore(e *Event) float64 {
	score := baseRisk[e.Type] * threatMultiplier[e.ThreatLevel]
	if e.Failed() {
		score *= 1.5
	}
	if e.Sensitive {
		score *= 1.3
	}
	if e.ActorID == "" {
		score *= 1.2
	}
	if score > maxRiskScore {
		return maxRiskScore
	}
	return score
}

// enrich fills in derived fields that the caller left empty.
func enrich(e *Event, now time.Time) {
	if e.Timestamp.IsZero() {
		e.Timestamp = now
	}
	if e.Result == "" {
		e.Result = ResultSuccess
	}
	if e.ID == "" {
		e.ID = EventID(e.Timestamp, e.Type, e.ActorID)
	}
	if e.ThreatLevel == "" {
		e.ThreatLevel = AssessThreatLevel(e.Type, e.Sensitive)
	}
	if e.Compliance == nil {
		e.Compliance = ComplianceFlags(e.Type)
	}
	e.RiskScore = RiskScore(e)
}
