// ToyGuard - Access Control and Security Audit for Connected Toys
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/toyguard

package authz

import (
	"context"

	"github.com/tomtom215/toyguard/internal/audit"
)

// EventLogger records audit events and returns the event id.
type EventLogger interface {
	Log(ctx context.Context, event audit.Event) string
}

// Guard is the enforcement point used by protected operations. Every check
// is logged exactly once, whatever the outcome.
type Guard struct {
	engine *Engine
	events EventLogger
}

// NewGuard creates a guard.
func NewGuard(engine *Engine, events EventLogger) *Guard {
	return &Guard{engine: engine, events: events}
}

// CheckAccess evaluates a request for userID and records it.
func (g *Guard) CheckAccess(ctx context.Context, userID string, perm Permission, ac AccessContext, resource string) Decision {
	return g.Check(ctx, AccessRequest{
		UserID:     userID,
		Permission: perm,
		Context:    ac,
		Resource:   resource,
	})
}

// Check evaluates req and records it. The audit write happens before the
// decision is returned, so a caller that gives up afterwards still leaves
// a complete event behind.
func (g *Guard) Check(ctx context.Context, req AccessRequest) Decision {
	d := g.engine.CheckAccess(ctx, req)
	d.AuditID = g.events.Log(ctx, decisionEvent(req, d))
	return d
}

// Require returns *AccessDeniedError when req is denied.
func (g *Guard) Require(ctx context.Context, req AccessRequest) (Decision, error) {
	d := g.Check(ctx, req)
	if !d.Granted {
		return d, &AccessDeniedError{Request: req, Decision: d}
	}
	return d, nil
}

func decisionEvent(req AccessRequest, d Decision) audit.Event {
	result := audit.ResultSuccess
	if !d.Granted {
		result = audit.ResultDenied
	}

	details := map[string]any{
		"reason":  d.Reason,
		"context": req.Context.String(),
	}
	if len(d.Conditions) > 0 {
		details["conditions"] = d.Conditions
	}

	return audit.Event{
		Type:      eventTypeFor(req.Permission, d),
		ActorID:   req.UserID,
		Source:    req.SourceAddr,
		Resource:  req.Resource,
		Action:    req.Permission.String(),
		Result:    result,
		Details:   details,
		Sensitive: isSensitive(req.Permission),
	}
}

// eventTypeFor classifies a decision for the audit trail.
func eventTypeFor(perm Permission, d Decision) audit.EventType {
	if !d.Granted {
		if d.Reason == ReasonUserInactive {
			return audit.EventUnauthorizedAccess
		}
		return audit.EventPermissionDenied
	}

	switch perm {
	case PermChildInteract:
		return audit.EventChildInteraction
	case PermAudioRecord:
		return audit.EventAudioRecording
	case PermDeviceRegister:
		return audit.EventDeviceRegistration
	case PermFamilyCreate:
		return audit.EventFamilyCreation
	case PermParentalControlsUpdate:
		return audit.EventParentalControlChange
	}

	switch perm.Verb() {
	case "create", "update", "delete", "reset", "remove_member", "upload",
		"moderate", "configure", "manage", "invite":
		return audit.EventDataModification
	default:
		return audit.EventDataAccess
	}
}

// isSensitive reports whether perm touches child data.
func isSensitive(perm Permission) bool {
	switch perm.Resource() {
	case "child", "audio", "conversation":
		return true
	default:
		return false
	}
}
