// ToyGuard - Access Control and Security Audit for Connected Toys
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/toyguard

package authz

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tomtom215/toyguard/internal/logging"
)

// Denial and grant reasons. Callers may match on these strings.
const (
	ReasonGranted              = "access granted"
	ReasonEmergencyGranted     = "emergency override granted"
	ReasonUserInactive         = "user not found or inactive"
	ReasonPermissionNotGranted = "permission not granted to role"
	ReasonUnknownContext       = "unknown access context"
	ReasonParentalContext      = "context requires parental role"
	ReasonTherapeuticContext   = "context requires therapist or parent role"
	ReasonEducationalContext   = "context requires educational role"
	ReasonEmergencyContact     = "context requires registered emergency contact"
	ReasonMalformedResource    = "malformed resource identifier"
	ReasonChildResource        = "no access to this child's resource"
	ReasonFamilyResource       = "no access to this family's resource"
	ReasonRelationshipLookup   = "relationship lookup failed"
	ReasonOutsideHours         = "outside allowed access hours"
	ReasonWeekendRestricted    = "access restricted on weekends"
)

// Conditions attached to granted decisions.
const (
	ConditionInteractionMonitored = "Child interaction monitored"
	ConditionContentFiltering     = "Content filtering active"
	ConditionParentNotified       = "Parent notification sent"
	ConditionEmergencyLogged      = "Emergency access logged"
)

// Resource types with ownership rules.
const (
	ResourceChild  = "child"
	ResourceFamily = "family"
)

// AccessRequest is one access check.
type AccessRequest struct {
	UserID     string
	Permission Permission
	// Resource is optional and formatted "<type>:<id>".
	Resource   string
	Context    AccessContext
	SourceAddr string
}

// Decision is the result of an access check. Every check produces one.
type Decision struct {
	Granted    bool      `json:"granted"`
	Reason     string    `json:"reason"`
	Conditions []string  `json:"conditions,omitempty"`
	AuditID    string    `json:"audit_id,omitempty"`
	ExpiresAt  time.Time `json:"expires_at,omitempty"`

	// validity is how long a grant lasts from the moment it is returned.
	validity time.Duration
}

func (d Decision) clone() Decision {
	if d.Conditions != nil {
		d.Conditions = append([]string(nil), d.Conditions...)
	}
	return d
}

func deny(reason string) Decision {
	return Decision{Granted: false, Reason: reason}
}

// RelationshipStore answers family questions for ownership checks.
type RelationshipStore interface {
	// IsLinked reports whether childID belongs to familyID.
	IsLinked(ctx context.Context, familyID, childID string) (bool, error)
	// IsEmergencyContact reports whether userID may use emergency override
	// for childID.
	IsEmergencyContact(ctx context.Context, userID, childID string) (bool, error)
}

// EngineConfig wires the engine's collaborators.
type EngineConfig struct {
	Directory     *Directory
	Relationships RelationshipStore
	// Cache is optional.
	Cache *DecisionCache
	Now   func() time.Time
}

// Engine evaluates access requests. It is safe for concurrent use and only
// reads shared state.
type Engine struct {
	dir   *Directory
	rel   RelationshipStore
	cache *DecisionCache
	now   func() time.Time
}

// NewEngine creates an engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Directory == nil {
		return nil, fmt.Errorf("engine: directory is required")
	}
	if cfg.Relationships == nil {
		return nil, fmt.Errorf("engine: relationship store is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		dir:   cfg.Directory,
		rel:   cfg.Relationships,
		cache: cfg.Cache,
		now:   cfg.Now,
	}, nil
}

// evaluation tracks facts about a pipeline run that decide cacheability.
type evaluation struct {
	consultedRelationships bool
	timeDependent          bool
}

// CheckAccess runs the decision pipeline for req.
func (e *Engine) CheckAccess(ctx context.Context, req AccessRequest) Decision {
	start := time.Now()

	key := cacheKey{UserID: req.UserID, Permission: req.Permission, Resource: req.Resource, Context: req.Context}
	if e.cache != nil {
		if d, ok := e.cache.Get(key); ok {
			if d.Granted {
				d.ExpiresAt = e.now().Add(d.validity)
			}
			recordDecision(req, d, true, time.Since(start))
			return d
		}
	}

	var gen uint64
	if e.cache != nil {
		gen = e.cache.Generation(req.UserID)
	}

	var ev evaluation
	d := e.evaluate(ctx, req, &ev)

	if e.cache != nil && !ev.consultedRelationships && !ev.timeDependent {
		e.cache.Set(key, gen, d)
	}

	recordDecision(req, d, false, time.Since(start))
	return d
}

func (e *Engine) evaluate(ctx context.Context, req AccessRequest, ev *evaluation) Decision {
	// 1. Existence and activity.
	user := e.dir.lookup(req.UserID)
	if user == nil || !user.Active {
		return deny(ReasonUserInactive)
	}

	// 2. Permission membership.
	if !user.Permissions.Has(req.Permission) {
		return deny(ReasonPermissionNotGranted)
	}

	// 3. Context compatibility.
	ctxDecision, ok := e.checkContext(ctx, user, req, ev)
	if !ok {
		return ctxDecision
	}

	// 4. Resource ownership. An emergency grant has already tied the user to
	// the child named by the resource.
	if req.Resource != "" && req.Context != ContextEmergencyOverride {
		if d, ok := e.checkResource(ctx, user, req.Resource, ev); !ok {
			return d
		}
	}

	// 5. Time of day.
	if user.TimeRestriction != nil {
		ev.timeDependent = true
		if ok, reason := user.TimeRestriction.Allows(e.now()); !ok {
			return deny(reason)
		}
	}

	validity := AccessExpiry(user.Role)
	d := Decision{
		Granted:    true,
		Reason:     ReasonGranted,
		Conditions: ctxDecision.Conditions,
		ExpiresAt:  e.now().Add(validity),
		validity:   validity,
	}
	if ctxDecision.Reason != "" {
		d.Reason = ctxDecision.Reason
	}
	if req.Permission == PermAudioRecord || req.Permission == PermChildInteract {
		d.Conditions = append(d.Conditions,
			ConditionInteractionMonitored,
			ConditionContentFiltering,
			ConditionParentNotified,
		)
	}
	return d
}

// checkContext applies the context rule. On success the returned decision
// may carry a reason and conditions to attach to the final grant.
func (e *Engine) checkContext(ctx context.Context, user *UserProfile, req AccessRequest, ev *evaluation) (Decision, bool) {
	switch req.Context {
	case ContextDirectInteraction, ContextScheduledAccess:
		return Decision{}, true

	case ContextParentalSupervision:
		if user.Role == RoleParent || user.Role == RoleGuardian {
			return Decision{}, true
		}
		return deny(ReasonParentalContext), false

	case ContextTherapeuticSession:
		if user.Role == RoleTherapist || user.Role == RoleParent {
			return Decision{}, true
		}
		return deny(ReasonTherapeuticContext), false

	case ContextEducationalActivity:
		switch user.Role {
		case RoleEducator, RoleParent, RoleChild:
			return Decision{}, true
		default:
			return deny(ReasonEducationalContext), false
		}

	case ContextEmergencyOverride:
		if req.Resource == "" {
			return deny(ReasonEmergencyContact), false
		}
		kind, id, err := parseResource(req.Resource)
		if err != nil {
			return deny(ReasonMalformedResource), false
		}
		if kind != ResourceChild {
			return deny(ReasonEmergencyContact), false
		}
		ev.consultedRelationships = true
		ok, err := e.rel.IsEmergencyContact(ctx, user.ID, id)
		if err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("user_id", user.ID).Str("child_id", id).
				Msg("Emergency contact lookup failed")
			AuthzErrorsTotal.WithLabelValues("relationship_lookup").Inc()
			return deny(ReasonRelationshipLookup), false
		}
		if !ok {
			return deny(ReasonEmergencyContact), false
		}
		return Decision{Reason: ReasonEmergencyGranted, Conditions: []string{ConditionEmergencyLogged}}, true

	default:
		return deny(ReasonUnknownContext), false
	}
}

// checkResource applies ownership rules for known resource types. Other
// resource types carry no ownership model and pass.
func (e *Engine) checkResource(ctx context.Context, user *UserProfile, resource string, ev *evaluation) (Decision, bool) {
	kind, id, err := parseResource(resource)
	if err != nil {
		return deny(ReasonMalformedResource), false
	}

	switch kind {
	case ResourceChild:
		if user.Role == RoleChild {
			if id == user.ID {
				return Decision{}, true
			}
			return deny(ReasonChildResource), false
		}
		if user.FamilyID == "" {
			return deny(ReasonChildResource), false
		}
		ev.consultedRelationships = true
		linked, err := e.rel.IsLinked(ctx, user.FamilyID, id)
		if err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("family_id", user.FamilyID).Str("child_id", id).
				Msg("Family relationship lookup failed")
			AuthzErrorsTotal.WithLabelValues("relationship_lookup").Inc()
			return deny(ReasonRelationshipLookup), false
		}
		if !linked {
			return deny(ReasonChildResource), false
		}
		return Decision{}, true

	case ResourceFamily:
		if user.FamilyID != "" && user.FamilyID == id {
			return Decision{}, true
		}
		return deny(ReasonFamilyResource), false

	default:
		return Decision{}, true
	}
}

// parseResource splits "<type>:<id>".
func parseResource(resource string) (kind, id string, err error) {
	kind, id, ok := strings.Cut(resource, ":")
	if !ok || kind == "" || id == "" || strings.ContainsAny(id, ": \t\n") || strings.ContainsAny(kind, " \t\n") {
		return "", "", fmt.Errorf("malformed resource %q", resource)
	}
	return kind, id, nil
}

// AccessExpiry returns how long a grant for role stays valid.
func AccessExpiry(role Role) time.Duration {
	switch role {
	case RoleChild:
		return 30 * time.Minute
	case RoleParent:
		return 4 * time.Hour
	case RoleAdmin, RoleSuperAdmin:
		return 8 * time.Hour
	default:
		return 2 * time.Hour
	}
}
