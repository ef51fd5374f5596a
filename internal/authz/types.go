// ToyGuard - Access Control and Security Audit for Connected Toys
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/toyguard

package authz

import (
	"fmt"
	"math/bits"
	"sort"
	"strings"

	"github.com/goccy/go-json"
)

// Role is the closed set of user roles. The zero value is invalid.
type Role uint8

const (
	RoleSuperAdmin Role = iota + 1
	RoleAdmin
	RoleParent
	RoleChild
	RoleGuardian
	RoleEducator
	RoleTherapist
	RoleSupport
	RoleGuest

	roleCount = int(RoleGuest)
)

var roleNames = [...]string{
	RoleSuperAdmin: "super_admin",
	RoleAdmin:      "admin",
	RoleParent:     "parent",
	RoleChild:      "child",
	RoleGuardian:   "guardian",
	RoleEducator:   "educator",
	RoleTherapist:  "therapist",
	RoleSupport:    "support",
	RoleGuest:      "guest",
}

// AllRoles returns every valid role in declaration order.
func AllRoles() []Role {
	out := make([]Role, 0, roleCount)
	for r := RoleSuperAdmin; r <= RoleGuest; r++ {
		out = append(out, r)
	}
	return out
}

// Valid reports whether r is a member of the closed role set.
func (r Role) Valid() bool {
	return r >= RoleSuperAdmin && r <= RoleGuest
}

func (r Role) String() string {
	if !r.Valid() {
		return fmt.Sprintf("role(%d)", uint8(r))
	}
	return roleNames[r]
}

// ParseRole converts a role name into a Role.
func ParseRole(s string) (Role, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for r := RoleSuperAdmin; r <= RoleGuest; r++ {
		if roleNames[r] == s {
			return r, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownRole, s)
}

// MarshalText implements encoding.TextMarshaler.
func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownRole, uint8(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Role) UnmarshalText(b []byte) error {
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Permission is the closed set of capabilities. A permission is atomic.
type Permission uint8

const (
	PermChildCreate Permission = iota + 1
	PermChildRead
	PermChildUpdate
	PermChildDelete
	PermChildInteract

	PermAudioRecord
	PermAudioPlayback
	PermAudioUpload
	PermAudioDownload
	PermAudioDelete

	PermConversationView
	PermConversationModerate
	PermConversationExport
	PermConversationDelete

	PermSettingsView
	PermSettingsUpdate
	PermSettingsReset

	PermParentalControlsView
	PermParentalControlsUpdate
	PermScreenTimeManage
	PermContentFilterManage

	PermReportsView
	PermReportsExport
	PermAnalyticsView
	PermAnalyticsAdvanced

	PermDeviceRegister
	PermDeviceManage
	PermDeviceReset
	PermDeviceDelete

	PermFamilyCreate
	PermFamilyManage
	PermFamilyInvite
	PermFamilyRemoveMember

	PermSystemMonitor
	PermSystemConfigure
	PermUserManage
	PermAuditView

	permissionCount = int(PermAuditView)
)

var permissionNames = [...]string{
	PermChildCreate:            "child:create",
	PermChildRead:              "child:read",
	PermChildUpdate:            "child:update",
	PermChildDelete:            "child:delete",
	PermChildInteract:          "child:interact",
	PermAudioRecord:            "audio:record",
	PermAudioPlayback:          "audio:playback",
	PermAudioUpload:            "audio:upload",
	PermAudioDownload:          "audio:download",
	PermAudioDelete:            "audio:delete",
	PermConversationView:       "conversation:view",
	PermConversationModerate:   "conversation:moderate",
	PermConversationExport:     "conversation:export",
	PermConversationDelete:     "conversation:delete",
	PermSettingsView:           "settings:view",
	PermSettingsUpdate:         "settings:update",
	PermSettingsReset:          "settings:reset",
	PermParentalControlsView:   "parental_controls:view",
	PermParentalControlsUpdate: "parental_controls:update",
	PermScreenTimeManage:       "screen_time:manage",
	PermContentFilterManage:    "content_filter:manage",
	PermReportsView:            "reports:view",
	PermReportsExport:          "reports:export",
	PermAnalyticsView:          "analytics:view",
	PermAnalyticsAdvanced:      "analytics:advanced",
	PermDeviceRegister:         "device:register",
	PermDeviceManage:           "device:manage",
	PermDeviceReset:            "device:reset",
	PermDeviceDelete:           "device:delete",
	PermFamilyCreate:           "family:create",
	PermFamilyManage:           "family:manage",
	PermFamilyInvite:           "family:invite",
	PermFamilyRemoveMember:     "family:remove_member",
	PermSystemMonitor:          "system:monitor",
	PermSystemConfigure:        "system:configure",
	PermUserManage:             "user:manage",
	PermAuditView:              "audit:view",
}

// AllPermissions returns every valid permission in declaration order.
func AllPermissions() []Permission {
	out := make([]Permission, 0, permissionCount)
	for p := PermChildCreate; p <= PermAuditView; p++ {
		out = append(out, p)
	}
	return out
}

// Valid reports whether p is a member of the closed permission set.
func (p Permission) Valid() bool {
	return p >= PermChildCreate && p <= PermAuditView
}

func (p Permission) String() string {
	if !p.Valid() {
		return fmt.Sprintf("permission(%d)", uint8(p))
	}
	return permissionNames[p]
}

// Resource returns the part before the colon, e.g. "child" for child:read.
func (p Permission) Resource() string {
	kind, _, _ := strings.Cut(p.String(), ":")
	return kind
}

// Verb returns the part after the colon, e.g. "read" for child:read.
func (p Permission) Verb() string {
	_, verb, _ := strings.Cut(p.String(), ":")
	return verb
}

// ParsePermission converts a permission name into a Permission.
func ParsePermission(s string) (Permission, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for p := PermChildCreate; p <= PermAuditView; p++ {
		if permissionNames[p] == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownPermission, s)
}

// MarshalText implements encoding.TextMarshaler.
func (p Permission) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPermission, uint8(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Permission) UnmarshalText(b []byte) error {
	parsed, err := ParsePermission(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// PermissionSet is an immutable set of permissions stored as a bitmask.
// Only valid permissions can be added, so every set is a subset of
// AllPermissions.
type PermissionSet uint64

// NewPermissionSet builds a set from ps, ignoring invalid values.
func NewPermissionSet(ps ...Permission) PermissionSet {
	var s PermissionSet
	for _, p := range ps {
		s = s.With(p)
	}
	return s
}

// FullPermissionSet contains every permission.
func FullPermissionSet() PermissionSet {
	return NewPermissionSet(AllPermissions()...)
}

func (s PermissionSet) Has(p Permission) bool {
	return p.Valid() && s&(1<<uint(p-1)) != 0
}

func (s PermissionSet) With(p Permission) PermissionSet {
	if !p.Valid() {
		return s
	}
	return s | 1<<uint(p-1)
}

func (s PermissionSet) Without(p Permission) PermissionSet {
	if !p.Valid() {
		return s
	}
	return s &^ (1 << uint(p-1))
}

// Union returns s ∪ other.
func (s PermissionSet) Union(other PermissionSet) PermissionSet { return s | other }

// Len returns the number of permissions in the set.
func (s PermissionSet) Len() int { return bits.OnesCount64(uint64(s)) }

// Slice returns the members in declaration order.
func (s PermissionSet) Slice() []Permission {
	out := make([]Permission, 0, s.Len())
	for p := PermChildCreate; p <= PermAuditView; p++ {
		if s.Has(p) {
			out = append(out, p)
		}
	}
	return out
}

// Strings returns the sorted permission names.
func (s PermissionSet) Strings() []string {
	ps := s.Slice()
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.String()
	}
	sort.Strings(out)
	return out
}

// MarshalJSON encodes the set as a sorted list of names.
func (s PermissionSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Strings())
}

// UnmarshalJSON decodes a list of names and rejects unknown entries.
func (s *PermissionSet) UnmarshalJSON(b []byte) error {
	var names []string
	if err := json.Unmarshal(b, &names); err != nil {
		return err
	}
	var set PermissionSet
	for _, n := range names {
		p, err := ParsePermission(n)
		if err != nil {
			return err
		}
		set = set.With(p)
	}
	*s = set
	return nil
}

// AccessContext describes why access is being requested.
type AccessContext uint8

const (
	ContextDirectInteraction AccessContext = iota + 1
	ContextParentalSupervision
	ContextEmergencyOverride
	ContextScheduledAccess
	ContextTherapeuticSession
	ContextEducationalActivity
)

var contextNames = [...]string{
	ContextDirectInteraction:   "direct_interaction",
	ContextParentalSupervision: "parental_supervision",
	ContextEmergencyOverride:   "emergency_override",
	ContextScheduledAccess:     "scheduled_access",
	ContextTherapeuticSession:  "therapeutic_session",
	ContextEducationalActivity: "educational_activity",
}

func (c AccessContext) Valid() bool {
	return c >= ContextDirectInteraction && c <= ContextEducationalActivity
}

func (c AccessContext) String() string {
	if !c.Valid() {
		return fmt.Sprintf("context(%d)", uint8(c))
	}
	return contextNames[c]
}

// ParseAccessContext converts a context name. An empty string means
// direct interaction.
func ParseAccessContext(s string) (AccessContext, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ContextDirectInteraction, nil
	}
	for c := ContextDirectInteraction; c <= ContextEducationalActivity; c++ {
		if contextNames[c] == s {
			return c, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownContext, s)
}

// MarshalText implements encoding.TextMarshaler.
func (c AccessContext) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *AccessContext) UnmarshalText(b []byte) error {
	parsed, err := ParseAccessContext(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
