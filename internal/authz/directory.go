// ToyGuard - Access Control and Security Audit for Connected Toys
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/toyguard

package authz

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/toyguard/internal/logging"
)

// SnapshotStore persists user profiles so the directory survives restarts.
type SnapshotStore interface {
	SaveUser(ctx context.Context, profile UserProfile) error
	LoadUsers(ctx context.Context) ([]UserProfile, error)
}

// Invalidator is notified after every mutation of a user.
type Invalidator interface {
	InvalidateUser(userID string)
}

// userSlot holds one user. Writers serialise on mu; readers load the
// current immutable profile without locking.
type userSlot struct {
	mu      sync.Mutex
	profile atomic.Pointer[UserProfile]
}

// DirectoryConfig wires the directory's collaborators.
type DirectoryConfig struct {
	Catalog     *Catalog
	Invalidator Invalidator
	Snapshots   SnapshotStore
	Now         func() time.Time
}

// Directory is the in-memory user store.
type Directory struct {
	catalog     *Catalog
	invalidator Invalidator
	snapshots   SnapshotStore
	now         func() time.Time

	slots sync.Map // map[string]*userSlot
}

// NewDirectory creates an empty directory. Catalog is required.
func NewDirectory(cfg DirectoryConfig) (*Directory, error) {
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("directory: catalog is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Directory{
		catalog:     cfg.Catalog,
		invalidator: cfg.Invalidator,
		snapshots:   cfg.Snapshots,
		now:         cfg.Now,
	}, nil
}

// Restore loads previously saved profiles. Users already present are kept.
func (d *Directory) Restore(ctx context.Context) (int, error) {
	if d.snapshots == nil {
		return 0, nil
	}
	profiles, err := d.snapshots.LoadUsers(ctx)
	if err != nil {
		return 0, fmt.Errorf("load user snapshots: %w", err)
	}

	restored := 0
	for i := range profiles {
		p := profiles[i]
		if !p.Role.Valid() {
			return restored, fmt.Errorf("snapshot for user %q: %w", p.ID, ErrUnknownRole)
		}
		slot := &userSlot{}
		slot.profile.Store(&p)
		if _, loaded := d.slots.LoadOrStore(p.ID, slot); !loaded {
			restored++
		}
	}
	d.refreshGauge()
	return restored, nil
}

// CreateUser adds a user with the role's default permissions adjusted by
// the requested grants and revokes.
func (d *Directory) CreateUser(ctx context.Context, nu NewUser) (UserProfile, error) {
	if !nu.Role.Valid() {
		return UserProfile{}, fmt.Errorf("create user: %w", ErrUnknownRole)
	}
	if nu.ID == "" {
		nu.ID = uuid.NewString()
	}
	if nu.TimeRestriction != nil {
		if err := nu.TimeRestriction.Validate(); err != nil {
			return UserProfile{}, fmt.Errorf("create user %q: %w", nu.ID, err)
		}
	}

	perms := d.catalog.DefaultPermissions(nu.Role)
	for _, p := range nu.Grants {
		if !p.Valid() {
			return UserProfile{}, fmt.Errorf("create user %q: %w", nu.ID, ErrUnknownPermission)
		}
		if d.catalog.IsDefault(nu.Role, p) {
			return UserProfile{}, fmt.Errorf("create user %q: %s is a %s default: %w", nu.ID, p, nu.Role, ErrRedundantGrant)
		}
		perms = perms.With(p)
	}
	for _, p := range nu.Revokes {
		if !p.Valid() {
			return UserProfile{}, fmt.Errorf("create user %q: %w", nu.ID, ErrUnknownPermission)
		}
		perms = perms.Without(p)
	}

	now := d.now()
	profile := &UserProfile{
		ID:          nu.ID,
		DisplayName: nu.DisplayName,
		Role:        nu.Role,
		Permissions: perms,
		FamilyID:    nu.FamilyID,
		Age:         nu.Age,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if nu.TimeRestriction != nil {
		tr := *nu.TimeRestriction
		profile.TimeRestriction = &tr
	}

	slot := &userSlot{}
	slot.mu.Lock()
	defer slot.mu.Unlock()

	if _, loaded := d.slots.LoadOrStore(nu.ID, slot); loaded {
		return UserProfile{}, fmt.Errorf("create user %q: %w", nu.ID, ErrUserExists)
	}

	if d.snapshots != nil {
		if err := d.snapshots.SaveUser(ctx, *profile); err != nil {
			d.slots.Delete(nu.ID)
			return UserProfile{}, fmt.Errorf("persist user %q: %w", nu.ID, err)
		}
	}
	slot.profile.Store(profile)
	d.invalidate(nu.ID)

	AuthzDirectoryMutationsTotal.WithLabelValues("create").Inc()
	d.refreshGauge()
	logging.Ctx(ctx).Info().
		Str("user_id", nu.ID).
		Str("role", nu.Role.String()).
		Int("permissions", perms.Len()).
		Msg("User created")

	return profile.clone(), nil
}

// GetUser returns a copy of the user's profile.
func (d *Directory) GetUser(id string) (UserProfile, bool) {
	p := d.lookup(id)
	if p == nil {
		return UserProfile{}, false
	}
	return p.clone(), true
}

// lookup returns the shared immutable profile. Callers must not modify it.
func (d *Directory) lookup(id string) *UserProfile {
	v, ok := d.slots.Load(id)
	if !ok {
		return nil
	}
	// A slot whose creation is still in flight has no profile yet.
	return v.(*userSlot).profile.Load()
}

// Users returns copies of every profile sorted by id.
func (d *Directory) Users() []UserProfile {
	var out []UserProfile
	d.slots.Range(func(_, v any) bool {
		if p := v.(*userSlot).profile.Load(); p != nil {
			out = append(out, p.clone())
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FamilyMembers returns copies of every profile in familyID, active or not,
// sorted by id. An empty family id matches nobody.
func (d *Directory) FamilyMembers(familyID string) []UserProfile {
	if familyID == "" {
		return nil
	}
	var out []UserProfile
	d.slots.Range(func(_, v any) bool {
		if p := v.(*userSlot).profile.Load(); p != nil && p.FamilyID == familyID {
			out = append(out, p.clone())
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GrantPermission adds perm to the user's effective set.
func (d *Directory) GrantPermission(ctx context.Context, id string, perm Permission) error {
	if !perm.Valid() {
		return fmt.Errorf("grant: %w", ErrUnknownPermission)
	}
	_, err := d.mutate(ctx, id, "grant", func(p *UserProfile) error {
		if !p.Permissions.Has(perm) {
			p.Permissions = p.Permissions.With(perm)
			return nil
		}
		if d.catalog.IsDefault(p.Role, perm) {
			return fmt.Errorf("grant %s to %q: %s is a %s default: %w", perm, id, perm, p.Role, ErrRedundantGrant)
		}
		return fmt.Errorf("grant %s to %q: %w", perm, id, ErrRedundantGrant)
	})
	if err == nil {
		logging.Ctx(ctx).Info().Str("user_id", id).Str("permission", perm.String()).Msg("Permission granted")
	}
	return err
}

// RevokePermission removes perm from the user's effective set. Revoking a
// permission that is not held is not an error.
func (d *Directory) RevokePermission(ctx context.Context, id string, perm Permission) error {
	if !perm.Valid() {
		return fmt.Errorf("revoke: %w", ErrUnknownPermission)
	}
	_, err := d.mutate(ctx, id, "revoke", func(p *UserProfile) error {
		p.Permissions = p.Permissions.Without(perm)
		return nil
	})
	if err == nil {
		logging.Ctx(ctx).Info().Str("user_id", id).Str("permission", perm.String()).Msg("Permission revoked")
	}
	return err
}

// ChangeRole assigns a new role and resets permissions to its defaults.
func (d *Directory) ChangeRole(ctx context.Context, id string, role Role) error {
	if !role.Valid() {
		return fmt.Errorf("change role: %w", ErrUnknownRole)
	}
	var previous Role
	_, err := d.mutate(ctx, id, "role_change", func(p *UserProfile) error {
		previous = p.Role
		p.Role = role
		p.Permissions = d.catalog.DefaultPermissions(role)
		return nil
	})
	if err == nil {
		logging.Ctx(ctx).Info().
			Str("user_id", id).
			Str("old_role", previous.String()).
			Str("new_role", role.String()).
			Msg("User role changed")
	}
	return err
}

// SetTimeRestriction replaces the user's allowed-hours window. A nil
// restriction removes it.
func (d *Directory) SetTimeRestriction(ctx context.Context, id string, tr *TimeRestriction) error {
	if tr != nil {
		if err := tr.Validate(); err != nil {
			return err
		}
		copied := *tr
		tr = &copied
	}
	_, err := d.mutate(ctx, id, "time_restriction", func(p *UserProfile) error {
		p.TimeRestriction = tr
		return nil
	})
	return err
}

// Deactivate marks the user inactive. Inactive users are denied every
// request; the profile itself is kept.
func (d *Directory) Deactivate(ctx context.Context, id string) error {
	_, err := d.mutate(ctx, id, "deactivate", func(p *UserProfile) error {
		p.Active = false
		return nil
	})
	if err == nil {
		logging.Ctx(ctx).Warn().Str("user_id", id).Msg("User deactivated")
		d.refreshGauge()
	}
	return err
}

// mutate applies fn to a private copy of the profile and publishes it.
func (d *Directory) mutate(ctx context.Context, id, op string, fn func(*UserProfile) error) (UserProfile, error) {
	v, ok := d.slots.Load(id)
	if !ok {
		return UserProfile{}, fmt.Errorf("%s %q: %w", op, id, ErrUserNotFound)
	}
	slot := v.(*userSlot)

	slot.mu.Lock()
	defer slot.mu.Unlock()

	current := slot.profile.Load()
	if current == nil {
		return UserProfile{}, fmt.Errorf("%s %q: %w", op, id, ErrUserNotFound)
	}

	next := current.clone()
	if err := fn(&next); err != nil {
		return UserProfile{}, err
	}
	next.UpdatedAt = d.now()

	if d.snapshots != nil {
		if err := d.snapshots.SaveUser(ctx, next); err != nil {
			return UserProfile{}, fmt.Errorf("persist user %q: %w", id, err)
		}
	}

	slot.profile.Store(&next)
	d.invalidate(id)
	AuthzDirectoryMutationsTotal.WithLabelValues(op).Inc()

	return next.clone(), nil
}

func (d *Directory) invalidate(id string) {
	if d.invalidator != nil {
		d.invalidator.InvalidateUser(id)
	}
}

func (d *Directory) refreshGauge() {
	counts := make(map[Role]int, roleCount)
	d.slots.Range(func(_, v any) bool {
		if p := v.(*userSlot).profile.Load(); p != nil && p.Active {
			counts[p.Role]++
		}
		return true
	})
	for _, r := range AllRoles() {
		AuthzActiveUsers.WithLabelValues(r.String()).Set(float64(counts[r]))
	}
}
