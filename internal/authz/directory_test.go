// ToyGuard - Access Control and Security Audit for Connected Toys
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/toyguard

package authz

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

type recordingInvalidator struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingInvalidator) InvalidateUser(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, id)
}

func (r *recordingInvalidator) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func setupDirectory(t *testing.T) (*Directory, *recordingInvalidator) {
	t.Helper()
	inv := &recordingInvalidator{}
	dir, err := NewDirectory(DirectoryConfig{
		Catalog:     newTestCatalog(t),
		Invalidator: inv,
		Now:         newTestClock(wednesdayNoon).Now,
	})
	if err != nil {
		t.Fatalf("NewDirectory() error = %v", err)
	}
	return dir, inv
}

// =====================================================================
// Create and Read
// =====================================================================

func TestDirectory_CreateUser(t *testing.T) {
	dir, _ := setupDirectory(t)
	ctx := context.Background()

	p, err := dir.CreateUser(ctx, NewUser{
		ID:          "u1",
		DisplayName: "Pat",
		Role:        RoleChild,
		FamilyID:    "f1",
		Age:         7,
		Grants:      []Permission{PermReportsView},
		Revokes:     []Permission{PermAudioRecord},
	})
	if err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}

	want := NewPermissionSet(PermChildInteract, PermAudioPlayback, PermSettingsView, PermReportsView)
	if p.Permissions != want {
		t.Errorf("Permissions = %v, want %v", p.Permissions.Strings(), want.Strings())
	}
	if !p.Active {
		t.Error("new user should be active")
	}
	if !p.CreatedAt.Equal(wednesdayNoon) {
		t.Errorf("CreatedAt = %v, want %v", p.CreatedAt, wednesdayNoon)
	}

	got, ok := dir.GetUser("u1")
	if !ok || got.ID != "u1" || got.FamilyID != "f1" || got.Age != 7 {
		t.Errorf("GetUser(u1) = %+v, %v", got, ok)
	}
}

func TestDirectory_CreateUser_Errors(t *testing.T) {
	dir, _ := setupDirectory(t)
	ctx := context.Background()

	if _, err := dir.CreateUser(ctx, NewUser{ID: "u1", Role: RoleParent}); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}

	tests := []struct {
		name   string
		nu     NewUser
		target error
	}{
		{"duplicate id", NewUser{ID: "u1", Role: RoleParent}, ErrUserExists},
		{"invalid role", NewUser{ID: "u2"}, ErrUnknownRole},
		{"invalid grant", NewUser{ID: "u3", Role: RoleGuest, Grants: []Permission{0}}, ErrUnknownPermission},
		{"invalid window", NewUser{ID: "u4", Role: RoleChild, TimeRestriction: &TimeRestriction{Start: 2000}}, ErrInvalidTimeRestriction},
		{"grant of role default", NewUser{ID: "u5", Role: RoleChild, Grants: []Permission{PermChildInteract}}, ErrRedundantGrant},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := dir.CreateUser(ctx, tt.nu); !errors.Is(err, tt.target) {
				t.Errorf("CreateUser() error = %v, want %v", err, tt.target)
			}
		})
	}
}

func TestDirectory_CreateUser_GeneratesID(t *testing.T) {
	dir, _ := setupDirectory(t)
	p, err := dir.CreateUser(context.Background(), NewUser{Role: RoleGuest})
	if err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	if p.ID == "" {
		t.Error("expected a generated id")
	}
}

func TestDirectory_GetUserReturnsCopy(t *testing.T) {
	dir, _ := setupDirectory(t)
	tr, _ := NewTimeRestriction("08:00", "17:00", false)
	if _, err := dir.CreateUser(context.Background(), NewUser{ID: "u1", Role: RoleChild, TimeRestriction: tr}); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}

	p, _ := dir.GetUser("u1")
	p.Permissions = FullPermissionSet()
	p.TimeRestriction.End = 1439

	again, _ := dir.GetUser("u1")
	if again.Permissions == FullPermissionSet() {
		t.Error("modifying a returned profile changed the directory")
	}
	if again.TimeRestriction.End != 17*60 {
		t.Error("modifying a returned time restriction changed the directory")
	}
}

func TestDirectory_Users(t *testing.T) {
	dir, _ := setupDirectory(t)
	for _, id := range []string{"c", "a", "b"} {
		if _, err := dir.CreateUser(context.Background(), NewUser{ID: id, Role: RoleGuest}); err != nil {
			t.Fatalf("CreateUser(%s) error = %v", id, err)
		}
	}
	users := dir.Users()
	if len(users) != 3 || users[0].ID != "a" || users[2].ID != "c" {
		t.Errorf("Users() = %v", users)
	}
}

func TestDirectory_FamilyMembers(t *testing.T) {
	dir, _ := setupDirectory(t)
	ctx := context.Background()
	for _, nu := range []NewUser{
		{ID: "parent", Role: RoleParent, FamilyID: "f1"},
		{ID: "kid", Role: RoleChild, FamilyID: "f1"},
		{ID: "nan", Role: RoleGuardian, FamilyID: "f1"},
		{ID: "neighbour", Role: RoleParent, FamilyID: "f2"},
		{ID: "loner", Role: RoleGuest},
	} {
		if _, err := dir.CreateUser(ctx, nu); err != nil {
			t.Fatalf("CreateUser(%s) error = %v", nu.ID, err)
		}
	}
	if err := dir.Deactivate(ctx, "nan"); err != nil {
		t.Fatalf("Deactivate() error = %v", err)
	}

	tests := []struct {
		family string
		want   []string
	}{
		{"f1", []string{"kid", "nan", "parent"}},
		{"f2", []string{"neighbour"}},
		{"f3", nil},
		{"", nil},
	}
	for _, tt := range tests {
		t.Run("family "+tt.family, func(t *testing.T) {
			members := dir.FamilyMembers(tt.family)
			var ids []string
			for _, m := range members {
				ids = append(ids, m.ID)
			}
			if fmt.Sprint(ids) != fmt.Sprint(tt.want) {
				t.Errorf("FamilyMembers(%q) = %v, want %v", tt.family, ids, tt.want)
			}
		})
	}
}

// =====================================================================
// Mutations
// =====================================================================

func TestDirectory_GrantRevoke(t *testing.T) {
	dir, inv := setupDirectory(t)
	ctx := context.Background()
	if _, err := dir.CreateUser(ctx, NewUser{ID: "u1", Role: RoleGuest}); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	base := inv.count()

	if err := dir.GrantPermission(ctx, "u1", PermReportsView); err != nil {
		t.Fatalf("GrantPermission() error = %v", err)
	}
	if err := dir.GrantPermission(ctx, "u1", PermReportsView); !errors.Is(err, ErrRedundantGrant) {
		t.Errorf("second GrantPermission() error = %v, want ErrRedundantGrant", err)
	}
	if err := dir.GrantPermission(ctx, "u1", PermChildInteract); !errors.Is(err, ErrRedundantGrant) {
		t.Errorf("granting a role default error = %v, want ErrRedundantGrant", err)
	}

	p, _ := dir.GetUser("u1")
	if !p.Permissions.Has(PermReportsView) {
		t.Error("granted permission missing")
	}

	if err := dir.RevokePermission(ctx, "u1", PermChildInteract); err != nil {
		t.Fatalf("RevokePermission() error = %v", err)
	}
	if err := dir.RevokePermission(ctx, "u1", PermChildInteract); err != nil {
		t.Errorf("revoking an absent permission error = %v", err)
	}
	p, _ = dir.GetUser("u1")
	if p.Permissions.Has(PermChildInteract) {
		t.Error("revoked permission still held")
	}

	// grant + 2 revokes; the failed grants do not invalidate.
	if got := inv.count() - base; got != 3 {
		t.Errorf("invalidations = %d, want 3", got)
	}
}

func TestDirectory_MissingUser(t *testing.T) {
	dir, _ := setupDirectory(t)
	ctx := context.Background()

	ops := map[string]func() error{
		"grant":       func() error { return dir.GrantPermission(ctx, "ghost", PermChildRead) },
		"revoke":      func() error { return dir.RevokePermission(ctx, "ghost", PermChildRead) },
		"role":        func() error { return dir.ChangeRole(ctx, "ghost", RoleParent) },
		"restriction": func() error { return dir.SetTimeRestriction(ctx, "ghost", nil) },
		"deactivate":  func() error { return dir.Deactivate(ctx, "ghost") },
	}
	for name, op := range ops {
		if err := op(); !errors.Is(err, ErrUserNotFound) {
			t.Errorf("%s on missing user error = %v, want ErrUserNotFound", name, err)
		}
	}
	if _, ok := dir.GetUser("ghost"); ok {
		t.Error("GetUser(ghost) should miss")
	}
}

func TestDirectory_ChangeRole(t *testing.T) {
	dir, _ := setupDirectory(t)
	ctx := context.Background()
	if _, err := dir.CreateUser(ctx, NewUser{ID: "u1", Role: RoleGuest, Grants: []Permission{PermAuditView}}); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}

	if err := dir.ChangeRole(ctx, "u1", RoleGuardian); err != nil {
		t.Fatalf("ChangeRole() error = %v", err)
	}
	p, _ := dir.GetUser("u1")
	if p.Role != RoleGuardian {
		t.Errorf("Role = %s, want guardian", p.Role)
	}
	if p.Permissions.Has(PermAuditView) {
		t.Error("individual grants should be reset on role change")
	}
	if !p.Permissions.Has(PermChildRead) {
		t.Error("guardian defaults missing after role change")
	}

	if err := dir.ChangeRole(ctx, "u1", Role(99)); !errors.Is(err, ErrUnknownRole) {
		t.Errorf("ChangeRole(invalid) error = %v, want ErrUnknownRole", err)
	}
}

func TestDirectory_SetTimeRestriction(t *testing.T) {
	dir, _ := setupDirectory(t)
	ctx := context.Background()
	if _, err := dir.CreateUser(ctx, NewUser{ID: "u1", Role: RoleChild}); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}

	tr, _ := NewTimeRestriction("21:00", "07:00", false)
	if err := dir.SetTimeRestriction(ctx, "u1", tr); err != nil {
		t.Fatalf("SetTimeRestriction() error = %v", err)
	}
	tr.Start = 0 // caller's copy must not leak into the directory

	p, _ := dir.GetUser("u1")
	if p.TimeRestriction == nil || p.TimeRestriction.Start != 21*60 {
		t.Errorf("TimeRestriction = %v", p.TimeRestriction)
	}

	if err := dir.SetTimeRestriction(ctx, "u1", &TimeRestriction{End: 5000}); !errors.Is(err, ErrInvalidTimeRestriction) {
		t.Errorf("invalid window error = %v, want ErrInvalidTimeRestriction", err)
	}

	if err := dir.SetTimeRestriction(ctx, "u1", nil); err != nil {
		t.Fatalf("clearing restriction error = %v", err)
	}
	p, _ = dir.GetUser("u1")
	if p.TimeRestriction != nil {
		t.Error("restriction should be cleared")
	}
}

func TestDirectory_Deactivate(t *testing.T) {
	dir, _ := setupDirectory(t)
	ctx := context.Background()
	if _, err := dir.CreateUser(ctx, NewUser{ID: "u1", Role: RoleParent}); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	if err := dir.Deactivate(ctx, "u1"); err != nil {
		t.Fatalf("Deactivate() error = %v", err)
	}
	p, ok := dir.GetUser("u1")
	if !ok {
		t.Fatal("deactivated users are kept")
	}
	if p.Active {
		t.Error("user still active")
	}
}

// Concurrent grants on one user must not lose updates.
func TestDirectory_ConcurrentMutations(t *testing.T) {
	dir, _ := setupDirectory(t)
	ctx := context.Background()
	if _, err := dir.CreateUser(ctx, NewUser{ID: "u1", Role: RoleGuest}); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}

	perms := []Permission{
		PermChildRead, PermAudioPlayback, PermSettingsView, PermReportsView,
		PermAnalyticsView, PermConversationView, PermDeviceManage, PermAuditView,
	}

	var wg sync.WaitGroup
	for _, p := range perms {
		wg.Add(1)
		go func(p Permission) {
			defer wg.Done()
			if err := dir.GrantPermission(ctx, "u1", p); err != nil {
				t.Errorf("GrantPermission(%s) error = %v", p, err)
			}
		}(p)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = dir.GetUser("u1")
		}()
	}
	wg.Wait()

	got, _ := dir.GetUser("u1")
	for _, p := range perms {
		if !got.Permissions.Has(p) {
			t.Errorf("lost concurrent grant of %s", p)
		}
	}
}

// =====================================================================
// Snapshots
// =====================================================================

type memorySnapshots struct {
	mu    sync.Mutex
	users map[string]UserProfile
	err   error
}

func (m *memorySnapshots) SaveUser(_ context.Context, p UserProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.users == nil {
		m.users = make(map[string]UserProfile)
	}
	m.users[p.ID] = p
	return nil
}

func (m *memorySnapshots) LoadUsers(context.Context) ([]UserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]UserProfile, 0, len(m.users))
	for _, p := range m.users {
		out = append(out, p)
	}
	return out, nil
}

func TestDirectory_SnapshotRestore(t *testing.T) {
	snaps := &memorySnapshots{}
	catalog := newTestCatalog(t)
	ctx := context.Background()

	first, err := NewDirectory(DirectoryConfig{Catalog: catalog, Snapshots: snaps})
	if err != nil {
		t.Fatalf("NewDirectory() error = %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := first.CreateUser(ctx, NewUser{ID: fmt.Sprintf("u%d", i), Role: RoleParent}); err != nil {
			t.Fatalf("CreateUser() error = %v", err)
		}
	}
	if err := first.RevokePermission(ctx, "u0", PermChildDelete); err != nil {
		t.Fatalf("RevokePermission() error = %v", err)
	}

	second, _ := NewDirectory(DirectoryConfig{Catalog: catalog, Snapshots: snaps})
	n, err := second.Restore(ctx)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if n != 3 {
		t.Errorf("Restore() = %d, want 3", n)
	}
	p, ok := second.GetUser("u0")
	if !ok || p.Permissions.Has(PermChildDelete) {
		t.Errorf("restored u0 = %+v, %v", p, ok)
	}
}

func TestDirectory_SnapshotFailureRollsBack(t *testing.T) {
	snaps := &memorySnapshots{err: errors.New("disk full")}
	dir, _ := NewDirectory(DirectoryConfig{Catalog: newTestCatalog(t), Snapshots: snaps})

	if _, err := dir.CreateUser(context.Background(), NewUser{ID: "u1", Role: RoleGuest}); err == nil {
		t.Fatal("CreateUser() should fail when the snapshot cannot be written")
	}
	if _, ok := dir.GetUser("u1"); ok {
		t.Error("user should not exist after a failed create")
	}

	snaps.mu.Lock()
	snaps.err = nil
	snaps.mu.Unlock()
	if _, err := dir.CreateUser(context.Background(), NewUser{ID: "u1", Role: RoleGuest}); err != nil {
		t.Errorf("retrying CreateUser() error = %v", err)
	}
}

func TestNewDirectory_RequiresCatalog(t *testing.T) {
	if _, err := NewDirectory(DirectoryConfig{}); err == nil {
		t.Error("NewDirectory() without catalog should fail")
	}
}
