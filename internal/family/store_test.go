// ToyGuard - Access Control and Security Audit for Connected Toys
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/toyguard

package family

import (
	"context"
	"errors"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
)

func setupRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := NewRedisClient(context.Background(), mr.Addr())
	if err != nil {
		t.Fatalf("NewRedisClient() error = %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client), mr
}

// stores runs fn against every implementation.
func stores(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Helper()
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryStore()) })
	t.Run("redis", func(t *testing.T) {
		s, _ := setupRedisStore(t)
		fn(t, s)
	})
}

func TestStore_LinkLifecycle(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		linked, err := s.IsLinked(ctx, "f1", "c1")
		if err != nil || linked {
			t.Fatalf("IsLinked before Link = %v, %v; want false, nil", linked, err)
		}

		if err := s.Link(ctx, "f1", "c1"); err != nil {
			t.Fatalf("Link() error = %v", err)
		}
		if err := s.Link(ctx, "f1", "c1"); err != nil {
			t.Fatalf("repeated Link() error = %v", err)
		}

		linked, err = s.IsLinked(ctx, "f1", "c1")
		if err != nil || !linked {
			t.Errorf("IsLinked after Link = %v, %v; want true, nil", linked, err)
		}
		if linked, _ := s.IsLinked(ctx, "f2", "c1"); linked {
			t.Error("c1 should not be linked to f2")
		}

		if err := s.Unlink(ctx, "f1", "c1"); err != nil {
			t.Fatalf("Unlink() error = %v", err)
		}
		if linked, _ := s.IsLinked(ctx, "f1", "c1"); linked {
			t.Error("c1 still linked after Unlink")
		}
		if err := s.Unlink(ctx, "f1", "c1"); err != nil {
			t.Errorf("Unlink of missing link error = %v", err)
		}
	})
}

func TestStore_EmergencyContacts(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		if err := s.AddEmergencyContact(ctx, "u1", "c1"); err != nil {
			t.Fatalf("AddEmergencyContact() error = %v", err)
		}

		tests := []struct {
			user, child string
			want        bool
		}{
			{"u1", "c1", true},
			{"u2", "c1", false},
			{"u1", "c2", false},
			{"", "c1", false},
		}
		for _, tt := range tests {
			got, err := s.IsEmergencyContact(ctx, tt.user, tt.child)
			if err != nil {
				t.Fatalf("IsEmergencyContact(%q, %q) error = %v", tt.user, tt.child, err)
			}
			if got != tt.want {
				t.Errorf("IsEmergencyContact(%q, %q) = %v, want %v", tt.user, tt.child, got, tt.want)
			}
		}

		if err := s.RemoveEmergencyContact(ctx, "u1", "c1"); err != nil {
			t.Fatalf("RemoveEmergencyContact() error = %v", err)
		}
		if ok, _ := s.IsEmergencyContact(ctx, "u1", "c1"); ok {
			t.Error("u1 still an emergency contact after removal")
		}
	})
}

func TestStore_EmptyIDs(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		if err := s.Link(ctx, "", "c1"); !errors.Is(err, ErrEmptyID) {
			t.Errorf("Link with empty family error = %v, want ErrEmptyID", err)
		}
		if err := s.AddEmergencyContact(ctx, "u1", ""); !errors.Is(err, ErrEmptyID) {
			t.Errorf("AddEmergencyContact with empty child error = %v, want ErrEmptyID", err)
		}
		if linked, err := s.IsLinked(ctx, "", ""); err != nil || linked {
			t.Errorf("IsLinked with empty ids = %v, %v; want false, nil", linked, err)
		}
	})
}

func TestRedisStore_KeyLayout(t *testing.T) {
	s, mr := setupRedisStore(t)
	ctx := context.Background()

	if err := s.Link(ctx, "f1", "c1"); err != nil {
		t.Fatalf("Link() error = %v", err)
	}
	if err := s.AddEmergencyContact(ctx, "u1", "c1"); err != nil {
		t.Fatalf("AddEmergencyContact() error = %v", err)
	}

	if ok, _ := mr.SIsMember("toyguard:family:f1:children", "c1"); !ok {
		t.Error("expected c1 in toyguard:family:f1:children")
	}
	if ok, _ := mr.SIsMember("toyguard:child:c1:emergency", "u1"); !ok {
		t.Error("expected u1 in toyguard:child:c1:emergency")
	}
}

func TestRedisStore_ServerDown(t *testing.T) {
	s, mr := setupRedisStore(t)
	mr.Close()

	if _, err := s.IsLinked(context.Background(), "f1", "c1"); err == nil {
		t.Error("IsLinked should fail when redis is unreachable")
	}
}

func TestNewRedisClient_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	client, err := NewRedisClient(context.Background(), addr)
	if err == nil {
		_ = client.Close()
		t.Fatal("NewRedisClient() should fail for a closed server")
	}
}

var (
	_ Store = (*RedisStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
