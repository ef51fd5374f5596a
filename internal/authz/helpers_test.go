// ToyGuard - Access Control and Security Audit for Connected Toys
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/toyguard

package authz

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/toyguard/internal/family"
)

// =====================================================================
// Test Helpers
// =====================================================================

// wednesdayNoon is a weekday so weekend rules stay out of the way.
var wednesdayNoon = time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(t time.Time) *testClock { return &testClock{now: t} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// at returns wednesdayNoon's date at hh:mm.
func at(hh, mm int) time.Time {
	return time.Date(2026, 3, 4, hh, mm, 0, 0, time.UTC)
}

type failingRelationships struct{}

var errRelationshipsDown = errors.New("relationship store unavailable")

func (failingRelationships) IsLinked(context.Context, string, string) (bool, error) {
	return false, errRelationshipsDown
}

func (failingRelationships) IsEmergencyContact(context.Context, string, string) (bool, error) {
	return false, errRelationshipsDown
}

// countingRelationships records lookups against an inner store.
type countingRelationships struct {
	RelationshipStore
	mu    sync.Mutex
	calls int
}

func (c *countingRelationships) IsLinked(ctx context.Context, familyID, childID string) (bool, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.RelationshipStore.IsLinked(ctx, familyID, childID)
}

func (c *countingRelationships) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type testEnv struct {
	catalog *Catalog
	cache   *DecisionCache
	dir     *Directory
	rel     *family.MemoryStore
	engine  *Engine
	clock   *testClock
}

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := NewCatalog()
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}
	return c
}

// setupEngine builds a cached engine over an empty directory.
func setupEngine(t *testing.T) *testEnv {
	t.Helper()
	return setupEngineWith(t, nil)
}

// setupEngineWith uses rel instead of the in-memory relationship store when
// it is non-nil.
func setupEngineWith(t *testing.T, rel RelationshipStore) *testEnv {
	t.Helper()

	env := &testEnv{
		catalog: newTestCatalog(t),
		cache:   NewDecisionCache(1000, time.Minute),
		rel:     family.NewMemoryStore(),
		clock:   newTestClock(wednesdayNoon),
	}

	dir, err := NewDirectory(DirectoryConfig{
		Catalog:     env.catalog,
		Invalidator: env.cache,
		Now:         env.clock.Now,
	})
	if err != nil {
		t.Fatalf("NewDirectory() error = %v", err)
	}
	env.dir = dir

	if rel == nil {
		rel = env.rel
	}
	engine, err := NewEngine(EngineConfig{
		Directory:     dir,
		Relationships: rel,
		Cache:         env.cache,
		Now:           env.clock.Now,
	})
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	env.engine = engine
	return env
}

func (env *testEnv) createUser(t *testing.T, nu NewUser) UserProfile {
	t.Helper()
	p, err := env.dir.CreateUser(context.Background(), nu)
	if err != nil {
		t.Fatalf("CreateUser(%q) error = %v", nu.ID, err)
	}
	return p
}

func (env *testEnv) check(req AccessRequest) Decision {
	if req.Context == 0 {
		req.Context = ContextDirectInteraction
	}
	return env.engine.CheckAccess(context.Background(), req)
}
