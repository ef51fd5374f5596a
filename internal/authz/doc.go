// ToyGuard - Access Control and Security Audit for Connected Toys
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/toyguard

/*
Package authz implements role-based access control for family, child and
device resources.

# Components

  - Catalog: role default permissions, loaded from an embedded casbin policy
  - Directory: user profiles with per-user serialised writes
  - DecisionCache: short-lived decision memo with write-through invalidation
  - Engine: the decision pipeline
  - Guard: the enforcement point that records every decision in the audit trail

# Decision Pipeline

Engine.CheckAccess runs five ordered stages and stops at the first failure:

 1. the user exists and is active
 2. the permission is in the user's effective set
 3. the access context admits the user's role
 4. the user owns the resource (child and family resources only)
 5. the current time is inside the user's allowed hours

Every call returns a Decision. Denials are values, not errors; use
Guard.Require to turn a denial into *AccessDeniedError.

# Caching

Decisions that depend only on the directory are cached. Every directory
mutation invalidates the user's entries and bumps a per-user generation so
a decision computed concurrently with the mutation is never stored.
Decisions that consulted the relationship store or a time restriction are
never cached, since those inputs change without a directory write.

# Usage

	catalog, _ := authz.NewCatalog()
	cache := authz.NewDecisionCache(10000, 30*time.Second)
	dir, _ := authz.NewDirectory(authz.DirectoryConfig{Catalog: catalog, Invalidator: cache})
	engine, _ := authz.NewEngine(authz.EngineConfig{Directory: dir, Relationships: rel, Cache: cache})
	guard := authz.NewGuard(engine, trail)

	d := guard.CheckAccess(ctx, "u1", authz.PermChildInteract, authz.ContextDirectInteraction, "child:c1")
*/
package authz
