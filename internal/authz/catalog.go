// ToyGuard - Access Control and Security Audit for Connected Toys
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/toyguard

package authz

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

//go:embed model.conf
var embeddedModel string

//go:embed policy.csv
var embeddedPolicy string

// Catalog maps each role to its default permission set.
//
// The table is a casbin policy evaluated once at construction; lookups
// afterwards are plain array reads, so the catalog is safe for concurrent
// use and never fails at request time.
type Catalog struct {
	defaults [roleCount + 1]PermissionSet
}

// NewCatalog builds the catalog from the embedded policy.
func NewCatalog() (*Catalog, error) {
	return NewCatalogFromPolicy(embeddedPolicy)
}

// NewCatalogFromPolicy builds a catalog from CSV policy text. Every role and
// permission named by the policy must belong to the closed enumerations.
func NewCatalogFromPolicy(policy string) (*Catalog, error) {
	m, err := model.NewModelFromString(embeddedModel)
	if err != nil {
		return nil, fmt.Errorf("failed to load casbin model: %w", err)
	}

	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("failed to create casbin enforcer: %w", err)
	}

	if err := loadPolicy(enforcer, policy); err != nil {
		return nil, err
	}

	c := &Catalog{}
	for _, role := range AllRoles() {
		for _, perm := range AllPermissions() {
			ok, err := enforcer.Enforce(role.String(), perm.String())
			if err != nil {
				return nil, fmt.Errorf("evaluate %s/%s: %w", role, perm, err)
			}
			if ok {
				c.defaults[role] = c.defaults[role].With(perm)
			}
		}
	}
	return c, nil
}

// loadPolicy parses "p, role, permission" lines into the enforcer.
func loadPolicy(enforcer *casbin.SyncedEnforcer, policy string) error {
	for n, line := range strings.Split(policy, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Split(line, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if len(parts) != 3 || parts[0] != "p" {
			return fmt.Errorf("policy line %d: expected \"p, <role>, <permission>\", got %q", n+1, line)
		}

		if _, err := ParseRole(parts[1]); err != nil {
			return fmt.Errorf("policy line %d: %w", n+1, err)
		}
		if parts[2] != "*" {
			if _, err := ParsePermission(parts[2]); err != nil {
				return fmt.Errorf("policy line %d: %w", n+1, err)
			}
		}

		if _, err := enforcer.AddPolicy(parts[1], parts[2]); err != nil {
			return fmt.Errorf("failed to add policy %v: %w", parts[1:], err)
		}
	}
	return nil
}

// DefaultPermissions returns the default set for role. Invalid roles get an
// empty set.
func (c *Catalog) DefaultPermissions(role Role) PermissionSet {
	if !role.Valid() {
		return 0
	}
	return c.defaults[role]
}

// IsDefault reports whether perm is part of role's default set.
func (c *Catalog) IsDefault(role Role, perm Permission) bool {
	return c.DefaultPermissions(role).Has(perm)
}
