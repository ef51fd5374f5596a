// ToyGuard - Access Control and Security Audit for Connected Toys
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/toyguard

package main

import (
	"context"
	"fmt"

	"github.com/tomtom215/toyguard/internal/config"
	"github.com/tomtom215/toyguard/internal/family"
	"github.com/tomtom215/toyguard/internal/logging"
)

// initRelationships builds the configured relationship store. The returned
// func releases its connection.
func initRelationships(ctx context.Context, cfg config.RelationshipsConfig) (family.Store, func(), error) {
	if cfg.Backend != config.BackendRedis {
		logging.Info().Msg("Using in-memory relationship store")
		return family.NewMemoryStore(), func() {}, nil
	}

	client, err := family.NewRedisClient(ctx, cfg.RedisAddr)
	if err != nil {
		return nil, nil, err
	}
	logging.Info().Str("addr", cfg.RedisAddr).Msg("Connected to Redis relationship store")

	closeFn := func() {
		if err := client.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing Redis client")
		}
	}
	return family.NewRedisStore(client), closeFn, nil
}

// seedRelationships applies the configured links and emergency contacts.
// Both operations are idempotent, so reseeding a durable store is safe.
func seedRelationships(ctx context.Context, store family.Store, cfg config.RelationshipsConfig) error {
	for _, l := range cfg.Links {
		if err := store.Link(ctx, l.FamilyID, l.ChildID); err != nil {
			return fmt.Errorf("link %s to %s: %w", l.ChildID, l.FamilyID, err)
		}
	}
	for _, c := range cfg.EmergencyContacts {
		if err := store.AddEmergencyContact(ctx, c.UserID, c.ChildID); err != nil {
			return fmt.Errorf("emergency contact %s for %s: %w", c.UserID, c.ChildID, err)
		}
	}
	if n := len(cfg.Links) + len(cfg.EmergencyContacts); n > 0 {
		logging.Info().
			Int("links", len(cfg.Links)).
			Int("emergency_contacts", len(cfg.EmergencyContacts)).
			Msg("Relationships seeded")
	}
	return nil
}
