// ToyGuard - Access Control and Security Audit for Connected Toys
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/toyguard

package main

import (
	"context"
	"errors"

	"github.com/tomtom215/toyguard/internal/authz"
	"github.com/tomtom215/toyguard/internal/config"
	"github.com/tomtom215/toyguard/internal/logging"
)

// seedUsers creates the configured users. A user restored from storage
// keeps its stored profile; the seed only bootstraps an empty directory.
func seedUsers(ctx context.Context, dir *authz.Directory, seeds []config.UserSeed) error {
	created := 0
	for _, seed := range seeds {
		nu, err := seed.NewUser()
		if err != nil {
			return err
		}
		if _, err := dir.CreateUser(ctx, nu); err != nil {
			if errors.Is(err, authz.ErrUserExists) {
				logging.Debug().Str("user_id", seed.ID).Msg("Seeded user already present")
				continue
			}
			return err
		}
		created++
	}
	if created > 0 {
		logging.Info().Int("users", created).Msg("Users seeded")
	}
	return nil
}
