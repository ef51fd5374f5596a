// ToyGuard - Access Control and Security Audit for Connected Toys
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/toyguard

package authz

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownRole is returned when a role name is outside the closed set.
	ErrUnknownRole = errors.New("unknown role")

	// ErrUnknownPermission is returned when a permission name is outside the closed set.
	ErrUnknownPermission = errors.New("unknown permission")

	// ErrUnknownContext is returned when an access context name is not recognised.
	ErrUnknownContext = errors.New("unknown access context")

	// ErrUserNotFound is returned by directory operations on a missing user.
	ErrUserNotFound = errors.New("user not found")

	// ErrUserExists is returned when creating a user whose id is taken.
	ErrUserExists = errors.New("user already exists")

	// ErrRedundantGrant is returned when granting a permission the user already holds.
	ErrRedundantGrant = errors.New("permission already held")

	// ErrInvalidTimeRestriction is returned for malformed allowed-hours windows.
	ErrInvalidTimeRestriction = errors.New("invalid time restriction")

	// ErrAccessDenied is wrapped by every AccessDeniedError.
	ErrAccessDenied = errors.New("access denied")
)

// AccessDeniedError is returned by Guard.Require when a decision denies access.
type AccessDeniedError struct {
	Request  AccessRequest
	Decision Decision
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("access denied: user %q permission %s: %s",
		e.Request.UserID, e.Request.Permission, e.Decision.Reason)
}

func (e *AccessDeniedError) Unwrap() error {
	return ErrAccessDenied
}
