// ToyGuard - Access Control and Security Audit for Connected Toys
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/toyguard

package authz

import "github.com/tomtom215/toyguard/internal/validation"

// RegisterValidators adds the "role", "permission" and "context" struct tags
// to the shared validator. It may be called more than once.
func RegisterValidators() error {
	rules := map[string]func(string) bool{
		"role": func(s string) bool {
			_, err := ParseRole(s)
			return err == nil
		},
		"permission": func(s string) bool {
			_, err := ParsePermission(s)
			return err == nil
		},
		"context": func(s string) bool {
			_, err := ParseAccessContext(s)
			return err == nil
		},
	}
	for tag, fn := range rules {
		if err := validation.RegisterStringRule(tag, fn); err != nil {
			return err
		}
	}
	return nil
}
