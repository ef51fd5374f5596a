// ToyGuard - Access Control and Security Audit for Connected Toys
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/toyguard

package audit

import "github.com/tomtom215/toyguard/internal/validation"

// RegisterValidators adds the "eventtype" and "compliance" struct tags to the
// shared validator.
func RegisterValidators() error {
	if err := validation.RegisterStringRule("eventtype", func(s string) bool {
		return EventType(s).Valid()
	}); err != nil {
		return err
	}
	return validation.RegisterStringRule("compliance", ValidStandard)
}
