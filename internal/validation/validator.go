// ToyGuard - Access Control and Security Audit for Connected Toys
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/toyguard

// Package validation wraps go-playground/validator with a process-wide
// instance and error messages suitable for API responses and startup
// configuration checks.
//
// Besides the built-in tags it registers:
//
//	clocktime   "HH:MM" on a 24 hour clock
//	resourceid  "<type>:<id>" with non-empty parts
//
// Packages owning closed enumerations register their own tags with
// RegisterStringRule, e.g. "role" and "permission".
package validation

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// FieldError describes one failed rule.
type FieldError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

// Error is returned by ValidateStruct when one or more fields fail.
type Error struct {
	Fields []FieldError
}

func (e *Error) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Message
	}
	return strings.Join(msgs, "; ")
}

// GetValidator returns the shared validator instance.
func GetValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		mustRegister(validate, "clocktime", IsClockTime)
		mustRegister(validate, "resourceid", IsResourceID)
	})
	return validate
}

func mustRegister(v *validator.Validate, tag string, fn func(string) bool) {
	if err := v.RegisterValidation(tag, stringRule(fn)); err != nil {
		panic(fmt.Sprintf("validation: register %s: %v", tag, err))
	}
}

func stringRule(fn func(string) bool) validator.Func {
	return func(fl validator.FieldLevel) bool {
		return fn(fl.Field().String())
	}
}

// RegisterStringRule adds a custom tag that checks string fields with fn.
// Registering the same tag again replaces the previous rule.
func RegisterStringRule(tag string, fn func(string) bool) error {
	if err := GetValidator().RegisterValidation(tag, stringRule(fn)); err != nil {
		return fmt.Errorf("register validation %q: %w", tag, err)
	}
	return nil
}

// ValidateStruct validates s and returns *Error on failure.
func ValidateStruct(s any) error {
	err := GetValidator().Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &Error{Fields: []FieldError{{Field: "unknown", Tag: "unknown", Message: err.Error()}}}
	}

	out := &Error{Fields: make([]FieldError, len(fieldErrs))}
	for i, fe := range fieldErrs {
		out.Fields[i] = FieldError{
			Field:   fe.Namespace(),
			Tag:     fe.Tag(),
			Message: translate(fe),
		}
	}
	return out
}

var messages = map[string]string{
	"required":   "%s is required",
	"clocktime":  "%s must be a time of day formatted HH:MM",
	"resourceid": "%s must be formatted <type>:<id>",
	"role":       "%s must be a known role",
	"permission": "%s must be a known permission",
	"context":    "%s must be a known access context",
	"eventtype":  "%s must be a known event type",
	"url":        "%s must be a valid URL",
}

var paramMessages = map[string]string{
	"oneof": "%s must be one of: %s",
	"gte":   "%s must be greater than or equal to %s",
	"lte":   "%s must be less than or equal to %s",
	"gt":    "%s must be greater than %s",
	"min":   "%s must be at least %s",
	"max":   "%s must be at most %s",
}

func translate(fe validator.FieldError) string {
	field := fe.Namespace()
	if tmpl, ok := messages[fe.Tag()]; ok {
		return fmt.Sprintf(tmpl, field)
	}
	if tmpl, ok := paramMessages[fe.Tag()]; ok {
		return fmt.Sprintf(tmpl, field, fe.Param())
	}
	return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
}

// IsClockTime reports whether s is a valid "HH:MM" 24 hour time.
func IsClockTime(s string) bool {
	if len(s) != 5 || s[2] != ':' {
		return false
	}
	for _, i := range []int{0, 1, 3, 4} {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	h := int(s[0]-'0')*10 + int(s[1]-'0')
	m := int(s[3]-'0')*10 + int(s[4]-'0')
	return h < 24 && m < 60
}

// IsResourceID reports whether s has the "<type>:<id>" shape.
func IsResourceID(s string) bool {
	kind, id, ok := strings.Cut(s, ":")
	return ok && kind != "" && id != "" && !strings.ContainsAny(id, ": \t\n")
}
