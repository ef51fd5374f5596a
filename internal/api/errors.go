// ToyGuard - Access Control and Security Audit for Connected Toys
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/toyguard

package api

import (
	"errors"
	"net/http"

	"github.com/tomtom215/toyguard/internal/audit"
	"github.com/tomtom215/toyguard/internal/authz"
	"github.com/tomtom215/toyguard/internal/family"
	"github.com/tomtom215/toyguard/internal/logging"
	"github.com/tomtom215/toyguard/internal/validation"
)

// ErrEmptyBody is returned when a request that needs a JSON body has none.
var ErrEmptyBody = errors.New("request body is required")

// respondError maps domain errors onto status codes. Anything unrecognised
// is logged and reported as a 500 without its message.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	rw := NewResponseWriter(w, r)

	var verr *validation.Error
	var denied *authz.AccessDeniedError
	switch {
	case errors.As(err, &verr):
		rw.ValidationError("Request validation failed", verr.Fields)
	case errors.As(err, &denied):
		rw.ErrorWithDetails(http.StatusForbidden, ErrCodeForbidden, "access denied", map[string]string{
			"reason":   denied.Decision.Reason,
			"audit_id": denied.Decision.AuditID,
		})
	case errors.Is(err, ErrChildNotInFamily):
		rw.Forbidden(err.Error())
	case errors.Is(err, authz.ErrUserNotFound):
		rw.NotFound(err.Error())
	case errors.Is(err, authz.ErrUserExists),
		errors.Is(err, authz.ErrRedundantGrant):
		rw.Conflict(err.Error())
	case errors.Is(err, authz.ErrUnknownRole),
		errors.Is(err, authz.ErrUnknownPermission),
		errors.Is(err, authz.ErrUnknownContext),
		errors.Is(err, authz.ErrInvalidTimeRestriction),
		errors.Is(err, family.ErrEmptyID),
		errors.Is(err, audit.ErrUnknownStandard),
		errors.Is(err, audit.ErrInvalidPeriod),
		errors.Is(err, ErrEmptyBody),
		errors.Is(err, ErrMalformedBody):
		rw.BadRequest(err.Error())
	default:
		logging.Ctx(r.Context()).Error().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("Request failed")
		rw.InternalError("An internal error occurred")
	}
}
