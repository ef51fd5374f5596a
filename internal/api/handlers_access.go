// ToyGuard - Access Control and Security Audit for Connected Toys
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/toyguard

package api

import (
	"net/http"

	"github.com/tomtom215/toyguard/internal/authz"
	"github.com/tomtom215/toyguard/internal/logging"
)

// CheckAccess handles POST /api/v1/access/check.
//
// A denial is a normal 200 response with granted=false; only malformed
// requests are errors. Either way the decision is in the audit trail.
// Checking another user's access takes user:manage, and a refused caller
// gets 403 with no decision logged against the target.
func (h *Handler) CheckAccess(w http.ResponseWriter, r *http.Request) {
	var req AccessCheckRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	areq, err := req.AccessRequest(r.RemoteAddr)
	if err != nil {
		respondError(w, r, err)
		return
	}

	if caller := h.identity(r); caller != areq.UserID {
		_, err := h.guard.Require(r.Context(), authz.AccessRequest{
			UserID:     caller,
			Permission: authz.PermUserManage,
			Context:    authz.ContextDirectInteraction,
			Resource:   "user:" + areq.UserID,
			SourceAddr: r.RemoteAddr,
		})
		if err != nil {
			respondError(w, r, err)
			return
		}
	}

	d := h.guard.Check(r.Context(), areq)
	if !d.Granted {
		logging.Ctx(r.Context()).Debug().
			Str("user_id", areq.UserID).
			Str("permission", areq.Permission.String()).
			Str("reason", d.Reason).
			Msg("Access check denied")
	}
	NewResponseWriter(w, r).Success(d)
}
