// ToyGuard - Access Control and Security Audit for Connected Toys
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/toyguard

package authz

import (
	"context"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/tomtom215/toyguard/internal/logging"
)

// IdentityFunc extracts the caller's user id from a request. The guard
// never falls back to ambient identity; an empty id is checked (and denied)
// like any other.
type IdentityFunc func(r *http.Request) string

// ResourceFunc extracts the "<type>:<id>" resource a request targets.
type ResourceFunc func(r *http.Request) string

// HeaderIdentity reads the user id from a header set by a trusted proxy.
func HeaderIdentity(header string) IdentityFunc {
	return func(r *http.Request) string {
		return r.Header.Get(header)
	}
}

type decisionKey struct{}

// DecisionFromContext returns the decision stored by RequirePermission.
func DecisionFromContext(ctx context.Context) (Decision, bool) {
	d, ok := ctx.Value(decisionKey{}).(Decision)
	return d, ok
}

// RequirePermission returns middleware that lets a request through only
// when the guard grants perm. resource may be nil.
func (g *Guard) RequirePermission(perm Permission, ac AccessContext, identity IdentityFunc, resource ResourceFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			req := AccessRequest{
				UserID:     identity(r),
				Permission: perm,
				Context:    ac,
				SourceAddr: r.RemoteAddr,
			}
			if resource != nil {
				req.Resource = resource(r)
			}

			d := g.Check(r.Context(), req)
			if !d.Granted {
				logging.Ctx(r.Context()).Debug().
					Str("user_id", req.UserID).
					Str("permission", perm.String()).
					Str("reason", d.Reason).
					Msg("Request denied")
				writeDenied(w, d)
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), decisionKey{}, d)))
		})
	}
}

func writeDenied(w http.ResponseWriter, d Decision) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	body := map[string]string{"error": "forbidden", "reason": d.Reason, "audit_id": d.AuditID}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Err(err).Msg("Failed to write denial response")
	}
}
