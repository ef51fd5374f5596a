// ToyGuard - Access Control and Security Audit for Connected Toys
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/toyguard

package api

import (
	"net/http"
	"time"

	"github.com/tomtom215/toyguard/internal/audit"
	"github.com/tomtom215/toyguard/internal/authz"
	"github.com/tomtom215/toyguard/internal/family"
	"github.com/tomtom215/toyguard/internal/logging"
)

// Handler holds the HTTP handlers.
type Handler struct {
	dir       *authz.Directory
	guard     *authz.Guard
	trail     AuditTrail
	rel       family.Store
	identity  authz.IdentityFunc
	startTime time.Time
}

// NewHandler creates the handler set. identity names the caller of a request.
func NewHandler(deps Dependencies, identity authz.IdentityFunc) *Handler {
	return &Handler{
		dir:       deps.Directory,
		guard:     deps.Guard,
		trail:     deps.Trail,
		rel:       deps.Relationships,
		identity:  identity,
		startTime: time.Now(),
	}
}

// HealthStatus is the body of GET /healthz.
type HealthStatus struct {
	Status  string `json:"status"`
	Users   int    `json:"users"`
	Uptime  string `json:"uptime"`
	Version string `json:"version,omitempty"`
}

// Version is set at build time with -ldflags.
var Version = "dev"

// Health handles GET /healthz.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(HealthStatus{
		Status:  "healthy",
		Users:   len(h.dir.Users()),
		Uptime:  time.Since(h.startTime).Truncate(time.Second).String(),
		Version: Version,
	})
}

// rateLimited records a rate_limit_exceeded event and answers 429.
func (h *Handler) rateLimited(identity authz.IdentityFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		APIRateLimitHits.Inc()
		id := h.trail.Log(r.Context(), audit.Event{
			Type:    audit.EventRateLimitExceeded,
			ActorID: identity(r),
			Source:  r.RemoteAddr,
			Action:  r.Method + " " + r.URL.Path,
			Result:  audit.ResultDenied,
		})
		logging.Ctx(r.Context()).Warn().
			Str("remote_addr", r.RemoteAddr).
			Str("path", r.URL.Path).
			Str("audit_id", id).
			Msg("Rate limit exceeded")
		NewResponseWriter(w, r).TooManyRequests("Rate limit exceeded")
	}
}
