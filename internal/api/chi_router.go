// ToyGuard - Access Control and Security Audit for Connected Toys
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/toyguard

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/toyguard/internal/audit"
	"github.com/tomtom215/toyguard/internal/authz"
	"github.com/tomtom215/toyguard/internal/family"
)

// AuditTrail is the part of *audit.Trail the API uses.
type AuditTrail interface {
	Log(ctx context.Context, event audit.Event) string
	GetEvents(ctx context.Context, filter audit.Filter, limit int) []audit.Event
	GetSecuritySummary(ctx context.Context, hours int) audit.Summary
	GetComplianceReport(ctx context.Context, standard string, start, end time.Time) (audit.ComplianceReport, error)
}

// Dependencies are the components behind the handlers. All are required.
type Dependencies struct {
	Directory     *authz.Directory
	Guard         *authz.Guard
	Trail         AuditTrail
	Relationships family.Store
}

// RouterConfig configures the HTTP surface.
type RouterConfig struct {
	// IdentityHeader names the header a trusted proxy sets to the caller's
	// user id. Default: X-User-ID
	IdentityHeader string

	Middleware *ChiMiddlewareConfig

	// Gatherer backs /metrics. Default: prometheus.DefaultGatherer
	Gatherer prometheus.Gatherer
}

// Router wires handlers, middleware and guard checks into a chi router.
type Router struct {
	handler       *Handler
	guard         *authz.Guard
	identity      authz.IdentityFunc
	chiMiddleware *ChiMiddleware
	gatherer      prometheus.Gatherer
}

// NewRouter validates deps and registers the request validation tags.
func NewRouter(deps Dependencies, cfg RouterConfig) (*Router, error) {
	switch {
	case deps.Directory == nil:
		return nil, errors.New("api: directory is required")
	case deps.Guard == nil:
		return nil, errors.New("api: guard is required")
	case deps.Trail == nil:
		return nil, errors.New("api: audit trail is required")
	case deps.Relationships == nil:
		return nil, errors.New("api: relationship store is required")
	}
	if err := authz.RegisterValidators(); err != nil {
		return nil, fmt.Errorf("api: %w", err)
	}
	if err := audit.RegisterValidators(); err != nil {
		return nil, fmt.Errorf("api: %w", err)
	}

	if cfg.IdentityHeader == "" {
		cfg.IdentityHeader = "X-User-ID"
	}
	if cfg.Middleware == nil {
		cfg.Middleware = DefaultChiMiddlewareConfig()
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}

	identity := authz.HeaderIdentity(cfg.IdentityHeader)
	router := &Router{
		handler:  NewHandler(deps, identity),
		guard:    deps.Guard,
		identity: identity,
		gatherer: cfg.Gatherer,
	}

	mwConfig := *cfg.Middleware
	if mwConfig.RateLimitOnLimit == nil {
		mwConfig.RateLimitOnLimit = router.handler.rateLimited(router.identity)
	}
	router.chiMiddleware = NewChiMiddleware(&mwConfig)
	return router, nil
}

// require gates a route on perm. The route's {id} becomes a user resource.
func (router *Router) require(perm authz.Permission) func(http.Handler) http.Handler {
	return router.requireOn(perm, userResource)
}

// requireOn gates a route on perm against the resource the request targets.
func (router *Router) requireOn(perm authz.Permission, resource authz.ResourceFunc) func(http.Handler) http.Handler {
	return router.guard.RequirePermission(perm, authz.ContextDirectInteraction, router.identity, resource)
}

func userResource(r *http.Request) string {
	if id := chi.URLParam(r, "id"); id != "" {
		return "user:" + id
	}
	return ""
}

// familyResource and childResource always name a resource, so an empty
// path segment is denied as malformed rather than passing unchecked.
func familyResource(r *http.Request) string {
	return "family:" + chi.URLParam(r, "familyID")
}

func childResource(r *http.Request) string {
	return "child:" + chi.URLParam(r, "childID")
}

// SetupChi configures all HTTP routes.
func (router *Router) SetupChi() http.Handler {
	r := chi.NewRouter()

	// ========================
	// Global Middleware Stack
	// ========================
	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(RequestLogger())
	r.Use(chimiddleware.Recoverer)
	r.Use(router.chiMiddleware.CORS())

	// ========================
	// Health and Metrics
	// ========================
	r.Group(func(r chi.Router) {
		r.Use(router.chiMiddleware.RateLimitHealth())
		r.Get("/healthz", router.handler.Health)
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(router.gatherer, promhttp.HandlerOpts{}))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(PrometheusMetrics())
		r.Use(router.chiMiddleware.RateLimit())
		r.Use(APISecurityHeaders())

		// ========================
		// User Administration
		// ========================
		r.Route("/users", func(r chi.Router) {
			r.With(router.require(authz.PermUserManage)).Post("/", router.handler.CreateUser)
			r.With(router.require(authz.PermUserManage)).Get("/", router.handler.ListUsers)

			r.Route("/{id}", func(r chi.Router) {
				r.Use(router.require(authz.PermUserManage))
				r.Get("/", router.handler.GetUser)
				r.Post("/permissions/{permission}", router.handler.GrantPermission)
				r.Delete("/permissions/{permission}", router.handler.RevokePermission)
				r.Put("/role", router.handler.ChangeRole)
				r.Put("/time-restriction", router.handler.SetTimeRestriction)
				r.Delete("/time-restriction", router.handler.ClearTimeRestriction)
				r.Post("/deactivate", router.handler.Deactivate)
			})
		})

		// ========================
		// Access Checks
		// ========================
		// Callers check themselves; checking anyone else takes user:manage.
		r.Post("/access/check", router.handler.CheckAccess)

		// ========================
		// Audit Trail
		// ========================
		r.Route("/audit", func(r chi.Router) {
			r.Use(router.require(authz.PermAuditView))
			r.Get("/events", router.handler.AuditEvents)
			r.Get("/summary", router.handler.AuditSummary)
			r.Get("/compliance", router.handler.AuditCompliance)
		})

		// ========================
		// Family Relationships
		// ========================
		// Every route names the family or child it touches, and the guard
		// checks the caller's ownership of it.
		r.Route("/relationships", func(r chi.Router) {
			r.Route("/families/{familyID}", func(r chi.Router) {
				r.With(router.requireOn(authz.PermFamilyManage, familyResource)).Get("/members", router.handler.FamilyMembers)
				r.With(router.requireOn(authz.PermFamilyManage, familyResource)).Post("/children", router.handler.LinkChild)
				r.With(router.requireOn(authz.PermFamilyRemoveMember, familyResource)).Delete("/children/{childID}", router.handler.UnlinkChild)
			})
			r.Route("/children/{childID}/emergency-contacts", func(r chi.Router) {
				r.With(router.requireOn(authz.PermFamilyInvite, childResource)).Post("/", router.handler.AddEmergencyContact)
				r.With(router.requireOn(authz.PermFamilyRemoveMember, childResource)).Delete("/{userID}", router.handler.RemoveEmergencyContact)
			})
		})
	})

	return r
}
