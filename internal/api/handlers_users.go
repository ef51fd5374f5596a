// ToyGuard - Access Control and Security Audit for Connected Toys
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/toyguard

package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/toyguard/internal/authz"
)

// CreateUser handles POST /api/v1/users.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	nu, err := req.NewUser()
	if err != nil {
		respondError(w, r, err)
		return
	}

	profile, err := h.dir.CreateUser(r.Context(), nu)
	if err != nil {
		respondError(w, r, err)
		return
	}

	NewResponseWriter(w, r).Created(profile)
}

// ListUsers handles GET /api/v1/users. Users are ordered by id.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users := h.dir.Users()
	NewResponseWriter(w, r).List(users, len(users))
}

// GetUser handles GET /api/v1/users/{id}.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	profile, ok := h.dir.GetUser(chi.URLParam(r, "id"))
	if !ok {
		respondError(w, r, authz.ErrUserNotFound)
		return
	}
	NewResponseWriter(w, r).Success(profile)
}

// GrantPermission handles POST /api/v1/users/{id}/permissions/{permission}.
func (h *Handler) GrantPermission(w http.ResponseWriter, r *http.Request) {
	h.changePermission(w, r, h.dir.GrantPermission)
}

// RevokePermission handles DELETE /api/v1/users/{id}/permissions/{permission}.
// Revoking a permission the user does not hold succeeds.
func (h *Handler) RevokePermission(w http.ResponseWriter, r *http.Request) {
	h.changePermission(w, r, h.dir.RevokePermission)
}

func (h *Handler) changePermission(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, id string, perm authz.Permission) error) {
	perm, err := authz.ParsePermission(chi.URLParam(r, "permission"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	if err := apply(r.Context(), id, perm); err != nil {
		respondError(w, r, err)
		return
	}
	h.respondProfile(w, r, id)
}

// ChangeRole handles PUT /api/v1/users/{id}/role.
func (h *Handler) ChangeRole(w http.ResponseWriter, r *http.Request) {
	var req ChangeRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	role, err := authz.ParseRole(req.Role)
	if err != nil {
		respondError(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.dir.ChangeRole(r.Context(), id, role); err != nil {
		respondError(w, r, err)
		return
	}
	h.respondProfile(w, r, id)
}

// SetTimeRestriction handles PUT /api/v1/users/{id}/time-restriction.
func (h *Handler) SetTimeRestriction(w http.ResponseWriter, r *http.Request) {
	var req TimeRestrictionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	tr, err := req.TimeRestriction()
	if err != nil {
		respondError(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.dir.SetTimeRestriction(r.Context(), id, tr); err != nil {
		respondError(w, r, err)
		return
	}
	h.respondProfile(w, r, id)
}

// ClearTimeRestriction handles DELETE /api/v1/users/{id}/time-restriction.
func (h *Handler) ClearTimeRestriction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.dir.SetTimeRestriction(r.Context(), id, nil); err != nil {
		respondError(w, r, err)
		return
	}
	h.respondProfile(w, r, id)
}

// Deactivate handles POST /api/v1/users/{id}/deactivate.
func (h *Handler) Deactivate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.dir.Deactivate(r.Context(), id); err != nil {
		respondError(w, r, err)
		return
	}
	h.respondProfile(w, r, id)
}

// respondProfile writes the user's current profile after a change.
func (h *Handler) respondProfile(w http.ResponseWriter, r *http.Request, id string) {
	profile, ok := h.dir.GetUser(id)
	if !ok {
		respondError(w, r, authz.ErrUserNotFound)
		return
	}
	NewResponseWriter(w, r).Success(profile)
}
