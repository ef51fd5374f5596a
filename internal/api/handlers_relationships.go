// ToyGuard - Access Control and Security Audit for Connected Toys
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/toyguard

package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/toyguard/internal/authz"
	"github.com/tomtom215/toyguard/internal/logging"
)

// ErrChildNotInFamily is returned when a link names a child whose profile
// belongs to another family, or a user who is not a child.
var ErrChildNotInFamily = errors.New("child does not belong to family")

// LinkView is the body of a created family link.
type LinkView struct {
	FamilyID string `json:"family_id"`
	ChildID  string `json:"child_id"`
}

// EmergencyContactView is the body of a registered emergency contact.
type EmergencyContactView struct {
	UserID  string `json:"user_id"`
	ChildID string `json:"child_id"`
}

// LinkChild handles POST /api/v1/relationships/families/{familyID}/children.
// The route guard has already checked the caller belongs to familyID; the
// child's own profile must name the same family. Linking an existing pair
// again succeeds.
func (h *Handler) LinkChild(w http.ResponseWriter, r *http.Request) {
	familyID := chi.URLParam(r, "familyID")
	var req LinkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if err := h.childOf(familyID, req.ChildID); err != nil {
		respondError(w, r, err)
		return
	}
	if err := h.rel.Link(r.Context(), familyID, req.ChildID); err != nil {
		respondError(w, r, err)
		return
	}

	logging.Ctx(r.Context()).Info().
		Str("family_id", familyID).
		Str("child_id", req.ChildID).
		Msg("Child linked to family")
	NewResponseWriter(w, r).Created(LinkView{FamilyID: familyID, ChildID: req.ChildID})
}

// UnlinkChild handles
// DELETE /api/v1/relationships/families/{familyID}/children/{childID}.
// Unlinking a pair that is not linked succeeds.
func (h *Handler) UnlinkChild(w http.ResponseWriter, r *http.Request) {
	familyID, childID := chi.URLParam(r, "familyID"), chi.URLParam(r, "childID")
	if err := h.rel.Unlink(r.Context(), familyID, childID); err != nil {
		respondError(w, r, err)
		return
	}

	logging.Ctx(r.Context()).Info().
		Str("family_id", familyID).
		Str("child_id", childID).
		Msg("Child unlinked from family")
	NewResponseWriter(w, r).NoContent()
}

// FamilyMembers handles GET /api/v1/relationships/families/{familyID}/members.
func (h *Handler) FamilyMembers(w http.ResponseWriter, r *http.Request) {
	members := h.dir.FamilyMembers(chi.URLParam(r, "familyID"))
	NewResponseWriter(w, r).List(members, len(members))
}

// AddEmergencyContact handles
// POST /api/v1/relationships/children/{childID}/emergency-contacts.
// The route guard has already checked the caller's family is linked to the
// child.
func (h *Handler) AddEmergencyContact(w http.ResponseWriter, r *http.Request) {
	childID := chi.URLParam(r, "childID")
	var req EmergencyContactRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if _, ok := h.dir.GetUser(req.UserID); !ok {
		respondError(w, r, fmt.Errorf("emergency contact %q: %w", req.UserID, authz.ErrUserNotFound))
		return
	}
	if err := h.rel.AddEmergencyContact(r.Context(), req.UserID, childID); err != nil {
		respondError(w, r, err)
		return
	}

	logging.Ctx(r.Context()).Info().
		Str("user_id", req.UserID).
		Str("child_id", childID).
		Msg("Emergency contact added")
	NewResponseWriter(w, r).Created(EmergencyContactView{UserID: req.UserID, ChildID: childID})
}

// RemoveEmergencyContact handles
// DELETE /api/v1/relationships/children/{childID}/emergency-contacts/{userID}.
func (h *Handler) RemoveEmergencyContact(w http.ResponseWriter, r *http.Request) {
	childID, userID := chi.URLParam(r, "childID"), chi.URLParam(r, "userID")
	if err := h.rel.RemoveEmergencyContact(r.Context(), userID, childID); err != nil {
		respondError(w, r, err)
		return
	}

	logging.Ctx(r.Context()).Info().
		Str("user_id", userID).
		Str("child_id", childID).
		Msg("Emergency contact removed")
	NewResponseWriter(w, r).NoContent()
}

// childOf checks that childID is a child profile in familyID.
func (h *Handler) childOf(familyID, childID string) error {
	child, ok := h.dir.GetUser(childID)
	if !ok {
		return fmt.Errorf("child %q: %w", childID, authz.ErrUserNotFound)
	}
	if child.Role != authz.RoleChild || child.FamilyID != familyID {
		return fmt.Errorf("%w: %q is not a child of %q", ErrChildNotInFamily, childID, familyID)
	}
	return nil
}
