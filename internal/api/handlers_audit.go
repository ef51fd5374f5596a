// ToyGuard - Access Control and Security Audit for Connected Toys
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/toyguard

package api

import (
	"net/http"

	"github.com/tomtom215/toyguard/internal/validation"
)

const (
	defaultEventLimit   = 100
	defaultSummaryHours = 24
)

// AuditEvents handles GET /api/v1/audit/events.
//
// Query parameters: actor_id, type, start and end (RFC3339, inclusive) and
// limit (1-1000, default 100). Events are returned newest first.
func (h *Handler) AuditEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := AuditEventsRequest{
		ActorID: q.Get("actor_id"),
		Type:    q.Get("type"),
		Start:   q.Get("start"),
		End:     q.Get("end"),
		Limit:   getIntParam(r, "limit", defaultEventLimit),
	}
	if err := validation.ValidateStruct(&req); err != nil {
		respondError(w, r, err)
		return
	}

	events := h.trail.GetEvents(r.Context(), req.Filter(), req.Limit)
	NewResponseWriter(w, r).List(events, len(events))
}

// AuditCompliance handles GET /api/v1/audit/compliance.
//
// Query parameters: standard (coppa, gdpr, ccpa or sox), and start and end
// (RFC3339, inclusive). End defaults to now and start to 30 days before end.
func (h *Handler) AuditCompliance(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := ComplianceRequest{
		Standard: q.Get("standard"),
		Start:    q.Get("start"),
		End:      q.Get("end"),
	}
	if err := validation.ValidateStruct(&req); err != nil {
		respondError(w, r, err)
		return
	}

	start, end := req.Period()
	report, err := h.trail.GetComplianceReport(r.Context(), req.Standard, start, end)
	if err != nil {
		respondError(w, r, err)
		return
	}
	NewResponseWriter(w, r).Success(report)
}

// AuditSummary handles GET /api/v1/audit/summary?hours=N (default 24).
func (h *Handler) AuditSummary(w http.ResponseWriter, r *http.Request) {
	req := SummaryRequest{Hours: getIntParam(r, "hours", defaultSummaryHours)}
	if err := validation.ValidateStruct(&req); err != nil {
		respondError(w, r, err)
		return
	}
	NewResponseWriter(w, r).Success(h.trail.GetSecuritySummary(r.Context(), req.Hours))
}
