// ToyGuard - Access Control and Security Audit for Connected Toys
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/toyguard

package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/toyguard/internal/audit"
	"github.com/tomtom215/toyguard/internal/authz"
	"github.com/tomtom215/toyguard/internal/validation"
)

const maxBodyBytes = 1 << 20

// ErrMalformedBody is returned when a request body is not valid JSON.
var ErrMalformedBody = errors.New("malformed request body")

// CreateUserRequest is the body of POST /api/v1/users.
type CreateUserRequest struct {
	ID              string                  `json:"id" validate:"omitempty,max=128"`
	DisplayName     string                  `json:"display_name" validate:"max=256"`
	Role            string                  `json:"role" validate:"required,role"`
	FamilyID        string                  `json:"family_id" validate:"max=128"`
	Age             int                     `json:"age" validate:"gte=0,lte=150"`
	Grants          []string                `json:"grants" validate:"dive,permission"`
	Revokes         []string                `json:"revokes" validate:"dive,permission"`
	TimeRestriction *TimeRestrictionRequest `json:"time_restriction"`
}

// TimeRestrictionRequest is an allowed-hours window. End before Start wraps
// past midnight.
type TimeRestrictionRequest struct {
	Start             string `json:"start" validate:"required,clocktime"`
	End               string `json:"end" validate:"required,clocktime"`
	WeekendRestricted bool   `json:"weekend_restricted"`
}

// ChangeRoleRequest is the body of PUT /api/v1/users/{id}/role.
type ChangeRoleRequest struct {
	Role string `json:"role" validate:"required,role"`
}

// AccessCheckRequest is the body of POST /api/v1/access/check.
type AccessCheckRequest struct {
	UserID     string `json:"user_id" validate:"required"`
	Permission string `json:"permission" validate:"required,permission"`
	Context    string `json:"context" validate:"required,context"`
	Resource   string `json:"resource" validate:"omitempty,resourceid"`
}

// LinkRequest is the body of
// POST /api/v1/relationships/families/{familyID}/children.
type LinkRequest struct {
	ChildID string `json:"child_id" validate:"required,max=128"`
}

// EmergencyContactRequest is the body of
// POST /api/v1/relationships/children/{childID}/emergency-contacts.
type EmergencyContactRequest struct {
	UserID string `json:"user_id" validate:"required,max=128"`
}

// AuditEventsRequest holds the query parameters of GET /api/v1/audit/events.
type AuditEventsRequest struct {
	ActorID string `validate:"max=128"`
	Type    string `validate:"omitempty,eventtype"`
	Start   string `validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	End     string `validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	Limit   int    `validate:"min=1,max=1000"`
}

// ComplianceRequest holds the query parameters of
// GET /api/v1/audit/compliance.
type ComplianceRequest struct {
	Standard string `validate:"required,compliance"`
	Start    string `validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	End      string `validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

// SummaryRequest holds the query parameters of GET /api/v1/audit/summary.
type SummaryRequest struct {
	Hours int `validate:"min=1,max=8760"`
}

// decodeJSON reads a JSON body into dst and validates it. The "role",
// "permission", "context", "eventtype" and "compliance" tags are registered
// by NewRouter.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return ErrEmptyBody
		}
		return fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}
	return validation.ValidateStruct(dst)
}

// getIntParam returns the integer query parameter name, or def when it is
// absent. A present but non-numeric value yields -1 so validation rejects it.
func getIntParam(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return -1
	}
	return n
}

// NewUser converts the request. Call after validation.
func (req *CreateUserRequest) NewUser() (authz.NewUser, error) {
	role, err := authz.ParseRole(req.Role)
	if err != nil {
		return authz.NewUser{}, err
	}
	grants, err := parsePermissions(req.Grants)
	if err != nil {
		return authz.NewUser{}, err
	}
	revokes, err := parsePermissions(req.Revokes)
	if err != nil {
		return authz.NewUser{}, err
	}
	nu := authz.NewUser{
		ID:          req.ID,
		DisplayName: req.DisplayName,
		Role:        role,
		FamilyID:    req.FamilyID,
		Age:         req.Age,
		Grants:      grants,
		Revokes:     revokes,
	}
	if req.TimeRestriction != nil {
		tr, err := req.TimeRestriction.TimeRestriction()
		if err != nil {
			return authz.NewUser{}, err
		}
		nu.TimeRestriction = tr
	}
	return nu, nil
}

// TimeRestriction converts the request. Call after validation.
func (req *TimeRestrictionRequest) TimeRestriction() (*authz.TimeRestriction, error) {
	return authz.NewTimeRestriction(req.Start, req.End, req.WeekendRestricted)
}

// AccessRequest converts the request. Call after validation.
func (req *AccessCheckRequest) AccessRequest(sourceAddr string) (authz.AccessRequest, error) {
	perm, err := authz.ParsePermission(req.Permission)
	if err != nil {
		return authz.AccessRequest{}, err
	}
	ac, err := authz.ParseAccessContext(req.Context)
	if err != nil {
		return authz.AccessRequest{}, err
	}
	return authz.AccessRequest{
		UserID:     req.UserID,
		Permission: perm,
		Resource:   req.Resource,
		Context:    ac,
		SourceAddr: sourceAddr,
	}, nil
}

// Filter converts the query. Call after validation.
func (req *AuditEventsRequest) Filter() audit.Filter {
	f := audit.Filter{ActorID: req.ActorID, Type: audit.EventType(req.Type)}
	if req.Start != "" {
		f.Start, _ = time.Parse(time.RFC3339, req.Start)
	}
	if req.End != "" {
		f.End, _ = time.Parse(time.RFC3339, req.End)
	}
	return f
}

// Period converts the query. Unset bounds stay zero. Call after validation.
func (req *ComplianceRequest) Period() (start, end time.Time) {
	if req.Start != "" {
		start, _ = time.Parse(time.RFC3339, req.Start)
	}
	if req.End != "" {
		end, _ = time.Parse(time.RFC3339, req.End)
	}
	return start, end
}

func parsePermissions(names []string) ([]authz.Permission, error) {
	if len(names) == 0 {
		return nil, nil
	}
	out := make([]authz.Permission, 0, len(names))
	for _, name := range names {
		p, err := authz.ParsePermission(name)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
