// ToyGuard - Access Control and Security Audit for Connected Toys
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/toyguard

/*
Package api provides the HTTP admin API for ToyGuard.

The API is a thin layer over the authz, audit and family packages. It carries
no authentication of its own: the caller's user id arrives in a header set by
a trusted upstream proxy (X-User-ID by default), and every protected route is
gated by authz.Guard.RequirePermission, so each admin call is itself an
audited access decision.

Routes:

	GET    /healthz                                        liveness, unguarded
	GET    /metrics                                        Prometheus, unguarded
	POST   /api/v1/users                                   user:manage
	GET    /api/v1/users                                   user:manage
	GET    /api/v1/users/{id}                              user:manage
	POST   /api/v1/users/{id}/permissions/{perm}           user:manage
	DELETE /api/v1/users/{id}/permissions/{perm}           user:manage
	PUT    /api/v1/users/{id}/role                         user:manage
	PUT    /api/v1/users/{id}/time-restriction             user:manage
	DELETE /api/v1/users/{id}/time-restriction             user:manage
	POST   /api/v1/users/{id}/deactivate                   user:manage
	POST   /api/v1/access/check                            self, or user:manage
	GET    /api/v1/audit/events                            audit:view
	GET    /api/v1/audit/summary                           audit:view
	GET    /api/v1/audit/compliance                        audit:view
	GET    /api/v1/relationships/families/{fid}/members    family:manage on family:{fid}
	POST   /api/v1/relationships/families/{fid}/children   family:manage on family:{fid}
	DELETE /api/v1/relationships/families/{fid}/children/{cid}
	                                                       family:remove_member on family:{fid}
	POST   /api/v1/relationships/children/{cid}/emergency-contacts
	                                                       family:invite on child:{cid}
	DELETE /api/v1/relationships/children/{cid}/emergency-contacts/{uid}
	                                                       family:remove_member on child:{cid}

Relationship routes name the family or child they touch, so the guard's
ownership check confines a parent to their own family and its linked
children. A linked child must also carry that family id in its profile.

Responses use a common envelope:

	{"success": true, "data": {...}, "meta": {"request_id": "...", "timestamp": "..."}}
	{"success": false, "error": {"code": "NOT_FOUND", "message": "..."}}

Directory errors map onto status codes: validation failures and unknown
names are 400, a missing user is 404, and duplicate users or redundant
grants are 409. Denied guard checks are 403 with the decision reason and
audit id, as is linking a child of another family.

Because admin routes are guarded, the first administrator has to be seeded
from configuration.

Middleware stack, outermost first: request id with logging context, real
IP, request logging, panic recovery and CORS. Under /api/v1 requests are
then counted in Prometheus by route pattern, rate limited per client IP
(go-chi/httprate) and given security headers. A rate-limited request is
recorded as a rate_limit_exceeded audit event.
*/
package api
