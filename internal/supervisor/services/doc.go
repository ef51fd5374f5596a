// ToyGuard - Access Control and Security Audit for Connected Toys
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/toyguard

/*
Package services provides suture.Service wrappers for ToyGuard components.

Each wrapper translates a component lifecycle into suture's context-aware
Serve method and identifies itself through fmt.Stringer for log messages.

# Available Services

HTTP Server (HTTPServerService):
  - Wraps *http.Server, or anything with ListenAndServe and Shutdown
  - Shuts down with its own timeout once the context is canceled
  - http.ErrServerClosed is treated as a clean stop

Background Runners (RunnerService):
  - Wraps any type with RunWithContext(ctx) error
  - NewAuditTrailService names the audit flush loop "audit-trail"
  - NewDetectorService names the threat detector "threat-detector"

# Usage Example

	tree.AddDataService(services.NewAuditTrailService(trail))
	tree.AddSecurityService(services.NewDetectorService(detector))
	tree.AddAPIService(services.NewHTTPServerService(&http.Server{
	    Addr:    cfg.Server.Addr(),
	    Handler: router,
	}, cfg.Server.ShutdownTimeout))
*/
package services
