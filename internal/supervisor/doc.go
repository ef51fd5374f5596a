// ToyGuard - Access Control and Security Audit for Connected Toys
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/toyguard

/*
Package supervisor provides process supervision for ToyGuard using suture v4.

The long-running parts of the server are organized into a three-layer tree so
a failure in one layer is restarted without disturbing the others:

	RootSupervisor ("toyguard")
	├── DataSupervisor ("data-layer")
	│   └── audit-trail (flush and retention loop)
	├── SecuritySupervisor ("security-layer")
	│   └── threat-detector (pattern window pruning)
	└── APISupervisor ("api-layer")
	    └── http-server

# Usage

	tree, err := supervisor.NewSupervisorTree(slog.Default(), supervisor.DefaultTreeConfig())
	if err != nil {
	    return err
	}
	tree.AddDataService(services.NewAuditTrailService(trail))
	tree.AddSecurityService(services.NewDetectorService(detector))
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	err = tree.Serve(ctx)

# Configuration

TreeConfig controls restart behavior. Zero fields take the defaults:

  - FailureThreshold: 5 failures
  - FailureDecay: 30 seconds
  - FailureBackoff: 15 seconds
  - ShutdownTimeout: 10 seconds

# Service Contract

Serve must return promptly once its context is canceled. Returning an error
means the service crashed and will be restarted. The audit trail service
performs one final flush before returning, so events accepted before shutdown
reach the store.

# What Is NOT Supervised

The decision engine, user directory and permission catalog are synchronous
libraries called from request handlers; they have no loop of their own.
BadgerDB is opened and closed by main.

# Debugging Shutdown Issues

	report, err := tree.UnstoppedServiceReport()
	for _, svc := range report {
	    logger.Warn("service did not stop", "service", svc.Name)
	}
*/
package supervisor
