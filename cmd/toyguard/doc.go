// ToyGuard - Access Control and Security Audit for Connected Toys
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/toyguard

/*
Package main is the entry point for the ToyGuard server.

ToyGuard decides who may do what to a connected toy and its child users,
records every decision in a tamper-evident audit trail, and watches that
trail for abuse patterns.

# Application Architecture

Long-running components run under a Suture v4 supervisor tree:

	RootSupervisor ("toyguard")
	├── DataSupervisor ("data-layer")
	│   └── Audit trail (buffer flush, retention cleanup)
	├── SecuritySupervisor ("security-layer")
	│   └── Threat detector (optional)
	└── APISupervisor ("api-layer")
	    └── HTTP admin API

Component initialization order:

 1. Configuration: Koanf v2 with defaults, config.yaml and environment
 2. Logging: zerolog with JSON/console output modes
 3. Storage: BadgerDB when TOYGUARD_STORAGE_PATH is set, memory otherwise
 4. Permission catalog, decision cache and user directory
 5. Relationship store: memory or Redis
 6. Audit trail and threat detector
 7. Seeded users and relationships from config.yaml
 8. Supervisor tree and HTTP server

# Configuration

Priority: Environment variables > Config file > Defaults

	TOYGUARD_HTTP_PORT=8390
	TOYGUARD_LOG_LEVEL=info
	TOYGUARD_STORAGE_PATH=/data/toyguard
	TOYGUARD_RELATIONSHIPS_BACKEND=redis
	TOYGUARD_REDIS_ADDR=redis:6379
	TOYGUARD_DETECTION_ENABLED=true

The admin API trusts the identity header set by the fronting proxy. The
first administrator must be seeded from config.yaml:

	users:
	  - id: admin-1
	    role: admin

# Signal Handling

SIGINT and SIGTERM cancel the root context. The HTTP server drains
in-flight requests and the audit trail flushes its buffer before exit.
*/
package main
