// ToyGuard - Access Control and Security Audit for Connected Toys
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/toyguard

/*
Package config provides centralized configuration management for ToyGuard.

# Configuration Sources

Sources are layered with koanf, later layers overriding earlier ones:

 1. built-in defaults (defaultConfig)
 2. an optional YAML file: $TOYGUARD_CONFIG, ./config.yaml or /etc/toyguard/config.yaml
 3. TOYGUARD_* environment variables

Seeded users, family links and emergency contacts are lists and are only
read from the YAML file.

# Example File

	server:
	  port: 8390
	  identity_header: X-User-ID
	storage:
	  path: /data/toyguard
	relationships:
	  backend: redis
	  redis_addr: localhost:6379
	  links:
	    - {family_id: f1, child_id: kid1}
	  emergency_contacts:
	    - {user_id: grandma, child_id: kid1}
	users:
	  - id: mum
	    role: parent
	    family_id: f1
	  - id: kid1
	    role: child
	    family_id: f1
	    age: 7
	    time_restriction: {start: "07:00", end: "19:30", weekend_restricted: false}
	detection:
	  patterns:
	    - {name: brute_force_login, triggers: [login_failure], threshold: 5, window: 5m, level: high}
	  webhook:
	    enabled: true
	    webhook_url: https://alerts.example.com/hook
	    headers: {Authorization: Bearer xyz}

# Validation

Config.Validate runs the validator struct tags (including the "role",
"permission" and "clocktime" tags) and then parses every seed, so an unknown
role or permission fails startup instead of the first request.
*/
package config
