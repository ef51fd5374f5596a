// ToyGuard - Access Control and Security Audit for Connected Toys
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/toyguard

/*
Package audit implements the security audit trail.

Every access decision and every detected threat becomes an Event. Events
are appended to an in-memory buffer by Trail.Log and flushed to a Store in
the background, either when the buffer reaches its size threshold or on a
fixed interval. Store writes go through a circuit breaker and are retried
with exponential backoff; a failed batch stays in the buffer, remains
visible to queries, and is retried on the next flush. Callers never see
store errors.

# Event identity

Event ids are name-based UUIDs derived from the timestamp, type and actor:

	id := audit.EventID(ts, audit.EventLoginFailure, "u1")

Logging the same occurrence twice therefore produces one event. Stores
upsert by id, so a batch that was written but not acknowledged is safe to
write again.

# Assessment

Log fills in what the caller leaves empty: threat level (AssessThreatLevel),
compliance flags (ComplianceFlags) and a 0-10 risk score (RiskScore).

# Storage

MemoryStore keeps events in a map and is used in tests and when no data
directory is configured. BadgerStore orders events by a fixed-width
timestamp key so newest-first queries and retention pruning are prefix
scans.

# Observers

Observers registered with Subscribe run synchronously after each append,
outside the buffer lock. The threat detector is the main observer.
*/
package audit
