// ToyGuard - Access Control and Security Audit for Connected Toys
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/toyguard

/*
Package detection escalates abuse patterns found in the audit trail.

A Detector subscribes to an audit.Trail. For each appended event it checks
every Pattern whose triggers include the event type, counts the matching
events of the same subject (the actor, or the source address when there is
no actor) inside the pattern window, and writes a suspicious_activity event
when the count reaches the threshold.

A subject's recent history is read from the trail once, the first time the
subject is seen, and its windows are kept in memory after that. Each subject
has its own lock, so a slow history read never delays other subjects.

# Rules

A Rule matches single events by type and threat level. The built-in table
raises critical_security_event, child_safety_alert and
data_breach_indicator. Rule matches go to the sinks with Kind "rule" and
write no audit event.

# Deduplication

Once a pattern fires for a subject, only events after the triggering event
count toward the next firing, so a sixth failed login after five does not
fire again. The same triggering event id never fires a pattern twice.

# Sinks

Alerts go to AlertSink implementations in the background, each delivery
bounded by its own timeout:

  - WebhookNotifier: JSON POST, rate limited and behind a circuit breaker
  - LogNotifier: error-level log line

Call Detector.Wait (or let RunWithContext return) to drain deliveries on
shutdown.
*/
package detection
