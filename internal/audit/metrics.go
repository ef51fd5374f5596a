// ToyGuard - Access Control and Security Audit for Connected Toys
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/toyguard

package audit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AuditEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toyguard_audit_events_total",
			Help: "Total number of audit events appended",
		},
		[]string{"type", "threat_level"},
	)

	AuditDuplicatesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "toyguard_audit_duplicates_total",
			Help: "Total number of re-logged events ignored because their id was already pending",
		},
	)

	AuditDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "toyguard_audit_dropped_total",
			Help: "Total number of unflushed events dropped because the buffer cap was reached",
		},
	)

	AuditPendingEvents = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "toyguard_audit_pending_events",
			Help: "Current number of events waiting to be flushed",
		},
	)

	AuditFlushesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toyguard_audit_flushes_total",
			Help: "Total number of buffer flushes",
		},
		[]string{"result"},
	)

	AuditFlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "toyguard_audit_flush_duration_seconds",
			Help:    "Duration of successful buffer flushes",
			Buckets: prometheus.DefBuckets,
		},
	)

	AuditStoreErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "toyguard_audit_store_errors_total",
			Help: "Total number of audit store errors",
		},
	)

	AuditBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "toyguard_audit_store_breaker_state",
			Help: "Audit store circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)
)
