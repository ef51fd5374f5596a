// ToyGuard - Access Control and Security Audit for Connected Toys
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/toyguard

package authz

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Decision metrics

	AuthzDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toyguard_authz_decisions_total",
			Help: "Total number of access decisions",
		},
		[]string{"permission", "context", "decision"},
	)

	AuthzDecisionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "toyguard_authz_decision_duration_seconds",
			Help:    "Duration of access decisions in seconds",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		},
		[]string{"cache_hit"},
	)

	AuthzDeniedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toyguard_authz_denied_total",
			Help: "Total number of denials by reason",
		},
		[]string{"reason"},
	)

	// Cache metrics

	AuthzCacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "toyguard_authz_cache_hits_total",
			Help: "Total number of decision cache hits",
		},
	)

	AuthzCacheMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "toyguard_authz_cache_misses_total",
			Help: "Total number of decision cache misses",
		},
	)

	AuthzCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "toyguard_authz_cache_entries",
			Help: "Current number of entries in the decision cache",
		},
	)

	AuthzCacheInvalidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toyguard_authz_cache_invalidations_total",
			Help: "Total number of decision cache invalidations",
		},
		[]string{"reason"},
	)

	// Directory metrics

	AuthzDirectoryMutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toyguard_authz_directory_mutations_total",
			Help: "Total number of user directory mutations",
		},
		[]string{"operation"}, // create, grant, revoke, role_change, time_restriction, deactivate
	)

	AuthzActiveUsers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "toyguard_authz_active_users",
			Help: "Current number of active users by role",
		},
		[]string{"role"},
	)

	// Error metrics

	AuthzErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toyguard_authz_errors_total",
			Help: "Total number of authorization errors",
		},
		[]string{"error_type"},
	)
)

func recordDecision(req AccessRequest, d Decision, cacheHit bool, duration time.Duration) {
	decision := "denied"
	if d.Granted {
		decision = "granted"
	} else {
		AuthzDeniedTotal.WithLabelValues(d.Reason).Inc()
	}
	AuthzDecisionsTotal.WithLabelValues(req.Permission.String(), req.Context.String(), decision).Inc()

	hit := "false"
	if cacheHit {
		hit = "true"
	}
	AuthzDecisionDuration.WithLabelValues(hit).Observe(duration.Seconds())
}
