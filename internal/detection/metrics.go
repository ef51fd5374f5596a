// ToyGuard - Access Control and Security Audit for Connected Toys
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/toyguard

package detection

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DetectionAlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toyguard_detection_alerts_total",
			Help: "Total number of suspicious activity escalations",
		},
		[]string{"pattern", "level"},
	)

	DetectionNotificationErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toyguard_detection_notification_errors_total",
			Help: "Total number of failed alert deliveries",
		},
		[]string{"sink"},
	)
)
