// ToyGuard - Access Control and Security Audit for Connected Toys
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/toyguard

package main

import (
	"github.com/tomtom215/toyguard/internal/audit"
	"github.com/tomtom215/toyguard/internal/config"
	"github.com/tomtom215/toyguard/internal/detection"
	"github.com/tomtom215/toyguard/internal/logging"
)

// initDetection builds the threat detector over trail. Alerts always go to
// the log; the webhook sink is added when configured.
func initDetection(trail *audit.Trail, cfg config.DetectionConfig) (*detection.Detector, error) {
	sinks := []detection.AlertSink{detection.NewLogNotifier()}

	if cfg.Webhook.Enabled && cfg.Webhook.WebhookURL != "" {
		sinks = append(sinks, detection.NewWebhookNotifier(cfg.Webhook.NotifierConfig()))
		logging.Info().
			Str("url", cfg.Webhook.WebhookURL).
			Dur("rate_limit", cfg.Webhook.RateLimit).
			Msg("Webhook notifier registered")
	}

	detector, err := detection.NewDetector(trail, trail, cfg.DetectorConfig(), sinks...)
	if err != nil {
		return nil, err
	}
	logging.Info().
		Int("patterns", len(detector.Patterns())).
		Int("sinks", len(sinks)).
		Msg("Threat detector initialized")
	return detector, nil
}
