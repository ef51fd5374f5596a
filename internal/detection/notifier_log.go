// ToyGuard - Access Control and Security Audit for Connected Toys
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/toyguard

package detection

import (
	"context"

	"github.com/tomtom215/toyguard/internal/logging"
)

// LogNotifier writes alerts to the application log at error level.
type LogNotifier struct{}

// NewLogNotifier creates a log sink.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

// Name returns the sink name.
func (LogNotifier) Name() string { return "log" }

// Enabled always returns true.
func (LogNotifier) Enabled() bool { return true }

// Send logs the alert.
func (LogNotifier) Send(_ context.Context, alert Alert) error {
	logger := logging.Component("alerts")
	logger.Error().
		Str("event_id", alert.EventID).
		Str("kind", alert.Kind).
		Str("pattern", alert.Pattern).
		Str("level", string(alert.Level)).
		Str("actor_id", alert.ActorID).
		Str("source", alert.Source).
		Str("triggering_event_id", alert.TriggeringEventID).
		Int("count", alert.Count).
		Dur("window", alert.Window).
		Msg("SECURITY ALERT")
	return nil
}
