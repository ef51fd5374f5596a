// ToyGuard - Access Control and Security Audit for Connected Toys
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/toyguard

package audit

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/tomtom215/toyguard/internal/logging"
)

// HighRiskScore is the risk score at which an event counts as high risk.
const HighRiskScore = 7.0

// DefaultCompliancePeriod is the report window when no start is given.
const DefaultCompliancePeriod = 30 * 24 * time.Hour

var (
	// ErrUnknownStandard is returned for a compliance standard outside the
	// closed set.
	ErrUnknownStandard = errors.New("unknown compliance standard")

	// ErrInvalidPeriod is returned when a report period ends before it starts.
	ErrInvalidPeriod = errors.New("invalid report period")
)

// ComplianceStandards lists every standard an event can be flagged with.
func ComplianceStandards() []string {
	return []string{ComplianceCOPPA, ComplianceGDPR, ComplianceCCPA, ComplianceSOX}
}

// ValidStandard reports whether s is a known compliance standard.
func ValidStandard(s string) bool {
	return slices.Contains(ComplianceStandards(), s)
}

// RiskSummary aggregates the risk scores of a report's events.
type RiskSummary struct {
	TotalRiskScore   float64 `json:"total_risk_score"`
	AverageRiskScore float64 `json:"average_risk_score"`
	HighRiskEvents   int     `json:"high_risk_events"`
}

// ComplianceReport covers the events flagged with one standard in a period.
type ComplianceReport struct {
	Standard    string            `json:"standard"`
	Start       time.Time         `json:"start"`
	End         time.Time         `json:"end"`
	TotalEvents int               `json:"total_events"`
	EventTypes  map[EventType]int `json:"event_types"`
	Risk        RiskSummary       `json:"risk_summary"`
}

// GetComplianceReport reports on events flagged with standard between start
// and end, inclusive. A zero end is now and a zero start is
// DefaultCompliancePeriod before end.
func (t *Trail) GetComplianceReport(ctx context.Context, standard string, start, end time.Time) (ComplianceReport, error) {
	if !ValidStandard(standard) {
		return ComplianceReport{}, fmt.Errorf("%w: %q", ErrUnknownStandard, standard)
	}
	if end.IsZero() {
		end = t.now()
	}
	if start.IsZero() {
		start = end.Add(-DefaultCompliancePeriod)
	}
	if end.Before(start) {
		return ComplianceReport{}, fmt.Errorf("%w: end %s is before start %s", ErrInvalidPeriod,
			end.Format(time.RFC3339), start.Format(time.RFC3339))
	}

	events := t.GetEvents(ctx, Filter{Start: start, End: end}, t.cfg.SummaryScanLimit)
	if len(events) == t.cfg.SummaryScanLimit {
		logging.Warn().Int("limit", t.cfg.SummaryScanLimit).Str("standard", standard).
			Msg("Compliance report truncated at scan limit")
	}

	r := ComplianceReport{
		Standard:   standard,
		Start:      start,
		End:        end,
		EventTypes: make(map[EventType]int),
	}
	for i := range events {
		e := &events[i]
		if !slices.Contains(e.Compliance, standard) {
			continue
		}
		r.TotalEvents++
		r.EventTypes[e.Type]++
		r.Risk.TotalRiskScore += e.RiskScore
		if e.RiskScore >= HighRiskScore {
			r.Risk.HighRiskEvents++
		}
	}
	if r.TotalEvents > 0 {
		r.Risk.AverageRiskScore = r.Risk.TotalRiskScore / float64(r.TotalEvents)
	}
	return r, nil
}
