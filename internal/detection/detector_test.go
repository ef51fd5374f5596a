// ToyGuard - Access Control and Security Audit for Connected Toys
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/toyguard

package detection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/toyguard/internal/audit"
)

// =====================================================================
// Test Helpers
// =====================================================================

// stepClock advances by step on every reading so each logged event gets a
// distinct timestamp, and therefore a distinct id.
type stepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), step: time.Second}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingSink struct {
	mu     sync.Mutex
	alerts []Alert
	err    error
}

func (s *recordingSink) Name() string  { return "recording" }
func (s *recordingSink) Enabled() bool { return true }

func (s *recordingSink) Send(_ context.Context, a Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
	return s.err
}

func (s *recordingSink) Alerts() []Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Alert(nil), s.alerts...)
}

func bruteForce(threshold int, window time.Duration) Pattern {
	return Pattern{
		Name:      PatternBruteForceLogin,
		Triggers:  []audit.EventType{audit.EventLoginFailure},
		Threshold: threshold,
		Window:    window,
		Level:     audit.ThreatHigh,
	}
}

func setupDetector(t *testing.T, patterns []Pattern, sinks ...AlertSink) (*audit.Trail, *Detector, *stepClock) {
	t.Helper()
	clock := newStepClock()
	trail := audit.NewTrail(audit.NewMemoryStore(), audit.DefaultConfig(), clock.Now)
	d, err := NewDetector(trail, trail, Config{Patterns: patterns}, sinks...)
	if err != nil {
		t.Fatalf("NewDetector() error = %v", err)
	}
	trail.Subscribe(d)
	t.Cleanup(d.Wait)
	return trail, d, clock
}

func suspicious(t *testing.T, trail *audit.Trail) []audit.Event {
	t.Helper()
	return trail.GetEvents(context.Background(), audit.Filter{Type: audit.EventSuspiciousActivity}, 0)
}

func loginFailure(actor, source string) audit.Event {
	return audit.Event{Type: audit.EventLoginFailure, ActorID: actor, Source: source, Result: audit.ResultFailure}
}

// =====================================================================
// Threshold and Deduplication
// =====================================================================

func TestDetector_ThresholdTriggersOnce(t *testing.T) {
	trail, _, _ := setupDetector(t, []Pattern{bruteForce(5, 300*time.Second)})
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		trail.Log(ctx, loginFailure("u1", "10.0.0.1"))
	}
	if got := len(suspicious(t, trail)); got != 0 {
		t.Fatalf("after 4 failures: %d suspicious events, want 0", got)
	}

	fifth := trail.Log(ctx, loginFailure("u1", "10.0.0.1"))
	events := suspicious(t, trail)
	if len(events) != 1 {
		t.Fatalf("after 5 failures: %d suspicious events, want 1", len(events))
	}

	e := events[0]
	if e.Details["triggering_event_id"] != fifth {
		t.Errorf("triggering_event_id = %v, want %s", e.Details["triggering_event_id"], fifth)
	}
	if e.Details["pattern"] != PatternBruteForceLogin {
		t.Errorf("pattern = %v, want %s", e.Details["pattern"], PatternBruteForceLogin)
	}
	if e.ThreatLevel != audit.ThreatHigh {
		t.Errorf("ThreatLevel = %s, want high", e.ThreatLevel)
	}
	if e.Result != audit.ResultDetected {
		t.Errorf("Result = %s, want detected", e.Result)
	}
	if e.ActorID != "u1" {
		t.Errorf("ActorID = %s, want u1", e.ActorID)
	}

	trail.Log(ctx, loginFailure("u1", "10.0.0.1"))
	if got := len(suspicious(t, trail)); got != 1 {
		t.Errorf("after 6 failures: %d suspicious events, want 1", got)
	}
}

func TestDetector_RefiresAfterFreshThreshold(t *testing.T) {
	trail, _, _ := setupDetector(t, []Pattern{bruteForce(3, time.Hour)})
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		trail.Log(ctx, loginFailure("u1", ""))
	}
	if got := len(suspicious(t, trail)); got != 2 {
		t.Errorf("suspicious events = %d, want 2", got)
	}
}

func TestDetector_WindowExpiry(t *testing.T) {
	trail, _, clock := setupDetector(t, []Pattern{bruteForce(3, time.Minute)})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		trail.Log(ctx, loginFailure("u1", ""))
		clock.Advance(time.Minute)
	}
	if got := len(suspicious(t, trail)); got != 0 {
		t.Errorf("spread-out failures: %d suspicious events, want 0", got)
	}
}

func TestDetector_SubjectsAreSeparate(t *testing.T) {
	trail, _, _ := setupDetector(t, []Pattern{bruteForce(3, time.Hour)})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		trail.Log(ctx, loginFailure("u1", "10.0.0.1"))
		trail.Log(ctx, loginFailure("u2", "10.0.0.1"))
	}
	if got := len(suspicious(t, trail)); got != 0 {
		t.Errorf("suspicious events = %d, want 0", got)
	}
}

func TestDetector_AnonymousBySource(t *testing.T) {
	trail, _, _ := setupDetector(t, []Pattern{bruteForce(3, time.Hour)})
	ctx := context.Background()

	trail.Log(ctx, loginFailure("", "10.0.0.9"))
	trail.Log(ctx, loginFailure("", "10.0.0.8"))
	trail.Log(ctx, loginFailure("", "10.0.0.9"))
	if got := len(suspicious(t, trail)); got != 0 {
		t.Fatalf("suspicious events = %d, want 0", got)
	}

	trail.Log(ctx, loginFailure("", "10.0.0.9"))
	events := suspicious(t, trail)
	if len(events) != 1 {
		t.Fatalf("suspicious events = %d, want 1", len(events))
	}
	if events[0].Source != "10.0.0.9" {
		t.Errorf("Source = %s, want 10.0.0.9", events[0].Source)
	}
}

func TestDetector_SameTriggeringEventObservedTwice(t *testing.T) {
	trail, d, _ := setupDetector(t, []Pattern{bruteForce(2, time.Hour)})
	ctx := context.Background()

	trail.Log(ctx, loginFailure("u1", ""))
	id := trail.Log(ctx, loginFailure("u1", ""))
	if got := len(suspicious(t, trail)); got != 1 {
		t.Fatalf("suspicious events = %d, want 1", got)
	}

	events := trail.GetEvents(ctx, audit.Filter{Type: audit.EventLoginFailure}, 0)
	for _, e := range events {
		if e.ID == id {
			d.Observe(ctx, e)
		}
	}
	if got := len(suspicious(t, trail)); got != 1 {
		t.Errorf("after re-observing: %d suspicious events, want 1", got)
	}
}

func TestDetector_IgnoresUnrelatedEvents(t *testing.T) {
	trail, _, _ := setupDetector(t, []Pattern{bruteForce(2, time.Hour)})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		trail.Log(ctx, audit.Event{Type: audit.EventLoginSuccess, ActorID: "u1"})
	}
	if got := len(suspicious(t, trail)); got != 0 {
		t.Errorf("suspicious events = %d, want 0", got)
	}
}

func TestDetector_MultiTriggerPattern(t *testing.T) {
	trail, _, _ := setupDetector(t, nil)
	ctx := context.Background()

	trail.Log(ctx, audit.Event{Type: audit.EventPermissionDenied, ActorID: "u1", Result: audit.ResultDenied})
	trail.Log(ctx, audit.Event{Type: audit.EventUnauthorizedAccess, ActorID: "u1", Result: audit.ResultDenied})
	trail.Log(ctx, audit.Event{Type: audit.EventPermissionDenied, ActorID: "u1", Result: audit.ResultDenied})

	events := suspicious(t, trail)
	if len(events) != 1 {
		t.Fatalf("suspicious events = %d, want 1", len(events))
	}
	if events[0].Details["pattern"] != PatternUnauthorizedAccess {
		t.Errorf("pattern = %v, want %s", events[0].Details["pattern"], PatternUnauthorizedAccess)
	}
}

func TestDetector_ConcurrentEvents(t *testing.T) {
	trail, _, _ := setupDetector(t, []Pattern{bruteForce(5, time.Hour)})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			trail.Log(ctx, loginFailure("u1", ""))
		}()
	}
	wg.Wait()

	// Each firing needs five events newer than the previous one.
	if got := len(suspicious(t, trail)); got > 4 {
		t.Errorf("suspicious events = %d, want at most 4", got)
	}
}

// slowSource answers every history read after delay and counts the reads.
type slowSource struct {
	delay time.Duration
	reads atomic.Int32
}

func (s *slowSource) GetEvents(context.Context, audit.Filter, int) []audit.Event {
	s.reads.Add(1)
	time.Sleep(s.delay)
	return nil
}

type discardLogger struct{}

func (discardLogger) Log(context.Context, audit.Event) string { return "" }

func TestDetector_SlowHistoryDoesNotSerializeSubjects(t *testing.T) {
	source := &slowSource{delay: 100 * time.Millisecond}
	pattern := Pattern{
		Name:      PatternSuspiciousDataAccess,
		Triggers:  []audit.EventType{audit.EventDataAccess},
		Threshold: 100,
		Window:    time.Hour,
		Level:     audit.ThreatMedium,
	}
	d, err := NewDetector(source, discardLogger{}, Config{Patterns: []Pattern{pattern}, Rules: []Rule{}})
	if err != nil {
		t.Fatalf("NewDetector() error = %v", err)
	}

	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	event := func(actor string, n int) audit.Event {
		return audit.Event{
			ID:        fmt.Sprintf("%s-%d", actor, n),
			Type:      audit.EventDataAccess,
			ActorID:   actor,
			Timestamp: now.Add(time.Duration(n) * time.Second),
		}
	}

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(actor string) {
			defer wg.Done()
			d.Observe(ctx, event(actor, 0))
		}(fmt.Sprintf("user-%d", i))
	}
	wg.Wait()

	// Ten serialized reads would take a full second.
	if elapsed := time.Since(start); elapsed >= 500*time.Millisecond {
		t.Errorf("10 subjects took %v, want well under 1s", elapsed)
	}
	if got := source.reads.Load(); got != 10 {
		t.Fatalf("history reads = %d, want 10", got)
	}

	for n := 1; n <= 5; n++ {
		d.Observe(ctx, event("user-0", n))
	}
	if got := source.reads.Load(); got != 10 {
		t.Errorf("history reads after repeat events = %d, want 10", got)
	}
}

func TestDetector_CountsHistoryFromBeforeSubscription(t *testing.T) {
	clock := newStepClock()
	trail := audit.NewTrail(audit.NewMemoryStore(), audit.DefaultConfig(), clock.Now)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		trail.Log(ctx, loginFailure("u1", ""))
	}

	d, err := NewDetector(trail, trail, Config{Patterns: []Pattern{bruteForce(5, time.Hour)}})
	if err != nil {
		t.Fatalf("NewDetector() error = %v", err)
	}
	trail.Subscribe(d)
	t.Cleanup(d.Wait)

	trail.Log(ctx, loginFailure("u1", ""))
	events := suspicious(t, trail)
	if len(events) != 1 {
		t.Fatalf("suspicious events = %d, want 1", len(events))
	}
	if got := events[0].Details["count"]; got != 5 {
		t.Errorf("count = %v, want 5", got)
	}
}

func TestDetector_SweepsIdleSubjects(t *testing.T) {
	d, err := NewDetector(&slowSource{}, discardLogger{}, Config{Patterns: []Pattern{bruteForce(3, time.Minute)}})
	if err != nil {
		t.Fatalf("NewDetector() error = %v", err)
	}
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for i := 0; i < pruneThreshold; i++ {
		d.Observe(ctx, audit.Event{
			ID:        fmt.Sprintf("old-%d", i),
			Type:      audit.EventLoginFailure,
			ActorID:   fmt.Sprintf("user-%d", i),
			Timestamp: now,
		})
	}
	if got := d.subjectCount.Load(); got != pruneThreshold {
		t.Fatalf("tracked subjects = %d, want %d", got, pruneThreshold)
	}

	d.Observe(ctx, audit.Event{ID: "new", Type: audit.EventLoginFailure, ActorID: "late", Timestamp: now.Add(2 * time.Minute)})
	if got := d.subjectCount.Load(); got != 1 {
		t.Errorf("tracked subjects after sweep = %d, want 1", got)
	}
}

// =====================================================================
// Alert Rules
// =====================================================================

func TestDetector_AlertRules(t *testing.T) {
	tests := []struct {
		name  string
		event audit.Event
		want  []string
	}{
		{
			name:  "critical event of any type",
			event: audit.Event{Type: audit.EventLoginFailure, ActorID: "u1", ThreatLevel: audit.ThreatCritical},
			want:  []string{RuleCriticalSecurityEvent},
		},
		{
			name:  "high risk child interaction",
			event: audit.Event{Type: audit.EventChildInteraction, ActorID: "u1", ThreatLevel: audit.ThreatHigh},
			want:  []string{RuleChildSafetyAlert},
		},
		{
			name:  "critical child interaction",
			event: audit.Event{Type: audit.EventChildInteraction, ActorID: "u1", ThreatLevel: audit.ThreatCritical},
			want:  []string{RuleCriticalSecurityEvent, RuleChildSafetyAlert},
		},
		{
			name:  "unauthorized access",
			event: audit.Event{Type: audit.EventUnauthorizedAccess, ActorID: "u1", Result: audit.ResultDenied},
			want:  []string{RuleDataBreachIndicator},
		},
		{
			name:  "high risk data access",
			event: audit.Event{Type: audit.EventDataAccess, ActorID: "u1", ThreatLevel: audit.ThreatHigh},
			want:  []string{RuleDataBreachIndicator},
		},
		{
			name:  "routine data access",
			event: audit.Event{Type: audit.EventDataAccess, ActorID: "u1"},
		},
		{
			name:  "medium child interaction",
			event: audit.Event{Type: audit.EventChildInteraction, ActorID: "u1", ThreatLevel: audit.ThreatMedium},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &recordingSink{}
			trail, d, _ := setupDetector(t, []Pattern{bruteForce(100, time.Hour)}, sink)

			id := trail.Log(context.Background(), tt.event)
			d.Wait()

			alerts := sink.Alerts()
			got := make(map[string]bool, len(alerts))
			for _, a := range alerts {
				if a.Kind != AlertKindRule {
					t.Errorf("alert %s Kind = %s, want rule", a.Pattern, a.Kind)
				}
				if a.EventID != id || a.TriggeringEventID != id {
					t.Errorf("alert %s references %s/%s, want %s", a.Pattern, a.EventID, a.TriggeringEventID, id)
				}
				got[a.Pattern] = true
			}
			if len(alerts) != len(tt.want) {
				t.Fatalf("alerts = %v, want %v", alerts, tt.want)
			}
			for _, name := range tt.want {
				if !got[name] {
					t.Errorf("missing %s alert, got %v", name, alerts)
				}
			}
			if n := len(suspicious(t, trail)); n != 0 {
				t.Errorf("rule match wrote %d suspicious events, want 0", n)
			}
		})
	}
}

func TestDetector_RulesDisabledWithEmptyTable(t *testing.T) {
	sink := &recordingSink{}
	trail := audit.NewTrail(audit.NewMemoryStore(), audit.DefaultConfig(), nil)
	d, err := NewDetector(trail, trail, Config{Patterns: []Pattern{}, Rules: []Rule{}}, sink)
	if err != nil {
		t.Fatalf("NewDetector() error = %v", err)
	}
	trail.Subscribe(d)

	trail.Log(context.Background(), audit.Event{Type: audit.EventUnauthorizedAccess, ActorID: "u1"})
	d.Wait()
	if got := len(sink.Alerts()); got != 0 {
		t.Errorf("alerts = %d, want 0", got)
	}
}

// =====================================================================
// Sinks
// =====================================================================

func TestDetector_NotifiesSinks(t *testing.T) {
	sink := &recordingSink{}
	trail, d, _ := setupDetector(t, []Pattern{bruteForce(2, time.Hour)}, sink)
	ctx := context.Background()

	trail.Log(ctx, loginFailure("u1", "10.0.0.1"))
	trigger := trail.Log(ctx, loginFailure("u1", "10.0.0.1"))
	d.Wait()

	alerts := sink.Alerts()
	if len(alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(alerts))
	}
	a := alerts[0]
	if a.TriggeringEventID != trigger {
		t.Errorf("TriggeringEventID = %s, want %s", a.TriggeringEventID, trigger)
	}
	if a.EventID == "" {
		t.Error("EventID should reference the suspicious_activity event")
	}
	if a.Count != 2 {
		t.Errorf("Count = %d, want 2", a.Count)
	}
	if a.Kind != AlertKindPattern {
		t.Errorf("Kind = %s, want pattern", a.Kind)
	}
}

func TestDetector_SinkErrorDoesNotBlockEscalation(t *testing.T) {
	sink := &recordingSink{err: errors.New("unreachable")}
	trail, d, _ := setupDetector(t, []Pattern{bruteForce(1, time.Hour)}, sink)

	trail.Log(context.Background(), loginFailure("u1", ""))
	d.Wait()

	if got := len(suspicious(t, trail)); got != 1 {
		t.Errorf("suspicious events = %d, want 1", got)
	}
	if got := len(sink.Alerts()); got != 1 {
		t.Errorf("sink calls = %d, want 1", got)
	}
}

func TestDetector_CancelledRequestStillNotifies(t *testing.T) {
	sink := &recordingSink{}
	trail, d, _ := setupDetector(t, []Pattern{bruteForce(1, time.Hour)}, sink)

	ctx, cancel := context.WithCancel(context.Background())
	trail.Log(ctx, loginFailure("u1", ""))
	cancel()
	d.Wait()

	if got := len(sink.Alerts()); got != 1 {
		t.Errorf("sink calls = %d, want 1", got)
	}
}

// =====================================================================
// Construction
// =====================================================================

func TestNewDetector_Validation(t *testing.T) {
	trail := audit.NewTrail(audit.NewMemoryStore(), audit.DefaultConfig(), nil)

	tests := []struct {
		name     string
		patterns []Pattern
		wantErr  bool
	}{
		{name: "defaults", patterns: nil},
		{name: "valid custom", patterns: []Pattern{bruteForce(3, time.Minute)}},
		{name: "zero threshold", patterns: []Pattern{bruteForce(0, time.Minute)}, wantErr: true},
		{name: "zero window", patterns: []Pattern{bruteForce(3, 0)}, wantErr: true},
		{name: "duplicate name", patterns: []Pattern{bruteForce(3, time.Minute), bruteForce(4, time.Minute)}, wantErr: true},
		{name: "no name", patterns: []Pattern{{Triggers: []audit.EventType{audit.EventLoginFailure}, Threshold: 1, Window: time.Minute, Level: audit.ThreatLow}}, wantErr: true},
		{name: "unknown trigger", patterns: []Pattern{{Name: "x", Triggers: []audit.EventType{"bogus"}, Threshold: 1, Window: time.Minute, Level: audit.ThreatLow}}, wantErr: true},
		{name: "self trigger", patterns: []Pattern{{Name: "x", Triggers: []audit.EventType{audit.EventSuspiciousActivity}, Threshold: 1, Window: time.Minute, Level: audit.ThreatLow}}, wantErr: true},
		{name: "bad level", patterns: []Pattern{{Name: "x", Triggers: []audit.EventType{audit.EventLoginFailure}, Threshold: 1, Window: time.Minute, Level: "severe"}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDetector(trail, trail, Config{Patterns: tt.patterns})
			if (err != nil) != tt.wantErr {
				t.Errorf("NewDetector() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewDetector_RuleValidation(t *testing.T) {
	trail := audit.NewTrail(audit.NewMemoryStore(), audit.DefaultConfig(), nil)
	high := []audit.ThreatLevel{audit.ThreatHigh}

	tests := []struct {
		name    string
		rules   []Rule
		wantErr bool
	}{
		{name: "defaults", rules: nil},
		{name: "none", rules: []Rule{}},
		{name: "any type", rules: []Rule{{Name: "r", Levels: high}}},
		{name: "no name", rules: []Rule{{Levels: high}}, wantErr: true},
		{name: "no levels", rules: []Rule{{Name: "r"}}, wantErr: true},
		{name: "bad level", rules: []Rule{{Name: "r", Levels: []audit.ThreatLevel{"severe"}}}, wantErr: true},
		{name: "unknown type", rules: []Rule{{Name: "r", Types: []audit.EventType{"bogus"}, Levels: high}}, wantErr: true},
		{name: "self match", rules: []Rule{{Name: "r", Types: []audit.EventType{audit.EventSuspiciousActivity}, Levels: high}}, wantErr: true},
		{name: "duplicate name", rules: []Rule{{Name: "r", Levels: high}, {Name: "r", Levels: high}}, wantErr: true},
		{name: "clashes with pattern", rules: []Rule{{Name: PatternBruteForceLogin, Levels: high}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDetector(trail, trail, Config{Rules: tt.rules})
			if (err != nil) != tt.wantErr {
				t.Errorf("NewDetector() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultPatterns(t *testing.T) {
	patterns := DefaultPatterns()
	if len(patterns) != 4 {
		t.Fatalf("len(DefaultPatterns()) = %d, want 4", len(patterns))
	}
	for i := range patterns {
		if err := patterns[i].Validate(); err != nil {
			t.Errorf("pattern %s invalid: %v", patterns[i].Name, err)
		}
	}
}

func TestDetector_RunWithContext(t *testing.T) {
	trail := audit.NewTrail(audit.NewMemoryStore(), audit.DefaultConfig(), nil)
	d, err := NewDetector(trail, trail, Config{})
	if err != nil {
		t.Fatalf("NewDetector() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.RunWithContext(ctx) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("RunWithContext() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RunWithContext did not return after cancel")
	}
}
