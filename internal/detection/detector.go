// ToyGuard - Access Control and Security Audit for Connected Toys
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/toyguard

package detection

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tomtom215/toyguard/internal/audit"
	"github.com/tomtom215/toyguard/internal/logging"
)

const (
	defaultNotifyTimeout = 10 * time.Second
	defaultScanLimit     = 5000

	// pruneThreshold is the tracked subject count at which idle subjects
	// are swept.
	pruneThreshold = 1024
)

// EventSource returns recent audit history, buffered and durable.
type EventSource interface {
	GetEvents(ctx context.Context, filter audit.Filter, limit int) []audit.Event
}

// EventLogger appends audit events.
type EventLogger interface {
	Log(ctx context.Context, event audit.Event) string
}

// Config holds detector settings.
type Config struct {
	Patterns []Pattern
	// Rules is the per-event rule table. Nil means DefaultRules.
	Rules []Rule
	// NotifyTimeout bounds one alert delivery to one sink.
	NotifyTimeout time.Duration
	// ScanLimit caps the history read when a subject is first seen.
	ScanLimit int
}

// Detector evaluates abuse patterns and per-event rules against every
// appended audit event. Pattern matches are escalated as suspicious_activity
// events; rule matches go straight to the sinks. It implements
// audit.Observer.
type Detector struct {
	patterns      []Pattern
	rules         []Rule
	events        EventSource
	logger        EventLogger
	sinks         []AlertSink
	notifyTimeout time.Duration
	scanLimit     int
	maxWindow     time.Duration

	// subjects maps a subject key to its *subjectState. Only one subject is
	// locked while its events are counted.
	subjects     sync.Map
	subjectCount atomic.Int64
	sweepMu      sync.Mutex

	wg sync.WaitGroup
}

// subjectState holds one subject's pattern windows. History is read once,
// when the subject is first seen, and counting happens in memory after that.
type subjectState struct {
	mu       sync.Mutex
	seeded   bool
	dead     bool
	lastSeen time.Time
	windows  []window // indexed like Detector.patterns
}

type windowEntry struct {
	id string
	ts time.Time
}

// window holds one pattern's matching events for one subject that arrived
// after the pattern last fired for it.
type window struct {
	entries []windowEntry
	fired   bool
	last    time.Time
}

// NewDetector creates a detector reading history from events and writing
// escalations to logger. Invalid patterns or rules are rejected.
func NewDetector(events EventSource, logger EventLogger, cfg Config, sinks ...AlertSink) (*Detector, error) {
	patterns := cfg.Patterns
	if patterns == nil {
		patterns = DefaultPatterns()
	}
	rules := cfg.Rules
	if rules == nil {
		rules = DefaultRules()
	}

	var maxWindow time.Duration
	names := make(map[string]struct{}, len(patterns)+len(rules))
	for i := range patterns {
		if err := patterns[i].Validate(); err != nil {
			return nil, err
		}
		if _, dup := names[patterns[i].Name]; dup {
			return nil, fmt.Errorf("duplicate pattern %s", patterns[i].Name)
		}
		names[patterns[i].Name] = struct{}{}
		maxWindow = max(maxWindow, patterns[i].Window)
	}
	for i := range rules {
		if err := rules[i].Validate(); err != nil {
			return nil, err
		}
		if _, dup := names[rules[i].Name]; dup {
			return nil, fmt.Errorf("duplicate rule %s", rules[i].Name)
		}
		names[rules[i].Name] = struct{}{}
	}

	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = defaultNotifyTimeout
	}
	if cfg.ScanLimit <= 0 {
		cfg.ScanLimit = defaultScanLimit
	}

	return &Detector{
		patterns:      append([]Pattern(nil), patterns...),
		rules:         append([]Rule(nil), rules...),
		events:        events,
		logger:        logger,
		sinks:         sinks,
		notifyTimeout: cfg.NotifyTimeout,
		scanLimit:     cfg.ScanLimit,
		maxWindow:     maxWindow,
	}, nil
}

// Patterns returns a copy of the active pattern table.
func (d *Detector) Patterns() []Pattern {
	return append([]Pattern(nil), d.patterns...)
}

// Rules returns a copy of the active rule table.
func (d *Detector) Rules() []Rule {
	return append([]Rule(nil), d.rules...)
}

// Observe implements audit.Observer.
func (d *Detector) Observe(ctx context.Context, e audit.Event) {
	if e.Type == audit.EventSuspiciousActivity {
		return
	}

	for _, a := range d.matchRules(&e) {
		d.raise(ctx, a)
	}

	subject := subjectOf(&e)
	if subject == "" || !d.triggers(e.Type) {
		return
	}
	alerts := d.evaluate(ctx, &e, subject)
	d.sweep(e.Timestamp)

	for _, a := range alerts {
		d.escalate(ctx, a)
	}
}

func (d *Detector) matchRules(e *audit.Event) []Alert {
	var alerts []Alert
	for i := range d.rules {
		r := &d.rules[i]
		if !r.matches(e) {
			continue
		}
		alerts = append(alerts, Alert{
			EventID:           e.ID,
			Kind:              AlertKindRule,
			Pattern:           r.Name,
			Level:             e.ThreatLevel,
			ActorID:           e.ActorID,
			Source:            e.Source,
			Resource:          e.Resource,
			TriggeringEventID: e.ID,
			Count:             1,
			DetectedAt:        e.Timestamp,
		})
	}
	return alerts
}

func (d *Detector) triggers(t audit.EventType) bool {
	for i := range d.patterns {
		if d.patterns[i].matches(t) {
			return true
		}
	}
	return false
}

// evaluate counts e against every pattern it triggers for subject. Only the
// subject's own state is locked, so slow history reads for one subject do
// not hold up others.
func (d *Detector) evaluate(ctx context.Context, e *audit.Event, subject string) []Alert {
	for {
		st := d.state(subject)
		st.mu.Lock()
		if st.dead {
			// Swept between lookup and lock.
			st.mu.Unlock()
			continue
		}
		if !st.seeded {
			d.seedLocked(ctx, st, e, subject)
		}
		alerts := d.countLocked(st, e)
		if e.Timestamp.After(st.lastSeen) {
			st.lastSeen = e.Timestamp
		}
		st.mu.Unlock()
		return alerts
	}
}

func (d *Detector) state(subject string) *subjectState {
	if v, ok := d.subjects.Load(subject); ok {
		return v.(*subjectState)
	}
	v, loaded := d.subjects.LoadOrStore(subject, &subjectState{windows: make([]window, len(d.patterns))})
	if !loaded {
		d.subjectCount.Add(1)
	}
	return v.(*subjectState)
}

// seedLocked loads the subject's recent matching history so windows survive
// a restart. Events logged concurrently are either in the history or added
// by their own Observe; add drops the overlap by id.
func (d *Detector) seedLocked(ctx context.Context, st *subjectState, e *audit.Event, subject string) {
	st.seeded = true
	filter := audit.Filter{ActorID: e.ActorID, Start: e.Timestamp.Add(-d.maxWindow), End: e.Timestamp}
	history := d.events.GetEvents(ctx, filter, d.scanLimit)
	for i := range history {
		h := &history[i]
		if h.ID == e.ID || subjectOf(h) != subject {
			continue
		}
		for j := range d.patterns {
			p := &d.patterns[j]
			if p.matches(h.Type) && !h.Timestamp.Before(e.Timestamp.Add(-p.Window)) {
				st.windows[j].add(h.ID, h.Timestamp)
			}
		}
	}
}

func (d *Detector) countLocked(st *subjectState, e *audit.Event) []Alert {
	var alerts []Alert
	for i := range d.patterns {
		p := &d.patterns[i]
		if !p.matches(e.Type) {
			continue
		}
		w := &st.windows[i]
		if w.fired && !e.Timestamp.After(w.last) {
			// Already counted toward an earlier firing, or re-observed.
			continue
		}
		w.add(e.ID, e.Timestamp)
		w.prune(e.Timestamp.Add(-p.Window))

		count := 0
		for _, en := range w.entries {
			if !en.ts.After(e.Timestamp) {
				count++
			}
		}
		if count < p.Threshold {
			continue
		}

		w.fired = true
		w.last = e.Timestamp
		w.prune(e.Timestamp.Add(-p.Window))

		alerts = append(alerts, Alert{
			Kind:              AlertKindPattern,
			Pattern:           p.Name,
			Level:             p.Level,
			ActorID:           e.ActorID,
			Source:            e.Source,
			Resource:          e.Resource,
			TriggeringEventID: e.ID,
			Count:             count,
			Window:            p.Window,
			DetectedAt:        e.Timestamp,
		})
	}
	return alerts
}

func (w *window) add(id string, ts time.Time) {
	for _, en := range w.entries {
		if en.id == id {
			return
		}
	}
	w.entries = append(w.entries, windowEntry{id: id, ts: ts})
}

// prune drops entries before since and, once the pattern has fired, entries
// at or before the firing event.
func (w *window) prune(since time.Time) {
	kept := w.entries[:0]
	for _, en := range w.entries {
		if en.ts.Before(since) || (w.fired && !en.ts.After(w.last)) {
			continue
		}
		kept = append(kept, en)
	}
	clear(w.entries[len(kept):])
	w.entries = kept
}

// escalate writes the suspicious_activity event and hands the alert to the
// sinks. Runs without any subject locked since the trail calls observers
// again.
func (d *Detector) escalate(ctx context.Context, a Alert) {
	a.EventID = d.logger.Log(ctx, audit.Event{
		Type:        audit.EventSuspiciousActivity,
		ActorID:     a.ActorID,
		Source:      a.Source,
		Resource:    a.Resource,
		Action:      "threat_detected",
		Result:      audit.ResultDetected,
		ThreatLevel: a.Level,
		Details: map[string]any{
			"pattern":             a.Pattern,
			"triggering_event_id": a.TriggeringEventID,
			"count":               a.Count,
			"window_seconds":      int(a.Window.Seconds()),
		},
	})

	DetectionAlertsTotal.WithLabelValues(a.Pattern, string(a.Level)).Inc()
	logging.Warn().
		Str("pattern", a.Pattern).
		Str("actor_id", a.ActorID).
		Str("source", a.Source).
		Str("triggering_event_id", a.TriggeringEventID).
		Int("count", a.Count).
		Msg("Suspicious activity detected")

	d.notify(ctx, a)
}

// raise hands a rule alert to the sinks without writing an audit event.
func (d *Detector) raise(ctx context.Context, a Alert) {
	DetectionAlertsTotal.WithLabelValues(a.Pattern, string(a.Level)).Inc()
	logging.Warn().
		Str("rule", a.Pattern).
		Str("level", string(a.Level)).
		Str("actor_id", a.ActorID).
		Str("source", a.Source).
		Str("event_id", a.EventID).
		Msg("Alert rule matched")

	d.notify(ctx, a)
}

// notify delivers the alert to every enabled sink in the background. The
// request context may end before delivery, so cancellation is detached and
// each delivery gets its own timeout.
func (d *Detector) notify(ctx context.Context, a Alert) {
	base := context.WithoutCancel(ctx)
	for _, sink := range d.sinks {
		if !sink.Enabled() {
			continue
		}
		d.wg.Add(1)
		go func(s AlertSink) {
			defer d.wg.Done()
			sendCtx, cancel := context.WithTimeout(base, d.notifyTimeout)
			defer cancel()
			if err := s.Send(sendCtx, a); err != nil {
				DetectionNotificationErrorsTotal.WithLabelValues(s.Name()).Inc()
				logging.Error().Err(err).Str("sink", s.Name()).Str("pattern", a.Pattern).Msg("Failed to send alert")
			}
		}(sink)
	}
}

// Wait blocks until in-flight alert deliveries finish.
func (d *Detector) Wait() {
	d.wg.Wait()
}

// RunWithContext waits for shutdown and then for pending deliveries.
func (d *Detector) RunWithContext(ctx context.Context) error {
	logging.Info().Int("patterns", len(d.patterns)).Int("rules", len(d.rules)).Int("sinks", len(d.sinks)).
		Msg("Threat detector started")
	<-ctx.Done()
	d.Wait()
	logging.Info().Msg("Threat detector stopped")
	return ctx.Err()
}

// sweep forgets subjects idle for longer than the widest window once enough
// are tracked. Busy subjects are skipped.
func (d *Detector) sweep(now time.Time) {
	if d.subjectCount.Load() < pruneThreshold || !d.sweepMu.TryLock() {
		return
	}
	defer d.sweepMu.Unlock()

	cutoff := now.Add(-d.maxWindow)
	d.subjects.Range(func(key, value any) bool {
		st := value.(*subjectState)
		if !st.mu.TryLock() {
			return true
		}
		if st.seeded && st.lastSeen.Before(cutoff) {
			st.dead = true
			d.subjects.Delete(key)
			d.subjectCount.Add(-1)
		}
		st.mu.Unlock()
		return true
	})
}

// subjectOf identifies who an event is attributed to: the actor, or the
// source address when the actor is anonymous.
func subjectOf(e *audit.Event) string {
	if e.ActorID != "" {
		return "actor:" + e.ActorID
	}
	if e.Source != "" {
		return "source:" + e.Source
	}
	return ""
}
