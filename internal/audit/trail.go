// ToyGuard - Access Control and Security Audit for Connected Toys
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/toyguard

package audit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/toyguard/internal/logging"
)

// Config holds audit trail settings.
type Config struct {
	// BufferSize is the number of pending events that triggers a flush.
	BufferSize int
	// MaxPending caps unflushed events kept while the store is failing.
	// The oldest are dropped beyond it.
	MaxPending int
	// FlushInterval is the periodic flush cadence.
	FlushInterval time.Duration
	// FlushTimeout bounds a single store write.
	FlushTimeout time.Duration

	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	MaxRetries           int

	// BreakerFailureThreshold consecutive failures open the store breaker.
	BreakerFailureThreshold uint32
	BreakerTimeout          time.Duration

	// RetentionDays of zero keeps events forever.
	RetentionDays   int
	CleanupInterval time.Duration

	// SummaryScanLimit caps events read for one security summary.
	SummaryScanLimit int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		BufferSize:              1000,
		MaxPending:              50000,
		FlushInterval:           60 * time.Second,
		FlushTimeout:            10 * time.Second,
		RetryInitialInterval:    500 * time.Millisecond,
		RetryMaxInterval:        10 * time.Second,
		MaxRetries:              5,
		BreakerFailureThreshold: 5,
		BreakerTimeout:          30 * time.Second,
		RetentionDays:           90,
		CleanupInterval:         24 * time.Hour,
		SummaryScanLimit:        10000,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.BufferSize <= 0 {
		c.BufferSize = def.BufferSize
	}
	if c.MaxPending < c.BufferSize {
		c.MaxPending = c.BufferSize * 50
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = def.FlushInterval
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = def.FlushTimeout
	}
	if c.RetryInitialInterval <= 0 {
		c.RetryInitialInterval = def.RetryInitialInterval
	}
	if c.RetryMaxInterval <= 0 {
		c.RetryMaxInterval = def.RetryMaxInterval
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BreakerFailureThreshold == 0 {
		c.BreakerFailureThreshold = def.BreakerFailureThreshold
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = def.BreakerTimeout
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = def.CleanupInterval
	}
	if c.SummaryScanLimit <= 0 {
		c.SummaryScanLimit = def.SummaryScanLimit
	}
}

// DefaultQueryLimit applies when GetEvents is called with a non-positive limit.
const DefaultQueryLimit = 100

// Trail is the append-only audit log. Appends go to an in-memory buffer
// that a background loop flushes to the Store. Pending events are visible
// to queries until the store has accepted them.
type Trail struct {
	cfg     Config
	store   Store
	breaker *gobreaker.CircuitBreaker[struct{}]
	now     func() time.Time

	mu         sync.Mutex
	pending    []Event
	pendingIDs map[string]struct{}

	flushMu sync.Mutex
	flushCh chan struct{}

	observerMu sync.RWMutex
	observers  []Observer
}

// NewTrail creates a trail on store. now may be nil.
func NewTrail(store Store, cfg Config, now func() time.Time) *Trail {
	cfg.applyDefaults()
	if now == nil {
		now = time.Now
	}

	t := &Trail{
		cfg:        cfg,
		store:      store,
		now:        now,
		pendingIDs: make(map[string]struct{}),
		flushCh:    make(chan struct{}, 1),
	}
	t.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "audit-store",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Audit store circuit breaker state changed")
			AuditBreakerState.Set(float64(to))
		},
	})
	return t
}

// Subscribe registers an observer called after every append.
func (t *Trail) Subscribe(o Observer) {
	t.observerMu.Lock()
	defer t.observerMu.Unlock()
	t.observers = append(t.observers, o)
}

// Log appends an event and returns its id. Missing timestamp, id, result,
// threat level and compliance flags are derived. Logging an event whose id
// is already pending is a no-op that returns the same id.
func (t *Trail) Log(ctx context.Context, e Event) string {
	enrich(&e, t.now())
	if e.Details != nil {
		details := make(map[string]any, len(e.Details))
		for k, v := range e.Details {
			details[k] = v
		}
		e.Details = details
	}

	t.mu.Lock()
	if _, dup := t.pendingIDs[e.ID]; dup {
		t.mu.Unlock()
		AuditDuplicatesTotal.Inc()
		return e.ID
	}
	t.pending = append(t.pending, e)
	t.pendingIDs[e.ID] = struct{}{}
	dropped := t.enforceCapLocked()
	depth := len(t.pending)
	t.mu.Unlock()

	AuditEventsTotal.WithLabelValues(string(e.Type), string(e.ThreatLevel)).Inc()
	AuditPendingEvents.Set(float64(depth))
	if dropped > 0 {
		logging.Error().Int("dropped", dropped).Int("max_pending", t.cfg.MaxPending).
			Msg("Audit buffer full, dropped oldest unflushed events")
	}
	if depth >= t.cfg.BufferSize {
		select {
		case t.flushCh <- struct{}{}:
		default:
		}
	}

	t.observerMu.RLock()
	observers := t.observers
	t.observerMu.RUnlock()
	for _, o := range observers {
		o.Observe(ctx, e)
	}

	return e.ID
}

// enforceCapLocked drops the oldest pending events beyond MaxPending.
func (t *Trail) enforceCapLocked() int {
	over := len(t.pending) - t.cfg.MaxPending
	if over <= 0 {
		return 0
	}
	for _, e := range t.pending[:over] {
		delete(t.pendingIDs, e.ID)
	}
	t.pending = append([]Event(nil), t.pending[over:]...)
	AuditDroppedTotal.Add(float64(over))
	return over
}

// Pending returns the number of unflushed events.
func (t *Trail) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Flush writes every pending event to the store. On failure the events stay
// pending and the error is returned for logging only.
func (t *Trail) Flush(ctx context.Context) error {
	t.flushMu.Lock()
	defer t.flushMu.Unlock()

	t.mu.Lock()
	batch := append([]Event(nil), t.pending...)
	t.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}

	start := time.Now()
	if err := t.save(ctx, batch); err != nil {
		AuditFlushesTotal.WithLabelValues("failure").Inc()
		return fmt.Errorf("flush %d audit events: %w", len(batch), err)
	}
	AuditFlushesTotal.WithLabelValues("success").Inc()
	AuditFlushDuration.Observe(time.Since(start).Seconds())

	saved := make(map[string]struct{}, len(batch))
	for _, e := range batch {
		saved[e.ID] = struct{}{}
	}

	t.mu.Lock()
	kept := t.pending[:0]
	for _, e := range t.pending {
		if _, ok := saved[e.ID]; ok {
			delete(t.pendingIDs, e.ID)
			continue
		}
		kept = append(kept, e)
	}
	t.pending = kept
	depth := len(t.pending)
	t.mu.Unlock()

	AuditPendingEvents.Set(float64(depth))
	logging.Debug().Int("events", len(batch)).Dur("duration", time.Since(start)).Msg("Audit buffer flushed")
	return nil
}

// save writes batch through the circuit breaker, retrying with exponential
// backoff while the breaker stays closed.
func (t *Trail) save(ctx context.Context, batch []Event) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = t.cfg.RetryInitialInterval
	policy.MaxInterval = t.cfg.RetryMaxInterval
	policy.MaxElapsedTime = 0

	op := func() error {
		_, err := t.breaker.Execute(func() (struct{}, error) {
			saveCtx, cancel := context.WithTimeout(ctx, t.cfg.FlushTimeout)
			defer cancel()
			return struct{}{}, t.store.Save(saveCtx, batch)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(err)
		}
		if err != nil {
			AuditStoreErrorsTotal.Inc()
		}
		return err
	}

	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(t.cfg.MaxRetries)), ctx))
}

// RunWithContext flushes on the interval and whenever the buffer fills,
// and prunes expired events. It flushes once more on shutdown.
func (t *Trail) RunWithContext(ctx context.Context) error {
	ticker := time.NewTicker(t.cfg.FlushInterval)
	defer ticker.Stop()

	var cleanup <-chan time.Time
	if t.cfg.RetentionDays > 0 {
		cleanupTicker := time.NewTicker(t.cfg.CleanupInterval)
		defer cleanupTicker.Stop()
		cleanup = cleanupTicker.C
	}

	logging.Info().
		Int("buffer_size", t.cfg.BufferSize).
		Dur("flush_interval", t.cfg.FlushInterval).
		Msg("Audit trail started")

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), t.cfg.FlushTimeout)
			if err := t.Flush(shutdownCtx); err != nil {
				logging.Err(err).Int("pending", t.Pending()).Msg("Final audit flush failed")
			}
			cancel()
			return ctx.Err()
		case <-ticker.C:
			t.flushAndLog(ctx)
		case <-t.flushCh:
			t.flushAndLog(ctx)
		case <-cleanup:
			t.prune(ctx)
		}
	}
}

func (t *Trail) flushAndLog(ctx context.Context) {
	if err := t.Flush(ctx); err != nil && ctx.Err() == nil {
		logging.Warn().Err(err).Int("pending", t.Pending()).Msg("Audit flush failed, events kept for retry")
	}
}

func (t *Trail) prune(ctx context.Context) {
	cutoff := t.now().AddDate(0, 0, -t.cfg.RetentionDays)
	n, err := t.store.Delete(ctx, cutoff)
	if err != nil {
		logging.Warn().Err(err).Msg("Audit retention cleanup failed")
		return
	}
	if n > 0 {
		logging.Info().Int("deleted", n).Time("cutoff", cutoff).Msg("Pruned expired audit events")
	}
}

// GetEvents returns events matching filter from both the buffer and the
// store, newest first. A store failure degrades to buffer-only results.
func (t *Trail) GetEvents(ctx context.Context, filter Filter, limit int) []Event {
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	t.mu.Lock()
	merged := make([]Event, 0, len(t.pending))
	for i := range t.pending {
		if filter.Matches(&t.pending[i]) {
			merged = append(merged, t.pending[i])
		}
	}
	t.mu.Unlock()

	seen := make(map[string]struct{}, len(merged))
	for _, e := range merged {
		seen[e.ID] = struct{}{}
	}

	stored, err := t.store.Query(ctx, filter, limit)
	if err != nil {
		AuditStoreErrorsTotal.Inc()
		logging.Warn().Err(err).Msg("Audit store query failed, returning buffered events only")
	}
	for _, e := range stored {
		if _, dup := seen[e.ID]; dup {
			continue
		}
		seen[e.ID] = struct{}{}
		merged = append(merged, e)
	}

	sortNewestFirst(merged)
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}

// GetSecuritySummary aggregates the trailing hours of events.
func (t *Trail) GetSecuritySummary(ctx context.Context, hours int) Summary {
	if hours <= 0 {
		hours = 24
	}
	start := t.now().Add(-time.Duration(hours) * time.Hour)
	events := t.GetEvents(ctx, Filter{Start: start}, t.cfg.SummaryScanLimit)
	if len(events) == t.cfg.SummaryScanLimit {
		logging.Warn().Int("limit", t.cfg.SummaryScanLimit).Msg("Security summary truncated at scan limit")
	}

	s := Summary{
		PeriodHours:  hours,
		TotalEvents:  len(events),
		EventTypes:   make(map[EventType]int),
		ThreatLevels: make(map[ThreatLevel]int),
	}
	users := make(map[string]struct{})
	sources := make(map[string]struct{})
	for i := range events {
		e := &events[i]
		s.EventTypes[e.Type]++
		s.ThreatLevels[e.ThreatLevel]++
		if e.ActorID != "" {
			users[e.ActorID] = struct{}{}
		}
		if e.Source != "" {
			sources[e.Source] = struct{}{}
		}
		if e.Failed() {
			s.FailedEvents++
		}
	}
	s.UniqueUsers = len(users)
	s.UniqueSources = len(sources)
	return s
}

func sortNewestFirst(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].Timestamp.After(events[j].Timestamp)
		}
		return events[i].ID > events[j].ID
	})
}
