// ToyGuard - Access Control and Security Audit for Connected Toys
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/toyguard

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tomtom215/toyguard/internal/audit"
	"github.com/tomtom215/toyguard/internal/authz"
	"github.com/tomtom215/toyguard/internal/family"
)

// =====================================================================
// Test Helpers
// =====================================================================

const (
	adminID  = "admin-1"
	parentID = "parent-1"
	childID  = "child-1"
	familyID = "fam-1"
)

type testServer struct {
	dir      *authz.Directory
	trail    *audit.Trail
	rel      *family.MemoryStore
	registry *prometheus.Registry
	handler  http.Handler
}

// setupServer seeds an admin, a parent and the parent's child. mw may be nil.
func setupServer(t *testing.T, mw *ChiMiddlewareConfig) *testServer {
	t.Helper()

	catalog, err := authz.NewCatalog()
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}
	dir, err := authz.NewDirectory(authz.DirectoryConfig{Catalog: catalog})
	if err != nil {
		t.Fatalf("NewDirectory() error = %v", err)
	}
	rel := family.NewMemoryStore()
	engine, err := authz.NewEngine(authz.EngineConfig{Directory: dir, Relationships: rel})
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	trail := audit.NewTrail(audit.NewMemoryStore(), audit.DefaultConfig(), nil)

	ctx := context.Background()
	for _, nu := range []authz.NewUser{
		{ID: adminID, Role: authz.RoleAdmin},
		{ID: parentID, Role: authz.RoleParent, FamilyID: familyID},
		{ID: childID, Role: authz.RoleChild, FamilyID: familyID, Age: 7},
	} {
		if _, err := dir.CreateUser(ctx, nu); err != nil {
			t.Fatalf("CreateUser(%q) error = %v", nu.ID, err)
		}
	}
	if err := rel.Link(ctx, familyID, childID); err != nil {
		t.Fatalf("Link() error = %v", err)
	}

	if mw == nil {
		mw = DefaultChiMiddlewareConfig()
		mw.RateLimitDisabled = true
	}
	registry := prometheus.NewRegistry()
	router, err := NewRouter(Dependencies{
		Directory:     dir,
		Guard:         authz.NewGuard(engine, trail),
		Trail:         trail,
		Relationships: rel,
	}, RouterConfig{Middleware: mw, Gatherer: registry})
	if err != nil {
		t.Fatalf("NewRouter() error = %v", err)
	}

	return &testServer{
		dir:      dir,
		trail:    trail,
		rel:      rel,
		registry: registry,
		handler:  router.SetupChi(),
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *APIError       `json:"error"`
	Meta    *APIMeta        `json:"meta"`
}

// do sends a request as userID (no identity header when empty). body is
// encoded as JSON unless it is a string, which is sent verbatim.
func (s *testServer) do(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return env
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dst any) envelope {
	t.Helper()
	env := decodeEnvelope(t, rec)
	if !env.Success {
		t.Fatalf("response not successful: %s", rec.Body.String())
	}
	if err := json.Unmarshal(env.Data, dst); err != nil {
		t.Fatalf("decode data %s: %v", env.Data, err)
	}
	return env
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d; body: %s", rec.Code, want, rec.Body.String())
	}
}

func expectErrorCode(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	expectStatus(t, rec, status)
	env := decodeEnvelope(t, rec)
	if env.Success || env.Error == nil {
		t.Fatalf("expected error envelope, got %s", rec.Body.String())
	}
	if env.Error.Code != code {
		t.Errorf("error code = %q, want %q", env.Error.Code, code)
	}
}

// =====================================================================
// Construction
// =====================================================================

func TestNewRouter_RequiresDependencies(t *testing.T) {
	srv := setupServer(t, nil)
	engine, _ := authz.NewEngine(authz.EngineConfig{Directory: srv.dir, Relationships: srv.rel})
	full := Dependencies{
		Directory:     srv.dir,
		Guard:         authz.NewGuard(engine, srv.trail),
		Trail:         srv.trail,
		Relationships: srv.rel,
	}

	tests := []struct {
		name   string
		mutate func(*Dependencies)
	}{
		{"directory", func(d *Dependencies) { d.Directory = nil }},
		{"guard", func(d *Dependencies) { d.Guard = nil }},
		{"trail", func(d *Dependencies) { d.Trail = nil }},
		{"relationships", func(d *Dependencies) { d.Relationships = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := full
			tt.mutate(&deps)
			if _, err := NewRouter(deps, RouterConfig{}); err == nil {
				t.Error("NewRouter() error = nil, want missing dependency error")
			}
		})
	}

	if _, err := NewRouter(full, RouterConfig{}); err != nil {
		t.Errorf("NewRouter() with all dependencies error = %v", err)
	}
}

// =====================================================================
// Health, Metrics and Middleware
// =====================================================================

func TestHealth(t *testing.T) {
	srv := setupServer(t, nil)

	rec := srv.do(t, http.MethodGet, "/healthz", "", nil)
	expectStatus(t, rec, http.StatusOK)

	var health HealthStatus
	env := decodeData(t, rec, &health)
	if health.Status != "healthy" || health.Users != 3 {
		t.Errorf("health = %+v, want healthy with 3 users", health)
	}
	if env.Meta == nil || env.Meta.RequestID == "" {
		t.Fatal("meta.request_id missing")
	}
	if rec.Header().Get(RequestIDHeader) != env.Meta.RequestID {
		t.Errorf("header request id %q != meta %q", rec.Header().Get(RequestIDHeader), env.Meta.RequestID)
	}
}

func TestRequestIDPropagation(t *testing.T) {
	srv := setupServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	rec := httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, req)

	if got := rec.Header().Get(RequestIDHeader); got != "req-123" {
		t.Errorf("X-Request-ID = %q, want req-123", got)
	}
	env := decodeEnvelope(t, rec)
	if env.Meta.RequestID != "req-123" {
		t.Errorf("meta.request_id = %q, want req-123", env.Meta.RequestID)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := setupServer(t, nil)
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "toyguard_test_requests_total",
		Help: "test counter",
	})
	srv.registry.MustRegister(counter)
	counter.Add(3)

	rec := srv.do(t, http.MethodGet, "/metrics", "", nil)
	expectStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), "toyguard_test_requests_total 3") {
		t.Errorf("metrics output missing counter:\n%s", rec.Body.String())
	}
}

func TestSecurityHeaders(t *testing.T) {
	srv := setupServer(t, nil)

	rec := srv.do(t, http.MethodGet, "/api/v1/users", adminID, nil)
	expectStatus(t, rec, http.StatusOK)

	for header, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Cache-Control":          "no-store",
	} {
		if got := rec.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	mw := DefaultChiMiddlewareConfig()
	mw.RateLimitDisabled = true
	mw.CORSAllowedOrigins = []string{"https://console.example"}
	srv := setupServer(t, mw)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/users", nil)
	req.Header.Set("Origin", "https://console.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://console.example" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestRateLimitRecordsAuditEvent(t *testing.T) {
	mw := DefaultChiMiddlewareConfig()
	mw.RateLimitRequests = 2
	mw.RateLimitWindow = time.Minute
	srv := setupServer(t, mw)

	for i := 0; i < 2; i++ {
		expectStatus(t, srv.do(t, http.MethodGet, "/api/v1/users", adminID, nil), http.StatusOK)
	}
	rec := srv.do(t, http.MethodGet, "/api/v1/users", adminID, nil)
	expectErrorCode(t, rec, http.StatusTooManyRequests, ErrCodeTooManyRequests)

	events := srv.trail.GetEvents(context.Background(), audit.Filter{Type: audit.EventRateLimitExceeded}, 10)
	if len(events) != 1 {
		t.Fatalf("rate limit events = %d, want 1", len(events))
	}
	if events[0].ActorID != adminID || events[0].Action != "GET /api/v1/users" {
		t.Errorf("event = %+v", events[0])
	}

	// Health checks have their own budget.
	expectStatus(t, srv.do(t, http.MethodGet, "/healthz", "", nil), http.StatusOK)
}

func TestRequestMetricsUseRoutePattern(t *testing.T) {
	srv := setupServer(t, nil)
	counter := APIRequestsTotal.WithLabelValues(http.MethodPut, "/api/v1/users/{id}/role", "200")
	before := testutil.ToFloat64(counter)

	rec := srv.do(t, http.MethodPut, "/api/v1/users/"+childID+"/role", adminID, ChangeRoleRequest{Role: "guest"})
	expectStatus(t, rec, http.StatusOK)

	if got := testutil.ToFloat64(counter) - before; got != 1 {
		t.Errorf("requests counted = %v, want 1", got)
	}
	if got := testutil.ToFloat64(APIActiveRequests); got != 0 {
		t.Errorf("active requests = %v after completion, want 0", got)
	}
}
