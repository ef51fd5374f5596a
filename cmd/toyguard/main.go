// ToyGuard - Access Control and Security Audit for Connected Toys
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/toyguard

package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/toyguard/internal/api"
	"github.com/tomtom215/toyguard/internal/audit"
	"github.com/tomtom215/toyguard/internal/authz"
	"github.com/tomtom215/toyguard/internal/config"
	"github.com/tomtom215/toyguard/internal/detection"
	"github.com/tomtom215/toyguard/internal/logging"
	"github.com/tomtom215/toyguard/internal/supervisor"
	"github.com/tomtom215/toyguard/internal/supervisor/services"
)

//nolint:gocyclo // Main initialization function with sequential setup steps
func main() {
	// Load configuration first to get logging settings
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logging.Init(cfg.Logging.LoggerConfig())

	logging.Info().
		Str("addr", cfg.Server.Addr()).
		Str("storage", storageMode(cfg.Storage)).
		Str("relationships", cfg.Relationships.Backend).
		Bool("detection", cfg.Detection.Enabled).
		Msg("Starting ToyGuard")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// === STORAGE ===
	db, err := openStorage(cfg.Storage)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open storage")
	}
	defer closeStorage(db)

	// === ACCESS CONTROL ===
	catalog, err := cfg.Authz.LoadCatalog()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load permission catalog")
	}

	dirCfg := authz.DirectoryConfig{Catalog: catalog}
	var cache *authz.DecisionCache
	if cfg.Authz.CacheSize > 0 {
		cache = authz.NewDecisionCache(cfg.Authz.CacheSize, cfg.Authz.CacheTTL)
		dirCfg.Invalidator = cache
		logging.Info().
			Int("size", cfg.Authz.CacheSize).
			Dur("ttl", cfg.Authz.CacheTTL).
			Msg("Decision cache enabled")
	}
	if db != nil {
		dirCfg.Snapshots = authz.NewBadgerSnapshotStore(db)
	}
	directory, err := authz.NewDirectory(dirCfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create user directory")
	}
	if db != nil {
		restored, err := directory.Restore(ctx)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to restore users")
		}
		logging.Info().Int("users", restored).Msg("User directory restored")
	}

	relationships, closeRelationships, err := initRelationships(ctx, cfg.Relationships)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize relationship store")
	}
	defer closeRelationships()

	engine, err := authz.NewEngine(authz.EngineConfig{
		Directory:     directory,
		Relationships: relationships,
		Cache:         cache,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create access decision engine")
	}

	// === AUDIT AND DETECTION ===
	var store audit.Store = audit.NewMemoryStore()
	if db != nil {
		store = audit.NewBadgerStore(db)
	}
	trail := audit.NewTrail(store, cfg.Audit.TrailConfig(), nil)

	var detector *detection.Detector
	if cfg.Detection.Enabled {
		detector, err = initDetection(trail, cfg.Detection)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to initialize threat detection")
		}
		trail.Subscribe(detector)
	} else {
		logging.Info().Msg("Threat detection disabled (TOYGUARD_DETECTION_ENABLED=false)")
	}

	guard := authz.NewGuard(engine, trail)

	// === SEED DATA ===
	if err := seedUsers(ctx, directory, cfg.Users); err != nil {
		logging.Fatal().Err(err).Msg("Failed to seed users")
	}
	if err := seedRelationships(ctx, relationships, cfg.Relationships); err != nil {
		logging.Fatal().Err(err).Msg("Failed to seed relationships")
	}
	if len(directory.Users()) == 0 {
		logging.Warn().Msg("No users configured; every request will be denied until one is seeded")
	}

	// === HTTP API ===
	mw := api.DefaultChiMiddlewareConfig()
	mw.CORSAllowedOrigins = cfg.Server.CORSOrigins
	mw.RateLimitRequests = cfg.Server.RateLimitReqs
	mw.RateLimitWindow = cfg.Server.RateLimitWindow
	mw.RateLimitDisabled = cfg.Server.RateLimitDisabled
	if cfg.Server.RateLimitDisabled {
		logging.Warn().Msg("Rate limiting is DISABLED (TOYGUARD_DISABLE_RATE_LIMIT=true)")
	}

	router, err := api.NewRouter(api.Dependencies{
		Directory:     directory,
		Guard:         guard,
		Trail:         trail,
		Relationships: relationships,
	}, api.RouterConfig{
		IdentityHeader: cfg.Server.IdentityHeader,
		Middleware:     mw,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create router")
	}

	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router.SetupChi(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	// === SUPERVISOR TREE ===
	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	tree.AddDataService(services.NewAuditTrailService(trail))
	if detector != nil {
		tree.AddSecurityService(services.NewDetectorService(detector))
	}
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	// The channel delivers exactly one value once the root supervisor returns.
	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree error")
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	logging.Info().Msg("ToyGuard stopped gracefully")
}
