// ToyGuard - Access Control and Security Audit for Connected Toys
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/toyguard

package main

import (
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/toyguard/internal/config"
	"github.com/tomtom215/toyguard/internal/logging"
)

// openStorage opens the BadgerDB shared by the audit store and the user
// snapshots. It returns nil when no path is configured.
func openStorage(cfg config.StorageConfig) (*badger.DB, error) {
	if cfg.Path == "" {
		logging.Warn().Msg("No storage path configured; audit events and users will not survive a restart")
		return nil, nil
	}

	opts := badger.DefaultOptions(cfg.Path)
	opts.SyncWrites = true

	// Reduce logging verbosity
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}
	logging.Info().Str("path", cfg.Path).Msg("BadgerDB storage opened")
	return db, nil
}

func closeStorage(db *badger.DB) {
	if db == nil {
		return
	}
	if err := db.Close(); err != nil {
		logging.Error().Err(err).Msg("Error closing BadgerDB")
	}
}

func storageMode(cfg config.StorageConfig) string {
	if cfg.Path == "" {
		return "memory"
	}
	return "badger"
}
