// ToyGuard - Access Control and Security Audit for Connected Toys
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/toyguard

package authz

import (
	"context"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

const userKeyPrefix = "user:"

// BadgerSnapshotStore persists user profiles in BadgerDB.
type BadgerSnapshotStore struct {
	db *badger.DB
}

// NewBadgerSnapshotStore creates a snapshot store on an open database.
func NewBadgerSnapshotStore(db *badger.DB) *BadgerSnapshotStore {
	return &BadgerSnapshotStore{db: db}
}

// SaveUser writes the profile, replacing any earlier version.
func (s *BadgerSnapshotStore) SaveUser(_ context.Context, profile UserProfile) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(userKeyPrefix+profile.ID), data); err != nil {
			return fmt.Errorf("set user: %w", err)
		}
		return nil
	})
}

// LoadUsers returns every stored profile.
func (s *BadgerSnapshotStore) LoadUsers(ctx context.Context) ([]UserProfile, error) {
	var users []UserProfile

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(userKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var p UserProfile
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &p)
			})
			if err != nil {
				return fmt.Errorf("decode user %s: %w", it.Item().Key(), err)
			}
			users = append(users, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return users, nil
}
