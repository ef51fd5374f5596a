// ToyGuard - Access Control and Security Audit for Connected Toys
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/toyguard

package audit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

// Key layout:
//
//	audit:evt:<16 hex digit unix nanos>:<id>  -> event JSON
//	audit:id:<id>                             -> primary key
//
// The fixed-width timestamp keeps event keys in chronological order, so
// newest-first queries are a reverse prefix scan.
const (
	eventKeyPrefix = "audit:evt:"
	idKeyPrefix    = "audit:id:"
	tsHexLen       = 16

	// saveChunkSize bounds the events written per transaction.
	saveChunkSize = 256
)

// BadgerStore is a durable Store on BadgerDB.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore creates a store on an open database.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func tsKey(ts time.Time) string {
	ns := ts.UnixNano()
	if ns < 0 {
		ns = 0
	}
	return fmt.Sprintf("%016x", uint64(ns))
}

func eventKey(e *Event) []byte {
	return []byte(eventKeyPrefix + tsKey(e.Timestamp) + ":" + e.ID)
}

func keyTime(key []byte) (time.Time, bool) {
	if len(key) < len(eventKeyPrefix)+tsHexLen {
		return time.Time{}, false
	}
	ns, err := strconv.ParseUint(string(key[len(eventKeyPrefix):len(eventKeyPrefix)+tsHexLen]), 16, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(0, int64(ns)), true
}

// Save implements Store. Events already stored under the same id are
// replaced.
func (s *BadgerStore) Save(ctx context.Context, events []Event) error {
	for len(events) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := min(len(events), saveChunkSize)
		if err := s.saveChunk(events[:n]); err != nil {
			return err
		}
		events = events[n:]
	}
	return nil
}

func (s *BadgerStore) saveChunk(events []Event) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for i := range events {
			e := &events[i]
			data, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("marshal event %s: %w", e.ID, err)
			}

			key := eventKey(e)
			idKey := []byte(idKeyPrefix + e.ID)

			item, err := txn.Get(idKey)
			switch {
			case err == nil:
				old, verr := item.ValueCopy(nil)
				if verr != nil {
					return fmt.Errorf("read id index %s: %w", e.ID, verr)
				}
				if string(old) != string(key) {
					if err := txn.Delete(old); err != nil {
						return fmt.Errorf("delete replaced event %s: %w", e.ID, err)
					}
				}
			case !errors.Is(err, badger.ErrKeyNotFound):
				return fmt.Errorf("lookup event %s: %w", e.ID, err)
			}

			if err := txn.Set(key, data); err != nil {
				return fmt.Errorf("set event %s: %w", e.ID, err)
			}
			if err := txn.Set(idKey, key); err != nil {
				return fmt.Errorf("set id index %s: %w", e.ID, err)
			}
		}
		return nil
	})
}

// Query implements Store.
func (s *BadgerStore) Query(ctx context.Context, filter Filter, limit int) ([]Event, error) {
	var out []Event
	prefix := []byte(eventKeyPrefix)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := append([]byte(eventKeyPrefix), 0xff)
		if !filter.End.IsZero() {
			seek = append([]byte(eventKeyPrefix+tsKey(filter.End)+":"), 0xff)
		}

		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			if ts, ok := keyTime(item.Key()); ok && !filter.Start.IsZero() && ts.Before(filter.Start) {
				break
			}

			var e Event
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				return fmt.Errorf("decode event %s: %w", item.Key(), err)
			}
			if !filter.Matches(&e) {
				continue
			}
			out = append(out, e)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	return out, nil
}

// Delete implements Store.
func (s *BadgerStore) Delete(ctx context.Context, olderThan time.Time) (int, error) {
	var keys [][]byte
	var ids []string
	prefix := []byte(eventKeyPrefix)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			key := it.Item().KeyCopy(nil)
			ts, ok := keyTime(key)
			if !ok {
				continue
			}
			if !ts.Before(olderThan) {
				break
			}
			keys = append(keys, key)
			ids = append(ids, string(key[len(eventKeyPrefix)+tsHexLen+1:]))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan expired audit events: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for i, key := range keys {
		if err := wb.Delete(key); err != nil {
			return 0, fmt.Errorf("delete audit event: %w", err)
		}
		if err := wb.Delete([]byte(idKeyPrefix + ids[i])); err != nil {
			return 0, fmt.Errorf("delete audit id index: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("flush audit deletes: %w", err)
	}
	return len(keys), nil
}
