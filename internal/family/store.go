// ToyGuard - Access Control and Security Audit for Connected Toys
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/toyguard

// Package family stores the family to child links and emergency contacts
// consulted by resource ownership checks.
package family

import (
	"context"
	"errors"
	"sync"
)

// ErrEmptyID is returned when a family, child or user id is empty.
var ErrEmptyID = errors.New("family: id must not be empty")

// Store is the relationship store. Both implementations satisfy
// authz.RelationshipStore.
type Store interface {
	Link(ctx context.Context, familyID, childID string) error
	Unlink(ctx context.Context, familyID, childID string) error
	IsLinked(ctx context.Context, familyID, childID string) (bool, error)
	AddEmergencyContact(ctx context.Context, userID, childID string) error
	RemoveEmergencyContact(ctx context.Context, userID, childID string) error
	IsEmergencyContact(ctx context.Context, userID, childID string) (bool, error)
}

func checkIDs(ids ...string) error {
	for _, id := range ids {
		if id == "" {
			return ErrEmptyID
		}
	}
	return nil
}

// MemoryStore keeps relationships in process memory.
type MemoryStore struct {
	mu        sync.RWMutex
	children  map[string]map[string]struct{} // family -> children
	emergency map[string]map[string]struct{} // child -> contacts
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		children:  make(map[string]map[string]struct{}),
		emergency: make(map[string]map[string]struct{}),
	}
}

func add(m map[string]map[string]struct{}, key, member string) {
	set, ok := m[key]
	if !ok {
		set = make(map[string]struct{})
		m[key] = set
	}
	set[member] = struct{}{}
}

func remove(m map[string]map[string]struct{}, key, member string) {
	set, ok := m[key]
	if !ok {
		return
	}
	delete(set, member)
	if len(set) == 0 {
		delete(m, key)
	}
}

// Link records childID as a member of familyID.
func (s *MemoryStore) Link(_ context.Context, familyID, childID string) error {
	if err := checkIDs(familyID, childID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	add(s.children, familyID, childID)
	return nil
}

// Unlink removes the link. Removing a missing link is not an error.
func (s *MemoryStore) Unlink(_ context.Context, familyID, childID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	remove(s.children, familyID, childID)
	return nil
}

// IsLinked implements authz.RelationshipStore.
func (s *MemoryStore) IsLinked(_ context.Context, familyID, childID string) (bool, error) {
	if familyID == "" || childID == "" {
		return false, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.children[familyID][childID]
	return ok, nil
}

// AddEmergencyContact lets userID use emergency override for childID.
func (s *MemoryStore) AddEmergencyContact(_ context.Context, userID, childID string) error {
	if err := checkIDs(userID, childID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	add(s.emergency, childID, userID)
	return nil
}

// RemoveEmergencyContact removes the contact.
func (s *MemoryStore) RemoveEmergencyContact(_ context.Context, userID, childID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	remove(s.emergency, childID, userID)
	return nil
}

// IsEmergencyContact implements authz.RelationshipStore.
func (s *MemoryStore) IsEmergencyContact(_ context.Context, userID, childID string) (bool, error) {
	if userID == "" || childID == "" {
		return false, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.emergency[childID][userID]
	return ok, nil
}
