// ToyGuard - Access Control and Security Audit for Connected Toys
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/toyguard

package family

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "toyguard:"

// RedisStore keeps relationships in Redis sets:
//
//	toyguard:family:<family id>:children   -> child ids
//	toyguard:child:<child id>:emergency    -> user ids
type RedisStore struct {
	client *redis.Client
}

// NewRedisClient connects to addr and verifies the connection.
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("family: ping redis: %w", err)
	}
	return client, nil
}

// NewRedisStore creates a store on client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func childrenKey(familyID string) string {
	return keyPrefix + "family:" + familyID + ":children"
}

func emergencyKey(childID string) string {
	return keyPrefix + "child:" + childID + ":emergency"
}

// Link records childID as a member of familyID.
func (s *RedisStore) Link(ctx context.Context, familyID, childID string) error {
	if err := checkIDs(familyID, childID); err != nil {
		return err
	}
	if err := s.client.SAdd(ctx, childrenKey(familyID), childID).Err(); err != nil {
		return fmt.Errorf("family: link %s to %s: %w", childID, familyID, err)
	}
	return nil
}

// Unlink removes the link.
func (s *RedisStore) Unlink(ctx context.Context, familyID, childID string) error {
	if err := s.client.SRem(ctx, childrenKey(familyID), childID).Err(); err != nil {
		return fmt.Errorf("family: unlink %s from %s: %w", childID, familyID, err)
	}
	return nil
}

// IsLinked implements authz.RelationshipStore.
func (s *RedisStore) IsLinked(ctx context.Context, familyID, childID string) (bool, error) {
	if familyID == "" || childID == "" {
		return false, nil
	}
	ok, err := s.client.SIsMember(ctx, childrenKey(familyID), childID).Result()
	if err != nil {
		return false, fmt.Errorf("family: check link: %w", err)
	}
	return ok, nil
}

// AddEmergencyContact lets userID use emergency override for childID.
func (s *RedisStore) AddEmergencyContact(ctx context.Context, userID, childID string) error {
	if err := checkIDs(userID, childID); err != nil {
		return err
	}
	if err := s.client.SAdd(ctx, emergencyKey(childID), userID).Err(); err != nil {
		return fmt.Errorf("family: add emergency contact: %w", err)
	}
	return nil
}

// RemoveEmergencyContact removes the contact.
func (s *RedisStore) RemoveEmergencyContact(ctx context.Context, userID, childID string) error {
	if err := s.client.SRem(ctx, emergencyKey(childID), userID).Err(); err != nil {
		return fmt.Errorf("family: remove emergency contact: %w", err)
	}
	return nil
}

// IsEmergencyContact implements authz.RelationshipStore.
func (s *RedisStore) IsEmergencyContact(ctx context.Context, userID, childID string) (bool, error) {
	if userID == "" || childID == "" {
		return false, nil
	}
	ok, err := s.client.SIsMember(ctx, emergencyKey(childID), userID).Result()
	if err != nil {
		return false, fmt.Errorf("family: check emergency contact: %w", err)
	}
	return ok, nil
}
