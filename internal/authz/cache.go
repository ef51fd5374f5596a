// ToyGuard - Access Control and Security Audit for Connected Toys
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/toyguard

package authz

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	defaultCacheTTL  = 30 * time.Second
	defaultCacheSize = 10000

	// indexPruneThreshold bounds how many keys a user's index may collect
	// before keys already expired from the LRU are dropped.
	indexPruneThreshold = 64
)

// cacheKey identifies one access request. The full tuple is kept alongside
// the hash so collisions are detected on lookup.
type cacheKey struct {
	UserID     string
	Permission Permission
	Resource   string
	Context    AccessContext
}

func (k cacheKey) hash() uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(k.UserID)
	_, _ = d.Write([]byte{0, byte(k.Permission), byte(k.Context), 0})
	_, _ = d.WriteString(k.Resource)
	return d.Sum64()
}

type cacheEntry struct {
	key      cacheKey
	decision Decision
}

// DecisionCache memoizes decisions for a short TTL.
//
// Invalidation is write-through: InvalidateUser evicts every entry of the
// user and bumps the user's generation. Set refuses to store a decision
// computed under an older generation, so a decision evaluated before a
// revocation is never cached after it.
type DecisionCache struct {
	lru *expirable.LRU[uint64, cacheEntry]

	mu          sync.Mutex
	generations map[string]uint64
	index       map[string]map[uint64]struct{}
}

// NewDecisionCache creates a cache bounded by size entries with the given TTL.
// Non-positive values fall back to the defaults.
func NewDecisionCache(size int, ttl time.Duration) *DecisionCache {
	if size <= 0 {
		size = defaultCacheSize
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &DecisionCache{
		lru:         expirable.NewLRU[uint64, cacheEntry](size, nil, ttl),
		generations: make(map[string]uint64),
		index:       make(map[string]map[uint64]struct{}),
	}
}

// Generation returns the current generation of userID. Read it before
// loading the user's profile and pass it to Set.
func (c *DecisionCache) Generation(userID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[userID]
}

// Get returns a cached decision for key.
func (c *DecisionCache) Get(key cacheKey) (Decision, bool) {
	entry, ok := c.lru.Get(key.hash())
	if !ok || entry.key != key {
		AuthzCacheMissesTotal.Inc()
		return Decision{}, false
	}
	AuthzCacheHitsTotal.Inc()
	return entry.decision.clone(), true
}

// Set stores d unless userID was invalidated since generation gen.
func (c *DecisionCache) Set(key cacheKey, gen uint64, d Decision) bool {
	h := key.hash()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generations[key.UserID] != gen {
		return false
	}

	d = d.clone()
	d.AuditID = ""
	c.lru.Add(h, cacheEntry{key: key, decision: d})

	keys := c.index[key.UserID]
	if keys == nil {
		keys = make(map[uint64]struct{})
		c.index[key.UserID] = keys
	}
	keys[h] = struct{}{}
	if len(keys) > indexPruneThreshold {
		for k := range keys {
			if !c.lru.Contains(k) {
				delete(keys, k)
			}
		}
	}

	AuthzCacheSize.Set(float64(c.lru.Len()))
	return true
}

// InvalidateUser evicts every cached decision for userID.
func (c *DecisionCache) InvalidateUser(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generations[userID]++
	for h := range c.index[userID] {
		c.lru.Remove(h)
	}
	delete(c.index, userID)

	AuthzCacheInvalidationsTotal.WithLabelValues("user").Inc()
	AuthzCacheSize.Set(float64(c.lru.Len()))
}

// Len returns the number of live entries.
func (c *DecisionCache) Len() int {
	return c.lru.Len()
}
