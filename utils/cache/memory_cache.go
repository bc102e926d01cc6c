/*
 * Copyright 2025 The RuleGo Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package cache provides the in-memory descriptor cache used by the route resolver.
package cache

import (
	"strings"
	"sync"
	"time"

	"github.com/rulego/gateway/api/types"
)

var _ types.Cache = (*MemoryCache)(nil)

// MemoryCache is an in-memory cache with per item expiration.
// Expired items are invisible to readers and removed by a background sweep
// that only runs while expirable items exist.
type MemoryCache struct {
	items      map[string]item
	mu         sync.RWMutex
	stopGc     chan struct{}
	ticker     *time.Ticker
	gcInterval time.Duration
	now        func() time.Time
}

// item expiration is a unix nano timestamp, 0 never expires.
type item struct {
	value      interface{}
	expiration int64
}

// NewMemoryCache creates a cache sweeping expired items every gcInterval (default 5m).
func NewMemoryCache(gcInterval time.Duration) *MemoryCache {
	c := &MemoryCache{
		items:      make(map[string]item),
		stopGc:     make(chan struct{}),
		gcInterval: time.Minute * 5,
		now:        time.Now,
	}
	if gcInterval > 0 {
		c.gcInterval = gcInterval
	}
	return c
}

// WithClock replaces the time source, for tests.
func (c *MemoryCache) WithClock(now func() time.Time) *MemoryCache {
	c.now = now
	return c
}

// Set stores value under key. ttl is a duration string ("10m"); empty or "0" never expires.
func (c *MemoryCache) Set(key string, value interface{}, ttl string) error {
	var dur time.Duration
	if ttl != "" {
		var err error
		if dur, err = time.ParseDuration(ttl); err != nil {
			return err
		}
	}
	var expiration int64
	if dur > 0 {
		expiration = c.now().Add(dur).UnixNano()
	}

	c.mu.Lock()
	c.items[key] = item{value: value, expiration: expiration}
	shouldStartGC := expiration > 0 && c.ticker == nil
	c.mu.Unlock()

	if shouldStartGC {
		c.StartGC()
	}
	return nil
}

func (c *MemoryCache) expired(it item) bool {
	return it.expiration > 0 && c.now().UnixNano() > it.expiration
}

// Get returns the value or nil when absent or expired.
func (c *MemoryCache) Get(key string) interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	it, found := c.items[key]
	if !found || c.expired(it) {
		return nil
	}
	return it.value
}

func (c *MemoryCache) Has(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	it, found := c.items[key]
	return found && !c.expired(it)
}

func (c *MemoryCache) Delete(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
	return nil
}

// DeleteByPrefix removes all items whose key starts with prefix.
func (c *MemoryCache) DeleteByPrefix(prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.items {
		if strings.HasPrefix(k, prefix) {
			delete(c.items, k)
		}
	}
	return nil
}

// GetByPrefix returns the live items whose key starts with prefix.
func (c *MemoryCache) GetByPrefix(prefix string) map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make(map[string]interface{})
	for k, v := range c.items {
		if strings.HasPrefix(k, prefix) && !c.expired(v) {
			result[k] = v.value
		}
	}
	return result
}

// Len 当前条目数，包括尚未清理的过期条目
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// StartGC starts the sweep goroutine if it is not running and expirable items exist.
func (c *MemoryCache) StartGC() {
	c.mu.Lock()
	if c.ticker != nil {
		c.mu.Unlock()
		return
	}
	hasExpirable := false
	for _, it := range c.items {
		if it.expiration > 0 {
			hasExpirable = true
			break
		}
	}
	if !hasExpirable {
		c.mu.Unlock()
		return
	}
	ticker := time.NewTicker(c.gcInterval)
	stop := make(chan struct{})
	c.ticker = ticker
	c.stopGc = stop
	c.mu.Unlock()

	go func() {
		for {
			select {
			case <-ticker.C:
				c.deleteExpired()
			case <-stop:
				ticker.Stop()
				c.mu.Lock()
				if c.ticker == ticker {
					c.ticker = nil
				}
				c.mu.Unlock()
				return
			}
		}
	}()
}

// StopGC stops the sweep goroutine. Safe to call more than once.
func (c *MemoryCache) StopGC() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ticker == nil {
		return
	}
	select {
	case <-c.stopGc:
	default:
		close(c.stopGc)
	}
}

// deleteExpired collects expired keys under the read lock, then deletes them
// under the write lock after re-checking, and stops the sweep when nothing can expire.
func (c *MemoryCache) deleteExpired() {
	now := c.now().UnixNano()
	c.mu.RLock()
	var expiredKeys []string
	for k, v := range c.items {
		if v.expiration > 0 && now > v.expiration {
			expiredKeys = append(expiredKeys, k)
		}
	}
	c.mu.RUnlock()

	hasExpirable := false
	c.mu.Lock()
	for _, k := range expiredKeys {
		if it, found := c.items[k]; found && it.expiration > 0 && now > it.expiration {
			delete(c.items, k)
		}
	}
	for _, it := range c.items {
		if it.expiration > 0 {
			hasExpirable = true
			break
		}
	}
	c.mu.Unlock()

	if !hasExpirable {
		c.StopGC()
	}
}

// NamespaceCache prefixes every key of an underlying cache, so that several
// kinds of descriptors can share one cache and be invalidated separately.
type NamespaceCache struct {
	Cache     types.Cache
	Namespace string
}

var _ types.Cache = (*NamespaceCache)(nil)

// NewNamespaceCache returns nil when cache is nil.
func NewNamespaceCache(cache types.Cache, namespace string) *NamespaceCache {
	if cache == nil {
		return nil
	}
	return &NamespaceCache{Cache: cache, Namespace: namespace}
}

func (c *NamespaceCache) Set(key string, value interface{}, ttl string) error {
	if c == nil || c.Cache == nil {
		return types.ErrCacheNotInitialized
	}
	return c.Cache.Set(c.Namespace+key, value, ttl)
}

func (c *NamespaceCache) Get(key string) interface{} {
	if c == nil || c.Cache == nil {
		return nil
	}
	return c.Cache.Get(c.Namespace + key)
}

func (c *NamespaceCache) Has(key string) bool {
	if c == nil || c.Cache == nil {
		return false
	}
	return c.Cache.Has(c.Namespace + key)
}

func (c *NamespaceCache) Delete(key string) error {
	if c == nil || c.Cache == nil {
		return types.ErrCacheNotInitialized
	}
	return c.Cache.Delete(c.Namespace + key)
}

func (c *NamespaceCache) DeleteByPrefix(prefix string) error {
	if c == nil || c.Cache == nil {
		return types.ErrCacheNotInitialized
	}
	return c.Cache.DeleteByPrefix(c.Namespace + prefix)
}

// GetByPrefix returns matches keyed without the namespace.
func (c *NamespaceCache) GetByPrefix(prefix string) map[string]interface{} {
	if c == nil || c.Cache == nil {
		return nil
	}
	result := make(map[string]interface{})
	for k, v := range c.Cache.GetByPrefix(c.Namespace + prefix) {
		result[strings.TrimPrefix(k, c.Namespace)] = v
	}
	return result
}

// Clear removes every key of the namespace.
func (c *NamespaceCache) Clear() error {
	return c.DeleteByPrefix("")
}
