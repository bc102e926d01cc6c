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

package types

import "errors"

// ErrCacheNotInitialized 缓存未初始化
var ErrCacheNotInitialized = errors.New("cache not initialized")

// Cache is the key-value store the route resolver keeps descriptors in.
// Implementations must be safe for concurrent use.
type Cache interface {
	// Set stores value under key. ttl is a duration string such as "30s" or "10m";
	// an empty ttl never expires.
	Set(key string, value interface{}, ttl string) error
	// Get returns the value, or nil when the key is absent or expired.
	Get(key string) interface{}
	Has(key string) bool
	Delete(key string) error
	// DeleteByPrefix removes every key starting with prefix.
	DeleteByPrefix(prefix string) error
	GetByPrefix(prefix string) map[string]interface{}
}
