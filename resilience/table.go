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

package resilience

import (
	"sort"
	"sync"

	"github.com/rulego/gateway/api/types"
)

// BreakerTable holds one breaker per target key. Breakers of different targets
// never share state or locks.
type BreakerTable struct {
	breakers  sync.Map
	conflicts sync.Map
	opts      []BreakerOption
	logger    types.Logger
}

// NewBreakerTable 创建熔断器表，opts应用到每个新建的熔断器
func NewBreakerTable(opts ...BreakerOption) *BreakerTable {
	return &BreakerTable{opts: opts}
}

// SetLogger sets the logger that reports policy conflicts on a shared key.
func (t *BreakerTable) SetLogger(logger types.Logger) *BreakerTable {
	t.logger = logger
	return t
}

// Get returns the breaker for key, creating it on first use.
// The first policy seen for a key wins: routes sharing a target share its
// state, so a differing policy is reported and ignored. Remove the key to
// apply a changed policy.
func (t *BreakerTable) Get(key string, policy types.CircuitBreakerPolicy) *CircuitBreaker {
	v, ok := t.breakers.Load(key)
	if !ok {
		v, _ = t.breakers.LoadOrStore(key, NewCircuitBreaker(key, policy, t.opts...))
	}
	b := v.(*CircuitBreaker)
	if requested := normalize(policy); requested != b.Policy() {
		t.conflict(key, requested)
	}
	return b
}

// conflict logs a differing policy once per key and policy.
func (t *BreakerTable) conflict(key string, requested types.CircuitBreakerPolicy) {
	if t.logger == nil {
		return
	}
	if _, seen := t.conflicts.LoadOrStore(conflictKey{key, requested}, struct{}{}); seen {
		return
	}
	t.logger.Printf("breaker %s: ignoring differing policy %+v, keeping the policy of the first route", key, requested)
}

type conflictKey struct {
	key    string
	policy types.CircuitBreakerPolicy
}

// Lookup returns the breaker for key without creating one.
func (t *BreakerTable) Lookup(key string) (*CircuitBreaker, bool) {
	v, ok := t.breakers.Load(key)
	if !ok {
		return nil, false
	}
	return v.(*CircuitBreaker), true
}

// Remove 删除熔断器，下一次Get按新策略创建
func (t *BreakerTable) Remove(key string) {
	t.breakers.Delete(key)
	t.conflicts.Range(func(k, _ any) bool {
		if k.(conflictKey).key == key {
			t.conflicts.Delete(k)
		}
		return true
	})
}

// States returns the state of every breaker by key.
func (t *BreakerTable) States() map[string]State {
	out := make(map[string]State)
	t.breakers.Range(func(k, v any) bool {
		out[k.(string)] = v.(*CircuitBreaker).State()
		return true
	})
	return out
}

// Keys returns the sorted breaker keys.
func (t *BreakerTable) Keys() []string {
	var keys []string
	t.breakers.Range(func(k, _ any) bool {
		keys = append(keys, k.(string))
		return true
	})
	sort.Strings(keys)
	return keys
}
