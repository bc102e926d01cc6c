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
	"context"
	"sync"
	"time"

	"github.com/rulego/gateway/api/types"
	"golang.org/x/time/rate"
)

// RateLimiterTable holds one token bucket per target key.
type RateLimiterTable struct {
	mu       sync.RWMutex
	limiters map[string]*limiterEntry
}

type limiterEntry struct {
	policy  types.RateLimitPolicy
	limiter *rate.Limiter
}

// NewRateLimiterTable 创建限流器表
func NewRateLimiterTable() *RateLimiterTable {
	return &RateLimiterTable{limiters: make(map[string]*limiterEntry)}
}

// Wait takes one permit for key. It waits up to policy.WaitTimeout, bounded by
// ctx, and fails with RATE_LIMITED when no permit becomes available in time.
func (t *RateLimiterTable) Wait(ctx context.Context, key string, policy types.RateLimitPolicy) error {
	if policy.PermitsPerSecond <= 0 {
		return nil
	}
	l := t.get(key, policy)
	if policy.WaitTimeout <= 0 {
		if l.Allow() {
			return nil
		}
		return types.NewError(types.KindRateLimited, "rate limit of %g/s exceeded for %s", policy.PermitsPerSecond, key)
	}
	wctx, cancel := context.WithTimeout(ctx, policy.WaitTimeout)
	defer cancel()
	if err := l.Wait(wctx); err != nil {
		if ctx.Err() != nil {
			return types.WrapError(types.KindDeadlineExceeded, ctx.Err(), "waiting for rate limit permit")
		}
		return types.WrapError(types.KindRateLimited, err, "no permit for %s within %s", key, policy.WaitTimeout)
	}
	return nil
}

func (t *RateLimiterTable) get(key string, policy types.RateLimitPolicy) *rate.Limiter {
	t.mu.RLock()
	e, ok := t.limiters[key]
	t.mu.RUnlock()
	if ok && e.matches(policy) {
		return e.limiter
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok = t.limiters[key]; ok && e.matches(policy) {
		return e.limiter
	}
	burst := policy.Burst
	if burst <= 0 {
		burst = 1
	}
	e = &limiterEntry{policy: policy, limiter: rate.NewLimiter(rate.Limit(policy.PermitsPerSecond), burst)}
	t.limiters[key] = e
	return e.limiter
}

// matches ignores WaitTimeout, which does not shape the bucket.
func (e *limiterEntry) matches(p types.RateLimitPolicy) bool {
	return e.policy.PermitsPerSecond == p.PermitsPerSecond && e.policy.Burst == p.Burst
}

// Tokens returns the currently available permits for key, for diagnostics.
func (t *RateLimiterTable) Tokens(key string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if e, ok := t.limiters[key]; ok {
		return e.limiter.TokensAt(time.Now())
	}
	return 0
}
