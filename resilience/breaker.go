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

// Package resilience provides the per-target circuit breaker, the retry
// executor and the rate limiter table used around backend invocations.
package resilience

import (
	"sync"
	"time"

	"github.com/rulego/gateway/api/types"
)

// State 熔断器状态
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Permit is handed out by Allow and must be settled with exactly one of
// Success, Failure or Ignore.
type Permit struct {
	generation uint64
	trial      bool
}

// BreakerOption configures a circuit breaker.
type BreakerOption func(*CircuitBreaker)

// WithBreakerClock 设置时钟，测试使用
func WithBreakerClock(clock func() time.Time) BreakerOption {
	return func(b *CircuitBreaker) {
		if clock != nil {
			b.clock = clock
		}
	}
}

// WithBreakerListener receives state transitions as events.
func WithBreakerListener(l types.EventListener) BreakerOption {
	return func(b *CircuitBreaker) {
		b.listener = l
	}
}

// CircuitBreaker is a count based rolling window breaker for one backend target.
// Closed calls pass and fill the window. When at least MinimumCalls outcomes are
// recorded and the failure rate reaches the threshold the breaker opens. After
// OpenDuration it admits HalfOpenTrials trial calls: one success closes it with
// the window reset, one failure reopens it and restarts the cool-down.
type CircuitBreaker struct {
	key    string
	policy types.CircuitBreakerPolicy

	mu sync.Mutex
	// window 环形缓冲，true表示失败
	window    []bool
	pos       int
	count     int
	failures  int
	state     State
	changedAt time.Time
	// generation changes on every transition so that late outcomes of calls
	// admitted in an earlier state are dropped.
	generation uint64
	trials     int

	clock    func() time.Time
	listener types.EventListener
}

// NewCircuitBreaker creates a closed breaker. policy must have been validated.
func NewCircuitBreaker(key string, policy types.CircuitBreakerPolicy, opts ...BreakerOption) *CircuitBreaker {
	policy = normalize(policy)
	b := &CircuitBreaker{
		key:    key,
		policy: policy,
		window: make([]bool, policy.WindowSize),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.changedAt = b.clock()
	return b
}

// normalize fills the defaults of an unset policy field.
func normalize(policy types.CircuitBreakerPolicy) types.CircuitBreakerPolicy {
	if policy.WindowSize <= 0 {
		policy.WindowSize = types.DefaultWindowSize
	}
	if policy.MinimumCalls <= 0 || policy.MinimumCalls > policy.WindowSize {
		policy.MinimumCalls = policy.WindowSize
	}
	if policy.FailureRateThreshold <= 0 {
		policy.FailureRateThreshold = types.DefaultFailureRateThreshold
	}
	if policy.OpenDuration <= 0 {
		policy.OpenDuration = types.DefaultOpenDuration
	}
	if policy.HalfOpenTrials <= 0 {
		policy.HalfOpenTrials = types.DefaultHalfOpenTrials
	}
	return policy
}

// Key returns the target key the breaker guards.
func (b *CircuitBreaker) Key() string {
	return b.key
}

// Policy returns the effective policy.
func (b *CircuitBreaker) Policy() types.CircuitBreakerPolicy {
	return b.policy
}

// State returns the current state. An open breaker whose cool-down has elapsed
// is reported as half open.
func (b *CircuitBreaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && !b.clock().Before(b.changedAt.Add(b.policy.OpenDuration)) {
		return StateHalfOpen
	}
	return b.state
}

// Counts returns the number of outcomes and failures in the current window.
func (b *CircuitBreaker) Counts() (calls, failures int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count, b.failures
}

// Allow asks for permission to call the backend. It fails with CIRCUIT_OPEN
// while the breaker is open or all half-open trials are in flight.
func (b *CircuitBreaker) Allow() (Permit, error) {
	b.mu.Lock()
	var tr *transition
	defer func() {
		b.mu.Unlock()
		b.notify(tr)
	}()

	now := b.clock()
	if b.state == StateOpen {
		retryAt := b.changedAt.Add(b.policy.OpenDuration)
		if now.Before(retryAt) {
			return Permit{}, types.NewError(types.KindCircuitOpen,
				"circuit for %s is open, retry after %s", b.key, retryAt.Sub(now).Round(time.Millisecond))
		}
		tr = b.setState(StateHalfOpen, now)
	}
	if b.state == StateHalfOpen {
		if b.trials >= b.policy.HalfOpenTrials {
			return Permit{}, types.NewError(types.KindCircuitOpen,
				"circuit for %s is half open and all %d trials are in flight", b.key, b.policy.HalfOpenTrials)
		}
		b.trials++
		return Permit{generation: b.generation, trial: true}, nil
	}
	return Permit{generation: b.generation}, nil
}

// Success records a successful call.
func (b *CircuitBreaker) Success(p Permit) {
	b.settle(p, false)
}

// Failure records a failed call.
func (b *CircuitBreaker) Failure(p Permit) {
	b.settle(p, true)
}

// Ignore releases a permit without recording an outcome, e.g. when the caller
// cancelled or the failure says nothing about backend health.
func (b *CircuitBreaker) Ignore(p Permit) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p.trial && p.generation == b.generation && b.trials > 0 {
		b.trials--
	}
}

func (b *CircuitBreaker) settle(p Permit, failed bool) {
	b.mu.Lock()
	var tr *transition
	defer func() {
		b.mu.Unlock()
		b.notify(tr)
	}()

	if p.generation != b.generation {
		return
	}
	now := b.clock()
	switch b.state {
	case StateHalfOpen:
		if failed {
			tr = b.setState(StateOpen, now)
		} else {
			tr = b.setState(StateClosed, now)
		}
	case StateClosed:
		b.record(failed)
		if b.count >= b.policy.MinimumCalls && b.failureRate() >= b.policy.FailureRateThreshold {
			tr = b.setState(StateOpen, now)
		}
	}
}

func (b *CircuitBreaker) record(failed bool) {
	if b.count == len(b.window) {
		if b.window[b.pos] {
			b.failures--
		}
	} else {
		b.count++
	}
	b.window[b.pos] = failed
	if failed {
		b.failures++
	}
	b.pos = (b.pos + 1) % len(b.window)
}

func (b *CircuitBreaker) failureRate() float64 {
	if b.count == 0 {
		return 0
	}
	return float64(b.failures) * 100 / float64(b.count)
}

// Reset forces the breaker back to closed with an empty window.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	var tr *transition
	if b.state != StateClosed {
		tr = b.setState(StateClosed, b.clock())
	} else {
		b.resetWindow()
	}
	b.mu.Unlock()
	b.notify(tr)
}

func (b *CircuitBreaker) resetWindow() {
	for i := range b.window {
		b.window[i] = false
	}
	b.pos, b.count, b.failures = 0, 0, 0
}

type transition struct {
	from, to State
	at       time.Time
}

// setState must be called with the lock held.
func (b *CircuitBreaker) setState(to State, now time.Time) *transition {
	tr := &transition{from: b.state, to: to, at: now}
	b.state = to
	b.changedAt = now
	b.generation++
	b.trials = 0
	if to == StateClosed {
		b.resetWindow()
	}
	return tr
}

func (b *CircuitBreaker) notify(tr *transition) {
	if tr == nil || b.listener == nil {
		return
	}
	b.listener.OnEvent(types.Event{
		Component:  types.ComponentBreaker,
		Outcome:    types.OutcomeTransition,
		BreakerKey: b.key,
		From:       tr.from.String(),
		To:         tr.to.String(),
		Time:       tr.at,
	})
}
