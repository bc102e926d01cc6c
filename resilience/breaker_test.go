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
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rulego/gateway/api/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingListener struct {
	mu     sync.Mutex
	events []types.Event
}

func (l *recordingListener) OnEvent(e types.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *recordingListener) transitions() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, e := range l.events {
		out = append(out, e.From+">"+e.To)
	}
	return out
}

func testPolicy() types.CircuitBreakerPolicy {
	return types.CircuitBreakerPolicy{
		Enabled:              true,
		FailureRateThreshold: 50,
		WindowSize:           4,
		MinimumCalls:         4,
		OpenDuration:         10 * time.Second,
		HalfOpenTrials:       1,
	}
}

func call(t *testing.T, b *CircuitBreaker, failed bool) {
	p, err := b.Allow()
	require.Nil(t, err)
	if failed {
		b.Failure(p)
	} else {
		b.Success(p)
	}
}

func TestBreakerTripsOnFailureRate(t *testing.T) {
	clock := newFakeClock()
	b := NewCircuitBreaker("backend:REST:http://a", testPolicy(), WithBreakerClock(clock.Now))

	call(t, b, false)
	call(t, b, false)
	call(t, b, true)
	// 未达到最小调用数
	assert.Equal(t, StateClosed, b.State())
	call(t, b, true)
	assert.Equal(t, StateOpen, b.State())

	_, err := b.Allow()
	require.NotNil(t, err)
	assert.True(t, errors.Is(err, types.ErrCircuitOpen))

	clock.Advance(9 * time.Second)
	_, err = b.Allow()
	assert.True(t, errors.Is(err, types.ErrCircuitOpen))
}

func TestBreakerRollingWindow(t *testing.T) {
	b := NewCircuitBreaker("k", testPolicy())
	call(t, b, true)
	call(t, b, false)
	call(t, b, false)
	call(t, b, false)
	calls, failures := b.Counts()
	assert.Equal(t, 4, calls)
	assert.Equal(t, 1, failures)

	// the oldest failure leaves the window
	call(t, b, false)
	calls, failures = b.Counts()
	assert.Equal(t, 4, calls)
	assert.Equal(t, 0, failures)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpen(t *testing.T) {
	clock := newFakeClock()
	listener := &recordingListener{}
	b := NewCircuitBreaker("k", testPolicy(), WithBreakerClock(clock.Now), WithBreakerListener(listener))
	for i := 0; i < 4; i++ {
		call(t, b, true)
	}
	require.Equal(t, StateOpen, b.State())

	clock.Advance(10 * time.Second)
	assert.Equal(t, StateHalfOpen, b.State())
	trial, err := b.Allow()
	require.Nil(t, err)
	// only one trial at a time
	_, err = b.Allow()
	assert.True(t, errors.Is(err, types.ErrCircuitOpen))

	b.Failure(trial)
	assert.Equal(t, StateOpen, b.State())
	// cool-down restarted
	clock.Advance(5 * time.Second)
	_, err = b.Allow()
	assert.True(t, errors.Is(err, types.ErrCircuitOpen))
	clock.Advance(5 * time.Second)
	trial, err = b.Allow()
	require.Nil(t, err)

	b.Success(trial)
	assert.Equal(t, StateClosed, b.State())
	calls, failures := b.Counts()
	assert.Equal(t, 0, calls)
	assert.Equal(t, 0, failures)

	assert.Equal(t, []string{
		"closed>open", "open>half_open", "half_open>open", "open>half_open", "half_open>closed",
	}, listener.transitions())
	for _, e := range listener.events {
		assert.Equal(t, types.ComponentBreaker, e.Component)
		assert.Equal(t, "k", e.BreakerKey)
	}
}

func TestBreakerIgnoreReleasesTrial(t *testing.T) {
	clock := newFakeClock()
	b := NewCircuitBreaker("k", testPolicy(), WithBreakerClock(clock.Now))
	for i := 0; i < 4; i++ {
		call(t, b, true)
	}
	clock.Advance(10 * time.Second)
	trial, err := b.Allow()
	require.Nil(t, err)
	b.Ignore(trial)
	assert.Equal(t, StateHalfOpen, b.State())
	_, err = b.Allow()
	assert.Nil(t, err)
}

func TestBreakerDropsStaleOutcomes(t *testing.T) {
	clock := newFakeClock()
	b := NewCircuitBreaker("k", testPolicy(), WithBreakerClock(clock.Now))
	stale, err := b.Allow()
	require.Nil(t, err)
	for i := 0; i < 4; i++ {
		call(t, b, true)
	}
	clock.Advance(10 * time.Second)
	_, err = b.Allow()
	require.Nil(t, err)

	// admitted while closed, must not close the half-open breaker
	b.Success(stale)
	assert.Equal(t, StateHalfOpen, b.State())
}

func TestBreakerConcurrentOutcomes(t *testing.T) {
	policy := testPolicy()
	policy.WindowSize = 200
	policy.MinimumCalls = 200
	policy.FailureRateThreshold = 100
	b := NewCircuitBreaker("k", policy)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := b.Allow()
			if err != nil {
				return
			}
			if i%2 == 0 {
				b.Failure(p)
			} else {
				b.Success(p)
			}
		}(i)
	}
	wg.Wait()
	calls, failures := b.Counts()
	assert.Equal(t, 100, calls)
	assert.Equal(t, 50, failures)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerReset(t *testing.T) {
	b := NewCircuitBreaker("k", testPolicy())
	for i := 0; i < 4; i++ {
		call(t, b, true)
	}
	require.Equal(t, StateOpen, b.State())
	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	_, err := b.Allow()
	assert.Nil(t, err)
}

func TestBreakerTable(t *testing.T) {
	table := NewBreakerTable()
	a := table.Get("a", testPolicy())
	assert.Same(t, a, table.Get("a", testPolicy()))

	other := table.Get("b", testPolicy())
	for i := 0; i < 4; i++ {
		call(t, other, true)
	}
	// one noisy target does not affect another
	assert.Equal(t, StateOpen, table.States()["b"])
	assert.Equal(t, StateClosed, table.States()["a"])
	assert.Equal(t, []string{"a", "b"}, table.Keys())

	_, ok := table.Lookup("b")
	assert.True(t, ok)
	table.Remove("b")
	_, ok = table.Lookup("b")
	assert.False(t, ok)

	changed := testPolicy()
	changed.OpenDuration = time.Minute
	table.Remove("a")
	replaced := table.Get("a", changed)
	assert.NotSame(t, a, replaced)
	assert.Equal(t, time.Minute, replaced.Policy().OpenDuration)
}

type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) Printf(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintf(format, v...))
}

func TestBreakerTableSharedKeyKeepsState(t *testing.T) {
	logger := &recordingLogger{}
	table := NewBreakerTable().SetLogger(logger)

	first := testPolicy()
	first.WindowSize, first.MinimumCalls = 2, 2
	second := first
	second.OpenDuration = time.Minute

	// two routes on one target alternate with policies that differ only in the cool-down
	for i := 0; i < 4; i++ {
		policy := first
		if i%2 == 1 {
			policy = second
		}
		b := table.Get("backend:REST:http://orders", policy)
		p, err := b.Allow()
		if i >= 2 {
			assert.Equal(t, types.KindCircuitOpen, types.KindOf(err))
			continue
		}
		require.Nil(t, err)
		b.Failure(p)
	}
	b := table.Get("backend:REST:http://orders", second)
	assert.Equal(t, StateOpen, b.State())
	assert.Equal(t, 10*time.Second, b.Policy().OpenDuration)

	// reported once per differing policy
	logger.mu.Lock()
	defer logger.mu.Unlock()
	require.Len(t, logger.lines, 1)
	assert.Contains(t, logger.lines[0], "backend:REST:http://orders")
}
