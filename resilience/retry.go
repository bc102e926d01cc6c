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
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rulego/gateway/api/types"
)

// AttemptFunc performs one backend attempt. attempt is 1-based.
type AttemptFunc func(ctx context.Context, attempt int) error

// RetryObserver is told about every failed attempt that will be retried.
type RetryObserver func(attempt int, err *types.GatewayError, delay time.Duration)

// RetrierOption configures a Retrier.
type RetrierOption func(*Retrier)

// WithRetryClock 设置时钟
func WithRetryClock(clock func() time.Time) RetrierOption {
	return func(r *Retrier) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithSleep replaces the backoff wait. The function must return ctx.Err()
// when ctx ends first.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) RetrierOption {
	return func(r *Retrier) {
		if sleep != nil {
			r.sleep = sleep
		}
	}
}

// WithRandom 设置抖动随机源，返回[0,1)
func WithRandom(random func() float64) RetrierOption {
	return func(r *Retrier) {
		if random != nil {
			r.random = random
		}
	}
}

// Retrier runs an attempt function under a retry policy and a circuit breaker.
type Retrier struct {
	clock  func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	random func() float64
}

// NewRetrier 创建重试执行器
func NewRetrier(opts ...RetrierOption) *Retrier {
	r := &Retrier{
		clock:  time.Now,
		sleep:  sleepContext,
		random: lockedRandom(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Do calls fn until it succeeds, fails terminally or the policy is exhausted.
//
// Before every attempt the remaining deadline of ctx is compared with the
// backoff delay plus the expected attempt duration (the policy's attempt
// timeout, otherwise the duration of the previous attempt). When the attempt
// could not finish in time Do fails with DEADLINE_EXCEEDED without starting it.
// A nil breaker disables circuit breaking; an open breaker stops retrying with
// CIRCUIT_OPEN. Only transient backend faults are retried. When a retryable
// fault is still failing after the last attempt the result is UNRETRYABLE.
//
// The returned count is the number of attempts actually started.
func (r *Retrier) Do(ctx context.Context, policy *types.RetryPolicy, breaker *CircuitBreaker, observe RetryObserver, fn AttemptFunc) (int, error) {
	p := types.RetryPolicy{MaxAttempts: 1}
	if policy != nil {
		p = *policy
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}

	var last *types.GatewayError
	var lastDuration time.Duration
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		var delay time.Duration
		if attempt > 1 {
			delay = Backoff(&p, attempt-1, r.random)
		}
		if err := r.checkDeadline(ctx, &p, delay, lastDuration, attempt, last); err != nil {
			return attempt - 1, err
		}
		if attempt > 1 && observe != nil {
			observe(attempt-1, last, delay)
		}
		if delay > 0 {
			if err := r.sleep(ctx, delay); err != nil {
				return attempt - 1, cancelled(ctx, attempt-1, last)
			}
		}

		var permit Permit
		if breaker != nil {
			var err error
			if permit, err = breaker.Allow(); err != nil {
				ge, _ := types.AsGatewayError(err)
				ge.Attempts = attempt - 1
				if last != nil {
					ge.Err = last
				}
				return attempt - 1, ge
			}
		}

		actx, cancel := ctx, context.CancelFunc(func() {})
		if p.AttemptTimeout > 0 {
			actx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
		}
		start := r.clock()
		err := fn(actx, attempt)
		lastDuration = r.clock().Sub(start)
		attemptTimedOut := actx.Err() == context.DeadlineExceeded && ctx.Err() == nil
		cancel()

		if err == nil {
			if breaker != nil {
				breaker.Success(permit)
			}
			return attempt, nil
		}

		ge := classify(err, attemptTimedOut)
		ge.Attempts = attempt
		if ctx.Err() != nil {
			// 调用方取消不计入熔断统计，超时计为失败
			if breaker != nil {
				if errors.Is(ctx.Err(), context.Canceled) {
					breaker.Ignore(permit)
				} else {
					breaker.Failure(permit)
				}
			}
			return attempt, cancelled(ctx, attempt, ge)
		}
		if breaker != nil {
			if countsAsFailure(ge) {
				breaker.Failure(permit)
			} else {
				breaker.Ignore(permit)
			}
		}
		if !retryable(&p, ge) {
			return attempt, ge
		}
		last = ge
	}
	if p.MaxAttempts == 1 {
		return 1, last
	}
	e := types.WrapError(types.KindUnretryable, last, "giving up after %d attempts", p.MaxAttempts)
	e.Attempts = p.MaxAttempts
	return p.MaxAttempts, e
}

func (r *Retrier) checkDeadline(ctx context.Context, p *types.RetryPolicy, delay, lastDuration time.Duration, attempt int, last *types.GatewayError) error {
	if ctx.Err() != nil {
		return cancelled(ctx, attempt-1, last)
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		return nil
	}
	estimate := p.AttemptTimeout
	if estimate <= 0 {
		estimate = lastDuration
	}
	now := r.clock()
	if !now.Add(delay + estimate).Before(deadline) {
		e := types.NewError(types.KindDeadlineExceeded,
			"attempt %d cannot complete before the deadline (%s left, needs %s)",
			attempt, deadline.Sub(now).Round(time.Millisecond), (delay + estimate).Round(time.Millisecond))
		e.Attempts = attempt - 1
		if last != nil {
			e.Err = last
			e.UpstreamStatus = last.UpstreamStatus
			e.FaultCode = last.FaultCode
			e.FaultDetail = last.FaultDetail
		}
		return e
	}
	return nil
}

// cancelled maps the end of ctx to DEADLINE_EXCEEDED.
func cancelled(ctx context.Context, attempts int, last *types.GatewayError) *types.GatewayError {
	var e *types.GatewayError
	if last != nil {
		e = types.WrapError(types.KindDeadlineExceeded, last, "call ended: %v", ctx.Err())
	} else {
		e = types.WrapError(types.KindDeadlineExceeded, ctx.Err(), "call ended")
	}
	e.Attempts = attempts
	return e
}

// classify turns the attempt error into a GatewayError. An attempt that ran
// out of its own timeout is a transient backend fault.
func classify(err error, attemptTimedOut bool) *types.GatewayError {
	if attemptTimedOut {
		e := types.WrapError(types.KindBackendFault, err, "attempt timed out")
		e.Transient = true
		return e
	}
	if ge, ok := types.AsGatewayError(err); ok {
		c := *ge
		return &c
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return types.WrapError(types.KindDeadlineExceeded, err, "backend call")
	}
	return types.WrapError(types.KindInternalError, err, "backend call")
}

// countsAsFailure reports whether the error says the backend is unhealthy.
// Client errors (4xx other than 408 and 429) are the caller's fault.
func countsAsFailure(ge *types.GatewayError) bool {
	switch ge.Kind {
	case types.KindBackendFault:
		s := ge.UpstreamStatus
		if s >= 400 && s < 500 && s != 408 && s != 429 {
			return false
		}
		return true
	case types.KindDeadlineExceeded:
		return true
	default:
		return false
	}
}

func retryable(p *types.RetryPolicy, ge *types.GatewayError) bool {
	if ge.Kind != types.KindBackendFault {
		return false
	}
	if len(p.RetryableStatuses) > 0 {
		for _, s := range p.RetryableStatuses {
			if s == ge.UpstreamStatus {
				return true
			}
		}
		return false
	}
	return ge.Transient
}

// Backoff returns the delay before retry number n (1-based).
func Backoff(p *types.RetryPolicy, n int, random func() float64) time.Duration {
	d := float64(p.InitialInterval)
	if p.Backoff == types.BackoffExponential {
		m := p.Multiplier
		if m < 1 {
			m = types.DefaultMultiplier
		}
		d *= math.Pow(m, float64(n-1))
	}
	if p.MaxInterval > 0 && d > float64(p.MaxInterval) {
		d = float64(p.MaxInterval)
	}
	if p.Jitter > 0 && random != nil {
		j := math.Min(p.Jitter, 1)
		// 在 [d*(1-j), d*(1+j)) 之间
		d = d * (1 - j + 2*j*random())
	}
	if d < 0 {
		return 0
	}
	return time.Duration(d)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func lockedRandom() func() float64 {
	var mu sync.Mutex
	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	return func() float64 {
		mu.Lock()
		defer mu.Unlock()
		return rnd.Float64()
	}
}
