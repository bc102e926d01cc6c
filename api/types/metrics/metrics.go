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

// Package metrics holds lock-free counters of gateway calls.
package metrics

import (
	"sync/atomic"
)

// GatewayMetrics 网关调用计数
type GatewayMetrics struct {
	InFlight int64 // calls currently in the pipeline
	Total    int64
	Success  int64
	Failed   int64
	Attempts int64 // backend attempts, retries included
	Rejected int64 // calls rejected by an open breaker or the rate limiter
	Panics   int64
}

func NewGatewayMetrics() *GatewayMetrics {
	return &GatewayMetrics{}
}

// Begin marks the start of a call.
func (m *GatewayMetrics) Begin() {
	atomic.AddInt64(&m.InFlight, 1)
	atomic.AddInt64(&m.Total, 1)
}

// End marks the end of a call with its outcome.
func (m *GatewayMetrics) End(success bool) {
	atomic.AddInt64(&m.InFlight, -1)
	if success {
		atomic.AddInt64(&m.Success, 1)
	} else {
		atomic.AddInt64(&m.Failed, 1)
	}
}

func (m *GatewayMetrics) AddAttempts(n int) {
	atomic.AddInt64(&m.Attempts, int64(n))
}

func (m *GatewayMetrics) IncrementRejected() {
	atomic.AddInt64(&m.Rejected, 1)
}

func (m *GatewayMetrics) IncrementPanics() {
	atomic.AddInt64(&m.Panics, 1)
}

// Get returns a consistent-enough copy of the counters.
func (m *GatewayMetrics) Get() GatewayMetrics {
	return GatewayMetrics{
		InFlight: atomic.LoadInt64(&m.InFlight),
		Total:    atomic.LoadInt64(&m.Total),
		Success:  atomic.LoadInt64(&m.Success),
		Failed:   atomic.LoadInt64(&m.Failed),
		Attempts: atomic.LoadInt64(&m.Attempts),
		Rejected: atomic.LoadInt64(&m.Rejected),
		Panics:   atomic.LoadInt64(&m.Panics),
	}
}

// Reset 清零
func (m *GatewayMetrics) Reset() {
	atomic.StoreInt64(&m.InFlight, 0)
	atomic.StoreInt64(&m.Total, 0)
	atomic.StoreInt64(&m.Success, 0)
	atomic.StoreInt64(&m.Failed, 0)
	atomic.StoreInt64(&m.Attempts, 0)
	atomic.StoreInt64(&m.Rejected, 0)
	atomic.StoreInt64(&m.Panics, 0)
}
