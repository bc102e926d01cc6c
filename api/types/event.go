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

import "time"

// 事件组件
const (
	ComponentGateway  = "gateway"
	ComponentBreaker  = "breaker"
	ComponentRetry    = "retry"
	ComponentResolver = "resolver"
)

// Outcome 阶段结果
type Outcome string

const (
	OutcomeSuccess = Outcome("success")
	OutcomeFailure = Outcome("failure")
	// OutcomeTransition marks a breaker state change.
	OutcomeTransition = Outcome("transition")
	// OutcomeRetry marks an attempt that failed and will be retried.
	OutcomeRetry = Outcome("retry")
)

// Event is a structured observation emitted per stage transition and per breaker state change.
type Event struct {
	Component     string
	Stage         Stage
	CorrelationId string
	RouteKey      string
	Protocol      string
	Outcome       Outcome
	Latency       time.Duration
	Attempt       int
	Err           error
	// BreakerKey, From and To are set for breaker state changes.
	BreakerKey string
	From       string
	To         string
	Time       time.Time
}

// EventListener 事件监听器，实现方不能阻塞调用方
type EventListener interface {
	OnEvent(e Event)
}

// EventListenerFunc 函数适配
type EventListenerFunc func(e Event)

func (f EventListenerFunc) OnEvent(e Event) {
	f(e)
}

// Listeners fans an event out to several listeners.
type Listeners []EventListener

func (ls Listeners) OnEvent(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	for _, l := range ls {
		if l != nil {
			l.OnEvent(e)
		}
	}
}
