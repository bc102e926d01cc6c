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

package listener

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rulego/gateway/api/types"
)

// breaker state gauge values
const (
	breakerClosed   = 0
	breakerOpen     = 1
	breakerHalfOpen = 2
)

// PrometheusListener exports gateway events as prometheus metrics.
type PrometheusListener struct {
	stages             *prometheus.CounterVec
	stageDuration      *prometheus.HistogramVec
	retries            *prometheus.CounterVec
	breakerState       *prometheus.GaugeVec
	breakerTransitions *prometheus.CounterVec
}

// NewPrometheusListener creates the metrics under namespace. They are not
// registered until Register is called.
func NewPrometheusListener(namespace string) *PrometheusListener {
	return &PrometheusListener{
		stages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stage",
			Name:      "events_total",
			Help:      "Total number of pipeline stage completions",
		}, []string{"route", "stage", "outcome"}),

		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "stage",
			Name:      "duration_seconds",
			Help:      "Pipeline stage duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "stage"}),

		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retry",
			Name:      "attempts_total",
			Help:      "Total number of failed attempts that were retried",
		}, []string{"route"}),

		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "breaker",
			Name:      "state",
			Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"breaker"}),

		breakerTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "breaker",
			Name:      "transitions_total",
			Help:      "Total number of circuit breaker state changes",
		}, []string{"breaker", "from", "to"}),
	}
}

// Collectors returns all collectors of the listener.
func (l *PrometheusListener) Collectors() []prometheus.Collector {
	return []prometheus.Collector{l.stages, l.stageDuration, l.retries, l.breakerState, l.breakerTransitions}
}

// Register registers all collectors with reg.
func (l *PrometheusListener) Register(reg prometheus.Registerer) error {
	for _, c := range l.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (l *PrometheusListener) OnEvent(e types.Event) {
	switch e.Component {
	case types.ComponentBreaker:
		l.breakerState.WithLabelValues(e.BreakerKey).Set(breakerValue(e.To))
		l.breakerTransitions.WithLabelValues(e.BreakerKey, e.From, e.To).Inc()
	case types.ComponentRetry:
		l.retries.WithLabelValues(e.RouteKey).Inc()
	default:
		l.stages.WithLabelValues(e.RouteKey, string(e.Stage), string(e.Outcome)).Inc()
		l.stageDuration.WithLabelValues(e.RouteKey, string(e.Stage)).Observe(e.Latency.Seconds())
	}
}

func breakerValue(state string) float64 {
	switch state {
	case "open":
		return breakerOpen
	case "half_open":
		return breakerHalfOpen
	default:
		return breakerClosed
	}
}
