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

import (
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation name of the gateway spans.
const TracerName = "github.com/rulego/gateway"

// 默认配置
const (
	DefaultTimeout       = 30 * time.Second
	DefaultRouteCacheTTL = "5m"
)

// Config 网关配置
type Config struct {
	// Logger is the logging interface, defaulting to DefaultLogger().
	Logger Logger
	// Listeners receive a structured event per stage transition and per breaker state change.
	Listeners Listeners
	// DefaultTimeout is the upper bound of every call deadline.
	DefaultTimeout time.Duration
	// RouteCacheTTL is how long resolved routes and transforms stay cached, e.g. "5m".
	// An empty value caches until the cache is invalidated.
	RouteCacheTTL string
	// Cache stores resolved descriptors. Defaults to an in-memory cache.
	Cache Cache
	// CredentialProvider supplies outbound credentials by the route's credential ref.
	CredentialProvider CredentialProvider
	// Tracer starts the per call and per stage spans. Defaults to the global provider.
	Tracer trace.Tracer
	// Clock is used for latency measurement and breaker timing. Tests replace it.
	Clock func() time.Time
}

// NewConfig creates a Config with default values and applies opts.
// Option errors are ignored here, use Apply to observe them.
func NewConfig(opts ...Option) Config {
	c := &Config{}
	_ = c.Apply(opts...)
	return *c
}

// Apply applies opts in order and fills defaults for fields left unset.
func (c *Config) Apply(opts ...Option) error {
	var firstErr error
	for _, opt := range opts {
		if err := opt(c); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c.Logger == nil {
		c.Logger = DefaultLogger()
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = DefaultTimeout
	}
	if c.Tracer == nil {
		c.Tracer = otel.Tracer(TracerName)
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return firstErr
}
