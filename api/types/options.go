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
	"errors"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Option modifies the Config.
type Option func(*Config) error

// WithLogger sets the logger.
func WithLogger(logger Logger) Option {
	return func(c *Config) error {
		c.Logger = logger
		return nil
	}
}

// WithListeners appends event listeners.
func WithListeners(listeners ...EventListener) Option {
	return func(c *Config) error {
		c.Listeners = append(c.Listeners, listeners...)
		return nil
	}
}

// WithDefaultTimeout 设置默认调用超时
func WithDefaultTimeout(timeout time.Duration) Option {
	return func(c *Config) error {
		if timeout <= 0 {
			return errors.New("default timeout must be positive")
		}
		c.DefaultTimeout = timeout
		return nil
	}
}

// WithRouteCacheTTL sets the route cache ttl, e.g. "30s". The value is validated here
// so that a bad ttl fails at startup rather than on the first cache write.
func WithRouteCacheTTL(ttl string) Option {
	return func(c *Config) error {
		if ttl != "" {
			if _, err := time.ParseDuration(ttl); err != nil {
				return err
			}
		}
		c.RouteCacheTTL = ttl
		return nil
	}
}

// WithCache 设置描述缓存
func WithCache(cache Cache) Option {
	return func(c *Config) error {
		c.Cache = cache
		return nil
	}
}

// WithCredentialProvider sets the security collaborator.
func WithCredentialProvider(provider CredentialProvider) Option {
	return func(c *Config) error {
		c.CredentialProvider = provider
		return nil
	}
}

// WithTracer sets the tracer used for call spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Config) error {
		c.Tracer = tracer
		return nil
	}
}

// WithClock replaces the time source.
func WithClock(clock func() time.Time) Option {
	return func(c *Config) error {
		c.Clock = clock
		return nil
	}
}
