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

package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Env 进程级配置，从环境变量读取
type Env struct {
	// Addr is the listen address of the inbound HTTP endpoint.
	Addr string `env:"GATEWAY_ADDR" envDefault:":9090"`
	// ConfigFile is a YAML or JSON file with routes, transforms, resilience policies and credentials.
	ConfigFile string `env:"GATEWAY_CONFIG"`
	// DefaultTimeout caps every call.
	DefaultTimeout time.Duration `env:"GATEWAY_DEFAULT_TIMEOUT" envDefault:"30s"`
	// CacheTTL is the route cache ttl, e.g. "5m". Empty caches until invalidated.
	CacheTTL string `env:"GATEWAY_CACHE_TTL" envDefault:"5m"`
	// RefreshSpec is a cron spec that drops cached routes, e.g. "@every 1m".
	RefreshSpec string `env:"GATEWAY_REFRESH_SPEC"`
	// OtelEndpoint enables OTLP/HTTP trace export to host:port.
	OtelEndpoint string `env:"GATEWAY_OTEL_ENDPOINT"`
	// SQLDriver is sqlite, postgres or mysql. Used when SQLDSN is set.
	SQLDriver string `env:"GATEWAY_SQL_DRIVER" envDefault:"sqlite"`
	// SQLDSN enables the SQL route source.
	SQLDSN string `env:"GATEWAY_SQL_DSN"`
	// MetricsPath serves Prometheus metrics. Empty disables it.
	MetricsPath string `env:"GATEWAY_METRICS_PATH" envDefault:"/metrics"`
	// Interceptors names built-in endpoint interceptors, comma separated.
	Interceptors []string `env:"GATEWAY_INTERCEPTORS" envSeparator:","`
	// LogEvents logs every pipeline event.
	LogEvents bool `env:"GATEWAY_LOG_EVENTS" envDefault:"false"`
}

// LoadEnv reads Env from the process environment.
func LoadEnv() (Env, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return e, fmt.Errorf("parse env: %w", err)
	}
	return e, nil
}

// LoadEnvFrom reads Env from the given variables instead of the process environment.
func LoadEnvFrom(vars map[string]string) (Env, error) {
	var e Env
	if err := env.ParseWithOptions(&e, env.Options{Environment: vars}); err != nil {
		return e, fmt.Errorf("parse env: %w", err)
	}
	return e, nil
}
