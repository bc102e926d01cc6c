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
	"strings"
	"time"
)

// 协议标识
const (
	ProtocolRest     = "REST"
	ProtocolRestJson = "REST_JSON"
	ProtocolRestXml  = "REST_XML"
	ProtocolSoap     = "SOAP"
	ProtocolGrpc     = "GRPC"
	ProtocolProxy    = "PROXY"
)

// BreakerScope selects the key a circuit breaker is shared under.
type BreakerScope string

const (
	// ScopeBackend shares one breaker between all routes that call the same backend address.
	ScopeBackend = BreakerScope("backend")
	// ScopeRoute gives each route its own breaker.
	ScopeRoute = BreakerScope("route")
)

// BackendTarget 后端调用目标
type BackendTarget struct {
	// Address is the backend address: a URL for HTTP based protocols, host:port for gRPC.
	// It may contain ${} placeholders resolved from the outbound payload and metadata.
	Address string `json:"address" yaml:"address"`
	// Method is the HTTP method. Defaults to POST.
	Method string `json:"method,omitempty" yaml:"method,omitempty"`
	// Operation is the SOAP action or the full gRPC method name (/pkg.Service/Method).
	Operation string `json:"operation,omitempty" yaml:"operation,omitempty"`
	// Headers are static headers added to every outbound call.
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	// ContentKind is the kind of payload the backend returns. Defaults to the outbound kind.
	ContentKind ContentKind `json:"contentKind,omitempty" yaml:"contentKind,omitempty"`
	// SoapVersion is 1.1 or 1.2. Defaults to 1.1.
	SoapVersion string `json:"soapVersion,omitempty" yaml:"soapVersion,omitempty"`
	// Insecure skips TLS verification for HTTP backends.
	Insecure bool `json:"insecure,omitempty" yaml:"insecure,omitempty"`
	// ProxyURL routes HTTP calls through an egress proxy (http, https or socks5 scheme).
	ProxyURL string `json:"proxyUrl,omitempty" yaml:"proxyUrl,omitempty"`
}

// RouteDescriptor 路由描述，由配置方提供，构建后只读
type RouteDescriptor struct {
	Key               string            `json:"key" yaml:"key"`
	Protocol          string            `json:"protocol" yaml:"protocol"`
	Target            BackendTarget     `json:"target" yaml:"target"`
	RequestTransform  string            `json:"requestTransform,omitempty" yaml:"requestTransform,omitempty"`
	ResponseTransform string            `json:"responseTransform,omitempty" yaml:"responseTransform,omitempty"`
	Resilience        *ResiliencePolicy `json:"resilience,omitempty" yaml:"resilience,omitempty"`
	// Timeout bounds the whole backend stage including retries. Zero means unset.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	// CredentialRef names the credential the security collaborator supplies for this route.
	CredentialRef string       `json:"credentialRef,omitempty" yaml:"credentialRef,omitempty"`
	BreakerScope  BreakerScope `json:"breakerScope,omitempty" yaml:"breakerScope,omitempty"`
}

// Validate checks the fields the gateway needs and fills defaults.
func (r *RouteDescriptor) Validate() error {
	r.Key = strings.TrimSpace(r.Key)
	if r.Key == "" {
		return NewError(KindRouteMisconfigured, "route key is empty")
	}
	r.Protocol = strings.ToUpper(strings.TrimSpace(r.Protocol))
	if r.Protocol == "" {
		return NewError(KindRouteMisconfigured, "route %s: protocol is empty", r.Key)
	}
	if strings.TrimSpace(r.Target.Address) == "" {
		return NewError(KindRouteMisconfigured, "route %s: backend address is empty", r.Key)
	}
	if r.Timeout < 0 {
		return NewError(KindRouteMisconfigured, "route %s: negative timeout", r.Key)
	}
	switch r.BreakerScope {
	case "":
		r.BreakerScope = ScopeBackend
	case ScopeBackend, ScopeRoute:
	default:
		return NewError(KindRouteMisconfigured, "route %s: unknown breaker scope %q", r.Key, r.BreakerScope)
	}
	if r.Resilience != nil {
		if err := r.Resilience.Validate(); err != nil {
			return WrapError(KindRouteMisconfigured, err, "route %s", r.Key)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (r *RouteDescriptor) Clone() *RouteDescriptor {
	c := *r
	if r.Target.Headers != nil {
		c.Target.Headers = make(map[string]string, len(r.Target.Headers))
		for k, v := range r.Target.Headers {
			c.Target.Headers[k] = v
		}
	}
	if r.Resilience != nil {
		c.Resilience = r.Resilience.Clone()
	}
	return &c
}

// BreakerKey returns the key of the breaker guarding this route.
func (r *RouteDescriptor) BreakerKey() string {
	if r.BreakerScope == ScopeRoute {
		return "route:" + r.Key
	}
	return "backend:" + r.Protocol + ":" + r.Target.Address
}

// ValueType 绑定值的目标类型
type ValueType string

const (
	TypeString  = ValueType("string")
	TypeNumber  = ValueType("number")
	TypeBoolean = ValueType("boolean")
	// TypeRaw passes the selected sub-tree through unchanged.
	TypeRaw = ValueType("raw")
)

// Binding maps one source path to one target path or template placeholder.
type Binding struct {
	Source string    `json:"source" yaml:"source"`
	Target string    `json:"target" yaml:"target"`
	Type   ValueType `json:"type,omitempty" yaml:"type,omitempty"`
	// Optional bindings whose source path is absent produce no output. Required is the default.
	Optional bool `json:"optional,omitempty" yaml:"optional,omitempty"`
	// Default is used when the source path is absent. It makes the binding effectively optional.
	Default *string `json:"default,omitempty" yaml:"default,omitempty"`
}

// Name is the placeholder name the binding is referenced by in templates.
func (b Binding) Name() string {
	return b.Target
}

// TransformDescriptor 转换描述，构建后不可变，整体替换
type TransformDescriptor struct {
	Id           string      `json:"id" yaml:"id"`
	SourceFormat ContentKind `json:"sourceFormat" yaml:"sourceFormat"`
	TargetFormat ContentKind `json:"targetFormat" yaml:"targetFormat"`
	Bindings     []Binding   `json:"bindings" yaml:"bindings"`
	// Template is a skeleton in the target format with ${name} placeholders.
	Template string `json:"template,omitempty" yaml:"template,omitempty"`
	// Timeout, when set, caps the per-call deadline of routes using this descriptor.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Pretty  bool          `json:"pretty,omitempty" yaml:"pretty,omitempty"`
}

// Validate 校验转换描述
func (d *TransformDescriptor) Validate() error {
	if strings.TrimSpace(d.Id) == "" {
		return NewError(KindRouteMisconfigured, "transform id is empty")
	}
	for _, k := range []ContentKind{d.SourceFormat, d.TargetFormat} {
		if k != JSON && k != XML {
			return NewError(KindRouteMisconfigured, "transform %s: unsupported format %q", d.Id, k)
		}
	}
	seen := make(map[string]bool, len(d.Bindings))
	for i, b := range d.Bindings {
		if strings.TrimSpace(b.Source) == "" || strings.TrimSpace(b.Target) == "" {
			return NewError(KindRouteMisconfigured, "transform %s: binding %d has empty source or target", d.Id, i)
		}
		switch b.Type {
		case "", TypeString, TypeNumber, TypeBoolean, TypeRaw:
		default:
			return NewError(KindRouteMisconfigured, "transform %s: binding %s has unknown type %q", d.Id, b.Target, b.Type)
		}
		if seen[b.Target] {
			return NewError(KindRouteMisconfigured, "transform %s: duplicate binding target %s", d.Id, b.Target)
		}
		seen[b.Target] = true
	}
	return nil
}

// BackoffKind 退避策略
type BackoffKind string

const (
	BackoffFixed       = BackoffKind("fixed")
	BackoffExponential = BackoffKind("exponential")
)

// RetryPolicy 重试策略
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts including the first one.
	MaxAttempts     int           `json:"maxAttempts" yaml:"maxAttempts"`
	Backoff         BackoffKind   `json:"backoff,omitempty" yaml:"backoff,omitempty"`
	InitialInterval time.Duration `json:"initialInterval,omitempty" yaml:"initialInterval,omitempty"`
	Multiplier      float64       `json:"multiplier,omitempty" yaml:"multiplier,omitempty"`
	MaxInterval     time.Duration `json:"maxInterval,omitempty" yaml:"maxInterval,omitempty"`
	// Jitter is the random fraction (0..1) applied to each delay.
	Jitter float64 `json:"jitter,omitempty" yaml:"jitter,omitempty"`
	// RetryableStatuses, when set, replaces the handler's transient classification:
	// a backend fault is retried if and only if its upstream status is listed.
	RetryableStatuses []int `json:"retryableStatuses,omitempty" yaml:"retryableStatuses,omitempty"`
	// AttemptTimeout bounds a single attempt. Zero means the attempt may use the remaining call deadline.
	AttemptTimeout time.Duration `json:"attemptTimeout,omitempty" yaml:"attemptTimeout,omitempty"`
}

// CircuitBreakerPolicy 熔断策略
type CircuitBreakerPolicy struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	// FailureRateThreshold is a percentage in (0,100]. The breaker opens when the
	// failure rate over the window reaches it.
	FailureRateThreshold float64 `json:"failureRateThreshold,omitempty" yaml:"failureRateThreshold,omitempty"`
	// WindowSize is the number of most recent calls considered.
	WindowSize int `json:"windowSize,omitempty" yaml:"windowSize,omitempty"`
	// MinimumCalls is the number of recorded calls needed before the rate is evaluated.
	MinimumCalls   int           `json:"minimumCalls,omitempty" yaml:"minimumCalls,omitempty"`
	OpenDuration   time.Duration `json:"openDuration,omitempty" yaml:"openDuration,omitempty"`
	HalfOpenTrials int           `json:"halfOpenTrials,omitempty" yaml:"halfOpenTrials,omitempty"`
}

// RateLimitPolicy 限流策略
type RateLimitPolicy struct {
	PermitsPerSecond float64 `json:"permitsPerSecond" yaml:"permitsPerSecond"`
	Burst            int     `json:"burst,omitempty" yaml:"burst,omitempty"`
	// WaitTimeout is how long a call may wait for a permit. Zero fails immediately.
	WaitTimeout time.Duration `json:"waitTimeout,omitempty" yaml:"waitTimeout,omitempty"`
}

// ResiliencePolicy 弹性策略，由配置方持有，调用期间只读
type ResiliencePolicy struct {
	Retry          *RetryPolicy          `json:"retry,omitempty" yaml:"retry,omitempty"`
	CircuitBreaker *CircuitBreakerPolicy `json:"circuitBreaker,omitempty" yaml:"circuitBreaker,omitempty"`
	RateLimit      *RateLimitPolicy      `json:"rateLimit,omitempty" yaml:"rateLimit,omitempty"`
	// Timeout bounds the whole call including retries.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// 默认值
const (
	DefaultMaxAttempts          = 1
	DefaultInitialInterval      = 100 * time.Millisecond
	DefaultMultiplier           = 2.0
	DefaultMaxInterval          = 5 * time.Second
	DefaultFailureRateThreshold = 50.0
	DefaultWindowSize           = 10
	DefaultOpenDuration         = 30 * time.Second
	DefaultHalfOpenTrials       = 1
)

// Clone 深拷贝
func (p *ResiliencePolicy) Clone() *ResiliencePolicy {
	c := *p
	if p.Retry != nil {
		r := *p.Retry
		r.RetryableStatuses = append([]int(nil), p.Retry.RetryableStatuses...)
		c.Retry = &r
	}
	if p.CircuitBreaker != nil {
		cb := *p.CircuitBreaker
		c.CircuitBreaker = &cb
	}
	if p.RateLimit != nil {
		rl := *p.RateLimit
		c.RateLimit = &rl
	}
	return &c
}

// Validate checks ranges and fills unset fields with defaults.
func (p *ResiliencePolicy) Validate() error {
	if p.Timeout < 0 {
		return NewError(KindRouteMisconfigured, "negative resilience timeout")
	}
	if r := p.Retry; r != nil {
		if r.MaxAttempts <= 0 {
			r.MaxAttempts = DefaultMaxAttempts
		}
		switch r.Backoff {
		case "":
			r.Backoff = BackoffFixed
		case BackoffFixed, BackoffExponential:
		default:
			return NewError(KindRouteMisconfigured, "unknown backoff %q", r.Backoff)
		}
		if r.InitialInterval < 0 || r.MaxInterval < 0 || r.AttemptTimeout < 0 {
			return NewError(KindRouteMisconfigured, "negative retry interval")
		}
		if r.InitialInterval == 0 {
			r.InitialInterval = DefaultInitialInterval
		}
		if r.Multiplier < 1 {
			r.Multiplier = DefaultMultiplier
		}
		if r.MaxInterval == 0 {
			r.MaxInterval = DefaultMaxInterval
		}
		if r.Jitter < 0 || r.Jitter > 1 {
			return NewError(KindRouteMisconfigured, "jitter must be within [0,1]")
		}
	}
	if cb := p.CircuitBreaker; cb != nil && cb.Enabled {
		if cb.FailureRateThreshold == 0 {
			cb.FailureRateThreshold = DefaultFailureRateThreshold
		}
		if cb.FailureRateThreshold < 0 || cb.FailureRateThreshold > 100 {
			return NewError(KindRouteMisconfigured, "failure rate threshold must be within (0,100]")
		}
		if cb.WindowSize <= 0 {
			cb.WindowSize = DefaultWindowSize
		}
		if cb.MinimumCalls <= 0 || cb.MinimumCalls > cb.WindowSize {
			cb.MinimumCalls = cb.WindowSize
		}
		if cb.OpenDuration <= 0 {
			cb.OpenDuration = DefaultOpenDuration
		}
		if cb.HalfOpenTrials <= 0 {
			cb.HalfOpenTrials = DefaultHalfOpenTrials
		}
	}
	if rl := p.RateLimit; rl != nil {
		if rl.PermitsPerSecond <= 0 {
			return NewError(KindRouteMisconfigured, "permitsPerSecond must be positive")
		}
		if rl.Burst <= 0 {
			rl.Burst = 1
		}
		if rl.WaitTimeout < 0 {
			return NewError(KindRouteMisconfigured, "negative rate limit wait timeout")
		}
	}
	return nil
}
