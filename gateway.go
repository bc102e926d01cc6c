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

// Package gateway provides a protocol-agnostic integration gateway.
//
// # Usage
//
// A route binds a route key to a backend protocol and address, an optional
// request and response transform and a resilience policy. Routes and transforms
// come from a types.RouteSource, e.g. config.StaticSource loaded from a YAML file:
//
//	routes:
//	  - key: orders.create
//	    protocol: REST
//	    target:
//	      address: http://orders:8080/orders
//	      method: POST
//	    requestTransform: orders.create.request
//	    responseTransform: orders.create.response
//	    resilienceRef: default
//
// Create the gateway with the handlers it may dispatch to:
//
//	registry := gateway.NewHandlerRegistry(protocol.NewRestHandler(), protocol.NewSoapHandler())
//	gw, err := gateway.New(source, registry, gateway.WithConfig(types.NewConfig(types.WithLogger(logger))))
//
// Invoke a route:
//
//	req := types.NewRequest("orders.create", types.NewPayload(types.JSON, body))
//	resp := gw.Invoke(ctx, req)
//
// Every call yields exactly one response. Failures are reported in resp.Error
// with a stable code and the stage that failed.
package gateway

import (
	"context"
	"strings"
	"time"

	"github.com/rulego/gateway/api/types"
	"github.com/rulego/gateway/api/types/metrics"
	"github.com/rulego/gateway/resilience"
	"github.com/rulego/gateway/transform"
	"github.com/rulego/gateway/utils/runtime"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Gateway 网关编排引擎，可并发调用
type Gateway struct {
	config      types.Config
	registry    *HandlerRegistry
	resolver    *RouteResolver
	source      types.RouteSource
	transformer *transform.Engine
	breakers    *resilience.BreakerTable
	limiters    *resilience.RateLimiterTable
	retrier     *resilience.Retrier
	metrics     *metrics.GatewayMetrics
}

// Option is a function type that modifies the Gateway.
type Option func(*Gateway) error

// WithConfig sets the Config of the Gateway.
func WithConfig(config types.Config) Option {
	return func(g *Gateway) error {
		g.config = config
		return nil
	}
}

// WithTransformEngine 设置转换引擎
func WithTransformEngine(engine *transform.Engine) Option {
	return func(g *Gateway) error {
		g.transformer = engine
		return nil
	}
}

// WithBreakerTable shares a breaker table, e.g. between gateways of one process.
func WithBreakerTable(table *resilience.BreakerTable) Option {
	return func(g *Gateway) error {
		g.breakers = table
		return nil
	}
}

// WithRetrier 设置重试执行器
func WithRetrier(retrier *resilience.Retrier) Option {
	return func(g *Gateway) error {
		g.retrier = retrier
		return nil
	}
}

// New creates a gateway resolving routes from source and dispatching to the
// handlers of registry.
func New(source types.RouteSource, registry *HandlerRegistry, opts ...Option) (*Gateway, error) {
	g := &Gateway{
		config:   types.NewConfig(),
		registry: registry,
		source:   source,
		limiters: resilience.NewRateLimiterTable(),
		metrics:  metrics.NewGatewayMetrics(),
	}
	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, err
		}
	}
	if err := g.config.Apply(); err != nil {
		return nil, err
	}
	if g.registry == nil {
		g.registry = NewHandlerRegistry()
	}
	if g.transformer == nil {
		g.transformer = transform.DefaultEngine
	}
	if g.breakers == nil {
		g.breakers = resilience.NewBreakerTable(
			resilience.WithBreakerClock(g.config.Clock),
			resilience.WithBreakerListener(g.config.Listeners),
		).SetLogger(g.config.Logger)
	}
	if g.retrier == nil {
		g.retrier = resilience.NewRetrier(resilience.WithRetryClock(g.config.Clock))
	}
	g.resolver = NewRouteResolver(source, g.config.Cache, g.config.RouteCacheTTL, g.transformer.Validate)
	return g, nil
}

// Config 获取配置
func (g *Gateway) Config() types.Config {
	return g.config
}

// Registry returns the handler registry.
func (g *Gateway) Registry() *HandlerRegistry {
	return g.registry
}

// Resolver returns the route resolver, e.g. to invalidate cached routes.
func (g *Gateway) Resolver() *RouteResolver {
	return g.resolver
}

// Breakers returns the breaker table.
func (g *Gateway) Breakers() *resilience.BreakerTable {
	return g.breakers
}

// Metrics returns a snapshot of the call counters.
func (g *Gateway) Metrics() metrics.GatewayMetrics {
	return g.metrics.Get()
}

// Invoke runs one call through the pipeline
//
//	validate → resolve_route → transform_request → resolve_handler → invoke → transform_response → assemble
//
// and always returns exactly one response. A failing stage ends the pipeline and
// its error, tagged with the stage, is mapped into the response. Panics are
// recovered as INTERNAL_ERROR.
func (g *Gateway) Invoke(ctx context.Context, req *types.RequestEnvelope) (resp *types.ResponseEnvelope) {
	if ctx == nil {
		ctx = context.Background()
	}
	c := &invocation{gateway: g, req: req, start: g.config.Clock()}
	if req != nil {
		c.correlationId = req.CorrelationId()
		c.routeKey = req.RouteKey()
	}
	if c.correlationId == "" {
		c.correlationId = types.NewCorrelationId()
	}

	ctx, span := g.config.Tracer.Start(ctx, "gateway.Invoke",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("gateway.route_key", c.routeKey),
			attribute.String("gateway.correlation_id", c.correlationId),
		))
	ctx, cancel := context.WithTimeout(ctx, g.config.DefaultTimeout)
	g.metrics.Begin()

	defer func() {
		if p := recover(); p != nil {
			g.metrics.IncrementPanics()
			g.config.Logger.Printf("gateway panic route=%s correlationId=%s stage=%s: %v\n%s",
				c.routeKey, c.correlationId, c.stage, p, runtime.Stack(32))
			err := types.NewError(types.KindInternalError, "internal error").WithStage(c.stage)
			resp = c.failure(err)
		}
		c.release()
		cancel()
		if resp.IsSuccess() {
			span.SetStatus(codes.Ok, "")
		} else if resp.Error != nil {
			span.SetStatus(codes.Error, resp.Error.Code)
			span.SetAttributes(attribute.String("gateway.error_code", resp.Error.Code))
		}
		span.SetAttributes(attribute.Int("gateway.attempts", resp.Metadata.Attempts))
		span.End()
		g.metrics.End(resp.IsSuccess())
	}()

	return c.run(ctx)
}

// invocation is the state of one call moving through the pipeline.
type invocation struct {
	gateway       *Gateway
	req           *types.RequestEnvelope
	correlationId string
	routeKey      string
	start         time.Time
	stage         types.Stage

	route    *types.RouteDescriptor
	handler  types.ProtocolHandler
	outbound types.Payload
	raw      *types.RawResponse
	result   types.Payload
	breaker  *resilience.CircuitBreaker
	attempts int
	cancels  []context.CancelFunc
}

func (c *invocation) run(ctx context.Context) *types.ResponseEnvelope {
	steps := []struct {
		stage types.Stage
		fn    func(ctx context.Context) (context.Context, error)
	}{
		{types.StageValidate, c.validate},
		{types.StageResolveRoute, c.resolveRoute},
		{types.StageTransformRequest, c.transformRequest},
		{types.StageResolveHandler, c.resolveHandler},
		{types.StageInvoke, c.invoke},
		{types.StageTransformResponse, c.transformResponse},
	}
	for _, step := range steps {
		next, err := c.runStage(ctx, step.stage, step.fn)
		if err != nil {
			return c.failure(err)
		}
		ctx = next
	}
	var resp *types.ResponseEnvelope
	_, _ = c.runStage(ctx, types.StageAssemble, func(ctx context.Context) (context.Context, error) {
		resp = c.success()
		return ctx, nil
	})
	return resp
}

// runStage runs fn inside a span, emits the stage event and tags a failure with the stage.
func (c *invocation) runStage(ctx context.Context, stage types.Stage, fn func(ctx context.Context) (context.Context, error)) (context.Context, *types.GatewayError) {
	g := c.gateway
	c.stage = stage
	stageCtx, span := g.config.Tracer.Start(ctx, "gateway."+string(stage))
	begin := g.config.Clock()
	next, err := fn(stageCtx)
	latency := g.config.Clock().Sub(begin)

	e := types.Event{
		Component:     types.ComponentGateway,
		Stage:         stage,
		CorrelationId: c.correlationId,
		RouteKey:      c.routeKey,
		Protocol:      c.protocol(),
		Outcome:       types.OutcomeSuccess,
		Latency:       latency,
		Attempt:       c.attempts,
	}
	var ge *types.GatewayError
	if err != nil {
		ge = asGatewayError(err).WithStage(stage)
		e.Outcome = types.OutcomeFailure
		e.Err = ge
		span.RecordError(ge)
		span.SetStatus(codes.Error, string(ge.Kind))
	}
	span.End()
	g.config.Listeners.OnEvent(e)
	if ge != nil {
		return ctx, ge
	}
	// 阶段可以收紧截止时间，但不能脱离调用的span
	if next == nil {
		next = stageCtx
	}
	return trace.ContextWithSpan(next, trace.SpanFromContext(ctx)), nil
}

func (c *invocation) validate(ctx context.Context) (context.Context, error) {
	if c.req == nil {
		return ctx, types.NewError(types.KindRouteMisconfigured, "request is nil")
	}
	if c.routeKey == "" {
		return ctx, types.NewError(types.KindRouteMisconfigured, "route key is missing")
	}
	return ctx, nil
}

func (c *invocation) resolveRoute(ctx context.Context) (context.Context, error) {
	route, err := c.gateway.resolver.Route(ctx, c.routeKey)
	if err != nil {
		return ctx, err
	}
	c.route = route
	ctx = c.narrow(ctx, route.Timeout)
	if route.Resilience != nil {
		ctx = c.narrow(ctx, route.Resilience.Timeout)
	}
	return ctx, nil
}

func (c *invocation) transformRequest(ctx context.Context) (context.Context, error) {
	payload := c.req.Payload()
	if c.route.RequestTransform == "" {
		c.outbound = payload
		return ctx, nil
	}
	d, err := c.gateway.resolver.Transform(ctx, c.route.RequestTransform)
	if err != nil {
		return ctx, err
	}
	ctx = c.narrow(ctx, d.Timeout)
	out, err := c.gateway.transformer.TransformWithVars(d, payload, c.meta(nil))
	if err != nil {
		return ctx, err
	}
	c.outbound = out
	return ctx, nil
}

func (c *invocation) resolveHandler(ctx context.Context) (context.Context, error) {
	h, err := c.gateway.registry.Lookup(c.route.Protocol)
	if err != nil {
		return ctx, err
	}
	c.handler = h
	return ctx, nil
}

func (c *invocation) invoke(ctx context.Context) (context.Context, error) {
	g := c.gateway
	route := c.route
	policy := route.Resilience
	if policy == nil {
		policy = &types.ResiliencePolicy{}
	}

	credential, err := c.credential(ctx)
	if err != nil {
		return ctx, err
	}
	if policy.RateLimit != nil {
		if err := g.limiters.Wait(ctx, route.BreakerKey(), *policy.RateLimit); err != nil {
			if types.KindOf(err) == types.KindRateLimited {
				g.metrics.IncrementRejected()
			}
			return ctx, err
		}
	}
	if cb := policy.CircuitBreaker; cb != nil && cb.Enabled {
		c.breaker = g.breakers.Get(route.BreakerKey(), *cb)
	}

	headers := c.req.Headers()
	headers.Set(types.CorrelationIdKey, c.correlationId)
	observe := func(attempt int, err *types.GatewayError, delay time.Duration) {
		g.config.Listeners.OnEvent(types.Event{
			Component:     types.ComponentRetry,
			Stage:         types.StageInvoke,
			CorrelationId: c.correlationId,
			RouteKey:      c.routeKey,
			Protocol:      route.Protocol,
			Outcome:       types.OutcomeRetry,
			Latency:       delay,
			Attempt:       attempt,
			Err:           err,
		})
	}
	attempts, err := g.retrier.Do(ctx, policy.Retry, c.breaker, observe, func(ctx context.Context, attempt int) error {
		raw, err := c.handler.Invoke(ctx, &types.Call{
			RouteKey:      c.routeKey,
			Protocol:      route.Protocol,
			Target:        route.Target,
			Payload:       c.outbound,
			Headers:       headers.Clone(),
			CorrelationId: c.correlationId,
			Credential:    credential,
			Attempt:       attempt,
		})
		if err != nil {
			return c.translate(err)
		}
		if raw == nil {
			return types.NewBackendFault(0, false, "handler returned no response")
		}
		c.raw = raw
		return nil
	})
	c.attempts = attempts
	g.metrics.AddAttempts(attempts)
	if err != nil {
		if attempts == 0 && types.KindOf(err) == types.KindCircuitOpen {
			g.metrics.IncrementRejected()
		}
		return ctx, err
	}
	return ctx, nil
}

// translate maps a handler error into the taxonomy. GatewayErrors pass through.
func (c *invocation) translate(err error) error {
	if _, ok := types.AsGatewayError(err); ok {
		return err
	}
	if ge := c.handler.TranslateFault(err); ge != nil {
		return ge
	}
	return types.WrapError(types.KindBackendFault, err, "backend call failed")
}

func (c *invocation) credential(ctx context.Context) (types.Credential, error) {
	if cred, ok := types.CredentialFromContext(ctx); ok {
		return cred, nil
	}
	provider := c.gateway.config.CredentialProvider
	if c.route.CredentialRef == "" || provider == nil {
		return nil, nil
	}
	cred, err := provider.Credential(ctx, c.route.CredentialRef)
	if err != nil {
		return nil, types.WrapError(types.KindRouteMisconfigured, err, "credential %q", c.route.CredentialRef)
	}
	return cred, nil
}

func (c *invocation) transformResponse(ctx context.Context) (context.Context, error) {
	if c.route.ResponseTransform == "" {
		c.result = c.raw.Payload
		return ctx, nil
	}
	d, err := c.gateway.resolver.Transform(ctx, c.route.ResponseTransform)
	if err != nil {
		return ctx, err
	}
	out, err := c.gateway.transformer.TransformWithVars(d, c.raw.Payload, c.meta(map[string]interface{}{
		"status": c.raw.Status,
	}))
	if err != nil {
		return ctx, err
	}
	c.result = out
	return ctx, nil
}

func (c *invocation) success() *types.ResponseEnvelope {
	var headers types.Headers
	for _, h := range c.raw.Headers.All() {
		switch {
		case strings.EqualFold(h.Name, "Content-Length"), strings.EqualFold(h.Name, types.ContentTypeKey):
		default:
			headers.Add(h.Name, h.Value)
		}
	}
	headers.Set(types.ContentTypeKey, c.result.Kind.ContentType())
	headers.Set(types.CorrelationIdKey, c.correlationId)
	resp := types.NewSuccessResponse(c.correlationId, c.result, headers)
	resp.Metadata = c.metadata()
	return resp
}

func (c *invocation) failure(err *types.GatewayError) *types.ResponseEnvelope {
	g := c.gateway
	if err.Attempts == 0 {
		err.Attempts = c.attempts
	}
	g.config.Logger.Printf("gateway call failed route=%s correlationId=%s stage=%s code=%s: %s",
		c.routeKey, c.correlationId, err.Stage, err.Kind, err.Error())
	resp := types.NewErrorResponse(c.correlationId, err)
	resp.Headers.Set(types.CorrelationIdKey, c.correlationId)
	resp.Metadata = c.metadata()
	return resp
}

func (c *invocation) metadata() types.ResponseMetadata {
	m := types.ResponseMetadata{
		RouteKey: c.routeKey,
		Protocol: c.protocol(),
		Attempts: c.attempts,
		Latency:  c.gateway.config.Clock().Sub(c.start),
	}
	if c.breaker != nil {
		m.BreakerState = c.breaker.State().String()
	}
	return m
}

// meta is the template variable set visible as ${meta.*}.
func (c *invocation) meta(extra map[string]interface{}) map[string]interface{} {
	m := map[string]interface{}{
		"correlationId": c.correlationId,
		"routeKey":      c.routeKey,
		"protocol":      c.protocol(),
		"headers":       c.req.Headers().ToMap(),
	}
	for k, v := range extra {
		m[k] = v
	}
	return m
}

func (c *invocation) protocol() string {
	if c.route == nil {
		return ""
	}
	return c.route.Protocol
}

// narrow 收紧截止时间，最终截止时间为所有配置超时的最小值
func (c *invocation) narrow(ctx context.Context, timeout time.Duration) context.Context {
	if timeout <= 0 {
		return ctx
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	c.cancels = append(c.cancels, cancel)
	return ctx
}

func (c *invocation) release() {
	for i := len(c.cancels) - 1; i >= 0; i-- {
		c.cancels[i]()
	}
}

// asGatewayError returns a private copy of the GatewayError in err, or
// INTERNAL_ERROR when err is not one.
func asGatewayError(err error) *types.GatewayError {
	if ge, ok := types.AsGatewayError(err); ok {
		c := *ge
		return &c
	}
	return types.WrapError(types.KindInternalError, err, "unexpected failure")
}
