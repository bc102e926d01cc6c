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

package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rulego/gateway/api/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memorySource struct {
	mu         sync.Mutex
	routes     map[string]*types.RouteDescriptor
	transforms map[string]*types.TransformDescriptor
	routeCalls int32
}

func newMemorySource() *memorySource {
	return &memorySource{
		routes:     make(map[string]*types.RouteDescriptor),
		transforms: make(map[string]*types.TransformDescriptor),
	}
}

func (s *memorySource) GetRoute(ctx context.Context, key string) (*types.RouteDescriptor, error) {
	atomic.AddInt32(&s.routeCalls, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.routes[key]; ok {
		return r, nil
	}
	return nil, fmt.Errorf("route %s: %w", key, types.ErrNotFound)
}

func (s *memorySource) GetTransform(ctx context.Context, id string) (*types.TransformDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.transforms[id]; ok {
		return d, nil
	}
	return nil, fmt.Errorf("transform %s: %w", id, types.ErrNotFound)
}

type eventRecorder struct {
	mu     sync.Mutex
	events []types.Event
}

func (r *eventRecorder) OnEvent(e types.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) gatewayStages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		if e.Component == types.ComponentGateway {
			out = append(out, string(e.Stage)+":"+string(e.Outcome))
		}
	}
	return out
}

func ordersSource() *memorySource {
	s := newMemorySource()
	s.routes["orders.create"] = &types.RouteDescriptor{
		Key:               "orders.create",
		Protocol:          "REST",
		Target:            types.BackendTarget{Address: "http://orders.test/orders", Method: http.MethodPost},
		RequestTransform:  "orders.create.request",
		ResponseTransform: "orders.create.response",
	}
	s.transforms["orders.create.request"] = &types.TransformDescriptor{
		Id:           "orders.create.request",
		SourceFormat: types.JSON,
		TargetFormat: types.JSON,
		Bindings: []types.Binding{
			{Source: "id", Target: "orderId"},
			{Source: "amt", Target: "amount", Type: types.TypeNumber},
		},
	}
	s.transforms["orders.create.response"] = &types.TransformDescriptor{
		Id:           "orders.create.response",
		SourceFormat: types.JSON,
		TargetFormat: types.JSON,
		Bindings:     []types.Binding{{Source: "status", Target: "result"}},
	}
	return s
}

func newTestGateway(t *testing.T, source types.RouteSource, handler *stubHandler, opts ...types.Option) *Gateway {
	opts = append([]types.Option{types.WithLogger(types.NopLogger{})}, opts...)
	g, err := New(source, NewHandlerRegistry(handler), WithConfig(types.NewConfig(opts...)))
	require.Nil(t, err)
	return g
}

func restHandler(invoke func(ctx context.Context, call *types.Call) (*types.RawResponse, error)) *stubHandler {
	return &stubHandler{protocols: []string{types.ProtocolRest}, invoke: invoke}
}

func TestOrdersCreate(t *testing.T) {
	var received *types.Call
	handler := restHandler(func(ctx context.Context, call *types.Call) (*types.RawResponse, error) {
		received = call
		return &types.RawResponse{
			Status:  200,
			Headers: types.NewHeaders("Content-Type", "application/json", "X-Backend", "b1"),
			Payload: types.NewPayload(types.JSON, []byte(`{"status":"OK"}`)),
		}, nil
	})
	recorder := &eventRecorder{}
	g := newTestGateway(t, ordersSource(), handler, types.WithListeners(recorder))

	req := types.NewRequest("orders.create", types.NewPayload(types.JSON, []byte(`{"id":"42","amt":"10.5"}`)),
		types.WithCorrelationId("corr-1"))
	resp := g.Invoke(context.Background(), req)

	require.True(t, resp.IsSuccess(), fmt.Sprintf("%+v", resp.Error))
	require.NotNil(t, received)
	assert.Equal(t, `{"orderId":"42","amount":10.5}`, received.Payload.String())
	assert.Equal(t, "corr-1", received.CorrelationId)
	assert.Equal(t, "corr-1", received.Headers.Get(types.CorrelationIdKey))
	assert.Equal(t, 1, received.Attempt)
	assert.Equal(t, "http://orders.test/orders", received.Target.Address)

	assert.Equal(t, `{"result":"OK"}`, resp.Payload.String())
	assert.Equal(t, "corr-1", resp.CorrelationId)
	assert.Equal(t, "corr-1", resp.Headers.Get(types.CorrelationIdKey))
	assert.Equal(t, "b1", resp.Headers.Get("X-Backend"))
	assert.Equal(t, types.JsonContentType, resp.Headers.Get("content-type"))
	assert.Equal(t, 1, resp.Metadata.Attempts)
	assert.Equal(t, "orders.create", resp.Metadata.RouteKey)
	assert.Equal(t, "REST", resp.Metadata.Protocol)

	assert.Equal(t, []string{
		"validate:success", "resolve_route:success", "transform_request:success", "resolve_handler:success",
		"invoke:success", "transform_response:success", "assemble:success",
	}, recorder.gatewayStages())

	m := g.Metrics()
	assert.Equal(t, int64(1), m.Total)
	assert.Equal(t, int64(1), m.Success)
	assert.Equal(t, int64(0), m.InFlight)
}

func TestUnknownRoute(t *testing.T) {
	var calls int32
	handler := restHandler(func(ctx context.Context, call *types.Call) (*types.RawResponse, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errors.New("unexpected")
	})
	g := newTestGateway(t, ordersSource(), handler)
	resp := g.Invoke(context.Background(), types.NewRequest("orders.unknown", types.NewPayload(types.JSON, []byte(`{}`))))

	require.False(t, resp.IsSuccess())
	assert.Equal(t, string(types.KindRouteNotFound), resp.Error.Code)
	assert.Equal(t, string(types.StageResolveRoute), resp.Error.Stage)
	assert.NotEmpty(t, resp.CorrelationId)
	assert.Equal(t, int32(0), calls)
	assert.Empty(t, g.Breakers().Keys())
}

func TestValidateStage(t *testing.T) {
	g := newTestGateway(t, ordersSource(), restHandler(nil))
	resp := g.Invoke(context.Background(), types.NewRequest("  ", types.NewPayload(types.JSON, []byte(`{}`))))
	assert.Equal(t, string(types.KindRouteMisconfigured), resp.Error.Code)
	assert.Equal(t, string(types.StageValidate), resp.Error.Stage)

	resp = g.Invoke(context.Background(), nil)
	require.NotNil(t, resp)
	assert.Equal(t, string(types.KindRouteMisconfigured), resp.Error.Code)
	assert.NotEmpty(t, resp.CorrelationId)
}

func TestStageTagging(t *testing.T) {
	source := ordersSource()
	source.routes["mqtt.route"] = &types.RouteDescriptor{
		Key: "mqtt.route", Protocol: "MQTT", Target: types.BackendTarget{Address: "tcp://broker:1883"},
	}
	source.routes["broken"] = &types.RouteDescriptor{Key: "broken", Protocol: "REST"}
	source.routes["missing.transform"] = &types.RouteDescriptor{
		Key: "missing.transform", Protocol: "REST", Target: types.BackendTarget{Address: "http://a"},
		RequestTransform: "nope",
	}
	var calls int32
	g := newTestGateway(t, source, restHandler(func(ctx context.Context, call *types.Call) (*types.RawResponse, error) {
		atomic.AddInt32(&calls, 1)
		return &types.RawResponse{Status: 200, Payload: types.NewPayload(types.JSON, []byte(`{"other":1}`))}, nil
	}))

	tests := []struct {
		name    string
		route   string
		payload types.Payload
		code    types.ErrorKind
		stage   types.Stage
	}{
		{"unknown protocol", "mqtt.route", types.NewPayload(types.JSON, []byte(`{}`)), types.KindRouteMisconfigured, types.StageResolveHandler},
		{"invalid route", "broken", types.NewPayload(types.JSON, []byte(`{}`)), types.KindRouteMisconfigured, types.StageResolveRoute},
		{"missing transform", "missing.transform", types.NewPayload(types.JSON, []byte(`{}`)), types.KindRouteMisconfigured, types.StageTransformRequest},
		{"missing field", "orders.create", types.NewPayload(types.JSON, []byte(`{"amt":"1"}`)), types.KindMappingFailed, types.StageTransformRequest},
		{"kind mismatch", "orders.create", types.NewPayload(types.XML, []byte(`<id>42</id>`)), types.KindPayloadMalformed, types.StageTransformRequest},
		{"empty payload", "orders.create", types.NewPayload(types.JSON, nil), types.KindPayloadMalformed, types.StageTransformRequest},
		{"response mapping", "orders.create", types.NewPayload(types.JSON, []byte(`{"id":"1","amt":"2"}`)), types.KindMappingFailed, types.StageTransformResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := g.Invoke(context.Background(), types.NewRequest(tt.route, tt.payload))
			require.False(t, resp.IsSuccess())
			assert.Equal(t, string(tt.code), resp.Error.Code)
			assert.Equal(t, string(tt.stage), resp.Error.Stage)
		})
	}
	// only the response mapping case reached the backend
	assert.Equal(t, int32(1), calls)
}

func breakerSource() *memorySource {
	s := newMemorySource()
	s.routes["orders.get"] = &types.RouteDescriptor{
		Key:      "orders.get",
		Protocol: "REST",
		Target:   types.BackendTarget{Address: "http://orders.test/orders/1", Method: http.MethodGet},
		Resilience: &types.ResiliencePolicy{
			Retry: &types.RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond},
			CircuitBreaker: &types.CircuitBreakerPolicy{
				Enabled:              true,
				FailureRateThreshold: 50,
				WindowSize:           3,
				MinimumCalls:         3,
				OpenDuration:         time.Minute,
			},
		},
	}
	return s
}

func TestBreakerOpensAfterConsecutiveTimeouts(t *testing.T) {
	var calls int32
	handler := restHandler(func(ctx context.Context, call *types.Call) (*types.RawResponse, error) {
		atomic.AddInt32(&calls, 1)
		return nil, types.NewBackendFault(http.StatusGatewayTimeout, true, "backend timed out")
	})
	recorder := &eventRecorder{}
	g := newTestGateway(t, breakerSource(), handler, types.WithListeners(recorder))
	req := func() *types.RequestEnvelope {
		return types.NewRequest("orders.get", types.NewPayload(types.JSON, []byte(`{}`)))
	}

	resp := g.Invoke(context.Background(), req())
	require.False(t, resp.IsSuccess())
	assert.Equal(t, string(types.KindUnretryable), resp.Error.Code)
	assert.Equal(t, string(types.StageInvoke), resp.Error.Stage)
	assert.Equal(t, 3, resp.Error.Attempts)
	assert.Equal(t, http.StatusGatewayTimeout, resp.Error.UpstreamStatus)
	assert.Equal(t, 3, resp.Metadata.Attempts)
	assert.Equal(t, "open", resp.Metadata.BreakerState)
	assert.Equal(t, int32(3), calls)

	resp = g.Invoke(context.Background(), req())
	assert.Equal(t, string(types.KindCircuitOpen), resp.Error.Code)
	assert.True(t, resp.Error.Retryable)
	assert.Equal(t, 0, resp.Metadata.Attempts)
	assert.Equal(t, int32(3), calls)

	var transitions, retries int
	for _, e := range recorder.events {
		switch e.Component {
		case types.ComponentBreaker:
			transitions++
			assert.Equal(t, "closed", e.From)
			assert.Equal(t, "open", e.To)
			assert.Equal(t, "backend:REST:http://orders.test/orders/1", e.BreakerKey)
		case types.ComponentRetry:
			retries++
		}
	}
	assert.Equal(t, 1, transitions)
	assert.Equal(t, 2, retries)
	assert.Equal(t, int64(1), g.Metrics().Rejected)
}

func TestDeadlineIsMinimumOfTimeouts(t *testing.T) {
	s := newMemorySource()
	s.routes["slow"] = &types.RouteDescriptor{
		Key:        "slow",
		Protocol:   "REST",
		Target:     types.BackendTarget{Address: "http://slow.test"},
		Timeout:    time.Second,
		Resilience: &types.ResiliencePolicy{Timeout: 50 * time.Millisecond},
	}
	var remaining time.Duration
	handler := restHandler(func(ctx context.Context, call *types.Call) (*types.RawResponse, error) {
		deadline, ok := ctx.Deadline()
		if ok {
			remaining = time.Until(deadline)
		}
		<-ctx.Done()
		return nil, ctx.Err()
	})
	g := newTestGateway(t, s, handler, types.WithDefaultTimeout(10*time.Second))
	resp := g.Invoke(context.Background(), types.NewRequest("slow", types.NewPayload(types.JSON, []byte(`{}`))))

	assert.Equal(t, string(types.KindDeadlineExceeded), resp.Error.Code)
	assert.Equal(t, string(types.StageInvoke), resp.Error.Stage)
	assert.True(t, remaining > 0 && remaining <= 50*time.Millisecond, remaining.String())
}

func TestPanicIsRecovered(t *testing.T) {
	handler := restHandler(func(ctx context.Context, call *types.Call) (*types.RawResponse, error) {
		panic("boom")
	})
	g := newTestGateway(t, ordersSource(), handler)
	resp := g.Invoke(context.Background(), types.NewRequest("orders.create",
		types.NewPayload(types.JSON, []byte(`{"id":"42","amt":"10.5"}`)), types.WithCorrelationId("c-9")))

	require.NotNil(t, resp)
	assert.Equal(t, string(types.KindInternalError), resp.Error.Code)
	assert.Equal(t, string(types.StageInvoke), resp.Error.Stage)
	assert.Equal(t, "c-9", resp.CorrelationId)
	assert.Equal(t, int64(1), g.Metrics().Panics)
	assert.Equal(t, int64(1), g.Metrics().Failed)
}

func TestRouteCache(t *testing.T) {
	source := ordersSource()
	g := newTestGateway(t, source, restHandler(func(ctx context.Context, call *types.Call) (*types.RawResponse, error) {
		return &types.RawResponse{Status: 200, Payload: types.NewPayload(types.JSON, []byte(`{"status":"OK"}`))}, nil
	}))
	req := func() *types.RequestEnvelope {
		return types.NewRequest("orders.create", types.NewPayload(types.JSON, []byte(`{"id":"42","amt":"10.5"}`)))
	}
	assert.True(t, g.Invoke(context.Background(), req()).IsSuccess())
	assert.True(t, g.Invoke(context.Background(), req()).IsSuccess())
	assert.Equal(t, int32(1), atomic.LoadInt32(&source.routeCalls))
	assert.Equal(t, []string{"orders.create"}, g.Resolver().CachedRoutes())

	g.Resolver().Invalidate("orders.create")
	assert.True(t, g.Invoke(context.Background(), req()).IsSuccess())
	assert.Equal(t, int32(2), atomic.LoadInt32(&source.routeCalls))
}

type staticCredential struct {
	token string
}

func (c staticCredential) ApplyHTTP(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.token)
}

func (c staticCredential) Metadata() map[string]string {
	return map[string]string{"authorization": "Bearer " + c.token}
}

type credentialProvider map[string]types.Credential

func (p credentialProvider) Credential(ctx context.Context, ref string) (types.Credential, error) {
	if c, ok := p[ref]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("credential %s: %w", ref, types.ErrNotFound)
}

func TestCredentials(t *testing.T) {
	source := ordersSource()
	source.routes["orders.create"].CredentialRef = "orders"
	var got types.Credential
	handler := restHandler(func(ctx context.Context, call *types.Call) (*types.RawResponse, error) {
		got = call.Credential
		return &types.RawResponse{Status: 200, Payload: types.NewPayload(types.JSON, []byte(`{"status":"OK"}`))}, nil
	})
	g := newTestGateway(t, source, handler,
		types.WithCredentialProvider(credentialProvider{"orders": staticCredential{token: "route"}}))
	req := func() *types.RequestEnvelope {
		return types.NewRequest("orders.create", types.NewPayload(types.JSON, []byte(`{"id":"42","amt":"10.5"}`)))
	}

	require.True(t, g.Invoke(context.Background(), req()).IsSuccess())
	assert.Equal(t, staticCredential{token: "route"}, got)

	ctx := types.WithCredential(context.Background(), staticCredential{token: "caller"})
	require.True(t, g.Invoke(ctx, req()).IsSuccess())
	assert.Equal(t, staticCredential{token: "caller"}, got)
}

func TestConcurrentCallsKeepCorrelation(t *testing.T) {
	g := newTestGateway(t, ordersSource(), restHandler(func(ctx context.Context, call *types.Call) (*types.RawResponse, error) {
		return &types.RawResponse{Status: 200, Payload: types.NewPayload(types.JSON, []byte(`{"status":"OK"}`))}, nil
	}))
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("c-%d", i)
			resp := g.Invoke(context.Background(), types.NewRequest("orders.create",
				types.NewPayload(types.JSON, []byte(`{"id":"42","amt":"10.5"}`)), types.WithCorrelationId(id)))
			assert.True(t, resp.IsSuccess())
			assert.Equal(t, id, resp.CorrelationId)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int64(50), g.Metrics().Success)
}
