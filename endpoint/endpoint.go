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

// Package endpoint provides the inbound surfaces of the gateway. 网关入站端点
//
// An endpoint turns a protocol specific request (an HTTP request, a websocket
// frame) into a types.RequestEnvelope, runs the registered interceptors and
// hands the envelope to the gateway. Built-in endpoints:
//
//   - rest: HTTP server based on httprouter (endpoint/rest)
//   - ws: websocket server sharing the rest router (endpoint/websocket)
package endpoint

import (
	"context"
	"fmt"
	"sync"

	"github.com/rulego/gateway/api/types"
)

// Invoker 网关调用入口
type Invoker interface {
	Invoke(ctx context.Context, req *types.RequestEnvelope) *types.ResponseEnvelope
}

// InvokerFunc 函数适配
type InvokerFunc func(ctx context.Context, req *types.RequestEnvelope) *types.ResponseEnvelope

func (f InvokerFunc) Invoke(ctx context.Context, req *types.RequestEnvelope) *types.ResponseEnvelope {
	return f(ctx, req)
}

// Exchange 一次入站交换，包含请求和响应
type Exchange struct {
	Request  *types.RequestEnvelope
	Response *types.ResponseEnvelope
	// Params holds the path and query parameters of the inbound request.
	Params map[string]string
	// From is the inbound address, e.g. the request URL.
	From string
}

// Interceptor runs before the gateway is invoked. A non-nil error stops the
// exchange and is returned to the caller as a failure response. An interceptor
// may also replace exchange.Request.
type Interceptor func(ctx context.Context, exchange *Exchange) error

// BaseEndpoint holds what the endpoint implementations share.
type BaseEndpoint struct {
	Invoker Invoker
	Logger  types.Logger

	mu           sync.RWMutex
	interceptors []Interceptor
}

// AddInterceptors 添加全局拦截器
func (e *BaseEndpoint) AddInterceptors(interceptors ...Interceptor) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.interceptors = append(e.interceptors, interceptors...)
}

// DoProcess runs the interceptors and invokes the gateway. It always sets and
// returns exchange.Response.
func (e *BaseEndpoint) DoProcess(ctx context.Context, exchange *Exchange) (resp *types.ResponseEnvelope) {
	correlationId := exchange.Request.CorrelationId()
	defer func() {
		if p := recover(); p != nil {
			e.Printf("endpoint panic correlationId=%s: %v", correlationId, p)
			resp = types.NewErrorResponse(correlationId, types.NewError(types.KindInternalError, "endpoint panic: %v", p))
		}
		exchange.Response = resp
	}()
	e.mu.RLock()
	interceptors := e.interceptors
	e.mu.RUnlock()
	for _, interceptor := range interceptors {
		if err := interceptor(ctx, exchange); err != nil {
			return types.NewErrorResponse(exchange.Request.CorrelationId(), err)
		}
	}
	if e.Invoker == nil {
		return types.NewErrorResponse(correlationId, fmt.Errorf("endpoint has no invoker"))
	}
	return e.Invoker.Invoke(ctx, exchange.Request)
}

func (e *BaseEndpoint) Printf(format string, v ...interface{}) {
	if e.Logger != nil {
		e.Logger.Printf(format, v...)
	}
}
