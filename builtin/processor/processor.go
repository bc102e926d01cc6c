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

// Package processor holds named built-in endpoint interceptors, so endpoints
// can be configured with interceptor names, e.g. GATEWAY_INTERCEPTORS=queryToHeaders.
package processor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rulego/gateway/api/types"
	"github.com/rulego/gateway/endpoint"
)

const (
	// QueryToHeaders copies query parameters into request headers named X-Query-{name}.
	QueryToHeaders = "queryToHeaders"
	// RequirePayload rejects requests with an empty payload.
	RequirePayload = "requirePayload"
	// QueryHeaderPrefix 查询参数请求头前缀
	QueryHeaderPrefix = "X-Query-"
)

// Builtins 内置处理器，端点配置通过名称引用
var Builtins = builtins{}

func init() {
	Builtins.Register(QueryToHeaders, func(ctx context.Context, exchange *endpoint.Exchange) error {
		if len(exchange.Params) == 0 {
			return nil
		}
		req := exchange.Request
		headers := req.Headers()
		for k, v := range exchange.Params {
			headers.Set(QueryHeaderPrefix+k, v)
		}
		exchange.Request = types.NewRequest(req.RouteKey(), req.Payload(),
			types.WithHeaders(headers), types.WithCorrelationId(req.CorrelationId()))
		return nil
	})
	Builtins.Register(RequirePayload, func(ctx context.Context, exchange *endpoint.Exchange) error {
		if exchange.Request.Payload().IsEmpty() {
			return types.NewError(types.KindPayloadMalformed, "request payload is empty")
		}
		return nil
	})
}

type builtins struct {
	processors map[string]endpoint.Interceptor
	lock       sync.RWMutex
}

// Register 注册内置处理器
func (b *builtins) Register(name string, processor endpoint.Interceptor) {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.processors == nil {
		b.processors = make(map[string]endpoint.Interceptor)
	}
	b.processors[name] = processor
}

// Unregister 删除内置处理器
func (b *builtins) Unregister(names ...string) {
	b.lock.Lock()
	defer b.lock.Unlock()
	for _, name := range names {
		delete(b.processors, name)
	}
}

// Get 获取内置处理器
func (b *builtins) Get(name string) (endpoint.Interceptor, bool) {
	b.lock.RLock()
	defer b.lock.RUnlock()
	p, ok := b.processors[name]
	return p, ok
}

// Resolve looks up every name. Unknown names are an error.
func (b *builtins) Resolve(names ...string) ([]endpoint.Interceptor, error) {
	var out []endpoint.Interceptor
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		p, ok := b.Get(name)
		if !ok {
			return nil, fmt.Errorf("unknown interceptor %q, available: %s", name, strings.Join(b.Names(), ","))
		}
		out = append(out, p)
	}
	return out, nil
}

// Names returns the sorted processor names.
func (b *builtins) Names() []string {
	b.lock.RLock()
	defer b.lock.RUnlock()
	names := make([]string, 0, len(b.processors))
	for k := range b.processors {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
