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

package processor

import (
	"context"
	"testing"

	"github.com/rulego/gateway/api/types"
	"github.com/rulego/gateway/endpoint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryToHeaders(t *testing.T) {
	p, ok := Builtins.Get(QueryToHeaders)
	require.True(t, ok)
	exchange := &endpoint.Exchange{
		Request: types.NewRequest("items.search", types.NewPayload(types.JSON, []byte(`{}`)),
			types.WithCorrelationId("c-1"), types.WithHeaders(types.NewHeaders("X-Tenant", "acme"))),
		Params: map[string]string{"q": "shoes"},
	}
	require.Nil(t, p(context.Background(), exchange))
	h := exchange.Request.Headers()
	assert.Equal(t, "shoes", h.Get("X-Query-q"))
	assert.Equal(t, "acme", h.Get("X-Tenant"))
	assert.Equal(t, "c-1", exchange.Request.CorrelationId())
	assert.Equal(t, "items.search", exchange.Request.RouteKey())
	assert.Equal(t, `{}`, exchange.Request.Payload().String())
}

func TestRequirePayload(t *testing.T) {
	p, ok := Builtins.Get(RequirePayload)
	require.True(t, ok)
	err := p(context.Background(), &endpoint.Exchange{Request: types.NewRequest("a", types.NewPayload(types.JSON, []byte("  ")))})
	assert.Equal(t, types.KindPayloadMalformed, types.KindOf(err))
	assert.Nil(t, p(context.Background(), &endpoint.Exchange{Request: types.NewRequest("a", types.NewPayload(types.JSON, []byte("{}")))}))
}

func TestResolve(t *testing.T) {
	ps, err := Builtins.Resolve("queryToHeaders", " requirePayload ", "")
	require.Nil(t, err)
	assert.Len(t, ps, 2)
	_, err = Builtins.Resolve("nope")
	assert.NotNil(t, err)

	Builtins.Register("custom", func(ctx context.Context, exchange *endpoint.Exchange) error { return nil })
	assert.Contains(t, Builtins.Names(), "custom")
	Builtins.Unregister("custom")
	_, ok := Builtins.Get("custom")
	assert.False(t, ok)
}
