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

package websocket

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/rulego/gateway/api/types"
	"github.com/rulego/gateway/endpoint"
	"github.com/rulego/gateway/utils/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, invoker endpoint.Invoker) *websocket.Conn {
	router := httprouter.New()
	New(invoker, Config{}, types.NopLogger{}).Register(router)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	c, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+DefaultPath, nil)
	require.Nil(t, err)
	t.Cleanup(func() {
		_ = c.Close()
	})
	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
	return c
}

func echo() endpoint.Invoker {
	return endpoint.InvokerFunc(func(ctx context.Context, req *types.RequestEnvelope) *types.ResponseEnvelope {
		if req.RouteKey() == "missing" {
			return types.NewErrorResponse(req.CorrelationId(), types.NewError(types.KindRouteNotFound, "no route"))
		}
		return types.NewSuccessResponse(req.CorrelationId(), req.Payload(), types.NewHeaders("X-Tenant", req.Headers().Get("x-tenant")))
	})
}

func TestWebsocketFrames(t *testing.T) {
	c := dial(t, echo())

	require.Nil(t, c.WriteMessage(websocket.TextMessage, []byte(`{"routeKey":"orders.create","correlationId":"c-1","headers":{"X-Tenant":"acme"},"payload":{"id":1}}`)))
	var resp ResponseFrame
	require.Nil(t, c.ReadJSON(&resp))
	assert.Equal(t, "c-1", resp.CorrelationId)
	assert.Equal(t, "orders.create", resp.RouteKey)
	assert.Equal(t, types.StatusSuccess, resp.Status)
	assert.Equal(t, types.JSON, resp.ContentKind)
	assert.JSONEq(t, `{"id":1}`, string(resp.Payload))
	assert.Equal(t, "acme", resp.Headers["x-tenant"])

	require.Nil(t, c.WriteMessage(websocket.TextMessage, []byte(`{"routeKey":"orders.get","correlationId":"c-2","contentKind":"xml","payload":"<order id=\"1\"/>"}`)))
	resp = ResponseFrame{}
	require.Nil(t, c.ReadJSON(&resp))
	assert.Equal(t, "c-2", resp.CorrelationId)
	assert.Equal(t, types.XML, resp.ContentKind)
	var xml string
	require.Nil(t, json.Unmarshal(resp.Payload, &xml))
	assert.Equal(t, `<order id="1"/>`, xml)
}

func TestWebsocketErrors(t *testing.T) {
	c := dial(t, echo())

	require.Nil(t, c.WriteMessage(websocket.TextMessage, []byte(`{"routeKey":"missing","correlationId":"c-3"}`)))
	var resp ResponseFrame
	require.Nil(t, c.ReadJSON(&resp))
	assert.Equal(t, types.StatusFailure, resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "ROUTE_NOT_FOUND", resp.Error.Code)
	assert.Equal(t, "c-3", resp.CorrelationId)

	require.Nil(t, c.WriteMessage(websocket.TextMessage, []byte(`not a frame`)))
	resp = ResponseFrame{}
	require.Nil(t, c.ReadJSON(&resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "PAYLOAD_MALFORMED", resp.Error.Code)
	assert.NotEmpty(t, resp.CorrelationId)
}

func TestWebsocketConcurrentFrames(t *testing.T) {
	c := dial(t, echo())
	ids := map[string]bool{}
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		ids[id] = true
		require.Nil(t, c.WriteMessage(websocket.TextMessage, []byte(`{"routeKey":"r","correlationId":"`+id+`","payload":{}}`)))
	}
	for i := 0; i < 5; i++ {
		var resp ResponseFrame
		require.Nil(t, c.ReadJSON(&resp))
		assert.True(t, ids[resp.CorrelationId])
		delete(ids, resp.CorrelationId)
	}
	assert.Empty(t, ids)
}
