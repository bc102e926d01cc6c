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

// Package websocket exposes the gateway over websocket connections.
//
// Each text or binary message is a JSON request frame:
//
//	{"routeKey":"orders.create","correlationId":"c-1","headers":{"X-Tenant":"acme"},"payload":{"id":1}}
//
// XML and raw payloads are sent as a JSON string together with "contentKind".
// Every request frame is answered by exactly one response frame carrying the
// same correlation id. Frames of one connection are processed concurrently, so
// responses may arrive out of order.
package websocket

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/rulego/gateway/api/types"
	"github.com/rulego/gateway/endpoint"
	"github.com/rulego/gateway/utils/json"
	"golang.org/x/sync/errgroup"
)

// Type 组件类型
const Type = "ws"

const (
	DefaultPath        = "/ws"
	DefaultMaxInFlight = 16
	DefaultReadLimit   = 8 << 20
)

// Config Websocket 服务配置
type Config struct {
	Path string `json:"path"`
	// MaxInFlight bounds the frames processed concurrently per connection.
	MaxInFlight int   `json:"maxInFlight"`
	ReadLimit   int64 `json:"readLimit"`
}

// RequestFrame 请求帧
type RequestFrame struct {
	RouteKey      string            `json:"routeKey"`
	CorrelationId string            `json:"correlationId,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
	// ContentKind defaults to JSON.
	ContentKind types.ContentKind `json:"contentKind,omitempty"`
	Payload     json.RawMessage   `json:"payload,omitempty"`
}

// ResponseFrame 响应帧
type ResponseFrame struct {
	CorrelationId string                 `json:"correlationId"`
	RouteKey      string                 `json:"routeKey,omitempty"`
	Status        types.Status           `json:"status"`
	Headers       map[string]string      `json:"headers,omitempty"`
	ContentKind   types.ContentKind      `json:"contentKind,omitempty"`
	Payload       json.RawMessage        `json:"payload,omitempty"`
	Error         *types.ErrorDescriptor `json:"error,omitempty"`
}

// Websocket 接收端端点
type Websocket struct {
	endpoint.BaseEndpoint
	Config   Config
	Upgrader websocket.Upgrader
}

// New creates a websocket endpoint dispatching to invoker.
func New(invoker endpoint.Invoker, config Config, logger types.Logger) *Websocket {
	if config.Path == "" {
		config.Path = DefaultPath
	}
	if config.MaxInFlight <= 0 {
		config.MaxInFlight = DefaultMaxInFlight
	}
	if config.ReadLimit <= 0 {
		config.ReadLimit = DefaultReadLimit
	}
	ws := &Websocket{Config: config}
	ws.Invoker = invoker
	ws.Logger = types.NewLogger(logger)
	return ws
}

func (ws *Websocket) Type() string {
	return Type
}

// Register mounts the endpoint on router, e.g. the router of the rest endpoint.
func (ws *Websocket) Register(router *httprouter.Router) {
	router.GET(ws.Config.Path, ws.handler())
}

func (ws *Websocket) handler() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
		c, err := ws.Upgrader.Upgrade(w, r, nil)
		if err != nil {
			ws.Printf("upgrade: %v", err)
			return
		}
		c.SetReadLimit(ws.Config.ReadLimit)
		conn := &connection{conn: c}
		var g errgroup.Group
		g.SetLimit(ws.Config.MaxInFlight)
		defer func() {
			_ = g.Wait()
			_ = c.Close()
		}()

		query := make(map[string]string)
		for key, values := range r.URL.Query() {
			if len(values) > 0 {
				query[key] = values[0]
			}
		}
		for {
			mt, message, err := c.ReadMessage()
			if err != nil {
				break
			}
			if mt != websocket.BinaryMessage && mt != websocket.TextMessage {
				continue
			}
			g.Go(func() error {
				conn.write(ws.process(r.Context(), message, query, r.URL.String()))
				return nil
			})
		}
	}
}

func (ws *Websocket) process(ctx context.Context, message []byte, query map[string]string, from string) *ResponseFrame {
	var frame RequestFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		resp := types.NewErrorResponse(types.NewCorrelationId(), types.WrapError(types.KindPayloadMalformed, err, "invalid request frame"))
		return toFrame("", resp)
	}
	request := frame.envelope()
	params := make(map[string]string, len(query))
	for k, v := range query {
		params[k] = v
	}
	exchange := &endpoint.Exchange{Request: request, Params: params, From: from}
	return toFrame(frame.RouteKey, ws.DoProcess(ctx, exchange))
}

func (f *RequestFrame) envelope() *types.RequestEnvelope {
	headers := types.NewHeaders()
	for k, v := range f.Headers {
		headers.Set(k, v)
	}
	kind := f.ContentKind
	if kind == "" {
		kind = types.JSON
	} else {
		kind = types.ParseContentKind(string(kind))
	}
	data := []byte(f.Payload)
	if kind != types.JSON && len(data) > 0 {
		// xml and raw payloads travel as a JSON string
		var s string
		if err := json.Unmarshal(data, &s); err == nil {
			data = []byte(s)
		}
	}
	return types.NewRequest(f.RouteKey, types.NewPayload(kind, data),
		types.WithHeaders(headers), types.WithCorrelationId(f.CorrelationId))
}

func toFrame(routeKey string, resp *types.ResponseEnvelope) *ResponseFrame {
	frame := &ResponseFrame{
		CorrelationId: resp.CorrelationId,
		RouteKey:      routeKey,
		Status:        resp.Status,
		Error:         resp.Error,
	}
	if resp.Headers.Len() > 0 {
		frame.Headers = resp.Headers.ToMap()
	}
	if len(resp.Payload.Data) > 0 {
		frame.ContentKind = resp.Payload.Kind
		if resp.Payload.Kind == types.JSON && json.Valid(resp.Payload.Data) {
			frame.Payload = resp.Payload.Data
		} else {
			frame.Payload = json.QuoteString(string(resp.Payload.Data))
		}
	}
	return frame
}

// connection serializes writes, gorilla connections support one concurrent writer.
type connection struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *connection) write(frame *ResponseFrame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.WriteJSON(frame)
}
