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

package protocol

import (
	"context"
	"strings"

	"github.com/rulego/gateway/api/types"
)

// RestHandler calls REST backends over HTTP.
//
// Protocol ids:
//   - REST: the payload is sent with the content type of its kind
//   - REST_JSON: always application/json
//   - REST_XML: always application/xml
//
// The backend address may contain ${} placeholders, e.g.
// "http://orders/orders/${msg.orderId}", resolved from the outbound JSON
// payload (msg) and the call metadata (meta.correlationId, meta.routeKey, meta.headers).
// GET, HEAD, DELETE and OPTIONS calls carry no body.
//
// Statuses 408, 429 and 5xx are transient backend faults, other non-2xx
// statuses are permanent. Fault codes follow StatusFaultCode.
type RestHandler struct {
	options
}

// NewRestHandler 创建REST处理器
func NewRestHandler(opts ...Option) *RestHandler {
	return &RestHandler{options: newOptions(opts)}
}

func (h *RestHandler) Supports(protocol string) bool {
	switch protocol {
	case types.ProtocolRest, types.ProtocolRestJson, types.ProtocolRestXml:
		return true
	}
	return false
}

func (h *RestHandler) Invoke(ctx context.Context, call *types.Call) (*types.RawResponse, error) {
	method := methodOrDefault(call.Target.Method)
	kind := restKind(call.Protocol, call.Payload.Kind)
	var body []byte
	if !bodyless(method) {
		body = call.Payload.Data
		if body == nil {
			body = []byte{}
		}
	}
	req, err := newHTTPRequest(call, method, body)
	if err != nil {
		return nil, err
	}
	req.contentType = kind.ContentType()
	if kind != types.RAW {
		req.accept = kind.ContentType()
	}

	resp, b, err := h.do(ctx, call, req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusFault(resp.StatusCode, b)
	}
	fallback := call.Target.ContentKind
	if fallback == "" {
		fallback = kind
	}
	return &types.RawResponse{
		Status:  resp.StatusCode,
		Headers: types.HeadersFromHTTP(resp.Header),
		Payload: types.NewPayload(responseKind(resp, fallback), b),
	}, nil
}

func (h *RestHandler) TranslateFault(err error) *types.GatewayError {
	return translateHTTPError(err)
}

// restKind returns the wire kind for protocol. Plain REST keeps the payload kind.
func restKind(protocol string, payloadKind types.ContentKind) types.ContentKind {
	switch strings.ToUpper(protocol) {
	case types.ProtocolRestJson:
		return types.JSON
	case types.ProtocolRestXml:
		return types.XML
	}
	if payloadKind == "" {
		return types.RAW
	}
	return payloadKind
}
