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
	"net/http"

	"github.com/rulego/gateway/api/types"
)

// ProxyHandler forwards the call to an HTTP backend unchanged: the payload is
// the body, forwardable inbound headers are copied and the response body is
// returned as is. Target.Method defaults to POST, or GET when the payload is empty.
type ProxyHandler struct {
	options
}

// NewProxyHandler 创建透传处理器
func NewProxyHandler(opts ...Option) *ProxyHandler {
	return &ProxyHandler{options: newOptions(opts)}
}

func (h *ProxyHandler) Supports(protocol string) bool {
	return protocol == types.ProtocolProxy
}

func (h *ProxyHandler) Invoke(ctx context.Context, call *types.Call) (*types.RawResponse, error) {
	method := call.Target.Method
	if method == "" && call.Payload.IsEmpty() {
		method = http.MethodGet
	}
	method = methodOrDefault(method)
	var body []byte
	if !call.Payload.IsEmpty() {
		body = call.Payload.Data
	}
	req, err := newHTTPRequest(call, method, body)
	if err != nil {
		return nil, err
	}
	req.contentType = call.Headers.Get(types.ContentTypeKey)
	if req.contentType == "" {
		req.contentType = call.Payload.Kind.ContentType()
	}

	resp, b, err := h.do(ctx, call, req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusFault(resp.StatusCode, b)
	}
	return &types.RawResponse{
		Status:  resp.StatusCode,
		Headers: types.HeadersFromHTTP(resp.Header),
		Payload: types.NewPayload(responseKind(resp, call.Target.ContentKind), b),
	}, nil
}

func (h *ProxyHandler) TranslateFault(err error) *types.GatewayError {
	return translateHTTPError(err)
}
