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
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rulego/gateway/api/types"
	"github.com/rulego/gateway/utils/el"
	"github.com/rulego/gateway/utils/json"
	"github.com/rulego/gateway/utils/str"
	"golang.org/x/net/proxy"
)

// FaultNetwork is the fault code of transport failures without an HTTP status.
const FaultNetwork = "NETWORK_ERROR"

// hop-by-hop and entity headers are never forwarded from the inbound request
var skipHeaders = map[string]bool{
	"connection":          true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"te":                  true,
	"trailer":             true,
	"transfer-encoding":   true,
	"upgrade":             true,
	"host":                true,
	"content-length":      true,
	"content-type":        true,
	"accept-encoding":     true,
}

// clientCache shares one http.Client per transport setting.
type clientCache struct {
	maxConnsPerHost int
	dialTimeout     time.Duration
	clients         sync.Map
}

type clientKey struct {
	insecure bool
	proxy    string
}

func newClientCache(maxConnsPerHost int, dialTimeout time.Duration) *clientCache {
	return &clientCache{maxConnsPerHost: maxConnsPerHost, dialTimeout: dialTimeout}
}

func (c *clientCache) get(target types.BackendTarget) (*http.Client, error) {
	key := clientKey{insecure: target.Insecure, proxy: strings.TrimSpace(target.ProxyURL)}
	if v, ok := c.clients.Load(key); ok {
		return v.(*http.Client), nil
	}
	client, err := c.newClient(key)
	if err != nil {
		return nil, err
	}
	v, _ := c.clients.LoadOrStore(key, client)
	return v.(*http.Client), nil
}

// newClient 创建http客户端。超时由调用的context控制，客户端本身不设置超时
func (c *clientCache) newClient(key clientKey) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxConnsPerHost = c.maxConnsPerHost
	transport.DialContext = (&net.Dialer{Timeout: c.dialTimeout, KeepAlive: 30 * time.Second}).DialContext
	if key.insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	switch key.proxy {
	case "":
		transport.Proxy = nil
	case "system":
		transport.Proxy = http.ProxyFromEnvironment
	default:
		proxyURL, err := url.Parse(key.proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url %q: %w", key.proxy, err)
		}
		if proxyURL.Scheme == "socks5" {
			transport.Proxy = nil
			transport.DialContext = socks5Dialer(proxyURL, c.dialTimeout)
		} else {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}
	return &http.Client{Transport: transport}, nil
}

// socks5Dialer 创建SOCKS5拨号器
func socks5Dialer(proxyURL *url.URL, timeout time.Duration) func(ctx context.Context, network, addr string) (net.Conn, error) {
	var auth *proxy.Auth
	if proxyURL.User != nil {
		password, _ := proxyURL.User.Password()
		auth = &proxy.Auth{User: proxyURL.User.Username(), Password: password}
	}
	forward := &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		dialer, err := proxy.SOCKS5("tcp", proxyURL.Host, auth, forward)
		if err != nil {
			return nil, err
		}
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			return cd.DialContext(ctx, network, addr)
		}
		return dialer.Dial(network, addr)
	}
}

// httpRequest is a prepared outbound HTTP call.
type httpRequest struct {
	method      string
	url         string
	body        []byte
	contentType string
	accept      string
	headers     http.Header
}

// newHTTPRequest resolves the target address and copies the forwardable call headers,
// the static target headers and the credential.
func newHTTPRequest(call *types.Call, method string, body []byte) (*httpRequest, error) {
	address, err := resolveAddress(call)
	if err != nil {
		return nil, err
	}
	r := &httpRequest{method: method, url: address, body: body, headers: make(http.Header)}
	for _, h := range call.Headers.All() {
		if !skipHeaders[strings.ToLower(h.Name)] {
			r.headers.Add(h.Name, h.Value)
		}
	}
	for k, v := range call.Target.Headers {
		r.headers.Set(k, v)
	}
	return r, nil
}

// do sends the request and reads the whole response. Non-2xx statuses are
// returned as backend faults.
func (o *options) do(ctx context.Context, call *types.Call, r *httpRequest) (*http.Response, []byte, error) {
	client, err := o.clients.get(call.Target)
	if err != nil {
		return nil, nil, types.WrapError(types.KindRouteMisconfigured, err, "route %s", call.RouteKey)
	}
	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, r.url, body)
	if err != nil {
		return nil, nil, types.WrapError(types.KindRouteMisconfigured, err, "route %s: invalid backend request", call.RouteKey)
	}
	for k, vs := range r.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if r.contentType != "" && r.body != nil {
		req.Header.Set(types.ContentTypeKey, r.contentType)
	}
	if r.accept != "" && req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", r.accept)
	}
	if call.Credential != nil {
		call.Credential.ApplyHTTP(req)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, o.maxResponseBytes+1))
	if err != nil {
		return resp, nil, err
	}
	if int64(len(b)) > o.maxResponseBytes {
		return resp, nil, types.NewBackendFault(resp.StatusCode, false,
			"response from %s exceeds %d bytes", r.url, o.maxResponseBytes)
	}
	return resp, b, nil
}

// statusFault maps a non-2xx HTTP status into a backend fault.
func statusFault(status int, body []byte) *types.GatewayError {
	e := types.NewBackendFault(status, RetryableStatus(status), "%s", StatusMessage(status))
	e.FaultCode = StatusFaultCode(status)
	e.FaultDetail = str.Truncate(string(body), 1024)
	return e
}

// RetryableStatus 408、429和5xx可以重试
func RetryableStatus(status int) bool {
	return status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500
}

// StatusFaultCode returns the fault code reported for an HTTP status.
func StatusFaultCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "INVALID_REQUEST"
	case http.StatusUnauthorized:
		return "AUTHENTICATION_FAILED"
	case http.StatusForbidden:
		return "AUTHORIZATION_DENIED"
	case http.StatusNotFound:
		return "RESOURCE_NOT_FOUND"
	case http.StatusRequestTimeout:
		return "REQUEST_TIMEOUT"
	case http.StatusTooManyRequests:
		return "RATE_LIMIT_EXCEEDED"
	case http.StatusInternalServerError:
		return "INTERNAL_SERVER_ERROR"
	case http.StatusBadGateway:
		return "BAD_GATEWAY"
	case http.StatusServiceUnavailable:
		return "SERVICE_UNAVAILABLE"
	case http.StatusGatewayTimeout:
		return "GATEWAY_TIMEOUT"
	default:
		return fmt.Sprintf("HTTP_ERROR_%d", status)
	}
}

// StatusMessage 状态码描述
func StatusMessage(status int) string {
	if text := http.StatusText(status); text != "" {
		return fmt.Sprintf("backend returned %d %s", status, text)
	}
	return fmt.Sprintf("backend returned %d", status)
}

// translateHTTPError maps a transport error into the taxonomy. Network
// failures are transient.
func translateHTTPError(err error) *types.GatewayError {
	if err == nil {
		return nil
	}
	if ge, ok := types.AsGatewayError(err); ok {
		return ge
	}
	e := types.WrapError(types.KindBackendFault, err, "backend unreachable")
	e.FaultCode = FaultNetwork
	var netErr net.Error
	var urlErr *url.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		e.Transient = true
	case errors.As(err, &netErr), errors.As(err, &urlErr):
		e.Transient = true
	}
	return e
}

var addressTemplates sync.Map

// resolveAddress 解析后端地址中的 ${} 变量
// msg is the outbound JSON payload, meta carries correlationId, routeKey and headers.
func resolveAddress(call *types.Call) (string, error) {
	address := strings.TrimSpace(call.Target.Address)
	if !str.CheckHasVar(address) {
		return address, nil
	}
	var tmpl *el.MixedTemplate
	if v, ok := addressTemplates.Load(address); ok {
		tmpl = v.(*el.MixedTemplate)
	} else {
		t, err := el.NewMixedTemplate(address)
		if err != nil {
			return "", types.WrapError(types.KindRouteMisconfigured, err, "route %s: invalid address template", call.RouteKey)
		}
		addressTemplates.Store(address, t)
		tmpl = t
	}
	var msg interface{}
	if call.Payload.Kind == types.JSON && !call.Payload.IsEmpty() {
		_ = json.Unmarshal(call.Payload.Data, &msg)
	}
	resolved, err := tmpl.ExecuteAsString(map[string]any{
		"msg": msg,
		"meta": map[string]any{
			"correlationId": call.CorrelationId,
			"routeKey":      call.RouteKey,
			"headers":       call.Headers.ToMap(),
		},
	})
	if err != nil {
		return "", types.WrapError(types.KindMappingFailed, err, "route %s: address %s", call.RouteKey, address)
	}
	return resolved, nil
}

// responseKind picks the payload kind of a backend response.
func responseKind(resp *http.Response, fallback types.ContentKind) types.ContentKind {
	if ct := resp.Header.Get(types.ContentTypeKey); ct != "" {
		if k := types.KindFromContentType(ct); k != types.RAW || fallback == "" {
			return k
		}
	}
	if fallback == "" {
		return types.RAW
	}
	return fallback
}

func methodOrDefault(method string) string {
	if m := strings.ToUpper(strings.TrimSpace(method)); m != "" {
		return m
	}
	return http.MethodPost
}

// bodyless methods do not carry the outbound payload
func bodyless(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodDelete, http.MethodOptions:
		return true
	}
	return false
}
