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

// Package rest exposes the gateway over HTTP.
//
// Every route key is served at POST {Path} (default /api/:routeKey); the
// request body is the payload, its kind follows Content-Type and the request
// headers travel with the envelope. Failures are written as a JSON error
// descriptor with the HTTP status of the error kind.
package rest

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rulego/gateway/api/types"
	"github.com/rulego/gateway/endpoint"
	"github.com/rulego/gateway/utils/json"
)

// Type 组件类型
const Type = "rest"

const (
	// RouteKeyParam is the path parameter holding the route key.
	RouteKeyParam = "routeKey"
	DefaultPath   = "/api/:" + RouteKeyParam
	// DefaultMaxBodyBytes 默认请求体上限
	DefaultMaxBodyBytes = 8 << 20
)

// Config Rest 服务配置
type Config struct {
	// Server is the listen address, e.g. ":9090".
	Server      string `json:"server"`
	CertFile    string `json:"certFile"`
	CertKeyFile string `json:"certKeyFile"`
	// Path must contain the :routeKey parameter.
	Path         string        `json:"path"`
	MaxBodyBytes int64         `json:"maxBodyBytes"`
	ReadTimeout  time.Duration `json:"readTimeout"`
	// Methods served on Path. Default POST, PUT and GET.
	Methods []string `json:"methods"`
}

// Rest 接收端端点
type Rest struct {
	endpoint.BaseEndpoint
	Config Config
	Server *http.Server
	router *httprouter.Router
}

// New creates a rest endpoint dispatching to invoker.
func New(invoker endpoint.Invoker, config Config, logger types.Logger) *Rest {
	if config.Path == "" {
		config.Path = DefaultPath
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if len(config.Methods) == 0 {
		config.Methods = []string{http.MethodPost, http.MethodPut, http.MethodGet}
	}
	r := &Rest{Config: config, router: httprouter.New()}
	r.Server = &http.Server{Addr: config.Server, Handler: r.router, ReadHeaderTimeout: config.ReadTimeout}
	r.Invoker = invoker
	r.Logger = types.NewLogger(logger)
	for _, method := range config.Methods {
		r.router.Handle(method, config.Path, r.handler())
	}
	return r
}

func (r *Rest) Type() string {
	return Type
}

func (r *Rest) Router() *httprouter.Router {
	return r.router
}

// Handle registers an extra handler on the endpoint router, e.g. a metrics handler.
func (r *Rest) Handle(method, path string, handler http.Handler) *Rest {
	r.router.Handler(method, path, handler)
	return r
}

// GET 注册GET路由
func (r *Rest) GET(path string, handle httprouter.Handle) *Rest {
	r.router.GET(path, handle)
	return r
}

// Listen opens the listener of the configured address.
func (r *Rest) Listen() (net.Listener, error) {
	addr := r.Config.Server
	if addr == "" {
		if r.isTls() {
			addr = ":https"
		} else {
			addr = ":http"
		}
	}
	return net.Listen("tcp", addr)
}

// Serve serves on ln until Shutdown is called. It returns nil after a clean shutdown.
func (r *Rest) Serve(ln net.Listener) error {
	var err error
	if r.isTls() {
		r.Printf("started rest server with TLS on %s", ln.Addr())
		err = r.Server.ServeTLS(ln, r.Config.CertFile, r.Config.CertKeyFile)
	} else {
		r.Printf("started rest server on %s", ln.Addr())
		err = r.Server.Serve(ln)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Start listens and serves in the background.
func (r *Rest) Start() error {
	ln, err := r.Listen()
	if err != nil {
		return err
	}
	go func() {
		if err := r.Serve(ln); err != nil {
			r.Printf("rest server stopped: %v", err)
		}
	}()
	return nil
}

// Shutdown gracefully stops the server.
func (r *Rest) Shutdown(ctx context.Context) error {
	return r.Server.Shutdown(ctx)
}

func (r *Rest) isTls() bool {
	return r.Config.CertKeyFile != "" && r.Config.CertFile != ""
}

func (r *Rest) handler() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, params httprouter.Params) {
		body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, r.Config.MaxBodyBytes))
		headers := types.HeadersFromHTTP(req.Header)
		if err != nil {
			var maxErr *http.MaxBytesError
			cause := types.WrapError(types.KindPayloadMalformed, err, "read request body")
			if errors.As(err, &maxErr) {
				cause = types.NewError(types.KindPayloadMalformed, "request body exceeds %d bytes", r.Config.MaxBodyBytes)
			}
			WriteResponse(w, types.NewErrorResponse(types.NewRequest("", types.Payload{}, types.WithHeaders(headers)).CorrelationId(), cause))
			return
		}
		kind := types.KindFromContentType(req.Header.Get(types.ContentTypeKey))
		request := types.NewRequest(params.ByName(RouteKeyParam), types.NewPayload(kind, body), types.WithHeaders(headers))

		exchange := &endpoint.Exchange{Request: request, Params: make(map[string]string), From: req.URL.String()}
		for _, p := range params {
			exchange.Params[p.Key] = p.Value
		}
		for key, values := range req.URL.Query() {
			if len(values) > 0 {
				exchange.Params[key] = values[0]
			}
		}
		WriteResponse(w, r.DoProcess(req.Context(), exchange))
	}
}

// WriteResponse writes a response envelope to w.
// 成功时写入负荷和响应头，失败时写入JSON错误描述
func WriteResponse(w http.ResponseWriter, resp *types.ResponseEnvelope) {
	header := w.Header()
	if resp.IsSuccess() {
		resp.Headers.WriteTo(header)
		if header.Get(types.ContentTypeKey) == "" && len(resp.Payload.Data) > 0 {
			header.Set(types.ContentTypeKey, resp.Payload.Kind.ContentType())
		}
		header.Set(types.CorrelationIdKey, resp.CorrelationId)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(resp.Payload.Data)
		return
	}
	header.Set(types.ContentTypeKey, types.JsonContentType)
	header.Set(types.CorrelationIdKey, resp.CorrelationId)
	w.WriteHeader(types.HTTPStatus(types.ErrorKind(resp.Error.Code)))
	body, _ := json.Marshal(resp.Error)
	_, _ = w.Write(body)
}
