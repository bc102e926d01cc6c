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
	"crypto/tls"
	"strings"
	"sync"

	"github.com/rulego/gateway/api/types"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// GrpcHandler calls unary gRPC methods without generated stubs.
//
// Target.Address is the dial target (host:port or any grpc-go target URI) and
// Target.Operation the full method name, "/orders.v1.Orders/Create". The JSON
// payload is sent as a google.protobuf.Struct and the reply Struct is returned as
// JSON. Backends must therefore accept and return Struct-compatible messages.
//
// The correlation id, static target headers and the credential metadata are sent
// as gRPC metadata. Status codes map into the taxonomy by TranslateFault.
type GrpcHandler struct {
	options
	mu    sync.Mutex
	conns map[grpcConnKey]*grpc.ClientConn
}

type grpcConnKey struct {
	address  string
	insecure bool
}

// NewGrpcHandler 创建gRPC处理器
func NewGrpcHandler(opts ...Option) *GrpcHandler {
	return &GrpcHandler{options: newOptions(opts), conns: make(map[grpcConnKey]*grpc.ClientConn)}
}

func (h *GrpcHandler) Supports(protocol string) bool {
	return protocol == types.ProtocolGrpc
}

func (h *GrpcHandler) Invoke(ctx context.Context, call *types.Call) (*types.RawResponse, error) {
	method := strings.TrimSpace(call.Target.Operation)
	if method == "" {
		return nil, types.NewError(types.KindRouteMisconfigured, "route %s: gRPC method is empty", call.RouteKey)
	}
	if !strings.HasPrefix(method, "/") {
		method = "/" + method
	}
	in := &structpb.Struct{}
	if !call.Payload.IsEmpty() {
		if call.Payload.Kind != types.JSON {
			return nil, types.NewError(types.KindPayloadMalformed, "gRPC payload must be JSON, got %s", call.Payload.Kind)
		}
		if err := protojson.Unmarshal(call.Payload.Data, in); err != nil {
			return nil, types.WrapError(types.KindPayloadMalformed, err, "gRPC payload is not a JSON object")
		}
	}
	conn, err := h.conn(call.Target)
	if err != nil {
		return nil, types.WrapError(types.KindRouteMisconfigured, err, "route %s: gRPC target %s", call.RouteKey, call.Target.Address)
	}

	md := metadata.MD{}
	if call.CorrelationId != "" {
		md.Set(strings.ToLower(types.CorrelationIdKey), call.CorrelationId)
	}
	for k, v := range call.Target.Headers {
		md.Set(strings.ToLower(k), v)
	}
	if call.Credential != nil {
		for k, v := range call.Credential.Metadata() {
			md.Set(strings.ToLower(k), v)
		}
	}
	ctx = metadata.NewOutgoingContext(ctx, md)

	out := &structpb.Struct{}
	var header metadata.MD
	if err := conn.Invoke(ctx, method, in, out, grpc.Header(&header)); err != nil {
		return nil, err
	}
	b, err := protojson.MarshalOptions{UseProtoNames: true}.Marshal(out)
	if err != nil {
		return nil, types.WrapError(types.KindBackendFault, err, "cannot encode gRPC reply")
	}
	var headers types.Headers
	for k, vs := range header {
		for _, v := range vs {
			headers.Add(k, v)
		}
	}
	return &types.RawResponse{Status: int(codes.OK), Headers: headers, Payload: types.NewPayload(types.JSON, b)}, nil
}

// conn returns the shared connection for the target. Connections are lazy and
// reconnect by themselves so they are kept for the life of the handler.
func (h *GrpcHandler) conn(target types.BackendTarget) (*grpc.ClientConn, error) {
	key := grpcConnKey{address: strings.TrimSpace(target.Address), insecure: target.Insecure}
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.conns[key]; ok {
		return c, nil
	}
	creds := credentials.NewTLS(&tls.Config{})
	if key.insecure {
		creds = insecure.NewCredentials()
	}
	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}, h.dialOptions...)
	c, err := grpc.NewClient(key.address, opts...)
	if err != nil {
		return nil, err
	}
	h.conns[key] = c
	return c, nil
}

// Close closes every cached connection.
func (h *GrpcHandler) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	var first error
	for k, c := range h.conns {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
		delete(h.conns, k)
	}
	return first
}

// TranslateFault maps gRPC status codes. Unavailable, ResourceExhausted, Aborted
// and DeadlineExceeded are transient.
func (h *GrpcHandler) TranslateFault(err error) *types.GatewayError {
	if err == nil {
		return nil
	}
	if ge, ok := types.AsGatewayError(err); ok {
		return ge
	}
	st, ok := status.FromError(err)
	if !ok {
		return translateHTTPError(err)
	}
	e := types.WrapError(types.KindBackendFault, err, "gRPC call failed with %s", st.Code())
	e.UpstreamStatus = int(st.Code())
	e.FaultCode = st.Code().String()
	e.FaultDetail = st.Message()
	switch st.Code() {
	case codes.Unavailable, codes.ResourceExhausted, codes.Aborted, codes.DeadlineExceeded:
		e.Transient = true
	}
	return e
}
