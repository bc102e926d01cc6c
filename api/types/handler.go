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

package types

import (
	"context"
	"net/http"
)

// ProtocolHandler 协议处理器接口
// 每个处理器只负责自身协议的编解码和网络调用
type ProtocolHandler interface {
	// Supports reports whether the handler serves the protocol id. It must be pure.
	Supports(protocol string) bool
	// Invoke performs one backend call. ctx carries the call deadline and
	// cancellation; the network operation must be bound to it so that it is
	// aborted, not abandoned, when ctx is done.
	Invoke(ctx context.Context, call *Call) (*RawResponse, error)
	// TranslateFault maps a transport specific error into the gateway taxonomy.
	TranslateFault(err error) *GatewayError
}

// Call 单次后端调用参数
type Call struct {
	RouteKey      string
	Protocol      string
	Target        BackendTarget
	Payload       Payload
	Headers       Headers
	CorrelationId string
	// Credential is opaque to the gateway. Handlers that need outbound
	// authentication apply it, the others ignore it.
	Credential Credential
	// Attempt is the 1-based attempt number.
	Attempt int
}

// RawResponse 后端原始响应
type RawResponse struct {
	// Status is the backend status: an HTTP status code, or 0 for protocols without one.
	Status  int
	Headers Headers
	Payload Payload
}

// Credential is an opaque outbound identity supplied by the security collaborator.
type Credential interface {
	// ApplyHTTP adds the credential to an outbound HTTP request.
	ApplyHTTP(req *http.Request)
	// Metadata returns key/value pairs for protocols without HTTP headers, e.g. gRPC metadata.
	Metadata() map[string]string
}

// CredentialProvider 凭证提供者
type CredentialProvider interface {
	// Credential returns the credential registered under ref. A nil credential
	// and nil error means the route runs unauthenticated.
	Credential(ctx context.Context, ref string) (Credential, error)
}

type credentialKey struct{}

// WithCredential attaches a caller identity to the context. It takes precedence
// over the provider configured on the gateway.
func WithCredential(ctx context.Context, c Credential) context.Context {
	return context.WithValue(ctx, credentialKey{}, c)
}

// CredentialFromContext 从上下文获取凭证
func CredentialFromContext(ctx context.Context) (Credential, bool) {
	c, ok := ctx.Value(credentialKey{}).(Credential)
	return c, ok && c != nil
}
