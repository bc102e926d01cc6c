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
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind 错误分类，值即对外稳定的错误码
type ErrorKind string

const (
	KindRouteMisconfigured = ErrorKind("ROUTE_MISCONFIGURED")
	KindRouteNotFound      = ErrorKind("ROUTE_NOT_FOUND")
	KindPayloadMalformed   = ErrorKind("PAYLOAD_MALFORMED")
	KindMappingFailed      = ErrorKind("MAPPING_FAILED")
	KindHandlerUnavailable = ErrorKind("HANDLER_UNAVAILABLE")
	KindBackendFault       = ErrorKind("BACKEND_FAULT")
	KindCircuitOpen        = ErrorKind("CIRCUIT_OPEN")
	KindDeadlineExceeded   = ErrorKind("DEADLINE_EXCEEDED")
	KindUnretryable        = ErrorKind("UNRETRYABLE")
	KindRateLimited        = ErrorKind("RATE_LIMITED")
	KindInternalError      = ErrorKind("INTERNAL_ERROR")
)

// Stage 处理阶段
type Stage string

const (
	StageValidate          = Stage("validate")
	StageResolveRoute      = Stage("resolve_route")
	StageTransformRequest  = Stage("transform_request")
	StageResolveHandler    = Stage("resolve_handler")
	StageInvoke            = Stage("invoke")
	StageTransformResponse = Stage("transform_response")
	StageAssemble          = Stage("assemble")
)

// Sentinels for errors.Is. Matching compares kinds only.
var (
	ErrRouteMisconfigured = &GatewayError{Kind: KindRouteMisconfigured}
	ErrRouteNotFound      = &GatewayError{Kind: KindRouteNotFound}
	ErrPayloadMalformed   = &GatewayError{Kind: KindPayloadMalformed}
	ErrMappingFailed      = &GatewayError{Kind: KindMappingFailed}
	ErrHandlerUnavailable = &GatewayError{Kind: KindHandlerUnavailable}
	ErrBackendFault       = &GatewayError{Kind: KindBackendFault}
	ErrCircuitOpen        = &GatewayError{Kind: KindCircuitOpen}
	ErrDeadlineExceeded   = &GatewayError{Kind: KindDeadlineExceeded}
	ErrUnretryable        = &GatewayError{Kind: KindUnretryable}
	ErrRateLimited        = &GatewayError{Kind: KindRateLimited}
	ErrInternal           = &GatewayError{Kind: KindInternalError}
)

// GatewayError 网关统一错误
// 所有阶段的失败都通过该类型传递，编排层据此映射成错误响应
type GatewayError struct {
	Kind  ErrorKind
	Stage Stage
	// Message is a short human readable description.
	Message string
	// UpstreamStatus is the backend status (HTTP status or gRPC code) when known.
	UpstreamStatus int
	// FaultCode is the protocol level fault code, e.g. SOAP faultcode or gRPC code name.
	FaultCode string
	// FaultDetail carries the backend error body or fault string for diagnostics.
	FaultDetail string
	// Transient marks backend faults that may succeed when retried.
	Transient bool
	// Attempts is the number of backend attempts made before the error became terminal.
	Attempts int
	Err      error
}

// NewError 创建错误
func NewError(kind ErrorKind, format string, args ...interface{}) *GatewayError {
	return &GatewayError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError wraps cause with kind. If cause is already a GatewayError its
// diagnostic fields are carried over.
func WrapError(kind ErrorKind, cause error, format string, args ...interface{}) *GatewayError {
	e := &GatewayError{Kind: kind, Message: fmt.Sprintf(format, args...), Err: cause}
	if inner, ok := AsGatewayError(cause); ok {
		e.Stage = inner.Stage
		e.UpstreamStatus = inner.UpstreamStatus
		e.FaultCode = inner.FaultCode
		e.FaultDetail = inner.FaultDetail
		e.Attempts = inner.Attempts
	}
	return e
}

// NewBackendFault 创建后端故障
func NewBackendFault(upstreamStatus int, transient bool, format string, args ...interface{}) *GatewayError {
	return &GatewayError{
		Kind:           KindBackendFault,
		Message:        fmt.Sprintf(format, args...),
		UpstreamStatus: upstreamStatus,
		Transient:      transient,
	}
}

func (e *GatewayError) Error() string {
	if e == nil {
		return "<nil>"
	}
	var sb strings.Builder
	sb.WriteString(string(e.Kind))
	if e.Stage != "" {
		sb.WriteString(" at ")
		sb.WriteString(string(e.Stage))
	}
	if e.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Message)
	}
	if e.UpstreamStatus != 0 {
		sb.WriteString(fmt.Sprintf(" (upstream status %d)", e.UpstreamStatus))
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// Is matches another GatewayError by kind, so errors.Is(err, ErrCircuitOpen) works.
func (e *GatewayError) Is(target error) bool {
	t, ok := target.(*GatewayError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// WithStage returns e tagged with stage. An existing stage is kept so that the
// innermost failing stage wins.
func (e *GatewayError) WithStage(stage Stage) *GatewayError {
	if e.Stage == "" {
		e.Stage = stage
	}
	return e
}

// Retryable 是否可以重试：只有标记为瞬时的后端故障可以重试
func (e *GatewayError) Retryable() bool {
	return e != nil && e.Kind == KindBackendFault && e.Transient
}

// Descriptor returns the caller-facing descriptor of the error.
func (e *GatewayError) Descriptor() *ErrorDescriptor {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return &ErrorDescriptor{
		Code:           string(e.Kind),
		Message:        msg,
		Stage:          string(e.Stage),
		UpstreamStatus: e.UpstreamStatus,
		FaultCode:      e.FaultCode,
		FaultDetail:    e.FaultDetail,
		Retryable:      e.Retryable() || e.Kind == KindCircuitOpen || e.Kind == KindRateLimited,
		Attempts:       e.Attempts,
	}
}

// AsGatewayError 从错误链中提取GatewayError
func AsGatewayError(err error) (*GatewayError, bool) {
	if err == nil {
		return nil, false
	}
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}

// KindOf returns the kind of err, or INTERNAL_ERROR when err is not a GatewayError.
func KindOf(err error) ErrorKind {
	if ge, ok := AsGatewayError(err); ok {
		return ge.Kind
	}
	return KindInternalError
}

// HTTPStatus 错误分类对应的HTTP状态码
func HTTPStatus(kind ErrorKind) int {
	switch kind {
	case KindRouteMisconfigured, KindPayloadMalformed:
		return http.StatusBadRequest
	case KindRouteNotFound:
		return http.StatusNotFound
	case KindMappingFailed:
		return http.StatusUnprocessableEntity
	case KindHandlerUnavailable:
		return http.StatusNotImplemented
	case KindBackendFault, KindUnretryable:
		return http.StatusBadGateway
	case KindCircuitOpen:
		return http.StatusServiceUnavailable
	case KindDeadlineExceeded:
		return http.StatusGatewayTimeout
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
