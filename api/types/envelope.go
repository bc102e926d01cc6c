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
	"mime"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
)

// ContentKind 负荷数据类型
type ContentKind string

const (
	JSON = ContentKind("JSON")
	XML  = ContentKind("XML")
	RAW  = ContentKind("RAW")
)

const (
	ContentTypeKey   = "Content-Type"
	CorrelationIdKey = "X-Correlation-Id"
	JsonContentType  = "application/json"
	XmlContentType   = "application/xml"
	RawContentType   = "application/octet-stream"
)

// ParseContentKind maps a content kind name ("json", "XML", ...) to a ContentKind.
// Unknown names yield RAW.
func ParseContentKind(name string) ContentKind {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case string(JSON):
		return JSON
	case string(XML):
		return XML
	default:
		return RAW
	}
}

// KindFromContentType 根据 Content-Type 推断负荷类型
func KindFromContentType(contentType string) ContentKind {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	switch {
	case mediaType == "":
		return RAW
	case mediaType == JsonContentType || strings.HasSuffix(mediaType, "+json"):
		return JSON
	case mediaType == XmlContentType || mediaType == "text/xml" || strings.HasSuffix(mediaType, "+xml"):
		return XML
	default:
		return RAW
	}
}

// ContentType returns the default media type for the kind.
func (k ContentKind) ContentType() string {
	switch k {
	case JSON:
		return JsonContentType
	case XML:
		return XmlContentType
	default:
		return RawContentType
	}
}

// Payload is an opaque byte sequence plus its declared content kind.
type Payload struct {
	Kind ContentKind
	Data []byte
}

// NewPayload 创建负荷，数据会被复制
func NewPayload(kind ContentKind, data []byte) Payload {
	if kind == "" {
		kind = RAW
	}
	return Payload{Kind: kind, Data: append([]byte(nil), data...)}
}

// IsEmpty reports whether the payload carries no bytes, ignoring surrounding whitespace.
func (p Payload) IsEmpty() bool {
	return len(strings.TrimSpace(string(p.Data))) == 0
}

func (p Payload) String() string {
	return string(p.Data)
}

// NewCorrelationId 生成关联ID
func NewCorrelationId() string {
	id, _ := uuid.NewV4()
	return id.String()
}

// RequestOption 请求信封构建选项
type RequestOption func(*RequestEnvelope)

// WithHeaders copies the given headers into the request.
func WithHeaders(headers Headers) RequestOption {
	return func(r *RequestEnvelope) {
		r.headers = headers.Clone()
	}
}

// WithHeader appends a single header to the request.
func WithHeader(name, value string) RequestOption {
	return func(r *RequestEnvelope) {
		r.headers.Add(name, value)
	}
}

// WithCorrelationId sets the correlation id. An empty id is replaced by a generated one.
func WithCorrelationId(id string) RequestOption {
	return func(r *RequestEnvelope) {
		r.correlationId = strings.TrimSpace(id)
	}
}

// RequestEnvelope 协议无关的入站请求，构建后不可变
type RequestEnvelope struct {
	routeKey      string
	headers       Headers
	payload       Payload
	correlationId string
	receivedAt    time.Time
}

// NewRequest 创建入站请求信封
// 如果未指定关联ID，则使用请求头 X-Correlation-Id，否则自动生成
func NewRequest(routeKey string, payload Payload, opts ...RequestOption) *RequestEnvelope {
	r := &RequestEnvelope{
		routeKey:   strings.TrimSpace(routeKey),
		payload:    NewPayload(payload.Kind, payload.Data),
		receivedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.correlationId == "" {
		r.correlationId = strings.TrimSpace(r.headers.Get(CorrelationIdKey))
	}
	if r.correlationId == "" {
		r.correlationId = NewCorrelationId()
	}
	return r
}

func (r *RequestEnvelope) RouteKey() string {
	return r.routeKey
}

// Headers returns a copy of the request headers.
func (r *RequestEnvelope) Headers() Headers {
	return r.headers.Clone()
}

// Payload returns a copy of the request payload.
func (r *RequestEnvelope) Payload() Payload {
	return NewPayload(r.payload.Kind, r.payload.Data)
}

func (r *RequestEnvelope) CorrelationId() string {
	return r.correlationId
}

func (r *RequestEnvelope) ReceivedAt() time.Time {
	return r.receivedAt
}

// Status 响应状态分类
type Status string

const (
	StatusSuccess = Status("SUCCESS")
	StatusFailure = Status("FAILURE")
)

// ErrorDescriptor is the caller-facing view of a terminal GatewayError.
type ErrorDescriptor struct {
	Code           string `json:"code"`
	Message        string `json:"message"`
	Stage          string `json:"stage,omitempty"`
	UpstreamStatus int    `json:"upstreamStatus,omitempty"`
	FaultCode      string `json:"faultCode,omitempty"`
	FaultDetail    string `json:"faultDetail,omitempty"`
	Retryable      bool   `json:"retryable"`
	Attempts       int    `json:"attempts,omitempty"`
}

// ResponseMetadata 响应执行信息
type ResponseMetadata struct {
	RouteKey     string        `json:"routeKey,omitempty"`
	Protocol     string        `json:"protocol,omitempty"`
	Attempts     int           `json:"attempts"`
	Latency      time.Duration `json:"latency"`
	BreakerState string        `json:"breakerState,omitempty"`
}

// ResponseEnvelope 出站响应信封
type ResponseEnvelope struct {
	Status        Status
	Headers       Headers
	Payload       Payload
	CorrelationId string
	Error         *ErrorDescriptor
	Metadata      ResponseMetadata
}

// IsSuccess reports whether the call completed without a terminal error.
func (r *ResponseEnvelope) IsSuccess() bool {
	return r != nil && r.Status == StatusSuccess
}

// NewSuccessResponse 创建成功响应
func NewSuccessResponse(correlationId string, payload Payload, headers Headers) *ResponseEnvelope {
	return &ResponseEnvelope{
		Status:        StatusSuccess,
		Headers:       headers.Clone(),
		Payload:       payload,
		CorrelationId: correlationId,
	}
}

// NewErrorResponse maps a terminal error into a failure envelope.
// Errors that are not GatewayErrors are reported as INTERNAL_ERROR.
func NewErrorResponse(correlationId string, err error) *ResponseEnvelope {
	ge, ok := AsGatewayError(err)
	if !ok {
		ge = WrapError(KindInternalError, err, "unexpected failure")
	}
	return &ResponseEnvelope{
		Status:        StatusFailure,
		CorrelationId: correlationId,
		Error:         ge.Descriptor(),
	}
}
