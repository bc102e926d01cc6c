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
	"time"

	"github.com/rulego/gateway/api/types"
	"google.golang.org/grpc"
)

const (
	// DefaultMaxConnsPerHost 每个后端主机的最大连接数
	DefaultMaxConnsPerHost = 200
	// DefaultMaxResponseBytes caps the backend body read into memory.
	DefaultMaxResponseBytes = 16 << 20
	// DefaultDialTimeout bounds TCP connect for HTTP backends.
	DefaultDialTimeout = 10 * time.Second
)

type options struct {
	logger           types.Logger
	maxConnsPerHost  int
	maxResponseBytes int64
	dialTimeout      time.Duration
	clients          *clientCache
	dialOptions      []grpc.DialOption
}

// Option configures a handler.
type Option func(*options)

// WithLogger 设置日志
func WithLogger(logger types.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMaxConnsPerHost limits concurrent connections per backend host. 0 means unlimited.
func WithMaxConnsPerHost(n int) Option {
	return func(o *options) {
		o.maxConnsPerHost = n
	}
}

// WithMaxResponseBytes caps the backend response size. Larger bodies fail as a
// non-transient backend fault.
func WithMaxResponseBytes(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.maxResponseBytes = n
		}
	}
}

// WithDialTimeout 设置HTTP连接超时
func WithDialTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.dialTimeout = d
		}
	}
}

// WithDialOptions appends gRPC dial options, e.g. a custom dialer or transport credentials.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(o *options) {
		o.dialOptions = append(o.dialOptions, opts...)
	}
}

func newOptions(opts []Option) options {
	o := options{
		logger:           types.DefaultLogger(),
		maxConnsPerHost:  DefaultMaxConnsPerHost,
		maxResponseBytes: DefaultMaxResponseBytes,
		dialTimeout:      DefaultDialTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	o.clients = newClientCache(o.maxConnsPerHost, o.dialTimeout)
	return o
}
