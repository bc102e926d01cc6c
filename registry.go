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

package gateway

import (
	"sort"
	"strings"

	"github.com/rulego/gateway/api/types"
)

// HandlerRegistry 协议处理器注册表
// 启动时构建，之后只读，查找不需要加锁
type HandlerRegistry struct {
	handlers []types.ProtocolHandler
}

// NewHandlerRegistry creates a registry over handlers. When several handlers
// support a protocol the first one wins. Nil handlers are skipped.
func NewHandlerRegistry(handlers ...types.ProtocolHandler) *HandlerRegistry {
	r := &HandlerRegistry{}
	for _, h := range handlers {
		if h != nil {
			r.handlers = append(r.handlers, h)
		}
	}
	return r
}

// Lookup 获取协议处理器
// An unknown protocol is a route configuration defect: the error is
// ROUTE_MISCONFIGURED with a HANDLER_UNAVAILABLE cause.
func (r *HandlerRegistry) Lookup(protocol string) (types.ProtocolHandler, error) {
	id := strings.ToUpper(strings.TrimSpace(protocol))
	if r != nil {
		for _, h := range r.handlers {
			if h.Supports(id) {
				return h, nil
			}
		}
	}
	cause := types.NewError(types.KindHandlerUnavailable, "no handler registered for protocol %q", id)
	return nil, types.WrapError(types.KindRouteMisconfigured, cause, "route protocol %q is not served", id)
}

// Supports reports whether some handler serves protocol.
func (r *HandlerRegistry) Supports(protocol string) bool {
	_, err := r.Lookup(protocol)
	return err == nil
}

// Protocols returns which of the well known protocol ids are served, sorted.
func (r *HandlerRegistry) Protocols() []string {
	var out []string
	for _, p := range []string{types.ProtocolRest, types.ProtocolRestJson, types.ProtocolRestXml,
		types.ProtocolSoap, types.ProtocolGrpc, types.ProtocolProxy} {
		if r.Supports(p) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// Len 处理器数量
func (r *HandlerRegistry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.handlers)
}
