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

// Package protocol provides the backend protocol handlers: REST (JSON and XML),
// SOAP 1.1/1.2, gRPC and raw HTTP proxy passthrough.
//
// Each handler owns its wire encoding only. Retries, circuit breaking and
// payload transformation are done by the gateway before and after Invoke.
//
//	registry := gateway.NewHandlerRegistry(protocol.DefaultHandlers()...)
package protocol

import (
	"github.com/rulego/gateway/api/types"
)

// DefaultHandlers returns one handler per supported protocol, sharing the given options.
func DefaultHandlers(opts ...Option) []types.ProtocolHandler {
	return []types.ProtocolHandler{
		NewRestHandler(opts...),
		NewSoapHandler(opts...),
		NewGrpcHandler(opts...),
		NewProxyHandler(opts...),
	}
}
