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
	"errors"
)

// ErrNotFound is returned by a RouteSource when the key or id is unknown.
var ErrNotFound = errors.New("not found")

// RouteSource 配置提供方
// 网关只依赖这两个读取操作，刷新和版本策略由实现方负责
type RouteSource interface {
	// GetRoute returns the route for key, or an error wrapping ErrNotFound.
	GetRoute(ctx context.Context, key string) (*RouteDescriptor, error)
	// GetTransform returns the transform descriptor for id, or an error wrapping ErrNotFound.
	GetTransform(ctx context.Context, id string) (*TransformDescriptor, error)
}
