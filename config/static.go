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

// Package config provides the configuration collaborators of the gateway:
// route sources backed by memory, a YAML/JSON file or SQL tables, and the
// process settings read from the environment.
package config

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rulego/gateway/api/types"
)

// StaticSource serves routes and transforms held in memory. Replace swaps the
// whole set atomically.
type StaticSource struct {
	mu         sync.RWMutex
	routes     map[string]*types.RouteDescriptor
	transforms map[string]*types.TransformDescriptor
}

// NewStaticSource 创建内存配置源
func NewStaticSource(routes []*types.RouteDescriptor, transforms []*types.TransformDescriptor) *StaticSource {
	s := &StaticSource{}
	s.Replace(routes, transforms)
	return s
}

// Replace 整体替换路由和转换描述
func (s *StaticSource) Replace(routes []*types.RouteDescriptor, transforms []*types.TransformDescriptor) {
	rm := make(map[string]*types.RouteDescriptor, len(routes))
	for _, r := range routes {
		if r != nil {
			rm[r.Key] = r
		}
	}
	tm := make(map[string]*types.TransformDescriptor, len(transforms))
	for _, d := range transforms {
		if d != nil {
			tm[d.Id] = d
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes = rm
	s.transforms = tm
}

func (s *StaticSource) GetRoute(ctx context.Context, key string) (*types.RouteDescriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.routes[key]; ok {
		return r.Clone(), nil
	}
	return nil, fmt.Errorf("route %s: %w", key, types.ErrNotFound)
}

func (s *StaticSource) GetTransform(ctx context.Context, id string) (*types.TransformDescriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if d, ok := s.transforms[id]; ok {
		c := *d
		c.Bindings = append([]types.Binding(nil), d.Bindings...)
		return &c, nil
	}
	return nil, fmt.Errorf("transform %s: %w", id, types.ErrNotFound)
}

// RouteKeys returns the configured route keys, sorted.
func (s *StaticSource) RouteKeys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.routes))
	for k := range s.routes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
