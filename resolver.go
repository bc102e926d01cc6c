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
	"context"
	"sort"
	"sync"

	"github.com/rulego/gateway/api/types"
	"github.com/rulego/gateway/utils/cache"
	"golang.org/x/sync/singleflight"
)

// 缓存命名空间
const (
	routeNamespace     = "route:"
	transformNamespace = "transform:"
)

// TransformValidator checks a transform descriptor before it is cached.
type TransformValidator func(d *types.TransformDescriptor) error

// RouteResolver resolves route and transform descriptors through a read-mostly
// cache in front of the configuration source. Concurrent misses for the same
// key share one fetch.
type RouteResolver struct {
	source     types.RouteSource
	routes     *cache.NamespaceCache
	transforms *cache.NamespaceCache
	ttl        string
	validate   TransformValidator
	group      singleflight.Group

	// mu orders cache writes of loads against invalidations; a load started
	// before an invalidation does not write its result back.
	mu         sync.RWMutex
	generation uint64
}

// NewRouteResolver creates a resolver. A nil cache falls back to an in-memory cache.
func NewRouteResolver(source types.RouteSource, c types.Cache, ttl string, validate TransformValidator) *RouteResolver {
	if c == nil {
		c = cache.NewMemoryCache(0)
	}
	return &RouteResolver{
		source:     source,
		routes:     cache.NewNamespaceCache(c, routeNamespace),
		transforms: cache.NewNamespaceCache(c, transformNamespace),
		ttl:        ttl,
		validate:   validate,
	}
}

// Route returns the validated route for key. Any failure to obtain it is ROUTE_NOT_FOUND,
// except an invalid descriptor, which is ROUTE_MISCONFIGURED.
func (r *RouteResolver) Route(ctx context.Context, key string) (*types.RouteDescriptor, error) {
	if v, ok := r.routes.Get(key).(*types.RouteDescriptor); ok {
		return v, nil
	}
	v, err := r.fetch(ctx, routeNamespace+key, func(gen uint64) (interface{}, error) {
		if r.source == nil {
			return nil, types.NewError(types.KindRouteNotFound, "no route source configured")
		}
		d, err := r.source.GetRoute(context.WithoutCancel(ctx), key)
		if err != nil {
			return nil, types.WrapError(types.KindRouteNotFound, err, "route %q", key)
		}
		if d == nil {
			return nil, types.NewError(types.KindRouteNotFound, "route %q", key)
		}
		d = d.Clone()
		if d.Key == "" {
			d.Key = key
		}
		if err := d.Validate(); err != nil {
			return nil, err
		}
		r.store(gen, func() { _ = r.routes.Set(key, d, r.ttl) })
		return d, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.RouteDescriptor), nil
}

// Transform returns the validated transform descriptor for id. A route that
// references a missing transform is misconfigured.
func (r *RouteResolver) Transform(ctx context.Context, id string) (*types.TransformDescriptor, error) {
	if v, ok := r.transforms.Get(id).(*types.TransformDescriptor); ok {
		return v, nil
	}
	v, err := r.fetch(ctx, transformNamespace+id, func(gen uint64) (interface{}, error) {
		if r.source == nil {
			return nil, types.NewError(types.KindRouteMisconfigured, "no route source configured")
		}
		d, err := r.source.GetTransform(context.WithoutCancel(ctx), id)
		if err != nil || d == nil {
			return nil, types.WrapError(types.KindRouteMisconfigured, err, "transform %q is not available", id)
		}
		c := *d
		c.Bindings = append([]types.Binding(nil), d.Bindings...)
		if r.validate != nil {
			if err := r.validate(&c); err != nil {
				return nil, err
			}
		} else if err := c.Validate(); err != nil {
			return nil, err
		}
		r.store(gen, func() { _ = r.transforms.Set(id, &c, r.ttl) })
		return &c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.TransformDescriptor), nil
}

// fetch runs load once per key among concurrent callers. Each caller stops
// waiting when its own ctx ends; the shared load is detached from it.
func (r *RouteResolver) fetch(ctx context.Context, key string, load func(gen uint64) (interface{}, error)) (interface{}, error) {
	ch := r.group.DoChan(key, func() (v interface{}, err error) {
		defer func() {
			if p := recover(); p != nil {
				err = types.NewError(types.KindInternalError, "resolving %s: %v", key, p)
			}
		}()
		r.mu.RLock()
		gen := r.generation
		r.mu.RUnlock()
		return load(gen)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val, nil
	case <-ctx.Done():
		return nil, types.WrapError(types.KindDeadlineExceeded, ctx.Err(), "resolving %s", key)
	}
}

// store runs set unless the cache was invalidated after the load started.
func (r *RouteResolver) store(gen uint64, set func()) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if gen == r.generation {
		set()
	}
}

// invalidate bumps the generation so that loads in flight are not cached, and
// forgets their keys so that later callers start a fresh load.
func (r *RouteResolver) invalidate(drop func(), keys ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generation++
	for _, k := range keys {
		r.group.Forget(k)
	}
	drop()
}

// Invalidate drops the cached route for key.
func (r *RouteResolver) Invalidate(key string) {
	r.invalidate(func() { _ = r.routes.Delete(key) }, routeNamespace+key)
}

// InvalidateTransform drops the cached transform descriptor for id.
func (r *RouteResolver) InvalidateTransform(id string) {
	r.invalidate(func() { _ = r.transforms.Delete(id) }, transformNamespace+id)
}

// InvalidateAll drops every cached descriptor, e.g. after a configuration refresh.
// Loads in flight still answer their waiters but are not cached.
func (r *RouteResolver) InvalidateAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generation++
	_ = r.routes.Clear()
	_ = r.transforms.Clear()
}

// CachedRoutes returns the keys of the routes currently cached.
func (r *RouteResolver) CachedRoutes() []string {
	var keys []string
	for k := range r.routes.GetByPrefix("") {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
