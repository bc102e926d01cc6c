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
	"net/http"
	"testing"
	"time"

	"github.com/rulego/gateway/api/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatedSource reads the route, then blocks until release is closed.
type gatedSource struct {
	*memorySource
	entered chan struct{}
	release chan struct{}
}

func (s *gatedSource) GetRoute(ctx context.Context, key string) (*types.RouteDescriptor, error) {
	d, err := s.memorySource.GetRoute(ctx, key)
	s.entered <- struct{}{}
	<-s.release
	return d, err
}

func TestInvalidateDuringLoad(t *testing.T) {
	source := &gatedSource{memorySource: ordersSource(), entered: make(chan struct{}, 1), release: make(chan struct{})}
	resolver := NewRouteResolver(source, nil, "", nil)

	done := make(chan *types.RouteDescriptor, 1)
	go func() {
		d, err := resolver.Route(context.Background(), "orders.create")
		assert.Nil(t, err)
		done <- d
	}()
	select {
	case <-source.entered:
	case <-time.After(time.Second):
		t.Fatal("load did not start")
	}

	// the route moves while the first load is in flight
	source.mu.Lock()
	source.routes["orders.create"] = &types.RouteDescriptor{Key: "orders.create", Protocol: types.ProtocolRest,
		Target: types.BackendTarget{Address: "http://orders-v2.test/orders", Method: http.MethodPost}}
	source.mu.Unlock()
	resolver.InvalidateAll()
	close(source.release)

	stale := <-done
	require.NotNil(t, stale)
	assert.Equal(t, "http://orders.test/orders", stale.Target.Address)
	assert.Empty(t, resolver.CachedRoutes())

	d, err := resolver.Route(context.Background(), "orders.create")
	require.Nil(t, err)
	assert.Equal(t, "http://orders-v2.test/orders", d.Target.Address)
	assert.Equal(t, []string{"orders.create"}, resolver.CachedRoutes())
}
