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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindFromContentType(t *testing.T) {
	assert.Equal(t, JSON, KindFromContentType("application/json; charset=utf-8"))
	assert.Equal(t, JSON, KindFromContentType("application/problem+json"))
	assert.Equal(t, XML, KindFromContentType("text/xml"))
	assert.Equal(t, XML, KindFromContentType("application/soap+xml; charset=utf-8"))
	assert.Equal(t, RAW, KindFromContentType("text/plain"))
	assert.Equal(t, RAW, KindFromContentType(""))
	assert.Equal(t, XML, ParseContentKind(" xml "))
	assert.Equal(t, RAW, ParseContentKind("yaml"))
}

func TestNewRequest(t *testing.T) {
	t.Run("GeneratesCorrelationId", func(t *testing.T) {
		r := NewRequest("orders.create", NewPayload(JSON, []byte("{}")))
		assert.NotEqual(t, "", r.CorrelationId())
		assert.Equal(t, "orders.create", r.RouteKey())
	})

	t.Run("CorrelationIdFromHeader", func(t *testing.T) {
		r := NewRequest("k", NewPayload(JSON, nil), WithHeaders(NewHeaders(CorrelationIdKey, "abc")))
		assert.Equal(t, "abc", r.CorrelationId())
	})

	t.Run("ExplicitCorrelationIdWins", func(t *testing.T) {
		r := NewRequest("k", NewPayload(JSON, nil),
			WithHeader(CorrelationIdKey, "from-header"), WithCorrelationId("explicit"))
		assert.Equal(t, "explicit", r.CorrelationId())
	})

	t.Run("Immutable", func(t *testing.T) {
		data := []byte(`{"a":1}`)
		r := NewRequest("k", NewPayload(JSON, data), WithHeader("a", "1"))
		data[0] = 'x'
		p := r.Payload()
		p.Data[1] = 'y'
		h := r.Headers()
		h.Set("a", "2")
		assert.Equal(t, `{"a":1}`, r.Payload().String())
		assert.Equal(t, "1", r.Headers().Get("a"))
	})
}

func TestNewErrorResponse(t *testing.T) {
	resp := NewErrorResponse("cid", NewError(KindRouteNotFound, "no route x").WithStage(StageResolveRoute))
	assert.False(t, resp.IsSuccess())
	assert.Equal(t, "cid", resp.CorrelationId)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "ROUTE_NOT_FOUND", resp.Error.Code)
	assert.Equal(t, "resolve_route", resp.Error.Stage)

	resp = NewErrorResponse("cid", errors.New("boom"))
	assert.Equal(t, "INTERNAL_ERROR", resp.Error.Code)
	assert.Equal(t, "unexpected failure", resp.Error.Message)

	ok := NewSuccessResponse("cid", NewPayload(JSON, []byte("{}")), NewHeaders())
	assert.True(t, ok.IsSuccess())
	assert.Nil(t, ok.Error)
}
