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
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHeaders(t *testing.T) {
	t.Run("CaseInsensitive", func(t *testing.T) {
		h := NewHeaders("Content-Type", "application/json", "X-Trace", "a")
		assert.Equal(t, "application/json", h.Get("content-type"))
		assert.True(t, h.Has("x-TRACE"))
		assert.False(t, h.Has("missing"))
		assert.Equal(t, "", h.Get("missing"))
	})

	t.Run("OrderKept", func(t *testing.T) {
		h := NewHeaders("b", "1", "a", "2", "B", "3")
		all := h.All()
		assert.Equal(t, 3, len(all))
		assert.Equal(t, "b", all[0].Name)
		assert.Equal(t, "a", all[1].Name)
		assert.Equal(t, []string{"1", "3"}, h.Values("b"))
	})

	t.Run("SetReplacesInPlace", func(t *testing.T) {
		h := NewHeaders("a", "1", "b", "2", "A", "3")
		h.Set("A", "x")
		assert.Equal(t, []Header{{Name: "a", Value: "x"}, {Name: "b", Value: "2"}}, h.All())
		h.Set("c", "y")
		assert.Equal(t, 3, h.Len())
		assert.Equal(t, "y", h.Get("C"))
	})

	t.Run("Del", func(t *testing.T) {
		h := NewHeaders("a", "1", "A", "2", "b", "3")
		h.Del("a")
		assert.Equal(t, 1, h.Len())
		assert.Equal(t, "3", h.Get("b"))
	})

	t.Run("CloneIsIndependent", func(t *testing.T) {
		h := NewHeaders("a", "1")
		c := h.Clone()
		c.Add("b", "2")
		assert.Equal(t, 1, h.Len())
		assert.Equal(t, 2, c.Len())
	})

	t.Run("Merge", func(t *testing.T) {
		base := NewHeaders("a", "1", "b", "2")
		merged := base.Merge(NewHeaders("B", "3", "B", "4", "c", "5"))
		assert.Equal(t, "1", merged.Get("a"))
		assert.Equal(t, []string{"3", "4"}, merged.Values("b"))
		assert.Equal(t, "5", merged.Get("c"))
		assert.Equal(t, "2", base.Get("b"))
	})

	t.Run("FromHTTP", func(t *testing.T) {
		hh := http.Header{}
		hh.Add("X-B", "1")
		hh.Add("X-A", "2")
		hh.Add("X-A", "3")
		h := HeadersFromHTTP(hh)
		all := h.All()
		assert.Equal(t, "X-A", all[0].Name)
		assert.Equal(t, "2", all[0].Value)
		assert.Equal(t, "3", all[1].Value)
		assert.Equal(t, "X-B", all[2].Name)

		out := http.Header{}
		h.WriteTo(out)
		assert.Equal(t, []string{"2", "3"}, out.Values("X-A"))
		assert.Equal(t, map[string]string{"x-a": "2", "x-b": "1"}, h.ToMap())
	})
}
