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
	"strings"
)

// Header 单个请求头
type Header struct {
	Name  string
	Value string
}

// Headers is an ordered list of headers with case-insensitive names.
// Insertion order is kept so that headers are forwarded in the order they arrived.
type Headers struct {
	items []Header
}

// NewHeaders builds headers from name/value pairs: NewHeaders("a", "1", "b", "2").
func NewHeaders(pairs ...string) Headers {
	var h Headers
	for i := 0; i+1 < len(pairs); i += 2 {
		h.Add(pairs[i], pairs[i+1])
	}
	return h
}

// HeadersFromHTTP 从http.Header构建，保持http.Header中同名值的顺序
func HeadersFromHTTP(header http.Header) Headers {
	var h Headers
	for name, values := range header {
		for _, v := range values {
			h.Add(name, v)
		}
	}
	h.sortStable()
	return h
}

// sortStable orders headers by lowercase name, keeping value order for equal names.
// http.Header is a map so its iteration order carries no meaning.
func (h *Headers) sortStable() {
	items := h.items
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && strings.ToLower(items[j-1].Name) > strings.ToLower(items[j].Name); j-- {
			items[j-1], items[j] = items[j], items[j-1]
		}
	}
}

// Add appends a value, keeping existing values with the same name.
func (h *Headers) Add(name, value string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	h.items = append(h.items, Header{Name: name, Value: value})
}

// Set replaces all values for name with value, at the position of the first existing entry.
func (h *Headers) Set(name, value string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	idx := -1
	kept := h.items[:0:0]
	for _, item := range h.items {
		if strings.EqualFold(item.Name, name) {
			if idx < 0 {
				idx = len(kept)
				kept = append(kept, Header{Name: item.Name, Value: value})
			}
			continue
		}
		kept = append(kept, item)
	}
	if idx < 0 {
		kept = append(kept, Header{Name: name, Value: value})
	}
	h.items = kept
}

// Get returns the first value for name or "".
func (h Headers) Get(name string) string {
	for _, item := range h.items {
		if strings.EqualFold(item.Name, name) {
			return item.Value
		}
	}
	return ""
}

// Values returns all values for name in insertion order.
func (h Headers) Values(name string) []string {
	var values []string
	for _, item := range h.items {
		if strings.EqualFold(item.Name, name) {
			values = append(values, item.Value)
		}
	}
	return values
}

// Has 是否存在某个请求头
func (h Headers) Has(name string) bool {
	for _, item := range h.items {
		if strings.EqualFold(item.Name, name) {
			return true
		}
	}
	return false
}

// Del removes all values for name.
func (h *Headers) Del(name string) {
	kept := h.items[:0:0]
	for _, item := range h.items {
		if !strings.EqualFold(item.Name, name) {
			kept = append(kept, item)
		}
	}
	h.items = kept
}

// Len 请求头数量
func (h Headers) Len() int {
	return len(h.items)
}

// All returns a copy of the entries in order.
func (h Headers) All() []Header {
	return append([]Header(nil), h.items...)
}

// Clone 复制
func (h Headers) Clone() Headers {
	return Headers{items: h.All()}
}

// Merge returns a copy of h where every name present in other is replaced by other's values.
func (h Headers) Merge(other Headers) Headers {
	merged := h.Clone()
	seen := make(map[string]bool)
	for _, item := range other.items {
		key := strings.ToLower(item.Name)
		if !seen[key] {
			merged.Del(item.Name)
			seen[key] = true
		}
	}
	for _, item := range other.items {
		merged.Add(item.Name, item.Value)
	}
	return merged
}

// WriteTo copies the headers into an http.Header.
func (h Headers) WriteTo(header http.Header) {
	for _, item := range h.items {
		header.Add(item.Name, item.Value)
	}
}

// ToMap 转换成map，同名取第一个值
func (h Headers) ToMap() map[string]string {
	m := make(map[string]string, len(h.items))
	for _, item := range h.items {
		key := strings.ToLower(item.Name)
		if _, ok := m[key]; !ok {
			m[key] = item.Value
		}
	}
	return m
}
