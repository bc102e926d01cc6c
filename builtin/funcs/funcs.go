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

// Package funcs holds the functions callable from ${} templates, e.g. in a
// backend address: "http://search/items?q=${urlEncode(msg.query)}".
//
// Register custom functions at init, before the first template compiles:
// compiled templates are cached and keep the functions they were compiled with.
package funcs

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/gofrs/uuid/v5"
	"github.com/rulego/gateway/utils/str"
)

// Func is a template function.
type Func = func(params ...any) (any, error)

// TemplateFunc 内置模板函数
var TemplateFunc funcMap

func init() {
	TemplateFunc.Register("escape", unary(func(s string) (any, error) {
		var replacer = strings.NewReplacer(
			"\\", "\\\\", // 反斜杠
			"\"", "\\\"", // 双引号
			"\n", "\\n", // 换行符
			"\r", "\\r", // 回车符
			"\t", "\\t", // 制表符
		)
		return replacer.Replace(s), nil
	}))
	TemplateFunc.Register("xmlEscape", unary(func(s string) (any, error) {
		var buf bytes.Buffer
		if err := xml.EscapeText(&buf, []byte(s)); err != nil {
			return nil, err
		}
		return buf.String(), nil
	}))
	TemplateFunc.Register("urlEncode", unary(func(s string) (any, error) {
		return url.QueryEscape(s), nil
	}))
	TemplateFunc.Register("base64Encode", unary(func(s string) (any, error) {
		return base64.StdEncoding.EncodeToString([]byte(s)), nil
	}))
	TemplateFunc.Register("base64Decode", unary(func(s string) (any, error) {
		b, err := base64.StdEncoding.DecodeString(s)
		return string(b), err
	}))
	TemplateFunc.Register("uuid", func(params ...any) (any, error) {
		id, err := uuid.NewV4()
		if err != nil {
			return nil, err
		}
		return id.String(), nil
	})
}

// unary adapts a one string argument function. Non string arguments are formatted.
func unary(fn func(s string) (any, error)) Func {
	return func(params ...any) (any, error) {
		if len(params) != 1 {
			return nil, fmt.Errorf("expected 1 argument, got %d", len(params))
		}
		return fn(str.ToString(params[0]))
	}
}

type funcMap struct {
	v map[string]Func
	sync.RWMutex
}

func (x *funcMap) Register(name string, value Func) {
	x.Lock()
	defer x.Unlock()
	if x.v == nil {
		x.v = make(map[string]Func)
	}
	x.v[name] = value
}

func (x *funcMap) RegisterAll(values map[string]Func) {
	x.Lock()
	defer x.Unlock()
	if x.v == nil {
		x.v = make(map[string]Func)
	}
	for k, v := range values {
		x.v[k] = v
	}
}

func (x *funcMap) UnRegister(name string) {
	x.Lock()
	defer x.Unlock()
	if x.v != nil {
		delete(x.v, name)
	}
}

func (x *funcMap) Get(name string) (Func, bool) {
	x.RLock()
	defer x.RUnlock()
	f, ok := x.v[name]
	return f, ok
}

func (x *funcMap) GetAll() map[string]Func {
	x.RLock()
	defer x.RUnlock()
	cp := make(map[string]Func, len(x.v))
	for k, v := range x.v {
		cp[k] = v
	}
	return cp
}

// Names returns the sorted function names.
func (x *funcMap) Names() []string {
	x.RLock()
	defer x.RUnlock()
	var keys = make([]string, 0, len(x.v))
	for k := range x.v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
