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

// Package json wraps encoding/json with the gateway's defaults: no HTML escaping
// and no trailing newline, plus tidwall helpers for pretty printing and validation.
package json

import (
	"bytes"
	"encoding/json"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
)

// RawMessage is a raw encoded JSON value.
type RawMessage = json.RawMessage

// Marshal marshals v without escaping &, < and >.
func Marshal(v interface{}) ([]byte, error) {
	return Marshal2(v, false)
}

func Marshal2(v interface{}, escapeHTML bool) ([]byte, error) {
	var byteBuf bytes.Buffer
	encoder := json.NewEncoder(&byteBuf)
	encoder.SetEscapeHTML(escapeHTML)
	err := encoder.Encode(v)
	if err == nil && byteBuf.Len() > 0 {
		return byteBuf.Bytes()[:byteBuf.Len()-1], err
	}
	return byteBuf.Bytes(), err
}

// Unmarshal json data to struct
func Unmarshal(b []byte, m interface{}) error {
	return json.Unmarshal(b, m)
}

// Valid 是否为合法JSON
func Valid(b []byte) bool {
	return gjson.ValidBytes(b)
}

// Pretty indents b with two spaces, keeping key order.
func Pretty(b []byte) []byte {
	out := pretty.PrettyOptions(b, &pretty.Options{Width: 80, Indent: "  ", SortKeys: false})
	return bytes.TrimRight(out, "\n")
}

// Compact removes insignificant whitespace.
func Compact(b []byte) []byte {
	return pretty.Ugly(b)
}

// QuoteString returns s as a JSON string literal without HTML escaping.
func QuoteString(s string) []byte {
	b, _ := Marshal(s)
	return b
}
