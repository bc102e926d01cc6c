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

package transform

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/rulego/gateway/api/types"
	"github.com/rulego/gateway/utils/json"
	"github.com/tidwall/gjson"
)

// parseJSON parses data keeping member order.
func parseJSON(data []byte) (*Node, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, types.NewError(types.KindPayloadMalformed, "empty JSON payload")
	}
	if !utf8.Valid(data) {
		return nil, types.NewError(types.KindPayloadMalformed, "JSON payload is not valid UTF-8")
	}
	if !gjson.ValidBytes(data) {
		return nil, types.NewError(types.KindPayloadMalformed, "invalid JSON payload")
	}
	return fromResult("", gjson.ParseBytes(data)), nil
}

func fromResult(name string, r gjson.Result) *Node {
	switch r.Type {
	case gjson.Null:
		return newNull(name)
	case gjson.False:
		return &Node{Kind: BoolNode, Name: name, Value: "false"}
	case gjson.True:
		return &Node{Kind: BoolNode, Name: name, Value: "true"}
	case gjson.Number:
		return &Node{Kind: NumberNode, Name: name, Value: strings.TrimSpace(r.Raw)}
	case gjson.String:
		return newString(name, r.Str)
	}
	if r.IsArray() {
		n := &Node{Kind: ArrayNode, Name: name}
		r.ForEach(func(_, value gjson.Result) bool {
			n.Children = append(n.Children, fromResult("", value))
			return true
		})
		return n
	}
	n := &Node{Kind: ObjectNode, Name: name}
	r.ForEach(func(key, value gjson.Result) bool {
		n.Children = append(n.Children, fromResult(key.Str, value))
		return true
	})
	return n
}

// writeJSON serializes n. Member order is the child order; repeated child names,
// which only XML trees produce, are grouped into an array at the first occurrence.
func writeJSON(buf *bytes.Buffer, n *Node) {
	switch n.Kind {
	case NullNode:
		if len(n.Attrs) > 0 {
			writeJSONObject(buf, n)
			return
		}
		buf.WriteString("null")
	case StringNode:
		if len(n.Attrs) > 0 {
			writeJSONObject(buf, n)
			return
		}
		buf.Write(json.QuoteString(n.Value))
	case NumberNode:
		buf.WriteString(n.Value)
	case BoolNode:
		buf.WriteString(n.Value)
	case ArrayNode:
		buf.WriteByte('[')
		for i, c := range n.Children {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeJSON(buf, c)
		}
		buf.WriteByte(']')
	default:
		writeJSONObject(buf, n)
	}
}

func writeJSONObject(buf *bytes.Buffer, n *Node) {
	buf.WriteByte('{')
	first := true
	member := func(name string) {
		if !first {
			buf.WriteByte(',')
		}
		first = false
		buf.Write(json.QuoteString(name))
		buf.WriteByte(':')
	}
	for _, a := range n.Attrs {
		member("@" + a.Name)
		buf.Write(json.QuoteString(a.Value))
	}
	if n.Kind != ObjectNode {
		if n.Kind != NullNode {
			member("#text")
			buf.Write(json.QuoteString(n.Value))
		}
		buf.WriteByte('}')
		return
	}
	counts := make(map[string]int, len(n.Children))
	for _, c := range n.Children {
		counts[c.Name]++
	}
	written := make(map[string]bool, len(n.Children))
	for _, c := range n.Children {
		if counts[c.Name] == 1 {
			member(c.Name)
			writeJSON(buf, c)
			continue
		}
		if written[c.Name] {
			continue
		}
		written[c.Name] = true
		member(c.Name)
		buf.WriteByte('[')
		i := 0
		for _, sibling := range n.Children {
			if sibling.Name != c.Name {
				continue
			}
			if i > 0 {
				buf.WriteByte(',')
			}
			writeJSON(buf, sibling)
			i++
		}
		buf.WriteByte(']')
	}
	if strings.TrimSpace(n.Value) != "" {
		member("#text")
		buf.Write(json.QuoteString(n.Value))
	}
	buf.WriteByte('}')
}

// quotePlaceholders turns bare ${...} placeholders outside string literals into
// string literals, so that {"amount": ${amount}} parses as JSON. String literals
// that are a single placeholder are substituted with typed values later, so a
// bare and a quoted whole placeholder behave the same.
func quotePlaceholders(tmpl string) string {
	var sb strings.Builder
	inString := false
	for i := 0; i < len(tmpl); i++ {
		c := tmpl[i]
		if inString {
			sb.WriteByte(c)
			if c == '\\' && i+1 < len(tmpl) {
				i++
				sb.WriteByte(tmpl[i])
			} else if c == '"' {
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
			sb.WriteByte(c)
			continue
		}
		if c == '$' && i+1 < len(tmpl) && tmpl[i+1] == '{' {
			if end := strings.IndexByte(tmpl[i:], '}'); end > 0 {
				sb.Write(json.QuoteString(tmpl[i : i+end+1]))
				i += end
				continue
			}
		}
		sb.WriteByte(c)
	}
	return sb.String()
}
