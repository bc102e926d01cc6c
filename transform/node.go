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
	"sort"
	"strconv"
	"strings"

	"github.com/rulego/gateway/utils/str"
)

// NodeKind 节点类型
type NodeKind int

const (
	NullNode NodeKind = iota
	StringNode
	NumberNode
	BoolNode
	ObjectNode
	ArrayNode
)

func (k NodeKind) String() string {
	switch k {
	case StringNode:
		return "string"
	case NumberNode:
		return "number"
	case BoolNode:
		return "boolean"
	case ObjectNode:
		return "object"
	case ArrayNode:
		return "array"
	default:
		return "null"
	}
}

// Attr is an XML attribute. Order is kept as parsed.
type Attr struct {
	Name  string
	Value string
}

// Node is the format neutral tree both JSON and XML documents are parsed into.
//
// JSON objects are ObjectNodes whose children carry the member names, arrays are
// ArrayNodes. An XML element is a StringNode when it only holds text, otherwise an
// ObjectNode whose children are the child elements in document order, repeated
// siblings included. Value holds the scalar text: the raw literal for numbers,
// "true"/"false" for booleans, and for XML objects any text mixed with the children.
type Node struct {
	Kind     NodeKind
	Name     string
	Value    string
	Attrs    []Attr
	Children []*Node
}

func newString(name, value string) *Node {
	return &Node{Kind: StringNode, Name: name, Value: value}
}

func newNull(name string) *Node {
	return &Node{Kind: NullNode, Name: name}
}

// Clone deep copies the node.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := &Node{Kind: n.Kind, Name: n.Name, Value: n.Value}
	if len(n.Attrs) > 0 {
		c.Attrs = append([]Attr(nil), n.Attrs...)
	}
	if len(n.Children) > 0 {
		c.Children = make([]*Node, len(n.Children))
		for i, child := range n.Children {
			c.Children[i] = child.Clone()
		}
	}
	return c
}

// Renamed returns a copy of the node carrying name.
func (n *Node) Renamed(name string) *Node {
	c := n.Clone()
	c.Name = name
	return c
}

// IsScalar 是否是标量
func (n *Node) IsScalar() bool {
	return n.Kind == StringNode || n.Kind == NumberNode || n.Kind == BoolNode || n.Kind == NullNode
}

// Attr returns the attribute matching name by local name.
func (n *Node) Attr(name string) (string, bool) {
	for _, a := range n.Attrs {
		if localName(a.Name) == localName(name) {
			return a.Value, true
		}
	}
	return "", false
}

// Child returns the first child whose local name matches.
func (n *Node) Child(name string) *Node {
	for _, c := range n.Children {
		if localName(c.Name) == localName(name) {
			return c
		}
	}
	return nil
}

// ChildrenNamed returns every child whose local name matches, in order.
func (n *Node) ChildrenNamed(name string) []*Node {
	var out []*Node
	for _, c := range n.Children {
		if localName(c.Name) == localName(name) {
			out = append(out, c)
		}
	}
	return out
}

// localName strips an XML namespace prefix.
func localName(name string) string {
	if i := strings.IndexByte(name, ':'); i >= 0 {
		return name[i+1:]
	}
	return name
}

// toAny converts the node into plain Go values for expression evaluation.
// Repeated XML siblings become slices.
func (n *Node) toAny() interface{} {
	switch n.Kind {
	case NullNode:
		return nil
	case StringNode:
		return n.Value
	case NumberNode:
		if f, err := strconv.ParseFloat(n.Value, 64); err == nil {
			return f
		}
		return n.Value
	case BoolNode:
		return n.Value == "true"
	case ArrayNode:
		out := make([]interface{}, len(n.Children))
		for i, c := range n.Children {
			out[i] = c.toAny()
		}
		return out
	default:
		m := make(map[string]interface{}, len(n.Children)+len(n.Attrs))
		for _, a := range n.Attrs {
			m["@"+localName(a.Name)] = a.Value
		}
		counts := make(map[string]int, len(n.Children))
		for _, c := range n.Children {
			counts[localName(c.Name)]++
		}
		for _, c := range n.Children {
			key := localName(c.Name)
			if counts[key] > 1 {
				list, _ := m[key].([]interface{})
				m[key] = append(list, c.toAny())
			} else {
				m[key] = c.toAny()
			}
		}
		if n.Value != "" {
			m["#text"] = n.Value
		}
		return m
	}
}

// fromAny converts an expression result into a node.
func fromAny(name string, v interface{}) *Node {
	switch val := v.(type) {
	case nil:
		return newNull(name)
	case *Node:
		return val.Renamed(name)
	case string:
		return newString(name, val)
	case bool:
		return &Node{Kind: BoolNode, Name: name, Value: strconv.FormatBool(val)}
	case float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return &Node{Kind: NumberNode, Name: name, Value: str.ToString(val)}
	case []interface{}:
		n := &Node{Kind: ArrayNode, Name: name}
		for _, item := range val {
			n.Children = append(n.Children, fromAny("", item))
		}
		return n
	case map[string]interface{}:
		n := &Node{Kind: ObjectNode, Name: name}
		for _, k := range sortedKeys(val) {
			n.Children = append(n.Children, fromAny(k, val[k]))
		}
		return n
	default:
		return newString(name, str.ToString(val))
	}
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
