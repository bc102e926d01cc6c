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
	"strconv"
	"strings"

	"github.com/rulego/gateway/api/types"
)

// segment is one dotted step of a path: "name", "name[2]", "name[*]", "[0]" or "@attr".
type segment struct {
	name     string
	attr     bool
	index    int
	wildcard bool
}

// Path is a compiled field path such as "order.items[*].sku" or "order.@id".
// XML names match on their local name, so "Envelope.Body" matches soap:Envelope/soap:Body.
type Path struct {
	raw      string
	segments []segment
}

func (p *Path) String() string {
	return p.raw
}

// ParsePath compiles a path. A leading "$" or "$." is accepted and ignored.
func ParsePath(raw string) (*Path, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "$")
	s = strings.TrimPrefix(s, ".")
	p := &Path{raw: raw}
	if s == "" {
		return p, nil
	}
	parts := strings.Split(s, ".")
	for i, part := range parts {
		seg, err := parseSegment(part)
		if err != nil {
			return nil, types.WrapError(types.KindMappingFailed, err, "invalid path %q", raw)
		}
		if seg.attr && i != len(parts)-1 {
			return nil, types.NewError(types.KindMappingFailed, "invalid path %q: attribute must be the last segment", raw)
		}
		p.segments = append(p.segments, seg)
	}
	return p, nil
}

func parseSegment(part string) (segment, error) {
	seg := segment{index: -1}
	part = strings.TrimSpace(part)
	if part == "" {
		return seg, types.NewError(types.KindMappingFailed, "empty segment")
	}
	if strings.HasPrefix(part, "@") {
		seg.attr = true
		seg.name = part[1:]
		if seg.name == "" {
			return seg, types.NewError(types.KindMappingFailed, "empty attribute name")
		}
		return seg, nil
	}
	open := strings.IndexByte(part, '[')
	if open < 0 {
		seg.name = part
		return seg, nil
	}
	if !strings.HasSuffix(part, "]") {
		return seg, types.NewError(types.KindMappingFailed, "unterminated index in %q", part)
	}
	seg.name = part[:open]
	inner := strings.TrimSpace(part[open+1 : len(part)-1])
	if inner == "*" {
		seg.wildcard = true
		return seg, nil
	}
	idx, err := strconv.Atoi(inner)
	if err != nil || idx < 0 {
		return seg, types.NewError(types.KindMappingFailed, "bad index %q", inner)
	}
	seg.index = idx
	return seg, nil
}

// Selection is the result of evaluating a path.
type Selection struct {
	Nodes []*Node
	// Seq marks a sequence: a wildcard, a fan-out over a JSON array, or repeated XML siblings.
	Seq bool
	// Found is false when the path does not exist. An existing empty sequence is found.
	Found bool
}

// Select evaluates the path against root.
func (p *Path) Select(root *Node) Selection {
	current := []*Node{root}
	seq := false
	emptySeq := false
	for _, seg := range p.segments {
		emptySeq = false
		var next []*Node
		for _, n := range current {
			if seg.attr {
				if v, ok := n.Attr(seg.name); ok {
					next = append(next, newString(seg.name, v))
				}
				continue
			}
			matched, fanout := matchName(n, seg.name)
			if fanout || len(matched) > 1 {
				seq = true
			}
			if fanout && len(n.Children) == 0 {
				emptySeq = true
			}
			switch {
			case seg.wildcard:
				seq = true
				if len(matched) == 1 && matched[0].Kind == ArrayNode {
					emptySeq = len(matched[0].Children) == 0
					matched = matched[0].Children
				}
			case seg.index >= 0:
				if len(matched) == 1 && matched[0].Kind == ArrayNode {
					matched = pick(matched[0].Children, seg.index)
				} else {
					matched = pick(matched, seg.index)
				}
			}
			next = append(next, matched...)
		}
		current = next
		if len(current) == 0 {
			return Selection{Seq: seq, Found: emptySeq}
		}
	}
	return Selection{Nodes: current, Seq: seq, Found: true}
}

// matchName selects the children of n called name. An empty name selects n itself.
// Names applied to a JSON array fan out over its object items.
func matchName(n *Node, name string) ([]*Node, bool) {
	if name == "" {
		return []*Node{n}, false
	}
	switch n.Kind {
	case ObjectNode:
		return n.ChildrenNamed(name), false
	case ArrayNode:
		var out []*Node
		for _, item := range n.Children {
			if item.Kind == ObjectNode {
				out = append(out, item.ChildrenNamed(name)...)
			}
		}
		return out, true
	default:
		return nil, false
	}
}

func pick(nodes []*Node, i int) []*Node {
	if i < len(nodes) {
		return []*Node{nodes[i]}
	}
	return nil
}
