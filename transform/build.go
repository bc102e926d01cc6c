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
	"github.com/rulego/gateway/api/types"
)

// build assembles the output from target paths in binding order, for descriptors
// without a template. The returned node is the JSON document value, or the XML
// document node.
func build(bindings []types.Binding, targets []*Path, values map[string]bound) (*Node, error) {
	root := &Node{Kind: ObjectNode}
	for i, b := range bindings {
		v := values[b.Target]
		if v.absent {
			continue
		}
		segments := targets[i].segments
		if len(segments) == 0 {
			if v.seq {
				return arrayOf("", v.nodes), nil
			}
			return v.nodes[0].Renamed(""), nil
		}
		if err := place(root, segments, v); err != nil {
			return nil, types.WrapError(types.KindMappingFailed, err, "target %s", b.Target)
		}
	}
	return root, nil
}

func arrayOf(name string, nodes []*Node) *Node {
	arr := &Node{Kind: ArrayNode, Name: name}
	for _, n := range nodes {
		arr.Children = append(arr.Children, n.Renamed(""))
	}
	return arr
}

// place writes v at segments below cur, creating intermediate objects and arrays.
func place(cur *Node, segments []segment, v bound) error {
	seg := segments[0]
	last := len(segments) == 1

	if seg.attr {
		cur.Attrs = append(cur.Attrs, Attr{Name: seg.name, Value: v.nodes[0].Value})
		return nil
	}
	if seg.wildcard {
		arr, err := child(cur, seg.name, ArrayNode)
		if err != nil {
			return err
		}
		for i, n := range v.nodes {
			if last {
				setItem(arr, i, n.Renamed(""))
				continue
			}
			item := itemObject(arr, i)
			if err := place(item, segments[1:], bound{nodes: []*Node{n}}); err != nil {
				return err
			}
		}
		return nil
	}
	if seg.index >= 0 {
		arr, err := child(cur, seg.name, ArrayNode)
		if err != nil {
			return err
		}
		if last {
			if v.seq {
				setItem(arr, seg.index, arrayOf("", v.nodes))
			} else {
				setItem(arr, seg.index, v.nodes[0].Renamed(""))
			}
			return nil
		}
		return place(itemObject(arr, seg.index), segments[1:], v)
	}
	if last {
		if existing := cur.Child(seg.name); existing != nil && existing.Name == seg.name {
			return types.NewError(types.KindMappingFailed, "%s is bound more than once", seg.name)
		}
		if v.seq {
			cur.Children = append(cur.Children, arrayOf(seg.name, v.nodes))
		} else {
			cur.Children = append(cur.Children, v.nodes[0].Renamed(seg.name))
		}
		return nil
	}
	next, err := child(cur, seg.name, ObjectNode)
	if err != nil {
		return err
	}
	return place(next, segments[1:], v)
}

// child returns the member called name, creating it with kind when missing.
func child(cur *Node, name string, kind NodeKind) (*Node, error) {
	if name == "" {
		if cur.Kind != kind {
			return nil, types.NewError(types.KindMappingFailed, "expected %s at document root", kind)
		}
		return cur, nil
	}
	for _, c := range cur.Children {
		if c.Name == name {
			if c.Kind != kind {
				return nil, types.NewError(types.KindMappingFailed, "%s is already a %s", name, c.Kind)
			}
			return c, nil
		}
	}
	c := &Node{Kind: kind, Name: name}
	cur.Children = append(cur.Children, c)
	return c, nil
}

func setItem(arr *Node, i int, n *Node) {
	for len(arr.Children) <= i {
		arr.Children = append(arr.Children, newNull(""))
	}
	arr.Children[i] = n
}

func itemObject(arr *Node, i int) *Node {
	for len(arr.Children) <= i {
		arr.Children = append(arr.Children, newNull(""))
	}
	if arr.Children[i].Kind != ObjectNode {
		arr.Children[i] = &Node{Kind: ObjectNode}
	}
	return arr.Children[i]
}
