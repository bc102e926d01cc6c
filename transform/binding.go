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
	"github.com/rulego/gateway/utils/cast"
)

// bound is the value of one binding after extraction and coercion.
type bound struct {
	nodes  []*Node
	seq    bool
	absent bool
}

func (b bound) item(i int) bound {
	return bound{nodes: []*Node{b.nodes[i]}}
}

// toAny returns the value as plain Go data for expressions.
func (b bound) toAny() interface{} {
	switch {
	case b.absent:
		return nil
	case b.seq:
		out := make([]interface{}, len(b.nodes))
		for i, n := range b.nodes {
			out[i] = n.toAny()
		}
		return out
	default:
		return b.nodes[0].toAny()
	}
}

// evaluate extracts and coerces every binding against root.
func evaluate(bindings []types.Binding, paths []*Path, root *Node) (map[string]bound, error) {
	values := make(map[string]bound, len(bindings))
	for i, b := range bindings {
		sel := paths[i].Select(root)
		var v bound
		switch {
		case sel.Found:
			v = bound{nodes: sel.Nodes, seq: sel.Seq}
		case b.Default != nil:
			v = bound{nodes: []*Node{newString("", *b.Default)}}
		case b.Optional:
			v = bound{absent: true}
		default:
			return nil, types.NewError(types.KindMappingFailed, "required path %s for %s not found", b.Source, b.Target)
		}
		if !v.absent {
			coerced := make([]*Node, len(v.nodes))
			for j, n := range v.nodes {
				c, err := coerce(n, b.Type)
				if err != nil {
					return nil, types.WrapError(types.KindMappingFailed, err, "binding %s", b.Target)
				}
				coerced[j] = c
			}
			v.nodes = coerced
		}
		values[b.Target] = v
	}
	return values, nil
}

// coerce converts a node to the declared type. Nulls stay null. Unset and raw
// types pass the node through unchanged.
func coerce(n *Node, t types.ValueType) (*Node, error) {
	if t == "" || t == types.TypeRaw || n.Kind == NullNode {
		return n, nil
	}
	if !n.IsScalar() {
		return nil, types.NewError(types.KindMappingFailed, "cannot coerce %s to %s", n.Kind, t)
	}
	switch t {
	case types.TypeString:
		return &Node{Kind: StringNode, Name: n.Name, Value: n.Value}, nil
	case types.TypeNumber:
		switch n.Kind {
		case NumberNode:
			return n, nil
		case BoolNode:
			return nil, types.NewError(types.KindMappingFailed, "cannot coerce boolean to number")
		}
		lit, err := cast.ToNumberLiteral(n.Value)
		if err != nil {
			return nil, types.NewError(types.KindMappingFailed, "%q is not a number", n.Value)
		}
		return &Node{Kind: NumberNode, Name: n.Name, Value: lit}, nil
	case types.TypeBoolean:
		b, err := cast.ToBoolE(n.Value)
		if err != nil {
			return nil, types.NewError(types.KindMappingFailed, "%q is not a boolean", n.Value)
		}
		if b {
			return &Node{Kind: BoolNode, Name: n.Name, Value: "true"}, nil
		}
		return &Node{Kind: BoolNode, Name: n.Name, Value: "false"}, nil
	default:
		return nil, types.NewError(types.KindMappingFailed, "unknown type %q", t)
	}
}
