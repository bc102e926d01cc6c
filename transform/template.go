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
	"strings"

	"github.com/rulego/gateway/api/types"
	"github.com/rulego/gateway/utils/el"
	"github.com/rulego/gateway/utils/str"
)

// repeatAttr marks an XML template element as the block repeated over sequences.
// It is removed from the output.
const repeatAttr = "_repeat"

// compiledTemplate is a parsed template skeleton. It is never mutated after compilation.
type compiledTemplate struct {
	format types.ContentKind
	root   *Node
	prolog bool
}

func compileTemplate(format types.ContentKind, tmpl string) (*compiledTemplate, error) {
	switch format {
	case types.JSON:
		root, err := parseJSON([]byte(quotePlaceholders(tmpl)))
		if err != nil {
			return nil, types.WrapError(types.KindMappingFailed, err, "invalid JSON template")
		}
		return &compiledTemplate{format: format, root: root}, nil
	case types.XML:
		root, err := parseXML([]byte(tmpl))
		if err != nil {
			return nil, types.WrapError(types.KindMappingFailed, err, "invalid XML template")
		}
		return &compiledTemplate{format: format, root: root, prolog: hasProlog(tmpl)}, nil
	default:
		return nil, types.NewError(types.KindMappingFailed, "templates are not supported for %s", format)
	}
}

func hasProlog(tmpl string) bool {
	return strings.HasPrefix(strings.TrimSpace(tmpl), "<?xml")
}

// scope holds the binding values visible while rendering a block.
type scope struct {
	values map[string]bound
	meta   map[string]interface{}
	env    map[string]interface{}
}

func (s *scope) with(overrides map[string]bound) *scope {
	values := make(map[string]bound, len(s.values))
	for k, v := range s.values {
		values[k] = v
	}
	for k, v := range overrides {
		values[k] = v
	}
	return &scope{values: values, meta: s.meta}
}

// environment is the expression data: every binding by name plus meta.
func (s *scope) environment() map[string]interface{} {
	if s.env != nil {
		return s.env
	}
	env := make(map[string]interface{}, len(s.values)+1)
	for k, v := range s.values {
		env[k] = v.toAny()
	}
	env["meta"] = s.meta
	s.env = env
	return env
}

// render instantiates the template against the scope. The result is the JSON
// document value, or for XML the document node holding the root element.
func (t *compiledTemplate) render(s *scope) (*Node, error) {
	if t.format == types.XML {
		children, err := t.renderChildren(t.root, s)
		if err != nil {
			return nil, err
		}
		return &Node{Kind: ObjectNode, Children: children}, nil
	}
	out, err := t.renderNode(t.root, s)
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, types.NewError(types.KindMappingFailed, "template root resolved to %d values", len(out))
	}
	return out[0], nil
}

// renderNode renders one template node into zero or more output nodes.
// Zero means the node is omitted because an optional value is absent.
func (t *compiledTemplate) renderNode(n *Node, s *scope) ([]*Node, error) {
	attrs, err := renderAttrs(n.Attrs, s)
	if err != nil {
		return nil, err
	}
	switch n.Kind {
	case StringNode:
		if name, ok := str.IsWholeVar(n.Value); ok {
			return t.substitute(n, name, attrs, s)
		}
		value := n.Value
		if str.CheckHasVar(value) {
			if value, err = el.ExecuteString(value, s.environment()); err != nil {
				return nil, types.WrapError(types.KindMappingFailed, err, "evaluate %q", n.Value)
			}
		}
		return []*Node{{Kind: StringNode, Name: n.Name, Value: value, Attrs: attrs}}, nil
	case ObjectNode:
		children, err := t.renderChildren(n, s)
		if err != nil {
			return nil, err
		}
		return []*Node{{Kind: ObjectNode, Name: n.Name, Value: n.Value, Attrs: attrs, Children: children}}, nil
	case ArrayNode:
		out := &Node{Kind: ArrayNode, Name: n.Name}
		for _, item := range n.Children {
			rendered, err := t.expand(item, s)
			if err != nil {
				return nil, err
			}
			out.Children = append(out.Children, rendered...)
		}
		return []*Node{out}, nil
	default:
		c := n.Clone()
		c.Attrs = attrs
		return []*Node{c}, nil
	}
}

func (t *compiledTemplate) renderChildren(n *Node, s *scope) ([]*Node, error) {
	var children []*Node
	for _, c := range n.Children {
		var rendered []*Node
		var err error
		if t.format == types.XML && repeatsHere(c, s) {
			rendered, err = t.expand(c, s)
		} else {
			rendered, err = t.renderNode(c, s)
		}
		if err != nil {
			return nil, err
		}
		children = append(children, rendered...)
	}
	return children, nil
}

// expand renders n once per item of the sequences it references, or once when it references none.
func (t *compiledTemplate) expand(n *Node, s *scope) ([]*Node, error) {
	refs := seqRefs(n, s)
	if len(refs) == 0 {
		return t.renderNode(n, s)
	}
	size := -1
	for _, name := range refs {
		l := len(s.values[name].nodes)
		if size >= 0 && l != size {
			return nil, types.NewError(types.KindMappingFailed, "sequences %s have different lengths", strings.Join(refs, ","))
		}
		size = l
	}
	var out []*Node
	for i := 0; i < size; i++ {
		overrides := make(map[string]bound, len(refs))
		for _, name := range refs {
			overrides[name] = s.values[name].item(i)
		}
		rendered, err := t.renderNode(n, s.with(overrides))
		if err != nil {
			return nil, err
		}
		out = append(out, rendered...)
	}
	return out, nil
}

// substitute replaces a whole ${name} placeholder with the bound value, or with
// the result of the expression when name is not a binding.
func (t *compiledTemplate) substitute(n *Node, name string, attrs []Attr, s *scope) ([]*Node, error) {
	b, isBinding := s.values[name]
	if !isBinding {
		v, err := el.Eval(name, s.environment())
		if err != nil {
			return nil, types.WrapError(types.KindMappingFailed, err, "evaluate ${%s}", name)
		}
		out := fromAny(n.Name, v)
		out.Attrs = append(attrs, out.Attrs...)
		return []*Node{out}, nil
	}
	if b.absent {
		return nil, nil
	}
	if b.seq && t.format == types.JSON {
		arr := &Node{Kind: ArrayNode, Name: n.Name}
		for _, item := range b.nodes {
			arr.Children = append(arr.Children, item.Renamed(""))
		}
		return []*Node{arr}, nil
	}
	out := make([]*Node, 0, len(b.nodes))
	for _, item := range b.nodes {
		c := item.Renamed(n.Name)
		if t.format == types.XML {
			c.Attrs = append(append([]Attr(nil), attrs...), c.Attrs...)
		}
		out = append(out, c)
	}
	return out, nil
}

func renderAttrs(attrs []Attr, s *scope) ([]Attr, error) {
	var out []Attr
	for _, a := range attrs {
		if a.Name == repeatAttr {
			continue
		}
		if name, ok := str.IsWholeVar(a.Value); ok {
			if b, isBinding := s.values[name]; isBinding {
				if b.absent {
					continue
				}
				out = append(out, Attr{Name: a.Name, Value: b.nodes[0].Value})
				continue
			}
		}
		value := a.Value
		if str.CheckHasVar(value) {
			var err error
			if value, err = el.ExecuteString(value, s.environment()); err != nil {
				return nil, types.WrapError(types.KindMappingFailed, err, "evaluate attribute %s", a.Name)
			}
		}
		out = append(out, Attr{Name: a.Name, Value: value})
	}
	return out, nil
}

// seqRefs lists the sequence bindings referenced anywhere below n, in order.
func seqRefs(n *Node, s *scope) []string {
	var refs []string
	seen := make(map[string]bool)
	var walk func(*Node)
	collect := func(text string) {
		for _, name := range str.PlaceholderNames(text) {
			if b, ok := s.values[name]; ok && b.seq && !seen[name] {
				seen[name] = true
				refs = append(refs, name)
			}
		}
	}
	walk = func(node *Node) {
		collect(node.Value)
		for _, a := range node.Attrs {
			collect(a.Value)
		}
		for _, c := range node.Children {
			walk(c)
		}
	}
	walk(n)
	return refs
}

// repeatsHere reports whether the XML element n is the block repeated over the
// sequences it references: either it is marked with the repeat attribute, or it
// is the lowest element containing all of them.
func repeatsHere(n *Node, s *scope) bool {
	refs := seqRefs(n, s)
	if len(refs) == 0 {
		return false
	}
	if v, ok := n.Attr(repeatAttr); ok && v != "false" {
		return true
	}
	if hasMarkedDescendant(n) {
		return false
	}
	for _, c := range n.Children {
		if len(seqRefs(c, s)) == len(refs) {
			return false
		}
	}
	return true
}

func hasMarkedDescendant(n *Node) bool {
	for _, c := range n.Children {
		if _, ok := c.Attr(repeatAttr); ok {
			return true
		}
		if hasMarkedDescendant(c) {
			return true
		}
	}
	return false
}
