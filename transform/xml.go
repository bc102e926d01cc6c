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
	"unicode"

	"github.com/beevik/etree"
	"github.com/rulego/gateway/api/types"
)

// parseXML returns a document node whose single child is the root element.
func parseXML(data []byte) (*Node, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, types.NewError(types.KindPayloadMalformed, "empty XML payload")
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, types.WrapError(types.KindPayloadMalformed, err, "invalid XML payload")
	}
	var root *etree.Element
	for _, tok := range doc.Child {
		switch t := tok.(type) {
		case *etree.Element:
			if root != nil {
				return nil, types.NewError(types.KindPayloadMalformed, "XML payload has more than one root element")
			}
			root = t
		case *etree.CharData:
			if strings.TrimSpace(t.Data) != "" {
				return nil, types.NewError(types.KindPayloadMalformed, "XML payload has text outside the root element")
			}
		}
	}
	if root == nil {
		return nil, types.NewError(types.KindPayloadMalformed, "XML payload has no root element")
	}
	return &Node{Kind: ObjectNode, Children: []*Node{fromElement(root)}}, nil
}

func fromElement(e *etree.Element) *Node {
	n := &Node{Name: e.FullTag()}
	for _, a := range e.Attr {
		n.Attrs = append(n.Attrs, Attr{Name: a.FullKey(), Value: a.Value})
	}
	children := e.ChildElements()
	if len(children) == 0 {
		n.Kind = StringNode
		n.Value = e.Text()
		return n
	}
	n.Kind = ObjectNode
	n.Value = strings.TrimSpace(e.Text())
	for _, c := range children {
		n.Children = append(n.Children, fromElement(c))
	}
	return n
}

// xmlProlog is written when the template declared one.
const xmlProlog = `version="1.0" encoding="UTF-8"`

// writeXML serializes a document node, which must hold exactly one root element.
func writeXML(docNode *Node, pretty bool, prolog bool) ([]byte, error) {
	roots := docNode.Children
	if docNode.Kind != ObjectNode || len(roots) != 1 || roots[0].Kind == ArrayNode {
		return nil, types.NewError(types.KindMappingFailed, "XML output needs exactly one root element")
	}
	doc := etree.NewDocument()
	doc.WriteSettings.CanonicalText = true
	doc.WriteSettings.CanonicalAttrVal = true
	if prolog {
		doc.CreateProcInst("xml", xmlProlog)
	}
	if err := appendElement(&doc.Element, roots[0]); err != nil {
		return nil, err
	}
	if pretty {
		doc.Indent(2)
	}
	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, types.WrapError(types.KindMappingFailed, err, "serialize XML")
	}
	return bytes.TrimRight(out, "\n"), nil
}

func appendElement(parent *etree.Element, n *Node) error {
	if n.Kind == ArrayNode {
		for _, item := range n.Children {
			if err := appendElement(parent, item.Renamed(n.Name)); err != nil {
				return err
			}
		}
		return nil
	}
	if !validXMLName(n.Name) {
		return types.NewError(types.KindMappingFailed, "%q is not a valid XML element name", n.Name)
	}
	el := parent.CreateElement(n.Name)
	for _, a := range n.Attrs {
		el.CreateAttr(a.Name, a.Value)
	}
	switch n.Kind {
	case NullNode:
	case ObjectNode:
		if n.Value != "" {
			el.SetText(n.Value)
		}
		for _, c := range n.Children {
			switch {
			case strings.HasPrefix(c.Name, "@"):
				el.CreateAttr(c.Name[1:], c.Value)
			case c.Name == "#text":
				el.SetText(c.Value)
			default:
				if err := appendElement(el, c); err != nil {
					return err
				}
			}
		}
	default:
		el.SetText(n.Value)
	}
	return nil
}

func validXMLName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		if unicode.IsLetter(r) || r == '_' {
			continue
		}
		if i > 0 && (unicode.IsDigit(r) || r == '-' || r == '.' || r == ':') {
			continue
		}
		return false
	}
	return true
}
