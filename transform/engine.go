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

// Package transform converts payloads between caller and backend schemas.
//
// A TransformDescriptor names a source and a target format (JSON or XML), an ordered
// list of bindings from source paths to names, and an optional template written in
// the target format:
//
//	{"orderId": "${orderId}", "amount": ${amount}, "lines": [{"sku": "${sku}"}]}
//
// Whole placeholders are replaced by typed values, placeholders mixed with text are
// interpolated, and a block referencing a sequence binding is repeated once per item.
// Without a template the output is built from the binding target paths in order.
// Both directions and same-format transforms run through the same pipeline.
package transform

import (
	"bytes"
	"strings"
	"sync"

	"github.com/rulego/gateway/api/types"
	"github.com/rulego/gateway/utils/json"
)

// Engine 转换引擎，可并发使用
// Compiled paths and templates are cached by their source text, which is safe
// because descriptors are immutable and replaced wholesale.
type Engine struct {
	paths     sync.Map
	templates sync.Map
}

// NewEngine 创建转换引擎
func NewEngine() *Engine {
	return &Engine{}
}

// DefaultEngine is shared by callers that do not need their own cache.
var DefaultEngine = NewEngine()

// Transform converts in according to d.
func (e *Engine) Transform(d *types.TransformDescriptor, in types.Payload) (types.Payload, error) {
	return e.TransformWithVars(d, in, nil)
}

// TransformWithVars converts in according to d. vars are visible to template
// expressions as meta, e.g. ${meta.correlationId}.
func (e *Engine) TransformWithVars(d *types.TransformDescriptor, in types.Payload, vars map[string]interface{}) (types.Payload, error) {
	if d == nil {
		return types.Payload{}, types.NewError(types.KindMappingFailed, "transform descriptor is nil")
	}
	if in.Kind != d.SourceFormat {
		return types.Payload{}, types.NewError(types.KindPayloadMalformed,
			"transform %s expects %s payload, got %s", d.Id, d.SourceFormat, in.Kind)
	}
	root, err := parse(d.SourceFormat, in.Data)
	if err != nil {
		return types.Payload{}, err
	}
	sources, targets, err := e.compilePaths(d)
	if err != nil {
		return types.Payload{}, err
	}
	values, err := evaluate(d.Bindings, sources, root)
	if err != nil {
		return types.Payload{}, err
	}

	var out *Node
	prolog := false
	if strings.TrimSpace(d.Template) != "" {
		tmpl, err := e.compileTemplate(d.TargetFormat, d.Template)
		if err != nil {
			return types.Payload{}, err
		}
		if vars == nil {
			vars = map[string]interface{}{}
		}
		if out, err = tmpl.render(&scope{values: values, meta: vars}); err != nil {
			return types.Payload{}, err
		}
		prolog = tmpl.prolog
	} else if out, err = build(d.Bindings, targets, values); err != nil {
		return types.Payload{}, err
	}

	data, err := serialize(d.TargetFormat, out, d.Pretty, prolog)
	if err != nil {
		return types.Payload{}, err
	}
	return types.Payload{Kind: d.TargetFormat, Data: data}, nil
}

// Validate compiles the descriptor's paths and template, reporting defects as
// ROUTE_MISCONFIGURED so that configuration loaders can reject them up front.
func (e *Engine) Validate(d *types.TransformDescriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if _, _, err := e.compilePaths(d); err != nil {
		return types.WrapError(types.KindRouteMisconfigured, err, "transform %s", d.Id)
	}
	if strings.TrimSpace(d.Template) != "" {
		if _, err := e.compileTemplate(d.TargetFormat, d.Template); err != nil {
			return types.WrapError(types.KindRouteMisconfigured, err, "transform %s", d.Id)
		}
	}
	return nil
}

func parse(format types.ContentKind, data []byte) (*Node, error) {
	switch format {
	case types.JSON:
		return parseJSON(data)
	case types.XML:
		return parseXML(data)
	default:
		return nil, types.NewError(types.KindPayloadMalformed, "unsupported source format %s", format)
	}
}

func serialize(format types.ContentKind, n *Node, pretty bool, prolog bool) ([]byte, error) {
	switch format {
	case types.JSON:
		var buf bytes.Buffer
		writeJSON(&buf, n)
		if pretty {
			return json.Pretty(buf.Bytes()), nil
		}
		return buf.Bytes(), nil
	case types.XML:
		return writeXML(n, pretty, prolog)
	default:
		return nil, types.NewError(types.KindMappingFailed, "unsupported target format %s", format)
	}
}

func (e *Engine) path(raw string) (*Path, error) {
	if p, ok := e.paths.Load(raw); ok {
		return p.(*Path), nil
	}
	p, err := ParsePath(raw)
	if err != nil {
		return nil, err
	}
	e.paths.Store(raw, p)
	return p, nil
}

func (e *Engine) compilePaths(d *types.TransformDescriptor) ([]*Path, []*Path, error) {
	sources := make([]*Path, len(d.Bindings))
	targets := make([]*Path, len(d.Bindings))
	for i, b := range d.Bindings {
		var err error
		if sources[i], err = e.path(b.Source); err != nil {
			return nil, nil, err
		}
		if targets[i], err = e.path(b.Target); err != nil {
			return nil, nil, err
		}
	}
	return sources, targets, nil
}

func (e *Engine) compileTemplate(format types.ContentKind, tmpl string) (*compiledTemplate, error) {
	key := string(format) + "\x00" + tmpl
	if t, ok := e.templates.Load(key); ok {
		return t.(*compiledTemplate), nil
	}
	t, err := compileTemplate(format, tmpl)
	if err != nil {
		return nil, err
	}
	e.templates.Store(key, t)
	return t, nil
}
