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

// Package el evaluates ${} templates with expr-lang.
//
// A string that is exactly one placeholder, "${amount * 100}", evaluates to the typed
// result of the expression. A string mixing text and placeholders, "/orders/${id}",
// evaluates to a string with every placeholder interpolated.
package el

import (
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rulego/gateway/builtin/funcs"
	"github.com/rulego/gateway/utils/str"
)

type Template interface {
	Execute(data map[string]any) (interface{}, error)
	// HasVar 是否有变量
	HasVar() bool
}

// NewTemplate picks the template kind for tmpl.
func NewTemplate(tmpl string) (Template, error) {
	if _, ok := str.IsWholeVar(tmpl); ok {
		return NewExprTemplate(tmpl)
	} else if str.CheckHasVar(tmpl) {
		return NewMixedTemplate(tmpl)
	}
	return &NotTemplate{Tmpl: tmpl}, nil
}

var programs sync.Map

// Compile compiles an expression, caching the program by its source.
// Undefined variables evaluate to nil instead of failing compilation. The
// functions of funcs.TemplateFunc are callable by name.
func Compile(expression string) (*vm.Program, error) {
	if p, ok := programs.Load(expression); ok {
		return p.(*vm.Program), nil
	}
	opts := []expr.Option{expr.AllowUndefinedVariables()}
	for name, fn := range funcs.TemplateFunc.GetAll() {
		opts = append(opts, expr.Function(name, fn))
	}
	program, err := expr.Compile(expression, opts...)
	if err != nil {
		return nil, err
	}
	programs.Store(expression, program)
	return program, nil
}

// Eval compiles and runs expression against data.
func Eval(expression string, data map[string]any) (interface{}, error) {
	program, err := Compile(expression)
	if err != nil {
		return nil, err
	}
	return expr.Run(program, data)
}

// ExprTemplate 整体变量模板 ${xx}，返回表达式的原始类型
type ExprTemplate struct {
	Tmpl    string
	Program *vm.Program
}

func NewExprTemplate(tmpl string) (*ExprTemplate, error) {
	expression := tmpl
	if inner, ok := str.IsWholeVar(tmpl); ok {
		expression = inner
	}
	program, err := Compile(expression)
	if err != nil {
		return nil, err
	}
	return &ExprTemplate{Tmpl: expression, Program: program}, nil
}

func (t *ExprTemplate) Execute(data map[string]any) (interface{}, error) {
	if t.Program == nil {
		return nil, nil
	}
	return expr.Run(t.Program, data)
}

func (t *ExprTemplate) HasVar() bool {
	return true
}

// NotTemplate 原样输出
type NotTemplate struct {
	Tmpl string
}

func (t *NotTemplate) Execute(data map[string]any) (interface{}, error) {
	return t.Tmpl, nil
}

func (t *NotTemplate) HasVar() bool {
	return false
}

type segment struct {
	text    string
	program *vm.Program
}

// MixedTemplate 支持混合字符串和变量的模板，格式如 aa/${xxx}
type MixedTemplate struct {
	Tmpl     string
	segments []segment
}

func NewMixedTemplate(tmpl string) (*MixedTemplate, error) {
	t := &MixedTemplate{Tmpl: tmpl}
	rest := tmpl
	for {
		start := strings.Index(rest, str.VarPrefix)
		if start < 0 {
			break
		}
		end := strings.Index(rest[start:], str.VarSuffix)
		if end < 0 {
			break
		}
		end += start
		if start > 0 {
			t.segments = append(t.segments, segment{text: rest[:start]})
		}
		program, err := Compile(strings.TrimSpace(rest[start+len(str.VarPrefix) : end]))
		if err != nil {
			return nil, err
		}
		t.segments = append(t.segments, segment{program: program})
		rest = rest[end+len(str.VarSuffix):]
	}
	if rest != "" {
		t.segments = append(t.segments, segment{text: rest})
	}
	return t, nil
}

func (t *MixedTemplate) Execute(data map[string]any) (interface{}, error) {
	return t.ExecuteAsString(data)
}

// ExecuteAsString interpolates every placeholder. Nil results render as "".
func (t *MixedTemplate) ExecuteAsString(data map[string]any) (string, error) {
	var sb strings.Builder
	for _, s := range t.segments {
		if s.program == nil {
			sb.WriteString(s.text)
			continue
		}
		val, err := expr.Run(s.program, data)
		if err != nil {
			return "", err
		}
		sb.WriteString(str.ToString(val))
	}
	return sb.String(), nil
}

func (t *MixedTemplate) HasVar() bool {
	for _, s := range t.segments {
		if s.program != nil {
			return true
		}
	}
	return false
}

// ExecuteString renders tmpl against data. Strings without placeholders are returned as is.
func ExecuteString(tmpl string, data map[string]any) (string, error) {
	if !str.CheckHasVar(tmpl) {
		return tmpl, nil
	}
	t, err := NewMixedTemplate(tmpl)
	if err != nil {
		return "", err
	}
	return t.ExecuteAsString(data)
}
