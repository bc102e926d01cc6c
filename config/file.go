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

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/rulego/gateway/api/types"
	"github.com/rulego/gateway/components/auth"
	"github.com/rulego/gateway/utils/json"
	"github.com/rulego/gateway/utils/maps"
	"gopkg.in/yaml.v3"
)

// Route is a route as written in a configuration document. ResilienceRef names a
// policy of File.Resilience and is used when Resilience is not set inline.
type Route struct {
	types.RouteDescriptor `json:",squash"`
	ResilienceRef         string `json:"resilienceRef,omitempty"`
}

// File 配置文件模型
//
//	routes:
//	  - key: orders.create
//	    protocol: REST
//	    target: {address: "http://orders:8080/orders", method: POST}
//	    requestTransform: orders.create.request
//	    resilienceRef: default
//	    credentialRef: orders
//	transforms:
//	  - id: orders.create.request
//	    sourceFormat: json
//	    targetFormat: json
//	    bindings:
//	      - {source: id, target: orderId}
//	      - {source: amt, target: amount, type: number}
//	resilience:
//	  default:
//	    timeout: 5s
//	    retry: {maxAttempts: 3, backoff: exponential, initialInterval: 100ms}
//	    circuitBreaker: {enabled: true, windowSize: 20, failureRateThreshold: 50}
//	credentials:
//	  orders: {type: BEARER, token: secret}
type File struct {
	Routes      []Route                           `json:"routes"`
	Transforms  []types.TransformDescriptor       `json:"transforms"`
	Resilience  map[string]types.ResiliencePolicy `json:"resilience"`
	Credentials map[string]auth.Config            `json:"credentials"`
}

// LoadFile reads a YAML or JSON configuration file. Files ending in .json are
// parsed as JSON, anything else as YAML.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	format := "yaml"
	if strings.EqualFold(filepath.Ext(path), ".json") {
		format = "json"
	}
	f, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse decodes a configuration document. format is "yaml" or "json".
func Parse(data []byte, format string) (*File, error) {
	var raw map[string]interface{}
	switch strings.ToLower(format) {
	case "json":
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	case "yaml", "yml", "":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown config format %q", format)
	}
	var f File
	if err := Decode(raw, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// Decode decodes a loosely typed document into out with the gateway's hooks:
// duration strings and case-insensitive content kinds.
func Decode(input interface{}, out interface{}) error {
	return maps.Map2Struct(input, out, contentKindHook)
}

var contentKindType = reflect.TypeOf(types.ContentKind(""))

// contentKindHook accepts "json", "Json" and "JSON" alike.
func contentKindHook(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if to != contentKindType || from.Kind() != reflect.String {
		return data, nil
	}
	s := reflect.ValueOf(data).String()
	if strings.TrimSpace(s) == "" {
		return types.ContentKind(""), nil
	}
	return types.ParseContentKind(s), nil
}

var _ mapstructure.DecodeHookFuncType = contentKindHook

// Descriptors resolves resilience refs and validates every route and transform.
func (f *File) Descriptors() ([]*types.RouteDescriptor, []*types.TransformDescriptor, error) {
	routes := make([]*types.RouteDescriptor, 0, len(f.Routes))
	seen := make(map[string]bool, len(f.Routes))
	for i := range f.Routes {
		r, err := f.Routes[i].Resolve(f.Resilience)
		if err != nil {
			return nil, nil, err
		}
		if seen[r.Key] {
			return nil, nil, types.NewError(types.KindRouteMisconfigured, "duplicate route %s", r.Key)
		}
		seen[r.Key] = true
		routes = append(routes, r)
	}
	transforms := make([]*types.TransformDescriptor, 0, len(f.Transforms))
	ids := make(map[string]bool, len(f.Transforms))
	for i := range f.Transforms {
		d := f.Transforms[i]
		if err := d.Validate(); err != nil {
			return nil, nil, err
		}
		if ids[d.Id] {
			return nil, nil, types.NewError(types.KindRouteMisconfigured, "duplicate transform %s", d.Id)
		}
		ids[d.Id] = true
		transforms = append(transforms, &d)
	}
	for _, r := range routes {
		for _, id := range []string{r.RequestTransform, r.ResponseTransform} {
			if id != "" && !ids[id] {
				return nil, nil, types.NewError(types.KindRouteMisconfigured, "route %s: unknown transform %s", r.Key, id)
			}
		}
	}
	return routes, transforms, nil
}

// Resolve returns the descriptor of the route with its resilience ref applied.
func (r Route) Resolve(policies map[string]types.ResiliencePolicy) (*types.RouteDescriptor, error) {
	d := r.RouteDescriptor.Clone()
	if d.Resilience == nil && r.ResilienceRef != "" {
		p, ok := policies[r.ResilienceRef]
		if !ok {
			return nil, types.NewError(types.KindRouteMisconfigured, "route %s: unknown resilience policy %s", d.Key, r.ResilienceRef)
		}
		d.Resilience = p.Clone()
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// Source builds a StaticSource from the file.
func (f *File) Source() (*StaticSource, error) {
	routes, transforms, err := f.Descriptors()
	if err != nil {
		return nil, err
	}
	return NewStaticSource(routes, transforms), nil
}

// CredentialProvider builds the credential provider of the file.
func (f *File) CredentialProvider() (*auth.StaticProvider, error) {
	return auth.NewStaticProvider(f.Credentials)
}
