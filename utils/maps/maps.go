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

// Package maps decodes loosely typed maps, as produced by YAML or JSON
// documents, into typed structs.
package maps

import (
	"strings"

	"github.com/mitchellh/mapstructure"
)

// Map2Struct decodes input into output, which must be a pointer to a map or struct.
// Field names match the json tag, or the field name case-insensitively. Duration
// strings such as "5s" and comma separated lists decode into their typed fields.
// Extra hooks run before the built-in ones.
func Map2Struct(input interface{}, output interface{}, hooks ...mapstructure.DecodeHookFunc) error {
	all := append([]mapstructure.DecodeHookFunc{}, hooks...)
	all = append(all,
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.ComposeDecodeHookFunc(all...),
		WeaklyTypedInput: true,
		TagName:          "json",
		Result:           output,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}

// Get returns the value at a dotted path such as "a.b.c", or nil.
func Get(m map[string]interface{}, path string) interface{} {
	var current interface{} = m
	for _, key := range strings.Split(path, ".") {
		switch v := current.(type) {
		case map[string]interface{}:
			current = v[key]
		case map[string]string:
			current = v[key]
		default:
			return nil
		}
		if current == nil {
			return nil
		}
	}
	return current
}
