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

package maps

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/stretchr/testify/assert"
)

type User struct {
	Username string
	Age      int
	Address  Address
	Hobbies  []string
}

type Address struct {
	Detail string
}

func TestMap2Struct(t *testing.T) {
	m := make(map[string]interface{})
	m["userName"] = "lala"
	m["Age"] = "5"
	m["Address"] = map[string]interface{}{"detail": "test"}
	m["Hobbies"] = "a,b,c"
	var user User
	assert.Nil(t, Map2Struct(m, &user))
	assert.Equal(t, "lala", user.Username)
	assert.Equal(t, 5, user.Age)
	assert.Equal(t, "test", user.Address.Detail)
	assert.Equal(t, []string{"a", "b", "c"}, user.Hobbies)

	type Config struct {
		Timeout time.Duration `json:"timeout,omitempty"`
	}
	var cfg Config
	assert.Nil(t, Map2Struct(map[string]interface{}{"timeout": "5s"}, &cfg))
	assert.Equal(t, 5*time.Second, cfg.Timeout)
}

func TestMap2StructHooks(t *testing.T) {
	type kind string
	type Doc struct {
		Kind kind
	}
	upper := func(f reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if f.Kind() == reflect.String && to == reflect.TypeOf(kind("")) {
			return strings.ToUpper(data.(string)), nil
		}
		return data, nil
	}
	var d Doc
	assert.Nil(t, Map2Struct(map[string]interface{}{"kind": "json"}, &d, mapstructure.DecodeHookFuncType(upper)))
	assert.Equal(t, kind("JSON"), d.Kind)
}

func TestGet(t *testing.T) {
	m := map[string]interface{}{"a": map[string]interface{}{"b": map[string]string{"c": "v"}}}
	assert.Equal(t, "v", Get(m, "a.b.c"))
	assert.Nil(t, Get(m, "a.x.c"))
	assert.Nil(t, Get(m, "a.b.c.d"))
}
