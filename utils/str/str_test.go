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

package str

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToString(t *testing.T) {
	assert.Equal(t, "123", ToString(123))
	assert.Equal(t, "10.5", ToString(10.5))
	assert.Equal(t, "true", ToString(true))
	assert.Equal(t, "this is test", ToString([]byte("this is test")))
	assert.Equal(t, "boom", ToString(errors.New("boom")))
	assert.Equal(t, "", ToString(nil))

	x := User{Username: "lala", Age: 25}
	assert.Equal(t, "{\"Username\":\"lala\",\"Age\":25,\"Address\":{\"Detail\":\"\"}}", ToString(x))
}

func TestPlaceholders(t *testing.T) {
	assert.True(t, CheckHasVar("a/${b}"))
	assert.False(t, CheckHasVar("a/b"))
	assert.Equal(t, []string{"x", "y.z"}, PlaceholderNames("a ${x}/${ y.z }/${x}"))

	name, ok := IsWholeVar("  ${ orderId } ")
	assert.True(t, ok)
	assert.Equal(t, "orderId", name)
	_, ok = IsWholeVar("${a}-${b}")
	assert.False(t, ok)
	_, ok = IsWholeVar("id:${a}")
	assert.False(t, ok)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 5))
	assert.Equal(t, "ab...", Truncate("abcd", 2))
}

type User struct {
	Username string
	Age      int
	Address  Address
}
type Address struct {
	Detail string
}
