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

// Package str holds the string helpers shared by templates, transforms and handlers.
package str

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rulego/gateway/utils/json"
)

// 占位符前后缀
const (
	VarPrefix = "${"
	VarSuffix = "}"
)

var placeholderRegex = regexp.MustCompile(`\$\{ *([^}]+?) *\}`)

// ToString input的值转成字符串,忽略错误
func ToString(input interface{}) string {
	v, _ := ToStringMaybeErr(input)
	return v
}

// ToStringMaybeErr input的值转成字符串
// Numbers use the shortest representation that round-trips, so 10.5 stays "10.5".
func ToStringMaybeErr(input interface{}) (string, error) {
	if input == nil {
		return "", nil
	}
	switch v := input.(type) {
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), nil
	case int:
		return strconv.Itoa(v), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case uint:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint32:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint64:
		return strconv.FormatUint(v, 10), nil
	case []byte:
		return string(v), nil
	case fmt.Stringer:
		return v.String(), nil
	case error:
		return v.Error(), nil
	default:
		b, err := json.Marshal(input)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}

// CheckHasVar 检查字符串是否有占位符
func CheckHasVar(s string) bool {
	return strings.Contains(s, VarPrefix) && strings.Contains(s, VarSuffix)
}

// IsWholeVar reports whether s, ignoring surrounding spaces, is exactly one ${...} placeholder.
func IsWholeVar(s string) (string, bool) {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, VarPrefix) || !strings.HasSuffix(t, VarSuffix) {
		return "", false
	}
	inner := t[len(VarPrefix) : len(t)-len(VarSuffix)]
	if strings.Contains(inner, VarPrefix) || strings.Contains(inner, VarSuffix) {
		return "", false
	}
	return strings.TrimSpace(inner), true
}

// PlaceholderNames returns the distinct placeholder expressions of s in order of first appearance.
// Example: "a ${x}/${ y }/${x}" -> [x y]
func PlaceholderNames(s string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, m := range placeholderRegex.FindAllStringSubmatch(s, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

// Truncate shortens s to at most n bytes for diagnostics.
func Truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
