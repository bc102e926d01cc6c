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

// Package runtime captures compact stack traces for recovered panics.
package runtime

import (
	"fmt"
	"runtime"
	"strings"
)

// Stack returns "file:line function" lines for the caller's stack, skipping
// the runtime frames of the panic itself. At most depth frames are kept.
func Stack(depth int) string {
	if depth <= 0 {
		depth = 20
	}
	pc := make([]uintptr, depth)
	n := runtime.Callers(3, pc)
	frames := runtime.CallersFrames(pc[:n])

	var build strings.Builder
	for {
		frame, more := frames.Next()
		if !strings.HasPrefix(frame.Function, "runtime.") {
			build.WriteString(fmt.Sprintf(" %s:%d %s\n", frame.File, frame.Line, frame.Function))
		}
		if !more {
			break
		}
	}
	return build.String()
}
