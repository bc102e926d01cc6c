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

// Package listener provides built-in gateway event listeners.
//
// Package listener 内置事件监听器
//
//   - LogListener writes one key=value line per event to a types.Logger.
//   - PrometheusListener exports stage, retry and breaker metrics.
//
// Register them with types.WithListeners:
//
//	metrics := listener.NewPrometheusListener("gateway")
//	_ = metrics.Register(prometheus.DefaultRegisterer)
//	config := types.NewConfig(types.WithListeners(listener.NewLogListener(logger), metrics))
package listener

import (
	"strings"

	"github.com/rulego/gateway/api/types"
)

// LogListener 日志监听器
type LogListener struct {
	logger types.Logger
	// FailuresOnly suppresses successful stage events.
	FailuresOnly bool
}

func NewLogListener(logger types.Logger) *LogListener {
	return &LogListener{logger: types.NewLogger(logger)}
}

func (l *LogListener) OnEvent(e types.Event) {
	if l.FailuresOnly && e.Outcome == types.OutcomeSuccess {
		return
	}
	var sb strings.Builder
	sb.WriteString("component=")
	sb.WriteString(e.Component)
	if e.Component == types.ComponentBreaker {
		sb.WriteString(" breaker=")
		sb.WriteString(e.BreakerKey)
		sb.WriteString(" from=")
		sb.WriteString(e.From)
		sb.WriteString(" to=")
		sb.WriteString(e.To)
		l.logger.Printf("%s", sb.String())
		return
	}
	l.logger.Printf("%s stage=%s outcome=%s route=%s protocol=%s correlationId=%s attempt=%d latency=%s%s",
		sb.String(), e.Stage, e.Outcome, e.RouteKey, e.Protocol, e.CorrelationId, e.Attempt, e.Latency, errField(e.Err))
}

func errField(err error) string {
	if err == nil {
		return ""
	}
	if ge, ok := types.AsGatewayError(err); ok {
		return " code=" + string(ge.Kind) + " err=\"" + ge.Error() + "\""
	}
	return " err=\"" + err.Error() + "\""
}
