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

// Command gateway runs the integration gateway as a standalone HTTP and
// websocket server.
//
// Configuration is read from GATEWAY_* environment variables. Routes come
// from GATEWAY_CONFIG (YAML or JSON) or, when GATEWAY_SQL_DSN is set, from a
// SQL database (sqlite, postgres or mysql).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rulego/gateway/api/types"
	"github.com/rulego/gateway/config"
)

func main() {
	logger := types.DefaultLogger()
	env, err := config.LoadEnv()
	if err != nil {
		logger.Fatalf("load environment: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, env, logger); err != nil {
		logger.Fatalf("gateway: %v", err)
	}
}
