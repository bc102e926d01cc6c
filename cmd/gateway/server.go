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

package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/rulego/gateway"
	"github.com/rulego/gateway/api/types"
	"github.com/rulego/gateway/builtin/listener"
	"github.com/rulego/gateway/builtin/processor"
	"github.com/rulego/gateway/components/protocol"
	"github.com/rulego/gateway/config"
	"github.com/rulego/gateway/endpoint/rest"
	"github.com/rulego/gateway/endpoint/websocket"
	"golang.org/x/sync/errgroup"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const shutdownTimeout = 10 * time.Second

// server is the assembled gateway process.
type server struct {
	gateway  *gateway.Gateway
	rest     *rest.Rest
	source   *routeSource
	handlers []types.ProtocolHandler
	cron     *cron.Cron
}

func run(ctx context.Context, env config.Env, logger types.Logger) error {
	shutdownTracing, err := setupTracing(ctx, env.OtelEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		_ = shutdownTracing(context.Background())
	}()

	s, err := newServer(ctx, env, logger, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	defer s.Close()

	ln, err := s.rest.Listen()
	if err != nil {
		return err
	}
	s.cron.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.rest.Serve(ln)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.rest.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newServer(ctx context.Context, env config.Env, logger types.Logger, reg prometheus.Registerer) (*server, error) {
	source, err := openRouteSource(ctx, env)
	if err != nil {
		return nil, err
	}
	metrics := listener.NewPrometheusListener("gateway")
	if err := metrics.Register(reg); err != nil {
		_ = source.Close()
		return nil, err
	}
	listeners := []types.EventListener{metrics}
	if env.LogEvents {
		listeners = append(listeners, listener.NewLogListener(logger))
	}

	cfg := types.Config{}
	opts := []types.Option{
		types.WithLogger(logger),
		types.WithListeners(listeners...),
		types.WithDefaultTimeout(env.DefaultTimeout),
		types.WithRouteCacheTTL(env.CacheTTL),
	}
	if source.credentials != nil {
		opts = append(opts, types.WithCredentialProvider(source.credentials))
	}
	if err := cfg.Apply(opts...); err != nil {
		_ = source.Close()
		return nil, err
	}

	handlers := protocol.DefaultHandlers(protocol.WithLogger(logger))
	gw, err := gateway.New(source, gateway.NewHandlerRegistry(handlers...), gateway.WithConfig(cfg))
	if err != nil {
		_ = source.Close()
		return nil, err
	}

	s := &server{
		gateway:  gw,
		source:   source,
		handlers: handlers,
		cron:     cron.New(),
		rest:     rest.New(gw, rest.Config{Server: env.Addr}, logger),
	}
	interceptors, err := processor.Builtins.Resolve(env.Interceptors...)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.rest.AddInterceptors(interceptors...)
	ws := websocket.New(gw, websocket.Config{}, logger)
	ws.AddInterceptors(interceptors...)
	ws.Register(s.rest.Router())
	if env.MetricsPath != "" {
		s.rest.Handle(http.MethodGet, env.MetricsPath, promhttp.Handler())
	}
	s.rest.GET("/healthz", s.health)

	if env.RefreshSpec != "" {
		if _, err := s.cron.AddFunc(env.RefreshSpec, func() {
			if err := s.refresh(); err != nil {
				logger.Printf("refresh routes: %v", err)
			}
		}); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

// refresh reloads the file backed configuration and drops cached descriptors.
func (s *server) refresh() error {
	err := s.source.Reload()
	s.gateway.Resolver().InvalidateAll()
	return err
}

func (s *server) health(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	w.Header().Set(types.ContentTypeKey, types.JsonContentType)
	_, _ = w.Write([]byte(`{"status":"UP"}`))
}

func (s *server) Close() {
	<-s.cron.Stop().Done()
	for _, h := range s.handlers {
		if c, ok := h.(io.Closer); ok {
			_ = c.Close()
		}
	}
	_ = s.source.Close()
}

// routeSource is the configured route source plus its credentials.
type routeSource struct {
	types.RouteSource
	credentials types.CredentialProvider
	file        string
	static      *config.StaticSource
	sql         *config.SQLSource
}

func openRouteSource(ctx context.Context, env config.Env) (*routeSource, error) {
	s := &routeSource{file: env.ConfigFile}
	if env.ConfigFile != "" {
		f, err := config.LoadFile(env.ConfigFile)
		if err != nil {
			return nil, err
		}
		if s.static, err = f.Source(); err != nil {
			return nil, err
		}
		provider, err := f.CredentialProvider()
		if err != nil {
			return nil, err
		}
		s.credentials = provider
		s.RouteSource = s.static
	}
	if env.SQLDSN != "" {
		sqlSource, err := config.OpenSQLSource(ctx, env.SQLDriver, env.SQLDSN)
		if err != nil {
			return nil, err
		}
		s.sql = sqlSource
		s.RouteSource = sqlSource
	}
	if s.RouteSource == nil {
		return nil, errors.New("no route source: set GATEWAY_CONFIG or GATEWAY_SQL_DSN")
	}
	return s, nil
}

// Reload re-reads the config file. SQL sources are always read through.
func (s *routeSource) Reload() error {
	if s.file == "" || s.static == nil || s.sql != nil {
		return nil
	}
	f, err := config.LoadFile(s.file)
	if err != nil {
		return err
	}
	routes, transforms, err := f.Descriptors()
	if err != nil {
		return err
	}
	s.static.Replace(routes, transforms)
	return nil
}

func (s *routeSource) Close() error {
	if s.sql != nil {
		return s.sql.Close()
	}
	return nil
}
