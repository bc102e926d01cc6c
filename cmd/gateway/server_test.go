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
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rulego/gateway/api/types"
	"github.com/rulego/gateway/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const serverYAML = `
routes:
  - key: echo
    protocol: REST
    target:
      address: %s/echo
      method: POST
    credentialRef: backend
credentials:
  backend:
    type: BEARER
    token: t0ken
`

func writeConfig(t *testing.T, path, backend string) {
	require.Nil(t, os.WriteFile(path, []byte(strings.Replace(serverYAML, "%s", backend, 1)), 0o600))
}

func TestServer(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Auth", r.Header.Get("Authorization"))
		_, _ = w.Write(body)
	}))
	defer backend.Close()

	path := filepath.Join(t.TempDir(), "gateway.yaml")
	writeConfig(t, path, backend.URL)
	env, err := config.LoadEnvFrom(map[string]string{"GATEWAY_CONFIG": path})
	require.Nil(t, err)

	s, err := newServer(context.Background(), env, types.NopLogger{}, prometheus.NewRegistry())
	require.Nil(t, err)
	defer s.Close()
	front := httptest.NewServer(s.rest.Router())
	defer front.Close()

	resp, err := http.Post(front.URL+"/api/echo", "application/json", strings.NewReader(`{"id":7}`))
	require.Nil(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"id":7}`, string(body))
	assert.Equal(t, "Bearer t0ken", resp.Header.Get("X-Auth"))

	resp, err = http.Get(front.URL + "/healthz")
	require.Nil(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(front.URL + "/metrics")
	require.Nil(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// a removed route disappears after refresh
	require.Nil(t, os.WriteFile(path, []byte("routes: []\n"), 0o600))
	require.Nil(t, s.refresh())
	resp, err = http.Post(front.URL+"/api/echo", "application/json", strings.NewReader(`{}`))
	require.Nil(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServerRequiresSource(t *testing.T) {
	env, err := config.LoadEnvFrom(map[string]string{})
	require.Nil(t, err)
	_, err = newServer(context.Background(), env, types.NopLogger{}, prometheus.NewRegistry())
	assert.NotNil(t, err)
}

func TestServerSQLSource(t *testing.T) {
	env, err := config.LoadEnvFrom(map[string]string{
		"GATEWAY_SQL_DRIVER":   "sqlite",
		"GATEWAY_SQL_DSN":      "file:" + filepath.Join(t.TempDir(), "routes.db"),
		"GATEWAY_REFRESH_SPEC": "@every 1h",
	})
	require.Nil(t, err)
	s, err := newServer(context.Background(), env, types.NopLogger{}, prometheus.NewRegistry())
	require.Nil(t, err)
	defer s.Close()
	require.NotNil(t, s.source.sql)
	assert.Len(t, s.cron.Entries(), 1)
	assert.Nil(t, s.refresh())
}

func TestRunShutsDown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	writeConfig(t, path, "http://127.0.0.1:1")
	env, err := config.LoadEnvFrom(map[string]string{
		"GATEWAY_CONFIG": path,
		"GATEWAY_ADDR":   "127.0.0.1:0",
	})
	require.Nil(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, env, types.NopLogger{})
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.Nil(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop")
	}
}
