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

// Package auth provides static outbound credentials and a credential provider
// keyed by the route's credentialRef.
//
// Supported types: API_KEY (header or query parameter), BEARER (alias
// JWT_BEARER), BASIC and NONE.
package auth

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/rulego/gateway/api/types"
)

// 凭证类型
const (
	TypeApiKey    = "API_KEY"
	TypeBearer    = "BEARER"
	TypeJwtBearer = "JWT_BEARER"
	TypeBasic     = "BASIC"
	TypeNone      = "NONE"

	// StrategyHeader sends the API key as a header, StrategyQuery as a query parameter.
	StrategyHeader = "HEADER"
	StrategyQuery  = "QUERY"

	AuthorizationKey = "Authorization"
)

// Config 凭证配置
type Config struct {
	Type string `json:"type" yaml:"type"`
	// Strategy is HEADER or QUERY for API keys. Defaults to HEADER.
	Strategy string `json:"strategy,omitempty" yaml:"strategy,omitempty"`
	// KeyName is the header or query parameter carrying the API key.
	KeyName  string `json:"keyName,omitempty" yaml:"keyName,omitempty"`
	Token    string `json:"token,omitempty" yaml:"token,omitempty"`
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
}

// New builds the credential described by cfg. NONE yields a nil credential.
func New(cfg Config) (types.Credential, error) {
	switch strings.ToUpper(strings.TrimSpace(cfg.Type)) {
	case TypeApiKey:
		if cfg.KeyName == "" || cfg.Token == "" {
			return nil, fmt.Errorf("api key credential needs keyName and token")
		}
		inQuery := false
		switch strings.ToUpper(cfg.Strategy) {
		case "", StrategyHeader:
		case StrategyQuery:
			inQuery = true
		default:
			return nil, fmt.Errorf("unknown api key strategy %q", cfg.Strategy)
		}
		return &ApiKey{Name: cfg.KeyName, Value: cfg.Token, InQuery: inQuery}, nil
	case TypeBearer, TypeJwtBearer:
		if cfg.Token == "" {
			return nil, fmt.Errorf("bearer credential needs a token")
		}
		return &Bearer{Token: cfg.Token}, nil
	case TypeBasic:
		if cfg.Username == "" {
			return nil, fmt.Errorf("basic credential needs a username")
		}
		return &Basic{Username: cfg.Username, Password: cfg.Password}, nil
	case "", TypeNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown credential type %q", cfg.Type)
	}
}

// ApiKey 密钥凭证
type ApiKey struct {
	Name    string
	Value   string
	InQuery bool
}

func (c *ApiKey) ApplyHTTP(req *http.Request) {
	if c.InQuery {
		q := req.URL.Query()
		q.Set(c.Name, c.Value)
		req.URL.RawQuery = q.Encode()
		return
	}
	req.Header.Set(c.Name, c.Value)
}

func (c *ApiKey) Metadata() map[string]string {
	return map[string]string{strings.ToLower(c.Name): c.Value}
}

// Bearer sends "Authorization: Bearer <token>".
type Bearer struct {
	Token string
}

func (c *Bearer) ApplyHTTP(req *http.Request) {
	req.Header.Set(AuthorizationKey, "Bearer "+c.Token)
}

func (c *Bearer) Metadata() map[string]string {
	return map[string]string{"authorization": "Bearer " + c.Token}
}

// Basic HTTP basic认证
type Basic struct {
	Username string
	Password string
}

func (c *Basic) ApplyHTTP(req *http.Request) {
	req.SetBasicAuth(c.Username, c.Password)
}

func (c *Basic) Metadata() map[string]string {
	token := base64.StdEncoding.EncodeToString([]byte(c.Username + ":" + c.Password))
	return map[string]string{"authorization": "Basic " + token}
}

// StaticProvider serves credentials registered up front. It is safe for concurrent use.
type StaticProvider struct {
	mu          sync.RWMutex
	credentials map[string]types.Credential
}

// NewStaticProvider builds a provider from named credential configs.
func NewStaticProvider(configs map[string]Config) (*StaticProvider, error) {
	p := &StaticProvider{credentials: make(map[string]types.Credential, len(configs))}
	for ref, cfg := range configs {
		c, err := New(cfg)
		if err != nil {
			return nil, fmt.Errorf("credential %s: %w", ref, err)
		}
		p.credentials[ref] = c
	}
	return p, nil
}

// Register 注册或替换凭证
func (p *StaticProvider) Register(ref string, c types.Credential) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.credentials == nil {
		p.credentials = make(map[string]types.Credential)
	}
	p.credentials[ref] = c
}

// Credential returns the credential registered under ref. A ref registered as NONE
// returns nil, nil.
func (p *StaticProvider) Credential(ctx context.Context, ref string) (types.Credential, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.credentials[ref]
	if !ok {
		return nil, fmt.Errorf("credential %s: %w", ref, types.ErrNotFound)
	}
	return c, nil
}

// Refs returns the registered refs, sorted.
func (p *StaticProvider) Refs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	refs := make([]string, 0, len(p.credentials))
	for ref := range p.credentials {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs
}
