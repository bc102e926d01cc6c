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

package config

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rulego/gateway/api/types"
	"github.com/rulego/gateway/utils/json"
)

// 表名
const (
	RoutesTable     = "gateway_routes"
	TransformsTable = "gateway_transforms"
	PoliciesTable   = "gateway_resilience"
)

// SQLSource reads routes, transforms and named resilience policies from SQL
// tables. Each row holds a JSON definition in the same shape as a configuration
// file entry; routes may reference a policy with resilienceRef.
//
//	gateway_routes(route_key, definition)
//	gateway_transforms(transform_id, definition)
//	gateway_resilience(name, definition)
//
// Drivers: sqlite (modernc.org/sqlite), postgres (lib/pq) and mysql.
type SQLSource struct {
	db     *sql.DB
	driver string
}

// NewSQLSource 创建SQL配置源，driver决定占位符风格
func NewSQLSource(db *sql.DB, driver string) *SQLSource {
	return &SQLSource{db: db, driver: strings.ToLower(driver)}
}

// OpenSQLSource opens the database and creates the tables when missing.
func OpenSQLSource(ctx context.Context, driver, dsn string) (*SQLSource, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	s := NewSQLSource(db, driver)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// DB returns the underlying handle.
func (s *SQLSource) DB() *sql.DB {
	return s.db
}

func (s *SQLSource) Close() error {
	return s.db.Close()
}

// Migrate creates the tables when missing.
func (s *SQLSource) Migrate(ctx context.Context) error {
	for _, t := range []struct{ table, key string }{
		{RoutesTable, "route_key"},
		{TransformsTable, "transform_id"},
		{PoliciesTable, "name"},
	} {
		stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s VARCHAR(255) NOT NULL PRIMARY KEY, definition TEXT NOT NULL)", t.table, t.key)
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create %s: %w", t.table, err)
		}
	}
	return nil
}

func (s *SQLSource) GetRoute(ctx context.Context, key string) (*types.RouteDescriptor, error) {
	var r Route
	if err := s.load(ctx, RoutesTable, "route_key", key, &r); err != nil {
		return nil, err
	}
	if r.Key == "" {
		r.Key = key
	}
	var policies map[string]types.ResiliencePolicy
	if r.Resilience == nil && r.ResilienceRef != "" {
		var p types.ResiliencePolicy
		if err := s.load(ctx, PoliciesTable, "name", r.ResilienceRef, &p); err != nil {
			if errors.Is(err, types.ErrNotFound) {
				return nil, types.WrapError(types.KindRouteMisconfigured, err, "route %s: unknown resilience policy %s", key, r.ResilienceRef)
			}
			return nil, err
		}
		policies = map[string]types.ResiliencePolicy{r.ResilienceRef: p}
	}
	return r.Resolve(policies)
}

func (s *SQLSource) GetTransform(ctx context.Context, id string) (*types.TransformDescriptor, error) {
	var d types.TransformDescriptor
	if err := s.load(ctx, TransformsTable, "transform_id", id, &d); err != nil {
		return nil, err
	}
	if d.Id == "" {
		d.Id = id
	}
	return &d, nil
}

// PutRoute stores a route definition, replacing an existing one.
func (s *SQLSource) PutRoute(ctx context.Context, key string, definition []byte) error {
	return s.put(ctx, RoutesTable, "route_key", key, definition)
}

// PutTransform 保存转换描述
func (s *SQLSource) PutTransform(ctx context.Context, id string, definition []byte) error {
	return s.put(ctx, TransformsTable, "transform_id", id, definition)
}

// PutResilience stores a named resilience policy.
func (s *SQLSource) PutResilience(ctx context.Context, name string, definition []byte) error {
	return s.put(ctx, PoliciesTable, "name", name, definition)
}

// DeleteRoute 删除路由
func (s *SQLSource) DeleteRoute(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE route_key = %s", RoutesTable, s.placeholder(1)), key)
	return err
}

func (s *SQLSource) load(ctx context.Context, table, column, key string, out interface{}) error {
	query := fmt.Sprintf("SELECT definition FROM %s WHERE %s = %s", table, column, s.placeholder(1))
	var definition string
	if err := s.db.QueryRowContext(ctx, query, key).Scan(&definition); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%s %s: %w", table, key, types.ErrNotFound)
		}
		return fmt.Errorf("%s %s: %w", table, key, err)
	}
	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(definition), &raw); err != nil {
		return types.WrapError(types.KindRouteMisconfigured, err, "%s %s: invalid definition", table, key)
	}
	if err := Decode(raw, out); err != nil {
		return types.WrapError(types.KindRouteMisconfigured, err, "%s %s: invalid definition", table, key)
	}
	return nil
}

func (s *SQLSource) put(ctx context.Context, table, column, key string, definition []byte) error {
	if !json.Valid(definition) {
		return fmt.Errorf("%s %s: definition is not valid JSON", table, key)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s = %s", table, column, s.placeholder(1)), key); err != nil {
		return err
	}
	insert := fmt.Sprintf("INSERT INTO %s (%s, definition) VALUES (%s, %s)", table, column, s.placeholder(1), s.placeholder(2))
	if _, err := tx.ExecContext(ctx, insert, key, string(definition)); err != nil {
		return err
	}
	return tx.Commit()
}

// placeholder 占位符，postgres使用$n，其它驱动使用?
func (s *SQLSource) placeholder(n int) string {
	switch s.driver {
	case "postgres", "pgx":
		return "$" + strconv.Itoa(n)
	default:
		return "?"
	}
}
