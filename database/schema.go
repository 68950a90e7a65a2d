/*
 * Copyright 2025 tomoncle.
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

package database

import (
	"context"
	"database/sql"
	"fmt"
)

// TableColumns lists the live column names of a table in definition order,
// using the engine's own catalog. Useful for verifying provisioned tables
// against their record declarations.
func (d *DB) TableColumns(ctx context.Context, table string) ([]string, error) {
	idb, err := d.IDB()
	if err != nil {
		return nil, err
	}
	d.mu.RLock()
	engine := ""
	if d.config != nil {
		engine = d.config.Connection.Type
	}
	d.mu.RUnlock()

	var rows *sql.Rows
	switch engine {
	case "postgres":
		rows, err = idb.QueryContext(ctx,
			`SELECT column_name FROM information_schema.columns WHERE table_name = $1 ORDER BY ordinal_position`, table)
	case "mysql":
		rows, err = idb.QueryContext(ctx,
			`SELECT COLUMN_NAME FROM INFORMATION_SCHEMA.COLUMNS WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ? ORDER BY ORDINAL_POSITION`, table)
	default:
		// PRAGMA arguments cannot be bound
		if !identRe.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
		rows, err = idb.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info('%s')", table))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to inspect table %s: %w", table, err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	var names []string
	for rows.Next() {
		var name string
		switch engine {
		case "postgres", "mysql":
			if err := rows.Scan(&name); err != nil {
				return nil, err
			}
		default:
			var cid, notnull, pk int
			var typStr string
			var defaultNS sql.NullString
			if err := rows.Scan(&cid, &name, &typStr, &notnull, &defaultNS, &pk); err != nil {
				return nil, err
			}
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return names, nil
}

// HasTable reports whether the table exists in the connected database.
func (d *DB) HasTable(ctx context.Context, table string) (bool, error) {
	cols, err := d.TableColumns(ctx, table)
	if err != nil {
		return false, err
	}
	return len(cols) > 0, nil
}
