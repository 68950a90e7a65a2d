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

package transform

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"unicode"
)

// Column describes one persisted column of a record type.
type Column struct {
	Name          string
	Index         []int // reflect field index path, embedded structs included
	Type          reflect.Type
	SQLType       string
	PrimaryKey    bool
	AutoIncrement bool
	NotNull       bool
	Unique        bool
	Default       string
}

// Table describes the persisted shape of a record type: its table name,
// optional alias, and columns in declaration order.
type Table struct {
	Name    string
	Alias   string
	Columns []Column
	byName  map[string]int
}

// Column returns the column with the given name.
func (t *Table) Column(name string) (*Column, bool) {
	i, ok := t.byName[name]
	if !ok {
		return nil, false
	}
	return &t.Columns[i], true
}

// Has reports whether the table declares a column with the given name.
func (t *Table) Has(name string) bool {
	_, ok := t.byName[name]
	return ok
}

// Names returns the column names in declaration order.
func (t *Table) Names() []string {
	names := make([]string, len(t.Columns))
	for i := range t.Columns {
		names[i] = t.Columns[i].Name
	}
	return names
}

// PK returns the primary-key column, or nil when the type declares none.
func (t *Table) PK() *Column {
	for i := range t.Columns {
		if t.Columns[i].PrimaryKey {
			return &t.Columns[i]
		}
	}
	return nil
}

var (
	tableCacheMu sync.RWMutex
	tableCache   = map[reflect.Type]*Table{}
)

// TableOf resolves (and caches) the table metadata for a record type. The
// model may be a struct, a pointer to struct, or a typed nil pointer such as
// (*User)(nil).
func TableOf(model interface{}) (*Table, error) {
	t := reflect.TypeOf(model)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("record type must be a struct, got %T", model)
	}

	tableCacheMu.RLock()
	cached, ok := tableCache[t]
	tableCacheMu.RUnlock()
	if ok {
		return cached, nil
	}

	tbl, err := buildTable(t)
	if err != nil {
		return nil, err
	}
	tableCacheMu.Lock()
	tableCache[t] = tbl
	tableCacheMu.Unlock()
	return tbl, nil
}

func buildTable(t reflect.Type) (*Table, error) {
	name, alias, err := resolveTableTag(t)
	if err != nil {
		return nil, err
	}
	tbl := &Table{Name: name, Alias: alias, byName: map[string]int{}}
	collectColumns(t, nil, tbl)
	return tbl, nil
}

// resolveTableTag extracts table and alias names from the bun.BaseModel tag.
func resolveTableTag(t reflect.Type) (string, string, error) {
	var name, alias string
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !isBunBaseModel(f.Type) {
			continue
		}
		for _, part := range strings.Split(f.Tag.Get("bun"), ",") {
			part = strings.TrimSpace(part)
			switch {
			case strings.HasPrefix(part, "table:"):
				name = strings.TrimPrefix(part, "table:")
			case strings.HasPrefix(part, "alias:"):
				alias = strings.TrimPrefix(part, "alias:")
			}
		}
	}
	if name == "" {
		return "", "", fmt.Errorf("missing table tag on bun.BaseModel for %s", t.Name())
	}
	return name, alias, nil
}

func collectColumns(t reflect.Type, prefix []int, tbl *Table) {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return
	}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if isBunBaseModel(f.Type) || !f.IsExported() {
			continue
		}
		tag := f.Tag.Get("bun")
		if tag == "-" || strings.Contains(tag, "rel:") || strings.Contains(tag, "m2m:") {
			continue
		}
		index := append(append([]int{}, prefix...), i)
		if tag == "" && f.Anonymous {
			ft := f.Type
			if ft.Kind() == reflect.Ptr {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct {
				collectColumns(ft, index, tbl)
			}
			continue
		}

		parts := strings.Split(tag, ",")
		colName := strings.TrimSpace(parts[0])
		if colName == "-" {
			continue
		}
		if colName == "" {
			colName = underscore(f.Name)
		}

		col := Column{Name: colName, Index: index, Type: f.Type}
		for _, p := range parts[1:] {
			p = strings.TrimSpace(p)
			switch {
			case strings.HasPrefix(p, "type:"):
				col.SQLType = strings.TrimPrefix(p, "type:")
			case p == "notnull":
				col.NotNull = true
			case strings.HasPrefix(p, "default:"):
				col.Default = strings.TrimPrefix(p, "default:")
			case p == "pk":
				col.PrimaryKey = true
			case p == "autoincrement" || p == "identity":
				col.AutoIncrement = true
			case p == "unique" || strings.HasPrefix(p, "unique:"):
				col.Unique = true
			}
		}
		if col.PrimaryKey || col.AutoIncrement {
			col.NotNull = true
		}
		if _, dup := tbl.byName[colName]; dup {
			continue
		}
		tbl.byName[colName] = len(tbl.Columns)
		tbl.Columns = append(tbl.Columns, col)
	}
}

func isBunBaseModel(t reflect.Type) bool {
	return t.Name() == "BaseModel" && strings.Contains(t.PkgPath(), "uptrace/bun")
}

// underscore converts a Go field name to the column name bun would derive
// for an untagged field: CamelCase to snake_case with acronyms kept intact.
func underscore(s string) string {
	rs := []rune(s)
	var b strings.Builder
	for i, r := range rs {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(rs[i-1]) || (i+1 < len(rs) && unicode.IsLower(rs[i+1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
