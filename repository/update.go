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

package repository

import (
	"fmt"
	"time"

	"github.com/tomoncle/lark/database"
	"github.com/tomoncle/lark/transform"
)

type payloadKind int

const (
	payloadField payloadKind = iota + 1
	payloadFields
	payloadRecord
)

// UpdatePayload carries the field changes of an Update call in one of three
// shapes: a single field, a field map, or a full record. Build it with
// Field, Fields, or Record. Every shape resolves to the same column map
// before execution, and undeclared columns are rejected the same way
// regardless of shape.
type UpdatePayload struct {
	kind   payloadKind
	name   string
	value  interface{}
	fields map[string]interface{}
	record interface{}
}

// Field updates a single column.
func Field(name string, value interface{}) UpdatePayload {
	return UpdatePayload{kind: payloadField, name: name, value: value}
}

// Fields updates the given column map.
func Fields(values map[string]interface{}) UpdatePayload {
	return UpdatePayload{kind: payloadFields, fields: values}
}

// Record takes the new column values from a record instance. The identity
// and creation timestamp columns are dropped so they stay immutable; the
// soft-delete column is carried as-is.
func Record(record interface{}) UpdatePayload {
	return UpdatePayload{kind: payloadRecord, record: record}
}

// resolvePayload flattens a payload into a column map against the table
// metadata. The last-modified column is always refreshed when the table
// declares one.
func resolvePayload(table *transform.Table, payload UpdatePayload) (map[string]interface{}, error) {
	values := map[string]interface{}{}

	switch payload.kind {
	case payloadField:
		values[payload.name] = payload.value
	case payloadFields:
		for name, value := range payload.fields {
			values[name] = value
		}
	case payloadRecord:
		if payload.record == nil {
			return nil, fmt.Errorf("update payload record must not be nil")
		}
		m, err := transform.ToMap(payload.record)
		if err != nil {
			return nil, err
		}
		for name, value := range m {
			values[name] = value
		}
		if pk := table.PK(); pk != nil {
			delete(values, pk.Name)
		} else {
			delete(values, "id")
		}
		delete(values, "created_at")
	default:
		return nil, fmt.Errorf("empty update payload")
	}

	for name := range values {
		if !table.Has(name) {
			return nil, fmt.Errorf("%w: %s is not a declared column of %s",
				database.ErrUnknownField, name, table.Name)
		}
	}

	if table.Has("updated_at") {
		values["updated_at"] = time.Now()
	}
	return values, nil
}
