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
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"
)

var (
	// ErrSerialization reports a record or mapping that cannot be rendered
	// as JSON text.
	ErrSerialization = errors.New("serialization failed")
	// ErrParse reports malformed JSON input or a mapping value that does
	// not fit its declared column.
	ErrParse = errors.New("parse failed")
)

var timeType = reflect.TypeOf(time.Time{})

// timeLayouts are tried in order when a time column arrives as text.
// RFC 3339 covers the JSON interchange form; the remaining layouts accept
// zone-less and date-only inputs.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ToMap converts a record into a column-name keyed mapping. Nil pointer
// fields map to nil; non-nil pointers are dereferenced.
func ToMap(record interface{}) (map[string]interface{}, error) {
	tbl, err := TableOf(record)
	if err != nil {
		return nil, err
	}
	v := reflect.ValueOf(record)
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil, fmt.Errorf("record must not be a nil pointer")
		}
		v = v.Elem()
	}
	m := make(map[string]interface{}, len(tbl.Columns))
	for i := range tbl.Columns {
		col := &tbl.Columns[i]
		fv := v.FieldByIndex(col.Index)
		if fv.Kind() == reflect.Ptr {
			if fv.IsNil() {
				m[col.Name] = nil
				continue
			}
			fv = fv.Elem()
		}
		m[col.Name] = fv.Interface()
	}
	return m, nil
}

// ToJSON renders a record as JSON text keyed by column names. Time values
// render in ISO-8601 (RFC 3339) form and nil pointers render as null.
func ToJSON(record interface{}) ([]byte, error) {
	m, err := ToMap(record)
	if err != nil {
		return nil, err
	}
	return MapToJSON(m)
}

// FromMap applies a column-name keyed mapping onto a record, which must be
// a non-nil struct pointer. Unknown keys are ignored. Values are coerced
// from their JSON interchange shapes (float64 numbers, ISO-8601 time
// strings, generic maps); a value that cannot be coerced yields ErrParse.
func FromMap(values map[string]interface{}, record interface{}) error {
	tbl, err := TableOf(record)
	if err != nil {
		return err
	}
	rv := reflect.ValueOf(record)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("record must be a non-nil pointer, got %T", record)
	}
	rv = rv.Elem()
	if rv.Kind() != reflect.Struct {
		return fmt.Errorf("record must point to a struct, got %T", record)
	}
	for name, raw := range values {
		col, ok := tbl.Column(name)
		if !ok {
			continue
		}
		fv := rv.FieldByIndex(col.Index)
		if err := setColumnValue(fv, raw); err != nil {
			return fmt.Errorf("column %s: %w", name, err)
		}
	}
	return nil
}

// FromJSON parses JSON text and applies it onto a record. Malformed input
// yields ErrParse; unknown keys are ignored like FromMap.
func FromJSON(data []byte, record interface{}) error {
	m, err := JSONToMap(data)
	if err != nil {
		return err
	}
	return FromMap(m, record)
}

// MapToJSON renders a mapping as JSON text.
func MapToJSON(values map[string]interface{}) ([]byte, error) {
	data, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return data, nil
}

// JSONToMap parses JSON text into a mapping.
func JSONToMap(data []byte) (map[string]interface{}, error) {
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return m, nil
}

// ParseTime parses a time value from its textual interchange forms.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: invalid time %q", ErrParse, s)
}

func setColumnValue(fv reflect.Value, raw interface{}) error {
	if raw == nil {
		fv.Set(reflect.Zero(fv.Type()))
		return nil
	}
	ft := fv.Type()
	if ft.Kind() == reflect.Ptr {
		pv := reflect.New(ft.Elem())
		if err := setColumnValue(pv.Elem(), raw); err != nil {
			return err
		}
		fv.Set(pv)
		return nil
	}

	rvv := reflect.ValueOf(raw)
	if rvv.Type().AssignableTo(ft) {
		fv.Set(rvv)
		return nil
	}

	if ft == timeType {
		if s, ok := raw.(string); ok {
			ts, err := ParseTime(s)
			if err != nil {
				return err
			}
			fv.Set(reflect.ValueOf(ts))
			return nil
		}
		return fmt.Errorf("%w: cannot use %T as time", ErrParse, raw)
	}

	switch ft.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		if isNumericKind(rvv.Kind()) {
			fv.Set(rvv.Convert(ft))
			return nil
		}
	case reflect.String:
		switch v := raw.(type) {
		case string:
			fv.Set(reflect.ValueOf(v).Convert(ft))
			return nil
		case []byte:
			fv.Set(reflect.ValueOf(string(v)).Convert(ft))
			return nil
		}
	case reflect.Map:
		if rvv.Kind() == reflect.Map && rvv.Type().ConvertibleTo(ft) {
			fv.Set(rvv.Convert(ft))
			return nil
		}
	case reflect.Slice:
		if converted, ok := convertSlice(rvv, ft); ok {
			fv.Set(converted)
			return nil
		}
	}
	return fmt.Errorf("%w: cannot assign %T to %s", ErrParse, raw, ft)
}

// convertSlice rebuilds a []interface{} (the JSON array shape) into the
// target slice type when every element converts.
func convertSlice(rvv reflect.Value, ft reflect.Type) (reflect.Value, bool) {
	if rvv.Kind() != reflect.Slice {
		return reflect.Value{}, false
	}
	if rvv.Type().ConvertibleTo(ft) {
		return rvv.Convert(ft), true
	}
	out := reflect.MakeSlice(ft, rvv.Len(), rvv.Len())
	for i := 0; i < rvv.Len(); i++ {
		ev := rvv.Index(i)
		if ev.Kind() == reflect.Interface {
			ev = ev.Elem()
		}
		if !ev.IsValid() || !ev.Type().ConvertibleTo(ft.Elem()) {
			return reflect.Value{}, false
		}
		out.Index(i).Set(ev.Convert(ft.Elem()))
	}
	return out, true
}

func isNumericKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
