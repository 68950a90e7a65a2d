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
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
)

// Sentinel errors reported by the handle, registry, and repositories.
// "Not found" is deliberately not among them: lookups report absence with a
// nil result and updates with a zero rows-affected count.
var (
	ErrNotConnected        = errors.New("database not connected")
	ErrAlreadyConnected    = errors.New("database already connected")
	ErrDuplicateKey        = errors.New("duplicate registry key")
	ErrUnknownField        = errors.New("unknown field")
	ErrConstraintViolation = errors.New("constraint violation")
	ErrNoActiveTransaction = errors.New("no active transaction")
)

// SQLError classifies a driver-level failure.
type SQLError int

const (
	UnknownErr SQLError = iota
	NoTableErr
	NoColumnErr
	DuplicateKeyErr
	NotNullViolationErr
	ForeignKeyViolationErr
	CheckConstraintViolationErr
	DataTruncatedErr
)

// IsSqlError inspects a driver error and classifies it. MySQL and
// PostgreSQL report typed errors; SQLite (and anything else) falls back to
// message matching.
func IsSqlError(err error) (is bool, sqlErr SQLError) {
	if err == nil {
		return false, UnknownErr
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case 1146:
			return true, NoTableErr
		case 1054:
			return true, NoColumnErr
		case 1062:
			return true, DuplicateKeyErr
		case 1048:
			return true, NotNullViolationErr
		case 1216, 1217, 1451, 1452:
			return true, ForeignKeyViolationErr
		case 3819:
			return true, CheckConstraintViolationErr
		case 1265:
			return true, DataTruncatedErr
		default:
			return true, UnknownErr
		}
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case "42P01":
			return true, NoTableErr
		case "42703":
			return true, NoColumnErr
		case "23505":
			return true, DuplicateKeyErr
		case "23502":
			return true, NotNullViolationErr
		case "23503":
			return true, ForeignKeyViolationErr
		case "23514":
			return true, CheckConstraintViolationErr
		case "22001":
			return true, DataTruncatedErr
		default:
			return true, UnknownErr
		}
	}

	s := strings.ToLower(err.Error())
	if strings.Contains(s, "no such table") ||
		strings.Contains(s, "undefined table") ||
		strings.Contains(s, "sqlstate 42p01") {
		return true, NoTableErr
	}
	if strings.Contains(s, "no such column") ||
		strings.Contains(s, "undefined column") ||
		strings.Contains(s, "sqlstate 42703") {
		return true, NoColumnErr
	}
	if strings.Contains(s, "unique constraint failed") ||
		strings.Contains(s, "duplicate key value") ||
		strings.Contains(s, "sqlstate 23505") {
		return true, DuplicateKeyErr
	}
	if strings.Contains(s, "not null constraint failed") ||
		strings.Contains(s, "not-null constraint") ||
		strings.Contains(s, "sqlstate 23502") {
		return true, NotNullViolationErr
	}
	if strings.Contains(s, "foreign key constraint failed") ||
		strings.Contains(s, "foreign key violation") ||
		strings.Contains(s, "sqlstate 23503") {
		return true, ForeignKeyViolationErr
	}
	if strings.Contains(s, "check constraint") ||
		strings.Contains(s, "sqlstate 23514") {
		return true, CheckConstraintViolationErr
	}
	if strings.Contains(s, "string data right truncation") ||
		strings.Contains(s, "data truncated") ||
		strings.Contains(s, "sqlstate 22001") {
		return true, DataTruncatedErr
	}
	return false, UnknownErr
}

// WrapSQLError folds integrity failures (uniqueness, not-null, foreign key,
// check) into ErrConstraintViolation. Both the sentinel and the original
// driver error stay matchable through the chain; other errors pass through
// unchanged.
func WrapSQLError(err error) error {
	if err == nil {
		return nil
	}
	if is, kind := IsSqlError(err); is {
		switch kind {
		case DuplicateKeyErr, NotNullViolationErr, ForeignKeyViolationErr, CheckConstraintViolationErr:
			return fmt.Errorf("%w: %w", ErrConstraintViolation, err)
		}
	}
	return err
}
