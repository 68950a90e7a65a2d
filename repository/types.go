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
	"context"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/schema"

	"github.com/tomoncle/lark/types"
)

// CrudRepository defines the record lifecycle operations for a generic
// record type. Reads honor the soft-delete visibility rule unless asked
// otherwise; a missing id is an absent marker or a zero row count, never
// an error.
type CrudRepository[T any] interface {
	Create(ctx context.Context, record *T) (*T, error)

	CreateMany(ctx context.Context, records []*T) ([]*T, error)

	GetByID(ctx context.Context, id int64, includeDeleted bool) (*T, error)

	GetAll(ctx context.Context, includeDeleted bool) ([]*T, error)

	GetByField(ctx context.Context, field string, value interface{}, includeDeleted bool) ([]*T, error)

	Update(ctx context.Context, id int64, payload UpdatePayload) (int64, error)

	Delete(ctx context.Context, id int64) (int64, error)

	DeleteHard(ctx context.Context, id int64) (int64, error)

	DeleteAll(ctx context.Context, soft bool) (int64, error)

	Restore(ctx context.Context, id int64) (int64, error)

	Count(ctx context.Context, includeDeleted bool) (int, error)

	Exists(ctx context.Context, id int64) (bool, error)
}

// QueryRepository defines raw querying and pagination. List and Query are
// escape hatches that take WHERE fragments verbatim and apply no visibility
// filtering; Page is visibility-aware through its request flag.
type QueryRepository[T any] interface {
	List(ctx context.Context, filter *types.QueryFilter) ([]*T, error)

	Query(ctx context.Context, where string, args ...interface{}) ([]*T, error)

	Page(ctx context.Context, page *types.PageRequest) (*types.Pagination[T], error)
}

// TransactionRepository defines operations executed on an explicit
// transaction, for callers composing multi-repository units inside
// database.DB.Transaction.
type TransactionRepository[T any] interface {
	CreateWithTx(ctx context.Context, tx bun.IDB, records ...*T) error
	UpsertWithTx(ctx context.Context, tx bun.IDB, fields []string, conflictKeys []string, records ...*T) error
	UpdateWithTx(ctx context.Context, tx bun.IDB, id int64, payload UpdatePayload) (int64, error)
	DeleteWithTx(ctx context.Context, tx bun.IDB, id int64) (int64, error)
}

// MappingRepository converts records to their mapping and JSON shapes and
// exposes the live table columns.
type MappingRepository[T any] interface {
	ToMap(record *T) (map[string]interface{}, error)
	ToJSON(record *T) ([]byte, error)
	Columns(ctx context.Context) ([]string, error)
}

// Repository combines the lifecycle, query, transactional, and mapping
// operations, and exposes Bun query builders for advanced use cases.
type Repository[T any] interface {
	CrudRepository[T]
	QueryRepository[T]
	TransactionRepository[T]
	MappingRepository[T]

	Upsert(ctx context.Context, fields []string, conflictKeys []string, records ...*T) error

	Dialect() schema.Dialect
	NewSelect() *bun.SelectQuery
	NewInsert() *bun.InsertQuery
	NewUpdate() *bun.UpdateQuery
	NewDelete() *bun.DeleteQuery
}
