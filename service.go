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

package lark

import (
	"context"
	"sync"

	"github.com/uptrace/bun"

	"github.com/tomoncle/lark/database"
	"github.com/tomoncle/lark/repository"
	"github.com/tomoncle/lark/types"
)

// Service is the record-level facade over the process-default database
// handle. It binds its repository lazily on first use, so it can be declared
// before database.Init runs.
type Service[T any] interface {
	// Save inserts a new record and returns it with identity populated.
	Save(ctx context.Context, record *T) (*T, error)

	// SaveAll inserts records atomically: all of them or none.
	SaveAll(ctx context.Context, records []*T) ([]*T, error)

	// SaveOrUpdate upserts records based on fields and conflict keys.
	SaveOrUpdate(ctx context.Context, fields []string, conflictKeys []string, records ...*T) error

	// Get returns a record by id, nil when absent or soft-deleted.
	Get(ctx context.Context, id int64, includeDeleted bool) (*T, error)

	// All returns every visible record ordered by id.
	All(ctx context.Context, includeDeleted bool) ([]*T, error)

	// Find returns the records whose column equals value.
	Find(ctx context.Context, field string, value interface{}, includeDeleted bool) ([]*T, error)

	// List returns records matching the provided raw filter.
	List(ctx context.Context, filter *types.QueryFilter) ([]*T, error)

	// Query executes a raw WHERE fragment and maps the results.
	Query(ctx context.Context, query string, args ...interface{}) ([]*T, error)

	// Page returns a paginated list of records.
	Page(ctx context.Context, page *types.PageRequest) (*types.Pagination[T], error)

	// Update applies an update payload to one record by id.
	Update(ctx context.Context, id int64, payload repository.UpdatePayload) (int64, error)

	// Delete removes a record, softly when the repository soft-deletes.
	Delete(ctx context.Context, id int64) (int64, error)

	// DeleteHard removes a record irreversibly.
	DeleteHard(ctx context.Context, id int64) (int64, error)

	// DeleteAll removes every record, softly when asked and enabled.
	DeleteAll(ctx context.Context, soft bool) (int64, error)

	// Restore clears a record's soft-delete stamp.
	Restore(ctx context.Context, id int64) (int64, error)

	// Count returns the number of visible records.
	Count(ctx context.Context, includeDeleted bool) (int, error)

	// Exists reports whether a visible record with the id exists.
	Exists(ctx context.Context, id int64) (bool, error)

	// ToMap converts a record to its column map.
	ToMap(record *T) (map[string]interface{}, error)

	// ToJSON converts a record to its JSON text.
	ToJSON(record *T) ([]byte, error)

	// Columns lists the live table columns.
	Columns(ctx context.Context) ([]string, error)

	// SaveWithTx inserts records on an explicit transaction.
	SaveWithTx(ctx context.Context, tx bun.IDB, records ...*T) error

	// SaveOrUpdateWithTx upserts records on an explicit transaction.
	SaveOrUpdateWithTx(ctx context.Context, tx bun.IDB, fields []string, conflictKeys []string, records ...*T) error

	// UpdateWithTx applies an update payload on an explicit transaction.
	UpdateWithTx(ctx context.Context, tx bun.IDB, id int64, payload repository.UpdatePayload) (int64, error)

	// DeleteWithTx removes a record on an explicit transaction.
	DeleteWithTx(ctx context.Context, tx bun.IDB, id int64) (int64, error)

	// SelectBuilder returns a Bun select query builder for the record type.
	SelectBuilder() *bun.SelectQuery

	// InsertBuilder returns a Bun insert query builder for the record type.
	InsertBuilder() *bun.InsertQuery

	// UpdateBuilder returns a Bun update query builder for the record type.
	UpdateBuilder() *bun.UpdateQuery

	// DeleteBuilder returns a Bun delete query builder for the record type.
	DeleteBuilder() *bun.DeleteQuery
}

type baseServiceImpl[T any] struct {
	repo repository.Repository[T]
	once sync.Once
	opts []repository.Option
}

// NewService returns a Service bound to the process-default handle.
// Repository options (soft delete overrides) apply at first use.
func NewService[T any](opts ...repository.Option) Service[T] {
	return &baseServiceImpl[T]{opts: opts}
}

func (s *baseServiceImpl[T]) baseRepo() repository.Repository[T] {
	s.once.Do(func() { s.repo = repository.New[T](database.Default(), s.opts...) })
	return s.repo
}

func (s *baseServiceImpl[T]) Save(ctx context.Context, record *T) (*T, error) {
	return s.baseRepo().Create(ctx, record)
}

func (s *baseServiceImpl[T]) SaveAll(ctx context.Context, records []*T) ([]*T, error) {
	return s.baseRepo().CreateMany(ctx, records)
}

func (s *baseServiceImpl[T]) SaveOrUpdate(ctx context.Context, fields []string, conflictKeys []string, records ...*T) error {
	return s.baseRepo().Upsert(ctx, fields, conflictKeys, records...)
}

func (s *baseServiceImpl[T]) Get(ctx context.Context, id int64, includeDeleted bool) (*T, error) {
	return s.baseRepo().GetByID(ctx, id, includeDeleted)
}

func (s *baseServiceImpl[T]) All(ctx context.Context, includeDeleted bool) ([]*T, error) {
	return s.baseRepo().GetAll(ctx, includeDeleted)
}

func (s *baseServiceImpl[T]) Find(ctx context.Context, field string, value interface{}, includeDeleted bool) ([]*T, error) {
	return s.baseRepo().GetByField(ctx, field, value, includeDeleted)
}

func (s *baseServiceImpl[T]) List(ctx context.Context, filter *types.QueryFilter) ([]*T, error) {
	return s.baseRepo().List(ctx, filter)
}

func (s *baseServiceImpl[T]) Query(ctx context.Context, query string, args ...interface{}) ([]*T, error) {
	return s.baseRepo().Query(ctx, query, args...)
}

func (s *baseServiceImpl[T]) Page(ctx context.Context, page *types.PageRequest) (*types.Pagination[T], error) {
	return s.baseRepo().Page(ctx, page)
}

func (s *baseServiceImpl[T]) Update(ctx context.Context, id int64, payload repository.UpdatePayload) (int64, error) {
	return s.baseRepo().Update(ctx, id, payload)
}

func (s *baseServiceImpl[T]) Delete(ctx context.Context, id int64) (int64, error) {
	return s.baseRepo().Delete(ctx, id)
}

func (s *baseServiceImpl[T]) DeleteHard(ctx context.Context, id int64) (int64, error) {
	return s.baseRepo().DeleteHard(ctx, id)
}

func (s *baseServiceImpl[T]) DeleteAll(ctx context.Context, soft bool) (int64, error) {
	return s.baseRepo().DeleteAll(ctx, soft)
}

func (s *baseServiceImpl[T]) Restore(ctx context.Context, id int64) (int64, error) {
	return s.baseRepo().Restore(ctx, id)
}

func (s *baseServiceImpl[T]) Count(ctx context.Context, includeDeleted bool) (int, error) {
	return s.baseRepo().Count(ctx, includeDeleted)
}

func (s *baseServiceImpl[T]) Exists(ctx context.Context, id int64) (bool, error) {
	return s.baseRepo().Exists(ctx, id)
}

func (s *baseServiceImpl[T]) ToMap(record *T) (map[string]interface{}, error) {
	return s.baseRepo().ToMap(record)
}

func (s *baseServiceImpl[T]) ToJSON(record *T) ([]byte, error) {
	return s.baseRepo().ToJSON(record)
}

func (s *baseServiceImpl[T]) Columns(ctx context.Context) ([]string, error) {
	return s.baseRepo().Columns(ctx)
}

func (s *baseServiceImpl[T]) SaveWithTx(ctx context.Context, tx bun.IDB, records ...*T) error {
	return s.baseRepo().CreateWithTx(ctx, tx, records...)
}

func (s *baseServiceImpl[T]) SaveOrUpdateWithTx(ctx context.Context, tx bun.IDB, fields []string, conflictKeys []string, records ...*T) error {
	return s.baseRepo().UpsertWithTx(ctx, tx, fields, conflictKeys, records...)
}

func (s *baseServiceImpl[T]) UpdateWithTx(ctx context.Context, tx bun.IDB, id int64, payload repository.UpdatePayload) (int64, error) {
	return s.baseRepo().UpdateWithTx(ctx, tx, id, payload)
}

func (s *baseServiceImpl[T]) DeleteWithTx(ctx context.Context, tx bun.IDB, id int64) (int64, error) {
	return s.baseRepo().DeleteWithTx(ctx, tx, id)
}

func (s *baseServiceImpl[T]) SelectBuilder() *bun.SelectQuery {
	return s.baseRepo().NewSelect()
}

func (s *baseServiceImpl[T]) InsertBuilder() *bun.InsertQuery {
	return s.baseRepo().NewInsert()
}

func (s *baseServiceImpl[T]) UpdateBuilder() *bun.UpdateQuery {
	return s.baseRepo().NewUpdate()
}

func (s *baseServiceImpl[T]) DeleteBuilder() *bun.DeleteQuery {
	return s.baseRepo().NewDelete()
}
