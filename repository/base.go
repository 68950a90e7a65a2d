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
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/feature"
	"github.com/uptrace/bun/schema"

	"github.com/tomoncle/lark/database"
	"github.com/tomoncle/lark/transform"
	"github.com/tomoncle/lark/types"
)

type baseRepositoryImpl[T any] struct {
	handle    *database.DB
	soft      bool
	softField string
	table     *transform.Table
	tableErr  error
}

type repositoryOptions struct {
	soft      *bool
	softField string
}

// Option adjusts repository construction.
type Option func(*repositoryOptions)

// WithSoftDelete overrides the handle-wide soft delete default.
func WithSoftDelete(enabled bool) Option {
	return func(o *repositoryOptions) { o.soft = &enabled }
}

// WithSoftDeleteField overrides the soft delete column name.
func WithSoftDeleteField(name string) Option {
	return func(o *repositoryOptions) { o.softField = name }
}

// New returns a generic repository bound to the given handle. The soft
// delete policy is taken from the handle configuration unless overridden by
// options, and is fixed for the repository's lifetime. Operations run on the
// handle's scoped transaction whenever one is open.
func New[T any](h *database.DB, opts ...Option) Repository[T] {
	var o repositoryOptions
	for _, opt := range opts {
		opt(&o)
	}
	enabled, field := h.SoftDeleteDefaults()
	if o.soft != nil {
		enabled = *o.soft
	}
	if o.softField != "" {
		field = o.softField
	}
	r := &baseRepositoryImpl[T]{handle: h, soft: enabled, softField: field}
	r.table, r.tableErr = transform.TableOf(new(T))
	return r
}

func (r *baseRepositoryImpl[T]) idb() (bun.IDB, error) {
	return r.handle.IDB()
}

func (r *baseRepositoryImpl[T]) metadata() (*transform.Table, error) {
	if r.tableErr != nil {
		return nil, r.tableErr
	}
	return r.table, nil
}

// softColumn resolves the soft delete column, verifying the record type
// actually declares it.
func (r *baseRepositoryImpl[T]) softColumn() (string, error) {
	table, err := r.metadata()
	if err != nil {
		return "", err
	}
	if !table.Has(r.softField) {
		return "", fmt.Errorf("%w: soft delete column %s is not declared on %s",
			database.ErrUnknownField, r.softField, table.Name)
	}
	return r.softField, nil
}

// applyVisibility hides soft-deleted rows unless the caller asked for them.
func (r *baseRepositoryImpl[T]) applyVisibility(q *bun.SelectQuery, includeDeleted bool) (*bun.SelectQuery, error) {
	if !r.soft || includeDeleted {
		return q, nil
	}
	field, err := r.softColumn()
	if err != nil {
		return nil, err
	}
	return q.Where("? IS NULL", bun.Ident(field)), nil
}

func (r *baseRepositoryImpl[T]) Dialect() schema.Dialect { return r.handle.GetDB().Dialect() }

func (r *baseRepositoryImpl[T]) NewSelect() *bun.SelectQuery { return r.handle.GetDB().NewSelect() }

func (r *baseRepositoryImpl[T]) NewInsert() *bun.InsertQuery { return r.handle.GetDB().NewInsert() }

func (r *baseRepositoryImpl[T]) NewUpdate() *bun.UpdateQuery { return r.handle.GetDB().NewUpdate() }

func (r *baseRepositoryImpl[T]) NewDelete() *bun.DeleteQuery { return r.handle.GetDB().NewDelete() }

// Create inserts one record. The identity and both timestamps are populated
// on the returned record.
func (r *baseRepositoryImpl[T]) Create(ctx context.Context, record *T) (*T, error) {
	if record == nil {
		return nil, fmt.Errorf("record must not be nil")
	}
	idb, err := r.idb()
	if err != nil {
		return nil, err
	}
	if _, err := idb.NewInsert().Model(record).Exec(ctx); err != nil {
		return nil, database.WrapSQLError(err)
	}
	return record, nil
}

// CreateMany inserts all records in one transaction: either every record is
// persisted with its identity populated, or none are.
func (r *baseRepositoryImpl[T]) CreateMany(ctx context.Context, records []*T) ([]*T, error) {
	if len(records) == 0 {
		return records, nil
	}
	err := r.handle.Transaction(ctx, func(ctx context.Context, tx bun.IDB) error {
		for _, record := range records {
			if record == nil {
				return fmt.Errorf("records must not contain nil")
			}
			if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
				return database.WrapSQLError(err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// GetByID fetches one record by id, or nil when it is absent or hidden by
// the visibility rule. Absence is not an error.
func (r *baseRepositoryImpl[T]) GetByID(ctx context.Context, id int64, includeDeleted bool) (*T, error) {
	idb, err := r.idb()
	if err != nil {
		return nil, err
	}
	var record T
	q := idb.NewSelect().Model(&record).Where("id = ?", id)
	if q, err = r.applyVisibility(q, includeDeleted); err != nil {
		return nil, err
	}
	if err := q.Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// GetAll fetches every visible record ordered by id.
func (r *baseRepositoryImpl[T]) GetAll(ctx context.Context, includeDeleted bool) ([]*T, error) {
	idb, err := r.idb()
	if err != nil {
		return nil, err
	}
	var records []*T
	q := idb.NewSelect().Model(&records).Order("id ASC")
	if q, err = r.applyVisibility(q, includeDeleted); err != nil {
		return nil, err
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return records, nil
}

// GetByField fetches the records whose column equals value, ordered by id.
// Undeclared columns fail with ErrUnknownField.
func (r *baseRepositoryImpl[T]) GetByField(ctx context.Context, field string, value interface{}, includeDeleted bool) ([]*T, error) {
	table, err := r.metadata()
	if err != nil {
		return nil, err
	}
	if !table.Has(field) {
		return nil, fmt.Errorf("%w: %s is not a declared column of %s",
			database.ErrUnknownField, field, table.Name)
	}
	idb, err := r.idb()
	if err != nil {
		return nil, err
	}
	var records []*T
	q := idb.NewSelect().Model(&records).Where("? = ?", bun.Ident(field), value).Order("id ASC")
	if q, err = r.applyVisibility(q, includeDeleted); err != nil {
		return nil, err
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return records, nil
}

// Update applies the payload's column changes to one record and refreshes
// its last-modified timestamp. It returns the number of rows affected, 0
// when the id does not exist.
func (r *baseRepositoryImpl[T]) Update(ctx context.Context, id int64, payload UpdatePayload) (int64, error) {
	idb, err := r.idb()
	if err != nil {
		return 0, err
	}
	return r.updateOn(ctx, idb, id, payload)
}

func (r *baseRepositoryImpl[T]) updateOn(ctx context.Context, idb bun.IDB, id int64, payload UpdatePayload) (int64, error) {
	table, err := r.metadata()
	if err != nil {
		return 0, err
	}
	values, err := resolvePayload(table, payload)
	if err != nil {
		return 0, err
	}
	res, err := idb.NewUpdate().
		Model(&values).
		Table(table.Name).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return 0, database.WrapSQLError(err)
	}
	return res.RowsAffected()
}

// Delete removes one record: a soft-delete stamp when the repository has
// soft delete enabled, a hard delete otherwise. Returns rows affected.
func (r *baseRepositoryImpl[T]) Delete(ctx context.Context, id int64) (int64, error) {
	idb, err := r.idb()
	if err != nil {
		return 0, err
	}
	return r.deleteOn(ctx, idb, id)
}

func (r *baseRepositoryImpl[T]) deleteOn(ctx context.Context, idb bun.IDB, id int64) (int64, error) {
	if !r.soft {
		return r.deleteHardOn(ctx, idb, id)
	}
	table, err := r.metadata()
	if err != nil {
		return 0, err
	}
	field, err := r.softColumn()
	if err != nil {
		return 0, err
	}
	values := map[string]interface{}{field: time.Now()}
	res, err := idb.NewUpdate().
		Model(&values).
		Table(table.Name).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return 0, database.WrapSQLError(err)
	}
	return res.RowsAffected()
}

// DeleteHard removes the row irreversibly, soft delete or not.
func (r *baseRepositoryImpl[T]) DeleteHard(ctx context.Context, id int64) (int64, error) {
	idb, err := r.idb()
	if err != nil {
		return 0, err
	}
	return r.deleteHardOn(ctx, idb, id)
}

func (r *baseRepositoryImpl[T]) deleteHardOn(ctx context.Context, idb bun.IDB, id int64) (int64, error) {
	var record T
	res, err := idb.NewDelete().Model(&record).Where("id = ?", id).Exec(ctx)
	if err != nil {
		return 0, database.WrapSQLError(err)
	}
	return res.RowsAffected()
}

// DeleteAll removes every row: soft-delete stamps when soft is true and the
// repository has soft delete enabled, otherwise physical deletion. Returns
// rows affected.
func (r *baseRepositoryImpl[T]) DeleteAll(ctx context.Context, soft bool) (int64, error) {
	idb, err := r.idb()
	if err != nil {
		return 0, err
	}
	if soft && r.soft {
		table, err := r.metadata()
		if err != nil {
			return 0, err
		}
		field, err := r.softColumn()
		if err != nil {
			return 0, err
		}
		values := map[string]interface{}{field: time.Now()}
		res, err := idb.NewUpdate().
			Model(&values).
			Table(table.Name).
			Where("1 = 1").
			Exec(ctx)
		if err != nil {
			return 0, database.WrapSQLError(err)
		}
		return res.RowsAffected()
	}
	var record T
	res, err := idb.NewDelete().Model(&record).Where("1 = 1").Exec(ctx)
	if err != nil {
		return 0, database.WrapSQLError(err)
	}
	return res.RowsAffected()
}

// Restore clears the soft-delete stamp of one record, returning it to
// default-visible queries. Rows affected is 0 when the id is missing or the
// record is not deleted. Restore on a repository without soft delete is a
// contract misuse and fails.
func (r *baseRepositoryImpl[T]) Restore(ctx context.Context, id int64) (int64, error) {
	if !r.soft {
		return 0, fmt.Errorf("soft delete is not enabled for this repository")
	}
	table, err := r.metadata()
	if err != nil {
		return 0, err
	}
	field, err := r.softColumn()
	if err != nil {
		return 0, err
	}
	idb, err := r.idb()
	if err != nil {
		return 0, err
	}
	values := map[string]interface{}{field: nil}
	res, err := idb.NewUpdate().
		Model(&values).
		Table(table.Name).
		Where("id = ?", id).
		Where("? IS NOT NULL", bun.Ident(field)).
		Exec(ctx)
	if err != nil {
		return 0, database.WrapSQLError(err)
	}
	return res.RowsAffected()
}

// Count returns the number of visible records.
func (r *baseRepositoryImpl[T]) Count(ctx context.Context, includeDeleted bool) (int, error) {
	idb, err := r.idb()
	if err != nil {
		return 0, err
	}
	q := idb.NewSelect().Model((*T)(nil))
	if q, err = r.applyVisibility(q, includeDeleted); err != nil {
		return 0, err
	}
	return q.Count(ctx)
}

// Exists reports whether a visible record with the id exists.
func (r *baseRepositoryImpl[T]) Exists(ctx context.Context, id int64) (bool, error) {
	record, err := r.GetByID(ctx, id, false)
	if err != nil {
		return false, err
	}
	return record != nil, nil
}

// List fetches records matching a raw filter. The filter fragment is taken
// verbatim and no visibility rule is applied.
func (r *baseRepositoryImpl[T]) List(ctx context.Context, filter *types.QueryFilter) ([]*T, error) {
	idb, err := r.idb()
	if err != nil {
		return nil, err
	}
	var records []*T
	q := idb.NewSelect().Model(&records)
	if filter != nil {
		q = q.Where(filter.Schema, filter.Args...)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return records, nil
}

// Query fetches records matching a raw WHERE fragment, visibility-unaware
// like List.
func (r *baseRepositoryImpl[T]) Query(ctx context.Context, where string, args ...interface{}) ([]*T, error) {
	idb, err := r.idb()
	if err != nil {
		return nil, err
	}
	var records []*T
	if err := idb.NewSelect().Model(&records).Where(where, args...).Scan(ctx); err != nil {
		return nil, err
	}
	return records, nil
}

// Page fetches one page of records plus the total count. Soft-deleted rows
// are hidden unless the request carries IncludeDeleted.
func (r *baseRepositoryImpl[T]) Page(ctx context.Context, pageRequest *types.PageRequest) (*types.Pagination[T], error) {
	idb, err := r.idb()
	if err != nil {
		return nil, err
	}
	var records []*T
	q := idb.NewSelect().Model(&records)
	if pageRequest.GetFilter() != nil {
		q = q.Where(pageRequest.GetFilter().Schema, pageRequest.GetFilter().Args...)
	}
	if q, err = r.applyVisibility(q, pageRequest.GetIncludeDeleted()); err != nil {
		return nil, err
	}
	pagination := types.NewDefaultPagination[T](pageRequest.GetPage(), pageRequest.GetPageSize())
	total, err := q.Count(ctx)
	if err != nil || total == 0 {
		return pagination, err
	}
	err = q.
		Offset(pageRequest.GetOffset()).
		Limit(pageRequest.GetPageSize()).
		Order(pageRequest.GetOrders()...).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	pagination.Total = total
	pagination.Items = records
	return pagination, nil
}

// Upsert inserts records, updating the given fields when conflictKeys (the
// primary key by default) collide. The statement form follows the dialect's
// conflict feature.
func (r *baseRepositoryImpl[T]) Upsert(ctx context.Context, fields []string, conflictKeys []string, records ...*T) error {
	idb, err := r.idb()
	if err != nil {
		return err
	}
	return r.multipleUpsert(ctx, idb, fields, conflictKeys, records...)
}

func (r *baseRepositoryImpl[T]) CreateWithTx(ctx context.Context, tx bun.IDB, records ...*T) error {
	recs := make([]*T, len(records))
	copy(recs, records)
	if _, err := tx.NewInsert().Model(&recs).Exec(ctx); err != nil {
		return database.WrapSQLError(err)
	}
	return nil
}

func (r *baseRepositoryImpl[T]) UpsertWithTx(ctx context.Context, tx bun.IDB, fields []string, conflictKeys []string, records ...*T) error {
	return r.multipleUpsert(ctx, tx, fields, conflictKeys, records...)
}

func (r *baseRepositoryImpl[T]) UpdateWithTx(ctx context.Context, tx bun.IDB, id int64, payload UpdatePayload) (int64, error) {
	return r.updateOn(ctx, tx, id, payload)
}

func (r *baseRepositoryImpl[T]) DeleteWithTx(ctx context.Context, tx bun.IDB, id int64) (int64, error) {
	return r.deleteOn(ctx, tx, id)
}

func (r *baseRepositoryImpl[T]) multipleUpsert(ctx context.Context, idb bun.IDB, fields []string, conflictKeys []string, records ...*T) error {
	if len(fields) == 0 {
		return fmt.Errorf("fields cannot be empty")
	}
	db := r.handle.GetDB()
	if db == nil {
		return database.ErrNotConnected
	}

	recs := make([]*T, len(records))
	copy(recs, records)

	if db.HasFeature(feature.InsertOnConflict) {
		return r.upsertOnConflict(ctx, idb.NewInsert(), fields, conflictKeys, recs)
	} else if db.HasFeature(feature.InsertOnDuplicateKey) {
		return r.upsertOnDuplicateKey(ctx, idb.NewInsert(), fields, recs)
	}
	return r.upsertFallback(ctx, idb, recs)
}

// upsertOnDuplicateKey builds the MySQL ON DUPLICATE KEY UPDATE form.
func (r *baseRepositoryImpl[T]) upsertOnDuplicateKey(ctx context.Context, insertQuery *bun.InsertQuery, fields []string, records []*T) error {
	var queryArgs []string
	for _, field := range fields {
		queryArgs = append(queryArgs, fmt.Sprintf("%s = VALUES(%s)", bun.Ident(field), bun.Ident(field)))
	}
	_, err := insertQuery.
		Model(&records).
		On("DUPLICATE KEY UPDATE " + strings.Join(queryArgs, ", ")).
		Exec(ctx)
	if err != nil {
		return database.WrapSQLError(err)
	}
	return nil
}

// upsertOnConflict builds the PostgreSQL/SQLite ON CONFLICT DO UPDATE form.
func (r *baseRepositoryImpl[T]) upsertOnConflict(ctx context.Context, insertQuery *bun.InsertQuery, fields []string, conflictKeys []string, records []*T) error {
	if len(conflictKeys) == 0 {
		conflictKeys = []string{"id"}
	}
	keyNames := strings.Join(conflictKeys, ",")
	var queryArgs []string
	for _, field := range fields {
		queryArgs = append(queryArgs, fmt.Sprintf("%s = EXCLUDED.%s", bun.Ident(field), bun.Ident(field)))
	}
	_, err := insertQuery.
		Model(&records).
		On("CONFLICT (" + keyNames + ") DO UPDATE").
		Set(strings.Join(queryArgs, ", ")).
		Exec(ctx)
	if err != nil {
		return database.WrapSQLError(err)
	}
	return nil
}

func (r *baseRepositoryImpl[T]) upsertFallback(ctx context.Context, idb bun.IDB, records []*T) error {
	for _, record := range records {
		_, err := idb.NewInsert().Model(record).Exec(ctx)
		if err != nil {
			_, updateErr := idb.NewUpdate().Model(record).WherePK().Exec(ctx)
			if updateErr != nil {
				return fmt.Errorf("upsert failed for record: insert error: %v, update error: %v", err, updateErr)
			}
		}
	}
	return nil
}

func (r *baseRepositoryImpl[T]) ToMap(record *T) (map[string]interface{}, error) {
	return transform.ToMap(record)
}

func (r *baseRepositoryImpl[T]) ToJSON(record *T) ([]byte, error) {
	return transform.ToJSON(record)
}

// Columns lists the live table columns through the handle's catalog query.
func (r *baseRepositoryImpl[T]) Columns(ctx context.Context) ([]string, error) {
	table, err := r.metadata()
	if err != nil {
		return nil, err
	}
	return r.handle.TableColumns(ctx, table.Name)
}
