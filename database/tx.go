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
	"fmt"
	"regexp"

	"github.com/uptrace/bun"
)

// identRe matches identifiers safe to splice into SAVEPOINT statements,
// which cannot be parameterized.
var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Transaction runs fn inside the handle's scoped transaction. The outermost
// call begins a transaction, commits when fn returns nil, and rolls the
// whole unit back when fn returns an error or panics. Nested calls join the
// open transaction: their operations land on the same unit and only the
// outermost call decides its fate. While the scope is open, repository
// operations on this handle are routed into it automatically.
//
// The scope is cooperative: one logical flow drives it at a time.
func (d *DB) Transaction(ctx context.Context, fn func(ctx context.Context, tx bun.IDB) error) error {
	d.mu.Lock()
	if !d.connected || d.db == nil {
		d.mu.Unlock()
		return fmt.Errorf("%w: transactions require an open connection", ErrNotConnected)
	}
	if d.tx != nil {
		d.txDepth++
		tx := *d.tx
		d.mu.Unlock()

		err := fn(ctx, tx)

		d.mu.Lock()
		d.txDepth--
		d.mu.Unlock()
		return err
	}
	db := d.db
	d.mu.Unlock()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	d.mu.Lock()
	d.tx = &tx
	d.txDepth = 1
	d.mu.Unlock()

	committed := false
	defer func() {
		d.mu.Lock()
		d.tx = nil
		d.txDepth = 0
		d.mu.Unlock()
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}

// InTransaction reports whether a transaction scope is currently open.
func (d *DB) InTransaction() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.tx != nil
}

// Savepoint runs fn under a named savepoint on the active transaction.
// An error from fn rolls back to the savepoint and propagates, leaving the
// surrounding transaction usable; success releases the savepoint. Calling
// Savepoint outside a transaction scope fails with ErrNoActiveTransaction.
func (d *DB) Savepoint(ctx context.Context, name string, fn func(ctx context.Context, tx bun.IDB) error) error {
	if !identRe.MatchString(name) {
		return fmt.Errorf("invalid savepoint name %q", name)
	}

	d.mu.RLock()
	txp := d.tx
	d.mu.RUnlock()
	if txp == nil {
		return fmt.Errorf("%w: savepoints require a transaction scope", ErrNoActiveTransaction)
	}
	tx := *txp

	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("failed to create savepoint %s: %w", name, err)
	}
	if err := fn(ctx, tx); err != nil {
		if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return fmt.Errorf("failed to roll back to savepoint %s: %v (original error: %w)", name, rbErr, err)
		}
		return err
	}
	if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return fmt.Errorf("failed to release savepoint %s: %w", name, err)
	}
	return nil
}
