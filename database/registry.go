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
	"reflect"
	"sync"
)

// RepositoryFactory builds the repository bound to a registered record type.
// The handle invokes it lazily on the first GetRepository call for the key.
type RepositoryFactory func(db *DB) interface{}

// Registry stores record/repository registrations keyed by name. Entries
// keep their registration order, which is also the table provisioning order:
// register referenced record types before the types that point at them.
type Registry struct {
	mutex   sync.RWMutex
	entries []*registryEntry
	byKey   map[string]*registryEntry
}

type registryEntry struct {
	key     string
	record  interface{}
	factory RepositoryFactory
	once    sync.Once
	repo    interface{}
}

func newRegistry() *Registry {
	return &Registry{byKey: map[string]*registryEntry{}}
}

func (r *Registry) register(key string, record interface{}, factory RepositoryFactory) error {
	if key == "" {
		return fmt.Errorf("registry key must not be empty")
	}
	if record == nil {
		return fmt.Errorf("record prototype must not be nil")
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if _, ok := r.byKey[key]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, key)
	}
	e := &registryEntry{key: key, record: record, factory: factory}
	r.byKey[key] = e
	r.entries = append(r.entries, e)
	return nil
}

func (r *Registry) entry(key string) *registryEntry {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.byKey[key]
}

func (r *Registry) records() []interface{} {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	records := make([]interface{}, len(r.entries))
	for i, e := range r.entries {
		records[i] = e.record
	}
	return records
}

func (r *Registry) keys() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	keys := make([]string, len(r.entries))
	for i, e := range r.entries {
		keys[i] = e.key
	}
	return keys
}

// Register binds a record type and its repository factory to a key. The
// record is a struct pointer prototype such as (*User)(nil); the factory may
// be nil when only the record type needs registering. Reusing a key yields
// ErrDuplicateKey.
func (d *DB) Register(key string, record interface{}, factory RepositoryFactory) error {
	return d.registry.register(key, record, factory)
}

// GetRecordType returns the record prototype registered under key, or nil
// when the key is unknown. Absence is not an error.
func (d *DB) GetRecordType(key string) interface{} {
	e := d.registry.entry(key)
	if e == nil {
		return nil
	}
	return e.record
}

// GetRepository returns the repository registered under key, building it
// from its factory on first use. It returns nil when the key is unknown or
// was registered without a factory.
func (d *DB) GetRepository(key string) interface{} {
	e := d.registry.entry(key)
	if e == nil || e.factory == nil {
		return nil
	}
	e.once.Do(func() { e.repo = e.factory(d) })
	return e.repo
}

// RegisteredKeys returns the registry keys in registration order.
func (d *DB) RegisteredKeys() []string {
	return d.registry.keys()
}

// RegisteredRecords returns the record prototypes in registration order.
func (d *DB) RegisteredRecords() []interface{} {
	return d.registry.records()
}

// CreateTables provisions one table per registered record type with CREATE
// TABLE IF NOT EXISTS, so repeated calls are harmless. It requires an open
// connection and runs with SQL logging silenced. When configured, a
// foreign-key constraint pass follows table creation.
func (d *DB) CreateTables(ctx context.Context) error {
	d.mu.RLock()
	connected, db, cfg := d.connected, d.db, d.config
	d.mu.RUnlock()
	if !connected || db == nil {
		return fmt.Errorf("%w: connect before creating tables", ErrNotConnected)
	}

	records := d.registry.records()
	db.RegisterModel(records...)

	EnableSQLSilent(true)
	defer EnableSQLSilent(false)

	for _, record := range records {
		q := db.NewCreateTable().Model(record).IfNotExists()
		if cfg != nil && cfg.Provision.WithForeignKeys {
			q = q.WithForeignKeys()
		}
		if _, err := q.Exec(ctx); err != nil {
			return fmt.Errorf("failed to create table for %s: %w", modelName(record), err)
		}
	}

	if cfg != nil && cfg.Provision.ForeignKeyFile != "" {
		manager, err := NewForeignKeyManagerFromFile(d.logger, cfg.Provision.ForeignKeyFile)
		if err != nil {
			return fmt.Errorf("failed to load foreign key config: %w", err)
		}
		_ = manager.AddAllForeignKeys(ctx, db)
	}

	d.logger.Info("Tables provisioned", "count", len(records))
	return nil
}

func modelName(model interface{}) string {
	t := reflect.TypeOf(model)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil {
		return "<nil>"
	}
	return t.Name()
}
