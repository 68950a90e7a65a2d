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
	"sync"

	"github.com/uptrace/bun"
)

var (
	defaultHandle *DB
	defaultOnce   sync.Once
)

// Default returns the process-default handle, creating it on first use.
// One handle per process is the working convention; build extra handles
// with New when a second database is involved.
func Default() *DB {
	defaultOnce.Do(func() {
		defaultHandle = New()
	})
	return defaultHandle
}

// Init configures and connects the default handle, then provisions tables
// and runs seed files when the configuration asks for it. A nil cfg selects
// the built-in defaults.
func Init(cfg *Config) (*DB, error) {
	d := Default()
	if err := d.Configure(cfg); err != nil {
		return nil, err
	}
	ctx := context.Background()
	if err := d.Connect(ctx); err != nil {
		return nil, err
	}
	cfg = d.Config()
	if cfg.Provision.AutoCreate {
		if err := d.CreateTables(ctx); err != nil {
			return nil, err
		}
	}
	if cfg.Seed.AutoSeed {
		if err := d.SeedData(ctx); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// InitFromFile loads a YAML configuration file and initializes the default
// handle with it.
func InitFromFile(path string) (*DB, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return Init(cfg)
}

// GetDB returns the default handle's bun database, nil before Connect.
func GetDB() *bun.DB {
	return Default().GetDB()
}

// Close disconnects the default handle.
func Close() error {
	return Default().Disconnect()
}

// GetHealthStatus checks the default handle's health.
func GetHealthStatus(ctx context.Context) *HealthStatus {
	return Default().HealthCheck(ctx)
}

// GetDatabaseStats snapshots the default handle's pool counters.
func GetDatabaseStats() *DBStats {
	return Default().GetStats()
}
