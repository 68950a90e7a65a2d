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
	"database/sql"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bundebug"
)

// DB is a handle on one database. It owns the connection lifecycle, the
// record registry and the scoped transaction state. Configuration is fixed
// once connected; Connect is idempotent and Disconnect returns the handle
// to its configurable state.
//
// The handle is safe for concurrent queries. The transaction scope is
// cooperative: one logical flow drives Transaction at a time.
type DB struct {
	mu              sync.RWMutex
	config          *Config
	db              *bun.DB
	sqlDB           *sql.DB
	logger          Logger
	connected       bool
	lastError       error
	lastHealthCheck time.Time
	healthStatus    *HealthStatus
	reconnectTries  int
	stopHealthCheck chan struct{}
	healthCheckOnce sync.Once
	registry        *Registry

	tx      *bun.Tx
	txDepth int
}

var (
	_ AbstractDatabaseManager        = (*DB)(nil)
	_ AbstractDatabaseConfigProvider = (*DB)(nil)
)

// New returns an unconfigured handle. Call Configure and Connect before
// issuing queries, or use Init for the process-default handle.
func New() *DB {
	return &DB{
		logger:          GetLogger(),
		healthStatus:    &HealthStatus{},
		stopHealthCheck: make(chan struct{}),
		registry:        newRegistry(),
	}
}

// NewWithConfig returns a configured handle.
func NewWithConfig(cfg *Config) (*DB, error) {
	d := New()
	if err := d.Configure(cfg); err != nil {
		return nil, err
	}
	return d, nil
}

// Configure stores the handle configuration after applying environment
// overrides and validation. A nil cfg selects the built-in defaults.
// Reconfiguring an open handle fails with ErrAlreadyConnected: disconnect
// first.
func (d *DB) Configure(cfg *Config) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.connected {
		return fmt.Errorf("%w: configuration is fixed while connected", ErrAlreadyConnected)
	}
	cfg.overrideFromEnv()
	if err := cfg.validate(); err != nil {
		return fmt.Errorf("invalid database configuration: %w", err)
	}
	d.config = cfg
	return nil
}

// Config returns the stored configuration, nil before Configure.
func (d *DB) Config() *Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.config
}

// SoftDeleteDefaults reports the handle-wide soft delete policy applied to
// repositories that do not override it.
func (d *DB) SoftDeleteDefaults() (enabled bool, field string) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.config == nil {
		return true, "deleted_at"
	}
	sd := d.config.SoftDelete
	if sd.Field == "" {
		sd.Field = "deleted_at"
	}
	return sd.Enabled, sd.Field
}

// Connect opens the connection described by the stored configuration and
// verifies it with a ping. Calling Connect on an open handle is a no-op.
func (d *DB) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected && d.db != nil {
		return nil
	}
	if d.config == nil {
		return fmt.Errorf("database handle is not configured")
	}

	sqlDB, bunDB, err := d.createConnection()
	if err != nil {
		d.lastError = err
		return fmt.Errorf("failed to create database connection: %w", err)
	}

	pingCtx := ctx
	if timeout := d.config.Connection.ConnectTimeout.Std(); timeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		d.lastError = err
		return fmt.Errorf("failed to ping database: %w", err)
	}

	d.sqlDB = sqlDB
	d.db = bunDB
	d.connected = true
	d.lastError = nil
	d.reconnectTries = 0

	d.logger.Info("Database connected",
		"type", d.config.Connection.Type,
		"database", d.config.Connection.DBName)

	if d.config.Connection.HealthCheckInterval.Std() > 0 {
		d.startHealthCheck()
	}
	return nil
}

// Disconnect closes the connection and returns the handle to its
// configurable state. Safe to call at any time, connected or not.
func (d *DB) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return nil
	}

	select {
	case d.stopHealthCheck <- struct{}{}:
	default:
	}

	var err error
	if d.sqlDB != nil {
		err = d.sqlDB.Close()
	}
	d.db = nil
	d.sqlDB = nil
	d.connected = false
	d.tx = nil
	d.txDepth = 0
	// a later Connect starts a fresh health loop
	d.healthCheckOnce = sync.Once{}

	if err != nil {
		return fmt.Errorf("failed to close database connection: %w", err)
	}
	d.logger.Info("Database disconnected")
	return nil
}

// Reconnect tears the connection down and opens it again.
func (d *DB) Reconnect(ctx context.Context) error {
	if err := d.Disconnect(); err != nil {
		d.logger.Warn("Failed to disconnect during reconnect", "error", err)
	}
	return d.Connect(ctx)
}

// Ping verifies the connection is alive.
func (d *DB) Ping(ctx context.Context) error {
	d.mu.RLock()
	sqlDB := d.sqlDB
	connected := d.connected
	d.mu.RUnlock()

	if !connected || sqlDB == nil {
		return ErrNotConnected
	}
	return sqlDB.PingContext(ctx)
}

// IsConnected reports whether Connect has succeeded and Disconnect has not
// been called since.
func (d *DB) IsConnected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.connected
}

// GetDB returns the bun database, nil while disconnected.
func (d *DB) GetDB() *bun.DB {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.db
}

// GetSQLDB returns the underlying sql.DB, nil while disconnected.
func (d *DB) GetSQLDB() *sql.DB {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.sqlDB
}

// IDB returns the connection queries should run on: the scoped transaction
// when one is active, otherwise the root database.
func (d *DB) IDB() (bun.IDB, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.connected || d.db == nil {
		return nil, ErrNotConnected
	}
	if d.tx != nil {
		return *d.tx, nil
	}
	return d.db, nil
}

// SetLogger replaces the handle logger.
func (d *DB) SetLogger(logger Logger) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if logger != nil {
		d.logger = logger
	}
}

// HealthCheck pings the database and records the outcome.
func (d *DB) HealthCheck(ctx context.Context) *HealthStatus {
	start := time.Now()
	status := &HealthStatus{
		LastCheckTime: start,
	}

	err := d.Ping(ctx)
	status.ResponseTime = time.Since(start)
	status.Healthy = err == nil
	if err != nil {
		status.LastError = err.Error()
	}

	d.mu.RLock()
	status.Connected = d.connected
	sqlDB := d.sqlDB
	d.mu.RUnlock()
	if sqlDB != nil {
		s := sqlDB.Stats()
		status.ActiveConns = s.InUse
		status.IdleConns = s.Idle
		status.MaxOpenConns = s.MaxOpenConnections
	}

	d.mu.Lock()
	d.healthStatus = status
	d.lastHealthCheck = start
	if err != nil {
		d.lastError = err
	}
	d.mu.Unlock()
	return status
}

// GetStats snapshots the connection pool counters.
func (d *DB) GetStats() *DBStats {
	d.mu.RLock()
	sqlDB := d.sqlDB
	d.mu.RUnlock()

	if sqlDB == nil {
		return &DBStats{}
	}
	stats := sqlDB.Stats()
	return &DBStats{
		MaxOpenConns:      stats.MaxOpenConnections,
		OpenConns:         stats.OpenConnections,
		InUse:             stats.InUse,
		Idle:              stats.Idle,
		WaitCount:         stats.WaitCount,
		WaitDuration:      stats.WaitDuration,
		MaxIdleClosed:     stats.MaxIdleClosed,
		MaxIdleTimeClosed: stats.MaxIdleTimeClosed,
		MaxLifetimeClosed: stats.MaxLifetimeClosed,
	}
}

func (d *DB) startHealthCheck() {
	d.healthCheckOnce.Do(func() {
		go func() {
			interval := d.config.Connection.HealthCheckInterval.Std()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			for {
				select {
				case <-ticker.C:
					status := d.HealthCheck(context.Background())
					if !status.Healthy {
						d.logger.Warn("Database health check failed",
							"error", status.LastError)
						if d.config.Connection.EnableReconnect {
							d.handleReconnect()
						}
					}
				case <-d.stopHealthCheck:
					return
				}
			}
		}()
	})
}

func (d *DB) handleReconnect() {
	d.mu.Lock()
	tries := d.reconnectTries
	maxTries := d.config.Connection.MaxReconnectTries
	interval := d.config.Connection.ReconnectInterval.Std()
	d.mu.Unlock()

	if maxTries > 0 && tries >= maxTries {
		d.logger.Error("Max reconnect tries exceeded", "tries", tries)
		return
	}

	d.mu.Lock()
	d.reconnectTries++
	d.mu.Unlock()

	d.logger.Info("Attempting database reconnect", "try", tries+1)
	time.Sleep(interval)

	if err := d.Reconnect(context.Background()); err != nil {
		d.logger.Error("Database reconnect failed", "error", err)
		return
	}
	d.logger.Info("Database reconnected")
}

// createConnection builds the engine-specific connection and decorates it
// with the query hooks the configuration asks for.
func (d *DB) createConnection() (*sql.DB, *bun.DB, error) {
	cc := &d.config.Connection

	var sqlDB *sql.DB
	var bunDB *bun.DB
	var err error

	switch cc.Type {
	case "mysql":
		sqlDB, bunDB, err = d.createMySQLConnection()
	case "postgres":
		sqlDB, bunDB, err = d.createPostgreSQLConnection()
	case "sqlite":
		sqlDB, bunDB, err = d.createSQLiteConnection()
	default:
		return nil, nil, fmt.Errorf("unsupported database type: %s", cc.Type)
	}
	if err != nil {
		return nil, nil, err
	}

	d.configureConnectionPool(sqlDB)

	bunDB.AddQueryHook(NewQueryHook("LARK_QUERY_LOG", os.Stdout))
	if cc.EnableQueryLog {
		bunDB.AddQueryHook(bundebug.NewQueryHook(
			bundebug.WithVerbose(true),
			bundebug.FromEnv("BUNDEBUG"),
		))
	}
	if cc.SlowQueryTime.Std() > 0 {
		bunDB.AddQueryHook(NewSlowQueryHook(cc.SlowQueryTime.Std(), d.logger))
	}
	return sqlDB, bunDB, nil
}

func (d *DB) createMySQLConnection() (*sql.DB, *bun.DB, error) {
	cc := &d.config.Connection
	charset := cc.Charset
	if charset == "" {
		charset = "utf8mb4"
	}
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=True&loc=Local&timeout=%s&readTimeout=%s&writeTimeout=%s",
		cc.Username, cc.Password, cc.Host, cc.Port, cc.DBName, charset,
		cc.ConnectTimeout.Std(), cc.ReadTimeout.Std(), cc.WriteTimeout.Std())

	sqlDB, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}
	return sqlDB, bun.NewDB(sqlDB, mysqldialect.New()), nil
}

func (d *DB) createPostgreSQLConnection() (*sql.DB, *bun.DB, error) {
	cc := &d.config.Connection
	sslMode := cc.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s&connect_timeout=%d",
		cc.Username, cc.Password, cc.Host, cc.Port, cc.DBName, sslMode,
		int(cc.ConnectTimeout.Std().Seconds()))

	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open PostgreSQL connection: %w", err)
	}
	return sqlDB, bun.NewDB(sqlDB, pgdialect.New()), nil
}

func (d *DB) createSQLiteConnection() (*sql.DB, *bun.DB, error) {
	cc := &d.config.Connection
	dsn := cc.Path
	if dsn == "" {
		dsn = fmt.Sprintf("%s.db", cc.DBName)
	}
	if dsn == ":memory:" {
		// pooled connections must see the same in-memory database
		dsn = "file::memory:?cache=shared"
	}

	sqlDB, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}
	return sqlDB, bun.NewDB(sqlDB, sqlitedialect.New()), nil
}

func (d *DB) configureConnectionPool(sqlDB *sql.DB) {
	cc := &d.config.Connection
	if cc.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cc.MaxIdleConns)
	}
	if cc.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cc.MaxOpenConns)
	}
	if lifetime := cc.ConnMaxLifetime.Std(); lifetime > 0 {
		sqlDB.SetConnMaxLifetime(lifetime)
	}
	if idleTime := cc.ConnMaxIdleTime.Std(); idleTime > 0 {
		sqlDB.SetConnMaxIdleTime(idleTime)
	}
}
