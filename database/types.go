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
	"strings"
	"time"

	"github.com/uptrace/bun"
	"gopkg.in/yaml.v3"

	"github.com/tomoncle/lark/utils"
)

// Duration wraps time.Duration so configuration files can use values like
// "30s" or "5m". Bare numbers are interpreted as seconds.
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(v)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err == nil {
		*d = Duration(time.Duration(n) * time.Second)
		return nil
	}
	return fmt.Errorf("invalid duration value at line %d", value.Line)
}

// UnmarshalJSON implements json.Unmarshaler with the same forms as YAML.
func (d *Duration) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if v, err := time.ParseDuration(s); err == nil {
		*d = Duration(v)
		return nil
	}
	var n int64
	if _, err := fmt.Sscanf(s, "%d", &n); err == nil {
		*d = Duration(time.Duration(n) * time.Second)
		return nil
	}
	return fmt.Errorf("invalid duration value %q", s)
}

// ConnectionConfig describes how to connect to a database and tune its pool.
type ConnectionConfig struct {
	Type                string   `json:"type" yaml:"type"` // mysql, postgres, sqlite
	Host                string   `json:"host" yaml:"host"`
	Port                int      `json:"port" yaml:"port"`
	Username            string   `json:"username" yaml:"username"`
	Password            string   `json:"password" yaml:"password"`
	DBName              string   `json:"dbname" yaml:"dbname"`
	Path                string   `json:"path" yaml:"path"` // sqlite file path, or ":memory:"
	SSLMode             string   `json:"sslmode" yaml:"sslmode"`
	Charset             string   `json:"charset" yaml:"charset"`
	MaxIdleConns        int      `json:"max_idle_conns" yaml:"max_idle_conns"`
	MaxOpenConns        int      `json:"max_open_conns" yaml:"max_open_conns"`
	ConnMaxLifetime     Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	ConnMaxIdleTime     Duration `json:"conn_max_idle_time" yaml:"conn_max_idle_time"`
	ConnectTimeout      Duration `json:"connect_timeout" yaml:"connect_timeout"`
	ReadTimeout         Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout        Duration `json:"write_timeout" yaml:"write_timeout"`
	EnableReconnect     bool     `json:"enable_reconnect" yaml:"enable_reconnect"`
	ReconnectInterval   Duration `json:"reconnect_interval" yaml:"reconnect_interval"`
	MaxReconnectTries   int      `json:"max_reconnect_tries" yaml:"max_reconnect_tries"`
	HealthCheckInterval Duration `json:"health_check_interval" yaml:"health_check_interval"`
	EnableQueryLog      bool     `json:"enable_query_log" yaml:"enable_query_log"`
	SlowQueryTime       Duration `json:"slow_query_time" yaml:"slow_query_time"`
}

// SoftDeleteConfig sets the handle-wide default for logical deletion.
// Repositories inherit it unless constructed with explicit options.
type SoftDeleteConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Field   string `json:"field" yaml:"field"`
}

// ProvisionConfig controls table creation.
type ProvisionConfig struct {
	AutoCreate      bool   `json:"auto_create" yaml:"auto_create"`             // create tables during Init
	WithForeignKeys bool   `json:"with_foreign_keys" yaml:"with_foreign_keys"` // emit rel-tag constraints in CREATE TABLE
	ForeignKeyFile  string `json:"foreign_key_file" yaml:"foreign_key_file"`   // optional YAML constraint pass
}

// SeedConfig controls SQL seed-file execution.
type SeedConfig struct {
	AutoSeed    bool   `json:"auto_seed" yaml:"auto_seed"`
	Dir         string `json:"dir" yaml:"dir"`
	Environment string `json:"environment" yaml:"environment"`
}

// Config aggregates connection, soft-delete, provisioning, and seed settings.
type Config struct {
	Connection ConnectionConfig `json:"connection" yaml:"connection"`
	SoftDelete SoftDeleteConfig `json:"soft_delete" yaml:"soft_delete"`
	Provision  ProvisionConfig  `json:"provision" yaml:"provision"`
	Seed       SeedConfig       `json:"seed" yaml:"seed"`
}

// DefaultConnectionConfig returns a connection config with sensible
// defaults: an in-memory SQLite database unless overridden.
func DefaultConnectionConfig() *ConnectionConfig {
	return &ConnectionConfig{
		Type:                "sqlite",
		Path:                ":memory:",
		MaxIdleConns:        10,
		MaxOpenConns:        100,
		ConnMaxLifetime:     Duration(time.Hour),
		ConnMaxIdleTime:     Duration(time.Minute * 30),
		ConnectTimeout:      Duration(time.Second * 10),
		ReadTimeout:         Duration(time.Second * 30),
		WriteTimeout:        Duration(time.Second * 30),
		EnableReconnect:     true,
		ReconnectInterval:   Duration(time.Second * 5),
		MaxReconnectTries:   3,
		HealthCheckInterval: Duration(time.Minute * 5),
		EnableQueryLog:      false,
		SlowQueryTime:       Duration(time.Second * 2),
	}
}

// DefaultConfig returns a full config: in-memory SQLite with logical
// deletion enabled on the conventional deleted_at column.
func DefaultConfig() *Config {
	return &Config{
		Connection: *DefaultConnectionConfig(),
		SoftDelete: SoftDeleteConfig{Enabled: true, Field: "deleted_at"},
	}
}

// LoadConfig reads a YAML config file over the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// overrideFromEnv applies DB_* environment variables on top of the config.
func (c *Config) overrideFromEnv() {
	cc := &c.Connection
	cc.Type = utils.EnvDefaultString("DB_TYPE", cc.Type)
	cc.Host = utils.EnvDefaultString("DB_HOST", cc.Host)
	cc.Port = utils.EnvDefaultInt("DB_PORT", cc.Port)
	cc.Username = utils.EnvDefaultString("DB_USERNAME", cc.Username)
	cc.Password = utils.EnvDefaultString("DB_PASSWORD", cc.Password)
	cc.DBName = utils.EnvDefaultString("DB_NAME", cc.DBName)
	cc.Path = utils.EnvDefaultString("DB_PATH", cc.Path)
	cc.SSLMode = utils.EnvDefaultString("DB_SSLMODE", cc.SSLMode)
	cc.MaxIdleConns = utils.EnvDefaultInt("DB_MAX_IDLE_CONNS", cc.MaxIdleConns)
	cc.MaxOpenConns = utils.EnvDefaultInt("DB_MAX_OPEN_CONNS", cc.MaxOpenConns)
	cc.EnableReconnect = utils.EnvDefaultBool("DB_ENABLE_RECONNECT", cc.EnableReconnect)
	cc.EnableQueryLog = utils.EnvDefaultBool("DB_ENABLE_QUERY_LOG", cc.EnableQueryLog)
	if v := os.Getenv("DB_CONN_MAX_LIFETIME"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cc.ConnMaxLifetime = Duration(d)
		}
	}
	if v := os.Getenv("DB_RECONNECT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cc.ReconnectInterval = Duration(d)
		}
	}
	c.SoftDelete.Enabled = utils.EnvDefaultBool("DB_SOFT_DELETE", c.SoftDelete.Enabled)
}

// validate normalizes the engine type and fills derivable defaults.
func (c *Config) validate() error {
	c.Connection.Type = strings.ToLower(strings.TrimSpace(c.Connection.Type))
	if c.Connection.Type == "postgresql" {
		c.Connection.Type = "postgres"
	}
	switch c.Connection.Type {
	case "mysql", "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database type: %s", c.Connection.Type)
	}
	if c.Connection.Type == "sqlite" && c.Connection.Path == "" && c.Connection.DBName == "" {
		return fmt.Errorf("sqlite requires a path or dbname")
	}
	if c.SoftDelete.Field == "" {
		c.SoftDelete.Field = "deleted_at"
	}
	return nil
}

// HealthStatus holds the result of a health check against the database.
type HealthStatus struct {
	Healthy       bool          `json:"healthy"`
	Connected     bool          `json:"connected"`
	ResponseTime  time.Duration `json:"response_time"`
	ActiveConns   int           `json:"active_conns"`
	IdleConns     int           `json:"idle_conns"`
	MaxOpenConns  int           `json:"max_open_conns"`
	LastError     string        `json:"last_error,omitempty"`
	LastCheckTime time.Time     `json:"last_check_time"`
}

// DBStats mirrors database/sql stats returned by the handle.
type DBStats struct {
	MaxOpenConns      int           `json:"max_open_conns"`
	OpenConns         int           `json:"open_conns"`
	InUse             int           `json:"in_use"`
	Idle              int           `json:"idle"`
	WaitCount         int64         `json:"wait_count"`
	WaitDuration      time.Duration `json:"wait_duration"`
	MaxIdleClosed     int64         `json:"max_idle_closed"`
	MaxIdleTimeClosed int64         `json:"max_idle_time_closed"`
	MaxLifetimeClosed int64         `json:"max_lifetime_closed"`
}

// AbstractDatabaseManager defines the lifecycle operations of a handle:
// connecting, provisioning registered tables, seeding, and reporting health.
type AbstractDatabaseManager interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Reconnect(ctx context.Context) error
	Ping(ctx context.Context) error
	HealthCheck(ctx context.Context) *HealthStatus
	GetDB() *bun.DB
	GetSQLDB() *sql.DB
	CreateTables(ctx context.Context) error
	SeedData(ctx context.Context) error
	GetStats() *DBStats
	SetLogger(logger Logger)
}

// AbstractDatabaseConfigProvider exposes the stored configuration.
type AbstractDatabaseConfigProvider interface {
	Config() *Config
}
