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
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/uptrace/bun"
	"gopkg.in/yaml.v3"

	"github.com/tomoncle/lark/types"
)

type note struct {
	bun.BaseModel `bun:"table:notes,alias:n"`
	types.Model

	Title string `bun:"title,notnull" json:"title"`
	Body  string `bun:"body" json:"body"`
}

func assertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func assertErrorIs(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected error %v, got %v", target, err)
	}
}

// newTestHandle opens a handle on a uniquely named shared-cache in-memory
// SQLite database, so parallel tests never see each other's tables.
func newTestHandle(t *testing.T, name string, soft bool) *DB {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Connection.Path = "file:" + name + "?mode=memory&cache=shared"
	cfg.SoftDelete.Enabled = soft

	d := New()
	assertNoError(t, d.Configure(cfg))
	assertNoError(t, d.Connect(context.Background()))
	t.Cleanup(func() { _ = d.Disconnect() })
	return d
}

func provisionNotes(t *testing.T, d *DB) {
	t.Helper()
	assertNoError(t, d.Register("notes", (*note)(nil), nil))
	assertNoError(t, d.CreateTables(context.Background()))
}

func TestConnectIsIdempotent(t *testing.T) {
	d := newTestHandle(t, "handle_connect", true)
	ctx := context.Background()

	assertNoError(t, d.Connect(ctx))
	assertNoError(t, d.Connect(ctx))
	if !d.IsConnected() {
		t.Fatal("expected handle to be connected")
	}
	assertNoError(t, d.Ping(ctx))
}

func TestConfigureAfterConnectRejected(t *testing.T) {
	d := newTestHandle(t, "handle_reconfigure", true)

	err := d.Configure(DefaultConfig())
	assertErrorIs(t, err, ErrAlreadyConnected)
}

func TestDisconnectIsSafeAndReturnsHandleToConfigurable(t *testing.T) {
	d := newTestHandle(t, "handle_disconnect", true)

	assertNoError(t, d.Disconnect())
	assertNoError(t, d.Disconnect())

	if d.IsConnected() {
		t.Fatal("expected handle to be disconnected")
	}
	if _, err := d.IDB(); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	assertErrorIs(t, d.Ping(context.Background()), ErrNotConnected)

	// configuration opens up again after disconnect
	assertNoError(t, d.Configure(DefaultConfig()))
}

func TestConnectWithoutConfigureFails(t *testing.T) {
	d := New()
	if err := d.Connect(context.Background()); err == nil {
		t.Fatal("expected an error connecting an unconfigured handle")
	}
}

func TestRegistrySemantics(t *testing.T) {
	d := newTestHandle(t, "handle_registry", true)

	assertNoError(t, d.Register("notes", (*note)(nil), nil))
	assertErrorIs(t, d.Register("notes", (*note)(nil), nil), ErrDuplicateKey)

	if got := d.GetRecordType("notes"); got == nil {
		t.Fatal("expected registered record type")
	}
	if got := d.GetRecordType("missing"); got != nil {
		t.Fatalf("expected nil for unknown key, got %v", got)
	}
	if got := d.GetRepository("missing"); got != nil {
		t.Fatalf("expected nil repository for unknown key, got %v", got)
	}
	if got := d.GetRepository("notes"); got != nil {
		t.Fatalf("expected nil repository for factory-less key, got %v", got)
	}

	keys := d.RegisteredKeys()
	if len(keys) != 1 || keys[0] != "notes" {
		t.Fatalf("unexpected registry keys: %v", keys)
	}
}

func TestGetRepositoryBuildsLazilyOnce(t *testing.T) {
	d := newTestHandle(t, "handle_lazy_repo", true)

	calls := 0
	assertNoError(t, d.Register("notes", (*note)(nil), func(db *DB) interface{} {
		calls++
		return &struct{ n int }{n: calls}
	}))

	first := d.GetRepository("notes")
	second := d.GetRepository("notes")
	if first == nil || first != second {
		t.Fatalf("expected one cached repository instance, got %v and %v", first, second)
	}
	if calls != 1 {
		t.Fatalf("expected factory to run once, ran %d times", calls)
	}
}

func TestCreateTablesRequiresConnection(t *testing.T) {
	d := New()
	assertNoError(t, d.Configure(nil))
	assertNoError(t, d.Register("notes", (*note)(nil), nil))

	assertErrorIs(t, d.CreateTables(context.Background()), ErrNotConnected)
}

func TestCreateTablesIsIdempotentAndInspectable(t *testing.T) {
	d := newTestHandle(t, "handle_create_tables", true)
	ctx := context.Background()
	provisionNotes(t, d)

	assertNoError(t, d.CreateTables(ctx))

	cols, err := d.TableColumns(ctx, "notes")
	assertNoError(t, err)
	want := map[string]bool{"id": true, "title": true, "created_at": true, "updated_at": true}
	seen := map[string]bool{}
	for _, c := range cols {
		seen[c] = true
	}
	for name := range want {
		if !seen[name] {
			t.Fatalf("expected column %s in %v", name, cols)
		}
	}

	ok, err := d.HasTable(ctx, "notes")
	assertNoError(t, err)
	if !ok {
		t.Fatal("expected notes table to exist")
	}
	ok, err = d.HasTable(ctx, "nothing_here")
	assertNoError(t, err)
	if ok {
		t.Fatal("did not expect nothing_here table")
	}
}

func TestSeedDataRunsFilesInOrderAtomically(t *testing.T) {
	dir := t.TempDir()
	common := filepath.Join(dir, "common")
	envDir := filepath.Join(dir, "environments", "test")
	assertNoError(t, os.MkdirAll(common, 0o755))
	assertNoError(t, os.MkdirAll(envDir, 0o755))

	writeFile := func(path, content string) {
		t.Helper()
		assertNoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	writeFile(filepath.Join(common, "01_schema.sql"),
		"-- schema\nCREATE TABLE seeded (id INTEGER PRIMARY KEY, name TEXT);\n")
	writeFile(filepath.Join(common, "02_base.sql"),
		"INSERT INTO seeded (name) VALUES ('common');\n")
	writeFile(filepath.Join(envDir, "01_env.sql"),
		"INSERT INTO seeded (name)\nVALUES ('test-env');\n")

	cfg := DefaultConfig()
	cfg.Connection.Path = "file:handle_seed?mode=memory&cache=shared"
	cfg.Seed.Dir = dir
	cfg.Seed.Environment = "test"

	d := New()
	assertNoError(t, d.Configure(cfg))
	assertNoError(t, d.Connect(context.Background()))
	t.Cleanup(func() { _ = d.Disconnect() })

	ctx := context.Background()
	assertNoError(t, d.SeedData(ctx))

	var names []string
	assertNoError(t, d.GetDB().NewSelect().
		Table("seeded").Column("name").Order("id ASC").Scan(ctx, &names))
	if len(names) != 2 || names[0] != "common" || names[1] != "test-env" {
		t.Fatalf("unexpected seeded rows: %v", names)
	}
}

func TestSeedDataRollsBackOnFailure(t *testing.T) {
	dir := t.TempDir()
	common := filepath.Join(dir, "common")
	assertNoError(t, os.MkdirAll(common, 0o755))
	assertNoError(t, os.WriteFile(filepath.Join(common, "01_schema.sql"),
		[]byte("CREATE TABLE seeded (id INTEGER PRIMARY KEY, name TEXT);\n"), 0o644))
	assertNoError(t, os.WriteFile(filepath.Join(common, "02_broken.sql"),
		[]byte("INSERT INTO nowhere (nope) VALUES (1);\n"), 0o644))

	cfg := DefaultConfig()
	cfg.Connection.Path = "file:handle_seed_fail?mode=memory&cache=shared"
	cfg.Seed.Dir = dir

	d := New()
	assertNoError(t, d.Configure(cfg))
	assertNoError(t, d.Connect(context.Background()))
	t.Cleanup(func() { _ = d.Disconnect() })

	ctx := context.Background()
	if err := d.SeedData(ctx); err == nil {
		t.Fatal("expected seed failure")
	}

	// the transaction must also undo the first file's DDL
	ok, err := d.HasTable(ctx, "seeded")
	assertNoError(t, err)
	if ok {
		t.Fatal("expected seeded table to be rolled back")
	}
}

func TestHealthCheckReportsHealthy(t *testing.T) {
	d := newTestHandle(t, "handle_health", true)

	status := d.HealthCheck(context.Background())
	if !status.Healthy || !status.Connected {
		t.Fatalf("expected healthy status, got %+v", status)
	}
	if status.ResponseTime < 0 || status.LastCheckTime.After(time.Now()) {
		t.Fatalf("implausible status timing: %+v", status)
	}
}

func TestDurationUnmarshalForms(t *testing.T) {
	var cfg struct {
		A Duration `yaml:"a"`
		B Duration `yaml:"b"`
	}
	if err := yaml.Unmarshal([]byte("a: 90s\nb: 2\n"), &cfg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if cfg.A.Std() != 90*time.Second {
		t.Fatalf("expected 90s, got %v", cfg.A.Std())
	}
	if cfg.B.Std() != 2*time.Second {
		t.Fatalf("expected bare number to mean seconds, got %v", cfg.B.Std())
	}
}
