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
	"os"
	"path/filepath"
	"testing"
)

func TestForeignKeyConstraintSQL(t *testing.T) {
	fk := ForeignKeyConstraint{
		Table:           "orders",
		Column:          "user_id",
		ReferenceTable:  "users",
		ReferenceColumn: "id",
		OnDelete:        "CASCADE",
	}
	if name := fk.GenerateConstraintName(); name != "fk_orders_user_id" {
		t.Fatalf("unexpected derived name: %s", name)
	}
	want := "ALTER TABLE orders ADD CONSTRAINT fk_orders_user_id FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE"
	if sql := fk.GenerateSQL(); sql != want {
		t.Fatalf("unexpected SQL:\n got %s\nwant %s", sql, want)
	}

	fk.ConstraintName = "fk_custom"
	if name := fk.GenerateConstraintName(); name != "fk_custom" {
		t.Fatalf("explicit name must win, got %s", name)
	}
}

func TestForeignKeyValidation(t *testing.T) {
	manager := NewForeignKeyManager(nil,
		ForeignKeyConstraint{
			Table: "orders", Column: "user_id",
			ReferenceTable: "users", ReferenceColumn: "id",
			OnDelete: "cascade", OnUpdate: "no action",
		},
		ForeignKeyConstraint{
			Table: "orders", Column: "",
			ReferenceTable: "", ReferenceColumn: "id",
			OnDelete: "EXPLODE",
		},
	)

	errs := manager.ValidateConstraints()
	if len(errs) != 3 {
		t.Fatalf("expected 3 validation errors, got %d: %v", len(errs), errs)
	}

	if got := manager.GetConstraintsByTable("ORDERS"); len(got) != 2 {
		t.Fatalf("expected case-insensitive table match, got %d", len(got))
	}
	if got := manager.GetConstraintsByTable("users"); len(got) != 0 {
		t.Fatalf("expected no constraints for users, got %d", len(got))
	}
}

func TestForeignKeyManagerFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fk.yaml")
	content := `constraints:
  - table: orders
    column: user_id
    reference_table: users
    reference_column: id
    on_delete: CASCADE
  - table: order_items
    column: order_id
    reference_table: orders
    reference_column: id
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	manager, err := NewForeignKeyManagerFromFile(nil, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	all := manager.ListAllConstraints()
	if len(all) != 2 {
		t.Fatalf("expected 2 constraints, got %d", len(all))
	}
	if all[0].OnDelete != "CASCADE" || all[1].Table != "order_items" {
		t.Fatalf("unexpected constraints: %+v", all)
	}
	if errs := manager.ValidateConstraints(); len(errs) != 0 {
		t.Fatalf("expected valid constraints, got %v", errs)
	}

	if _, err := NewForeignKeyManagerFromFile(nil, filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestSplitSQLStatements(t *testing.T) {
	script := `-- header comment
CREATE TABLE a (id INTEGER);

INSERT INTO a (id)
VALUES (1);
-- trailing comment
UPDATE a SET id = 2 WHERE id = 1`

	statements := splitSQLStatements(script)
	if len(statements) != 3 {
		t.Fatalf("expected 3 statements, got %d: %v", len(statements), statements)
	}
	if statements[1] != "INSERT INTO a (id) VALUES (1);" {
		t.Fatalf("expected joined multi-line statement, got %q", statements[1])
	}
	if statements[2] != "UPDATE a SET id = 2 WHERE id = 1" {
		t.Fatalf("expected trailing statement without semicolon, got %q", statements[2])
	}
}

func TestParseSeedOrder(t *testing.T) {
	cases := []struct {
		name string
		want int
	}{
		{"01_init.sql", 1},
		{"42_data.sql", 42},
		{"init.sql", 999},
		{"_10_data.sql", 999},
	}
	for _, c := range cases {
		if got := parseSeedOrder(c.name); got != c.want {
			t.Fatalf("parseSeedOrder(%q) = %d, want %d", c.name, got, c.want)
		}
	}
}
