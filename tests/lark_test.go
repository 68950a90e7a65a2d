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

package tests

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/uptrace/bun"

	"github.com/tomoncle/lark"
	"github.com/tomoncle/lark/database"
	"github.com/tomoncle/lark/repository"
	"github.com/tomoncle/lark/transform"
	"github.com/tomoncle/lark/types"
)

// UserStatus is the activation state stored on the users table.
type UserStatus int

const (
	StatusInactive UserStatus = iota
	StatusActive
)

var _ types.BaseEnum = StatusActive

func (s UserStatus) IsValid() bool {
	return s == StatusInactive || s == StatusActive
}

func (s UserStatus) Number() int { return int(s) }

func (s UserStatus) Name() string {
	switch s {
	case StatusInactive:
		return "inactive"
	case StatusActive:
		return "active"
	}
	return types.IllegalName
}

func (s UserStatus) String() string { return s.Name() }

func (s UserStatus) Desc() string {
	switch s {
	case StatusInactive:
		return "account disabled"
	case StatusActive:
		return "account enabled"
	}
	return types.IllegalDesc
}

type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`
	types.SoftDeleteModel

	Username string           `bun:"username,notnull,unique" json:"username"`
	Email    string           `bun:"email,unique" json:"email"`
	Status   UserStatus       `bun:"status,notnull,default:0" json:"status"`
	Attrs    types.JsonObject `bun:"attrs,type:jsonb" json:"attrs"`
}

type Order struct {
	bun.BaseModel `bun:"table:orders,alias:o"`
	types.SoftDeleteModel

	OrderNo string          `bun:"order_no,notnull,unique" json:"order_no"`
	UserID  int64           `bun:"user_id,notnull" json:"user_id"`
	Amount  float64         `bun:"amount" json:"amount"`
	Detail  types.JsonArray `bun:"detail,type:jsonb" json:"detail"`
}

func TestMain(m *testing.M) {
	seedDir, err := os.MkdirTemp("", "lark-seed-")
	if err != nil {
		panic(err)
	}
	common := filepath.Join(seedDir, "common")
	if err := os.MkdirAll(common, 0o755); err != nil {
		panic(err)
	}
	seed := "-- bootstrap account\n" +
		"INSERT INTO users (username, email, status, attrs)\n" +
		"VALUES ('seed-admin', 'admin@lark.dev', 1, '{\"role\":\"admin\"}');\n"
	if err := os.WriteFile(filepath.Join(common, "01_users.sql"), []byte(seed), 0o644); err != nil {
		panic(err)
	}

	d := database.Default()
	if err := d.Register("users", (*User)(nil), nil); err != nil {
		panic(err)
	}
	if err := d.Register("orders", (*Order)(nil), nil); err != nil {
		panic(err)
	}

	cfg := database.DefaultConfig()
	cfg.Connection.Path = "file:lark_e2e?mode=memory&cache=shared"
	cfg.SoftDelete.Enabled = true
	cfg.Provision.AutoCreate = true
	cfg.Seed.AutoSeed = true
	cfg.Seed.Dir = seedDir

	if _, err := database.Init(cfg); err != nil {
		panic(err)
	}

	code := m.Run()

	_ = database.Close()
	_ = os.RemoveAll(seedDir)
	os.Exit(code)
}

func TestSeededAccount(t *testing.T) {
	svc := lark.NewService[User]()
	ctx := context.Background()

	users, err := svc.Find(ctx, "username", "seed-admin", false)
	if err != nil {
		t.Fatalf("find seeded account: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("expected the seeded account, got %d rows", len(users))
	}

	admin := users[0]
	if admin.Status != StatusActive || !admin.Status.IsValid() {
		t.Fatalf("expected active status, got %v", admin.Status)
	}
	if role, ok := admin.Attrs["role"]; !ok || role != "admin" {
		t.Fatalf("expected admin role in attrs, got %v", admin.Attrs)
	}
}

func TestServiceLifecycle(t *testing.T) {
	svc := lark.NewService[User]()
	ctx := context.Background()

	created, err := svc.Save(ctx, &User{
		Username: "lifecycle",
		Email:    "lifecycle@lark.dev",
		Status:   StatusActive,
		Attrs:    types.JsonObject{"team": "core"},
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if created.ID <= 0 {
		t.Fatalf("expected assigned id, got %d", created.ID)
	}

	if rows, err := svc.Update(ctx, created.ID, repository.Field("email", "renamed@lark.dev")); err != nil || rows != 1 {
		t.Fatalf("update: rows=%d err=%v", rows, err)
	}
	got, err := svc.Get(ctx, created.ID, false)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Email != "renamed@lark.dev" {
		t.Fatalf("expected updated email, got %s", got.Email)
	}

	if rows, err := svc.Delete(ctx, created.ID); err != nil || rows != 1 {
		t.Fatalf("delete: rows=%d err=%v", rows, err)
	}
	if got, err := svc.Get(ctx, created.ID, false); err != nil || got != nil {
		t.Fatalf("expected hidden record, got %v err=%v", got, err)
	}
	hidden, err := svc.Get(ctx, created.ID, true)
	if err != nil || hidden == nil || !hidden.Deleted() {
		t.Fatalf("expected stamped record, got %v err=%v", hidden, err)
	}

	if exists, err := svc.Exists(ctx, created.ID); err != nil || exists {
		t.Fatalf("deleted record must not exist: exists=%v err=%v", exists, err)
	}

	if rows, err := svc.Restore(ctx, created.ID); err != nil || rows != 1 {
		t.Fatalf("restore: rows=%d err=%v", rows, err)
	}
	if exists, err := svc.Exists(ctx, created.ID); err != nil || !exists {
		t.Fatalf("restored record must exist: exists=%v err=%v", exists, err)
	}
}

func TestDuplicateUsernameRejected(t *testing.T) {
	svc := lark.NewService[User]()
	ctx := context.Background()

	if _, err := svc.Save(ctx, &User{Username: "taken", Email: "a@lark.dev"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	_, err := svc.Save(ctx, &User{Username: "taken", Email: "b@lark.dev"})
	if !errors.Is(err, database.ErrConstraintViolation) {
		t.Fatalf("expected constraint violation, got %v", err)
	}
}

func TestTransactionWithSavepoints(t *testing.T) {
	svc := lark.NewService[User]()
	d := database.Default()
	ctx := context.Background()

	err := d.Transaction(ctx, func(ctx context.Context, tx bun.IDB) error {
		if err := svc.SaveWithTx(ctx, tx, &User{Username: "tx-keep", Email: "keep@lark.dev"}); err != nil {
			return err
		}

		// a failing step inside a savepoint is undone without poisoning the unit
		stepErr := d.Savepoint(ctx, "optional_step", func(ctx context.Context, tx bun.IDB) error {
			if err := svc.SaveWithTx(ctx, tx, &User{Username: "tx-drop", Email: "drop@lark.dev"}); err != nil {
				return err
			}
			return errors.New("step rejected")
		})
		if stepErr == nil {
			return errors.New("expected the savepoint step to fail")
		}

		return svc.SaveWithTx(ctx, tx, &User{Username: "tx-keep-2", Email: "keep2@lark.dev"})
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}

	for _, username := range []string{"tx-keep", "tx-keep-2"} {
		found, err := svc.Find(ctx, "username", username, false)
		if err != nil || len(found) != 1 {
			t.Fatalf("expected %s to be committed: %v err=%v", username, found, err)
		}
	}
	dropped, err := svc.Find(ctx, "username", "tx-drop", true)
	if err != nil || len(dropped) != 0 {
		t.Fatalf("expected tx-drop to be rolled back, got %v err=%v", dropped, err)
	}
}

func TestOrderPagination(t *testing.T) {
	users := lark.NewService[User]()
	orders := lark.NewService[Order]()
	ctx := context.Background()

	buyer, err := users.Save(ctx, &User{Username: "buyer", Email: "buyer@lark.dev", Status: StatusActive})
	if err != nil {
		t.Fatalf("save buyer: %v", err)
	}

	var batch []*Order
	for i := 1; i <= 5; i++ {
		batch = append(batch, &Order{
			OrderNo: fmt.Sprintf("ord-%03d", i),
			UserID:  buyer.ID,
			Amount:  float64(i) * 10,
			Detail:  types.JsonArray{{"sku": fmt.Sprintf("sku-%d", i), "qty": 1}},
		})
	}
	if _, err := orders.SaveAll(ctx, batch); err != nil {
		t.Fatalf("save orders: %v", err)
	}

	page, err := orders.Page(ctx, types.NewPageRequest(2, 2,
		types.NewQueryFilter("user_id = ?", buyer.ID), []string{"id ASC"}))
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	if page.Total != 5 || len(page.Items) != 2 {
		t.Fatalf("expected total 5 with 2 items, got %d and %d", page.Total, len(page.Items))
	}
	if page.Items[0].OrderNo != "ord-003" {
		t.Fatalf("unexpected page window: %+v", page.Items)
	}
	if len(page.Items[0].Detail) != 1 || page.Items[0].Detail[0]["sku"] != "sku-3" {
		t.Fatalf("unexpected order detail: %+v", page.Items[0].Detail)
	}
}

func TestSaveOrUpdate(t *testing.T) {
	svc := lark.NewService[User]()
	ctx := context.Background()

	if _, err := svc.Save(ctx, &User{Username: "upserted", Email: "v1@lark.dev"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	err := svc.SaveOrUpdate(ctx, []string{"email"}, []string{"username"},
		&User{Username: "upserted", Email: "v2@lark.dev"})
	if err != nil {
		t.Fatalf("save or update: %v", err)
	}

	found, err := svc.Find(ctx, "username", "upserted", false)
	if err != nil || len(found) != 1 {
		t.Fatalf("expected one upserted row, got %v err=%v", found, err)
	}
	if found[0].Email != "v2@lark.dev" {
		t.Fatalf("expected updated email, got %s", found[0].Email)
	}
}

func TestRecordInterchange(t *testing.T) {
	svc := lark.NewService[User]()
	ctx := context.Background()

	created, err := svc.Save(ctx, &User{
		Username: "interchange",
		Email:    "io@lark.dev",
		Status:   StatusActive,
		Attrs:    types.JsonObject{"lang": "go"},
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	data, err := svc.ToJSON(created)
	if err != nil {
		t.Fatalf("to json: %v", err)
	}
	var clone User
	if err := transform.FromJSON(data, &clone); err != nil {
		t.Fatalf("from json: %v", err)
	}
	if clone.Username != created.Username || clone.ID != created.ID {
		t.Fatalf("round trip mismatch: %+v vs %+v", clone, created)
	}
	if !clone.CreatedAt.Equal(created.CreatedAt) {
		t.Fatalf("creation timestamp drifted: %v vs %v", clone.CreatedAt, created.CreatedAt)
	}

	cols, err := svc.Columns(ctx)
	if err != nil {
		t.Fatalf("columns: %v", err)
	}
	seen := map[string]bool{}
	for _, c := range cols {
		seen[c] = true
	}
	for _, want := range []string{"id", "username", "status", "attrs", "deleted_at"} {
		if !seen[want] {
			t.Fatalf("expected live column %s in %v", want, cols)
		}
	}
}
