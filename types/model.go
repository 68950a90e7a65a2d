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

package types

import (
	"context"
	"time"

	"github.com/uptrace/bun"
)

// Model is the embeddable base for persisted records: an auto-increment
// integer identity plus creation and modification timestamps. The identity
// is assigned by the database on insert and never rewritten afterwards.
// Concrete records embed bun.BaseModel with an explicit table tag alongside
// this struct:
//
//	type User struct {
//		bun.BaseModel `bun:"table:user,alias:u"`
//		types.Model
//		Username string `bun:"username,notnull,unique" json:"username"`
//	}
type Model struct {
	ID        int64     `bun:"id,pk,autoincrement" json:"id"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at"`
}

var _ bun.BeforeAppendModelHook = (*Model)(nil)

// BeforeAppendModel stamps CreatedAt on insert (unless the caller provided
// one) and refreshes UpdatedAt on every insert and model-based update. The
// hook is promoted to every record that embeds Model.
func (m *Model) BeforeAppendModel(_ context.Context, query bun.Query) error {
	switch query.(type) {
	case *bun.InsertQuery:
		now := time.Now()
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		m.UpdatedAt = now
	case *bun.UpdateQuery:
		m.UpdatedAt = time.Now()
	}
	return nil
}

// SoftDeleteModel extends Model with a logical-deletion marker. A non-nil
// DeletedAt hides the record from default reads while keeping the row in
// the table, so it can be restored later.
type SoftDeleteModel struct {
	Model
	DeletedAt *time.Time `bun:"deleted_at,nullzero" json:"deleted_at,omitempty"`
}

// Deleted reports whether the record carries a logical-deletion mark.
func (m *SoftDeleteModel) Deleted() bool {
	return m.DeletedAt != nil
}
