// Copyright 2025 CanvasFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package canvas

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresStore(db), mock
}

func entityArgs() []driver.Value {
	return []driver.Value{
		sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
		sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
	}
}

func TestPostgresStore_CreateEntitiesBatch(t *testing.T) {
	tests := []struct {
		name        string
		entities    func() []*Entity
		setupMock   func(mock sqlmock.Sqlmock)
		expectError error
	}{
		{
			name:      "Empty batch - no transaction",
			entities:  func() []*Entity { return nil },
			setupMock: func(mock sqlmock.Sqlmock) {},
		},
		{
			name: "Three entities - single transaction",
			entities: func() []*Entity {
				return []*Entity{
					NewEntity("canvas-1", "container", nil),
					NewEntity("canvas-1", "input", map[string]interface{}{"label": "Username"}),
					NewEntity("canvas-1", "button", map[string]interface{}{"label": "Log in"}),
				}
			},
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectPrepare("INSERT INTO canvas_entities")
				for i := 0; i < 3; i++ {
					mock.ExpectExec("INSERT INTO canvas_entities").
						WithArgs(entityArgs()...).
						WillReturnResult(sqlmock.NewResult(1, 1))
				}
				mock.ExpectCommit()
			},
		},
		{
			name: "Second insert fails - rollback",
			entities: func() []*Entity {
				return []*Entity{
					NewEntity("canvas-1", "circle", nil),
					NewEntity("canvas-1", "circle", nil),
				}
			},
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectPrepare("INSERT INTO canvas_entities")
				mock.ExpectExec("INSERT INTO canvas_entities").
					WithArgs(entityArgs()...).
					WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectExec("INSERT INTO canvas_entities").
					WithArgs(entityArgs()...).
					WillReturnError(&pq.Error{Code: "23505"})
				mock.ExpectRollback()
			},
			expectError: ErrDuplicateID,
		},
		{
			name: "Foreign key violation - canvas not found",
			entities: func() []*Entity {
				return []*Entity{NewEntity("ghost", "circle", nil)}
			},
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectPrepare("INSERT INTO canvas_entities")
				mock.ExpectExec("INSERT INTO canvas_entities").
					WithArgs(entityArgs()...).
					WillReturnError(&pq.Error{Code: "23503", Constraint: "canvas_entities_canvas_id_fkey"})
				mock.ExpectRollback()
			},
			expectError: ErrNotFound,
		},
		{
			name: "Invalid entity - rejected before the transaction",
			entities: func() []*Entity {
				return []*Entity{NewEntity("canvas-1", "circle", nil), {ID: "x"}}
			},
			setupMock:   func(mock sqlmock.Sqlmock) {},
			expectError: ErrInvalidEntity,
		},
		{
			name: "Begin fails",
			entities: func() []*Entity {
				return []*Entity{NewEntity("canvas-1", "circle", nil)}
			},
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin().WillReturnError(errors.New("connection refused"))
			},
			expectError: errors.New("failed to begin transaction"),
		},
		{
			name: "Commit fails",
			entities: func() []*Entity {
				return []*Entity{NewEntity("canvas-1", "circle", nil)}
			},
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectPrepare("INSERT INTO canvas_entities")
				mock.ExpectExec("INSERT INTO canvas_entities").
					WithArgs(entityArgs()...).
					WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectCommit().WillReturnError(errors.New("serialization failure"))
			},
			expectError: errors.New("failed to commit batch"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStore(t)
			tt.setupMock(mock)

			err := store.CreateEntitiesBatch(context.Background(), tt.entities())

			switch {
			case tt.expectError == nil:
				assert.NoError(t, err)
			case errors.Is(tt.expectError, ErrDuplicateID), errors.Is(tt.expectError, ErrNotFound), errors.Is(tt.expectError, ErrInvalidEntity):
				assert.ErrorIs(t, err, tt.expectError)
			default:
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectError.Error())
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresStore_GetCanvas(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT id, name, width, height, created_at FROM canvases").
		WithArgs("canvas-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "width", "height", "created_at"}).
			AddRow("canvas-1", "Board", 1920.0, 1080.0, created))
	mock.ExpectQuery("SELECT id, name, width, height, created_at FROM canvases").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	c, err := store.GetCanvas(context.Background(), "canvas-1")
	require.NoError(t, err)
	assert.Equal(t, "Board", c.Name)
	assert.Equal(t, 1920.0, c.Width)

	_, err = store.GetCanvas(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetAndList(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	cols := []string{"id", "canvas_id", "kind", "attrs", "created_at", "updated_at"}

	mock.ExpectQuery("SELECT (.+) FROM canvas_entities WHERE canvas_id = \\$1 AND id = \\$2").
		WithArgs("canvas-1", "e1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("e1", "canvas-1", "circle", []byte(`{"x":100,"color":"#FF0000"}`), now, now))
	mock.ExpectQuery("SELECT (.+) FROM canvas_entities WHERE canvas_id = \\$1 ORDER BY seq").
		WithArgs("canvas-1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("e1", "canvas-1", "circle", []byte(`{}`), now, now).
			AddRow("e2", "canvas-1", "text", []byte(`{"text":"hi"}`), now, now))

	e, err := store.GetEntity(context.Background(), "canvas-1", "e1")
	require.NoError(t, err)
	assert.Equal(t, "circle", e.Kind)
	assert.Equal(t, float64(100), e.Attrs["x"])

	list, err := store.ListEntities(context.Background(), "canvas-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "e2", list[1].ID)
	assert.Equal(t, "hi", list[1].Attrs["text"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateEntity(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery("UPDATE canvas_entities SET attrs").
		WithArgs("canvas-1", "e1", []byte(`{"x":300}`), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "canvas_id", "kind", "attrs", "created_at", "updated_at"}).
			AddRow("e1", "canvas-1", "circle", []byte(`{"x":300,"y":100}`), now, now))
	mock.ExpectQuery("UPDATE canvas_entities SET attrs").
		WithArgs("canvas-1", "gone", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnError(sql.ErrNoRows)

	e, err := store.UpdateEntity(context.Background(), "canvas-1", "e1", map[string]interface{}{"x": 300})
	require.NoError(t, err)
	assert.Equal(t, float64(300), e.Attrs["x"])
	assert.Equal(t, float64(100), e.Attrs["y"])

	_, err = store.UpdateEntity(context.Background(), "canvas-1", "gone", map[string]interface{}{"x": 1})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteEntity(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM canvas_entities").
		WithArgs("canvas-1", "e1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM canvas_entities").
		WithArgs("canvas-1", "e1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.DeleteEntity(context.Background(), "canvas-1", "e1"))
	assert.ErrorIs(t, store.DeleteEntity(context.Background(), "canvas-1", "e1"), ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateEntity(t *testing.T) {
	store, mock := newMockStore(t)
	e := NewEntity("canvas-1", "circle", map[string]interface{}{"x": 1.0})

	mock.ExpectExec("INSERT INTO canvas_entities").
		WithArgs(e.ID, "canvas-1", "circle", []byte(`{"x":1}`), e.CreatedAt, e.UpdatedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, store.CreateEntity(context.Background(), e))
	assert.ErrorIs(t, store.CreateEntity(context.Background(), &Entity{}), ErrInvalidEntity)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_EnsureSchemaAndCanvas(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS canvases").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO canvases").
		WithArgs("canvas-1", "Board", 800.0, 600.0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, store.CreateCanvas(context.Background(), &Canvas{ID: "canvas-1", Name: "Board", Width: 800, Height: 600}))
	assert.Error(t, store.CreateCanvas(context.Background(), &Canvas{}))
	assert.NoError(t, mock.ExpectationsWereMet())
}
