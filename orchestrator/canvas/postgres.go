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
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS canvases (
	id VARCHAR(64) PRIMARY KEY,
	name VARCHAR(255) NOT NULL DEFAULT '',
	width DOUBLE PRECISION NOT NULL DEFAULT 0,
	height DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS canvas_entities (
	seq BIGSERIAL,
	id VARCHAR(64) PRIMARY KEY,
	canvas_id VARCHAR(64) NOT NULL REFERENCES canvases(id) ON DELETE CASCADE,
	kind VARCHAR(64) NOT NULL,
	attrs JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_canvas_entities_canvas ON canvas_entities(canvas_id, seq);
`

const (
	insertEntitySQL = `INSERT INTO canvas_entities (id, canvas_id, kind, attrs, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	selectEntitySQL = `SELECT id, canvas_id, kind, attrs, created_at, updated_at
		FROM canvas_entities WHERE canvas_id = $1 AND id = $2`
	listEntitiesSQL = `SELECT id, canvas_id, kind, attrs, created_at, updated_at
		FROM canvas_entities WHERE canvas_id = $1 ORDER BY seq`
	updateEntitySQL = `UPDATE canvas_entities SET attrs = attrs || $3::jsonb, updated_at = $4
		WHERE canvas_id = $1 AND id = $2
		RETURNING id, canvas_id, kind, attrs, created_at, updated_at`
	deleteEntitySQL = `DELETE FROM canvas_entities WHERE canvas_id = $1 AND id = $2`
	selectCanvasSQL = `SELECT id, name, width, height, created_at FROM canvases WHERE id = $1`
	upsertCanvasSQL = `INSERT INTO canvases (id, name, width, height, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, width = EXCLUDED.width, height = EXCLUDED.height`
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// PostgresStore persists canvases and entities in PostgreSQL.
type PostgresStore struct {
	db     *sql.DB
	logger *log.Logger
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: log.New(os.Stdout, "[CanvasStore] ", log.LstdFlags),
	}
}

// OpenPostgres opens and pings a connection pool for databaseURL.
func OpenPostgres(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the tables if they don't exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create canvas tables: %w", err)
	}
	return nil
}

// CreateCanvas inserts or updates a canvas.
func (s *PostgresStore) CreateCanvas(ctx context.Context, c *Canvas) error {
	if c == nil || c.ID == "" {
		return fmt.Errorf("canvas id is required: %w", ErrInvalidEntity)
	}
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	if _, err := s.db.ExecContext(ctx, upsertCanvasSQL, c.ID, c.Name, c.Width, c.Height, createdAt); err != nil {
		return fmt.Errorf("failed to save canvas %s: %w", c.ID, err)
	}
	return nil
}

// GetCanvas implements Store.
func (s *PostgresStore) GetCanvas(ctx context.Context, canvasID string) (*Canvas, error) {
	var c Canvas
	err := s.db.QueryRowContext(ctx, selectCanvasSQL, canvasID).
		Scan(&c.ID, &c.Name, &c.Width, &c.Height, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("canvas %s: %w", canvasID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load canvas %s: %w", canvasID, err)
	}
	return &c, nil
}

// CreateEntity implements Store.
func (s *PostgresStore) CreateEntity(ctx context.Context, entity *Entity) error {
	if err := entity.Validate(); err != nil {
		return err
	}
	attrs, err := json.Marshal(entity.Attrs)
	if err != nil {
		return fmt.Errorf("failed to encode attrs: %w", err)
	}
	_, err = s.db.ExecContext(ctx, insertEntitySQL,
		entity.ID, entity.CanvasID, entity.Kind, attrs, entity.CreatedAt, entity.UpdatedAt)
	return mapWriteError(entity, err)
}

// CreateEntitiesBatch implements Store with one transaction and a prepared
// insert. Any failure rolls the whole batch back.
func (s *PostgresStore) CreateEntitiesBatch(ctx context.Context, entities []*Entity) error {
	if len(entities) == 0 {
		return nil
	}
	for i, e := range entities {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("entity %d: %w", i, err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, insertEntitySQL)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() {
		_ = stmt.Close()
	}()

	for i, e := range entities {
		attrs, err := json.Marshal(e.Attrs)
		if err != nil {
			return fmt.Errorf("entity %d: failed to encode attrs: %w", i, err)
		}
		if _, err := stmt.ExecContext(ctx, e.ID, e.CanvasID, e.Kind, attrs, e.CreatedAt, e.UpdatedAt); err != nil {
			s.logger.Printf("Rolling back batch of %d entities at index %d: %v", len(entities), i, err)
			return fmt.Errorf("entity %d: %w", i, mapWriteError(e, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// UpdateEntity implements Store.
func (s *PostgresStore) UpdateEntity(ctx context.Context, canvasID, entityID string, attrs map[string]interface{}) (*Entity, error) {
	patch, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode attrs: %w", err)
	}
	row := s.db.QueryRowContext(ctx, updateEntitySQL, canvasID, entityID, patch, time.Now().UTC())
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("entity %s: %w", entityID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update entity %s: %w", entityID, err)
	}
	return e, nil
}

// DeleteEntity implements Store.
func (s *PostgresStore) DeleteEntity(ctx context.Context, canvasID, entityID string) error {
	res, err := s.db.ExecContext(ctx, deleteEntitySQL, canvasID, entityID)
	if err != nil {
		return fmt.Errorf("failed to delete entity %s: %w", entityID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete entity %s: %w", entityID, err)
	}
	if n == 0 {
		return fmt.Errorf("entity %s: %w", entityID, ErrNotFound)
	}
	return nil
}

// GetEntity implements Store.
func (s *PostgresStore) GetEntity(ctx context.Context, canvasID, entityID string) (*Entity, error) {
	e, err := scanEntity(s.db.QueryRowContext(ctx, selectEntitySQL, canvasID, entityID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("entity %s: %w", entityID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load entity %s: %w", entityID, err)
	}
	return e, nil
}

// ListEntities implements Store.
func (s *PostgresStore) ListEntities(ctx context.Context, canvasID string) ([]*Entity, error) {
	rows, err := s.db.QueryContext(ctx, listEntitiesSQL, canvasID)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []*Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntity(row rowScanner) (*Entity, error) {
	var e Entity
	var attrs []byte
	if err := row.Scan(&e.ID, &e.CanvasID, &e.Kind, &attrs, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.Attrs = map[string]interface{}{}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &e.Attrs); err != nil {
			return nil, fmt.Errorf("failed to decode attrs: %w", err)
		}
	}
	return &e, nil
}

func mapWriteError(e *Entity, err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == pgUniqueViolation:
			return fmt.Errorf("%s: %w", e.ID, ErrDuplicateID)
		case pqErr.Code.Class() == "23" && pqErr.Constraint != "":
			return fmt.Errorf("canvas %s: %w", e.CanvasID, ErrNotFound)
		}
	}
	return fmt.Errorf("failed to insert entity %s: %w", e.ID, err)
}

var _ Store = (*PostgresStore)(nil)
