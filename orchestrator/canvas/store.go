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

// Package canvas defines the document store the orchestrator mutates and
// the events it publishes after each mutation.
package canvas

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a canvas or entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidEntity is returned for entities missing an ID, canvas or kind.
	ErrInvalidEntity = errors.New("invalid entity")

	// ErrDuplicateID is returned when an entity ID already exists.
	ErrDuplicateID = errors.New("duplicate entity id")
)

// Canvas is a drawing surface that owns entities.
type Canvas struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Width     float64   `json:"width"`
	Height    float64   `json:"height"`
	CreatedAt time.Time `json:"created_at"`
}

// Entity is one object on a canvas. Kind is the concrete object type
// (circle, rectangle, text, container, input, button, ...); every other
// property lives in Attrs.
type Entity struct {
	ID        string                 `json:"id"`
	CanvasID  string                 `json:"canvas_id"`
	Kind      string                 `json:"kind"`
	Attrs     map[string]interface{} `json:"attrs"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// NewEntity creates an entity with a fresh UUID and timestamps.
func NewEntity(canvasID, kind string, attrs map[string]interface{}) *Entity {
	now := time.Now().UTC()
	if attrs == nil {
		attrs = map[string]interface{}{}
	}
	return &Entity{
		ID:        uuid.NewString(),
		CanvasID:  canvasID,
		Kind:      kind,
		Attrs:     attrs,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Validate checks the fields every store requires.
func (e *Entity) Validate() error {
	switch {
	case e == nil:
		return ErrInvalidEntity
	case e.ID == "":
		return errors.Join(ErrInvalidEntity, errors.New("id is required"))
	case e.CanvasID == "":
		return errors.Join(ErrInvalidEntity, errors.New("canvas_id is required"))
	case e.Kind == "":
		return errors.Join(ErrInvalidEntity, errors.New("kind is required"))
	}
	return nil
}

// Clone returns a copy whose Attrs map can be modified independently.
func (e *Entity) Clone() *Entity {
	c := *e
	c.Attrs = copyAttrs(e.Attrs)
	return &c
}

// Float returns a numeric attribute, reporting whether it was present.
func (e *Entity) Float(key string) (float64, bool) {
	switch v := e.Attrs[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func copyAttrs(attrs map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}

// Store is the document store behind a canvas. Implementations must be
// safe for concurrent use.
type Store interface {
	// GetCanvas returns ErrNotFound when the canvas does not exist.
	GetCanvas(ctx context.Context, canvasID string) (*Canvas, error)

	CreateEntity(ctx context.Context, entity *Entity) error

	// CreateEntitiesBatch persists all entities or none of them.
	CreateEntitiesBatch(ctx context.Context, entities []*Entity) error

	// UpdateEntity merges attrs into the entity's attributes.
	UpdateEntity(ctx context.Context, canvasID, entityID string, attrs map[string]interface{}) (*Entity, error)

	DeleteEntity(ctx context.Context, canvasID, entityID string) error
	GetEntity(ctx context.Context, canvasID, entityID string) (*Entity, error)

	// ListEntities returns entities in creation order.
	ListEntities(ctx context.Context, canvasID string) ([]*Entity, error)
}
