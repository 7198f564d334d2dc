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
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used for local mode and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	canvases map[string]*Canvas
	entities map[string]map[string]*Entity
	seq      map[string]int64
	order    map[string]int64
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		canvases: make(map[string]*Canvas),
		entities: make(map[string]map[string]*Entity),
		seq:      make(map[string]int64),
		order:    make(map[string]int64),
	}
}

// CreateCanvas registers a canvas, replacing any canvas with the same ID.
func (s *MemoryStore) CreateCanvas(ctx context.Context, c *Canvas) error {
	if c == nil || c.ID == "" {
		return fmt.Errorf("canvas id is required: %w", ErrInvalidEntity)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *c
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	s.canvases[c.ID] = &cp
	if _, ok := s.entities[c.ID]; !ok {
		s.entities[c.ID] = make(map[string]*Entity)
	}
	return nil
}

// GetCanvas implements Store.
func (s *MemoryStore) GetCanvas(ctx context.Context, canvasID string) (*Canvas, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.canvases[canvasID]
	if !ok {
		return nil, fmt.Errorf("canvas %s: %w", canvasID, ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

// CreateEntity implements Store.
func (s *MemoryStore) CreateEntity(ctx context.Context, entity *Entity) error {
	return s.CreateEntitiesBatch(ctx, []*Entity{entity})
}

// CreateEntitiesBatch implements Store. Every entity is checked before any
// is inserted, so a failure leaves the store untouched.
func (s *MemoryStore) CreateEntitiesBatch(ctx context.Context, entities []*Entity) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(entities))
	for i, e := range entities {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("entity %d: %w", i, err)
		}
		objects, ok := s.entities[e.CanvasID]
		if !ok {
			return fmt.Errorf("entity %d: canvas %s: %w", i, e.CanvasID, ErrNotFound)
		}
		if _, exists := objects[e.ID]; exists || seen[e.ID] {
			return fmt.Errorf("entity %d: %s: %w", i, e.ID, ErrDuplicateID)
		}
		seen[e.ID] = true
	}

	for _, e := range entities {
		s.seq[e.CanvasID]++
		s.order[e.ID] = s.seq[e.CanvasID]
		s.entities[e.CanvasID][e.ID] = e.Clone()
	}
	return nil
}

// UpdateEntity implements Store.
func (s *MemoryStore) UpdateEntity(ctx context.Context, canvasID, entityID string, attrs map[string]interface{}) (*Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.lookup(canvasID, entityID)
	if err != nil {
		return nil, err
	}
	for k, v := range attrs {
		e.Attrs[k] = v
	}
	e.UpdatedAt = time.Now().UTC()
	return e.Clone(), nil
}

// DeleteEntity implements Store.
func (s *MemoryStore) DeleteEntity(ctx context.Context, canvasID, entityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.lookup(canvasID, entityID); err != nil {
		return err
	}
	delete(s.entities[canvasID], entityID)
	delete(s.order, entityID)
	return nil
}

// GetEntity implements Store.
func (s *MemoryStore) GetEntity(ctx context.Context, canvasID, entityID string) (*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, err := s.lookup(canvasID, entityID)
	if err != nil {
		return nil, err
	}
	return e.Clone(), nil
}

// ListEntities implements Store.
func (s *MemoryStore) ListEntities(ctx context.Context, canvasID string) ([]*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	objects, ok := s.entities[canvasID]
	if !ok {
		return nil, fmt.Errorf("canvas %s: %w", canvasID, ErrNotFound)
	}
	out := make([]*Entity, 0, len(objects))
	for _, e := range objects {
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return s.order[out[i].ID] < s.order[out[j].ID] })
	return out, nil
}

// lookup must be called with s.mu held.
func (s *MemoryStore) lookup(canvasID, entityID string) (*Entity, error) {
	objects, ok := s.entities[canvasID]
	if !ok {
		return nil, fmt.Errorf("canvas %s: %w", canvasID, ErrNotFound)
	}
	e, ok := objects[entityID]
	if !ok {
		return nil, fmt.Errorf("entity %s: %w", entityID, ErrNotFound)
	}
	return e, nil
}

var _ Store = (*MemoryStore)(nil)
