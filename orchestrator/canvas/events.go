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
	"time"
)

// Event types published after successful mutations.
const (
	EventObjectCreated = "object.created"
	EventObjectUpdated = "object.updated"
	EventObjectDeleted = "object.deleted"
)

// Event notifies collaborators that an entity changed.
type Event struct {
	Type      string    `json:"type"`
	CanvasID  string    `json:"canvas_id"`
	EntityID  string    `json:"entity_id"`
	Entity    *Entity   `json:"entity,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	At        time.Time `json:"at"`
}

// NewEvent builds an event for entity.
func NewEvent(eventType string, entity *Entity) Event {
	return Event{
		Type:     eventType,
		CanvasID: entity.CanvasID,
		EntityID: entity.ID,
		Entity:   entity,
		At:       time.Now().UTC(),
	}
}

// Publisher delivers events. Publish is fire-and-forget: delivery failures
// are the publisher's to log and never fail the mutation that caused them.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// NoopPublisher discards every event.
type NoopPublisher struct{}

// Publish implements Publisher.
func (NoopPublisher) Publish(context.Context, Event) {}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, event Event)

// Publish implements Publisher.
func (f PublisherFunc) Publish(ctx context.Context, event Event) { f(ctx, event) }

// MultiPublisher delivers every event to each publisher in order.
type MultiPublisher []Publisher

// Publish implements Publisher.
func (m MultiPublisher) Publish(ctx context.Context, event Event) {
	for _, p := range m {
		p.Publish(ctx, event)
	}
}
