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

// Package redis fans canvas change events out over Redis pub/sub so every
// collaborator connected to any front-end node sees the same mutations.
package redis

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"canvasflow/platform/orchestrator/canvas"
	"canvasflow/platform/shared/logger"
)

// DefaultPublishTimeout bounds one PUBLISH.
const DefaultPublishTimeout = 2 * time.Second

// Channel returns the pub/sub channel for a canvas.
func Channel(canvasID string) string {
	return "canvas:" + canvasID + ":events"
}

// Publisher implements canvas.Publisher on top of Redis PUBLISH. Publish
// returns immediately; delivery runs on its own goroutine with its own
// timeout so a slow Redis never delays a command.
type Publisher struct {
	client  *goredis.Client
	timeout time.Duration
	log     *logger.Logger

	wg        sync.WaitGroup
	published atomic.Int64
	failed    atomic.Int64
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithTimeout overrides DefaultPublishTimeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *logger.Logger) Option {
	return func(p *Publisher) {
		p.log = l
	}
}

// NewPublisher creates a publisher on an existing client.
func NewPublisher(client *goredis.Client, opts ...Option) *Publisher {
	p := &Publisher{
		client:  client,
		timeout: DefaultPublishTimeout,
		log:     logger.New("events"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish implements canvas.Publisher.
func (p *Publisher) Publish(ctx context.Context, event canvas.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.failed.Add(1)
		p.log.Error(event.CanvasID, event.RequestID, "Failed to encode event", map[string]interface{}{
			"event_type": event.Type,
			"entity_id":  event.EntityID,
			"error":      err.Error(),
		})
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		// Detached from ctx: the command may finish before delivery does.
		pubCtx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()

		if err := p.client.Publish(pubCtx, Channel(event.CanvasID), payload).Err(); err != nil {
			p.failed.Add(1)
			p.log.Warn(event.CanvasID, event.RequestID, "Failed to publish event", map[string]interface{}{
				"event_type": event.Type,
				"entity_id":  event.EntityID,
				"error":      err.Error(),
			})
			return
		}
		p.published.Add(1)
	}()
}

// Stats returns how many events were delivered and how many failed.
func (p *Publisher) Stats() (published, failed int64) {
	return p.published.Load(), p.failed.Load()
}

// Flush waits for in-flight publishes or until ctx is done.
func (p *Publisher) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ canvas.Publisher = (*Publisher)(nil)
