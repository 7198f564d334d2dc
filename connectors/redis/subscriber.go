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

package redis

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/go-redis/redis/v8"

	"canvasflow/platform/orchestrator/canvas"
)

// Subscription streams decoded events for one canvas.
type Subscription struct {
	pubsub *goredis.PubSub
	events chan canvas.Event
	errs   chan error
}

// Subscribe listens on the canvas channel until ctx is done or Close is
// called. Messages that do not decode are reported on Errors and skipped.
func Subscribe(ctx context.Context, client *goredis.Client, canvasID string) (*Subscription, error) {
	pubsub := client.Subscribe(ctx, Channel(canvasID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", Channel(canvasID), err)
	}

	s := &Subscription{
		pubsub: pubsub,
		events: make(chan canvas.Event),
		errs:   make(chan error, 1),
	}
	go s.run(ctx)
	return s, nil
}

func (s *Subscription) run(ctx context.Context) {
	defer close(s.events)
	ch := s.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev canvas.Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				select {
				case s.errs <- fmt.Errorf("bad event on %s: %w", msg.Channel, err):
				default:
				}
				continue
			}
			select {
			case s.events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Events is closed when the subscription ends.
func (s *Subscription) Events() <-chan canvas.Event { return s.events }

// Errors reports undecodable messages. It holds at most one pending error.
func (s *Subscription) Errors() <-chan error { return s.errs }

// Close unsubscribes.
func (s *Subscription) Close() error {
	return s.pubsub.Close()
}
