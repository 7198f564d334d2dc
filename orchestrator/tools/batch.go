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

package tools

import (
	"context"
	"fmt"
	"time"

	"canvasflow/platform/orchestrator/canvas"
	"canvasflow/platform/orchestrator/llm"
	"canvasflow/platform/shared/logger"
)

// DefaultSlowBatchThreshold is the batch duration above which a warning is logged.
const DefaultSlowBatchThreshold = 2 * time.Second

// BatchObserver receives the size, duration and outcome of every batch insert.
type BatchObserver func(size int, duration time.Duration, err error)

// BatchExecutor coalesces consecutive create calls into one atomic insert.
type BatchExecutor struct {
	registry      *Registry
	store         canvas.Store
	publisher     canvas.Publisher
	log           *logger.Logger
	slowThreshold time.Duration
	observe       BatchObserver
}

// BatchOption configures a BatchExecutor.
type BatchOption func(*BatchExecutor)

// WithSlowBatchThreshold overrides DefaultSlowBatchThreshold.
func WithSlowBatchThreshold(d time.Duration) BatchOption {
	return func(b *BatchExecutor) { b.slowThreshold = d }
}

// WithBatchObserver registers a metrics hook.
func WithBatchObserver(fn BatchObserver) BatchOption {
	return func(b *BatchExecutor) { b.observe = fn }
}

// NewBatchExecutor creates a batch executor.
func NewBatchExecutor(registry *Registry, store canvas.Store, publisher canvas.Publisher, log *logger.Logger, opts ...BatchOption) *BatchExecutor {
	if publisher == nil {
		publisher = canvas.NoopPublisher{}
	}
	if log == nil {
		log = logger.New("tools")
	}
	b := &BatchExecutor{
		registry:      registry,
		store:         store,
		publisher:     publisher,
		log:           log,
		slowThreshold: DefaultSlowBatchThreshold,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ExecuteBatch validates every call, builds one entity per call and
// inserts them in a single store batch. Results line up with calls. If any
// call is invalid or the insert fails, every result fails and nothing is
// persisted.
func (b *BatchExecutor) ExecuteBatch(ctx context.Context, calls []llm.ToolCall, target Target) []ToolResult {
	if len(calls) == 0 {
		return nil
	}

	entities := make([]*canvas.Entity, len(calls))
	inputs := make([]map[string]interface{}, len(calls))
	problems := make([]string, len(calls))
	invalid := 0

	for i, call := range calls {
		tool, ok := b.registry.Get(call.Name)
		if !ok || !tool.Batchable {
			problems[i] = fmt.Sprintf("tool %q cannot be batched", call.Name)
			invalid++
			continue
		}
		input, err := tool.Validate(call.Input)
		if err != nil {
			problems[i] = err.Error()
			invalid++
			continue
		}
		entity, err := tool.ToEntity(target.CanvasID, input)
		if err != nil {
			problems[i] = err.Error()
			invalid++
			continue
		}
		inputs[i] = input
		entities[i] = entity
	}

	if invalid > 0 {
		b.log.Warn(target.CanvasID, target.RequestID, "Batch rejected", map[string]interface{}{
			"batch_size": len(calls),
			"invalid":    invalid,
		})
		results := make([]ToolResult, len(calls))
		for i, call := range calls {
			msg := problems[i]
			if msg == "" {
				msg = fmt.Sprintf("batch aborted: %d of %d calls invalid", invalid, len(calls))
			}
			results[i] = failure(call, ErrorKindValidation, msg)
		}
		return results
	}

	start := time.Now()
	err := b.store.CreateEntitiesBatch(ctx, entities)
	elapsed := time.Since(start)
	if b.observe != nil {
		b.observe(len(entities), elapsed, err)
	}

	if elapsed > b.slowThreshold {
		b.log.WarnWithDuration(target.CanvasID, target.RequestID, "Slow batch insert",
			float64(elapsed.Milliseconds()), map[string]interface{}{"batch_size": len(entities)})
	}

	results := make([]ToolResult, len(calls))
	if err != nil {
		b.log.Error(target.CanvasID, target.RequestID, "Batch insert failed", map[string]interface{}{
			"batch_size": len(entities),
			"error":      err.Error(),
		})
		for i, call := range calls {
			res := failure(call, ErrorKindDomain, fmt.Sprintf("batch insert failed: %v", err))
			res.Input = inputs[i]
			results[i] = res
		}
		return results
	}

	env := &Env{Target: target, Publisher: b.publisher}
	for i, call := range calls {
		env.Publish(ctx, canvas.EventObjectCreated, entities[i])
		results[i] = ToolResult{Tool: call.Name, Input: inputs[i], Success: true, Payload: entities[i]}
	}

	b.log.InfoWithDuration(target.CanvasID, target.RequestID, "Batch inserted",
		float64(elapsed.Milliseconds()), map[string]interface{}{"batch_size": len(entities)})
	return results
}
