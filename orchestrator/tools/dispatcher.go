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

// Dispatcher runs single tool calls. A failure affects only its own call.
type Dispatcher struct {
	registry  *Registry
	store     canvas.Store
	publisher canvas.Publisher
	log       *logger.Logger
}

// NewDispatcher creates a dispatcher. A nil publisher discards events.
func NewDispatcher(registry *Registry, store canvas.Store, publisher canvas.Publisher, log *logger.Logger) *Dispatcher {
	if publisher == nil {
		publisher = canvas.NoopPublisher{}
	}
	if log == nil {
		log = logger.New("tools")
	}
	return &Dispatcher{registry: registry, store: store, publisher: publisher, log: log}
}

// Dispatch validates and executes one call.
func (d *Dispatcher) Dispatch(ctx context.Context, call llm.ToolCall, target Target) (result ToolResult) {
	start := time.Now()

	tool, ok := d.registry.Get(call.Name)
	if !ok {
		d.log.Warn(target.CanvasID, target.RequestID, "Unknown tool requested", map[string]interface{}{
			"tool": call.Name,
		})
		return failure(call, ErrorKindValidation, fmt.Sprintf("unknown tool %q", call.Name))
	}

	input, err := tool.Validate(call.Input)
	if err != nil {
		d.log.Warn(target.CanvasID, target.RequestID, "Tool input rejected", map[string]interface{}{
			"tool":  call.Name,
			"error": err.Error(),
		})
		return failure(call, ErrorKindValidation, err.Error())
	}

	defer func() {
		if r := recover(); r != nil {
			d.log.Error(target.CanvasID, target.RequestID, "Tool executor panicked", map[string]interface{}{
				"tool":  call.Name,
				"panic": fmt.Sprint(r),
			})
			result = failure(call, ErrorKindDomain, fmt.Sprintf("%s failed unexpectedly", call.Name))
		}
	}()

	env := &Env{Target: target, Store: d.store, Publisher: d.publisher}
	payload, err := tool.Execute(ctx, env, input)
	if err != nil {
		d.log.Warn(target.CanvasID, target.RequestID, "Tool execution failed", map[string]interface{}{
			"tool":  call.Name,
			"error": err.Error(),
		})
		res := failure(call, ErrorKindDomain, err.Error())
		res.Input = input
		return res
	}

	d.log.Debug(target.CanvasID, target.RequestID, "Tool executed", map[string]interface{}{
		"tool":        call.Name,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return ToolResult{Tool: call.Name, Input: input, Success: true, Payload: payload}
}
