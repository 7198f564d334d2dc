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

// Package tools holds the canvas tools a model may call, the registry that
// resolves them by name, and the dispatcher and batch executor that run them
// against a canvas store.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"canvasflow/platform/orchestrator/canvas"
	"canvasflow/platform/orchestrator/llm"
)

// Error kinds carried by a failed ToolResult.
const (
	ErrorKindValidation = "validation_error"
	ErrorKindDomain     = "domain_error"
)

// ToolError describes why one tool call failed.
type ToolError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (e *ToolError) Error() string {
	return e.Kind + ": " + e.Message
}

// ToolResult is the outcome of one tool call.
type ToolResult struct {
	Tool    string                 `json:"tool"`
	Input   map[string]interface{} `json:"input"`
	Success bool                   `json:"success"`
	Payload interface{}            `json:"payload,omitempty"`
	Error   *ToolError             `json:"error,omitempty"`
}

func failure(call llm.ToolCall, kind, message string) ToolResult {
	return ToolResult{
		Tool:    call.Name,
		Input:   call.Input,
		Success: false,
		Error:   &ToolError{Kind: kind, Message: message},
	}
}

// Target identifies the canvas and request a tool call runs for.
type Target struct {
	CanvasID  string
	RequestID string
}

// Env is what an executor may touch.
type Env struct {
	Target    Target
	Store     canvas.Store
	Publisher canvas.Publisher
}

// Publish emits an event for entity, tagged with the request ID.
func (e *Env) Publish(ctx context.Context, eventType string, entity *canvas.Entity) {
	if e.Publisher == nil {
		return
	}
	event := canvas.NewEvent(eventType, entity)
	event.RequestID = e.Target.RequestID
	e.Publisher.Publish(ctx, event)
}

// ExecuteFunc runs a validated input. The returned payload is reported to
// the caller; an error becomes a domain_error.
type ExecuteFunc func(ctx context.Context, env *Env, input map[string]interface{}) (interface{}, error)

// EntityFunc turns a validated input into an entity for batch insertion.
type EntityFunc func(canvasID string, input map[string]interface{}) (*canvas.Entity, error)

// Tool is a named canvas operation.
type Tool struct {
	Name        string
	Description string
	Schema      Schema
	Execute     ExecuteFunc

	// Batchable tools create exactly one entity and may be coalesced into
	// one atomic insert through ToEntity.
	Batchable bool
	ToEntity  EntityFunc
}

// Validate checks input against the tool's schema.
func (t *Tool) Validate(input map[string]interface{}) (map[string]interface{}, error) {
	out, err := t.Schema.Validate(input)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			verr.Tool = t.Name
		}
		return nil, err
	}
	return out, nil
}

// Registry maps tool names to tools.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool. Names must be unique.
func (r *Registry) Register(t Tool) error {
	if t.Name == "" {
		return errors.New("tool name is required")
	}
	if t.Execute == nil {
		return fmt.Errorf("tool %s: execute function is required", t.Name)
	}
	if t.Batchable && t.ToEntity == nil {
		return fmt.Errorf("tool %s: batchable tools need ToEntity", t.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("tool %s already registered", t.Name)
	}
	tool := t
	r.tools[t.Name] = &tool
	return nil
}

// MustRegister is Register that panics on error, for static tool sets.
func (r *Registry) MustRegister(t Tool) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// IsBatchable reports whether name is a registered batchable tool.
func (r *Registry) IsBatchable(name string) bool {
	t, ok := r.Get(name)
	return ok && t.Batchable
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Schemas returns every tool in the form providers advertise, sorted by name.
func (r *Registry) Schemas() []llm.ToolSchema {
	names := r.Names()
	out := make([]llm.ToolSchema, 0, len(names))
	for _, name := range names {
		t, _ := r.Get(name)
		out = append(out, llm.ToolSchema{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Schema.JSONSchema(),
		})
	}
	return out
}
