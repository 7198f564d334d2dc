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
	"errors"
	"fmt"
	"math"

	"canvasflow/platform/orchestrator/canvas"
)

// Tool names.
const (
	ToolCreateShape     = "create_shape"
	ToolCreateText      = "create_text"
	ToolMoveObject      = "move_object"
	ToolResizeObject    = "resize_object"
	ToolRotateObject    = "rotate_object"
	ToolUpdateStyle     = "update_style"
	ToolDeleteObject    = "delete_object"
	ToolArrangeObjects  = "arrange_objects"
	ToolCreateComponent = "create_component"
	ToolGetCanvasState  = "get_canvas_state"
)

// ShapeTypes are the shapes create_shape can draw.
var ShapeTypes = []string{"circle", "rectangle", "square", "ellipse", "triangle", "line"}

const (
	defaultShapeSize  = 100.0
	defaultShapeColor = "#3B82F6"
	defaultTextColor  = "#111827"
)

func idField() Field {
	return Field{Name: "id", Type: TypeString, Required: true, Description: "ID of the object to change"}
}

func coordField(name string, required bool) Field {
	return Field{Name: name, Type: TypeNumber, Required: required, Description: "Canvas coordinate in pixels"}
}

// NewCanvasRegistry returns a registry holding every canvas tool.
func NewCanvasRegistry() *Registry {
	r := NewRegistry()
	RegisterCanvasTools(r)
	return r
}

// RegisterCanvasTools adds the canvas tools to r.
func RegisterCanvasTools(r *Registry) {
	r.MustRegister(Tool{
		Name:        ToolCreateShape,
		Description: "Create a single shape at an explicit position.",
		Schema: Schema{Fields: []Field{
			{Name: "type", Type: TypeString, Required: true, Enum: ShapeTypes},
			coordField("x", true),
			coordField("y", true),
			{Name: "width", Type: TypeNumber, Default: defaultShapeSize, Minimum: Min(1)},
			{Name: "height", Type: TypeNumber, Default: defaultShapeSize, Minimum: Min(1)},
			{Name: "radius", Type: TypeNumber, Minimum: Min(1), Description: "Circle radius; defaults to half the width"},
			{Name: "color", Type: TypeString, Format: FormatColor, Default: defaultShapeColor, Description: "Fill color as #RRGGBB"},
			{Name: "stroke_color", Type: TypeString, Format: FormatColor},
			{Name: "stroke_width", Type: TypeNumber, Minimum: Min(0)},
			{Name: "rotation", Type: TypeNumber, Default: 0.0},
		}},
		Batchable: true,
		ToEntity:  shapeEntity,
		Execute:   createFrom(shapeEntity),
	})

	r.MustRegister(Tool{
		Name:        ToolCreateText,
		Description: "Create a text label at an explicit position.",
		Schema: Schema{Fields: []Field{
			{Name: "text", Type: TypeString, Required: true},
			coordField("x", true),
			coordField("y", true),
			{Name: "font_size", Type: TypeNumber, Default: 16.0, Minimum: Min(1)},
			{Name: "font_family", Type: TypeString, Default: "Inter"},
			{Name: "color", Type: TypeString, Format: FormatColor, Default: defaultTextColor},
		}},
		Batchable: true,
		ToEntity:  textEntity,
		Execute:   createFrom(textEntity),
	})

	r.MustRegister(Tool{
		Name:        ToolMoveObject,
		Description: "Move an existing object to a new position.",
		Schema:      Schema{Fields: []Field{idField(), coordField("x", true), coordField("y", true)}},
		Execute: func(ctx context.Context, env *Env, in map[string]interface{}) (interface{}, error) {
			return updateEntity(ctx, env, in["id"].(string), map[string]interface{}{"x": in["x"], "y": in["y"]})
		},
	})

	r.MustRegister(Tool{
		Name:        ToolResizeObject,
		Description: "Resize an existing object.",
		Schema: Schema{Fields: []Field{
			idField(),
			{Name: "width", Type: TypeNumber, Required: true, Minimum: Min(1)},
			{Name: "height", Type: TypeNumber, Required: true, Minimum: Min(1)},
		}},
		Execute: executeResize,
	})

	r.MustRegister(Tool{
		Name:        ToolRotateObject,
		Description: "Rotate an existing object to an absolute angle in degrees.",
		Schema: Schema{Fields: []Field{
			idField(),
			{Name: "degrees", Type: TypeNumber, Required: true},
		}},
		Execute: func(ctx context.Context, env *Env, in map[string]interface{}) (interface{}, error) {
			return updateEntity(ctx, env, in["id"].(string), map[string]interface{}{
				"rotation": normalizeDegrees(in["degrees"].(float64)),
			})
		},
	})

	r.MustRegister(Tool{
		Name:        ToolUpdateStyle,
		Description: "Change colors, stroke, opacity or font size of an existing object.",
		Schema: Schema{Fields: []Field{
			idField(),
			{Name: "color", Type: TypeString, Format: FormatColor},
			{Name: "stroke_color", Type: TypeString, Format: FormatColor},
			{Name: "stroke_width", Type: TypeNumber, Minimum: Min(0)},
			{Name: "opacity", Type: TypeNumber, Minimum: Min(0)},
			{Name: "font_size", Type: TypeNumber, Minimum: Min(1)},
		}},
		Execute: executeUpdateStyle,
	})

	r.MustRegister(Tool{
		Name:        ToolDeleteObject,
		Description: "Delete an existing object.",
		Schema:      Schema{Fields: []Field{idField()}},
		Execute:     executeDelete,
	})

	r.MustRegister(Tool{
		Name:        ToolArrangeObjects,
		Description: "Lay out existing objects in a row, column or grid.",
		Schema: Schema{Fields: []Field{
			{Name: "ids", Type: TypeArray, Items: TypeString, Required: true, Description: "IDs of the objects to arrange, in order"},
			{Name: "layout", Type: TypeString, Enum: []string{"row", "column", "grid"}, Default: "row"},
			{Name: "spacing", Type: TypeNumber, Default: 20.0, Minimum: Min(0)},
			{Name: "columns", Type: TypeInteger, Default: 3, Minimum: Min(1)},
			coordField("x", false),
			coordField("y", false),
		}},
		Execute: executeArrange,
	})

	r.MustRegister(Tool{
		Name:        ToolCreateComponent,
		Description: "Create a multi-element UI component (container, fields and button) in one step.",
		Schema: Schema{Fields: []Field{
			{Name: "component", Type: TypeString, Required: true, Enum: ComponentNames()},
			{Name: "x", Type: TypeNumber, Default: 100.0},
			{Name: "y", Type: TypeNumber, Default: 100.0},
			{Name: "title", Type: TypeString},
		}},
		Execute: executeCreateComponent,
	})

	r.MustRegister(Tool{
		Name:        ToolGetCanvasState,
		Description: "List the objects currently on the canvas.",
		Schema:      Schema{},
		Execute:     executeGetCanvasState,
	})
}

func shapeEntity(canvasID string, in map[string]interface{}) (*canvas.Entity, error) {
	kind, _ := in["type"].(string)
	attrs := make(map[string]interface{}, len(in))
	for k, v := range in {
		if k != "type" {
			attrs[k] = v
		}
	}
	if kind == "circle" {
		if _, ok := attrs["radius"]; !ok {
			w, _ := attrs["width"].(float64)
			h, _ := attrs["height"].(float64)
			attrs["radius"] = math.Min(w, h) / 2
		}
	}
	if kind == "square" {
		attrs["height"] = attrs["width"]
	}
	return canvas.NewEntity(canvasID, kind, attrs), nil
}

func textEntity(canvasID string, in map[string]interface{}) (*canvas.Entity, error) {
	attrs := make(map[string]interface{}, len(in))
	for k, v := range in {
		attrs[k] = v
	}
	return canvas.NewEntity(canvasID, "text", attrs), nil
}

func createFrom(build EntityFunc) ExecuteFunc {
	return func(ctx context.Context, env *Env, in map[string]interface{}) (interface{}, error) {
		entity, err := build(env.Target.CanvasID, in)
		if err != nil {
			return nil, err
		}
		if err := env.Store.CreateEntity(ctx, entity); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", entity.Kind, err)
		}
		env.Publish(ctx, canvas.EventObjectCreated, entity)
		return entity, nil
	}
}

func notFound(id string, err error) error {
	if errors.Is(err, canvas.ErrNotFound) {
		return fmt.Errorf("object %s does not exist on this canvas", id)
	}
	return err
}

func updateEntity(ctx context.Context, env *Env, id string, attrs map[string]interface{}) (*canvas.Entity, error) {
	updated, err := env.Store.UpdateEntity(ctx, env.Target.CanvasID, id, attrs)
	if err != nil {
		return nil, notFound(id, err)
	}
	env.Publish(ctx, canvas.EventObjectUpdated, updated)
	return updated, nil
}

func executeResize(ctx context.Context, env *Env, in map[string]interface{}) (interface{}, error) {
	id := in["id"].(string)
	current, err := env.Store.GetEntity(ctx, env.Target.CanvasID, id)
	if err != nil {
		return nil, notFound(id, err)
	}
	w, h := in["width"].(float64), in["height"].(float64)
	attrs := map[string]interface{}{"width": w, "height": h}
	if current.Kind == "circle" {
		attrs["radius"] = math.Min(w, h) / 2
	}
	return updateEntity(ctx, env, id, attrs)
}

func normalizeDegrees(d float64) float64 {
	d = math.Mod(d, 360)
	if d < 0 {
		d += 360
	}
	return d
}

func executeUpdateStyle(ctx context.Context, env *Env, in map[string]interface{}) (interface{}, error) {
	attrs := make(map[string]interface{})
	for _, key := range []string{"color", "stroke_color", "stroke_width", "opacity", "font_size"} {
		if v, ok := in[key]; ok {
			attrs[key] = v
		}
	}
	if len(attrs) == 0 {
		return nil, errors.New("no style properties given")
	}
	if op, ok := attrs["opacity"].(float64); ok && op > 1 {
		return nil, fmt.Errorf("opacity %v is outside 0..1", op)
	}
	return updateEntity(ctx, env, in["id"].(string), attrs)
}

func executeDelete(ctx context.Context, env *Env, in map[string]interface{}) (interface{}, error) {
	id := in["id"].(string)
	existing, err := env.Store.GetEntity(ctx, env.Target.CanvasID, id)
	if err != nil {
		return nil, notFound(id, err)
	}
	if err := env.Store.DeleteEntity(ctx, env.Target.CanvasID, id); err != nil {
		return nil, notFound(id, err)
	}
	env.Publish(ctx, canvas.EventObjectDeleted, existing)
	return map[string]interface{}{"deleted": id}, nil
}

// extent returns the width and height an entity occupies.
func extent(e *canvas.Entity) (float64, float64) {
	w, okW := e.Float("width")
	h, okH := e.Float("height")
	if r, ok := e.Float("radius"); ok && (!okW || !okH) {
		return 2 * r, 2 * r
	}
	if !okW {
		w = defaultShapeSize
	}
	if !okH {
		h = defaultShapeSize
	}
	return w, h
}

func executeArrange(ctx context.Context, env *Env, in map[string]interface{}) (interface{}, error) {
	rawIDs := in["ids"].([]interface{})
	if len(rawIDs) == 0 {
		return nil, errors.New("no objects to arrange")
	}

	entities := make([]*canvas.Entity, 0, len(rawIDs))
	for _, raw := range rawIDs {
		id := raw.(string)
		e, err := env.Store.GetEntity(ctx, env.Target.CanvasID, id)
		if err != nil {
			return nil, notFound(id, err)
		}
		entities = append(entities, e)
	}

	originX, okX := in["x"].(float64)
	originY, okY := in["y"].(float64)
	if !okX {
		originX, _ = entities[0].Float("x")
	}
	if !okY {
		originY, _ = entities[0].Float("y")
	}

	layout := in["layout"].(string)
	spacing := in["spacing"].(float64)
	columns := in["columns"].(int)

	var cellW, cellH float64
	for _, e := range entities {
		w, h := extent(e)
		cellW = math.Max(cellW, w)
		cellH = math.Max(cellH, h)
	}

	updated := make([]*canvas.Entity, 0, len(entities))
	cursorX, cursorY := originX, originY
	for i, e := range entities {
		w, h := extent(e)
		var x, y float64
		switch layout {
		case "column":
			x, y = originX, cursorY
			cursorY += h + spacing
		case "grid":
			x = originX + float64(i%columns)*(cellW+spacing)
			y = originY + float64(i/columns)*(cellH+spacing)
		default:
			x, y = cursorX, originY
			cursorX += w + spacing
		}
		u, err := updateEntity(ctx, env, e.ID, map[string]interface{}{"x": x, "y": y})
		if err != nil {
			return nil, err
		}
		updated = append(updated, u)
	}
	return updated, nil
}

func executeCreateComponent(ctx context.Context, env *Env, in map[string]interface{}) (interface{}, error) {
	component := in["component"].(string)
	title, _ := in["title"].(string)

	entities, err := BuildComponent(env.Target.CanvasID, component, in["x"].(float64), in["y"].(float64), title)
	if err != nil {
		return nil, err
	}
	if err := env.Store.CreateEntitiesBatch(ctx, entities); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", component, err)
	}
	for _, e := range entities {
		env.Publish(ctx, canvas.EventObjectCreated, e)
	}
	return map[string]interface{}{
		"component": component,
		"root_id":   entities[0].ID,
		"entities":  entities,
	}, nil
}

// ObjectSummary is the compact view get_canvas_state returns.
type ObjectSummary struct {
	ID     string  `json:"id"`
	Kind   string  `json:"kind"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Text   string  `json:"text,omitempty"`
}

// Summarize reduces an entity to its ObjectSummary.
func Summarize(e *canvas.Entity) ObjectSummary {
	x, _ := e.Float("x")
	y, _ := e.Float("y")
	w, h := extent(e)
	text, _ := e.Attrs["text"].(string)
	if text == "" {
		text, _ = e.Attrs["label"].(string)
	}
	return ObjectSummary{ID: e.ID, Kind: e.Kind, X: x, Y: y, Width: w, Height: h, Text: text}
}

func executeGetCanvasState(ctx context.Context, env *Env, _ map[string]interface{}) (interface{}, error) {
	entities, err := env.Store.ListEntities(ctx, env.Target.CanvasID)
	if err != nil {
		return nil, err
	}
	objects := make([]ObjectSummary, 0, len(entities))
	for _, e := range entities {
		objects = append(objects, Summarize(e))
	}
	return map[string]interface{}{
		"canvas_id":    env.Target.CanvasID,
		"object_count": len(objects),
		"objects":      objects,
	}, nil
}
