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
	"fmt"
	"sort"

	"canvasflow/platform/orchestrator/canvas"
)

type part struct {
	kind  string
	role  string
	dx    float64
	dy    float64
	w     float64
	h     float64
	attrs map[string]interface{}
}

type componentTemplate struct {
	// container is nil for single-element components.
	container *part
	children  []part
	// titleRole is the child whose text the title option replaces.
	titleRole string
}

func textPart(role, text string, dx, dy, fontSize float64) part {
	return part{kind: "text", role: role, dx: dx, dy: dy, w: 0, h: fontSize * 1.4, attrs: map[string]interface{}{
		"text": text, "font_size": fontSize, "font_family": "Inter", "color": "#111827",
	}}
}

func inputPart(role, label string, dx, dy, w float64, inputType string) part {
	return part{kind: "input", role: role, dx: dx, dy: dy, w: w, h: 40, attrs: map[string]interface{}{
		"label": label, "placeholder": label, "input_type": inputType,
		"color": "#FFFFFF", "stroke_color": "#D1D5DB", "stroke_width": 1.0,
	}}
}

func buttonPart(role, label string, dx, dy, w float64) part {
	return part{kind: "button", role: role, dx: dx, dy: dy, w: w, h: 44, attrs: map[string]interface{}{
		"label": label, "color": "#2563EB", "text_color": "#FFFFFF", "corner_radius": 6.0,
	}}
}

func containerPart(w, h float64) *part {
	return &part{kind: "container", role: "container", w: w, h: h, attrs: map[string]interface{}{
		"color": "#FFFFFF", "stroke_color": "#D1D5DB", "stroke_width": 1.0, "corner_radius": 8.0,
	}}
}

var componentTemplates = map[string]componentTemplate{
	"login_form": {
		container: containerPart(320, 280),
		titleRole: "title",
		children: []part{
			textPart("title", "Log in", 24, 24, 20),
			inputPart("username", "Username", 24, 72, 272, "text"),
			inputPart("password", "Password", 24, 128, 272, "password"),
			buttonPart("submit", "Log in", 24, 200, 272),
		},
	},
	"signup_form": {
		container: containerPart(320, 360),
		titleRole: "title",
		children: []part{
			textPart("title", "Sign up", 24, 24, 20),
			inputPart("name", "Full name", 24, 72, 272, "text"),
			inputPart("email", "Email", 24, 128, 272, "email"),
			inputPart("password", "Password", 24, 184, 272, "password"),
			buttonPart("submit", "Create account", 24, 280, 272),
		},
	},
	"navbar": {
		container: containerPart(960, 64),
		titleRole: "brand",
		children: []part{
			textPart("brand", "Brand", 24, 20, 18),
			textPart("link", "Home", 520, 22, 14),
			textPart("link", "About", 600, 22, 14),
			textPart("link", "Contact", 680, 22, 14),
			buttonPart("cta", "Sign in", 820, 10, 116),
		},
	},
	"card": {
		container: containerPart(300, 200),
		titleRole: "title",
		children: []part{
			textPart("title", "Card title", 20, 20, 18),
			textPart("body", "Supporting text goes here.", 20, 60, 14),
			buttonPart("action", "Learn more", 20, 136, 120),
		},
	},
	"button": {
		titleRole: "button",
		children: []part{
			buttonPart("button", "Button", 0, 0, 120),
		},
	},
}

// ComponentNames lists the supported component templates.
func ComponentNames() []string {
	names := make([]string, 0, len(componentTemplates))
	for name := range componentTemplates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BuildComponent expands a template into entities positioned at (x, y).
// The container, when the template has one, comes first and every other
// entity carries its ID in parent_id.
func BuildComponent(canvasID, component string, x, y float64, title string) ([]*canvas.Entity, error) {
	tmpl, ok := componentTemplates[component]
	if !ok {
		return nil, fmt.Errorf("unknown component %q", component)
	}

	var entities []*canvas.Entity
	parentID := ""
	if tmpl.container != nil {
		c := newPartEntity(canvasID, component, *tmpl.container, x, y)
		parentID = c.ID
		entities = append(entities, c)
	}

	for _, p := range tmpl.children {
		e := newPartEntity(canvasID, component, p, x, y)
		if parentID != "" {
			e.Attrs["parent_id"] = parentID
		}
		if title != "" && p.role == tmpl.titleRole {
			if p.kind == "button" {
				e.Attrs["label"] = title
			} else {
				e.Attrs["text"] = title
			}
		}
		entities = append(entities, e)
	}
	return entities, nil
}

func newPartEntity(canvasID, component string, p part, x, y float64) *canvas.Entity {
	attrs := make(map[string]interface{}, len(p.attrs)+6)
	for k, v := range p.attrs {
		attrs[k] = v
	}
	attrs["x"] = x + p.dx
	attrs["y"] = y + p.dy
	if p.w > 0 {
		attrs["width"] = p.w
	}
	attrs["height"] = p.h
	attrs["role"] = p.role
	attrs["component"] = component
	return canvas.NewEntity(canvasID, p.kind, attrs)
}
