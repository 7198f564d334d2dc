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

package orchestrator

import (
	"fmt"
	"strconv"
	"strings"

	"canvasflow/platform/orchestrator/canvas"
	"canvasflow/platform/orchestrator/tools"
)

// Style is the ambient style the model should use when the command does
// not say otherwise.
type Style struct {
	Color       string
	StrokeColor string
	StrokeWidth float64
	FontSize    float64
}

// DefaultStyle matches the tool defaults.
func DefaultStyle() Style {
	return Style{Color: "#3B82F6", StrokeColor: "#1F2937", StrokeWidth: 2, FontSize: 16}
}

// Viewport is the visible region of the canvas.
type Viewport struct {
	X, Y, Width, Height float64
}

// enrichment is the prompt sent to the provider plus the alias table used
// to resolve identifiers in its answer.
type enrichment struct {
	prompt  string
	aliases map[string]string
}

// enrichCommand appends selection, style and viewport context to text.
// Selected entities are numbered obj1..objN in selection order.
func enrichCommand(text string, cv *canvas.Canvas, selected []*canvas.Entity, options map[string]interface{}) enrichment {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(text))
	b.WriteString("\n\nContext:\n")

	if cv != nil {
		name := cv.Name
		if name == "" {
			name = cv.ID
		}
		fmt.Fprintf(&b, "- Canvas: %q", name)
		if cv.Width > 0 && cv.Height > 0 {
			fmt.Fprintf(&b, " (%sx%s)", num(cv.Width), num(cv.Height))
		}
		b.WriteString("\n")
	}

	if vp, ok := viewportOption(options); ok {
		fmt.Fprintf(&b, "- Visible area: x=%s y=%s width=%s height=%s. Place new objects inside it.\n",
			num(vp.X), num(vp.Y), num(vp.Width), num(vp.Height))
	}

	style := styleOption(options)
	fmt.Fprintf(&b, "- Default style: fill %s, stroke %s %spx, font size %s\n",
		style.Color, style.StrokeColor, num(style.StrokeWidth), num(style.FontSize))

	aliases := make(map[string]string, len(selected))
	if len(selected) == 0 {
		b.WriteString("- Nothing is selected.\n")
	} else {
		b.WriteString("- Selected objects (use the id value in tool calls):\n")
		for i, e := range selected {
			alias := "obj" + strconv.Itoa(i+1)
			aliases[alias] = e.ID
			s := tools.Summarize(e)
			fmt.Fprintf(&b, "  %s: id=%s, %s at (%s, %s), %sx%s", alias, e.ID, e.Kind, num(s.X), num(s.Y), num(s.Width), num(s.Height))
			if s.Text != "" {
				fmt.Fprintf(&b, ", text %q", s.Text)
			}
			if fill, ok := e.Attrs["color"].(string); ok && fill != "" {
				fmt.Fprintf(&b, ", color %s", fill)
			}
			b.WriteString("\n")
		}
	}

	return enrichment{prompt: b.String(), aliases: aliases}
}

func styleOption(options map[string]interface{}) Style {
	style := DefaultStyle()
	raw, ok := options["style"].(map[string]interface{})
	if !ok {
		return style
	}
	if v, ok := raw["color"].(string); ok {
		if c, err := tools.NormalizeColor(v); err == nil {
			style.Color = c
		}
	}
	if v, ok := raw["stroke_color"].(string); ok {
		if c, err := tools.NormalizeColor(v); err == nil {
			style.StrokeColor = c
		}
	}
	if v, ok := floatOption(raw["stroke_width"]); ok && v >= 0 {
		style.StrokeWidth = v
	}
	if v, ok := floatOption(raw["font_size"]); ok && v > 0 {
		style.FontSize = v
	}
	return style
}

func viewportOption(options map[string]interface{}) (Viewport, bool) {
	raw, ok := options["viewport"].(map[string]interface{})
	if !ok {
		return Viewport{}, false
	}
	var vp Viewport
	vp.X, _ = floatOption(raw["x"])
	vp.Y, _ = floatOption(raw["y"])
	w, okW := floatOption(raw["width"])
	h, okH := floatOption(raw["height"])
	if !okW || !okH || w <= 0 || h <= 0 {
		return Viewport{}, false
	}
	vp.Width, vp.Height = w, h
	return vp, true
}

func floatOption(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

// num formats a coordinate without trailing zeros.
func num(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
