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
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaValidate(t *testing.T) {
	schema := Schema{Fields: []Field{
		{Name: "type", Type: TypeString, Required: true, Enum: []string{"circle", "rectangle"}},
		{Name: "x", Type: TypeNumber, Required: true},
		{Name: "width", Type: TypeNumber, Default: 100.0, Minimum: Min(1)},
		{Name: "color", Type: TypeString, Format: FormatColor},
		{Name: "columns", Type: TypeInteger},
		{Name: "visible", Type: TypeBoolean},
		{Name: "ids", Type: TypeArray, Items: TypeString},
		{Name: "meta", Type: TypeObject},
	}}

	tests := []struct {
		name     string
		input    map[string]interface{}
		expected map[string]interface{}
		problems []string
	}{
		{
			name:     "defaults applied and enum canonicalized",
			input:    map[string]interface{}{"type": "Circle", "x": 10.0},
			expected: map[string]interface{}{"type": "circle", "x": 10.0, "width": 100.0},
		},
		{
			name:     "numeric strings coerced",
			input:    map[string]interface{}{"type": "circle", "x": "42", "columns": 3.0, "visible": "true"},
			expected: map[string]interface{}{"type": "circle", "x": 42.0, "width": 100.0, "columns": 3, "visible": true},
		},
		{
			name:     "named color normalized",
			input:    map[string]interface{}{"type": "circle", "x": 1, "color": "red"},
			expected: map[string]interface{}{"type": "circle", "x": 1.0, "width": 100.0, "color": "#FF0000"},
		},
		{
			name:     "array elements coerced to strings",
			input:    map[string]interface{}{"type": "circle", "x": 1, "ids": []interface{}{"a", 2.0}},
			expected: map[string]interface{}{"type": "circle", "x": 1.0, "width": 100.0, "ids": []interface{}{"a", "2"}},
		},
		{
			name:     "unknown keys dropped",
			input:    map[string]interface{}{"type": "circle", "x": 1, "bogus": true},
			expected: map[string]interface{}{"type": "circle", "x": 1.0, "width": 100.0},
		},
		{
			name:     "missing required fields",
			input:    map[string]interface{}{},
			problems: []string{"type is required", "x is required"},
		},
		{
			name:     "bad values",
			input:    map[string]interface{}{"type": "hexagon", "x": "left", "width": 0.0, "columns": 2.5, "meta": "x"},
			problems: []string{"type must be one of circle, rectangle", "x must be a number", "width must be at least 1", "columns must be an integer", "meta must be an object"},
		},
		{
			name:     "non-finite numbers rejected",
			input:    map[string]interface{}{"type": "circle", "x": "NaN", "width": "Inf", "columns": math.Inf(-1)},
			problems: []string{"x must be a finite number", "width must be a finite number", "columns must be a finite number"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := schema.Validate(tt.input)
			if tt.problems != nil {
				var verr *ValidationError
				require.ErrorAs(t, err, &verr)
				assert.Equal(t, tt.problems, verr.Problems)
				assert.Nil(t, out)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, out)
		})
	}
}

func TestSchemaJSONSchema(t *testing.T) {
	schema := Schema{Fields: []Field{
		{Name: "type", Type: TypeString, Required: true, Enum: []string{"circle"}, Description: "Shape"},
		{Name: "width", Type: TypeNumber, Default: 100.0, Minimum: Min(1)},
		{Name: "ids", Type: TypeArray},
	}}

	js := schema.JSONSchema()

	assert.Equal(t, "object", js["type"])
	assert.Equal(t, []string{"type"}, js["required"])
	props := js["properties"].(map[string]interface{})
	typ := props["type"].(map[string]interface{})
	assert.Equal(t, "string", typ["type"])
	assert.Equal(t, []string{"circle"}, typ["enum"])
	assert.Equal(t, "Shape", typ["description"])
	width := props["width"].(map[string]interface{})
	assert.Equal(t, 100.0, width["default"])
	assert.Equal(t, 1.0, width["minimum"])
	ids := props["ids"].(map[string]interface{})
	assert.Equal(t, map[string]interface{}{"type": "string"}, ids["items"])

	empty := Schema{}.JSONSchema()
	assert.Equal(t, []string{}, empty["required"])
}

func TestNormalizeColor(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"#ff0000", "#FF0000", false},
		{"ff0000", "#FF0000", false},
		{"#f00", "#FF0000", false},
		{" Blue ", "#0000FF", false},
		{"grey", "#808080", false},
		{"#12345", "", true},
		{"chartreuse-ish", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeColor(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
