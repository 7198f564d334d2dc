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
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// FieldType is the JSON type of a tool input field.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeNumber  FieldType = "number"
	TypeInteger FieldType = "integer"
	TypeBoolean FieldType = "boolean"
	TypeArray   FieldType = "array"
	TypeObject  FieldType = "object"
)

// FormatColor marks a string field holding a color; values are normalized
// to upper-case #RRGGBB.
const FormatColor = "color"

// Field describes one input field of a tool.
type Field struct {
	Name        string
	Type        FieldType
	Description string
	Required    bool
	Default     interface{}
	Enum        []string
	Items       FieldType // element type for arrays
	Minimum     *float64
	Format      string
}

// Schema is the ordered list of fields a tool accepts.
type Schema struct {
	Fields []Field
}

// Min is a helper for Field.Minimum.
func Min(v float64) *float64 { return &v }

// ValidationError lists every problem found in one tool input.
type ValidationError struct {
	Tool     string
	Problems []string
}

func (e *ValidationError) Error() string {
	if e.Tool == "" {
		return "invalid input: " + strings.Join(e.Problems, "; ")
	}
	return fmt.Sprintf("invalid input for %s: %s", e.Tool, strings.Join(e.Problems, "; "))
}

// JSONSchema renders the schema in the JSON Schema form providers expect.
func (s Schema) JSONSchema() map[string]interface{} {
	properties := make(map[string]interface{}, len(s.Fields))
	required := []string{}
	for _, f := range s.Fields {
		prop := map[string]interface{}{"type": string(f.Type)}
		if f.Description != "" {
			prop["description"] = f.Description
		}
		if len(f.Enum) > 0 {
			prop["enum"] = f.Enum
		}
		if f.Default != nil {
			prop["default"] = f.Default
		}
		if f.Minimum != nil {
			prop["minimum"] = *f.Minimum
		}
		if f.Type == TypeArray {
			items := f.Items
			if items == "" {
				items = TypeString
			}
			prop["items"] = map[string]interface{}{"type": string(items)}
		}
		properties[f.Name] = prop
		if f.Required {
			required = append(required, f.Name)
		}
	}
	return map[string]interface{}{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

// Validate checks input against the schema and returns a normalized copy:
// defaults applied, values coerced to their declared types, unknown keys
// dropped.
func (s Schema) Validate(input map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(s.Fields))
	var problems []string

	for _, f := range s.Fields {
		raw, present := input[f.Name]
		if !present || raw == nil || raw == "" {
			switch {
			case f.Default != nil:
				out[f.Name] = f.Default
			case f.Required:
				problems = append(problems, fmt.Sprintf("%s is required", f.Name))
			}
			continue
		}

		v, err := coerce(f, raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s %v", f.Name, err))
			continue
		}
		out[f.Name] = v
	}

	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}
	return out, nil
}

func coerce(f Field, raw interface{}) (interface{}, error) {
	switch f.Type {
	case TypeString:
		s, err := toString(raw)
		if err != nil {
			return nil, err
		}
		if f.Format == FormatColor {
			return NormalizeColor(s)
		}
		if len(f.Enum) > 0 {
			return matchEnum(f.Enum, s)
		}
		return s, nil

	case TypeNumber:
		n, err := toNumber(raw)
		if err != nil {
			return nil, err
		}
		if f.Minimum != nil && n < *f.Minimum {
			return nil, fmt.Errorf("must be at least %v", *f.Minimum)
		}
		return n, nil

	case TypeInteger:
		n, err := toNumber(raw)
		if err != nil {
			return nil, err
		}
		if n != math.Trunc(n) {
			return nil, fmt.Errorf("must be an integer")
		}
		if f.Minimum != nil && n < *f.Minimum {
			return nil, fmt.Errorf("must be at least %v", *f.Minimum)
		}
		return int(n), nil

	case TypeBoolean:
		switch b := raw.(type) {
		case bool:
			return b, nil
		case string:
			parsed, err := strconv.ParseBool(strings.TrimSpace(b))
			if err != nil {
				return nil, fmt.Errorf("must be a boolean")
			}
			return parsed, nil
		}
		return nil, fmt.Errorf("must be a boolean")

	case TypeArray:
		items, ok := toSlice(raw)
		if !ok {
			return nil, fmt.Errorf("must be an array")
		}
		elemType := f.Items
		if elemType == "" {
			elemType = TypeString
		}
		out := make([]interface{}, 0, len(items))
		for i, item := range items {
			v, err := coerce(Field{Type: elemType}, item)
			if err != nil {
				return nil, fmt.Errorf("[%d] %v", i, err)
			}
			out = append(out, v)
		}
		return out, nil

	case TypeObject:
		m, ok := raw.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("must be an object")
		}
		return m, nil
	}
	return nil, fmt.Errorf("has unsupported type %q", f.Type)
}

func toString(raw interface{}) (string, error) {
	switch v := raw.(type) {
	case string:
		return strings.TrimSpace(v), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	}
	return "", fmt.Errorf("must be a string")
}

func toNumber(raw interface{}) (float64, error) {
	n, err := parseNumber(raw)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, fmt.Errorf("must be a finite number")
	}
	return n, nil
}

func parseNumber(raw interface{}) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("must be a number")
		}
		return n, nil
	}
	return 0, fmt.Errorf("must be a number")
}

func toSlice(raw interface{}) ([]interface{}, bool) {
	switch v := raw.(type) {
	case []interface{}:
		return v, true
	case []string:
		out := make([]interface{}, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, true
	}
	return nil, false
}

func matchEnum(enum []string, s string) (string, error) {
	for _, allowed := range enum {
		if strings.EqualFold(allowed, s) {
			return allowed, nil
		}
	}
	sorted := append([]string(nil), enum...)
	sort.Strings(sorted)
	return "", fmt.Errorf("must be one of %s", strings.Join(sorted, ", "))
}

var hexColor = regexp.MustCompile(`^#?([0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

var namedColors = map[string]string{
	"red":    "#FF0000",
	"green":  "#00FF00",
	"blue":   "#0000FF",
	"black":  "#000000",
	"white":  "#FFFFFF",
	"yellow": "#FFFF00",
	"orange": "#FFA500",
	"purple": "#800080",
	"pink":   "#FFC0CB",
	"gray":   "#808080",
	"grey":   "#808080",
	"brown":  "#A52A2A",
	"cyan":   "#00FFFF",
}

// NormalizeColor converts a color name or hex string to upper-case #RRGGBB.
func NormalizeColor(s string) (string, error) {
	s = strings.TrimSpace(s)
	if hex, ok := namedColors[strings.ToLower(s)]; ok {
		return hex, nil
	}
	m := hexColor.FindStringSubmatch(s)
	if m == nil {
		return "", fmt.Errorf("must be a hex color or color name")
	}
	digits := strings.ToUpper(m[1])
	if len(digits) == 3 {
		digits = string([]byte{digits[0], digits[0], digits[1], digits[1], digits[2], digits[2]})
	}
	return "#" + digits, nil
}
