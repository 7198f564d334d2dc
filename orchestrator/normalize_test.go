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
	"testing"

	"github.com/stretchr/testify/assert"

	"canvasflow/platform/orchestrator/llm"
)

func TestNormalizeCalls(t *testing.T) {
	aliases := map[string]string{
		"obj1": "0b7c-circle",
		"obj2": "a91e-square",
	}

	tests := []struct {
		name  string
		input map[string]interface{}
		want  map[string]interface{}
	}{
		{
			name:  "alias",
			input: map[string]interface{}{"id": "obj1", "x": 10.0},
			want:  map[string]interface{}{"id": "0b7c-circle", "x": 10.0},
		},
		{
			name:  "alias variants",
			input: map[string]interface{}{"id": "Object 2", "parent_id": "#1"},
			want:  map[string]interface{}{"id": "a91e-square", "parent_id": "0b7c-circle"},
		},
		{
			name:  "quoted and padded",
			input: map[string]interface{}{"id": "  \"obj_2\" "},
			want:  map[string]interface{}{"id": "a91e-square"},
		},
		{
			name:  "bare index",
			input: map[string]interface{}{"id": 1.0},
			want:  map[string]interface{}{"id": "0b7c-circle"},
		},
		{
			name:  "unknown number stays a string",
			input: map[string]interface{}{"id": 42.0},
			want:  map[string]interface{}{"id": "42"},
		},
		{
			name:  "real id untouched",
			input: map[string]interface{}{"id": "f00d-uuid"},
			want:  map[string]interface{}{"id": "f00d-uuid"},
		},
		{
			name:  "id list",
			input: map[string]interface{}{"ids": []interface{}{"obj1", " obj2 ", "other"}},
			want:  map[string]interface{}{"ids": []interface{}{"0b7c-circle", "a91e-square", "other"}},
		},
		{
			name:  "comma separated list",
			input: map[string]interface{}{"ids": "obj1, obj2,"},
			want:  map[string]interface{}{"ids": []interface{}{"0b7c-circle", "a91e-square"}},
		},
		{
			name:  "non id fields untouched",
			input: map[string]interface{}{"text": "obj1", "width": 5.0},
			want:  map[string]interface{}{"text": "obj1", "width": 5.0},
		},
		{
			name:  "unsupported type left for validation",
			input: map[string]interface{}{"id": true},
			want:  map[string]interface{}{"id": true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := normalizeCalls([]llm.ToolCall{{Name: "move_object", Input: tt.input}}, aliases)
			assert.Equal(t, tt.want, out[0].Input)
			assert.Equal(t, "move_object", out[0].Name)
		})
	}
}

func TestNormalizeCalls_DoesNotMutateInput(t *testing.T) {
	in := []llm.ToolCall{{ID: "call-1", Name: "delete_object", Input: map[string]interface{}{"id": "obj1"}}}
	out := normalizeCalls(in, map[string]string{"obj1": "real"})

	assert.Equal(t, "obj1", in[0].Input["id"])
	assert.Equal(t, "real", out[0].Input["id"])
	assert.Equal(t, "call-1", out[0].ID)
}

func TestNormalizeCalls_NilInput(t *testing.T) {
	out := normalizeCalls([]llm.ToolCall{{Name: "get_canvas_state"}}, nil)
	assert.Nil(t, out[0].Input)
}
