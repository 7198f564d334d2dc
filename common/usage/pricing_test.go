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

package usage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalculateCost(t *testing.T) {
	tests := []struct {
		name         string
		provider     string
		model        string
		inputTokens  int
		outputTokens int
		expected     int64
	}{
		{
			name:         "Claude Sonnet tool call",
			provider:     "anthropic",
			model:        "claude-3-5-sonnet-20241022",
			inputTokens:  1000,
			outputTokens: 200,
			expected:     3000 + 3000,
		},
		{
			name:         "Gemini Flash fast path",
			provider:     "gemini",
			model:        "gemini-2.0-flash",
			inputTokens:  2000,
			outputTokens: 100,
			expected:     200 + 40,
		},
		{
			name:         "Bedrock Claude",
			provider:     "bedrock",
			model:        "anthropic.claude-3-haiku-20240307-v1:0",
			inputTokens:  4000,
			outputTokens: 400,
			expected:     1000 + 500,
		},
		{
			name:         "Unknown model uses fallback pricing",
			provider:     "unknown",
			model:        "mystery",
			inputTokens:  100,
			outputTokens: 100,
			expected:     300 + 1500,
		},
		{
			name:     "Zero tokens",
			provider: "gemini",
			model:    "gemini-2.0-flash",
			expected: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CalculateCost(tt.provider, tt.model, tt.inputTokens, tt.outputTokens))
		})
	}
}

func TestGetProviderPricing(t *testing.T) {
	p, ok := GetProviderPricing("gemini", "gemini-2.0-flash")
	assert.True(t, ok)
	assert.Equal(t, int64(100_000), p.InputPerMTok)

	_, ok = GetProviderPricing("gemini", "does-not-exist")
	assert.False(t, ok)
}

func TestFormatMicroDollars(t *testing.T) {
	assert.Equal(t, "$0.001234", FormatMicroDollars(1234))
	assert.Equal(t, "$1.500000", FormatMicroDollars(1_500_000))
}
