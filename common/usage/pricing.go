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

// Package usage estimates what a provider call cost from its token usage.
package usage

import "fmt"

// Prices are stored in micro-dollars per one million tokens so that the
// per-command estimate stays an integer.

// ProviderPricing contains pricing for a specific model
type ProviderPricing struct {
	InputPerMTok  int64 // micro-dollars per 1M input tokens
	OutputPerMTok int64 // micro-dollars per 1M output tokens
}

// providerPricing maps provider-model combinations to pricing
var providerPricing = map[string]ProviderPricing{
	"anthropic-claude-sonnet-4-20250514":  {3_000_000, 15_000_000},
	"anthropic-claude-3-5-sonnet-20241022": {3_000_000, 15_000_000},
	"anthropic-claude-3-5-haiku-20241022":  {800_000, 4_000_000},
	"anthropic-claude-3-haiku-20240307":    {250_000, 1_250_000},

	"gemini-gemini-2.0-flash":      {100_000, 400_000},
	"gemini-gemini-2.0-flash-lite": {75_000, 300_000},
	"gemini-gemini-2.5-flash":      {300_000, 2_500_000},

	"bedrock-anthropic.claude-3-5-sonnet-20240620-v1:0": {3_000_000, 15_000_000},
	"bedrock-anthropic.claude-3-haiku-20240307-v1:0":    {250_000, 1_250_000},

	// Conservative fallback for models not listed above
	"default": {3_000_000, 15_000_000},
}

// CalculateCost returns the estimated cost of a call in micro-dollars.
func CalculateCost(provider, model string, inputTokens, outputTokens int) int64 {
	pricing, ok := providerPricing[provider+"-"+model]
	if !ok {
		pricing = providerPricing["default"]
	}

	inputCost := int64(inputTokens) * pricing.InputPerMTok / 1_000_000
	outputCost := int64(outputTokens) * pricing.OutputPerMTok / 1_000_000

	return inputCost + outputCost
}

// GetProviderPricing returns the pricing for a specific provider-model combination
func GetProviderPricing(provider, model string) (ProviderPricing, bool) {
	pricing, ok := providerPricing[provider+"-"+model]
	return pricing, ok
}

// FormatMicroDollars renders a micro-dollar amount, e.g. 1234 -> "$0.001234".
func FormatMicroDollars(micros int64) string {
	return fmt.Sprintf("$%.6f", float64(micros)/1_000_000)
}
