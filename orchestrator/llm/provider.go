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

package llm

import (
	"context"
	"time"
)

// Provider wraps one language-model backend behind a uniform contract.
//
// Implementations perform exactly one network request per Call, bounded by
// their configured timeout and ctx, and never retry internally: retry and
// fallback belong to the caller. Every failure is returned as a
// *ProviderError.
type Provider interface {
	// Name returns the unique provider identifier.
	Name() string

	// Call sends the command and tool schemas and returns the parsed result.
	Call(ctx context.Context, command string, tools []ToolSchema, opts CallOptions) (*CallResult, error)

	// Probe issues the cheapest request that proves the backend is reachable.
	Probe(ctx context.Context) error

	// AverageLatency is the static latency descriptor used for selection.
	AverageLatency() time.Duration

	// MaxOutputTokens is the static output cap used for requests and logging.
	MaxOutputTokens() int
}

// CredentialSource resolves a provider's API key at call time so rotated
// secrets are picked up without a restart.
type CredentialSource interface {
	APIKey(ctx context.Context, provider string) (string, error)
}

// ResolveAPIKey returns the static key when set, otherwise asks source.
// Any failure is reported as missing_credentials for provider.
func ResolveAPIKey(ctx context.Context, provider, static string, source CredentialSource) (string, error) {
	if static != "" {
		return static, nil
	}
	if source == nil {
		return "", NewMissingCredentialsError(provider)
	}
	key, err := source.APIKey(ctx, provider)
	if err != nil || key == "" {
		pe := NewMissingCredentialsError(provider)
		pe.Cause = err
		return "", pe
	}
	return key, nil
}
