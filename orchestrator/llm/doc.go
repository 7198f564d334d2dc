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

/*
Package llm defines the contract between the orchestrator and the
language-model backends it routes canvas commands to.

# Provider contract

A Provider turns one enriched command plus the registered tool schemas into
a CallResult holding structured ToolCalls or a plain-text reply:

	result, err := provider.Call(ctx, command, registry.Schemas(), llm.CallOptions{})
	if pe, ok := llm.AsProviderError(err); ok && pe.ShouldFallback() {
	    // try the alternate provider once
	}

Adapters live in sub-packages (anthropic, gemini, bedrock). Each performs a
single bounded request and reports failures as one of four ProviderError
kinds: missing_credentials, request_failed, http_error, malformed_response.

# Health monitoring

HealthMonitor probes every provider on its own schedule (default every five
minutes) with a probe timeout that is independent of user requests, and
classifies each result:

  - healthy: probe succeeded in under one second
  - degraded: probe succeeded in one to three seconds
  - unhealthy: probe failed or took longer than three seconds

The monitor never gates calls. The orchestrator reads it when choosing which
provider to try first, and the inspection API exposes it to dashboards.
*/
package llm
