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

import "canvasflow/platform/orchestrator/llm"

// segment is a run of calls executed the same way.
type segment struct {
	calls []llm.ToolCall
	batch bool
}

// partition splits calls into maximal runs of batchable creates and single
// other calls, preserving order. Runs shorter than two are not batched.
func partition(calls []llm.ToolCall, batchable func(string) bool) []segment {
	var segs []segment
	for i := 0; i < len(calls); {
		if !batchable(calls[i].Name) {
			segs = append(segs, segment{calls: calls[i : i+1]})
			i++
			continue
		}
		j := i
		for j < len(calls) && batchable(calls[j].Name) {
			j++
		}
		segs = append(segs, segment{calls: calls[i:j], batch: j-i >= 2})
		i = j
	}
	return segs
}
