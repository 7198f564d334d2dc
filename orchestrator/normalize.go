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
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"canvasflow/platform/orchestrator/llm"
)

// aliasPattern matches obj2, obj_2, object 2 and #2.
var aliasPattern = regexp.MustCompile(`^(?:obj(?:ect)?[\s_-]*|#)(\d+)$`)

var bareNumber = regexp.MustCompile(`^\d+$`)

// normalizeCalls returns copies of calls whose identifier fields are in
// canonical form: trimmed strings, with selection aliases resolved.
func normalizeCalls(calls []llm.ToolCall, aliases map[string]string) []llm.ToolCall {
	out := make([]llm.ToolCall, len(calls))
	for i, c := range calls {
		out[i] = llm.ToolCall{ID: c.ID, Name: c.Name, Input: normalizeInput(c.Input, aliases)}
	}
	return out
}

func normalizeInput(in map[string]interface{}, aliases map[string]string) map[string]interface{} {
	if in == nil {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		switch {
		case isListIDKey(k):
			out[k] = normalizeIDList(v, aliases)
		case isIDKey(k):
			out[k] = normalizeID(v, aliases)
		default:
			out[k] = v
		}
	}
	return out
}

func isIDKey(k string) bool {
	return k == "id" || strings.HasSuffix(k, "_id")
}

func isListIDKey(k string) bool {
	return k == "ids" || strings.HasSuffix(k, "_ids")
}

func normalizeIDList(v interface{}, aliases map[string]string) interface{} {
	switch list := v.(type) {
	case []interface{}:
		out := make([]interface{}, len(list))
		for i, item := range list {
			out[i] = normalizeID(item, aliases)
		}
		return out
	case []string:
		out := make([]interface{}, len(list))
		for i, item := range list {
			out[i] = canonicalID(item, aliases)
		}
		return out
	case string:
		// "obj1, obj2" from models that ignore the array type
		parts := strings.Split(list, ",")
		out := make([]interface{}, 0, len(parts))
		for _, p := range parts {
			if id := canonicalID(p, aliases); id != "" {
				out = append(out, id)
			}
		}
		return out
	default:
		return normalizeID(v, aliases)
	}
}

// normalizeID converts a scalar identifier to its canonical string form.
// Values of other types are returned unchanged for the validator to reject.
func normalizeID(v interface{}, aliases map[string]string) interface{} {
	switch id := v.(type) {
	case string:
		return canonicalID(id, aliases)
	case float64:
		return canonicalID(strconv.FormatFloat(id, 'f', -1, 64), aliases)
	case int:
		return canonicalID(strconv.Itoa(id), aliases)
	case int64:
		return canonicalID(strconv.FormatInt(id, 10), aliases)
	case json.Number:
		return canonicalID(id.String(), aliases)
	default:
		return v
	}
}

func canonicalID(s string, aliases map[string]string) string {
	s = strings.Trim(strings.TrimSpace(s), "\"'`")
	s = strings.TrimSpace(s)

	if m := aliasPattern.FindStringSubmatch(strings.ToLower(s)); m != nil {
		if id, ok := aliases["obj"+m[1]]; ok {
			return id
		}
	}
	// A bare index resolves to the selected object with that number.
	if bareNumber.MatchString(s) {
		if id, ok := aliases["obj"+s]; ok {
			return id
		}
	}
	return s
}
