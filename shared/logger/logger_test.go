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

package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []LogEntry {
	t.Helper()
	var entries []LogEntry
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry LogEntry
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		entries = append(entries, entry)
	}
	return entries
}

func TestNew(t *testing.T) {
	tests := []struct {
		name           string
		instanceID     string
		expectedInstID string
	}{
		{name: "with instance ID set", instanceID: "instance-123", expectedInstID: "instance-123"},
		{name: "without instance ID", instanceID: "", expectedInstID: "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("INSTANCE_ID", tt.instanceID)

			l := New("orchestrator")

			assert.Equal(t, "orchestrator", l.Component)
			assert.Equal(t, tt.expectedInstID, l.InstanceID)
			assert.NotEmpty(t, l.Container)
		})
	}
}

func TestLogLevels(t *testing.T) {
	tests := []struct {
		name    string
		logFunc func(*Logger, string, string, string, map[string]interface{})
		level   LogLevel
	}{
		{"Info", (*Logger).Info, INFO},
		{"Warn", (*Logger).Warn, WARN},
		{"Error", (*Logger).Error, ERROR},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			l := NewWithWriter("tools", &buf)
			l.MinLevel = DEBUG

			tt.logFunc(l, "canvas-1", "req-1", "hello", map[string]interface{}{"k": "v"})

			entries := decodeLines(t, &buf)
			require.Len(t, entries, 1)
			assert.Equal(t, tt.level, entries[0].Level)
			assert.Equal(t, "tools", entries[0].Component)
			assert.Equal(t, "canvas-1", entries[0].CanvasID)
			assert.Equal(t, "req-1", entries[0].RequestID)
			assert.Equal(t, "hello", entries[0].Message)
			assert.Equal(t, "v", entries[0].Fields["k"])
		})
	}
}

func TestMinLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("health", &buf)
	l.MinLevel = INFO

	l.Debug("", "", "dropped", nil)
	assert.Empty(t, buf.String())

	l.MinLevel = DEBUG
	l.Debug("", "", "kept", nil)
	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "kept", entries[0].Message)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, WARN, ParseLevel(" Warn "))
	assert.Equal(t, ERROR, ParseLevel("ERROR"))
	assert.Equal(t, INFO, ParseLevel(""))
	assert.Equal(t, INFO, ParseLevel("verbose"))
}

func TestInfoWithDuration(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("orchestrator", &buf)
	l.MinLevel = DEBUG

	l.InfoWithDuration("c", "r", "done", 12.5, nil)

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, 12.5, entries[0].Fields["duration_ms"])
}

func TestErrorWithCode(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("orchestrator", &buf)

	l.ErrorWithCode("c", "r", "failed", 503, errors.New("boom"), map[string]interface{}{"provider": "gemini"})

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, ERROR, entries[0].Level)
	assert.Equal(t, float64(503), entries[0].Fields["status_code"])
	assert.Equal(t, "boom", entries[0].Fields["error"])
	assert.Equal(t, "gemini", entries[0].Fields["provider"])
}
