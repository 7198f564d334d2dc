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

package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	events "canvasflow/platform/connectors/redis"
	"canvasflow/platform/orchestrator/canvas"
	"canvasflow/platform/orchestrator/ratelimit"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := rootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestClassifyCommand(t *testing.T) {
	out, err := run(t, "classify", "create", "a", "login", "form")
	require.NoError(t, err)
	assert.Equal(t, "capable (composite_construct) matched: login, form\n", out)

	out, err = run(t, "classify", "create a red circle at 100,100")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "fast (simple_command)"))
}

func TestConfigExampleCommand(t *testing.T) {
	out, err := run(t, "config", "example")
	require.NoError(t, err)
	assert.Contains(t, out, "circuit_breaker:")
	assert.Contains(t, out, "rate_limit:")
}

func TestExecCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success": true, "request_id": "r1", "classification": "fast", "rule": "simple_command",
			"provider_used": "anthropic", "fell_back": true, "cost_micros": 1500, "duration_ms": 840,
			"results": [{"tool": "create_shape", "success": true},
			            {"tool": "move_object", "success": false, "error": {"kind": "domain_error", "message": "object x does not exist"}}]}`))
	}))
	defer srv.Close()

	out, err := run(t, "exec", "--server", srv.URL, "--canvas", "board-1", "create a red circle at 100,100")
	require.NoError(t, err)
	assert.Contains(t, out, "fast via anthropic (fallback) (simple_command)")
	assert.Contains(t, out, "1. create_shape  ok")
	assert.Contains(t, out, "2. move_object  domain_error: object x does not exist")
}

func TestExecCommand_RequiresCanvas(t *testing.T) {
	t.Setenv("CANVASFLOW_CANVAS", "")
	_, err := run(t, "exec", "create a circle")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--canvas is required")
}

func TestWatch(t *testing.T) {
	mr := miniredis.RunT(t)
	url := "redis://" + mr.Addr()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var out safeBuffer
	done := make(chan error, 1)
	go func() { done <- watch(ctx, &out, url, "board-1") }()

	require.Eventually(t, func() bool { return strings.Contains(out.String(), "Watching") }, 2*time.Second, 10*time.Millisecond)

	rdb, err := ratelimit.Connect(ctx, url)
	require.NoError(t, err)
	defer rdb.Close()

	pub := events.NewPublisher(rdb)
	entity := canvas.NewEntity("board-1", "circle", nil)
	require.Eventually(t, func() bool {
		pub.Publish(context.Background(), canvas.NewEvent(canvas.EventObjectCreated, entity))
		_ = pub.Flush(context.Background())
		return strings.Contains(out.String(), entity.ID)
	}, 2*time.Second, 50*time.Millisecond)
	assert.Contains(t, out.String(), canvas.EventObjectCreated)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}
}

type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
