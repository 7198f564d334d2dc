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

package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

// newMiniredisClient starts an in-process Redis for the test.
func newMiniredisClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

// limiterFactories runs the same behavioural tests against both backends.
func limiterFactories(t *testing.T) map[string]func(Config, *stepClock) Limiter {
	return map[string]func(Config, *stepClock) Limiter{
		"memory": func(cfg Config, clock *stepClock) Limiter {
			l := NewMemoryLimiter(cfg)
			l.SetClock(clock.Now)
			return l
		},
		"redis": func(cfg Config, clock *stepClock) Limiter {
			_, client := newMiniredisClient(t)
			l := NewRedisLimiter(client, cfg)
			l.SetClock(clock.Now)
			return l
		},
	}
}

func TestLimiter_ExactBudgetThenReject(t *testing.T) {
	for name, factory := range limiterFactories(t) {
		t.Run(name, func(t *testing.T) {
			clock := newStepClock()
			l := factory(Config{MaxRequests: 5, Window: time.Minute}, clock)
			ctx := context.Background()

			for i := 0; i < 5; i++ {
				require.NoError(t, l.Check(ctx, "gemini"), "call %d should pass", i+1)
				clock.Advance(time.Second)
			}

			err := l.Check(ctx, "gemini")
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrRateLimited))

			var rejected *RejectedError
			require.True(t, errors.As(err, &rejected))
			assert.Equal(t, "gemini", rejected.Provider)
			assert.Equal(t, 5, rejected.Limit)
			assert.Equal(t, 55*time.Second, rejected.RetryAfter)

			count, err := l.Count(ctx, "gemini")
			require.NoError(t, err)
			assert.Equal(t, 5, count)
		})
	}
}

func TestLimiter_RecoversAfterWindow(t *testing.T) {
	for name, factory := range limiterFactories(t) {
		t.Run(name, func(t *testing.T) {
			clock := newStepClock()
			l := factory(Config{MaxRequests: 3, Window: time.Minute}, clock)
			ctx := context.Background()

			for i := 0; i < 3; i++ {
				require.NoError(t, l.Check(ctx, "anthropic"))
			}
			require.Error(t, l.Check(ctx, "anthropic"))

			clock.Advance(time.Minute + time.Millisecond)

			for i := 0; i < 3; i++ {
				require.NoError(t, l.Check(ctx, "anthropic"))
			}
			require.Error(t, l.Check(ctx, "anthropic"))
		})
	}
}

func TestLimiter_ProvidersAreIndependent(t *testing.T) {
	for name, factory := range limiterFactories(t) {
		t.Run(name, func(t *testing.T) {
			l := factory(Config{MaxRequests: 1, Window: time.Minute}, newStepClock())
			ctx := context.Background()

			require.NoError(t, l.Check(ctx, "anthropic"))
			require.Error(t, l.Check(ctx, "anthropic"))
			require.NoError(t, l.Check(ctx, "gemini"))
		})
	}
}

func TestMemoryLimiter_Defaults(t *testing.T) {
	l := NewMemoryLimiter(Config{})
	assert.Equal(t, DefaultMaxRequests, l.Config().MaxRequests)
	assert.Equal(t, DefaultWindow, l.Config().Window)
}

func TestMemoryLimiter_ConcurrentChecks(t *testing.T) {
	l := NewMemoryLimiter(Config{MaxRequests: 60, Window: time.Minute})
	ctx := context.Background()

	var passed int32
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Check(ctx, "gemini") == nil {
				atomic.AddInt32(&passed, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(60), passed)
}

func TestRedisLimiter_ConcurrentChecks(t *testing.T) {
	mr, client := newMiniredisClient(t)
	l := NewRedisLimiter(client, Config{MaxRequests: 10, Window: time.Minute})
	ctx := context.Background()

	var passed int32
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Check(ctx, "gemini") == nil {
				atomic.AddInt32(&passed, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(10), passed)

	members, err := mr.ZMembers("ratelimit:provider:gemini")
	require.NoError(t, err)
	assert.Len(t, members, 10)

	count, err := l.Count(ctx, "gemini")
	require.NoError(t, err)
	assert.Equal(t, 10, count)
}

func TestRedisLimiter_NilClientFallsBackToMemory(t *testing.T) {
	l := NewRedisLimiter(nil, Config{MaxRequests: 2, Window: time.Minute})
	ctx := context.Background()

	require.NoError(t, l.Check(ctx, "p"))
	require.NoError(t, l.Check(ctx, "p"))
	require.Error(t, l.Check(ctx, "p"))

	count, err := l.Count(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestRedisLimiter_FailsOpenOnRedisError(t *testing.T) {
	mr, client := newMiniredisClient(t)
	l := NewRedisLimiter(client, Config{MaxRequests: 1, Window: time.Minute})
	mr.Close()

	assert.NoError(t, l.Check(context.Background(), "p"))
	assert.NoError(t, l.Check(context.Background(), "p"))
}

func TestRedisLimiter_KeyLayoutAndFlush(t *testing.T) {
	mr, client := newMiniredisClient(t)
	l := NewRedisLimiter(client, Config{MaxRequests: 10, Window: time.Minute})
	ctx := context.Background()

	require.NoError(t, l.Check(ctx, "bedrock"))
	assert.True(t, mr.Exists("ratelimit:provider:bedrock"))
	assert.Equal(t, 2*time.Minute, mr.TTL("ratelimit:provider:bedrock"))

	require.NoError(t, l.Flush(ctx, "bedrock"))
	assert.False(t, mr.Exists("ratelimit:provider:bedrock"))
}

func TestConnect(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := Connect(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	_ = client.Close()

	_, err = Connect(context.Background(), "http://localhost:6379")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse")
}
