package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_SetGet(t *testing.T) {
	c := New[string](10, time.Minute, nil)
	c.Set("k1", "v1", 0)

	v, ok := c.Get("k1")
	require.True(t, ok)
	assert.Equal(t, "v1", v)
}

func TestCache_MissOnUnknownKey(t *testing.T) {
	c := New[string](10, time.Minute, nil)
	_, ok := c.Get("nope")
	assert.False(t, ok)
}

func TestCache_LazyTTLExpiry(t *testing.T) {
	c := New[string](10, time.Millisecond, nil)
	c.Set("k1", "v1", time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	_, ok := c.Get("k1")
	assert.False(t, ok, "entry past its TTL must lazily expire on Get")
}

func TestCache_GetOrCompute_SingleFlight(t *testing.T) {
	c := New[int](10, time.Minute, nil)
	var calls int32

	const n = 20
	var wg sync.WaitGroup
	results := make([]int, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			v, err := c.GetOrCompute(context.Background(), "shared-key", func(ctx context.Context) (int, time.Duration, error) {
				atomic.AddInt32(&calls, 1)
				time.Sleep(10 * time.Millisecond)
				return 42, time.Minute, nil
			})
			require.NoError(t, err)
			results[i] = v
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, calls, "compute must run exactly once across concurrent callers")
	for _, v := range results {
		assert.Equal(t, 42, v)
	}
}

func TestCache_GetOrCompute_ErrorNotCached(t *testing.T) {
	c := New[int](10, time.Minute, nil)
	boom := errors.New("boom")
	var calls int32

	compute := func(ctx context.Context) (int, time.Duration, error) {
		atomic.AddInt32(&calls, 1)
		return 0, time.Minute, boom
	}

	_, err := c.GetOrCompute(context.Background(), "k", compute)
	assert.ErrorIs(t, err, boom)

	_, err = c.GetOrCompute(context.Background(), "k", compute)
	assert.ErrorIs(t, err, boom)
	assert.EqualValues(t, 2, calls, "a failed compute must not be cached; the next caller retries")
}

func TestCache_HitRecorderCalledOnHitAndMiss(t *testing.T) {
	var hits, misses int
	c := New[string](10, time.Minute, func(key string, hit bool) {
		if hit {
			hits++
		} else {
			misses++
		}
	})

	_, _ = c.Get("absent")
	c.Set("present", "v", 0)
	_, _ = c.Get("present")

	assert.Equal(t, 1, hits)
	assert.Equal(t, 1, misses)
}

func TestNormalizeKey_TrimAndCaseInsensitive(t *testing.T) {
	k1 := NormalizeKey("retrieve", map[string]any{"query": "  Hello World  "}, nil, "teacher")
	k2 := NormalizeKey("retrieve", map[string]any{"query": "hello world"}, nil, "teacher")
	assert.Equal(t, k1, k2)
}

func TestNormalizeKey_DifferentStageDiffers(t *testing.T) {
	k1 := NormalizeKey("retrieve", map[string]any{"query": "hi"}, nil, "teacher")
	k2 := NormalizeKey("expand", map[string]any{"query": "hi"}, nil, "teacher")
	assert.NotEqual(t, k1, k2)
}
