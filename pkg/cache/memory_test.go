package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestCache(capacity int, ttl time.Duration) (*MemoryCache, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewMemoryCache(capacity, ttl)
	c.now = clock.now
	return c, clock
}

func TestMemoryCache_HitAndMiss(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(10, time.Minute)

	_, ok, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "k", []byte("v")))
	got, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), got)
}

func TestMemoryCache_Expiry(t *testing.T) {
	ctx := context.Background()
	c, clock := newTestCache(10, 5*time.Minute)

	require.NoError(t, c.Set(ctx, "k", []byte("v")))

	clock.advance(4*time.Minute + 59*time.Second)
	_, ok, _ := c.Get(ctx, "k")
	assert.True(t, ok)

	clock.advance(time.Second)
	_, ok, _ = c.Get(ctx, "k")
	assert.False(t, ok, "entry expires at exactly ttl")
	assert.Equal(t, 0, c.Len())
}

func TestMemoryCache_EvictsOldestFirst(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(3, time.Minute)

	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, c.Set(ctx, k, []byte(k)))
	}
	// Reading a does not protect it.
	_, _, _ = c.Get(ctx, "a")
	require.NoError(t, c.Set(ctx, "d", []byte("d")))

	_, ok, _ := c.Get(ctx, "a")
	assert.False(t, ok)
	for _, k := range []string{"b", "c", "d"} {
		_, ok, _ := c.Get(ctx, k)
		assert.True(t, ok, k)
	}
	assert.Equal(t, 3, c.Len())
}

func TestMemoryCache_OverwriteKeepsSize(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(2, time.Minute)

	require.NoError(t, c.Set(ctx, "a", []byte("1")))
	require.NoError(t, c.Set(ctx, "a", []byte("2")))
	assert.Equal(t, 1, c.Len())

	got, _, _ := c.Get(ctx, "a")
	assert.Equal(t, []byte("2"), got)
}

func TestMemoryCache_Concurrent(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(100, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				key := fmt.Sprintf("k%d", (i*50+j)%150)
				_ = c.Set(ctx, key, []byte(key))
				_, _, _ = c.Get(ctx, key)
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Len(), 100)
}
