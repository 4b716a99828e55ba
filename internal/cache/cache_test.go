package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRU_BasicGetPut(t *testing.T) {
	c := New[string, int](100, time.Hour, nil)

	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Put("a", 1)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	c.Put("a", 2)
	v, _ = c.Get("a")
	assert.Equal(t, 2, v)
}

func TestLRU_TTLExpiration(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := New[string, string](10, time.Minute, clock)

	c.Put("k", "v")
	clock.Advance(59 * time.Second)
	_, ok := c.Get("k")
	assert.True(t, ok)

	clock.Advance(2 * time.Second)
	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Stats().Entries, "expired entry removed")
}

func TestLRU_ZeroTTLNeverExpires(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := New[int, int](10, 0, clock)
	c.Put(1, 1)
	clock.Advance(24 * time.Hour)
	_, ok := c.Get(1)
	assert.True(t, ok)
}

func TestLRU_Eviction_AccessOrder(t *testing.T) {
	c := New[string, int](3, time.Hour, nil)
	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3)

	// Touch "a" so "b" becomes the oldest.
	_, _ = c.Get("a")
	c.Put("d", 4)

	_, ok := c.Get("b")
	assert.False(t, ok)
	for _, k := range []string{"a", "c", "d"} {
		_, ok := c.Get(k)
		assert.True(t, ok, k)
	}
}

func TestLRU_Delete(t *testing.T) {
	c := New[string, int](3, time.Hour, nil)
	c.Put("a", 1)
	c.Delete("a")
	c.Delete("missing")
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestLRU_Stats(t *testing.T) {
	c := New[string, int](5, time.Hour, nil)
	c.Put("a", 1)
	c.Get("a")
	c.Get("a")
	c.Get("b")

	s := c.Stats()
	assert.Equal(t, 1, s.Entries)
	assert.Equal(t, 5, s.MaxEntries)
	assert.Equal(t, int64(2), s.Hits)
	assert.Equal(t, int64(1), s.Misses)
	assert.InDelta(t, 0.667, s.HitRate, 0.001)
}

func TestLRU_Concurrent(t *testing.T) {
	c := New[string, int](50, time.Hour, nil)
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 200 {
				key := fmt.Sprintf("k%d", (i*200+j)%80)
				c.Put(key, j)
				c.Get(key)
			}
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Stats().Entries, 50)
}
