package cache

import (
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLRU_Eviction(t *testing.T) {
	l := NewLRU(LRUOpts{Size: 2})

	l.Put("a", 1)
	l.Put("b", 2)

	val, ok := l.Get("a")
	require.True(t, ok)
	require.Equal(t, 1, val)

	// "a" was read last, so "b" goes
	l.Put("c", 3)

	_, ok = l.Get("b")
	require.False(t, ok)

	val, ok = l.Get("c")
	require.True(t, ok)
	require.Equal(t, 3, val)
	require.Equal(t, 2, l.Len())
}

func TestLRU_Update(t *testing.T) {
	l := NewLRU(LRUOpts{Size: 2})
	l.Put("a", 1)
	l.Put("a", 2)

	val, ok := l.Get("a")
	require.True(t, ok)
	require.Equal(t, 2, val)
	require.Equal(t, 1, l.Len())
}

func TestLRU_Delete(t *testing.T) {
	l := NewLRU(LRUOpts{})
	l.Put("a", 1)
	l.Delete("a")
	l.Delete("missing")

	_, ok := l.Get("a")
	require.False(t, ok)
	require.Zero(t, l.Len())
}

func TestLRU_TTL(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewLRU(LRUOpts{Now: func() time.Time { return now }})

	l.Put("short", 1, WithTTL(time.Minute))
	l.Put("forever", 2)

	_, ok := l.Get("short")
	require.True(t, ok)

	now = now.Add(time.Minute)
	_, ok = l.Get("short")
	require.False(t, ok)

	_, ok = l.Get("forever")
	require.True(t, ok)
	require.Equal(t, 1, l.Len())
}

func TestLRU_Concurrent(t *testing.T) {
	l := NewLRU(LRUOpts{Size: 16})
	var wg sync.WaitGroup
	for i := range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			k := strconv.Itoa(i % 20)
			l.Put(k, i)
			l.Get(k)
			if i%3 == 0 {
				l.Delete(k)
			}
		}()
	}
	wg.Wait()
	require.LessOrEqual(t, l.Len(), 16)
}

func TestTyped(t *testing.T) {
	raw := NewLRU(LRUOpts{})
	c := NewTyped[string](raw)

	c.Put("a", "x")
	v, ok := c.Get("a")
	require.True(t, ok)
	require.Equal(t, "x", v)

	raw.Put("b", 42)
	_, ok = c.Get("b")
	require.False(t, ok)

	c.Delete("a")
	_, ok = c.Get("a")
	require.False(t, ok)
}
