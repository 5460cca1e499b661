package util_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/weftworks/weft/internal/util"
)

func TestLRUCacheGet(t *testing.T) {
	cache := util.NewLRUCache[string](2)

	calls := 0
	create := func() (string, error) {
		calls++
		return "value", nil
	}

	v, err := cache.Get("a", create)
	assert.NoError(t, err)
	assert.Equal(t, "value", v)
	assert.Equal(t, 1, calls)

	_, err = cache.Get("a", create)
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestLRUCacheEviction(t *testing.T) {
	cache := util.NewLRUCache[int](2)

	fill := func(n int) func() (int, error) {
		return func() (int, error) { return n, nil }
	}

	_, _ = cache.Get("a", fill(1))
	_, _ = cache.Get("b", fill(2))
	_, _ = cache.Get("c", fill(3))
	assert.Equal(t, 2, cache.Len())

	// "a" was evicted, so its constructor runs again
	calls := 0
	_, _ = cache.Get("a", func() (int, error) {
		calls++
		return 1, nil
	})
	assert.Equal(t, 1, calls)
}

func TestLRUCacheConstructorError(t *testing.T) {
	cache := util.NewLRUCache[int](2)

	_, err := cache.Get("a", func() (int, error) {
		return 0, errors.New("nope")
	})
	assert.Error(t, err)
	assert.Equal(t, 0, cache.Len())
}

func TestSet(t *testing.T) {
	s := util.SetOf("a", "b")
	assert.Equal(t, 2, s.Len())
	assert.True(t, s.Contains("a"))
	assert.False(t, s.Contains("c"))

	s.Add("c")
	assert.True(t, s.Contains("c"))

	s.Remove("a")
	assert.False(t, s.Contains("a"))
	assert.Equal(t, 2, s.Len())
}
