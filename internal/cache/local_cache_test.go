package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLocalCache(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewLocalCache[string](time.Minute)
	defer c.Close()
	c.now = func() time.Time { return now }

	t.Run("读写与删除", func(t *testing.T) {
		c.Set("k", "v", 0)
		got, ok := c.Get("k")
		assert.True(t, ok)
		assert.Equal(t, "v", got)

		c.Delete("k")
		_, ok = c.Get("k")
		assert.False(t, ok)
	})

	t.Run("过期后不可见", func(t *testing.T) {
		c.Set("short", "v", time.Second)
		now = now.Add(time.Second)
		_, ok := c.Get("short")
		assert.False(t, ok)
	})

	t.Run("清空", func(t *testing.T) {
		c.Set("a", "1", 0)
		c.Set("b", "2", 0)
		c.Clear()
		_, ok := c.Get("a")
		assert.False(t, ok)
		_, ok = c.Get("b")
		assert.False(t, ok)
	})
}
