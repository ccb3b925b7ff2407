package cache

import (
	"sync"
	"time"
)

// LocalCache 本地内存缓存（L1 缓存）
//
// 使用 sync.Map 实现无锁读取，条目按 TTL 过期，后台定期清理。
type LocalCache[V any] struct {
	data sync.Map
	ttl  time.Duration
	now  func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
}

type cacheEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// NewLocalCache 创建本地缓存，ttl 为默认过期时间。使用完毕后调用 Close 停止清理协程。
func NewLocalCache[V any](ttl time.Duration) *LocalCache[V] {
	c := &LocalCache[V]{
		ttl:  ttl,
		now:  time.Now,
		stop: make(chan struct{}),
	}
	go c.cleanupLoop(time.Minute)
	return c
}

// Get 获取缓存值
func (c *LocalCache[V]) Get(key string) (V, bool) {
	var zero V
	val, ok := c.data.Load(key)
	if !ok {
		return zero, false
	}

	entry := val.(*cacheEntry[V])
	if !c.now().Before(entry.expiresAt) {
		c.data.Delete(key)
		return zero, false
	}
	return entry.value, true
}

// Set 设置缓存值，ttl 为 0 时使用默认值
func (c *LocalCache[V]) Set(key string, value V, ttl time.Duration) {
	if ttl == 0 {
		ttl = c.ttl
	}
	c.data.Store(key, &cacheEntry[V]{
		value:     value,
		expiresAt: c.now().Add(ttl),
	})
}

// Delete 删除缓存值
func (c *LocalCache[V]) Delete(key string) {
	c.data.Delete(key)
}

// Clear 清空所有缓存
func (c *LocalCache[V]) Clear() {
	c.data.Range(func(key, _ any) bool {
		c.data.Delete(key)
		return true
	})
}

// Close 停止后台清理
func (c *LocalCache[V]) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *LocalCache[V]) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			now := c.now()
			c.data.Range(func(key, value any) bool {
				if !now.Before(value.(*cacheEntry[V]).expiresAt) {
					c.data.Delete(key)
				}
				return true
			})
		}
	}
}
