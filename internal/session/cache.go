package session

import (
	"context"
	"sync"
	"time"
)

// Cache 保存 Authorizer.Info 的最近一次读取结果。定时刷新与消费后刷新
// 都只是覆盖缓存，先后顺序无关紧要。
type Cache struct {
	source Authorizer

	mu        sync.RWMutex
	info      Info
	refreshed time.Time
}

// NewCache 创建缓存并立即读取一次。
func NewCache(source Authorizer) *Cache {
	c := &Cache{source: source}
	c.Refresh()
	return c
}

// Refresh 重新读取会话投影。
func (c *Cache) Refresh() Info {
	info := c.source.Info()
	c.mu.Lock()
	c.info = info
	c.refreshed = time.Now()
	c.mu.Unlock()
	return info
}

// Get 返回缓存的会话投影。
func (c *Cache) Get() Info {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.info
}

// RefreshedAt 返回最近一次刷新时间。
func (c *Cache) RefreshedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.refreshed
}

// Run 按固定周期刷新，直到 ctx 结束。
func (c *Cache) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Refresh()
		}
	}
}
