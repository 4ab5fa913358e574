package snapshot

import (
	"context"
	"time"

	"site-chain/internal/metrics"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// 文档注释：在任意提供者前加一层本地 LRU（日期为键）；同一日期的并发请求合并为一次获取
// 背景：标签判定需要 start-1 与 end+1 两个边界日，多条链共享同一边界日的情况很常见；命中后不再重新构建快照。
// 约束：容量按快照个数计，最小为 1；TTL 为零表示永不过期。
type Cached struct {
	inner Provider
	lru   *expirable.LRU[string, *Snapshot]
	group singleflight.Group
}

func NewCached(inner Provider, capacity int, ttl time.Duration) *Cached {
	if capacity <= 0 {
		capacity = 1
	}
	return &Cached{inner: inner, lru: expirable.NewLRU[string, *Snapshot](capacity, nil, ttl)}
}

func (c *Cached) Snapshot(ctx context.Context, day time.Time) (*Snapshot, error) {
	k := DayKey(day)
	if s, ok := c.lru.Get(k); ok {
		metrics.CacheHitsTotal.WithLabelValues("lru").Inc()
		return s, nil
	}
	metrics.CacheMissesTotal.WithLabelValues("lru").Inc()
	v, err, _ := c.group.Do(k, func() (any, error) {
		if s, ok := c.lru.Get(k); ok {
			return s, nil
		}
		s, err := c.inner.Snapshot(ctx, day)
		if err != nil {
			return nil, err
		}
		c.lru.Add(k, s)
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

func (c *Cached) Cleanup(keep bool) error { return c.inner.Cleanup(keep) }
