package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"site-chain/internal/geo"
	"site-chain/internal/logger"
	"site-chain/internal/metrics"

	"github.com/redis/go-redis/v9"
)

type storedObject struct {
	ID   int64             `json:"id"`
	Tags map[string]string `json:"tags"`
	WKT  string            `json:"wkt"`
	AsOf time.Time         `json:"as_of"`
}

// 文档注释：Redis 读穿缓存层
// 背景：同一区域的多次运行（调整阈值、不同窗口）会反复请求相同日期；快照以 JSON+WKT 存入 Redis，跨进程复用。
// 约束：键为 <prefix>:<区域键>:<日期>；Redis 故障只记录告警并回退到下层提供者，从不让运行失败。
type Redis struct {
	inner  Provider
	rc     *redis.Client
	prefix string
	ttl    time.Duration
	log    *slog.Logger
}

func NewRedis(inner Provider, rc *redis.Client, prefix string, ttl time.Duration) *Redis {
	return &Redis{inner: inner, rc: rc, prefix: prefix, ttl: ttl, log: logger.Component("snapshot_redis")}
}

func (r *Redis) key(day time.Time) string { return r.prefix + ":" + DayKey(day) }

func (r *Redis) Snapshot(ctx context.Context, day time.Time) (*Snapshot, error) {
	k := r.key(day)
	b, err := r.rc.Get(ctx, k).Bytes()
	switch {
	case err == nil:
		s, derr := decodeSnapshot(day, b)
		if derr == nil {
			metrics.CacheHitsTotal.WithLabelValues("redis").Inc()
			return s, nil
		}
		r.log.Warn("redis_decode_error", "key", k, "err", derr)
	case errors.Is(err, redis.Nil):
	default:
		r.log.Warn("redis_get_error", "key", k, "err", err)
	}
	metrics.CacheMissesTotal.WithLabelValues("redis").Inc()
	s, err := r.inner.Snapshot(ctx, day)
	if err != nil {
		return nil, err
	}
	if enc, err := encodeSnapshot(s); err == nil {
		if err := r.rc.Set(ctx, k, enc, r.ttl).Err(); err != nil {
			r.log.Warn("redis_set_error", "key", k, "err", err)
		}
	}
	return s, nil
}

func (r *Redis) Cleanup(keep bool) error { return r.inner.Cleanup(keep) }

func encodeSnapshot(s *Snapshot) ([]byte, error) {
	out := make([]storedObject, 0, len(s.Objects))
	for _, o := range s.Objects {
		out = append(out, storedObject{ID: o.ID, Tags: o.Tags, WKT: o.Geometry.AsText(), AsOf: o.AsOf})
	}
	return json.Marshal(out)
}

func decodeSnapshot(day time.Time, b []byte) (*Snapshot, error) {
	var in []storedObject
	if err := json.Unmarshal(b, &in); err != nil {
		return nil, err
	}
	objs := make([]Object, 0, len(in))
	for _, so := range in {
		g, err := geo.Parse(so.WKT)
		if err != nil {
			return nil, err
		}
		objs = append(objs, NewObject(so.ID, so.Tags, g, so.AsOf))
	}
	return New(day, objs), nil
}
