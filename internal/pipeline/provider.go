package pipeline

import (
	"fmt"

	"site-chain/internal/config"
	"site-chain/internal/region"
	"site-chain/internal/snapshot"

	"github.com/redis/go-redis/v9"
)

// BuildProvider：按配置组装快照提供者
// 顺序：内存 LRU → Redis（可选） → 按 provider 列表回退的底层提供者
func BuildProvider(cfg config.Config, reg *region.Region, rc *redis.Client) (snapshot.Provider, error) {
	var list []snapshot.Provider
	for _, name := range cfg.Providers() {
		switch name {
		case "history":
			list = append(list, snapshot.NewHistory(cfg.History, reg))
		case "osmium":
			list = append(list, snapshot.NewOsmium(snapshot.OsmiumConfig{
				Binary:     cfg.OsmiumBin,
				History:    cfg.History,
				RegionPath: cfg.Poly,
				TempDir:    cfg.TempDir,
			}, reg))
		default:
			return nil, fmt.Errorf("pipeline: unknown provider %q", name)
		}
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("pipeline: no snapshot provider configured")
	}
	var p snapshot.Provider = list[0]
	if len(list) > 1 {
		p = snapshot.NewFallback(list...)
	}
	if rc != nil {
		p = snapshot.NewRedis(p, rc, RedisPrefix(cfg, reg), cfg.RedisTTL())
	}
	return snapshot.NewCached(p, cfg.CacheSize, 0), nil
}

// RedisPrefix：快照键前缀，区域形状与历史文件身份共同决定
func RedisPrefix(cfg config.Config, reg *region.Region) string {
	return "sitechain:" + snapshot.SourceKey(reg, cfg.History)
}
