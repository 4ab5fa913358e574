package utils

import (
	"site-chain/internal/config"
	"site-chain/internal/logger"

	"github.com/redis/go-redis/v9"
)

// OpenRedis：按配置打开 Redis 客户端；未启用快照缓存时返回 nil
// 约束：地址、密码与库号来自配置，REDIS_HOST/REDIS_PORT/REDIS_PASS/REDIS_DB 已在装载配置时覆盖
func OpenRedis(cfg config.Config) *redis.Client {
	if !cfg.Redis || cfg.RedisAddr == "" {
		return nil
	}
	logger.L().Debug("redis_open", "addr", cfg.RedisAddr, "db", cfg.RedisDB)
	return redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
}
