package imagery

import (
	"time"

	"golang.org/x/time/rate"
)

// 文档注释：每分钟请求数限速
// 背景：影像服务按账号计费与限流，下载并发由 errgroup 控制，请求速率由此处控制。
// 约束：突发上限等于 perMin，令牌按 perMin/分钟匀速补充；perMin <= 0 时不限速。
func newLimiter(perMin int) *rate.Limiter {
	if perMin <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMin)), perMin)
}
