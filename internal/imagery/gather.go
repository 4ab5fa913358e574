package imagery

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"site-chain/internal/collection"
	"site-chain/internal/logger"
	"site-chain/internal/metrics"
	"site-chain/internal/snapshot"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Options：采集参数
type Options struct {
	OutputDir  string
	Bands      []Band
	NumImages  int
	Padding    float64
	Workers    int
	RatePerMin int
}

// Summary：一次采集的计数
type Summary struct {
	Chains  int
	Skipped int
	Saved   int
	Failed  int
}

// Gatherer：对输出表中的链逐波段逐窗口请求影像
type Gatherer struct {
	src     Source
	opts    Options
	limiter *rate.Limiter
	log     *slog.Logger
}

func NewGatherer(src Source, opts Options) *Gatherer {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Padding <= 0 {
		opts.Padding = 1
	}
	return &Gatherer{src: src, opts: opts, limiter: newLimiter(opts.RatePerMin), log: logger.Component("imagery")}
}

// ImagePath：<dir>/<chain_id>/images/<source>/<band>/<YYYY-MM-DD>.<ext>
func ImagePath(dir, chainID, source string, band Band, img *Image) string {
	return filepath.Join(dir, chainID, "images", source, string(band), snapshot.DayKey(img.Date)+"."+img.Ext)
}

// 文档注释：采集影像
// 背景：在建链（无完工日）与早于服务最早日期开工的链跳过；单次请求失败只记录并计数，不影响其它请求。
// 约束：写盘失败或 ctx 取消时中止并返回错误；并发度由 Workers 限制，请求速率由令牌桶限制。
func (g *Gatherer) Gather(ctx context.Context, rows []collection.Row) (Summary, error) {
	var sum Summary
	reqs, err := g.plan(rows, &sum)
	if err != nil {
		return sum, err
	}
	var saved, failed atomic.Int64
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.opts.Workers)
	for _, req := range reqs {
		eg.Go(func() error {
			ok, err := g.one(ctx, req)
			if err != nil {
				return err
			}
			if ok {
				saved.Add(1)
			} else {
				failed.Add(1)
			}
			return nil
		})
	}
	err = eg.Wait()
	sum.Saved, sum.Failed = int(saved.Load()), int(failed.Load())
	g.log.Info("imagery_done", "source", g.src.Name(), "chains", sum.Chains, "skipped", sum.Skipped, "saved", sum.Saved, "failed", sum.Failed)
	return sum, err
}

// plan：展开为逐波段逐窗口的请求列表
func (g *Gatherer) plan(rows []collection.Row, sum *Summary) ([]Request, error) {
	var reqs []Request
	for _, r := range rows {
		if r.End == "" {
			g.log.Debug("imagery_skip_wip", "chain", r.ChainID)
			sum.Skipped++
			continue
		}
		start, end, err := r.Dates()
		if err != nil {
			return nil, err
		}
		if start.Before(g.src.MinDate()) {
			g.log.Info("imagery_skip_early", "chain", r.ChainID, "start", r.Start, "min_date", snapshot.DayKey(g.src.MinDate()))
			metrics.ImageryRequestsTotal.WithLabelValues(g.src.Name(), "skipped").Inc()
			sum.Skipped++
			continue
		}
		bb, err := r.BBox()
		if err != nil {
			return nil, err
		}
		sum.Chains++
		bb = bb.Scale(g.opts.Padding)
		for _, band := range g.opts.Bands {
			for _, w := range Windows(start, end, g.opts.NumImages, g.src.DayPadding()) {
				reqs = append(reqs, Request{ChainID: r.ChainID, Band: band, BBox: bb, Window: w})
			}
		}
	}
	return reqs, nil
}

// one：返回 false 表示该请求失败但可以继续
func (g *Gatherer) one(ctx context.Context, req Request) (bool, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return false, err
	}
	name := g.src.Name()
	img, err := g.src.Fetch(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		result := "error"
		if errors.Is(err, ErrNoImage) {
			result = "empty"
		}
		metrics.ImageryRequestsTotal.WithLabelValues(name, result).Inc()
		g.log.Warn("imagery_fetch_failed", "chain", req.ChainID, "band", req.Band, "window", req.Window.String(), "err", err)
		return false, nil
	}
	metrics.ImageryRequestsTotal.WithLabelValues(name, "ok").Inc()
	p := ImagePath(g.opts.OutputDir, req.ChainID, name, req.Band, img)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return false, err
	}
	if err := os.WriteFile(p, img.Data, 0o644); err != nil {
		return false, err
	}
	g.log.Debug("imagery_saved", "chain", req.ChainID, "path", p, "bytes", len(img.Data))
	return true, nil
}
