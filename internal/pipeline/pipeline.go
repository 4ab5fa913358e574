// 包 pipeline：一次提取运行的编排
// 流程：追踪 → 标签判定 → 组装 → 写出文件 → 可选落库 → 指标文本文件
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"site-chain/internal/chain"
	"site-chain/internal/collection"
	"site-chain/internal/config"
	"site-chain/internal/logger"
	"site-chain/internal/metrics"
	"site-chain/internal/region"
	"site-chain/internal/snapshot"
	"site-chain/internal/store"
)

// Report：一次成功运行的结果
type Report struct {
	RunID      string
	Window     chain.Window
	Collection *collection.Collection
}

// Pipeline：持有一次运行所需的全部依赖；store 为 nil 时不落库
type Pipeline struct {
	cfg      config.Config
	region   *region.Region
	provider snapshot.Provider
	store    *store.Store
	log      *slog.Logger

	Now func() time.Time
}

func New(cfg config.Config, reg *region.Region, p snapshot.Provider, st *store.Store) *Pipeline {
	return &Pipeline{cfg: cfg, region: reg, provider: p, store: st, log: logger.Component("pipeline"), Now: time.Now}
}

// 文档注释：执行一次提取
// 约束：先入库后写文件，跟踪、判定或入库任一步失败都不写出任何文件；临时快照在返回前按 keep_temp 处理；
// 指标文本文件无论成败都会尝试写出。
func (p *Pipeline) Run(ctx context.Context) (rep *Report, err error) {
	runID := store.NewRunID()
	log := p.log.With("run_id", runID)
	defer logger.Step(log, "extract", "region", p.regionName())(&err)
	defer func() {
		if cerr := p.provider.Cleanup(p.cfg.KeepTemp); cerr != nil {
			log.Warn("snapshot_cleanup_error", "err", cerr)
		}
		if merr := metrics.WriteTextfile(p.cfg.MetricsFile); merr != nil {
			log.Warn("metrics_textfile_error", "path", p.cfg.MetricsFile, "err", merr)
		}
	}()

	start, end, err := p.cfg.Window()
	if err != nil {
		return nil, err
	}
	w := chain.Window{Start: start, End: end, Restrict: p.cfg.RestrictWindow}

	merger := chain.NewMerger(p.cfg.ConstructionChainConfidence)
	merger.Padding = p.cfg.BBoxPadding
	tracker := chain.NewTracker(p.provider, merger)
	tracker.Now = p.Now
	res, err := p.track(ctx, tracker, w)
	if err != nil {
		return nil, err
	}

	resolver := chain.NewResolver(p.provider, p.cfg.TagConfidence, p.cfg.ResolveWorkers)
	resolver.Padding = p.cfg.BBoxPadding
	closedTags, openTags, err := p.resolve(ctx, resolver, res)
	if err != nil {
		return nil, err
	}

	coll, err := collection.Assemble(res.Closed, closedTags, res.Open, openTags)
	if err != nil {
		return nil, err
	}
	if p.store != nil {
		run := store.Run{
			ID:              runID,
			Region:          p.regionName(),
			Start:           start,
			End:             end,
			Restrict:        w.Restrict,
			TagConfidence:   p.cfg.TagConfidence,
			ChainConfidence: p.cfg.ConstructionChainConfidence,
		}
		if err := p.store.SaveRun(ctx, run, coll.Complete.Chains, coll.WIP.Chains); err != nil {
			return nil, err
		}
	}
	if err := collection.NewWriter(p.cfg.OutputDir, p.cfg.SaveWIP).Write(coll); err != nil {
		return nil, err
	}
	return &Report{RunID: runID, Window: w, Collection: coll}, nil
}

func (p *Pipeline) track(ctx context.Context, t *chain.Tracker, w chain.Window) (res *chain.Result, err error) {
	defer logger.Step(p.log, "track", "start", snapshot.DayKey(w.Start), "end", snapshot.DayKey(w.End))(&err)
	return t.Track(ctx, w)
}

func (p *Pipeline) resolve(ctx context.Context, r *chain.Resolver, res *chain.Result) (closed, open []chain.Tags, err error) {
	defer logger.Step(p.log, "resolve", "closed", len(res.Closed), "open", len(res.Open))(&err)
	closed, err = r.ResolveAll(ctx, res.Closed)
	if err != nil {
		return nil, nil, err
	}
	open, err = r.ResolveAll(ctx, res.Open)
	if err != nil {
		return nil, nil, err
	}
	return closed, open, nil
}

func (p *Pipeline) regionName() string {
	if p.region == nil {
		return ""
	}
	return p.region.Name
}

// IsUsageError：窗口或配置错误，命令行据此区分退出码
func IsUsageError(err error) bool {
	return errors.Is(err, chain.ErrInvalidWindow)
}
