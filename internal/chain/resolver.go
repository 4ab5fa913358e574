package chain

import (
	"context"
	"log/slog"
	"time"

	"site-chain/internal/logger"
	"site-chain/internal/metrics"
	"site-chain/internal/osmtag"
	"site-chain/internal/snapshot"

	"golang.org/x/sync/errgroup"
)

// DefaultTagConfidence：边界对象被采纳为前后标签所需的最小 IOU
const DefaultTagConfidence = 0.5

// Tags：一个区间的前后标签；在建区间的 Final 为空
type Tags struct {
	Previous string
	Final    string
}

// 文档注释：标签判定器
// 背景：开工前一日与完工后一日的快照中，与区间足迹重叠最多的非施工对象给出“原来是什么”与“变成了什么”。
// 约束：施工与无标签对象一律跳过；没有对象达到阈值时返回 NO TAG FOUND，从不因此报错。
type Resolver struct {
	provider   snapshot.Provider
	Confidence float64
	Padding    float64
	Workers    int
	log        *slog.Logger
}

func NewResolver(p snapshot.Provider, confidence float64, workers int) *Resolver {
	if confidence <= 0 {
		confidence = DefaultTagConfidence
	}
	if workers <= 0 {
		workers = 4
	}
	return &Resolver{provider: p, Confidence: confidence, Padding: DefaultSearchPadding, Workers: workers, log: logger.Component("resolver")}
}

// Resolve：start-1 给出 Previous，已关闭区间的 end+1 给出 Final
func (r *Resolver) Resolve(ctx context.Context, iv *Interval) (Tags, error) {
	var tags Tags
	prevDay := iv.Start.AddDate(0, 0, -1)
	snap, err := r.provider.Snapshot(ctx, prevDay)
	if err != nil {
		return Tags{}, &FetchError{Day: prevDay, Op: "resolve_prev", Err: err}
	}
	tags.Previous = r.pick(iv, snap, "previous")
	if iv.End == nil {
		return tags, nil
	}
	finalDay := iv.End.AddDate(0, 0, 1)
	snap, err = r.provider.Snapshot(ctx, finalDay)
	if err != nil {
		return Tags{}, &FetchError{Day: finalDay, Op: "resolve_final", Err: err}
	}
	tags.Final = r.pick(iv, snap, "final")
	return tags, nil
}

func (r *Resolver) pick(iv *Interval, snap *snapshot.Snapshot, side string) string {
	cands := Rank(iv.Footprint, snap.Objects, func(o snapshot.Object) bool { return !o.IsConstruction() }, r.Padding, r.log)
	for _, c := range cands {
		if c.IOU < r.Confidence {
			break
		}
		if c.Object.Class.Kind != osmtag.Labeled || osmtag.IsConstructionDescriptor(c.Object.Class.Descriptor) {
			continue
		}
		metrics.TagsResolvedTotal.WithLabelValues(side, "tag").Inc()
		r.log.Debug("tag_resolved", "chain", iv.ID(), "side", side, "tag", c.Object.Class.Descriptor, "object", c.Object.ID, "iou", c.IOU)
		return c.Object.Class.Descriptor
	}
	metrics.TagsResolvedTotal.WithLabelValues(side, "none").Inc()
	return osmtag.NoTag
}

// ResolveAll：不同区间互不共享状态，按 Workers 限制并发判定；任一失败取消其余并返回首个错误
func (r *Resolver) ResolveAll(ctx context.Context, ivs []*Interval) ([]Tags, error) {
	out := make([]Tags, len(ivs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.Workers)
	start := time.Now()
	for i, iv := range ivs {
		g.Go(func() error {
			t, err := r.Resolve(gctx, iv)
			if err != nil {
				return err
			}
			out[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	r.log.Info("resolve_done", "chains", len(ivs), "duration_ms", time.Since(start).Milliseconds())
	return out, nil
}
