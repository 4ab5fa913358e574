package chain

import (
	"log/slog"

	"site-chain/internal/geo"
	"site-chain/internal/logger"
	"site-chain/internal/snapshot"
)

// DefaultConstructionChainConfidence：施工对象接续到已有生命周期所需的最小 IOU
const DefaultConstructionChainConfidence = 0.8

// 文档注释：生命周期合并器
// 背景：一个对象离开施工状态的当天，若另一个尚未归属的施工对象与区间足迹高度重叠，视为同一工地的延续。
// 约束：只考虑当日处于施工状态、未被任何开放区间占用、当日未被其它区间认领的对象；阈值比较为 >=。
type Merger struct {
	Confidence float64
	Padding    float64
	log        *slog.Logger
}

func NewMerger(confidence float64) *Merger {
	if confidence <= 0 {
		confidence = DefaultConstructionChainConfidence
	}
	return &Merger{Confidence: confidence, Padding: DefaultSearchPadding, log: logger.Component("merger")}
}

// Pick：返回最佳接续候选；taken 报告已被占用或认领的对象
func (m *Merger) Pick(iv *Interval, snap *snapshot.Snapshot, taken func(int64) bool) (Candidate, bool) {
	cands := Rank(iv.Footprint, snap.Objects, func(o snapshot.Object) bool {
		return o.Trackable() && !taken(o.ID)
	}, m.Padding, m.log)
	if len(cands) == 0 {
		return Candidate{}, false
	}
	best := cands[0]
	if best.IOU < m.Confidence {
		m.log.Debug("merge_reject", "chain", iv.ID(), "day", snapshot.DayKey(snap.Day), "candidate", best.Object.ID, "iou", best.IOU)
		return Candidate{}, false
	}
	return best, true
}

// Absorb：追加成员并合并足迹；并集失败时保留原足迹
func (m *Merger) Absorb(iv *Interval, c Candidate) {
	iv.Members = append(iv.Members, c.Object.ID)
	u, err := geo.Union(iv.Footprint, c.Object.Geometry)
	if err != nil {
		m.log.Warn("merge_union_error", "chain", iv.ID(), "candidate", c.Object.ID, "err", err)
		return
	}
	iv.Footprint = u
}
