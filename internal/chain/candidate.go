package chain

import (
	"log/slog"
	"sort"

	"site-chain/internal/geo"
	"site-chain/internal/snapshot"

	"github.com/peterstace/simplefeatures/geom"
)

// Candidate：与区间足迹相交的某日对象及其评分
type Candidate struct {
	Object snapshot.Object
	IOU    float64
	Area   float64
}

// DefaultSearchPadding：候选搜索范围在足迹包围盒四周扩展的度数
const DefaultSearchPadding = 0.001

// 文档注释：候选对象排序
// 背景：合并与标签判定共用同一套评分：IOU 降序，IOU 相同取面积较小者，再相同取 ID 较小者。
// 约束：先用扩展 padding 的包围盒粗筛，再要求与足迹精确相交；结果与 objs 的输入顺序无关；
// 叠加运算失败的对象记录告警后跳过。
func Rank(footprint geom.Geometry, objs []snapshot.Object, eligible func(snapshot.Object) bool, padding float64, log *slog.Logger) []Candidate {
	fb, ok := geo.BBoxOf(footprint)
	if !ok {
		return nil
	}
	fb = fb.Pad(padding)
	var out []Candidate
	for _, o := range objs {
		if !eligible(o) {
			continue
		}
		ob, ok := geo.BBoxOf(o.Geometry)
		if !ok || !fb.Overlaps(ob) || !geo.Intersects(footprint, o.Geometry) {
			continue
		}
		iou, err := geo.IOU(footprint, o.Geometry)
		if err != nil {
			log.Warn("candidate_iou_error", "id", o.ID, "err", err)
			continue
		}
		out = append(out, Candidate{Object: o, IOU: iou, Area: geo.Area(o.Geometry)})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.IOU != b.IOU {
			return a.IOU > b.IOU
		}
		if a.Area != b.Area {
			return a.Area < b.Area
		}
		return a.Object.ID < b.Object.ID
	})
	return out
}
