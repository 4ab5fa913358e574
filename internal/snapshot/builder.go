package snapshot

import (
	"log/slog"
	"sort"
	"time"

	"site-chain/internal/geo"
	"site-chain/internal/metrics"
	"site-chain/internal/osmtag"
	"site-chain/internal/region"

	"github.com/paulmach/osm"
)

// state：某一时刻的可见要素集合，节点坐标经 node 查询
type state struct {
	ways      map[osm.WayID]*osm.Way
	relations map[osm.RelationID]*osm.Relation
	node      func(osm.NodeID) (geo.Point, bool)
}

// 文档注释：由要素状态构建面状对象
// 背景：闭合路径直接成面；type=multipolygon 关系按成员拼环，内环归属包含其首点的外环。
// 约束：无描述性标签的对象不参与追踪与判定，直接丢弃；节点缺失或几何退化的对象跳过并记录告警；
// 给定区域时仅保留至少一个节点落在区域内的对象。
func build(day time.Time, st state, reg *region.Region, log *slog.Logger) *Snapshot {
	var objs []Object
	wayIDs := make([]osm.WayID, 0, len(st.ways))
	for id := range st.ways {
		wayIDs = append(wayIDs, id)
	}
	sort.Slice(wayIDs, func(i, j int) bool { return wayIDs[i] < wayIDs[j] })
	for _, id := range wayIDs {
		w := st.ways[id]
		tags := w.Tags.Map()
		cls := osmtag.Classify(tags)
		if cls.Kind == osmtag.Untagged || !closedWay(w) {
			continue
		}
		ring, ok := ringPoints(w.Nodes.NodeIDs(), st.node)
		if !ok {
			skip(log, day, int64(id), "missing node")
			continue
		}
		if !inRegion(reg, ring) {
			continue
		}
		g, err := geo.PolygonFromRings([][]geo.Point{ring})
		if err == nil {
			err = geo.Degenerate(g)
		}
		if err != nil {
			skip(log, day, int64(id), err.Error())
			continue
		}
		objs = append(objs, Object{ID: int64(id), Tags: tags, Class: cls, Geometry: g, AsOf: w.Timestamp})
	}

	relIDs := make([]osm.RelationID, 0, len(st.relations))
	for id := range st.relations {
		relIDs = append(relIDs, id)
	}
	sort.Slice(relIDs, func(i, j int) bool { return relIDs[i] < relIDs[j] })
	for _, id := range relIDs {
		r := st.relations[id]
		tags := r.Tags.Map()
		if tags["type"] != "multipolygon" {
			continue
		}
		cls := osmtag.Classify(tags)
		if cls.Kind == osmtag.Untagged {
			continue
		}
		oid := -int64(id)
		parts, ok := assemble(r, st)
		if !ok {
			skip(log, day, oid, "ring assembly failed")
			continue
		}
		var all []geo.Point
		for _, p := range parts {
			all = append(all, p[0]...)
		}
		if !inRegion(reg, all) {
			continue
		}
		g, err := geo.MultiPolygonFromParts(parts)
		if err == nil {
			err = geo.Degenerate(g)
		}
		if err != nil {
			skip(log, day, oid, err.Error())
			continue
		}
		objs = append(objs, Object{ID: oid, Tags: tags, Class: cls, Geometry: g, AsOf: r.Timestamp})
	}
	return New(day, objs)
}

func skip(log *slog.Logger, day time.Time, id int64, reason string) {
	metrics.DegenerateObjectsTotal.Inc()
	log.Warn("snapshot_object_degenerate", "day", DayKey(day), "id", id, "reason", reason)
}

func closedWay(w *osm.Way) bool {
	n := len(w.Nodes)
	return n >= 4 && w.Nodes[0].ID == w.Nodes[n-1].ID
}

func ringPoints(ids []osm.NodeID, node func(osm.NodeID) (geo.Point, bool)) ([]geo.Point, bool) {
	out := make([]geo.Point, 0, len(ids))
	for _, id := range ids {
		p, ok := node(id)
		if !ok {
			return nil, false
		}
		out = append(out, p)
	}
	return out, true
}

func inRegion(reg *region.Region, pts []geo.Point) bool {
	if reg == nil {
		return true
	}
	for _, p := range pts {
		if reg.Contains(p) {
			return true
		}
	}
	return false
}

// assemble：把关系成员路径拼成闭合环，返回 (外环+内环) 分组
func assemble(r *osm.Relation, st state) ([][][]geo.Point, bool) {
	var outerSeg, innerSeg [][]osm.NodeID
	for _, m := range r.Members {
		if m.Type != osm.TypeWay {
			continue
		}
		w, ok := st.ways[osm.WayID(m.Ref)]
		if !ok || len(w.Nodes) < 2 {
			return nil, false
		}
		ids := w.Nodes.NodeIDs()
		if m.Role == "inner" {
			innerSeg = append(innerSeg, ids)
		} else {
			outerSeg = append(outerSeg, ids)
		}
	}
	outers, ok := joinRings(outerSeg)
	if !ok || len(outers) == 0 {
		return nil, false
	}
	inners, ok := joinRings(innerSeg)
	if !ok {
		return nil, false
	}
	parts := make([][][]geo.Point, 0, len(outers))
	for _, o := range outers {
		pts, ok := ringPoints(o, st.node)
		if !ok {
			return nil, false
		}
		parts = append(parts, [][]geo.Point{pts})
	}
	for _, in := range inners {
		pts, ok := ringPoints(in, st.node)
		if !ok {
			return nil, false
		}
		owner := 0
		for i, p := range parts {
			if geo.InRing(pts[0], p[0]) {
				owner = i
				break
			}
		}
		parts[owner] = append(parts[owner], pts)
	}
	return parts, true
}

// joinRings：首尾相接拼接开放路径；无法闭合时返回 false
func joinRings(segs [][]osm.NodeID) ([][]osm.NodeID, bool) {
	used := make([]bool, len(segs))
	var rings [][]osm.NodeID
	for i := range segs {
		if used[i] {
			continue
		}
		used[i] = true
		cur := append([]osm.NodeID(nil), segs[i]...)
		for cur[0] != cur[len(cur)-1] {
			extended := false
			end := cur[len(cur)-1]
			for j := range segs {
				if used[j] {
					continue
				}
				s := segs[j]
				switch end {
				case s[0]:
					cur = append(cur, s[1:]...)
				case s[len(s)-1]:
					for k := len(s) - 2; k >= 0; k-- {
						cur = append(cur, s[k])
					}
				default:
					continue
				}
				used[j] = true
				extended = true
				break
			}
			if !extended {
				return nil, false
			}
		}
		if len(cur) < 4 {
			return nil, false
		}
		rings = append(rings, cur)
	}
	return rings, true
}
