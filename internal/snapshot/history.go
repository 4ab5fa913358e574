package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"site-chain/internal/geo"
	"site-chain/internal/logger"
	"site-chain/internal/region"

	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmpbf"
	"github.com/paulmach/osm/osmxml"
)

type nodeVersion struct {
	version int
	ts      time.Time
	visible bool
	p       geo.Point
}

// 文档注释：进程内历史文件读取器
// 背景：一次性把 .osh.pbf / .osh / .osm 历史文件的全部版本读入内存，之后任意日期的状态都由版本表直接求出，
// 无需为每天生成中间文件。语义与 osmium time-filter 相同：取时间戳不晚于当日零点的最新版本。
// 约束：内存占用与历史文件大小成正比，适合已裁剪到区域的历史文件；不含 visible 信息的文件视全部版本为可见。
type History struct {
	path   string
	region *region.Region
	log    *slog.Logger

	once    sync.Once
	loadErr error
	nodes   map[osm.NodeID][]nodeVersion
	ways    map[osm.WayID][]*osm.Way
	rels    map[osm.RelationID][]*osm.Relation
	hasVis  bool
}

func NewHistory(path string, reg *region.Region) *History {
	return &History{path: path, region: reg, log: logger.Component("snapshot_history")}
}

func (h *History) Snapshot(ctx context.Context, day time.Time) (s *Snapshot, err error) {
	start := time.Now()
	defer func() { observe("history", start, s, err) }()
	h.once.Do(func() { h.loadErr = h.load(ctx) })
	if h.loadErr != nil {
		return nil, h.loadErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cutoff := Day(day)
	st := state{
		ways:      make(map[osm.WayID]*osm.Way),
		relations: make(map[osm.RelationID]*osm.Relation),
		node: func(id osm.NodeID) (geo.Point, bool) {
			v, ok := latestAt(h.nodes[id], cutoff, func(n nodeVersion) time.Time { return n.ts })
			if !ok || !h.visible(v.visible) {
				return geo.Point{}, false
			}
			return v.p, true
		},
	}
	for id, vs := range h.ways {
		if w, ok := latestAt(vs, cutoff, func(w *osm.Way) time.Time { return w.Timestamp }); ok && h.visible(w.Visible) {
			st.ways[id] = w
		}
	}
	for id, vs := range h.rels {
		if r, ok := latestAt(vs, cutoff, func(r *osm.Relation) time.Time { return r.Timestamp }); ok && h.visible(r.Visible) {
			st.relations[id] = r
		}
	}
	return build(cutoff, st, h.region, h.log), nil
}

func (h *History) Cleanup(bool) error { return nil }

func (h *History) visible(v bool) bool { return v || !h.hasVis }

func (h *History) load(ctx context.Context) error {
	f, err := os.Open(h.path)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer f.Close()
	var sc osm.Scanner
	if strings.HasSuffix(strings.ToLower(h.path), ".pbf") {
		sc = osmpbf.New(ctx, f, runtime.GOMAXPROCS(0))
	} else {
		sc = osmxml.New(ctx, f)
	}
	defer sc.Close()
	h.nodes = make(map[osm.NodeID][]nodeVersion)
	h.ways = make(map[osm.WayID][]*osm.Way)
	h.rels = make(map[osm.RelationID][]*osm.Relation)
	n := 0
	for sc.Scan() {
		switch o := sc.Object().(type) {
		case *osm.Node:
			h.hasVis = h.hasVis || o.Visible
			h.nodes[o.ID] = append(h.nodes[o.ID], nodeVersion{version: o.Version, ts: o.Timestamp, visible: o.Visible, p: geo.Point{X: o.Lon, Y: o.Lat}})
		case *osm.Way:
			h.hasVis = h.hasVis || o.Visible
			h.ways[o.ID] = append(h.ways[o.ID], o)
		case *osm.Relation:
			h.hasVis = h.hasVis || o.Visible
			h.rels[o.ID] = append(h.rels[o.ID], o)
		}
		n++
		if n%1000000 == 0 {
			h.log.Info("history_load_progress", "objects", n)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read history: %w", err)
	}
	for _, vs := range h.nodes {
		sort.Slice(vs, func(i, j int) bool { return vs[i].version < vs[j].version })
	}
	for _, vs := range h.ways {
		sort.Slice(vs, func(i, j int) bool { return vs[i].Version < vs[j].Version })
	}
	for _, vs := range h.rels {
		sort.Slice(vs, func(i, j int) bool { return vs[i].Version < vs[j].Version })
	}
	h.log.Info("history_loaded", "path", h.path, "nodes", len(h.nodes), "ways", len(h.ways), "relations", len(h.rels))
	return nil
}

// latestAt：按版本升序的列表中，时间戳不晚于 cutoff 的最后一个版本
func latestAt[T any](vs []T, cutoff time.Time, ts func(T) time.Time) (T, bool) {
	var zero T
	for i := len(vs) - 1; i >= 0; i-- {
		if !ts(vs[i]).After(cutoff) {
			return vs[i], true
		}
	}
	return zero, false
}
