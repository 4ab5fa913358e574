package snapshot

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"site-chain/internal/geo"
	"site-chain/internal/logger"
	"site-chain/internal/region"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmxml"
)

// Runner：执行外部命令，返回合并输出
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// OsmiumConfig：osmium 提供者参数
type OsmiumConfig struct {
	Binary     string // 默认 osmium
	History    string // 全量历史文件（.osh.pbf）
	RegionPath string // 传给 osmium extract -p 的区域文件
	TempDir    string
	Run        Runner
}

// 文档注释：基于 osmium 命令行的快照提供者
// 背景：首次调用时以 extract --with-history 把历史文件裁剪到区域，之后每个日期执行一次 time-filter，
// 生成的 .osm 按日缓存在临时目录，再用 osmxml 解析。
// 约束：临时文件名带 SourceKey 前缀，换区域或换历史文件不会复用旧文件；osmium 先写 .part 文件，成功后才改名为正式文件，
// 中断留下的半截文件不会被当作结果。Cleanup(keep=false) 按通配删除 *.osm 与 *.osh.pbf（含 .part）。
type Osmium struct {
	cfg    OsmiumConfig
	region *region.Region
	log    *slog.Logger

	mu        sync.Mutex
	extracted string
}

func NewOsmium(cfg OsmiumConfig, reg *region.Region) *Osmium {
	if cfg.Binary == "" {
		cfg.Binary = "osmium"
	}
	if cfg.Run == nil {
		cfg.Run = execRunner
	}
	return &Osmium{cfg: cfg, region: reg, log: logger.Component("snapshot_osmium")}
}

func (o *Osmium) extract(ctx context.Context) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.extracted != "" {
		return o.extracted, nil
	}
	if err := os.MkdirAll(o.cfg.TempDir, 0o755); err != nil {
		return "", err
	}
	key := SourceKey(o.region, o.cfg.History, o.cfg.RegionPath)
	out := filepath.Join(o.cfg.TempDir, key+".osh.pbf")
	if _, err := os.Stat(out); err != nil {
		o.log.Info("osmium_extract_begin", "history", o.cfg.History, "region", o.cfg.RegionPath, "key", key)
		err := o.produce(ctx, out, "extract", "-p", o.cfg.RegionPath, o.cfg.History, "--with-history")
		if err != nil {
			return "", fmt.Errorf("osmium extract: %w", err)
		}
	}
	o.extracted = out
	return out, nil
}

// produce：osmium 输出到 .part 临时名，成功后原子改名为 out
func (o *Osmium) produce(ctx context.Context, out string, args ...string) error {
	ext := ".osm"
	if strings.HasSuffix(out, ".osh.pbf") {
		ext = ".osh.pbf"
	}
	part := strings.TrimSuffix(out, ext) + ".part" + ext
	args = append(args, "-o", part, "--overwrite")
	if b, err := o.cfg.Run(ctx, o.cfg.Binary, args...); err != nil {
		os.Remove(part)
		return fmt.Errorf("%w: %s", err, b)
	}
	return os.Rename(part, out)
}

func (o *Osmium) Snapshot(ctx context.Context, day time.Time) (s *Snapshot, err error) {
	start := time.Now()
	defer func() { observe("osmium", start, s, err) }()
	hist, err := o.extract(ctx)
	if err != nil {
		return nil, err
	}
	day = Day(day)
	out := strings.TrimSuffix(hist, ".osh.pbf") + "-" + DayKey(day) + ".osm"
	if _, err := os.Stat(out); err != nil {
		if err := o.produce(ctx, out, "time-filter", hist, DayKey(day)+"T00:00:00Z"); err != nil {
			return nil, fmt.Errorf("osmium time-filter: %w", err)
		}
	}
	f, err := os.Open(out)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	st, err := readState(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(out), err)
	}
	return build(day, st, o.region, o.log), nil
}

// readState：解析单一时刻的 .osm；此类文件不带 visible 属性，全部视为可见
func readState(ctx context.Context, r io.Reader) (state, error) {
	sc := osmxml.New(ctx, r)
	defer sc.Close()
	nodes := make(map[osm.NodeID]geo.Point)
	st := state{
		ways:      make(map[osm.WayID]*osm.Way),
		relations: make(map[osm.RelationID]*osm.Relation),
	}
	for sc.Scan() {
		switch e := sc.Object().(type) {
		case *osm.Node:
			nodes[e.ID] = geo.Point{X: e.Lon, Y: e.Lat}
		case *osm.Way:
			st.ways[e.ID] = e
		case *osm.Relation:
			st.relations[e.ID] = e
		}
	}
	if err := sc.Err(); err != nil {
		return state{}, err
	}
	st.node = func(id osm.NodeID) (geo.Point, bool) {
		p, ok := nodes[id]
		return p, ok
	}
	return st, nil
}

func (o *Osmium) Cleanup(keep bool) error {
	if keep {
		o.log.Info("osmium_cleanup_skipped", "dir", o.cfg.TempDir)
		return nil
	}
	n, err := RemoveGlob(o.cfg.TempDir, "*.osm", "*.osh.pbf")
	o.log.Info("osmium_cleanup", "dir", o.cfg.TempDir, "removed", n)
	o.mu.Lock()
	o.extracted = ""
	o.mu.Unlock()
	return err
}

// RemoveGlob：删除 dir 下匹配任一模式的文件，返回删除数量
func RemoveGlob(dir string, patterns ...string) (int, error) {
	n := 0
	for _, p := range patterns {
		matches, err := doublestar.FilepathGlob(filepath.Join(dir, p))
		if err != nil {
			return n, err
		}
		for _, m := range matches {
			if err := os.RemoveAll(m); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}
