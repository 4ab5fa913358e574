// 包 region：加载研究区域多边形（osmosis .poly / GeoJSON / WKT），提供包围盒、点入面判定与缓存键
package region

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"site-chain/internal/geo"

	"github.com/peterstace/simplefeatures/geom"
)

var ErrEmptyRegion = errors.New("region has no polygon")

// Polygon：按 GeoJSON 约定的环集合，第一环是外环，其后为洞
type Polygon struct {
	Rings [][]geo.Point
	BBox  geo.BBox
}

// 文档注释：研究区域
// 背景：区域决定快照裁剪范围与缓存键；同一文件多次加载得到相同的 Fingerprint。
// 约束：只读；Geometry 为全部多边形合成的 (Multi)Polygon。
type Region struct {
	Name     string
	Polys    []Polygon
	Geometry geom.Geometry
	BBox     geo.BBox
}

// Load：按扩展名选择解析器；.poly 为 osmium extract -p 使用的原始格式
func Load(path string) (*Region, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read region %s: %w", path, err)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	var polys []Polygon
	switch strings.ToLower(filepath.Ext(path)) {
	case ".poly":
		var pn string
		pn, polys, err = parsePoly(string(b))
		if pn != "" {
			name = pn
		}
	case ".geojson", ".json":
		polys, err = parseGeoJSON(b)
	case ".wkt", ".txt":
		polys, err = parseWKT(string(b))
	default:
		return nil, fmt.Errorf("region %s: unsupported format %q", path, filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("region %s: %w", path, err)
	}
	return New(name, polys)
}

// FromWKT：直接由 WKT 文本构建区域（测试与命令行内联使用）
func FromWKT(name, wkt string) (*Region, error) {
	polys, err := parseWKT(wkt)
	if err != nil {
		return nil, err
	}
	return New(name, polys)
}

// New：合成几何并计算包围盒
func New(name string, polys []Polygon) (*Region, error) {
	if len(polys) == 0 {
		return nil, ErrEmptyRegion
	}
	parts := make([][][]geo.Point, 0, len(polys))
	var all []geo.Point
	for i := range polys {
		if len(polys[i].Rings) == 0 || len(polys[i].Rings[0]) < 3 {
			return nil, fmt.Errorf("%w: polygon %d has no outer ring", geo.ErrDegenerate, i)
		}
		polys[i].BBox = geo.BBoxOfPoints(polys[i].Rings[0])
		all = append(all, polys[i].Rings[0]...)
		parts = append(parts, polys[i].Rings)
	}
	g, err := geo.MultiPolygonFromParts(parts)
	if err != nil {
		return nil, err
	}
	if err := geo.Degenerate(g); err != nil {
		return nil, err
	}
	return &Region{Name: name, Polys: polys, Geometry: g, BBox: geo.BBoxOfPoints(all)}, nil
}

// Contains：包围盒快速过滤后做射线法判定
func (r *Region) Contains(p geo.Point) bool {
	if !r.BBox.Contains(p) {
		return false
	}
	for _, poly := range r.Polys {
		if poly.BBox.Contains(p) && pointInPoly(p, poly) {
			return true
		}
	}
	return false
}

// Fingerprint：区域几何 WKT 的 sha256 摘要（前 16 位十六进制）；包围盒相同而形状不同的区域得到不同值
func (r *Region) Fingerprint() string {
	sum := sha256.Sum256([]byte(r.Geometry.AsText()))
	return hex.EncodeToString(sum[:8])
}
