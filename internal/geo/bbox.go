package geo

import (
	"strings"

	"github.com/peterstace/simplefeatures/geom"
)

// BBox：minX(经度), minY(纬度), maxX, maxY
type BBox [4]float64

// BBoxOf：空几何返回 false
func BBoxOf(g geom.Geometry) (BBox, bool) {
	lo, hi, ok := g.Envelope().MinMaxXYs()
	if !ok {
		return BBox{}, false
	}
	return BBox{lo.X, lo.Y, hi.X, hi.Y}, true
}

// BBoxOfPoints：线性扫描点集
func BBoxOfPoints(pts []Point) BBox {
	b := BBox{180, 90, -180, -90}
	for _, p := range pts {
		if p.X < b[0] {
			b[0] = p.X
		}
		if p.Y < b[1] {
			b[1] = p.Y
		}
		if p.X > b[2] {
			b[2] = p.X
		}
		if p.Y > b[3] {
			b[3] = p.Y
		}
	}
	return b
}

func (b BBox) MinX() float64 { return b[0] }
func (b BBox) MinY() float64 { return b[1] }
func (b BBox) MaxX() float64 { return b[2] }
func (b BBox) MaxY() float64 { return b[3] }

// Pad：四周各扩展 d 度
func (b BBox) Pad(d float64) BBox {
	return BBox{b[0] - d, b[1] - d, b[2] + d, b[3] + d}
}

// Scale：以中心为基准按倍数缩放宽高（影像请求时放大站点范围）
func (b BBox) Scale(f float64) BBox {
	cx, cy := (b[0]+b[2])/2, (b[1]+b[3])/2
	hw, hh := (b[2]-b[0])/2*f, (b[3]-b[1])/2*f
	return BBox{cx - hw, cy - hh, cx + hw, cy + hh}
}

func (b BBox) Contains(p Point) bool {
	return p.X >= b[0] && p.X <= b[2] && p.Y >= b[1] && p.Y <= b[3]
}

func (b BBox) Overlaps(o BBox) bool {
	return b[0] <= o[2] && o[0] <= b[2] && b[1] <= o[3] && o[1] <= b[3]
}

func (b BBox) Rings() [][]Point {
	return [][]Point{{
		{b[0], b[1]}, {b[0], b[3]}, {b[2], b[3]}, {b[2], b[1]}, {b[0], b[1]},
	}}
}

// WKT：包围盒面的 WKT，作为输出表 geometry 列
func (b BBox) WKT() string {
	var sb strings.Builder
	sb.WriteString("POLYGON(")
	writeRings(&sb, b.Rings())
	sb.WriteString(")")
	return sb.String()
}

// Geometry：包围盒转为面；宽或高为零时退化为点/线，由调用方自行判定
func (b BBox) Geometry() (geom.Geometry, error) {
	return Parse(b.WKT())
}

// String：minx,miny,maxx,maxy
func (b BBox) String() string {
	return ff(b[0]) + "," + ff(b[1]) + "," + ff(b[2]) + "," + ff(b[3])
}
