// 包 geo：对精确几何库的薄封装，向追踪、合并与标签判定提供交并面积、包围盒与 IOU
package geo

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/peterstace/simplefeatures/geom"
)

// ErrDegenerate：几何为空、非面状或自相交等无法参与面积计算的情形
var ErrDegenerate = errors.New("geometry degenerate")

// Point：平面坐标，X 为经度，Y 为纬度（WGS84 度数，按平面计算）
type Point struct{ X, Y float64 }

// Parse：解析 WKT 文本
func Parse(wkt string) (geom.Geometry, error) {
	g, err := geom.UnmarshalWKT(wkt)
	if err != nil {
		return geom.Geometry{}, fmt.Errorf("parse wkt: %w", err)
	}
	return g, nil
}

// PolygonFromRings：由环列表构造面，第一环为外环，其余为洞（与 GeoJSON 约定一致）
// 约束：环会自动闭合；少于 3 个不同点的环视为退化。
func PolygonFromRings(rings [][]Point) (geom.Geometry, error) {
	if len(rings) == 0 {
		return geom.Geometry{}, ErrDegenerate
	}
	var sb strings.Builder
	sb.WriteString("POLYGON(")
	writeRings(&sb, rings)
	sb.WriteString(")")
	return Parse(sb.String())
}

// MultiPolygonFromParts：每个元素是一组环（外环+洞）
func MultiPolygonFromParts(parts [][][]Point) (geom.Geometry, error) {
	if len(parts) == 0 {
		return geom.Geometry{}, ErrDegenerate
	}
	if len(parts) == 1 {
		return PolygonFromRings(parts[0])
	}
	var sb strings.Builder
	sb.WriteString("MULTIPOLYGON(")
	for i, p := range parts {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteByte('(')
		writeRings(&sb, p)
		sb.WriteByte(')')
	}
	sb.WriteString(")")
	return Parse(sb.String())
}

func writeRings(sb *strings.Builder, rings [][]Point) {
	for i, r := range rings {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteByte('(')
		for j, p := range r {
			if j > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(ff(p.X))
			sb.WriteByte(' ')
			sb.WriteString(ff(p.Y))
		}
		if len(r) > 0 && r[0] != r[len(r)-1] {
			sb.WriteByte(',')
			sb.WriteString(ff(r[0].X))
			sb.WriteByte(' ')
			sb.WriteString(ff(r[0].Y))
		}
		sb.WriteByte(')')
	}
}

func ff(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

// Degenerate：返回非 nil 表示该几何不能参与面积运算
func Degenerate(g geom.Geometry) error {
	if g.IsEmpty() {
		return fmt.Errorf("%w: empty", ErrDegenerate)
	}
	switch g.Type() {
	case geom.TypePolygon, geom.TypeMultiPolygon:
	default:
		return fmt.Errorf("%w: type %s", ErrDegenerate, g.Type())
	}
	if err := g.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrDegenerate, err)
	}
	if g.Area() <= 0 {
		return fmt.Errorf("%w: zero area", ErrDegenerate)
	}
	return nil
}

// Intersection / Union：精确叠加运算，错误原样包裹返回
func Intersection(a, b geom.Geometry) (geom.Geometry, error) {
	g, err := geom.Intersection(a, b)
	if err != nil {
		return geom.Geometry{}, fmt.Errorf("intersection: %w", err)
	}
	return g, nil
}

func Union(a, b geom.Geometry) (geom.Geometry, error) {
	if a.IsEmpty() {
		return b, nil
	}
	if b.IsEmpty() {
		return a, nil
	}
	if geom.ExactEquals(a, b) {
		return a, nil
	}
	g, err := geom.Union(a, b)
	if err != nil {
		return geom.Geometry{}, fmt.Errorf("union: %w", err)
	}
	return g, nil
}

func Area(g geom.Geometry) float64 { return g.Area() }

func Intersects(a, b geom.Geometry) bool {
	if a.IsEmpty() || b.IsEmpty() {
		return false
	}
	return geom.Intersects(a, b)
}

// IOU：交并比，取值 [0,1]；不相交或并集面积为零时返回 0
func IOU(a, b geom.Geometry) (float64, error) {
	if !Intersects(a, b) {
		return 0, nil
	}
	inter, err := Intersection(a, b)
	if err != nil {
		return 0, err
	}
	ia := inter.Area()
	if ia <= 0 {
		return 0, nil
	}
	uni, err := Union(a, b)
	if err != nil {
		return 0, err
	}
	ua := uni.Area()
	if ua <= 0 {
		return 0, nil
	}
	v := ia / ua
	if v > 1 {
		v = 1
	}
	return v, nil
}
