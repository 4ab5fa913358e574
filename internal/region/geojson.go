package region

import (
	"encoding/json"
	"fmt"
	"strings"

	"site-chain/internal/geo"
)

// 文档注释：从 GeoJSON 读取区域多边形
// 背景：支持 FeatureCollection / Feature / 裸几何三种形态；所有 Polygon 与 MultiPolygon 合并为一个区域。
// 约束：其它几何类型被忽略；坐标按 [lon, lat] 读取。
func parseGeoJSON(b []byte) ([]Polygon, error) {
	var gj map[string]any
	if err := json.Unmarshal(b, &gj); err != nil {
		return nil, fmt.Errorf("geojson: %w", err)
	}
	var polys []Polygon
	switch strings.ToLower(getStr(gj, "type")) {
	case "featurecollection":
		if arr, ok := gj["features"].([]any); ok {
			for _, it := range arr {
				if f, ok := it.(map[string]any); ok {
					if g, ok := f["geometry"].(map[string]any); ok {
						polys = append(polys, polysFromGeometry(g)...)
					}
				}
			}
		}
	case "feature":
		if g, ok := gj["geometry"].(map[string]any); ok {
			polys = polysFromGeometry(g)
		}
	default:
		polys = polysFromGeometry(gj)
	}
	if len(polys) == 0 {
		return nil, ErrEmptyRegion
	}
	return polys, nil
}

// parseWKT：经由精确几何库解析，再以 GeoJSON 形式取出环
func parseWKT(text string) ([]Polygon, error) {
	g, err := geo.Parse(strings.TrimSpace(text))
	if err != nil {
		return nil, err
	}
	b, err := g.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("wkt to geojson: %w", err)
	}
	return parseGeoJSON(b)
}

func polysFromGeometry(g map[string]any) []Polygon {
	coords, _ := g["coordinates"].([]any)
	switch strings.ToLower(getStr(g, "type")) {
	case "polygon":
		return []Polygon{polyFromCoords(coords)}
	case "multipolygon":
		out := make([]Polygon, 0, len(coords))
		for _, part := range coords {
			if rings, ok := part.([]any); ok {
				out = append(out, polyFromCoords(rings))
			}
		}
		return out
	}
	return nil
}

func polyFromCoords(rings []any) Polygon {
	var poly Polygon
	for _, ring := range rings {
		arr, ok := ring.([]any)
		if !ok {
			continue
		}
		var rr []geo.Point
		for _, p := range arr {
			if vv, ok := p.([]any); ok && len(vv) >= 2 {
				rr = append(rr, geo.Point{X: toFloat(vv[0]), Y: toFloat(vv[1])})
			}
		}
		poly.Rings = append(poly.Rings, rr)
	}
	if len(poly.Rings) > 0 {
		poly.BBox = geo.BBoxOfPoints(poly.Rings[0])
	}
	return poly
}

func getStr(m map[string]any, k string) string {
	if v, ok := m[k].(string); ok {
		return v
	}
	return ""
}

func toFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case json.Number:
		f, _ := x.Float64()
		return f
	case int:
		return float64(x)
	}
	return 0
}
