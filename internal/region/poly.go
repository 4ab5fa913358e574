package region

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"site-chain/internal/geo"
)

// parsePoly：osmosis 多边形文件
// 格式：首行名称；每段以段名开头、END 结束，段名以 ! 开头表示洞；文件以 END 结束。
// 洞归属于包含其首点的外环，找不到时归属最近的前一个外环。
func parsePoly(text string) (string, []Polygon, error) {
	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	next := func() (string, bool) {
		for sc.Scan() {
			lineNo++
			s := strings.TrimSpace(sc.Text())
			if s != "" {
				return s, true
			}
		}
		return "", false
	}
	name, ok := next()
	if !ok {
		return "", nil, fmt.Errorf("poly: empty file")
	}
	var polys []Polygon
	for {
		head, ok := next()
		if !ok {
			return "", nil, fmt.Errorf("poly: missing final END")
		}
		if head == "END" {
			break
		}
		hole := strings.HasPrefix(head, "!")
		var ring []geo.Point
		for {
			s, ok := next()
			if !ok {
				return "", nil, fmt.Errorf("poly: section %q not terminated", head)
			}
			if s == "END" {
				break
			}
			f := strings.Fields(s)
			if len(f) < 2 {
				return "", nil, fmt.Errorf("poly: line %d: expected two coordinates", lineNo)
			}
			x, err := strconv.ParseFloat(f[0], 64)
			if err != nil {
				return "", nil, fmt.Errorf("poly: line %d: %w", lineNo, err)
			}
			y, err := strconv.ParseFloat(f[1], 64)
			if err != nil {
				return "", nil, fmt.Errorf("poly: line %d: %w", lineNo, err)
			}
			ring = append(ring, geo.Point{X: x, Y: y})
		}
		if len(ring) < 3 {
			return "", nil, fmt.Errorf("poly: section %q has fewer than 3 points", head)
		}
		if !hole {
			polys = append(polys, Polygon{Rings: [][]geo.Point{ring}, BBox: geo.BBoxOfPoints(ring)})
			continue
		}
		if len(polys) == 0 {
			return "", nil, fmt.Errorf("poly: hole %q before any outer ring", head)
		}
		owner := len(polys) - 1
		for i := range polys {
			if geo.InRing(ring[0], polys[i].Rings[0]) {
				owner = i
				break
			}
		}
		polys[owner].Rings = append(polys[owner].Rings, ring)
	}
	if err := sc.Err(); err != nil {
		return "", nil, err
	}
	return name, polys, nil
}
