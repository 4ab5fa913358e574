package region

import "site-chain/internal/geo"

// 文档注释：点入多边形判定
// 背景：历史文件按节点是否落在区域内决定是否保留路径，与 osmium extract 的 complete_ways 策略一致。
// 约束：外环命中且不在任何洞内视为命中；边界上的点结果不稳定。
func pointInPoly(pt geo.Point, poly Polygon) bool {
	if len(poly.Rings) == 0 || !geo.InRing(pt, poly.Rings[0]) {
		return false
	}
	for i := 1; i < len(poly.Rings); i++ {
		if geo.InRing(pt, poly.Rings[i]) {
			return false
		}
	}
	return true
}
