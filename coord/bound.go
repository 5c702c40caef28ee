package coord

import (
	"math"

	"github.com/paulmach/orb"
)

// WholeWorld 全球范围
var WholeWorld = orb.Bound{Min: orb.Point{-180, -90}, Max: orb.Point{180, 90}}

// GeometryBound 计算几何体的经纬度范围。
// 相邻顶点经度跳变超过180度时视为跨越180度经线，经度范围扩展为[-180,180]。
func GeometryBound(g orb.Geometry) orb.Bound {
	b := orb.Bound{Min: orb.Point{math.Inf(1), math.Inf(1)}, Max: orb.Point{math.Inf(-1), math.Inf(-1)}}
	crosses := false

	var addPoints func(pts []orb.Point, closed bool)
	addPoints = func(pts []orb.Point, closed bool) {
		for i, p := range pts {
			b = b.Extend(p)
			if i > 0 && math.Abs(p[0]-pts[i-1][0]) > 180 {
				crosses = true
			}
		}
		if closed && len(pts) > 1 && math.Abs(pts[0][0]-pts[len(pts)-1][0]) > 180 {
			crosses = true
		}
	}

	var walk func(g orb.Geometry)
	walk = func(g orb.Geometry) {
		switch v := g.(type) {
		case orb.Point:
			addPoints([]orb.Point{v}, false)
		case orb.MultiPoint:
			for _, p := range v {
				addPoints([]orb.Point{p}, false)
			}
		case orb.LineString:
			addPoints(v, false)
		case orb.MultiLineString:
			for _, ls := range v {
				addPoints(ls, false)
			}
		case orb.Ring:
			addPoints(v, true)
		case orb.Polygon:
			for _, r := range v {
				addPoints(r, true)
			}
		case orb.MultiPolygon:
			for _, p := range v {
				walk(p)
			}
		case orb.Collection:
			for _, c := range v {
				walk(c)
			}
		case orb.Bound:
			addPoints([]orb.Point{v.Min, v.Max}, false)
		}
	}
	walk(g)

	if crosses {
		b.Min[0] = -180
		b.Max[0] = 180
	}
	return b
}

// BoundIntersects 两个范围是否相交（含边界）
func BoundIntersects(a, b orb.Bound) bool {
	if a.Min[0] > b.Max[0] || a.Max[0] < b.Min[0] {
		return false
	}
	if a.Min[1] > b.Max[1] || a.Max[1] < b.Min[1] {
		return false
	}
	return true
}
