package overlay

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
)

// cross 向量 ab 与 ac 叉积的 z 分量
func cross(a, b, c orb.Point) float64 {
	return (b[0]-a[0])*(c[1]-a[1]) - (b[1]-a[1])*(c[0]-a[0])
}

// pointInTriangle 点 p 是否在三角形 abc 内（含边界），abc 为逆时针
func pointInTriangle(p, a, b, c orb.Point) bool {
	return cross(a, b, p) >= 0 && cross(b, c, p) >= 0 && cross(c, a, p) >= 0
}

func ringArea(ring orb.Ring) float64 {
	area := 0.0
	n := len(ring)
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		area += ring[i][0]*ring[j][1] - ring[j][0]*ring[i][1]
	}
	return area / 2
}

// Triangulate 耳切法三角化简单多边形外环，返回顶点下标三元组
func Triangulate(ring orb.Ring) []int {
	pts := []orb.Point(ring)
	if n := len(pts); n > 1 && pts[0] == pts[n-1] {
		pts = pts[:n-1]
	}
	n := len(pts)
	if n < 3 {
		return nil
	}

	idx := make([]int, n)
	if ringArea(orb.Ring(pts)) >= 0 {
		for i := range idx {
			idx[i] = i
		}
	} else {
		for i := range idx {
			idx[i] = n - 1 - i
		}
	}

	out := make([]int, 0, (n-2)*3)
	guard := 0
	for len(idx) > 3 && guard < n*n {
		guard++
		clipped := false
		m := len(idx)
		for k := 0; k < m; k++ {
			i0, i1, i2 := idx[(k+m-1)%m], idx[k], idx[(k+1)%m]
			a, b, c := pts[i0], pts[i1], pts[i2]
			if cross(a, b, c) <= 0 {
				continue
			}
			ear := true
			for _, o := range idx {
				if o == i0 || o == i1 || o == i2 {
					continue
				}
				// 挖洞桥接产生的重复顶点不阻挡耳朵
				if p := pts[o]; p == a || p == b || p == c {
					continue
				}
				if pointInTriangle(pts[o], a, b, c) {
					ear = false
					break
				}
			}
			if !ear {
				continue
			}
			out = append(out, i0, i1, i2)
			idx = append(idx[:k], idx[k+1:]...)
			clipped = true
			break
		}
		if !clipped {
			// 自相交或退化，剩余部分扇形输出
			for k := 1; k+1 < len(idx); k++ {
				out = append(out, idx[0], idx[k], idx[k+1])
			}
			return out
		}
	}
	if len(idx) == 3 {
		out = append(out, idx[0], idx[1], idx[2])
	}
	return out
}

// TriangulatePolygon 三角化带洞多边形：洞按最右顶点依次桥接到外环后耳切。
// 返回桥接后的环与其上的顶点下标三元组。
func TriangulatePolygon(poly orb.Polygon) (orb.Ring, []int) {
	if len(poly) == 0 {
		return nil, nil
	}
	outer := openRing(poly[0], true)
	if len(outer) < 3 {
		return nil, nil
	}
	var holes []orb.Ring
	for _, h := range poly[1:] {
		if h = openRing(h, false); len(h) >= 3 {
			holes = append(holes, h)
		}
	}
	sort.Slice(holes, func(i, j int) bool {
		return holes[i][rightmost(holes[i])][0] > holes[j][rightmost(holes[j])][0]
	})
	for k, h := range holes {
		outer = bridgeHole(outer, h, holes[k+1:])
	}
	return outer, Triangulate(outer)
}

// openRing 去掉闭合点并统一方向，外环逆时针，洞顺时针
func openRing(r orb.Ring, ccw bool) orb.Ring {
	pts := append(orb.Ring(nil), r...)
	if n := len(pts); n > 1 && pts[0] == pts[n-1] {
		pts = pts[:n-1]
	}
	if (ringArea(pts) >= 0) != ccw {
		for i, j := 0, len(pts)-1; i < j; i, j = i+1, j-1 {
			pts[i], pts[j] = pts[j], pts[i]
		}
	}
	return pts
}

func rightmost(r orb.Ring) int {
	best := 0
	for i, p := range r {
		if p[0] > r[best][0] || (p[0] == r[best][0] && p[1] < r[best][1]) {
			best = i
		}
	}
	return best
}

// segmentsCross 线段 ab 与 cd 是否在端点以外相交
func segmentsCross(a, b, c, d orb.Point) bool {
	if a == c || a == d || b == c || b == d {
		return false
	}
	d1, d2 := cross(a, b, c), cross(a, b, d)
	d3, d4 := cross(c, d, a), cross(c, d, b)
	return ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) && ((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0))
}

func crossesRing(a, b orb.Point, r orb.Ring) bool {
	for i := range r {
		if segmentsCross(a, b, r[i], r[(i+1)%len(r)]) {
			return true
		}
	}
	return false
}

// bridgeHole 从洞的最右顶点连到最近的可见外环顶点，沿桥进出洞
func bridgeHole(outer, hole orb.Ring, rest []orb.Ring) orb.Ring {
	m := rightmost(hole)
	mp := hole[m]
	best, bestDist := -1, math.Inf(1)
	for i, p := range outer {
		d := (p[0]-mp[0])*(p[0]-mp[0]) + (p[1]-mp[1])*(p[1]-mp[1])
		if d >= bestDist {
			continue
		}
		if crossesRing(mp, p, outer) || crossesRing(mp, p, hole) {
			continue
		}
		blocked := false
		for _, r := range rest {
			if crossesRing(mp, p, r) {
				blocked = true
				break
			}
		}
		if !blocked {
			best, bestDist = i, d
		}
	}
	if best < 0 {
		return outer
	}

	out := make(orb.Ring, 0, len(outer)+len(hole)+2)
	out = append(out, outer[:best+1]...)
	for k := 0; k <= len(hole); k++ {
		out = append(out, hole[(m+k)%len(hole)])
	}
	out = append(out, outer[best])
	out = append(out, outer[best+1:]...)
	return out
}
