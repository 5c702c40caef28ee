package overlay

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
)

func triangleArea(pts []orb.Point, tri []int) float64 {
	total := 0.0
	for i := 0; i+2 < len(tri); i += 3 {
		total += math.Abs(cross(pts[tri[i]], pts[tri[i+1]], pts[tri[i+2]])) / 2
	}
	return total
}

func TestTriangulate(t *testing.T) {
	cases := []struct {
		name string
		ring orb.Ring
		tris int
	}{
		{"square", orb.Ring{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}, 2},
		{"clockwise", orb.Ring{{0, 0}, {0, 1}, {1, 1}, {1, 0}}, 2},
		{"concave", orb.Ring{{0, 0}, {4, 0}, {4, 4}, {2, 1}, {0, 4}}, 3},
		{"degenerate", orb.Ring{{0, 0}, {1, 1}}, 0},
	}
	for _, c := range cases {
		tri := Triangulate(c.ring)
		if len(tri) != c.tris*3 {
			t.Errorf("%s: %d indices, want %d", c.name, len(tri), c.tris*3)
			continue
		}
		if c.tris == 0 {
			continue
		}
		if got, want := triangleArea(c.ring, tri), math.Abs(ringArea(c.ring)); math.Abs(got-want) > 1e-9 {
			t.Errorf("%s: area %v, want %v", c.name, got, want)
		}
	}
}

func TestTriangulatePolygon(t *testing.T) {
	square := func(x0, y0, x1, y1 float64) orb.Ring {
		return orb.Ring{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}, {x0, y0}}
	}
	cases := []struct {
		name  string
		poly  orb.Polygon
		area  float64
		holes []orb.Bound
	}{
		{"no holes", orb.Polygon{square(0, 0, 4, 4)}, 16, nil},
		{"one hole", orb.Polygon{square(0, 0, 4, 4), square(1, 1, 3, 3)}, 12,
			[]orb.Bound{{Min: orb.Point{1, 1}, Max: orb.Point{3, 3}}}},
		{"two holes", orb.Polygon{square(0, 0, 10, 4), square(1, 1, 3, 3), square(6, 1, 8, 3)}, 32,
			[]orb.Bound{{Min: orb.Point{1, 1}, Max: orb.Point{3, 3}}, {Min: orb.Point{6, 1}, Max: orb.Point{8, 3}}}},
	}
	for _, c := range cases {
		ring, tri := TriangulatePolygon(c.poly)
		if len(tri) == 0 || len(tri)%3 != 0 {
			t.Errorf("%s: %d indices", c.name, len(tri))
			continue
		}
		if got := triangleArea(ring, tri); math.Abs(got-c.area) > 1e-9 {
			t.Errorf("%s: area %v, want %v", c.name, got, c.area)
		}
		for i := 0; i+2 < len(tri); i += 3 {
			a, b, p := ring[tri[i]], ring[tri[i+1]], ring[tri[i+2]]
			centroid := orb.Point{(a[0] + b[0] + p[0]) / 3, (a[1] + b[1] + p[1]) / 3}
			for _, hole := range c.holes {
				if centroid[0] > hole.Min[0] && centroid[0] < hole.Max[0] &&
					centroid[1] > hole.Min[1] && centroid[1] < hole.Max[1] {
					t.Errorf("%s: triangle %v %v %v fills a hole", c.name, a, b, p)
				}
			}
		}
	}
}
