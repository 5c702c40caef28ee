package coord

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/paulmach/orb"
)

func TestGeoRoundTrip(t *testing.T) {
	w := DefaultWorldConfig()
	cases := [][3]float64{
		{0, 0, 0},
		{45, 30, 1000},
		{-120, -60, 250},
		{179, 89, 0},
	}
	for _, c := range cases {
		p := w.FromGeoTo3D(c[0], c[1], c[2])
		lon, lat, h := w.From3DToGeo(p)
		if math.Abs(lon-c[0]) > 1e-9 || math.Abs(lat-c[1]) > 1e-9 || math.Abs(h-c[2]) > 1e-4 {
			t.Errorf("round trip %v -> %v %v %v", c, lon, lat, h)
		}
	}
}

func TestLHVTransform(t *testing.T) {
	w := DefaultWorldConfig()
	m := w.LHVTransform(0, 0, 0)

	origin := mgl64.TransformCoordinate(mgl64.Vec3{}, m)
	if !origin.ApproxEqual(mgl64.Vec3{1, 0, 0}) {
		t.Errorf("origin = %v", origin)
	}
	up := mgl64.TransformNormal(mgl64.Vec3{0, 0, 1}, m)
	if !up.ApproxEqual(mgl64.Vec3{1, 0, 0}) {
		t.Errorf("up = %v", up)
	}
	north := mgl64.TransformNormal(mgl64.Vec3{0, 1, 0}, m)
	if !north.ApproxEqual(mgl64.Vec3{0, 0, 1}) {
		t.Errorf("north = %v", north)
	}

	center := EarthCenterInLocal(m.Inv())
	if !center.ApproxEqualThreshold(mgl64.Vec3{0, 0, -1}, 1e-9) {
		t.Errorf("earth center = %v", center)
	}
}

func TestMercator(t *testing.T) {
	if x := LonToMercator(180); math.Abs(x-OriginShift) > 1e-6 {
		t.Errorf("x = %v", x)
	}
	for _, lat := range []float64{-80, -10, 0, 33.3, 85} {
		if got := MercatorToLat(LatToMercator(lat)); math.Abs(got-lat) > 1e-9 {
			t.Errorf("lat %v -> %v", lat, got)
		}
	}
	if lat := TileToLat(0, 0); math.Abs(lat-MaxMercatorLat) > 1e-6 {
		t.Errorf("top latitude = %v", lat)
	}
	if x, y := LonLatToTile(0.1, 0.1, 1); x != 1 || y != 0 {
		t.Errorf("tile = %d %d", x, y)
	}
	if x, y := LonLatToTile(500, -89, 2); x != 3 || y != 3 {
		t.Errorf("clamped tile = %d %d", x, y)
	}
}

func TestGeometryBoundAntimeridian(t *testing.T) {
	ls := orb.LineString{{170, 10}, {-170, 20}}
	b := GeometryBound(ls)
	if b.Min[0] != -180 || b.Max[0] != 180 {
		t.Errorf("crossing line should widen to whole longitude range: %v", b)
	}
	if b.Min[1] != 10 || b.Max[1] != 20 {
		t.Errorf("latitude range = %v", b)
	}

	poly := orb.Polygon{{{10, 10}, {20, 10}, {20, 20}, {10, 20}, {10, 10}}}
	b = GeometryBound(poly)
	if b.Min != (orb.Point{10, 10}) || b.Max != (orb.Point{20, 20}) {
		t.Errorf("tight bound = %v", b)
	}
}
