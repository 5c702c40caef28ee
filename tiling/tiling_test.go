package tiling

import (
	"errors"
	"math"
	"testing"

	"github.com/GrainArc/SouceGlobe/coord"
	"github.com/GrainArc/SouceGlobe/gpu"
	"github.com/GrainArc/SouceGlobe/healpix"
	"github.com/GrainArc/SouceGlobe/render"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/paulmach/orb"
)

func newGeoSet(t *testing.T) (*Arena, *gpu.Pool, []TileID) {
	t.Helper()
	arena := NewArena()
	arena.OnTransition = func(tile *Tile, from, to State) {
		if !LegalTransition(from, to) {
			t.Errorf("illegal transition %v -> %v on %v", from, to, tile.ID)
		}
	}
	scheme := NewGeoTiling(4, 2)
	cfg := DefaultConfig(coord.DefaultWorldConfig())
	scheme.Configure(cfg)
	pool := gpu.NewPool(gpu.NewHeadless())
	ids := scheme.GenerateLevelZeroTiles(arena, cfg)
	for _, id := range ids {
		if err := arena.Tile(id).Generate(pool, nil, nil); err != nil {
			t.Fatal(err)
		}
	}
	return arena, pool, ids
}

func TestStateTransitions(t *testing.T) {
	cases := []struct {
		from, to State
		legal    bool
	}{
		{StateNone, StateRequested, true},
		{StateRequested, StateLoading, true},
		{StateRequested, StateNone, true},
		{StateLoading, StateLoaded, true},
		{StateLoading, StateError, true},
		{StateLoading, StateNone, true},
		{StateLoaded, StateNone, true},
		{StateNone, StateLoaded, true},
		{StateError, StateNone, false},
		{StateError, StateRequested, false},
		{StateNone, StateLoading, false},
		{StateLoaded, StateRequested, false},
	}
	for _, c := range cases {
		if got := LegalTransition(c.from, c.to); got != c.legal {
			t.Errorf("%v -> %v legal = %v, want %v", c.from, c.to, got, c.legal)
		}
	}
}

func TestArenaStaleID(t *testing.T) {
	arena := NewArena()
	a := arena.alloc()
	id := a.ID
	if err := arena.Release(id); err != nil {
		t.Fatal(err)
	}
	if _, err := arena.Get(id); !errors.Is(err, ErrStaleTile) {
		t.Errorf("stale lookup err = %v", err)
	}
	b := arena.alloc()
	if b.ID.slot != id.slot || b.ID == id {
		t.Errorf("slot should be reused with a new generation: %v vs %v", b.ID, id)
	}
	if _, err := arena.Get(NoTile); !errors.Is(err, ErrStaleTile) {
		t.Errorf("zero id should not resolve")
	}
	if arena.Len() != 1 {
		t.Errorf("live = %d", arena.Len())
	}
}

func TestQuadtreeInvariant(t *testing.T) {
	arena, pool, ids := newGeoSet(t)
	root := arena.Tile(ids[2])
	before := arena.Len()

	root.CreateChildren()
	if len(root.Children) != 4 {
		t.Fatalf("children = %d", len(root.Children))
	}
	var union orb.Bound
	for idx := 0; idx < 4; idx++ {
		c := root.Child(idx)
		if c.Parent != root.ID || c.ParentIndex != idx || c.Level != 1 {
			t.Errorf("child %d: parent %v index %d level %d", idx, c.Parent, c.ParentIndex, c.Level)
		}
		if c.Children != nil {
			t.Errorf("new child should have no children")
		}
		if c.VertexBuffer != root.VertexBuffer || c.State != StateNone {
			t.Errorf("child should borrow parent buffer in NONE state")
		}
		if c.Radius <= 0 || c.Radius >= root.Radius {
			t.Errorf("child radius %v parent %v", c.Radius, root.Radius)
		}
		if idx == 0 {
			union = c.GeoBound
		} else {
			union = union.Union(c.GeoBound)
		}
	}
	if !union.Equal(root.GeoBound) {
		t.Errorf("children cover %v, parent %v", union, root.GeoBound)
	}
	// 子瓦片顺序 00,10,01,11
	if c := root.Child(1); c.GeoBound.Min[0] <= root.GeoBound.Min[0] || c.GeoBound.Max[1] != root.GeoBound.Max[1] {
		t.Errorf("child 1 should be north-east: %v", c.GeoBound)
	}

	first := root.Child(0)
	first.CreateChildren()
	grand := first.Children[3]
	root.DeleteChildren(pool)
	if root.Children != nil || arena.Len() != before {
		t.Errorf("arena holds %d tiles, want %d", arena.Len(), before)
	}
	if arena.Valid(grand) {
		t.Errorf("grandchild id should be stale")
	}
}

func TestSkirtClosure(t *testing.T) {
	arena, _, ids := newGeoSet(t)
	tile := arena.Tile(ids[1])
	size := tile.Config.Tesselation
	earth := coord.EarthCenterInLocal(tile.InverseMatrix)
	mid := (size - 1) / 2

	sources := map[int]func(n int) int{
		SkirtTop:    func(n int) int { return n },
		SkirtBottom: func(n int) int { return size*(size-1) + n },
		SkirtLeft:   func(n int) int { return n * size },
		SkirtRight:  func(n int) int { return n*size + size - 1 },
		SkirtCenter: func(n int) int { return mid*size + n },
		SkirtMiddle: func(n int) int { return n*size + mid },
	}
	for row, src := range sources {
		for n := 0; n < size; n++ {
			g := tile.vertex(src(n)).Sub(earth).Len()
			s := tile.vertex(SkirtStart(size, row) + n).Sub(earth).Len()
			if !(s < g) {
				t.Fatalf("skirt %d vertex %d: %v not below %v", row, n, s, g)
			}
		}
	}
}

func TestLevelZeroRoundTrip(t *testing.T) {
	schemes := []Scheme{NewGeoTiling(4, 2), NewMercatorTiling(2), NewHEALPixTiling(1)}
	points := [][2]float64{{0, 0}, {10, 45}, {-120, -30}, {179.5, 60}, {-179.5, -60}, {45, 80}}
	for _, s := range schemes {
		arena := NewArena()
		cfg := DefaultConfig(nil)
		s.Configure(cfg)
		ids := s.GenerateLevelZeroTiles(arena, cfg)
		if len(ids) != s.LevelZeroCount() {
			t.Fatalf("%v: %d tiles, want %d", s.Kind(), len(ids), s.LevelZeroCount())
		}
		for _, p := range points {
			if s.Kind() == KindMercator && math.Abs(p[1]) > coord.MaxMercatorLat {
				continue
			}
			idx := s.LonLat2LevelZeroIndex(p[0], p[1])
			tile := arena.Tile(ids[idx])
			if tile.LevelZeroIndex != idx || !tile.ContainsLonLat(p[0], p[1]) {
				t.Errorf("%v: %v -> %d does not contain the point", s.Kind(), p, idx)
			}
		}
	}
}

func TestOverlapAcrossAntimeridian(t *testing.T) {
	g := NewGeoTiling(4, 2)
	line := orb.LineString{{170, 10}, {-170, 10}}
	got := g.GetOverlappedLevelZeroTiles(line)
	has := map[int]bool{}
	for _, i := range got {
		has[i] = true
	}
	if !has[0] || !has[3] {
		t.Errorf("overlap = %v, want both sides of the antimeridian", got)
	}

	m := NewMercatorTiling(2)
	got = m.GetOverlappedLevelZeroTiles(orb.Point{10, 89})
	if len(got) != 1 || got[0] != 2 {
		t.Errorf("polar point overlap = %v", got)
	}
}

func TestCulling(t *testing.T) {
	arena, pool, ids := newGeoSet(t)
	rc := render.NewContext(coord.DefaultWorldConfig(), 400, 400)
	rc.LookAt(mgl64.Vec3{5, 0, 0}, mgl64.Vec3{}, mgl64.Vec3{0, 0, 1})
	rc.UpdateViewDependentProperties()
	rc.ResetNearFar()

	for _, idx := range []int{1, 2, 5, 6} {
		if arena.Tile(ids[idx]).IsCulled(rc) {
			t.Errorf("tile %d facing the eye should be visible", idx)
		}
	}
	if rc.Near <= 0 || rc.Far <= rc.Near {
		t.Errorf("near/far = %v %v", rc.Near, rc.Far)
	}

	// 视点经度0，经度-180附近的瓦片位于地平线之下
	for _, idx := range []int{0, 4} {
		root := arena.Tile(ids[idx])
		root.CreateChildren()
		far := root.Child(0)
		if err := far.Generate(pool, nil, nil); err != nil {
			t.Fatal(err)
		}
		if !far.IsCulled(rc) {
			t.Errorf("tile %v on the far side should be culled", far.GeoBound)
		}
	}
}

func TestCullingSoundness(t *testing.T) {
	arena, pool, ids := newGeoSet(t)
	var tiles []*Tile
	for _, id := range ids {
		root := arena.Tile(id)
		tiles = append(tiles, root)
		root.CreateChildren()
		for i := 0; i < 4; i++ {
			c := root.Child(i)
			if err := c.Generate(pool, nil, nil); err != nil {
				t.Fatal(err)
			}
			tiles = append(tiles, c)
		}
	}
	eyes := []mgl64.Vec3{{5, 0, 0}, {0, 3, 1}, {2, 2.5, 1.5}, {-2, -2, -2}}
	for _, eye := range eyes {
		rc := render.NewContext(coord.DefaultWorldConfig(), 400, 300)
		rc.LookAt(eye, mgl64.Vec3{}, mgl64.Vec3{0, 0, 1})
		rc.UpdateViewDependentProperties()
		rc.ResetNearFar()
		for _, tile := range tiles {
			if !tile.IsCulled(rc) {
				continue
			}
			// 被剔除的瓦片不应有明显朝向视点且在视锥内的网格顶点
			size := tile.Config.Tesselation
			for k := 0; k < size*size; k++ {
				p := mgl64.TransformCoordinate(tile.vertex(k), tile.Matrix)
				toEye := eye.Sub(p)
				if p.Dot(toEye)/toEye.Len() > 0.2 && rc.WorldFrustum.ContainsPoint(p) {
					t.Errorf("eye %v: tile %v culled with visible vertex %v", eye, tile.GeoBound, p)
					break
				}
			}
		}
	}
}

func TestRefinementMonotonic(t *testing.T) {
	arena, _, ids := newGeoSet(t)
	tile := arena.Tile(ids[2])
	refined := false
	for d := 20.0; d > 1.05; d *= 0.9 {
		rc := render.NewContext(coord.DefaultWorldConfig(), 400, 400)
		eye := coord.DefaultWorldConfig().FromGeoTo3D(45, 45, 0).Mul(d)
		rc.LookAt(eye, mgl64.Vec3{}, mgl64.Vec3{0, 0, 1})
		rc.UpdateViewDependentProperties()
		rc.ResetNearFar()
		if tile.IsCulled(rc) {
			t.Fatalf("tile should be visible from %v", eye)
		}
		need := tile.NeedsToBeRefined(rc)
		if refined && !need {
			t.Fatalf("refinement dropped at distance %v", d)
		}
		refined = refined || need
	}
	if !refined {
		t.Errorf("tile never needed refinement")
	}
}

func TestIndexData(t *testing.T) {
	size := 9
	half := (size - 1) / 2
	d := BuildIndexData(size, true)
	if want := (size-1)*(size-1)*6 + 4*(size-1)*6; len(d.Solid) != want {
		t.Errorf("solid = %d, want %d", len(d.Solid), want)
	}
	for k, sub := range d.SubSolid {
		if want := half*half*6 + 4*half*6; len(sub) != want {
			t.Errorf("sub-solid %d = %d, want %d", k, len(sub), want)
		}
	}
	total := size * (size + 6)
	for _, idx := range d.Solid {
		if int(idx) >= total {
			t.Fatalf("index %d out of range", idx)
		}
	}
	if len(d.Wireframe) != 2*2*size*(size-1) {
		t.Errorf("wireframe = %d", len(d.Wireframe))
	}
	if tc := BuildTexCoords(size, true); len(tc) != 2*total {
		t.Errorf("texcoords = %d", len(tc))
	}

	noSkirt := BuildIndexData(5, false)
	if len(noSkirt.Solid) != 4*4*6 {
		t.Errorf("no-skirt solid = %d", len(noSkirt.Solid))
	}
}

func TestHEALPixChildren(t *testing.T) {
	arena := NewArena()
	scheme := NewHEALPixTiling(1)
	cfg := DefaultConfig(nil)
	scheme.Configure(cfg)
	ids := scheme.GenerateLevelZeroTiles(arena, cfg)
	pool := gpu.NewPool(gpu.NewHeadless())

	root := arena.Tile(ids[17])
	if root.State != StateNone || root.Radius <= 0 {
		t.Fatalf("level zero state %v radius %v", root.State, root.Radius)
	}
	if err := root.Generate(pool, nil, nil); err != nil {
		t.Fatal(err)
	}
	root.CreateChildren()
	for idx, off := range []int64{0, 2, 1, 3} {
		c := root.Child(idx)
		if c.Pixel != root.Pixel*4+off {
			t.Errorf("child %d pixel %d", idx, c.Pixel)
		}
		lon, lat := healpix.PixCenter(c.Zoom, c.Pixel)
		if !root.ContainsLonLat(lon, lat) {
			t.Errorf("child %d centre outside parent", idx)
		}
	}
}

func TestElevationAt(t *testing.T) {
	arena := NewArena()
	scheme := NewGeoTiling(4, 2)
	cfg := DefaultConfig(nil)
	scheme.Configure(cfg)
	ids := scheme.GenerateLevelZeroTiles(arena, cfg)
	pool := gpu.NewPool(gpu.NewHeadless())

	size := cfg.Tesselation
	elev := make([]float32, size*size)
	for i := range elev {
		elev[i] = 1000
	}
	tile := arena.Tile(ids[2])
	if err := tile.Generate(pool, nil, elev); err != nil {
		t.Fatal(err)
	}
	h, ok := tile.ElevationAt(45, 45)
	if !ok || math.Abs(h-1000) > 5 {
		t.Errorf("elevation = %v %v", h, ok)
	}
	if _, ok := tile.ElevationAt(-100, 45); ok {
		t.Errorf("point outside tile should have no elevation")
	}
}
