package overlay

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/GrainArc/SouceGlobe/coord"
	"github.com/GrainArc/SouceGlobe/gpu"
	"github.com/GrainArc/SouceGlobe/render"
	"github.com/GrainArc/SouceGlobe/tile_manager"
	"github.com/GrainArc/SouceGlobe/tile_proxy"
	"github.com/GrainArc/SouceGlobe/tiling"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/paulmach/orb"
)

var tileData = func() []byte {
	var buf bytes.Buffer
	_ = png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4)))
	return buf.Bytes()
}()

type baseImagery struct{}

func (baseImagery) Tiling() tiling.Scheme { return tiling.NewGeoTiling(4, 2) }
func (baseImagery) NumberOfLevels() int   { return 1 }
func (baseImagery) TilePixelSize() int    { return 256 }
func (baseImagery) GetURL(t *tiling.Tile) string {
	return fmt.Sprintf("base/%d/%d/%d", t.Zoom, t.X, t.Y)
}

type testRaster struct {
	id       string
	coverage orb.Geometry
}

func (s *testRaster) ID() string             { return s.id }
func (s *testRaster) Opacity() float64       { return 0.5 }
func (s *testRaster) Visible() bool          { return true }
func (s *testRaster) ZIndex() int            { return 0 }
func (s *testRaster) Coverage() orb.Geometry { return s.coverage }
func (s *testRaster) GetURL(t *tiling.Tile) string {
	return fmt.Sprintf("%s/%d/%d/%d", s.id, t.Zoom, t.X, t.Y)
}

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) Publish(event string, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf("%s:%v", event, data))
}

func (r *recorder) has(s string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == s {
			return true
		}
	}
	return false
}

type harness struct {
	rc     *render.Context
	device *gpu.Headless
	m      *tile_manager.TileManager
	raster *RasterRenderer
	vector *VectorRenderer
	events *recorder
}

func newHarness(t *testing.T, overlayFetch func(ctx context.Context, url string) tile_proxy.Result) *harness {
	t.Helper()
	fetcher := tile_proxy.FetcherFunc(func(ctx context.Context, url string) tile_proxy.Result {
		if strings.HasPrefix(url, "base/") || overlayFetch == nil {
			return tile_proxy.Result{Outcome: tile_proxy.Success, Data: tileData}
		}
		return overlayFetch(ctx, url)
	})
	rc := render.NewContext(coord.DefaultWorldConfig(), 400, 400)
	device := gpu.NewHeadless()
	events := &recorder{}
	m, err := tile_manager.NewTileManager(rc, device, tile_manager.Options{Fetcher: fetcher, Publisher: events})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.SetImageryProvider(baseImagery{}); err != nil {
		t.Fatal(err)
	}
	raster, err := NewRasterRenderer(m, events)
	if err != nil {
		t.Fatal(err)
	}
	vector, err := NewVectorRenderer(m)
	if err != nil {
		t.Fatal(err)
	}
	m.AddPostRenderer(raster)
	m.AddPostRenderer(vector)
	t.Cleanup(func() {
		raster.Dispose()
		vector.Dispose()
		m.Dispose()
	})

	h := &harness{rc: rc, device: device, m: m, raster: raster, vector: vector, events: events}
	// 1.3 倍半径处经度 -90~90 的瓦片 1、2、5、6 可见，其余被地平线剔除
	h.look(1.3)
	for i := 0; i < 10; i++ {
		h.frame()
	}
	return h
}

func (h *harness) look(x float64) {
	h.rc.LookAt(mgl64.Vec3{x, 0, 0}, mgl64.Vec3{}, mgl64.Vec3{0, 0, 1})
}

func (h *harness) frame() {
	h.device.ResetCalls()
	h.rc.UpdateViewDependentProperties()
	h.m.Render()
	h.m.Wait()
}

// settle 绘制一帧并等待叠加层请求返回
func (h *harness) settle() {
	h.frame()
	h.raster.Wait()
}

func (h *harness) levelZero(i int) *tiling.Tile {
	return h.m.LevelZeroTiles()[i]
}

func TestRasterOverlayLoads(t *testing.T) {
	h := newHarness(t, nil)
	src := &testRaster{id: "ov"}
	h.raster.AddOverlay(src)
	for i := 0; i < 5; i++ {
		h.settle()
	}

	for _, idx := range []int{1, 2, 5, 6} {
		data := rasterData(h.levelZero(idx))
		if data == nil || len(data.renderables) != 1 {
			t.Fatalf("tile %d has no overlay data", idx)
		}
		rr := data.renderables[0]
		if rr.ownTexture == 0 || !rr.requestFinished || rr.request != -1 {
			t.Errorf("tile %d overlay = %+v", idx, rr)
		}
	}
	// 不可见的瓦片不请求
	if rr := rasterData(h.levelZero(0)).renderables[0]; rr.ownTexture != 0 {
		t.Errorf("culled tile should not load overlay")
	}

	overlayDraws := 0
	for _, c := range h.device.Calls {
		if _, ok := c.Uniforms["opacity"]; ok {
			overlayDraws++
		}
	}
	if overlayDraws != 4 {
		t.Errorf("overlay draws = %d, want 4", overlayDraws)
	}
	if !h.events.has("startLoad:ov") || !h.events.has("endLoad:ov") {
		t.Errorf("load events = %v", h.events.events)
	}

	if !h.raster.RemoveOverlay(src) {
		t.Fatal("remove overlay failed")
	}
	for i := 0; i < 8; i++ {
		if rasterData(h.levelZero(i)) != nil {
			t.Errorf("tile %d still has overlay data", i)
		}
	}
	if h.m.Pool().Stats().LiveTextures != 8 {
		t.Errorf("overlay textures not returned: %+v", h.m.Pool().Stats())
	}
}

func TestRasterOverlayCoverage(t *testing.T) {
	h := newHarness(t, nil)
	h.raster.AddOverlay(&testRaster{id: "ov", coverage: orb.Polygon{{{10, 10}, {20, 10}, {20, 20}, {10, 20}, {10, 10}}}})
	for i := 0; i < 8; i++ {
		has := rasterData(h.levelZero(i)) != nil
		if has != (i == 2) {
			t.Errorf("tile %d overlay data = %v", i, has)
		}
	}
}

func TestRasterStaleRequestAborted(t *testing.T) {
	h := newHarness(t, func(ctx context.Context, url string) tile_proxy.Result {
		<-ctx.Done()
		return tile_proxy.Result{Outcome: tile_proxy.Aborted, Err: ctx.Err()}
	})
	h.raster.AddOverlay(&testRaster{id: "ov"})
	h.frame()

	visible := rasterData(h.levelZero(2)).renderables[0]
	if visible.request < 0 {
		t.Fatalf("visible tile overlay not requested")
	}

	// 绕到背面，原来的请求不再被刷新，本帧被中止
	h.look(-1.3)
	h.frame()
	h.raster.Wait()
	// 下一帧回收槽位，再下一帧为新可见的瓦片发起请求
	h.frame()
	h.frame()

	if visible.request != -1 || visible.requestFinished {
		t.Errorf("stale request not aborted: request=%d finished=%v", visible.request, visible.requestFinished)
	}
	back := rasterData(h.levelZero(0)).renderables[0]
	if back.request < 0 {
		t.Errorf("freed slot should serve the newly visible tile")
	}
}

// skewedHost 叠加层读到的帧号整体偏移，过期判断仍只依赖同一个计数器
type skewedHost struct {
	*tile_manager.TileManager
}

func (s skewedHost) FrameNumber() int { return s.TileManager.FrameNumber() + 1000 }

func TestRasterFrameSkew(t *testing.T) {
	fetcher := tile_proxy.FetcherFunc(func(ctx context.Context, url string) tile_proxy.Result {
		return tile_proxy.Result{Outcome: tile_proxy.Success, Data: tileData}
	})
	rc := render.NewContext(coord.DefaultWorldConfig(), 400, 400)
	m, err := tile_manager.NewTileManager(rc, gpu.NewHeadless(), tile_manager.Options{Fetcher: fetcher})
	if err != nil {
		t.Fatal(err)
	}
	defer m.Dispose()
	_ = m.SetImageryProvider(baseImagery{})
	raster, err := NewRasterRenderer(skewedHost{m}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer raster.Dispose()
	m.AddPostRenderer(raster)
	raster.AddOverlay(&testRaster{id: "ov"})

	rc.LookAt(mgl64.Vec3{1.3, 0, 0}, mgl64.Vec3{}, mgl64.Vec3{0, 0, 1})
	for i := 0; i < 12; i++ {
		rc.UpdateViewDependentProperties()
		m.Render()
		m.Wait()
		raster.Wait()
	}
	rr := rasterData(m.LevelZeroTiles()[2]).renderables[0]
	if rr.ownTexture == 0 {
		t.Errorf("overlay should load under a skewed but consistent frame counter")
	}
}

func TestTextureFromParent(t *testing.T) {
	arena := tiling.NewArena()
	scheme := tiling.NewGeoTiling(4, 2)
	cfg := tiling.DefaultConfig(nil)
	scheme.Configure(cfg)
	pool := gpu.NewPool(gpu.NewHeadless())
	root := arena.Tile(scheme.GenerateLevelZeroTiles(arena, cfg)[0])
	if err := root.Generate(pool, nil, nil); err != nil {
		t.Fatal(err)
	}
	root.CreateChildren()

	parent := &rasterRenderable{texture: 7, uvScale: 1}

	loaded := root.Child(3)
	if err := loaded.Generate(pool, nil, nil); err != nil {
		t.Fatal(err)
	}
	rr := newRasterRenderable(nil, loaded.ID)
	rr.updateTextureFromParent(parent, loaded)
	if rr.texture != 7 || rr.uvScale != 0.5 || rr.uTrans != 0.5 || rr.vTrans != 0.5 {
		t.Errorf("loaded child = %+v", rr)
	}

	pending := root.Child(1)
	rr = newRasterRenderable(nil, pending.ID)
	rr.updateTextureFromParent(parent, pending)
	if rr.uvScale != 1 || rr.uTrans != 0 || rr.vTrans != 0 {
		t.Errorf("pending child should reuse the parent transform: %+v", rr)
	}
}

type testVector struct {
	features []orb.Geometry
	style    Style
}

func (s *testVector) ID() string               { return "vec" }
func (s *testVector) Features() []orb.Geometry { return s.features }
func (s *testVector) Style() Style             { return s.style }
func (s *testVector) Opacity() float64         { return 1 }
func (s *testVector) Visible() bool            { return true }
func (s *testVector) ZIndex() int              { return 0 }

func TestVectorLayer(t *testing.T) {
	h := newHarness(t, nil)
	style := DefaultStyle()
	style.Fill = true
	src := &testVector{
		features: []orb.Geometry{
			orb.LineString{{10, 10}, {60, 10}},
			orb.Polygon{{{20, 20}, {30, 20}, {30, 30}, {20, 30}, {20, 20}}},
		},
		style: style,
	}
	h.vector.AddLayer(src)

	tile := h.levelZero(2)
	data := vectorData(tile)
	if data == nil || len(data.renderables) != 1 {
		t.Fatal("vector data missing on tile 2")
	}
	vr := data.renderables[0]
	if len(vr.triangles) < 6 || len(vr.triangles)%3 != 0 {
		t.Errorf("triangle indices = %d", len(vr.triangles))
	}
	if len(vr.lines) == 0 {
		t.Errorf("no line segments")
	}
	for i := 0; i+2 < len(vr.vertices); i += 3 {
		local := mgl64.Vec3{float64(vr.vertices[i]), float64(vr.vertices[i+1]), float64(vr.vertices[i+2])}
		world := mgl64.TransformCoordinate(local, tile.Matrix)
		if math.Abs(world.Len()-1) > 1e-4 {
			t.Fatalf("vertex %v off the surface", world)
		}
	}
	for i := 0; i < 8; i++ {
		if i != 2 && vectorData(h.levelZero(i)) != nil {
			t.Errorf("tile %d should not carry features", i)
		}
	}

	h.frame()
	lines := 0
	for _, c := range h.device.Calls {
		if c.Mode == gpu.Lines {
			lines++
			if !c.PolygonOffset {
				t.Errorf("vector drawn without depth offset")
			}
		}
	}
	if lines != 1 {
		t.Errorf("line draws = %d, want 1", lines)
	}

	// 子瓦片只保留与自身相交的要素
	tile.CreateChildren()
	sw := tile.Child(2)
	ne := tile.Child(1)
	for _, c := range []*tiling.Tile{sw, ne} {
		if err := c.Generate(h.m.Pool(), nil, nil); err != nil {
			t.Fatal(err)
		}
		h.vector.Generate(c)
	}
	if d := vectorData(sw); d == nil || len(d.renderables[0].features) != 2 {
		t.Errorf("south-west child should carry both features")
	}
	if vectorData(ne) != nil {
		t.Errorf("north-east child should carry nothing")
	}

	if !h.vector.RemoveLayer(src) {
		t.Fatal("remove layer failed")
	}
	if vectorData(tile) != nil || vectorData(sw) != nil {
		t.Errorf("vector data left after removal")
	}
}

func TestVectorPointsAndHoles(t *testing.T) {
	h := newHarness(t, nil)
	style := DefaultStyle()
	style.Fill = true
	src := &testVector{
		features: []orb.Geometry{
			orb.Point{10, 10},
			orb.MultiPoint{{20, 40}, {-100, -10}},
			orb.Polygon{
				{{20, 20}, {30, 20}, {30, 30}, {20, 30}, {20, 20}},
				{{22, 22}, {22, 28}, {28, 28}, {28, 22}, {22, 22}},
			},
		},
		style: style,
	}
	h.vector.AddLayer(src)

	data := vectorData(h.levelZero(2))
	if data == nil {
		t.Fatal("vector data missing on tile 2")
	}
	vr := data.renderables[0]
	if len(vr.points) != 2 {
		t.Errorf("points on tile 2 = %d, want 2", len(vr.points))
	}
	// 外环 4 点 + 洞 4 点 + 2 个桥接点，共 8 个三角形
	if len(vr.triangles) != 24 {
		t.Errorf("triangle indices = %d, want 24", len(vr.triangles))
	}
	if d := vectorData(h.levelZero(4)); d == nil || len(d.renderables[0].points) != 1 {
		t.Errorf("point in the south-west tile not generated")
	}

	h.frame()
	points := 0
	for _, c := range h.device.Calls {
		if c.Mode == gpu.Points {
			points++
			if c.Count != 2 {
				t.Errorf("point draw count = %d", c.Count)
			}
			if _, ok := c.Uniforms["pointSize"]; !ok {
				t.Errorf("point drawn without size")
			}
		}
	}
	// 西南瓦片在背面，不绘制
	if points != 1 {
		t.Errorf("point draws = %d, want 1", points)
	}
}
