package globe

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/GrainArc/SouceGlobe/gpu"
	"github.com/GrainArc/SouceGlobe/layer"
	"github.com/GrainArc/SouceGlobe/tile_manager"
	"github.com/GrainArc/SouceGlobe/tile_proxy"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

var pngTile = func() []byte {
	var buf bytes.Buffer
	_ = png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4)))
	return buf.Bytes()
}()

// flatGrid 33x33 的 aaigrid，所有采样为 h
func flatGrid(h string) []byte {
	var sb strings.Builder
	sb.WriteString("ncols 33\nnrows 33\nxllcorner 0\nyllcorner 0\ncellsize 1\n")
	row := strings.TrimSpace(strings.Repeat(h+" ", 33))
	for i := 0; i < 33; i++ {
		sb.WriteString(row + "\n")
	}
	return []byte(sb.String())
}

var testFetcher = tile_proxy.FetcherFunc(func(ctx context.Context, url string) tile_proxy.Result {
	if strings.Contains(url, "aaigrid") {
		return tile_proxy.Result{Outcome: tile_proxy.Success, Data: flatGrid("1000")}
	}
	return tile_proxy.Result{Outcome: tile_proxy.Success, Data: pngTile}
})

func newTestGlobe(t *testing.T) *Globe {
	t.Helper()
	g, err := New(Options{Width: 400, Height: 400, Fetcher: testFetcher})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(g.Dispose)
	return g
}

func baseWMS(t *testing.T) *layer.WMSLayer {
	t.Helper()
	l, err := layer.NewWMSLayer(layer.Options{BaseURL: "http://base/wms", Layers: "bm", NumberOfLevels: 1})
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func settle(g *Globe, frames int) {
	for i := 0; i < frames; i++ {
		g.Render()
		g.Wait()
	}
}

type eventLog struct {
	mu    sync.Mutex
	names []string
}

func (e *eventLog) record(name string) Handler {
	return func(any) {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.names = append(e.names, name)
	}
}

func (e *eventLog) count(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, s := range e.names {
		if s == name {
			n++
		}
	}
	return n
}

func TestBaseLayersReady(t *testing.T) {
	g := newTestGlobe(t)
	log := &eventLog{}
	for _, name := range []string{tile_manager.EventBaseLayersReady, EventLayerAdded, EventLayerRemoved} {
		g.Subscribe(name, log.record(name))
	}

	if err := g.SetBaseImagery(baseWMS(t)); err != nil {
		t.Fatal(err)
	}
	g.LookAt(mgl64.Vec3{5, 0, 0}, mgl64.Vec3{}, mgl64.Vec3{0, 0, 1})
	settle(g, 6)

	if log.count(tile_manager.EventBaseLayersReady) != 1 {
		t.Errorf("baseLayersReady published %d times", log.count(tile_manager.EventBaseLayersReady))
	}
	if s := g.Stats(); s.Rendered == 0 {
		t.Errorf("nothing rendered: %+v", s)
	}

	if err := g.SetBaseImagery(baseWMS(t)); err != nil {
		t.Fatal(err)
	}
	if log.count(EventLayerAdded) != 2 || log.count(EventLayerRemoved) != 1 {
		t.Errorf("layer events added=%d removed=%d", log.count(EventLayerAdded), log.count(EventLayerRemoved))
	}
	if len(g.Layers()) != 1 {
		t.Errorf("layers = %d", len(g.Layers()))
	}
}

func TestBaseLayerTypeChecks(t *testing.T) {
	g := newTestGlobe(t)
	vl, _ := layer.NewVectorLayer(layer.Options{})
	if err := g.SetBaseImagery(vl); !errors.Is(err, ErrNotImagery) {
		t.Errorf("err = %v, want ErrNotImagery", err)
	}
	if err := g.SetBaseElevation(baseWMS(t)); !errors.Is(err, ErrNotElevation) {
		t.Errorf("err = %v, want ErrNotElevation", err)
	}
}

func TestAddRemoveLayer(t *testing.T) {
	g := newTestGlobe(t)
	if err := g.SetBaseImagery(baseWMS(t)); err != nil {
		t.Fatal(err)
	}
	ov, _ := layer.NewWMSLayer(layer.Options{BaseURL: "http://ov/wms", Layers: "roads"})
	vl, _ := layer.NewVectorLayer(layer.Options{})

	if err := g.AddLayer(ov); err != nil {
		t.Fatal(err)
	}
	if err := g.AddLayer(ov); !errors.Is(err, ErrLayerExists) {
		t.Errorf("duplicate err = %v", err)
	}
	if err := g.AddLayer(vl); err != nil {
		t.Fatal(err)
	}
	if len(g.raster.Overlays()) != 1 || len(g.vector.Layers()) != 1 {
		t.Errorf("renderers hold %d raster %d vector", len(g.raster.Overlays()), len(g.vector.Layers()))
	}

	// 要素变化后图层重新挂载，仍只有一份
	vl.AddFeature(geojson.NewFeature(orb.LineString{{0, 0}, {10, 10}}))
	if len(g.vector.Layers()) != 1 {
		t.Errorf("vector layers after change = %d", len(g.vector.Layers()))
	}

	if err := g.SetLayerOpacity(ov.ID(), 0.3); err != nil || ov.Opacity() != 0.3 {
		t.Errorf("opacity = %v err = %v", ov.Opacity(), err)
	}
	if err := g.SetLayerVisible("missing", false); !errors.Is(err, ErrLayerNotFound) {
		t.Errorf("err = %v", err)
	}

	if err := g.RemoveLayer(ov.ID()); err != nil {
		t.Fatal(err)
	}
	if err := g.RemoveLayer(ov.ID()); !errors.Is(err, ErrLayerNotFound) {
		t.Errorf("second remove err = %v", err)
	}
	if err := g.RemoveLayer(vl.ID()); err != nil {
		t.Fatal(err)
	}
	if len(g.raster.Overlays()) != 0 || len(g.vector.Layers()) != 0 {
		t.Errorf("renderers not emptied")
	}
	vl.AddFeature(geojson.NewFeature(orb.Point{1, 1}))
	if len(g.vector.Layers()) != 0 {
		t.Errorf("detached layer must not be re-added")
	}
}

func TestPixelLonLat(t *testing.T) {
	g := newTestGlobe(t)
	g.LookAt(mgl64.Vec3{5, 0, 0}, mgl64.Vec3{}, mgl64.Vec3{0, 0, 1})
	g.Render()

	lon, lat, ok := g.GetLonLatFromPixel(200, 200)
	if !ok || math.Abs(lon) > 1e-6 || math.Abs(lat) > 1e-6 {
		t.Errorf("center = %v %v %v", lon, lat, ok)
	}
	x, y, ok := g.GetPixelFromLonLat(0, 0)
	if !ok || math.Abs(x-200) > 1e-6 || math.Abs(y-200) > 1e-6 {
		t.Errorf("pixel = %v %v %v", x, y, ok)
	}
	if _, _, ok := g.GetLonLatFromPixel(0, 0); ok {
		t.Errorf("corner should miss the globe from far away")
	}
	if _, ok := g.GetViewportGeoBound(); ok {
		t.Errorf("viewport bound should be undefined when corners see space")
	}

	g.LookAtGeo(0, 0, 0.2*g.rc.World.RealEarthRadius)
	g.Render()
	b, ok := g.GetViewportGeoBound()
	if !ok {
		t.Fatal("viewport bound undefined from close view")
	}
	if !b.Contains(orb.Point{0, 0}) || b.Min[0] >= 0 || b.Max[1] <= 0 {
		t.Errorf("bound = %v", b)
	}
	// 屏幕上方为北
	_, top, _ := g.GetLonLatFromPixel(200, 10)
	if top <= 0 {
		t.Errorf("top of screen lat = %v", top)
	}
	_, _, alt := g.Camera()
	if math.Abs(alt-0.2*g.rc.World.RealEarthRadius) > 1 {
		t.Errorf("camera altitude = %v", alt)
	}
}

func TestGetElevation(t *testing.T) {
	g := newTestGlobe(t)
	if g.GetElevation(10, 10) != 0 {
		t.Errorf("elevation before load should be 0")
	}
	elev, err := layer.NewWMSElevationLayer(layer.Options{BaseURL: "http://dem/wms", Layers: "dem"})
	if err != nil {
		t.Fatal(err)
	}
	if err := g.SetBaseImagery(baseWMS(t)); err != nil {
		t.Fatal(err)
	}
	g.LookAt(mgl64.Vec3{5, 0, 0}, mgl64.Vec3{}, mgl64.Vec3{0, 0, 1})
	settle(g, 4)
	// 平坦球面的顶点有浮点误差，没有高程图层时必须严格为 0
	for _, ll := range [][2]float64{{10, 10}, {20, 10}, {-33.3, 47.1}} {
		if h := g.GetElevation(ll[0], ll[1]); h != 0 {
			t.Errorf("elevation at %v without dem = %v", ll, h)
		}
	}

	if err := g.SetBaseElevation(elev); err != nil {
		t.Fatal(err)
	}
	if g.tm.Config().Tesselation != 33 {
		t.Errorf("tesselation = %d", g.tm.Config().Tesselation)
	}
	g.LookAt(mgl64.Vec3{5, 0, 0}, mgl64.Vec3{}, mgl64.Vec3{0, 0, 1})
	settle(g, 6)

	if h := g.GetElevation(10, 10); math.Abs(h-1000) > 5 {
		t.Errorf("elevation = %v, want ~1000", h)
	}
}

func TestEventsStream(t *testing.T) {
	e := NewEvents()
	ch, closeStream := e.Stream(1)
	calls := 0
	id := e.Subscribe("x", func(any) { calls++ })

	e.Publish("x", 1)
	e.Publish("x", 2) // 缓冲已满，流丢弃
	e.Unsubscribe("x", id)
	e.Publish("x", 3)

	if calls != 2 {
		t.Errorf("handler calls = %d", calls)
	}
	ev := <-ch
	if ev.Name != "x" || ev.Data != 1 {
		t.Errorf("event = %+v", ev)
	}
	closeStream()
	closeStream()
	if _, ok := <-ch; ok {
		t.Errorf("stream should be closed")
	}
}

func TestRunner(t *testing.T) {
	g, err := New(Options{Width: 400, Height: 400, Fetcher: testFetcher, Device: gpu.NewHeadless()})
	if err != nil {
		t.Fatal(err)
	}
	r := NewRunner(g, time.Millisecond)
	r.Start(context.Background())

	ctx := context.Background()
	base := baseWMS(t)
	err = r.Do(ctx, func(g *Globe) error {
		g.LookAt(mgl64.Vec3{5, 0, 0}, mgl64.Vec3{}, mgl64.Vec3{0, 0, 1})
		return g.SetBaseImagery(base)
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Step(ctx, 3); err != nil {
		t.Fatal(err)
	}
	var frame int
	_ = r.Do(ctx, func(g *Globe) error {
		frame = g.Stats().FrameNumber
		return nil
	})
	if frame < 3 {
		t.Errorf("frame number = %d", frame)
	}

	boom := errors.New("boom")
	if err := r.Do(ctx, func(*Globe) error { return boom }); !errors.Is(err, boom) {
		t.Errorf("err = %v", err)
	}
	if err := r.Do(ctx, func(*Globe) error { panic("bad") }); err == nil {
		t.Errorf("panic should surface as error")
	}

	r.Stop()
	r.Stop()
	if err := r.Do(ctx, func(*Globe) error { return nil }); !errors.Is(err, ErrRunnerStopped) {
		t.Errorf("after stop err = %v", err)
	}
}
