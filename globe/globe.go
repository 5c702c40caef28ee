// Package globe 组合视图状态、瓦片管理器与叠加层，对外提供虚拟地球的图层与相机接口
package globe

import (
	"errors"
	"fmt"

	"github.com/GrainArc/SouceGlobe/coord"
	"github.com/GrainArc/SouceGlobe/gpu"
	"github.com/GrainArc/SouceGlobe/layer"
	"github.com/GrainArc/SouceGlobe/overlay"
	"github.com/GrainArc/SouceGlobe/render"
	"github.com/GrainArc/SouceGlobe/tile_manager"
	"github.com/GrainArc/SouceGlobe/tile_proxy"
	"github.com/GrainArc/SouceGlobe/tiling"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/paulmach/orb"
)

var (
	ErrNotImagery       = errors.New("layer cannot be used as base imagery")
	ErrNotElevation     = errors.New("layer cannot be used as base elevation")
	ErrUnsupportedLayer = errors.New("layer cannot be displayed as overlay")
	ErrLayerExists      = errors.New("layer already added")
	ErrLayerNotFound    = errors.New("layer not found")
)

// Options 创建参数
type Options struct {
	World   *coord.WorldConfig
	Width   int
	Height  int
	Device  gpu.Device
	Fetcher tile_proxy.Fetcher

	Tesselation        int
	NoSkirt            bool
	Normals            bool
	MaxLevel           int
	MaxRequests        int
	TileErrorThreshold float64
	// Continuous 每个节拍都绘制，否则只在有重绘请求时绘制
	Continuous bool
}

// Globe 虚拟地球。除事件订阅外，方法不是并发安全的，由 Runner 串行调用。
type Globe struct {
	rc     *render.Context
	tm     *tile_manager.TileManager
	raster *overlay.RasterRenderer
	vector *overlay.VectorRenderer
	events *Events

	baseImagery   layer.Layer
	baseElevation layer.Layer
	overlays      []layer.Layer

	continuous bool
}

// New 创建虚拟地球
func New(opts Options) (*Globe, error) {
	if opts.Device == nil {
		opts.Device = gpu.NewHeadless()
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = 800, 600
	}
	rc := render.NewContext(opts.World, opts.Width, opts.Height)
	if opts.TileErrorThreshold > 0 {
		rc.TileErrorThreshold = opts.TileErrorThreshold
	}

	g := &Globe{rc: rc, events: NewEvents(), continuous: opts.Continuous}
	tm, err := tile_manager.NewTileManager(rc, opts.Device, tile_manager.Options{
		Tesselation: opts.Tesselation,
		NoSkirt:     opts.NoSkirt,
		Normals:     opts.Normals,
		MaxLevel:    opts.MaxLevel,
		MaxRequests: opts.MaxRequests,
		Fetcher:     opts.Fetcher,
		Publisher:   g.events,
	})
	if err != nil {
		return nil, fmt.Errorf("create tile manager: %w", err)
	}
	g.tm = tm

	if g.raster, err = overlay.NewRasterRenderer(tm, g.events); err != nil {
		tm.Dispose()
		return nil, err
	}
	if g.vector, err = overlay.NewVectorRenderer(tm); err != nil {
		g.raster.Dispose()
		tm.Dispose()
		return nil, err
	}
	tm.AddPostRenderer(g.raster)
	tm.AddPostRenderer(g.vector)
	rc.RequestFrame()
	return g, nil
}

func (g *Globe) Context() *render.Context               { return g.rc }
func (g *Globe) TileManager() *tile_manager.TileManager { return g.tm }
func (g *Globe) Events() *Events                        { return g.events }
func (g *Globe) BaseImagery() layer.Layer               { return g.baseImagery }
func (g *Globe) BaseElevation() layer.Layer             { return g.baseElevation }

// Subscribe 订阅事件
func (g *Globe) Subscribe(name string, fn Handler) int {
	return g.events.Subscribe(name, fn)
}

// Unsubscribe 取消订阅
func (g *Globe) Unsubscribe(name string, id int) {
	g.events.Unsubscribe(name, id)
}

// Publish 发布事件
func (g *Globe) Publish(name string, data any) {
	g.events.Publish(name, data)
}

// SetBaseImagery 设置底图，nil 表示移除。旧底图发布 layerRemoved。
func (g *Globe) SetBaseImagery(l layer.Layer) error {
	var provider tile_manager.ImageryProvider
	if l != nil {
		p, ok := l.(tile_manager.ImageryProvider)
		if !ok {
			return fmt.Errorf("%s: %w", l.ID(), ErrNotImagery)
		}
		provider = p
	}
	if err := g.tm.SetImageryProvider(provider); err != nil {
		return err
	}
	if g.baseImagery != nil {
		g.Publish(EventLayerRemoved, g.baseImagery)
	}
	g.baseImagery = l
	// 切片方案可能变化，矢量图层的零级瓦片映射需要重建
	g.rebuildVectorLayers()
	if l != nil {
		g.Publish(EventLayerAdded, l)
	}
	g.rc.RequestFrame()
	return nil
}

// SetBaseElevation 设置高程，nil 表示移除
func (g *Globe) SetBaseElevation(l layer.Layer) error {
	var provider tile_manager.ElevationProvider
	if l != nil {
		p, ok := l.(tile_manager.ElevationProvider)
		if !ok {
			return fmt.Errorf("%s: %w", l.ID(), ErrNotElevation)
		}
		provider = p
	}
	if err := g.tm.SetElevationProvider(provider); err != nil {
		return err
	}
	if g.baseElevation != nil {
		g.Publish(EventLayerRemoved, g.baseElevation)
	}
	g.baseElevation = l
	if l != nil {
		g.Publish(EventLayerAdded, l)
	}
	g.rc.RequestFrame()
	return nil
}

// AddLayer 添加叠加层：矢量图层或栅格图层
func (g *Globe) AddLayer(l layer.Layer) error {
	if g.Layer(l.ID()) != nil {
		return fmt.Errorf("%s: %w", l.ID(), ErrLayerExists)
	}
	switch src := l.(type) {
	case overlay.VectorSource:
		g.vector.AddLayer(src)
		if vl, ok := l.(*layer.VectorLayer); ok {
			vl.OnChange(g.refreshVectorLayer)
		}
	case overlay.RasterSource:
		g.raster.AddOverlay(src)
	default:
		return fmt.Errorf("%s: %w", l.ID(), ErrUnsupportedLayer)
	}
	g.overlays = append(g.overlays, l)
	g.Publish(EventLayerAdded, l)
	g.rc.RequestFrame()
	return nil
}

// RemoveLayer 按编号移除叠加层
func (g *Globe) RemoveLayer(id string) error {
	idx := -1
	for i, l := range g.overlays {
		if l.ID() == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%s: %w", id, ErrLayerNotFound)
	}
	l := g.overlays[idx]
	switch src := l.(type) {
	case overlay.VectorSource:
		g.vector.RemoveLayer(src)
		if vl, ok := l.(*layer.VectorLayer); ok {
			vl.OnChange(nil)
		}
	case overlay.RasterSource:
		g.raster.RemoveOverlay(src)
	}
	g.overlays = append(g.overlays[:idx], g.overlays[idx+1:]...)
	g.Publish(EventLayerRemoved, l)
	g.rc.RequestFrame()
	return nil
}

// Layers 底图、高程与叠加层
func (g *Globe) Layers() []layer.Layer {
	out := make([]layer.Layer, 0, len(g.overlays)+2)
	if g.baseImagery != nil {
		out = append(out, g.baseImagery)
	}
	if g.baseElevation != nil {
		out = append(out, g.baseElevation)
	}
	return append(out, g.overlays...)
}

// Layer 按编号查找图层
func (g *Globe) Layer(id string) layer.Layer {
	for _, l := range g.Layers() {
		if l.ID() == id {
			return l
		}
	}
	return nil
}

// SetLayerVisible 修改图层可见性
func (g *Globe) SetLayerVisible(id string, visible bool) error {
	l := g.Layer(id)
	if l == nil {
		return fmt.Errorf("%s: %w", id, ErrLayerNotFound)
	}
	l.SetVisible(visible)
	g.rc.RequestFrame()
	return nil
}

// SetLayerOpacity 修改图层透明度
func (g *Globe) SetLayerOpacity(id string, opacity float64) error {
	l := g.Layer(id)
	if l == nil {
		return fmt.Errorf("%s: %w", id, ErrLayerNotFound)
	}
	l.SetOpacity(opacity)
	g.rc.RequestFrame()
	return nil
}

func (g *Globe) refreshVectorLayer(vl *layer.VectorLayer) {
	g.vector.RemoveLayer(vl)
	g.vector.AddLayer(vl)
	g.rc.RequestFrame()
}

func (g *Globe) rebuildVectorLayers() {
	for _, l := range g.overlays {
		if src, ok := l.(overlay.VectorSource); ok {
			g.vector.RemoveLayer(src)
			g.vector.AddLayer(src)
		}
	}
}

// GetElevation 经纬度处已加载的最精细瓦片上的高程（米），没有高程图层或已加载瓦片时为 0
func (g *Globe) GetElevation(lon, lat float64) float64 {
	if g.tm.ElevationProvider() == nil {
		return 0
	}
	levelZero := g.tm.LevelZeroTiles()
	idx := g.tm.Scheme().LonLat2LevelZeroIndex(lon, lat)
	if idx < 0 || idx >= len(levelZero) {
		return 0
	}
	t := levelZero[idx]
	if t.State != tiling.StateLoaded {
		return 0
	}
	for {
		next := loadedChildAt(t, lon, lat)
		if next == nil {
			break
		}
		t = next
	}
	h, ok := t.ElevationAt(lon, lat)
	if !ok {
		return 0
	}
	return h
}

func loadedChildAt(t *tiling.Tile, lon, lat float64) *tiling.Tile {
	for i := range t.Children {
		c := t.Child(i)
		if c != nil && c.State == tiling.StateLoaded && c.ContainsLonLat(lon, lat) {
			return c
		}
	}
	return nil
}

// GetLonLatFromPixel 屏幕像素（左上角为原点）对应的经纬度，不在球面上时 ok 为 false
func (g *Globe) GetLonLatFromPixel(x, y float64) (lon, lat float64, ok bool) {
	p, ok := g.pickSphere(x, y)
	if !ok {
		return 0, 0, false
	}
	lon, lat, _ = g.rc.World.From3DToGeo(p)
	return lon, lat, true
}

// GetPixelFromLonLat 经纬度对应的屏幕像素
func (g *Globe) GetPixelFromLonLat(lon, lat float64) (x, y float64, ok bool) {
	return g.rc.WorldToPixel(g.rc.World.FromGeoTo3D(lon, lat, 0))
}

// GetViewportGeoBound 视口四角射线与球面的交点范围，有角落看向太空时 ok 为 false
func (g *Globe) GetViewportGeoBound() (orb.Bound, bool) {
	w, h := float64(g.rc.Width), float64(g.rc.Height)
	corners := [4][2]float64{{0, h}, {w, h}, {0, 0}, {w, 0}}
	pts := make(orb.MultiPoint, 0, len(corners))
	for _, c := range corners {
		p, ok := g.pickSphere(c[0], c[1])
		if !ok {
			return orb.Bound{}, false
		}
		lon, lat, _ := g.rc.World.From3DToGeo(p)
		pts = append(pts, orb.Point{lon, lat})
	}
	return pts.Bound(), true
}

func (g *Globe) pickSphere(x, y float64) (mgl64.Vec3, bool) {
	ray := g.rc.PixelRay(x, y)
	t, ok := ray.SphereIntersection(mgl64.Vec3{}, g.rc.World.Radius)
	if !ok {
		return mgl64.Vec3{}, false
	}
	return ray.At(t), true
}

// LookAt 设置相机
func (g *Globe) LookAt(eye, center, up mgl64.Vec3) {
	g.rc.LookAt(eye, center, up)
}

// SetViewport 修改视口尺寸
func (g *Globe) SetViewport(width, height int) {
	g.rc.SetViewport(width, height)
}

// Render 绘制一帧
func (g *Globe) Render() {
	if g.rc.Width == 0 || g.rc.Height == 0 {
		return
	}
	g.rc.UpdateViewDependentProperties()
	g.tm.Render()
}

// RenderIfRequested 有重绘请求或连续绘制时绘制一帧
func (g *Globe) RenderIfRequested() bool {
	requested := g.rc.TakeFrameRequest()
	if !requested && !g.continuous {
		return false
	}
	g.Render()
	return true
}

// Stats 帧统计
func (g *Globe) Stats() tile_manager.Stats {
	return g.tm.Stats()
}

// Wait 等待后台获取结束，测试使用
func (g *Globe) Wait() {
	g.tm.Wait()
	g.raster.Wait()
}

// Dispose 释放全部资源
func (g *Globe) Dispose() {
	g.raster.Dispose()
	g.vector.Dispose()
	g.tm.Dispose()
}
