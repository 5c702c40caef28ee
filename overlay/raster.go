package overlay

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/GrainArc/SouceGlobe/coord"
	"github.com/GrainArc/SouceGlobe/gpu"
	"github.com/GrainArc/SouceGlobe/tile_proxy"
	"github.com/GrainArc/SouceGlobe/tiling"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/clip"
)

const (
	rasterExtension = "raster"
	// DefaultRasterRequests 栅格叠加层同时进行的请求数
	DefaultRasterRequests = 4
)

// RasterSource 栅格叠加层
type RasterSource interface {
	ID() string
	GetURL(t *tiling.Tile) string
	Opacity() float64
	Visible() bool
	ZIndex() int
	// Coverage 数据覆盖范围，nil 表示全球
	Coverage() orb.Geometry
}

type rasterBucket struct {
	id          int
	source      RasterSource
	numRequests int
}

// rasterRenderable 一个叠加层在一个瓦片上的数据
type rasterRenderable struct {
	bucket *rasterBucket
	tile   tiling.TileID

	ownTexture gpu.Texture
	texture    gpu.Texture
	uvScale    float64
	uTrans     float64
	vTrans     float64

	request         int // 请求槽位，-1 表示无
	requestFinished bool
	disposed        bool
}

type rasterRequest struct {
	renderable *rasterRenderable
	tile       *tiling.Tile
	frame      int
	cancel     context.CancelFunc
	busy       bool
}

type rasterCompletion struct {
	slot   int
	result tile_proxy.Result
}

// RasterRenderer 栅格叠加层渲染器，一个Globe一个实例，管理所有栅格叠加层
type RasterRenderer struct {
	host      Host
	publisher Publisher
	program   gpu.Program

	buckets  []*rasterBucket
	bucketID int

	requests    []*rasterRequest
	completions chan rasterCompletion
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewRasterRenderer 创建栅格叠加层渲染器
func NewRasterRenderer(host Host, publisher Publisher) (*RasterRenderer, error) {
	program, err := newRasterProgram(host.Device())
	if err != nil {
		return nil, fmt.Errorf("create raster program: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &RasterRenderer{
		host:        host,
		publisher:   publisher,
		program:     program,
		requests:    make([]*rasterRequest, DefaultRasterRequests),
		completions: make(chan rasterCompletion, DefaultRasterRequests),
		ctx:         ctx,
		cancel:      cancel,
	}
	for i := range r.requests {
		r.requests[i] = &rasterRequest{}
	}
	return r, nil
}

func (r *RasterRenderer) publish(event string, data any) {
	if r.publisher != nil {
		r.publisher.Publish(event, data)
	}
}

// NeedsOffset 栅格叠加层与底图共用几何，不需要深度偏移
func (r *RasterRenderer) NeedsOffset() bool { return false }

// ZIndex 在矢量之前绘制
func (r *RasterRenderer) ZIndex() int { return 0 }

// AddOverlay 添加叠加层，已加载的瓦片立即挂上
func (r *RasterRenderer) AddOverlay(src RasterSource) {
	b := &rasterBucket{id: r.bucketID, source: src}
	r.bucketID++
	r.buckets = append(r.buckets, b)
	sort.SliceStable(r.buckets, func(i, j int) bool {
		if r.buckets[i].source.ZIndex() != r.buckets[j].source.ZIndex() {
			return r.buckets[i].source.ZIndex() < r.buckets[j].source.ZIndex()
		}
		return r.buckets[i].id < r.buckets[j].id
	})
	for _, t := range r.host.LevelZeroTiles() {
		if t.State == tiling.StateLoaded {
			r.addOverlayToTile(t, b, nil)
		}
	}
	r.host.Context().RequestFrame()
}

// RemoveOverlay 移除叠加层并释放其全部瓦片数据
func (r *RasterRenderer) RemoveOverlay(src RasterSource) bool {
	idx := -1
	for i, b := range r.buckets {
		if b.source == src {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	b := r.buckets[idx]
	r.buckets = append(r.buckets[:idx], r.buckets[idx+1:]...)

	r.host.VisitTiles(func(t *tiling.Tile) {
		data := rasterData(t)
		if data == nil {
			return
		}
		if rr := data.remove(b); rr != nil {
			r.disposeRenderable(rr)
		}
		if len(data.renderables) == 0 {
			t.RemoveExtension(rasterExtension, r.host.Pool())
		}
	})
	r.host.Context().RequestFrame()
	return true
}

// Overlays 当前叠加层，按绘制顺序
func (r *RasterRenderer) Overlays() []RasterSource {
	out := make([]RasterSource, len(r.buckets))
	for i, b := range r.buckets {
		out[i] = b.source
	}
	return out
}

func rasterData(t *tiling.Tile) *rasterTileData {
	ext, ok := t.Extension(rasterExtension)
	if !ok {
		return nil
	}
	return ext.(*rasterTileData)
}

func (r *RasterRenderer) ensureData(t *tiling.Tile) *rasterTileData {
	if data := rasterData(t); data != nil {
		return data
	}
	data := &rasterTileData{renderer: r}
	t.SetExtension(rasterExtension, data)
	return data
}

func newRasterRenderable(b *rasterBucket, id tiling.TileID) *rasterRenderable {
	return &rasterRenderable{bucket: b, tile: id, uvScale: 1, request: -1}
}

// overlayIntersects 叠加层覆盖范围与瓦片范围是否相交
func overlayIntersects(bound orb.Bound, src RasterSource) bool {
	g := src.Coverage()
	if g == nil {
		return true
	}
	if !coord.BoundIntersects(g.Bound(), bound) {
		return false
	}
	return clip.Geometry(bound, orb.Clone(g)) != nil
}

// addOverlayToTile 在瓦片及其已加载的子瓦片上创建叠加层数据
func (r *RasterRenderer) addOverlayToTile(t *tiling.Tile, b *rasterBucket, parent *rasterRenderable) {
	if !overlayIntersects(t.GeoBound, b.source) {
		return
	}
	data := r.ensureData(t)
	if old := data.remove(b); old != nil {
		r.disposeRenderable(old)
	}
	rr := newRasterRenderable(b, t.ID)
	data.renderables = append(data.renderables, rr)
	if parent != nil && parent.texture != 0 {
		rr.updateTextureFromParent(parent, t)
	}
	for _, id := range t.Children {
		if c := t.Arena().Tile(id); c != nil && c.State == tiling.StateLoaded {
			r.addOverlayToTile(c, b, rr)
		}
	}
}

// updateTextureFromParent 借用父瓦片纹理。已加载的瓦片有自己的网格，只取父纹理的四分之一。
func (rr *rasterRenderable) updateTextureFromParent(parent *rasterRenderable, t *tiling.Tile) {
	rr.texture = parent.texture
	if t.State == tiling.StateLoaded {
		rr.uvScale = parent.uvScale * 0.5
		rr.uTrans = parent.uTrans
		rr.vTrans = parent.vTrans
		if t.ParentIndex&1 != 0 {
			rr.uTrans += rr.uvScale
		}
		if t.ParentIndex&2 != 0 {
			rr.vTrans += rr.uvScale
		}
		return
	}
	rr.uvScale = parent.uvScale
	rr.uTrans = parent.uTrans
	rr.vTrans = parent.vTrans
}

// updateChildrenTexture 向下传播纹理，直到遇到有自己纹理的子瓦片
func (r *RasterRenderer) updateChildrenTexture(rr *rasterRenderable, t *tiling.Tile) {
	for _, id := range t.Children {
		child := t.Arena().Tile(id)
		if child == nil {
			continue
		}
		data := rasterData(child)
		if data == nil {
			continue
		}
		if cr := data.find(rr.bucket); cr != nil && cr.ownTexture == 0 {
			cr.updateTextureFromParent(rr, child)
			r.updateChildrenTexture(cr, child)
		}
	}
}

// Generate 瓦片加载完成：零级瓦片从叠加层列表创建，子瓦片从父瓦片的数据派生
func (r *RasterRenderer) Generate(t *tiling.Tile) {
	if len(r.buckets) == 0 {
		return
	}
	if t.IsLevelZero() {
		for _, b := range r.buckets {
			r.addOverlayToTile(t, b, nil)
		}
		return
	}
	parent := t.ParentTile()
	if parent == nil {
		return
	}
	pd := rasterData(parent)
	// 初始化时借用的数据作废
	t.RemoveExtension(rasterExtension, r.host.Pool())
	if pd == nil {
		return
	}
	for _, prr := range pd.renderables {
		r.addOverlayToTile(t, prr.bucket, prr)
	}
}

// Cleanup 渲染器被移除时清理瓦片数据
func (r *RasterRenderer) Cleanup(t *tiling.Tile) {
	t.RemoveExtension(rasterExtension, r.host.Pool())
}

// requestTexture 为瓦片上的叠加层分配请求槽位；已在请求中的刷新帧号
func (r *RasterRenderer) requestTexture(rr *rasterRenderable, t *tiling.Tile) {
	frame := r.host.FrameNumber()
	if rr.request >= 0 {
		r.requests[rr.request].frame = frame
		return
	}
	slot := -1
	for i, req := range r.requests {
		if !req.busy {
			slot = i
			break
		}
	}
	if slot < 0 {
		return
	}
	url := rr.bucket.source.GetURL(t)
	if url == "" {
		rr.requestFinished = true
		return
	}

	ctx, cancel := context.WithCancel(r.ctx)
	req := r.requests[slot]
	*req = rasterRequest{renderable: rr, tile: t, frame: frame, cancel: cancel, busy: true}
	rr.request = slot
	rr.requestFinished = false
	if rr.bucket.numRequests == 0 {
		r.publish(EventStartLoad, rr.bucket.source.ID())
	}
	rr.bucket.numRequests++

	fetcher := r.host.Fetcher()
	rc := r.host.Context()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		res := fetcher.Fetch(ctx, url)
		if ctx.Err() != nil {
			res.Outcome = tile_proxy.Aborted
		}
		r.completions <- rasterCompletion{slot: slot, result: res}
		rc.RequestFrame()
	}()
}

// abortStaleRequests 本帧未被遍历刷新的请求已无用，中止以释放槽位
func (r *RasterRenderer) abortStaleRequests() {
	frame := r.host.FrameNumber()
	for _, req := range r.requests {
		if req.busy && req.frame < frame && req.cancel != nil {
			req.cancel()
		}
	}
}

func (r *RasterRenderer) receiveTextures() {
	for {
		select {
		case c := <-r.completions:
			r.handleCompletion(c)
		default:
			return
		}
	}
}

func (r *RasterRenderer) handleCompletion(c rasterCompletion) {
	req := r.requests[c.slot]
	rr := req.renderable
	tile := req.tile
	req.cancel()
	*req = rasterRequest{}
	if rr == nil {
		return
	}
	rr.request = -1

	completed := true
	switch c.result.Outcome {
	case tile_proxy.Aborted:
		completed = false
	case tile_proxy.Failure:
		logger.Debug("overlay request failed", "overlay", rr.bucket.source.ID(), "status", c.result.Status, "err", c.result.Err)
	default:
		if !rr.disposed {
			r.applyTexture(rr, c.result.Data, tile)
		}
	}
	rr.requestFinished = completed
	rr.bucket.numRequests--
	if rr.bucket.numRequests == 0 {
		r.publish(EventEndLoad, rr.bucket.source.ID())
	}
}

func (r *RasterRenderer) applyTexture(rr *rasterRenderable, data []byte, t *tiling.Tile) {
	img, err := tile_proxy.DecodeImage(data)
	if err != nil {
		logger.Debug("overlay image decode", "overlay", rr.bucket.source.ID(), "err", err)
		return
	}
	tex, err := r.host.Pool().CreateTexture(img)
	if err != nil {
		logger.Warn("overlay texture", "err", err)
		return
	}
	if rr.ownTexture != 0 {
		_ = r.host.Pool().DisposeTexture(rr.ownTexture)
	}
	rr.ownTexture = tex
	rr.texture = tex
	rr.uvScale, rr.uTrans, rr.vTrans = 1, 0, 0
	if t != nil {
		r.updateChildrenTexture(rr, t)
	}
}

func (r *RasterRenderer) disposeRenderable(rr *rasterRenderable) {
	rr.disposed = true
	if rr.request >= 0 {
		req := r.requests[rr.request]
		if req.cancel != nil {
			req.cancel()
		}
	}
	if rr.ownTexture != 0 {
		if err := r.host.Pool().DisposeTexture(rr.ownTexture); err != nil {
			logger.Warn("dispose overlay texture", "err", err)
		}
		rr.ownTexture = 0
	}
	rr.texture = 0
}

// Render 处理已到达的纹理、中止过期请求并绘制可见瓦片上的叠加层
func (r *RasterRenderer) Render(tiles []*tiling.Tile) {
	r.receiveTextures()
	r.abortStaleRequests()
	if len(r.buckets) == 0 {
		return
	}

	rc := r.host.Context()
	device := r.host.Device()
	stride := r.host.Config().VertexSize() * 4

	r.program.Apply()
	r.program.UniformMatrix4("projectionMatrix", gpu.Mat4f(rc.ProjectionMatrix))
	r.program.Uniform1i("overlayTexture", 0)
	r.program.BindAttribute("tcoord", r.host.TexCoordBuffer(), 2, 0, 0)

	for _, b := range r.buckets {
		if !b.source.Visible() {
			continue
		}
		for _, t := range tiles {
			data := rasterData(t)
			if data == nil || t.VertexBuffer == 0 {
				continue
			}
			rr := data.find(b)
			if rr == nil || rr.texture == 0 {
				continue
			}
			r.program.BindAttribute("vertex", t.VertexBuffer, 3, stride, 0)
			r.program.UniformMatrix4("modelViewMatrix", gpu.Mat4f(rc.ViewMatrix.Mul4(t.Matrix)))
			r.program.Uniform1f("opacity", float32(b.source.Opacity()))
			r.program.Uniform4f("textureTransform", gpu.Vec4f([4]float64{rr.uvScale, rr.uvScale, rr.uTrans, rr.vTrans}))
			device.BindTexture(0, rr.texture)
			buf, count := r.host.IndexBuffer(t)
			device.DrawElements(gpu.Triangles, count, buf)
		}
	}
}

// Wait 等待进行中的请求结束，结果在下一次绘制时处理
func (r *RasterRenderer) Wait() {
	r.wg.Wait()
}

// Dispose 中止所有请求
func (r *RasterRenderer) Dispose() {
	r.cancel()
	r.wg.Wait()
	r.program.Dispose()
}

// rasterTileData 瓦片扩展：该瓦片上各叠加层的数据
type rasterTileData struct {
	renderer    *RasterRenderer
	renderables []*rasterRenderable
}

func (d *rasterTileData) find(b *rasterBucket) *rasterRenderable {
	for _, rr := range d.renderables {
		if rr.bucket == b {
			return rr
		}
	}
	return nil
}

func (d *rasterTileData) remove(b *rasterBucket) *rasterRenderable {
	for i, rr := range d.renderables {
		if rr.bucket == b {
			d.renderables = append(d.renderables[:i], d.renderables[i+1:]...)
			return rr
		}
	}
	return nil
}

// InitChild 子瓦片在加载前沿用父瓦片的纹理与变换
func (d *rasterTileData) InitChild(parent, child *tiling.Tile, i, j int) {
	cd := &rasterTileData{renderer: d.renderer}
	for _, prr := range d.renderables {
		rr := newRasterRenderable(prr.bucket, child.ID)
		if prr.texture != 0 {
			rr.texture = prr.texture
			rr.uvScale, rr.uTrans, rr.vTrans = prr.uvScale, prr.uTrans, prr.vTrans
		}
		cd.renderables = append(cd.renderables, rr)
	}
	child.SetExtension(rasterExtension, cd)
}

// Traverse 已加载且尚未取得纹理的瓦片发起请求
func (d *rasterTileData) Traverse(t *tiling.Tile, isLeaf bool) {
	if t.State != tiling.StateLoaded {
		return
	}
	for _, rr := range d.renderables {
		if !rr.requestFinished {
			d.renderer.requestTexture(rr, t)
		}
	}
}

func (d *rasterTileData) Dispose(pool *gpu.Pool) {
	for _, rr := range d.renderables {
		d.renderer.disposeRenderable(rr)
	}
	d.renderables = nil
}
