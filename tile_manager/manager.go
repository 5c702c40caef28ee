// Package tile_manager 驱动瓦片四叉树的遍历、请求调度与绘制
package tile_manager

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sort"

	"github.com/GrainArc/SouceGlobe/gpu"
	"github.com/GrainArc/SouceGlobe/render"
	"github.com/GrainArc/SouceGlobe/tile_proxy"
	"github.com/GrainArc/SouceGlobe/tiling"
)

// DefaultMaxLevel 没有底图时的最大细化级别
const DefaultMaxLevel = 21

// ErrNoFetcher 未配置瓦片获取器
var ErrNoFetcher = errors.New("tile manager requires a fetcher")

// Options 创建参数
type Options struct {
	// Tiling 没有底图时使用的切片方案，默认 4x2 地理切片
	Tiling      tiling.Scheme
	Tesselation int
	NoSkirt     bool
	Normals     bool
	MaxLevel    int
	MaxRequests int
	Fetcher     tile_proxy.Fetcher
	Publisher   Publisher
}

// Stats 帧统计
type Stats struct {
	FrameNumber int `json:"frameNumber"`
	Tiles       int `json:"tiles"`
	Rendered    int `json:"rendered"`
	Pending     int `json:"pending"`
	InFlight    int `json:"inFlight"`
	Launched    int `json:"launched"`
	Generated   int `json:"generated"`
	Failed      int `json:"failed"`
	Aborted     int `json:"aborted"`
	Discarded   int `json:"discarded"`
	Stale       int `json:"stale"`
	Starved     int `json:"starved"`

	Pool gpu.PoolStats `json:"pool"`
}

type fallbackState int

const (
	fallbackNone fallbackState = iota
	fallbackLoading
	fallbackLoaded
	fallbackError
)

// TileManager 一个Globe的瓦片树。除后台获取外，所有方法都在帧循环协程上调用。
type TileManager struct {
	rc        *render.Context
	device    gpu.Device
	pool      *gpu.Pool
	program   gpu.Program
	publisher Publisher
	opts      Options

	scheme    tiling.Scheme
	config    *tiling.Config
	arena     *tiling.Arena
	levelZero []tiling.TileID

	imagery   ImageryProvider
	elevation ElevationProvider
	maxLevel  int

	indices *indexBuffers

	postRenderers []PostRenderer

	fallbackTexture gpu.Texture
	fallbackState   fallbackState
	fallbackResult  chan tile_proxy.Result

	sched         *scheduler
	ctx           context.Context
	cancel        context.CancelFunc
	pending       []tiling.TileID
	tilesToRender []*tiling.Tile

	frameNumber       int
	backgroundLoading bool
	readyPublished    bool
	errorPublished    bool

	Wireframe bool
	stats     Stats
}

// NewTileManager 创建瓦片管理器并生成零级瓦片
func NewTileManager(rc *render.Context, device gpu.Device, opts Options) (*TileManager, error) {
	if opts.Fetcher == nil {
		return nil, ErrNoFetcher
	}
	if opts.Tiling == nil {
		opts.Tiling = tiling.NewGeoTiling(4, 2)
	}
	if opts.MaxLevel <= 0 {
		opts.MaxLevel = DefaultMaxLevel
	}
	program, err := NewTileProgram(device)
	if err != nil {
		return nil, fmt.Errorf("create tile program: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &TileManager{
		rc:        rc,
		device:    device,
		pool:      gpu.NewPool(device),
		program:   program,
		publisher: opts.Publisher,
		opts:      opts,
		arena:     tiling.NewArena(),
		ctx:       ctx,
		cancel:    cancel,
	}
	m.sched = newScheduler(opts.Fetcher, opts.MaxRequests, rc.RequestFrame)
	if err := m.Reset(); err != nil {
		cancel()
		program.Dispose()
		return nil, err
	}
	return m, nil
}

func (m *TileManager) publish(event string, data any) {
	if m.publisher != nil {
		m.publisher.Publish(event, data)
	}
}

// Context 视图状态
func (m *TileManager) Context() *render.Context { return m.rc }

// Device GPU设备
func (m *TileManager) Device() gpu.Device { return m.device }

// Pool 缓冲区与纹理复用池
func (m *TileManager) Pool() *gpu.Pool { return m.pool }

// Arena 瓦片存储
func (m *TileManager) Arena() *tiling.Arena { return m.arena }

// Scheme 当前切片方案
func (m *TileManager) Scheme() tiling.Scheme { return m.scheme }

// Config 当前瓦片生成参数
func (m *TileManager) Config() *tiling.Config { return m.config }

// Fetcher 瓦片获取器
func (m *TileManager) Fetcher() tile_proxy.Fetcher { return m.opts.Fetcher }

// FrameNumber 当前帧号
func (m *TileManager) FrameNumber() int { return m.frameNumber }

// ImageryProvider 当前底图
func (m *TileManager) ImageryProvider() ImageryProvider { return m.imagery }

// ElevationProvider 当前高程
func (m *TileManager) ElevationProvider() ElevationProvider { return m.elevation }

// LevelZeroTiles 零级瓦片
func (m *TileManager) LevelZeroTiles() []*tiling.Tile {
	out := make([]*tiling.Tile, 0, len(m.levelZero))
	for _, id := range m.levelZero {
		if t := m.arena.Tile(id); t != nil {
			out = append(out, t)
		}
	}
	return out
}

// TilesToRender 上一帧绘制的瓦片
func (m *TileManager) TilesToRender() []*tiling.Tile {
	return m.tilesToRender
}

// SetImageryProvider 切换底图，切片方案随之改变并重建瓦片树。
// 参数不合法时保持原底图不变。
func (m *TileManager) SetImageryProvider(p ImageryProvider) error {
	cfg, scheme, err := m.buildConfig(p, m.elevation)
	if err != nil {
		return err
	}
	m.imagery = p
	m.disposeFallback()
	return m.rebuild(cfg, scheme)
}

// SetElevationProvider 切换高程，细分数随之改变并重建瓦片树。
// 参数不合法时保持原高程不变。
func (m *TileManager) SetElevationProvider(p ElevationProvider) error {
	cfg, scheme, err := m.buildConfig(m.imagery, p)
	if err != nil {
		return err
	}
	m.elevation = p
	return m.rebuild(cfg, scheme)
}

func (m *TileManager) buildConfig(imagery ImageryProvider, elevation ElevationProvider) (*tiling.Config, tiling.Scheme, error) {
	scheme := m.opts.Tiling
	if imagery != nil {
		scheme = imagery.Tiling()
	}
	cfg := tiling.DefaultConfig(m.rc.World)
	if m.opts.Tesselation > 0 {
		cfg.Tesselation = m.opts.Tesselation
	}
	cfg.Normals = m.opts.Normals
	scheme.Configure(cfg)
	if m.opts.NoSkirt {
		cfg.Skirt = false
	}
	if elevation != nil {
		cfg.Tesselation = elevation.TilePixelSize()
	}
	if imagery != nil {
		cfg.ImageSize = imagery.TilePixelSize()
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("tile config: %w", err)
	}
	return cfg, scheme, nil
}

// Reset 中止进行中的请求，删除全部瓦片并重新生成零级瓦片
func (m *TileManager) Reset() error {
	cfg, scheme, err := m.buildConfig(m.imagery, m.elevation)
	if err != nil {
		return err
	}
	return m.rebuild(cfg, scheme)
}

func (m *TileManager) rebuild(cfg *tiling.Config, scheme tiling.Scheme) error {
	m.sched.abortAll()
	m.deleteAllTiles()
	m.pending = m.pending[:0]
	m.tilesToRender = nil
	m.readyPublished = false
	m.errorPublished = false

	if m.indices == nil || m.indices.size != cfg.Tesselation || m.indices.skirt != cfg.Skirt {
		if m.indices != nil {
			m.indices.dispose(m.device)
		}
		ib, err := newIndexBuffers(m.device, cfg.Tesselation, cfg.Skirt)
		if err != nil {
			return err
		}
		m.indices = ib
	}

	m.config = cfg
	m.scheme = scheme
	m.levelZero = scheme.GenerateLevelZeroTiles(m.arena, cfg)
	m.maxLevel = m.opts.MaxLevel
	if m.imagery != nil {
		m.maxLevel = m.imagery.NumberOfLevels() - 1
	}

	m.startFallback()
	m.rc.RequestFrame()
	logger.Debug("tile tree reset", "scheme", scheme.Kind(), "levelZero", len(m.levelZero), "tesselation", cfg.Tesselation)
	return nil
}

func (m *TileManager) deleteAllTiles() {
	for _, id := range m.levelZero {
		t := m.arena.Tile(id)
		if t == nil {
			continue
		}
		t.DeleteChildren(m.pool)
		t.Dispose(m.pool)
		if err := m.arena.Release(id); err != nil {
			logger.Warn("release level zero tile", "tile", id, "err", err)
		}
	}
	m.levelZero = nil
}

// startFallback 底图提供全球图像时先获取它
func (m *TileManager) startFallback() {
	lz, ok := m.imagery.(LevelZeroImageProvider)
	if !ok || m.fallbackState != fallbackNone {
		return
	}
	url := lz.LevelZeroImageURL()
	if url == "" {
		return
	}
	m.fallbackState = fallbackLoading
	// 每次获取使用新通道，切换底图后旧结果被丢弃
	ch := make(chan tile_proxy.Result, 1)
	m.fallbackResult = ch
	ctx := m.ctx
	fetcher := m.opts.Fetcher
	rc := m.rc
	m.sched.wg.Add(1)
	go func() {
		defer m.sched.wg.Done()
		ch <- fetcher.Fetch(ctx, url)
		rc.RequestFrame()
	}()
}

func (m *TileManager) disposeFallback() {
	m.fallbackResult = nil
	if m.fallbackTexture != 0 {
		m.device.DeleteTexture(m.fallbackTexture)
		m.fallbackTexture = 0
	}
	m.fallbackState = fallbackNone
}

// receiveFallback 接收全球图像
func (m *TileManager) receiveFallback() {
	if m.fallbackState != fallbackLoading || m.fallbackResult == nil {
		return
	}
	var res tile_proxy.Result
	select {
	case res = <-m.fallbackResult:
	default:
		return
	}
	if res.Outcome != tile_proxy.Success {
		logger.Warn("level zero image failed", "status", res.Status, "err", res.Err)
		m.fallbackState = fallbackError
		return
	}
	img, err := tile_proxy.DecodeImage(res.Data)
	if err == nil {
		m.fallbackTexture, err = m.device.CreateTexture(gpu.PowerOfTwo(img), true)
	}
	if err != nil {
		logger.Warn("level zero image decode", "err", err)
		m.fallbackState = fallbackError
		return
	}
	m.fallbackState = fallbackLoaded
}

// generateFromFallback 已有全球图像时零级瓦片无需请求，直接同步生成
func (m *TileManager) generateFromFallback() {
	for _, t := range m.LevelZeroTiles() {
		if t.State != tiling.StateNone {
			continue
		}
		if err := t.Generate(m.pool, nil, nil); err != nil {
			logger.Warn("generate level zero tile", "tile", t.ID, "err", err)
			continue
		}
		m.generatePostRenderers(t)
	}
	m.rc.RequestFrame()
}

// levelZeroStatus 零级瓦片是否全部加载、是否有失败
func (m *TileManager) levelZeroStatus() (loaded, failed bool) {
	loaded = len(m.levelZero) > 0
	for _, t := range m.LevelZeroTiles() {
		switch t.State {
		case tiling.StateError:
			failed = true
			loaded = false
		case tiling.StateLoaded:
		default:
			loaded = false
		}
	}
	return loaded, failed
}

// bootstrap 零级瓦片未就绪时先请求它们
func (m *TileManager) bootstrap() {
	m.receiveFallback()

	loaded, failed := m.levelZeroStatus()
	if loaded {
		if !m.readyPublished {
			m.readyPublished = true
			m.publish(EventBaseLayersReady, nil)
		}
		return
	}
	if failed && !m.errorPublished {
		m.errorPublished = true
		m.publish(EventBaseLayersError, nil)
	}
	switch m.fallbackState {
	case fallbackLoading:
		return
	case fallbackLoaded:
		m.generateFromFallback()
		return
	}
	for _, t := range m.LevelZeroTiles() {
		if t.State == tiling.StateNone {
			m.requestTile(t)
		}
	}
}

func (m *TileManager) canRender() bool {
	if m.imagery == nil || m.fallbackTexture != 0 {
		return true
	}
	loaded, _ := m.levelZeroStatus()
	return loaded
}

func (m *TileManager) isLeaf(t *tiling.Tile) bool {
	return t.Zoom >= m.maxLevel
}

func (m *TileManager) requestTile(t *tiling.Tile) {
	t.SetState(tiling.StateRequested)
	m.pending = append(m.pending, t.ID)
}

// Render 一帧：遍历、绘制、处理已到达的瓦片、发起新请求
func (m *TileManager) Render() {
	m.bootstrap()
	m.traverseTiles()
	m.rc.UpdateProjection()
	if m.canRender() {
		m.renderTiles()
	}
	m.generateReceivedTiles()
	m.launchRequests()
	m.frameNumber++
}

func (m *TileManager) traverseTiles() {
	m.tilesToRender = m.tilesToRender[:0]
	m.rc.ResetNearFar()
	for _, t := range m.LevelZeroTiles() {
		m.processTile(t)
	}
}

func (m *TileManager) processTile(t *tiling.Tile) {
	if t.IsCulled(m.rc) {
		t.DeleteChildren(m.pool)
		return
	}
	t.FrameNumber = m.frameNumber

	if t.State == tiling.StateNone {
		m.requestTile(t)
	}

	refine := t.State == tiling.StateLoaded && !m.isLeaf(t) && t.NeedsToBeRefined(m.rc)
	for _, ext := range t.Extensions {
		ext.Traverse(t, !refine)
	}
	if !refine {
		m.tilesToRender = append(m.tilesToRender, t)
		return
	}
	t.CreateChildren()
	for _, id := range t.Children {
		if child := m.arena.Tile(id); child != nil {
			m.processTile(child)
		}
	}
}

// IndexBuffer 瓦片应使用的索引缓冲区：自有数据用整块，借用父瓦片时用对应子块
func (m *TileManager) IndexBuffer(t *tiling.Tile) (gpu.Buffer, int) {
	if t.State == tiling.StateLoaded || t.IsLevelZero() {
		return m.indices.solid, m.indices.solidCount
	}
	return m.indices.sub[t.ParentIndex], m.indices.subCount[t.ParentIndex]
}

// TexCoordBuffer 共享的纹理坐标缓冲区
func (m *TileManager) TexCoordBuffer() gpu.Buffer {
	return m.indices.texCoords
}

func (m *TileManager) renderTiles() {
	if len(m.tilesToRender) == 0 {
		return
	}
	stride := m.config.VertexSize() * 4

	m.program.Apply()
	m.program.UniformMatrix4("projectionMatrix", gpu.Mat4f(m.rc.ProjectionMatrix))
	m.program.BindAttribute("tcoord", m.indices.texCoords, 2, 0, 0)
	m.program.Uniform1i("colorTexture", 0)

	rendered := 0
	for _, t := range m.tilesToRender {
		if t.VertexBuffer == 0 {
			continue
		}
		texture, transform := t.Texture, t.TexTransform
		if texture == 0 && m.fallbackTexture != 0 {
			texture, transform = m.fallbackTexture, t.FallbackTransform
		}

		m.program.UniformMatrix4("modelViewMatrix", gpu.Mat4f(m.rc.ViewMatrix.Mul4(t.Matrix)))
		m.program.Uniform4f("texTransform", gpu.Vec4f(transform))
		m.program.BindAttribute("vertex", t.VertexBuffer, 3, stride, 0)
		if m.config.Normals {
			m.program.BindAttribute("normal", t.VertexBuffer, 3, stride, 12)
		}
		m.device.BindTexture(0, texture)

		buf, count := m.IndexBuffer(t)
		m.program.Uniform1i("wireframe", 0)
		m.device.DrawElements(gpu.Triangles, count, buf)
		if m.Wireframe {
			m.program.Uniform1i("wireframe", 1)
			m.device.DrawElements(gpu.Lines, m.indices.wireCount, m.indices.wireframe)
		}
		rendered++
	}
	m.stats.Rendered = rendered

	if len(m.postRenderers) == 0 {
		return
	}
	// 需要深度偏移的叠加层先绘制
	m.device.SetPolygonOffset(true, -2, -3)
	for _, pr := range m.postRenderers {
		if needsOffset(pr) {
			pr.Render(m.tilesToRender)
		}
	}
	m.device.SetPolygonOffset(false, 0, 0)
	for _, pr := range m.postRenderers {
		if !needsOffset(pr) {
			pr.Render(m.tilesToRender)
		}
	}
}

func (m *TileManager) generateReceivedTiles() {
	for {
		select {
		case c := <-m.sched.completions:
			m.handleCompletion(c)
		default:
			if m.backgroundLoading && m.sched.idle() && len(m.pending) == 0 {
				m.backgroundLoading = false
				m.publish(EventEndBackgroundLoad, nil)
			}
			return
		}
	}
}

func (m *TileManager) handleCompletion(c completion) {
	id := m.sched.requests[c.slot].tile
	m.sched.release(c.slot)

	t, err := m.arena.Get(id)
	if err != nil {
		m.stats.Stale++
		return
	}
	if t.State != tiling.StateLoading {
		return
	}

	switch c.image.Outcome {
	case tile_proxy.Aborted:
		m.stats.Aborted++
		t.SetState(tiling.StateNone)
		return
	case tile_proxy.Failure:
		m.stats.Failed++
		logger.Debug("tile request failed", "tile", id, "zoom", t.Zoom, "x", t.X, "y", t.Y, "status", c.image.Status, "err", c.image.Err)
		t.SetState(tiling.StateError)
		return
	}

	// 本帧未被遍历到的瓦片已不可见，不上传；零级瓦片总是需要
	if !t.IsLevelZero() && t.FrameNumber != m.frameNumber {
		m.stats.Discarded++
		t.SetState(tiling.StateNone)
		return
	}

	var elevations []float32
	if c.hasElev && c.elevation.Outcome == tile_proxy.Success {
		elevations = m.parseElevations(t, c.elevation.Data)
	}

	img := m.decodeTileImage(t, c.image.Data)
	if m.imagery != nil && img == nil {
		m.stats.Failed++
		t.SetState(tiling.StateError)
		return
	}
	if err := t.Generate(m.pool, img, elevations); err != nil {
		m.stats.Failed++
		logger.Warn("generate tile", "tile", id, "err", err)
		t.SetState(tiling.StateError)
		return
	}
	m.stats.Generated++
	m.generatePostRenderers(t)
}

func (m *TileManager) decodeTileImage(t *tiling.Tile, data []byte) image.Image {
	if m.imagery == nil || len(data) == 0 {
		return nil
	}
	img, err := tile_proxy.DecodeImage(data)
	if err != nil {
		logger.Debug("decode tile image", "tile", t.ID, "err", err)
		return nil
	}
	return img
}

func (m *TileManager) parseElevations(t *tiling.Tile, data []byte) []float32 {
	if m.elevation == nil {
		return nil
	}
	elev, err := m.elevation.ParseElevations(data)
	if err != nil {
		logger.Debug("parse elevations", "tile", t.ID, "err", err)
		return nil
	}
	size := m.config.Tesselation
	if len(elev) < size*size {
		logger.Debug("elevation grid too small", "tile", t.ID, "got", len(elev), "want", size*size)
		return nil
	}
	return elev
}

func (m *TileManager) generatePostRenderers(t *tiling.Tile) {
	for _, pr := range m.postRenderers {
		pr.Generate(t)
	}
}

// launchRequests 按距离由近及远为待请求瓦片分配槽位，没有空闲槽位的回到NONE
func (m *TileManager) launchRequests() {
	if len(m.pending) == 0 {
		return
	}
	tiles := make([]*tiling.Tile, 0, len(m.pending))
	for _, id := range m.pending {
		if t := m.arena.Tile(id); t != nil && t.State == tiling.StateRequested {
			tiles = append(tiles, t)
		}
	}
	m.pending = m.pending[:0]
	sort.SliceStable(tiles, func(i, j int) bool {
		return tiles[i].Distance < tiles[j].Distance
	})

	for _, t := range tiles {
		slot := m.sched.acquire(t.ID)
		if slot < 0 {
			m.stats.Starved++
			t.SetState(tiling.StateNone)
			continue
		}
		t.SetState(tiling.StateLoading)
		if !m.backgroundLoading {
			m.backgroundLoading = true
			m.publish(EventStartBackgroundLoad, nil)
		}
		var imageURL, elevationURL string
		if m.imagery != nil {
			imageURL = m.imagery.GetURL(t)
		}
		if m.elevation != nil {
			elevationURL = m.elevation.GetURL(t)
		}
		m.stats.Launched++
		m.sched.start(m.ctx, slot, imageURL, elevationURL)
	}
}

// AddPostRenderer 添加叠加层，按ZIndex排序，已加载瓦片立即生成
func (m *TileManager) AddPostRenderer(pr PostRenderer) {
	m.postRenderers = append(m.postRenderers, pr)
	sort.SliceStable(m.postRenderers, func(i, j int) bool {
		return zIndex(m.postRenderers[i]) < zIndex(m.postRenderers[j])
	})
	m.VisitTiles(func(t *tiling.Tile) {
		if t.State == tiling.StateLoaded {
			pr.Generate(t)
		}
	})
	m.rc.RequestFrame()
}

// RemovePostRenderer 移除叠加层并清理其在瓦片上的数据
func (m *TileManager) RemovePostRenderer(pr PostRenderer) bool {
	for i, p := range m.postRenderers {
		if p != pr {
			continue
		}
		m.postRenderers = append(m.postRenderers[:i], m.postRenderers[i+1:]...)
		if c, ok := pr.(TileCleaner); ok {
			m.VisitTiles(c.Cleanup)
		}
		m.rc.RequestFrame()
		return true
	}
	return false
}

// PostRenderers 当前叠加层
func (m *TileManager) PostRenderers() []PostRenderer {
	return m.postRenderers
}

// VisitTiles 广度优先访问全部瓦片
func (m *TileManager) VisitTiles(fn func(t *tiling.Tile)) {
	queue := append([]tiling.TileID(nil), m.levelZero...)
	for len(queue) > 0 {
		t := m.arena.Tile(queue[0])
		queue = queue[1:]
		if t == nil {
			continue
		}
		fn(t)
		queue = append(queue, t.Children...)
	}
}

// Wait 等待所有后台获取结束，结果在下一帧处理
func (m *TileManager) Wait() {
	m.sched.wait()
}

// Stats 统计信息
func (m *TileManager) Stats() Stats {
	s := m.stats
	s.FrameNumber = m.frameNumber
	s.Tiles = m.arena.Len()
	s.Pending = len(m.pending)
	s.InFlight = m.sched.inFlight()
	s.Pool = m.pool.Stats()
	return s
}

// Dispose 中止请求并释放全部GPU资源
func (m *TileManager) Dispose() {
	m.cancel()
	m.sched.wait()
	m.sched.drain()
	m.deleteAllTiles()
	m.disposeFallback()
	if m.indices != nil {
		m.indices.dispose(m.device)
		m.indices = nil
	}
	m.pool.DisposeAll()
	m.program.Dispose()
}
