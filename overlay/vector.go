package overlay

import (
	"fmt"
	"math"
	"sort"

	"github.com/GrainArc/SouceGlobe/coord"
	"github.com/GrainArc/SouceGlobe/gpu"
	"github.com/GrainArc/SouceGlobe/tiling"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/clip"
)

const (
	vectorExtension = "vector"
	// zOffsetFactor 要素相对瓦片半径的抬高量
	zOffsetFactor = 0.0007
)

// Style 矢量样式
type Style struct {
	StrokeColor [4]float32
	FillColor   [4]float32
	Fill        bool
	// PointSize 点要素标记的像素大小
	PointSize float32
}

// DefaultStyle 默认样式
func DefaultStyle() Style {
	return Style{StrokeColor: [4]float32{1, 1, 0, 1}, FillColor: [4]float32{1, 1, 0, 0.4}, PointSize: 6}
}

// VectorSource 矢量叠加层
type VectorSource interface {
	ID() string
	Features() []orb.Geometry
	Style() Style
	Opacity() float64
	Visible() bool
	ZIndex() int
}

type vectorBucket struct {
	id     int
	source VectorSource
	// levelZero 零级瓦片下标到要素下标的映射
	levelZero map[int][]int
}

// vectorRenderable 一个矢量层在一个瓦片上的裁剪后数据，顶点为瓦片局部坐标
type vectorRenderable struct {
	bucket   *vectorBucket
	features []int

	vertices  []float32
	lines     []uint16
	triangles []uint16
	points    []uint16

	vertexBuffer   gpu.Buffer
	lineBuffer     gpu.Buffer
	triangleBuffer gpu.Buffer
	pointBuffer    gpu.Buffer
}

// VectorRenderer 贴地矢量渲染器
type VectorRenderer struct {
	host    Host
	program gpu.Program

	buckets  []*vectorBucket
	bucketID int
}

// NewVectorRenderer 创建矢量渲染器
func NewVectorRenderer(host Host) (*VectorRenderer, error) {
	program, err := newVectorProgram(host.Device())
	if err != nil {
		return nil, fmt.Errorf("create vector program: %w", err)
	}
	return &VectorRenderer{host: host, program: program}, nil
}

// NeedsOffset 贴地要素需要深度偏移
func (r *VectorRenderer) NeedsOffset() bool { return true }

// ZIndex 在栅格叠加层之后绘制
func (r *VectorRenderer) ZIndex() int { return 10 }

// AddLayer 添加矢量层，要素按零级瓦片分桶，已加载瓦片立即生成
func (r *VectorRenderer) AddLayer(src VectorSource) {
	b := &vectorBucket{id: r.bucketID, source: src, levelZero: make(map[int][]int)}
	r.bucketID++
	scheme := r.host.Scheme()
	for i, g := range src.Features() {
		for _, lz := range scheme.GetOverlappedLevelZeroTiles(g) {
			b.levelZero[lz] = append(b.levelZero[lz], i)
		}
	}
	r.buckets = append(r.buckets, b)
	sort.SliceStable(r.buckets, func(i, j int) bool {
		if r.buckets[i].source.ZIndex() != r.buckets[j].source.ZIndex() {
			return r.buckets[i].source.ZIndex() < r.buckets[j].source.ZIndex()
		}
		return r.buckets[i].id < r.buckets[j].id
	})

	for _, t := range r.host.LevelZeroTiles() {
		if t.State == tiling.StateLoaded {
			r.addBucketToTile(t, b, b.levelZero[t.LevelZeroIndex])
		}
	}
	r.host.Context().RequestFrame()
}

// RemoveLayer 移除矢量层
func (r *VectorRenderer) RemoveLayer(src VectorSource) bool {
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
	device := r.host.Device()
	r.host.VisitTiles(func(t *tiling.Tile) {
		data := vectorData(t)
		if data == nil {
			return
		}
		if vr := data.remove(b); vr != nil {
			vr.dispose(device, r.host.Pool())
		}
		if len(data.renderables) == 0 {
			t.RemoveExtension(vectorExtension, r.host.Pool())
		}
	})
	r.host.Context().RequestFrame()
	return true
}

// Layers 当前矢量层
func (r *VectorRenderer) Layers() []VectorSource {
	out := make([]VectorSource, len(r.buckets))
	for i, b := range r.buckets {
		out[i] = b.source
	}
	return out
}

func vectorData(t *tiling.Tile) *vectorTileData {
	ext, ok := t.Extension(vectorExtension)
	if !ok {
		return nil
	}
	return ext.(*vectorTileData)
}

// addBucketToTile 在瓦片上生成要素数据，并递归到已加载的子瓦片
func (r *VectorRenderer) addBucketToTile(t *tiling.Tile, b *vectorBucket, candidates []int) {
	features := b.source.Features()
	var hits []int
	for _, i := range candidates {
		if coord.BoundIntersects(features[i].Bound(), t.GeoBound) {
			hits = append(hits, i)
		}
	}
	if len(hits) == 0 {
		return
	}
	vr := &vectorRenderable{bucket: b, features: hits}
	for _, i := range hits {
		vr.build(t, features[i])
	}
	if len(vr.vertices) > 0 {
		if err := vr.upload(r.host.Device(), r.host.Pool()); err != nil {
			logger.Warn("upload vector data", "layer", b.source.ID(), "err", err)
			return
		}
		data := vectorData(t)
		if data == nil {
			data = &vectorTileData{renderer: r}
			t.SetExtension(vectorExtension, data)
		}
		if old := data.remove(b); old != nil {
			old.dispose(r.host.Device(), r.host.Pool())
		}
		data.renderables = append(data.renderables, vr)
	}
	for _, id := range t.Children {
		if c := t.Arena().Tile(id); c != nil && c.State == tiling.StateLoaded {
			r.addBucketToTile(c, b, hits)
		}
	}
}

// Generate 零级瓦片取分桶要素，子瓦片只取父瓦片上的要素
func (r *VectorRenderer) Generate(t *tiling.Tile) {
	if len(r.buckets) == 0 {
		return
	}
	t.RemoveExtension(vectorExtension, r.host.Pool())
	if t.IsLevelZero() {
		for _, b := range r.buckets {
			r.addBucketToTile(t, b, b.levelZero[t.LevelZeroIndex])
		}
		return
	}
	parent := t.ParentTile()
	if parent == nil {
		return
	}
	pd := vectorData(parent)
	if pd == nil {
		return
	}
	for _, pvr := range pd.renderables {
		r.addBucketToTile(t, pvr.bucket, pvr.features)
	}
}

// Cleanup 渲染器被移除时清理瓦片数据
func (r *VectorRenderer) Cleanup(t *tiling.Tile) {
	t.RemoveExtension(vectorExtension, r.host.Pool())
}

// drawSource 瓦片自身未生成时，用最近的已生成祖先绘制
func drawSource(t *tiling.Tile) *tiling.Tile {
	for cur := t; cur != nil; cur = cur.ParentTile() {
		if cur.State == tiling.StateLoaded {
			return cur
		}
	}
	return nil
}

// Render 绘制可见瓦片上的要素
func (r *VectorRenderer) Render(tiles []*tiling.Tile) {
	if len(r.buckets) == 0 {
		return
	}
	rc := r.host.Context()
	device := r.host.Device()

	r.program.Apply()
	r.program.UniformMatrix4("projectionMatrix", gpu.Mat4f(rc.ProjectionMatrix))

	drawn := make(map[tiling.TileID]bool)
	for _, t := range tiles {
		src := drawSource(t)
		if src == nil || drawn[src.ID] {
			continue
		}
		drawn[src.ID] = true
		data := vectorData(src)
		if data == nil {
			continue
		}
		r.program.UniformMatrix4("modelViewMatrix", gpu.Mat4f(rc.ViewMatrix.Mul4(src.Matrix)))
		r.program.Uniform1f("zOffset", float32(src.Radius*zOffsetFactor))
		for _, b := range r.buckets {
			if !b.source.Visible() {
				continue
			}
			vr := data.find(b)
			if vr == nil {
				continue
			}
			style := b.source.Style()
			opacity := float32(b.source.Opacity())
			r.program.BindAttribute("vertex", vr.vertexBuffer, 3, 0, 0)
			if style.Fill && len(vr.triangles) > 0 {
				c := style.FillColor
				r.program.Uniform4f("color", [4]float32{c[0], c[1], c[2], c[3] * opacity})
				device.DrawElements(gpu.Triangles, len(vr.triangles), vr.triangleBuffer)
			}
			if len(vr.lines) > 0 {
				c := style.StrokeColor
				r.program.Uniform4f("color", [4]float32{c[0], c[1], c[2], c[3] * opacity})
				device.DrawElements(gpu.Lines, len(vr.lines), vr.lineBuffer)
			}
			if len(vr.points) > 0 {
				c := style.StrokeColor
				r.program.Uniform4f("color", [4]float32{c[0], c[1], c[2], c[3] * opacity})
				r.program.Uniform1f("pointSize", style.PointSize)
				device.DrawElements(gpu.Points, len(vr.points), vr.pointBuffer)
			}
		}
	}
}

// Dispose 释放程序
func (r *VectorRenderer) Dispose() {
	r.program.Dispose()
}

// build 裁剪到瓦片范围并追加顶点与索引
func (vr *vectorRenderable) build(t *tiling.Tile, g orb.Geometry) {
	switch p := g.(type) {
	case orb.Point:
		vr.addPoint(t, p)
		return
	case orb.MultiPoint:
		for _, pt := range p {
			vr.addPoint(t, pt)
		}
		return
	}
	clipped := clip.Geometry(t.GeoBound, orb.Clone(g))
	if clipped == nil {
		return
	}
	step := (t.GeoBound.Max[0] - t.GeoBound.Min[0]) / float64(t.Config.Tesselation-1)
	switch c := clipped.(type) {
	case orb.LineString:
		vr.addLine(t, c, step)
	case orb.MultiLineString:
		for _, ls := range c {
			vr.addLine(t, ls, step)
		}
	case orb.Ring:
		vr.addPolygon(t, orb.Polygon{c}, step)
	case orb.Polygon:
		vr.addPolygon(t, c, step)
	case orb.MultiPolygon:
		for _, p := range c {
			vr.addPolygon(t, p, step)
		}
	case orb.Collection:
		for _, sub := range c {
			vr.build(t, sub)
		}
	}
}

// densify 按网格步长细分线段，使要素贴合球面
func densify(ls orb.LineString, step float64) orb.LineString {
	if len(ls) < 2 || step <= 0 {
		return ls
	}
	out := orb.LineString{ls[0]}
	for i := 1; i < len(ls); i++ {
		a, b := ls[i-1], ls[i]
		d := math.Max(math.Abs(b[0]-a[0]), math.Abs(b[1]-a[1]))
		n := int(math.Ceil(d / step))
		for k := 1; k < n; k++ {
			f := float64(k) / float64(n)
			out = append(out, orb.Point{a[0] + (b[0]-a[0])*f, a[1] + (b[1]-a[1])*f})
		}
		out = append(out, b)
	}
	return out
}

func (vr *vectorRenderable) addVertex(t *tiling.Tile, p orb.Point) uint16 {
	world := t.Config.World
	h, _ := t.ElevationAt(p[0], p[1])
	local := mgl64.TransformCoordinate(world.FromGeoTo3D(p[0], p[1], h), t.InverseMatrix)
	idx := uint16(len(vr.vertices) / 3)
	vr.vertices = append(vr.vertices, float32(local[0]), float32(local[1]), float32(local[2]))
	return idx
}

func (vr *vectorRenderable) addLine(t *tiling.Tile, ls orb.LineString, step float64) {
	ls = densify(ls, step)
	if len(ls) < 2 || len(vr.vertices)/3+len(ls) > math.MaxUint16 {
		return
	}
	prev := vr.addVertex(t, ls[0])
	for _, p := range ls[1:] {
		cur := vr.addVertex(t, p)
		vr.lines = append(vr.lines, prev, cur)
		prev = cur
	}
}

// addPoint 点要素落在瓦片内时生成一个标记顶点
func (vr *vectorRenderable) addPoint(t *tiling.Tile, p orb.Point) {
	if !t.GeoBound.Contains(p) || len(vr.vertices)/3+1 > math.MaxUint16 {
		return
	}
	vr.points = append(vr.points, vr.addVertex(t, p))
}

func (vr *vectorRenderable) addPolygon(t *tiling.Tile, poly orb.Polygon, step float64) {
	if len(poly) == 0 {
		return
	}
	for _, ring := range poly {
		vr.addLine(t, orb.LineString(ring), step)
	}
	ring, tri := TriangulatePolygon(poly)
	if len(tri) == 0 || len(vr.vertices)/3+len(ring) > math.MaxUint16 {
		return
	}
	base := make([]uint16, len(ring))
	for i, p := range ring {
		base[i] = vr.addVertex(t, p)
	}
	for _, i := range tri {
		vr.triangles = append(vr.triangles, base[i])
	}
}

func (vr *vectorRenderable) upload(device gpu.Device, pool *gpu.Pool) error {
	vb, err := pool.CreateBuffer(vr.vertices)
	if err != nil {
		return err
	}
	vr.vertexBuffer = vb
	if len(vr.lines) > 0 {
		vr.lineBuffer = device.CreateBuffer()
		if err := device.BufferData(vr.lineBuffer, gpu.ElementArrayBuffer, vr.lines); err != nil {
			vr.dispose(device, pool)
			return err
		}
	}
	if len(vr.triangles) > 0 {
		vr.triangleBuffer = device.CreateBuffer()
		if err := device.BufferData(vr.triangleBuffer, gpu.ElementArrayBuffer, vr.triangles); err != nil {
			vr.dispose(device, pool)
			return err
		}
	}
	if len(vr.points) > 0 {
		vr.pointBuffer = device.CreateBuffer()
		if err := device.BufferData(vr.pointBuffer, gpu.ElementArrayBuffer, vr.points); err != nil {
			vr.dispose(device, pool)
			return err
		}
	}
	return nil
}

func (vr *vectorRenderable) dispose(device gpu.Device, pool *gpu.Pool) {
	if vr.vertexBuffer != 0 {
		_ = pool.DisposeBuffer(vr.vertexBuffer)
		vr.vertexBuffer = 0
	}
	if vr.lineBuffer != 0 {
		device.DeleteBuffer(vr.lineBuffer)
		vr.lineBuffer = 0
	}
	if vr.triangleBuffer != 0 {
		device.DeleteBuffer(vr.triangleBuffer)
		vr.triangleBuffer = 0
	}
	if vr.pointBuffer != 0 {
		device.DeleteBuffer(vr.pointBuffer)
		vr.pointBuffer = 0
	}
}

// vectorTileData 瓦片扩展：该瓦片上各矢量层的数据
type vectorTileData struct {
	renderer    *VectorRenderer
	renderables []*vectorRenderable
}

func (d *vectorTileData) find(b *vectorBucket) *vectorRenderable {
	for _, vr := range d.renderables {
		if vr.bucket == b {
			return vr
		}
	}
	return nil
}

func (d *vectorTileData) remove(b *vectorBucket) *vectorRenderable {
	for i, vr := range d.renderables {
		if vr.bucket == b {
			d.renderables = append(d.renderables[:i], d.renderables[i+1:]...)
			return vr
		}
	}
	return nil
}

// InitChild 子瓦片生成前由祖先绘制，无需初始化
func (d *vectorTileData) InitChild(parent, child *tiling.Tile, i, j int) {}

func (d *vectorTileData) Traverse(t *tiling.Tile, isLeaf bool) {}

func (d *vectorTileData) Dispose(pool *gpu.Pool) {
	device := d.renderer.host.Device()
	for _, vr := range d.renderables {
		vr.dispose(device, pool)
	}
	d.renderables = nil
}
