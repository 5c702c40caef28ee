// Package tiling 实现四叉树瓦片、瓦片状态机以及地理/墨卡托/HEALPix三种切片方案
package tiling

import (
	"image"
	"math"

	"github.com/GrainArc/SouceGlobe/coord"
	"github.com/GrainArc/SouceGlobe/geometry"
	"github.com/GrainArc/SouceGlobe/gpu"
	"github.com/GrainArc/SouceGlobe/render"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/paulmach/orb"
)

// Tile 四叉树节点
type Tile struct {
	ID          TileID
	Parent      TileID
	ParentIndex int      // j*2+i
	Children    []TileID // nil 或 4 个

	Level          int // 距零级的深度
	Zoom           int // 方案中的级别
	X, Y           int
	Face           int
	Pixel          int64
	LevelZeroIndex int
	GeoBound       orb.Bound

	Vertices      []float32
	Matrix        mgl64.Mat4
	InverseMatrix mgl64.Mat4
	BBox          geometry.BoundingBox
	Radius        float64

	// 仅在本帧剔除之后有效
	Distance          float64
	ClosestPointToEye mgl64.Vec3
	eyeInside         bool

	Texture      gpu.Texture
	VertexBuffer gpu.Buffer
	// TexTransform 作用于 Texture，FallbackTransform 作用于全球底图
	TexTransform      [4]float64
	FallbackTransform [4]float64
	geoTransform      [4]float64

	Extensions map[string]Extension

	State       State
	Config      *Config
	FrameNumber int

	scheme Scheme
	arena  *Arena
}

// Scheme 所属切片方案
func (t *Tile) Scheme() Scheme {
	return t.scheme
}

// Arena 所属arena
func (t *Tile) Arena() *Arena {
	return t.arena
}

// SetState 修改状态并通知arena的观察者
func (t *Tile) SetState(s State) {
	if t.State == s {
		return
	}
	from := t.State
	t.State = s
	if t.arena != nil && t.arena.OnTransition != nil {
		t.arena.OnTransition(t, from, s)
	}
}

// ParentTile 父瓦片，零级瓦片返回nil
func (t *Tile) ParentTile() *Tile {
	if t.Parent.IsZero() {
		return nil
	}
	return t.arena.Tile(t.Parent)
}

// Child 第idx个子瓦片
func (t *Tile) Child(idx int) *Tile {
	if t.Children == nil {
		return nil
	}
	return t.arena.Tile(t.Children[idx])
}

// IsLevelZero 是否零级瓦片
func (t *Tile) IsLevelZero() bool {
	return t.Parent.IsZero()
}

// OwnsRenderData 顶点缓冲区与纹理是否归本瓦片所有
func (t *Tile) OwnsRenderData() bool {
	return t.State == StateLoaded
}

// CreateChildren 创建四个子瓦片，子瓦片在自身加载前借用父瓦片的渲染数据，
// 以 SUB-SOLID 索引绘制父网格的对应四分之一
func (t *Tile) CreateChildren() {
	if t.Children != nil {
		return
	}
	children := make([]TileID, 4)
	for j := 0; j < 2; j++ {
		for i := 0; i < 2; i++ {
			child := t.arena.newTile(t.scheme, t.Config)
			child.Parent = t.ID
			child.ParentIndex = j*2 + i
			child.Level = t.Level + 1
			child.LevelZeroIndex = t.LevelZeroIndex
			t.scheme.initChild(t, child, i, j)
			child.initFromParent(t, i, j)
			children[j*2+i] = child.ID
		}
	}
	t.Children = children

	for j := 0; j < 2; j++ {
		for i := 0; i < 2; i++ {
			child := t.arena.Tile(children[j*2+i])
			for _, ext := range t.Extensions {
				ext.InitChild(t, child, i, j)
			}
		}
	}
}

func (t *Tile) initFromParent(parent *Tile, i, j int) {
	t.Matrix = parent.Matrix
	t.InverseMatrix = parent.InverseMatrix
	t.Texture = parent.Texture
	t.VertexBuffer = parent.VertexBuffer
	t.FallbackTransform = parent.FallbackTransform

	t.TexTransform = parent.TexTransform

	if parent.Vertices == nil {
		return
	}
	size := t.Config.Tesselation
	vs := t.Config.VertexSize()
	half := (size - 1) / 2
	box := geometry.NewBoundingBox()
	for n := 0; n <= half; n++ {
		offset := vs * ((n+j*half)*size + i*half)
		for k := 0; k <= half; k++ {
			v := parent.Vertices[offset : offset+3]
			box.Extend(float64(v[0]), float64(v[1]), float64(v[2]))
			offset += vs
		}
	}
	t.BBox = box
	t.Radius = box.Radius()
}

// IsCulled 视域与地平线剔除，可见时扩展远近平面
func (t *Tile) IsCulled(rc *render.Context) bool {
	if t.BBox.IsEmpty() {
		return true
	}
	world := t.Config.World
	eye := mgl64.TransformCoordinate(rc.Eye, t.InverseMatrix)

	center := t.BBox.Center()
	if eye.Sub(center).Len() < t.Radius {
		t.eyeInside = true
		t.Distance = 0
		t.ClosestPointToEye = eye
		rc.ExtendNearFar(rc.MinNear, 2*t.Radius)
		return false
	}
	t.eyeInside = false

	closest := t.BBox.Clamp(eye)
	t.ClosestPointToEye = closest
	t.Distance = eye.Sub(closest).Len()

	// 视点位于瓦片切平面之下才需要地平线检测
	if eye[2] < 0 && !world.Flat {
		earth := coord.EarthCenterInLocal(t.InverseMatrix)
		up := closest.Sub(earth).Normalize()
		ground := earth.Add(up.Mul(world.Radius))
		toEye := eye.Sub(ground)
		if l := toEye.Len(); l > 0 {
			d := toEye.Dot(up) / l * t.Config.CullSign
			if d < world.HorizonCullThreshold {
				return true
			}
		}
	}

	frustum := rc.WorldFrustum.InverseTransform(t.Matrix)
	if !frustum.ContainsBoundingBox(t.BBox) {
		return true
	}

	worldClosest := mgl64.TransformCoordinate(closest, t.Matrix)
	worldCenter := mgl64.TransformCoordinate(center, t.Matrix)
	near := worldClosest.Sub(rc.Eye).Dot(rc.EyeDir)
	far := worldCenter.Sub(rc.Eye).Dot(rc.EyeDir) + t.Radius
	rc.ExtendNearFar(near, far)
	return false
}

// NeedsToBeRefined 屏幕空间误差是否超过阈值，须在IsCulled之后调用
func (t *Tile) NeedsToBeRefined(rc *render.Context) bool {
	if t.eyeInside {
		return true
	}
	texel := t.Radius / float64(t.Config.ImageSize)
	p := mgl64.TransformCoordinate(t.ClosestPointToEye, t.Matrix)
	size := rc.PixelSize(p)
	if size == 0 {
		return true
	}
	return math.Abs(texel/size) > rc.TileErrorThreshold
}

// BuildGeometry 生成顶点、包围盒、法线与裙边，不上传GPU
func (t *Tile) BuildGeometry(elevations []float32) {
	cfg := t.Config
	size := cfg.Tesselation
	t.Vertices = make([]float32, cfg.VertexCount()*cfg.VertexSize())
	t.scheme.generateVertices(t, elevations)

	box := geometry.NewBoundingBox()
	box.Compute(t.Vertices, size*size, cfg.VertexSize())
	t.BBox = box
	t.Radius = box.Radius()

	if cfg.Normals {
		t.generateNormals()
	}
	if cfg.Skirt {
		t.generateSkirts()
		t.scheme.adjustSkirts(t)
	}
	t.FallbackTransform = t.geoTransform
}

// Generate 生成几何并上传顶点与纹理，状态变为LOADED。img 为nil表示无底图。
func (t *Tile) Generate(pool *gpu.Pool, img image.Image, elevations []float32) error {
	if t.OwnsRenderData() {
		t.releaseRenderData(pool)
	}
	t.BuildGeometry(elevations)

	vb, err := pool.CreateBuffer(t.Vertices)
	if err != nil {
		return err
	}
	var tex gpu.Texture
	if img != nil {
		tex, err = pool.CreateTexture(img)
		if err != nil {
			_ = pool.DisposeBuffer(vb)
			return err
		}
	}
	t.VertexBuffer = vb
	t.Texture = tex
	t.TexTransform = IdentityTransform
	t.SetState(StateLoaded)
	return nil
}

func (t *Tile) releaseRenderData(pool *gpu.Pool) {
	if t.VertexBuffer != 0 {
		if err := pool.DisposeBuffer(t.VertexBuffer); err != nil {
			logger.Warn("dispose tile buffer", "tile", t.ID, "err", err)
		}
	}
	if t.Texture != 0 {
		if err := pool.DisposeTexture(t.Texture); err != nil {
			logger.Warn("dispose tile texture", "tile", t.ID, "err", err)
		}
	}
	t.VertexBuffer = 0
	t.Texture = 0
}

// Dispose 释放扩展和自有的GPU数据
func (t *Tile) Dispose(pool *gpu.Pool) {
	for _, ext := range t.Extensions {
		ext.Dispose(pool)
	}
	t.Extensions = nil
	if t.OwnsRenderData() {
		t.releaseRenderData(pool)
		t.SetState(StateNone)
	}
}

// DeleteChildren 自顶向下释放子树并回收arena槽位
func (t *Tile) DeleteChildren(pool *gpu.Pool) {
	for _, id := range t.Children {
		child := t.arena.Tile(id)
		if child == nil {
			continue
		}
		child.DeleteChildren(pool)
		child.Dispose(pool)
		if err := t.arena.release(id); err != nil {
			logger.Warn("release tile", "tile", id, "err", err)
		}
	}
	t.Children = nil
}

// ContainsLonLat 经纬度是否落在瓦片内
func (t *Tile) ContainsLonLat(lon, lat float64) bool {
	return t.scheme.containsLonLat(t, lon, lat)
}

// ElevationAt 最近网格顶点的高程（米）
func (t *Tile) ElevationAt(lon, lat float64) (float64, bool) {
	if t.Vertices == nil || t.State != StateLoaded {
		return 0, false
	}
	col, row, ok := t.scheme.gridPosition(t, lon, lat)
	if !ok {
		return 0, false
	}
	size := t.Config.Tesselation
	i := clampIndex(int(math.Round(col)), size)
	j := clampIndex(int(math.Round(row)), size)
	o := (j*size + i) * t.Config.VertexSize()
	local := mgl64.Vec3{float64(t.Vertices[o]), float64(t.Vertices[o+1]), float64(t.Vertices[o+2])}
	_, _, h := t.Config.World.From3DToGeo(mgl64.TransformCoordinate(local, t.Matrix))
	return h, true
}

func clampIndex(i, size int) int {
	if i < 0 {
		return 0
	}
	if i > size-1 {
		return size - 1
	}
	return i
}

// setFrame 设置局部坐标系
func (t *Tile) setFrame(m mgl64.Mat4) {
	t.Matrix = m
	t.InverseMatrix = m.Inv()
}

// writeLocal 将世界坐标写入第idx个顶点
func (t *Tile) writeLocal(idx int, p mgl64.Vec3) {
	l := mgl64.TransformCoordinate(p, t.InverseMatrix)
	o := idx * t.Config.VertexSize()
	t.Vertices[o] = float32(l[0])
	t.Vertices[o+1] = float32(l[1])
	t.Vertices[o+2] = float32(l[2])
}

func (t *Tile) vertex(idx int) mgl64.Vec3 {
	o := idx * t.Config.VertexSize()
	return mgl64.Vec3{float64(t.Vertices[o]), float64(t.Vertices[o+1]), float64(t.Vertices[o+2])}
}
