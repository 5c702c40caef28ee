// Package render 保存每个Globe实例的视图相关状态
package render

import (
	"math"
	"sync/atomic"

	"github.com/GrainArc/SouceGlobe/coord"
	"github.com/GrainArc/SouceGlobe/geometry"
	"github.com/go-gl/mathgl/mgl64"
)

const (
	DefaultFov                = 45.0
	DefaultMinNear            = 0.0001
	DefaultTileErrorThreshold = 4.0
)

// Context 视图状态：矩阵、视锥、视点、远近平面、像素尺寸向量
type Context struct {
	World *coord.WorldConfig

	Width  int
	Height int
	Fov    float64 // 垂直视场角（度）

	MinNear            float64
	TileErrorThreshold float64

	ViewMatrix       mgl64.Mat4
	ProjectionMatrix mgl64.Mat4

	// Frustum 视图空间视锥，WorldFrustum 世界空间视锥
	Frustum      geometry.Frustum
	WorldFrustum geometry.Frustum

	Eye             mgl64.Vec3
	EyeDir          mgl64.Vec3
	PixelSizeVector mgl64.Vec4

	Near float64
	Far  float64

	cullFar        float64
	frameRequested atomic.Bool
}

// NewContext 创建视图状态
func NewContext(world *coord.WorldConfig, width, height int) *Context {
	if world == nil {
		world = coord.DefaultWorldConfig()
	}
	c := &Context{
		World:              world,
		Width:              width,
		Height:             height,
		Fov:                DefaultFov,
		MinNear:            DefaultMinNear,
		TileErrorThreshold: DefaultTileErrorThreshold,
		ViewMatrix: mgl64.LookAtV(
			mgl64.Vec3{world.Radius * 3, 0, 0},
			mgl64.Vec3{},
			mgl64.Vec3{0, 0, 1},
		),
	}
	c.UpdateViewDependentProperties()
	return c
}

// Aspect 宽高比
func (c *Context) Aspect() float64 {
	if c.Height == 0 {
		return 1
	}
	return float64(c.Width) / float64(c.Height)
}

// SetViewport 设置视口尺寸
func (c *Context) SetViewport(width, height int) {
	c.Width = width
	c.Height = height
	c.RequestFrame()
}

// LookAt 设置相机
func (c *Context) LookAt(eye, center, up mgl64.Vec3) {
	c.ViewMatrix = mgl64.LookAtV(eye, center, up)
	c.RequestFrame()
}

// SetViewMatrix 直接设置视图矩阵
func (c *Context) SetViewMatrix(m mgl64.Mat4) {
	c.ViewMatrix = m
	c.RequestFrame()
}

// UpdateViewDependentProperties 每帧开始时根据视图矩阵更新视点、视锥与像素尺寸向量
func (c *Context) UpdateViewDependentProperties() {
	inv := c.ViewMatrix.Inv()
	c.Eye = mgl64.TransformCoordinate(mgl64.Vec3{}, inv)
	c.EyeDir = mgl64.TransformNormal(mgl64.Vec3{0, 0, -1}, inv).Normalize()

	// 剔除用的远平面覆盖整个天体，真正的远近平面在遍历后确定
	c.cullFar = c.Eye.Len() + 10*c.World.Radius
	proj := mgl64.Perspective(mgl64.DegToRad(c.Fov), c.Aspect(), c.MinNear, c.cullFar)
	c.ProjectionMatrix = proj

	c.Frustum = geometry.FrustumFromProjection(proj)
	c.WorldFrustum = c.Frustum.InverseTransform(c.ViewMatrix)
	c.PixelSizeVector = computePixelSizeVector(float64(c.Width), float64(c.Height), proj, c.ViewMatrix)
}

// computePixelSizeVector 世界空间点 p 处单位长度对应的像素数为 1/dot(psv, [p,1])
func computePixelSizeVector(width, height float64, P, V mgl64.Mat4) mgl64.Vec4 {
	p00 := P[0] * width * 0.5
	p20_00 := P[8]*width*0.5 + P[11]*width*0.5
	scale00 := mgl64.Vec3{
		V[0]*p00 + V[2]*p20_00,
		V[4]*p00 + V[6]*p20_00,
		V[8]*p00 + V[10]*p20_00,
	}

	p10 := P[5] * height * 0.5
	p20_10 := P[9]*height*0.5 + P[11]*height*0.5
	scale10 := mgl64.Vec3{
		V[1]*p10 + V[2]*p20_10,
		V[5]*p10 + V[6]*p20_10,
		V[9]*p10 + V[10]*p20_10,
	}

	p23 := P[11]
	p33 := P[15]
	psv := mgl64.Vec4{
		V[2] * p23,
		V[6] * p23,
		V[10] * p23,
		V[14]*p23 + V[15]*p33,
	}

	scaleRatio := 0.7071067811 / math.Sqrt(scale00.LenSqr()+scale10.LenSqr())
	return psv.Mul(scaleRatio)
}

// PixelSize 世界空间点 p 处单位长度的像素尺度分母
func (c *Context) PixelSize(p mgl64.Vec3) float64 {
	return c.PixelSizeVector.Dot(p.Vec4(1))
}

// ResetNearFar 遍历前重置远近平面
func (c *Context) ResetNearFar() {
	c.Near = math.Inf(1)
	c.Far = -1
}

// ExtendNearFar 用可见瓦片扩展远近平面
func (c *Context) ExtendNearFar(near, far float64) {
	c.Near = math.Min(c.Near, near)
	c.Far = math.Max(c.Far, far)
}

// CullFar 剔除视锥使用的远平面距离
func (c *Context) CullFar() float64 {
	return c.cullFar
}

// UpdateProjection 以最终的远近平面重建绘制用的投影矩阵
func (c *Context) UpdateProjection() {
	near, far := c.Near, c.Far
	if math.IsInf(near, 1) || far <= 0 {
		near, far = c.MinNear, c.cullFar
	}
	near = math.Max(near, c.MinNear)
	if far <= near {
		far = near * 2
	}
	c.Near, c.Far = near, far
	c.ProjectionMatrix = mgl64.Perspective(mgl64.DegToRad(c.Fov), c.Aspect(), near, far)
}

// RequestFrame 请求重绘，可在任意协程调用
func (c *Context) RequestFrame() {
	c.frameRequested.Store(true)
}

// TakeFrameRequest 读取并清除重绘标记
func (c *Context) TakeFrameRequest() bool {
	return c.frameRequested.Swap(false)
}

// PixelRay 从视点穿过屏幕像素(x,y)（左上角为原点）的射线
func (c *Context) PixelRay(x, y float64) geometry.Ray {
	ndcX := 2*x/float64(c.Width) - 1
	ndcY := 1 - 2*y/float64(c.Height)

	inv := c.ProjectionMatrix.Mul4(c.ViewMatrix).Inv()
	far := inv.Mul4x1(mgl64.Vec4{ndcX, ndcY, 1, 1})
	target := far.Vec3().Mul(1 / far[3])

	return geometry.Ray{Origin: c.Eye, Direction: target.Sub(c.Eye).Normalize()}
}

// WorldToPixel 世界坐标投影到屏幕像素，点在视点后方时返回false
func (c *Context) WorldToPixel(p mgl64.Vec3) (float64, float64, bool) {
	clip := c.ProjectionMatrix.Mul4(c.ViewMatrix).Mul4x1(p.Vec4(1))
	if clip[3] <= 0 {
		return 0, 0, false
	}
	ndcX := clip[0] / clip[3]
	ndcY := clip[1] / clip[3]
	return (ndcX + 1) * 0.5 * float64(c.Width), (1 - ndcY) * 0.5 * float64(c.Height), true
}
