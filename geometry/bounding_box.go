package geometry

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// BoundingBox 轴对齐包围盒
type BoundingBox struct {
	Min mgl64.Vec3
	Max mgl64.Vec3
}

// NewBoundingBox 创建空包围盒
func NewBoundingBox() BoundingBox {
	inf := math.Inf(1)
	return BoundingBox{
		Min: mgl64.Vec3{inf, inf, inf},
		Max: mgl64.Vec3{-inf, -inf, -inf},
	}
}

// IsEmpty 是否尚未扩展过
func (b BoundingBox) IsEmpty() bool {
	return b.Min[0] > b.Max[0] || b.Min[1] > b.Max[1] || b.Min[2] > b.Max[2]
}

// Extend 用一个点扩展包围盒
func (b *BoundingBox) Extend(x, y, z float64) {
	b.Min[0] = math.Min(b.Min[0], x)
	b.Min[1] = math.Min(b.Min[1], y)
	b.Min[2] = math.Min(b.Min[2], z)
	b.Max[0] = math.Max(b.Max[0], x)
	b.Max[1] = math.Max(b.Max[1], y)
	b.Max[2] = math.Max(b.Max[2], z)
}

// ExtendVec 用向量扩展包围盒
func (b *BoundingBox) ExtendVec(v mgl64.Vec3) {
	b.Extend(v[0], v[1], v[2])
}

// Compute 根据顶点数组重新计算包围盒，count为顶点个数，stride为每个顶点的float个数
func (b *BoundingBox) Compute(vertices []float32, count, stride int) {
	*b = NewBoundingBox()
	for n := 0; n < count; n++ {
		offset := n * stride
		b.Extend(float64(vertices[offset]), float64(vertices[offset+1]), float64(vertices[offset+2]))
	}
}

// Corner 返回角点，pos的第0/1/2位分别选择x/y/z的最大值
func (b BoundingBox) Corner(pos int) mgl64.Vec3 {
	var c mgl64.Vec3
	for axis := 0; axis < 3; axis++ {
		if pos&(1<<uint(axis)) != 0 {
			c[axis] = b.Max[axis]
		} else {
			c[axis] = b.Min[axis]
		}
	}
	return c
}

// Center 中心点
func (b BoundingBox) Center() mgl64.Vec3 {
	return b.Min.Add(b.Max).Mul(0.5)
}

// Radius 外接球半径
func (b BoundingBox) Radius() float64 {
	if b.IsEmpty() {
		return 0
	}
	return 0.5 * b.Max.Sub(b.Min).Len()
}

// Clamp 将点逐轴限制到包围盒内，得到盒上距该点最近的点
func (b BoundingBox) Clamp(p mgl64.Vec3) mgl64.Vec3 {
	return mgl64.Vec3{
		mgl64.Clamp(p[0], b.Min[0], b.Max[0]),
		mgl64.Clamp(p[1], b.Min[1], b.Max[1]),
		mgl64.Clamp(p[2], b.Min[2], b.Max[2]),
	}
}

// Contains 点是否在包围盒内（含边界）
func (b BoundingBox) Contains(p mgl64.Vec3) bool {
	for axis := 0; axis < 3; axis++ {
		if p[axis] < b.Min[axis] || p[axis] > b.Max[axis] {
			return false
		}
	}
	return true
}
