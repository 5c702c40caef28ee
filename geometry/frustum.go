package geometry

import (
	"github.com/go-gl/mathgl/mgl64"
)

// Plane 平面，法线指向可见一侧，Distance为负表示在平面外
type Plane struct {
	Normal mgl64.Vec3
	D      float64
}

// PlaneFromPoints 由三点构造平面（逆时针为正面）
func PlaneFromPoints(p1, p2, p3 mgl64.Vec3) Plane {
	n := p2.Sub(p1).Cross(p3.Sub(p1)).Normalize()
	return Plane{Normal: n, D: -n.Dot(p1)}
}

// PlaneFromCoefficients 由 ax+by+cz+d=0 构造并归一化
func PlaneFromCoefficients(a, b, c, d float64) Plane {
	n := mgl64.Vec3{a, b, c}
	l := n.Len()
	if l == 0 {
		return Plane{}
	}
	return Plane{Normal: n.Mul(1 / l), D: d / l}
}

// Distance 点到平面的有符号距离
func (p Plane) Distance(v mgl64.Vec3) float64 {
	return p.Normal.Dot(v) + p.D
}

// InverseTransform 平面在 p' = m*p 的空间中给出，返回它在 p 所在空间中的表示
func (p Plane) InverseTransform(m mgl64.Mat4) Plane {
	x, y, z, w := p.Normal[0], p.Normal[1], p.Normal[2], p.D
	return Plane{
		Normal: mgl64.Vec3{
			m[0]*x + m[1]*y + m[2]*z + m[3]*w,
			m[4]*x + m[5]*y + m[6]*z + m[7]*w,
			m[8]*x + m[9]*y + m[10]*z + m[11]*w,
		},
		D: m[12]*x + m[13]*y + m[14]*z + m[15]*w,
	}
}

// 视锥平面序号
const (
	PlaneLeft = iota
	PlaneRight
	PlaneBottom
	PlaneTop
	PlaneNear
	PlaneFar
)

// Frustum 视锥体，6个平面法线朝内
type Frustum struct {
	Planes [6]Plane
}

// FrustumFromProjection 从投影矩阵提取视图空间的视锥平面
func FrustumFromProjection(proj mgl64.Mat4) Frustum {
	row := func(i int) mgl64.Vec4 {
		return mgl64.Vec4{proj.At(i, 0), proj.At(i, 1), proj.At(i, 2), proj.At(i, 3)}
	}
	r0, r1, r2, r3 := row(0), row(1), row(2), row(3)
	mk := func(v mgl64.Vec4) Plane {
		return PlaneFromCoefficients(v[0], v[1], v[2], v[3])
	}

	var f Frustum
	f.Planes[PlaneLeft] = mk(r3.Add(r0))
	f.Planes[PlaneRight] = mk(r3.Sub(r0))
	f.Planes[PlaneBottom] = mk(r3.Add(r1))
	f.Planes[PlaneTop] = mk(r3.Sub(r1))
	f.Planes[PlaneNear] = mk(r3.Add(r2))
	f.Planes[PlaneFar] = mk(r3.Sub(r2))
	return f
}

// InverseTransform 见 Plane.InverseTransform；m为刚体变换时法线保持单位长度
func (f Frustum) InverseTransform(m mgl64.Mat4) Frustum {
	var out Frustum
	for i, p := range f.Planes {
		out.Planes[i] = p.InverseTransform(m)
	}
	return out
}

// ContainsPoint 点是否在视锥内
func (f Frustum) ContainsPoint(p mgl64.Vec3) bool {
	for _, plane := range f.Planes {
		if plane.Distance(p) < 0 {
			return false
		}
	}
	return true
}

// ContainsSphere 1:完全在内 0:相交 -1:完全在外
func (f Frustum) ContainsSphere(center mgl64.Vec3, radius float64) int {
	result := 1
	for _, plane := range f.Planes {
		d := plane.Distance(center)
		if d < -radius {
			return -1
		}
		if d < radius {
			result = 0
		}
	}
	return result
}

// ContainsBoundingBox 包围盒是否与视锥相交（保守测试）
func (f Frustum) ContainsBoundingBox(b BoundingBox) bool {
	for _, plane := range f.Planes {
		// 取法线方向上最远的角点
		pos := 0
		if plane.Normal[0] >= 0 {
			pos |= 1
		}
		if plane.Normal[1] >= 0 {
			pos |= 2
		}
		if plane.Normal[2] >= 0 {
			pos |= 4
		}
		if plane.Distance(b.Corner(pos)) < 0 {
			return false
		}
	}
	return true
}
