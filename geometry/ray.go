package geometry

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Ray 射线
type Ray struct {
	Origin    mgl64.Vec3
	Direction mgl64.Vec3
}

// At 射线参数t处的点
func (r Ray) At(t float64) mgl64.Vec3 {
	return r.Origin.Add(r.Direction.Mul(t))
}

// SphereIntersection 与球求交，返回最近的非负交点参数
func (r Ray) SphereIntersection(center mgl64.Vec3, radius float64) (float64, bool) {
	oc := r.Origin.Sub(center)
	a := r.Direction.Dot(r.Direction)
	b := 2 * oc.Dot(r.Direction)
	c := oc.Dot(oc) - radius*radius
	disc := b*b - 4*a*c
	if disc < 0 || a == 0 {
		return 0, false
	}
	sq := math.Sqrt(disc)
	t := (-b - sq) / (2 * a)
	if t < 0 {
		t = (-b + sq) / (2 * a)
	}
	if t < 0 {
		return 0, false
	}
	return t, true
}
