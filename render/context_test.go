package render

import (
	"math"
	"testing"

	"github.com/GrainArc/SouceGlobe/coord"
	"github.com/go-gl/mathgl/mgl64"
)

func newTestContext() *Context {
	c := NewContext(coord.DefaultWorldConfig(), 400, 400)
	c.LookAt(mgl64.Vec3{5, 0, 0}, mgl64.Vec3{}, mgl64.Vec3{0, 0, 1})
	c.UpdateViewDependentProperties()
	return c
}

func TestEyeAndDirection(t *testing.T) {
	c := newTestContext()
	if !c.Eye.ApproxEqualThreshold(mgl64.Vec3{5, 0, 0}, 1e-9) {
		t.Errorf("eye = %v", c.Eye)
	}
	if !c.EyeDir.ApproxEqualThreshold(mgl64.Vec3{-1, 0, 0}, 1e-9) {
		t.Errorf("eye dir = %v", c.EyeDir)
	}
	if !c.TakeFrameRequest() {
		t.Errorf("LookAt should request a frame")
	}
	if c.TakeFrameRequest() {
		t.Errorf("frame request should be cleared after take")
	}
}

func TestPixelSizeVector(t *testing.T) {
	c := newTestContext()
	f := 1 / math.Tan(mgl64.DegToRad(c.Fov)/2)
	w, h := float64(c.Width), float64(c.Height)
	norm := math.Sqrt(2*(f*h/2)*(f*h/2) + (w/2)*(w/2) + (h/2)*(h/2))

	// 视点前方深度为d的点
	for _, d := range []float64{1, 2, 4} {
		p := mgl64.Vec3{5 - d, 0, 0}
		got := c.PixelSize(p)
		want := d * 0.7071067811 / norm
		if math.Abs(got-want) > 1e-9 {
			t.Errorf("depth %v: pixel size = %v, want %v", d, got, want)
		}
	}
}

func TestPixelProjection(t *testing.T) {
	c := newTestContext()
	c.ResetNearFar()
	c.ExtendNearFar(3, 6)
	c.UpdateProjection()

	x, y, ok := c.WorldToPixel(mgl64.Vec3{1, 0, 0})
	if !ok || math.Abs(x-200) > 1e-6 || math.Abs(y-200) > 1e-6 {
		t.Errorf("center projects to %v %v %v", x, y, ok)
	}
	if _, _, ok := c.WorldToPixel(mgl64.Vec3{10, 0, 0}); ok {
		t.Errorf("point behind the eye should not project")
	}

	ray := c.PixelRay(200, 200)
	if !ray.Direction.ApproxEqualThreshold(mgl64.Vec3{-1, 0, 0}, 1e-9) {
		t.Errorf("center ray = %v", ray.Direction)
	}
	// 屏幕上方对应+z
	up := c.PixelRay(200, 0)
	if up.Direction[2] <= 0 {
		t.Errorf("top ray should point up: %v", up.Direction)
	}
}

func TestUpdateProjectionWithoutTiles(t *testing.T) {
	c := newTestContext()
	c.ResetNearFar()
	c.UpdateProjection()
	if c.Near != c.MinNear || c.Far != c.CullFar() {
		t.Errorf("near/far = %v %v", c.Near, c.Far)
	}
}
