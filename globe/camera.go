package globe

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// LookAtGeo 相机位于经纬度上空 altitude 米处，垂直向下看，北向朝上
func (g *Globe) LookAtGeo(lon, lat, altitude float64) {
	world := g.rc.World
	frame := world.LHVTransform(lon, lat, altitude)
	eye := frame.Col(3).Vec3()
	north := frame.Col(1).Vec3()
	center := world.FromGeoTo3D(lon, lat, 0)
	g.rc.LookAt(eye, center, north)
}

// LookAtGeoTilted 相机看向经纬度处，沿北向后退并抬高 tilt 度
func (g *Globe) LookAtGeoTilted(lon, lat, distance, tilt float64) {
	world := g.rc.World
	frame := world.LHVTransform(lon, lat, 0)
	target := frame.Col(3).Vec3()
	north := frame.Col(1).Vec3()
	up := frame.Col(2).Vec3()

	d := distance * world.HeightScale
	rad := mgl64.DegToRad(tilt)
	// tilt 为 0 时即垂直俯视
	back := north.Mul(-d * math.Sin(rad))
	eye := target.Add(up.Mul(d * math.Cos(rad))).Add(back)
	g.rc.LookAt(eye, target, up.Add(north).Normalize())
}

// Camera 当前视点的经纬度与高度（米）
func (g *Globe) Camera() (lon, lat, altitude float64) {
	eye := mgl64.TransformCoordinate(mgl64.Vec3{}, g.rc.ViewMatrix.Inv())
	return g.rc.World.From3DToGeo(eye)
}
