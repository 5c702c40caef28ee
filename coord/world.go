package coord

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

const (
	// RealEarthRadius 地球真实半径（米）
	RealEarthRadius = 6356752.3142

	// DefaultHorizonCullThreshold 地平线剔除阈值
	DefaultHorizonCullThreshold = -0.05
	// DefaultSkirtFraction 裙边高度占瓦片包围半径的比例
	DefaultSkirtFraction = 0.05
)

// WorldConfig 天体参数，每个Globe实例持有一份
type WorldConfig struct {
	Radius          float64 // 渲染空间中的球半径
	RealEarthRadius float64
	HeightScale     float64 // 高程（米）到渲染空间的缩放
	Flat            bool

	// 对非地球半径的天体可能需要重新调整
	HorizonCullThreshold float64
	SkirtFraction        float64
}

// DefaultWorldConfig 单位球
func DefaultWorldConfig() *WorldConfig {
	return &WorldConfig{
		Radius:               1.0,
		RealEarthRadius:      RealEarthRadius,
		HeightScale:          1.0 / RealEarthRadius,
		HorizonCullThreshold: DefaultHorizonCullThreshold,
		SkirtFraction:        DefaultSkirtFraction,
	}
}

// FromGeoTo3D 经纬度（度）+ 高程（米）转三维坐标
func (w *WorldConfig) FromGeoTo3D(lon, lat, height float64) mgl64.Vec3 {
	lonRad := mgl64.DegToRad(lon)
	latRad := mgl64.DegToRad(lat)
	r := w.Radius + height*w.HeightScale
	cosLat := math.Cos(latRad)
	return mgl64.Vec3{
		r * cosLat * math.Cos(lonRad),
		r * cosLat * math.Sin(lonRad),
		r * math.Sin(latRad),
	}
}

// From3DToGeo 三维坐标转经纬度（度）+ 高程（米）
func (w *WorldConfig) From3DToGeo(p mgl64.Vec3) (lon, lat, height float64) {
	r := p.Len()
	if r == 0 {
		return 0, 0, -w.Radius / w.HeightScale
	}
	lon = mgl64.RadToDeg(math.Atan2(p[1], p[0]))
	lat = mgl64.RadToDeg(math.Asin(mgl64.Clamp(p[2]/r, -1, 1)))
	height = (r - w.Radius) / w.HeightScale
	return lon, lat, height
}

// LHVTransform 局部坐标系（东、北、天）到世界坐标的变换
func (w *WorldConfig) LHVTransform(lon, lat, height float64) mgl64.Mat4 {
	pos := w.FromGeoTo3D(lon, lat, height)
	lonRad := mgl64.DegToRad(lon)
	latRad := mgl64.DegToRad(lat)

	up := mgl64.Vec3{
		math.Cos(latRad) * math.Cos(lonRad),
		math.Cos(latRad) * math.Sin(lonRad),
		math.Sin(latRad),
	}
	east := mgl64.Vec3{-math.Sin(lonRad), math.Cos(lonRad), 0}
	north := up.Cross(east)

	return mgl64.Mat4FromCols(east.Vec4(0), north.Vec4(0), up.Vec4(0), pos.Vec4(1))
}

// FrameFromUp 以up为z轴、north为近似y轴构造局部坐标系
func FrameFromUp(origin, up, north mgl64.Vec3) mgl64.Mat4 {
	up = up.Normalize()
	east := north.Cross(up)
	if east.Len() < 1e-12 {
		east = mgl64.Vec3{1, 0, 0}.Cross(up)
	}
	east = east.Normalize()
	north = up.Cross(east)
	return mgl64.Mat4FromCols(east.Vec4(0), north.Vec4(0), up.Vec4(0), origin.Vec4(1))
}

// EarthCenterInLocal 局部坐标系中的天体中心
func EarthCenterInLocal(inverse mgl64.Mat4) mgl64.Vec3 {
	return mgl64.TransformCoordinate(mgl64.Vec3{}, inverse)
}
