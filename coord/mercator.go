package coord

import (
	"math"
)

const (
	// EarthRadius Web墨卡托长半轴
	EarthRadius = 6378137.0
	// OriginShift 墨卡托坐标范围
	OriginShift = math.Pi * EarthRadius // 20037508.342789244
	// MaxMercatorLat 墨卡托有效纬度
	MaxMercatorLat = 85.0511287798
)

// LonToMercator 经度转墨卡托X
func LonToMercator(lon float64) float64 {
	return lon * OriginShift / 180.0
}

// LatToMercator 纬度转墨卡托Y
func LatToMercator(lat float64) float64 {
	lat = math.Max(-MaxMercatorLat, math.Min(MaxMercatorLat, lat))
	y := math.Log(math.Tan((90+lat)*math.Pi/360.0)) / (math.Pi / 180.0)
	return y * OriginShift / 180.0
}

// MercatorToLon 墨卡托X转经度
func MercatorToLon(x float64) float64 {
	return x / OriginShift * 180.0
}

// MercatorToLat 墨卡托Y转纬度
func MercatorToLat(y float64) float64 {
	lat := y / OriginShift * 180.0
	return 180.0 / math.Pi * (2*math.Atan(math.Exp(lat*math.Pi/180.0)) - math.Pi/2)
}

// TileToLon 瓦片列号（可为小数）转经度
func TileToLon(x float64, z int) float64 {
	n := math.Pow(2, float64(z))
	return x/n*360.0 - 180.0
}

// TileToLat 瓦片行号（可为小数）转纬度
func TileToLat(y float64, z int) float64 {
	n := math.Pow(2, float64(z))
	latRad := math.Atan(math.Sinh(math.Pi * (1 - 2*y/n)))
	return latRad * 180.0 / math.Pi
}

// LonLatToTile 经纬度转瓦片坐标（带边界处理）
func LonLatToTile(lon, lat float64, z int) (int, int) {
	n := math.Pow(2, float64(z))

	x := int(math.Floor((lon + 180.0) / 360.0 * n))

	lat = math.Max(-MaxMercatorLat, math.Min(MaxMercatorLat, lat))
	latRad := lat * math.Pi / 180.0
	y := int(math.Floor((1.0 - math.Log(math.Tan(latRad)+1.0/math.Cos(latRad))/math.Pi) / 2.0 * n))

	maxTile := int(n) - 1
	if x < 0 {
		x = 0
	} else if x > maxTile {
		x = maxTile
	}
	if y < 0 {
		y = 0
	} else if y > maxTile {
		y = maxTile
	}
	return x, y
}
