package tile_proxy

import (
	"github.com/GrainArc/SouceGlobe/coord"
	"github.com/paulmach/orb"
)

// TileBounds 瓦片边界（WGS84经纬度）
type TileBounds struct {
	MinLon float64
	MinLat float64
	MaxLon float64
	MaxLat float64
}

// Bound 转为orb范围
func (b TileBounds) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{b.MinLon, b.MinLat}, Max: orb.Point{b.MaxLon, b.MaxLat}}
}

// TileCoord 瓦片坐标
type TileCoord struct {
	Z int `json:"z"`
	X int `json:"x"`
	Y int `json:"y"`
}

// TileRange 瓦片范围
type TileRange struct {
	MinX int
	MaxX int
	MinY int
	MaxY int
}

// Count 范围内瓦片数
func (r TileRange) Count() int {
	if r.MaxX < r.MinX || r.MaxY < r.MinY {
		return 0
	}
	return (r.MaxX - r.MinX + 1) * (r.MaxY - r.MinY + 1)
}

// GetTileBoundsWGS84 获取墨卡托瓦片的WGS84边界
func GetTileBoundsWGS84(z, x, y int) TileBounds {
	return TileBounds{
		MinLon: coord.TileToLon(float64(x), z),
		MaxLon: coord.TileToLon(float64(x+1), z),
		MinLat: coord.TileToLat(float64(y+1), z),
		MaxLat: coord.TileToLat(float64(y), z),
	}
}

// LonLatToTileCoord 经纬度转瓦片坐标
func LonLatToTileCoord(lon, lat float64, z int) TileCoord {
	x, y := coord.LonLatToTile(lon, lat, z)
	return TileCoord{Z: z, X: x, Y: y}
}

// RangeInBound 范围在z级覆盖的瓦片行列
func RangeInBound(b orb.Bound, z int) TileRange {
	minTile := LonLatToTileCoord(b.Min[0], b.Max[1], z) // 左上角
	maxTile := LonLatToTileCoord(b.Max[0], b.Min[1], z) // 右下角
	return TileRange{MinX: minTile.X, MaxX: maxTile.X, MinY: minTile.Y, MaxY: maxTile.Y}
}

// TilesInBound 计算范围内[minZoom,maxZoom]各级的所有瓦片
func TilesInBound(b orb.Bound, minZoom, maxZoom int) []TileCoord {
	var tiles []TileCoord
	for z := minZoom; z <= maxZoom; z++ {
		r := RangeInBound(b, z)
		for x := r.MinX; x <= r.MaxX; x++ {
			for y := r.MinY; y <= r.MaxY; y++ {
				tiles = append(tiles, TileCoord{Z: z, X: x, Y: y})
			}
		}
	}
	return tiles
}

// CountTilesInBound 与 TilesInBound 相同范围的瓦片总数
func CountTilesInBound(b orb.Bound, minZoom, maxZoom int) int {
	n := 0
	for z := minZoom; z <= maxZoom; z++ {
		n += RangeInBound(b, z).Count()
	}
	return n
}
