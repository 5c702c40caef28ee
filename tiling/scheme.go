package tiling

import "github.com/paulmach/orb"

// Kind 切片方案类型
type Kind int

const (
	KindGeo Kind = iota
	KindMercator
	KindHEALPix
)

func (k Kind) String() string {
	switch k {
	case KindGeo:
		return "geo"
	case KindMercator:
		return "mercator"
	case KindHEALPix:
		return "healpix"
	}
	return "unknown"
}

// IdentityTransform 纹理坐标变换 [scaleU, scaleV, translateU, translateV]
var IdentityTransform = [4]float64{1, 1, 0, 0}

// Scheme 切片方案。实现集合是封闭的：GeoTiling、MercatorTiling、HEALPixTiling。
type Scheme interface {
	Kind() Kind
	// Configure 按方案填写生成参数
	Configure(cfg *Config)
	// GenerateLevelZeroTiles 在arena中创建零级瓦片，下标即零级索引
	GenerateLevelZeroTiles(arena *Arena, cfg *Config) []TileID
	// GetOverlappedLevelZeroTiles 与几何体范围相交的零级瓦片索引
	GetOverlappedLevelZeroTiles(g orb.Geometry) []int
	LonLat2LevelZeroIndex(lon, lat float64) int
	LevelZeroCount() int

	initChild(parent, child *Tile, i, j int)
	// generateVertices 设置瓦片局部坐标系并填充网格顶点位置
	generateVertices(t *Tile, elevations []float32)
	adjustSkirts(t *Tile)
	containsLonLat(t *Tile, lon, lat float64) bool
	// gridPosition 经纬度在瓦片网格中的连续坐标 (列, 行)
	gridPosition(t *Tile, lon, lat float64) (float64, float64, bool)
}
