package tiling

import (
	"math"

	"github.com/GrainArc/SouceGlobe/coord"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// MercatorTiling Web墨卡托切片，零级对应 startLevel 级的全部瓦片
type MercatorTiling struct {
	startLevel int
	n          int
}

// NewMercatorTiling 创建墨卡托切片方案
func NewMercatorTiling(startLevel int) *MercatorTiling {
	if startLevel < 0 {
		startLevel = 2
	}
	return &MercatorTiling{startLevel: startLevel, n: 1 << startLevel}
}

// StartLevel 零级瓦片对应的缩放级别
func (m *MercatorTiling) StartLevel() int { return m.startLevel }

func (m *MercatorTiling) Kind() Kind { return KindMercator }

func (m *MercatorTiling) Configure(cfg *Config) {
	cfg.Skirt = true
	cfg.CullSign = 1
}

func (m *MercatorTiling) LevelZeroCount() int { return m.n * m.n }

func tileBound(x, y, z int) orb.Bound {
	return maptile.New(uint32(x), uint32(y), maptile.Zoom(z)).Bound()
}

func (m *MercatorTiling) GenerateLevelZeroTiles(arena *Arena, cfg *Config) []TileID {
	ids := make([]TileID, 0, m.n*m.n)
	for y := 0; y < m.n; y++ {
		for x := 0; x < m.n; x++ {
			t := arena.newTile(m, cfg)
			t.Zoom = m.startLevel
			t.X, t.Y = x, y
			t.LevelZeroIndex = y*m.n + x
			t.GeoBound = tileBound(x, y, m.startLevel)
			t.geoTransform = mercatorSubRect(x, y, m.startLevel)
			t.FallbackTransform = t.geoTransform
			ids = append(ids, t.ID)
		}
	}
	return ids
}

func (m *MercatorTiling) LonLat2LevelZeroIndex(lon, lat float64) int {
	x, y := coord.LonLatToTile(lon, lat, m.startLevel)
	return y*m.n + x
}

func (m *MercatorTiling) GetOverlappedLevelZeroTiles(geom orb.Geometry) []int {
	b := coord.GeometryBound(geom)
	var out []int
	for y := 0; y < m.n; y++ {
		for x := 0; x < m.n; x++ {
			tb := tileBound(x, y, m.startLevel)
			// 极区行延伸到极点
			if y == 0 {
				tb.Max[1] = 90
			}
			if y == m.n-1 {
				tb.Min[1] = -90
			}
			if coord.BoundIntersects(tb, b) {
				out = append(out, y*m.n+x)
			}
		}
	}
	return out
}

func (m *MercatorTiling) initChild(parent, child *Tile, i, j int) {
	child.Zoom = parent.Zoom + 1
	child.X = parent.X*2 + i
	child.Y = parent.Y*2 + j
	child.GeoBound = tileBound(child.X, child.Y, child.Zoom)
	child.geoTransform = mercatorSubRect(child.X, child.Y, child.Zoom)
}

func (m *MercatorTiling) generateVertices(t *Tile, elevations []float32) {
	world := t.Config.World
	c := t.GeoBound.Center()
	t.setFrame(world.LHVTransform(c[0], c[1], 0))

	size := t.Config.Tesselation
	step := 1 / float64(size-1)
	for j := 0; j < size; j++ {
		lat := coord.TileToLat(float64(t.Y)+float64(j)*step, t.Zoom)
		for i := 0; i < size; i++ {
			lon := coord.TileToLon(float64(t.X)+float64(i)*step, t.Zoom)
			var h float64
			if elevations != nil {
				h = float64(elevations[j*size+i])
			}
			t.writeLocal(j*size+i, world.FromGeoTo3D(lon, lat, h))
		}
	}
}

// adjustSkirts 极区瓦片的外侧裙边收拢到极点
func (m *MercatorTiling) adjustSkirts(t *Tile) {
	world := t.Config.World
	if t.Y == 0 {
		t.collapseSkirt(SkirtTop, world.FromGeoTo3D(0, 90, 0))
	}
	if t.Y == (1<<t.Zoom)-1 {
		t.collapseSkirt(SkirtBottom, world.FromGeoTo3D(0, -90, 0))
	}
}

func (m *MercatorTiling) containsLonLat(t *Tile, lon, lat float64) bool {
	return t.GeoBound.Contains(orb.Point{lon, lat})
}

func (m *MercatorTiling) gridPosition(t *Tile, lon, lat float64) (float64, float64, bool) {
	if !m.containsLonLat(t, lon, lat) {
		return 0, 0, false
	}
	n := math.Exp2(float64(t.Zoom))
	fx := (lon+180)/360*n - float64(t.X)
	fy := (coord.OriginShift-coord.LatToMercator(lat))/(2*coord.OriginShift)*n - float64(t.Y)
	size := float64(t.Config.Tesselation - 1)
	return fx * size, fy * size, true
}

// mercatorSubRect 瓦片在全球墨卡托图像中的纹理子区域
func mercatorSubRect(x, y, z int) [4]float64 {
	n := math.Exp2(float64(z))
	return [4]float64{1 / n, 1 / n, float64(x) / n, float64(y) / n}
}
