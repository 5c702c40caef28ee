package tiling

import (
	"math"

	"github.com/GrainArc/SouceGlobe/coord"
	"github.com/paulmach/orb"
)

// GeoTiling 等经纬度切片，零级为 nx*ny 网格
type GeoTiling struct {
	nx, ny int
}

// NewGeoTiling 创建等经纬度切片方案
func NewGeoTiling(nx, ny int) *GeoTiling {
	if nx <= 0 {
		nx = 4
	}
	if ny <= 0 {
		ny = 2
	}
	return &GeoTiling{nx: nx, ny: ny}
}

func (g *GeoTiling) Kind() Kind { return KindGeo }

func (g *GeoTiling) Configure(cfg *Config) {
	cfg.Skirt = true
	cfg.CullSign = 1
}

func (g *GeoTiling) LevelZeroCount() int { return g.nx * g.ny }

func (g *GeoTiling) levelZeroBound(i, j int) orb.Bound {
	w := 360 / float64(g.nx)
	h := 180 / float64(g.ny)
	return orb.Bound{
		Min: orb.Point{-180 + float64(i)*w, 90 - float64(j+1)*h},
		Max: orb.Point{-180 + float64(i+1)*w, 90 - float64(j)*h},
	}
}

func (g *GeoTiling) GenerateLevelZeroTiles(arena *Arena, cfg *Config) []TileID {
	ids := make([]TileID, 0, g.nx*g.ny)
	for j := 0; j < g.ny; j++ {
		for i := 0; i < g.nx; i++ {
			t := arena.newTile(g, cfg)
			t.X, t.Y = i, j
			t.LevelZeroIndex = j*g.nx + i
			t.GeoBound = g.levelZeroBound(i, j)
			t.geoTransform = geoSubRect(t.GeoBound)
			t.FallbackTransform = t.geoTransform
			ids = append(ids, t.ID)
		}
	}
	return ids
}

func (g *GeoTiling) LonLat2LevelZeroIndex(lon, lat float64) int {
	i := int(math.Floor((lon + 180) * float64(g.nx) / 360))
	j := int(math.Floor((90 - lat) * float64(g.ny) / 180))
	i = min(max(i, 0), g.nx-1)
	j = min(max(j, 0), g.ny-1)
	return j*g.nx + i
}

func (g *GeoTiling) GetOverlappedLevelZeroTiles(geom orb.Geometry) []int {
	b := coord.GeometryBound(geom)
	var out []int
	for j := 0; j < g.ny; j++ {
		for i := 0; i < g.nx; i++ {
			if coord.BoundIntersects(g.levelZeroBound(i, j), b) {
				out = append(out, j*g.nx+i)
			}
		}
	}
	return out
}

func (g *GeoTiling) initChild(parent, child *Tile, i, j int) {
	pb := parent.GeoBound
	w := (pb.Max[0] - pb.Min[0]) / 2
	h := (pb.Max[1] - pb.Min[1]) / 2
	west := pb.Min[0] + float64(i)*w
	north := pb.Max[1] - float64(j)*h
	child.GeoBound = orb.Bound{Min: orb.Point{west, north - h}, Max: orb.Point{west + w, north}}
	child.Zoom = parent.Zoom + 1
	child.X = parent.X*2 + i
	child.Y = parent.Y*2 + j
	child.geoTransform = geoSubRect(child.GeoBound)
}

func (g *GeoTiling) generateVertices(t *Tile, elevations []float32) {
	world := t.Config.World
	b := t.GeoBound
	c := b.Center()
	t.setFrame(world.LHVTransform(c[0], c[1], 0))

	size := t.Config.Tesselation
	lonStep := (b.Max[0] - b.Min[0]) / float64(size-1)
	latStep := (b.Max[1] - b.Min[1]) / float64(size-1)
	for j := 0; j < size; j++ {
		lat := b.Max[1] - float64(j)*latStep
		for i := 0; i < size; i++ {
			lon := b.Min[0] + float64(i)*lonStep
			var h float64
			if elevations != nil {
				h = float64(elevations[j*size+i])
			}
			t.writeLocal(j*size+i, world.FromGeoTo3D(lon, lat, h))
		}
	}
}

func (g *GeoTiling) adjustSkirts(*Tile) {}

func (g *GeoTiling) containsLonLat(t *Tile, lon, lat float64) bool {
	return t.GeoBound.Contains(orb.Point{lon, lat})
}

func (g *GeoTiling) gridPosition(t *Tile, lon, lat float64) (float64, float64, bool) {
	if !g.containsLonLat(t, lon, lat) {
		return 0, 0, false
	}
	b := t.GeoBound
	size := float64(t.Config.Tesselation - 1)
	col := (lon - b.Min[0]) / (b.Max[0] - b.Min[0]) * size
	row := (b.Max[1] - lat) / (b.Max[1] - b.Min[1]) * size
	return col, row, true
}

// geoSubRect 范围在全球等经纬度图像中的纹理子区域
func geoSubRect(b orb.Bound) [4]float64 {
	return [4]float64{
		(b.Max[0] - b.Min[0]) / 360,
		(b.Max[1] - b.Min[1]) / 180,
		(b.Min[0] + 180) / 360,
		(90 - b.Max[1]) / 180,
	}
}
