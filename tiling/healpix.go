package tiling

import (
	"github.com/GrainArc/SouceGlobe/coord"
	"github.com/GrainArc/SouceGlobe/healpix"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/paulmach/orb"
)

// 子瓦片 (i,j) 对应的 NESTED 子像素偏移
var healpixChildOffset = [4]int64{0, 2, 1, 3}

// HEALPixTiling 天球HEALPix切片，从球内部观察
type HEALPixTiling struct {
	order int
}

// NewHEALPixTiling 创建HEALPix切片方案
func NewHEALPixTiling(order int) *HEALPixTiling {
	if order < 0 {
		order = 3
	}
	return &HEALPixTiling{order: order}
}

// Order 零级瓦片的阶数
func (h *HEALPixTiling) Order() int { return h.order }

func (h *HEALPixTiling) Kind() Kind { return KindHEALPix }

func (h *HEALPixTiling) Configure(cfg *Config) {
	cfg.Skirt = false
	cfg.CullSign = -1
	cfg.Tesselation = 5
}

func (h *HEALPixTiling) LevelZeroCount() int { return int(healpix.NPix(h.order)) }

// GenerateLevelZeroTiles 零级瓦片立即生成几何以获得包围体，状态保持NONE
func (h *HEALPixTiling) GenerateLevelZeroTiles(arena *Arena, cfg *Config) []TileID {
	npix := healpix.NPix(h.order)
	ids := make([]TileID, 0, npix)
	for pix := int64(0); pix < npix; pix++ {
		t := arena.newTile(h, cfg)
		t.Zoom = h.order
		t.LevelZeroIndex = int(pix)
		h.setPixel(t, pix)
		t.BuildGeometry(nil)
		ids = append(ids, t.ID)
	}
	return ids
}

func (h *HEALPixTiling) setPixel(t *Tile, pix int64) {
	ix, iy, face := healpix.Pix2XYF(t.Zoom, pix)
	t.Pixel = pix
	t.X, t.Y, t.Face = int(ix), int(iy), face
	t.GeoBound = pixelBound(t.Zoom, pix)
}

func (h *HEALPixTiling) LonLat2LevelZeroIndex(lon, lat float64) int {
	return int(healpix.LonLat2Pix(h.order, lon, lat))
}

func (h *HEALPixTiling) GetOverlappedLevelZeroTiles(geom orb.Geometry) []int {
	if p, ok := geom.(orb.Point); ok {
		return []int{h.LonLat2LevelZeroIndex(p[0], p[1])}
	}
	b := coord.GeometryBound(geom)
	var out []int
	for pix := int64(0); pix < healpix.NPix(h.order); pix++ {
		if coord.BoundIntersects(pixelBound(h.order, pix), b) {
			out = append(out, int(pix))
		}
	}
	return out
}

func (h *HEALPixTiling) initChild(parent, child *Tile, i, j int) {
	child.Zoom = parent.Zoom + 1
	h.setPixel(child, parent.Pixel*4+healpixChildOffset[j*2+i])
}

// generateVertices 网格按 [u*size+v] 排列，u沿面内x方向
func (h *HEALPixTiling) generateVertices(t *Tile, _ []float32) {
	world := t.Config.World
	size := t.Config.Tesselation
	nside := float64(healpix.Nside(t.Zoom))
	step := 1 / float64(size-1)

	points := make([]mgl64.Vec3, 0, size*size)
	var center mgl64.Vec3
	for u := 0; u < size; u++ {
		for v := 0; v < size; v++ {
			x := (float64(t.X) + float64(u)*step) / nside
			y := (float64(t.Y) + float64(v)*step) / nside
			p := healpix.FXYF(x, y, t.Face).Mul(world.Radius)
			points = append(points, p)
			center = center.Add(p)
		}
	}
	center = center.Mul(1 / float64(len(points)))
	up := center.Normalize()
	t.setFrame(coord.FrameFromUp(up.Mul(world.Radius), up, mgl64.Vec3{0, 0, 1}))
	for idx, p := range points {
		t.writeLocal(idx, p)
	}
}

func (h *HEALPixTiling) adjustSkirts(*Tile) {}

func (h *HEALPixTiling) containsLonLat(t *Tile, lon, lat float64) bool {
	return healpix.LonLat2Pix(t.Zoom, lon, lat) == t.Pixel
}

func (h *HEALPixTiling) gridPosition(*Tile, float64, float64) (float64, float64, bool) {
	return 0, 0, false
}

// pixelBound 像素边界采样得到的经纬度范围，包含极点时扩展到极点
func pixelBound(order int, pix int64) orb.Bound {
	ix, iy, face := healpix.Pix2XYF(order, pix)
	nside := float64(healpix.Nside(order))
	const samples = 4
	ring := make(orb.Ring, 0, 4*samples+1)
	edge := func(x0, y0, dx, dy float64) {
		for s := 0; s < samples; s++ {
			f := float64(s) / samples
			lon, lat := healpix.Vec2LonLat(healpix.FXYF(
				(float64(ix)+x0+dx*f)/nside,
				(float64(iy)+y0+dy*f)/nside, face))
			ring = append(ring, orb.Point{lon, lat})
		}
	}
	edge(0, 0, 1, 0)
	edge(1, 0, 0, 1)
	edge(1, 1, -1, 0)
	edge(0, 1, 0, -1)
	ring = append(ring, ring[0])

	b := coord.GeometryBound(ring)
	if healpix.LonLat2Pix(order, 0, 90) == pix {
		b.Min[0], b.Max[0], b.Max[1] = -180, 180, 90
	}
	if healpix.LonLat2Pix(order, 0, -90) == pix {
		b.Min[0], b.Max[0], b.Min[1] = -180, 180, -90
	}
	return b
}
