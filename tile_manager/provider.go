package tile_manager

import "github.com/GrainArc/SouceGlobe/tiling"

// ImageryProvider 底图数据源
type ImageryProvider interface {
	Tiling() tiling.Scheme
	// NumberOfLevels 级别数，瓦片最多细化到 NumberOfLevels-1 级
	NumberOfLevels() int
	TilePixelSize() int
	GetURL(t *tiling.Tile) string
}

// LevelZeroImageProvider 可提供整幅全球图像的底图，用于零级瓦片加载前的显示
type LevelZeroImageProvider interface {
	LevelZeroImageURL() string
}

// ElevationProvider 高程数据源
type ElevationProvider interface {
	// TilePixelSize 每边采样数，同时决定瓦片细分数
	TilePixelSize() int
	GetURL(t *tiling.Tile) string
	ParseElevations(raw []byte) ([]float32, error)
}

// PostRenderer 在底图之后绘制的叠加层
type PostRenderer interface {
	// Generate 瓦片加载完成后调用
	Generate(t *tiling.Tile)
	Render(tiles []*tiling.Tile)
}

// OffsetRenderer 需要深度偏移的叠加层
type OffsetRenderer interface {
	NeedsOffset() bool
}

// TileCleaner 叠加层移除时逐瓦片清理
type TileCleaner interface {
	Cleanup(t *tiling.Tile)
}

// ZIndexer 叠加层绘制顺序
type ZIndexer interface {
	ZIndex() int
}

// Publisher 事件发布
type Publisher interface {
	Publish(event string, data any)
}

const (
	EventBaseLayersReady     = "baseLayersReady"
	EventBaseLayersError     = "baseLayersError"
	EventStartBackgroundLoad = "startBackgroundLoad"
	EventEndBackgroundLoad   = "endBackgroundLoad"
)

func zIndex(p PostRenderer) int {
	if z, ok := p.(ZIndexer); ok {
		return z.ZIndex()
	}
	return 0
}

func needsOffset(p PostRenderer) bool {
	if o, ok := p.(OffsetRenderer); ok {
		return o.NeedsOffset()
	}
	return false
}
