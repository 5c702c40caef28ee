// Package overlay 在底图瓦片之上绘制栅格叠加层与矢量要素
package overlay

import (
	"log/slog"

	"github.com/GrainArc/SouceGlobe/gpu"
	"github.com/GrainArc/SouceGlobe/render"
	"github.com/GrainArc/SouceGlobe/tile_proxy"
	"github.com/GrainArc/SouceGlobe/tiling"
)

const (
	EventStartLoad = "startLoad"
	EventEndLoad   = "endLoad"
)

// Host 叠加层依赖的瓦片管理器能力
type Host interface {
	Context() *render.Context
	Device() gpu.Device
	Pool() *gpu.Pool
	Config() *tiling.Config
	Scheme() tiling.Scheme
	Fetcher() tile_proxy.Fetcher
	// FrameNumber 瓦片管理器的帧号，叠加层请求的过期判断以它为准
	FrameNumber() int
	IndexBuffer(t *tiling.Tile) (gpu.Buffer, int)
	TexCoordBuffer() gpu.Buffer
	LevelZeroTiles() []*tiling.Tile
	VisitTiles(fn func(t *tiling.Tile))
}

// Publisher 事件发布
type Publisher interface {
	Publish(event string, data any)
}

var logger = slog.Default()

// SetLogger 替换包日志
func SetLogger(l *slog.Logger) {
	if l != nil {
		logger = l
	}
}
