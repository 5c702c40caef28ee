package layer

import (
	"fmt"
	"strings"

	"github.com/GrainArc/SouceGlobe/tile_proxy"
	"github.com/GrainArc/SouceGlobe/tiling"
)

// XYZLayer 墨卡托切片的 XYZ 瓦片服务
type XYZLayer struct {
	Base
	template       string
	subdomains     []string
	scheme         *tiling.MercatorTiling
	tilePixelSize  int
	numberOfLevels int
	levelZeroImage string
}

// NewXYZLayer 创建 XYZ 图层，BaseURL 为带 {z} {x} {y} {-y} {s} 占位符的模板
func NewXYZLayer(opts Options) (*XYZLayer, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("xyz layer: %w", ErrMissingURL)
	}
	base, err := newBase(opts)
	if err != nil {
		return nil, err
	}
	return &XYZLayer{
		Base:           base,
		template:       opts.BaseURL,
		subdomains:     opts.Subdomains,
		scheme:         tiling.NewMercatorTiling(orDefault(opts.BaseLevel, 2)),
		tilePixelSize:  orDefault(opts.TilePixelSize, 256),
		numberOfLevels: orDefault(opts.NumberOfLevels, 21),
		levelZeroImage: opts.LevelZeroImage,
	}, nil
}

// NewOSMLayer 创建 OpenStreetMap 图层，BaseURL 不含占位符时按 {z}/{x}/{y}.png 拼接
func NewOSMLayer(opts Options) (*XYZLayer, error) {
	if opts.BaseURL != "" && !strings.Contains(opts.BaseURL, "{z}") {
		opts.BaseURL = strings.TrimRight(opts.BaseURL, "/") + "/{z}/{x}/{y}.png"
	}
	return NewXYZLayer(opts)
}

func (l *XYZLayer) Type() string              { return TypeXYZ }
func (l *XYZLayer) Tiling() tiling.Scheme     { return l.scheme }
func (l *XYZLayer) NumberOfLevels() int       { return l.numberOfLevels }
func (l *XYZLayer) TilePixelSize() int        { return l.tilePixelSize }
func (l *XYZLayer) LevelZeroImageURL() string { return l.levelZeroImage }

// GetURL 瓦片地址
func (l *XYZLayer) GetURL(t *tiling.Tile) string {
	return l.TileURL(t.Zoom, t.X, t.Y)
}

// TileURL XYZ 坐标对应的地址
func (l *XYZLayer) TileURL(z, x, y int) string {
	return tile_proxy.BuildTileURL(l.template, z, x, y, l.subdomains)
}
