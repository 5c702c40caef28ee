package layer

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/GrainArc/SouceGlobe/tiling"
)

// WMTSLayer 经纬度切片的 WMTS GetTile 图层，零级 4x2 瓦片对应 startLevel 级矩阵
type WMTSLayer struct {
	Base
	getTileURL     string
	scheme         *tiling.GeoTiling
	startLevel     int
	tilePixelSize  int
	numberOfLevels int
	levelZeroImage string
}

// NewWMTSLayer 创建 WMTS 图层
func NewWMTSLayer(opts Options) (*WMTSLayer, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("wmts layer: %w", ErrMissingURL)
	}
	base, err := newBase(opts)
	if err != nil {
		return nil, err
	}
	l := &WMTSLayer{
		Base:           base,
		scheme:         tiling.NewGeoTiling(4, 2),
		startLevel:     opts.StartLevel,
		tilePixelSize:  orDefault(opts.TilePixelSize, 256),
		numberOfLevels: orDefault(opts.NumberOfLevels, 21),
		levelZeroImage: opts.LevelZeroImage,
		getTileURL:     buildGetTileURL(opts),
	}
	if l.startLevel <= 0 {
		l.startLevel = 1
	}
	return l, nil
}

func buildGetTileURL(opts Options) string {
	var sb strings.Builder
	sb.WriteString(opts.BaseURL)
	if strings.Contains(opts.BaseURL, "?") {
		sb.WriteString("&service=wmts")
	} else {
		sb.WriteString("?service=wmts")
	}
	version := opts.Version
	if version == "" {
		version = "1.0.0"
	}
	name := opts.Layer
	if name == "" {
		name = opts.Layers
	}
	format := opts.Format
	if format == "" {
		format = "image/png"
	}
	sb.WriteString("&version=" + version)
	sb.WriteString("&request=GetTile")
	sb.WriteString("&layer=" + name)
	sb.WriteString("&tilematrixset=" + opts.MatrixSet)
	if opts.Styles != "" {
		sb.WriteString("&style=" + opts.Styles)
	}
	sb.WriteString("&format=" + format)
	return sb.String()
}

func (l *WMTSLayer) Type() string              { return TypeWMTS }
func (l *WMTSLayer) Tiling() tiling.Scheme     { return l.scheme }
func (l *WMTSLayer) NumberOfLevels() int       { return l.numberOfLevels }
func (l *WMTSLayer) TilePixelSize() int        { return l.tilePixelSize }
func (l *WMTSLayer) LevelZeroImageURL() string { return l.levelZeroImage }

// GetURL 瓦片级别加上 startLevel 作为矩阵号
func (l *WMTSLayer) GetURL(t *tiling.Tile) string {
	return l.TileURL(t.Level+l.startLevel, t.X, t.Y)
}

// TileURL 指定矩阵、列、行的 GetTile 地址
func (l *WMTSLayer) TileURL(matrix, col, row int) string {
	return l.getTileURL + "&tilematrix=" + strconv.Itoa(matrix) +
		"&tilecol=" + strconv.Itoa(col) + "&tilerow=" + strconv.Itoa(row)
}
