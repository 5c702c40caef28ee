package layer

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/GrainArc/SouceGlobe/tiling"
	"github.com/paulmach/orb"
)

// WMSLayer 经纬度切片的 WMS GetMap 图层
type WMSLayer struct {
	Base
	getMapURL      string
	srs            string
	scheme         *tiling.GeoTiling
	tilePixelSize  int
	numberOfLevels int
	levelZeroImage string
}

// NewWMSLayer 创建 WMS 图层
func NewWMSLayer(opts Options) (*WMSLayer, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("wms layer: %w", ErrMissingURL)
	}
	base, err := newBase(opts)
	if err != nil {
		return nil, err
	}
	l := &WMSLayer{
		Base:           base,
		srs:            opts.SRS,
		scheme:         tiling.NewGeoTiling(4, 2),
		tilePixelSize:  orDefault(opts.TilePixelSize, 256),
		numberOfLevels: orDefault(opts.NumberOfLevels, 21),
		levelZeroImage: opts.LevelZeroImage,
	}
	if l.srs == "" {
		l.srs = "EPSG:4326"
	}
	l.getMapURL = buildGetMapURL(opts, l.tilePixelSize)
	return l, nil
}

// buildGetMapURL 除 srs 与 bbox 外的 GetMap 请求地址
func buildGetMapURL(opts Options, size int) string {
	var sb strings.Builder
	sb.WriteString(opts.BaseURL)
	if strings.Contains(opts.BaseURL, "?") {
		sb.WriteString("&service=wms")
	} else {
		sb.WriteString("?service=wms")
	}

	version := opts.Version
	if version == "" {
		version = "1.1.1"
	}
	format := opts.Format
	if format == "" {
		format = "image/jpeg"
	}
	sb.WriteString("&version=" + version)
	sb.WriteString("&request=GetMap")
	sb.WriteString("&layers=" + opts.Layers)
	sb.WriteString("&styles=" + opts.Styles)
	sb.WriteString("&format=" + format)
	if opts.Transparent != nil {
		sb.WriteString("&transparent=" + strconv.FormatBool(*opts.Transparent))
	}
	sb.WriteString("&width=" + strconv.Itoa(size))
	sb.WriteString("&height=" + strconv.Itoa(size))
	if opts.Time != "" {
		sb.WriteString("&time=" + opts.Time)
	}
	return sb.String()
}

func (l *WMSLayer) Type() string              { return TypeWMS }
func (l *WMSLayer) Tiling() tiling.Scheme     { return l.scheme }
func (l *WMSLayer) NumberOfLevels() int       { return l.numberOfLevels }
func (l *WMSLayer) TilePixelSize() int        { return l.tilePixelSize }
func (l *WMSLayer) LevelZeroImageURL() string { return l.levelZeroImage }

// GetURL 以瓦片地理范围作为 bbox
func (l *WMSLayer) GetURL(t *tiling.Tile) string {
	return l.BoundURL(t.GeoBound)
}

// BoundURL 指定经纬度范围的 GetMap 地址
func (l *WMSLayer) BoundURL(b orb.Bound) string {
	return l.getMapURL + "&srs=" + l.srs + "&bbox=" +
		formatCoord(b.Min[0]) + "," + formatCoord(b.Min[1]) + "," +
		formatCoord(b.Max[0]) + "," + formatCoord(b.Max[1])
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
