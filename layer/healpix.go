package layer

import (
	"fmt"
	"strconv"

	"github.com/GrainArc/SouceGlobe/tiling"
)

// HEALPixLayer HiPS 巡天图层，瓦片路径为 Norder{k}/Dir{d}/Npix{n}.{ext}
type HEALPixLayer struct {
	Base
	baseURL        string
	format         string
	scheme         *tiling.HEALPixTiling
	tilePixelSize  int
	numberOfLevels int
}

// NewHEALPixLayer 创建 HiPS 图层
func NewHEALPixLayer(opts Options) (*HEALPixLayer, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("healpix layer: %w", ErrMissingURL)
	}
	base, err := newBase(opts)
	if err != nil {
		return nil, err
	}
	format := opts.Format
	if format == "" {
		format = "jpg"
	}
	return &HEALPixLayer{
		Base:           base,
		baseURL:        opts.BaseURL,
		format:         format,
		scheme:         tiling.NewHEALPixTiling(orDefault(opts.BaseLevel, 2)),
		tilePixelSize:  orDefault(opts.TilePixelSize, 512),
		numberOfLevels: orDefault(opts.NumberOfLevels, 10),
	}, nil
}

func (l *HEALPixLayer) Type() string          { return TypeHEALPix }
func (l *HEALPixLayer) Tiling() tiling.Scheme { return l.scheme }
func (l *HEALPixLayer) NumberOfLevels() int   { return l.numberOfLevels }
func (l *HEALPixLayer) TilePixelSize() int    { return l.tilePixelSize }

// GetURL 瓦片地址
func (l *HEALPixLayer) GetURL(t *tiling.Tile) string {
	return l.PixelURL(t.Zoom, t.Pixel)
}

// PixelURL 每个目录存放一万个像素
func (l *HEALPixLayer) PixelURL(order int, pix int64) string {
	dir := (pix / 10000) * 10000
	return l.baseURL +
		"/Norder" + strconv.Itoa(order) +
		"/Dir" + strconv.FormatInt(dir, 10) +
		"/Npix" + strconv.FormatInt(pix, 10) +
		"." + l.format
}

// Format 图像格式扩展名
func (l *HEALPixLayer) Format() string { return l.format }
