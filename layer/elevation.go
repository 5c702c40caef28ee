package layer

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/GrainArc/SouceGlobe/tile_proxy"
)

// aaigridHeaderLines ncols nrows xllcorner yllcorner cellsize
const aaigridHeaderLines = 5

// WMSElevationLayer 以 ESRI ASCII Grid 格式请求高程的 WMS 图层
type WMSElevationLayer struct {
	*WMSLayer
}

// NewWMSElevationLayer 创建高程图层，默认每边 33 个采样
func NewWMSElevationLayer(opts Options) (*WMSElevationLayer, error) {
	opts.Format = "image/x-aaigrid"
	opts.TilePixelSize = orDefault(opts.TilePixelSize, 33)
	wms, err := NewWMSLayer(opts)
	if err != nil {
		return nil, err
	}
	return &WMSElevationLayer{WMSLayer: wms}, nil
}

func (l *WMSElevationLayer) Type() string { return TypeWMSElevation }

// ParseElevations 解析 aaigrid 响应。前 5 行为头，
// 其后的 NODATA_value 行也会跳过，对应的采样记为 0。
func (l *WMSElevationLayer) ParseElevations(raw []byte) ([]float32, error) {
	return parseAAIGrid(raw)
}

func parseAAIGrid(raw []byte) ([]float32, error) {
	elevations := make([]float32, 0, 33*33)

	var (
		nodata    string
		hasNodata bool
		line      int
	)
	sc := bufio.NewScanner(bytes.NewReader(raw))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if line <= aaigridHeaderLines || len(fields) == 0 {
			continue
		}
		if strings.EqualFold(fields[0], "nodata_value") && len(fields) == 2 {
			nodata, hasNodata = fields[1], true
			continue
		}
		for _, f := range fields {
			if hasNodata && f == nodata {
				elevations = append(elevations, 0)
				continue
			}
			v, err := strconv.ParseFloat(f, 32)
			if err != nil {
				return nil, fmt.Errorf("aaigrid line %d: %w", line, tile_proxy.ErrInvalidTileData)
			}
			elevations = append(elevations, float32(v))
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read aaigrid: %w", err)
	}
	if line < aaigridHeaderLines {
		return nil, fmt.Errorf("aaigrid header truncated: %w", tile_proxy.ErrInvalidTileData)
	}
	return elevations, nil
}
