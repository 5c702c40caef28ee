// Package layer 提供底图、高程、栅格叠加与矢量图层
package layer

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// 图层类型
const (
	TypeXYZ          = "xyz"
	TypeOSM          = "osm"
	TypeWMS          = "wms"
	TypeWMTS         = "wmts"
	TypeWMSElevation = "wms-elevation"
	TypeHEALPix      = "healpix"
	TypeVector       = "vector"
)

var (
	// ErrUnknownType 不支持的图层类型
	ErrUnknownType = errors.New("unknown layer type")
	// ErrMissingURL 缺少服务地址
	ErrMissingURL = errors.New("missing base url")
)

// Layer 所有图层的公共接口
type Layer interface {
	ID() string
	Name() string
	Type() string
	Visible() bool
	SetVisible(v bool)
	Opacity() float64
	SetOpacity(v float64)
}

// StyleOptions 矢量样式，颜色为 RGBA 0~1
type StyleOptions struct {
	StrokeColor []float32 `json:"strokeColor"`
	FillColor   []float32 `json:"fillColor"`
	Fill        bool      `json:"fill"`
	PointSize   float32   `json:"pointSize,omitempty"`
}

// Options 图层配置，与数据库中保存的 JSON 一致
type Options struct {
	Type        string `json:"type"`
	ID          string `json:"id"`
	Name        string `json:"name"`
	Attribution string `json:"attribution"`

	BaseURL    string   `json:"baseUrl"`
	Subdomains []string `json:"subdomains"`

	// WMS 参数
	Layers      string `json:"layers"`
	Styles      string `json:"styles"`
	Format      string `json:"format"`
	Version     string `json:"version"`
	SRS         string `json:"srs"`
	Time        string `json:"time"`
	Transparent *bool  `json:"transparent"`

	// WMTS 参数，样式取 Styles
	Layer      string `json:"layer"`
	MatrixSet  string `json:"matrixSet"`
	StartLevel int    `json:"startLevel"`

	TilePixelSize  int    `json:"tilePixelSize"`
	NumberOfLevels int    `json:"numberOfLevels"`
	BaseLevel      int    `json:"baseLevel"`
	LevelZeroImage string `json:"levelZeroImage"`

	Opacity *float64 `json:"opacity"`
	Visible *bool    `json:"visible"`
	ZIndex  int      `json:"zIndex"`

	// Coverage GeoJSON 几何，叠加层的数据范围
	Coverage json.RawMessage `json:"coverage,omitempty"`

	Style *StyleOptions `json:"style,omitempty"`
	// Data 矢量图层的 GeoJSON FeatureCollection
	Data json.RawMessage `json:"data,omitempty"`
	// Path 矢量文件路径：shp kml dxf dat geojson 或压缩包
	Path string `json:"path,omitempty"`
	// CentralMeridian 不带带号的投影坐标所用的中央经线
	CentralMeridian float64 `json:"centralMeridian,omitempty"`
}

// Base 图层公共属性
type Base struct {
	id          string
	name        string
	attribution string
	visible     bool
	opacity     float64
	zIndex      int
	coverage    orb.Geometry
}

func newBase(opts Options) (Base, error) {
	b := Base{
		id:          opts.ID,
		name:        opts.Name,
		attribution: opts.Attribution,
		visible:     true,
		opacity:     1,
		zIndex:      opts.ZIndex,
	}
	if b.id == "" {
		b.id = uuid.New().String()
	}
	if opts.Visible != nil {
		b.visible = *opts.Visible
	}
	if opts.Opacity != nil {
		b.opacity = clampOpacity(*opts.Opacity)
	}
	if len(opts.Coverage) > 0 {
		g, err := geojson.UnmarshalGeometry(opts.Coverage)
		if err != nil {
			return b, fmt.Errorf("parse coverage: %w", err)
		}
		b.coverage = g.Geometry()
	}
	return b, nil
}

func clampOpacity(v float64) float64 {
	return min(max(v, 0), 1)
}

func (b *Base) ID() string          { return b.id }
func (b *Base) Name() string        { return b.name }
func (b *Base) Attribution() string { return b.attribution }
func (b *Base) Visible() bool       { return b.visible }
func (b *Base) SetVisible(v bool)   { b.visible = v }
func (b *Base) Opacity() float64    { return b.opacity }
func (b *Base) ZIndex() int         { return b.zIndex }

// SetOpacity 设置透明度，取值截断到[0,1]
func (b *Base) SetOpacity(v float64) { b.opacity = clampOpacity(v) }

// Coverage 数据范围，nil 表示全球
func (b *Base) Coverage() orb.Geometry { return b.coverage }

// New 按配置创建图层
func New(opts Options) (Layer, error) {
	switch opts.Type {
	case TypeXYZ:
		return NewXYZLayer(opts)
	case TypeOSM:
		return NewOSMLayer(opts)
	case TypeWMS:
		return NewWMSLayer(opts)
	case TypeWMTS:
		return NewWMTSLayer(opts)
	case TypeWMSElevation:
		return NewWMSElevationLayer(opts)
	case TypeHEALPix:
		return NewHEALPixLayer(opts)
	case TypeVector:
		return NewVectorLayer(opts)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, opts.Type)
}

// Decode 从 JSON 配置创建图层
func Decode(raw []byte) (Layer, error) {
	var opts Options
	if err := json.Unmarshal(raw, &opts); err != nil {
		return nil, fmt.Errorf("decode layer options: %w", err)
	}
	return New(opts)
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
