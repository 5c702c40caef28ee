package layer

import (
	"fmt"

	"github.com/GrainArc/SouceGlobe/Transformer"
	"github.com/GrainArc/SouceGlobe/overlay"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// VectorLayer GeoJSON 矢量图层
type VectorLayer struct {
	Base
	style    overlay.Style
	features []*geojson.Feature
	onChange func(*VectorLayer)
}

// NewVectorLayer 创建矢量图层，要素来自 Data 中的 FeatureCollection 与 Path 指向的文件
func NewVectorLayer(opts Options) (*VectorLayer, error) {
	base, err := newBase(opts)
	if err != nil {
		return nil, err
	}
	l := &VectorLayer{Base: base, style: styleFromOptions(opts.Style)}
	if len(opts.Data) > 0 {
		fc, err := geojson.UnmarshalFeatureCollection(opts.Data)
		if err != nil {
			return nil, fmt.Errorf("parse vector data: %w", err)
		}
		l.addFeatures(fc.Features)
	}
	if opts.Path != "" {
		fc, _, err := Transformer.Load(opts.Path, opts.CentralMeridian)
		if err != nil {
			return nil, fmt.Errorf("load vector file: %w", err)
		}
		l.addFeatures(fc.Features)
	}
	return l, nil
}

func styleFromOptions(o *StyleOptions) overlay.Style {
	s := overlay.DefaultStyle()
	if o == nil {
		return s
	}
	if len(o.StrokeColor) == 4 {
		copy(s.StrokeColor[:], o.StrokeColor)
	}
	if len(o.FillColor) == 4 {
		copy(s.FillColor[:], o.FillColor)
	}
	s.Fill = o.Fill
	if o.PointSize > 0 {
		s.PointSize = o.PointSize
	}
	return s
}

func (l *VectorLayer) Type() string         { return TypeVector }
func (l *VectorLayer) Style() overlay.Style { return l.style }

// SetStyle 修改样式
func (l *VectorLayer) SetStyle(s overlay.Style) {
	l.style = s
	l.changed()
}

// OnChange 要素变化时回调，挂载到 Globe 后由 Globe 设置
func (l *VectorLayer) OnChange(fn func(*VectorLayer)) {
	l.onChange = fn
}

func (l *VectorLayer) changed() {
	if l.onChange != nil {
		l.onChange(l)
	}
}

// Features 所有要素几何，几何集合展开为单个几何
func (l *VectorLayer) Features() []orb.Geometry {
	out := make([]orb.Geometry, 0, len(l.features))
	for _, f := range l.features {
		if c, ok := f.Geometry.(orb.Collection); ok {
			out = append(out, c...)
			continue
		}
		out = append(out, f.Geometry)
	}
	return out
}

// GeoJSON 当前要素集合
func (l *VectorLayer) GeoJSON() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	fc.Features = append(fc.Features, l.features...)
	return fc
}

func (l *VectorLayer) addFeatures(fs []*geojson.Feature) int {
	n := 0
	for _, f := range fs {
		// 没有几何的要素忽略
		if f == nil || f.Geometry == nil {
			continue
		}
		l.features = append(l.features, f)
		n++
	}
	return n
}

// AddFeature 添加要素，无几何时忽略
func (l *VectorLayer) AddFeature(f *geojson.Feature) {
	if l.addFeatures([]*geojson.Feature{f}) > 0 {
		l.changed()
	}
}

// AddFeatureCollection 添加要素集合
func (l *VectorLayer) AddFeatureCollection(fc *geojson.FeatureCollection) {
	if fc != nil && l.addFeatures(fc.Features) > 0 {
		l.changed()
	}
}

// RemoveFeature 按指针移除要素
func (l *VectorLayer) RemoveFeature(f *geojson.Feature) bool {
	for i, g := range l.features {
		if g == f {
			l.features = append(l.features[:i], l.features[i+1:]...)
			l.changed()
			return true
		}
	}
	return false
}

// RemoveFeatureCollection 移除集合中的要素
func (l *VectorLayer) RemoveFeatureCollection(fc *geojson.FeatureCollection) {
	if fc == nil {
		return
	}
	removed := false
	for _, f := range fc.Features {
		for i, g := range l.features {
			if g == f {
				l.features = append(l.features[:i], l.features[i+1:]...)
				removed = true
				break
			}
		}
	}
	if removed {
		l.changed()
	}
}

// Clear 移除所有要素
func (l *VectorLayer) Clear() {
	if len(l.features) == 0 {
		return
	}
	l.features = nil
	l.changed()
}
