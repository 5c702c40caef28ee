package Transformer

import (
	"fmt"
	"io"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rpaloschi/dxf-go/document"
	"github.com/rpaloschi/dxf-go/entities"
)

const tolerance = 1e-6

func pointsEqual(p1, p2 orb.Point) bool {
	return math.Abs(p1[0]-p2[0]) < tolerance && math.Abs(p1[1]-p2[1]) < tolerance
}

// lineFeature 闭合或首尾重合的折线转为面
func lineFeature(coords []orb.Point, layerName string, closed bool) *geojson.Feature {
	if len(coords) < 2 {
		return nil
	}
	var g orb.Geometry = orb.LineString(coords)
	if closed || pointsEqual(coords[0], coords[len(coords)-1]) {
		ring := orb.Ring(append([]orb.Point(nil), coords...))
		if !pointsEqual(ring[0], ring[len(ring)-1]) {
			ring = append(ring, ring[0])
		}
		if len(ring) >= 4 {
			g = orb.Polygon{ring}
		}
	}
	f := geojson.NewFeature(g)
	f.Properties["layername"] = GbkToUtf8(layerName)
	return f
}

func entityFeature(e entities.Entity) *geojson.Feature {
	switch e := e.(type) {
	case *entities.Polyline:
		coords := make([]orb.Point, 0, len(e.Vertices))
		for _, v := range e.Vertices {
			coords = append(coords, orb.Point{v.Location.X, v.Location.Y})
		}
		return lineFeature(coords, e.LayerName, false)
	case *entities.LWPolyline:
		coords := make([]orb.Point, 0, len(e.Points))
		for _, v := range e.Points {
			coords = append(coords, orb.Point{v.Point.X, v.Point.Y})
		}
		return lineFeature(coords, e.LayerName, e.Closed)
	}
	return nil
}

// ReadDXF 读取 DXF 中的多段线，包括块定义中的多段线
func ReadDXF(r io.Reader) (*geojson.FeatureCollection, error) {
	doc, err := document.DxfDocumentFromStream(r)
	if err != nil {
		return nil, fmt.Errorf("decode dxf: %w", err)
	}
	fc := geojson.NewFeatureCollection()
	for _, e := range doc.Entities.Entities {
		if f := entityFeature(e); f != nil {
			fc.Append(f)
		}
	}
	for _, block := range doc.Blocks {
		for _, e := range block.Entities {
			if f := entityFeature(e); f != nil {
				fc.Append(f)
			}
		}
	}
	return fc, nil
}
