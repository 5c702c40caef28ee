package Transformer

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

type kmlDocument struct {
	Name      string         `xml:"name"`
	Folders   []kmlFolder    `xml:"Folder"`
	Placemark []kmlPlacemark `xml:"Placemark"`
}

type kmlFolder struct {
	Name      string         `xml:"name"`
	Folders   []kmlFolder    `xml:"Folder"`
	Placemark []kmlPlacemark `xml:"Placemark"`
}

type kmlPlacemark struct {
	ID            string            `xml:"id,attr"`
	Name          string            `xml:"name"`
	Description   string            `xml:"description"`
	ExtendedData  kmlExtendedData   `xml:"ExtendedData"`
	Point         *kmlCoordinates   `xml:"Point"`
	LineString    *kmlCoordinates   `xml:"LineString"`
	Polygon       *kmlPolygon       `xml:"Polygon"`
	MultiGeometry *kmlMultiGeometry `xml:"MultiGeometry"`
}

type kmlExtendedData struct {
	Data       []kmlData `xml:"Data"`
	SchemaData struct {
		SimpleData []kmlSimpleData `xml:"SimpleData"`
	} `xml:"SchemaData"`
}

type kmlData struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value"`
}

type kmlSimpleData struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

type kmlCoordinates struct {
	Coordinates string `xml:"coordinates"`
}

type kmlPolygon struct {
	OuterBoundaryIs struct {
		LinearRing kmlCoordinates `xml:"LinearRing"`
	} `xml:"outerBoundaryIs"`
	InnerBoundaryIs []struct {
		LinearRing kmlCoordinates `xml:"LinearRing"`
	} `xml:"innerBoundaryIs"`
}

type kmlMultiGeometry struct {
	Points     []kmlCoordinates   `xml:"Point"`
	LineString []kmlCoordinates   `xml:"LineString"`
	Polygons   []kmlPolygon       `xml:"Polygon"`
	Multi      []kmlMultiGeometry `xml:"MultiGeometry"`
}

type kml struct {
	XMLName  xml.Name    `xml:"kml"`
	Document kmlDocument `xml:"Document"`
	Folders  []kmlFolder `xml:"Folder"`
	// 没有 Document 时 Placemark 直接位于根节点
	Placemark []kmlPlacemark `xml:"Placemark"`
}

// parseCoords 解析 "x,y[,z] x,y[,z] ..."
func parseCoords(s string) ([]orb.Point, error) {
	var coords []orb.Point
	for _, tuple := range strings.Fields(s) {
		parts := strings.Split(tuple, ",")
		if len(parts) < 2 {
			return nil, fmt.Errorf("invalid kml coordinate %q", tuple)
		}
		x, err := strconv.ParseFloat(parts[0], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid kml coordinate %q: %w", tuple, err)
		}
		y, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid kml coordinate %q: %w", tuple, err)
		}
		coords = append(coords, orb.Point{x, y})
	}
	return coords, nil
}

func (p kmlPolygon) geometry() (orb.Polygon, error) {
	outer, err := parseCoords(p.OuterBoundaryIs.LinearRing.Coordinates)
	if err != nil {
		return nil, err
	}
	poly := orb.Polygon{orb.Ring(outer)}
	for _, inner := range p.InnerBoundaryIs {
		ring, err := parseCoords(inner.LinearRing.Coordinates)
		if err != nil {
			return nil, err
		}
		poly = append(poly, orb.Ring(ring))
	}
	return poly, nil
}

func (m kmlMultiGeometry) geometry() (orb.Collection, error) {
	var out orb.Collection
	for _, p := range m.Points {
		coords, err := parseCoords(p.Coordinates)
		if err != nil {
			return nil, err
		}
		if len(coords) > 0 {
			out = append(out, coords[0])
		}
	}
	for _, l := range m.LineString {
		coords, err := parseCoords(l.Coordinates)
		if err != nil {
			return nil, err
		}
		out = append(out, orb.LineString(coords))
	}
	for _, p := range m.Polygons {
		poly, err := p.geometry()
		if err != nil {
			return nil, err
		}
		out = append(out, poly)
	}
	for _, sub := range m.Multi {
		g, err := sub.geometry()
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}

func (pm kmlPlacemark) geometry() (orb.Geometry, error) {
	switch {
	case pm.Point != nil:
		coords, err := parseCoords(pm.Point.Coordinates)
		if err != nil || len(coords) == 0 {
			return nil, err
		}
		return coords[0], nil
	case pm.LineString != nil:
		coords, err := parseCoords(pm.LineString.Coordinates)
		if err != nil {
			return nil, err
		}
		return orb.LineString(coords), nil
	case pm.Polygon != nil:
		return pm.Polygon.geometry()
	case pm.MultiGeometry != nil:
		return pm.MultiGeometry.geometry()
	}
	return nil, nil
}

func (pm kmlPlacemark) properties() geojson.Properties {
	props := geojson.Properties{}
	for _, d := range pm.ExtendedData.SchemaData.SimpleData {
		props[d.Name] = strings.TrimSpace(d.Value)
	}
	for _, d := range pm.ExtendedData.Data {
		props[d.Name] = strings.TrimSpace(d.Value)
	}
	if pm.Name != "" {
		props["kml_name"] = pm.Name
	}
	if pm.Description != "" {
		props["description"] = strings.TrimSpace(pm.Description)
	}
	return props
}

func appendPlacemarks(fc *geojson.FeatureCollection, pms []kmlPlacemark, folder string) error {
	for _, pm := range pms {
		g, err := pm.geometry()
		if err != nil {
			return fmt.Errorf("placemark %q: %w", pm.Name, err)
		}
		if g == nil {
			continue
		}
		f := geojson.NewFeature(g)
		f.Properties = pm.properties()
		if folder != "" {
			f.Properties["folder"] = folder
		}
		if pm.ID != "" {
			f.ID = pm.ID
		}
		fc.Append(f)
	}
	return nil
}

func appendFolders(fc *geojson.FeatureCollection, folders []kmlFolder) error {
	for _, folder := range folders {
		if err := appendPlacemarks(fc, folder.Placemark, folder.Name); err != nil {
			return err
		}
		if err := appendFolders(fc, folder.Folders); err != nil {
			return err
		}
	}
	return nil
}

// ReadKML 读取 KML，文件夹名称写入 folder 属性
func ReadKML(r io.Reader) (*geojson.FeatureCollection, error) {
	var doc kml
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charsetReader
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode kml: %w", err)
	}
	fc := geojson.NewFeatureCollection()
	if err := appendPlacemarks(fc, doc.Placemark, ""); err != nil {
		return nil, err
	}
	if err := appendPlacemarks(fc, doc.Document.Placemark, ""); err != nil {
		return nil, err
	}
	if err := appendFolders(fc, doc.Folders); err != nil {
		return nil, err
	}
	if err := appendFolders(fc, doc.Document.Folders); err != nil {
		return nil, err
	}
	return fc, nil
}

// charsetReader 支持声明为 GBK 系列编码的 XML
func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	if isGBK(charset) {
		return gbkReader(input), nil
	}
	if strings.EqualFold(charset, "utf-8") || strings.EqualFold(charset, "utf8") {
		return input, nil
	}
	return nil, fmt.Errorf("unsupported xml charset %q", charset)
}
