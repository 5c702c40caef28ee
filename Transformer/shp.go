package Transformer

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gitee.com/LJ_COOL/go-shp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

var numericRegex = regexp.MustCompile(`^-?\d+(\.\d+)?$`)

// trimTrailingZeros DBF 数值字段去掉小数末尾的 0，最多保留 5 位小数
func trimTrailingZeros(input string) string {
	input = strings.TrimSpace(input)
	if !numericRegex.MatchString(input) || !strings.Contains(input, ".") {
		return input
	}
	intPart, fracPart, _ := strings.Cut(input, ".")
	fracPart = strings.TrimRight(fracPart, "0")
	if len(fracPart) == 0 {
		return intPart
	}
	if len(fracPart) > 5 {
		fracPart = fracPart[:5]
	}
	return intPart + "." + fracPart
}

// splitPoints 按 parts 起始下标切分环
func splitPoints(points []shp.Point, parts []int32) [][]orb.Point {
	rings := make([][]orb.Point, 0, len(parts))
	for i, start := range parts {
		end := int32(len(points))
		if i < len(parts)-1 {
			end = parts[i+1]
		}
		ring := make([]orb.Point, 0, end-start)
		for _, p := range points[start:end] {
			ring = append(ring, orb.Point{p.X, p.Y})
		}
		rings = append(rings, ring)
	}
	return rings
}

// groupRings Shapefile 外环为顺时针，每个外环之后的逆时针环是它的洞
func groupRings(rings [][]orb.Point) orb.MultiPolygon {
	var mp orb.MultiPolygon
	for _, r := range rings {
		ring := orb.Ring(r)
		if ring.Orientation() == orb.CW || len(mp) == 0 {
			mp = append(mp, orb.Polygon{ring})
			continue
		}
		mp[len(mp)-1] = append(mp[len(mp)-1], ring)
	}
	return mp
}

func lineParts(points []shp.Point, parts []int32) orb.Geometry {
	rings := splitPoints(points, parts)
	if len(rings) == 1 {
		return orb.LineString(rings[0])
	}
	mls := make(orb.MultiLineString, 0, len(rings))
	for _, r := range rings {
		mls = append(mls, orb.LineString(r))
	}
	return mls
}

func shapeGeometry(s shp.Shape) orb.Geometry {
	switch s := s.(type) {
	case *shp.Point:
		return orb.Point{s.X, s.Y}
	case *shp.PointZ:
		return orb.Point{s.X, s.Y}
	case *shp.PointM:
		return orb.Point{s.X, s.Y}
	case *shp.MultiPoint:
		return multiPoint(s.Points)
	case *shp.MultiPointZ:
		return multiPoint(s.Points)
	case *shp.PolyLine:
		return lineParts(s.Points, s.Parts)
	case *shp.PolyLineZ:
		return lineParts(s.Points, s.Parts)
	case *shp.PolyLineM:
		return lineParts(s.Points, s.Parts)
	case *shp.Polygon:
		return groupRings(splitPoints(s.Points, s.Parts))
	case *shp.PolygonZ:
		return groupRings(splitPoints(s.Points, s.Parts))
	case *shp.PolygonM:
		return groupRings(splitPoints(s.Points, s.Parts))
	}
	return nil
}

func multiPoint(points []shp.Point) orb.MultiPoint {
	mp := make(orb.MultiPoint, 0, len(points))
	for _, p := range points {
		mp = append(mp, orb.Point{p.X, p.Y})
	}
	return mp
}

// shpCharset 优先读取 .cpg，没有时检测 DBF 内容，默认 GBK
func shpCharset(shpPath string) string {
	base := strings.TrimSuffix(shpPath, filepath.Ext(shpPath))
	if cpg, err := os.ReadFile(base + ".cpg"); err == nil {
		return strings.TrimSpace(string(cpg))
	}
	if dbf, err := os.ReadFile(base + ".dbf"); err == nil && len(dbf) > 0 {
		charset := DetectCharset(dbf)
		if strings.HasPrefix(strings.ToUpper(charset), "UTF-8") {
			return "UTF-8"
		}
	}
	return "GBK"
}

// ReadShapefile 读取 Shapefile，属性按 .cpg 声明的编码解码
func ReadShapefile(path string) (*geojson.FeatureCollection, error) {
	shape, err := shp.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open shapefile: %w", err)
	}
	defer shape.Close()

	decode := decoder(shpCharset(path))
	fields := shape.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = decode(strings.TrimRight(f.String(), "\x00"))
	}

	fc := geojson.NewFeatureCollection()
	for shape.Next() {
		n, s := shape.Shape()
		g := shapeGeometry(s)
		if g == nil {
			continue
		}
		f := geojson.NewFeature(g)
		for k := range fields {
			f.Properties[names[k]] = trimTrailingZeros(decode(shape.ReadAttribute(n, k)))
		}
		fc.Append(f)
	}
	return fc, nil
}
