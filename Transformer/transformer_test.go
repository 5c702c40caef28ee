package Transformer

import (
	"archive/zip"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

const sampleKML = `<?xml version="1.0" encoding="UTF-8"?>
<kml xmlns="http://www.opengis.net/kml/2.2">
<Document>
  <name>测试</name>
  <Placemark>
    <name>站点</name>
    <ExtendedData><Data name="level"><value>3</value></Data></ExtendedData>
    <Point><coordinates>116.39,39.9,0</coordinates></Point>
  </Placemark>
  <Folder>
    <name>道路</name>
    <Placemark>
      <name>长安街</name>
      <LineString><coordinates>
        116.30,39.90 116.40,39.90
        116.50,39.91
      </coordinates></LineString>
    </Placemark>
    <Folder>
      <name>区域</name>
      <Placemark>
        <Polygon>
          <outerBoundaryIs><LinearRing><coordinates>-1,-1 1,-1 1,1 -1,1 -1,-1</coordinates></LinearRing></outerBoundaryIs>
          <innerBoundaryIs><LinearRing><coordinates>-0.5,-0.5 0.5,-0.5 0.5,0.5 -0.5,-0.5</coordinates></LinearRing></innerBoundaryIs>
        </Polygon>
      </Placemark>
      <Placemark>
        <MultiGeometry>
          <Point><coordinates>1,2</coordinates></Point>
          <LineString><coordinates>0,0 1,1</coordinates></LineString>
        </MultiGeometry>
      </Placemark>
    </Folder>
  </Folder>
</Document>
</kml>`

func TestReadKML(t *testing.T) {
	fc, err := ReadKML(strings.NewReader(sampleKML))
	if err != nil {
		t.Fatal(err)
	}
	if len(fc.Features) != 4 {
		t.Fatalf("features = %d", len(fc.Features))
	}

	pt, isPoint := fc.Features[0].Geometry.(orb.Point)
	if !isPoint || pt != (orb.Point{116.39, 39.9}) {
		t.Errorf("point = %v", fc.Features[0].Geometry)
	}
	if fc.Features[0].Properties["kml_name"] != "站点" || fc.Features[0].Properties["level"] != "3" {
		t.Errorf("point props = %v", fc.Features[0].Properties)
	}

	line, isLine := fc.Features[1].Geometry.(orb.LineString)
	if !isLine || len(line) != 3 || fc.Features[1].Properties["folder"] != "道路" {
		t.Errorf("line = %v %v", fc.Features[1].Geometry, fc.Features[1].Properties)
	}

	poly, isPoly := fc.Features[2].Geometry.(orb.Polygon)
	if !isPoly || len(poly) != 2 || poly[0][0] != (orb.Point{-1, -1}) {
		t.Errorf("polygon = %v", fc.Features[2].Geometry)
	}
	if fc.Features[2].Properties["folder"] != "区域" {
		t.Errorf("nested folder = %v", fc.Features[2].Properties)
	}

	coll, isColl := fc.Features[3].Geometry.(orb.Collection)
	if !isColl || len(coll) != 2 {
		t.Errorf("multi geometry = %v", fc.Features[3].Geometry)
	}

	if _, err := ReadKML(strings.NewReader(`<kml><Placemark><Point><coordinates>a,b</coordinates></Point></Placemark></kml>`)); err == nil {
		t.Errorf("bad coordinates should fail")
	}
}

func TestReadDAT(t *testing.T) {
	data := "P1,,36500000.5,3300000.25,12.5\n\nP2,JD,36500100,3300100\n"
	fc, err := ReadDAT(strings.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if len(fc.Features) != 2 {
		t.Fatalf("features = %d", len(fc.Features))
	}
	p := fc.Features[0].Geometry.(orb.Point)
	if p != (orb.Point{36500000.5, 3300000.25}) || fc.Features[0].Properties["height"] != 12.5 {
		t.Errorf("first = %v %v", p, fc.Features[0].Properties)
	}
	if fc.Features[1].Properties["code"] != "JD" {
		t.Errorf("code = %v", fc.Features[1].Properties)
	}

	if _, err := ReadDAT(strings.NewReader("P1,,1\n")); err == nil {
		t.Errorf("short line should fail")
	}
}

func TestDetectCRS(t *testing.T) {
	tests := []struct {
		x    float64
		cm   float64
		epsg int
		lon0 float64
	}{
		{116.4, 0, 4326, 0},
		{-73.9, 0, 4326, 0},
		{500000, 0, 4544, 105},
		{500000, 117, 4548, 117},
		{39500000, 0, 4527, 117},
		{20500000, 0, 4498, 117},
	}
	for _, tt := range tests {
		crs, err := DetectCRS(tt.x, tt.cm)
		if err != nil {
			t.Errorf("x=%v: %v", tt.x, err)
			continue
		}
		if crs.EPSG != tt.epsg || crs.CentralMeridian != tt.lon0 {
			t.Errorf("x=%v: crs = %+v", tt.x, crs)
		}
	}
	if _, err := DetectCRS(5000, 0); !errors.Is(err, ErrUnknownCRS) {
		t.Errorf("x=5000 err = %v", err)
	}
}

func TestGaussKrugerRoundTrip(t *testing.T) {
	crs, _ := DetectCRS(39500000, 0)
	for _, ll := range [][2]float64{{117, 0}, {117, 39.9}, {118.2, 30.5}, {116, -20}} {
		x, y := crs.ToGaussKruger(ll[0], ll[1])
		lon, lat := crs.ToLonLat(x, y)
		if math.Abs(lon-ll[0]) > 1e-7 || math.Abs(lat-ll[1]) > 1e-7 {
			t.Errorf("%v -> (%v, %v) -> (%v, %v)", ll, x, y, lon, lat)
		}
	}
	// 中央经线上赤道点
	x, y := crs.ToGaussKruger(117, 0)
	if math.Abs(x-39500000) > 1e-6 || math.Abs(y) > 1e-6 {
		t.Errorf("origin = %v %v", x, y)
	}
}

func TestToWGS84(t *testing.T) {
	crs, _ := DetectCRS(39500000, 0)
	x, y := crs.ToGaussKruger(117.5, 36)
	fc := geojson.NewFeatureCollection()
	fc.Append(geojson.NewFeature(orb.Point{x, y}))
	fc.Append(geojson.NewFeature(orb.LineString{{x, y}, {x + 1000, y + 1000}}))

	got, err := ToWGS84(fc, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got.EPSG != 4527 {
		t.Errorf("crs = %+v", got)
	}
	p := fc.Features[0].Geometry.(orb.Point)
	if math.Abs(p[0]-117.5) > 1e-7 || math.Abs(p[1]-36) > 1e-7 {
		t.Errorf("point = %v", p)
	}
	ls := fc.Features[1].Geometry.(orb.LineString)
	if ls[1][0] <= ls[0][0] || ls[1][1] <= ls[0][1] {
		t.Errorf("line = %v", ls)
	}

	lonlat := geojson.NewFeatureCollection()
	lonlat.Append(geojson.NewFeature(orb.Point{10, 20}))
	if got, err := ToWGS84(lonlat, 0); err != nil || !got.Geographic() {
		t.Errorf("lon/lat = %+v %v", got, err)
	}
}

func TestShapefileHelpers(t *testing.T) {
	if trimTrailingZeros("12.50000") != "12.5" || trimTrailingZeros("3.000") != "3" ||
		trimTrailingZeros("1.123456789") != "1.12345" || trimTrailingZeros("abc") != "abc" {
		t.Errorf("trimTrailingZeros")
	}

	outer := []orb.Point{{0, 0}, {0, 10}, {10, 10}, {10, 0}, {0, 0}}
	hole := []orb.Point{{2, 2}, {4, 2}, {4, 4}, {2, 4}, {2, 2}}
	second := []orb.Point{{20, 0}, {20, 5}, {25, 5}, {25, 0}, {20, 0}}
	mp := groupRings([][]orb.Point{outer, hole, second})
	if len(mp) != 2 || len(mp[0]) != 2 || len(mp[1]) != 1 {
		t.Errorf("groupRings = %v", mp)
	}
}

func TestLineFeature(t *testing.T) {
	open := lineFeature([]orb.Point{{0, 0}, {1, 0}, {1, 1}}, "road", false)
	if _, isLine := open.Geometry.(orb.LineString); !isLine {
		t.Errorf("open polyline = %T", open.Geometry)
	}
	closed := lineFeature([]orb.Point{{0, 0}, {1, 0}, {1, 1}}, "parcel", true)
	poly, isPoly := closed.Geometry.(orb.Polygon)
	if !isPoly || len(poly[0]) != 4 || poly[0][0] != poly[0][3] {
		t.Errorf("closed polyline = %v", closed.Geometry)
	}
	if lineFeature([]orb.Point{{0, 0}}, "x", false) != nil {
		t.Errorf("single vertex should be skipped")
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	kmlPath := filepath.Join(dir, "sample.kml")
	if err := os.WriteFile(kmlPath, []byte(sampleKML), 0o644); err != nil {
		t.Fatal(err)
	}
	fc, crs, err := Load(kmlPath, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(fc.Features) != 4 || !crs.Geographic() {
		t.Errorf("kml = %d %+v", len(fc.Features), crs)
	}

	if _, _, err := Load(filepath.Join(dir, "x.txt"), 0); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("txt err = %v", err)
	}
	if Supported("a.txt") || !Supported("A.SHP") || !Supported("b.zip") {
		t.Errorf("Supported")
	}

	// 压缩包中的 dat 为投影坐标，geojson 为经纬度
	zipPath := filepath.Join(dir, "bundle.zip")
	zf, err := os.Create(zipPath)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(zf)
	w, _ := zw.Create("data/points.dat")
	w.Write([]byte("P1,,39500000,4000000\n"))
	w, _ = zw.Create("data/marks.geojson")
	w.Write([]byte(`{"type":"FeatureCollection","features":[{"type":"Feature","geometry":{"type":"Point","coordinates":[1,2]},"properties":{}}]}`))
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	zf.Close()

	fc, crs, err = Load(zipPath, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(fc.Features) != 2 {
		t.Fatalf("zip features = %d", len(fc.Features))
	}
	// geojson 排在 dat 之前
	if crs.EPSG != 4326 || fc.Features[0].Properties["source"] != "marks.geojson" {
		t.Errorf("first = %+v %v", crs, fc.Features[0].Properties)
	}
	p := fc.Features[1].Geometry.(orb.Point)
	if math.Abs(p[0]-117) > 1e-6 || p[1] < 36 || p[1] > 36.2 {
		t.Errorf("reprojected dat point = %v", p)
	}
}
