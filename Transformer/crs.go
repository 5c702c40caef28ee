package Transformer

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/project"
)

// ErrUnknownCRS 无法从坐标判断坐标系
var ErrUnknownCRS = errors.New("unknown coordinate reference system")

// CGCS2000 椭球
const (
	cgcsA = 6378137.0
	cgcsF = 1 / 298.257222101
)

var (
	cgcsE2  = cgcsF * (2 - cgcsF)
	cgcsEp2 = cgcsE2 / (1 - cgcsE2)
)

// CRS 坐标系。EPSG 为 4326 时坐标即经纬度，否则为 CGCS2000 高斯-克吕格投影坐标
type CRS struct {
	EPSG            int     `json:"epsg"`
	CentralMeridian float64 `json:"centralMeridian"`
	FalseEasting    float64 `json:"falseEasting"`
}

// WGS84 经纬度
var WGS84 = CRS{EPSG: 4326}

// Geographic 是否为经纬度坐标
func (c CRS) Geographic() bool { return c.EPSG == 4326 }

// DetectCRS 根据 X 坐标值判断坐标系。
// 带号前缀的 3 度带（25-45 带）与 6 度带（13-23 带）可以直接确定中央经线；
// 不带带号的投影坐标使用 centralMeridian，默认 105 度。
func DetectCRS(x, centralMeridian float64) (CRS, error) {
	switch {
	case math.Abs(x) <= 180:
		return WGS84, nil
	case x >= 1e5 && x < 1e6:
		if centralMeridian == 0 {
			centralMeridian = 105
		}
		return CRS{
			EPSG:            4534 + int(math.Round((centralMeridian-75)/3)),
			CentralMeridian: centralMeridian,
			FalseEasting:    500000,
		}, nil
	case x >= 25e6 && x < 46e6:
		zone := math.Floor(x / 1e6)
		return CRS{
			EPSG:            4488 + int(zone),
			CentralMeridian: zone * 3,
			FalseEasting:    zone*1e6 + 500000,
		}, nil
	case x >= 13e6 && x < 24e6:
		zone := math.Floor(x / 1e6)
		return CRS{
			EPSG:            4478 + int(zone),
			CentralMeridian: zone*6 - 3,
			FalseEasting:    zone*1e6 + 500000,
		}, nil
	}
	return CRS{}, fmt.Errorf("x=%v: %w", x, ErrUnknownCRS)
}

// meridianArc 赤道到纬度 phi 的子午线弧长
func meridianArc(phi float64) float64 {
	e2 := cgcsE2
	e4 := e2 * e2
	e6 := e4 * e2
	return cgcsA * ((1-e2/4-3*e4/64-5*e6/256)*phi -
		(3*e2/8+3*e4/32+45*e6/1024)*math.Sin(2*phi) +
		(15*e4/256+45*e6/1024)*math.Sin(4*phi) -
		(35*e6/3072)*math.Sin(6*phi))
}

// ToGaussKruger 经纬度转高斯-克吕格投影坐标
func (c CRS) ToGaussKruger(lon, lat float64) (x, y float64) {
	phi := lat * math.Pi / 180
	sinPhi, cosPhi := math.Sin(phi), math.Cos(phi)
	n := cgcsA / math.Sqrt(1-cgcsE2*sinPhi*sinPhi)
	t := math.Tan(phi) * math.Tan(phi)
	cc := cgcsEp2 * cosPhi * cosPhi
	a := (lon - c.CentralMeridian) * math.Pi / 180 * cosPhi

	x = n*(a+(1-t+cc)*math.Pow(a, 3)/6+
		(5-18*t+t*t+72*cc-58*cgcsEp2)*math.Pow(a, 5)/120) + c.FalseEasting
	y = meridianArc(phi) + n*math.Tan(phi)*(a*a/2+
		(5-t+9*cc+4*cc*cc)*math.Pow(a, 4)/24+
		(61-58*t+t*t+600*cc-330*cgcsEp2)*math.Pow(a, 6)/720)
	return x, y
}

// ToLonLat 高斯-克吕格投影坐标转经纬度
func (c CRS) ToLonLat(x, y float64) (lon, lat float64) {
	if c.Geographic() {
		return x, y
	}
	e2 := cgcsE2
	e1 := (1 - math.Sqrt(1-e2)) / (1 + math.Sqrt(1-e2))
	mu := y / (cgcsA * (1 - e2/4 - 3*e2*e2/64 - 5*e2*e2*e2/256))
	phi1 := mu +
		(3*e1/2-27*math.Pow(e1, 3)/32)*math.Sin(2*mu) +
		(21*e1*e1/16-55*math.Pow(e1, 4)/32)*math.Sin(4*mu) +
		(151*math.Pow(e1, 3)/96)*math.Sin(6*mu) +
		(1097*math.Pow(e1, 4)/512)*math.Sin(8*mu)

	sinPhi, cosPhi, tanPhi := math.Sin(phi1), math.Cos(phi1), math.Tan(phi1)
	n1 := cgcsA / math.Sqrt(1-e2*sinPhi*sinPhi)
	t1 := tanPhi * tanPhi
	c1 := cgcsEp2 * cosPhi * cosPhi
	r1 := cgcsA * (1 - e2) / math.Pow(1-e2*sinPhi*sinPhi, 1.5)
	d := (x - c.FalseEasting) / n1

	lat = phi1 - (n1*tanPhi/r1)*(d*d/2-
		(5+3*t1+10*c1-4*c1*c1-9*cgcsEp2)*math.Pow(d, 4)/24+
		(61+90*t1+298*c1+45*t1*t1-252*cgcsEp2-3*c1*c1)*math.Pow(d, 6)/720)
	lon = (d - (1+2*t1+c1)*math.Pow(d, 3)/6 +
		(5-2*c1+28*t1-3*c1*c1+8*cgcsEp2+24*t1*t1)*math.Pow(d, 5)/120) / cosPhi
	return c.CentralMeridian + lon*180/math.Pi, lat * 180 / math.Pi
}

// firstPoint 第一个非空几何外包框的左下角
func firstPoint(fc *geojson.FeatureCollection) (orb.Point, bool) {
	for _, f := range fc.Features {
		if f.Geometry == nil || f.Geometry.Dimensions() < 0 {
			continue
		}
		return f.Geometry.Bound().Min, true
	}
	return orb.Point{}, false
}

// ToWGS84 检测坐标系并将要素转换为经纬度，返回原坐标系
func ToWGS84(fc *geojson.FeatureCollection, centralMeridian float64) (CRS, error) {
	p, ok := firstPoint(fc)
	if !ok {
		return WGS84, nil
	}
	crs, err := DetectCRS(p[0], centralMeridian)
	if err != nil {
		return crs, err
	}
	if crs.Geographic() {
		return crs, nil
	}
	proj := func(q orb.Point) orb.Point {
		lon, lat := crs.ToLonLat(q[0], q[1])
		return orb.Point{lon, lat}
	}
	for _, f := range fc.Features {
		if f.Geometry != nil {
			f.Geometry = project.Geometry(f.Geometry, proj)
		}
	}
	return crs, nil
}
