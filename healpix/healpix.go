// Package healpix 实现HEALPix NESTED方案下的像素编号与几何计算
package healpix

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

var (
	jrll = [12]int{2, 2, 2, 2, 3, 3, 3, 3, 4, 4, 4, 4}
	jpll = [12]int{1, 3, 5, 7, 0, 2, 4, 6, 1, 3, 5, 7}
)

const halfPi = math.Pi / 2

// Nside 阶数对应的面边长像素数
func Nside(order int) int64 {
	return int64(1) << uint(order)
}

// NPix 阶数对应的像素总数
func NPix(order int) int64 {
	n := Nside(order)
	return 12 * n * n
}

// SpreadBits 将低32位展开到偶数位
func SpreadBits(v int64) int64 {
	var res int64
	for i := uint(0); i < 32; i++ {
		res |= ((v >> i) & 1) << (2 * i)
	}
	return res
}

// CompressBits 取出偶数位并压缩，SpreadBits的逆运算
func CompressBits(v int64) int64 {
	var res int64
	for i := uint(0); i < 32; i++ {
		res |= ((v >> (2 * i)) & 1) << i
	}
	return res
}

// XYF2Pix 面坐标转像素编号
func XYF2Pix(order int, ix, iy int64, face int) int64 {
	return (int64(face) << uint(2*order)) + SpreadBits(ix) + (SpreadBits(iy) << 1)
}

// Pix2XYF 像素编号转面坐标
func Pix2XYF(order int, pix int64) (ix, iy int64, face int) {
	npface := Nside(order) * Nside(order)
	face = int(pix >> uint(2*order))
	pix &= npface - 1
	return CompressBits(pix), CompressBits(pix >> 1), face
}

// FXYF 面内归一化坐标(x,y ∈ [0,1])转单位球上的点
func FXYF(x, y float64, face int) mgl64.Vec3 {
	jr := float64(jrll[face]) - x - y
	var nr, z float64
	switch {
	case jr < 1:
		nr = jr
		z = 1 - nr*nr/3
	case jr > 3:
		nr = 4 - jr
		z = nr*nr/3 - 1
	default:
		nr = 1
		z = (2 - jr) * 2 / 3
	}

	tmp := float64(jpll[face])*nr + x - y
	if tmp < 0 {
		tmp += 8
	}
	if tmp >= 8 {
		tmp -= 8
	}
	phi := 0.0
	if nr >= 1e-15 {
		phi = 0.5 * halfPi * tmp / nr
	}
	st := math.Sqrt((1 - z) * (1 + z))
	return mgl64.Vec3{st * math.Cos(phi), st * math.Sin(phi), z}
}

// Loc2Pix z=cos(theta)，phi为经度弧度
func Loc2Pix(order int, z, phi float64) int64 {
	nside := Nside(order)
	za := math.Abs(z)
	tt := math.Mod(phi/halfPi, 4)
	if tt < 0 {
		tt += 4
	}

	if za <= 2.0/3.0 {
		temp1 := float64(nside) * (0.5 + tt)
		temp2 := float64(nside) * (z * 0.75)
		jp := int64(temp1 - temp2)
		jm := int64(temp1 + temp2)
		ifp := jp >> uint(order)
		ifm := jm >> uint(order)

		var face int64
		switch {
		case ifp == ifm:
			face = ifp | 4
		case ifp < ifm:
			face = ifp
		default:
			face = ifm + 8
		}
		ix := jm & (nside - 1)
		iy := nside - (jp & (nside - 1)) - 1
		return XYF2Pix(order, ix, iy, int(face))
	}

	ntt := int(tt)
	if ntt > 3 {
		ntt = 3
	}
	tp := tt - float64(ntt)
	tmp := float64(nside) * math.Sqrt(3*(1-za))
	jp := int64(tp * tmp)
	jm := int64((1 - tp) * tmp)
	if jp > nside-1 {
		jp = nside - 1
	}
	if jm > nside-1 {
		jm = nside - 1
	}
	if z >= 0 {
		return XYF2Pix(order, nside-jm-1, nside-jp-1, ntt)
	}
	return XYF2Pix(order, jp, jm, ntt+8)
}

// LonLat2Pix 经纬度（度）转像素编号
func LonLat2Pix(order int, lon, lat float64) int64 {
	return Loc2Pix(order, math.Sin(mgl64.DegToRad(lat)), mgl64.DegToRad(lon))
}

// Vec2LonLat 单位向量转经纬度（度）
func Vec2LonLat(v mgl64.Vec3) (lon, lat float64) {
	l := v.Len()
	if l == 0 {
		return 0, 0
	}
	lon = mgl64.RadToDeg(math.Atan2(v[1], v[0]))
	lat = mgl64.RadToDeg(math.Asin(mgl64.Clamp(v[2]/l, -1, 1)))
	return lon, lat
}

// PixCenter 像素中心的经纬度
func PixCenter(order int, pix int64) (lon, lat float64) {
	ix, iy, face := Pix2XYF(order, pix)
	n := float64(Nside(order))
	return Vec2LonLat(FXYF((float64(ix)+0.5)/n, (float64(iy)+0.5)/n, face))
}
