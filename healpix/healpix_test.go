package healpix

import (
	"math"
	"testing"
)

func TestBitsRoundTrip(t *testing.T) {
	for _, v := range []int64{0, 1, 2, 3, 5, 255, 1023, 65535} {
		if got := CompressBits(SpreadBits(v)); got != v {
			t.Errorf("compress(spread(%d)) = %d", v, got)
		}
	}
	if SpreadBits(3) != 5 {
		t.Errorf("spread(3) = %d, want 5", SpreadBits(3))
	}
}

func TestXYFRoundTrip(t *testing.T) {
	order := 3
	for pix := int64(0); pix < NPix(order); pix += 7 {
		ix, iy, face := Pix2XYF(order, pix)
		if got := XYF2Pix(order, ix, iy, face); got != pix {
			t.Fatalf("pix %d -> (%d,%d,%d) -> %d", pix, ix, iy, face, got)
		}
	}
}

func TestPixCenterLookup(t *testing.T) {
	for order := 0; order <= 2; order++ {
		for pix := int64(0); pix < NPix(order); pix++ {
			lon, lat := PixCenter(order, pix)
			if got := LonLat2Pix(order, lon, lat); got != pix {
				t.Errorf("order %d: center of %d (%.3f,%.3f) maps to %d", order, pix, lon, lat, got)
			}
		}
	}
}

func TestFXYFUnitLength(t *testing.T) {
	for face := 0; face < 12; face++ {
		for _, xy := range [][2]float64{{0, 0}, {1, 1}, {0.25, 0.75}, {1, 0}} {
			v := FXYF(xy[0], xy[1], face)
			if math.Abs(v.Len()-1) > 1e-12 {
				t.Errorf("face %d %v: |v| = %v", face, xy, v.Len())
			}
		}
	}
}
