package gpu

import (
	"image"

	"golang.org/x/image/draw"
)

// IsPowerOfTwo n是否为2的幂
func IsPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// NextPowerOfTwo 不小于n的最小2的幂
func NextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// PowerOfTwo 将非2的幂图像双线性重采样到2的幂尺寸，其余原样返回
func PowerOfTwo(img image.Image) image.Image {
	size := img.Bounds().Size()
	if IsPowerOfTwo(size.X) && IsPowerOfTwo(size.Y) {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, NextPowerOfTwo(size.X), NextPowerOfTwo(size.Y)))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}
