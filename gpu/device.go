// Package gpu 定义渲染核心所消费的GPU能力，以及缓冲区/纹理的复用池
package gpu

import (
	"image"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/go-gl/mathgl/mgl64"
)

// Buffer GPU缓冲区句柄，0表示无
type Buffer uint32

// Texture GPU纹理句柄，0表示无
type Texture uint32

// BufferTarget 缓冲区用途
type BufferTarget int

const (
	ArrayBuffer BufferTarget = iota
	ElementArrayBuffer
)

// DrawMode 图元类型
type DrawMode int

const (
	Triangles DrawMode = iota
	Lines
	LineStrip
	Points
)

// Device GPU能力
type Device interface {
	CreateBuffer() Buffer
	// BufferData data 为 []float32 或 []uint16
	BufferData(b Buffer, target BufferTarget, data any) error
	DeleteBuffer(b Buffer)

	// CreateTexture 支持非2的幂尺寸；mipmap 仅对2的幂纹理有效
	CreateTexture(img image.Image, mipmap bool) (Texture, error)
	UpdateTexture(t Texture, img image.Image) error
	DeleteTexture(t Texture)
	BindTexture(unit int, t Texture)

	CreateProgram(vertexSrc, fragmentSrc string) (Program, error)

	SetPolygonOffset(enabled bool, factor, units float32)
	DrawElements(mode DrawMode, count int, indices Buffer)
	DrawArrays(mode DrawMode, first, count int)
}

// Program 着色器程序
type Program interface {
	Apply()
	UniformMatrix4(name string, m mgl32.Mat4)
	Uniform4f(name string, v mgl32.Vec4)
	Uniform1f(name string, v float32)
	Uniform1i(name string, v int32)
	BindAttribute(name string, b Buffer, size, stride, offset int)
	Dispose()
}

// Mat4f 双精度矩阵转单精度，用于上传uniform
func Mat4f(m mgl64.Mat4) mgl32.Mat4 {
	var out mgl32.Mat4
	for i := range m {
		out[i] = float32(m[i])
	}
	return out
}

// Vec4f 双精度向量转单精度
func Vec4f(v [4]float64) mgl32.Vec4 {
	return mgl32.Vec4{float32(v[0]), float32(v[1]), float32(v[2]), float32(v[3])}
}
