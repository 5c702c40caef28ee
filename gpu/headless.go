package gpu

import (
	"fmt"
	"image"

	"github.com/go-gl/mathgl/mgl32"
)

// DrawCall 一次绘制调用的记录
type DrawCall struct {
	Mode          DrawMode
	Count         int
	First         int
	Indices       Buffer
	Texture       Texture
	PolygonOffset bool
	Uniforms      map[string]any
	Attributes    map[string]Buffer
}

// HeadlessStats 无窗口设备计数
type HeadlessStats struct {
	BuffersCreated  int
	BuffersDeleted  int
	BufferUploads   int
	TexturesCreated int
	TexturesDeleted int
	TextureUploads  int
	ProgramsCreated int
	DrawCalls       int
}

type headlessBuffer struct {
	target  BufferTarget
	floats  []float32
	indices []uint16
}

// Headless 不依赖图形上下文的设备实现，记录所有调用，供服务端与测试使用
type Headless struct {
	nextID   uint32
	buffers  map[Buffer]*headlessBuffer
	textures map[Texture]image.Rectangle
	bound    [8]Texture
	current  *headlessProgram
	offset   bool

	Calls []DrawCall
	Stats HeadlessStats
}

// NewHeadless 创建无窗口设备
func NewHeadless() *Headless {
	return &Headless{
		buffers:  make(map[Buffer]*headlessBuffer),
		textures: make(map[Texture]image.Rectangle),
	}
}

func (h *Headless) id() uint32 {
	h.nextID++
	return h.nextID
}

func (h *Headless) CreateBuffer() Buffer {
	b := Buffer(h.id())
	h.buffers[b] = &headlessBuffer{}
	h.Stats.BuffersCreated++
	return b
}

func (h *Headless) BufferData(b Buffer, target BufferTarget, data any) error {
	buf, ok := h.buffers[b]
	if !ok {
		return fmt.Errorf("buffer %d: %w", b, ErrUnknownBuffer)
	}
	buf.target = target
	switch v := data.(type) {
	case []float32:
		buf.floats = append(buf.floats[:0], v...)
		buf.indices = nil
	case []uint16:
		buf.indices = append(buf.indices[:0], v...)
		buf.floats = nil
	default:
		return fmt.Errorf("unsupported buffer data %T", data)
	}
	h.Stats.BufferUploads++
	return nil
}

func (h *Headless) DeleteBuffer(b Buffer) {
	if _, ok := h.buffers[b]; ok {
		delete(h.buffers, b)
		h.Stats.BuffersDeleted++
	}
}

func (h *Headless) CreateTexture(img image.Image, mipmap bool) (Texture, error) {
	if img == nil {
		return 0, fmt.Errorf("nil image")
	}
	t := Texture(h.id())
	h.textures[t] = img.Bounds()
	h.Stats.TexturesCreated++
	h.Stats.TextureUploads++
	return t, nil
}

func (h *Headless) UpdateTexture(t Texture, img image.Image) error {
	if _, ok := h.textures[t]; !ok {
		return fmt.Errorf("texture %d: %w", t, ErrUnknownTexture)
	}
	h.textures[t] = img.Bounds()
	h.Stats.TextureUploads++
	return nil
}

func (h *Headless) DeleteTexture(t Texture) {
	if _, ok := h.textures[t]; ok {
		delete(h.textures, t)
		h.Stats.TexturesDeleted++
	}
}

func (h *Headless) BindTexture(unit int, t Texture) {
	h.bound[unit] = t
}

func (h *Headless) CreateProgram(vertexSrc, fragmentSrc string) (Program, error) {
	if vertexSrc == "" || fragmentSrc == "" {
		return nil, fmt.Errorf("empty shader source")
	}
	h.Stats.ProgramsCreated++
	return &headlessProgram{
		device:     h,
		uniforms:   make(map[string]any),
		attributes: make(map[string]Buffer),
	}, nil
}

func (h *Headless) SetPolygonOffset(enabled bool, factor, units float32) {
	h.offset = enabled
}

func (h *Headless) DrawElements(mode DrawMode, count int, indices Buffer) {
	h.record(DrawCall{Mode: mode, Count: count, Indices: indices})
}

func (h *Headless) DrawArrays(mode DrawMode, first, count int) {
	h.record(DrawCall{Mode: mode, Count: count, First: first})
}

func (h *Headless) record(call DrawCall) {
	call.Texture = h.bound[0]
	call.PolygonOffset = h.offset
	call.Uniforms = make(map[string]any)
	call.Attributes = make(map[string]Buffer)
	if h.current != nil {
		for k, v := range h.current.uniforms {
			call.Uniforms[k] = v
		}
		for k, v := range h.current.attributes {
			call.Attributes[k] = v
		}
	}
	h.Calls = append(h.Calls, call)
	h.Stats.DrawCalls++
}

// ResetCalls 清空绘制记录，通常在每帧开始前调用
func (h *Headless) ResetCalls() {
	h.Calls = h.Calls[:0]
}

// LiveBuffers 当前存在的缓冲区数
func (h *Headless) LiveBuffers() int {
	return len(h.buffers)
}

// LiveTextures 当前存在的纹理数
func (h *Headless) LiveTextures() int {
	return len(h.textures)
}

// HasBuffer 缓冲区是否仍然存在
func (h *Headless) HasBuffer(b Buffer) bool {
	_, ok := h.buffers[b]
	return ok
}

// BufferFloats 读取顶点缓冲区内容
func (h *Headless) BufferFloats(b Buffer) []float32 {
	if buf, ok := h.buffers[b]; ok {
		return buf.floats
	}
	return nil
}

// BufferIndices 读取索引缓冲区内容
func (h *Headless) BufferIndices(b Buffer) []uint16 {
	if buf, ok := h.buffers[b]; ok {
		return buf.indices
	}
	return nil
}

type headlessProgram struct {
	device     *Headless
	uniforms   map[string]any
	attributes map[string]Buffer
}

func (p *headlessProgram) Apply() {
	p.device.current = p
}

func (p *headlessProgram) UniformMatrix4(name string, m mgl32.Mat4) {
	p.uniforms[name] = m
}

func (p *headlessProgram) Uniform4f(name string, v mgl32.Vec4) {
	p.uniforms[name] = v
}

func (p *headlessProgram) Uniform1f(name string, v float32) {
	p.uniforms[name] = v
}

func (p *headlessProgram) Uniform1i(name string, v int32) {
	p.uniforms[name] = v
}

func (p *headlessProgram) BindAttribute(name string, b Buffer, size, stride, offset int) {
	p.attributes[name] = b
}

func (p *headlessProgram) Dispose() {
	if p.device.current == p {
		p.device.current = nil
	}
}
