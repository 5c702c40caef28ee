package gpu

import (
	"errors"
	"fmt"
	"image"
)

var (
	// ErrUnknownTexture 纹理不属于池或已被回收
	ErrUnknownTexture = errors.New("unknown texture")
	// ErrUnknownBuffer 缓冲区不属于池或已被回收
	ErrUnknownBuffer = errors.New("unknown buffer")
)

type textureKey struct {
	width  int
	height int
}

// PoolStats 池统计
type PoolStats struct {
	CreatedTextures int `json:"createdTextures"`
	ReusedTextures  int `json:"reusedTextures"`
	CreatedBuffers  int `json:"createdBuffers"`
	ReusedBuffers   int `json:"reusedBuffers"`
	LiveTextures    int `json:"liveTextures"`
	LiveBuffers     int `json:"liveBuffers"`
	FreeTextures    int `json:"freeTextures"`
	FreeBuffers     int `json:"freeBuffers"`
}

// Pool 瓦片纹理与顶点缓冲区复用池。
// 取出的句柄归调用方所有，归还后调用方不得再持有。
type Pool struct {
	device Device

	freeTextures map[textureKey][]Texture
	liveTextures map[Texture]textureKey
	freeBuffers  []Buffer
	liveBuffers  map[Buffer]struct{}

	createdTextures int
	reusedTextures  int
	createdBuffers  int
	reusedBuffers   int
}

// NewPool 创建复用池
func NewPool(device Device) *Pool {
	return &Pool{
		device:       device,
		freeTextures: make(map[textureKey][]Texture),
		liveTextures: make(map[Texture]textureKey),
		liveBuffers:  make(map[Buffer]struct{}),
	}
}

// Device 底层设备
func (p *Pool) Device() Device {
	return p.device
}

// CreateTexture 取出（或新建）一张纹理并上传图像，非2的幂图像先重采样
func (p *Pool) CreateTexture(img image.Image) (Texture, error) {
	img = PowerOfTwo(img)
	size := img.Bounds().Size()
	key := textureKey{width: size.X, height: size.Y}

	if free := p.freeTextures[key]; len(free) > 0 {
		t := free[len(free)-1]
		p.freeTextures[key] = free[:len(free)-1]
		if err := p.device.UpdateTexture(t, img); err != nil {
			p.device.DeleteTexture(t)
			return 0, fmt.Errorf("reuse texture: %w", err)
		}
		p.liveTextures[t] = key
		p.reusedTextures++
		return t, nil
	}

	t, err := p.device.CreateTexture(img, true)
	if err != nil {
		return 0, fmt.Errorf("create texture: %w", err)
	}
	p.liveTextures[t] = key
	p.createdTextures++
	return t, nil
}

// DisposeTexture 归还纹理
func (p *Pool) DisposeTexture(t Texture) error {
	key, ok := p.liveTextures[t]
	if !ok {
		return fmt.Errorf("dispose texture %d: %w", t, ErrUnknownTexture)
	}
	delete(p.liveTextures, t)
	p.freeTextures[key] = append(p.freeTextures[key], t)
	return nil
}

// CreateBuffer 取出（或新建）一个顶点缓冲区并上传数据
func (p *Pool) CreateBuffer(vertices []float32) (Buffer, error) {
	var b Buffer
	if n := len(p.freeBuffers); n > 0 {
		b = p.freeBuffers[n-1]
		p.freeBuffers = p.freeBuffers[:n-1]
		p.reusedBuffers++
	} else {
		b = p.device.CreateBuffer()
		p.createdBuffers++
	}
	if err := p.device.BufferData(b, ArrayBuffer, vertices); err != nil {
		p.device.DeleteBuffer(b)
		return 0, fmt.Errorf("upload vertices: %w", err)
	}
	p.liveBuffers[b] = struct{}{}
	return b, nil
}

// DisposeBuffer 归还顶点缓冲区
func (p *Pool) DisposeBuffer(b Buffer) error {
	if _, ok := p.liveBuffers[b]; !ok {
		return fmt.Errorf("dispose buffer %d: %w", b, ErrUnknownBuffer)
	}
	delete(p.liveBuffers, b)
	p.freeBuffers = append(p.freeBuffers, b)
	return nil
}

// DisposeAll 释放池中所有空闲资源
func (p *Pool) DisposeAll() {
	for key, list := range p.freeTextures {
		for _, t := range list {
			p.device.DeleteTexture(t)
		}
		delete(p.freeTextures, key)
	}
	for _, b := range p.freeBuffers {
		p.device.DeleteBuffer(b)
	}
	p.freeBuffers = nil
}

// Stats 统计信息
func (p *Pool) Stats() PoolStats {
	free := 0
	for _, list := range p.freeTextures {
		free += len(list)
	}
	return PoolStats{
		CreatedTextures: p.createdTextures,
		ReusedTextures:  p.reusedTextures,
		CreatedBuffers:  p.createdBuffers,
		ReusedBuffers:   p.reusedBuffers,
		LiveTextures:    len(p.liveTextures),
		LiveBuffers:     len(p.liveBuffers),
		FreeTextures:    free,
		FreeBuffers:     len(p.freeBuffers),
	}
}
