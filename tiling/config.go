package tiling

import (
	"errors"

	"github.com/GrainArc/SouceGlobe/coord"
)

const (
	DefaultTesselation = 9
	DefaultImageSize   = 256
)

// Config 同一TileManager下所有瓦片共享的生成参数
type Config struct {
	Tesselation int // 每边顶点数，奇数
	Skirt       bool
	CullSign    float64
	ImageSize   int
	Normals     bool
	World       *coord.WorldConfig
}

// DefaultConfig 默认参数
func DefaultConfig(world *coord.WorldConfig) *Config {
	if world == nil {
		world = coord.DefaultWorldConfig()
	}
	return &Config{
		Tesselation: DefaultTesselation,
		Skirt:       true,
		CullSign:    1,
		ImageSize:   DefaultImageSize,
		World:       world,
	}
}

// VertexSize 每个顶点的float数
func (c *Config) VertexSize() int {
	if c.Normals {
		return 6
	}
	return 3
}

// VertexCount 网格加裙边的顶点数
func (c *Config) VertexCount() int {
	n := c.Tesselation * c.Tesselation
	if c.Skirt {
		n += 6 * c.Tesselation
	}
	return n
}

// Validate 检查参数
func (c *Config) Validate() error {
	if c.Tesselation < 3 || c.Tesselation%2 == 0 {
		return errors.New("tesselation must be an odd number >= 3")
	}
	if c.VertexCount() > 65536 {
		return errors.New("tesselation too large for 16-bit indices")
	}
	if c.ImageSize <= 0 {
		return errors.New("image size must be positive")
	}
	if c.World == nil {
		return errors.New("world config is required")
	}
	return nil
}
