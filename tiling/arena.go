package tiling

import (
	"errors"
	"fmt"

	"github.com/GrainArc/SouceGlobe/geometry"
)

// ErrStaleTile 瓦片已被释放，ID失效
var ErrStaleTile = errors.New("stale tile id")

// TileID 瓦片在arena中的地址，零值表示无瓦片
type TileID struct {
	slot uint32
	gen  uint32
}

// NoTile 空ID
var NoTile TileID

// IsZero 是否为空ID
func (id TileID) IsZero() bool {
	return id.gen == 0
}

func (id TileID) String() string {
	return fmt.Sprintf("%d#%d", id.slot, id.gen)
}

type arenaSlot struct {
	tile Tile
	gen  uint32
	used bool
}

// Arena 瓦片分配器。释放槽位时代数加一，旧ID查询得到 ErrStaleTile。
type Arena struct {
	slots []*arenaSlot
	free  []uint32
	live  int

	// OnTransition 每次状态变化时调用，用于检查或统计
	OnTransition func(t *Tile, from, to State)
}

// NewArena 创建arena
func NewArena() *Arena {
	return &Arena{}
}

func (a *Arena) alloc() *Tile {
	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		a.slots = append(a.slots, &arenaSlot{})
		idx = uint32(len(a.slots) - 1)
	}
	s := a.slots[idx]
	s.gen++
	s.used = true
	s.tile = Tile{ID: TileID{slot: idx, gen: s.gen}, arena: a}
	a.live++
	return &s.tile
}

// newTile 分配一个属于scheme的空瓦片
func (a *Arena) newTile(scheme Scheme, cfg *Config) *Tile {
	t := a.alloc()
	t.scheme = scheme
	t.Config = cfg
	t.BBox = geometry.NewBoundingBox()
	t.TexTransform = IdentityTransform
	t.FallbackTransform = IdentityTransform
	t.geoTransform = IdentityTransform
	return t
}

// Get 按ID取瓦片
func (a *Arena) Get(id TileID) (*Tile, error) {
	if id.IsZero() || int(id.slot) >= len(a.slots) {
		return nil, fmt.Errorf("tile %s: %w", id, ErrStaleTile)
	}
	s := a.slots[id.slot]
	if !s.used || s.gen != id.gen {
		return nil, fmt.Errorf("tile %s: %w", id, ErrStaleTile)
	}
	return &s.tile, nil
}

// Tile 按ID取瓦片，失效时返回nil
func (a *Arena) Tile(id TileID) *Tile {
	t, err := a.Get(id)
	if err != nil {
		return nil
	}
	return t
}

// Valid ID是否仍然有效
func (a *Arena) Valid(id TileID) bool {
	_, err := a.Get(id)
	return err == nil
}

func (a *Arena) release(id TileID) error {
	if _, err := a.Get(id); err != nil {
		return err
	}
	s := a.slots[id.slot]
	s.used = false
	s.tile = Tile{}
	a.free = append(a.free, id.slot)
	a.live--
	return nil
}

// Release 释放一个没有子节点的瓦片槽位
func (a *Arena) Release(id TileID) error {
	return a.release(id)
}

// Len 存活瓦片数
func (a *Arena) Len() int {
	return a.live
}
