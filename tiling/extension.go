package tiling

import "github.com/GrainArc/SouceGlobe/gpu"

// Extension 挂在瓦片上的附加数据（栅格叠加、矢量要素等）
type Extension interface {
	// InitChild 父瓦片创建子瓦片时调用
	InitChild(parent, child *Tile, i, j int)
	// Traverse 瓦片在遍历中被访问时调用
	Traverse(t *Tile, isLeaf bool)
	Dispose(pool *gpu.Pool)
}

// SetExtension 设置扩展
func (t *Tile) SetExtension(name string, ext Extension) {
	if t.Extensions == nil {
		t.Extensions = make(map[string]Extension)
	}
	t.Extensions[name] = ext
}

// Extension 取扩展
func (t *Tile) Extension(name string) (Extension, bool) {
	ext, ok := t.Extensions[name]
	return ext, ok
}

// RemoveExtension 释放并移除扩展
func (t *Tile) RemoveExtension(name string, pool *gpu.Pool) {
	if ext, ok := t.Extensions[name]; ok {
		ext.Dispose(pool)
		delete(t.Extensions, name)
	}
}
