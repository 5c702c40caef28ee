package tiling

import (
	"github.com/GrainArc/SouceGlobe/coord"
	"github.com/go-gl/mathgl/mgl64"
)

// 裙边行在顶点数组中的顺序
const (
	SkirtTop = iota
	SkirtBottom
	SkirtLeft
	SkirtRight
	SkirtCenter
	SkirtMiddle
)

// SkirtStart 第row条裙边的首顶点索引
func SkirtStart(size, row int) int {
	return size*size + row*size
}

// generateSkirts 沿边界复制顶点并向天体中心拉下
func (t *Tile) generateSkirts() {
	size := t.Config.Tesselation
	vs := t.Config.VertexSize()
	height := t.Radius * t.Config.World.SkirtFraction
	earth := coord.EarthCenterInLocal(t.InverseMatrix)
	mid := (size - 1) / 2

	skirt := func(row, src, step int) {
		dst := SkirtStart(size, row)
		for n := 0; n < size; n++ {
			p := t.vertex(src)
			q := p.Add(earth.Sub(p).Normalize().Mul(height))
			o := dst * vs
			t.Vertices[o] = float32(q[0])
			t.Vertices[o+1] = float32(q[1])
			t.Vertices[o+2] = float32(q[2])
			if vs == 6 {
				copy(t.Vertices[o+3:o+6], t.Vertices[src*vs+3:src*vs+6])
			}
			src += step
			dst++
		}
	}

	skirt(SkirtTop, 0, 1)
	skirt(SkirtBottom, size*(size-1), 1)
	skirt(SkirtLeft, 0, size)
	skirt(SkirtRight, size-1, size)
	skirt(SkirtCenter, size*mid, 1)
	skirt(SkirtMiddle, mid, size)
}

// collapseSkirt 将整条裙边收拢到世界坐标点p
func (t *Tile) collapseSkirt(row int, p mgl64.Vec3) {
	size := t.Config.Tesselation
	start := SkirtStart(size, row)
	for n := 0; n < size; n++ {
		t.writeLocal(start+n, p)
	}
}

// generateNormals 网格中心差分法线，边界处截断
func (t *Tile) generateNormals() {
	size := t.Config.Tesselation
	vs := t.Config.VertexSize()
	earth := coord.EarthCenterInLocal(t.InverseMatrix)

	for j := 0; j < size; j++ {
		jp, jn := max(j-1, 0), min(j+1, size-1)
		for i := 0; i < size; i++ {
			ip, in := max(i-1, 0), min(i+1, size-1)
			u := t.vertex(j*size + in).Sub(t.vertex(j*size + ip))
			w := t.vertex(jn*size + i).Sub(t.vertex(jp*size + i))
			n := u.Cross(w)
			p := t.vertex(j*size + i)
			if n.Dot(p.Sub(earth)) < 0 {
				n = n.Mul(-1)
			}
			if n.Len() > 0 {
				n = n.Normalize()
			}
			o := (j*size+i)*vs + 3
			t.Vertices[o] = float32(n[0])
			t.Vertices[o+1] = float32(n[1])
			t.Vertices[o+2] = float32(n[2])
		}
	}
}
