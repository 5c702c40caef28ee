package tiling

// IndexData 同一细分级别的所有瓦片共享的索引数据
type IndexData struct {
	Solid     []uint16
	SubSolid  [4][]uint16
	Wireframe []uint16
}

type edge struct {
	grid  func(n int) int
	skirt func(n int) int
	flip  bool
}

// BuildIndexData 生成整块、四个子块与线框索引
func BuildIndexData(size int, skirt bool) IndexData {
	half := (size - 1) / 2
	var d IndexData
	d.Solid = gridTriangles(nil, size, 0, 0, size-1, size-1)
	if skirt {
		d.Solid = skirtTriangles(d.Solid, size, 0, size-1, 0, size-1, SkirtTop, SkirtBottom, SkirtLeft, SkirtRight)
	}
	for k := 0; k < 4; k++ {
		i, j := k%2, k/2
		c0, r0 := i*half, j*half
		idx := gridTriangles(nil, size, c0, r0, c0+half, r0+half)
		if skirt {
			top, bottom := SkirtTop, SkirtCenter
			if j == 1 {
				top, bottom = SkirtCenter, SkirtBottom
			}
			left, right := SkirtLeft, SkirtMiddle
			if i == 1 {
				left, right = SkirtMiddle, SkirtRight
			}
			idx = skirtTriangles(idx, size, c0, c0+half, r0, r0+half, top, bottom, left, right)
		}
		d.SubSolid[k] = idx
	}
	d.Wireframe = wireframeLines(size)
	return d
}

// gridTriangles 列[c0,c1]、行[r0,r1]范围内的网格三角形
func gridTriangles(out []uint16, size, c0, r0, c1, r1 int) []uint16 {
	for j := r0; j < r1; j++ {
		for i := c0; i < c1; i++ {
			a := j*size + i
			b := (j+1)*size + i
			out = append(out,
				uint16(a), uint16(b), uint16(a+1),
				uint16(a+1), uint16(b), uint16(b+1))
		}
	}
	return out
}

// skirtTriangles 连接区域四条边与对应裙边的三角形
func skirtTriangles(out []uint16, size, c0, c1, r0, r1, top, bottom, left, right int) []uint16 {
	rowOf := func(row int) int {
		switch row {
		case SkirtTop:
			return 0
		case SkirtBottom:
			return size - 1
		}
		return (size - 1) / 2
	}
	colOf := func(row int) int {
		switch row {
		case SkirtLeft:
			return 0
		case SkirtRight:
			return size - 1
		}
		return (size - 1) / 2
	}

	edges := []edge{
		{grid: func(n int) int { return rowOf(top)*size + n }, skirt: func(n int) int { return SkirtStart(size, top) + n }},
		{grid: func(n int) int { return rowOf(bottom)*size + n }, skirt: func(n int) int { return SkirtStart(size, bottom) + n }, flip: true},
	}
	for _, e := range edges {
		for n := c0; n < c1; n++ {
			out = appendQuad(out, e.grid(n), e.grid(n+1), e.skirt(n), e.skirt(n+1), e.flip)
		}
	}
	edges = []edge{
		{grid: func(n int) int { return n*size + colOf(left) }, skirt: func(n int) int { return SkirtStart(size, left) + n }, flip: true},
		{grid: func(n int) int { return n*size + colOf(right) }, skirt: func(n int) int { return SkirtStart(size, right) + n }},
	}
	for _, e := range edges {
		for n := r0; n < r1; n++ {
			out = appendQuad(out, e.grid(n), e.grid(n+1), e.skirt(n), e.skirt(n+1), e.flip)
		}
	}
	return out
}

func appendQuad(out []uint16, g0, g1, s0, s1 int, flip bool) []uint16 {
	if flip {
		return append(out,
			uint16(g0), uint16(s0), uint16(g1),
			uint16(g1), uint16(s0), uint16(s1))
	}
	return append(out,
		uint16(s0), uint16(g0), uint16(s1),
		uint16(s1), uint16(g0), uint16(g1))
}

func wireframeLines(size int) []uint16 {
	var out []uint16
	for j := 0; j < size; j++ {
		for i := 0; i < size-1; i++ {
			out = append(out, uint16(j*size+i), uint16(j*size+i+1))
		}
	}
	for i := 0; i < size; i++ {
		for j := 0; j < size-1; j++ {
			out = append(out, uint16(j*size+i), uint16((j+1)*size+i))
		}
	}
	return out
}

// BuildTexCoords 网格与裙边的纹理坐标
func BuildTexCoords(size int, skirt bool) []float32 {
	n := size * size
	if skirt {
		n += 6 * size
	}
	tc := make([]float32, 0, n*2)
	step := 1 / float32(size-1)
	for j := 0; j < size; j++ {
		for i := 0; i < size; i++ {
			tc = append(tc, float32(i)*step, float32(j)*step)
		}
	}
	if !skirt {
		return tc
	}
	for i := 0; i < size; i++ {
		tc = append(tc, float32(i)*step, 0)
	}
	for i := 0; i < size; i++ {
		tc = append(tc, float32(i)*step, 1)
	}
	for j := 0; j < size; j++ {
		tc = append(tc, 0, float32(j)*step)
	}
	for j := 0; j < size; j++ {
		tc = append(tc, 1, float32(j)*step)
	}
	for i := 0; i < size; i++ {
		tc = append(tc, float32(i)*step, 0.5)
	}
	for j := 0; j < size; j++ {
		tc = append(tc, 0.5, float32(j)*step)
	}
	return tc
}
