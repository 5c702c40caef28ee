package tile_manager

import (
	"fmt"

	"github.com/GrainArc/SouceGlobe/gpu"
	"github.com/GrainArc/SouceGlobe/tiling"
)

// indexBuffers 同一细分数下所有瓦片共享的索引与纹理坐标
type indexBuffers struct {
	size  int
	skirt bool

	solid      gpu.Buffer
	solidCount int
	sub        [4]gpu.Buffer
	subCount   [4]int
	wireframe  gpu.Buffer
	wireCount  int
	texCoords  gpu.Buffer
}

func newIndexBuffers(device gpu.Device, size int, skirt bool) (*indexBuffers, error) {
	data := tiling.BuildIndexData(size, skirt)
	ib := &indexBuffers{size: size, skirt: skirt}

	upload := func(indices []uint16) (gpu.Buffer, error) {
		b := device.CreateBuffer()
		if err := device.BufferData(b, gpu.ElementArrayBuffer, indices); err != nil {
			device.DeleteBuffer(b)
			return 0, err
		}
		return b, nil
	}

	var err error
	if ib.solid, err = upload(data.Solid); err != nil {
		return nil, fmt.Errorf("upload solid indices: %w", err)
	}
	ib.solidCount = len(data.Solid)
	for k := 0; k < 4; k++ {
		if ib.sub[k], err = upload(data.SubSolid[k]); err != nil {
			ib.dispose(device)
			return nil, fmt.Errorf("upload sub indices: %w", err)
		}
		ib.subCount[k] = len(data.SubSolid[k])
	}
	if ib.wireframe, err = upload(data.Wireframe); err != nil {
		ib.dispose(device)
		return nil, fmt.Errorf("upload wireframe indices: %w", err)
	}
	ib.wireCount = len(data.Wireframe)

	ib.texCoords = device.CreateBuffer()
	if err := device.BufferData(ib.texCoords, gpu.ArrayBuffer, tiling.BuildTexCoords(size, skirt)); err != nil {
		ib.dispose(device)
		return nil, fmt.Errorf("upload tex coords: %w", err)
	}
	return ib, nil
}

func (ib *indexBuffers) dispose(device gpu.Device) {
	for _, b := range append([]gpu.Buffer{ib.solid, ib.wireframe, ib.texCoords}, ib.sub[:]...) {
		if b != 0 {
			device.DeleteBuffer(b)
		}
	}
	*ib = indexBuffers{size: ib.size, skirt: ib.skirt}
}
