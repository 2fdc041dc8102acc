// Package qmesh 量化网格(quantized-mesh-1.0)地形瓦片编解码
package qmesh

import (
	"encoding/binary"
	"math"
)

// HeaderSize 瓦片头固定长度
const HeaderSize = 88

// Header 瓦片头，全部为小端序
type Header struct {
	// 瓦片中心（ECEF）
	CenterX float64
	CenterY float64
	CenterZ float64

	// 瓦片内最小、最大高程
	MinimumHeight float32
	MaximumHeight float32

	// 包围球（ECEF）
	BoundingSphereCenterX float64
	BoundingSphereCenterY float64
	BoundingSphereCenterZ float64
	BoundingSphereRadius  float64

	// 地平线遮挡点（椭球缩放空间）
	HorizonOcclusionPointX float64
	HorizonOcclusionPointY float64
	HorizonOcclusionPointZ float64
}

func (h *Header) decode(b []byte) {
	le := binary.LittleEndian
	f64 := func(off int) float64 { return math.Float64frombits(le.Uint64(b[off:])) }
	f32 := func(off int) float32 { return math.Float32frombits(le.Uint32(b[off:])) }

	h.CenterX = f64(0)
	h.CenterY = f64(8)
	h.CenterZ = f64(16)
	h.MinimumHeight = f32(24)
	h.MaximumHeight = f32(28)
	h.BoundingSphereCenterX = f64(32)
	h.BoundingSphereCenterY = f64(40)
	h.BoundingSphereCenterZ = f64(48)
	h.BoundingSphereRadius = f64(56)
	h.HorizonOcclusionPointX = f64(64)
	h.HorizonOcclusionPointY = f64(72)
	h.HorizonOcclusionPointZ = f64(80)
}

func (h *Header) encode(b []byte) {
	le := binary.LittleEndian
	f64 := func(off int, v float64) { le.PutUint64(b[off:], math.Float64bits(v)) }
	f32 := func(off int, v float32) { le.PutUint32(b[off:], math.Float32bits(v)) }

	f64(0, h.CenterX)
	f64(8, h.CenterY)
	f64(16, h.CenterZ)
	f32(24, h.MinimumHeight)
	f32(28, h.MaximumHeight)
	f64(32, h.BoundingSphereCenterX)
	f64(40, h.BoundingSphereCenterY)
	f64(48, h.BoundingSphereCenterZ)
	f64(56, h.BoundingSphereRadius)
	f64(64, h.HorizonOcclusionPointX)
	f64(72, h.HorizonOcclusionPointY)
	f64(80, h.HorizonOcclusionPointZ)
}
