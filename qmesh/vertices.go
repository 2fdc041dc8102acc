package qmesh

import "math"

// Rectangle 瓦片地理范围（弧度）
type Rectangle struct {
	West  float64
	South float64
	East  float64
	North float64
}

// RectangleFromDegrees 由经纬度（度）构造范围
func RectangleFromDegrees(west, south, east, north float64) Rectangle {
	return Rectangle{
		West:  toRadians(west),
		South: toRadians(south),
		East:  toRadians(east),
		North: toRadians(north),
	}
}

// Degrees 返回 west, south, east, north（度）
func (r Rectangle) Degrees() (west, south, east, north float64) {
	return toDegrees(r.West), toDegrees(r.South), toDegrees(r.East), toDegrees(r.North)
}

// Vertex 地理空间顶点：经度、纬度（度）和高程（米）
type Vertex struct {
	Longitude float64
	Latitude  float64
	Height    float64
}

func toRadians(deg float64) float64 { return deg * math.Pi / 180.0 }

func toDegrees(rad float64) float64 { return rad * 180.0 / math.Pi }

func lerp(p, q, t float64) float64 { return (1-t)*p + t*q }

// quantize 将[0,1]内的比例量化到[0,32767]，四舍五入并截断越界值
func quantize(t float64) uint16 {
	if math.IsNaN(t) {
		return 0
	}
	code := math.Round(t * MaxShort)
	if code < 0 {
		return 0
	}
	if code > MaxShort {
		return MaxShort
	}
	return uint16(code)
}

// DecodeVertices 平面布局量化顶点 -> 地理空间顶点
func DecodeVertices(buf []uint16, rect Rectangle, minimumHeight, maximumHeight float64) []Vertex {
	n := len(buf) / 3
	vertices := make([]Vertex, n)
	for i := 0; i < n; i++ {
		u := float64(buf[i]) / MaxShort
		v := float64(buf[i+n]) / MaxShort
		h := float64(buf[i+2*n]) / MaxShort

		vertices[i] = Vertex{
			Longitude: toDegrees(lerp(rect.West, rect.East, u)),
			Latitude:  toDegrees(lerp(rect.South, rect.North, v)),
			Height:    lerp(minimumHeight, maximumHeight, h),
		}
	}
	return vertices
}

// EncodeVertices 地理空间顶点 -> 平面布局量化顶点
// 高程范围退化（max == min）时高程编码恒为0
func EncodeVertices(vertices []Vertex, rect Rectangle, minimumHeight, maximumHeight float64) []uint16 {
	n := len(vertices)
	buf := make([]uint16, 3*n)

	width := rect.East - rect.West
	height := rect.North - rect.South
	heightRange := maximumHeight - minimumHeight

	for i, p := range vertices {
		if width != 0 {
			buf[i] = quantize((toRadians(p.Longitude) - rect.West) / width)
		}
		if height != 0 {
			buf[i+n] = quantize((toRadians(p.Latitude) - rect.South) / height)
		}
		if heightRange != 0 {
			buf[i+2*n] = quantize((p.Height - minimumHeight) / heightRange)
		}
	}
	return buf
}
