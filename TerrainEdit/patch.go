package TerrainEdit

import (
	"errors"
	"fmt"
	"math"

	"github.com/GrainArc/SouceTerrain/qmesh"
	"github.com/paulmach/orb"
)

// TileData 待修补的地形瓦片：平面布局量化顶点 + 高程范围
type TileData struct {
	Quantized     []uint16
	MinimumHeight float64
	MaximumHeight float64
}

// PatchResult 单个瓦片的修补统计
type PatchResult struct {
	RelevantEdits   int
	PatchedVertices int
}

// Modified 是否改写了瓦片
func (r PatchResult) Modified() bool {
	return r.RelevantEdits > 0
}

// Patch 用编辑区域的面片高程改写瓦片顶点
// 无相关编辑时瓦片原样返回；插值失败时瓦片保持不变
func Patch(tile *TileData, rect qmesh.Rectangle, edits []*EditRegion) (PatchResult, error) {
	if tile == nil {
		return PatchResult{}, errors.New("terrain edit: nil tile")
	}
	if len(tile.Quantized)%3 != 0 {
		return PatchResult{}, fmt.Errorf("terrain edit: quantized buffer length %d is not a multiple of 3", len(tile.Quantized))
	}

	relevant := RelevantEdits(rect, edits)
	if len(relevant) == 0 {
		return PatchResult{}, nil
	}
	result := PatchResult{RelevantEdits: len(relevant)}

	vertices := qmesh.DecodeVertices(tile.Quantized, rect, tile.MinimumHeight, tile.MaximumHeight)
	for i := range vertices {
		p := orb.Point{vertices[i].Longitude, vertices[i].Latitude}
		edit := FindContainingEdit(p, relevant)
		if edit == nil {
			continue
		}
		facet := FindContainingFacet(p, edit)
		if facet == nil {
			continue
		}
		h, err := Interpolate(p, facet)
		if err != nil {
			return PatchResult{}, fmt.Errorf("edit %q facet %d: %w", edit.Name, facet.ID, err)
		}
		vertices[i].Height = h
		result.PatchedVertices++
	}

	minimumHeight, maximumHeight := heightRange(vertices)
	tile.Quantized = qmesh.EncodeVertices(vertices, rect, minimumHeight, maximumHeight)
	tile.MinimumHeight = minimumHeight
	tile.MaximumHeight = maximumHeight
	return result, nil
}

// heightRange 顶点高程范围，向外取整到float32可表示值
func heightRange(vertices []qmesh.Vertex) (float64, float64) {
	if len(vertices) == 0 {
		return 0, 0
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range vertices {
		lo = math.Min(lo, v.Height)
		hi = math.Max(hi, v.Height)
	}
	return floorFloat32(lo), ceilFloat32(hi)
}

func floorFloat32(v float64) float64 {
	f := float32(v)
	if float64(f) > v {
		f = math.Nextafter32(f, float32(math.Inf(-1)))
	}
	return float64(f)
}

func ceilFloat32(v float64) float64 {
	f := float32(v)
	if float64(f) < v {
		f = math.Nextafter32(f, float32(math.Inf(1)))
	}
	return float64(f)
}
