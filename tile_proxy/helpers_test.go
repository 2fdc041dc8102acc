package tile_proxy

import (
	"context"
	"sync"
	"testing"

	"github.com/GrainArc/SouceTerrain/TerrainEdit"
	"github.com/GrainArc/SouceTerrain/Tin"
	"github.com/GrainArc/SouceTerrain/qmesh"
	"github.com/paulmach/orb"
)

var gridCodes = []uint16{0, 8192, 16384, 24576, qmesh.MaxShort}

// gridMesh 5x5 网格瓦片，三角形按条带排列
func gridMesh() *qmesh.Mesh {
	m := &qmesh.Mesh{}
	m.Header.MinimumHeight = 10
	m.Header.MaximumHeight = 300

	i := 0
	total := len(gridCodes) * len(gridCodes)
	for _, v := range gridCodes {
		for _, u := range gridCodes {
			m.U = append(m.U, u)
			m.V = append(m.V, v)
			m.H = append(m.H, uint16(i*qmesh.MaxShort/(total-1)))
			i++
		}
	}
	for k := 0; k+2 < total; k++ {
		m.Indices = append(m.Indices, uint32(k), uint32(k+1), uint32(k+2))
	}
	m.WestIndices = []uint32{0, 5, 10, 15, 20}
	m.SouthIndices = []uint32{0, 1, 2, 3, 4}
	m.EastIndices = []uint32{4, 9, 14, 19, 24}
	m.NorthIndices = []uint32{20, 21, 22, 23, 24}
	m.Extensions = []qmesh.Extension{{ID: qmesh.ExtensionMetadata, Data: []byte(`{"available":[]}`)}}
	return m
}

func gridTileBytes(t *testing.T, gzipped bool) []byte {
	t.Helper()
	data, err := gridMesh().Marshal()
	if err != nil {
		t.Fatalf("marshal grid mesh: %v", err)
	}
	if gzipped {
		if data, err = qmesh.Compress(data); err != nil {
			t.Fatalf("compress: %v", err)
		}
	}
	return data
}

// flatEdit 覆盖 [west,east]x[south,north] 的平坦编辑区域
func flatEdit(t *testing.T, name string, west, south, east, north, height float64) *TerrainEdit.EditRegion {
	t.Helper()
	polygon := orb.Polygon{orb.Ring{
		{west, south}, {east, south}, {east, north}, {west, north}, {west, south},
	}}
	w, h := east-west, north-south
	facet := Tin.NewTriangle(0,
		Tin.Point3D{X: west - w, Y: south - h, Z: height},
		Tin.Point3D{X: east + 3*w, Y: south - h, Z: height},
		Tin.Point3D{X: west - w, Y: north + 3*h, Z: height},
	)
	edit, err := TerrainEdit.NewEditRegion(name, polygon, []*Tin.Triangle3D{facet})
	if err != nil {
		t.Fatalf("edit %s: %v", name, err)
	}
	return edit
}

type fakeProvider struct {
	data   *TerrainData
	err    error
	scheme TilingScheme

	mu    sync.Mutex
	calls int
}

func (f *fakeProvider) RequestTileGeometry(ctx context.Context, x, y, level int) (*TerrainData, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.data, f.err
}

func (f *fakeProvider) TilingScheme() TilingScheme {
	if f.scheme == nil {
		return GeographicTilingScheme{}
	}
	return f.scheme
}
