package TerrainEdit

import (
	"github.com/GrainArc/SouceTerrain/Tin"
	"github.com/GrainArc/SouceTerrain/qmesh"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// FindContainingEdit 按输入顺序返回第一个包含该点的编辑区域，边界算在内
// 区域重叠时先出现者优先，因此保持线性扫描
func FindContainingEdit(p orb.Point, edits []*EditRegion) *EditRegion {
	for _, edit := range edits {
		if edit == nil || !edit.bound.Contains(p) {
			continue
		}
		if planar.PolygonContains(edit.Polygon, p) {
			return edit
		}
	}
	return nil
}

// FindContainingFacet 按输入顺序返回区域内第一个包含该点的面片
func FindContainingFacet(p orb.Point, edit *EditRegion) *Tin.Triangle3D {
	if edit == nil {
		return nil
	}
	for _, facet := range edit.Facets {
		if Tin.PointInTriangle(p[0], p[1], facet) {
			return facet
		}
	}
	return nil
}

// TileBound 瓦片范围（度）转 orb.Bound
func TileBound(rect qmesh.Rectangle) orb.Bound {
	west, south, east, north := rect.Degrees()
	return orb.Bound{Min: orb.Point{west, south}, Max: orb.Point{east, north}}
}

// RelevantEdits 筛选与瓦片相交的编辑区域，保持输入顺序
func RelevantEdits(rect qmesh.Rectangle, edits []*EditRegion) []*EditRegion {
	tileBound := TileBound(rect)
	var relevant []*EditRegion
	for _, edit := range edits {
		if edit != nil && intersectsTile(edit, tileBound) {
			relevant = append(relevant, edit)
		}
	}
	return relevant
}

// intersectsTile 多边形与瓦片是否有公共部分：
// 多边形顶点落在瓦片内、瓦片角点或中心落在多边形内，或边界相交
func intersectsTile(edit *EditRegion, tileBound orb.Bound) bool {
	if !edit.bound.Intersects(tileBound) {
		return false
	}

	for _, ring := range edit.Polygon {
		for _, p := range ring {
			if tileBound.Contains(p) {
				return true
			}
		}
	}

	corners := tileCorners(tileBound)
	for _, p := range corners {
		if planar.PolygonContains(edit.Polygon, p) {
			return true
		}
	}
	if planar.PolygonContains(edit.Polygon, tileBound.Center()) {
		return true
	}

	// 细长多边形穿过瓦片，顶点与角点都不在对方内部
	for _, ring := range edit.Polygon {
		for i := 0; i+1 < len(ring); i++ {
			for j := 0; j < 4; j++ {
				if segmentsIntersect(ring[i], ring[i+1], corners[j], corners[(j+1)%4]) {
					return true
				}
			}
		}
	}
	return false
}

func tileCorners(b orb.Bound) [4]orb.Point {
	return [4]orb.Point{
		b.Min,
		{b.Min[0], b.Max[1]},
		b.Max,
		{b.Max[0], b.Min[1]},
	}
}

func orientation(a, b, c orb.Point) float64 {
	return (b[0]-a[0])*(c[1]-a[1]) - (b[1]-a[1])*(c[0]-a[0])
}

func onSegment(a, b, p orb.Point) bool {
	return p[0] >= min(a[0], b[0]) && p[0] <= max(a[0], b[0]) &&
		p[1] >= min(a[1], b[1]) && p[1] <= max(a[1], b[1])
}

func segmentsIntersect(p1, p2, q1, q2 orb.Point) bool {
	d1 := orientation(q1, q2, p1)
	d2 := orientation(q1, q2, p2)
	d3 := orientation(p1, p2, q1)
	d4 := orientation(p1, p2, q2)

	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) && ((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	switch {
	case d1 == 0 && onSegment(q1, q2, p1):
		return true
	case d2 == 0 && onSegment(q1, q2, p2):
		return true
	case d3 == 0 && onSegment(p1, p2, q1):
		return true
	case d4 == 0 && onSegment(p1, p2, q2):
		return true
	}
	return false
}
