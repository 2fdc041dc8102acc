package TerrainEdit

import (
	"fmt"

	"github.com/GrainArc/SouceTerrain/Tin"
	"github.com/paulmach/orb"
)

// EditRegion 编辑区域：多边形边界 + 有序三角面片
// 构造后只读，可在多个瓦片请求间共享
type EditRegion struct {
	Name    string
	Polygon orb.Polygon
	Facets  []*Tin.Triangle3D

	bound orb.Bound
}

// NewEditRegion 校验并构造编辑区域
// 外环至少3个不同顶点，面片不得退化
func NewEditRegion(name string, polygon orb.Polygon, facets []*Tin.Triangle3D) (*EditRegion, error) {
	if len(polygon) == 0 {
		return nil, fmt.Errorf("edit %q: polygon has no rings", name)
	}
	for i, ring := range polygon {
		if len(ring) < 3 {
			return nil, fmt.Errorf("edit %q: ring %d has %d points, need at least 3", name, i, len(ring))
		}
	}

	tin := &Tin.TIN3D{Triangles: facets}
	if err := tin.Validate(); err != nil {
		return nil, fmt.Errorf("edit %q: %w", name, err)
	}

	// orb要求环闭合
	closed := make(orb.Polygon, len(polygon))
	for i, ring := range polygon {
		r := append(orb.Ring(nil), ring...)
		if !r.Closed() {
			r = append(r, r[0])
		}
		closed[i] = r
	}

	return &EditRegion{
		Name:    name,
		Polygon: closed,
		Facets:  facets,
		bound:   closed.Bound(),
	}, nil
}

// Bound 多边形外包矩形
func (e *EditRegion) Bound() orb.Bound {
	return e.bound
}

// TIN 以面片构成的TIN视图
func (e *EditRegion) TIN() *Tin.TIN3D {
	return &Tin.TIN3D{Triangles: e.Facets}
}
