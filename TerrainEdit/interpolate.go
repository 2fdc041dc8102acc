package TerrainEdit

import (
	"github.com/GrainArc/SouceTerrain/Tin"
	"github.com/paulmach/orb"
)

// Interpolate 在面片所在平面上求点的高程
// 退化面片返回 Tin.ErrDegenerateTriangle
func Interpolate(p orb.Point, facet *Tin.Triangle3D) (float64, error) {
	return Tin.InterpolateElevation(p[0], p[1], facet)
}
