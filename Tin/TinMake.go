package Tin

import (
	"math"
)

// 找到距离二维点最近的控制点，返回其高程
func findNearestElevation(p *Point2D, points3D []*Point3D) float64 {
	if len(points3D) == 0 {
		return 0.0
	}

	minDistance := math.Inf(1)
	nearestZ := points3D[0].Z
	for _, p3d := range points3D {
		dist := math.Hypot(p3d.X-p.X, p3d.Y-p.Y)
		if dist < minDistance {
			minDistance = dist
			nearestZ = p3d.Z
		}
	}
	return nearestZ
}

// 剖分过程中的三角形，缓存外接圆
type workTriangle struct {
	tri        *Triangle3D
	cx, cy, r2 float64
}

func newWorkTriangle(p1, p2, p3 *Point3D) *workTriangle {
	w := &workTriangle{tri: &Triangle3D{P1: p1, P2: p2, P3: p3}}

	ax, ay := p1.X, p1.Y
	bx, by := p2.X, p2.Y
	cx, cy := p3.X, p3.Y
	d := 2 * (ax*(by-cy) + bx*(cy-ay) + cx*(ay-by))
	if math.Abs(d) < 1e-10 {
		// 共线：外接圆无穷大，不会被后续点击中
		w.r2 = -1
		return w
	}
	ux := (ax*ax+ay*ay)*(by-cy) + (bx*bx+by*by)*(cy-ay) + (cx*cx+cy*cy)*(ay-by)
	uy := (ax*ax+ay*ay)*(cx-bx) + (bx*bx+by*by)*(ax-cx) + (cx*cx+cy*cy)*(bx-ax)
	w.cx = ux / d
	w.cy = uy / d
	w.r2 = (w.cx-ax)*(w.cx-ax) + (w.cy-ay)*(w.cy-ay)
	return w
}

func (w *workTriangle) inCircumcircle(p *Point3D) bool {
	if w.r2 < 0 {
		return false
	}
	dx, dy := p.X-w.cx, p.Y-w.cy
	return dx*dx+dy*dy < w.r2
}

// 超级三角形，包住所有点
func superTriangle(points []*Point3D) *workTriangle {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range points {
		minX, maxX = math.Min(minX, p.X), math.Max(maxX, p.X)
		minY, maxY = math.Min(minY, p.Y), math.Max(maxY, p.Y)
	}

	deltaMax := math.Max(maxX-minX, maxY-minY)
	midX := (minX + maxX) / 2
	midY := (minY + maxY) / 2

	return newWorkTriangle(
		&Point3D{X: midX - 20*deltaMax, Y: midY - deltaMax, ID: -1},
		&Point3D{X: midX, Y: midY + 20*deltaMax, ID: -2},
		&Point3D{X: midX + 20*deltaMax, Y: midY - deltaMax, ID: -3},
	)
}

type edgeKey struct{ a, b *Point3D }

func makeEdgeKey(p, q *Point3D) edgeKey {
	if p.ID > q.ID {
		p, q = q, p
	}
	return edgeKey{p, q}
}

// Bowyer-Watson Delaunay三角剖分
func delaunayTriangulation3D(points []*Point3D) []*Triangle3D {
	if len(points) < 3 {
		return nil
	}

	triangles := []*workTriangle{superTriangle(points)}

	for _, point := range points {
		// 外接圆包含当前点的三角形构成空腔，空腔边界为只出现一次的边
		edgeCount := make(map[edgeKey]int)
		var order []edgeKey
		kept := triangles[:0:0]
		for _, w := range triangles {
			if !w.inCircumcircle(point) {
				kept = append(kept, w)
				continue
			}
			t := w.tri
			for _, e := range [3][2]*Point3D{{t.P1, t.P2}, {t.P2, t.P3}, {t.P3, t.P1}} {
				key := makeEdgeKey(e[0], e[1])
				if edgeCount[key] == 0 {
					order = append(order, key)
				}
				edgeCount[key]++
			}
		}

		triangles = kept
		for _, key := range order {
			if edgeCount[key] == 1 {
				triangles = append(triangles, newWorkTriangle(key.a, key.b, point))
			}
		}
	}

	// 移除包含超级三角形顶点的三角形
	var result []*Triangle3D
	for _, w := range triangles {
		t := w.tri
		if t.P1.ID >= 0 && t.P2.ID >= 0 && t.P3.ID >= 0 {
			result = append(result, t)
		}
	}
	return result
}

// CreateTIN3D 由多边形边界与三维控制点构建TIN
// 多边形顶点高程取最近控制点的高程
func CreateTIN3D(polygon *Polygon2D, points3D []*Point3D) *TIN3D {
	allPoints3D := make([]*Point3D, 0, len(polygon.Points)+len(points3D))
	for _, p2d := range polygon.Points {
		allPoints3D = append(allPoints3D, &Point3D{
			X: p2d.X, Y: p2d.Y, Z: findNearestElevation(p2d, points3D), ID: len(allPoints3D),
		})
	}
	for _, p := range points3D {
		allPoints3D = append(allPoints3D, &Point3D{X: p.X, Y: p.Y, Z: p.Z, ID: len(allPoints3D)})
	}

	// 剔除共线点产生的退化三角形
	var triangles []*Triangle3D
	for _, triangle := range delaunayTriangulation3D(allPoints3D) {
		if !triangle.IsDegenerate() {
			triangle.ID = len(triangles)
			triangles = append(triangles, triangle)
		}
	}

	tin := &TIN3D{Points: allPoints3D, Triangles: triangles}
	tin.buildEdges()
	return tin
}

func (tin *TIN3D) buildEdges() {
	seen := make(map[edgeKey]bool)
	tin.Edges = tin.Edges[:0]
	for _, t := range tin.Triangles {
		for _, e := range [3][2]*Point3D{{t.P1, t.P2}, {t.P2, t.P3}, {t.P3, t.P1}} {
			key := makeEdgeKey(e[0], e[1])
			if !seen[key] {
				seen[key] = true
				tin.Edges = append(tin.Edges, &Edge3D{P1: e[0], P2: e[1]})
			}
		}
	}
}

// Clip 仅保留质心满足 inside 的三角形（凸包剖分裁剪到凹多边形）
func (tin *TIN3D) Clip(inside func(x, y float64) bool) {
	kept := tin.Triangles[:0]
	for _, t := range tin.Triangles {
		cx := (t.P1.X + t.P2.X + t.P3.X) / 3
		cy := (t.P1.Y + t.P2.Y + t.P3.Y) / 3
		if inside(cx, cy) {
			t.ID = len(kept)
			kept = append(kept, t)
		}
	}
	tin.Triangles = kept
	tin.buildEdges()
}
