package Tin

import (
	"errors"
	"fmt"
	"math"
)

// ErrDegenerateTriangle 三角形面积为零，无法定义平面
var ErrDegenerateTriangle = errors.New("tin: degenerate triangle")

// 面积判零的相对阈值，与最长边平方相乘
const degenerateEpsilon = 1e-12

// 重心坐标容差，使边界上的点稳定地判为在内
const baryEpsilon = 1e-9

// 三角形平面投影的有向面积的两倍
func crossProductZ(p1, p2, p3 *Point3D) float64 {
	return (p2.X-p1.X)*(p3.Y-p1.Y) - (p3.X-p1.X)*(p2.Y-p1.Y)
}

// PlanarArea 三角形在XY平面上的面积
func (t *Triangle3D) PlanarArea() float64 {
	return math.Abs(crossProductZ(t.P1, t.P2, t.P3)) / 2.0
}

// IsDegenerate 判断三角形是否退化，阈值随三角形尺度缩放
func (t *Triangle3D) IsDegenerate() bool {
	return isDegenerate(crossProductZ(t.P1, t.P2, t.P3), t)
}

func isDegenerate(cross float64, t *Triangle3D) bool {
	scale := maxEdgeSquared(t)
	return scale == 0 || math.Abs(cross) <= degenerateEpsilon*scale
}

// 平面投影最长边的平方
func maxEdgeSquared(t *Triangle3D) float64 {
	d := func(a, b *Point3D) float64 {
		dx, dy := b.X-a.X, b.Y-a.Y
		return dx*dx + dy*dy
	}
	return math.Max(d(t.P1, t.P2), math.Max(d(t.P2, t.P3), d(t.P3, t.P1)))
}

// barycentric 计算重心坐标，退化三角形返回 ok=false
func barycentric(px, py float64, t *Triangle3D) (a, b, c float64, ok bool) {
	x1, y1 := t.P1.X, t.P1.Y
	x2, y2 := t.P2.X, t.P2.Y
	x3, y3 := t.P3.X, t.P3.Y

	denominator := (y2-y3)*(x1-x3) + (x3-x2)*(y1-y3)
	if isDegenerate(denominator, t) {
		return 0, 0, 0, false
	}

	a = ((y2-y3)*(px-x3) + (x3-x2)*(py-y3)) / denominator
	b = ((y3-y1)*(px-x3) + (x1-x3)*(py-y3)) / denominator
	c = 1 - a - b
	return a, b, c, true
}

// PointInTriangle 判断二维点是否在三角形内（含边界）
// 退化三角形不包含任何点
func PointInTriangle(px, py float64, t *Triangle3D) bool {
	a, b, c, ok := barycentric(px, py, t)
	if !ok {
		return false
	}
	return a >= -baryEpsilon && b >= -baryEpsilon && c >= -baryEpsilon
}

// InterpolateElevation 在三角形所在平面上插值高程
// 以P3为基点展开，三个角点高程相同时结果严格等于该高程
func InterpolateElevation(px, py float64, t *Triangle3D) (float64, error) {
	a, b, _, ok := barycentric(px, py, t)
	if !ok {
		return 0, fmt.Errorf("%w: (%.8f,%.8f) (%.8f,%.8f) (%.8f,%.8f)",
			ErrDegenerateTriangle, t.P1.X, t.P1.Y, t.P2.X, t.P2.Y, t.P3.X, t.P3.Y)
	}
	z1, z2, z3 := t.P1.Z, t.P2.Z, t.P3.Z
	return z3 + a*(z1-z3) + b*(z2-z3), nil
}

// FindTriangle 按顺序查找第一个包含该点的三角形
func (tin *TIN3D) FindTriangle(x, y float64) *Triangle3D {
	for _, triangle := range tin.Triangles {
		if PointInTriangle(x, y, triangle) {
			return triangle
		}
	}
	return nil
}

// GetElevationAt 获取二维点在TIN上的投影高程
func (tin *TIN3D) GetElevationAt(x, y float64) (float64, error) {
	triangle := tin.FindTriangle(x, y)
	if triangle == nil {
		return 0, fmt.Errorf("point (%.6f, %.6f) is not inside any triangle of the TIN", x, y)
	}
	return InterpolateElevation(x, y, triangle)
}

// Validate 检查TIN中是否存在退化三角形
func (tin *TIN3D) Validate() error {
	for i, triangle := range tin.Triangles {
		if triangle == nil || triangle.P1 == nil || triangle.P2 == nil || triangle.P3 == nil {
			return fmt.Errorf("triangle %d: missing corner", i)
		}
		if triangle.IsDegenerate() {
			return fmt.Errorf("triangle %d: %w", i, ErrDegenerateTriangle)
		}
	}
	return nil
}
