package Tin

// Point3D 三维点，X/Y为经纬度，Z为高程
type Point3D struct {
	X, Y, Z float64
	ID      int
}

// Point2D 二维点
type Point2D struct {
	X, Y float64
	ID   int
}

// Triangle3D 三角面片，三个角点带高程
type Triangle3D struct {
	P1, P2, P3 *Point3D
	ID         int
}

// Edge3D 三维边
type Edge3D struct {
	P1, P2 *Point3D
}

// Polygon2D 二维多边形（不含闭合点）
type Polygon2D struct {
	Points []*Point2D
}

// TIN3D 三维三角不规则网络，Triangles 的顺序即匹配顺序
type TIN3D struct {
	Points    []*Point3D
	Triangles []*Triangle3D
	Edges     []*Edge3D
}

// NewTriangle 由三个角点构造三角面片
func NewTriangle(id int, p1, p2, p3 Point3D) *Triangle3D {
	return &Triangle3D{P1: &p1, P2: &p2, P3: &p3, ID: id}
}
