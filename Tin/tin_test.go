package Tin

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
)

func TestPointInTriangle(t *testing.T) {
	tri := NewTriangle(0, Point3D{X: 0, Y: 0}, Point3D{X: 4, Y: 0}, Point3D{X: 0, Y: 4})

	cases := []struct {
		name   string
		x, y   float64
		inside bool
	}{
		{"interior", 1, 1, true},
		{"vertex", 0, 0, true},
		{"edge", 2, 0, true},
		{"hypotenuse", 2, 2, true},
		{"outside", 3, 3, false},
		{"negative", -0.1, 1, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := PointInTriangle(tc.x, tc.y, tri); got != tc.inside {
				t.Fatalf("PointInTriangle(%v,%v) = %v, want %v", tc.x, tc.y, got, tc.inside)
			}
		})
	}

	degenerate := NewTriangle(1, Point3D{X: 0, Y: 0}, Point3D{X: 1, Y: 1}, Point3D{X: 2, Y: 2})
	if PointInTriangle(1, 1, degenerate) {
		t.Fatal("degenerate triangle must not contain points")
	}
}

func TestInterpolateElevation(t *testing.T) {
	flat := NewTriangle(0, Point3D{X: 120, Y: 30, Z: 100}, Point3D{X: 140, Y: 30, Z: 100}, Point3D{X: 125, Y: 50, Z: 100})
	for _, p := range [][2]float64{{124, 33}, {130, 38}, {127.123456, 35.987654}} {
		h, err := InterpolateElevation(p[0], p[1], flat)
		if err != nil {
			t.Fatalf("interpolate: %v", err)
		}
		if h != 100 {
			t.Fatalf("flat facet at %v gave %v, want exactly 100", p, h)
		}
	}

	// z = 10 + 2x + 3y
	plane := func(x, y float64) float64 { return 10 + 2*x + 3*y }
	sloped := NewTriangle(1,
		Point3D{X: 0, Y: 0, Z: plane(0, 0)},
		Point3D{X: 10, Y: 0, Z: plane(10, 0)},
		Point3D{X: 0, Y: 10, Z: plane(0, 10)},
	)
	for _, p := range [][2]float64{{0, 0}, {2.5, 2.5}, {5, 5}, {1, 8}} {
		h, err := InterpolateElevation(p[0], p[1], sloped)
		if err != nil {
			t.Fatalf("interpolate: %v", err)
		}
		if math.Abs(h-plane(p[0], p[1])) > 1e-9 {
			t.Fatalf("sloped facet at %v gave %v, want %v", p, h, plane(p[0], p[1]))
		}
	}
}

func TestInterpolateDegenerate(t *testing.T) {
	tri := NewTriangle(0, Point3D{X: 1, Y: 1, Z: 5}, Point3D{X: 2, Y: 2, Z: 6}, Point3D{X: 3, Y: 3, Z: 7})
	h, err := InterpolateElevation(2, 2, tri)
	if !errors.Is(err, ErrDegenerateTriangle) {
		t.Fatalf("expected ErrDegenerateTriangle, got %v (h=%v)", err, h)
	}
	if math.IsNaN(h) {
		t.Fatal("degenerate interpolation returned NaN")
	}

	tin := &TIN3D{Triangles: []*Triangle3D{tri}}
	if err := tin.Validate(); !errors.Is(err, ErrDegenerateTriangle) {
		t.Fatalf("Validate: expected ErrDegenerateTriangle, got %v", err)
	}
}

func TestTinyFacetIsNotDegenerate(t *testing.T) {
	// 边长约 1e-7 度的小三角形
	const d = 1e-7
	tri := NewTriangle(0,
		Point3D{X: 120, Y: 30, Z: 10},
		Point3D{X: 120 + d, Y: 30, Z: 20},
		Point3D{X: 120, Y: 30 + d, Z: 30},
	)
	if tri.IsDegenerate() {
		t.Fatal("tiny facet reported degenerate")
	}
	px, py := 120+d/4, 30+d/4
	if !PointInTriangle(px, py, tri) {
		t.Fatal("point inside tiny facet not contained")
	}
	h, err := InterpolateElevation(px, py, tri)
	if err != nil {
		t.Fatalf("interpolate: %v", err)
	}
	if math.Abs(h-17.5) > 1e-4 {
		t.Fatalf("height = %v, want 17.5", h)
	}
	if err := (&TIN3D{Triangles: []*Triangle3D{tri}}).Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	// 大尺度下面积近零的狭长三角形仍判为退化
	sliver := NewTriangle(1, Point3D{X: 0, Y: 0}, Point3D{X: 1, Y: 0}, Point3D{X: 2, Y: 1e-13})
	if !sliver.IsDegenerate() {
		t.Fatal("sliver not degenerate")
	}
	same := NewTriangle(2, Point3D{X: 5, Y: 5}, Point3D{X: 5, Y: 5}, Point3D{X: 5, Y: 5})
	if !same.IsDegenerate() || PointInTriangle(5, 5, same) {
		t.Fatal("coincident corners not degenerate")
	}
}

func TestFindTriangleFirstMatchWins(t *testing.T) {
	first := NewTriangle(0, Point3D{X: 0, Y: 0, Z: 1}, Point3D{X: 2, Y: 0, Z: 1}, Point3D{X: 0, Y: 2, Z: 1})
	second := NewTriangle(1, Point3D{X: 0, Y: 0, Z: 9}, Point3D{X: 3, Y: 0, Z: 9}, Point3D{X: 0, Y: 3, Z: 9})
	tin := &TIN3D{Triangles: []*Triangle3D{first, second}}

	if got := tin.FindTriangle(0.5, 0.5); got != first {
		t.Fatalf("overlap resolved to triangle %d, want 0", got.ID)
	}
	if got := tin.FindTriangle(2, 0.5); got != second {
		t.Fatal("point only in second triangle not matched")
	}
	if got := tin.FindTriangle(5, 5); got != nil {
		t.Fatal("point outside all triangles matched")
	}

	h, err := tin.GetElevationAt(0.5, 0.5)
	if err != nil || h != 1 {
		t.Fatalf("GetElevationAt = %v, %v", h, err)
	}
	if _, err := tin.GetElevationAt(5, 5); err == nil {
		t.Fatal("expected error outside TIN")
	}
}

func TestCreateTIN3D(t *testing.T) {
	polygon, err := CoordsToPolygon2D([][]float64{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}})
	if err != nil {
		t.Fatalf("polygon: %v", err)
	}
	if len(polygon.Points) != 4 {
		t.Fatalf("closing point not removed: %d points", len(polygon.Points))
	}

	controls, err := CoordsToPoint3D([][]float64{{5, 5, 20}, {2, 7, 0}, {8, 3, 40}})
	if err != nil {
		t.Fatalf("controls: %v", err)
	}

	tin := CreateTIN3D(polygon, controls)
	if len(tin.Points) != 7 {
		t.Fatalf("points = %d, want 7", len(tin.Points))
	}
	if len(tin.Triangles) == 0 {
		t.Fatal("no triangles produced")
	}
	if err := tin.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	// 剖分覆盖整个正方形，面积之和为100
	var area float64
	for _, tri := range tin.Triangles {
		area += tri.PlanarArea()
	}
	if math.Abs(area-100) > 1e-6 {
		t.Fatalf("triangulated area = %v, want 100", area)
	}

	h, err := tin.GetElevationAt(5, 5)
	if err != nil || math.Abs(h-20) > 1e-9 {
		t.Fatalf("height at control point = %v, %v", h, err)
	}

	tin.Clip(func(x, y float64) bool { return x < 5 })
	for i, tri := range tin.Triangles {
		if tri.ID != i {
			t.Fatalf("triangle ids not renumbered after clip")
		}
		cx := (tri.P1.X + tri.P2.X + tri.P3.X) / 3
		if cx >= 5 {
			t.Fatalf("triangle with centroid x=%v survived clip", cx)
		}
	}
}

func TestGeometryToTriangle3D(t *testing.T) {
	raw := json.RawMessage(`{"type":"Polygon","coordinates":[[[124,33,10],[130,33,20],[127,38,30],[124,33,10]]]}`)
	tri, err := GeometryToTriangle3D(raw, nil, 7)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if tri.ID != 7 || tri.P2.Z != 20 || tri.P3.X != 127 {
		t.Fatalf("unexpected triangle %+v %+v %+v", tri.P1, tri.P2, tri.P3)
	}

	tri, err = GeometryToTriangle3D(json.RawMessage(`{"type":"Polygon","coordinates":[[[0,0],[1,0],[0,1],[0,0]]]}`), []float64{1, 2, 3}, 0)
	if err != nil {
		t.Fatalf("parse with heights: %v", err)
	}
	if tri.P1.Z != 1 || tri.P3.Z != 3 {
		t.Fatal("heights override not applied")
	}

	if _, err := GeometryToTriangle3D(json.RawMessage(`{"type":"Polygon","coordinates":[[[0,0],[1,0],[0,1],[0,0]]]}`), nil, 0); err == nil {
		t.Fatal("expected error for triangle without heights")
	}
	if _, err := GeometryToTriangle3D(json.RawMessage(`{"type":"Polygon","coordinates":[[[0,0,1],[1,0,1],[1,1,1],[0,1,1],[0,0,1]]]}`), nil, 0); err == nil {
		t.Fatal("expected error for quad ring")
	}
	if _, err := GeometryToTriangle3D(json.RawMessage(`{"type":"Point","coordinates":[0,0]}`), nil, 0); err == nil {
		t.Fatal("expected error for non-polygon")
	}
}
