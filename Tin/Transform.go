package Tin

import (
	"encoding/json"
	"fmt"
	"math"
)

// CoordsToPoint3D 坐标数组 [[x,y,z],...] 转三维点，缺省Z为0
func CoordsToPoint3D(coords [][]float64) ([]*Point3D, error) {
	if len(coords) == 0 {
		return nil, fmt.Errorf("coords is empty")
	}

	points := make([]*Point3D, len(coords))
	for i, coord := range coords {
		if len(coord) < 2 {
			return nil, fmt.Errorf("coordinate at index %d has insufficient dimensions (need at least 2, got %d)", i, len(coord))
		}
		if !validCoord(coord) {
			return nil, fmt.Errorf("invalid coordinate at index %d: %v", i, coord)
		}

		point := &Point3D{X: coord[0], Y: coord[1], ID: i}
		if len(coord) >= 3 {
			point.Z = coord[2]
		}
		points[i] = point
	}

	return points, nil
}

// GeoJSONGeometry GeoJSON几何对象，坐标保留原始JSON以读取Z值
type GeoJSONGeometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// TriangleFromCoordinates 由三角形环坐标构造面片
// 环可带闭合点；heights 非空时覆盖坐标中的Z值
func TriangleFromCoordinates(ring [][]float64, heights []float64, id int) (*Triangle3D, error) {
	if len(ring) == 4 && samePoint(ring[0], ring[3]) {
		ring = ring[:3]
	}
	if len(ring) != 3 {
		return nil, fmt.Errorf("triangle %d: ring must have 3 distinct corners, got %d", id, len(ring))
	}
	if heights != nil && len(heights) != 3 {
		return nil, fmt.Errorf("triangle %d: need 3 corner heights, got %d", id, len(heights))
	}

	var corners [3]Point3D
	for i, coord := range ring {
		if len(coord) < 2 || !validCoord(coord) {
			return nil, fmt.Errorf("triangle %d: invalid corner %d: %v", id, i, coord)
		}
		corners[i] = Point3D{X: coord[0], Y: coord[1], ID: i}
		switch {
		case heights != nil:
			corners[i].Z = heights[i]
		case len(coord) >= 3:
			corners[i].Z = coord[2]
		default:
			return nil, fmt.Errorf("triangle %d: corner %d has no height", id, i)
		}
	}

	return NewTriangle(id, corners[0], corners[1], corners[2]), nil
}

// GeometryToTriangle3D 解析GeoJSON Polygon几何为三角面片
func GeometryToTriangle3D(geometry json.RawMessage, heights []float64, id int) (*Triangle3D, error) {
	var geom GeoJSONGeometry
	if err := json.Unmarshal(geometry, &geom); err != nil {
		return nil, fmt.Errorf("failed to parse triangle geometry: %w", err)
	}
	if geom.Type != "Polygon" {
		return nil, fmt.Errorf("triangle %d: unsupported geometry type %s (only Polygon is supported)", id, geom.Type)
	}

	var rings [][][]float64
	if err := json.Unmarshal(geom.Coordinates, &rings); err != nil {
		return nil, fmt.Errorf("failed to parse triangle coordinates: %w", err)
	}
	if len(rings) == 0 {
		return nil, fmt.Errorf("triangle %d: polygon has no rings", id)
	}
	return TriangleFromCoordinates(rings[0], heights, id)
}

// CoordsToPolygon2D 将坐标数组转换为Polygon2D，去掉闭合点
func CoordsToPolygon2D(coords [][]float64) (*Polygon2D, error) {
	if len(coords) < 3 {
		return nil, fmt.Errorf("polygon must have at least 3 points")
	}

	points := make([]*Point2D, 0, len(coords))
	for i, coord := range coords {
		if len(coord) < 2 {
			return nil, fmt.Errorf("coordinate at index %d has insufficient dimensions", i)
		}
		if !validCoord(coord) {
			return nil, fmt.Errorf("invalid coordinate at index %d: [%f, %f]", i, coord[0], coord[1])
		}
		points = append(points, &Point2D{X: coord[0], Y: coord[1], ID: i})
	}

	// GeoJSON多边形首尾点相同
	if len(points) > 1 {
		first, last := points[0], points[len(points)-1]
		if math.Abs(first.X-last.X) < 1e-10 && math.Abs(first.Y-last.Y) < 1e-10 {
			points = points[:len(points)-1]
		}
	}

	return &Polygon2D{Points: points}, nil
}

func validCoord(coord []float64) bool {
	for _, v := range coord {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func samePoint(a, b []float64) bool {
	return len(a) >= 2 && len(b) >= 2 && math.Abs(a[0]-b[0]) < 1e-10 && math.Abs(a[1]-b[1]) < 1e-10
}
