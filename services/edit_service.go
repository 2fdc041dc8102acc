package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/GrainArc/SouceTerrain/TerrainEdit"
	"github.com/GrainArc/SouceTerrain/Tin"
	"github.com/GrainArc/SouceTerrain/models"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"gorm.io/gorm"
)

// triangleCollection 三角面要素集合，坐标保留原始JSON以读取Z值
type triangleCollection struct {
	Type     string            `json:"type"`
	Features []triangleFeature `json:"features"`
}

type triangleFeature struct {
	Type       string             `json:"type"`
	Geometry   json.RawMessage    `json:"geometry"`
	Properties triangleProperties `json:"properties"`
}

// triangleProperties 角点高程属性 a/b/c，与TIN工具输出一致
type triangleProperties struct {
	A *float64 `json:"a"`
	B *float64 `json:"b"`
	C *float64 `json:"c"`
}

func (p triangleProperties) heights() []float64 {
	if p.A == nil || p.B == nil || p.C == nil {
		return nil
	}
	return []float64{*p.A, *p.B, *p.C}
}

// ParseTriangles 解析三角面要素集合，a/b/c 属性齐全时优先于坐标Z值
func ParseTriangles(raw json.RawMessage) ([]*Tin.Triangle3D, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var fc triangleCollection
	if err := json.Unmarshal(raw, &fc); err != nil {
		return nil, fmt.Errorf("parse triangles: %w", err)
	}
	if fc.Type != "FeatureCollection" {
		return nil, fmt.Errorf("triangles must be a FeatureCollection, got %q", fc.Type)
	}

	facets := make([]*Tin.Triangle3D, 0, len(fc.Features))
	for i, f := range fc.Features {
		facet, err := Tin.GeometryToTriangle3D(f.Geometry, f.Properties.heights(), i)
		if err != nil {
			return nil, err
		}
		facets = append(facets, facet)
	}
	return facets, nil
}

// ParseControlPoints 解析 [[lon,lat,h],...]
func ParseControlPoints(raw json.RawMessage) ([]*Tin.Point3D, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var coords [][]float64
	if err := json.Unmarshal(raw, &coords); err != nil {
		return nil, fmt.Errorf("parse control points: %w", err)
	}
	if len(coords) == 0 {
		return nil, nil
	}
	for i, c := range coords {
		if len(c) < 3 {
			return nil, fmt.Errorf("control point %d has no height", i)
		}
	}
	return Tin.CoordsToPoint3D(coords)
}

// TriangulatePolygon 由控制点在多边形内构网，只保留质心落在多边形内的三角形
func TriangulatePolygon(polygon orb.Polygon, controls []*Tin.Point3D) ([]*Tin.Triangle3D, error) {
	if len(polygon) == 0 {
		return nil, errors.New("polygon has no rings")
	}
	coords := make([][]float64, len(polygon[0]))
	for i, p := range polygon[0] {
		coords[i] = []float64{p[0], p[1]}
	}
	boundary, err := Tin.CoordsToPolygon2D(coords)
	if err != nil {
		return nil, err
	}

	tin := Tin.CreateTIN3D(boundary, controls)
	tin.Clip(func(x, y float64) bool {
		return planar.PolygonContains(polygon, orb.Point{x, y})
	})
	if len(tin.Triangles) == 0 {
		return nil, errors.New("triangulation produced no facets inside polygon")
	}
	return tin.Triangles, nil
}

// BuildEditRegion 由边界、三角面与控制点构造编辑区域
// 显式给出的三角面优先；否则用控制点构网
func BuildEditRegion(name string, polygon orb.Polygon, triangles, controlPoints json.RawMessage) (*TerrainEdit.EditRegion, error) {
	facets, err := ParseTriangles(triangles)
	if err != nil {
		return nil, fmt.Errorf("edit %q: %w", name, err)
	}

	if len(facets) == 0 {
		controls, err := ParseControlPoints(controlPoints)
		if err != nil {
			return nil, fmt.Errorf("edit %q: %w", name, err)
		}
		if len(controls) == 0 {
			return nil, fmt.Errorf("edit %q: neither triangles nor control points given", name)
		}
		if facets, err = TriangulatePolygon(polygon, controls); err != nil {
			return nil, fmt.Errorf("edit %q: %w", name, err)
		}
	}

	return TerrainEdit.NewEditRegion(name, polygon, facets)
}

func polygonFromGeometry(g orb.Geometry) (orb.Polygon, error) {
	switch v := g.(type) {
	case orb.Polygon:
		return v, nil
	case orb.MultiPolygon:
		if len(v) == 1 {
			return v[0], nil
		}
		return nil, fmt.Errorf("multipolygon with %d parts is not supported", len(v))
	case nil:
		return nil, errors.New("missing geometry")
	default:
		return nil, fmt.Errorf("unsupported geometry type %s", g.GeoJSONType())
	}
}

type orderedEdit struct {
	order  int
	region *TerrainEdit.EditRegion
}

func sortedRegions(items []orderedEdit) []*TerrainEdit.EditRegion {
	sort.SliceStable(items, func(i, j int) bool { return items[i].order < items[j].order })
	regions := make([]*TerrainEdit.EditRegion, len(items))
	for i, it := range items {
		regions[i] = it.region
	}
	return regions
}

// ParseEditCollection 解析编辑区域要素集合
// 属性：name、sortOrder、triangles、controlPoints；sortOrder 相同时保持文件顺序
func ParseEditCollection(data []byte) ([]*TerrainEdit.EditRegion, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parse edit collection: %w", err)
	}

	items := make([]orderedEdit, 0, len(fc.Features))
	for i, f := range fc.Features {
		name := f.Properties.MustString("name", fmt.Sprintf("edit-%d", i))
		if status, ok := f.Properties["status"].(float64); ok && int(status) == models.StatusDisabled {
			continue
		}

		polygon, err := polygonFromGeometry(f.Geometry)
		if err != nil {
			return nil, fmt.Errorf("edit %q: %w", name, err)
		}
		triangles, err := rawProperty(f.Properties, "triangles")
		if err != nil {
			return nil, fmt.Errorf("edit %q: %w", name, err)
		}
		controls, err := rawProperty(f.Properties, "controlPoints")
		if err != nil {
			return nil, fmt.Errorf("edit %q: %w", name, err)
		}

		region, err := BuildEditRegion(name, polygon, triangles, controls)
		if err != nil {
			return nil, err
		}
		items = append(items, orderedEdit{
			order:  f.Properties.MustInt("sortOrder", 0),
			region: region,
		})
	}
	return sortedRegions(items), nil
}

func rawProperty(props geojson.Properties, key string) (json.RawMessage, error) {
	v, ok := props[key]
	if !ok || v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// LoadEditsFile 从GeoJSON文件加载编辑区域
func LoadEditsFile(path string) ([]*TerrainEdit.EditRegion, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read edits %s: %w", path, err)
	}
	return ParseEditCollection(data)
}

// EditFromModel 数据库记录转编辑区域
func EditFromModel(m *models.TerrainEdit) (*TerrainEdit.EditRegion, error) {
	var geom geojson.Geometry
	if err := json.Unmarshal(m.Polygon, &geom); err != nil {
		return nil, fmt.Errorf("edit %q: parse polygon: %w", m.Name, err)
	}
	polygon, err := polygonFromGeometry(geom.Coordinates)
	if err != nil {
		return nil, fmt.Errorf("edit %q: %w", m.Name, err)
	}
	return BuildEditRegion(m.Name, polygon, json.RawMessage(m.Triangles), json.RawMessage(m.ControlPoints))
}

// LoadEditsFromDB 加载启用的编辑区域，按 sort_order、id 排序
func LoadEditsFromDB(db *gorm.DB) ([]*TerrainEdit.EditRegion, error) {
	var records []models.TerrainEdit
	if err := db.Where("status = ?", models.StatusEnabled).Order("sort_order, id").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("query terrain_edit: %w", err)
	}

	regions := make([]*TerrainEdit.EditRegion, 0, len(records))
	for i := range records {
		region, err := EditFromModel(&records[i])
		if err != nil {
			return nil, err
		}
		regions = append(regions, region)
	}
	return regions, nil
}

// ResolveSource 按名称查找启用的上游地形服务
func ResolveSource(db *gorm.DB, name string) (*models.TerrainSource, error) {
	var source models.TerrainSource
	if err := db.Where("name = ? AND status = ?", name, models.StatusEnabled).First(&source).Error; err != nil {
		return nil, fmt.Errorf("terrain source %q: %w", name, err)
	}
	return &source, nil
}
