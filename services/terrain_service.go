package services

import (
	"github.com/GrainArc/SouceTerrain/TerrainEdit"
	"github.com/GrainArc/SouceTerrain/tile_proxy"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// TerrainService 编辑区域的只读查询
type TerrainService struct {
	edits  []*TerrainEdit.EditRegion
	scheme tile_proxy.TilingScheme
}

// NewTerrainService edits 为启动时构造的快照
func NewTerrainService(edits []*TerrainEdit.EditRegion, scheme tile_proxy.TilingScheme) *TerrainService {
	return &TerrainService{edits: edits, scheme: scheme}
}

// TilingScheme 查询使用的切片方案
func (s *TerrainService) TilingScheme() tile_proxy.TilingScheme {
	return s.scheme
}

// Edits 编辑区域（匹配顺序）
func (s *TerrainService) Edits() []*TerrainEdit.EditRegion {
	return s.edits
}

// FeatureCollection 编辑区域边界的要素集合
func (s *TerrainService) FeatureCollection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for i, edit := range s.edits {
		f := geojson.NewFeature(edit.Polygon)
		f.Properties["name"] = edit.Name
		f.Properties["order"] = i
		f.Properties["facets"] = len(edit.Facets)
		f.BBox = geojson.NewBBox(edit.Bound())
		fc.Append(f)
	}
	return fc
}

// HeightResult 某点的编辑高程
type HeightResult struct {
	Matched bool    `json:"matched"`
	Edit    string  `json:"edit,omitempty"`
	Facet   int     `json:"facet"`
	Height  float64 `json:"height"`
}

// HeightAt 查询点落在的编辑区域与面片并插值
func (s *TerrainService) HeightAt(lon, lat float64) (HeightResult, error) {
	p := orb.Point{lon, lat}
	edit := TerrainEdit.FindContainingEdit(p, s.edits)
	if edit == nil {
		return HeightResult{}, nil
	}
	facet := TerrainEdit.FindContainingFacet(p, edit)
	if facet == nil {
		return HeightResult{Edit: edit.Name}, nil
	}
	h, err := TerrainEdit.Interpolate(p, facet)
	if err != nil {
		return HeightResult{}, err
	}
	return HeightResult{Matched: true, Edit: edit.Name, Facet: facet.ID, Height: h}, nil
}

// TileEdits 与瓦片相交的编辑区域名称，y 为北向原点
func (s *TerrainService) TileEdits(x, y, level int) []string {
	rect := s.scheme.TileRectangle(x, y, level)
	names := []string{}
	for _, edit := range TerrainEdit.RelevantEdits(rect, s.edits) {
		names = append(names, edit.Name)
	}
	return names
}

// EditCoverage 编辑区域在某级别覆盖的瓦片范围
type EditCoverage struct {
	Name  string               `json:"name"`
	Range tile_proxy.TileRange `json:"range"`
	Tiles int                  `json:"tiles"`
}

// Coverage 各编辑区域在 level 级覆盖的瓦片范围（北向原点Y）
func (s *TerrainService) Coverage(level int) []EditCoverage {
	out := make([]EditCoverage, 0, len(s.edits))
	for _, edit := range s.edits {
		r := tile_proxy.CoverRange(s.scheme, edit.Bound(), level)
		out = append(out, EditCoverage{
			Name:  edit.Name,
			Range: r,
			Tiles: (r.MaxX - r.MinX + 1) * (r.MaxY - r.MinY + 1),
		})
	}
	return out
}
