package services

import (
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/GrainArc/SouceTerrain/Tin"
	"github.com/GrainArc/SouceTerrain/models"
	"github.com/GrainArc/SouceTerrain/tile_proxy"
	"github.com/paulmach/orb"
	"gorm.io/datatypes"
)

const editsDoc = `{
  "type": "FeatureCollection",
  "features": [
    {
      "type": "Feature",
      "geometry": {"type": "Polygon", "coordinates": [[[124,33],[127,33],[127,38],[124,38],[124,33]]]},
      "properties": {
        "name": "pit",
        "sortOrder": 2,
        "triangles": {
          "type": "FeatureCollection",
          "features": [
            {"type": "Feature", "geometry": {"type": "Polygon", "coordinates": [[[120,30,-5],[130,30,-5],[120,40,-5],[120,30,-5]]]}, "properties": {}}
          ]
        }
      }
    },
    {
      "type": "Feature",
      "geometry": {"type": "Polygon", "coordinates": [[[125,34],[129,34],[129,37],[125,37],[125,34]]]},
      "properties": {
        "name": "mound",
        "sortOrder": 1,
        "triangles": {
          "type": "FeatureCollection",
          "features": [
            {"type": "Feature", "geometry": {"type": "Polygon", "coordinates": [[[120,30],[140,30],[120,50],[120,30]]]}, "properties": {"a": 100, "b": 100, "c": 100}}
          ]
        }
      }
    },
    {
      "type": "Feature",
      "geometry": {"type": "Polygon", "coordinates": [[[0,0],[10,0],[10,10],[0,10],[0,0]]]},
      "properties": {
        "name": "survey",
        "controlPoints": [[5,5,20],[2,7,10],[8,3,30]]
      }
    },
    {
      "type": "Feature",
      "geometry": {"type": "Polygon", "coordinates": [[[50,50],[51,50],[51,51],[50,50]]]},
      "properties": {"name": "off", "status": 0}
    }
  ]
}`

func TestParseEditCollection(t *testing.T) {
	edits, err := ParseEditCollection([]byte(editsDoc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(edits) != 3 {
		t.Fatalf("edits = %d, want 3", len(edits))
	}
	// sortOrder 0 < 1 < 2
	if edits[0].Name != "survey" || edits[1].Name != "mound" || edits[2].Name != "pit" {
		t.Fatalf("order = %s, %s, %s", edits[0].Name, edits[1].Name, edits[2].Name)
	}

	if z := edits[1].Facets[0].P2.Z; z != 100 {
		t.Fatalf("a/b/c heights not applied: %v", z)
	}
	if z := edits[2].Facets[0].P1.Z; z != -5 {
		t.Fatalf("coordinate heights not applied: %v", z)
	}

	survey := edits[0]
	if len(survey.Facets) == 0 {
		t.Fatal("control points produced no facets")
	}
	var area float64
	for _, f := range survey.Facets {
		area += f.PlanarArea()
	}
	if math.Abs(area-100) > 1e-6 {
		t.Fatalf("survey facets cover %v, want 100", area)
	}
}

func TestParseEditCollectionErrors(t *testing.T) {
	cases := map[string]string{
		"not geojson": `{"type":"Feature"}`,
		"point":       `{"type":"FeatureCollection","features":[{"type":"Feature","geometry":{"type":"Point","coordinates":[1,2]},"properties":{"name":"p","controlPoints":[[1,2,3]]}}]}`,
		"no facets":   `{"type":"FeatureCollection","features":[{"type":"Feature","geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]},"properties":{"name":"bare"}}]}`,
		"degenerate":  `{"type":"FeatureCollection","features":[{"type":"Feature","geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]},"properties":{"name":"flat","triangles":{"type":"FeatureCollection","features":[{"type":"Feature","geometry":{"type":"Polygon","coordinates":[[[0,0,1],[1,1,1],[2,2,1],[0,0,1]]]},"properties":{}}]}}}]}`,
		"no height":   `{"type":"FeatureCollection","features":[{"type":"Feature","geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]},"properties":{"name":"flat","controlPoints":[[0.5,0.5]]}}]}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseEditCollection([]byte(doc)); err == nil {
				t.Fatal("expected error")
			}
		})
	}

	_, err := ParseEditCollection([]byte(cases["degenerate"]))
	if !errors.Is(err, Tin.ErrDegenerateTriangle) {
		t.Fatalf("degenerate facet error = %v", err)
	}
}

func TestLoadEditsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "edits.geojson")
	if err := os.WriteFile(path, []byte(editsDoc), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	edits, err := LoadEditsFile(path)
	if err != nil || len(edits) != 3 {
		t.Fatalf("load: %d edits, %v", len(edits), err)
	}
	if _, err := LoadEditsFile(filepath.Join(t.TempDir(), "missing.geojson")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestEditFromModel(t *testing.T) {
	record := &models.TerrainEdit{
		Name:          "db-edit",
		Polygon:       datatypes.JSON(`{"type":"Polygon","coordinates":[[[0,0],[10,0],[10,10],[0,10],[0,0]]]}`),
		ControlPoints: datatypes.JSON(`[[5,5,20],[2,7,10],[8,3,30]]`),
	}
	edit, err := EditFromModel(record)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if edit.Name != "db-edit" || len(edit.Facets) == 0 {
		t.Fatalf("unexpected edit %+v", edit)
	}

	record.Triangles = datatypes.JSON(`{"type":"FeatureCollection","features":[{"type":"Feature","geometry":{"type":"Polygon","coordinates":[[[0,0,1],[10,0,1],[0,10,1],[0,0,1]]]},"properties":{}}]}`)
	edit, err = EditFromModel(record)
	if err != nil {
		t.Fatalf("convert with triangles: %v", err)
	}
	if len(edit.Facets) != 1 {
		t.Fatalf("explicit triangles must win over control points, got %d facets", len(edit.Facets))
	}

	record.Polygon = datatypes.JSON(`{"type":"LineString","coordinates":[[0,0],[1,1]]}`)
	if _, err := EditFromModel(record); err == nil {
		t.Fatal("expected error for non-polygon geometry")
	}
}

func TestTriangulateConcavePolygon(t *testing.T) {
	// L形多边形，凸包剖分后需裁掉右上角
	polygon := orb.Polygon{orb.Ring{{0, 0}, {10, 0}, {10, 5}, {5, 5}, {5, 10}, {0, 10}, {0, 0}}}
	controls, err := ParseControlPoints(json.RawMessage(`[[2,2,1],[7,2,2],[2,7,3]]`))
	if err != nil {
		t.Fatalf("controls: %v", err)
	}
	facets, err := TriangulatePolygon(polygon, controls)
	if err != nil {
		t.Fatalf("triangulate: %v", err)
	}
	for _, f := range facets {
		cx := (f.P1.X + f.P2.X + f.P3.X) / 3
		cy := (f.P1.Y + f.P2.Y + f.P3.Y) / 3
		if cx > 5 && cy > 5 {
			t.Fatalf("facet %d centroid (%v,%v) outside polygon", f.ID, cx, cy)
		}
	}
}

func TestTerrainService(t *testing.T) {
	edits, err := ParseEditCollection([]byte(editsDoc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	svc := NewTerrainService(edits, tile_proxy.GeographicTilingScheme{})

	// mound 排在 pit 之前，重叠处取 mound
	res, err := svc.HeightAt(126, 35)
	if err != nil {
		t.Fatalf("height: %v", err)
	}
	if !res.Matched || res.Edit != "mound" || res.Height != 100 {
		t.Fatalf("overlap result %+v", res)
	}
	res, _ = svc.HeightAt(124.5, 33.5)
	if !res.Matched || res.Edit != "pit" || res.Height != -5 {
		t.Fatalf("pit result %+v", res)
	}
	res, _ = svc.HeightAt(-50, -50)
	if res.Matched || res.Edit != "" {
		t.Fatalf("outside result %+v", res)
	}

	// 1级 x=3 y=0 为 [90,180]x[0,90]
	names := svc.TileEdits(3, 0, 1)
	if len(names) != 2 || names[0] != "mound" || names[1] != "pit" {
		t.Fatalf("tile edits = %v", names)
	}
	if names := svc.TileEdits(0, 1, 1); len(names) != 0 {
		t.Fatalf("unexpected tile edits %v", names)
	}

	cov := svc.Coverage(0)
	if len(cov) != 3 || cov[0].Tiles != 1 {
		t.Fatalf("coverage = %+v", cov)
	}

	data, err := json.Marshal(svc.FeatureCollection())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var fc struct {
		Features []struct {
			Properties map[string]interface{} `json:"properties"`
		} `json:"features"`
	}
	if err := json.Unmarshal(data, &fc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(fc.Features) != 3 || fc.Features[1].Properties["name"] != "mound" {
		t.Fatalf("feature collection = %s", data)
	}
}
