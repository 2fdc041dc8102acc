package tile_proxy

import (
	"archive/zip"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/GrainArc/SouceTerrain/TerrainEdit"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func newTestExporter(t *testing.T, data *TerrainData) *TerrainExporter {
	t.Helper()
	edit := flatEdit(t, "flat", 100, 10, 110, 20, 75)
	p := NewModifiableTerrainProvider(&fakeProvider{data: data}, []*TerrainEdit.EditRegion{edit})
	return NewTerrainExporter(p, t.TempDir(), nil)
}

func TestExporterPlanTiles(t *testing.T) {
	e := newTestExporter(t, nil)

	tiles, err := e.PlanTiles(ExportRequest{MinLevel: 0, MaxLevel: 2})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	want := []TileCoord{{Z: 0, X: 1, Y: 0}, {Z: 1, X: 3, Y: 0}, {Z: 2, X: 6, Y: 1}}
	if len(tiles) != len(want) {
		t.Fatalf("tiles = %v, want %v", tiles, want)
	}
	for i := range want {
		if tiles[i] != want[i] {
			t.Fatalf("tile %d = %v, want %v", i, tiles[i], want[i])
		}
	}

	// 区域内无编辑
	area := json.RawMessage(`{"type":"Polygon","coordinates":[[[-60,-60],[-50,-60],[-50,-50],[-60,-60]]]}`)
	if _, _, err := e.Start(ExportRequest{MinLevel: 2, MaxLevel: 2, GeoJSON: area}); err == nil {
		t.Fatal("expected error for area without edits")
	}

	if _, err := e.PlanTiles(ExportRequest{MinLevel: 3, MaxLevel: 1}); err == nil {
		t.Fatal("expected error for inverted level range")
	}
	if _, err := e.PlanTiles(ExportRequest{MaxLevel: 1, GeoJSON: json.RawMessage(`{"type":"FeatureCollection","features":[]}`)}); err == nil {
		t.Fatal("expected error for empty feature collection")
	}
}

func TestExporterPlanTilesWorldAreaDeepLevels(t *testing.T) {
	edit := flatEdit(t, "tiny", 100, 10, 100.001, 10.001, 5)
	p := NewModifiableTerrainProvider(&fakeProvider{}, []*TerrainEdit.EditRegion{edit})
	e := NewTerrainExporter(p, t.TempDir(), nil)

	// 全球范围的请求只遍历编辑区域覆盖的瓦片
	world := json.RawMessage(`{"type":"Polygon","coordinates":[[[-180,-90],[180,-90],[180,90],[-180,90],[-180,-90]]]}`)
	withArea, err := e.PlanTiles(ExportRequest{MinLevel: 0, MaxLevel: 18, GeoJSON: world})
	if err != nil {
		t.Fatalf("plan with area: %v", err)
	}
	all, err := e.PlanTiles(ExportRequest{MinLevel: 0, MaxLevel: 18})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(withArea) == 0 || len(withArea) != len(all) {
		t.Fatalf("world area planned %d tiles, edits alone %d", len(withArea), len(all))
	}
	for i := range all {
		if withArea[i] != all[i] {
			t.Fatalf("tile %d = %v, want %v", i, withArea[i], all[i])
		}
	}

	// 与编辑区域不相交的请求
	far := json.RawMessage(`{"type":"Polygon","coordinates":[[[-60,-60],[-50,-60],[-50,-50],[-60,-60]]]}`)
	tiles, err := e.PlanTiles(ExportRequest{MinLevel: 0, MaxLevel: 22, GeoJSON: far})
	if err != nil || len(tiles) != 0 {
		t.Fatalf("far area = %v, %v", tiles, err)
	}
}

func TestExporterRun(t *testing.T) {
	e := newTestExporter(t, &TerrainData{Data: gridTileBytes(t, true)})

	task, tiles, err := e.Start(ExportRequest{MinLevel: 0, MaxLevel: 2})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	e.Run(context.Background(), task.ID, tiles)

	got, ok := e.GetTask(task.ID)
	if !ok {
		t.Fatal("task lost")
	}
	if got.Status != TaskCompleted || got.ExportedTiles != 3 || got.FailedTiles != 0 || got.Progress != 100 {
		t.Fatalf("task = %+v", got)
	}

	zr, err := zip.OpenReader(got.OutputFile)
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	defer zr.Close()

	names := make(map[string]bool)
	for _, f := range zr.File {
		if !f.FileInfo().IsDir() {
			names[strings.TrimSuffix(f.Name, "/")] = true
		}
	}
	// TMS y：0/1/0 1/3/1 2/6/2
	for _, name := range []string{"layer.json", "0/1/0.terrain", "1/3/1.terrain", "2/6/2.terrain"} {
		if !names[name] {
			t.Fatalf("zip entries %v missing %s", names, name)
		}
	}
	if len(names) != 4 {
		t.Fatalf("zip entries = %v", names)
	}
}

func TestExporterEmptyTiles(t *testing.T) {
	e := newTestExporter(t, nil)

	task, tiles, err := e.Start(ExportRequest{MinLevel: 0, MaxLevel: 1})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	e.Run(context.Background(), task.ID, tiles)

	got, _ := e.GetTask(task.ID)
	if got.Status != TaskCompleted || got.EmptyTiles != 2 || got.ExportedTiles != 0 {
		t.Fatalf("task = %+v", got)
	}
}

func TestExporterRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	e := newTestExporter(t, nil)
	r := gin.New()
	e.RegisterRoutes(r.Group("/"))

	cases := []struct {
		method, path, body string
		status             int
	}{
		{http.MethodGet, "/export/status/missing", "", http.StatusNotFound},
		{http.MethodGet, "/export/download/missing", "", http.StatusNotFound},
		{http.MethodGet, "/export/ws", "", http.StatusBadRequest},
		{http.MethodPost, "/export/init", `{"minLevel":4,"maxLevel":2}`, http.StatusBadRequest},
		{http.MethodPost, "/export/init", `not json`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(tc.method, tc.path, strings.NewReader(tc.body))
		r.ServeHTTP(w, req)
		if w.Code != tc.status {
			t.Fatalf("%s %s = %d, want %d", tc.method, tc.path, w.Code, tc.status)
		}
	}

	task, _, err := e.Start(ExportRequest{MaxLevel: 0})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/export/download/"+task.ID, nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("download of pending task = %d, want 400", w.Code)
	}
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/export/status/"+task.ID, nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"status":"pending"`) {
		t.Fatalf("status = %d %s", w.Code, w.Body.String())
	}
}

func TestExporterWebSocketProgress(t *testing.T) {
	gin.SetMode(gin.TestMode)
	e := newTestExporter(t, &TerrainData{Data: gridTileBytes(t, true)})
	if e.concurrency < 2 {
		t.Fatalf("concurrency = %d", e.concurrency)
	}
	r := gin.New()
	e.RegisterRoutes(r.Group("/"))
	srv := httptest.NewServer(r)
	defer srv.Close()

	task, tiles, err := e.Start(ExportRequest{MinLevel: 0, MaxLevel: 7})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(tiles) < 50 {
		t.Fatalf("planned %d tiles", len(tiles))
	}

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/export/ws?taskId=" + task.ID
	type received struct {
		kinds []string
		last  ProgressMessage
		err   error
	}
	results := make(chan received, 3)
	for i := 0; i < 3; i++ {
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		defer conn.Close()

		// 首条消息为当前状态，收到后连接已登记
		var first ProgressMessage
		if err := conn.ReadJSON(&first); err != nil || first.Type != "progress" || first.TaskID != task.ID {
			t.Fatalf("first message = %+v, %v", first, err)
		}

		go func(conn *websocket.Conn) {
			var res received
			conn.SetReadDeadline(time.Now().Add(30 * time.Second))
			for {
				var msg ProgressMessage
				if err := conn.ReadJSON(&msg); err != nil {
					res.err = err
					results <- res
					return
				}
				res.kinds = append(res.kinds, msg.Type)
				res.last = msg
				if msg.Type == "completed" || msg.Type == "error" {
					results <- res
					return
				}
			}
		}(conn)
	}

	e.Run(context.Background(), task.ID, tiles)

	for i := 0; i < 3; i++ {
		res := <-results
		if res.err != nil {
			t.Fatalf("client %d read: %v (got %v)", i, res.err, res.kinds)
		}
		progress := 0
		for _, k := range res.kinds {
			if k == "progress" {
				progress++
			}
		}
		if progress == 0 || res.last.Type != "completed" || res.last.Progress != 100 {
			t.Fatalf("client %d messages = %v, last %+v", i, res.kinds, res.last)
		}
	}

	got, _ := e.GetTask(task.ID)
	if got.Status != TaskCompleted || got.ExportedTiles != len(tiles) {
		t.Fatalf("task = %+v", got)
	}
}
