package routers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/GrainArc/SouceTerrain/observability"
	"github.com/GrainArc/SouceTerrain/services"
	"github.com/GrainArc/SouceTerrain/tile_proxy"
	"github.com/GrainArc/SouceTerrain/views"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type emptyProvider struct{}

func (emptyProvider) RequestTileGeometry(ctx context.Context, x, y, level int) (*tile_proxy.TerrainData, error) {
	return nil, nil
}

func (emptyProvider) TilingScheme() tile_proxy.TilingScheme { return tile_proxy.GeographicTilingScheme{} }

func newTestEngine(t *testing.T) (*gin.Engine, *observer.ObservedLogs) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	core, logs := observer.New(zap.DebugLevel)
	log := zap.New(core)

	metrics, err := observability.NewTerrainCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	provider := tile_proxy.NewModifiableTerrainProvider(emptyProvider{}, nil, tile_proxy.WithMetrics(metrics))

	r := NewEngine(log)
	TerrainRouters(r, tile_proxy.NewTerrainProxyService(provider, log), tile_proxy.NewTerrainExporter(provider, t.TempDir(), log))
	EditRouters(r, views.NewTerrainController(services.NewTerrainService(nil, provider.TilingScheme())))
	MetricsRouter(r, metrics)
	return r, logs
}

func TestRequestID(t *testing.T) {
	r, logs := newTestEngine(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/edit/list", nil))
	generated := w.Header().Get(RequestIDHeader)
	if w.Code != http.StatusOK || len(generated) != 36 {
		t.Fatalf("status %d, request id %q", w.Code, generated)
	}

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/edit/list", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	r.ServeHTTP(w, req)
	if got := w.Header().Get(RequestIDHeader); got != "abc-123" {
		t.Fatalf("request id = %q, want client id", got)
	}

	entries := logs.FilterMessage("request").All()
	if len(entries) != 2 {
		t.Fatalf("access log entries = %d, want 2", len(entries))
	}
	if entries[1].ContextMap()["request_id"] != "abc-123" {
		t.Fatalf("access log fields = %v", entries[1].ContextMap())
	}
}

func TestRoutesWired(t *testing.T) {
	r, logs := newTestEngine(t)

	cases := []struct {
		path   string
		status int
	}{
		{"/terrain/0/1/0.terrain", http.StatusNotFound},
		{"/terrain/layer.json", http.StatusOK},
		{"/task/export/status/none", http.StatusNotFound},
		{"/edit/cover/3", http.StatusOK},
		{"/metrics", http.StatusOK},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tc.path, nil))
		if w.Code != tc.status {
			t.Fatalf("%s = %d, want %d", tc.path, w.Code, tc.status)
		}
		if tc.path == "/metrics" && !strings.Contains(w.Body.String(), "terrain_tile_requests_total") {
			t.Fatalf("metrics output missing tile counter: %s", w.Body.String())
		}
	}

	if n := logs.FilterLevelExact(zap.WarnLevel).FilterMessage("request").Len(); n != 2 {
		t.Fatalf("warn access logs = %d, want 2", n)
	}
}
