// Package observability 地形代理的Prometheus指标
package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 瓦片请求结果标签
const (
	ResultPassthrough = "passthrough"
	ResultPatched     = "patched"
	ResultNoData      = "nodata"
	ResultError       = "error"
)

// TerrainCollector 瓦片请求、修补耗时与修补顶点数
type TerrainCollector struct {
	gatherer prometheus.Gatherer

	TileRequests    *prometheus.CounterVec
	PatchDuration   prometheus.Histogram
	VerticesPatched prometheus.Counter
	EditRegions     prometheus.Gauge
}

// NewTerrainCollector 在 reg 上注册指标，reg 为 nil 时使用默认注册表
func NewTerrainCollector(reg prometheus.Registerer) (*TerrainCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	requests, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "terrain_tile_requests_total",
		Help: "Terrain tile requests served, labeled by result.",
	}, []string{"result"}), "terrain_tile_requests_total")
	if err != nil {
		return nil, err
	}

	duration, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "terrain_patch_duration_seconds",
		Help:    "Time spent decoding, patching and encoding one terrain tile.",
		Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}), "terrain_patch_duration_seconds")
	if err != nil {
		return nil, err
	}

	vertices, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "terrain_vertices_patched_total",
		Help: "Terrain vertices whose height was replaced by an edit facet.",
	}), "terrain_vertices_patched_total")
	if err != nil {
		return nil, err
	}

	edits, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "terrain_edit_regions",
		Help: "Number of edit regions loaded.",
	}), "terrain_edit_regions")
	if err != nil {
		return nil, err
	}

	return &TerrainCollector{
		gatherer:        gatherer,
		TileRequests:    requests,
		PatchDuration:   duration,
		VerticesPatched: vertices,
		EditRegions:     edits,
	}, nil
}

// ObserveTile 记录一次瓦片请求的结果
func (c *TerrainCollector) ObserveTile(result string) {
	if c == nil || c.TileRequests == nil {
		return
	}
	c.TileRequests.WithLabelValues(result).Inc()
}

// ObservePatch 记录一次修补
func (c *TerrainCollector) ObservePatch(elapsed time.Duration, vertices int) {
	if c == nil {
		return
	}
	if c.PatchDuration != nil {
		c.PatchDuration.Observe(elapsed.Seconds())
	}
	if c.VerticesPatched != nil {
		c.VerticesPatched.Add(float64(vertices))
	}
}

// SetEditRegions 更新已加载编辑区域数
func (c *TerrainCollector) SetEditRegions(n int) {
	if c == nil || c.EditRegions == nil {
		return
	}
	c.EditRegions.Set(float64(n))
}

// Handler /metrics 处理器
func (c *TerrainCollector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
