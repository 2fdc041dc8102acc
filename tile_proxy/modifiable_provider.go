package tile_proxy

import (
	"context"
	"fmt"
	"time"

	"github.com/GrainArc/SouceTerrain/TerrainEdit"
	"github.com/GrainArc/SouceTerrain/observability"
	"github.com/GrainArc/SouceTerrain/qmesh"
	"go.uber.org/zap"
)

// ModifiableTerrainProvider 包装上游来源，在返回前用编辑区域改写瓦片高程
type ModifiableTerrainProvider struct {
	upstream  TerrainProvider
	edits     []*TerrainEdit.EditRegion
	processor *SafeTileProcessor
	metrics   *observability.TerrainCollector
	log       *zap.Logger
}

// ModifiableOption 可选配置
type ModifiableOption func(*ModifiableTerrainProvider)

// WithProcessor 指定修补执行器
func WithProcessor(processor *SafeTileProcessor) ModifiableOption {
	return func(p *ModifiableTerrainProvider) { p.processor = processor }
}

// WithMetrics 记录指标
func WithMetrics(metrics *observability.TerrainCollector) ModifiableOption {
	return func(p *ModifiableTerrainProvider) { p.metrics = metrics }
}

// WithLogger 指定日志
func WithLogger(log *zap.Logger) ModifiableOption {
	return func(p *ModifiableTerrainProvider) {
		if log != nil {
			p.log = log
		}
	}
}

// NewModifiableTerrainProvider edits 构造后只读，按顺序决定重叠时的优先级
func NewModifiableTerrainProvider(upstream TerrainProvider, edits []*TerrainEdit.EditRegion, opts ...ModifiableOption) *ModifiableTerrainProvider {
	p := &ModifiableTerrainProvider{
		upstream: upstream,
		edits:    edits,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.processor == nil {
		p.processor = NewSafeTileProcessor(0, 0, p.log)
	}
	return p
}

// TilingScheme 与上游一致
func (p *ModifiableTerrainProvider) TilingScheme() TilingScheme {
	return p.upstream.TilingScheme()
}

// Edits 编辑区域
func (p *ModifiableTerrainProvider) Edits() []*TerrainEdit.EditRegion {
	return p.edits
}

// Upstream 被包装的来源
func (p *ModifiableTerrainProvider) Upstream() TerrainProvider {
	return p.upstream
}

// LayerJSON 上游支持时透传 layer.json
func (p *ModifiableTerrainProvider) LayerJSON(ctx context.Context) ([]byte, error) {
	if lp, ok := p.upstream.(LayerProvider); ok {
		return lp.LayerJSON(ctx)
	}
	return nil, ErrNoLayer
}

// RequestTileGeometry 获取上游瓦片，与编辑区域相交时改写高程
// 上游出错或无数据时原样返回，不做修补
func (p *ModifiableTerrainProvider) RequestTileGeometry(ctx context.Context, x, y, level int) (*TerrainData, error) {
	data, err := p.upstream.RequestTileGeometry(ctx, x, y, level)
	if err != nil {
		p.metrics.ObserveTile(observability.ResultError)
		return nil, err
	}
	if data == nil {
		p.metrics.ObserveTile(observability.ResultNoData)
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		p.metrics.ObserveTile(observability.ResultError)
		return nil, err
	}

	rect := p.TilingScheme().TileRectangle(x, y, level)
	relevant := TerrainEdit.RelevantEdits(rect, p.edits)
	if len(relevant) == 0 {
		p.metrics.ObserveTile(observability.ResultPassthrough)
		return data, nil
	}

	start := time.Now()
	var result TerrainEdit.PatchResult
	patched, err := p.processor.Process(ctx, func() ([]byte, error) {
		out, r, err := PatchTerrainData(data.Data, rect, relevant)
		result = r
		return out, err
	})
	if err != nil {
		p.metrics.ObserveTile(observability.ResultError)
		p.log.Error("patch terrain tile failed",
			zap.Int("z", level), zap.Int("x", x), zap.Int("y", y), zap.Error(err))
		return nil, fmt.Errorf("patch tile %d/%d/%d: %w", level, x, y, err)
	}

	elapsed := time.Since(start)
	p.metrics.ObservePatch(elapsed, result.PatchedVertices)
	p.metrics.ObserveTile(observability.ResultPatched)
	p.log.Debug("terrain tile patched",
		zap.Int("z", level), zap.Int("x", x), zap.Int("y", y),
		zap.Int("edits", result.RelevantEdits),
		zap.Int("vertices", result.PatchedVertices),
		zap.Duration("elapsed", elapsed))
	return &TerrainData{Data: patched}, nil
}

// PatchTerrainData 解码量化网格字节、修补并重新编码
// 输入为gzip时输出同样压缩
func PatchTerrainData(raw []byte, rect qmesh.Rectangle, edits []*TerrainEdit.EditRegion) ([]byte, TerrainEdit.PatchResult, error) {
	gzipped := qmesh.IsGzip(raw)
	body, err := qmesh.Decompress(raw)
	if err != nil {
		return nil, TerrainEdit.PatchResult{}, err
	}

	mesh, err := qmesh.Unmarshal(body)
	if err != nil {
		return nil, TerrainEdit.PatchResult{}, err
	}

	tile := &TerrainEdit.TileData{
		Quantized:     mesh.QuantizedVertices(),
		MinimumHeight: float64(mesh.Header.MinimumHeight),
		MaximumHeight: float64(mesh.Header.MaximumHeight),
	}
	result, err := TerrainEdit.Patch(tile, rect, edits)
	if err != nil {
		return nil, result, err
	}
	if !result.Modified() {
		return raw, result, nil
	}

	if err := mesh.SetQuantizedVertices(tile.Quantized); err != nil {
		return nil, result, err
	}
	mesh.SetHeightRange(tile.MinimumHeight, tile.MaximumHeight)
	mesh.UpdateBoundingSphere(rect)

	out, err := mesh.Marshal()
	if err != nil {
		return nil, result, err
	}
	if gzipped {
		if out, err = qmesh.Compress(out); err != nil {
			return nil, result, err
		}
	}
	return out, result, nil
}
