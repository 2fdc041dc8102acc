package tile_proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// TerrainData 上游返回的地形瓦片原始字节（量化网格，可能经gzip压缩）
type TerrainData struct {
	Data []byte
}

// TerrainProvider 地形瓦片来源
// 返回 (nil, nil) 表示该瓦片无数据
type TerrainProvider interface {
	RequestTileGeometry(ctx context.Context, x, y, level int) (*TerrainData, error)
	TilingScheme() TilingScheme
}

// LayerProvider 可提供 layer.json 的来源
type LayerProvider interface {
	LayerJSON(ctx context.Context) ([]byte, error)
}

// UpstreamError 上游返回非成功状态码
type UpstreamError struct {
	URL        string
	StatusCode int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("terrain server returned status %d for %s", e.StatusCode, e.URL)
}

// ErrNoLayer 未配置 layer.json 地址
var ErrNoLayer = errors.New("layer.json url not configured")

// 请求量化网格时的Accept头
const quantizedMeshAccept = "application/vnd.quantized-mesh,application/octet-stream;q=0.9,*/*;q=0.01"

// HTTPProviderOptions 上游HTTP地形服务配置
type HTTPProviderOptions struct {
	// URLTemplate 支持 {z} {x} {y}(TMS) {-y}(北向原点)
	URLTemplate string
	LayerURL    string
	// Extensions 请求的扩展，如 octvertexnormals、watermask、metadata
	Extensions []string
	Scheme     TilingScheme
	// 级别范围，MaxLevel 为0时不限
	MinLevel int
	MaxLevel int
	Timeout  time.Duration
	Logger   *zap.Logger
}

// HTTPTerrainProvider 通过URL模板从上游服务获取瓦片
type HTTPTerrainProvider struct {
	urlTemplate string
	layerURL    string
	accept      string
	scheme      TilingScheme
	minLevel    int
	maxLevel    int
	httpClient  *http.Client
	log         *zap.Logger
}

// NewHTTPTerrainProvider 创建上游地形服务
func NewHTTPTerrainProvider(opts HTTPProviderOptions) (*HTTPTerrainProvider, error) {
	if opts.URLTemplate == "" {
		return nil, errors.New("terrain url template is empty")
	}
	if !strings.Contains(opts.URLTemplate, "{z}") || !strings.Contains(opts.URLTemplate, "{x}") ||
		!(strings.Contains(opts.URLTemplate, "{y}") || strings.Contains(opts.URLTemplate, "{-y}")) {
		return nil, fmt.Errorf("terrain url template %q must contain {z}, {x} and {y} or {-y}", opts.URLTemplate)
	}

	scheme := opts.Scheme
	if scheme == nil {
		scheme = GeographicTilingScheme{}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	accept := quantizedMeshAccept
	if len(opts.Extensions) > 0 {
		accept = "application/vnd.quantized-mesh;extensions=" + strings.Join(opts.Extensions, "-") + "," + accept
	}

	return &HTTPTerrainProvider{
		urlTemplate: opts.URLTemplate,
		layerURL:    opts.LayerURL,
		accept:      accept,
		scheme:      scheme,
		minLevel:    opts.MinLevel,
		maxLevel:    opts.MaxLevel,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
				// 保留上游原始编码，由调用方判断是否gzip
				DisableCompression: true,
			},
		},
		log: log,
	}, nil
}

// TilingScheme 上游的切分方案
func (p *HTTPTerrainProvider) TilingScheme() TilingScheme {
	return p.scheme
}

// RequestTileGeometry 获取瓦片，y 为北向原点
// 404/204 及级别范围外视为无数据
func (p *HTTPTerrainProvider) RequestTileGeometry(ctx context.Context, x, y, level int) (*TerrainData, error) {
	if level < p.minLevel || (p.maxLevel > 0 && level > p.maxLevel) {
		return nil, nil
	}
	url := p.buildTileURL(level, x, y)
	data, err := p.fetch(ctx, url, p.accept)
	if err != nil {
		var upstream *UpstreamError
		if errors.As(err, &upstream) && (upstream.StatusCode == http.StatusNotFound || upstream.StatusCode == http.StatusNoContent) {
			p.log.Debug("terrain tile not available", zap.Int("z", level), zap.Int("x", x), zap.Int("y", y))
			return nil, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	return &TerrainData{Data: data}, nil
}

// LayerJSON 获取上游 layer.json
func (p *HTTPTerrainProvider) LayerJSON(ctx context.Context) ([]byte, error) {
	if p.layerURL == "" {
		return nil, ErrNoLayer
	}
	return p.fetch(ctx, p.layerURL, "application/json,*/*;q=0.01")
}

// buildTileURL 按模板拼接瓦片URL
func (p *HTTPTerrainProvider) buildTileURL(z, x, y int) string {
	url := p.urlTemplate
	url = strings.ReplaceAll(url, "{z}", strconv.Itoa(z))
	url = strings.ReplaceAll(url, "{x}", strconv.Itoa(x))
	url = strings.ReplaceAll(url, "{-y}", strconv.Itoa(y))
	url = strings.ReplaceAll(url, "{y}", strconv.Itoa(TMSY(p.scheme, y, z)))
	return url
}

func (p *HTTPTerrainProvider) fetch(ctx context.Context, url, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request failed: %w", err)
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("Accept-Encoding", "gzip")
	req.Header.Set("User-Agent", "SouceTerrain/1.0")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s failed: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// 丢弃响应体以复用连接
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &UpstreamError{URL: url, StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response failed: %w", err)
	}
	return data, nil
}
