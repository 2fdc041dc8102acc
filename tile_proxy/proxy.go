package tile_proxy

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/GrainArc/SouceTerrain/qmesh"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// 本服务对外的瓦片路径模板，相对 layer.json
const localTilesTemplate = "{z}/{x}/{y}.terrain?v={version}"

// TerrainProxyService 地形瓦片代理服务
type TerrainProxyService struct {
	provider TerrainProvider
	log      *zap.Logger
}

// NewTerrainProxyService 创建地形代理服务
func NewTerrainProxyService(provider TerrainProvider, log *zap.Logger) *TerrainProxyService {
	if log == nil {
		log = zap.NewNop()
	}
	return &TerrainProxyService{provider: provider, log: log}
}

// RegisterRoutes 注册路由
func (s *TerrainProxyService) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/layer.json", s.HandleLayerJSON)
	r.GET("/:z/:x/:y", s.HandleTileRequest)
}

// HandleLayerJSON 返回 layer.json，瓦片地址改写为本服务
func (s *TerrainProxyService) HandleLayerJSON(c *gin.Context) {
	var layer map[string]interface{}

	lp, ok := s.provider.(LayerProvider)
	if ok {
		data, err := lp.LayerJSON(c.Request.Context())
		switch {
		case errors.Is(err, ErrNoLayer):
			ok = false
		case err != nil:
			s.log.Warn("fetch layer.json failed", zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{"code": http.StatusBadGateway, "error": err.Error()})
			return
		default:
			if err := json.Unmarshal(decodeBody(data), &layer); err != nil {
				c.JSON(http.StatusBadGateway, gin.H{"code": http.StatusBadGateway, "error": "invalid upstream layer.json: " + err.Error()})
				return
			}
		}
	}
	if !ok {
		layer = s.defaultLayer()
	}

	layer["tiles"] = []string{localTilesTemplate}
	c.Header("Access-Control-Allow-Origin", "*")
	c.JSON(http.StatusOK, layer)
}

func (s *TerrainProxyService) defaultLayer() map[string]interface{} {
	return map[string]interface{}{
		"tilejson":   "2.1.0",
		"name":       "terrain",
		"format":     "quantized-mesh-1.0",
		"version":    "1.0.0",
		"scheme":     "tms",
		"projection": s.provider.TilingScheme().Projection(),
		"bounds":     []float64{-180, -90, 180, 90},
	}
}

// decodeBody layer.json 也可能被gzip压缩
func decodeBody(data []byte) []byte {
	body, err := qmesh.Decompress(data)
	if err != nil {
		return data
	}
	return body
}

// HandleTileRequest 处理瓦片请求，y 为TMS坐标
func (s *TerrainProxyService) HandleTileRequest(c *gin.Context) {
	z, err := strconv.Atoi(c.Param("z"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "error": "invalid z"})
		return
	}

	x, err := strconv.Atoi(c.Param("x"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "error": "invalid x"})
		return
	}

	// y 可能带扩展名
	yStr := strings.TrimSuffix(c.Param("y"), ".terrain")
	tmsY, err := strconv.Atoi(yStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "error": "invalid y"})
		return
	}

	scheme := s.provider.TilingScheme()
	if !ValidTile(scheme, x, tmsY, z) {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "error": "tile out of range"})
		return
	}
	y := TMSY(scheme, tmsY, z)

	data, err := s.provider.RequestTileGeometry(c.Request.Context(), x, y, z)
	if err != nil {
		s.log.Warn("terrain tile request failed",
			zap.Int("z", z), zap.Int("x", x), zap.Int("y", tmsY), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"code": http.StatusBadGateway, "error": err.Error()})
		return
	}
	if data == nil {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "error": "tile not available"})
		return
	}

	s.sendTileResponse(c, data.Data)
}

// sendTileResponse 发送瓦片响应，客户端不接受gzip时先解压
func (s *TerrainProxyService) sendTileResponse(c *gin.Context, data []byte) {
	const contentType = "application/vnd.quantized-mesh"

	if qmesh.IsGzip(data) {
		if strings.Contains(c.GetHeader("Accept-Encoding"), "gzip") {
			c.Header("Content-Encoding", "gzip")
		} else {
			plain, err := qmesh.Decompress(data)
			if err != nil {
				c.JSON(http.StatusBadGateway, gin.H{"code": http.StatusBadGateway, "error": err.Error()})
				return
			}
			data = plain
		}
	}

	c.Header("Cache-Control", "public, max-age=86400")
	c.Header("Access-Control-Allow-Origin", "*")
	c.Data(http.StatusOK, contentType, data)
}
