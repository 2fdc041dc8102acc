package views

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/GrainArc/SouceTerrain/services"
	"github.com/GrainArc/SouceTerrain/tile_proxy"
	"github.com/gin-gonic/gin"
)

// TerrainController 编辑区域查询接口
type TerrainController struct {
	service *services.TerrainService
}

func NewTerrainController(service *services.TerrainService) *TerrainController {
	return &TerrainController{service: service}
}

// EditList 编辑区域边界要素集合
func (uc *TerrainController) EditList(c *gin.Context) {
	c.JSON(http.StatusOK, uc.service.FeatureCollection())
}

type heightQuery struct {
	X *float64 `json:"x" binding:"required"`
	Y *float64 `json:"y" binding:"required"`
}

// EditHeight 查询某点的编辑高程
func (uc *TerrainController) EditHeight(c *gin.Context) {
	var jsonData heightQuery
	if err := c.ShouldBindJSON(&jsonData); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "error": err.Error()})
		return
	}
	result, err := uc.service.HeightAt(*jsonData.X, *jsonData.Y)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": result})
}

// EditTile 与瓦片相交的编辑区域，y 为 TMS
func (uc *TerrainController) EditTile(c *gin.Context) {
	z, err1 := strconv.Atoi(c.Param("z"))
	x, err2 := strconv.Atoi(c.Param("x"))
	y, err3 := strconv.Atoi(strings.TrimSuffix(c.Param("y"), ".terrain"))
	if err1 != nil || err2 != nil || err3 != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "error": "invalid tile coordinates"})
		return
	}

	scheme := uc.service.TilingScheme()
	if !tile_proxy.ValidTile(scheme, x, tile_proxy.TMSY(scheme, y, z), z) {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "error": "tile out of range"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code": 200,
		"data": uc.service.TileEdits(x, tile_proxy.TMSY(scheme, y, z), z),
	})
}

// EditCoverage 各编辑区域在某级别覆盖的瓦片
func (uc *TerrainController) EditCoverage(c *gin.Context) {
	z, err := strconv.Atoi(c.Param("z"))
	if err != nil || z < 0 || z > 22 {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "error": "invalid level"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": uc.service.Coverage(z)})
}
