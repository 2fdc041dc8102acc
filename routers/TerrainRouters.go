package routers

import (
	"github.com/GrainArc/SouceTerrain/observability"
	"github.com/GrainArc/SouceTerrain/tile_proxy"
	"github.com/GrainArc/SouceTerrain/views"
	"github.com/gin-gonic/gin"
)

// TerrainRouters 地形瓦片代理与导出
func TerrainRouters(r *gin.Engine, proxy *tile_proxy.TerrainProxyService, exporter *tile_proxy.TerrainExporter) {
	proxy.RegisterRoutes(r.Group("/terrain"))
	if exporter != nil {
		// 导出任务挂在 /task 下
		exporter.RegisterRoutes(r.Group("/task"))
	}
}

// EditRouters 编辑区域查询
func EditRouters(r *gin.Engine, terrainController *views.TerrainController) {
	editRouter := r.Group("/edit")
	{
		editRouter.GET("/list", terrainController.EditList)
		editRouter.POST("/height", terrainController.EditHeight)
		editRouter.GET("/tile/:z/:x/:y", terrainController.EditTile)
		editRouter.GET("/cover/:z", terrainController.EditCoverage)
	}
}

// MetricsRouter Prometheus 指标
func MetricsRouter(r *gin.Engine, metrics *observability.TerrainCollector) {
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
}
