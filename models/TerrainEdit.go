package models

import (
	"time"

	"gorm.io/datatypes"
)

// 状态：0禁用，1启用
const (
	StatusDisabled = 0
	StatusEnabled  = 1
)

// TerrainEdit 地形编辑区域
// Polygon 为GeoJSON Polygon几何；Triangles 为三角面要素集合，
// 缺省时由 ControlPoints([[lon,lat,h],...]) 在多边形内构网
type TerrainEdit struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	Name          string         `gorm:"column:name;type:varchar(255);index" json:"name"`
	SortOrder     int            `gorm:"column:sort_order;index" json:"sortOrder"` // 重叠时小者优先
	Polygon       datatypes.JSON `gorm:"column:polygon;type:jsonb" json:"polygon"`
	Triangles     datatypes.JSON `gorm:"column:triangles;type:jsonb" json:"triangles"`
	ControlPoints datatypes.JSON `gorm:"column:control_points;type:jsonb" json:"controlPoints"`
	Status        int            `gorm:"column:status;default:1" json:"status"`
	BZ            string         `gorm:"column:bz;type:varchar(255)" json:"bz"` // 备注
	CreatedAt     time.Time      `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt     time.Time      `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (TerrainEdit) TableName() string {
	return "terrain_edit"
}
