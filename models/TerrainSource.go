package models

import "time"

// TerrainSource 上游地形服务
type TerrainSource struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	Name            string    `gorm:"column:name;uniqueIndex;type:varchar(255)" json:"name"`
	TileUrlTemplate string    `gorm:"column:tile_url_template;type:text" json:"tileUrlTemplate"` // {z} {x} {y} {-y}
	LayerUrl        string    `gorm:"column:layer_url;type:text" json:"layerUrl"`
	Projection      string    `gorm:"column:projection" json:"projection"`
	Extensions      string    `gorm:"column:extensions" json:"extensions"` // 逗号分隔
	MinLevel        int       `gorm:"column:min_level" json:"minLevel"`
	MaxLevel        int       `gorm:"column:max_level" json:"maxLevel"`
	Status          int       `gorm:"column:status;default:1" json:"status"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (TerrainSource) TableName() string {
	return "terrain_source"
}
