package models

import (
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// Migrate 设置命名策略并迁移地形相关表
func Migrate(db *gorm.DB) error {
	db.NamingStrategy = schema.NamingStrategy{
		SingularTable: true,
	}

	models := []interface{}{
		&TerrainEdit{},
		&TerrainSource{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("migrate terrain tables: %w", err)
	}
	return nil
}
