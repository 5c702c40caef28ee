package models

import (
	"log"

	"gorm.io/gorm"
)

// Migrate 批量迁移所有表
func Migrate(db *gorm.DB) error {
	models := []interface{}{
		&LayerSource{},
		&TileCache{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		log.Printf("数据库迁移失败: %v", err)
		return err
	}
	return nil
}
