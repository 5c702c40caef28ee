// services/tile_cache_service.go
package services

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/GrainArc/SouceGlobe/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TileCacheService 持久化瓦片缓存服务，实现 tile_proxy.TileStore
type TileCacheService struct {
	db *gorm.DB
}

// TileCacheStats 缓存统计
type TileCacheStats struct {
	Tiles int64 `json:"tiles"`
	Bytes int64 `json:"bytes"`
}

// NewTileCacheService 创建缓存服务
func NewTileCacheService(db *gorm.DB) *TileCacheService {
	return &TileCacheService{db: db}
}

func cacheKey(url string) string {
	sum := sha1.Sum([]byte(url))
	return hex.EncodeToString(sum[:])
}

// GetTile 从缓存获取瓦片
// 返回: tileData, found, error
func (s *TileCacheService) GetTile(url string) ([]byte, bool, error) {
	var cache models.TileCache
	result := s.db.Where("tile_key = ?", cacheKey(url)).First(&cache)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, result.Error
	}
	s.db.Model(&models.TileCache{}).Where("tile_key = ?", cache.TileKey).Update("accessed_at", time.Now())
	return cache.Data, true, nil
}

// PutTile 写入缓存，冲突时覆盖数据
func (s *TileCacheService) PutTile(url string, data []byte) error {
	now := time.Now()
	cache := models.TileCache{
		TileKey:    cacheKey(url),
		URL:        url,
		Data:       data,
		Size:       len(data),
		CreatedAt:  now,
		AccessedAt: now,
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tile_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "size", "accessed_at"}),
	}).Create(&cache).Error
	if err != nil {
		return fmt.Errorf("put tile cache: %w", err)
	}
	return nil
}

// Delete 删除单个瓦片
func (s *TileCacheService) Delete(url string) error {
	return s.db.Where("tile_key = ?", cacheKey(url)).Delete(&models.TileCache{}).Error
}

// Expire 删除超过 ttl 未被访问的瓦片，返回删除数量
func (s *TileCacheService) Expire(ttl time.Duration) (int64, error) {
	result := s.db.Where("accessed_at < ?", time.Now().Add(-ttl)).Delete(&models.TileCache{})
	return result.RowsAffected, result.Error
}

// ClearCache 清空缓存
func (s *TileCacheService) ClearCache() error {
	return s.db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.TileCache{}).Error
}

// Stats 缓存统计
func (s *TileCacheService) Stats() (TileCacheStats, error) {
	var st TileCacheStats
	err := s.db.Model(&models.TileCache{}).
		Select("COUNT(*) AS tiles, COALESCE(SUM(size), 0) AS bytes").
		Scan(&st).Error
	return st, err
}
