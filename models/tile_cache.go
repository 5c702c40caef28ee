package models

import "time"

// TileCache 持久化瓦片缓存，以上游URL的哈希为键
type TileCache struct {
	TileKey    string    `gorm:"primaryKey;type:varchar(64)"`
	URL        string    `gorm:"type:text;not null"`
	Data       []byte    `gorm:"not null"`
	Size       int       `gorm:"not null"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index"`
	AccessedAt time.Time `gorm:"index"`
}

func (TileCache) TableName() string {
	return "tile_cache"
}
