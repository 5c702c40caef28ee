package models

import (
	"time"

	"gorm.io/datatypes"
)

// 图层源在 Globe 中的角色
const (
	RoleImagery   = "imagery"
	RoleElevation = "elevation"
	RoleOverlay   = "overlay"
)

// LayerSource 持久化的图层配置
type LayerSource struct {
	ID        string         `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Name      string         `gorm:"column:name;index" json:"name"`             // 图层名称
	GroupName string         `gorm:"column:group_name;index" json:"groupName"`  // 分组名称
	Type      string         `gorm:"column:type;not null" json:"type"`          // xyz osm wms wms-elevation healpix vector
	Role      string         `gorm:"column:role;default:overlay" json:"role"`   // imagery elevation overlay
	Options   datatypes.JSON `gorm:"column:options" json:"options"`             // layer.Options
	MinLevel  int            `gorm:"column:min_level" json:"minLevel"`          // 代理允许的最小级别
	MaxLevel  int            `gorm:"column:max_level" json:"maxLevel"`          // 0 表示不限
	SortOrder int            `gorm:"column:sort_order" json:"sortOrder"`        // 挂载顺序
	Status    int            `gorm:"column:status;default:1" json:"status"`     // 状态：0禁用，1启用
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (LayerSource) TableName() string {
	return "layer_source"
}
