package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/GrainArc/SouceGlobe/globe"
	"github.com/GrainArc/SouceGlobe/layer"
	"github.com/GrainArc/SouceGlobe/models"
	"github.com/GrainArc/SouceGlobe/tile_proxy"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	// ErrSourceNotFound 图层源不存在
	ErrSourceNotFound = tile_proxy.ErrSourceNotFound
	// ErrNotTiled 图层源不能按瓦片坐标代理
	ErrNotTiled = errors.New("source is not a tiled imagery source")
	// ErrInvalidRole 未知的图层角色
	ErrInvalidRole = errors.New("invalid layer role")
)

// LayerService 图层源注册表，实现 tile_proxy.SourceResolver
type LayerService struct {
	db *gorm.DB

	mu     sync.RWMutex
	layers map[string]layer.Layer // 按源编号缓存已构建的图层
}

var (
	layerServiceInstance *LayerService
	layerServiceOnce     sync.Once
)

// InitLayerService 初始化图层服务（在应用启动时调用）
func InitLayerService(db *gorm.DB) *LayerService {
	layerServiceOnce.Do(func() {
		layerServiceInstance = NewLayerService(db)
	})
	return layerServiceInstance
}

// GetLayerService 获取图层服务单例
func GetLayerService() *LayerService {
	return layerServiceInstance
}

// NewLayerService 创建图层服务
func NewLayerService(db *gorm.DB) *LayerService {
	return &LayerService{db: db, layers: make(map[string]layer.Layer)}
}

// List 按挂载顺序列出全部图层源
func (s *LayerService) List() ([]models.LayerSource, error) {
	var sources []models.LayerSource
	err := s.db.Order("sort_order ASC, created_at ASC").Find(&sources).Error
	return sources, err
}

// Query 分页查询图层源，groupName 与 name 为模糊匹配
func (s *LayerService) Query(groupName, name string, page, pageSize int) ([]models.LayerSource, int64, error) {
	query := s.db.Model(&models.LayerSource{})
	if groupName != "" {
		query = query.Where("group_name LIKE ?", "%"+groupName+"%")
	}
	if name != "" {
		query = query.Where("name LIKE ?", "%"+name+"%")
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	var sources []models.LayerSource
	err := query.Order("sort_order ASC, created_at ASC").
		Offset((page - 1) * pageSize).Limit(pageSize).
		Find(&sources).Error
	return sources, total, err
}

// Get 获取图层源
func (s *LayerService) Get(id string) (*models.LayerSource, error) {
	var src models.LayerSource
	if err := s.db.Where("id = ?", id).First(&src).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%s: %w", id, ErrSourceNotFound)
		}
		return nil, err
	}
	return &src, nil
}

// Create 校验并保存图层源
func (s *LayerService) Create(src *models.LayerSource) error {
	if src.ID == "" {
		src.ID = uuid.NewString()
	}
	if src.Role == "" {
		src.Role = models.RoleOverlay
	}
	if src.Status == 0 {
		src.Status = 1
	}
	if _, err := s.build(src); err != nil {
		return err
	}
	if err := s.db.Create(src).Error; err != nil {
		return fmt.Errorf("create layer source: %w", err)
	}
	return nil
}

// Update 修改图层源，未给出角色时沿用原角色，已构建的图层随之失效
func (s *LayerService) Update(src *models.LayerSource) error {
	old, err := s.Get(src.ID)
	if err != nil {
		return err
	}
	if src.Role == "" {
		src.Role = old.Role
	}
	src.CreatedAt = old.CreatedAt
	if _, err := s.build(src); err != nil {
		return err
	}
	if err := s.db.Save(src).Error; err != nil {
		return fmt.Errorf("update layer source: %w", err)
	}
	s.invalidate(src.ID)
	return nil
}

// Delete 删除图层源
func (s *LayerService) Delete(id string) error {
	result := s.db.Where("id = ?", id).Delete(&models.LayerSource{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%s: %w", id, ErrSourceNotFound)
	}
	s.invalidate(id)
	return nil
}

func (s *LayerService) invalidate(id string) {
	s.mu.Lock()
	delete(s.layers, id)
	s.mu.Unlock()
}

// build 由图层源构建图层，编号、类型与名称以图层源为准
func (s *LayerService) build(src *models.LayerSource) (layer.Layer, error) {
	switch src.Role {
	case models.RoleImagery, models.RoleElevation, models.RoleOverlay:
	default:
		return nil, fmt.Errorf("%q: %w", src.Role, ErrInvalidRole)
	}
	var opts layer.Options
	if len(src.Options) > 0 {
		if err := json.Unmarshal(src.Options, &opts); err != nil {
			return nil, fmt.Errorf("decode options of %s: %w", src.ID, err)
		}
	}
	opts.ID = src.ID
	opts.Type = src.Type
	if src.Name != "" {
		opts.Name = src.Name
	}
	if opts.ZIndex == 0 {
		opts.ZIndex = src.SortOrder
	}
	return layer.New(opts)
}

// Layer 获取（或构建）图层源对应的图层
func (s *LayerService) Layer(id string) (layer.Layer, *models.LayerSource, error) {
	src, err := s.Get(id)
	if err != nil {
		return nil, nil, err
	}
	s.mu.RLock()
	l, ok := s.layers[id]
	s.mu.RUnlock()
	if ok {
		return l, src, nil
	}
	l, err = s.build(src)
	if err != nil {
		return nil, nil, err
	}
	s.mu.Lock()
	s.layers[id] = l
	s.mu.Unlock()
	return l, src, nil
}

// ResolveTile 将图层源与 XYZ 坐标解析为上游地址。
// WMS 源按瓦片经纬度范围请求，HEALPix 源以 z 为阶数、x 为像素编号。
func (s *LayerService) ResolveTile(sourceID string, z, x, y int) (string, string, error) {
	l, src, err := s.Layer(sourceID)
	if err != nil {
		return "", "", err
	}
	if src.Status != 1 {
		return "", "", fmt.Errorf("%s: %w", sourceID, tile_proxy.ErrSourceDisabled)
	}
	if z < src.MinLevel || (src.MaxLevel > 0 && z > src.MaxLevel) {
		return "", "", fmt.Errorf("level %d of %s: %w", z, sourceID, tile_proxy.ErrLevelOutOfRange)
	}

	var opts layer.Options
	_ = json.Unmarshal(src.Options, &opts)
	format := normalizeFormat(opts.Format)

	switch l := l.(type) {
	case *layer.XYZLayer:
		if format == "" {
			format = formatFromURL(opts.BaseURL)
		}
		return l.TileURL(z, x, y), format, nil
	case *layer.WMSElevationLayer:
		return "", "", fmt.Errorf("%s: %w", sourceID, ErrNotTiled)
	case *layer.WMSLayer:
		if format == "" {
			format = "jpeg"
		}
		return l.BoundURL(tile_proxy.GetTileBoundsWGS84(z, x, y).Bound()), format, nil
	case *layer.WMTSLayer:
		if format == "" {
			format = "png"
		}
		return l.TileURL(z, x, y), format, nil
	case *layer.HEALPixLayer:
		return l.PixelURL(z, int64(x)), l.Format(), nil
	}
	return "", "", fmt.Errorf("%s: %w", sourceID, ErrNotTiled)
}

func normalizeFormat(f string) string {
	f = strings.ToLower(strings.TrimPrefix(f, "image/"))
	if f == "jpg" {
		return "jpeg"
	}
	return f
}

func formatFromURL(u string) string {
	for _, ext := range []string{"jpg", "jpeg", "webp", "png"} {
		if strings.Contains(strings.ToLower(u), "."+ext) {
			return normalizeFormat(ext)
		}
	}
	return "png"
}

// AttachEnabled 将启用的图层源按角色挂载到 Globe，需在 Globe 的帧循环协程上调用
func (s *LayerService) AttachEnabled(g *globe.Globe) error {
	sources, err := s.List()
	if err != nil {
		return err
	}
	for i := range sources {
		src := &sources[i]
		if src.Status != 1 {
			continue
		}
		if err := s.Attach(g, src.ID); err != nil {
			log.Printf("挂载图层 %s 失败: %v", src.ID, err)
		}
	}
	return nil
}

// Attach 按角色挂载单个图层源
func (s *LayerService) Attach(g *globe.Globe, id string) error {
	l, src, err := s.Layer(id)
	if err != nil {
		return err
	}
	switch src.Role {
	case models.RoleImagery:
		return g.SetBaseImagery(l)
	case models.RoleElevation:
		return g.SetBaseElevation(l)
	}
	return g.AddLayer(l)
}

// Detach 从 Globe 移除图层源
func (s *LayerService) Detach(g *globe.Globe, id string) error {
	switch {
	case g.BaseImagery() != nil && g.BaseImagery().ID() == id:
		return g.SetBaseImagery(nil)
	case g.BaseElevation() != nil && g.BaseElevation().ID() == id:
		return g.SetBaseElevation(nil)
	}
	return g.RemoveLayer(id)
}
