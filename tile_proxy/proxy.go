package tile_proxy

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

var (
	// ErrSourceNotFound 数据源不存在
	ErrSourceNotFound = errors.New("source not found")
	// ErrSourceDisabled 数据源已停用
	ErrSourceDisabled = errors.New("source is disabled")
	// ErrLevelOutOfRange 请求级别超出数据源范围
	ErrLevelOutOfRange = errors.New("level out of range")
)

// SourceResolver 将数据源与瓦片坐标解析为上游URL
type SourceResolver interface {
	ResolveTile(sourceID string, z, x, y int) (url string, format string, err error)
}

// TileProxyService 瓦片代理服务
type TileProxyService struct {
	resolver SourceResolver
	fetcher  Fetcher
}

// NewTileProxyService 创建瓦片代理服务
func NewTileProxyService(resolver SourceResolver, fetcher Fetcher) *TileProxyService {
	return &TileProxyService{resolver: resolver, fetcher: fetcher}
}

// RegisterRoutes 注册路由
func (s *TileProxyService) RegisterRoutes(r gin.IRouter) {
	r.GET("/tile/:sourceId/:z/:x/:y", s.HandleTileRequest)
}

// HandleTileRequest 处理瓦片请求
func (s *TileProxyService) HandleTileRequest(c *gin.Context) {
	sourceID := c.Param("sourceId")

	z, err := strconv.Atoi(c.Param("z"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "error": "invalid z"})
		return
	}

	x, err := strconv.Atoi(c.Param("x"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "error": "invalid x"})
		return
	}

	// 处理y参数（可能带扩展名）
	yStr := c.Param("y")
	for _, ext := range []string{".png", ".jpg", ".jpeg", ".webp"} {
		yStr = strings.TrimSuffix(yStr, ext)
	}
	y, err := strconv.Atoi(yStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "error": "invalid y"})
		return
	}

	url, format, err := s.resolver.ResolveTile(sourceID, z, x, y)
	switch {
	case errors.Is(err, ErrSourceNotFound):
		c.JSON(http.StatusNotFound, gin.H{"code": 404, "error": err.Error()})
		return
	case errors.Is(err, ErrSourceDisabled):
		c.JSON(http.StatusForbidden, gin.H{"code": 403, "error": err.Error()})
		return
	case errors.Is(err, ErrLevelOutOfRange):
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "error": err.Error()})
		return
	}

	res := s.fetcher.Fetch(c.Request.Context(), url)
	switch res.Outcome {
	case Success:
		s.sendTileResponse(c, res.Data, format)
	case Aborted:
		c.Status(http.StatusServiceUnavailable)
	default:
		status := http.StatusBadGateway
		if res.Status == http.StatusNotFound {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"code": status, "error": errString(res.Err), "upstreamStatus": res.Status})
	}
}

// sendTileResponse 发送瓦片响应
func (s *TileProxyService) sendTileResponse(c *gin.Context, data []byte, format string) {
	contentType := ContentType(strings.ToLower(format))
	c.Header("Cache-Control", "public, max-age=86400") // 缓存1天
	c.Header("Access-Control-Allow-Origin", "*")
	c.Data(http.StatusOK, contentType, data)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
