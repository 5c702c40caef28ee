package views

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/GrainArc/SouceGlobe/Transformer"
	"github.com/GrainArc/SouceGlobe/globe"
	"github.com/GrainArc/SouceGlobe/layer"
	"github.com/GrainArc/SouceGlobe/services"
	"github.com/gin-gonic/gin"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/gorilla/websocket"
	"github.com/paulmach/orb/geojson"
)

// GlobeController 虚拟地球的 HTTP 接口，所有 Globe 调用都经 Runner 串行执行
type GlobeController struct {
	runner   *globe.Runner
	layers   *services.LayerService
	cache    *services.TileCacheService
	upgrader websocket.Upgrader
	timeout  time.Duration
}

// NewGlobeController 创建控制器
func NewGlobeController(runner *globe.Runner, layers *services.LayerService, cache *services.TileCacheService) *GlobeController {
	return &GlobeController{
		runner: runner,
		layers: layers,
		cache:  cache,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		timeout: 30 * time.Second,
	}
}

// LayerInfo 图层概要
type LayerInfo struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Type    string  `json:"type"`
	Role    string  `json:"role"`
	Visible bool    `json:"visible"`
	Opacity float64 `json:"opacity"`
	ZIndex  int     `json:"zIndex"`
}

func newLayerInfo(l layer.Layer, role string) LayerInfo {
	info := LayerInfo{
		ID:      l.ID(),
		Name:    l.Name(),
		Type:    l.Type(),
		Role:    role,
		Visible: l.Visible(),
		Opacity: l.Opacity(),
	}
	if z, ok := l.(interface{ ZIndex() int }); ok {
		info.ZIndex = z.ZIndex()
	}
	return info
}

func (gc *GlobeController) do(c *gin.Context, fn func(g *globe.Globe) error) error {
	ctx, cancel := context.WithTimeout(c.Request.Context(), gc.timeout)
	defer cancel()
	return gc.runner.Do(ctx, fn)
}

// errorCode 错误对应的业务码
func errorCode(err error) int {
	switch {
	case errors.Is(err, services.ErrSourceNotFound), errors.Is(err, globe.ErrLayerNotFound):
		return 404
	case errors.Is(err, layer.ErrUnknownType), errors.Is(err, layer.ErrMissingURL),
		errors.Is(err, services.ErrInvalidRole), errors.Is(err, services.ErrNotTiled),
		errors.Is(err, globe.ErrNotImagery), errors.Is(err, globe.ErrNotElevation),
		errors.Is(err, globe.ErrUnsupportedLayer), errors.Is(err, globe.ErrLayerExists):
		return 400
	case errors.Is(err, globe.ErrRunnerStopped):
		return 503
	}
	return 500
}

func fail(c *gin.Context, err error) {
	c.JSON(http.StatusOK, gin.H{
		"error": err.Error(),
		"code":  errorCode(err),
	})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusOK, gin.H{
		"error": msg,
		"code":  400,
	})
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{
		"code": 200,
		"data": data,
	})
}

func queryFloat(c *gin.Context, key string) (float64, bool) {
	v, err := strconv.ParseFloat(c.Query(key), 64)
	return v, err == nil
}

// GetLayers 当前挂载的图层
func (gc *GlobeController) GetLayers(c *gin.Context) {
	var infos []LayerInfo
	err := gc.do(c, func(g *globe.Globe) error {
		infos = layerInfos(g)
		return nil
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, infos)
}

func layerInfos(g *globe.Globe) []LayerInfo {
	infos := make([]LayerInfo, 0)
	for _, l := range g.Layers() {
		infos = append(infos, newLayerInfo(l, roleOf(g, l)))
	}
	return infos
}

func roleOf(g *globe.Globe, l layer.Layer) string {
	switch {
	case g.BaseImagery() == l:
		return "imagery"
	case g.BaseElevation() == l:
		return "elevation"
	}
	return "overlay"
}

// AttachLayer 按图层源角色挂载
func (gc *GlobeController) AttachLayer(c *gin.Context) {
	id := c.Param("id")
	var info LayerInfo
	err := gc.do(c, func(g *globe.Globe) error {
		if err := gc.layers.Attach(g, id); err != nil {
			return err
		}
		l := g.Layer(id)
		info = newLayerInfo(l, roleOf(g, l))
		return nil
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, info)
}

// DetachLayer 卸载图层
func (gc *GlobeController) DetachLayer(c *gin.Context) {
	id := c.Param("id")
	err := gc.do(c, func(g *globe.Globe) error {
		return gc.layers.Detach(g, id)
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, id)
}

// LayerStyleRequest 透明度与可见性，未给出的字段不修改
type LayerStyleRequest struct {
	Opacity *float64 `json:"opacity"`
	Visible *bool    `json:"visible"`
}

// UpdateLayer 修改透明度或可见性
func (gc *GlobeController) UpdateLayer(c *gin.Context) {
	id := c.Param("id")
	var req LayerStyleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	var info LayerInfo
	err := gc.do(c, func(g *globe.Globe) error {
		if req.Opacity != nil {
			if err := g.SetLayerOpacity(id, *req.Opacity); err != nil {
				return err
			}
		}
		if req.Visible != nil {
			if err := g.SetLayerVisible(id, *req.Visible); err != nil {
				return err
			}
		}
		l := g.Layer(id)
		if l == nil {
			return globe.ErrLayerNotFound
		}
		info = newLayerInfo(l, roleOf(g, l))
		return nil
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, info)
}

func (gc *GlobeController) vectorLayer(g *globe.Globe, id string) (*layer.VectorLayer, error) {
	l := g.Layer(id)
	if l == nil {
		return nil, globe.ErrLayerNotFound
	}
	vl, isVector := l.(*layer.VectorLayer)
	if !isVector {
		return nil, globe.ErrUnsupportedLayer
	}
	return vl, nil
}

// GetFeatures 矢量图层要素
func (gc *GlobeController) GetFeatures(c *gin.Context) {
	id := c.Param("id")
	var fc *geojson.FeatureCollection
	err := gc.do(c, func(g *globe.Globe) error {
		vl, err := gc.vectorLayer(g, id)
		if err != nil {
			return err
		}
		fc = vl.GeoJSON()
		return nil
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, fc)
}

// AddFeatures 向矢量图层追加 FeatureCollection
func (gc *GlobeController) AddFeatures(c *gin.Context) {
	id := c.Param("id")
	body, err := c.GetRawData()
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	fc, err := geojson.UnmarshalFeatureCollection(body)
	if err != nil {
		badRequest(c, "GeoJSON 解析失败: "+err.Error())
		return
	}
	var total int
	err = gc.do(c, func(g *globe.Globe) error {
		vl, err := gc.vectorLayer(g, id)
		if err != nil {
			return err
		}
		vl.AddFeatureCollection(fc)
		total = len(vl.GeoJSON().Features)
		return nil
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"added": len(fc.Features), "total": total})
}

// UploadFeatures 上传矢量文件（shp 压缩包、kml、dxf、dat、geojson）追加到矢量图层
func (gc *GlobeController) UploadFeatures(c *gin.Context) {
	id := c.Param("id")
	file, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "缺少上传文件")
		return
	}
	if !Transformer.Supported(file.Filename) {
		badRequest(c, "不支持的文件类型: "+filepath.Ext(file.Filename))
		return
	}
	cm, _ := strconv.ParseFloat(c.PostForm("centralMeridian"), 64)

	dir, err := os.MkdirTemp("", "souceglobe-upload-")
	if err != nil {
		fail(c, err)
		return
	}
	defer os.RemoveAll(dir)
	dst := filepath.Join(dir, filepath.Base(file.Filename))
	if err := c.SaveUploadedFile(file, dst); err != nil {
		fail(c, err)
		return
	}
	fc, crs, err := Transformer.Load(dst, cm)
	if err != nil {
		badRequest(c, "文件解析失败: "+err.Error())
		return
	}

	var total int
	err = gc.do(c, func(g *globe.Globe) error {
		vl, err := gc.vectorLayer(g, id)
		if err != nil {
			return err
		}
		vl.AddFeatureCollection(fc)
		total = len(vl.GeoJSON().Features)
		return nil
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"added": len(fc.Features), "total": total, "crs": crs})
}

// ClearFeatures 清空矢量图层要素
func (gc *GlobeController) ClearFeatures(c *gin.Context) {
	id := c.Param("id")
	err := gc.do(c, func(g *globe.Globe) error {
		vl, err := gc.vectorLayer(g, id)
		if err != nil {
			return err
		}
		vl.Clear()
		return nil
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, id)
}

// CameraRequest 相机参数：经纬度与高度，或 eye/center/up 三个世界坐标
type CameraRequest struct {
	Lon      *float64    `json:"lon"`
	Lat      *float64    `json:"lat"`
	Altitude float64     `json:"altitude"`
	Tilt     float64     `json:"tilt"`
	Eye      *[3]float64 `json:"eye"`
	Center   [3]float64  `json:"center"`
	Up       [3]float64  `json:"up"`
}

// CameraInfo 相机位置
type CameraInfo struct {
	Lon      float64 `json:"lon"`
	Lat      float64 `json:"lat"`
	Altitude float64 `json:"altitude"`
}

// SetCamera 移动相机
func (gc *GlobeController) SetCamera(c *gin.Context) {
	var req CameraRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	switch {
	case req.Eye != nil:
		if req.Up == ([3]float64{}) {
			req.Up = [3]float64{0, 0, 1}
		}
	case req.Lon != nil && req.Lat != nil:
		if req.Altitude <= 0 {
			badRequest(c, "altitude 必须大于 0")
			return
		}
	default:
		badRequest(c, "需要 lon/lat 或 eye")
		return
	}

	var info CameraInfo
	err := gc.do(c, func(g *globe.Globe) error {
		switch {
		case req.Eye != nil:
			g.LookAt(mgl64.Vec3(*req.Eye), mgl64.Vec3(req.Center), mgl64.Vec3(req.Up))
		case req.Tilt != 0:
			g.LookAtGeoTilted(*req.Lon, *req.Lat, req.Altitude, req.Tilt)
		default:
			g.LookAtGeo(*req.Lon, *req.Lat, req.Altitude)
		}
		info.Lon, info.Lat, info.Altitude = g.Camera()
		return nil
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, info)
}

// GetCamera 当前相机位置
func (gc *GlobeController) GetCamera(c *gin.Context) {
	var info CameraInfo
	err := gc.do(c, func(g *globe.Globe) error {
		info.Lon, info.Lat, info.Altitude = g.Camera()
		return nil
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, info)
}

// ViewportRequest 视口尺寸
type ViewportRequest struct {
	Width  int `json:"width" binding:"required,min=1"`
	Height int `json:"height" binding:"required,min=1"`
}

// SetViewport 修改视口
func (gc *GlobeController) SetViewport(c *gin.Context) {
	var req ViewportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	err := gc.do(c, func(g *globe.Globe) error {
		g.SetViewport(req.Width, req.Height)
		return nil
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, req)
}

// RenderFrames 立即绘制 n 帧，wait=true 时每帧后等待后台请求结束
func (gc *GlobeController) RenderFrames(c *gin.Context) {
	n, err := strconv.Atoi(c.DefaultQuery("n", "1"))
	if err != nil || n < 1 || n > 100 {
		badRequest(c, "n 取值 1-100")
		return
	}
	wait := c.Query("wait") == "true"
	err = gc.do(c, func(g *globe.Globe) error {
		for i := 0; i < n; i++ {
			g.Render()
			if wait {
				g.Wait()
			}
		}
		return nil
	})
	if err != nil {
		fail(c, err)
		return
	}
	gc.Stats(c)
}

// Stats 帧统计
func (gc *GlobeController) Stats(c *gin.Context) {
	var data gin.H
	err := gc.do(c, func(g *globe.Globe) error {
		data = gin.H{"frame": g.Stats(), "layers": len(g.Layers())}
		return nil
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, data)
}

// GetElevation 经纬度处的高程
func (gc *GlobeController) GetElevation(c *gin.Context) {
	lon, okLon := queryFloat(c, "lon")
	lat, okLat := queryFloat(c, "lat")
	if !okLon || !okLat {
		badRequest(c, "lon 与 lat 必须为数值")
		return
	}
	var h float64
	err := gc.do(c, func(g *globe.Globe) error {
		h = g.GetElevation(lon, lat)
		return nil
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"lon": lon, "lat": lat, "elevation": h})
}

// GetViewBound 视口经纬度范围
func (gc *GlobeController) GetViewBound(c *gin.Context) {
	var data gin.H
	err := gc.do(c, func(g *globe.Globe) error {
		b, hit := g.GetViewportGeoBound()
		if !hit {
			data = gin.H{"hit": false}
			return nil
		}
		data = gin.H{"hit": true, "bbox": []float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]}}
		return nil
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, data)
}

// Pick 屏幕像素对应的经纬度
func (gc *GlobeController) Pick(c *gin.Context) {
	x, okX := queryFloat(c, "x")
	y, okY := queryFloat(c, "y")
	if !okX || !okY {
		badRequest(c, "x 与 y 必须为数值")
		return
	}
	var data gin.H
	err := gc.do(c, func(g *globe.Globe) error {
		lon, lat, hit := g.GetLonLatFromPixel(x, y)
		data = gin.H{"hit": hit}
		if hit {
			data["lon"], data["lat"] = lon, lat
		}
		return nil
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, data)
}

// Project 经纬度对应的屏幕像素
func (gc *GlobeController) Project(c *gin.Context) {
	lon, okLon := queryFloat(c, "lon")
	lat, okLat := queryFloat(c, "lat")
	if !okLon || !okLat {
		badRequest(c, "lon 与 lat 必须为数值")
		return
	}
	var data gin.H
	err := gc.do(c, func(g *globe.Globe) error {
		x, y, visible := g.GetPixelFromLonLat(lon, lat)
		data = gin.H{"visible": visible}
		if visible {
			data["x"], data["y"] = x, y
		}
		return nil
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, data)
}
