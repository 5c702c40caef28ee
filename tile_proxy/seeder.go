package tile_proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GrainArc/SouceGlobe/coord"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"golang.org/x/sync/errgroup"
)

// SeedRequest 缓存预热请求参数
type SeedRequest struct {
	SourceID string          `json:"sourceId" binding:"required"` // 数据源
	MinZoom  int             `json:"minZoom"`                     // 起始层级
	MaxZoom  int             `json:"maxZoom" binding:"required"`  // 结束层级
	GeoJSON  json.RawMessage `json:"geoJson" binding:"required"`  // 范围GeoJSON
}

// SeedStatus 任务状态快照
type SeedStatus struct {
	ID          string     `json:"id"`
	SourceID    string     `json:"sourceId"`
	MinZoom     int        `json:"minZoom"`
	MaxZoom     int        `json:"maxZoom"`
	Status      string     `json:"status"` // pending, running, completed, failed
	Progress    float64    `json:"progress"`
	TotalTiles  int        `json:"totalTiles"`
	DoneTiles   int        `json:"doneTiles"`
	FailedTiles int        `json:"failedTiles"`
	Message     string     `json:"message"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt"`
}

// SeedTask 预热任务
type SeedTask struct {
	mu     sync.Mutex
	status SeedStatus
	done   chan struct{}
}

// Status 当前状态
func (t *SeedTask) Status() SeedStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Done 任务结束时关闭
func (t *SeedTask) Done() <-chan struct{} {
	return t.done
}

func (t *SeedTask) update(fn func(s *SeedStatus)) SeedStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.status)
	return t.status
}

// ProgressMessage WebSocket进度消息
type ProgressMessage struct {
	Type     string     `json:"type"` // progress, completed, error
	TaskID   string     `json:"taskId"`
	Progress float64    `json:"progress"`
	Message  string     `json:"message"`
	Data     SeedStatus `json:"data"`
}

// Seeder 按范围与层级批量获取瓦片写入缓存
type Seeder struct {
	resolver    SourceResolver
	fetcher     Fetcher
	processor   *SafeTileProcessor
	concurrency int
	maxTiles    int

	tasks     sync.Map // taskID -> *SeedTask
	wsClients sync.Map // taskID -> *sync.Map[*websocket.Conn]
	upgrader  websocket.Upgrader
}

// NewSeeder 创建预热器
func NewSeeder(resolver SourceResolver, fetcher Fetcher, concurrency, maxTiles int) *Seeder {
	if concurrency <= 0 {
		concurrency = 8
	}
	if maxTiles <= 0 {
		maxTiles = 10000
	}
	return &Seeder{
		resolver:    resolver,
		fetcher:     fetcher,
		processor:   NewSafeTileProcessor(concurrency, 60*time.Second),
		concurrency: concurrency,
		maxTiles:    maxTiles,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册路由
func (d *Seeder) RegisterRoutes(r gin.IRouter) {
	r.POST("/seed", d.InitSeed)
	r.GET("/seed/ws", d.ConnectWebSocket)
	r.GET("/seed/status/:taskId", d.GetTaskStatus)
}

// Start 校验请求并启动后台任务
func (d *Seeder) Start(req SeedRequest) (*SeedTask, error) {
	if req.MinZoom < 0 || req.MaxZoom > 22 || req.MinZoom > req.MaxZoom {
		return nil, fmt.Errorf("zoom range must satisfy 0 <= minZoom <= maxZoom <= 22")
	}
	if _, _, err := d.resolver.ResolveTile(req.SourceID, req.MinZoom, 0, 0); err != nil {
		return nil, err
	}

	bound, err := ParseGeoJSONBound(req.GeoJSON)
	if err != nil {
		return nil, fmt.Errorf("invalid geojson: %w", err)
	}

	total := CountTilesInBound(bound, req.MinZoom, req.MaxZoom)
	if total == 0 {
		return nil, errors.New("no tiles in the specified area")
	}
	if total > d.maxTiles {
		return nil, fmt.Errorf("too many tiles: %d, max allowed: %d", total, d.maxTiles)
	}

	task := &SeedTask{
		status: SeedStatus{
			ID:         uuid.NewString(),
			SourceID:   req.SourceID,
			MinZoom:    req.MinZoom,
			MaxZoom:    req.MaxZoom,
			Status:     "pending",
			TotalTiles: total,
			CreatedAt:  time.Now(),
		},
		done: make(chan struct{}),
	}
	d.tasks.Store(task.status.ID, task)

	go d.executeSeedTask(task, TilesInBound(bound, req.MinZoom, req.MaxZoom))
	return task, nil
}

// InitSeed 初始化预热任务
func (d *Seeder) InitSeed(c *gin.Context) {
	var req SeedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "error": fmt.Sprintf("invalid request: %v", err)})
		return
	}

	task, err := d.Start(req)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, ErrSourceNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"code": status, "error": err.Error()})
		return
	}

	s := task.Status()
	c.JSON(http.StatusOK, gin.H{
		"code":       200,
		"taskId":     s.ID,
		"totalTiles": s.TotalTiles,
		"message":    "seed task created, connect to websocket for progress",
	})
}

// ConnectWebSocket WebSocket连接处理
func (d *Seeder) ConnectWebSocket(c *gin.Context) {
	taskID := c.Query("taskId")
	if taskID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "error": "taskId is required"})
		return
	}

	task, ok := d.GetTask(taskID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"code": 404, "error": "task not found"})
		return
	}

	// 升级为WebSocket连接
	conn, err := d.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "err", err)
		return
	}

	d.registerWSClient(taskID, conn)

	// 发送当前状态
	s := task.Status()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	conn.WriteJSON(ProgressMessage{Type: "progress", TaskID: s.ID, Progress: s.Progress, Message: s.Message, Data: s})

	go d.handleWSConnection(taskID, conn)
}

// GetTaskStatus 获取任务状态（轮询备用）
func (d *Seeder) GetTaskStatus(c *gin.Context) {
	task, ok := d.GetTask(c.Param("taskId"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"code": 404, "error": "task not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": task.Status()})
}

// registerWSClient 注册WebSocket客户端
func (d *Seeder) registerWSClient(taskID string, conn *websocket.Conn) {
	clientsVal, _ := d.wsClients.LoadOrStore(taskID, &sync.Map{})
	clients := clientsVal.(*sync.Map)
	clients.Store(conn, true)
}

// unregisterWSClient 注销WebSocket客户端
func (d *Seeder) unregisterWSClient(taskID string, conn *websocket.Conn) {
	if clientsVal, ok := d.wsClients.Load(taskID); ok {
		clients := clientsVal.(*sync.Map)
		clients.Delete(conn)
	}
	conn.Close()
}

// handleWSConnection 读取直到连接关闭
func (d *Seeder) handleWSConnection(taskID string, conn *websocket.Conn) {
	defer d.unregisterWSClient(taskID, conn)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// broadcastProgress 广播进度
func (d *Seeder) broadcastProgress(taskID string, msg ProgressMessage) {
	if clientsVal, ok := d.wsClients.Load(taskID); ok {
		clients := clientsVal.(*sync.Map)
		clients.Range(func(key, value interface{}) bool {
			conn := key.(*websocket.Conn)
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				d.unregisterWSClient(taskID, conn)
			}
			return true
		})
	}
}

// executeSeedTask 执行预热任务
func (d *Seeder) executeSeedTask(task *SeedTask, tiles []TileCoord) {
	defer close(task.done)

	s := task.update(func(s *SeedStatus) {
		now := time.Now()
		s.Status = "running"
		s.StartedAt = &now
		s.Message = "seeding tiles..."
	})
	d.broadcastProgress(s.ID, ProgressMessage{Type: "progress", TaskID: s.ID, Message: "starting seed...", Data: s})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	var doneCount, failedCount int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)

	for _, tile := range tiles {
		t := tile
		g.Go(func() error {
			res := d.processor.ProcessWithRecover(gctx, func(ctx context.Context) ([]byte, error) {
				url, _, err := d.resolver.ResolveTile(s.SourceID, t.Z, t.X, t.Y)
				if err != nil {
					return nil, err
				}
				r := d.fetcher.Fetch(ctx, url)
				if r.Outcome != Success {
					return nil, fmt.Errorf("%s: %v", r.Outcome, r.Err)
				}
				return r.Data, nil
			})
			if res.Err != nil {
				atomic.AddInt64(&failedCount, 1)
				logger.Debug("seed tile failed", "z", t.Z, "x", t.X, "y", t.Y, "err", res.Err)
			}

			// 更新进度
			done := atomic.AddInt64(&doneCount, 1)
			status := task.update(func(s *SeedStatus) {
				s.DoneTiles = int(done)
				s.FailedTiles = int(atomic.LoadInt64(&failedCount))
				s.Progress = float64(done) / float64(len(tiles)) * 100
				s.Message = fmt.Sprintf("seeding: %d/%d tiles", done, len(tiles))
			})

			// 每10个瓦片广播一次进度
			if done%10 == 0 || done == int64(len(tiles)) {
				d.broadcastProgress(status.ID, ProgressMessage{
					Type: "progress", TaskID: status.ID, Progress: status.Progress, Message: status.Message, Data: status,
				})
			}
			return nil
		})
	}
	_ = g.Wait()

	if failedCount == int64(len(tiles)) {
		d.failTask(task, "no tiles seeded successfully")
		return
	}

	s = task.update(func(s *SeedStatus) {
		now := time.Now()
		s.Status = "completed"
		s.Progress = 100
		s.Message = "seed completed"
		s.CompletedAt = &now
	})
	d.broadcastProgress(s.ID, ProgressMessage{Type: "completed", TaskID: s.ID, Progress: 100, Message: s.Message, Data: s})
}

// failTask 标记任务失败
func (d *Seeder) failTask(task *SeedTask, message string) {
	s := task.update(func(s *SeedStatus) {
		now := time.Now()
		s.Status = "failed"
		s.Message = message
		s.CompletedAt = &now
	})
	d.broadcastProgress(s.ID, ProgressMessage{Type: "error", TaskID: s.ID, Progress: s.Progress, Message: message, Data: s})
}

// GetTask 获取任务
func (d *Seeder) GetTask(taskID string) (*SeedTask, bool) {
	if taskVal, ok := d.tasks.Load(taskID); ok {
		return taskVal.(*SeedTask), true
	}
	return nil, false
}

// ParseGeoJSONBound 解析 FeatureCollection / Feature / Geometry 的经纬度范围
func ParseGeoJSONBound(data json.RawMessage) (orb.Bound, error) {
	if fc, err := geojson.UnmarshalFeatureCollection(data); err == nil && fc.Type == "FeatureCollection" {
		if len(fc.Features) == 0 {
			return orb.Bound{}, errors.New("no features in collection")
		}
		var coll orb.Collection
		for _, f := range fc.Features {
			if f.Geometry != nil {
				coll = append(coll, f.Geometry)
			}
		}
		return coord.GeometryBound(coll), nil
	}

	if f, err := geojson.UnmarshalFeature(data); err == nil && f.Type == "Feature" && f.Geometry != nil {
		return coord.GeometryBound(f.Geometry), nil
	}

	g, err := geojson.UnmarshalGeometry(data)
	if err != nil {
		return orb.Bound{}, fmt.Errorf("unsupported GeoJSON format: %w", err)
	}
	if g.Coordinates == nil {
		return orb.Bound{}, errors.New("empty geometry")
	}
	return coord.GeometryBound(g.Geometry()), nil
}
