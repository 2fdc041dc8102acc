package tile_proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GrainArc/SouceTerrain/TerrainEdit"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mholt/archiver/v3"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// 任务状态
const (
	TaskPending   = "pending"
	TaskRunning   = "running"
	TaskCompleted = "completed"
	TaskFailed    = "failed"
)

// ExportRequest 导出请求
// GeoJSON 为空时导出全部编辑区域覆盖的瓦片
type ExportRequest struct {
	MinLevel int             `json:"minLevel"`
	MaxLevel int             `json:"maxLevel"`
	GeoJSON  json.RawMessage `json:"geoJson"`
}

// ExportTask 导出任务
type ExportTask struct {
	ID            string     `json:"id"`
	MinLevel      int        `json:"minLevel"`
	MaxLevel      int        `json:"maxLevel"`
	Status        string     `json:"status"`
	Progress      float64    `json:"progress"`
	TotalTiles    int        `json:"totalTiles"`
	ExportedTiles int        `json:"exportedTiles"`
	EmptyTiles    int        `json:"emptyTiles"`
	FailedTiles   int        `json:"failedTiles"`
	Message       string     `json:"message"`
	OutputFile    string     `json:"outputFile"`
	CreatedAt     time.Time  `json:"createdAt"`
	StartedAt     *time.Time `json:"startedAt"`
	CompletedAt   *time.Time `json:"completedAt"`
}

// ProgressMessage WebSocket进度消息
type ProgressMessage struct {
	Type     string      `json:"type"` // progress, completed, error
	TaskID   string      `json:"taskId"`
	Progress float64     `json:"progress"`
	Message  string      `json:"message"`
	Data     interface{} `json:"data,omitempty"`
}

// TerrainExporter 把编辑后的瓦片批量导出为zip，进度经WebSocket推送
type TerrainExporter struct {
	provider    *ModifiableTerrainProvider
	outputDir   string
	maxTiles    int
	concurrency int
	log         *zap.Logger

	mu        sync.RWMutex
	tasks     map[string]*ExportTask
	wsClients sync.Map // taskID -> *sync.Map[*wsClient]
	upgrader  websocket.Upgrader
}

// wsClient 同一连接同时只允许一个写者
type wsClient struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	closed bool
}

func (c *wsClient) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return websocket.ErrCloseSent
	}
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(v)
}

func (c *wsClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.conn.Close()
}

// NewTerrainExporter 创建导出器
func NewTerrainExporter(provider *ModifiableTerrainProvider, outputDir string, log *zap.Logger) *TerrainExporter {
	if outputDir == "" {
		outputDir = "./exports"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &TerrainExporter{
		provider:    provider,
		outputDir:   outputDir,
		maxTiles:    10000,
		concurrency: 8,
		log:         log,
		tasks:       make(map[string]*ExportTask),
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
func (e *TerrainExporter) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/export/init", e.InitExport)
	r.GET("/export/ws", e.ConnectWebSocket)
	r.GET("/export/status/:taskId", e.GetTaskStatus)
	r.GET("/export/download/:taskId", e.DownloadResult)
}

// PlanTiles 计算需要导出的瓦片，只保留与编辑区域相关的瓦片，Y 为北向原点
func (e *TerrainExporter) PlanTiles(req ExportRequest) ([]TileCoord, error) {
	if req.MinLevel < 0 || req.MaxLevel < req.MinLevel || req.MaxLevel > 22 {
		return nil, fmt.Errorf("invalid level range [%d, %d]", req.MinLevel, req.MaxLevel)
	}

	var bounds []orb.Bound
	for _, edit := range e.provider.Edits() {
		bounds = append(bounds, edit.Bound())
	}
	if len(req.GeoJSON) > 0 && string(req.GeoJSON) != "null" {
		area, err := geoJSONBound(req.GeoJSON)
		if err != nil {
			return nil, err
		}
		bounds = clipBounds(bounds, area)
	}

	scheme := e.provider.TilingScheme()
	var tiles []TileCoord
	for level := req.MinLevel; level <= req.MaxLevel; level++ {
		seen := make(map[TileCoord]bool)
		for _, b := range bounds {
			r := CoverRange(scheme, b, level)
			for y := r.MinY; y <= r.MaxY; y++ {
				for x := r.MinX; x <= r.MaxX; x++ {
					tc := TileCoord{Z: level, X: x, Y: y}
					if seen[tc] {
						continue
					}
					seen[tc] = true
					rect := scheme.TileRectangle(x, y, level)
					if len(TerrainEdit.RelevantEdits(rect, e.provider.Edits())) == 0 {
						continue
					}
					tiles = append(tiles, tc)
					if len(tiles) > e.maxTiles {
						return nil, fmt.Errorf("too many tiles: more than %d", e.maxTiles)
					}
				}
			}
		}
	}
	return tiles, nil
}

// clipBounds 编辑边界与请求范围求交，不相交的丢弃
func clipBounds(bounds []orb.Bound, area orb.Bound) []orb.Bound {
	clipped := bounds[:0]
	for _, b := range bounds {
		if !b.Intersects(area) {
			continue
		}
		clipped = append(clipped, orb.Bound{
			Min: orb.Point{math.Max(b.Min[0], area.Min[0]), math.Max(b.Min[1], area.Min[1])},
			Max: orb.Point{math.Min(b.Max[0], area.Max[0]), math.Min(b.Max[1], area.Max[1])},
		})
	}
	return clipped
}

// geoJSONBound 支持 FeatureCollection、Feature 与几何
func geoJSONBound(data json.RawMessage) (orb.Bound, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return orb.Bound{}, fmt.Errorf("invalid geojson: %w", err)
	}

	switch head.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return orb.Bound{}, err
		}
		var (
			b     orb.Bound
			found bool
		)
		for _, f := range fc.Features {
			if f.Geometry == nil {
				continue
			}
			if !found {
				b, found = f.Geometry.Bound(), true
				continue
			}
			b = b.Union(f.Geometry.Bound())
		}
		if !found {
			return orb.Bound{}, errors.New("no geometries in collection")
		}
		return b, nil
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return orb.Bound{}, err
		}
		if f.Geometry == nil {
			return orb.Bound{}, errors.New("feature has no geometry")
		}
		return f.Geometry.Bound(), nil
	default:
		g, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return orb.Bound{}, err
		}
		return g.Geometry().Bound(), nil
	}
}

// InitExport 创建导出任务
func (e *TerrainExporter) InitExport(c *gin.Context) {
	var req ExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "error": fmt.Sprintf("invalid request: %v", err)})
		return
	}

	task, tiles, err := e.Start(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "error": err.Error()})
		return
	}

	go e.Run(context.Background(), task.ID, tiles)

	c.JSON(http.StatusOK, gin.H{
		"code":       200,
		"taskId":     task.ID,
		"totalTiles": len(tiles),
		"message":    "export task created, connect to websocket for progress",
	})
}

// Start 规划瓦片并登记任务，不执行
func (e *TerrainExporter) Start(req ExportRequest) (*ExportTask, []TileCoord, error) {
	tiles, err := e.PlanTiles(req)
	if err != nil {
		return nil, nil, err
	}
	if len(tiles) == 0 {
		return nil, nil, errors.New("no edited tiles in the requested area")
	}

	task := &ExportTask{
		ID:         uuid.NewString(),
		MinLevel:   req.MinLevel,
		MaxLevel:   req.MaxLevel,
		Status:     TaskPending,
		TotalTiles: len(tiles),
		CreatedAt:  time.Now(),
	}
	e.mu.Lock()
	e.tasks[task.ID] = task
	e.mu.Unlock()
	return task, tiles, nil
}

// Run 执行导出：逐瓦片请求修补后的数据写入目录，最后打包zip
func (e *TerrainExporter) Run(ctx context.Context, taskID string, tiles []TileCoord) {
	now := time.Now()
	e.update(taskID, func(t *ExportTask) {
		t.Status = TaskRunning
		t.StartedAt = &now
		t.Message = "exporting tiles..."
	})
	e.broadcast(taskID, "progress")

	ctx, cancel := context.WithTimeout(ctx, 30*time.Minute)
	defer cancel()

	dir := filepath.Join(e.outputDir, taskID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		e.failTask(taskID, fmt.Sprintf("create output dir: %v", err))
		return
	}
	defer os.RemoveAll(dir)

	var exported, empty, failed int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for _, tc := range tiles {
		tc := tc
		g.Go(func() error {
			err := e.exportTile(gctx, dir, tc)
			switch {
			case errors.Is(err, errNoTile):
				atomic.AddInt64(&empty, 1)
			case err != nil:
				atomic.AddInt64(&failed, 1)
				e.log.Warn("export tile failed",
					zap.String("task", taskID),
					zap.Int("z", tc.Z), zap.Int("x", tc.X), zap.Int("y", tc.Y),
					zap.Error(err))
			default:
				atomic.AddInt64(&exported, 1)
			}
			// 上下文取消时终止剩余瓦片
			if gctx.Err() != nil {
				return gctx.Err()
			}

			done := atomic.LoadInt64(&exported) + atomic.LoadInt64(&empty) + atomic.LoadInt64(&failed)
			e.update(taskID, func(t *ExportTask) {
				t.ExportedTiles = int(atomic.LoadInt64(&exported))
				t.EmptyTiles = int(atomic.LoadInt64(&empty))
				t.FailedTiles = int(atomic.LoadInt64(&failed))
				t.Progress = float64(done) / float64(len(tiles)) * 100
			})
			if done%10 == 0 || int(done) == len(tiles) {
				e.broadcast(taskID, "progress")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		e.failTask(taskID, fmt.Sprintf("export interrupted: %v", err))
		return
	}

	if err := e.writeLayerJSON(dir, tiles); err != nil {
		e.failTask(taskID, fmt.Sprintf("write layer.json: %v", err))
		return
	}

	output := filepath.Join(e.outputDir, taskID+".zip")
	if err := archiveChildren(dir, output); err != nil {
		e.failTask(taskID, fmt.Sprintf("archive tiles: %v", err))
		return
	}

	completed := time.Now()
	e.update(taskID, func(t *ExportTask) {
		t.Status = TaskCompleted
		t.Progress = 100
		t.OutputFile = output
		t.CompletedAt = &completed
		t.Message = fmt.Sprintf("exported %d tiles, %d empty, %d failed", t.ExportedTiles, t.EmptyTiles, t.FailedTiles)
	})
	e.log.Info("export completed",
		zap.String("task", taskID),
		zap.Int64("exported", exported),
		zap.Int64("empty", empty),
		zap.Int64("failed", failed))
	e.broadcast(taskID, "completed")
}

var errNoTile = errors.New("no terrain data")

// archiveChildren 打包目录下的条目，zip 根为 {z}/ 与 layer.json
func archiveChildren(dir, output string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	sources := make([]string, 0, len(entries))
	for _, entry := range entries {
		sources = append(sources, filepath.Join(dir, entry.Name()))
	}
	return archiver.Archive(sources, output)
}

// exportTile 写入 {z}/{x}/{y}.terrain，y 为 TMS
func (e *TerrainExporter) exportTile(ctx context.Context, dir string, tc TileCoord) error {
	data, err := e.provider.RequestTileGeometry(ctx, tc.X, tc.Y, tc.Z)
	if err != nil {
		return err
	}
	if data == nil {
		return errNoTile
	}

	y := TMSY(e.provider.TilingScheme(), tc.Y, tc.Z)
	tileDir := filepath.Join(dir, strconv.Itoa(tc.Z), strconv.Itoa(tc.X))
	if err := os.MkdirAll(tileDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(tileDir, strconv.Itoa(y)+".terrain"), data.Data, 0o644)
}

// writeLayerJSON 导出包内的 layer.json，available 为导出的TMS范围
func (e *TerrainExporter) writeLayerJSON(dir string, tiles []TileCoord) error {
	scheme := e.provider.TilingScheme()
	type tmsRange struct {
		StartX int `json:"startX"`
		StartY int `json:"startY"`
		EndX   int `json:"endX"`
		EndY   int `json:"endY"`
	}
	var available [][]tmsRange
	for _, tc := range tiles {
		for len(available) <= tc.Z {
			available = append(available, []tmsRange{})
		}
		y := TMSY(scheme, tc.Y, tc.Z)
		available[tc.Z] = append(available[tc.Z], tmsRange{StartX: tc.X, StartY: y, EndX: tc.X, EndY: y})
	}

	layer := map[string]interface{}{
		"tilejson":   "2.1.0",
		"name":       "terrain-export",
		"format":     "quantized-mesh-1.0",
		"version":    "1.0.0",
		"scheme":     "tms",
		"projection": scheme.Projection(),
		"tiles":      []string{"{z}/{x}/{y}.terrain"},
		"available":  available,
	}
	data, err := json.Marshal(layer)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "layer.json"), data, 0o644)
}

func (e *TerrainExporter) update(taskID string, fn func(*ExportTask)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.tasks[taskID]; ok {
		fn(t)
	}
}

func (e *TerrainExporter) failTask(taskID, message string) {
	completed := time.Now()
	e.update(taskID, func(t *ExportTask) {
		t.Status = TaskFailed
		t.Message = message
		t.CompletedAt = &completed
	})
	e.log.Error("export failed", zap.String("task", taskID), zap.String("message", message))
	e.broadcast(taskID, "error")
}

// GetTask 返回任务快照
func (e *TerrainExporter) GetTask(taskID string) (ExportTask, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.tasks[taskID]
	if !ok {
		return ExportTask{}, false
	}
	return *t, true
}

// ConnectWebSocket 订阅任务进度
func (e *TerrainExporter) ConnectWebSocket(c *gin.Context) {
	taskID := c.Query("taskId")
	if taskID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "error": "taskId is required"})
		return
	}
	task, ok := e.GetTask(taskID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"code": 404, "error": "task not found"})
		return
	}

	conn, err := e.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		e.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &wsClient{conn: conn}
	clientsVal, _ := e.wsClients.LoadOrStore(taskID, &sync.Map{})
	clientsVal.(*sync.Map).Store(client, true)

	if err := client.writeJSON(progressMessage("progress", task)); err != nil {
		e.unregister(taskID, client)
		return
	}

	go func() {
		defer e.unregister(taskID, client)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (e *TerrainExporter) unregister(taskID string, client *wsClient) {
	if clientsVal, ok := e.wsClients.Load(taskID); ok {
		clientsVal.(*sync.Map).Delete(client)
	}
	client.close()
}

func progressMessage(kind string, task ExportTask) ProgressMessage {
	return ProgressMessage{
		Type:     kind,
		TaskID:   task.ID,
		Progress: task.Progress,
		Message:  task.Message,
		Data:     task,
	}
}

func (e *TerrainExporter) broadcast(taskID, kind string) {
	task, ok := e.GetTask(taskID)
	if !ok {
		return
	}
	clientsVal, ok := e.wsClients.Load(taskID)
	if !ok {
		return
	}
	msg := progressMessage(kind, task)
	clientsVal.(*sync.Map).Range(func(key, _ interface{}) bool {
		client := key.(*wsClient)
		if err := client.writeJSON(msg); err != nil {
			e.unregister(taskID, client)
		}
		return true
	})
}

// GetTaskStatus 轮询任务状态
func (e *TerrainExporter) GetTaskStatus(c *gin.Context) {
	task, ok := e.GetTask(c.Param("taskId"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"code": 404, "error": "task not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": task})
}

// DownloadResult 下载导出的zip
func (e *TerrainExporter) DownloadResult(c *gin.Context) {
	task, ok := e.GetTask(c.Param("taskId"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"code": 404, "error": "task not found"})
		return
	}
	if task.Status != TaskCompleted || task.OutputFile == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "error": "task not completed"})
		return
	}
	c.FileAttachment(task.OutputFile, filepath.Base(task.OutputFile))
}
