package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GrainArc/SouceGlobe/config"
	"github.com/GrainArc/SouceGlobe/coord"
	"github.com/GrainArc/SouceGlobe/globe"
	"github.com/GrainArc/SouceGlobe/gpu"
	"github.com/GrainArc/SouceGlobe/models"
	"github.com/GrainArc/SouceGlobe/overlay"
	"github.com/GrainArc/SouceGlobe/routers"
	"github.com/GrainArc/SouceGlobe/services"
	"github.com/GrainArc/SouceGlobe/tile_manager"
	"github.com/GrainArc/SouceGlobe/tile_proxy"
	"github.com/GrainArc/SouceGlobe/tiling"
	"github.com/GrainArc/SouceGlobe/views"
	"github.com/gin-gonic/gin"
)

func main() {
	configPath := flag.String("config", "config.xml", "XML 配置文件")
	debug := flag.Bool("debug", false, "输出调试日志")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	for _, set := range []func(*slog.Logger){
		tiling.SetLogger,
		tile_manager.SetLogger,
		overlay.SetLogger,
		tile_proxy.SetLogger,
		globe.SetLogger,
	} {
		set(slog.New(handler))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Printf("读取配置失败，使用默认配置: %v", err)
		cfg = config.Default()
	}

	db, err := config.OpenDatabase(cfg)
	if err != nil {
		log.Fatalf("数据库初始化失败: %v", err)
	}
	if err := models.Migrate(db); err != nil {
		log.Fatalf("数据库迁移失败: %v", err)
	}
	layerService := services.InitLayerService(db)
	tileCache := services.NewTileCacheService(db)

	fetcher := tile_proxy.NewHTTPFetcher(tile_proxy.FetchOptions{
		Timeout:   config.Duration(cfg.Fetch.Timeout, 30*time.Second),
		Retries:   cfg.Fetch.Retries,
		UserAgent: cfg.Fetch.UserAgent,
		Cache:     tile_proxy.NewTileCache(cfg.Cache.Size, config.Duration(cfg.Cache.TTL, 30*time.Minute)),
		Store:     tileCache,
	})

	world := coord.DefaultWorldConfig()
	if cfg.Globe.Radius > 0 {
		world.Radius = cfg.Globe.Radius
		world.HeightScale = world.Radius / world.RealEarthRadius
	}
	if cfg.Globe.HorizonCullThreshold != 0 {
		world.HorizonCullThreshold = cfg.Globe.HorizonCullThreshold
	}
	if cfg.Globe.SkirtFraction > 0 {
		world.SkirtFraction = cfg.Globe.SkirtFraction
	}

	g, err := globe.New(globe.Options{
		World:              world,
		Width:              cfg.Viewport.Width,
		Height:             cfg.Viewport.Height,
		Device:             gpu.NewHeadless(),
		Fetcher:            fetcher,
		Tesselation:        cfg.Globe.Tesselation,
		NoSkirt:            !cfg.Globe.Skirt,
		MaxLevel:           cfg.Globe.NumberOfLevels,
		MaxRequests:        cfg.Globe.MaxRequests,
		TileErrorThreshold: cfg.Globe.ErrorThreshold,
	})
	if err != nil {
		log.Fatalf("创建虚拟地球失败: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := globe.NewRunner(g, config.Duration(cfg.FrameInterval, globe.DefaultFrameInterval))
	runner.Start(ctx)
	defer runner.Stop()

	if err := runner.Do(ctx, layerService.AttachEnabled); err != nil {
		log.Printf("挂载图层失败: %v", err)
	}

	go expireTiles(ctx, tileCache, config.Duration(cfg.Cache.StoreTTL, 30*24*time.Hour))

	r := gin.Default()
	routers.GlobeRouters(r, views.NewGlobeController(runner, layerService, tileCache))
	routers.TileRouters(r,
		tile_proxy.NewTileProxyService(layerService, fetcher),
		tile_proxy.NewSeeder(layerService, fetcher, 8, 10000))

	srv := &http.Server{Addr: cfg.Listen, Handler: r}
	go func() {
		log.Printf("服务启动: %s", cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("服务启动失败: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("正在关闭服务...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("服务关闭失败: %v", err)
	}
}

// expireTiles 每小时清理长期未访问的数据库瓦片
func expireTiles(ctx context.Context, store *services.TileCacheService, ttl time.Duration) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.Expire(ttl)
			if err != nil {
				log.Printf("清理瓦片缓存失败: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("清理过期瓦片 %d 个", n)
			}
		}
	}
}
