package routers

import (
	"github.com/GrainArc/SouceGlobe/tile_proxy"
	"github.com/GrainArc/SouceGlobe/views"
	"github.com/gin-gonic/gin"
)

func GlobeRouters(r *gin.Engine, gc *views.GlobeController) {
	globeRouter := r.Group("/globe")
	{
		globeRouter.GET("/layers", gc.GetLayers)
		globeRouter.POST("/layers/:id", gc.AttachLayer)
		globeRouter.PATCH("/layers/:id", gc.UpdateLayer)
		globeRouter.DELETE("/layers/:id", gc.DetachLayer)
		// 矢量图层要素
		globeRouter.GET("/layers/:id/features", gc.GetFeatures)
		globeRouter.POST("/layers/:id/features", gc.AddFeatures)
		globeRouter.POST("/layers/:id/upload", gc.UploadFeatures)
		globeRouter.DELETE("/layers/:id/features", gc.ClearFeatures)
	}
	{
		globeRouter.GET("/camera", gc.GetCamera)
		globeRouter.POST("/camera", gc.SetCamera)
		globeRouter.POST("/viewport", gc.SetViewport)
		globeRouter.POST("/frame", gc.RenderFrames)
		globeRouter.GET("/stats", gc.Stats)
		// GET用于WebSocket连接
		globeRouter.GET("/events", gc.EventsWS)
	}
	{
		globeRouter.GET("/elevation", gc.GetElevation)
		globeRouter.GET("/bound", gc.GetViewBound)
		globeRouter.GET("/pick", gc.Pick)
		globeRouter.GET("/project", gc.Project)
	}

	sourceRouter := r.Group("/sources")
	{
		sourceRouter.GET("", gc.ListSources)
		sourceRouter.GET("/:id", gc.GetSourceByID)
		sourceRouter.POST("", gc.CreateSource)
		sourceRouter.PUT("/:id", gc.UpdateSource)
		sourceRouter.DELETE("/:id", gc.DeleteSource)
	}

	cacheRouter := r.Group("/cache")
	{
		cacheRouter.GET("/stats", gc.CacheStats)
		cacheRouter.DELETE("", gc.ClearCache)
	}
}

// TileRouters 瓦片代理与预热
func TileRouters(r *gin.Engine, proxy *tile_proxy.TileProxyService, seeder *tile_proxy.Seeder) {
	tileRouter := r.Group("/proxy")
	proxy.RegisterRoutes(tileRouter)
	seeder.RegisterRoutes(tileRouter)
}
