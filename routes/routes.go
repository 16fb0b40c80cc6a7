package routes

import (
	"cpls_refresh/controllers"
	"cpls_refresh/middleware"
	"cpls_refresh/scheduler"
	"cpls_refresh/services"

	"github.com/gin-gonic/gin"
)

// Dependencies are the shared services behind the control surface
type Dependencies struct {
	Scheduler   *scheduler.Scheduler
	Invalidator *services.CacheInvalidator
	History     *services.RefreshHistory
	CachePrefix string

	// Snapshots serves GET /scheduler/snapshot; nil answers 503
	Snapshots controllers.SnapshotReader

	// JWTSecret enables bearer auth on control routes when set
	JWTSecret   string
	RateLimiter *middleware.RateLimiter
}

// SetupRoutes sets up the control surface routes
func SetupRoutes(router *gin.Engine, deps Dependencies) {
	schedulerController := controllers.NewSchedulerController(deps.Scheduler, deps.History, deps.Snapshots)
	cacheController := controllers.NewCacheController(deps.Invalidator, deps.History, deps.CachePrefix)

	control := router.Group("")
	control.Use(middleware.ControlAuth(deps.JWTSecret))
	if deps.RateLimiter != nil {
		control.Use(middleware.ControlRateLimit(deps.RateLimiter))
	}

	// Scheduler routes
	sched := control.Group("/scheduler")
	{
		sched.GET("", schedulerController.GetStatus)
		sched.POST("", schedulerController.Control)
		sched.DELETE("", schedulerController.Clear)
		sched.GET("/history", schedulerController.GetHistory)
		sched.GET("/snapshot", schedulerController.GetSnapshot)
	}

	// Cache routes
	cache := control.Group("/cache")
	{
		cache.POST("/invalidate", cacheController.Invalidate)
		cache.GET("/invalidations", cacheController.GetInvalidations)
	}
}
