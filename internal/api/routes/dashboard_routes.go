package routes

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/statisfy-us/prismiq-sub001/internal/api/handlers"
	"github.com/statisfy-us/prismiq-sub001/internal/api/middleware"
)

type DashboardRoutes struct {
	handler         *handlers.DashboardHandler
	streamHandler   *handlers.StreamHandler
	cacheMiddleware *middleware.CacheMiddleware
	logger          *zap.Logger
}

func NewDashboardRoutes(
	handler *handlers.DashboardHandler,
	streamHandler *handlers.StreamHandler,
	cacheMiddleware *middleware.CacheMiddleware,
	logger *zap.Logger,
) *DashboardRoutes {
	return &DashboardRoutes{
		handler:         handler,
		streamHandler:   streamHandler,
		cacheMiddleware: cacheMiddleware,
		logger:          logger,
	}
}

func (r *DashboardRoutes) Register(router *gin.RouterGroup) {
	cached := r.cacheMiddleware.CacheResponse()
	invalidate := r.cacheMiddleware.CacheInvalidate("*dashboards*")

	dashboards := router.Group("/dashboards")
	{
		// Metadata reads go through the redis response cache; mutations
		// clear it.
		dashboards.GET("", cached, r.handler.ListDashboards)
		dashboards.POST("", invalidate, r.handler.CreateDashboard)
		dashboards.GET("/:id", cached, r.handler.GetDashboard)
		dashboards.DELETE("/:id", invalidate, r.handler.DeleteDashboard)

		// Session lifecycle: open starts widget queries, close tears the
		// runtime state down.
		dashboards.POST("/:id/open", r.handler.OpenDashboard)
		dashboards.POST("/:id/close", r.handler.CloseDashboard)
		dashboards.GET("/:id/snapshot", r.handler.GetSnapshot)
		dashboards.GET("/:id/stream", r.streamHandler.Stream)

		dashboards.POST("/:id/widgets", invalidate, r.handler.AddWidget)
		dashboards.DELETE("/:id/widgets/:widgetId", invalidate, r.handler.RemoveWidget)
		dashboards.GET("/:id/widgets/:widgetId/state", r.handler.GetWidgetState)
		dashboards.POST("/:id/widgets/:widgetId/refresh", r.handler.RefreshWidget)
		dashboards.PUT("/:id/widgets/:widgetId/visibility", r.handler.SetVisibility)

		dashboards.POST("/:id/filters", invalidate, r.handler.AddFilter)
		dashboards.DELETE("/:id/filters/:filterId", invalidate, r.handler.RemoveFilter)
		dashboards.PUT("/:id/filters/:filterId/value", r.handler.SetFilterValue)
		dashboards.POST("/:id/cross-filters", r.handler.SetCrossFilter)
		dashboards.DELETE("/:id/cross-filters/:widgetId", r.handler.ClearCrossFilter)

		dashboards.POST("/:id/refresh", r.handler.RefreshDashboard)

		dashboards.POST("/:id/positions", r.handler.QueuePositions)
		dashboards.POST("/:id/positions/flush", r.handler.FlushPositions)
		dashboards.POST("/:id/positions/cancel", r.handler.CancelPositions)
		dashboards.GET("/:id/positions/status", r.handler.GetSaveStatus)
	}

	// Cross-instance cache invalidation.
	r.handler.StartDashboardEventListener(context.Background())
}
