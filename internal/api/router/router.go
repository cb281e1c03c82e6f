package router

import (
	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/flytwo-backend/internal/api/handler"
	"github.com/cuongbtq/flytwo-backend/internal/metrics"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	healthHandler := handler.NewHealthHandler(deps)
	r.GET("/health", healthHandler.Health)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	printHandler := handler.NewPrintJobHandler(deps)
	notificationHandler := handler.NewNotificationHandler(deps)
	realtimeHandler := handler.NewRealtimeHandler(deps)

	v1 := r.Group("/api/v1")
	{
		// Workers authenticate with X-Worker-Key, not gateway identity.
		v1.GET("/print/internal/jobs/:id/work-item", printHandler.GetWorkItem)

		authed := v1.Group("", IdentityMiddleware())

		printJobs := authed.Group("/print/jobs")
		{
			printJobs.POST("", printHandler.CreateJob)
			printJobs.GET("/:id", printHandler.GetJob)
		}

		notifications := authed.Group("/notifications")
		{
			notifications.POST("", notificationHandler.Create)
			notifications.GET("/inbox", notificationHandler.Inbox)
			notifications.POST("/read-all", notificationHandler.MarkAllAsRead)
			notifications.POST("/:id/read", notificationHandler.MarkAsRead)
		}

		authed.GET("/realtime/stream", realtimeHandler.Stream)
	}

	return r
}
