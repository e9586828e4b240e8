package router

import (
	"github.com/wb-go/wbf/ginext"

	"github.com/aliskhannn/notification-dispatcher/internal/api/handlers/notification"
	"github.com/aliskhannn/notification-dispatcher/internal/api/handlers/observability"
	"github.com/aliskhannn/notification-dispatcher/internal/api/handlers/webhook"
	"github.com/aliskhannn/notification-dispatcher/internal/middlewares"
)

func New(
	notifHandler *notification.Handler,
	obsHandler *observability.Handler,
	webhookHandler *webhook.Handler,
) *ginext.Engine {
	e := ginext.New()
	e.Use(middlewares.CORSMiddleware())
	e.Use(middlewares.CorrelationID())
	e.Use(ginext.Logger())
	e.Use(ginext.Recovery())

	api := e.Group("/api")
	{
		api.POST("/notifications", notifHandler.Create)
		api.POST("/notifications/batch", notifHandler.CreateBatch)
		api.GET("/notifications", notifHandler.List)
		api.GET("/notifications/:id", notifHandler.GetByID)
		api.DELETE("/notifications/:id", notifHandler.Cancel)

		api.GET("/metrics", obsHandler.Metrics)
		api.GET("/health", obsHandler.Health)

		api.POST("/webhook/forward", webhookHandler.Forward)
	}

	return e
}
