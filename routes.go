package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"support-chat-service/internal/chat"
	"support-chat-service/internal/config"
	"support-chat-service/internal/handlers"
	"support-chat-service/internal/identity"
	"support-chat-service/internal/middleware"
	"support-chat-service/internal/observability"
	"support-chat-service/internal/telemetry"
	"support-chat-service/internal/ws"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type routerDeps struct {
	gate    identity.Gate
	chat    *chat.Service
	gateway *ws.Gateway
	audit   *telemetry.AuditEmitter
	store   pinger
}

func newRouter(cfg *config.Config, logger zerolog.Logger, deps routerDeps) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(logger))
	router.Use(observability.HTTPMetricsMiddleware())
	router.Use(cors.New(corsConfig(cfg.CORSOrigins)))

	router.GET("/healthz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := deps.store.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(observability.MetricsHandler()))
	router.GET("/ws", deps.gateway.Handle)

	auth := middleware.AuthMiddleware(deps.gate)

	chatHandler := handlers.NewChatHandler(deps.chat)
	customer := router.Group("/chat", auth, middleware.RequireCustomer())
	customer.GET("", chatHandler.GetChat)
	customer.GET("/messages", chatHandler.GetMessages)
	customer.POST("/messages", chatHandler.PostMessage)
	customer.POST("/mark-read", chatHandler.MarkRead)

	adminHandler := handlers.NewAdminHandler(deps.chat, deps.audit)
	admin := router.Group("/admin/chats", auth, middleware.RequireOperator())
	admin.GET("", adminHandler.ListChats)
	admin.GET("/:chat_id", adminHandler.GetChat)
	admin.DELETE("/:chat_id", adminHandler.PurgeChat)
	admin.GET("/:chat_id/trash", adminHandler.ListTrash)
	admin.POST("/:chat_id/messages", adminHandler.PostMessage)
	admin.POST("/:chat_id/mark-read", adminHandler.MarkRead)
	admin.POST("/:chat_id/mark-unviewed", adminHandler.MarkUnviewed)
	admin.POST("/:chat_id/close", adminHandler.CloseChat)
	admin.POST("/:chat_id/restore", adminHandler.RestoreChat)
	admin.DELETE("/:chat_id/messages/:message_id", adminHandler.DeleteMessage)
	admin.POST("/:chat_id/messages/:message_id/restore", adminHandler.RestoreMessage)

	handlers.RegisterDebugRoutes(router, deps.audit, cfg.DebugRoutes)
	return router
}

func corsConfig(origins []string) cors.Config {
	c := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Request-ID", "X-Device-Id"},
		ExposeHeaders:    []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		c.AllowAllOrigins = true
		return c
	}
	for _, o := range origins {
		if o == "*" || o == "" {
			c.AllowAllOrigins = true
			return c
		}
	}
	c.AllowOrigins = origins
	return c
}
