package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/chatmemory/backend/internal/handlers"
	"github.com/chatmemory/backend/internal/middleware"
)

type RouterConfig struct {
	AuthHandler      *handlers.AuthHandler
	IndexingHandler  *handlers.IndexingHandler
	QueryHandler     *handlers.QueryHandler
	TimelinesHandler *handlers.TimelinesHandler
	ChatsHandler     *handlers.ChatsHandler

	AuthMiddleware      *middleware.AuthMiddleware
	RateLimitMiddleware *middleware.RateLimitMiddleware
	DeadlineMiddleware  *middleware.DeadlineMiddleware

	AllowOrigins []string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	// Cors
	origins := cfg.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With", "X-Bridge-Api-Key"},
		AllowCredentials: true,
	}))

	// Public
	router.GET("/healthcheck", handlers.HealthCheck)
	router.GET("/healthz", handlers.HealthCheck)
	router.POST("/api/auth/telegram", cfg.AuthHandler.IssueToken)

	// Protected
	api := router.Group("/api")
	api.Use(cfg.AuthMiddleware.RequireAuth())
	api.Use(cfg.RateLimitMiddleware.LimitPerTenant())

	// Chats
	api.GET("/chats", cfg.ChatsHandler.List)

	// Indexing
	api.POST("/index", cfg.IndexingHandler.Submit)
	api.GET("/index/jobs", cfg.IndexingHandler.ListJobs)
	api.GET("/index/jobs/:id", cfg.IndexingHandler.GetJob)
	api.POST("/index/jobs/:id/cancel", cfg.IndexingHandler.CancelJob)
	api.GET("/jobs/:id", cfg.IndexingHandler.GetJob)

	// Retrieval, hard wall-clock budget per request
	deadline := cfg.DeadlineMiddleware.WithDeadline()
	api.POST("/query", deadline, cfg.QueryHandler.Answer)
	api.POST("/search", deadline, cfg.QueryHandler.Search)

	// Timelines
	api.POST("/timelines", deadline, cfg.TimelinesHandler.Create)
	api.GET("/timelines", cfg.TimelinesHandler.List)
	api.GET("/timelines/:id", cfg.TimelinesHandler.Get)
	api.DELETE("/timelines/:id", cfg.TimelinesHandler.Delete)
	api.POST("/timelines/:id/export", cfg.TimelinesHandler.Export)

	return router
}
