package app

import (
	"github.com/gin-gonic/gin"

	"github.com/chatmemory/backend/internal/server"
)

func wireRouter(cfg Config, handlers Handlers, middleware Middleware) *gin.Engine {
	return server.NewRouter(server.RouterConfig{
		AuthHandler:      handlers.Auth,
		IndexingHandler:  handlers.Indexing,
		QueryHandler:     handlers.Query,
		TimelinesHandler: handlers.Timelines,
		ChatsHandler:     handlers.Chats,

		AuthMiddleware:      middleware.Auth,
		RateLimitMiddleware: middleware.RateLimit,
		DeadlineMiddleware:  middleware.Deadline,

		AllowOrigins: cfg.AllowOrigins,
	})
}
