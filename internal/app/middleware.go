package app

import (
	"github.com/chatmemory/backend/internal/middleware"
	"github.com/chatmemory/backend/internal/platform/logger"
)

type Middleware struct {
	Auth      *middleware.AuthMiddleware
	RateLimit *middleware.RateLimitMiddleware
	Deadline  *middleware.DeadlineMiddleware
}

func wireMiddleware(log *logger.Logger, cfg Config, services Services, clients Clients) Middleware {
	log.Info("Wiring middleware...")
	return Middleware{
		Auth:      middleware.NewAuthMiddleware(log, services.Auth),
		RateLimit: middleware.NewRateLimitMiddleware(log, clients.RateLimiter),
		Deadline:  middleware.NewDeadlineMiddleware(log, cfg.QueryTimeout),
	}
}
