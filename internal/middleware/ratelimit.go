package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/chatmemory/backend/internal/clients/redis"
	"github.com/chatmemory/backend/internal/handlers"
	"github.com/chatmemory/backend/internal/platform/apperr"
	"github.com/chatmemory/backend/internal/platform/logger"
	"github.com/chatmemory/backend/internal/requestdata"
)

type RateLimitMiddleware struct {
	log     *logger.Logger
	limiter redis.RateLimiter
}

func NewRateLimitMiddleware(log *logger.Logger, limiter redis.RateLimiter) *RateLimitMiddleware {
	middlewareLogger := log.With("Middleware", "RateLimitMiddleware")
	return &RateLimitMiddleware{log: middlewareLogger, limiter: limiter}
}

// LimitPerTenant keys the quota on the authenticated tenant, so it must run
// after RequireAuth. Unauthenticated requests fall back to the client IP.
func (rm *RateLimitMiddleware) LimitPerTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if rd := requestdata.GetRequestData(c.Request.Context()); rd != nil && rd.TenantID != uuid.Nil {
			key = rd.TenantID.String()
		}

		allowed, retryAfter, err := rm.limiter.Allow(c.Request.Context(), key)
		if err != nil {
			// Limiter outage must not take queries down with it.
			rm.log.Warn("rate limiter unavailable, allowing request", "error", err)
			c.Next()
			return
		}
		if !allowed {
			ae := apperr.New(apperr.KindRateLimited, "rate limit exceeded")
			ae.RetryAfter = retryAfter
			handlers.RespondAppError(c, ae)
			c.Abort()
			return
		}
		c.Next()
	}
}
