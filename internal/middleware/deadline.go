package middleware

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chatmemory/backend/internal/platform/logger"
)

// DeadlineMiddleware bounds the wall clock of a request. Every downstream
// call inherits the deadline through the request context and is canceled
// with it when the budget runs out.
type DeadlineMiddleware struct {
	log     *logger.Logger
	timeout time.Duration
}

func NewDeadlineMiddleware(log *logger.Logger, timeout time.Duration) *DeadlineMiddleware {
	return &DeadlineMiddleware{
		log:     log.With("Middleware", "DeadlineMiddleware"),
		timeout: timeout,
	}
}

func (dm *DeadlineMiddleware) WithDeadline() gin.HandlerFunc {
	return func(c *gin.Context) {
		if dm.timeout <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), dm.timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
