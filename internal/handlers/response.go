package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/chatmemory/backend/internal/platform/apperr"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{Error: APIError{Message: msg, Code: code}})
}

func RespondOK(c *gin.Context, payload interface{}) {
	c.JSON(http.StatusOK, payload)
}

// statusFromKind maps classified errors onto HTTP statuses. Anything
// unclassified is an internal error.
func statusFromKind(kind apperr.Kind) int {
	switch kind {
	case apperr.KindInvalidQuery, apperr.KindSuspiciousQuery:
		return http.StatusBadRequest
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case apperr.KindRateLimited:
		return http.StatusTooManyRequests
	case apperr.KindUpstreamUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// RespondAppError renders a classified error. Rate limited responses carry a
// Retry-After header when the error has a hint. A blown request deadline
// wins over whatever kind the failing call was wrapped in.
func RespondAppError(c *gin.Context, err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		c.JSON(http.StatusGatewayTimeout, ErrorEnvelope{Error: APIError{Message: "request deadline exceeded", Code: "timeout"}})
		return
	}
	kind := apperr.KindOf(err)
	status := statusFromKind(kind)

	var ae *apperr.Error
	if errors.As(err, &ae) && ae.RetryAfter > 0 {
		c.Header("Retry-After", strconv.Itoa(int(ae.RetryAfter.Seconds())))
	}
	if status == http.StatusInternalServerError {
		// Internal details stay in the logs, not the response body.
		c.JSON(status, ErrorEnvelope{Error: APIError{Message: "internal error", Code: string(kind)}})
		return
	}
	RespondError(c, status, string(kind), err)
}
