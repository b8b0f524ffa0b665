package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chatmemory/backend/internal/retrieval"
	"github.com/chatmemory/backend/internal/services"
)

type QueryHandler struct {
	query services.QueryService
}

func NewQueryHandler(query services.QueryService) *QueryHandler {
	return &QueryHandler{query: query}
}

type queryRequest struct {
	Query   string  `json:"query"`
	ChatIDs []int64 `json:"chat_ids"`
	Since   string  `json:"since"`
	Until   string  `json:"until"`
}

func (r queryRequest) filters() (retrieval.Filters, error) {
	f := retrieval.Filters{ChatIDs: r.ChatIDs}
	if r.Since != "" {
		t, err := time.Parse(time.RFC3339, r.Since)
		if err != nil {
			return f, fmt.Errorf("since must be RFC 3339: %w", err)
		}
		f.Since = &t
	}
	if r.Until != "" {
		t, err := time.Parse(time.RFC3339, r.Until)
		if err != nil {
			return f, fmt.Errorf("until must be RFC 3339: %w", err)
		}
		f.Until = &t
	}
	return f, nil
}

// POST /api/query
func (h *QueryHandler) Answer(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	f, err := req.filters()
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	answer, err := h.query.Answer(c.Request.Context(), req.Query, f)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, answer)
}

// POST /api/search
func (h *QueryHandler) Search(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	f, err := req.filters()
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	results, err := h.query.Search(c.Request.Context(), req.Query, f)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"results": results})
}
