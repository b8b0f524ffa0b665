package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/chatmemory/backend/internal/services"
)

type IndexingHandler struct {
	indexing services.IndexingService
}

func NewIndexingHandler(indexing services.IndexingService) *IndexingHandler {
	return &IndexingHandler{indexing: indexing}
}

type submitIndexRequest struct {
	ChatIDs []int64 `json:"chat_ids"`
}

// POST /api/index
func (h *IndexingHandler) Submit(c *gin.Context) {
	var req submitIndexRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	job, existing, err := h.indexing.Submit(c.Request.Context(), req.ChatIDs)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	status := http.StatusAccepted
	if existing {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"job": job, "existing": existing})
}

// GET /api/index/jobs/:id
func (h *IndexingHandler) GetJob(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	job, err := h.indexing.Get(c.Request.Context(), jobID)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"job": job})
}

// GET /api/index/jobs
func (h *IndexingHandler) ListJobs(c *gin.Context) {
	jobs, err := h.indexing.List(c.Request.Context(), 50)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"jobs": jobs})
}

// POST /api/index/jobs/:id/cancel
func (h *IndexingHandler) CancelJob(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	if err := h.indexing.Cancel(c.Request.Context(), jobID); err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"canceled": true})
}
