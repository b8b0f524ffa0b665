package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/chatmemory/backend/internal/services"
)

type TimelinesHandler struct {
	timelines services.TimelineService
}

func NewTimelinesHandler(timelines services.TimelineService) *TimelinesHandler {
	return &TimelinesHandler{timelines: timelines}
}

type createTimelineRequest struct {
	Query   string  `json:"query"`
	Title   string  `json:"title"`
	ChatIDs []int64 `json:"chat_ids"`
	Since   string  `json:"since"`
	Until   string  `json:"until"`
}

// POST /api/timelines
func (h *TimelinesHandler) Create(c *gin.Context) {
	var req createTimelineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	f, err := queryRequest{ChatIDs: req.ChatIDs, Since: req.Since, Until: req.Until}.filters()
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	items, saved, err := h.timelines.Create(c.Request.Context(), req.Query, req.Title, f)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"items": items, "timeline": saved})
}

// GET /api/timelines
func (h *TimelinesHandler) List(c *gin.Context) {
	rows, err := h.timelines.List(c.Request.Context(), 50)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"timelines": rows})
}

// GET /api/timelines/:id
func (h *TimelinesHandler) Get(c *gin.Context) {
	timelineID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_timeline_id", err)
		return
	}
	row, err := h.timelines.Get(c.Request.Context(), timelineID)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"timeline": row})
}

// DELETE /api/timelines/:id
func (h *TimelinesHandler) Delete(c *gin.Context) {
	timelineID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_timeline_id", err)
		return
	}
	if err := h.timelines.Delete(c.Request.Context(), timelineID); err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"deleted": true})
}

// POST /api/timelines/:id/export
func (h *TimelinesHandler) Export(c *gin.Context) {
	timelineID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_timeline_id", err)
		return
	}
	url, err := h.timelines.Export(c.Request.Context(), timelineID)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"url": url})
}
