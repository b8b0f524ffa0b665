package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/chatmemory/backend/internal/services"
)

type ChatsHandler struct {
	chats services.ChatsService
}

func NewChatsHandler(chats services.ChatsService) *ChatsHandler {
	return &ChatsHandler{chats: chats}
}

// GET /api/chats
func (h *ChatsHandler) List(c *gin.Context) {
	rows, err := h.chats.List(c.Request.Context())
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"chats": rows})
}
