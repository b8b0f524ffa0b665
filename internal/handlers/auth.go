package handlers

import (
	"crypto/subtle"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chatmemory/backend/internal/services"
)

// AuthHandler exchanges a bridge-verified Telegram identity for an access
// token. Only the bridge holds the shared key, so this is not a public
// login endpoint.
type AuthHandler struct {
	auth      services.AuthService
	bridgeKey string
}

func NewAuthHandler(auth services.AuthService, bridgeKey string) *AuthHandler {
	return &AuthHandler{auth: auth, bridgeKey: bridgeKey}
}

type bridgeTokenRequest struct {
	TgUserID  int64  `json:"tg_user_id" binding:"required"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// POST /api/auth/telegram
func (h *AuthHandler) IssueToken(c *gin.Context) {
	key := c.GetHeader("X-Bridge-Api-Key")
	if h.bridgeKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(h.bridgeKey)) != 1 {
		RespondError(c, http.StatusUnauthorized, "unauthorized", fmt.Errorf("invalid bridge key"))
		return
	}

	var req bridgeTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	token, tenant, err := h.auth.IssueForBridge(c.Request.Context(), req.TgUserID, req.Username, req.FirstName, req.LastName)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"token": token, "tenant": tenant})
}
