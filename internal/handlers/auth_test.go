package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	types "github.com/chatmemory/backend/internal/domain"
)

type fakeAuthService struct {
	tenant *types.Tenant
	gotTg  int64
}

func (f *fakeAuthService) IssueForBridge(ctx context.Context, tgUserID int64, username, firstName, lastName string) (string, *types.Tenant, error) {
	f.gotTg = tgUserID
	return "tok-123", f.tenant, nil
}

func (f *fakeAuthService) SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error) {
	return ctx, nil
}

func (f *fakeAuthService) TenantFromContext(ctx context.Context) (*types.Tenant, error) {
	return f.tenant, nil
}

func bridgeRequest(key, body string) *httptest.ResponseRecorder {
	h := NewAuthHandler(&fakeAuthService{tenant: &types.Tenant{ID: uuid.New(), TgUserID: 777000}}, "bridge-key")
	r := gin.New()
	r.POST("/api/auth/telegram", h.IssueToken)

	req := httptest.NewRequest("POST", "/api/auth/telegram", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("X-Bridge-Api-Key", key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestIssueToken_RequiresBridgeKey(t *testing.T) {
	if w := bridgeRequest("", `{"tg_user_id":777000}`); w.Code != http.StatusUnauthorized {
		t.Fatalf("missing key: %d", w.Code)
	}
	if w := bridgeRequest("wrong", `{"tg_user_id":777000}`); w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong key: %d", w.Code)
	}
}

func TestIssueToken_OK(t *testing.T) {
	w := bridgeRequest("bridge-key", `{"tg_user_id":777000,"username":"colin"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d body: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "tok-123") {
		t.Fatalf("token missing: %s", w.Body.String())
	}
}

func TestIssueToken_RejectsMissingTgUserID(t *testing.T) {
	if w := bridgeRequest("bridge-key", `{}`); w.Code != http.StatusBadRequest {
		t.Fatalf("status: %d", w.Code)
	}
}
