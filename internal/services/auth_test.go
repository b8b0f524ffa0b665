package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/chatmemory/backend/internal/data/db"
	tenantrepo "github.com/chatmemory/backend/internal/data/repos/tenant"
	"github.com/chatmemory/backend/internal/platform/apperr"
	"github.com/chatmemory/backend/internal/platform/logger"
	"github.com/chatmemory/backend/internal/requestdata"
)

var memDBSeq int

func openTenantRepo(t *testing.T) tenantrepo.TenantRepo {
	t.Helper()
	memDBSeq++
	dsn := fmt.Sprintf("file:services_%d?mode=memory&cache=shared", memDBSeq)
	svc, err := db.NewSQLiteService(dsn, logger.NewNop())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	return tenantrepo.NewTenantRepo(svc.DB(), logger.NewNop())
}

func newAuth(t *testing.T, tenants tenantrepo.TenantRepo, secret string) AuthService {
	t.Helper()
	auth, err := NewAuthService(logger.NewNop(), tenants, AuthConfig{
		JWTSecretKey:   secret,
		AccessTokenTTL: time.Hour,
	})
	if err != nil {
		t.Fatalf("new auth service: %v", err)
	}
	return auth
}

func TestAuth_IssueAndValidateRoundtrip(t *testing.T) {
	tenants := openTenantRepo(t)
	auth := newAuth(t, tenants, "secret-a")

	token, tenant, err := auth.IssueForBridge(context.Background(), 777000, "colin", "Colin", "")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if tenant.TgUserID != 777000 {
		t.Fatalf("tenant: %+v", tenant)
	}

	ctx, err := auth.SetContextFromToken(context.Background(), token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	rd := requestdata.GetRequestData(ctx)
	if rd == nil || rd.TenantID != tenant.ID || rd.TgUserID != 777000 {
		t.Fatalf("request data: %+v", rd)
	}

	got, err := auth.TenantFromContext(ctx)
	if err != nil {
		t.Fatalf("tenant from context: %v", err)
	}
	if got.ID != tenant.ID {
		t.Fatalf("tenant id: %s vs %s", got.ID, tenant.ID)
	}
}

func TestAuth_IssueUpsertsSameTenant(t *testing.T) {
	tenants := openTenantRepo(t)
	auth := newAuth(t, tenants, "secret-a")

	_, first, err := auth.IssueForBridge(context.Background(), 777000, "colin", "Colin", "")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	_, second, err := auth.IssueForBridge(context.Background(), 777000, "colin_b", "Colin", "B")
	if err != nil {
		t.Fatalf("reissue: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("same tg user must map to one tenant: %s vs %s", first.ID, second.ID)
	}
	if second.Username != "colin_b" {
		t.Fatalf("profile refresh: %+v", second)
	}
}

func TestAuth_RejectsGarbageToken(t *testing.T) {
	auth := newAuth(t, openTenantRepo(t), "secret-a")

	_, err := auth.SetContextFromToken(context.Background(), "not-a-token")
	if apperr.KindOf(err) != apperr.KindUnauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestAuth_RejectsForeignSecret(t *testing.T) {
	tenants := openTenantRepo(t)
	issuer := newAuth(t, tenants, "secret-a")
	verifier := newAuth(t, tenants, "secret-b")

	token, _, err := issuer.IssueForBridge(context.Background(), 1, "", "", "")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := verifier.SetContextFromToken(context.Background(), token); apperr.KindOf(err) != apperr.KindUnauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestAuth_NoContextTenant(t *testing.T) {
	auth := newAuth(t, openTenantRepo(t), "secret-a")
	if _, err := auth.TenantFromContext(context.Background()); apperr.KindOf(err) != apperr.KindUnauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}
