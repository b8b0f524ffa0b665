package services

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	tenantrepo "github.com/chatmemory/backend/internal/data/repos/tenant"
	types "github.com/chatmemory/backend/internal/domain"
	"github.com/chatmemory/backend/internal/platform/apperr"
	"github.com/chatmemory/backend/internal/platform/dbctx"
	"github.com/chatmemory/backend/internal/platform/logger"
	"github.com/chatmemory/backend/internal/requestdata"
)

// AuthService mints and validates tenant access tokens. Tokens are issued to
// the Telegram bridge after it verifies the account, and every API request
// resolves back to a tenant row through them.
type AuthService interface {
	IssueForBridge(ctx context.Context, tgUserID int64, username, firstName, lastName string) (string, *types.Tenant, error)
	SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error)
	TenantFromContext(ctx context.Context) (*types.Tenant, error)
}

type AuthConfig struct {
	JWTSecretKey   string
	AccessTokenTTL time.Duration
}

type authService struct {
	log     *logger.Logger
	tenants tenantrepo.TenantRepo
	cfg     AuthConfig
}

func NewAuthService(log *logger.Logger, tenants tenantrepo.TenantRepo, cfg AuthConfig) (AuthService, error) {
	if cfg.JWTSecretKey == "" {
		return nil, fmt.Errorf("jwt secret key required")
	}
	if cfg.AccessTokenTTL <= 0 {
		cfg.AccessTokenTTL = time.Hour
	}
	return &authService{log: log.With("service", "AuthService"), tenants: tenants, cfg: cfg}, nil
}

type accessClaims struct {
	TgUserID int64 `json:"tg_user_id"`
	jwt.RegisteredClaims
}

func (s *authService) IssueForBridge(ctx context.Context, tgUserID int64, username, firstName, lastName string) (string, *types.Tenant, error) {
	if tgUserID == 0 {
		return "", nil, apperr.New(apperr.KindUnauthorized, "tg_user_id required")
	}
	tenant, err := s.tenants.Upsert(dbctx.Context{Ctx: ctx}, &types.Tenant{
		TgUserID:  tgUserID,
		Username:  username,
		FirstName: firstName,
		LastName:  lastName,
	})
	if err != nil {
		return "", nil, fmt.Errorf("upsert tenant: %w", err)
	}

	now := time.Now().UTC()
	claims := accessClaims{
		TgUserID: tgUserID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   tenant.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.AccessTokenTTL)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.JWTSecretKey))
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}
	return token, tenant, nil
}

func (s *authService) SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error) {
	claims := &accessClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecretKey), nil
	})
	if err != nil || !token.Valid {
		return ctx, apperr.Wrap(apperr.KindUnauthorized, "invalid token", err)
	}

	tenantID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return ctx, apperr.New(apperr.KindUnauthorized, "invalid token subject")
	}
	tenant, err := s.tenants.GetByID(dbctx.Context{Ctx: ctx}, tenantID)
	if err != nil {
		return ctx, apperr.Wrap(apperr.KindUnauthorized, "unknown tenant", err)
	}

	return requestdata.WithRequestData(ctx, &requestdata.RequestData{
		TokenString: tokenString,
		TenantID:    tenant.ID,
		TgUserID:    tenant.TgUserID,
	}), nil
}

func (s *authService) TenantFromContext(ctx context.Context) (*types.Tenant, error) {
	rd := requestdata.GetRequestData(ctx)
	if rd == nil || rd.TenantID == uuid.Nil {
		return nil, apperr.New(apperr.KindUnauthorized, "no authenticated tenant in context")
	}
	tenant, err := s.tenants.GetByID(dbctx.Context{Ctx: ctx}, rd.TenantID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnauthorized, "unknown tenant", err)
	}
	return tenant, nil
}
