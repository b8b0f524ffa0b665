package tenant

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/chatmemory/backend/internal/domain"
	"github.com/chatmemory/backend/internal/platform/dbctx"
	"github.com/chatmemory/backend/internal/platform/logger"
)

type TenantRepo interface {
	// Upsert is idempotent on tg_user_id; profile fields track the latest
	// value seen.
	Upsert(dbc dbctx.Context, row *types.Tenant) (*types.Tenant, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Tenant, error)
	GetByTgUserID(dbc dbctx.Context, tgUserID int64) (*types.Tenant, error)
}

type tenantRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTenantRepo(db *gorm.DB, log *logger.Logger) TenantRepo {
	return &tenantRepo{db: db, log: log.With("repo", "TenantRepo")}
}

func (r *tenantRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *tenantRepo) Upsert(dbc dbctx.Context, row *types.Tenant) (*types.Tenant, error) {
	if row == nil {
		return nil, fmt.Errorf("missing tenant")
	}
	if row.TgUserID == 0 {
		return nil, fmt.Errorf("missing tg_user_id")
	}
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tg_user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"username", "first_name", "last_name", "updated_at"}),
		}).
		Create(row).Error
	if err != nil {
		return nil, err
	}
	var out types.Tenant
	if err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("tg_user_id = ?", row.TgUserID).
		First(&out).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *tenantRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Tenant, error) {
	var out types.Tenant
	if err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("id = ?", id).
		First(&out).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *tenantRepo) GetByTgUserID(dbc dbctx.Context, tgUserID int64) (*types.Tenant, error) {
	var out types.Tenant
	if err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("tg_user_id = ?", tgUserID).
		First(&out).Error; err != nil {
		return nil, err
	}
	return &out, nil
}
