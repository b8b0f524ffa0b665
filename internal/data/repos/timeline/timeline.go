package timeline

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/chatmemory/backend/internal/domain"
	"github.com/chatmemory/backend/internal/platform/apperr"
	"github.com/chatmemory/backend/internal/platform/dbctx"
	"github.com/chatmemory/backend/internal/platform/logger"
)

type TimelineRepo interface {
	Save(dbc dbctx.Context, row *types.Timeline) (*types.Timeline, error)
	ListForTenant(dbc dbctx.Context, tenantID uuid.UUID, limit int) ([]*types.Timeline, error)
	GetForTenant(dbc dbctx.Context, tenantID, timelineID uuid.UUID) (*types.Timeline, error)
	DeleteForTenant(dbc dbctx.Context, tenantID, timelineID uuid.UUID) error
}

type timelineRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTimelineRepo(db *gorm.DB, log *logger.Logger) TimelineRepo {
	return &timelineRepo{db: db, log: log.With("repo", "TimelineRepo")}
}

func (r *timelineRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *timelineRepo) Save(dbc dbctx.Context, row *types.Timeline) (*types.Timeline, error) {
	if row == nil {
		return nil, fmt.Errorf("missing timeline")
	}
	if row.TenantID == uuid.Nil {
		return nil, fmt.Errorf("missing tenant_id")
	}
	if row.Title == "" {
		return nil, fmt.Errorf("missing title")
	}
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	if err := r.tx(dbc).WithContext(dbc.Ctx).Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}

func (r *timelineRepo) ListForTenant(dbc dbctx.Context, tenantID uuid.UUID, limit int) ([]*types.Timeline, error) {
	if tenantID == uuid.Nil {
		return nil, fmt.Errorf("missing tenant_id")
	}
	if limit <= 0 {
		limit = 50
	}
	var out []*types.Timeline
	if err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *timelineRepo) GetForTenant(dbc dbctx.Context, tenantID, timelineID uuid.UUID) (*types.Timeline, error) {
	var out types.Timeline
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("id = ? AND tenant_id = ?", timelineID, tenantID).
		First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "timeline not found")
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *timelineRepo) DeleteForTenant(dbc dbctx.Context, tenantID, timelineID uuid.UUID) error {
	res := r.tx(dbc).WithContext(dbc.Ctx).
		Where("id = ? AND tenant_id = ?", timelineID, tenantID).
		Delete(&types.Timeline{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.New(apperr.KindNotFound, "timeline not found")
	}
	return nil
}
