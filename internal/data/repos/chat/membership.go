package chat

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/chatmemory/backend/internal/domain"
	"github.com/chatmemory/backend/internal/platform/dbctx"
	"github.com/chatmemory/backend/internal/platform/logger"
)

type MembershipRepo interface {
	Add(dbc dbctx.Context, tenantID, messageID uuid.UUID) error
	Revoke(dbc dbctx.Context, tenantID, messageID uuid.UUID) error
	Has(dbc dbctx.Context, tenantID, messageID uuid.UUID) (bool, error)
}

type membershipRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMembershipRepo(db *gorm.DB, log *logger.Logger) MembershipRepo {
	return &membershipRepo{db: db, log: log.With("repo", "MembershipRepo")}
}

func (r *membershipRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *membershipRepo) Add(dbc dbctx.Context, tenantID, messageID uuid.UUID) error {
	if tenantID == uuid.Nil || messageID == uuid.Nil {
		return fmt.Errorf("missing tenant_id/message_id")
	}
	return r.tx(dbc).WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&types.Membership{TenantID: tenantID, MessageID: messageID}).Error
}

func (r *membershipRepo) Revoke(dbc dbctx.Context, tenantID, messageID uuid.UUID) error {
	return r.tx(dbc).WithContext(dbc.Ctx).
		Where("tenant_id = ? AND message_id = ?", tenantID, messageID).
		Delete(&types.Membership{}).Error
}

func (r *membershipRepo) Has(dbc dbctx.Context, tenantID, messageID uuid.UUID) (bool, error) {
	var n int64
	if err := r.tx(dbc).WithContext(dbc.Ctx).
		Model(&types.Membership{}).
		Where("tenant_id = ? AND message_id = ?", tenantID, messageID).
		Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}
