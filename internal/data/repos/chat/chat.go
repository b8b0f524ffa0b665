package chat

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/chatmemory/backend/internal/domain"
	"github.com/chatmemory/backend/internal/platform/dbctx"
	"github.com/chatmemory/backend/internal/platform/logger"
)

type ChatRepo interface {
	Upsert(dbc dbctx.Context, row *types.Chat) (*types.Chat, error)
	ListForTenant(dbc dbctx.Context, tenantID uuid.UUID) ([]*types.Chat, error)
	GetForTenant(dbc dbctx.Context, tenantID uuid.UUID, chatID int64) (*types.Chat, error)
	TouchLastIndexed(dbc dbctx.Context, tenantID uuid.UUID, chatID int64, at time.Time) error
}

type chatRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChatRepo(db *gorm.DB, log *logger.Logger) ChatRepo {
	return &chatRepo{db: db, log: log.With("repo", "ChatRepo")}
}

func (r *chatRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

// Upsert is idempotent on (tenant_id, chat_id); title and type track the
// latest fetch.
func (r *chatRepo) Upsert(dbc dbctx.Context, row *types.Chat) (*types.Chat, error) {
	if row == nil {
		return nil, fmt.Errorf("missing chat")
	}
	if row.TenantID == uuid.Nil {
		return nil, fmt.Errorf("missing tenant_id")
	}
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "chat_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"title", "type", "updated_at"}),
		}).
		Create(row).Error
	if err != nil {
		return nil, err
	}
	// Re-read so callers see the surviving row's id after a conflict.
	var out types.Chat
	if err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("tenant_id = ? AND chat_id = ?", row.TenantID, row.ChatID).
		First(&out).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *chatRepo) ListForTenant(dbc dbctx.Context, tenantID uuid.UUID) ([]*types.Chat, error) {
	if tenantID == uuid.Nil {
		return nil, fmt.Errorf("missing tenant_id")
	}
	var out []*types.Chat
	if err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("tenant_id = ?", tenantID).
		Order("title ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *chatRepo) GetForTenant(dbc dbctx.Context, tenantID uuid.UUID, chatID int64) (*types.Chat, error) {
	if tenantID == uuid.Nil {
		return nil, fmt.Errorf("missing tenant_id")
	}
	var out types.Chat
	if err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("tenant_id = ? AND chat_id = ?", tenantID, chatID).
		First(&out).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *chatRepo) TouchLastIndexed(dbc dbctx.Context, tenantID uuid.UUID, chatID int64, at time.Time) error {
	return r.tx(dbc).WithContext(dbc.Ctx).
		Model(&types.Chat{}).
		Where("tenant_id = ? AND chat_id = ?", tenantID, chatID).
		Updates(map[string]interface{}{
			"last_indexed_at": at.UTC(),
			"updated_at":      time.Now().UTC(),
		}).Error
}
