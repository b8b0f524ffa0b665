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

type MessageRepo interface {
	// Upsert is idempotent on (chat_id, msg_id); ingested rows are immutable,
	// so a conflicting insert is a no-op and the surviving row is returned.
	Upsert(dbc dbctx.Context, row *types.Message) (*types.Message, error)
	GetByChatMsg(dbc dbctx.Context, chatID, msgID int64) (*types.Message, error)
	CountByChat(dbc dbctx.Context, chatID int64) (int64, error)
}

type messageRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMessageRepo(db *gorm.DB, log *logger.Logger) MessageRepo {
	return &messageRepo{db: db, log: log.With("repo", "MessageRepo")}
}

func (r *messageRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *messageRepo) Upsert(dbc dbctx.Context, row *types.Message) (*types.Message, error) {
	if row == nil {
		return nil, fmt.Errorf("missing message")
	}
	if row.ChatID == 0 || row.MsgID == 0 {
		return nil, fmt.Errorf("missing chat_id/msg_id")
	}
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	row.Date = row.Date.UTC()
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "chat_id"}, {Name: "msg_id"}},
			DoNothing: true,
		}).
		Create(row).Error
	if err != nil {
		return nil, err
	}
	var out types.Message
	if err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("chat_id = ? AND msg_id = ?", row.ChatID, row.MsgID).
		First(&out).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *messageRepo) GetByChatMsg(dbc dbctx.Context, chatID, msgID int64) (*types.Message, error) {
	var out types.Message
	if err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("chat_id = ? AND msg_id = ?", chatID, msgID).
		First(&out).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *messageRepo) CountByChat(dbc dbctx.Context, chatID int64) (int64, error) {
	var n int64
	if err := r.tx(dbc).WithContext(dbc.Ctx).
		Model(&types.Message{}).
		Where("chat_id = ?", chatID).
		Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}
