package chat

import (
	"time"

	"github.com/google/uuid"
)

// Chat is a tenant's association with one Telegram conversation.
type Chat struct {
	ID       uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	TenantID uuid.UUID `gorm:"type:uuid;not null;index;index:idx_chat_tenant_chat,unique,priority:1" json:"tenant_id"`

	// ChatID is the Telegram chat identifier (negative for groups/channels).
	ChatID int64  `gorm:"column:chat_id;not null;index:idx_chat_tenant_chat,unique,priority:2" json:"chat_id"`
	Title  string `gorm:"column:title" json:"title"`
	Type   string `gorm:"column:type" json:"type"` // private | group | supergroup | channel

	LastIndexedAt *time.Time `gorm:"column:last_indexed_at" json:"last_indexed_at,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Chat) TableName() string { return "chat" }
