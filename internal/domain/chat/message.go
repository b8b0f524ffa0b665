package chat

import (
	"time"

	"github.com/google/uuid"
)

// Message is one raw ingested Telegram post. Messages are shared across
// tenants by reference; visibility is granted through Membership rows.
// (chat_id, msg_id) is globally unique and immutable once ingested.
type Message struct {
	ID uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`

	ChatID int64 `gorm:"column:chat_id;not null;index;index:idx_message_chat_msg,unique,priority:1" json:"chat_id"`
	MsgID  int64 `gorm:"column:msg_id;not null;index:idx_message_chat_msg,unique,priority:2" json:"msg_id"`

	SenderID     int64  `gorm:"column:sender_id;index" json:"sender_id"`
	SenderName   string `gorm:"column:sender_name" json:"sender_name,omitempty"`
	SenderHandle string `gorm:"column:sender_handle" json:"sender_handle,omitempty"`

	Text string    `gorm:"column:text;type:text;not null;default:''" json:"text"`
	Date time.Time `gorm:"column:date;not null;index" json:"date"`

	ReplyToMsgID *int64 `gorm:"column:reply_to_msg_id" json:"reply_to_msg_id,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (Message) TableName() string { return "message" }
