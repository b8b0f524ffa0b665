package chat

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Chunk is the indexing and retrieval atom: one chunker output unit with its
// embedding and the denormalized metadata needed to cite it without joins.
// (chat_id, msg_id, chunk_index) is the dedup key across re-indexing runs.
type Chunk struct {
	ID uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`

	MessageID uuid.UUID `gorm:"type:uuid;not null;index" json:"message_id"`
	Message   *Message  `gorm:"constraint:OnDelete:CASCADE;foreignKey:MessageID;references:ID" json:"message,omitempty"`

	ChatID     int64 `gorm:"column:chat_id;not null;index;index:idx_chunk_chat_msg_idx,unique,priority:1" json:"chat_id"`
	MsgID      int64 `gorm:"column:msg_id;not null;index:idx_chunk_chat_msg_idx,unique,priority:2" json:"msg_id"`
	ChunkIndex int   `gorm:"column:chunk_index;not null;index:idx_chunk_chat_msg_idx,unique,priority:3" json:"chunk_index"`
	ChunkTotal int   `gorm:"column:chunk_total;not null;default:1" json:"chunk_total"`

	Text string `gorm:"column:text;type:text;not null" json:"text"`

	// Embedding is the vector serialized as a JSON float array. Empty array
	// means "not yet embedded"; an indexed chunk always carries a vector of
	// the configured dimension.
	Embedding datatypes.JSON `gorm:"column:embedding;type:jsonb;not null;default:'[]'" json:"embedding"`

	// Denormalized citation metadata.
	Timestamp    time.Time `gorm:"column:timestamp;not null;index" json:"timestamp"`
	ChatTitle    string    `gorm:"column:chat_title" json:"chat_title"`
	SenderName   string    `gorm:"column:sender_name" json:"sender_name,omitempty"`
	SenderHandle string    `gorm:"column:sender_handle" json:"sender_handle,omitempty"`
	FullText     string    `gorm:"column:full_text;type:text" json:"full_text"`

	ReplyToMsgID   *int64 `gorm:"column:reply_to_msg_id" json:"reply_to_msg_id,omitempty"`
	ReplyToText    string `gorm:"column:reply_to_text;type:text" json:"reply_to_text,omitempty"`
	LikelyAnswerTo *int64 `gorm:"column:likely_answer_to" json:"likely_answer_to,omitempty"`
	IsQuestion     bool   `gorm:"column:is_question;not null;default:false" json:"is_question"`
	IsAnswer       bool   `gorm:"column:is_answer;not null;default:false" json:"is_answer"`

	// Metadata keeps the raw chunker record for forward compatibility; the
	// columns above are the queryable projection.
	Metadata datatypes.JSON `gorm:"column:metadata;type:jsonb" json:"metadata,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (Chunk) TableName() string { return "chunk" }
