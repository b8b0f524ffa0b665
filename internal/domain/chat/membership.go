package chat

import (
	"time"

	"github.com/google/uuid"
)

// Membership is a tenant's claim of visibility over a message. Similarity
// search joins through this table; a chunk is only ever returned to tenants
// holding a membership row for its message.
type Membership struct {
	TenantID  uuid.UUID `gorm:"type:uuid;primaryKey" json:"tenant_id"`
	MessageID uuid.UUID `gorm:"type:uuid;primaryKey;index" json:"message_id"`
	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (Membership) TableName() string { return "membership" }
