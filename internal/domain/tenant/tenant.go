package tenant

import (
	"time"

	"github.com/google/uuid"
)

// Tenant is an authenticated end user. It is the isolation boundary for
// every other entity; all reads and writes are scoped by tenant id.
type Tenant struct {
	ID        uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	TgUserID  int64     `gorm:"column:tg_user_id;not null;uniqueIndex" json:"tg_user_id"`
	Username  string    `gorm:"column:username" json:"username,omitempty"`
	FirstName string    `gorm:"column:first_name" json:"first_name,omitempty"`
	LastName  string    `gorm:"column:last_name" json:"last_name,omitempty"`
	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Tenant) TableName() string { return "tenant" }
