package timeline

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Timeline is a saved chronological projection of retrieval results.
type Timeline struct {
	ID       uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	TenantID uuid.UUID `gorm:"type:uuid;not null;index" json:"tenant_id"`

	Title string `gorm:"column:title;not null" json:"title"`
	Query string `gorm:"column:query;type:text;not null" json:"query"`

	// Items is the externally stable JSON array of {ts, text, url} sorted
	// ascending by ts.
	Items datatypes.JSON `gorm:"column:items;type:jsonb;not null" json:"items"`

	CreatedAt time.Time `gorm:"not null;default:now();index" json:"created_at"`
}

func (Timeline) TableName() string { return "timeline" }
