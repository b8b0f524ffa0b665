package jobs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	StatusPending   = "pending"
	StatusFetching  = "fetching"
	StatusChunking  = "chunking"
	StatusEmbedding = "embedding"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// ActiveStatuses are the non-terminal job states. At most one job per tenant
// may be in any of them.
var ActiveStatuses = []string{StatusPending, StatusFetching, StatusChunking, StatusEmbedding}

// IndexingJob is one end-to-end fetch → chunk → embed pass over a chat set.
// Only the owning coordinator mutates it; readers poll lock-free.
type IndexingJob struct {
	ID uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`

	// The partial unique index enforces at most one non-terminal job per
	// tenant at the storage level; CreateClaimed relies on it.
	TenantID uuid.UUID `gorm:"type:uuid;not null;index;index:idx_indexing_job_one_active,unique,where:status <> 'completed' AND status <> 'failed'" json:"tenant_id"`

	// ChatIDs is the JSON array of Telegram chat identifiers to index.
	ChatIDs datatypes.JSON `gorm:"column:chat_ids;type:jsonb;not null" json:"chat_ids"`

	Status string `gorm:"column:status;not null;index" json:"status"`

	MessagesTotal       int64 `gorm:"column:messages_total;not null;default:0" json:"messages_total"`
	MessagesProcessed   int64 `gorm:"column:messages_processed;not null;default:0" json:"messages_processed"`
	ChunksProduced      int64 `gorm:"column:chunks_produced;not null;default:0" json:"chunks_produced"`
	EmbeddingsCompleted int64 `gorm:"column:embeddings_completed;not null;default:0" json:"embeddings_completed"`
	EmbeddingsFailed    int64 `gorm:"column:embeddings_failed;not null;default:0" json:"embeddings_failed"`

	Error string `gorm:"column:error" json:"error,omitempty"`

	StartedAt *time.Time `gorm:"column:started_at" json:"started_at,omitempty"`
	CreatedAt time.Time  `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time  `gorm:"not null;default:now()" json:"updated_at"`
}

func (IndexingJob) TableName() string { return "indexing_job" }

func (j *IndexingJob) Terminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}
