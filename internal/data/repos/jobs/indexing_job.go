package jobs

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/chatmemory/backend/internal/domain"
	jobdomain "github.com/chatmemory/backend/internal/domain/jobs"
	"github.com/chatmemory/backend/internal/platform/apperr"
	"github.com/chatmemory/backend/internal/platform/dbctx"
	"github.com/chatmemory/backend/internal/platform/logger"
)

// Counters that IncrementCounters accepts. Progress is monotonic; the
// coordinator only ever adds.
type CounterDelta struct {
	MessagesProcessed   int64
	ChunksProduced      int64
	EmbeddingsCompleted int64
	EmbeddingsFailed    int64
}

type IndexingJobRepo interface {
	// CreateClaimed inserts a new pending job only if the tenant has no
	// active job. Returns apperr.KindConflict when one is already running.
	// The claim is a single conditional insert backed by a partial unique
	// index, safe under concurrent submissions without a transaction.
	CreateClaimed(dbc dbctx.Context, row *types.IndexingJob) (*types.IndexingJob, error)

	GetForTenant(dbc dbctx.Context, tenantID, jobID uuid.UUID) (*types.IndexingJob, error)
	GetActiveForTenant(dbc dbctx.Context, tenantID uuid.UUID) (*types.IndexingJob, error)
	ListForTenant(dbc dbctx.Context, tenantID uuid.UUID, limit int) ([]*types.IndexingJob, error)

	SetStatus(dbc dbctx.Context, jobID uuid.UUID, status string) error
	SetMessagesTotal(dbc dbctx.Context, jobID uuid.UUID, total int64) error
	IncrementCounters(dbc dbctx.Context, jobID uuid.UUID, d CounterDelta) error
	MarkStarted(dbc dbctx.Context, jobID uuid.UUID, at time.Time) error
	MarkFailed(dbc dbctx.Context, jobID uuid.UUID, msg string) error
}

type indexingJobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewIndexingJobRepo(db *gorm.DB, log *logger.Logger) IndexingJobRepo {
	return &indexingJobRepo{db: db, log: log.With("repo", "IndexingJobRepo")}
}

func (r *indexingJobRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *indexingJobRepo) CreateClaimed(dbc dbctx.Context, row *types.IndexingJob) (*types.IndexingJob, error) {
	if row == nil {
		return nil, fmt.Errorf("missing job")
	}
	if row.TenantID == uuid.Nil {
		return nil, fmt.Errorf("missing tenant_id")
	}
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	if row.Status == "" {
		row.Status = jobdomain.StatusPending
	}
	now := time.Now().UTC()
	row.CreatedAt = now
	row.UpdatedAt = now

	res := r.tx(dbc).WithContext(dbc.Ctx).Exec(`
		INSERT INTO indexing_job
			(id, tenant_id, chat_ids, status, messages_total, messages_processed,
			 chunks_produced, embeddings_completed, embeddings_failed, error,
			 created_at, updated_at)
		SELECT ?, ?, ?, ?, 0, 0, 0, 0, 0, '', ?, ?
		WHERE NOT EXISTS (
			SELECT 1 FROM indexing_job WHERE tenant_id = ? AND status IN ?
		)`,
		row.ID, row.TenantID, row.ChatIDs, row.Status, now, now,
		row.TenantID, jobdomain.ActiveStatuses)
	if res.Error != nil {
		if isClaimTaken(res.Error) {
			return nil, apperr.New(apperr.KindConflict, "an indexing job is already running for this account")
		}
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, apperr.New(apperr.KindConflict, "an indexing job is already running for this account")
	}
	return row, nil
}

// isClaimTaken spots the idx_indexing_job_one_active violation raised when
// two submissions race past the NOT EXISTS check in the same instant.
func isClaimTaken(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "UNIQUE constraint")
}

func (r *indexingJobRepo) GetForTenant(dbc dbctx.Context, tenantID, jobID uuid.UUID) (*types.IndexingJob, error) {
	var out types.IndexingJob
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("id = ? AND tenant_id = ?", jobID, tenantID).
		First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "job not found")
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *indexingJobRepo) GetActiveForTenant(dbc dbctx.Context, tenantID uuid.UUID) (*types.IndexingJob, error) {
	var out types.IndexingJob
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("tenant_id = ? AND status IN ?", tenantID, jobdomain.ActiveStatuses).
		Order("created_at DESC").
		First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *indexingJobRepo) ListForTenant(dbc dbctx.Context, tenantID uuid.UUID, limit int) ([]*types.IndexingJob, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []*types.IndexingJob
	if err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *indexingJobRepo) SetStatus(dbc dbctx.Context, jobID uuid.UUID, status string) error {
	return r.tx(dbc).WithContext(dbc.Ctx).
		Model(&types.IndexingJob{}).
		Where("id = ?", jobID).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now().UTC(),
		}).Error
}

func (r *indexingJobRepo) SetMessagesTotal(dbc dbctx.Context, jobID uuid.UUID, total int64) error {
	return r.tx(dbc).WithContext(dbc.Ctx).
		Model(&types.IndexingJob{}).
		Where("id = ?", jobID).
		Updates(map[string]interface{}{
			"messages_total": total,
			"updated_at":     time.Now().UTC(),
		}).Error
}

func (r *indexingJobRepo) IncrementCounters(dbc dbctx.Context, jobID uuid.UUID, d CounterDelta) error {
	updates := map[string]interface{}{"updated_at": time.Now().UTC()}
	if d.MessagesProcessed > 0 {
		updates["messages_processed"] = gorm.Expr("messages_processed + ?", d.MessagesProcessed)
	}
	if d.ChunksProduced > 0 {
		updates["chunks_produced"] = gorm.Expr("chunks_produced + ?", d.ChunksProduced)
	}
	if d.EmbeddingsCompleted > 0 {
		updates["embeddings_completed"] = gorm.Expr("embeddings_completed + ?", d.EmbeddingsCompleted)
	}
	if d.EmbeddingsFailed > 0 {
		updates["embeddings_failed"] = gorm.Expr("embeddings_failed + ?", d.EmbeddingsFailed)
	}
	return r.tx(dbc).WithContext(dbc.Ctx).
		Model(&types.IndexingJob{}).
		Where("id = ?", jobID).
		Updates(updates).Error
}

func (r *indexingJobRepo) MarkStarted(dbc dbctx.Context, jobID uuid.UUID, at time.Time) error {
	at = at.UTC()
	return r.tx(dbc).WithContext(dbc.Ctx).
		Model(&types.IndexingJob{}).
		Where("id = ?", jobID).
		Updates(map[string]interface{}{
			"started_at": at,
			"updated_at": time.Now().UTC(),
		}).Error
}

func (r *indexingJobRepo) MarkFailed(dbc dbctx.Context, jobID uuid.UUID, msg string) error {
	return r.tx(dbc).WithContext(dbc.Ctx).
		Model(&types.IndexingJob{}).
		Where("id = ?", jobID).
		Updates(map[string]interface{}{
			"status":     jobdomain.StatusFailed,
			"error":      msg,
			"updated_at": time.Now().UTC(),
		}).Error
}
