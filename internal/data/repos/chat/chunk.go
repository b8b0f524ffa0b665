package chat

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/chatmemory/backend/internal/domain"
	"github.com/chatmemory/backend/internal/platform/dbctx"
	"github.com/chatmemory/backend/internal/platform/logger"
)

// MaxSimilarityK caps how many hits a single similarity search may return.
const MaxSimilarityK = 50

// candidateScanLimit bounds the membership-joined candidate scan that feeds
// in-process cosine scoring.
const candidateScanLimit = 2000

type SimilarityQuery struct {
	TenantID uuid.UUID
	Vector   []float32
	K        int

	// Optional metadata filters.
	ChatIDs       []int64
	Since         *time.Time
	Until         *time.Time
	MinSimilarity float64
}

type SimilarityHit struct {
	Chunk      *types.Chunk
	Similarity float64
}

type ChunkRepo interface {
	// InsertWithEmbeddings persists chunk rows. Callers wrap it in a
	// transaction together with the parent message and memberships so one
	// message commits atomically. Idempotent on (chat_id, msg_id, chunk_index).
	InsertWithEmbeddings(dbc dbctx.Context, rows []*types.Chunk) error

	// HasEmbedded reports whether the dedup key already carries a non-empty
	// embedding, and returns the owning message id when it does.
	HasEmbedded(dbc dbctx.Context, chatID, msgID int64, chunkIndex int) (bool, uuid.UUID, error)

	// SimilaritySearch runs the tenant-isolated cosine search. Every
	// candidate row is fetched through the membership join; no code path
	// returns a chunk whose message the tenant cannot see.
	SimilaritySearch(dbc dbctx.Context, q SimilarityQuery) ([]SimilarityHit, error)

	// GetByIDsForTenant hydrates chunk rows by id through the membership
	// join, silently dropping ids the tenant cannot see.
	GetByIDsForTenant(dbc dbctx.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]*types.Chunk, error)

	CountByChat(dbc dbctx.Context, chatID int64) (int64, error)
}

type chunkRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChunkRepo(db *gorm.DB, log *logger.Logger) ChunkRepo {
	return &chunkRepo{db: db, log: log.With("repo", "ChunkRepo")}
}

func (r *chunkRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *chunkRepo) InsertWithEmbeddings(dbc dbctx.Context, rows []*types.Chunk) error {
	if len(rows) == 0 {
		return nil
	}
	for _, row := range rows {
		if row == nil {
			return fmt.Errorf("nil chunk row")
		}
		if row.Text == "" {
			return fmt.Errorf("empty chunk text for chat %d msg %d", row.ChatID, row.MsgID)
		}
		if row.MessageID == uuid.Nil {
			return fmt.Errorf("chunk without parent message (chat %d msg %d)", row.ChatID, row.MsgID)
		}
		if row.ID == uuid.Nil {
			row.ID = uuid.New()
		}
		row.Timestamp = row.Timestamp.UTC()
	}
	return r.tx(dbc).WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "chat_id"}, {Name: "msg_id"}, {Name: "chunk_index"}},
			DoNothing: true,
		}).
		Create(&rows).Error
}

func (r *chunkRepo) HasEmbedded(dbc dbctx.Context, chatID, msgID int64, chunkIndex int) (bool, uuid.UUID, error) {
	var row types.Chunk
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Select("id", "message_id", "embedding").
		Where("chat_id = ? AND msg_id = ? AND chunk_index = ?", chatID, msgID, chunkIndex).
		Limit(1).
		Find(&row).Error
	if err != nil {
		return false, uuid.Nil, err
	}
	if row.ID == uuid.Nil {
		return false, uuid.Nil, nil
	}
	vec, _ := ParseEmbeddingJSON(row.Embedding)
	if len(vec) == 0 {
		return false, uuid.Nil, nil
	}
	return true, row.MessageID, nil
}

func (r *chunkRepo) SimilaritySearch(dbc dbctx.Context, q SimilarityQuery) ([]SimilarityHit, error) {
	if q.TenantID == uuid.Nil {
		return nil, fmt.Errorf("missing tenant_id")
	}
	if len(q.Vector) == 0 {
		return nil, fmt.Errorf("missing query vector")
	}
	k := q.K
	if k <= 0 {
		k = 20
	}
	if k > MaxSimilarityK {
		k = MaxSimilarityK
	}

	tx := r.tx(dbc).WithContext(dbc.Ctx).
		Model(&types.Chunk{}).
		Joins("JOIN message ON message.id = chunk.message_id").
		Joins("JOIN membership ON membership.message_id = message.id").
		Where("membership.tenant_id = ?", q.TenantID).
		Where("chunk.embedding <> '[]'")
	if len(q.ChatIDs) > 0 {
		tx = tx.Where("chunk.chat_id IN ?", q.ChatIDs)
	}
	if q.Since != nil {
		tx = tx.Where("chunk.timestamp >= ?", q.Since.UTC())
	}
	if q.Until != nil {
		tx = tx.Where("chunk.timestamp <= ?", q.Until.UTC())
	}

	var rows []*types.Chunk
	if err := tx.Order("chunk.timestamp DESC").
		Limit(candidateScanLimit).
		Find(&rows).Error; err != nil {
		return nil, err
	}

	hits := make([]SimilarityHit, 0, len(rows))
	for _, row := range rows {
		vec, err := ParseEmbeddingJSON(row.Embedding)
		if err != nil || len(vec) != len(q.Vector) {
			continue
		}
		sim := Cosine(q.Vector, vec)
		if sim < q.MinSimilarity {
			continue
		}
		hits = append(hits, SimilarityHit{Chunk: row, Similarity: sim})
	}

	// Similarity descending; later primary timestamp wins ties (stabler for
	// timelines).
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].Chunk.Timestamp.After(hits[j].Chunk.Timestamp)
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (r *chunkRepo) GetByIDsForTenant(dbc dbctx.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]*types.Chunk, error) {
	if tenantID == uuid.Nil {
		return nil, fmt.Errorf("missing tenant_id")
	}
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []*types.Chunk
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Model(&types.Chunk{}).
		Joins("JOIN message ON message.id = chunk.message_id").
		Joins("JOIN membership ON membership.message_id = message.id").
		Where("membership.tenant_id = ?", tenantID).
		Where("chunk.id IN ?", ids).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *chunkRepo) CountByChat(dbc dbctx.Context, chatID int64) (int64, error) {
	var n int64
	if err := r.tx(dbc).WithContext(dbc.Ctx).
		Model(&types.Chunk{}).
		Where("chat_id = ?", chatID).
		Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}
