package retrieval

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/chatmemory/backend/internal/clients/pinecone"
	chatrepo "github.com/chatmemory/backend/internal/data/repos/chat"
	"github.com/chatmemory/backend/internal/platform/apperr"
	"github.com/chatmemory/backend/internal/platform/dbctx"
	"github.com/chatmemory/backend/internal/platform/logger"
)

// Provider embeds query text with the same model used at indexing time.
type Provider interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

type Config struct {
	K             int
	MinSimilarity float64
	Dimension     int
}

func DefaultConfig() Config {
	return Config{K: 20, MinSimilarity: 0.0, Dimension: 3072}
}

// Filters restricts a search to a chat subset or a time range.
type Filters struct {
	ChatIDs []int64
	Since   *time.Time
	Until   *time.Time
}

// Result is one hydrated retrieval hit.
type Result struct {
	Text       string    `json:"text"`
	FullText   string    `json:"full_text,omitempty"`
	URL        string    `json:"url"`
	Similarity float64   `json:"similarity"`
	Timestamp  time.Time `json:"timestamp"`

	ChatID     int64  `json:"chat_id"`
	MsgID      int64  `json:"msg_id"`
	ChatTitle  string `json:"chat_title"`
	SenderName string `json:"sender_name,omitempty"`

	IsQuestion bool `json:"is_question,omitempty"`
	IsAnswer   bool `json:"is_answer,omitempty"`
}

// Engine embeds a sanitized query and runs the tenant-isolated similarity
// search over the chunk store.
type Engine struct {
	provider Provider
	chunks   chatrepo.ChunkRepo
	ann      pinecone.VectorStore
	cfg      Config
	log      *logger.Logger
}

func New(provider Provider, chunks chatrepo.ChunkRepo, cfg Config, log *logger.Logger) *Engine {
	if cfg.K <= 0 {
		cfg.K = DefaultConfig().K
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = DefaultConfig().Dimension
	}
	return &Engine{provider: provider, chunks: chunks, cfg: cfg, log: log.With("service", "RetrievalEngine")}
}

// AttachVectorStore puts an ANN index in front of the SQL scan as a
// candidate generator. Hits are hydrated back through the membership join,
// so tenant isolation does not depend on the index. ANN failures fall back
// to the SQL scan.
func (e *Engine) AttachVectorStore(ann pinecone.VectorStore) {
	e.ann = ann
}

func (e *Engine) Search(ctx context.Context, tenantID uuid.UUID, query string, f Filters) ([]Result, error) {
	vecs, err := e.provider.Embed(ctx, []string{query})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamUnavailable, "embedding provider failed", err)
	}
	if len(vecs) != 1 || len(vecs[0]) != e.cfg.Dimension {
		return nil, apperr.New(apperr.KindInternal,
			fmt.Sprintf("query embedding dimension %d, want %d", len(vecs[0]), e.cfg.Dimension))
	}

	var hits []chatrepo.SimilarityHit
	if e.ann != nil {
		annHits, err := e.searchANN(ctx, tenantID, vecs[0], f)
		if err != nil {
			e.log.Warn("ann search failed, falling back to sql scan", "error", err)
		} else {
			hits = annHits
		}
	}
	if hits == nil {
		var err error
		hits, err = e.chunks.SimilaritySearch(dbctx.Context{Ctx: ctx}, chatrepo.SimilarityQuery{
			TenantID:      tenantID,
			Vector:        vecs[0],
			K:             e.cfg.K,
			ChatIDs:       f.ChatIDs,
			Since:         f.Since,
			Until:         f.Until,
			MinSimilarity: e.cfg.MinSimilarity,
		})
		if err != nil {
			return nil, fmt.Errorf("similarity search: %w", err)
		}
	}

	return e.hydrate(hits), nil
}

// searchANN queries the index for candidate ids, then re-reads the rows
// through the membership join and applies the metadata filters the index
// does not know about.
func (e *Engine) searchANN(ctx context.Context, tenantID uuid.UUID, vec []float32, f Filters) ([]chatrepo.SimilarityHit, error) {
	matches, err := e.ann.QueryChunkIDs(ctx, tenantID, vec, e.cfg.K*2)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return []chatrepo.SimilarityHit{}, nil
	}

	ids := make([]uuid.UUID, 0, len(matches))
	scores := make(map[uuid.UUID]float64, len(matches))
	for _, m := range matches {
		ids = append(ids, m.ChunkID)
		scores[m.ChunkID] = m.Score
	}
	rows, err := e.chunks.GetByIDsForTenant(dbctx.Context{Ctx: ctx}, tenantID, ids)
	if err != nil {
		return nil, err
	}

	allowed := map[int64]bool{}
	for _, id := range f.ChatIDs {
		allowed[id] = true
	}

	hits := make([]chatrepo.SimilarityHit, 0, len(rows))
	for _, row := range rows {
		if len(f.ChatIDs) > 0 && !allowed[row.ChatID] {
			continue
		}
		if f.Since != nil && row.Timestamp.Before(*f.Since) {
			continue
		}
		if f.Until != nil && row.Timestamp.After(*f.Until) {
			continue
		}
		sim := scores[row.ID]
		if sim < e.cfg.MinSimilarity {
			continue
		}
		hits = append(hits, chatrepo.SimilarityHit{Chunk: row, Similarity: sim})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].Chunk.Timestamp.After(hits[j].Chunk.Timestamp)
	})
	if len(hits) > e.cfg.K {
		hits = hits[:e.cfg.K]
	}
	return hits, nil
}

func (e *Engine) hydrate(hits []chatrepo.SimilarityHit) []Result {
	out := make([]Result, 0, len(hits))
	for _, h := range hits {
		ch := h.Chunk
		out = append(out, Result{
			Text:       ch.Text,
			FullText:   ch.FullText,
			URL:        DeepLink(ch.ChatID, ch.MsgID),
			Similarity: h.Similarity,
			Timestamp:  ch.Timestamp.UTC(),
			ChatID:     ch.ChatID,
			MsgID:      ch.MsgID,
			ChatTitle:  ch.ChatTitle,
			SenderName: ch.SenderName,
			IsQuestion: ch.IsQuestion,
			IsAnswer:   ch.IsAnswer,
		})
	}
	return out
}
